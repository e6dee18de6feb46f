package apigroupv1

import (
	"context"

	"github.com/fulldump/tightdb/service"
)

type servicerKey struct{}

func SetServicer(ctx context.Context, s service.Servicer) context.Context {
	return context.WithValue(ctx, servicerKey{}, s)
}

func GetServicer(ctx context.Context) service.Servicer {
	return ctx.Value(servicerKey{}).(service.Servicer)
}
