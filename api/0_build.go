package api

import (
	"context"
	"net/http"

	"github.com/fulldump/box"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fulldump/tightdb/api/apigroupv1"
	"github.com/fulldump/tightdb/credentials"
	"github.com/fulldump/tightdb/service"
)

// Build mounts the v1 api. Requests are authenticated against app when it is
// not nil.
func Build(s service.Servicer, version string, app *credentials.App) *box.B {

	b := box.NewBox()

	v1 := b.Resource("/v1")
	if app != nil {
		v1.WithInterceptors(Authenticate(app))
	}
	v1.WithInterceptors(injectServicer(s))

	apigroupv1.BuildV1Group(v1)

	v1.Resource("/version").
		WithActions(
			box.Get(func(ctx context.Context) map[string]string {
				return map[string]string{"version": version}
			}).WithName("getVersion"),
		)

	v1.Resource("/me").
		WithActions(
			box.Get(func(ctx context.Context) map[string]any {
				user := GetUser(ctx)
				if user == nil {
					return map[string]any{"id": nil}
				}
				return map[string]any{"id": user.ID, "provider": user.Provider}
			}).WithName("getMe"),
		)

	b.Resource("/metrics").
		WithActions(
			box.Get(func(w http.ResponseWriter, r *http.Request) {
				promhttp.Handler().ServeHTTP(w, r)
			}).WithName("metrics"),
		)

	return b
}

func injectServicer(s service.Servicer) box.I {
	return func(next box.H) box.H {
		return func(ctx context.Context) {
			next(apigroupv1.SetServicer(ctx, s))
		}
	}
}
