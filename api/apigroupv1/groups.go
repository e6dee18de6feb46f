package apigroupv1

import (
	"context"
	"io"
	"net/http"

	"github.com/fulldump/box"

	"github.com/fulldump/tightdb/service"
)

func listGroups(ctx context.Context) ([]*service.Group, error) {
	return GetServicer(ctx).ListGroups()
}

type createGroupRequest struct {
	Name          string `json:"name"`
	SchemaVersion uint64 `json:"schema_version"`
}

func createGroup(ctx context.Context, w http.ResponseWriter, input *createGroupRequest) (*service.Group, error) {

	s := GetServicer(ctx)

	group, err := s.CreateGroup(input.Name, input.SchemaVersion)
	if err != nil {
		return nil, err
	}

	w.WriteHeader(http.StatusCreated)
	return group, nil
}

func getGroup(ctx context.Context) (*service.Group, error) {
	groupName := box.GetUrlParameter(ctx, "groupName")
	return GetServicer(ctx).GetGroup(groupName)
}

func dropGroup(ctx context.Context) error {
	groupName := box.GetUrlParameter(ctx, "groupName")
	return GetServicer(ctx).DropGroup(groupName)
}

func compact(ctx context.Context) (*service.Group, error) {
	groupName := box.GetUrlParameter(ctx, "groupName")
	return GetServicer(ctx).CompactGroup(ctx, groupName)
}

// applySchema takes a YAML descriptor as the raw body.
func applySchema(ctx context.Context, r *http.Request) (*service.Group, error) {

	descriptor, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	groupName := box.GetUrlParameter(ctx, "groupName")
	return GetServicer(ctx).ApplySchema(ctx, groupName, descriptor)
}
