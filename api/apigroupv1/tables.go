package apigroupv1

import (
	"context"
	"net/http"

	"github.com/fulldump/box"

	"github.com/fulldump/tightdb/service"
	"github.com/fulldump/tightdb/table"
)

func listTables(ctx context.Context) ([]*service.Table, error) {
	groupName := box.GetUrlParameter(ctx, "groupName")
	return GetServicer(ctx).ListTables(groupName)
}

type createTableRequest struct {
	Name    string       `json:"name"`
	Columns table.Schema `json:"columns"`
}

func createTable(ctx context.Context, w http.ResponseWriter, input *createTableRequest) (*service.Table, error) {

	groupName := box.GetUrlParameter(ctx, "groupName")
	t, err := GetServicer(ctx).CreateTable(ctx, groupName, input.Name, input.Columns)
	if err != nil {
		return nil, err
	}

	w.WriteHeader(http.StatusCreated)
	return t, nil
}

func getTable(ctx context.Context) (*service.Table, error) {
	groupName := box.GetUrlParameter(ctx, "groupName")
	tableName := box.GetUrlParameter(ctx, "tableName")
	return GetServicer(ctx).GetTable(groupName, tableName)
}

func dropTable(ctx context.Context) error {
	groupName := box.GetUrlParameter(ctx, "groupName")
	tableName := box.GetUrlParameter(ctx, "tableName")
	return GetServicer(ctx).DropTable(ctx, groupName, tableName)
}

func addColumn(ctx context.Context, input *table.Column) (*service.Table, error) {
	groupName := box.GetUrlParameter(ctx, "groupName")
	tableName := box.GetUrlParameter(ctx, "tableName")
	return GetServicer(ctx).AddColumn(ctx, groupName, tableName, *input)
}

type removeColumnRequest struct {
	Name string `json:"name"`
}

func removeColumn(ctx context.Context, input *removeColumnRequest) (*service.Table, error) {
	groupName := box.GetUrlParameter(ctx, "groupName")
	tableName := box.GetUrlParameter(ctx, "tableName")
	return GetServicer(ctx).RemoveColumn(ctx, groupName, tableName, input.Name)
}
