package service

import (
	"context"

	"github.com/fulldump/tightdb/query"
	"github.com/fulldump/tightdb/table"
)

type Servicer interface {
	ListGroups() ([]*Group, error)
	CreateGroup(name string, schemaVersion uint64) (*Group, error)
	GetGroup(name string) (*Group, error)
	DropGroup(name string) error
	CompactGroup(ctx context.Context, name string) (*Group, error)
	// ApplySchema creates the tables of a YAML descriptor that are missing.
	ApplySchema(ctx context.Context, groupName string, descriptor []byte) (*Group, error)

	ListTables(groupName string) ([]*Table, error)
	CreateTable(ctx context.Context, groupName, tableName string, columns table.Schema) (*Table, error)
	GetTable(groupName, tableName string) (*Table, error)
	DropTable(ctx context.Context, groupName, tableName string) error
	AddColumn(ctx context.Context, groupName, tableName string, column table.Column) (*Table, error)
	RemoveColumn(ctx context.Context, groupName, tableName, column string) (*Table, error)

	Insert(ctx context.Context, groupName, tableName string, rows []Document) ([]table.Key, error)
	Find(groupName, tableName string, input *FindInput) ([]Document, error)
	Patch(ctx context.Context, groupName, tableName string, filter, values Document) (int, error)
	Remove(ctx context.Context, groupName, tableName string, filter Document) (int, error)
	Watch(ctx context.Context, groupName, tableName string, input *FindInput, f func(query.Change, []Document)) error
}

// Document is a row as seen through the API: column name to value, plus the
// row key under KeyField.
type Document = map[string]any

const KeyField = "_key"

type Group struct {
	Name          string   `json:"name"`
	Version       uint64   `json:"version"`
	SchemaVersion uint64   `json:"schema_version"`
	State         string   `json:"state"`
	Tables        []string `json:"tables"`
}

type Table struct {
	Name    string       `json:"name"`
	Columns table.Schema `json:"columns"`
	Size    int          `json:"size"`
}

type SortField struct {
	Column string `json:"column"`
	Desc   bool   `json:"desc"`
}

type FindInput struct {
	Filter Document    `json:"filter"`
	Sort   []SortField `json:"sort"`
	Skip   int         `json:"skip"`
	Limit  int         `json:"limit"`
}
