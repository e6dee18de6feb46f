package table

// Key identifies a row inside its table. Keys are assigned in increasing
// order and never reused, so a removed row can not be aliased by a new one.
type Key int64

type OpKind string

const (
	OpCreateTable  OpKind = "create_table"
	OpRemoveTable  OpKind = "remove_table"
	OpAddColumn    OpKind = "add_column"
	OpRemoveColumn OpKind = "remove_column"
	OpInsert       OpKind = "insert"
	OpSet          OpKind = "set"
	OpRemove       OpKind = "remove"
	OpClear        OpKind = "clear"
)

// Op is one mutation recorded by a write transaction. The same Op is applied
// to the live data and replayed from the commit log, so both paths share
// Data.Apply.
//
// Value always holds the stored representation (see value.go).
type Op struct {
	Kind    OpKind
	Table   string
	Key     Key
	Column  string
	Columns Schema // create_table: full schema, add_column: the new column
	Value   any
}

func (o Op) IsStructural() bool {
	switch o.Kind {
	case OpCreateTable, OpRemoveTable, OpAddColumn, OpRemoveColumn:
		return true
	}
	return false
}
