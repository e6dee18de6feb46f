package table

import (
	"fmt"
	"strings"

	"github.com/fulldump/tightdb/dberr"
)

type ColumnType int

const (
	TypeInt ColumnType = iota + 1
	TypeBool
	TypeFloat
	TypeDouble
	TypeString
	TypeBinary
	TypeTimestamp
	TypeUUID
	TypeMixed
)

var columnTypeNames = map[ColumnType]string{
	TypeInt:       "int",
	TypeBool:      "bool",
	TypeFloat:     "float",
	TypeDouble:    "double",
	TypeString:    "string",
	TypeBinary:    "binary",
	TypeTimestamp: "timestamp",
	TypeUUID:      "uuid",
	TypeMixed:     "mixed",
}

func (t ColumnType) String() string {
	name, ok := columnTypeNames[t]
	if !ok {
		return fmt.Sprintf("type(%d)", int(t))
	}
	return name
}

func (t ColumnType) Valid() bool {
	_, ok := columnTypeNames[t]
	return ok
}

func ParseColumnType(name string) (ColumnType, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for t, n := range columnTypeNames {
		if n == name {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown column type '%s'", dberr.ErrorSchema, name)
}

func (t ColumnType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: invalid column type %d", dberr.ErrorSchema, int(t))
	}
	return []byte(t.String()), nil
}

func (t *ColumnType) UnmarshalText(text []byte) error {
	parsed, err := ParseColumnType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

type Column struct {
	Name     string     `json:"name"`
	Type     ColumnType `json:"type"`
	Nullable bool       `json:"nullable,omitempty"`
	Indexed  bool       `json:"indexed,omitempty"`
}

// ColumnID is the position of a column inside its schema.
type ColumnID int

// Schema is the ordered list of columns of a table.
type Schema []Column

func (s Schema) Validate() error {
	seen := map[string]bool{}
	for _, column := range s {
		if err := column.validate(); err != nil {
			return err
		}
		if seen[column.Name] {
			return fmt.Errorf("%w: duplicated column '%s'", dberr.ErrorSchema, column.Name)
		}
		seen[column.Name] = true
	}
	return nil
}

func (s Schema) Lookup(name string) (ColumnID, Column, bool) {
	for i, column := range s {
		if column.Name == name {
			return ColumnID(i), column, true
		}
	}
	return -1, Column{}, false
}

func (s Schema) clone() Schema {
	out := make(Schema, len(s))
	copy(out, s)
	return out
}

func (c Column) validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: empty column name", dberr.ErrorSchema)
	}
	if !c.Type.Valid() {
		return fmt.Errorf("%w: column '%s' has invalid type %d", dberr.ErrorSchema, c.Name, int(c.Type))
	}
	if c.Indexed && c.Type == TypeMixed {
		return fmt.Errorf("%w: mixed column '%s' cannot be indexed", dberr.ErrorSchema, c.Name)
	}
	return nil
}
