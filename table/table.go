package table

import (
	"errors"
	"fmt"

	"github.com/fulldump/tightdb/dberr"
)

// Access is implemented by transactions. It resolves the version of a table
// a handle operates on and validates the transaction state on every call.
type Access interface {
	// View returns the data visible to the transaction.
	View(table string) (*Data, error)
	// Mutable returns the private, writable data of the transaction and the
	// change set where its mutations are recorded.
	Mutable(table string) (*Data, *ChangeSet, error)
	// Record appends an op already applied to the mutable data.
	Record(op Op)
}

// Row is a handle to one row. It does not hold the row, every access
// validates that the key is still alive in the transaction that uses it.
type Row struct {
	Table string
	Key   Key
}

func (r Row) String() string {
	return fmt.Sprintf("%s#%d", r.Table, r.Key)
}

// Table is a handle to a named table bound to one transaction.
type Table struct {
	name   string
	access Access
}

func New(name string, access Access) *Table {
	return &Table{name: name, access: access}
}

func (t *Table) Name() string {
	return t.name
}

// Data returns the version of the table visible to the transaction.
func (t *Table) Data() (*Data, error) {
	return t.access.View(t.name)
}

func (t *Table) Columns() (Schema, error) {
	d, err := t.access.View(t.name)
	if err != nil {
		return nil, err
	}
	return d.Schema(), nil
}

func (t *Table) Size() (int, error) {
	d, err := t.access.View(t.name)
	if err != nil {
		return 0, err
	}
	return d.Len(), nil
}

// Rows returns every row in insertion order.
func (t *Table) Rows() ([]Row, error) {
	d, err := t.access.View(t.name)
	if err != nil {
		return nil, err
	}
	rows := make([]Row, 0, d.Len())
	d.Each(func(key Key) bool {
		rows = append(rows, Row{Table: t.name, Key: key})
		return true
	})
	return rows, nil
}

// schemaChange reports schema changes outside a write transaction as schema
// errors too.
func schemaChange(err error) error {
	if errors.Is(err, dberr.ErrorTransactionState) {
		return fmt.Errorf("%w: %w", dberr.ErrorSchema, err)
	}
	return err
}

func (t *Table) CreateColumn(c Column) (ColumnID, error) {
	d, cs, err := t.access.Mutable(t.name)
	if err != nil {
		return -1, schemaChange(err)
	}
	if err := c.validate(); err != nil {
		return -1, err
	}
	if _, _, exists := d.schema.Lookup(c.Name); exists {
		return -1, fmt.Errorf("%w: column '%s' already exists in table '%s'", dberr.ErrorSchema, c.Name, t.name)
	}

	op := Op{Kind: OpAddColumn, Table: t.name, Columns: Schema{c}}
	if err := d.Apply(op, cs); err != nil {
		return -1, err
	}
	t.access.Record(op)

	id, _, _ := d.schema.Lookup(c.Name)
	return id, nil
}

func (t *Table) RemoveColumn(name string) error {
	d, cs, err := t.access.Mutable(t.name)
	if err != nil {
		return schemaChange(err)
	}
	if _, _, exists := d.schema.Lookup(name); !exists {
		return fmt.Errorf("%w: column '%s' not found in table '%s'", dberr.ErrorSchema, name, t.name)
	}

	op := Op{Kind: OpRemoveColumn, Table: t.name, Column: name}
	if err := d.Apply(op, cs); err != nil {
		return err
	}
	t.access.Record(op)
	return nil
}

// InsertRow appends a row holding default values: null for nullable columns,
// the zero value otherwise.
func (t *Table) InsertRow() (Row, error) {
	d, cs, err := t.access.Mutable(t.name)
	if err != nil {
		return Row{}, err
	}

	op := Op{Kind: OpInsert, Table: t.name, Key: d.NextKey()}
	if err := d.Apply(op, cs); err != nil {
		return Row{}, err
	}
	t.access.Record(op)

	return Row{Table: t.name, Key: op.Key}, nil
}

// InsertRowWith inserts a row and sets several columns. Nothing is inserted
// when any value is rejected.
func (t *Table) InsertRowWith(values map[string]any) (Row, error) {
	d, cs, err := t.access.Mutable(t.name)
	if err != nil {
		return Row{}, err
	}

	ops := []Op{}
	key := d.NextKey()
	for _, c := range d.schema {
		v, ok := values[c.Name]
		if !ok {
			continue
		}
		internal, err := toInternal(c, v)
		if err != nil {
			return Row{}, err
		}
		ops = append(ops, Op{Kind: OpSet, Table: t.name, Key: key, Column: c.Name, Value: internal})
	}
	for name := range values {
		if _, _, ok := d.schema.Lookup(name); !ok {
			return Row{}, fmt.Errorf("%w: column '%s' not found in table '%s'", dberr.ErrorSchema, name, t.name)
		}
	}

	insert := Op{Kind: OpInsert, Table: t.name, Key: key}
	if err := d.Apply(insert, cs); err != nil {
		return Row{}, err
	}
	t.access.Record(insert)
	for _, op := range ops {
		if err := d.Apply(op, cs); err != nil {
			return Row{}, err
		}
		t.access.Record(op)
	}

	return Row{Table: t.name, Key: key}, nil
}

func (t *Table) GetValue(row Row, column string) (any, error) {
	d, err := t.access.View(t.name)
	if err != nil {
		return nil, err
	}
	if err := t.check(d, row); err != nil {
		return nil, err
	}
	id, _, ok := d.schema.Lookup(column)
	if !ok {
		return nil, fmt.Errorf("%w: column '%s' not found in table '%s'", dberr.ErrorSchema, column, t.name)
	}
	v, _ := d.Value(row.Key, id)
	return v, nil
}

func (t *Table) SetValue(row Row, column string, value any) error {
	d, cs, err := t.access.Mutable(t.name)
	if err != nil {
		return err
	}
	if err := t.check(d, row); err != nil {
		return err
	}
	_, c, ok := d.schema.Lookup(column)
	if !ok {
		return fmt.Errorf("%w: column '%s' not found in table '%s'", dberr.ErrorSchema, column, t.name)
	}
	internal, err := toInternal(c, value)
	if err != nil {
		return err
	}

	op := Op{Kind: OpSet, Table: t.name, Key: row.Key, Column: column, Value: internal}
	if err := d.Apply(op, cs); err != nil {
		return err
	}
	t.access.Record(op)
	return nil
}

func (t *Table) RemoveRow(row Row) error {
	d, cs, err := t.access.Mutable(t.name)
	if err != nil {
		return err
	}
	if err := t.check(d, row); err != nil {
		return err
	}

	op := Op{Kind: OpRemove, Table: t.name, Key: row.Key}
	if err := d.Apply(op, cs); err != nil {
		return err
	}
	t.access.Record(op)
	return nil
}

// Clear removes every row. Keys keep growing after a clear.
func (t *Table) Clear() error {
	d, cs, err := t.access.Mutable(t.name)
	if err != nil {
		return err
	}

	op := Op{Kind: OpClear, Table: t.name}
	if err := d.Apply(op, cs); err != nil {
		return err
	}
	t.access.Record(op)
	return nil
}

// FindFirst returns the first row, in insertion order, whose column equals
// value. Indexed columns are resolved through their index.
func (t *Table) FindFirst(column string, value any) (Row, bool, error) {
	d, err := t.access.View(t.name)
	if err != nil {
		return Row{}, false, err
	}
	id, c, ok := d.schema.Lookup(column)
	if !ok {
		return Row{}, false, fmt.Errorf("%w: column '%s' not found in table '%s'", dberr.ErrorSchema, column, t.name)
	}
	operand, err := NormalizeOperand(c, value)
	if err != nil {
		return Row{}, false, err
	}
	if isNaN(operand) {
		return Row{}, false, nil
	}

	if index, ok := d.index(column); ok {
		key, found := index.first(operand)
		if !found {
			return Row{}, false, nil
		}
		return Row{Table: t.name, Key: key}, true, nil
	}

	found := Row{}
	ok = false
	d.Each(func(key Key) bool {
		v, _ := d.Value(key, id)
		if (operand == nil && v == nil) || Equal(c.Type, v, operand) {
			found, ok = Row{Table: t.name, Key: key}, true
			return false
		}
		return true
	})
	return found, ok, nil
}

func (t *Table) check(d *Data, row Row) error {
	if row.Table != t.name {
		return fmt.Errorf("%w: row %s does not belong to table '%s'", dberr.ErrorInvalidatedRow, row, t.name)
	}
	if !d.Has(row.Key) {
		return fmt.Errorf("%w: row %s", dberr.ErrorInvalidatedRow, row)
	}
	return nil
}
