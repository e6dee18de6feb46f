package table

import (
	"fmt"

	"github.com/google/btree"

	"github.com/fulldump/tightdb/dberr"
)

type record struct {
	Key    Key
	Values []any
}

func (r *record) Less(than *record) bool {
	return r.Key < than.Key
}

// Data is one version of a table: schema, rows and indexes.
//
// Published versions are frozen and shared by every reader pinned to them.
// A write transaction works on Clone(), which shares btree nodes with the
// original until they are modified. Records are never mutated in place, a
// change always replaces the record.
type Data struct {
	name    string
	schema  Schema
	rows    *btree.BTreeG[*record]
	indexes map[string]*columnIndex
	nextKey Key
	frozen  bool
}

func NewData(name string, schema Schema) (*Data, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty table name", dberr.ErrorSchema)
	}
	if err := schema.Validate(); err != nil {
		return nil, err
	}

	d := &Data{
		name:    name,
		schema:  schema.clone(),
		rows:    btree.NewG(32, func(a, b *record) bool { return a.Less(b) }),
		indexes: map[string]*columnIndex{},
		nextKey: 1,
	}
	for _, c := range d.schema {
		if c.Indexed {
			d.indexes[c.Name] = newColumnIndex(c)
		}
	}
	return d, nil
}

func (d *Data) Name() string { return d.name }

func (d *Data) Schema() Schema { return d.schema.clone() }

func (d *Data) Len() int { return d.rows.Len() }

// NextKey is the key the next inserted row will get.
func (d *Data) NextKey() Key { return d.nextKey }

func (d *Data) Frozen() bool { return d.frozen }

func (d *Data) Freeze() { d.frozen = true }

func (d *Data) Clone() *Data {
	indexes := make(map[string]*columnIndex, len(d.indexes))
	for name, index := range d.indexes {
		indexes[name] = index.clone()
	}
	return &Data{
		name:    d.name,
		schema:  d.schema.clone(),
		rows:    d.rows.Clone(),
		indexes: indexes,
		nextKey: d.nextKey,
	}
}

func (d *Data) Has(key Key) bool {
	return d.rows.Has(&record{Key: key})
}

// Value returns the host representation of one cell.
func (d *Data) Value(key Key, id ColumnID) (any, bool) {
	r, ok := d.rows.Get(&record{Key: key})
	if !ok || int(id) < 0 || int(id) >= len(r.Values) {
		return nil, false
	}
	return toHost(d.schema[id], r.Values[id]), true
}

// Stored returns the stored values of one row. The slice must not be
// modified.
func (d *Data) Stored(key Key) ([]any, bool) {
	r, ok := d.rows.Get(&record{Key: key})
	if !ok {
		return nil, false
	}
	return r.Values, true
}

// Each visits rows in key order (insertion order).
func (d *Data) Each(f func(key Key) bool) {
	d.rows.Ascend(func(r *record) bool {
		return f(r.Key)
	})
}

// EachStored is Each with the stored values, used by snapshots.
func (d *Data) EachStored(f func(key Key, values []any) bool) {
	d.rows.Ascend(func(r *record) bool {
		return f(r.Key, r.Values)
	})
}

// Restore puts a row read from a snapshot. Values are in stored
// representation and are validated against the schema.
func (d *Data) Restore(key Key, values []any) error {
	if d.frozen {
		return fmt.Errorf("%w: table '%s' version is frozen", dberr.ErrorTransactionState, d.name)
	}
	if len(values) != len(d.schema) {
		return fmt.Errorf("%w: table '%s' row %d has %d values, schema has %d columns", dberr.ErrorSchema, d.name, key, len(values), len(d.schema))
	}
	for i, c := range d.schema {
		if err := checkInternal(c, values[i]); err != nil {
			return err
		}
	}
	if d.Has(key) {
		return fmt.Errorf("%w: table '%s' row %d restored twice", dberr.ErrorSchema, d.name, key)
	}
	r := &record{Key: key, Values: append([]any(nil), values...)}
	d.put(r, nil)
	if key >= d.nextKey {
		d.nextKey = key + 1
	}
	return nil
}

// SetNextKey keeps key assignment monotonic across snapshots where the last
// rows were removed.
func (d *Data) SetNextKey(key Key) {
	if key > d.nextKey {
		d.nextKey = key
	}
}

// Apply executes a row level or column level op. cs may be nil.
func (d *Data) Apply(op Op, cs *ChangeSet) error {

	if d.frozen {
		return fmt.Errorf("%w: table '%s' version is frozen", dberr.ErrorTransactionState, d.name)
	}
	if cs == nil {
		cs = NewChangeSet()
	}

	switch op.Kind {

	case OpInsert:
		if op.Key < d.nextKey {
			return fmt.Errorf("%w: key %d already assigned in table '%s'", dberr.ErrorSchema, op.Key, d.name)
		}
		values := make([]any, len(d.schema))
		for i, c := range d.schema {
			values[i] = defaultValue(c)
		}
		d.put(&record{Key: op.Key, Values: values}, nil)
		d.nextKey = op.Key + 1
		cs.insert(op.Key)

	case OpSet:
		old, ok := d.rows.Get(&record{Key: op.Key})
		if !ok {
			return fmt.Errorf("%w: row %d not found in table '%s'", dberr.ErrorInvalidatedRow, op.Key, d.name)
		}
		id, c, ok := d.schema.Lookup(op.Column)
		if !ok {
			return fmt.Errorf("%w: column '%s' not found in table '%s'", dberr.ErrorSchema, op.Column, d.name)
		}
		if err := checkInternal(c, op.Value); err != nil {
			return err
		}
		values := append([]any(nil), old.Values...)
		values[id] = op.Value
		d.put(&record{Key: op.Key, Values: values}, old)
		cs.modify(op.Key)

	case OpRemove:
		old, ok := d.rows.Get(&record{Key: op.Key})
		if !ok {
			return fmt.Errorf("%w: row %d not found in table '%s'", dberr.ErrorInvalidatedRow, op.Key, d.name)
		}
		d.drop(old)
		cs.remove(op.Key)

	case OpClear:
		removed := []*record{}
		d.rows.Ascend(func(r *record) bool {
			removed = append(removed, r)
			return true
		})
		for _, r := range removed {
			cs.remove(r.Key)
		}
		d.rows.Clear(false)
		for name, index := range d.indexes {
			d.indexes[name] = newColumnIndex(index.column)
		}

	case OpAddColumn:
		if len(op.Columns) != 1 {
			return fmt.Errorf("%w: add_column needs exactly one column", dberr.ErrorSchema)
		}
		c := op.Columns[0]
		schema := append(d.schema.clone(), c)
		if err := schema.Validate(); err != nil {
			return err
		}
		d.schema = schema
		d.rewrite(cs, func(values []any) []any {
			return append(values, defaultValue(c))
		})
		if c.Indexed {
			d.buildIndex(c, ColumnID(len(schema)-1))
		}
		cs.MarkSchema()

	case OpRemoveColumn:
		id, _, ok := d.schema.Lookup(op.Column)
		if !ok {
			return fmt.Errorf("%w: column '%s' not found in table '%s'", dberr.ErrorSchema, op.Column, d.name)
		}
		schema := append(d.schema[:id:id].clone(), d.schema[id+1:]...)
		d.schema = schema
		delete(d.indexes, op.Column)
		d.rewrite(cs, func(values []any) []any {
			return append(values[:id:id], values[id+1:]...)
		})
		cs.MarkSchema()

	default:
		return fmt.Errorf("%w: op '%s' does not apply to a table", dberr.ErrorSchema, op.Kind)
	}

	return nil
}

// put inserts r, replacing old when not nil, and keeps indexes in sync.
func (d *Data) put(r *record, old *record) {
	if old != nil {
		for name, index := range d.indexes {
			id, _, _ := d.schema.Lookup(name)
			index.remove(old.Key, old.Values[id])
		}
	}
	d.rows.ReplaceOrInsert(r)
	for name, index := range d.indexes {
		id, _, _ := d.schema.Lookup(name)
		index.add(r.Key, r.Values[id])
	}
}

func (d *Data) drop(r *record) {
	for name, index := range d.indexes {
		id, _, _ := d.schema.Lookup(name)
		index.remove(r.Key, r.Values[id])
	}
	d.rows.Delete(r)
}

// rewrite replaces every record with a reshaped copy. Indexes are kept
// because indexed values do not change.
func (d *Data) rewrite(cs *ChangeSet, reshape func(values []any) []any) {
	records := make([]*record, 0, d.rows.Len())
	d.rows.Ascend(func(r *record) bool {
		records = append(records, r)
		return true
	})
	for _, r := range records {
		values := reshape(append(make([]any, 0, len(r.Values)+1), r.Values...))
		d.rows.ReplaceOrInsert(&record{Key: r.Key, Values: values})
		cs.modify(r.Key)
	}
}

func (d *Data) buildIndex(c Column, id ColumnID) {
	index := newColumnIndex(c)
	d.rows.Ascend(func(r *record) bool {
		index.add(r.Key, r.Values[id])
		return true
	})
	d.indexes[c.Name] = index
}

func (d *Data) index(column string) (*columnIndex, bool) {
	index, ok := d.indexes[column]
	return index, ok
}
