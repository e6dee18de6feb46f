package query

import (
	"fmt"
	"math"
	"sort"

	"github.com/fulldump/tightdb/dberr"
	"github.com/fulldump/tightdb/table"
)

type SortKey struct {
	Column    string
	Ascending bool
}

func Asc(column string) SortKey  { return SortKey{Column: column, Ascending: true} }
func Desc(column string) SortKey { return SortKey{Column: column, Ascending: false} }

// Results is an ordered list of rows frozen at evaluation time. Later writes
// to the table are not visible through it.
type Results struct {
	table string
	data  *table.Data
	keys  []table.Key
}

// Evaluate scans the table version visible to t's transaction.
func Evaluate(t *table.Table, q *Query) (*Results, error) {
	d, err := t.Data()
	if err != nil {
		return nil, err
	}
	if !d.Frozen() {
		// a write transaction keeps changing its data, pin a copy
		d = d.Clone()
		d.Freeze()
	}
	return evaluate(d, q)
}

func (q *Query) Evaluate(t *table.Table) (*Results, error) {
	return Evaluate(t, q)
}

func evaluate(d *table.Data, q *Query) (*Results, error) {
	m, err := q.compile(d.Schema())
	if err != nil {
		return nil, err
	}

	r := &Results{table: d.Name(), data: d, keys: []table.Key{}}
	d.Each(func(key table.Key) bool {
		var ok bool
		ok, err = m(d, key)
		if err != nil {
			return false
		}
		if ok {
			r.keys = append(r.keys, key)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Results) Table() string { return r.table }

// Columns is the schema of the table version the results were evaluated on.
func (r *Results) Columns() table.Schema {
	if r.data == nil {
		return table.Schema{}
	}
	return r.data.Schema()
}

func (r *Results) Len() int { return len(r.keys) }

func (r *Results) Count() int { return len(r.keys) }

func (r *Results) Get(i int) (table.Row, error) {
	if i < 0 || i >= len(r.keys) {
		return table.Row{}, fmt.Errorf("%w: index %d out of range [0, %d)", dberr.ErrorInvalidatedRow, i, len(r.keys))
	}
	return table.Row{Table: r.table, Key: r.keys[i]}, nil
}

func (r *Results) Keys() []table.Key {
	return append([]table.Key(nil), r.keys...)
}

func (r *Results) Rows() []table.Row {
	rows := make([]table.Row, len(r.keys))
	for i, key := range r.keys {
		rows[i] = table.Row{Table: r.table, Key: key}
	}
	return rows
}

// Value reads one cell of the i-th row as seen at evaluation time.
func (r *Results) Value(i int, column string) (any, error) {
	row, err := r.Get(i)
	if err != nil {
		return nil, err
	}
	id, _, ok := r.data.Schema().Lookup(column)
	if !ok {
		return nil, fmt.Errorf("%w: unknown column '%s'", dberr.ErrorSchema, column)
	}
	v, _ := r.data.Value(row.Key, id)
	return v, nil
}

// Values returns one column of every row, in order.
func (r *Results) Values(column string) ([]any, error) {
	id, _, ok := r.data.Schema().Lookup(column)
	if !ok {
		return nil, fmt.Errorf("%w: unknown column '%s'", dberr.ErrorSchema, column)
	}
	values := make([]any, len(r.keys))
	for i, key := range r.keys {
		values[i], _ = r.data.Value(key, id)
	}
	return values, nil
}

func (r *Results) Limit(n int) *Results {
	if n < 0 {
		n = 0
	}
	if n > len(r.keys) {
		n = len(r.keys)
	}
	return &Results{table: r.table, data: r.data, keys: append([]table.Key(nil), r.keys[:n]...)}
}

// Sort returns new Results ordered by keys. Nulls go first in ascending
// order, then NaN, then values. The sort is stable and ties keep insertion
// order.
func (r *Results) Sort(keys ...SortKey) (*Results, error) {
	sorted, err := sortKeys(r.data, r.keys, keys)
	if err != nil {
		return nil, err
	}
	return &Results{table: r.table, data: r.data, keys: sorted}, nil
}

func sortKeys(d *table.Data, keys []table.Key, by []SortKey) ([]table.Key, error) {

	schema := d.Schema()
	type column struct {
		id        table.ColumnID
		t         table.ColumnType
		ascending bool
	}
	columns := make([]column, len(by))
	for i, k := range by {
		id, c, ok := schema.Lookup(k.Column)
		if !ok {
			return nil, fmt.Errorf("%w: unknown sort column '%s'", dberr.ErrorSchema, k.Column)
		}
		columns[i] = column{id: id, t: c.Type, ascending: k.Ascending}
	}

	type entry struct {
		key    table.Key
		values []any
	}
	entries := make([]entry, len(keys))
	for i, key := range keys {
		values := make([]any, len(columns))
		for j, c := range columns {
			values[j], _ = d.Value(key, c.id)
		}
		entries[i] = entry{key: key, values: values}
	}

	sort.SliceStable(entries, func(a, b int) bool {
		for j, c := range columns {
			cmp := table.CompareTotal(c.t, entries[a].values[j], entries[b].values[j])
			if cmp == 0 {
				continue
			}
			if c.ascending {
				return cmp < 0
			}
			return cmp > 0
		}
		return entries[a].key < entries[b].key
	})

	sorted := make([]table.Key, len(entries))
	for i, e := range entries {
		sorted[i] = e.key
	}
	return sorted, nil
}

// numbers returns the non null, non NaN values of a numeric column.
func (r *Results) numbers(column string) ([]any, table.ColumnType, error) {
	id, c, ok := r.data.Schema().Lookup(column)
	if !ok {
		return nil, 0, fmt.Errorf("%w: unknown column '%s'", dberr.ErrorSchema, column)
	}
	switch c.Type {
	case table.TypeInt, table.TypeFloat, table.TypeDouble, table.TypeTimestamp:
	default:
		return nil, 0, fmt.Errorf("%w: column '%s' is %s, not numeric", dberr.ErrorTypeMismatch, column, c.Type)
	}
	values := []any{}
	for _, key := range r.keys {
		v, _ := r.data.Value(key, id)
		if v == nil || isNaN(v) {
			continue
		}
		values = append(values, v)
	}
	return values, c.Type, nil
}

// Sum is int64 for int columns and float64 otherwise. Nulls and NaN are
// skipped.
func (r *Results) Sum(column string) (any, error) {
	values, t, err := r.numbers(column)
	if err != nil {
		return nil, err
	}
	if t == table.TypeTimestamp {
		return nil, fmt.Errorf("%w: can not sum timestamps in '%s'", dberr.ErrorTypeMismatch, column)
	}
	if t == table.TypeInt {
		sum := int64(0)
		for _, v := range values {
			sum += v.(int64)
		}
		return sum, nil
	}
	sum := 0.0
	for _, v := range values {
		sum += toFloat(v)
	}
	return sum, nil
}

// Average is false when there is nothing to average.
func (r *Results) Average(column string) (float64, bool, error) {
	values, t, err := r.numbers(column)
	if err != nil {
		return 0, false, err
	}
	if t == table.TypeTimestamp {
		return 0, false, fmt.Errorf("%w: can not average timestamps in '%s'", dberr.ErrorTypeMismatch, column)
	}
	if len(values) == 0 {
		return 0, false, nil
	}
	sum := 0.0
	for _, v := range values {
		sum += toFloat(v)
	}
	return sum / float64(len(values)), true, nil
}

func (r *Results) Min(column string) (any, bool, error) {
	return r.extreme(column, -1)
}

func (r *Results) Max(column string) (any, bool, error) {
	return r.extreme(column, 1)
}

func (r *Results) extreme(column string, sign int) (any, bool, error) {
	values, t, err := r.numbers(column)
	if err != nil {
		return nil, false, err
	}
	if len(values) == 0 {
		return nil, false, nil
	}
	best := values[0]
	for _, v := range values[1:] {
		if cmp, ok := table.Compare(t, v, best); ok && cmp*sign > 0 {
			best = v
		}
	}
	return best, true, nil
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case int64:
		return float64(n)
	case float32:
		return float64(n)
	case float64:
		return n
	}
	return 0
}

func isNaN(v any) bool {
	switch f := v.(type) {
	case float32:
		return math.IsNaN(float64(f))
	case float64:
		return math.IsNaN(f)
	}
	return false
}
