package table

import (
	"github.com/google/btree"
)

type indexEntry struct {
	Value any // host representation
	Key   Key
}

// columnIndex keeps (value, key) pairs of one column ordered by value, ties
// by key.
type columnIndex struct {
	column Column
	tree   *btree.BTreeG[indexEntry]
}

func newColumnIndex(c Column) *columnIndex {
	t := c.Type
	return &columnIndex{
		column: c,
		tree: btree.NewG(32, func(a, b indexEntry) bool {
			if cmp := compareTotal(t, a.Value, b.Value); cmp != 0 {
				return cmp < 0
			}
			return a.Key < b.Key
		}),
	}
}

func (i *columnIndex) add(key Key, internal any) {
	i.tree.ReplaceOrInsert(indexEntry{Value: toHost(i.column, internal), Key: key})
}

func (i *columnIndex) remove(key Key, internal any) {
	i.tree.Delete(indexEntry{Value: toHost(i.column, internal), Key: key})
}

func (i *columnIndex) clone() *columnIndex {
	return &columnIndex{
		column: i.column,
		tree:   i.tree.Clone(),
	}
}

// first returns the lowest key holding value, which is a host value already
// normalized for the column.
func (i *columnIndex) first(value any) (Key, bool) {
	found := Key(0)
	ok := false
	i.tree.AscendGreaterOrEqual(indexEntry{Value: value, Key: -1 << 63}, func(e indexEntry) bool {
		if compareTotal(i.column.Type, e.Value, value) == 0 {
			found, ok = e.Key, true
		}
		return false
	})
	return found, ok
}

// traverse visits keys in value order.
func (i *columnIndex) traverse(f func(key Key, value any) bool) {
	i.tree.Ascend(func(e indexEntry) bool {
		return f(e.Key, e.Value)
	})
}
