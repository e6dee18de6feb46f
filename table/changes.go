package table

import (
	"sort"
)

// ChangeSet accumulates the row changes of one table during a write
// transaction. Several changes to the same row collapse:
//
//	insert + set    -> inserted
//	insert + remove -> nothing
//	set + remove    -> deleted
type ChangeSet struct {
	inserted map[Key]struct{}
	deleted  map[Key]struct{}
	modified map[Key]struct{}
	schema   bool
}

func NewChangeSet() *ChangeSet {
	return &ChangeSet{
		inserted: map[Key]struct{}{},
		deleted:  map[Key]struct{}{},
		modified: map[Key]struct{}{},
	}
}

func (c *ChangeSet) insert(key Key) {
	c.inserted[key] = struct{}{}
}

func (c *ChangeSet) modify(key Key) {
	if _, ok := c.inserted[key]; ok {
		return
	}
	c.modified[key] = struct{}{}
}

func (c *ChangeSet) remove(key Key) {
	if _, ok := c.inserted[key]; ok {
		delete(c.inserted, key)
		return
	}
	delete(c.modified, key)
	c.deleted[key] = struct{}{}
}

// MarkSchema flags a structural change (table created/removed, column added
// or removed).
func (c *ChangeSet) MarkSchema() {
	c.schema = true
}

func (c *ChangeSet) SchemaChanged() bool {
	return c.schema
}

func (c *ChangeSet) Empty() bool {
	return !c.schema && len(c.inserted) == 0 && len(c.deleted) == 0 && len(c.modified) == 0
}

func (c *ChangeSet) IsInserted(key Key) bool {
	_, ok := c.inserted[key]
	return ok
}

func (c *ChangeSet) IsModified(key Key) bool {
	_, ok := c.modified[key]
	return ok
}

func (c *ChangeSet) IsDeleted(key Key) bool {
	_, ok := c.deleted[key]
	return ok
}

func (c *ChangeSet) Inserted() []Key { return sortedKeys(c.inserted) }
func (c *ChangeSet) Deleted() []Key  { return sortedKeys(c.deleted) }
func (c *ChangeSet) Modified() []Key { return sortedKeys(c.modified) }

// Merge folds a later change set into c, keeping the collapse rules.
func (c *ChangeSet) Merge(later *ChangeSet) {
	if later == nil {
		return
	}
	for key := range later.inserted {
		c.insert(key)
	}
	for key := range later.modified {
		c.modify(key)
	}
	for key := range later.deleted {
		c.remove(key)
	}
	if later.schema {
		c.schema = true
	}
}

func sortedKeys(m map[Key]struct{}) []Key {
	keys := make([]Key, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
