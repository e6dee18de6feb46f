package group

import (
	"fmt"
	"sort"

	"github.com/fulldump/tightdb/dberr"
	"github.com/fulldump/tightdb/storage"
	"github.com/fulldump/tightdb/table"
)

// version is one committed state of the group. Published versions are never
// modified: every table they hold is frozen.
type version struct {
	number        uint64
	schemaVersion uint64
	tables        map[string]*table.Data
}

func emptyVersion() *version {
	return &version{tables: map[string]*table.Data{}}
}

// fork returns a version sharing every table of v, to be modified through
// applyOp.
func (v *version) fork() *version {
	tables := make(map[string]*table.Data, len(v.tables))
	for name, d := range v.tables {
		tables[name] = d
	}
	return &version{number: v.number, schemaVersion: v.schemaVersion, tables: tables}
}

func (v *version) names() []string {
	names := make([]string, 0, len(v.tables))
	for name := range v.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// mutation tracks the tables of a forked version already cloned and the
// changes recorded on each of them.
type mutation struct {
	work    *version
	cloned  map[string]bool
	changes map[string]*table.ChangeSet
}

func newMutation(base *version) *mutation {
	return &mutation{
		work:    base.fork(),
		cloned:  map[string]bool{},
		changes: map[string]*table.ChangeSet{},
	}
}

func (m *mutation) changeSet(name string) *table.ChangeSet {
	cs, ok := m.changes[name]
	if !ok {
		cs = table.NewChangeSet()
		m.changes[name] = cs
	}
	return cs
}

// mutable returns a private copy of a table, cloning it on first use.
func (m *mutation) mutable(name string) (*table.Data, *table.ChangeSet, error) {
	d, ok := m.work.tables[name]
	if !ok {
		return nil, nil, fmt.Errorf("%w: '%s'", dberr.ErrorTableNotFound, name)
	}
	if !m.cloned[name] {
		d = d.Clone()
		m.work.tables[name] = d
		m.cloned[name] = true
	}
	return d, m.changeSet(name), nil
}

// apply runs one op against the forked version. Table level ops are handled
// here, the rest is delegated to the table data.
func (m *mutation) apply(op table.Op) error {

	switch op.Kind {

	case table.OpCreateTable:
		if op.Table == "" {
			return fmt.Errorf("%w: table name can not be empty", dberr.ErrorSchema)
		}
		if _, exists := m.work.tables[op.Table]; exists {
			return fmt.Errorf("%w: table '%s' already exists", dberr.ErrorSchema, op.Table)
		}
		d, err := table.NewData(op.Table, op.Columns)
		if err != nil {
			return fmt.Errorf("create table '%s': %w", op.Table, err)
		}
		m.work.tables[op.Table] = d
		m.cloned[op.Table] = true
		m.changeSet(op.Table).MarkSchema()
		return nil

	case table.OpRemoveTable:
		d, ok := m.work.tables[op.Table]
		if !ok {
			return fmt.Errorf("%w: '%s'", dberr.ErrorTableNotFound, op.Table)
		}
		cs := m.changeSet(op.Table)
		// clearing a throwaway copy records every row as deleted
		if err := d.Clone().Apply(table.Op{Kind: table.OpClear, Table: op.Table}, cs); err != nil {
			return err
		}
		cs.MarkSchema()
		delete(m.work.tables, op.Table)
		delete(m.cloned, op.Table)
		return nil
	}

	d, cs, err := m.mutable(op.Table)
	if err != nil {
		return err
	}
	return d.Apply(op, cs)
}

// publish freezes the cloned tables and returns the resulting version.
func (m *mutation) publish(number, schemaVersion uint64) *version {
	for name := range m.cloned {
		if d, ok := m.work.tables[name]; ok {
			d.Freeze()
		}
	}
	m.work.number = number
	m.work.schemaVersion = schemaVersion
	return m.work
}

// applyRecord computes the version that follows v once r is applied.
func applyRecord(v *version, r *storage.Record) (*version, map[string]*table.ChangeSet, error) {

	switch r.Kind {

	case storage.KindSnapshot:
		if v.number != 0 {
			return nil, nil, fmt.Errorf("%w: snapshot found after version %d", dberr.ErrorIncompatibleFileFormat, v.number)
		}
		next := emptyVersion()
		next.number = r.Snapshot.Version
		next.schemaVersion = r.Snapshot.SchemaVersion
		for _, t := range r.Snapshot.Tables {
			d, err := storage.RestoreTable(t)
			if err != nil {
				return nil, nil, fmt.Errorf("restore table '%s': %w", t.Name, err)
			}
			d.Freeze()
			next.tables[d.Name()] = d
		}
		return next, nil, nil

	case storage.KindCommit:
		c := r.Commit
		if c.Version != v.number+1 {
			return nil, nil, fmt.Errorf("%w: commit %d follows version %d", dberr.ErrorIncompatibleFileFormat, c.Version, v.number)
		}
		m := newMutation(v)
		for i, record := range c.Ops {
			op, err := storage.DecodeOp(record)
			if err != nil {
				return nil, nil, fmt.Errorf("commit %d op %d: %w", c.Version, i, err)
			}
			if err := m.apply(op); err != nil {
				return nil, nil, fmt.Errorf("%w: commit %d op %d: %s", dberr.ErrorIncompatibleFileFormat, c.Version, i, err.Error())
			}
		}
		return m.publish(c.Version, c.SchemaVersion), m.changes, nil
	}

	return nil, nil, fmt.Errorf("%w: unknown record kind %d", dberr.ErrorIncompatibleFileFormat, r.Kind)
}

func sameSchema(a, b table.Schema) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
