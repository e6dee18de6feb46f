package service

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/fulldump/tightdb/database"
	"github.com/fulldump/tightdb/dberr"
	"github.com/fulldump/tightdb/group"
	"github.com/fulldump/tightdb/query"
	"github.com/fulldump/tightdb/table"
)

type Service struct {
	db *database.Database
}

func NewService(db *database.Database) *Service {
	return &Service{
		db: db,
	}
}

func groupInfo(name string, g *group.Group) *Group {
	return &Group{
		Name:          name,
		Version:       g.Version(),
		SchemaVersion: g.SchemaVersion(),
		State:         g.State().String(),
		Tables:        g.TableNames(),
	}
}

func (s *Service) ListGroups() ([]*Group, error) {
	result := []*Group{}
	for _, name := range s.db.ListGroups() {
		g, err := s.db.GetGroup(name)
		if errors.Is(err, database.ErrorGroupNotFound) {
			continue // dropped meanwhile
		}
		if err != nil {
			return nil, err
		}
		result = append(result, groupInfo(name, g))
	}
	return result, nil
}

func (s *Service) CreateGroup(name string, schemaVersion uint64) (*Group, error) {
	g, err := s.db.CreateGroup(name, schemaVersion)
	if err != nil {
		return nil, err
	}
	return groupInfo(name, g), nil
}

func (s *Service) GetGroup(name string) (*Group, error) {
	g, err := s.db.GetGroup(name)
	if err != nil {
		return nil, err
	}
	return groupInfo(name, g), nil
}

func (s *Service) DropGroup(name string) error {
	return s.db.DropGroup(name)
}

func (s *Service) CompactGroup(ctx context.Context, name string) (*Group, error) {
	g, err := s.db.GetGroup(name)
	if err != nil {
		return nil, err
	}
	if err := g.Compact(ctx); err != nil {
		return nil, err
	}
	return groupInfo(name, g), nil
}

func (s *Service) ApplySchema(ctx context.Context, groupName string, descriptor []byte) (*Group, error) {

	names, schemas, err := table.ParseSchemaYAML(descriptor)
	if err != nil {
		return nil, err
	}

	g, err := s.db.GetGroup(groupName)
	if err != nil {
		return nil, err
	}

	created := 0
	err = g.Write(ctx, func(tx *group.WriteTransaction) error {
		for _, name := range names {
			t, err := tx.Table(name)
			if errors.Is(err, dberr.ErrorTableNotFound) {
				if _, err := tx.CreateTable(name, schemas[name]); err != nil {
					return err
				}
				created++
				continue
			}
			if err != nil {
				return err
			}
			columns, err := t.Columns()
			if err != nil {
				return err
			}
			if !sameColumns(columns, schemas[name]) {
				return fmt.Errorf("%w: table '%s' exists with different columns", dberr.ErrorSchema, name)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"group":   groupName,
		"tables":  len(names),
		"created": created,
	}).Info("schema applied")

	return groupInfo(groupName, g), nil
}

func sameColumns(a, b table.Schema) bool {
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

func tableInfo(t *table.Table) (*Table, error) {
	columns, err := t.Columns()
	if err != nil {
		return nil, err
	}
	size, err := t.Size()
	if err != nil {
		return nil, err
	}
	return &Table{
		Name:    t.Name(),
		Columns: columns,
		Size:    size,
	}, nil
}

func (s *Service) ListTables(groupName string) ([]*Table, error) {
	g, err := s.db.GetGroup(groupName)
	if err != nil {
		return nil, err
	}

	result := []*Table{}
	err = g.Read(func(tx *group.ReadTransaction) error {
		for _, name := range tx.TableNames() {
			t, err := tx.Table(name)
			if err != nil {
				return err
			}
			info, err := tableInfo(t)
			if err != nil {
				return err
			}
			result = append(result, info)
		}
		return nil
	})
	return result, err
}

func (s *Service) CreateTable(ctx context.Context, groupName, tableName string, columns table.Schema) (*Table, error) {
	g, err := s.db.GetGroup(groupName)
	if err != nil {
		return nil, err
	}

	var result *Table
	err = g.Write(ctx, func(tx *group.WriteTransaction) error {
		t, err := tx.CreateTable(tableName, columns)
		if err != nil {
			return err
		}
		result, err = tableInfo(t)
		return err
	})
	return result, err
}

func (s *Service) GetTable(groupName, tableName string) (*Table, error) {
	g, err := s.db.GetGroup(groupName)
	if err != nil {
		return nil, err
	}

	var result *Table
	err = g.Read(func(tx *group.ReadTransaction) error {
		t, err := tx.Table(tableName)
		if err != nil {
			return err
		}
		result, err = tableInfo(t)
		return err
	})
	return result, err
}

func (s *Service) DropTable(ctx context.Context, groupName, tableName string) error {
	g, err := s.db.GetGroup(groupName)
	if err != nil {
		return err
	}
	return g.Write(ctx, func(tx *group.WriteTransaction) error {
		return tx.RemoveTable(tableName)
	})
}

// alterTable runs f over a table in a write transaction and returns the
// table as committed.
func (s *Service) alterTable(ctx context.Context, groupName, tableName string, f func(t *table.Table) error) (*Table, error) {
	g, err := s.db.GetGroup(groupName)
	if err != nil {
		return nil, err
	}

	var result *Table
	err = g.Write(ctx, func(tx *group.WriteTransaction) error {
		t, err := tx.Table(tableName)
		if err != nil {
			return err
		}
		if err := f(t); err != nil {
			return err
		}
		result, err = tableInfo(t)
		return err
	})
	return result, err
}

func (s *Service) AddColumn(ctx context.Context, groupName, tableName string, column table.Column) (*Table, error) {
	return s.alterTable(ctx, groupName, tableName, func(t *table.Table) error {
		_, err := t.CreateColumn(column)
		return err
	})
}

func (s *Service) RemoveColumn(ctx context.Context, groupName, tableName, column string) (*Table, error) {
	return s.alterTable(ctx, groupName, tableName, func(t *table.Table) error {
		return t.RemoveColumn(column)
	})
}

// Insert adds every row in one transaction: either all of them are
// committed or none.
func (s *Service) Insert(ctx context.Context, groupName, tableName string, rows []Document) ([]table.Key, error) {
	g, err := s.db.GetGroup(groupName)
	if err != nil {
		return nil, err
	}

	keys := []table.Key{}
	err = g.Write(ctx, func(tx *group.WriteTransaction) error {
		t, err := tx.Table(tableName)
		if err != nil {
			return err
		}
		columns, err := t.Columns()
		if err != nil {
			return err
		}
		for i, doc := range rows {
			values, err := fromDocument(columns, doc)
			if err != nil {
				return fmt.Errorf("row %d: %w", i, err)
			}
			row, err := t.InsertRowWith(values)
			if err != nil {
				return fmt.Errorf("row %d: %w", i, err)
			}
			keys = append(keys, row.Key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func compileFilter(filter Document) *query.Query {
	if len(filter) == 0 {
		return query.All()
	}
	return query.Match(filter)
}

func sortKeys(fields []SortField) []query.SortKey {
	keys := make([]query.SortKey, 0, len(fields))
	for _, f := range fields {
		keys = append(keys, query.SortKey{Column: f.Column, Ascending: !f.Desc})
	}
	return keys
}

// selectRows evaluates the filter and the sort against t.
func selectRows(t *table.Table, input *FindInput) (*query.Results, error) {
	if input == nil {
		input = &FindInput{}
	}
	r, err := compileFilter(input.Filter).Evaluate(t)
	if err != nil {
		return nil, err
	}
	if len(input.Sort) > 0 {
		r, err = r.Sort(sortKeys(input.Sort)...)
		if err != nil {
			return nil, err
		}
	}
	return r, nil
}

func documents(r *query.Results, columns table.Schema, from, to int) ([]Document, error) {
	if from < 0 {
		from = 0
	}
	if to > r.Len() {
		to = r.Len()
	}
	result := []Document{}
	for i := from; i < to; i++ {
		row, err := r.Get(i)
		if err != nil {
			return nil, err
		}
		doc := Document{KeyField: int64(row.Key)}
		for _, c := range columns {
			v, err := r.Value(i, c.Name)
			if err != nil {
				return nil, err
			}
			doc[c.Name] = toJSON(v)
		}
		result = append(result, doc)
	}
	return result, nil
}

func (s *Service) Find(groupName, tableName string, input *FindInput) ([]Document, error) {
	g, err := s.db.GetGroup(groupName)
	if err != nil {
		return nil, err
	}
	if input == nil {
		input = &FindInput{}
	}

	var result []Document
	err = g.Read(func(tx *group.ReadTransaction) error {
		t, err := tx.Table(tableName)
		if err != nil {
			return err
		}
		columns, err := t.Columns()
		if err != nil {
			return err
		}
		r, err := selectRows(t, input)
		if err != nil {
			return err
		}
		to := r.Len()
		if input.Limit > 0 && input.Skip+input.Limit < to {
			to = input.Skip + input.Limit
		}
		result, err = documents(r, columns, input.Skip, to)
		return err
	})
	return result, err
}

func (s *Service) Patch(ctx context.Context, groupName, tableName string, filter, values Document) (int, error) {
	g, err := s.db.GetGroup(groupName)
	if err != nil {
		return 0, err
	}

	patched := 0
	err = g.Write(ctx, func(tx *group.WriteTransaction) error {
		t, err := tx.Table(tableName)
		if err != nil {
			return err
		}
		columns, err := t.Columns()
		if err != nil {
			return err
		}
		converted, err := fromDocument(columns, values)
		if err != nil {
			return err
		}
		r, err := selectRows(t, &FindInput{Filter: filter})
		if err != nil {
			return err
		}
		for _, row := range r.Rows() {
			for name, v := range converted {
				if err := t.SetValue(row, name, v); err != nil {
					return err
				}
			}
			patched++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return patched, nil
}

func (s *Service) Remove(ctx context.Context, groupName, tableName string, filter Document) (int, error) {
	g, err := s.db.GetGroup(groupName)
	if err != nil {
		return 0, err
	}

	removed := 0
	err = g.Write(ctx, func(tx *group.WriteTransaction) error {
		t, err := tx.Table(tableName)
		if err != nil {
			return err
		}
		r, err := selectRows(t, &FindInput{Filter: filter})
		if err != nil {
			return err
		}
		for _, row := range r.Rows() {
			if err := t.RemoveRow(row); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// Watch calls f with every change of the filtered rows and the rows as they
// are at the version of the change, until ctx is done. Calls come from a
// single goroutine. A change that can not be rendered ends the watch with
// its error.
func (s *Service) Watch(ctx context.Context, groupName, tableName string, input *FindInput, f func(query.Change, []Document)) error {
	g, err := s.db.GetGroup(groupName)
	if err != nil {
		return err
	}
	if input == nil {
		input = &FindInput{}
	}

	failed := make(chan error, 1)
	live := g.Objects(tableName, compileFilter(input.Filter), sortKeys(input.Sort)...)
	subscription, err := live.Observe(func(change query.Change) {
		docs, err := documents(change.Results, change.Results.Columns(), 0, change.Results.Len())
		if err != nil {
			log.WithError(err).WithFields(log.Fields{
				"group":   groupName,
				"table":   tableName,
				"version": change.Version,
			}).Error("watch")
			select {
			case failed <- err:
			default:
			}
			return
		}
		f(change, docs)
	})
	if err != nil {
		return err
	}
	defer subscription.Invalidate()

	select {
	case <-ctx.Done():
		return nil
	case err := <-failed:
		return err
	}
}
