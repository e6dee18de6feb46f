package storage

import (
	"fmt"

	"github.com/fulldump/tightdb/dberr"
	"github.com/fulldump/tightdb/table"
)

type OpRecord struct {
	Kind    string         `json:"op"`
	Table   string         `json:"table,omitzero"`
	Key     int64          `json:"key,omitzero"`
	Column  string         `json:"column,omitzero"`
	Columns []table.Column `json:"columns,omitzero"`
	Value   *Cell          `json:"value,omitzero"`
}

// Commit is the payload of a commit record: all the ops of one write
// transaction.
type Commit struct {
	Version       uint64     `json:"version"`
	SchemaVersion uint64     `json:"schema_version"`
	UUID          string     `json:"uuid"`
	Timestamp     int64      `json:"timestamp"`
	Ops           []OpRecord `json:"ops"`
}

type RowSnapshot struct {
	Key    int64   `json:"key"`
	Values []*Cell `json:"values"`
}

type TableSnapshot struct {
	Name    string         `json:"name"`
	Columns []table.Column `json:"columns"`
	NextKey int64          `json:"next_key"`
	Rows    []RowSnapshot  `json:"rows"`
}

// Snapshot is the full content of a group at one version. It is the first
// record of a compacted file.
type Snapshot struct {
	Version       uint64          `json:"version"`
	SchemaVersion uint64          `json:"schema_version"`
	Timestamp     int64           `json:"timestamp"`
	Tables        []TableSnapshot `json:"tables"`
}

func EncodeOp(op table.Op) (OpRecord, error) {
	r := OpRecord{
		Kind:    string(op.Kind),
		Table:   op.Table,
		Key:     int64(op.Key),
		Column:  op.Column,
		Columns: op.Columns,
	}
	if op.Kind == table.OpSet {
		cell, err := EncodeCell(op.Value)
		if err != nil {
			return OpRecord{}, fmt.Errorf("table '%s' column '%s': %w", op.Table, op.Column, err)
		}
		r.Value = cell
	}
	return r, nil
}

func DecodeOp(r OpRecord) (table.Op, error) {
	op := table.Op{
		Kind:    table.OpKind(r.Kind),
		Table:   r.Table,
		Key:     table.Key(r.Key),
		Column:  r.Column,
		Columns: table.Schema(r.Columns),
	}
	switch op.Kind {
	case table.OpCreateTable, table.OpRemoveTable, table.OpAddColumn, table.OpRemoveColumn,
		table.OpInsert, table.OpRemove, table.OpClear:
	case table.OpSet:
		v, err := DecodeCell(r.Value)
		if err != nil {
			return table.Op{}, err
		}
		op.Value = v
	default:
		return table.Op{}, fmt.Errorf("%w: unknown op '%s'", dberr.ErrorIncompatibleFileFormat, r.Kind)
	}
	return op, nil
}

// SnapshotTable captures one table version.
func SnapshotTable(d *table.Data) (TableSnapshot, error) {
	t := TableSnapshot{
		Name:    d.Name(),
		Columns: d.Schema(),
		NextKey: int64(d.NextKey()),
		Rows:    make([]RowSnapshot, 0, d.Len()),
	}
	var err error
	d.EachStored(func(key table.Key, values []any) bool {
		row := RowSnapshot{Key: int64(key), Values: make([]*Cell, len(values))}
		for i, v := range values {
			row.Values[i], err = EncodeCell(v)
			if err != nil {
				err = fmt.Errorf("table '%s' row %d: %w", d.Name(), key, err)
				return false
			}
		}
		t.Rows = append(t.Rows, row)
		return true
	})
	return t, err
}

// RestoreTable rebuilds a table version from its snapshot.
func RestoreTable(t TableSnapshot) (*table.Data, error) {
	d, err := table.NewData(t.Name, table.Schema(t.Columns))
	if err != nil {
		return nil, err
	}
	for _, row := range t.Rows {
		values := make([]any, len(row.Values))
		for i, cell := range row.Values {
			values[i], err = DecodeCell(cell)
			if err != nil {
				return nil, err
			}
		}
		if err := d.Restore(table.Key(row.Key), values); err != nil {
			return nil, err
		}
	}
	d.SetNextKey(table.Key(t.NextKey))
	return d, nil
}
