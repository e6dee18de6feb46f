package group

import (
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/fulldump/tightdb/dberr"
	"github.com/fulldump/tightdb/metrics"
	"github.com/fulldump/tightdb/storage"
	"github.com/fulldump/tightdb/table"
)

// ReadTransaction pins one committed version. Commits made after BeginRead
// are not visible through it.
type ReadTransaction struct {
	group   *Group
	version *version

	mu    sync.Mutex
	ended bool
}

func (tx *ReadTransaction) View(name string) (*table.Data, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.ended {
		return nil, fmt.Errorf("%w: read transaction already ended", dberr.ErrorTransactionState)
	}
	d, ok := tx.version.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: '%s'", dberr.ErrorTableNotFound, name)
	}
	return d, nil
}

func (tx *ReadTransaction) Mutable(name string) (*table.Data, *table.ChangeSet, error) {
	return nil, nil, fmt.Errorf("%w: table '%s' can not be modified in a read transaction", dberr.ErrorTransactionState, name)
}

func (tx *ReadTransaction) Record(op table.Op) {}

func (tx *ReadTransaction) Table(name string) (*table.Table, error) {
	if _, err := tx.View(name); err != nil {
		return nil, err
	}
	return table.New(name, tx), nil
}

func (tx *ReadTransaction) TableNames() []string {
	return tx.version.names()
}

func (tx *ReadTransaction) Version() uint64 {
	return tx.version.number
}

func (tx *ReadTransaction) SchemaVersion() uint64 {
	return tx.version.schemaVersion
}

// End releases the pinned version. It is idempotent.
func (tx *ReadTransaction) End() {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.ended {
		return
	}
	tx.ended = true
	tx.group.endRead()
}

// WriteTransaction holds the writer lock of the file until Commit or Cancel.
// Its changes are private until Commit publishes them as a new version.
type WriteTransaction struct {
	group *Group
	base  *version

	mutation      *mutation
	ops           []table.Op
	schemaVersion uint64

	mu    sync.Mutex
	ended bool
}

func newWriteTransaction(g *Group, base *version) *WriteTransaction {
	return &WriteTransaction{
		group:         g,
		base:          base,
		mutation:      newMutation(base),
		schemaVersion: base.schemaVersion,
	}
}

func (tx *WriteTransaction) active() error {
	if tx.ended {
		return fmt.Errorf("%w: write transaction already ended", dberr.ErrorTransactionState)
	}
	return nil
}

func (tx *WriteTransaction) View(name string) (*table.Data, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.active(); err != nil {
		return nil, err
	}
	d, ok := tx.mutation.work.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: '%s'", dberr.ErrorTableNotFound, name)
	}
	return d, nil
}

func (tx *WriteTransaction) Mutable(name string) (*table.Data, *table.ChangeSet, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.active(); err != nil {
		return nil, nil, err
	}
	return tx.mutation.mutable(name)
}

func (tx *WriteTransaction) Record(op table.Op) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.ops = append(tx.ops, op)
}

func (tx *WriteTransaction) Table(name string) (*table.Table, error) {
	if _, err := tx.View(name); err != nil {
		return nil, err
	}
	return table.New(name, tx), nil
}

func (tx *WriteTransaction) CreateTable(name string, schema table.Schema) (*table.Table, error) {
	op := table.Op{Kind: table.OpCreateTable, Table: name, Columns: schema}
	if err := tx.structural(op); err != nil {
		return nil, err
	}
	return table.New(name, tx), nil
}

// RemoveTable drops a table and all its rows. Handles to it become invalid.
func (tx *WriteTransaction) RemoveTable(name string) error {
	return tx.structural(table.Op{Kind: table.OpRemoveTable, Table: name})
}

func (tx *WriteTransaction) structural(op table.Op) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.active(); err != nil {
		return err
	}
	if err := tx.mutation.apply(op); err != nil {
		return err
	}
	tx.ops = append(tx.ops, op)
	return nil
}

func (tx *WriteTransaction) TableNames() []string {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.mutation.work.names()
}

// Version is the version the transaction started from.
func (tx *WriteTransaction) Version() uint64 {
	return tx.base.number
}

func (tx *WriteTransaction) SchemaVersion() uint64 {
	return tx.schemaVersion
}

// Commit persists the changes as one record and publishes them. When the
// file can not be written the transaction ends and the previous version
// stays current. Committing a transaction without changes writes nothing.
func (tx *WriteTransaction) Commit() error {

	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.active(); err != nil {
		return err
	}
	defer tx.end()

	g := tx.group
	if len(tx.ops) == 0 && tx.schemaVersion == tx.base.schemaVersion && tx.base.number > 0 {
		return nil
	}

	start := time.Now()
	c := &storage.Commit{
		Version:       tx.base.number + 1,
		SchemaVersion: tx.schemaVersion,
		UUID:          uuid.New().String(),
		Timestamp:     start.UnixNano(),
		Ops:           make([]storage.OpRecord, len(tx.ops)),
	}
	for i, op := range tx.ops {
		record, err := storage.EncodeOp(op)
		if err != nil {
			metrics.FailedCommitsTotal.Inc()
			return fmt.Errorf("commit %d: %w", c.Version, err)
		}
		c.Ops[i] = record
	}

	g.fileMu.Lock()
	defer g.fileMu.Unlock()

	if g.isClosed() {
		return fmt.Errorf("%w: commit %d", dberr.ErrorClosed, c.Version)
	}

	size, err := g.file.AppendCommit(c)
	if err != nil {
		metrics.FailedCommitsTotal.Inc()
		g.log.WithError(err).WithField("version", c.Version).Error("commit failed")
		return err
	}

	g.publish(tx.mutation.publish(c.Version, c.SchemaVersion), tx.mutation.changes)
	g.writer.announce(c.Version, g)

	metrics.CommitsTotal.Inc()
	metrics.CommittedBytesTotal.Add(float64(size))
	metrics.CommitDurationSeconds.Observe(time.Since(start).Seconds())
	g.log.WithFields(log.Fields{
		"version": c.Version,
		"ops":     len(c.Ops),
		"size":    humanize.Bytes(uint64(size)),
	}).Debug("committed")

	return nil
}

// Cancel discards the changes. It always succeeds and can be called any
// number of times, also after Commit.
func (tx *WriteTransaction) Cancel() {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.ended {
		return
	}
	metrics.CancelledTransactions.Inc()
	tx.end()
}

func (tx *WriteTransaction) end() {
	if tx.ended {
		return
	}
	tx.ended = true
	tx.group.endWrite()
}
