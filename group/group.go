// Package group opens a group file and manages its transactions: any number
// of readers pinned to committed versions and one writer at a time per file.
package group

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/fulldump/tightdb/dberr"
	"github.com/fulldump/tightdb/metrics"
	"github.com/fulldump/tightdb/query"
	"github.com/fulldump/tightdb/storage"
	"github.com/fulldump/tightdb/table"
	"github.com/fulldump/tightdb/utils"
)

type State int

const (
	StateClosed State = iota
	StateIdle
	StateReading
	StateWriting
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateIdle:
		return "idle"
	case StateReading:
		return "reading"
	case StateWriting:
		return "writing"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Migration upgrades the content of a file written with an older schema
// version. It runs inside the write transaction that records the new
// version, so a failing migration leaves the file untouched.
type Migration func(tx *WriteTransaction, oldVersion uint64) error

type Options struct {
	SchemaVersion uint64
	Migration     Migration

	// Tables are created on open when missing. An existing table with a
	// different schema is an error unless a migration changes it.
	Tables map[string]table.Schema

	// Dynamic opens an existing file at whatever schema version it records.
	// SchemaVersion only applies to new files.
	Dynamic bool

	// NonBlocking makes BeginWrite fail with ErrorWouldBlock instead of
	// waiting for another writer.
	NonBlocking bool

	Compression bool

	// WatchExternal refreshes the group when another process commits. Only
	// for files on the OS file system.
	WatchExternal bool

	Fs     afero.Fs
	Logger log.FieldLogger
}

type Group struct {
	filename string
	options  Options
	log      log.FieldLogger

	fileMu sync.Mutex
	file   *storage.File

	writer   *writerLock
	notifier *notifier
	watcher  *watcher

	// followed wakes the loop reading commits of other handles
	followed   chan struct{}
	followDone chan struct{}

	mu      sync.Mutex
	head    *version
	closed  bool
	readers int
	writing bool
}

// Open opens or creates a group file. The stored schema version must match
// options.SchemaVersion, otherwise options.Migration is run, or
// ErrorSchemaVersionMismatch returned when there is none.
func Open(filename string, options *Options) (*Group, error) {

	o := Options{}
	if options != nil {
		o = *options
	}
	if o.Fs == nil {
		o.Fs = afero.NewOsFs()
	}
	if o.Logger == nil {
		o.Logger = log.StandardLogger()
	}
	if _, ok := o.Fs.(*afero.OsFs); ok {
		abs, err := filepath.Abs(filename)
		if err != nil {
			return nil, fmt.Errorf("%w: '%s': %s", dberr.ErrorFileAccess, filename, err.Error())
		}
		filename = abs
	}

	file, _, err := storage.Open(o.Fs, filename, o.Compression)
	if err != nil {
		return nil, err
	}

	g := &Group{
		filename: filename,
		options:  o,
		log:      o.Logger.WithField("file", filename),
		file:     file,
		head:     emptyVersion(),

		followed:   make(chan struct{}, 1),
		followDone: make(chan struct{}),
	}

	g.writer, err = acquireWriterLock(o.Fs, filename)
	if err != nil {
		file.Close()
		return nil, err
	}

	g.fileMu.Lock()
	err = g.readNew()
	g.fileMu.Unlock()
	if err != nil {
		g.writer.release()
		file.Close()
		return nil, err
	}

	g.notifier = newNotifier(g.log)
	metrics.OpenGroups.Inc()

	g.writer.attach(g)
	go g.follow()

	if err := g.repair(); err != nil {
		g.Close()
		return nil, err
	}
	if err := g.prepare(); err != nil {
		g.Close()
		return nil, err
	}

	if o.WatchExternal {
		if _, ok := o.Fs.(*afero.OsFs); ok {
			g.watcher, err = watch(g)
			if err != nil {
				g.Close()
				return nil, err
			}
		} else {
			g.log.Warn("external changes can only be watched on the OS file system")
		}
	}

	v := g.current()
	g.log.WithFields(log.Fields{
		"version":        v.number,
		"schema_version": v.schemaVersion,
		"tables":         len(v.tables),
		"size":           humanize.Bytes(uint64(g.file.Size())),
	}).Info("group opened")

	return g, nil
}

// readNew applies the records appended since the last read. Callers hold
// fileMu.
func (g *Group) readNew() error {
	return g.file.ReadNew(func(r *storage.Record) error {
		g.mu.Lock()
		defer g.mu.Unlock()

		next, changes, err := applyRecord(g.head, r)
		if err != nil {
			return err
		}
		metrics.ReplayedRecordsTotal.Inc()
		g.head = next
		if g.notifier != nil && changes != nil {
			g.notifier.publish(delivery{head: next, changes: changes})
		}
		return nil
	})
}

// follow reads the commits of the other handles of the process on the same
// file, so their notifications reach this handle's subscribers.
func (g *Group) follow() {
	for {
		select {
		case <-g.followDone:
			return
		case <-g.followed:
			_, err := g.Refresh()
			if errors.Is(err, dberr.ErrorClosed) {
				return
			}
			if err != nil {
				g.log.WithError(err).Warn("refresh after commit of another handle")
			}
		}
	}
}

// sync reads the commits another handle of the process made after the
// head.
func (g *Group) sync() error {
	if g.current().number >= g.writer.committed.Load() {
		return nil
	}
	_, err := g.Refresh()
	return err
}

// catchUp brings the head to the end of the file and drops a torn tail.
// Callers hold the writer lock.
func (g *Group) catchUp() error {
	g.fileMu.Lock()
	defer g.fileMu.Unlock()

	if g.isClosed() {
		return dberr.ErrorClosed
	}
	if err := g.readNew(); err != nil {
		return err
	}
	dropped, err := g.file.Repair()
	if err != nil {
		return err
	}
	if dropped > 0 {
		metrics.RepairedBytesTotal.Add(float64(dropped))
		g.log.WithField("dropped", humanize.Bytes(uint64(dropped))).Warn("truncated torn record")
	}
	return nil
}

// repair drops a torn tail left by a crash, unless a writer is active: its
// commit in progress looks torn too.
func (g *Group) repair() error {
	if err := g.writer.lock(context.Background(), true); err != nil {
		if errors.Is(err, dberr.ErrorWouldBlock) {
			return nil
		}
		return err
	}
	defer g.writer.unlock()
	return g.catchUp()
}

// prepare records the schema version of a new file, runs the migration and
// creates the declared tables.
func (g *Group) prepare() error {

	if !g.needsPreparation(g.current()) {
		return nil
	}

	tx, err := g.beginWrite(context.Background(), false)
	if err != nil {
		return err
	}
	defer tx.Cancel()

	base := tx.base
	requested := g.options.SchemaVersion
	if g.options.Dynamic && base.number > 0 {
		requested = base.schemaVersion
	}

	switch {
	case base.number == 0:
	case base.schemaVersion == requested:
	case g.options.Migration == nil || requested < base.schemaVersion:
		return fmt.Errorf("%w: '%s' has schema version %d, requested %d", dberr.ErrorSchemaVersionMismatch, g.filename, base.schemaVersion, requested)
	default:
		g.log.WithFields(log.Fields{
			"from": base.schemaVersion,
			"to":   requested,
		}).Info("migrating")
		if err := g.options.Migration(tx, base.schemaVersion); err != nil {
			return fmt.Errorf("migration from schema version %d to %d: %w", base.schemaVersion, requested, err)
		}
	}
	tx.schemaVersion = requested

	for _, name := range utils.GetKeys(g.options.Tables) {
		declared := g.options.Tables[name]
		d, err := tx.View(name)
		if errors.Is(err, dberr.ErrorTableNotFound) {
			if _, err := tx.CreateTable(name, declared); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}
		if !sameSchema(d.Schema(), declared) {
			return fmt.Errorf("%w: table '%s' differs from its declaration, a migration is needed", dberr.ErrorSchema, name)
		}
	}

	return tx.Commit()
}

func (g *Group) needsPreparation(v *version) bool {
	if v.number == 0 {
		return true
	}
	if !g.options.Dynamic && v.schemaVersion != g.options.SchemaVersion {
		return true
	}
	for name, declared := range g.options.Tables {
		d, ok := v.tables[name]
		if !ok || !sameSchema(d.Schema(), declared) {
			return true
		}
	}
	return false
}

func (g *Group) current() *version {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.head
}

func (g *Group) isClosed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed
}

// publish makes next the head and queues its notifications. Callers hold
// the writer lock so versions are published in commit order.
func (g *Group) publish(next *version, changes map[string]*table.ChangeSet) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.head = next
	g.notifier.publish(delivery{head: next, changes: changes})
}

func (g *Group) Filename() string {
	return g.filename
}

func (g *Group) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch {
	case g.closed:
		return StateClosed
	case g.writing:
		return StateWriting
	case g.readers > 0:
		return StateReading
	}
	return StateIdle
}

// Version is the number of the latest committed version known to this
// handle. Commits of other processes are seen after Refresh or BeginWrite.
func (g *Group) Version() uint64 {
	if err := g.sync(); err != nil && !errors.Is(err, dberr.ErrorClosed) {
		g.log.WithError(err).Warn("read commits of another handle")
	}
	return g.current().number
}

func (g *Group) SchemaVersion() uint64 {
	return g.current().schemaVersion
}

func (g *Group) TableNames() []string {
	return g.current().names()
}

// BeginRead never waits for a writer. It sees every commit made in the
// process before it began.
func (g *Group) BeginRead() (*ReadTransaction, error) {
	if err := g.sync(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil, dberr.ErrorClosed
	}
	g.readers++
	metrics.ActiveReadTransactions.Inc()
	return &ReadTransaction{group: g, version: g.head}, nil
}

func (g *Group) endRead() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.readers--
	metrics.ActiveReadTransactions.Dec()
}

// BeginWrite waits for the writer lock until ctx is done, or fails with
// ErrorWouldBlock when the group was opened with NonBlocking.
func (g *Group) BeginWrite(ctx context.Context) (*WriteTransaction, error) {
	return g.beginWrite(ctx, g.options.NonBlocking)
}

func (g *Group) beginWrite(ctx context.Context, nonBlocking bool) (*WriteTransaction, error) {

	if g.isClosed() {
		return nil, dberr.ErrorClosed
	}

	start := time.Now()
	if err := g.writer.lock(ctx, nonBlocking); err != nil {
		if errors.Is(err, dberr.ErrorWouldBlock) {
			metrics.WouldBlockTotal.Inc()
		}
		return nil, err
	}
	metrics.WriteLockWaitSeconds.Observe(time.Since(start).Seconds())

	if err := g.catchUp(); err != nil {
		g.writer.unlock()
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		g.writer.unlock()
		return nil, dberr.ErrorClosed
	}
	g.writing = true
	return newWriteTransaction(g, g.head), nil
}

func (g *Group) endWrite() {
	g.mu.Lock()
	g.writing = false
	g.mu.Unlock()
	g.writer.unlock()
}

// Write runs f in a write transaction, committed when f returns nil and
// cancelled otherwise.
func (g *Group) Write(ctx context.Context, f func(tx *WriteTransaction) error) error {
	tx, err := g.BeginWrite(ctx)
	if err != nil {
		return err
	}
	if err := f(tx); err != nil {
		tx.Cancel()
		return err
	}
	return tx.Commit()
}

func (g *Group) Read(f func(tx *ReadTransaction) error) error {
	tx, err := g.BeginRead()
	if err != nil {
		return err
	}
	defer tx.End()
	return f(tx)
}

// Refresh reads the commits appended by other processes. It reports whether
// the head moved.
func (g *Group) Refresh() (bool, error) {
	g.fileMu.Lock()
	defer g.fileMu.Unlock()

	if g.isClosed() {
		return false, dberr.ErrorClosed
	}
	before := g.current().number
	if err := g.readNew(); err != nil {
		return false, err
	}
	return g.current().number != before, nil
}

// Head returns the latest committed version of a table, nil when it does not
// exist.
func (g *Group) Head(tableName string) (*table.Data, uint64, error) {
	if err := g.sync(); err != nil {
		return nil, 0, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil, 0, dberr.ErrorClosed
	}
	return g.head.tables[tableName], g.head.number, nil
}

// Subscribe calls f from the run loop after every commit newer than the
// returned version that changed the table.
func (g *Group) Subscribe(tableName string, f func(d *table.Data, version uint64, changes *table.ChangeSet)) (*table.Data, uint64, func(), error) {
	if err := g.sync(); err != nil {
		return nil, 0, nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil, 0, nil, dberr.ErrorClosed
	}
	cancel := g.notifier.subscribe(tableName, g.head.number, f)
	return g.head.tables[tableName], g.head.number, cancel, nil
}

// Objects returns live results of q over a table.
func (g *Group) Objects(tableName string, q *query.Query, sort ...query.SortKey) *query.LiveResults {
	return query.Live(g, tableName, q, sort...)
}

// Compact rewrites the file as a single snapshot of the latest version. No
// other process may have the file open. Another handle of this process on the
// same file makes it fail with ErrorWouldBlock.
func (g *Group) Compact(ctx context.Context) error {

	if g.isClosed() {
		return dberr.ErrorClosed
	}
	if g.writer.shared() {
		return fmt.Errorf("%w: '%s' is open by another handle, close it before compacting", dberr.ErrorWouldBlock, g.filename)
	}
	if err := g.writer.lock(ctx, g.options.NonBlocking); err != nil {
		return err
	}
	defer g.writer.unlock()

	if err := g.catchUp(); err != nil {
		return err
	}

	v := g.current()
	s := &storage.Snapshot{
		Version:       v.number,
		SchemaVersion: v.schemaVersion,
		Timestamp:     time.Now().UnixNano(),
		Tables:        make([]storage.TableSnapshot, 0, len(v.tables)),
	}
	for _, name := range v.names() {
		t, err := storage.SnapshotTable(v.tables[name])
		if err != nil {
			return fmt.Errorf("compact: %w", err)
		}
		s.Tables = append(s.Tables, t)
	}

	g.fileMu.Lock()
	defer g.fileMu.Unlock()
	before := g.file.Size()
	after, err := g.file.Compact(s)
	if err != nil {
		return err
	}

	metrics.CompactionsTotal.Inc()
	g.log.WithFields(log.Fields{
		"version": v.number,
		"before":  humanize.Bytes(uint64(before)),
		"after":   humanize.Bytes(uint64(after)),
	}).Info("compacted")
	return nil
}

// Close stops the notifications and releases the file. Transactions still
// open fail from now on. It is idempotent.
func (g *Group) Close() error {

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	g.mu.Unlock()

	if g.watcher != nil {
		g.watcher.close()
	}
	g.writer.detach(g)
	close(g.followDone)
	g.notifier.stop()

	g.fileMu.Lock()
	err := g.file.Close()
	g.fileMu.Unlock()

	g.writer.release()
	metrics.OpenGroups.Dec()
	g.log.Info("group closed")

	if err != nil {
		return fmt.Errorf("%w: close '%s': %s", dberr.ErrorIO, g.filename, err.Error())
	}
	return nil
}
