package group

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/fulldump/tightdb/dberr"
)

const lockPollInterval = 10 * time.Millisecond

// writerLock serializes write transactions on one file. It is shared by every
// Group handle of the process that opened the same file, and backed by an
// inter-process lock for files on the OS file system.
type writerLock struct {
	key  string
	sem  chan struct{}
	file fileLock // nil when the fs is not the OS one
	refs int      // guarded by writers

	// committed is the last version committed through any handle.
	committed atomic.Uint64

	mu      sync.Mutex
	handles map[*Group]struct{}
}

var writers = struct {
	sync.Mutex
	locks map[string]*writerLock
}{locks: map[string]*writerLock{}}

func lockKey(fs afero.Fs, name string) string {
	if _, ok := fs.(*afero.OsFs); ok {
		return name
	}
	return fmt.Sprintf("%p:%s", fs, name)
}

func acquireWriterLock(fs afero.Fs, name string) (*writerLock, error) {

	key := lockKey(fs, name)

	writers.Lock()
	defer writers.Unlock()

	w, ok := writers.locks[key]
	if !ok {
		w = &writerLock{key: key, sem: make(chan struct{}, 1), handles: map[*Group]struct{}{}}
		if _, isOs := fs.(*afero.OsFs); isOs {
			file, err := openFileLock(name + ".lock")
			if err != nil {
				return nil, errors.WithMessagef(dberr.ErrorFileAccess, "lock file for '%s': %s", name, err.Error())
			}
			w.file = file
		}
		writers.locks[key] = w
	}
	w.refs++
	return w, nil
}

func (w *writerLock) release() {
	writers.Lock()
	defer writers.Unlock()

	w.refs--
	if w.refs > 0 {
		return
	}
	delete(writers.locks, w.key)
	if w.file != nil {
		w.file.Close()
	}
}

// shared reports whether more than one handle of the process has the file
// open.
func (w *writerLock) shared() bool {
	writers.Lock()
	defer writers.Unlock()
	return w.refs > 1
}

func (w *writerLock) attach(g *Group) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handles[g] = struct{}{}
}

func (w *writerLock) detach(g *Group) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.handles, g)
}

// announce records a commit of from and wakes the other handles so they
// read it. Callers hold the writer lock, so versions only grow.
func (w *writerLock) announce(version uint64, from *Group) {
	w.committed.Store(version)

	w.mu.Lock()
	defer w.mu.Unlock()
	for h := range w.handles {
		if h == from {
			continue
		}
		select {
		case h.followed <- struct{}{}:
		default:
		}
	}
}

// lock takes the writer lock. With nonBlocking it fails with ErrorWouldBlock
// instead of waiting.
func (w *writerLock) lock(ctx context.Context, nonBlocking bool) error {

	if nonBlocking {
		select {
		case w.sem <- struct{}{}:
		default:
			return fmt.Errorf("%w: another write transaction is active", dberr.ErrorWouldBlock)
		}
	} else {
		select {
		case w.sem <- struct{}{}:
		case <-ctx.Done():
			return fmt.Errorf("wait for writer lock: %w", ctx.Err())
		}
	}

	if w.file == nil {
		return nil
	}

	for {
		ok, err := w.file.TryLock()
		if err != nil {
			<-w.sem
			return errors.WithMessagef(dberr.ErrorFileAccess, "lock '%s': %s", w.key, err.Error())
		}
		if ok {
			return nil
		}
		if nonBlocking {
			<-w.sem
			return fmt.Errorf("%w: another process is writing '%s'", dberr.ErrorWouldBlock, w.key)
		}
		select {
		case <-ctx.Done():
			<-w.sem
			return fmt.Errorf("wait for writer lock: %w", ctx.Err())
		case <-time.After(lockPollInterval):
		}
	}
}

func (w *writerLock) unlock() {
	if w.file != nil {
		w.file.Unlock()
	}
	<-w.sem
}

type fileLock interface {
	// TryLock takes the lock if it is free. It never waits.
	TryLock() (bool, error)
	Unlock() error
	Close() error
}
