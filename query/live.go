package query

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/fulldump/tightdb/dberr"
	"github.com/fulldump/tightdb/table"
)

// Source publishes committed versions of tables. It is implemented by
// group.Group.
type Source interface {
	// Head returns the latest committed version of a table. d is nil when
	// the table does not exist.
	Head(table string) (d *table.Data, version uint64, err error)
	// Subscribe calls f after every commit that changed the table, in
	// commit order, from a single goroutine. It returns the version the
	// subscription starts from. d is nil when the table was removed.
	Subscribe(table string, f func(d *table.Data, version uint64, changes *table.ChangeSet)) (d *table.Data, version uint64, cancel func(), err error)
}

// Change lists row positions affected by one notification. Deleted
// positions refer to the previous delivery, Inserted and Modified to the
// new one.
type Change struct {
	Version  uint64
	Inserted []int
	Deleted  []int
	Modified []int

	// Results are the results at Version, the ones Inserted and Modified
	// refer to.
	Results *Results
}

func (c Change) Empty() bool {
	return len(c.Inserted) == 0 && len(c.Deleted) == 0 && len(c.Modified) == 0
}

// LiveResults is re-evaluated against the latest committed version on every
// access.
type LiveResults struct {
	source Source
	table  string
	query  *Query
	sort   []SortKey

	mu      sync.Mutex
	cached  *Results
	version uint64
}

func Live(source Source, tableName string, q *Query, sort ...SortKey) *LiveResults {
	if q == nil {
		q = All()
	}
	return &LiveResults{
		source: source,
		table:  tableName,
		query:  q,
		sort:   append([]SortKey(nil), sort...),
	}
}

func (l *LiveResults) evaluate(d *table.Data) (*Results, error) {
	if d == nil {
		return &Results{table: l.table, keys: []table.Key{}}, nil
	}
	r, err := evaluate(d, l.query)
	if err != nil {
		return nil, err
	}
	if len(l.sort) > 0 {
		return r.Sort(l.sort...)
	}
	return r, nil
}

// Snapshot evaluates the query against the current version. Indices of the
// returned Results are stable, the ones of LiveResults are only valid until
// the next commit.
func (l *LiveResults) Snapshot() (*Results, error) {
	d, version, err := l.source.Head(l.table)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, fmt.Errorf("%w: '%s'", dberr.ErrorTableNotFound, l.table)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cached != nil && l.version == version {
		return l.cached, nil
	}
	r, err := l.evaluate(d)
	if err != nil {
		return nil, err
	}
	l.cached, l.version = r, version
	return r, nil
}

func (l *LiveResults) Len() (int, error) {
	r, err := l.Snapshot()
	if err != nil {
		return 0, err
	}
	return r.Len(), nil
}

func (l *LiveResults) Get(i int) (table.Row, error) {
	r, err := l.Snapshot()
	if err != nil {
		return table.Row{}, err
	}
	return r.Get(i)
}

func (l *LiveResults) Keys() ([]table.Key, error) {
	r, err := l.Snapshot()
	if err != nil {
		return nil, err
	}
	return r.Keys(), nil
}

// Subscription is returned by Observe.
type Subscription struct {
	invalidated atomic.Bool
	once        sync.Once
	cancel      func()
}

// Invalidate stops the notifications. It is effective immediately: no
// callback starts after it returns. A callback already running completes.
func (s *Subscription) Invalidate() {
	s.invalidated.Store(true)
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}

func (s *Subscription) Valid() bool {
	return !s.invalidated.Load()
}

// Observe calls f after every commit that changes the results. Positions are
// computed against the previous delivery (or the subscription start for the
// first one). Commits that do not affect the results are not delivered.
func (l *LiveResults) Observe(f func(Change)) (*Subscription, error) {

	s := &Subscription{}

	// mu holds deliveries until the baseline is known
	var mu sync.Mutex
	var previous []table.Key

	handle := func(d *table.Data, version uint64, changes *table.ChangeSet) {
		mu.Lock()
		defer mu.Unlock()
		if !s.Valid() {
			return
		}
		current, err := l.evaluate(d)
		if err != nil {
			// the schema of the table changed under the query
			current = &Results{table: l.table, keys: []table.Key{}}
		}
		change := diff(previous, current.keys, changes)
		change.Version = version
		change.Results = current
		previous = current.keys
		if change.Empty() || !s.Valid() {
			return
		}
		f(change)
	}

	mu.Lock()
	defer mu.Unlock()

	d, _, cancel, err := l.source.Subscribe(l.table, handle)
	if err != nil {
		return nil, err
	}
	s.cancel = cancel

	initial, err := l.evaluate(d)
	if err != nil {
		s.Invalidate()
		return nil, err
	}
	previous = initial.keys

	return s, nil
}

func diff(previous, current []table.Key, changes *table.ChangeSet) Change {

	change := Change{Inserted: []int{}, Deleted: []int{}, Modified: []int{}}

	before := make(map[table.Key]struct{}, len(previous))
	for _, key := range previous {
		before[key] = struct{}{}
	}
	after := make(map[table.Key]struct{}, len(current))
	for _, key := range current {
		after[key] = struct{}{}
	}

	for i, key := range previous {
		if _, ok := after[key]; !ok {
			change.Deleted = append(change.Deleted, i)
		}
	}
	for i, key := range current {
		if _, ok := before[key]; !ok {
			change.Inserted = append(change.Inserted, i)
			continue
		}
		if changes != nil && changes.IsModified(key) {
			change.Modified = append(change.Modified, i)
		}
	}

	return change
}
