package group

import (
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/fulldump/tightdb/metrics"
	"github.com/fulldump/tightdb/table"
)

type delivery struct {
	head    *version
	changes map[string]*table.ChangeSet
}

type subscriber struct {
	id       int
	table    string
	baseline uint64
	f        func(d *table.Data, version uint64, changes *table.ChangeSet)
}

// notifier is the run loop of a group: one goroutine delivering commits to
// subscribers in commit order. The queue is unbounded so a commit never
// waits for a slow subscriber.
type notifier struct {
	log log.FieldLogger

	mu     sync.Mutex
	queue  []delivery
	subs   map[int]*subscriber
	nextID int

	wake chan struct{}
	done chan struct{}
	once sync.Once
}

func newNotifier(logger log.FieldLogger) *notifier {
	n := &notifier{
		log:  logger,
		subs: map[int]*subscriber{},
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go n.run()
	return n
}

func (n *notifier) publish(d delivery) {
	n.mu.Lock()
	n.queue = append(n.queue, d)
	metrics.NotificationQueueLength.Inc()
	n.mu.Unlock()

	select {
	case n.wake <- struct{}{}:
	default:
	}
}

// subscribe registers f for commits newer than baseline. The returned cancel
// function is effective immediately.
func (n *notifier) subscribe(tableName string, baseline uint64, f func(d *table.Data, version uint64, changes *table.ChangeSet)) func() {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.nextID++
	id := n.nextID
	n.subs[id] = &subscriber{id: id, table: tableName, baseline: baseline, f: f}

	return func() {
		n.mu.Lock()
		delete(n.subs, id)
		n.mu.Unlock()
	}
}

func (n *notifier) stop() {
	n.once.Do(func() {
		close(n.done)
	})
}

func (n *notifier) run() {
	for {
		select {
		case <-n.done:
			return
		case <-n.wake:
		}

		for {
			n.mu.Lock()
			if len(n.queue) == 0 {
				n.mu.Unlock()
				break
			}
			d := n.queue[0]
			n.queue[0] = delivery{}
			n.queue = n.queue[1:]
			metrics.NotificationQueueLength.Dec()
			ids := make([]int, 0, len(n.subs))
			for id := range n.subs {
				ids = append(ids, id)
			}
			n.mu.Unlock()

			sort.Ints(ids)
			for _, id := range ids {
				select {
				case <-n.done:
					return
				default:
				}
				n.deliver(id, d)
			}
		}
	}
}

func (n *notifier) deliver(id int, d delivery) {

	n.mu.Lock()
	s, ok := n.subs[id]
	n.mu.Unlock()
	if !ok {
		return
	}

	if d.head.number <= s.baseline {
		return
	}
	cs, changed := d.changes[s.table]
	if !changed || cs.Empty() {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			n.log.WithFields(log.Fields{
				"table":   s.table,
				"version": d.head.number,
				"panic":   r,
			}).Error("notification callback panicked")
		}
	}()

	s.f(d.head.tables[s.table], d.head.number, cs)
	metrics.NotificationsTotal.Inc()
}
