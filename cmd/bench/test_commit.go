package main

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/fulldump/tightdb/group"
	"github.com/fulldump/tightdb/table"
)

// TestCommit measures commits against a group file in process. Workers
// contend for the single writer.
func TestCommit(c Config) {

	dir, cleanup := TempDir()
	cleanups = append(cleanups, cleanup)

	g, err := group.Open(filepath.Join(dir, "bench.tdb"), &group.Options{
		SchemaVersion: 1,
		Tables: map[string]table.Schema{
			"Item": {
				{Name: "id", Type: table.TypeInt, Indexed: true},
				{Name: "n", Type: table.TypeString},
			},
		},
	})
	if err != nil {
		log.WithError(err).Fatal("open group")
	}
	defer g.Close()

	items := c.N
	commits := int64(0)

	t0 := time.Now()
	Parallel(c.Workers, func() {
		for atomic.LoadInt64(&items) > 0 {
			err := g.Write(context.Background(), func(tx *group.WriteTransaction) error {
				t, err := tx.Table("Item")
				if err != nil {
					return err
				}
				for i := 0; i < c.Batch; i++ {
					n := atomic.AddInt64(&items, -1)
					if n < 0 {
						break
					}
					if _, err := t.InsertRowWith(map[string]any{"id": n, "n": "item"}); err != nil {
						return err
					}
				}
				return nil
			})
			if err != nil {
				log.WithError(err).Fatal("commit")
			}
			atomic.AddInt64(&commits, 1)
		}
	})

	took := time.Since(t0)
	report("commit", c.N, took)
	log.WithField("commits", commits).WithField("version", g.Version()).Info("commit bench done")
}
