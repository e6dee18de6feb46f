package group

import (
	"errors"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"

	"github.com/fulldump/tightdb/dberr"
)

// watcher refreshes a group when its file is written by another process.
type watcher struct {
	w    *fsnotify.Watcher
	done chan struct{}
}

func watch(g *Group) (*watcher, error) {

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// the directory, so the watch survives the file being replaced
	if err := w.Add(filepath.Dir(g.filename)); err != nil {
		_ = w.Close()
		return nil, err
	}

	result := &watcher{w: w, done: make(chan struct{})}

	go func() {
		for {
			select {
			case <-result.done:
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if event.Name != g.filename || !(event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
					continue
				}
				changed, err := g.Refresh()
				if errors.Is(err, dberr.ErrorClosed) {
					return
				}
				if err != nil {
					g.log.WithError(err).Warn("refresh after external change")
					continue
				}
				if changed {
					g.log.WithField("version", g.Version()).Debug("refreshed")
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				g.log.WithFields(log.Fields{"error": err}).Warn("watching group file")
			}
		}
	}()

	return result, nil
}

func (w *watcher) close() {
	close(w.done)
	_ = w.w.Close()
}
