package database

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/fulldump/tightdb/dberr"
	"github.com/fulldump/tightdb/group"
	"github.com/fulldump/tightdb/utils"
)

const (
	StatusOpening   = "opening"
	StatusOperating = "operating"
	StatusClosing   = "closing"
)

// Extension of the group files a database directory holds.
const Extension = ".tdb"

var (
	ErrorGroupExists   = errors.New("group already exists")
	ErrorGroupNotFound = errors.New("group not found")
)

type Config struct {
	Dir string

	NonBlocking   bool
	Compression   bool
	WatchExternal bool

	// Fs defaults to the OS file system.
	Fs afero.Fs
}

// Database is a directory of group files, each one opened in dynamic mode
// so files written by any application can be browsed.
type Database struct {
	config *Config
	log    log.FieldLogger

	mu     sync.RWMutex
	status string
	groups map[string]*group.Group

	exit     chan struct{}
	exitOnce sync.Once
}

func NewDatabase(config *Config) *Database {
	if config.Fs == nil {
		config.Fs = afero.NewOsFs()
	}
	return &Database{
		config: config,
		log:    log.WithField("dir", config.Dir),
		status: StatusOpening,
		groups: map[string]*group.Group{},
		exit:   make(chan struct{}),
	}
}

func (db *Database) GetStatus() string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.status
}

func (db *Database) setStatus(status string) {
	db.mu.Lock()
	db.status = status
	db.mu.Unlock()
}

func (db *Database) filename(name string) string {
	return filepath.Join(db.config.Dir, name+Extension)
}

func validName(name string) error {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("%w: invalid group name '%s'", dberr.ErrorFileAccess, name)
	}
	return nil
}

func (db *Database) open(name string, schemaVersion uint64) (*group.Group, error) {
	return group.Open(db.filename(name), &group.Options{
		SchemaVersion: schemaVersion,
		Dynamic:       true,
		NonBlocking:   db.config.NonBlocking,
		Compression:   db.config.Compression,
		WatchExternal: db.config.WatchExternal,
		Fs:            db.config.Fs,
		Logger:        db.log.WithField("group", name),
	})
}

// CreateGroup creates a new, empty group file.
func (db *Database) CreateGroup(name string, schemaVersion uint64) (*group.Group, error) {

	if err := validName(name); err != nil {
		return nil, err
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if _, exists := db.groups[name]; exists {
		return nil, fmt.Errorf("%w: '%s'", ErrorGroupExists, name)
	}
	if _, err := db.config.Fs.Stat(db.filename(name)); err == nil {
		return nil, fmt.Errorf("%w: '%s' is on disk", ErrorGroupExists, name)
	}

	g, err := db.open(name, schemaVersion)
	if err != nil {
		return nil, err
	}
	db.groups[name] = g

	return g, nil
}

func (db *Database) GetGroup(name string) (*group.Group, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	g, exists := db.groups[name]
	if !exists {
		return nil, fmt.Errorf("%w: '%s'", ErrorGroupNotFound, name)
	}
	return g, nil
}

// ListGroups returns the open groups sorted by name.
func (db *Database) ListGroups() []string {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return utils.GetKeys(db.groups)
}

// DropGroup closes the group and removes its file.
func (db *Database) DropGroup(name string) error {

	db.mu.Lock()
	g, exists := db.groups[name]
	if exists {
		delete(db.groups, name)
	}
	db.mu.Unlock()

	if !exists {
		return fmt.Errorf("%w: '%s'", ErrorGroupNotFound, name)
	}

	if err := g.Close(); err != nil {
		return err
	}
	if err := db.config.Fs.Remove(db.filename(name)); err != nil {
		return fmt.Errorf("%w: remove '%s': %s", dberr.ErrorIO, name, err.Error())
	}
	// the lock file only exists on the OS file system
	_ = db.config.Fs.Remove(db.filename(name) + ".lock")

	db.log.WithField("group", name).Info("group dropped")
	return nil
}

// Load opens every group file in the directory, in parallel.
func (db *Database) Load() error {

	db.log.Info("loading database")
	t0 := time.Now()

	err := db.load()
	if err != nil {
		db.log.WithError(err).Error("load database")
		db.setStatus(StatusClosing)
		return err
	}

	db.setStatus(StatusOperating)
	db.log.WithFields(log.Fields{
		"groups":  len(db.ListGroups()),
		"elapsed": time.Since(t0).String(),
	}).Info("database loaded")

	return nil
}

func (db *Database) load() error {

	err := db.config.Fs.MkdirAll(db.config.Dir, 0755)
	if err != nil {
		return fmt.Errorf("%w: create '%s': %s", dberr.ErrorFileAccess, db.config.Dir, err.Error())
	}

	entries, err := afero.ReadDir(db.config.Fs, db.config.Dir)
	if err != nil {
		return fmt.Errorf("%w: read '%s': %s", dberr.ErrorFileAccess, db.config.Dir, err.Error())
	}

	eg := errgroup.Group{}
	eg.SetLimit(8)
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != Extension {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), Extension)
		eg.Go(func() error {
			g, err := db.open(name, 0)
			if err != nil {
				return fmt.Errorf("open group '%s': %w", name, err)
			}
			db.mu.Lock()
			db.groups[name] = g
			db.mu.Unlock()
			return nil
		})
	}

	return eg.Wait()
}

func (db *Database) Start() error {

	go db.Load()

	<-db.exit

	return nil
}

func (db *Database) Stop() error {

	defer db.exitOnce.Do(func() { close(db.exit) })

	db.setStatus(StatusClosing)

	db.mu.Lock()
	groups := db.groups
	db.groups = map[string]*group.Group{}
	db.mu.Unlock()

	var lastErr error
	for name, g := range groups {
		db.log.WithField("group", name).Info("closing group")
		err := g.Close()
		if err != nil {
			db.log.WithField("group", name).WithError(err).Error("close group")
			lastErr = err
		}
	}

	return lastErr
}
