package database

import (
	"context"
	"errors"
	"testing"

	. "github.com/fulldump/biff"
	"github.com/spf13/afero"

	"github.com/fulldump/tightdb/dberr"
	"github.com/fulldump/tightdb/group"
	"github.com/fulldump/tightdb/table"
)

func TestDatabase(t *testing.T) {

	fs := afero.NewMemMapFs()
	config := &Config{Dir: "/data", Fs: fs}

	db := NewDatabase(config)
	AssertEqual(db.GetStatus(), StatusOpening)
	AssertNil(db.Load())
	AssertEqual(db.GetStatus(), StatusOperating)
	AssertEqual(db.ListGroups(), []string{})

	g, err := db.CreateGroup("people", 3)
	AssertNil(err)
	AssertEqual(g.SchemaVersion(), uint64(3))

	err = g.Write(context.Background(), func(tx *group.WriteTransaction) error {
		_, err := tx.CreateTable("Person", table.Schema{{Name: "name", Type: table.TypeString}})
		return err
	})
	AssertNil(err)

	_, err = db.CreateGroup("people", 3)
	AssertTrue(errors.Is(err, ErrorGroupExists))

	_, err = db.CreateGroup("../escape", 1)
	AssertTrue(errors.Is(err, dberr.ErrorFileAccess))

	_, err = db.CreateGroup("pets", 1)
	AssertNil(err)
	AssertEqual(db.ListGroups(), []string{"people", "pets"})

	AssertNil(afero.WriteFile(fs, "/data/notes.txt", []byte("ignored"), 0644))

	AssertNil(db.Stop())
	AssertEqual(db.GetStatus(), StatusClosing)

	reloaded := NewDatabase(&Config{Dir: "/data", Fs: fs})
	AssertNil(reloaded.Load())
	AssertEqual(reloaded.ListGroups(), []string{"people", "pets"})

	people, err := reloaded.GetGroup("people")
	AssertNil(err)
	AssertEqual(people.SchemaVersion(), uint64(3))
	AssertEqual(people.TableNames(), []string{"Person"})

	AssertNil(reloaded.DropGroup("pets"))
	AssertEqual(reloaded.ListGroups(), []string{"people"})
	exists, err := afero.Exists(fs, "/data/pets.tdb")
	AssertNil(err)
	AssertFalse(exists)

	err = reloaded.DropGroup("pets")
	AssertTrue(errors.Is(err, ErrorGroupNotFound))
	_, err = reloaded.GetGroup("pets")
	AssertTrue(errors.Is(err, ErrorGroupNotFound))

	AssertNil(reloaded.Stop())
}

func TestLoadFailsOnBrokenFile(t *testing.T) {

	fs := afero.NewMemMapFs()
	AssertNil(afero.WriteFile(fs, "/data/broken.tdb", []byte("definitely not a group file"), 0644))

	db := NewDatabase(&Config{Dir: "/data", Fs: fs})
	err := db.Load()
	AssertNotNil(err)
	AssertEqual(db.GetStatus(), StatusClosing)
}
