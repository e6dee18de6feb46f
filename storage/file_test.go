package storage

import (
	"errors"
	"math"
	"os"
	"strings"
	"testing"
	"time"

	. "github.com/fulldump/biff"
	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/fulldump/tightdb/bridge"
	"github.com/fulldump/tightdb/dberr"
	"github.com/fulldump/tightdb/table"
)

type failingFile struct {
	afero.File
	fail         *bool
	failTruncate *bool
}

func (f *failingFile) Truncate(size int64) error {
	if *f.failTruncate {
		return errors.New("read-only file system")
	}
	return f.File.Truncate(size)
}

func (f *failingFile) WriteAt(p []byte, off int64) (int, error) {
	if *f.fail {
		// half a record reaches the disk
		f.File.WriteAt(p[:len(p)/2], off)
		return len(p) / 2, errors.New("disk full")
	}
	return f.File.WriteAt(p, off)
}

type failingFs struct {
	afero.Fs
	fail         bool
	failTruncate bool

	// failReopen rejects opening existing files without O_CREATE
	failReopen bool
}

func (fs *failingFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	if fs.failReopen && flag&os.O_CREATE == 0 {
		return nil, errors.New("too many open files")
	}
	f, err := fs.Fs.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	return &failingFile{File: f, fail: &fs.fail, failTruncate: &fs.failTruncate}, nil
}

func readAll(f *File) []*Record {
	records := []*Record{}
	err := f.ReadNew(func(r *Record) error {
		records = append(records, r)
		return nil
	})
	AssertNil(err)
	return records
}

func sampleCommit(version uint64) *Commit {
	s, _ := bridge.FromHostString("Ann")
	name, _ := EncodeCell(s)
	return &Commit{
		Version:       version,
		SchemaVersion: 1,
		UUID:          uuid.NewString(),
		Timestamp:     time.Now().UnixNano(),
		Ops: []OpRecord{
			{Kind: string(table.OpInsert), Table: "Person", Key: int64(version)},
			{Kind: string(table.OpSet), Table: "Person", Key: int64(version), Column: "name", Value: name},
		},
	}
}

func TestOpenCreatesHeader(t *testing.T) {

	fs := afero.NewMemMapFs()

	f, created, err := Open(fs, "group.tdb", false)
	AssertNil(err)
	AssertTrue(created)
	AssertEqual(f.Size(), int64(headerSize))
	AssertEqual(len(readAll(f)), 0)
	AssertNil(f.Close())

	f, created, err = Open(fs, "group.tdb", false)
	AssertNil(err)
	AssertFalse(created)
	f.Close()
}

func TestAppendAndReplay(t *testing.T) {

	Alternative("plain", func(a *A) {
		testAppendAndReplay(false)
	})

	Alternative("snappy", func(a *A) {
		testAppendAndReplay(true)
	})
}

func testAppendAndReplay(compress bool) {

	fs := afero.NewMemMapFs()
	f, _, err := Open(fs, "group.tdb", compress)
	AssertNil(err)

	for v := uint64(1); v <= 3; v++ {
		_, err := f.AppendCommit(sampleCommit(v))
		AssertNil(err)
	}
	f.Close()

	f, _, err = Open(fs, "group.tdb", compress)
	AssertNil(err)
	defer f.Close()

	records := readAll(f)
	AssertEqual(len(records), 3)
	for i, r := range records {
		AssertEqual(r.Kind, KindCommit)
		AssertEqual(r.Version, uint64(i+1))
		AssertEqual(r.Commit.Version, uint64(i+1))
		AssertEqual(len(r.Commit.Ops), 2)
	}

	op, err := DecodeOp(records[0].Commit.Ops[1])
	AssertNil(err)
	AssertEqual(op.Kind, table.OpSet)
	AssertEqual(bridge.ToHostString(op.Value.(bridge.StringData)), "Ann")

	// nothing new
	AssertEqual(len(readAll(f)), 0)
}

func TestTornTail(t *testing.T) {

	fs := afero.NewMemMapFs()
	f, _, _ := Open(fs, "group.tdb", false)
	f.AppendCommit(sampleCommit(1))
	f.AppendCommit(sampleCommit(2))
	full := f.Size()
	f.Close()

	raw, _ := fs.OpenFile("group.tdb", os.O_RDWR, 0666)
	AssertNil(raw.Truncate(full - 3))
	raw.Close()

	f, _, err := Open(fs, "group.tdb", false)
	AssertNil(err)
	defer f.Close()

	AssertEqual(len(readAll(f)), 1)

	dropped, err := f.Repair()
	AssertNil(err)
	AssertTrue(dropped > 0)

	_, err = f.AppendCommit(sampleCommit(2))
	AssertNil(err)

	again, _, _ := Open(fs, "group.tdb", false)
	defer again.Close()
	AssertEqual(len(readAll(again)), 2)
}

func TestCorruptRecordInTheMiddle(t *testing.T) {

	fs := afero.NewMemMapFs()
	f, _, _ := Open(fs, "group.tdb", false)
	f.AppendCommit(sampleCommit(1))
	f.AppendCommit(sampleCommit(2))
	f.Close()

	raw, _ := fs.OpenFile("group.tdb", os.O_RDWR, 0666)
	raw.WriteAt([]byte{'#'}, headerSize+recordHeaderSize+2)
	raw.Close()

	f, _, err := Open(fs, "group.tdb", false)
	AssertNil(err)
	defer f.Close()

	err = f.ReadNew(func(r *Record) error { return nil })
	AssertTrue(errors.Is(err, dberr.ErrorIncompatibleFileFormat))
}

func TestBrokenLengthInTheMiddle(t *testing.T) {

	fs := afero.NewMemMapFs()
	f, _, _ := Open(fs, "group.tdb", false)
	f.AppendCommit(sampleCommit(1))
	f.AppendCommit(sampleCommit(2))
	full := f.Size()
	f.Close()

	// the first record claims to be much longer than it is
	raw, _ := fs.OpenFile("group.tdb", os.O_RDWR, 0666)
	raw.WriteAt([]byte{0xff, 0xff}, headerSize+11)
	raw.Close()

	f, _, err := Open(fs, "group.tdb", false)
	AssertNil(err)
	defer f.Close()

	AssertEqual(len(readAll(f)), 0)

	_, err = f.Repair()
	AssertTrue(errors.Is(err, dberr.ErrorIncompatibleFileFormat))

	info, _ := fs.Stat("group.tdb")
	AssertEqual(info.Size(), full)
}

func TestZeroedTailIsTorn(t *testing.T) {

	fs := afero.NewMemMapFs()
	f, _, _ := Open(fs, "group.tdb", false)
	f.AppendCommit(sampleCommit(1))
	size := f.Size()
	f.Close()

	raw, _ := fs.OpenFile("group.tdb", os.O_RDWR, 0666)
	raw.WriteAt(make([]byte, 64), size)
	raw.Close()

	f, _, err := Open(fs, "group.tdb", false)
	AssertNil(err)
	defer f.Close()

	AssertEqual(len(readAll(f)), 1)
	dropped, err := f.Repair()
	AssertNil(err)
	AssertEqual(dropped, int64(64))
}

func TestBadMagic(t *testing.T) {

	fs := afero.NewMemMapFs()
	afero.WriteFile(fs, "other.bin", []byte("PK\x03\x04 definitely not a group"), 0666)

	_, _, err := Open(fs, "other.bin", false)
	AssertTrue(errors.Is(err, dberr.ErrorIncompatibleFileFormat))

	afero.WriteFile(fs, "short.bin", []byte("TD"), 0666)
	_, _, err = Open(fs, "short.bin", false)
	AssertTrue(errors.Is(err, dberr.ErrorIncompatibleFileFormat))
}

func TestAppendFailureLeavesNoPartialRecord(t *testing.T) {

	fs := &failingFs{Fs: afero.NewMemMapFs()}
	f, _, err := Open(fs, "group.tdb", false)
	AssertNil(err)
	defer f.Close()

	_, err = f.AppendCommit(sampleCommit(1))
	AssertNil(err)
	size := f.Size()

	fs.fail = true
	_, err = f.AppendCommit(sampleCommit(2))
	AssertTrue(errors.Is(err, dberr.ErrorIO))
	AssertEqual(f.Size(), size)

	info, _ := fs.Stat("group.tdb")
	AssertEqual(info.Size(), size)

	fs.fail = false
	reopened, _, _ := Open(fs, "group.tdb", false)
	defer reopened.Close()
	AssertEqual(len(readAll(reopened)), 1)
}

func TestAppendReportsFailedTruncate(t *testing.T) {

	fs := &failingFs{Fs: afero.NewMemMapFs()}
	f, _, err := Open(fs, "group.tdb", false)
	AssertNil(err)
	defer f.Close()

	fs.fail = true
	fs.failTruncate = true
	_, err = f.AppendCommit(sampleCommit(1))
	AssertTrue(errors.Is(err, dberr.ErrorIO))
	AssertTrue(strings.Contains(err.Error(), "partial record left"))
	AssertEqual(f.Size(), int64(headerSize))
}

func TestCompact(t *testing.T) {

	fs := afero.NewMemMapFs()
	f, _, _ := Open(fs, "group.tdb", true)
	defer f.Close()
	for v := uint64(1); v <= 5; v++ {
		f.AppendCommit(sampleCommit(v))
	}

	d, err := table.NewData("Person", table.Schema{{Name: "name", Type: table.TypeString}})
	AssertNil(err)
	s, _ := bridge.FromHostString("Ann")
	AssertNil(d.Restore(7, []any{s}))
	d.SetNextKey(10)

	ts, err := SnapshotTable(d)
	AssertNil(err)

	_, err = f.Compact(&Snapshot{Version: 5, SchemaVersion: 1, Tables: []TableSnapshot{ts}})
	AssertNil(err)

	exists, _ := afero.Exists(fs, "group.tdb.compact")
	AssertFalse(exists)

	reopened, _, err := Open(fs, "group.tdb", true)
	AssertNil(err)
	defer reopened.Close()

	records := readAll(reopened)
	AssertEqual(len(records), 1)
	AssertEqual(records[0].Kind, KindSnapshot)
	AssertEqual(records[0].Version, uint64(5))

	restored, err := RestoreTable(records[0].Snapshot.Tables[0])
	AssertNil(err)
	AssertEqual(restored.Len(), 1)
	AssertEqual(restored.NextKey(), table.Key(10))
	v, _ := restored.Value(7, 0)
	AssertEqual(v, "Ann")

	// the handle keeps working after the rename
	_, err = f.AppendCommit(sampleCommit(6))
	AssertNil(err)
}

func TestCompactReopenFailureClosesTheHandle(t *testing.T) {

	fs := &failingFs{Fs: afero.NewMemMapFs()}
	f, _, err := Open(fs, "group.tdb", false)
	AssertNil(err)
	defer f.Close()
	f.AppendCommit(sampleCommit(1))

	fs.failReopen = true
	_, err = f.Compact(&Snapshot{Version: 1, SchemaVersion: 1})
	AssertTrue(errors.Is(err, dberr.ErrorIO))

	_, err = f.AppendCommit(sampleCommit(2))
	AssertTrue(errors.Is(err, dberr.ErrorClosed))
	err = f.ReadNew(func(r *Record) error { return nil })
	AssertTrue(errors.Is(err, dberr.ErrorClosed))
	AssertNil(f.Close())
}

func TestCellRoundTrip(t *testing.T) {

	s, _ := bridge.FromHostString("ñ")
	id := uuid.New()
	when := time.Date(1500, 1, 2, 3, 4, 5, 6, time.UTC)

	values := []any{
		nil,
		int64(-42),
		true,
		float32(2.5),
		math.Inf(-1),
		s,
		bridge.FromHostBytes([]byte{}),
		when,
		bridge.UUIDFromHost(id),
		map[string]any{"list": []any{"x", int64(1), 2.5, nil}, "id": id, "raw": []byte("r")},
	}

	for _, v := range values {
		c, err := EncodeCell(v)
		AssertNil(err)
		decoded, err := DecodeCell(c)
		AssertNil(err)
		AssertEqual(decoded, v)
	}

	c, _ := EncodeCell(math.NaN())
	decoded, _ := DecodeCell(c)
	AssertTrue(math.IsNaN(decoded.(float64)))

	_, err := EncodeCell(struct{}{})
	AssertTrue(errors.Is(err, dberr.ErrorEncoding))

	_, err = DecodeCell(&Cell{Kind: "weird"})
	AssertTrue(errors.Is(err, dberr.ErrorIncompatibleFileFormat))
}
