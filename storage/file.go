// Package storage persists a group as one append-only file of framed
// records.
//
//	header: "TDBG" | format version (uint16 LE)
//	record: kind (1) | version (8) | length (4) | crc32c payload (4) | crc32c header (4) | payload
//
// The header checksum covers the first 17 bytes of the record. The payload
// is JSON, snappy compressed when the high bit of kind is set.
package storage

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	json "github.com/go-json-experiment/json"
	"github.com/golang/snappy"
	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/fulldump/tightdb/dberr"
)

const (
	Magic         = "TDBG"
	FormatVersion = uint16(1)

	headerSize       = 6
	recordHeaderSize = 21
	headerCRCOffset  = 17
	maxPayload       = 1 << 30
)

type Kind uint8

const (
	KindCommit   Kind = 1
	KindSnapshot Kind = 2

	flagCompressed Kind = 0x80
)

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// Record is one decoded record. Exactly one of Commit and Snapshot is set.
type Record struct {
	Kind     Kind
	Version  uint64
	Offset   int64
	Size     int64
	Commit   *Commit
	Snapshot *Snapshot
}

type File struct {
	fs       afero.Fs
	name     string
	file     afero.File
	size     int64 // end of the last valid record
	compress bool
}

// Open opens or creates a group file. created reports a new, empty file.
func Open(fs afero.Fs, name string, compress bool) (f *File, created bool, err error) {

	file, err := fs.OpenFile(name, os.O_RDWR|os.O_CREATE, 0666)
	if err != nil {
		return nil, false, errors.WithMessagef(dberr.ErrorFileAccess, "open '%s': %s", name, err.Error())
	}
	defer func() {
		if err != nil {
			file.Close()
		}
	}()

	info, err := file.Stat()
	if err != nil {
		return nil, false, errors.WithMessagef(dberr.ErrorFileAccess, "stat '%s': %s", name, err.Error())
	}

	if info.Size() == 0 {
		header := make([]byte, headerSize)
		copy(header, Magic)
		binary.LittleEndian.PutUint16(header[4:], FormatVersion)
		if _, err := file.WriteAt(header, 0); err != nil {
			return nil, false, errors.WithMessagef(dberr.ErrorFileAccess, "write header '%s': %s", name, err.Error())
		}
		if err := file.Sync(); err != nil {
			return nil, false, errors.WithMessagef(dberr.ErrorFileAccess, "sync header '%s': %s", name, err.Error())
		}
		created = true
	} else if err := checkHeader(file, info.Size()); err != nil {
		return nil, false, errors.WithMessage(err, name)
	}

	return &File{
		fs:       fs,
		name:     name,
		file:     file,
		size:     headerSize,
		compress: compress,
	}, created, nil
}

func checkHeader(file afero.File, size int64) error {
	if size < headerSize {
		return fmt.Errorf("%w: truncated header", dberr.ErrorIncompatibleFileFormat)
	}
	header := make([]byte, headerSize)
	if _, err := file.ReadAt(header, 0); err != nil {
		return errors.WithMessagef(dberr.ErrorFileAccess, "read header: %s", err.Error())
	}
	if string(header[:4]) != Magic {
		return fmt.Errorf("%w: bad magic %q", dberr.ErrorIncompatibleFileFormat, header[:4])
	}
	if v := binary.LittleEndian.Uint16(header[4:]); v != FormatVersion {
		return fmt.Errorf("%w: unsupported format version %d", dberr.ErrorIncompatibleFileFormat, v)
	}
	return nil
}

func (f *File) Name() string { return f.name }

// Size is the end offset of the last valid record read or written.
func (f *File) Size() int64 { return f.size }

// ReadNew decodes every complete record after the last one seen and calls fn
// in file order. A torn record at the end of the file (crash or a commit in
// progress in another process) stops the read without error, Repair drops
// it. A broken record followed by more data is a corrupt file.
func (f *File) ReadNew(fn func(r *Record) error) error {

	if err := f.opened(); err != nil {
		return err
	}
	info, err := f.file.Stat()
	if err != nil {
		return errors.WithMessagef(dberr.ErrorIO, "stat '%s': %s", f.name, err.Error())
	}
	end := info.Size()
	if end < f.size {
		return fmt.Errorf("%w: file '%s' shrank from %d to %d bytes", dberr.ErrorIncompatibleFileFormat, f.name, f.size, end)
	}

	reader := bufio.NewReaderSize(io.NewSectionReader(f.file, f.size, end-f.size), 1024*1024)
	header := make([]byte, recordHeaderSize)
	offset := f.size

	for offset < end {

		if _, err := io.ReadFull(reader, header); err != nil {
			// short header: torn tail
			return nil
		}
		if !validHeader(header) {
			// a commit in progress or a broken file, Repair tells them apart
			return nil
		}

		kind := Kind(header[0])
		version := binary.LittleEndian.Uint64(header[1:9])
		length := int64(binary.LittleEndian.Uint32(header[9:13]))
		expectedCRC := binary.LittleEndian.Uint32(header[13:17])

		recordEnd := offset + recordHeaderSize + length
		if length > maxPayload || recordEnd > end {
			// the record claims more bytes than the file holds
			return nil
		}

		payload := make([]byte, length)
		if _, err := io.ReadFull(reader, payload); err != nil {
			return nil
		}

		if crc32.Checksum(payload, crcTable) != expectedCRC {
			if recordEnd == end {
				return nil
			}
			return fmt.Errorf("%w: checksum mismatch in record at offset %d of '%s'", dberr.ErrorIncompatibleFileFormat, offset, f.name)
		}

		r, err := decodeRecord(kind, payload)
		if err != nil {
			return errors.WithMessagef(err, "record at offset %d of '%s'", offset, f.name)
		}
		r.Version = version
		r.Offset = offset
		r.Size = recordEnd - offset

		if err := fn(r); err != nil {
			return err
		}
		offset = recordEnd
		f.size = offset
	}

	return nil
}

// Repair truncates whatever follows the last valid record. Callers must hold
// the writer lock.
func (f *File) Repair() (int64, error) {
	if err := f.opened(); err != nil {
		return 0, err
	}
	info, err := f.file.Stat()
	if err != nil {
		return 0, errors.WithMessagef(dberr.ErrorIO, "stat '%s': %s", f.name, err.Error())
	}
	dropped := info.Size() - f.size
	if dropped <= 0 {
		return 0, nil
	}
	if dropped >= recordHeaderSize {
		header := make([]byte, recordHeaderSize)
		if n, err := f.file.ReadAt(header, f.size); n < recordHeaderSize {
			return 0, errors.WithMessagef(dberr.ErrorIO, "read '%s': %v", f.name, err)
		}
		// headers are written in one piece, a crash leaves zeros at most
		if !validHeader(header) && !zeros(header) {
			return 0, fmt.Errorf("%w: broken record header at offset %d of '%s'", dberr.ErrorIncompatibleFileFormat, f.size, f.name)
		}
	}
	if err := f.file.Truncate(f.size); err != nil {
		return 0, errors.WithMessagef(dberr.ErrorIO, "truncate '%s': %s", f.name, err.Error())
	}
	return dropped, nil
}

// AppendCommit writes one commit record with a single write and syncs it.
// On failure the file is truncated back so no partial record survives.
func (f *File) AppendCommit(c *Commit) (int64, error) {

	if err := f.opened(); err != nil {
		return 0, err
	}
	buf, err := encodeRecord(KindCommit, c.Version, c, f.compress)
	if err != nil {
		return 0, err
	}

	offset := f.size
	_, err = f.file.WriteAt(buf, offset)
	if err == nil {
		err = f.file.Sync()
	}
	if err != nil {
		if truncErr := f.file.Truncate(offset); truncErr != nil {
			return 0, errors.WithMessagef(dberr.ErrorIO, "append commit %d to '%s': %s, partial record left: %s", c.Version, f.name, err.Error(), truncErr.Error())
		}
		return 0, errors.WithMessagef(dberr.ErrorIO, "append commit %d to '%s': %s", c.Version, f.name, err.Error())
	}

	f.size = offset + int64(len(buf))
	return int64(len(buf)), nil
}

// Compact replaces the file by a new one holding a single snapshot record.
// No other process may have the file open.
func (f *File) Compact(s *Snapshot) (int64, error) {

	if err := f.opened(); err != nil {
		return 0, err
	}
	buf, err := encodeRecord(KindSnapshot, s.Version, s, f.compress)
	if err != nil {
		return 0, err
	}

	tmpName := f.name + ".compact"
	tmp, err := f.fs.OpenFile(tmpName, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0666)
	if err != nil {
		return 0, errors.WithMessagef(dberr.ErrorIO, "create '%s': %s", tmpName, err.Error())
	}

	header := make([]byte, headerSize)
	copy(header, Magic)
	binary.LittleEndian.PutUint16(header[4:], FormatVersion)

	_, err = tmp.Write(append(header, buf...))
	if err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		f.fs.Remove(tmpName)
		return 0, errors.WithMessagef(dberr.ErrorIO, "write '%s': %s", tmpName, err.Error())
	}

	closeErr := f.file.Close()
	f.file = nil
	if closeErr != nil {
		f.fs.Remove(tmpName)
		return 0, errors.WithMessagef(dberr.ErrorIO, "close '%s': %s", f.name, closeErr.Error())
	}
	renameErr := f.fs.Rename(tmpName, f.name)

	// on failure the handle stays closed, every later call fails with ErrorClosed
	file, err := f.fs.OpenFile(f.name, os.O_RDWR, 0666)
	if err != nil {
		return 0, errors.WithMessagef(dberr.ErrorIO, "reopen '%s': %s", f.name, err.Error())
	}
	f.file = file
	if renameErr != nil {
		f.fs.Remove(tmpName)
		return 0, errors.WithMessagef(dberr.ErrorIO, "rename '%s': %s", tmpName, renameErr.Error())
	}

	f.size = headerSize + int64(len(buf))
	return f.size, nil
}

func (f *File) opened() error {
	if f.file == nil {
		return fmt.Errorf("%w: '%s'", dberr.ErrorClosed, f.name)
	}
	return nil
}

func validHeader(header []byte) bool {
	return crc32.Checksum(header[:headerCRCOffset], crcTable) == binary.LittleEndian.Uint32(header[headerCRCOffset:recordHeaderSize])
}

func zeros(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

func (f *File) Close() error {
	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	return err
}

func encodeRecord(kind Kind, version uint64, v any, compress bool) ([]byte, error) {

	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: encode record: %s", dberr.ErrorEncoding, err.Error())
	}
	if compress {
		payload = snappy.Encode(nil, payload)
		kind |= flagCompressed
	}

	buf := make([]byte, recordHeaderSize+len(payload))
	buf[0] = byte(kind)
	binary.LittleEndian.PutUint64(buf[1:9], version)
	binary.LittleEndian.PutUint32(buf[9:13], uint32(len(payload)))
	binary.LittleEndian.PutUint32(buf[13:17], crc32.Checksum(payload, crcTable))
	binary.LittleEndian.PutUint32(buf[headerCRCOffset:recordHeaderSize], crc32.Checksum(buf[:headerCRCOffset], crcTable))
	copy(buf[recordHeaderSize:], payload)

	return buf, nil
}

func decodeRecord(kind Kind, payload []byte) (*Record, error) {

	if kind&flagCompressed != 0 {
		decoded, err := snappy.Decode(nil, payload)
		if err != nil {
			return nil, fmt.Errorf("%w: snappy: %s", dberr.ErrorIncompatibleFileFormat, err.Error())
		}
		payload = decoded
		kind &^= flagCompressed
	}

	r := &Record{Kind: kind}
	switch kind {
	case KindCommit:
		r.Commit = &Commit{}
		if err := json.Unmarshal(payload, r.Commit); err != nil {
			return nil, fmt.Errorf("%w: commit: %s", dberr.ErrorIncompatibleFileFormat, err.Error())
		}
	case KindSnapshot:
		r.Snapshot = &Snapshot{}
		if err := json.Unmarshal(payload, r.Snapshot); err != nil {
			return nil, fmt.Errorf("%w: snapshot: %s", dberr.ErrorIncompatibleFileFormat, err.Error())
		}
	default:
		return nil, fmt.Errorf("%w: unknown record kind %d", dberr.ErrorIncompatibleFileFormat, kind)
	}
	return r, nil
}
