// Package bridge converts host values (strings, byte slices, UUIDs, BSON-like
// documents) into the representations kept by the store and back.
//
// Inbound conversions copy into store-owned buffers. Outbound conversions copy
// again, so host values never alias store memory that a later write could
// replace.
package bridge

import (
	"fmt"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/fulldump/tightdb/dberr"
)

// StringData is a UTF-8 string owned by the store.
type StringData struct {
	data []byte
}

func FromHostString(s string) (StringData, error) {
	if !utf8.ValidString(s) {
		return StringData{}, fmt.Errorf("%w: invalid utf-8 at byte %d", dberr.ErrorEncoding, invalidUTF8At(s))
	}
	return StringData{data: []byte(s)}, nil
}

// FromHostUTF16 converts a UTF-16 host string. Unpaired surrogates are
// rejected instead of being replaced.
func FromHostUTF16(u []uint16) (StringData, error) {
	for i := 0; i < len(u); i++ {
		c := rune(u[i])
		if !utf16.IsSurrogate(c) {
			continue
		}
		if c >= 0xDC00 || i+1 == len(u) {
			return StringData{}, fmt.Errorf("%w: unpaired surrogate at index %d", dberr.ErrorEncoding, i)
		}
		next := rune(u[i+1])
		if next < 0xDC00 || next > 0xDFFF {
			return StringData{}, fmt.Errorf("%w: unpaired surrogate at index %d", dberr.ErrorEncoding, i)
		}
		i++
	}

	buf := make([]byte, 0, len(u))
	for _, r := range utf16.Decode(u) {
		buf = utf8.AppendRune(buf, r)
	}
	return StringData{data: buf}, nil
}

func ToHostString(s StringData) string {
	return string(s.data)
}

func ToHostUTF16(s StringData) []uint16 {
	return utf16.Encode([]rune(string(s.data)))
}

// Len returns the length in bytes.
func (s StringData) Len() int {
	return len(s.data)
}

func (s StringData) Equal(other StringData) bool {
	return string(s.data) == string(other.data)
}

func invalidUTF8At(s string) int {
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size <= 1 {
			return i
		}
		i += size
	}
	return len(s)
}

// BinaryData is a byte buffer owned by the store. The zero value is null.
type BinaryData struct {
	data []byte
}

// FromHostBytes copies b. A nil slice becomes a null BinaryData, an empty
// non-nil slice stays empty but not null.
func FromHostBytes(b []byte) BinaryData {
	if b == nil {
		return BinaryData{}
	}
	data := make([]byte, len(b))
	copy(data, b)
	return BinaryData{data: data}
}

func ToHostBytes(b BinaryData) []byte {
	if b.data == nil {
		return nil
	}
	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out
}

func (b BinaryData) IsNull() bool {
	return b.data == nil
}

func (b BinaryData) Len() int {
	return len(b.data)
}
