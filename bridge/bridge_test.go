package bridge

import (
	"errors"
	"testing"
	"time"

	. "github.com/fulldump/biff"
	"github.com/google/uuid"

	"github.com/fulldump/tightdb/dberr"
)

func TestStringRoundTrip(t *testing.T) {

	for _, s := range []string{"", "hello", "ñandú", "日本語", "emoji 🎉", "null\x00byte"} {
		view, err := FromHostString(s)
		AssertNil(err)
		AssertEqual(ToHostString(view), s)
		AssertEqual(view.Len(), len(s))
	}
}

func TestStringInvalidEncoding(t *testing.T) {

	_, err := FromHostString("abc\xffdef")
	AssertTrue(errors.Is(err, dberr.ErrorEncoding))
}

func TestStringIsCopied(t *testing.T) {

	source := []byte("mutable")
	view, err := FromHostString(string(source))
	AssertNil(err)

	source[0] = 'M'
	AssertEqual(ToHostString(view), "mutable")
}

func TestUTF16RoundTrip(t *testing.T) {

	s := "a𝄞b"
	view, err := FromHostString(s)
	AssertNil(err)

	u := ToHostUTF16(view)
	AssertEqual(len(u), 4) // a + surrogate pair + b

	back, err := FromHostUTF16(u)
	AssertNil(err)
	AssertEqual(ToHostString(back), s)
}

func TestUTF16UnpairedSurrogate(t *testing.T) {

	_, err := FromHostUTF16([]uint16{'a', 0xD834})
	AssertTrue(errors.Is(err, dberr.ErrorEncoding))

	_, err = FromHostUTF16([]uint16{0xDD1E, 'a'})
	AssertTrue(errors.Is(err, dberr.ErrorEncoding))

	_, err = FromHostUTF16([]uint16{0xD834, 'a'})
	AssertTrue(errors.Is(err, dberr.ErrorEncoding))
}

func TestBinaryRoundTrip(t *testing.T) {

	input := []byte{0, 1, 2, 254, 255}
	view := FromHostBytes(input)
	input[0] = 99

	output := ToHostBytes(view)
	AssertEqual(output, []byte{0, 1, 2, 254, 255})

	output[1] = 42
	AssertEqual(ToHostBytes(view), []byte{0, 1, 2, 254, 255})
}

func TestBinaryNull(t *testing.T) {

	AssertTrue(FromHostBytes(nil).IsNull())
	AssertNil(ToHostBytes(FromHostBytes(nil)))

	empty := FromHostBytes([]byte{})
	AssertFalse(empty.IsNull())
	AssertEqual(len(ToHostBytes(empty)), 0)
}

func TestUUID(t *testing.T) {

	host := uuid.New()
	u := UUIDFromHost(host)
	AssertEqual(u.Host(), host)
	AssertEqual(u.String(), host.String())

	parsed, err := ParseUUID(host.String())
	AssertNil(err)
	AssertEqual(parsed, u)

	_, err = ParseUUID("not-a-uuid")
	AssertTrue(errors.Is(err, dberr.ErrorEncoding))
}

func TestCopyBSON(t *testing.T) {

	doc := map[string]any{
		"name": "Ann",
		"age":  30,
		"tags": []any{"a", int32(2), float32(1.5)},
		"when": time.Unix(10, 0),
	}

	copied, err := CopyBSON(doc)
	AssertNil(err)

	m := copied.(map[string]any)
	AssertEqual(m["age"], int64(30))
	AssertEqual(m["tags"], []any{"a", int64(2), float64(1.5)})

	doc["name"] = "Bob"
	AssertEqual(m["name"], "Ann")
}

func TestCopyBSONUnsupported(t *testing.T) {

	_, err := CopyBSON(map[string]any{"ch": make(chan int)})
	AssertTrue(errors.Is(err, dberr.ErrorEncoding))
}
