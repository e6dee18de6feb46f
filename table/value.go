package table

import (
	"bytes"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fulldump/tightdb/bridge"
	"github.com/fulldump/tightdb/dberr"
)

// Stored representation per column type:
//
//	int       int64
//	bool      bool
//	float     float32
//	double    float64
//	string    bridge.StringData
//	binary    bridge.BinaryData
//	timestamp time.Time (UTC, no monotonic reading)
//	uuid      bridge.UUID
//	mixed     document copied by bridge.CopyBSON
//
// nil is null for every type.

func toInternal(c Column, v any) (any, error) {

	if isNullHost(v) {
		if !c.Nullable && c.Type != TypeMixed {
			return nil, fmt.Errorf("%w: column '%s' is not nullable", dberr.ErrorNullability, c.Name)
		}
		return nil, nil
	}

	mismatch := func() error {
		return fmt.Errorf("%w: column '%s' is %s, got %T", dberr.ErrorTypeMismatch, c.Name, c.Type, v)
	}

	switch c.Type {
	case TypeInt:
		i, ok := asInt64(v)
		if !ok {
			return nil, mismatch()
		}
		return i, nil

	case TypeBool:
		b, ok := v.(bool)
		if !ok {
			return nil, mismatch()
		}
		return b, nil

	case TypeFloat:
		switch f := v.(type) {
		case float32:
			return f, nil
		case float64:
			return float32(f), nil
		}
		return nil, mismatch()

	case TypeDouble:
		switch f := v.(type) {
		case float64:
			return f, nil
		case float32:
			return float64(f), nil
		}
		return nil, mismatch()

	case TypeString:
		switch s := v.(type) {
		case string:
			data, err := bridge.FromHostString(s)
			if err != nil {
				return nil, fmt.Errorf("column '%s': %w", c.Name, err)
			}
			return data, nil
		case bridge.StringData:
			return bridge.FromHostString(bridge.ToHostString(s))
		}
		return nil, mismatch()

	case TypeBinary:
		switch b := v.(type) {
		case []byte:
			return bridge.FromHostBytes(b), nil
		case bridge.BinaryData:
			return bridge.FromHostBytes(bridge.ToHostBytes(b)), nil
		}
		return nil, mismatch()

	case TypeTimestamp:
		t, ok := v.(time.Time)
		if !ok {
			return nil, mismatch()
		}
		return t.UTC().Round(0), nil

	case TypeUUID:
		switch u := v.(type) {
		case uuid.UUID:
			return bridge.UUIDFromHost(u), nil
		case bridge.UUID:
			return u, nil
		}
		return nil, mismatch()

	case TypeMixed:
		doc, err := bridge.CopyBSON(v)
		if err != nil {
			return nil, fmt.Errorf("column '%s': %w", c.Name, err)
		}
		return doc, nil
	}

	return nil, fmt.Errorf("%w: column '%s' has unknown type", dberr.ErrorSchema, c.Name)
}

// toHost always returns a copy, never store memory.
func toHost(c Column, v any) any {
	if v == nil {
		return nil
	}
	switch value := v.(type) {
	case bridge.StringData:
		return bridge.ToHostString(value)
	case bridge.BinaryData:
		return bridge.ToHostBytes(value)
	case bridge.UUID:
		return value.Host()
	}
	if c.Type == TypeMixed {
		doc, _ := bridge.CopyBSON(v)
		return doc
	}
	return v
}

// checkInternal validates a value coming from the commit log.
func checkInternal(c Column, v any) error {
	if v == nil {
		if !c.Nullable && c.Type != TypeMixed {
			return fmt.Errorf("%w: column '%s' is not nullable", dberr.ErrorNullability, c.Name)
		}
		return nil
	}
	ok := false
	switch c.Type {
	case TypeInt:
		_, ok = v.(int64)
	case TypeBool:
		_, ok = v.(bool)
	case TypeFloat:
		_, ok = v.(float32)
	case TypeDouble:
		_, ok = v.(float64)
	case TypeString:
		_, ok = v.(bridge.StringData)
	case TypeBinary:
		_, ok = v.(bridge.BinaryData)
	case TypeTimestamp:
		_, ok = v.(time.Time)
	case TypeUUID:
		_, ok = v.(bridge.UUID)
	case TypeMixed:
		ok = true
	}
	if !ok {
		return fmt.Errorf("%w: column '%s' is %s, stored value is %T", dberr.ErrorTypeMismatch, c.Name, c.Type, v)
	}
	return nil
}

func defaultValue(c Column) any {
	if c.Nullable || c.Type == TypeMixed {
		return nil
	}
	switch c.Type {
	case TypeInt:
		return int64(0)
	case TypeBool:
		return false
	case TypeFloat:
		return float32(0)
	case TypeDouble:
		return float64(0)
	case TypeString:
		return bridge.StringData{}
	case TypeBinary:
		return bridge.FromHostBytes([]byte{})
	case TypeTimestamp:
		return time.Unix(0, 0).UTC()
	case TypeUUID:
		return bridge.UUID{}
	}
	return nil
}

// NormalizeOperand converts a host value into the canonical host value of
// column c, so it can be compared against values returned by GetValue. nil is
// always accepted.
func NormalizeOperand(c Column, v any) (any, error) {
	c.Nullable = true
	internal, err := toInternal(c, v)
	if err != nil {
		return nil, err
	}
	return toHost(c, internal), nil
}

// Compare orders two canonical host values of type t. ok is false when the
// values are not comparable: any null, a NaN, or mixed values of different
// kinds.
func Compare(t ColumnType, a, b any) (int, bool) {
	if a == nil || b == nil {
		return 0, false
	}

	switch t {
	case TypeInt:
		return compareOrdered(a.(int64), b.(int64)), true
	case TypeBool:
		return compareBool(a.(bool), b.(bool)), true
	case TypeFloat:
		return compareFloat(float64(a.(float32)), float64(b.(float32)))
	case TypeDouble:
		return compareFloat(a.(float64), b.(float64))
	case TypeString:
		return strings.Compare(a.(string), b.(string)), true
	case TypeBinary:
		return bytes.Compare(a.([]byte), b.([]byte)), true
	case TypeTimestamp:
		return a.(time.Time).Compare(b.(time.Time)), true
	case TypeUUID:
		ua, ub := a.(uuid.UUID), b.(uuid.UUID)
		return bytes.Compare(ua[:], ub[:]), true
	case TypeMixed:
		return compareMixed(a, b)
	}
	return 0, false
}

// compareTotal is a total order used by indexes and sorting: null first,
// then NaN, then the natural order of the type.
func compareTotal(t ColumnType, a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}

	if c, ok := Compare(t, a, b); ok {
		return c
	}

	nanA, nanB := isNaN(a), isNaN(b)
	switch {
	case nanA && nanB:
		return 0
	case nanA:
		return -1
	case nanB:
		return 1
	}

	// mixed values of different kinds
	ka, kb := mixedRank(a), mixedRank(b)
	if ka != kb {
		return compareOrdered(ka, kb)
	}
	if reflect.DeepEqual(a, b) {
		return 0
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

// CompareTotal exposes the ordering used for sorting.
func CompareTotal(t ColumnType, a, b any) int {
	return compareTotal(t, a, b)
}

// Equal reports equality with IEEE semantics (NaN is never equal) and no
// null matching.
func Equal(t ColumnType, a, b any) bool {
	if t == TypeMixed {
		if a == nil || b == nil {
			return false
		}
		if c, ok := compareMixed(a, b); ok {
			return c == 0
		}
		return reflect.DeepEqual(a, b)
	}
	c, ok := Compare(t, a, b)
	return ok && c == 0
}

func compareMixed(a, b any) (int, bool) {
	fa, okA := mixedNumber(a)
	fb, okB := mixedNumber(b)
	if okA && okB {
		return compareFloat(fa, fb)
	}
	switch va := a.(type) {
	case string:
		if vb, ok := b.(string); ok {
			return strings.Compare(va, vb), true
		}
	case bool:
		if vb, ok := b.(bool); ok {
			return compareBool(va, vb), true
		}
	case time.Time:
		if vb, ok := b.(time.Time); ok {
			return va.Compare(vb), true
		}
	case []byte:
		if vb, ok := b.([]byte); ok {
			return bytes.Compare(va, vb), true
		}
	}
	return 0, false
}

func mixedNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func mixedRank(v any) int {
	switch v.(type) {
	case bool:
		return 1
	case int64, float64:
		return 2
	case string:
		return 3
	case []byte:
		return 4
	case time.Time:
		return 5
	case uuid.UUID:
		return 6
	case []any:
		return 7
	case map[string]any:
		return 8
	}
	return 9
}

func compareFloat(a, b float64) (int, bool) {
	if math.IsNaN(a) || math.IsNaN(b) {
		return 0, false
	}
	switch {
	case a < b:
		return -1, true
	case a > b:
		return 1, true
	}
	return 0, true
}

func isNaN(v any) bool {
	switch f := v.(type) {
	case float32:
		return f != f
	case float64:
		return math.IsNaN(f)
	}
	return false
}

func compareOrdered[T int | int64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	}
	return 1
}

func asInt64(v any) (int64, bool) {
	switch i := v.(type) {
	case int:
		return int64(i), true
	case int8:
		return int64(i), true
	case int16:
		return int64(i), true
	case int32:
		return int64(i), true
	case int64:
		return i, true
	case uint8:
		return int64(i), true
	case uint16:
		return int64(i), true
	case uint32:
		return int64(i), true
	case uint64:
		if i > math.MaxInt64 {
			return 0, false
		}
		return int64(i), true
	case uint:
		if uint64(i) > math.MaxInt64 {
			return 0, false
		}
		return int64(i), true
	}
	return 0, false
}

func isNullHost(v any) bool {
	if v == nil {
		return true
	}
	switch b := v.(type) {
	case []byte:
		return b == nil
	case bridge.BinaryData:
		return b.IsNull()
	}
	return false
}
