package storage

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/fulldump/tightdb/bridge"
	"github.com/fulldump/tightdb/dberr"
)

// Cell kinds. Column values use the typed kinds; documents stored in mixed
// columns use the generic ones (text, bytes, host-uuid, map, list) so a
// document decodes to the same Go shape it was stored with.
const (
	CellNull      = "null"
	CellInt       = "int"
	CellBool      = "bool"
	CellFloat     = "float"
	CellDouble    = "double"
	CellString    = "string"
	CellBinary    = "binary"
	CellTimestamp = "timestamp"
	CellUUID      = "uuid"
	CellText      = "text"
	CellBytes     = "bytes"
	CellHostUUID  = "host-uuid"
	CellMap       = "map"
	CellList      = "list"
)

// Cell is the persisted form of a value. Floats are kept as IEEE bits so
// NaN and the sign of zero survive the round trip.
type Cell struct {
	Kind  string   `json:"k"`
	Int   int64    `json:"i,omitzero"`
	Bool  bool     `json:"b,omitzero"`
	Bits  uint64   `json:"f,omitzero"`
	Str   string   `json:"s,omitzero"`
	Bytes []byte   `json:"x,omitzero"`
	Keys  []string `json:"mk,omitzero"`
	List  []*Cell  `json:"l,omitzero"`
}

func EncodeCell(v any) (*Cell, error) {
	switch value := v.(type) {
	case nil:
		return &Cell{Kind: CellNull}, nil
	case int64:
		return &Cell{Kind: CellInt, Int: value}, nil
	case bool:
		return &Cell{Kind: CellBool, Bool: value}, nil
	case float32:
		return &Cell{Kind: CellFloat, Bits: uint64(math.Float32bits(value))}, nil
	case float64:
		return &Cell{Kind: CellDouble, Bits: math.Float64bits(value)}, nil
	case bridge.StringData:
		return &Cell{Kind: CellString, Str: bridge.ToHostString(value)}, nil
	case bridge.BinaryData:
		if value.IsNull() {
			return &Cell{Kind: CellNull}, nil
		}
		return &Cell{Kind: CellBinary, Bytes: bridge.ToHostBytes(value)}, nil
	case time.Time:
		return &Cell{Kind: CellTimestamp, Int: value.Unix(), Bits: uint64(value.Nanosecond())}, nil
	case bridge.UUID:
		return &Cell{Kind: CellUUID, Bytes: value[:]}, nil
	case string:
		return &Cell{Kind: CellText, Str: value}, nil
	case []byte:
		return &Cell{Kind: CellBytes, Bytes: value}, nil
	case uuid.UUID:
		return &Cell{Kind: CellHostUUID, Bytes: value[:]}, nil
	case map[string]any:
		keys := make([]string, 0, len(value))
		for k := range value {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		c := &Cell{Kind: CellMap, Keys: keys, List: make([]*Cell, len(keys))}
		for i, k := range keys {
			item, err := EncodeCell(value[k])
			if err != nil {
				return nil, err
			}
			c.List[i] = item
		}
		return c, nil
	case []any:
		c := &Cell{Kind: CellList, List: make([]*Cell, len(value))}
		for i, item := range value {
			encoded, err := EncodeCell(item)
			if err != nil {
				return nil, err
			}
			c.List[i] = encoded
		}
		return c, nil
	}
	return nil, fmt.Errorf("%w: can not persist value of type %T", dberr.ErrorEncoding, v)
}

func DecodeCell(c *Cell) (any, error) {
	if c == nil {
		return nil, nil
	}
	switch c.Kind {
	case CellNull:
		return nil, nil
	case CellInt:
		return c.Int, nil
	case CellBool:
		return c.Bool, nil
	case CellFloat:
		return math.Float32frombits(uint32(c.Bits)), nil
	case CellDouble:
		return math.Float64frombits(c.Bits), nil
	case CellString:
		return bridge.FromHostString(c.Str)
	case CellBinary:
		return bridge.FromHostBytes(append([]byte{}, c.Bytes...)), nil
	case CellTimestamp:
		return time.Unix(c.Int, int64(c.Bits)).UTC(), nil
	case CellUUID, CellHostUUID:
		if len(c.Bytes) != 16 {
			return nil, fmt.Errorf("%w: uuid cell with %d bytes", dberr.ErrorIncompatibleFileFormat, len(c.Bytes))
		}
		u := bridge.UUID{}
		copy(u[:], c.Bytes)
		if c.Kind == CellHostUUID {
			return u.Host(), nil
		}
		return u, nil
	case CellText:
		return c.Str, nil
	case CellBytes:
		return append([]byte{}, c.Bytes...), nil
	case CellMap:
		if len(c.Keys) != len(c.List) {
			return nil, fmt.Errorf("%w: map cell with %d keys and %d values", dberr.ErrorIncompatibleFileFormat, len(c.Keys), len(c.List))
		}
		m := make(map[string]any, len(c.Keys))
		for i, k := range c.Keys {
			v, err := DecodeCell(c.List[i])
			if err != nil {
				return nil, err
			}
			m[k] = v
		}
		return m, nil
	case CellList:
		list := make([]any, len(c.List))
		for i, item := range c.List {
			v, err := DecodeCell(item)
			if err != nil {
				return nil, err
			}
			list[i] = v
		}
		return list, nil
	}
	return nil, fmt.Errorf("%w: unknown cell kind '%s'", dberr.ErrorIncompatibleFileFormat, c.Kind)
}
