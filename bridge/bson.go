package bridge

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/fulldump/tightdb/dberr"
)

// CopyBSON deep copies a document made of maps, arrays and scalars. Integers
// are widened to int64 and float32 to float64; everything else keeps its
// shape. Unsupported kinds fail with ErrorEncoding.
func CopyBSON(v any) (any, error) {
	switch value := v.(type) {
	case nil:
		return nil, nil
	case bool, string, int64, float64:
		return value, nil
	case int:
		return int64(value), nil
	case int8:
		return int64(value), nil
	case int16:
		return int64(value), nil
	case int32:
		return int64(value), nil
	case uint8:
		return int64(value), nil
	case uint16:
		return int64(value), nil
	case uint32:
		return int64(value), nil
	case uint64:
		if value > math.MaxInt64 {
			return nil, fmt.Errorf("%w: uint64 %d overflows int64", dberr.ErrorEncoding, value)
		}
		return int64(value), nil
	case float32:
		return float64(value), nil
	case []byte:
		out := make([]byte, len(value))
		copy(out, value)
		return out, nil
	case time.Time:
		return value.UTC().Round(0), nil
	case uuid.UUID:
		return value, nil
	case UUID:
		return value.Host(), nil
	case map[string]any:
		out := make(map[string]any, len(value))
		for k, item := range value {
			copied, err := CopyBSON(item)
			if err != nil {
				return nil, fmt.Errorf("key '%s': %w", k, err)
			}
			out[k] = copied
		}
		return out, nil
	case []any:
		out := make([]any, len(value))
		for i, item := range value {
			copied, err := CopyBSON(item)
			if err != nil {
				return nil, fmt.Errorf("item %d: %w", i, err)
			}
			out[i] = copied
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unsupported document value %T", dberr.ErrorEncoding, v)
	}
}
