package service

import (
	"encoding/base64"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/fulldump/tightdb/dberr"
	"github.com/fulldump/tightdb/table"
)

// fromJSON converts a decoded JSON value into the host value expected by
// column c. Binary travels as base64, timestamps as RFC 3339 and uuids in
// their canonical text form.
func fromJSON(c table.Column, v any) (any, error) {

	if v == nil {
		return nil, nil
	}

	mismatch := func() error {
		return fmt.Errorf("%w: column '%s' is %s, got %T", dberr.ErrorTypeMismatch, c.Name, c.Type, v)
	}

	switch c.Type {
	case table.TypeInt:
		f, ok := v.(float64)
		if !ok {
			return v, nil
		}
		if f != math.Trunc(f) || f > math.MaxInt64 || f < math.MinInt64 {
			return nil, mismatch()
		}
		return int64(f), nil

	case table.TypeBinary:
		s, ok := v.(string)
		if !ok {
			return v, nil
		}
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("%w: column '%s': %s", dberr.ErrorEncoding, c.Name, err.Error())
		}
		return b, nil

	case table.TypeTimestamp:
		s, ok := v.(string)
		if !ok {
			return nil, mismatch()
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, fmt.Errorf("%w: column '%s': %s", dberr.ErrorEncoding, c.Name, err.Error())
		}
		return t, nil

	case table.TypeUUID:
		s, ok := v.(string)
		if !ok {
			return nil, mismatch()
		}
		u, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("%w: column '%s': %s", dberr.ErrorEncoding, c.Name, err.Error())
		}
		return u, nil
	}

	return v, nil
}

func fromDocument(schema table.Schema, doc Document) (map[string]any, error) {
	values := map[string]any{}
	for name, v := range doc {
		if name == KeyField {
			continue
		}
		_, c, ok := schema.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("%w: unknown column '%s'", dberr.ErrorSchema, name)
		}
		converted, err := fromJSON(c, v)
		if err != nil {
			return nil, err
		}
		values[name] = converted
	}
	return values, nil
}

// toJSON is the inverse of fromJSON for the values encoding/json would not
// render as wanted.
func toJSON(v any) any {
	switch value := v.(type) {
	case float32:
		if math.IsNaN(float64(value)) || math.IsInf(float64(value), 0) {
			return nil
		}
	case float64:
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return nil
		}
	case uuid.UUID:
		return value.String()
	case time.Time:
		return value.Format(time.RFC3339Nano)
	}
	return v
}
