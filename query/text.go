package query

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/fulldump/tightdb/bridge"
	"github.com/fulldump/tightdb/dberr"
	"github.com/fulldump/tightdb/table"
)

func (c *compiler) compileText(q *Query, column table.Column, get func(d *table.Data, key table.Key) any) (matcher, error) {

	if column.Type == table.TypeBinary {
		return compileBytes(q, column, get)
	}
	if column.Type != table.TypeString && column.Type != table.TypeMixed {
		return nil, fmt.Errorf("%w: %s needs a string column, '%s' is %s", dberr.ErrorTypeMismatch, operatorNames[q.op], column.Name, column.Type)
	}

	operand, ok := q.values[0].(string)
	if !ok {
		return nil, fmt.Errorf("%w: %s operand must be a string, got %T", dberr.ErrorTypeMismatch, operatorNames[q.op], q.values[0])
	}
	if _, err := bridge.FromHostString(operand); err != nil {
		return nil, err
	}

	fold := func(s string) string { return s }
	if q.caseInsensitive {
		folder := c.folder
		fold = folder.String
	}
	operand = fold(operand)

	var test func(s string) bool
	switch q.op {
	case opContains:
		test = func(s string) bool { return strings.Contains(s, operand) }
	case opBeginsWith:
		test = func(s string) bool { return strings.HasPrefix(s, operand) }
	case opEndsWith:
		test = func(s string) bool { return strings.HasSuffix(s, operand) }
	case opLike:
		pattern := []rune(operand)
		test = func(s string) bool { return like(s, pattern) }
	}

	return func(d *table.Data, key table.Key) (bool, error) {
		s, ok := get(d, key).(string)
		if !ok {
			return false, nil
		}
		return test(fold(s)), nil
	}, nil
}

func compileBytes(q *Query, column table.Column, get func(d *table.Data, key table.Key) any) (matcher, error) {

	var operand []byte
	switch v := q.values[0].(type) {
	case []byte:
		operand = append([]byte{}, v...)
	case string:
		operand = []byte(v)
	default:
		return nil, fmt.Errorf("%w: %s operand for binary column '%s' must be bytes, got %T", dberr.ErrorTypeMismatch, operatorNames[q.op], column.Name, v)
	}

	var test func(b []byte) bool
	switch q.op {
	case opContains:
		test = func(b []byte) bool { return bytes.Contains(b, operand) }
	case opBeginsWith:
		test = func(b []byte) bool { return bytes.HasPrefix(b, operand) }
	case opEndsWith:
		test = func(b []byte) bool { return bytes.HasSuffix(b, operand) }
	default:
		return nil, fmt.Errorf("%w: like is not supported on binary column '%s'", dberr.ErrorTypeMismatch, column.Name)
	}

	return func(d *table.Data, key table.Key) (bool, error) {
		b, ok := get(d, key).([]byte)
		if !ok {
			return false, nil
		}
		return test(b), nil
	}, nil
}

// like matches s against a wildcard pattern rune by rune. On a mismatch it
// backtracks to the last '*' and lets it absorb one more rune.
func like(s string, pattern []rune) bool {

	p := 0
	star := -1
	resume := 0

	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		switch {
		case p < len(pattern) && pattern[p] == '*':
			star = p
			resume = i
			p++
		case p < len(pattern) && (pattern[p] == '?' || pattern[p] == r):
			p++
			i += size
		case star >= 0:
			p = star + 1
			_, skipped := utf8.DecodeRuneInString(s[resume:])
			resume += skipped
			i = resume
		default:
			return false
		}
	}

	for p < len(pattern) && pattern[p] == '*' {
		p++
	}
	return p == len(pattern)
}
