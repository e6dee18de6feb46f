// Package query builds immutable predicates over a table and evaluates them
// into Results.
package query

import (
	"fmt"
	"math"
	"strings"

	"github.com/SierraSoftworks/connor"
	"golang.org/x/text/cases"

	"github.com/fulldump/tightdb/dberr"
	"github.com/fulldump/tightdb/table"
	"github.com/fulldump/tightdb/utils"
)

type operator int

const (
	opAll operator = iota
	opEqual
	opNotEqual
	opGreater
	opGreaterOrEqual
	opLess
	opLessOrEqual
	opBetween
	opIsNull
	opContains
	opBeginsWith
	opEndsWith
	opLike
	opAnd
	opOr
	opNot
	opMatch
)

var operatorNames = map[operator]string{
	opAll:            "all",
	opEqual:          "==",
	opNotEqual:       "!=",
	opGreater:        ">",
	opGreaterOrEqual: ">=",
	opLess:           "<",
	opLessOrEqual:    "<=",
	opBetween:        "between",
	opIsNull:         "is null",
	opContains:       "contains",
	opBeginsWith:     "begins with",
	opEndsWith:       "ends with",
	opLike:           "like",
	opAnd:            "and",
	opOr:             "or",
	opNot:            "not",
	opMatch:          "match",
}

// Query is an immutable predicate tree. Every builder returns a new node and
// never modifies its arguments.
type Query struct {
	op              operator
	column          string
	values          []any
	caseInsensitive bool
	children        []*Query
	filter          map[string]any
	err             error // reported when compiled
}

func All() *Query {
	return &Query{op: opAll}
}

func leaf(op operator, column string, values ...any) *Query {
	return &Query{op: op, column: column, values: values}
}

// Equal matches rows whose column equals value. A nil value matches nulls.
func Equal(column string, value any) *Query { return leaf(opEqual, column, value) }

// NotEqual is the negation of Equal, so it also matches nulls and NaN.
func NotEqual(column string, value any) *Query { return leaf(opNotEqual, column, value) }

func Greater(column string, value any) *Query        { return leaf(opGreater, column, value) }
func GreaterOrEqual(column string, value any) *Query { return leaf(opGreaterOrEqual, column, value) }
func Less(column string, value any) *Query           { return leaf(opLess, column, value) }
func LessOrEqual(column string, value any) *Query    { return leaf(opLessOrEqual, column, value) }

// Between is inclusive on both ends.
func Between(column string, low, high any) *Query { return leaf(opBetween, column, low, high) }

func IsNull(column string) *Query { return leaf(opIsNull, column) }

func Contains(column string, substring any) *Query { return leaf(opContains, column, substring) }
func BeginsWith(column string, prefix any) *Query  { return leaf(opBeginsWith, column, prefix) }
func EndsWith(column string, suffix any) *Query    { return leaf(opEndsWith, column, suffix) }

// Like matches a whole string against a pattern where '*' is any sequence of
// characters and '?' exactly one.
func Like(column string, pattern string) *Query { return leaf(opLike, column, pattern) }

func And(queries ...*Query) *Query {
	return &Query{op: opAnd, children: append([]*Query(nil), queries...)}
}

func Or(queries ...*Query) *Query {
	return &Query{op: opOr, children: append([]*Query(nil), queries...)}
}

func Not(q *Query) *Query {
	return &Query{op: opNot, children: []*Query{q}}
}

// Match evaluates a MongoDB style filter ({"age": {"$gt": 20}}) against the
// row seen as a document of column name to value. A filter that can not be
// represented as JSON (NaN, channels, functions) fails on evaluation with
// ErrorEncoding.
func Match(filter map[string]any) *Query {
	normalized := map[string]any{}
	if err := utils.Remarshal(filter, &normalized); err != nil {
		return &Query{op: opMatch, err: fmt.Errorf("%w: match filter: %s", dberr.ErrorEncoding, err.Error())}
	}
	return &Query{op: opMatch, filter: normalized}
}

func (q *Query) And(others ...*Query) *Query {
	return And(append([]*Query{q}, others...)...)
}

func (q *Query) Or(others ...*Query) *Query {
	return Or(append([]*Query{q}, others...)...)
}

// CaseInsensitive returns a copy where every string comparison of the tree
// uses Unicode case folding.
func (q *Query) CaseInsensitive() *Query {
	c := *q
	c.caseInsensitive = true
	if len(q.children) > 0 {
		c.children = make([]*Query, len(q.children))
		for i, child := range q.children {
			c.children[i] = child.CaseInsensitive()
		}
	}
	return &c
}

func (q *Query) String() string {
	switch q.op {
	case opAll:
		return "all"
	case opAnd, opOr:
		parts := make([]string, len(q.children))
		for i, child := range q.children {
			parts[i] = child.String()
		}
		return "(" + strings.Join(parts, " "+operatorNames[q.op]+" ") + ")"
	case opNot:
		return "not " + q.children[0].String()
	case opMatch:
		return fmt.Sprintf("match %v", q.filter)
	case opIsNull:
		return q.column + " is null"
	}
	s := fmt.Sprintf("%s %s", q.column, operatorNames[q.op])
	for _, v := range q.values {
		s += fmt.Sprintf(" %v", v)
	}
	if q.caseInsensitive {
		s += " [c]"
	}
	return s
}

type matcher func(d *table.Data, key table.Key) (bool, error)

type compiler struct {
	schema table.Schema
	folder cases.Caser
}

func (q *Query) compile(schema table.Schema) (matcher, error) {
	c := &compiler{schema: schema, folder: cases.Fold()}
	if q == nil {
		q = All()
	}
	return c.compile(q)
}

func (c *compiler) compile(q *Query) (matcher, error) {

	switch q.op {

	case opAll:
		return func(d *table.Data, key table.Key) (bool, error) { return true, nil }, nil

	case opAnd, opOr:
		children := make([]matcher, len(q.children))
		for i, child := range q.children {
			m, err := c.compile(child)
			if err != nil {
				return nil, err
			}
			children[i] = m
		}
		// an empty AND is true, an empty OR is false
		stopOn := q.op == opOr
		return func(d *table.Data, key table.Key) (bool, error) {
			for _, m := range children {
				ok, err := m(d, key)
				if err != nil {
					return false, err
				}
				if ok == stopOn {
					return stopOn, nil
				}
			}
			return !stopOn, nil
		}, nil

	case opNot:
		m, err := c.compile(q.children[0])
		if err != nil {
			return nil, err
		}
		return func(d *table.Data, key table.Key) (bool, error) {
			ok, err := m(d, key)
			return !ok, err
		}, nil

	case opMatch:
		return c.compileMatch(q)
	}

	return c.compileLeaf(q)
}

func (c *compiler) compileMatch(q *Query) (matcher, error) {
	if q.err != nil {
		return nil, q.err
	}
	schema := c.schema
	filter := q.filter
	return func(d *table.Data, key table.Key) (bool, error) {
		row := make(map[string]any, len(schema))
		for i, column := range schema {
			v, _ := d.Value(key, table.ColumnID(i))
			if !finite(v) {
				v = nil
			}
			row[column.Name] = v
		}
		document := map[string]any{}
		if err := utils.Remarshal(row, &document); err != nil {
			return false, fmt.Errorf("%w: match: %s", dberr.ErrorEncoding, err.Error())
		}
		ok, err := connor.Match(filter, document)
		if err != nil {
			return false, fmt.Errorf("match: %w", err)
		}
		return ok, nil
	}, nil
}

func (c *compiler) compileLeaf(q *Query) (matcher, error) {

	id, column, ok := c.schema.Lookup(q.column)
	if !ok {
		return nil, fmt.Errorf("%w: unknown column '%s'", dberr.ErrorSchema, q.column)
	}

	get := func(d *table.Data, key table.Key) any {
		v, _ := d.Value(key, id)
		return v
	}

	if q.op == opIsNull {
		return func(d *table.Data, key table.Key) (bool, error) {
			return get(d, key) == nil, nil
		}, nil
	}

	switch q.op {
	case opContains, opBeginsWith, opEndsWith, opLike:
		return c.compileText(q, column, get)
	}

	operands := make([]any, len(q.values))
	for i, v := range q.values {
		normalized, err := table.NormalizeOperand(column, v)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", q, err)
		}
		operands[i] = normalized
	}

	fold := func(v any) any { return v }
	if q.caseInsensitive && (column.Type == table.TypeString || column.Type == table.TypeMixed) {
		folder := c.folder
		fold = func(v any) any {
			if s, ok := v.(string); ok {
				return folder.String(s)
			}
			return v
		}
		for i := range operands {
			operands[i] = fold(operands[i])
		}
	}

	t := column.Type
	compare := func(v any, operand any) (int, bool) {
		return table.Compare(t, fold(v), operand)
	}

	switch q.op {

	case opEqual, opNotEqual:
		operand := operands[0]
		negate := q.op == opNotEqual
		return func(d *table.Data, key table.Key) (bool, error) {
			v := get(d, key)
			var equal bool
			if operand == nil {
				equal = v == nil
			} else {
				equal = table.Equal(t, fold(v), operand)
			}
			return equal != negate, nil
		}, nil

	case opGreater, opGreaterOrEqual, opLess, opLessOrEqual:
		operand := operands[0]
		op := q.op
		return func(d *table.Data, key table.Key) (bool, error) {
			cmp, ok := compare(get(d, key), operand)
			if !ok {
				return false, nil
			}
			switch op {
			case opGreater:
				return cmp > 0, nil
			case opGreaterOrEqual:
				return cmp >= 0, nil
			case opLess:
				return cmp < 0, nil
			}
			return cmp <= 0, nil
		}, nil

	case opBetween:
		low, high := operands[0], operands[1]
		return func(d *table.Data, key table.Key) (bool, error) {
			v := get(d, key)
			lowCmp, ok := compare(v, low)
			if !ok || lowCmp < 0 {
				return false, nil
			}
			highCmp, ok := compare(v, high)
			return ok && highCmp <= 0, nil
		}, nil
	}

	return nil, fmt.Errorf("%w: unsupported operator %d", dberr.ErrorSchema, q.op)
}

// finite is false for NaN and infinities, which have no JSON form.
func finite(v any) bool {
	switch f := v.(type) {
	case float32:
		return !math.IsNaN(float64(f)) && !math.IsInf(float64(f), 0)
	case float64:
		return !math.IsNaN(f) && !math.IsInf(f, 0)
	}
	return true
}
