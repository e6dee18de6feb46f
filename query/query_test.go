package query

import (
	"errors"
	"math"
	"sync"
	"testing"

	. "github.com/fulldump/biff"

	"github.com/fulldump/tightdb/dberr"
	"github.com/fulldump/tightdb/table"
)

// directAccess writes straight into one Data, good enough to seed tests.
type directAccess struct {
	d       *table.Data
	changes *table.ChangeSet
}

func (a *directAccess) View(name string) (*table.Data, error) {
	if name != a.d.Name() {
		return nil, dberr.ErrorTableNotFound
	}
	return a.d, nil
}

func (a *directAccess) Mutable(name string) (*table.Data, *table.ChangeSet, error) {
	if a.d.Frozen() {
		return nil, nil, dberr.ErrorTransactionState
	}
	if a.changes == nil {
		a.changes = table.NewChangeSet()
	}
	return a.d, a.changes, nil
}

func (a *directAccess) Record(op table.Op) {}

var personSchema = table.Schema{
	{Name: "name", Type: table.TypeString},
	{Name: "age", Type: table.TypeInt, Nullable: true},
	{Name: "score", Type: table.TypeDouble, Nullable: true},
}

func people(rows ...map[string]any) *table.Table {
	d, err := table.NewData("Person", personSchema)
	AssertNil(err)
	access := &directAccess{d: d}
	person := table.New("Person", access)
	for _, row := range rows {
		_, err := person.InsertRowWith(row)
		AssertNil(err)
	}
	d.Freeze()
	return person
}

func names(r *Results) []any {
	values, err := r.Values("name")
	AssertNil(err)
	return values
}

func TestPersonScenario(t *testing.T) {

	person := people(
		map[string]any{"name": "Ann", "age": 30},
		map[string]any{"name": "Kid", "age": 10},
	)

	r, err := Greater("age", 20).Evaluate(person)
	AssertNil(err)
	AssertEqual(r.Len(), 1)
	AssertEqual(names(r), []any{"Ann"})

	age, err := r.Value(0, "age")
	AssertNil(err)
	AssertEqual(age, int64(30))
}

func TestComparisons(t *testing.T) {

	person := people(
		map[string]any{"name": "a", "age": 1},
		map[string]any{"name": "b", "age": 2},
		map[string]any{"name": "c", "age": 3},
		map[string]any{"name": "d"},
	)

	cases := []struct {
		query    *Query
		expected []any
	}{
		{Equal("age", 2), []any{"b"}},
		{NotEqual("age", 2), []any{"a", "c", "d"}},
		{GreaterOrEqual("age", 2), []any{"b", "c"}},
		{Less("age", 2), []any{"a"}},
		{LessOrEqual("age", 2), []any{"a", "b"}},
		{Between("age", 2, 3), []any{"b", "c"}},
		{IsNull("age"), []any{"d"}},
		{Equal("age", nil), []any{"d"}},
		{NotEqual("age", nil), []any{"a", "b", "c"}},
		{Not(Greater("age", 1)), []any{"a", "d"}},
		{Or(Equal("name", "a"), Equal("name", "c")), []any{"a", "c"}},
		{And(Greater("age", 1), Less("age", 3)), []any{"b"}},
		{Greater("age", 1).And(Equal("name", "c")), []any{"c"}},
		{And(), []any{"a", "b", "c", "d"}},
		{Or(), []any{}},
		{nil, []any{"a", "b", "c", "d"}},
	}

	for _, c := range cases {
		r, err := Evaluate(person, c.query)
		AssertNil(err)
		AssertEqual(names(r), c.expected)
	}
}

func TestQueryErrors(t *testing.T) {

	person := people()

	_, err := Equal("missing", 1).Evaluate(person)
	AssertTrue(errors.Is(err, dberr.ErrorSchema))

	_, err = Equal("age", "one").Evaluate(person)
	AssertTrue(errors.Is(err, dberr.ErrorTypeMismatch))

	_, err = Contains("age", "1").Evaluate(person)
	AssertTrue(errors.Is(err, dberr.ErrorTypeMismatch))
}

func TestNaN(t *testing.T) {

	person := people(
		map[string]any{"name": "nan", "score": math.NaN()},
		map[string]any{"name": "one", "score": 1.0},
		map[string]any{"name": "null"},
	)

	r, _ := Equal("score", math.NaN()).Evaluate(person)
	AssertEqual(r.Len(), 0)

	r, _ = Greater("score", 0.0).Evaluate(person)
	AssertEqual(names(r), []any{"one"})

	r, _ = Less("score", 100.0).Evaluate(person)
	AssertEqual(names(r), []any{"one"})

	r, _ = NotEqual("score", 1.0).Evaluate(person)
	AssertEqual(names(r), []any{"nan", "null"})

	all, _ := All().Evaluate(person)
	sorted, err := all.Sort(Asc("score"))
	AssertNil(err)
	AssertEqual(names(sorted), []any{"null", "nan", "one"})
}

func TestStringPredicates(t *testing.T) {

	person := people(
		map[string]any{"name": "Straße"},
		map[string]any{"name": "STRASSE"},
		map[string]any{"name": "station"},
		map[string]any{"name": "日本語"},
	)

	cases := []struct {
		query    *Query
		expected []any
	}{
		{Equal("name", "STRASSE"), []any{"STRASSE"}},
		{Equal("name", "strasse").CaseInsensitive(), []any{"Straße", "STRASSE"}},
		{BeginsWith("name", "st"), []any{"station"}},
		{BeginsWith("name", "st").CaseInsensitive(), []any{"Straße", "STRASSE", "station"}},
		{EndsWith("name", "ion"), []any{"station"}},
		{Contains("name", "本"), []any{"日本語"}},
		{Like("name", "st*n"), []any{"station"}},
		{Like("name", "?本?"), []any{"日本語"}},
		{Like("name", "*a*"), []any{"Straße", "station"}},
		{Like("name", "s*E").CaseInsensitive(), []any{"Straße", "STRASSE"}},
		{Or(Like("name", "x"), Contains("name", "ASS")).CaseInsensitive(), []any{"Straße", "STRASSE"}},
	}

	for _, c := range cases {
		r, err := Evaluate(person, c.query)
		AssertNil(err)
		AssertEqual(names(r), c.expected)
	}
}

func TestLike(t *testing.T) {

	AssertTrue(like("", []rune("")))
	AssertTrue(like("", []rune("*")))
	AssertFalse(like("", []rune("?")))
	AssertTrue(like("abc", []rune("a*c")))
	AssertTrue(like("axbxc", []rune("a*x*c")))
	AssertFalse(like("abc", []rune("a*d")))
	AssertTrue(like("a*b", []rune("a*b")))
	AssertTrue(like("ñandú", []rune("?and?")))
}

func TestMatch(t *testing.T) {

	person := people(
		map[string]any{"name": "Ann", "age": 30},
		map[string]any{"name": "Bob", "age": 15},
		map[string]any{"name": "Odd", "age": 1, "score": math.NaN()},
	)

	r, err := Match(map[string]any{"name": "Bob"}).Evaluate(person)
	AssertNil(err)
	AssertEqual(names(r), []any{"Bob"})

	r, err = Match(map[string]any{"age": map[string]any{"$gt": 20}}).Evaluate(person)
	AssertNil(err)
	AssertEqual(names(r), []any{"Ann"})

	// a filter without JSON form never turns into match-all
	_, err = Match(map[string]any{"age": map[string]any{"$gt": math.NaN()}}).Evaluate(person)
	AssertTrue(errors.Is(err, dberr.ErrorEncoding))

	_, err = Or(Equal("name", "Ann"), Match(map[string]any{"f": func() {}})).Evaluate(person)
	AssertTrue(errors.Is(err, dberr.ErrorEncoding))
}

func TestSortIsStable(t *testing.T) {

	person := people(
		map[string]any{"name": "first", "age": 2},
		map[string]any{"name": "second", "age": 1},
		map[string]any{"name": "third", "age": 2},
		map[string]any{"name": "fourth", "age": 1},
		map[string]any{"name": "fifth"},
	)

	all, _ := All().Evaluate(person)

	asc, err := all.Sort(Asc("age"))
	AssertNil(err)
	AssertEqual(names(asc), []any{"fifth", "second", "fourth", "first", "third"})

	desc, _ := all.Sort(Desc("age"))
	AssertEqual(names(desc), []any{"first", "third", "second", "fourth", "fifth"})

	// sorting twice does not depend on the previous order
	again, _ := desc.Sort(Asc("age"))
	AssertEqual(names(again), names(asc))

	multi, _ := all.Sort(Asc("age"), Desc("name"))
	AssertEqual(names(multi), []any{"fifth", "second", "fourth", "third", "first"})

	AssertEqual(names(asc.Limit(2)), []any{"fifth", "second"})

	_, err = all.Sort(Asc("nope"))
	AssertTrue(errors.Is(err, dberr.ErrorSchema))
}

func TestAggregates(t *testing.T) {

	person := people(
		map[string]any{"name": "a", "age": 10, "score": 1.5},
		map[string]any{"name": "b", "age": 20, "score": math.NaN()},
		map[string]any{"name": "c", "score": 2.5},
	)

	all, _ := All().Evaluate(person)

	sum, err := all.Sum("age")
	AssertNil(err)
	AssertEqual(sum, int64(30))

	sum, _ = all.Sum("score")
	AssertEqual(sum, 4.0)

	avg, ok, _ := all.Average("age")
	AssertTrue(ok)
	AssertEqual(avg, 15.0)

	min, ok, _ := all.Min("score")
	AssertTrue(ok)
	AssertEqual(min, 1.5)

	max, _, _ := all.Max("age")
	AssertEqual(max, int64(20))

	empty, _ := Equal("name", "zzz").Evaluate(person)
	_, ok, _ = empty.Average("age")
	AssertFalse(ok)

	_, err = all.Sum("name")
	AssertTrue(errors.Is(err, dberr.ErrorTypeMismatch))

	AssertEqual(all.Count(), 3)
}

func TestEvaluateInsideWriteIsASnapshot(t *testing.T) {

	d, _ := table.NewData("Person", personSchema)
	person := table.New("Person", &directAccess{d: d})
	person.InsertRowWith(map[string]any{"name": "Ann"})

	r, err := All().Evaluate(person)
	AssertNil(err)

	person.InsertRowWith(map[string]any{"name": "Bob"})
	AssertEqual(r.Len(), 1)
	AssertEqual(names(r), []any{"Ann"})
}

// fakeSource publishes versions by hand from the test goroutine.
type fakeSource struct {
	mu       sync.Mutex
	d        *table.Data
	version  uint64
	next     int
	handlers map[int]func(*table.Data, uint64, *table.ChangeSet)
}

func (s *fakeSource) Head(name string) (*table.Data, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d, s.version, nil
}

func (s *fakeSource) Subscribe(name string, f func(*table.Data, uint64, *table.ChangeSet)) (*table.Data, uint64, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handlers == nil {
		s.handlers = map[int]func(*table.Data, uint64, *table.ChangeSet){}
	}
	id := s.next
	s.next++
	s.handlers[id] = f
	return s.d, s.version, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.handlers, id)
	}, nil
}

// write applies f to a copy of the head and publishes it.
func (s *fakeSource) write(f func(t *table.Table)) {
	next := s.d.Clone()
	access := &directAccess{d: next}
	f(table.New(next.Name(), access))
	next.Freeze()

	s.mu.Lock()
	s.d = next
	s.version++
	handlers := []func(*table.Data, uint64, *table.ChangeSet){}
	for _, h := range s.handlers {
		handlers = append(handlers, h)
	}
	version := s.version
	s.mu.Unlock()

	changes := access.changes
	if changes == nil {
		changes = table.NewChangeSet()
	}
	for _, h := range handlers {
		h(next, version, changes)
	}
}

func TestLiveResultsNotifications(t *testing.T) {

	d, _ := people(
		map[string]any{"name": "Ann", "age": 30},
		map[string]any{"name": "Bob", "age": 40},
	).Data()
	source := &fakeSource{d: d}

	live := Live(source, "Person", Greater("age", 18), Asc("age"))
	n, err := live.Len()
	AssertNil(err)
	AssertEqual(n, 2)

	changes := []Change{}
	subscription, err := live.Observe(func(c Change) {
		changes = append(changes, c)
	})
	AssertNil(err)

	// insert + modify of the same row is one insertion
	source.write(func(person *table.Table) {
		row, _ := person.InsertRow()
		person.SetValue(row, "name", "Carl")
		person.SetValue(row, "age", 35)
	})
	AssertEqual(len(changes), 1)
	AssertEqual(changes[0].Inserted, []int{1})
	AssertEqual(changes[0].Modified, []int{})
	AssertEqual(changes[0].Deleted, []int{})

	n, _ = live.Len()
	AssertEqual(n, 3)

	// rows outside of the results do not notify
	source.write(func(person *table.Table) {
		person.InsertRowWith(map[string]any{"name": "Kid", "age": 5})
	})
	AssertEqual(len(changes), 1)

	// positions are relative to the previous delivery
	source.write(func(person *table.Table) {
		person.RemoveRow(table.Row{Table: "Person", Key: 1})
		person.SetValue(table.Row{Table: "Person", Key: 2}, "name", "Robert")
	})
	AssertEqual(len(changes), 2)
	AssertEqual(changes[1].Deleted, []int{0})
	AssertEqual(changes[1].Modified, []int{1})
	AssertEqual(changes[1].Inserted, []int{})

	subscription.Invalidate()
	subscription.Invalidate()

	source.write(func(person *table.Table) {
		person.InsertRowWith(map[string]any{"name": "Dan", "age": 50})
	})
	AssertEqual(len(changes), 2)
	AssertFalse(subscription.Valid())
}
