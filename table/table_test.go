package table

import (
	"errors"
	"math"
	"testing"
	"time"

	. "github.com/fulldump/biff"
	"github.com/google/uuid"

	"github.com/fulldump/tightdb/dberr"
)

// memoryAccess is a minimal single-table write transaction.
type memoryAccess struct {
	base     *Data
	data     *Data
	changes  *ChangeSet
	ops      []Op
	readOnly bool
}

func newMemoryAccess(d *Data) *memoryAccess {
	return &memoryAccess{base: d}
}

func (m *memoryAccess) View(name string) (*Data, error) {
	if name != m.base.Name() {
		return nil, dberr.ErrorTableNotFound
	}
	if m.data != nil {
		return m.data, nil
	}
	return m.base, nil
}

func (m *memoryAccess) Mutable(name string) (*Data, *ChangeSet, error) {
	if m.readOnly {
		return nil, nil, dberr.ErrorTransactionState
	}
	if name != m.base.Name() {
		return nil, nil, dberr.ErrorTableNotFound
	}
	if m.data == nil {
		m.data = m.base.Clone()
		m.changes = NewChangeSet()
	}
	return m.data, m.changes, nil
}

func (m *memoryAccess) Record(op Op) {
	m.ops = append(m.ops, op)
}

func personData() *Data {
	d, err := NewData("Person", Schema{
		{Name: "name", Type: TypeString, Indexed: true},
		{Name: "age", Type: TypeInt, Nullable: true},
	})
	AssertNil(err)
	return d
}

func TestInsertAndGet(t *testing.T) {

	access := newMemoryAccess(personData())
	person := New("Person", access)

	row, err := person.InsertRow()
	AssertNil(err)

	name, err := person.GetValue(row, "name")
	AssertNil(err)
	AssertEqual(name, "")

	age, err := person.GetValue(row, "age")
	AssertNil(err)
	AssertEqual(age, nil)

	AssertNil(person.SetValue(row, "name", "Ann"))
	AssertNil(person.SetValue(row, "age", 30))

	name, _ = person.GetValue(row, "name")
	AssertEqual(name, "Ann")
	age, _ = person.GetValue(row, "age")
	AssertEqual(age, int64(30))

	AssertEqual(len(access.ops), 3)
	AssertEqual(access.ops[0].Kind, OpInsert)
}

func TestTypeAndNullability(t *testing.T) {

	access := newMemoryAccess(personData())
	person := New("Person", access)
	row, _ := person.InsertRow()

	err := person.SetValue(row, "age", "thirty")
	AssertTrue(errors.Is(err, dberr.ErrorTypeMismatch))

	err = person.SetValue(row, "age", 1.5)
	AssertTrue(errors.Is(err, dberr.ErrorTypeMismatch))

	err = person.SetValue(row, "name", nil)
	AssertTrue(errors.Is(err, dberr.ErrorNullability))

	AssertNil(person.SetValue(row, "age", nil))

	err = person.SetValue(row, "missing", 1)
	AssertTrue(errors.Is(err, dberr.ErrorSchema))
}

func TestInvalidatedRow(t *testing.T) {

	access := newMemoryAccess(personData())
	person := New("Person", access)

	first, _ := person.InsertRow()
	second, _ := person.InsertRow()

	AssertNil(person.RemoveRow(first))

	err := person.RemoveRow(first)
	AssertTrue(errors.Is(err, dberr.ErrorInvalidatedRow))

	_, err = person.GetValue(first, "name")
	AssertTrue(errors.Is(err, dberr.ErrorInvalidatedRow))

	// surrogate keys: the second row is untouched
	AssertNil(person.SetValue(second, "name", "Bob"))
	name, _ := person.GetValue(second, "name")
	AssertEqual(name, "Bob")

	// keys are never reused
	third, _ := person.InsertRow()
	AssertTrue(third.Key > second.Key)

	_, err = person.GetValue(Row{Table: "Other", Key: second.Key}, "name")
	AssertTrue(errors.Is(err, dberr.ErrorInvalidatedRow))
}

func TestReadOnlyAccess(t *testing.T) {

	access := newMemoryAccess(personData())
	access.readOnly = true
	person := New("Person", access)

	_, err := person.InsertRow()
	AssertTrue(errors.Is(err, dberr.ErrorTransactionState))

	_, err = person.CreateColumn(Column{Name: "email", Type: TypeString})
	AssertTrue(errors.Is(err, dberr.ErrorTransactionState))
	AssertTrue(errors.Is(err, dberr.ErrorSchema))

	err = person.RemoveColumn("age")
	AssertTrue(errors.Is(err, dberr.ErrorTransactionState))
	AssertTrue(errors.Is(err, dberr.ErrorSchema))
}

func TestCloneIsolation(t *testing.T) {

	base := personData()
	seed := base.Clone()
	AssertNil(seed.Apply(Op{Kind: OpInsert, Table: "Person", Key: 1}, nil))
	seed.Freeze()

	access := newMemoryAccess(seed)
	person := New("Person", access)

	row := Row{Table: "Person", Key: 1}
	AssertNil(person.SetValue(row, "name", "changed"))
	_, err := person.InsertRow()
	AssertNil(err)

	// the published version is untouched
	AssertEqual(seed.Len(), 1)
	v, _ := seed.Value(1, 0)
	AssertEqual(v, "")

	err = seed.Apply(Op{Kind: OpInsert, Table: "Person", Key: 10}, nil)
	AssertTrue(errors.Is(err, dberr.ErrorTransactionState))
}

func TestCreateAndRemoveColumn(t *testing.T) {

	access := newMemoryAccess(personData())
	person := New("Person", access)
	row, _ := person.InsertRow()

	_, err := person.CreateColumn(Column{Name: "name", Type: TypeString})
	AssertTrue(errors.Is(err, dberr.ErrorSchema))

	id, err := person.CreateColumn(Column{Name: "score", Type: TypeDouble})
	AssertNil(err)
	AssertEqual(id, ColumnID(2))

	score, err := person.GetValue(row, "score")
	AssertNil(err)
	AssertEqual(score, float64(0))

	AssertNil(person.RemoveColumn("age"))
	columns, _ := person.Columns()
	AssertEqual(len(columns), 2)
	AssertEqual(columns[1].Name, "score")

	score, _ = person.GetValue(row, "score")
	AssertEqual(score, float64(0))

	AssertTrue(errors.Is(person.RemoveColumn("age"), dberr.ErrorSchema))
	AssertTrue(access.changes.SchemaChanged())
}

func TestInsertRowWithIsAtomic(t *testing.T) {

	access := newMemoryAccess(personData())
	person := New("Person", access)

	_, err := person.InsertRowWith(map[string]any{"name": "Ann", "age": "bad"})
	AssertTrue(errors.Is(err, dberr.ErrorTypeMismatch))

	size, _ := person.Size()
	AssertEqual(size, 0)

	_, err = person.InsertRowWith(map[string]any{"nope": 1})
	AssertTrue(errors.Is(err, dberr.ErrorSchema))

	row, err := person.InsertRowWith(map[string]any{"name": "Ann", "age": 30})
	AssertNil(err)
	age, _ := person.GetValue(row, "age")
	AssertEqual(age, int64(30))
}

func TestFindFirst(t *testing.T) {

	access := newMemoryAccess(personData())
	person := New("Person", access)

	for _, name := range []string{"Ann", "Bob", "Ann"} {
		_, err := person.InsertRowWith(map[string]any{"name": name})
		AssertNil(err)
	}

	// indexed
	row, found, err := person.FindFirst("name", "Ann")
	AssertNil(err)
	AssertTrue(found)
	AssertEqual(row.Key, Key(1))

	_, found, _ = person.FindFirst("name", "Zoe")
	AssertFalse(found)

	// not indexed, null matches null
	row, found, err = person.FindFirst("age", nil)
	AssertNil(err)
	AssertTrue(found)
	AssertEqual(row.Key, Key(1))

	// index follows updates
	AssertNil(person.SetValue(Row{Table: "Person", Key: 1}, "name", "Carl"))
	row, _, _ = person.FindFirst("name", "Ann")
	AssertEqual(row.Key, Key(3))
}

func TestClear(t *testing.T) {

	access := newMemoryAccess(personData())
	person := New("Person", access)

	for i := 0; i < 3; i++ {
		person.InsertRow()
	}
	AssertNil(person.Clear())

	size, _ := person.Size()
	AssertEqual(size, 0)

	// all three were inserted in this transaction, so nothing is left
	AssertTrue(access.changes.Empty())

	row, _ := person.InsertRow()
	AssertEqual(row.Key, Key(4))
}

func TestChangeSetCollapse(t *testing.T) {

	cs := NewChangeSet()

	cs.insert(1)
	cs.modify(1)
	AssertEqual(cs.Inserted(), []Key{1})
	AssertEqual(len(cs.Modified()), 0)

	cs.insert(2)
	cs.remove(2)
	AssertFalse(cs.IsInserted(2))
	AssertFalse(cs.IsDeleted(2))

	cs.modify(7)
	cs.remove(7)
	AssertEqual(cs.Deleted(), []Key{7})
	AssertEqual(len(cs.Modified()), 0)

	later := NewChangeSet()
	later.remove(1)
	later.modify(9)
	cs.Merge(later)
	AssertEqual(len(cs.Inserted()), 0)
	AssertEqual(cs.Modified(), []Key{9})
}

func TestValueConversions(t *testing.T) {

	when := time.Date(2024, 5, 6, 7, 8, 9, 10, time.FixedZone("x", 3600))
	id := uuid.New()

	d, err := NewData("All", Schema{
		{Name: "b", Type: TypeBool},
		{Name: "f", Type: TypeFloat},
		{Name: "bin", Type: TypeBinary, Nullable: true},
		{Name: "ts", Type: TypeTimestamp},
		{Name: "id", Type: TypeUUID},
		{Name: "doc", Type: TypeMixed},
	})
	AssertNil(err)

	access := newMemoryAccess(d)
	all := New("All", access)
	row, err := all.InsertRowWith(map[string]any{
		"b":   true,
		"f":   float32(1.5),
		"bin": []byte{1, 2, 3},
		"ts":  when,
		"id":  id,
		"doc": map[string]any{"n": 1},
	})
	AssertNil(err)

	v, _ := all.GetValue(row, "f")
	AssertEqual(v, float32(1.5))

	v, _ = all.GetValue(row, "bin")
	AssertEqual(v, []byte{1, 2, 3})
	v.([]byte)[0] = 9
	v, _ = all.GetValue(row, "bin")
	AssertEqual(v, []byte{1, 2, 3})

	v, _ = all.GetValue(row, "ts")
	AssertTrue(v.(time.Time).Equal(when))

	v, _ = all.GetValue(row, "id")
	AssertEqual(v, id)

	v, _ = all.GetValue(row, "doc")
	AssertEqual(v, map[string]any{"n": int64(1)})

	AssertNil(all.SetValue(row, "bin", nil))
	v, _ = all.GetValue(row, "bin")
	AssertEqual(v, nil)

	err = all.SetValue(row, "ts", "yesterday")
	AssertTrue(errors.Is(err, dberr.ErrorTypeMismatch))
}

func TestCompareNaN(t *testing.T) {

	nan := math.NaN()

	_, ok := Compare(TypeDouble, nan, nan)
	AssertFalse(ok)
	AssertFalse(Equal(TypeDouble, nan, nan))
	AssertFalse(Equal(TypeDouble, nil, nil))

	// total order: null, NaN, numbers
	AssertEqual(compareTotal(TypeDouble, nil, nan), -1)
	AssertEqual(compareTotal(TypeDouble, nan, -1.0), -1)
	AssertEqual(compareTotal(TypeDouble, 2.0, 1.0), 1)
}

func TestParseSchemaYAML(t *testing.T) {

	names, schemas, err := ParseSchemaYAML([]byte(`
tables:
  - name: Person
    columns:
      - {name: name, type: string, indexed: true}
      - {name: age, type: int, nullable: true}
  - name: Dog
    columns:
      - {name: owner, type: string}
`))
	AssertNil(err)
	AssertEqual(names, []string{"Person", "Dog"})
	AssertEqual(schemas["Person"][1], Column{Name: "age", Type: TypeInt, Nullable: true})

	_, _, err = ParseSchemaYAML([]byte(`
tables:
  - name: Bad
    columns:
      - {name: x, type: complex}
`))
	AssertTrue(errors.Is(err, dberr.ErrorSchema))
}
