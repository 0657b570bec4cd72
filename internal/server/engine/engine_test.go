package engine

import (
	"fmt"
	"math/big"
	"testing"

	"github.com/arkadyv/blinddb/internal/algebra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const owner = "alice"

func hexOf(n int64) string {
	return big.NewInt(n).Text(16)
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	return New(algebra.BigInt{})
}

func createPeopleTable(t *testing.T, e *Engine) {
	t.Helper()
	err := e.CreateTable(owner, "people", Schema{
		"age":     {Kind: KindSort},
		"card_no": {Kind: KindUnique},
	})
	require.NoError(t, err)
}

func personRow(age, card int64) RowInput {
	return RowInput{
		Indexed: map[string]string{"age": hexOf(age), "card_no": hexOf(card)},
		Extra:   fmt.Sprintf("blob-%d-%d", age, card),
	}
}

func TestCreateTable_DuplicateName(t *testing.T) {
	e := newTestEngine(t)

	require.NoError(t, e.CreateTable(owner, "t", Schema{"a": {Kind: KindSort}}))

	err := e.CreateTable(owner, "t", Schema{"a": {Kind: KindSort}})
	assert.Equal(t, CodeTableExists, err)
}

func TestCreateTable_InvalidSchema(t *testing.T) {
	e := newTestEngine(t)

	err := e.CreateTable(owner, "t", Schema{"a": {Kind: "hash"}})
	assert.Equal(t, CodeMalformedRequest, err)

	err = e.CreateTable(owner, "t", Schema{})
	assert.Equal(t, CodeMalformedRequest, err)
}

func TestCreateTable_TenantsDoNotCollide(t *testing.T) {
	e := newTestEngine(t)

	require.NoError(t, e.CreateTable("alice", "t", Schema{"a": {Kind: KindSort}}))
	require.NoError(t, e.CreateTable("bob", "t", Schema{"a": {Kind: KindSort}}))

	assert.Equal(t, CodeTableNotFound, e.DropTable("carol", "t"))
	require.NoError(t, e.DropTable("bob", "t"))

	// alice's table survives bob's drop
	_, err := e.Query("alice", "t", IDFilter{})
	assert.NoError(t, err)
}

func TestDropTable_NotFound(t *testing.T) {
	e := newTestEngine(t)
	assert.Equal(t, CodeTableNotFound, e.DropTable(owner, "missing"))
}

func TestInsert_TableNotFound_AllRowsFail(t *testing.T) {
	e := newTestEngine(t)

	rows := map[string]RowInput{
		"r1": personRow(1, 1),
		"r2": personRow(2, 2),
		"r3": personRow(3, 3),
	}
	out, err := e.Insert(owner, "missing", rows)
	require.NoError(t, err)
	require.Len(t, out, 3)
	for id, o := range out {
		assert.False(t, o.OK, "row %s", id)
		assert.Equal(t, CodeTableNotFound, o.Code, "row %s", id)
	}

	// no table was created implicitly
	assert.Equal(t, CodeTableNotFound, e.DropTable(owner, "missing"))
}

func TestInsert_MissingIndexedValue(t *testing.T) {
	e := newTestEngine(t)
	createPeopleTable(t, e)

	out, err := e.Insert(owner, "people", map[string]RowInput{
		"r1": {Indexed: map[string]string{"age": hexOf(30)}, Extra: "x"},
	})
	require.NoError(t, err)
	require.False(t, out["r1"].OK)
	assert.Equal(t, CodeMissingIndexedValue, out["r1"].Code)
	assert.Equal(t, []string{"card_no"}, out["r1"].Columns)

	// the failed row left no trace
	data, err := e.Query(owner, "people", NotFilter{Operand: IDFilter{}})
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestInsert_UnknownIndexedValue(t *testing.T) {
	e := newTestEngine(t)
	createPeopleTable(t, e)

	in := personRow(30, 1)
	in.Indexed["shoe_size"] = hexOf(42)

	out, err := e.Insert(owner, "people", map[string]RowInput{"r1": in})
	require.NoError(t, err)
	assert.Equal(t, CodeUnknownIndexedValue, out["r1"].Code)
	assert.Equal(t, []string{"shoe_size"}, out["r1"].Columns)
}

func TestInsert_DuplicateRowID(t *testing.T) {
	e := newTestEngine(t)
	createPeopleTable(t, e)

	out, err := e.Insert(owner, "people", map[string]RowInput{"r1": personRow(30, 1)})
	require.NoError(t, err)
	require.True(t, out["r1"].OK)

	out, err = e.Insert(owner, "people", map[string]RowInput{"r1": personRow(31, 2)})
	require.NoError(t, err)
	assert.Equal(t, CodeDuplicateRowID, out["r1"].Code)
}

func TestInsert_DuplicateUniqueValue(t *testing.T) {
	e := newTestEngine(t)
	createPeopleTable(t, e)

	out, err := e.Insert(owner, "people", map[string]RowInput{"r1": personRow(30, 7)})
	require.NoError(t, err)
	require.True(t, out["r1"].OK)

	out, err = e.Insert(owner, "people", map[string]RowInput{"r2": personRow(40, 7)})
	require.NoError(t, err)
	require.False(t, out["r2"].OK)
	assert.Equal(t, CodeDuplicateUniqueValue, out["r2"].Code)
	assert.Equal(t, "card_no", out["r2"].Column)
	assert.Equal(t, hexOf(7), out["r2"].Value)
	assert.Equal(t, "r1", out["r2"].ExistingRow)

	// the rejected row is gone from row store and indices
	data, err := e.Query(owner, "people", RangeFilter{Column: "age", Low: ptr(hexOf(40)), High: ptr(hexOf(40))})
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestInsert_PartialBatch(t *testing.T) {
	e := newTestEngine(t)
	createPeopleTable(t, e)

	out, err := e.Insert(owner, "people", map[string]RowInput{
		"good": personRow(30, 1),
		"bad":  {Indexed: map[string]string{"age": hexOf(1)}},
	})
	require.NoError(t, err)
	assert.True(t, out["good"].OK)
	assert.Equal(t, CodeMissingIndexedValue, out["bad"].Code)
}

func ptr(s string) *string { return &s }

func seedAges(t *testing.T, e *Engine, ages ...int64) {
	t.Helper()
	rows := make(map[string]RowInput, len(ages))
	for i, age := range ages {
		rows[fmt.Sprintf("r%d", i+1)] = personRow(age, int64(i+1))
	}
	out, err := e.Insert(owner, "people", rows)
	require.NoError(t, err)
	for id, o := range out {
		require.True(t, o.OK, "row %s: %v", id, o.Code)
	}
}

func TestQuery_RangeInclusive(t *testing.T) {
	e := newTestEngine(t)
	createPeopleTable(t, e)
	seedAges(t, e, 10, 20, 30) // r1, r2, r3

	data, err := e.Query(owner, "people", RangeFilter{
		Column: "age", Low: ptr(hexOf(10)), High: ptr(hexOf(30)),
	})
	require.NoError(t, err)
	assert.Len(t, data, 3)
	assert.Contains(t, data, "r2") // the middle value

	data, err = e.Query(owner, "people", RangeFilter{
		Column: "age", Low: ptr(hexOf(10)), High: ptr(hexOf(10)),
	})
	require.NoError(t, err)
	require.Len(t, data, 1)
	assert.Contains(t, data, "r1")
}

func TestQuery_RangeOpenBounds(t *testing.T) {
	e := newTestEngine(t)
	createPeopleTable(t, e)
	seedAges(t, e, 10, 20, 30)

	data, err := e.Query(owner, "people", RangeFilter{Column: "age", Low: ptr(hexOf(20))})
	require.NoError(t, err)
	assert.Len(t, data, 2)

	data, err = e.Query(owner, "people", RangeFilter{Column: "age", High: ptr(hexOf(20))})
	require.NoError(t, err)
	assert.Len(t, data, 2)

	data, err = e.Query(owner, "people", RangeFilter{Column: "age"})
	require.NoError(t, err)
	assert.Len(t, data, 3)
}

func TestQuery_RangeOnNonOrderableColumn(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.CreateTable(owner, "acc", Schema{
		"balance": {Kind: KindAdd},
	}))

	_, err := e.Query(owner, "acc", RangeFilter{Column: "balance"})
	assert.Equal(t, CodeMalformedRequest, err)

	_, err = e.Query(owner, "acc", RangeFilter{Column: "missing"})
	assert.Equal(t, CodeMalformedRequest, err)
}

func TestQuery_SetAlgebraLaws(t *testing.T) {
	e := newTestEngine(t)
	createPeopleTable(t, e)
	seedAges(t, e, 10, 20, 30, 40)

	f := RangeFilter{Column: "age", Low: ptr(hexOf(15)), High: ptr(hexOf(35))}

	base, err := e.Query(owner, "people", f)
	require.NoError(t, err)
	require.Len(t, base, 2)

	// And(f, f) = f
	both, err := e.Query(owner, "people", AndFilter{Operands: []Filter{f, f}})
	require.NoError(t, err)
	assert.Equal(t, keys(base), keys(both))

	// Or(f, Not(f)) = U
	all, err := e.Query(owner, "people", OrFilter{Operands: []Filter{f, NotFilter{Operand: f}}})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	// Not(Not(f)) = f
	double, err := e.Query(owner, "people", NotFilter{Operand: NotFilter{Operand: f}})
	require.NoError(t, err)
	assert.Equal(t, keys(base), keys(double))
}

func keys(m map[string]RowData) map[string]struct{} {
	out := make(map[string]struct{}, len(m))
	for k := range m {
		out[k] = struct{}{}
	}
	return out
}

func TestQuery_IDFilterIgnoresUnknownIDs(t *testing.T) {
	e := newTestEngine(t)
	createPeopleTable(t, e)
	seedAges(t, e, 10)

	data, err := e.Query(owner, "people", IDFilter{IDs: []string{"r1", "ghost"}})
	require.NoError(t, err)
	require.Len(t, data, 1)
	assert.Contains(t, data, "r1")
}

func TestUpdate_SetExtra(t *testing.T) {
	e := newTestEngine(t)
	createPeopleTable(t, e)
	seedAges(t, e, 10, 20)

	n, err := e.Update(owner, "people", IDFilter{IDs: []string{"r1"}}, []Modification{
		{Op: OpSet, Value: "new-blob"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	data, err := e.Query(owner, "people", IDFilter{IDs: []string{"r1", "r2"}})
	require.NoError(t, err)
	assert.Equal(t, "new-blob", data["r1"].Extra)
	assert.NotEqual(t, "new-blob", data["r2"].Extra)
}

func TestUpdate_SetSortColumnReindexes(t *testing.T) {
	e := newTestEngine(t)
	createPeopleTable(t, e)
	seedAges(t, e, 10)

	n, err := e.Update(owner, "people", IDFilter{IDs: []string{"r1"}}, []Modification{
		{Op: OpSet, Column: "age", Value: hexOf(99)},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	data, err := e.Query(owner, "people", RangeFilter{Column: "age", Low: ptr(hexOf(99)), High: ptr(hexOf(99))})
	require.NoError(t, err)
	assert.Contains(t, data, "r1")

	data, err = e.Query(owner, "people", RangeFilter{Column: "age", High: ptr(hexOf(10))})
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestUpdate_MismatchedModification(t *testing.T) {
	e := newTestEngine(t)
	createPeopleTable(t, e)
	seedAges(t, e, 10)

	// add on a sort column
	_, err := e.Update(owner, "people", IDFilter{IDs: []string{"r1"}}, []Modification{
		{Op: OpAdd, Column: "age", Value: hexOf(1)},
	})
	assert.Equal(t, CodeMalformedRequest, err)

	// set with column on a unique column
	_, err = e.Update(owner, "people", IDFilter{IDs: []string{"r1"}}, []Modification{
		{Op: OpSet, Column: "card_no", Value: hexOf(1)},
	})
	assert.Equal(t, CodeMalformedRequest, err)
}

func TestUpdate_TableNotFound(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Update(owner, "missing", IDFilter{}, []Modification{{Op: OpSet, Value: "x"}})
	assert.Equal(t, CodeTableNotFound, err)
}

type countingPrimitives struct {
	algebra.BigInt
	combines int
}

type countingCombiner struct {
	inner algebra.Combiner
	count *int
}

func (c countingCombiner) Combine(stored, operand *big.Int) *big.Int {
	*c.count++
	return c.inner.Combine(stored, operand)
}

func (p *countingPrimitives) AddCombiner(modulusHex string) (algebra.Combiner, error) {
	inner, err := p.BigInt.AddCombiner(modulusHex)
	if err != nil {
		return nil, err
	}
	return countingCombiner{inner: inner, count: &p.combines}, nil
}

func TestUpdate_AddCombinesOncePerMatchedRow(t *testing.T) {
	prim := &countingPrimitives{}
	e := New(prim)

	require.NoError(t, e.CreateTable(owner, "acc", Schema{
		"balance": {Kind: KindAdd},
		"ref":     {Kind: KindSort},
	}))

	rows := map[string]RowInput{}
	for i := int64(1); i <= 3; i++ {
		rows[fmt.Sprintf("a%d", i)] = RowInput{
			Indexed: map[string]string{"balance": hexOf(i * 100), "ref": hexOf(i)},
			Extra:   "x",
		}
	}
	out, err := e.Insert(owner, "acc", rows)
	require.NoError(t, err)
	for _, o := range out {
		require.True(t, o.OK)
	}

	n, err := e.Update(owner, "acc", RangeFilter{Column: "ref", Low: ptr(hexOf(1)), High: ptr(hexOf(2))}, []Modification{
		{Op: OpAdd, Column: "balance", Value: hexOf(5)},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, prim.combines)

	// untouched rows and columns keep their values
	data, err := e.Query(owner, "acc", IDFilter{IDs: []string{"a1", "a3"}})
	require.NoError(t, err)
	assert.Equal(t, hexOf(100*5), data["a1"].Indexed["balance"])
	assert.Equal(t, hexOf(300), data["a3"].Indexed["balance"])
	assert.Equal(t, hexOf(1), data["a1"].Indexed["ref"])
}

func TestUpdate_MultiplyColumn(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.CreateTable(owner, "acc", Schema{
		"factor": {Kind: KindMultiply, Modulus: hexOf(1000)},
	}))

	out, err := e.Insert(owner, "acc", map[string]RowInput{
		"a1": {Indexed: map[string]string{"factor": hexOf(30)}, Extra: "x"},
	})
	require.NoError(t, err)
	require.True(t, out["a1"].OK)

	n, err := e.Update(owner, "acc", IDFilter{IDs: []string{"a1"}}, []Modification{
		{Op: OpMultiply, Column: "factor", Value: hexOf(40)},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	data, err := e.Query(owner, "acc", IDFilter{IDs: []string{"a1"}})
	require.NoError(t, err)
	assert.Equal(t, hexOf(30*40%1000), data["a1"].Indexed["factor"])
}

func TestDelete_RemovesFromStoreAndIndices(t *testing.T) {
	e := newTestEngine(t)
	createPeopleTable(t, e)
	seedAges(t, e, 10, 20, 30)

	n, err := e.Delete(owner, "people", RangeFilter{Column: "age", High: ptr(hexOf(20))})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	data, err := e.Query(owner, "people", NotFilter{Operand: IDFilter{}})
	require.NoError(t, err)
	require.Len(t, data, 1)
	assert.Contains(t, data, "r3")

	// index entries for deleted rows are gone
	data, err = e.Query(owner, "people", RangeFilter{Column: "age", High: ptr(hexOf(20))})
	require.NoError(t, err)
	assert.Empty(t, data)

	// their unique values are reusable again
	out, err := e.Insert(owner, "people", map[string]RowInput{"r9": personRow(10, 1)})
	require.NoError(t, err)
	assert.True(t, out["r9"].OK)
}

func TestDelete_TableNotFound(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Delete(owner, "missing", IDFilter{})
	assert.Equal(t, CodeTableNotFound, err)
}

func TestDump_CapturesCiphertext(t *testing.T) {
	e := newTestEngine(t)
	createPeopleTable(t, e)
	seedAges(t, e, 10)

	assert.Equal(t, []string{owner}, e.Owners())

	dump := e.Dump(owner)
	require.Contains(t, dump, "people")
	assert.Equal(t, KindSort, dump["people"].Schema["age"].Kind)
	require.Contains(t, dump["people"].Rows, "r1")
	assert.Equal(t, hexOf(10), dump["people"].Rows["r1"].Indexed["age"])
}
