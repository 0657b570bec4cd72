package engine

import (
	"math/big"
	"sort"
	"sync"

	"github.com/arkadyv/blinddb/internal/algebra"
)

// RowInput is one row as supplied by the client: ciphertext per indexed
// column plus the opaque extra blob.
type RowInput struct {
	Indexed map[string]string
	Extra   string
}

// RowData is the stored form returned by queries. The server hands back
// exactly the ciphertext it was given (or produced by homomorphic folding).
type RowData struct {
	Indexed map[string]string `json:"indexed"`
	Extra   string            `json:"extra"`
}

// Outcome reports the per-row result of an insert. Failed rows leave no
// trace in the row store or any index.
type Outcome struct {
	OK          bool
	Code        Code
	Columns     []string // missing (303) or unknown (304) column names
	Column      string   // colliding unique column (302)
	Value       string   // colliding ciphertext (302)
	ExistingRow string   // row already holding the value (302)
}

func okOutcome() Outcome { return Outcome{OK: true} }

// ModOp is an update modification operator.
type ModOp string

const (
	// OpSet replaces a stored value with a new ciphertext the client
	// already encrypted. An empty column targets the extra blob;
	// otherwise the column must be sort-indexed.
	OpSet ModOp = "set"
	// OpAdd folds a delta into an add-indexed column homomorphically.
	OpAdd ModOp = "add"
	// OpMultiply folds a factor into a multiply-indexed column.
	OpMultiply ModOp = "multiply"
)

// Modification is one column change inside an update command.
type Modification struct {
	Op     ModOp
	Column string
	Value  string
}

type value struct {
	hex string
	num *big.Int // nil for opaque storage without algebraic use
}

type row struct {
	indexed map[string]value
	extra   string
}

// Table owns a row store and the index structures declared by its schema.
// All exported operations take the table lock; writes are exclusive so no
// reader ever observes a partially applied row.
type Table struct {
	mu        sync.RWMutex
	name      string
	schema    Schema
	cmp       algebra.Comparator
	combiners map[string]algebra.Combiner // add/multiply columns only
	rows      map[string]*row
	indices   map[string]*orderedIndex // sort/unique columns only
}

func newTable(name string, schema Schema, prim algebra.Primitives) (*Table, error) {
	if err := schema.validate(); err != nil {
		return nil, err
	}
	t := &Table{
		name:      name,
		schema:    schema,
		cmp:       prim.Comparator(),
		combiners: make(map[string]algebra.Combiner),
		rows:      make(map[string]*row),
		indices:   make(map[string]*orderedIndex),
	}
	for col, spec := range schema {
		switch spec.Kind {
		case KindSort, KindUnique:
			t.indices[col] = newOrderedIndex(spec.Kind == KindUnique, t.cmp)
		case KindAdd:
			c, err := prim.AddCombiner(spec.Modulus)
			if err != nil {
				return nil, CodeMalformedRequest
			}
			t.combiners[col] = c
		case KindMultiply:
			c, err := prim.MulCombiner(spec.Modulus)
			if err != nil {
				return nil, CodeMalformedRequest
			}
			t.combiners[col] = c
		}
	}
	return t, nil
}

// Insert applies each row independently: a failing row reports its own
// outcome and never aborts its siblings. Rows are processed in id order so
// intra-batch unique collisions resolve deterministically.
func (t *Table) Insert(rows map[string]RowInput) map[string]Outcome {
	t.mu.Lock()
	defer t.mu.Unlock()

	ids := make([]string, 0, len(rows))
	for id := range rows {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make(map[string]Outcome, len(rows))
	for _, id := range ids {
		out[id] = t.insertRow(id, rows[id])
	}
	return out
}

func (t *Table) insertRow(id string, in RowInput) Outcome {
	if id == "" {
		return Outcome{Code: CodeMalformedRequest}
	}

	var missing []string
	for col := range t.schema {
		if _, ok := in.Indexed[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return Outcome{Code: CodeMissingIndexedValue, Columns: missing}
	}

	var unknown []string
	for col := range in.Indexed {
		if _, ok := t.schema[col]; !ok {
			unknown = append(unknown, col)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return Outcome{Code: CodeUnknownIndexedValue, Columns: unknown}
	}

	if _, ok := t.rows[id]; ok {
		return Outcome{Code: CodeDuplicateRowID}
	}

	parsed := make(map[string]value, len(in.Indexed))
	for col, hex := range in.Indexed {
		num, err := algebra.ParseCiphertext(hex)
		if err != nil {
			return Outcome{Code: CodeMalformedRequest, Columns: []string{col}}
		}
		parsed[col] = value{hex: hex, num: num}
	}

	for col, ix := range t.indices {
		if !ix.unique {
			continue
		}
		if existing, ok := ix.holder(parsed[col].num); ok {
			return Outcome{
				Code:        CodeDuplicateUniqueValue,
				Column:      col,
				Value:       parsed[col].hex,
				ExistingRow: existing,
			}
		}
	}

	// Commit: row store and every index in one step under the write lock.
	t.rows[id] = &row{indexed: parsed, extra: in.Extra}
	for col, ix := range t.indices {
		ix.add(parsed[col].hex, parsed[col].num, id)
	}
	return okOutcome()
}

// Update applies every modification to every row the filter resolves.
// Modifications are validated against the schema before any row changes;
// per row, all modifications land as one step under the write lock.
func (t *Table) Update(f Filter, mods []Modification) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cf, err := t.compileFilter(f)
	if err != nil {
		return 0, err
	}
	compiled, err := t.compileMods(mods)
	if err != nil {
		return 0, err
	}

	matched := t.resolve(cf)
	for id := range matched {
		r := t.rows[id]
		for _, m := range compiled {
			m.apply(t, id, r)
		}
	}
	return len(matched), nil
}

type compiledMod struct {
	op     ModOp
	column string
	raw    string   // opaque extra payload for set-extra
	num    *big.Int // parsed ciphertext for column ops
}

func (t *Table) compileMods(mods []Modification) ([]compiledMod, error) {
	if len(mods) == 0 {
		return nil, CodeMalformedRequest
	}
	out := make([]compiledMod, 0, len(mods))
	for _, m := range mods {
		c := compiledMod{op: m.Op, column: m.Column}
		switch m.Op {
		case OpSet:
			if m.Column == "" {
				c.raw = m.Value
				out = append(out, c)
				continue
			}
			if t.schema[m.Column].Kind != KindSort {
				return nil, CodeMalformedRequest
			}
		case OpAdd:
			if t.schema[m.Column].Kind != KindAdd {
				return nil, CodeMalformedRequest
			}
		case OpMultiply:
			if t.schema[m.Column].Kind != KindMultiply {
				return nil, CodeMalformedRequest
			}
		default:
			return nil, CodeMalformedRequest
		}
		num, err := algebra.ParseCiphertext(m.Value)
		if err != nil {
			return nil, CodeMalformedRequest
		}
		c.num = num
		out = append(out, c)
	}
	return out, nil
}

func (m compiledMod) apply(t *Table, id string, r *row) {
	switch m.op {
	case OpSet:
		if m.column == "" {
			r.extra = m.raw
			return
		}
		old := r.indexed[m.column]
		ix := t.indices[m.column]
		ix.remove(old.num, id)
		ix.add(algebra.FormatCiphertext(m.num), m.num, id)
		r.indexed[m.column] = value{hex: algebra.FormatCiphertext(m.num), num: m.num}
	case OpAdd, OpMultiply:
		old := r.indexed[m.column]
		combined := t.combiners[m.column].Combine(old.num, m.num)
		r.indexed[m.column] = value{hex: algebra.FormatCiphertext(combined), num: combined}
	}
}

// Delete removes every resolved row from the row store and from all
// per-column indices, returning how many were removed.
func (t *Table) Delete(f Filter) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cf, err := t.compileFilter(f)
	if err != nil {
		return 0, err
	}
	matched := t.resolve(cf)
	for id := range matched {
		r := t.rows[id]
		for col, ix := range t.indices {
			ix.remove(r.indexed[col].num, id)
		}
		delete(t.rows, id)
	}
	return len(matched), nil
}

// Query returns the stored ciphertext of every resolved row.
func (t *Table) Query(f Filter) (map[string]RowData, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	cf, err := t.compileFilter(f)
	if err != nil {
		return nil, err
	}
	matched := t.resolve(cf)
	out := make(map[string]RowData, len(matched))
	for id := range matched {
		out[id] = t.rows[id].data()
	}
	return out, nil
}

func (r *row) data() RowData {
	indexed := make(map[string]string, len(r.indexed))
	for col, v := range r.indexed {
		indexed[col] = v.hex
	}
	return RowData{Indexed: indexed, Extra: r.extra}
}

// Dump captures the table's schema and rows for snapshot export.
func (t *Table) Dump() TableDump {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rows := make(map[string]RowData, len(t.rows))
	for id, r := range t.rows {
		rows[id] = r.data()
	}
	return TableDump{Schema: t.schema, Rows: rows}
}

// TableDump is a point-in-time ciphertext copy of one table.
type TableDump struct {
	Schema Schema             `json:"schema"`
	Rows   map[string]RowData `json:"rows"`
}
