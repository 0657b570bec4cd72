// Package engine implements the encrypted table store: a concurrency-safe
// directory of per-tenant tables, four capability-bound index kinds over
// opaque ciphertext, and the recursive filter algebra used by query, update
// and delete. The engine never decrypts anything; it relies solely on the
// algebraic contracts in internal/algebra.
package engine

import (
	"sort"
	"sync"

	"github.com/arkadyv/blinddb/internal/algebra"
)

type tableKey struct {
	owner string
	name  string
}

// Engine is the shared table directory. Create and drop take the directory
// write lock; lookups take the read lock. Row-level locking lives inside
// each Table.
type Engine struct {
	mu     sync.RWMutex
	tables map[tableKey]*Table
	prim   algebra.Primitives
}

func New(prim algebra.Primitives) *Engine {
	return &Engine{
		tables: make(map[tableKey]*Table),
		prim:   prim,
	}
}

// CreateTable registers a new table. The lookup-then-insert runs under the
// directory write lock, so exactly one of several concurrent creators of
// the same name succeeds.
func (e *Engine) CreateTable(owner, name string, schema Schema) error {
	if name == "" {
		return CodeMalformedRequest
	}
	t, err := newTable(name, schema, e.prim)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	key := tableKey{owner: owner, name: name}
	if _, ok := e.tables[key]; ok {
		return CodeTableExists
	}
	e.tables[key] = t
	return nil
}

// DropTable removes a table and releases its rows and indices.
func (e *Engine) DropTable(owner, name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := tableKey{owner: owner, name: name}
	if _, ok := e.tables[key]; !ok {
		return CodeTableNotFound
	}
	delete(e.tables, key)
	return nil
}

func (e *Engine) lookup(owner, name string) (*Table, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	t, ok := e.tables[tableKey{owner: owner, name: name}]
	if !ok {
		return nil, CodeTableNotFound
	}
	return t, nil
}

// Insert validates and applies each row of the batch independently. A
// missing table resolves every row of the batch to the table-not-found
// code; no table is created implicitly.
func (e *Engine) Insert(owner, table string, rows map[string]RowInput) (map[string]Outcome, error) {
	t, err := e.lookup(owner, table)
	if err != nil {
		out := make(map[string]Outcome, len(rows))
		for id := range rows {
			out[id] = Outcome{Code: CodeTableNotFound}
		}
		return out, nil
	}
	return t.Insert(rows), nil
}

// Update applies modifications to every row resolved by the filter and
// returns the number of rows touched.
func (e *Engine) Update(owner, table string, f Filter, mods []Modification) (int, error) {
	t, err := e.lookup(owner, table)
	if err != nil {
		return 0, err
	}
	return t.Update(f, mods)
}

// Delete removes every row resolved by the filter.
func (e *Engine) Delete(owner, table string, f Filter) (int, error) {
	t, err := e.lookup(owner, table)
	if err != nil {
		return 0, err
	}
	return t.Delete(f)
}

// Query returns the stored ciphertext of every row resolved by the filter.
func (e *Engine) Query(owner, table string, f Filter) (map[string]RowData, error) {
	t, err := e.lookup(owner, table)
	if err != nil {
		return nil, err
	}
	return t.Query(f)
}

// Owners lists every tenant currently holding at least one table.
func (e *Engine) Owners() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	seen := make(map[string]struct{})
	for key := range e.tables {
		seen[key.owner] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for owner := range seen {
		out = append(out, owner)
	}
	sort.Strings(out)
	return out
}

// Dump captures every table of one tenant for snapshot export.
func (e *Engine) Dump(owner string) map[string]TableDump {
	e.mu.RLock()
	tables := make(map[string]*Table)
	for key, t := range e.tables {
		if key.owner == owner {
			tables[key.name] = t
		}
	}
	e.mu.RUnlock()

	out := make(map[string]TableDump, len(tables))
	for name, t := range tables {
		out[name] = t.Dump()
	}
	return out
}
