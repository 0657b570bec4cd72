package engine

import (
	"math/big"

	"github.com/arkadyv/blinddb/internal/algebra"
)

// Filter is a closed set of row-selection expressions. The variants are
// fixed; evaluation is an exhaustive type switch, so a new variant fails to
// compile until every evaluator handles it.
type Filter interface {
	isFilter()
}

// IDFilter selects explicitly named rows; ids that do not exist are ignored.
type IDFilter struct {
	IDs []string
}

// RangeFilter selects rows whose value in an ordered column lies within
// [Low, High], both bounds inclusive, compared by the column's comparator.
// A nil bound leaves that side open.
type RangeFilter struct {
	Column string
	Low    *string
	High   *string
}

// AndFilter intersects the results of its operands.
type AndFilter struct {
	Operands []Filter
}

// OrFilter unions the results of its operands.
type OrFilter struct {
	Operands []Filter
}

// NotFilter complements its operand relative to the table's current rows.
type NotFilter struct {
	Operand Filter
}

func (IDFilter) isFilter()    {}
func (RangeFilter) isFilter() {}
func (AndFilter) isFilter()   {}
func (OrFilter) isFilter()    {}
func (NotFilter) isFilter()   {}

// compiledFilter mirrors Filter with bounds parsed and columns checked
// against the schema, so validation completes before any row is touched.
type compiledFilter interface {
	isCompiled()
}

type compiledIDs struct{ ids []string }

type compiledRange struct {
	column    string
	low, high *big.Int
}

type compiledAnd struct{ operands []compiledFilter }
type compiledOr struct{ operands []compiledFilter }
type compiledNot struct{ operand compiledFilter }

func (compiledIDs) isCompiled()   {}
func (compiledRange) isCompiled() {}
func (compiledAnd) isCompiled()   {}
func (compiledOr) isCompiled()    {}
func (compiledNot) isCompiled()   {}

// compileFilter validates f against the table schema and parses its
// ciphertext bounds. Any reference to an unknown or non-orderable column,
// an empty conjunction, or a malformed ciphertext is a malformed request.
func (t *Table) compileFilter(f Filter) (compiledFilter, error) {
	switch v := f.(type) {
	case IDFilter:
		return compiledIDs{ids: v.IDs}, nil
	case RangeFilter:
		col, ok := t.schema[v.Column]
		if !ok || !col.Kind.ordered() {
			return nil, CodeMalformedRequest
		}
		out := compiledRange{column: v.Column}
		var err error
		if v.Low != nil {
			if out.low, err = algebra.ParseCiphertext(*v.Low); err != nil {
				return nil, CodeMalformedRequest
			}
		}
		if v.High != nil {
			if out.high, err = algebra.ParseCiphertext(*v.High); err != nil {
				return nil, CodeMalformedRequest
			}
		}
		return out, nil
	case AndFilter:
		ops, err := t.compileOperands(v.Operands)
		if err != nil {
			return nil, err
		}
		return compiledAnd{operands: ops}, nil
	case OrFilter:
		ops, err := t.compileOperands(v.Operands)
		if err != nil {
			return nil, err
		}
		return compiledOr{operands: ops}, nil
	case NotFilter:
		if v.Operand == nil {
			return nil, CodeMalformedRequest
		}
		op, err := t.compileFilter(v.Operand)
		if err != nil {
			return nil, err
		}
		return compiledNot{operand: op}, nil
	default:
		return nil, CodeMalformedRequest
	}
}

func (t *Table) compileOperands(operands []Filter) ([]compiledFilter, error) {
	if len(operands) == 0 {
		return nil, CodeMalformedRequest
	}
	out := make([]compiledFilter, 0, len(operands))
	for _, f := range operands {
		if f == nil {
			return nil, CodeMalformedRequest
		}
		c, err := t.compileFilter(f)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// resolve evaluates a compiled filter to the set of matching row ids.
// The caller must hold at least the table's read lock.
func (t *Table) resolve(f compiledFilter) map[string]struct{} {
	switch v := f.(type) {
	case compiledIDs:
		out := make(map[string]struct{})
		for _, id := range v.ids {
			if _, ok := t.rows[id]; ok {
				out[id] = struct{}{}
			}
		}
		return out
	case compiledRange:
		out := make(map[string]struct{})
		t.indices[v.column].rangeInto(v.low, v.high, out)
		return out
	case compiledAnd:
		out := t.resolve(v.operands[0])
		for _, op := range v.operands[1:] {
			next := t.resolve(op)
			for id := range out {
				if _, ok := next[id]; !ok {
					delete(out, id)
				}
			}
		}
		return out
	case compiledOr:
		out := make(map[string]struct{})
		for _, op := range v.operands {
			for id := range t.resolve(op) {
				out[id] = struct{}{}
			}
		}
		return out
	case compiledNot:
		matched := t.resolve(v.operand)
		out := make(map[string]struct{}, len(t.rows))
		for id := range t.rows {
			if _, ok := matched[id]; !ok {
				out[id] = struct{}{}
			}
		}
		return out
	default:
		return map[string]struct{}{}
	}
}
