package engine

import (
	"math/big"
	"sort"

	"github.com/arkadyv/blinddb/internal/algebra"
)

// orderedIndex maps ciphertext values to the ids of the rows holding them,
// kept sorted by the column's comparator so range lookups cost a binary
// search plus the size of the result.
type orderedIndex struct {
	unique  bool
	cmp     algebra.Comparator
	entries []*indexEntry
}

type indexEntry struct {
	hex string
	num *big.Int
	ids map[string]struct{}
}

func newOrderedIndex(unique bool, cmp algebra.Comparator) *orderedIndex {
	return &orderedIndex{unique: unique, cmp: cmp}
}

// search returns the position of the first entry not less than num.
func (ix *orderedIndex) search(num *big.Int) int {
	return sort.Search(len(ix.entries), func(i int) bool {
		return ix.cmp.Compare(ix.entries[i].num, num) >= 0
	})
}

// holder returns the id of a row already holding num, for uniqueness
// diagnostics.
func (ix *orderedIndex) holder(num *big.Int) (string, bool) {
	i := ix.search(num)
	if i < len(ix.entries) && ix.cmp.Compare(ix.entries[i].num, num) == 0 {
		for id := range ix.entries[i].ids {
			return id, true
		}
	}
	return "", false
}

func (ix *orderedIndex) add(hex string, num *big.Int, id string) {
	i := ix.search(num)
	if i < len(ix.entries) && ix.cmp.Compare(ix.entries[i].num, num) == 0 {
		ix.entries[i].ids[id] = struct{}{}
		return
	}
	e := &indexEntry{hex: hex, num: num, ids: map[string]struct{}{id: {}}}
	ix.entries = append(ix.entries, nil)
	copy(ix.entries[i+1:], ix.entries[i:])
	ix.entries[i] = e
}

func (ix *orderedIndex) remove(num *big.Int, id string) {
	i := ix.search(num)
	if i >= len(ix.entries) || ix.cmp.Compare(ix.entries[i].num, num) != 0 {
		return
	}
	delete(ix.entries[i].ids, id)
	if len(ix.entries[i].ids) == 0 {
		ix.entries = append(ix.entries[:i], ix.entries[i+1:]...)
	}
}

// rangeInto adds every row id whose value lies in [low, high] to dst.
// A nil bound is unbounded on that side; both bounds are inclusive.
func (ix *orderedIndex) rangeInto(low, high *big.Int, dst map[string]struct{}) {
	start := 0
	if low != nil {
		start = ix.search(low)
	}
	for i := start; i < len(ix.entries); i++ {
		if high != nil && ix.cmp.Compare(ix.entries[i].num, high) > 0 {
			break
		}
		for id := range ix.entries[i].ids {
			dst[id] = struct{}{}
		}
	}
}
