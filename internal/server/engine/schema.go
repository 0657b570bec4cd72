package engine

// IndexKind names the capability a column's encryption scheme exposes to
// the server.
type IndexKind string

const (
	// KindSort requires order-preserving ciphertexts; supports range
	// queries, duplicates allowed.
	KindSort IndexKind = "sort"
	// KindUnique is KindSort plus a per-table uniqueness constraint on the
	// ciphertext.
	KindUnique IndexKind = "unique"
	// KindAdd stores additively homomorphic ciphertexts; the only
	// supported operation is the additive combine.
	KindAdd IndexKind = "add"
	// KindMultiply stores multiplicatively homomorphic ciphertexts.
	KindMultiply IndexKind = "multiply"
)

func (k IndexKind) valid() bool {
	switch k {
	case KindSort, KindUnique, KindAdd, KindMultiply:
		return true
	}
	return false
}

func (k IndexKind) ordered() bool {
	return k == KindSort || k == KindUnique
}

// ColumnSpec describes one indexed column. Modulus carries the public
// modulus for homomorphic combines (hex, optional); it is meaningless for
// ordered kinds.
type ColumnSpec struct {
	Kind    IndexKind `json:"kind"`
	Modulus string    `json:"modulus,omitempty"`
}

// Schema maps column name to its index declaration. It is fixed at table
// creation; changing indices requires drop and recreate.
type Schema map[string]ColumnSpec

func (s Schema) validate() error {
	if len(s) == 0 {
		return CodeMalformedRequest
	}
	for name, col := range s {
		if name == "" || !col.Kind.valid() {
			return CodeMalformedRequest
		}
		if col.Modulus != "" && col.Kind.ordered() {
			return CodeMalformedRequest
		}
	}
	return nil
}
