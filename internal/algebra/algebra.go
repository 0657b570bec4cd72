// Package algebra defines the algebraic contracts the storage engine relies
// on to work with ciphertext it can never decrypt: a total-order comparator
// for order-preserving ciphertexts and combine operations for additively and
// multiplicatively homomorphic ciphertexts.
//
// Ciphertexts cross the wire as lowercase hex strings and are handled
// internally as big integers. Order-preserving schemes guarantee that the
// numeric order of ciphertexts equals the order of the underlying
// plaintexts, so comparing the integers is sufficient. Additive schemes in
// the Paillier family combine by multiplying ciphertexts modulo n², and
// multiplicative schemes (unpadded RSA, ElGamal) by multiplying modulo n;
// both reduce to modular multiplication with a public, per-column modulus.
package algebra

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

var ErrInvalidCiphertext = errors.New("invalid ciphertext")

// ParseCiphertext decodes a lowercase hex ciphertext into its integer form.
func ParseCiphertext(s string) (*big.Int, error) {
	if s == "" || strings.HasPrefix(s, "-") || strings.ToLower(s) != s {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCiphertext, s)
	}
	n, ok := new(big.Int).SetString(s, 16)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCiphertext, s)
	}
	return n, nil
}

// FormatCiphertext renders an integer ciphertext back to its wire form.
func FormatCiphertext(n *big.Int) string {
	return n.Text(16)
}

// Comparator imposes a total order on ciphertexts, consistent with the
// order of the underlying plaintexts.
type Comparator interface {
	// Compare returns -1, 0 or 1 as a is less than, equal to or greater
	// than b.
	Compare(a, b *big.Int) int
}

// Combiner folds a second ciphertext into a stored one without decrypting
// either.
type Combiner interface {
	Combine(stored, operand *big.Int) *big.Int
}

// Primitives is the crypto collaborator handed to the engine. It issues the
// comparator used by ordered indices and per-column combiners for
// homomorphic updates.
type Primitives interface {
	Comparator() Comparator
	// AddCombiner returns the additive combine operation for a column.
	// modulusHex is the scheme's public modulus (n² for Paillier); empty
	// means combine without reduction.
	AddCombiner(modulusHex string) (Combiner, error)
	// MulCombiner is the multiplicative counterpart (modulus n).
	MulCombiner(modulusHex string) (Combiner, error)
}

// BigInt implements Primitives over plain big-integer arithmetic.
type BigInt struct{}

func (BigInt) Comparator() Comparator { return numericComparator{} }

func (BigInt) AddCombiner(modulusHex string) (Combiner, error) {
	return newModCombiner(modulusHex)
}

func (BigInt) MulCombiner(modulusHex string) (Combiner, error) {
	return newModCombiner(modulusHex)
}

type numericComparator struct{}

func (numericComparator) Compare(a, b *big.Int) int { return a.Cmp(b) }

// modCombiner multiplies ciphertexts modulo a public modulus. Both the
// Paillier additive combine and the RSA/ElGamal multiplicative combine are
// ciphertext products; only the modulus differs, and the client supplies it
// per column at table creation.
type modCombiner struct {
	modulus *big.Int // nil disables reduction
}

func newModCombiner(modulusHex string) (Combiner, error) {
	if modulusHex == "" {
		return modCombiner{}, nil
	}
	m, err := ParseCiphertext(modulusHex)
	if err != nil {
		return nil, err
	}
	if m.Sign() <= 0 {
		return nil, fmt.Errorf("%w: modulus must be positive", ErrInvalidCiphertext)
	}
	return modCombiner{modulus: m}, nil
}

func (c modCombiner) Combine(stored, operand *big.Int) *big.Int {
	out := new(big.Int).Mul(stored, operand)
	if c.modulus != nil {
		out.Mod(out, c.modulus)
	}
	return out
}
