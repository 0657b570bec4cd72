package algebra

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCiphertext(t *testing.T) {
	n, err := ParseCiphertext("ff")
	require.NoError(t, err)
	assert.Equal(t, int64(255), n.Int64())

	_, err = ParseCiphertext("")
	assert.ErrorIs(t, err, ErrInvalidCiphertext)

	_, err = ParseCiphertext("FF")
	assert.ErrorIs(t, err, ErrInvalidCiphertext)

	_, err = ParseCiphertext("zz")
	assert.ErrorIs(t, err, ErrInvalidCiphertext)
}

func TestFormatCiphertext_RoundTrip(t *testing.T) {
	n, err := ParseCiphertext("1a2b3c")
	require.NoError(t, err)
	assert.Equal(t, "1a2b3c", FormatCiphertext(n))
}

func TestComparator_OrderMatchesIntegers(t *testing.T) {
	cmp := BigInt{}.Comparator()

	a := big.NewInt(10)
	b := big.NewInt(20)

	assert.Equal(t, -1, cmp.Compare(a, b))
	assert.Equal(t, 1, cmp.Compare(b, a))
	assert.Equal(t, 0, cmp.Compare(a, big.NewInt(10)))
}

func TestModCombiner_ReducesByModulus(t *testing.T) {
	// modulus 0x11 = 17
	c, err := BigInt{}.AddCombiner("11")
	require.NoError(t, err)

	got := c.Combine(big.NewInt(5), big.NewInt(7))
	assert.Equal(t, int64(35%17), got.Int64())
}

func TestModCombiner_NoModulus(t *testing.T) {
	c, err := BigInt{}.MulCombiner("")
	require.NoError(t, err)

	got := c.Combine(big.NewInt(6), big.NewInt(7))
	assert.Equal(t, int64(42), got.Int64())
}

func TestModCombiner_InvalidModulus(t *testing.T) {
	_, err := BigInt{}.AddCombiner("not-hex")
	assert.ErrorIs(t, err, ErrInvalidCiphertext)

	_, err = BigInt{}.AddCombiner("0")
	assert.ErrorIs(t, err, ErrInvalidCiphertext)
}
