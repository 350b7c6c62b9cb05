package format

import (
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEther(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"1", "1000000000000000000"},
		{"0.1", "100000000000000000"},
		{"0.000000000000000001", "1"},
		{"2.5", "2500000000000000000"},
		{"0", "0"},
	}
	for _, tt := range tests {
		wei, err := ParseEther(tt.in)
		require.NoError(t, err, "input %q", tt.in)
		assert.Equal(t, tt.want, wei.String(), "input %q", tt.in)
	}
}

func TestParseEther_Rejects(t *testing.T) {
	for _, in := range []string{"", "abc", "1.2.3", "-1", "0.0000000000000000001"} {
		_, err := ParseEther(in)
		require.Error(t, err, "input %q", in)
		assert.True(t, errors.Is(err, ErrInvalidAmount), "input %q", in)
	}
}

func TestFormatWei(t *testing.T) {
	wei, _ := new(big.Int).SetString("1234500000000000000", 10)
	assert.Equal(t, "1.2345", FormatWei(wei, 4))
	assert.Equal(t, "1.23", FormatWei(wei, 2))
	assert.Equal(t, "0", FormatWei(nil, 4))
	assert.Equal(t, "0", FormatWei(big.NewInt(0), 4))
}

func TestParseEtherFormatWeiRoundTrip(t *testing.T) {
	wei, err := ParseEther("3.25")
	require.NoError(t, err)
	assert.Equal(t, "3.25", FormatWei(wei, 18))
}

func TestBasisPointsToPercent(t *testing.T) {
	assert.Equal(t, "2.50", BasisPointsToPercent(250))
	assert.Equal(t, "1.00", BasisPointsToPercent(100))
	assert.Equal(t, "0.00", BasisPointsToPercent(0))
	assert.Equal(t, "100.00", BasisPointsToPercent(10000))
}

func TestPercentToBasisPoints(t *testing.T) {
	bp, err := PercentToBasisPoints("2.5")
	require.NoError(t, err)
	assert.Equal(t, uint64(250), bp)

	// Sub-basis-point precision truncates.
	bp, err = PercentToBasisPoints("2.509")
	require.NoError(t, err)
	assert.Equal(t, uint64(250), bp)

	_, err = PercentToBasisPoints("-1")
	assert.True(t, errors.Is(err, ErrInvalidPercent))
	_, err = PercentToBasisPoints("nope")
	assert.True(t, errors.Is(err, ErrInvalidPercent))
}

func TestShortenAddress(t *testing.T) {
	assert.Equal(t, "0x1234...cdef", ShortenAddress("0x123456789abcdef0123456789abcdef012345cdef"))
	assert.Equal(t, "0x1", ShortenAddress("0x1"))
}

func TestIsNumeric(t *testing.T) {
	for _, s := range []string{"1", "1.5", "-2.25", ".5", "0"} {
		assert.True(t, IsNumeric(s), "input %q", s)
	}
	for _, s := range []string{"", "abc", "1.", "1.2.3", "1e5"} {
		assert.False(t, IsNumeric(s), "input %q", s)
	}
}

func TestParseBigInt(t *testing.T) {
	v, ok := ParseBigInt("123456789012345678901234567890")
	require.True(t, ok)
	assert.Equal(t, "123456789012345678901234567890", v.String())

	_, ok = ParseBigInt("12x")
	assert.False(t, ok)
}
