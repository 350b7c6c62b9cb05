package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAddr = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"

func TestNormalizeAddress(t *testing.T) {
	assert.Equal(t, testAddr, NormalizeAddress(strings.ToLower(testAddr)))
	assert.Equal(t, testAddr, NormalizeAddress(strings.ToUpper(testAddr[2:])))

	// Non-address values pass through for the caller to reject.
	assert.Equal(t, "not-an-address", NormalizeAddress("not-an-address"))
	assert.Equal(t, "", NormalizeAddress(""))
}

func TestSessionConnectNormalizes(t *testing.T) {
	s := NewSession()

	// Lowercased input normalizes to the checksummed form.
	require.NoError(t, s.Connect("0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"))

	addr, err := s.Address()
	require.NoError(t, err)
	assert.Equal(t, testAddr, addr)
}

func TestSessionConnectRejectsMalformed(t *testing.T) {
	s := NewSession()
	for _, in := range []string{"", "0x123", "not-an-address", "5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAe"} {
		assert.ErrorIs(t, s.Connect(in), ErrInvalidAddress, "input %q", in)
	}
	_, err := s.Address()
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestSessionDisconnect(t *testing.T) {
	s := NewSession()
	require.NoError(t, s.Connect(testAddr))
	s.Disconnect()

	_, err := s.Address()
	assert.ErrorIs(t, err, ErrNoSession)
	assert.False(t, s.Is(testAddr))
}

func TestSessionIs(t *testing.T) {
	s := NewSession()
	require.NoError(t, s.Connect(testAddr))

	assert.True(t, s.Is(testAddr))
	assert.True(t, s.Is("0x5AAEB6053F3E94C9B9A09F33669435E7EF1BEAED"))
	assert.False(t, s.Is("0x0000000000000000000000000000000000000001"))
	assert.False(t, s.Is("garbage"))
}
