package domain

import (
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// ErrNoSession is returned by operations that require a connected wallet.
var ErrNoSession = errors.New("no wallet connected")

// ErrInvalidAddress is returned when a wallet address is not a valid
// hex-encoded account address.
var ErrInvalidAddress = errors.New("invalid wallet address")

// NormalizeAddress returns the checksummed form of a hex account
// address. Nodes report addresses in whatever casing they were given;
// normalizing once at the boundary keeps cache keys and ownership
// comparisons casing-independent. Values that are not hex addresses
// pass through unchanged.
func NormalizeAddress(address string) string {
	if !common.IsHexAddress(address) {
		return address
	}
	return common.HexToAddress(address).Hex()
}

// Session holds the connected wallet address for the process. It is set
// on connect, cleared on disconnect, and passed explicitly to the
// orchestrators rather than read from ambient state.
type Session struct {
	mu      sync.RWMutex
	address string
}

// NewSession creates an empty (disconnected) session.
func NewSession() *Session {
	return &Session{}
}

// Connect binds a wallet address to the session. The address is
// validated and normalized to its checksummed form.
func (s *Session) Connect(address string) error {
	if !common.IsHexAddress(address) {
		return ErrInvalidAddress
	}

	s.mu.Lock()
	s.address = NormalizeAddress(address)
	s.mu.Unlock()
	return nil
}

// Disconnect clears the bound address.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.address = ""
	s.mu.Unlock()
}

// Address returns the bound address, or ErrNoSession when disconnected.
func (s *Session) Address() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.address == "" {
		return "", ErrNoSession
	}
	return s.address, nil
}

// Is reports whether the session is bound to the given address.
// Comparison is case-insensitive on the hex digits.
func (s *Session) Is(address string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.address == "" || !common.IsHexAddress(address) {
		return false
	}
	return s.address == NormalizeAddress(address)
}
