// Package readmodel maintains the client-side view of the marketplace
// ledger: versioned cache scopes refreshed from the contract's read
// surface and invalidated by contract events. The ledger stays the
// source of truth; the read model only decides when a cached snapshot
// is still worth showing.
package readmodel

import (
	"fmt"

	"nftmarket/internal/domain"
)

// ScopeKind identifies a class of cached state.
type ScopeKind string

const (
	KindTokensForSale ScopeKind = "tokens_for_sale"
	KindOwnedTokens   ScopeKind = "owned_tokens"
	KindTokenDetail   ScopeKind = "token_detail"
	KindContractStats ScopeKind = "contract_stats"
	KindUserStats     ScopeKind = "user_stats"
)

// Scope names one independently versioned cache entry. Address and
// Token qualify the kinds that are per-user or per-token.
type Scope struct {
	Kind    ScopeKind
	Address string
	Token   domain.TokenID
}

// ScopeTokensForSale is the marketplace listing collection.
func ScopeTokensForSale() Scope {
	return Scope{Kind: KindTokensForSale}
}

// ScopeOwnedTokens is the collection of tokens held by address. The
// address is normalized so that event payloads and session addresses
// with different hex casing name the same scope.
func ScopeOwnedTokens(address string) Scope {
	return Scope{Kind: KindOwnedTokens, Address: domain.NormalizeAddress(address)}
}

// ScopeTokenDetail is the full state of one token.
func ScopeTokenDetail(id domain.TokenID) Scope {
	return Scope{Kind: KindTokenDetail, Token: id}
}

// ScopeContractStats is the marketplace-wide counters.
func ScopeContractStats() Scope {
	return Scope{Kind: KindContractStats}
}

// ScopeUserStats is the per-user trading counters. Addresses are
// normalized the same way as ScopeOwnedTokens.
func ScopeUserStats(address string) Scope {
	return Scope{Kind: KindUserStats, Address: domain.NormalizeAddress(address)}
}

// String returns a stable key for maps and refresh deduplication.
func (s Scope) String() string {
	switch s.Kind {
	case KindOwnedTokens, KindUserStats:
		return fmt.Sprintf("%s:%s", s.Kind, s.Address)
	case KindTokenDetail:
		return fmt.Sprintf("%s:%d", s.Kind, s.Token)
	default:
		return string(s.Kind)
	}
}
