// Package ledger is the typed client for the marketplace contract: read
// calls, transaction submission, receipt waits and event subscriptions.
// It marshals arguments and results and classifies failures; all
// business logic lives above it.
package ledger

import (
	"context"
	"math/big"
	"sync"

	"nftmarket/internal/domain"
)

// Reader is the contract's read surface.
type Reader interface {
	// GetTokensForSale returns ids of tokens currently listed, in
	// listing order, windowed by offset/count.
	GetTokensForSale(ctx context.Context, offset, count uint64) ([]domain.TokenID, error)

	// GetOwnedTokens returns ids of tokens held by owner, windowed by
	// offset/count.
	GetOwnedTokens(ctx context.Context, owner string, offset, count uint64) ([]domain.TokenID, error)

	// GetTokenData returns the on-chain record for a token.
	GetTokenData(ctx context.Context, id domain.TokenID) (*domain.TokenData, error)

	// OwnerOf returns the current holder of a token.
	OwnerOf(ctx context.Context, id domain.TokenID) (string, error)

	// TokenURI returns the content pointer stored at mint time.
	TokenURI(ctx context.Context, id domain.TokenID) (string, error)

	// GetContractStats returns the marketplace-wide aggregate.
	GetContractStats(ctx context.Context) (*domain.ContractStats, error)

	// GetUserStats returns the per-address aggregate.
	GetUserStats(ctx context.Context, address string) (*domain.UserStats, error)
}

// TxHandle identifies a broadcast transaction. The handle is returned
// as soon as the transaction is accepted by the node; confirmation is a
// separate wait.
type TxHandle string

// ReceiptStatus is the terminal outcome of a transaction.
type ReceiptStatus string

const (
	ReceiptConfirmed ReceiptStatus = "confirmed"
	ReceiptReverted  ReceiptStatus = "reverted"
)

// Receipt is the confirmation result for a broadcast transaction.
type Receipt struct {
	TxHash      TxHandle
	Status      ReceiptStatus
	Reason      string // revert reason, empty when confirmed
	BlockNumber uint64
}

// Writer is the contract's write surface. Writes return immediately
// after broadcast; AwaitReceipt resolves the outcome.
type Writer interface {
	// MintNFT mints a token pointing at uri, with an initial price
	// (wei) and a royalty in basis points.
	MintNFT(ctx context.Context, from, uri string, price *big.Int, royaltyBasisPoints uint64) (TxHandle, error)

	// ListForSale puts an owned token on sale at price (wei).
	ListForSale(ctx context.Context, from string, id domain.TokenID, price *big.Int) (TxHandle, error)

	// Delist takes an owned token off sale.
	Delist(ctx context.Context, from string, id domain.TokenID) (TxHandle, error)

	// BuyNFT purchases a listed token, paying value (wei). The
	// contract enforces the authoritative price and reverts on
	// mismatch.
	BuyNFT(ctx context.Context, from string, id domain.TokenID, value *big.Int) (TxHandle, error)

	// AwaitReceipt blocks until the transaction confirms or reverts,
	// or the context expires. Cancelling the wait does not cancel the
	// transaction; once broadcast it may still confirm later.
	AwaitReceipt(ctx context.Context, tx TxHandle) (*Receipt, error)
}

// Contract event names emitted by the marketplace.
const (
	EventTokenListed   = "TokenListed"
	EventTokenDelisted = "TokenDelisted"
	EventTokenSold     = "TokenSold"
)

// Event is a contract event notification. Payloads are used only to
// route cache invalidation; consumers re-read authoritative state
// rather than applying the payload. Delivery is in inclusion order but
// may repeat after reorganizations, so handlers must be idempotent.
type Event struct {
	Name        string
	TokenID     domain.TokenID
	Seller      string // listing/selling party, when the event carries one
	Buyer       string // purchasing party, TokenSold only
	Price       *big.Int
	BlockNumber uint64
}

// Subscription is a live contract event subscription. C is closed when
// the subscription is released.
type Subscription struct {
	Event string
	C     <-chan Event

	cancel func()
	once   sync.Once
}

// NewSubscription wraps a delivery channel and release function.
// Transport implementations use this to hand out subscriptions.
func NewSubscription(event string, ch <-chan Event, cancel func()) *Subscription {
	return &Subscription{Event: event, C: ch, cancel: cancel}
}

// Unsubscribe releases the subscription. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(s.cancel)
}

// EventStream delivers contract events for the lifetime of a
// subscription.
type EventStream interface {
	// Subscribe starts delivery of the named event. The returned
	// subscription must be released with Unsubscribe when its owner
	// goes away.
	Subscribe(ctx context.Context, event string) (*Subscription, error)

	// Close tears down the stream and all subscriptions.
	Close() error
}
