// Package actions drives the listing lifecycle transactions: list a
// token for sale, delist it, and buy a listed token. Preconditions are
// checked against the read model before anything is submitted, so a
// flow that cannot succeed never broadcasts a transaction.
package actions

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"nftmarket/internal/domain"
	"nftmarket/internal/format"
	"nftmarket/internal/ledger"
	"nftmarket/internal/observability"
	"nftmarket/internal/readmodel"
)

// Precondition failures. None of these put anything on the wire.
var (
	// ErrNotOwner means the caller does not own the token.
	ErrNotOwner = errors.New("caller does not own this token")

	// ErrOwnTokenPurchase means the caller tried to buy their own token.
	ErrOwnTokenPurchase = errors.New("cannot buy your own token")

	// ErrNotForSale means the token has no active listing.
	ErrNotForSale = errors.New("token is not for sale")

	// ErrInvalidPrice means the listing price is missing or not positive.
	ErrInvalidPrice = errors.New("price must be a positive amount")
)

// Outcome is a confirmed or reverted action transaction.
type Outcome struct {
	TxHash  ledger.TxHandle
	Receipt *ledger.Receipt
}

// Orchestrator runs listing lifecycle flows. Safe for concurrent use.
type Orchestrator struct {
	writer  ledger.Writer
	view    *readmodel.Synchronizer
	session *domain.Session
	logger  logrus.FieldLogger

	receiptTimeout time.Duration
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the orchestrator logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

// WithReceiptTimeout bounds the wait for action receipts.
func WithReceiptTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.receiptTimeout = d
	}
}

// NewOrchestrator creates an action orchestrator.
func NewOrchestrator(writer ledger.Writer, view *readmodel.Synchronizer, session *domain.Session, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		writer:         writer,
		view:           view,
		session:        session,
		logger:         logrus.StandardLogger(),
		receiptTimeout: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// List puts an owned token up for sale at the given ether price.
func (o *Orchestrator) List(ctx context.Context, id domain.TokenID, price string) (*Outcome, error) {
	caller, detail, err := o.resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	// Nodes report owner addresses in arbitrary hex casing; the session
	// compares casing-independently.
	if !o.session.Is(detail.Owner) {
		return nil, ErrNotOwner
	}

	p := strings.TrimSpace(price)
	if !format.IsNumeric(p) {
		return nil, ErrInvalidPrice
	}
	wei, err := format.ParseEther(p)
	if err != nil || wei.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}

	tx, err := o.writer.ListForSale(ctx, caller, id, wei)
	if err != nil {
		return nil, err
	}
	return o.confirm(ctx, "list", tx, id, caller, "")
}

// Delist removes an owned token's active listing.
func (o *Orchestrator) Delist(ctx context.Context, id domain.TokenID) (*Outcome, error) {
	caller, detail, err := o.resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	if !o.session.Is(detail.Owner) {
		return nil, ErrNotOwner
	}
	if !detail.Data.IsForSale {
		return nil, ErrNotForSale
	}

	tx, err := o.writer.Delist(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	return o.confirm(ctx, "delist", tx, id, caller, "")
}

// Buy purchases a listed token at its exact listed price. A price that
// changed since the last refresh makes the contract revert rather than
// charging a different amount.
func (o *Orchestrator) Buy(ctx context.Context, id domain.TokenID) (*Outcome, error) {
	caller, detail, err := o.resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.session.Is(detail.Owner) {
		return nil, ErrOwnTokenPurchase
	}
	if !detail.Data.IsForSale || detail.Data.Price == nil || detail.Data.Price.Sign() <= 0 {
		return nil, ErrNotForSale
	}

	value := new(big.Int).Set(detail.Data.Price)
	tx, err := o.writer.BuyNFT(ctx, caller, id, value)
	if err != nil {
		return nil, err
	}
	return o.confirm(ctx, "buy", tx, id, detail.Owner, caller)
}

// resolve loads the caller address and the token's current view. A
// detail that cannot be loaded at all blocks the action; preconditions
// need something to check against.
func (o *Orchestrator) resolve(ctx context.Context, id domain.TokenID) (string, *domain.TokenDetail, error) {
	caller, err := o.session.Address()
	if err != nil {
		return "", nil, err
	}
	detail, err := o.view.TokenDetail(ctx, id)
	if detail == nil {
		if err == nil {
			err = fmt.Errorf("token %d not found", id)
		}
		return "", nil, err
	}
	return caller, detail, nil
}

// confirm waits for the receipt and refreshes the views the action
// changed. A reverted receipt invalidates the token's view too: the
// revert usually means our snapshot was behind the ledger.
func (o *Orchestrator) confirm(ctx context.Context, kind string, tx ledger.TxHandle, id domain.TokenID, seller, buyer string) (*Outcome, error) {
	rctx, cancel := context.WithTimeout(ctx, o.receiptTimeout)
	receipt, err := o.writer.AwaitReceipt(rctx, tx)
	cancel()
	if err != nil {
		return &Outcome{TxHash: tx}, err
	}

	out := &Outcome{TxHash: tx, Receipt: receipt}
	if receipt.Status == ledger.ReceiptReverted {
		observability.RecordTxOutcome(kind, "reverted")
		o.view.Invalidate(readmodel.ScopeTokenDetail(id))
		o.logger.WithFields(logrus.Fields{"kind": kind, "tx": tx, "reason": receipt.Reason}).Warn("action reverted")
		return out, &ledger.RevertError{Reason: receipt.Reason}
	}

	observability.RecordTxOutcome(kind, "confirmed")
	o.logger.WithFields(logrus.Fields{"kind": kind, "tx": tx, "token": id}).Info("action confirmed")

	o.view.Invalidate(readmodel.ScopeTokensForSale())
	o.view.Invalidate(readmodel.ScopeTokenDetail(id))
	o.view.Invalidate(readmodel.ScopeContractStats())
	if seller != "" {
		o.view.Invalidate(readmodel.ScopeOwnedTokens(seller))
		o.view.Invalidate(readmodel.ScopeUserStats(seller))
	}
	if buyer != "" {
		o.view.Invalidate(readmodel.ScopeOwnedTokens(buyer))
		o.view.Invalidate(readmodel.ScopeUserStats(buyer))
	}
	return out, nil
}
