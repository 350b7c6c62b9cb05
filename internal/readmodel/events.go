package readmodel

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"nftmarket/internal/ledger"
	"nftmarket/internal/observability"
)

// Pump routes contract events into scope invalidations and kicks off
// background refreshes for the invalidated scopes. Events are
// idempotent triggers: a duplicate delivery only bumps versions again,
// it never corrupts cached state.
type Pump struct {
	stream ledger.EventStream
	sync   *Synchronizer
	logger logrus.FieldLogger

	// Refresh controls whether invalidated scopes repopulate eagerly.
	// Off, the next read refreshes them.
	Refresh bool

	mu   sync.Mutex
	subs []*ledger.Subscription
	wg   sync.WaitGroup
}

// NewPump creates an event pump over the stream.
func NewPump(stream ledger.EventStream, s *Synchronizer, logger logrus.FieldLogger) *Pump {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Pump{
		stream:  stream,
		sync:    s,
		logger:  logger,
		Refresh: true,
	}
}

// Start subscribes to the marketplace events and dispatches them until
// Stop. Subscription failures abort the start; a partially started pump
// is unsubscribed.
func (p *Pump) Start(ctx context.Context) error {
	events := []string{
		ledger.EventTokenListed,
		ledger.EventTokenDelisted,
		ledger.EventTokenSold,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, name := range events {
		sub, err := p.stream.Subscribe(ctx, name)
		if err != nil {
			for _, s := range p.subs {
				s.Unsubscribe()
			}
			p.subs = nil
			return err
		}
		p.subs = append(p.subs, sub)

		p.wg.Add(1)
		go p.run(sub)
	}

	p.logger.WithField("events", len(events)).Info("event pump started")
	return nil
}

// Stop unsubscribes and waits for dispatch goroutines to drain.
func (p *Pump) Stop() {
	p.mu.Lock()
	subs := p.subs
	p.subs = nil
	p.mu.Unlock()

	for _, s := range subs {
		s.Unsubscribe()
	}
	p.wg.Wait()
}

// run drains one subscription until its channel closes.
func (p *Pump) run(sub *ledger.Subscription) {
	defer p.wg.Done()
	for ev := range sub.C {
		p.dispatch(ev)
	}
}

// dispatch invalidates every scope the event can have changed.
func (p *Pump) dispatch(ev ledger.Event) {
	scopes := scopesFor(ev)

	for _, scope := range scopes {
		p.sync.Invalidate(scope)
	}
	observability.RecordInvalidation(ev.Name)
	p.logger.WithFields(logrus.Fields{
		"event":  ev.Name,
		"token":  ev.TokenID,
		"scopes": len(scopes),
	}).Debug("event invalidation")

	if p.Refresh {
		for _, scope := range scopes {
			p.sync.RefreshAsync(scope)
		}
	}
}

// scopesFor maps an event to the scopes it invalidates. The payload is
// only routing information; refreshed state always comes from the
// ledger read surface.
func scopesFor(ev ledger.Event) []Scope {
	scopes := []Scope{
		ScopeTokensForSale(),
		ScopeTokenDetail(ev.TokenID),
		ScopeContractStats(),
	}
	switch ev.Name {
	case ledger.EventTokenListed, ledger.EventTokenDelisted:
		if ev.Seller != "" {
			scopes = append(scopes, ScopeOwnedTokens(ev.Seller))
		}
	case ledger.EventTokenSold:
		if ev.Seller != "" {
			scopes = append(scopes,
				ScopeOwnedTokens(ev.Seller),
				ScopeUserStats(ev.Seller),
			)
		}
		if ev.Buyer != "" {
			scopes = append(scopes,
				ScopeOwnedTokens(ev.Buyer),
				ScopeUserStats(ev.Buyer),
			)
		}
	}
	return scopes
}
