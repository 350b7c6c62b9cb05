package readmodel

import (
	"context"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"nftmarket/internal/domain"
	"nftmarket/internal/ledger"
	"nftmarket/internal/ledger/stub"
)

func startPump(t *testing.T, l *stub.Ledger, s *Synchronizer) *Pump {
	t.Helper()
	p := NewPump(l, s, nil)
	p.Refresh = false // keep invalidation observable without racing refreshes
	require.NoError(t, p.Start(context.Background()))
	t.Cleanup(p.Stop)
	return p
}

func TestPumpInvalidatesOnSold(t *testing.T) {
	l := stub.New(100, 100)
	id := mintListed(t, l, seller, 1000)

	s := NewSynchronizer(l)
	startPump(t, l, s)

	watched := []Scope{
		ScopeTokensForSale(),
		ScopeTokenDetail(id),
		ScopeContractStats(),
		ScopeOwnedTokens(seller),
		ScopeOwnedTokens(buyer),
		ScopeUserStats(seller),
		ScopeUserStats(buyer),
	}
	before := make(map[string]uint64, len(watched))
	for _, sc := range watched {
		before[sc.String()] = s.Version(sc)
	}

	_, err := l.BuyNFT(context.Background(), buyer, id, big.NewInt(1000))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		for _, sc := range watched {
			if s.Version(sc) == before[sc.String()] {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond, "sale must invalidate every affected scope")
}

func TestPumpInvalidatesOnListAndDelist(t *testing.T) {
	l := stub.New(100, 100)
	_, err := l.MintNFT(context.Background(), seller, "ipfs://"+metaCID, big.NewInt(0), 0)
	require.NoError(t, err)
	id := latestToken(t, l)

	s := NewSynchronizer(l)
	startPump(t, l, s)

	saleScope := ScopeTokensForSale()
	v := s.Version(saleScope)

	_, err = l.ListForSale(context.Background(), seller, id, big.NewInt(500))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.Version(saleScope) > v }, 2*time.Second, 10*time.Millisecond)

	v = s.Version(saleScope)
	_, err = l.Delist(context.Background(), seller, id)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.Version(saleScope) > v }, 2*time.Second, 10*time.Millisecond)
}

func TestDuplicateEventsAreIdempotent(t *testing.T) {
	l := stub.New(100, 100)
	id := mintListed(t, l, seller, 1000)

	s := NewSynchronizer(l)
	startPump(t, l, s)

	ev := ledger.Event{
		Name:    ledger.EventTokenListed,
		TokenID: id,
		Seller:  seller,
		Price:   big.NewInt(1000),
	}
	l.Emit(ev)
	l.Emit(ev)

	// Duplicate deliveries only bump versions; the refreshed view is
	// the ledger's truth either way.
	require.Eventually(t, func() bool {
		ids, err := s.TokensForSale(context.Background())
		return err == nil && len(ids) == 1 && ids[0] == id
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPumpEagerRefreshRepopulates(t *testing.T) {
	l := stub.New(100, 100)
	mintListed(t, l, seller, 1000)

	s := NewSynchronizer(l)
	p := NewPump(l, s, nil)
	require.NoError(t, p.Start(context.Background()))
	t.Cleanup(p.Stop)

	ids, err := s.TokensForSale(context.Background())
	require.NoError(t, err)
	require.Len(t, ids, 1)

	// A second listed mint emits an event; with eager refresh on, the
	// snapshot becomes current again without any caller-side read.
	mintListed(t, l, seller, 2000)

	require.Eventually(t, func() bool {
		v, current, err := s.Peek(ScopeTokensForSale())
		if err != nil || !current {
			return false
		}
		snapshot, ok := v.([]domain.TokenID)
		return ok && len(snapshot) == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEventAddressCasingSharesScopes(t *testing.T) {
	// Views populate per-address scopes under the checksummed session
	// address, while nodes may report event parties in lowercase hex.
	// Both casings must name the same scope or sale events leave the
	// user's views stale.
	const (
		sellerAddr = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
		buyerAddr  = "0x5FbDB2315678afecb367f032d93F642f64180aa3"
	)
	require.Equal(t,
		ScopeOwnedTokens(sellerAddr).String(),
		ScopeOwnedTokens(strings.ToLower(sellerAddr)).String())
	require.Equal(t,
		ScopeUserStats(buyerAddr).String(),
		ScopeUserStats(strings.ToLower(buyerAddr)).String())

	l := stub.New(100, 100)
	id := mintListed(t, l, sellerAddr, 1000)

	s := NewSynchronizer(l)
	startPump(t, l, s)

	watched := []Scope{
		ScopeOwnedTokens(sellerAddr),
		ScopeUserStats(sellerAddr),
		ScopeOwnedTokens(buyerAddr),
		ScopeUserStats(buyerAddr),
	}
	before := make(map[string]uint64, len(watched))
	for _, sc := range watched {
		before[sc.String()] = s.Version(sc)
	}

	l.Emit(ledger.Event{
		Name:    ledger.EventTokenSold,
		TokenID: id,
		Seller:  strings.ToLower(sellerAddr),
		Buyer:   strings.ToLower(buyerAddr),
		Price:   big.NewInt(1000),
	})

	require.Eventually(t, func() bool {
		for _, sc := range watched {
			if s.Version(sc) == before[sc.String()] {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond, "lowercase event parties must invalidate the checksummed scopes")
}

func TestPumpStopUnsubscribes(t *testing.T) {
	l := stub.New(100, 100)
	s := NewSynchronizer(l)

	p := NewPump(l, s, nil)
	p.Refresh = false
	require.NoError(t, p.Start(context.Background()))
	p.Stop()

	v := s.Version(ScopeTokensForSale())
	l.Emit(ledger.Event{Name: ledger.EventTokenListed, TokenID: 1, Seller: seller, Price: big.NewInt(1)})
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, v, s.Version(ScopeTokensForSale()), "events after Stop must not reach the synchronizer")
}

func latestToken(t *testing.T, l *stub.Ledger) domain.TokenID {
	t.Helper()
	stats, err := l.GetContractStats(context.Background())
	require.NoError(t, err)
	return domain.TokenID(stats.TotalNFTs)
}
