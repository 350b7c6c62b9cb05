package readmodel

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nftmarket/internal/domain"
	"nftmarket/internal/ledger/stub"
)

const (
	seller = "0xseller"
	buyer  = "0xbuyer"

	metaCID  = "QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG"
	imageCID = "QmPK1s3pNYLi9ERiq3BDxKa4XosgWwFRQUydHUtz4YgpqB"
)

// fakeFetcher resolves token metadata from a fixed map.
type fakeFetcher struct {
	meta map[string]domain.NFTMetadata
	err  error
}

func (f *fakeFetcher) FetchJSON(_ context.Context, uri string, out interface{}) error {
	if f.err != nil {
		return f.err
	}
	m, ok := f.meta[uri]
	if !ok {
		return fmt.Errorf("no content at %s", uri)
	}
	*(out.(*domain.NFTMetadata)) = m
	return nil
}

func (f *fakeFetcher) Gateway() string { return "https://gw.test/ipfs/" }

// mintListed mints a token listed at the given ether-order price and
// returns its id.
func mintListed(t *testing.T, l *stub.Ledger, owner string, price int64) domain.TokenID {
	t.Helper()
	_, err := l.MintNFT(context.Background(), owner, "ipfs://"+metaCID, big.NewInt(price), 100)
	require.NoError(t, err)
	stats, err := l.GetContractStats(context.Background())
	require.NoError(t, err)
	return domain.TokenID(stats.TotalNFTs)
}

func TestTokensForSaleCachesUntilInvalidated(t *testing.T) {
	l := stub.New(100, 100)
	mintListed(t, l, seller, 1)
	mintListed(t, l, seller, 2)

	var fetches int64
	var mu sync.Mutex
	l.ReadHook = func(method string) {
		if method == "getTokensForSale" {
			mu.Lock()
			fetches++
			mu.Unlock()
		}
	}

	s := NewSynchronizer(l)
	ctx := context.Background()

	ids, err := s.TokensForSale(ctx)
	require.NoError(t, err)
	assert.Len(t, ids, 2)

	// Second read serves the snapshot.
	_, err = s.TokensForSale(ctx)
	require.NoError(t, err)
	mu.Lock()
	assert.EqualValues(t, 1, fetches)
	mu.Unlock()

	// Invalidation forces a refetch.
	s.Invalidate(ScopeTokensForSale())
	_, err = s.TokensForSale(ctx)
	require.NoError(t, err)
	mu.Lock()
	assert.EqualValues(t, 2, fetches)
	mu.Unlock()
}

func TestStaleRefreshResultDiscarded(t *testing.T) {
	l := stub.New(100, 100)
	mintListed(t, l, seller, 1)

	s := NewSynchronizer(l)
	ctx := context.Background()

	// Mid-fetch, the ledger changes and the scope is invalidated. The
	// in-flight result predates the invalidation and must not be the
	// one that lands.
	var once sync.Once
	l.ReadHook = func(method string) {
		if method != "getTokensForSale" {
			return
		}
		once.Do(func() {
			mintListed(t, l, seller, 2)
			s.Invalidate(ScopeTokensForSale())
		})
	}

	ids, err := s.TokensForSale(ctx)
	require.NoError(t, err)
	assert.Len(t, ids, 2, "applied snapshot must reflect the post-invalidation ledger state")
}

func TestConcurrentReadsShareOneRefresh(t *testing.T) {
	l := stub.New(100, 100)
	mintListed(t, l, seller, 1)

	var fetches int64
	var mu sync.Mutex
	l.ReadHook = func(method string) {
		if method == "getTokensForSale" {
			mu.Lock()
			fetches++
			mu.Unlock()
			time.Sleep(50 * time.Millisecond)
		}
	}

	s := NewSynchronizer(l)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids, err := s.TokensForSale(context.Background())
			assert.NoError(t, err)
			assert.Len(t, ids, 1)
		}()
	}
	wg.Wait()

	mu.Lock()
	assert.EqualValues(t, 1, fetches, "concurrent readers must share one outstanding refresh")
	mu.Unlock()
}

func TestRefreshFailureKeepsLastSnapshot(t *testing.T) {
	l := stub.New(100, 100)
	mintListed(t, l, seller, 1)

	s := NewSynchronizer(l)
	ctx := context.Background()

	ids, err := s.TokensForSale(ctx)
	require.NoError(t, err)
	require.Len(t, ids, 1)

	boom := errors.New("node unreachable")
	l.SetReadErr(boom)
	s.Invalidate(ScopeTokensForSale())

	// The stale ids stay visible next to the error.
	ids, err = s.TokensForSale(ctx)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, ids, 1)

	// Recovery after the node comes back.
	l.SetReadErr(nil)
	s.Invalidate(ScopeTokensForSale())
	ids, err = s.TokensForSale(ctx)
	require.NoError(t, err)
	assert.Len(t, ids, 1)
}

func TestOwnedTokensPerAddressScopes(t *testing.T) {
	l := stub.New(100, 100)
	mintListed(t, l, seller, 1)
	mintListed(t, l, buyer, 2)
	mintListed(t, l, buyer, 3)

	s := NewSynchronizer(l)
	ctx := context.Background()

	sellerTokens, err := s.OwnedTokens(ctx, seller)
	require.NoError(t, err)
	assert.Len(t, sellerTokens, 1)

	buyerTokens, err := s.OwnedTokens(ctx, buyer)
	require.NoError(t, err)
	assert.Len(t, buyerTokens, 2)

	// Invalidating one address leaves the other's snapshot alone.
	v := s.Version(ScopeOwnedTokens(buyer))
	s.Invalidate(ScopeOwnedTokens(seller))
	assert.Equal(t, v, s.Version(ScopeOwnedTokens(buyer)))
}

func TestTokenDetailEnrichment(t *testing.T) {
	l := stub.New(100, 100)
	id := mintListed(t, l, seller, 5)

	fetcher := &fakeFetcher{meta: map[string]domain.NFTMetadata{
		"ipfs://" + metaCID: {
			Name:        "Sunset",
			Description: "A sunset",
			Image:       "ipfs://" + imageCID,
			CreatedBy:   seller,
		},
	}}
	s := NewSynchronizer(l, WithContentFetcher(fetcher))

	detail, err := s.TokenDetail(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, detail)
	assert.Equal(t, seller, detail.Owner)
	assert.True(t, detail.Data.IsForSale)
	require.NotNil(t, detail.Metadata)
	assert.Equal(t, "Sunset", detail.Metadata.Name)
	assert.Equal(t, "https://gw.test/ipfs/"+imageCID, detail.ImageURL)
	assert.NoError(t, detail.IntegrityErr)
}

func TestTokenDetailIntegrityError(t *testing.T) {
	l := stub.New(100, 100)
	id := mintListed(t, l, seller, 5)

	fetcher := &fakeFetcher{err: errors.New("gateway timeout")}
	s := NewSynchronizer(l, WithContentFetcher(fetcher))

	// Broken metadata never hides the ledger state.
	detail, err := s.TokenDetail(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, detail)
	assert.Equal(t, seller, detail.Owner)
	assert.Nil(t, detail.Metadata)
	assert.Error(t, detail.IntegrityErr)
}

func TestTokenDetailMissingToken(t *testing.T) {
	l := stub.New(100, 100)
	s := NewSynchronizer(l)

	detail, err := s.TokenDetail(context.Background(), 42)
	assert.Error(t, err)
	assert.Nil(t, detail)
}

func TestWindowedReadDrainsAllPages(t *testing.T) {
	l := stub.New(100, 100)
	for i := 0; i < 1005; i++ {
		mintListed(t, l, seller, int64(i+1))
	}

	var pages int64
	var mu sync.Mutex
	l.ReadHook = func(method string) {
		if method == "getTokensForSale" {
			mu.Lock()
			pages++
			mu.Unlock()
		}
	}

	s := NewSynchronizer(l)
	ids, err := s.TokensForSale(context.Background())
	require.NoError(t, err)
	assert.Len(t, ids, 1005)

	mu.Lock()
	assert.EqualValues(t, 2, pages, "1005 listings need exactly two windowed reads")
	mu.Unlock()
}

func TestUserStatsAfterSale(t *testing.T) {
	l := stub.New(100, 100)
	id := mintListed(t, l, seller, 1000)
	_, err := l.BuyNFT(context.Background(), buyer, id, big.NewInt(1000))
	require.NoError(t, err)

	s := NewSynchronizer(l)
	ctx := context.Background()

	sellerStats, err := s.UserStats(ctx, seller)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), sellerStats.TokensSold)
	assert.Equal(t, "1000", sellerStats.TotalEarned.String())

	buyerStats, err := s.UserStats(ctx, buyer)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), buyerStats.TokensPurchased)
	assert.Equal(t, "1000", buyerStats.TotalSpent.String())
}
