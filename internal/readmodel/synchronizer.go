package readmodel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"nftmarket/internal/domain"
	"nftmarket/internal/ipfs"
	"nftmarket/internal/ledger"
	"nftmarket/internal/observability"
)

// readPageSize bounds each windowed collection read against the node.
const readPageSize = 1000

// ErrNotCached is returned by Peek when a scope has never been loaded.
var ErrNotCached = errors.New("scope not cached")

// ContentFetcher resolves token metadata through the content store
// gateway. *ipfs.Client satisfies it.
type ContentFetcher interface {
	FetchJSON(ctx context.Context, uriOrHash string, out interface{}) error
	Gateway() string
}

// entry is one applied snapshot. version records the scope version the
// fetch started under; a snapshot applies only while that version is
// still current. On fetch failure the previous value stays visible
// alongside the error.
type entry struct {
	version   uint64
	value     interface{}
	err       error
	updatedAt time.Time
}

// Synchronizer keeps versioned snapshots of ledger read state. Each
// scope has at most one outstanding refresh; results fetched under a
// superseded version are discarded, never applied.
type Synchronizer struct {
	reader   ledger.Reader
	resolver ContentFetcher
	logger   logrus.FieldLogger

	mu       sync.RWMutex
	versions map[string]uint64
	entries  map[string]*entry

	group singleflight.Group

	refreshTimeout time.Duration
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithLogger sets the synchronizer logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Synchronizer) {
		s.logger = l
	}
}

// WithRefreshTimeout bounds background refreshes triggered by events.
func WithRefreshTimeout(d time.Duration) Option {
	return func(s *Synchronizer) {
		s.refreshTimeout = d
	}
}

// WithContentFetcher sets the metadata resolver. Without one, token
// details carry ledger state only.
func WithContentFetcher(f ContentFetcher) Option {
	return func(s *Synchronizer) {
		s.resolver = f
	}
}

// NewSynchronizer creates a synchronizer over the ledger read surface.
func NewSynchronizer(reader ledger.Reader, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		reader:         reader,
		logger:         logrus.StandardLogger(),
		versions:       make(map[string]uint64),
		entries:        make(map[string]*entry),
		refreshTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Invalidate bumps the scope version. Cached state stays visible until
// the next read replaces it; any in-flight refresh result for an older
// version will be discarded.
func (s *Synchronizer) Invalidate(scope Scope) {
	s.mu.Lock()
	s.versions[scope.String()]++
	s.mu.Unlock()
}

// Version returns the current scope version.
func (s *Synchronizer) Version(scope Scope) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.versions[scope.String()]
}

// Peek returns the cached snapshot without refreshing, along with
// whether it is current for the scope's version. ErrNotCached means the
// scope was never loaded.
func (s *Synchronizer) Peek(scope Scope) (interface{}, bool, error) {
	key := scope.String()
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, false, ErrNotCached
	}
	return e.value, e.version == s.versions[key], e.err
}

// get returns the scope's snapshot, refreshing when the cached one is
// missing or superseded. Concurrent callers share one refresh.
func (s *Synchronizer) get(ctx context.Context, scope Scope) (interface{}, error) {
	key := scope.String()

	s.mu.RLock()
	e, ok := s.entries[key]
	current := ok && e.version == s.versions[key]
	s.mu.RUnlock()
	if current {
		return e.value, e.err
	}

	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		return s.refresh(ctx, scope)
	})
	if err != nil {
		// Refresh failed outright; surface the last applied value so
		// stale-but-known state stays visible.
		s.mu.RLock()
		e, ok := s.entries[key]
		s.mu.RUnlock()
		if ok {
			return e.value, err
		}
		return nil, err
	}
	applied := v.(*entry)
	return applied.value, applied.err
}

// refresh fetches the scope until the result was produced under the
// still-current version, then applies it. A version bump during the
// fetch discards the result and retries, so an applied snapshot never
// predates the invalidation that made it necessary.
func (s *Synchronizer) refresh(ctx context.Context, scope Scope) (*entry, error) {
	key := scope.String()

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		s.mu.RLock()
		v := s.versions[key]
		s.mu.RUnlock()

		start := time.Now()
		value, fetchErr := s.fetch(ctx, scope)
		elapsed := time.Since(start).Seconds()

		s.mu.Lock()
		if s.versions[key] != v {
			s.mu.Unlock()
			observability.RecordStaleDropped(string(scope.Kind))
			s.logger.WithFields(logrus.Fields{"scope": key, "version": v}).Debug("discarded stale refresh result")
			continue
		}

		e := &entry{version: v, value: value, err: fetchErr, updatedAt: time.Now()}
		if fetchErr != nil {
			// Keep the previous snapshot visible next to the error.
			if prev, ok := s.entries[key]; ok {
				e.value = prev.value
			}
			observability.RecordRefresh(string(scope.Kind), "error", elapsed)
		} else {
			observability.RecordRefresh(string(scope.Kind), "ok", elapsed)
		}
		s.entries[key] = e
		s.mu.Unlock()
		return e, nil
	}
}

// RefreshAsync refreshes the scope in the background. Used by the event
// pump so invalidated views repopulate without waiting for a read.
func (s *Synchronizer) RefreshAsync(scope Scope) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.refreshTimeout)
		defer cancel()
		if _, err := s.get(ctx, scope); err != nil {
			s.logger.WithError(err).WithField("scope", scope.String()).Warn("background refresh failed")
		}
	}()
}

// fetch dispatches to the scope's read path.
func (s *Synchronizer) fetch(ctx context.Context, scope Scope) (interface{}, error) {
	switch scope.Kind {
	case KindTokensForSale:
		return s.fetchWindowed(ctx, func(ctx context.Context, offset uint64) ([]domain.TokenID, error) {
			return s.reader.GetTokensForSale(ctx, offset, readPageSize)
		})
	case KindOwnedTokens:
		return s.fetchWindowed(ctx, func(ctx context.Context, offset uint64) ([]domain.TokenID, error) {
			return s.reader.GetOwnedTokens(ctx, scope.Address, offset, readPageSize)
		})
	case KindTokenDetail:
		return s.fetchDetail(ctx, scope.Token)
	case KindContractStats:
		return s.reader.GetContractStats(ctx)
	case KindUserStats:
		return s.reader.GetUserStats(ctx, scope.Address)
	default:
		return nil, fmt.Errorf("unknown scope kind %q", scope.Kind)
	}
}

// fetchWindowed drains a windowed collection read page by page. A short
// page ends the collection.
func (s *Synchronizer) fetchWindowed(ctx context.Context, read func(ctx context.Context, offset uint64) ([]domain.TokenID, error)) (interface{}, error) {
	var all []domain.TokenID
	for offset := uint64(0); ; offset += readPageSize {
		page, err := read(ctx, offset)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if uint64(len(page)) < readPageSize {
			return all, nil
		}
	}
}

// fetchDetail assembles the full token view: ledger state plus stored
// metadata. Metadata problems never fail the detail; they are recorded
// on it so a listing with a broken asset still renders its ledger
// state.
func (s *Synchronizer) fetchDetail(ctx context.Context, id domain.TokenID) (interface{}, error) {
	data, err := s.reader.GetTokenData(ctx, id)
	if err != nil {
		return nil, err
	}
	owner, err := s.reader.OwnerOf(ctx, id)
	if err != nil {
		return nil, err
	}
	uri, err := s.reader.TokenURI(ctx, id)
	if err != nil {
		return nil, err
	}

	detail := &domain.TokenDetail{
		ID:       id,
		Data:     *data,
		Owner:    owner,
		TokenURI: uri,
	}

	if s.resolver == nil {
		return detail, nil
	}

	var meta domain.NFTMetadata
	if err := s.resolver.FetchJSON(ctx, uri, &meta); err != nil {
		detail.IntegrityErr = fmt.Errorf("metadata unavailable for token %d: %w", id, err)
		return detail, nil
	}
	detail.Metadata = &meta

	if meta.Image == "" {
		detail.IntegrityErr = fmt.Errorf("metadata for token %d has no image", id)
		return detail, nil
	}
	imageURL, err := ipfs.GatewayURL(s.resolver.Gateway(), meta.Image)
	if err != nil {
		detail.IntegrityErr = fmt.Errorf("metadata for token %d has malformed image reference: %w", id, err)
		return detail, nil
	}
	detail.ImageURL = imageURL
	return detail, nil
}

// TokensForSale returns the listed token ids. On refresh failure the
// last applied snapshot is returned alongside the error.
func (s *Synchronizer) TokensForSale(ctx context.Context) ([]domain.TokenID, error) {
	v, err := s.get(ctx, ScopeTokensForSale())
	ids, _ := v.([]domain.TokenID)
	return ids, err
}

// OwnedTokens returns the token ids held by address.
func (s *Synchronizer) OwnedTokens(ctx context.Context, address string) ([]domain.TokenID, error) {
	v, err := s.get(ctx, ScopeOwnedTokens(address))
	ids, _ := v.([]domain.TokenID)
	return ids, err
}

// TokenDetail returns the assembled view of one token.
func (s *Synchronizer) TokenDetail(ctx context.Context, id domain.TokenID) (*domain.TokenDetail, error) {
	v, err := s.get(ctx, ScopeTokenDetail(id))
	detail, _ := v.(*domain.TokenDetail)
	return detail, err
}

// ContractStats returns the marketplace-wide counters.
func (s *Synchronizer) ContractStats(ctx context.Context) (*domain.ContractStats, error) {
	v, err := s.get(ctx, ScopeContractStats())
	stats, _ := v.(*domain.ContractStats)
	return stats, err
}

// UserStats returns the per-user trading counters.
func (s *Synchronizer) UserStats(ctx context.Context, address string) (*domain.UserStats, error) {
	v, err := s.get(ctx, ScopeUserStats(address))
	stats, _ := v.(*domain.UserStats)
	return stats, err
}
