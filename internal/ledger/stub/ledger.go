// Package stub provides an in-memory marketplace ledger implementing
// the ledger client interfaces for testing. Writes apply synchronously,
// produce receipts, and emit the same events a node would.
package stub

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"nftmarket/internal/domain"
	"nftmarket/internal/ledger"
)

// Token is the stub's on-chain token state.
type Token struct {
	Data  domain.TokenData
	Owner string
	URI   string
}

// Ledger implements ledger.Reader, ledger.Writer and
// ledger.EventStream against in-memory state.
type Ledger struct {
	mu        sync.Mutex
	nextID    uint64
	txSeq     uint64
	tokens    map[domain.TokenID]*Token
	saleOrder []domain.TokenID
	stats     domain.MarketplaceStats
	users     map[string]*domain.UserStats
	receipts  map[ledger.TxHandle]*ledger.Receipt
	subs      map[string][]chan ledger.Event
	closed    bool

	// WriteCalls records the write methods invoked, for asserting that
	// a precondition failure issued no ledger write.
	WriteCalls []string

	// SubmitErr, when set, is returned by the next write submission.
	SubmitErr error

	// RevertNext, when non-empty, makes the next write produce a
	// reverted receipt with this reason.
	RevertNext string

	// HoldReceipts makes AwaitReceipt block until the context expires,
	// simulating a transaction that never confirms within the bound.
	HoldReceipts bool

	// readErr, when set, makes every read call fail until cleared.
	readErr error

	// ReadHook, when set, runs at the start of every read call with
	// the method name. Tests use it to interleave refreshes.
	ReadHook func(method string)
}

// SetReadErr makes all reads fail with err; nil restores them.
func (l *Ledger) SetReadErr(err error) {
	l.mu.Lock()
	l.readErr = err
	l.mu.Unlock()
}

// New creates a stub ledger with the given marketplace fees (basis
// points).
func New(marketplaceFee, maxRoyaltyFee uint64) *Ledger {
	return &Ledger{
		tokens:   make(map[domain.TokenID]*Token),
		users:    make(map[string]*domain.UserStats),
		receipts: make(map[ledger.TxHandle]*ledger.Receipt),
		subs:     make(map[string][]chan ledger.Event),
		stats: domain.MarketplaceStats{
			TotalVolume:    big.NewInt(0),
			MarketplaceFee: marketplaceFee,
			MaxRoyaltyFee:  maxRoyaltyFee,
		},
	}
}

// Token returns a copy of the stub token state.
func (l *Ledger) Token(id domain.TokenID) (Token, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.tokens[id]
	if !ok {
		return Token{}, false
	}
	return *t, true
}

// SetPrice mutates a listed token's price behind the client's back,
// simulating a concurrent sale-price change.
func (l *Ledger) SetPrice(id domain.TokenID, price *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if t, ok := l.tokens[id]; ok {
		t.Data.Price = new(big.Int).Set(price)
	}
}

// beginRead runs the test hook and reports injected read failures.
func (l *Ledger) beginRead(method string) error {
	if l.ReadHook != nil {
		l.ReadHook(method)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readErr
}

// userLocked keys user stats by folded address: contracts compare the
// raw address bytes, so hex casing never distinguishes accounts.
func (l *Ledger) userLocked(address string) *domain.UserStats {
	key := strings.ToLower(address)
	u, ok := l.users[key]
	if !ok {
		u = &domain.UserStats{TotalSpent: big.NewInt(0), TotalEarned: big.NewInt(0)}
		l.users[key] = u
	}
	return u
}

// Reader

func (l *Ledger) GetTokensForSale(_ context.Context, offset, count uint64) ([]domain.TokenID, error) {
	if err := l.beginRead("getTokensForSale"); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if offset >= uint64(len(l.saleOrder)) {
		return nil, nil
	}
	end := offset + count
	if end > uint64(len(l.saleOrder)) {
		end = uint64(len(l.saleOrder))
	}
	out := make([]domain.TokenID, end-offset)
	copy(out, l.saleOrder[offset:end])
	return out, nil
}

func (l *Ledger) GetOwnedTokens(_ context.Context, owner string, offset, count uint64) ([]domain.TokenID, error) {
	if err := l.beginRead("getOwnedTokens"); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	var owned []domain.TokenID
	for id := domain.TokenID(1); id <= domain.TokenID(l.nextID); id++ {
		if t, ok := l.tokens[id]; ok && strings.EqualFold(t.Owner, owner) {
			owned = append(owned, id)
		}
	}
	if offset >= uint64(len(owned)) {
		return nil, nil
	}
	end := offset + count
	if end > uint64(len(owned)) {
		end = uint64(len(owned))
	}
	return owned[offset:end], nil
}

func (l *Ledger) GetTokenData(_ context.Context, id domain.TokenID) (*domain.TokenData, error) {
	if err := l.beginRead("getTokenData"); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	t, ok := l.tokens[id]
	if !ok {
		return nil, fmt.Errorf("token %d does not exist", id)
	}
	data := t.Data
	data.Price = new(big.Int).Set(t.Data.Price)
	return &data, nil
}

func (l *Ledger) OwnerOf(_ context.Context, id domain.TokenID) (string, error) {
	if err := l.beginRead("ownerOf"); err != nil {
		return "", err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	t, ok := l.tokens[id]
	if !ok {
		return "", fmt.Errorf("token %d does not exist", id)
	}
	return t.Owner, nil
}

func (l *Ledger) TokenURI(_ context.Context, id domain.TokenID) (string, error) {
	if err := l.beginRead("tokenURI"); err != nil {
		return "", err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	t, ok := l.tokens[id]
	if !ok {
		return "", fmt.Errorf("token %d does not exist", id)
	}
	return t.URI, nil
}

func (l *Ledger) GetContractStats(_ context.Context) (*domain.ContractStats, error) {
	if err := l.beginRead("getContractStats"); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	stats := l.stats
	stats.TotalVolume = new(big.Int).Set(l.stats.TotalVolume)
	return &domain.ContractStats{
		TotalNFTs:   l.nextID,
		TotalOnSale: uint64(len(l.saleOrder)),
		Stats:       stats,
	}, nil
}

func (l *Ledger) GetUserStats(_ context.Context, address string) (*domain.UserStats, error) {
	if err := l.beginRead("getUserStats"); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	u := l.userLocked(address)
	out := *u
	out.TotalSpent = new(big.Int).Set(u.TotalSpent)
	out.TotalEarned = new(big.Int).Set(u.TotalEarned)
	return &out, nil
}

// Writer

// begin reserves a tx handle, honoring injected failures. It returns a
// revert reason when the next write should revert.
func (l *Ledger) begin(method string) (ledger.TxHandle, string, error) {
	l.WriteCalls = append(l.WriteCalls, method)

	if l.SubmitErr != nil {
		err := l.SubmitErr
		l.SubmitErr = nil
		return "", "", err
	}

	l.txSeq++
	tx := ledger.TxHandle(fmt.Sprintf("0xstub%04d", l.txSeq))

	reason := l.RevertNext
	l.RevertNext = ""
	return tx, reason, nil
}

func (l *Ledger) finish(tx ledger.TxHandle, revertReason string) (ledger.TxHandle, *ledger.Receipt) {
	receipt := &ledger.Receipt{TxHash: tx, Status: ledger.ReceiptConfirmed, BlockNumber: l.txSeq}
	if revertReason != "" {
		receipt.Status = ledger.ReceiptReverted
		receipt.Reason = revertReason
	}
	l.receipts[tx] = receipt
	return tx, receipt
}

func (l *Ledger) MintNFT(_ context.Context, from, uri string, price *big.Int, royaltyBasisPoints uint64) (ledger.TxHandle, error) {
	l.mu.Lock()

	tx, reason, err := l.begin("mintNFT")
	if err != nil {
		l.mu.Unlock()
		return "", err
	}
	if reason == "" && royaltyBasisPoints > l.stats.MaxRoyaltyFee {
		reason = "royalty exceeds maximum"
	}

	var ev *ledger.Event
	if reason == "" {
		l.nextID++
		id := domain.TokenID(l.nextID)
		listed := price.Sign() > 0
		l.tokens[id] = &Token{
			Data: domain.TokenData{
				Creator:            from,
				RoyaltyBasisPoints: royaltyBasisPoints,
				CreatedAt:          time.Now().Unix(),
				Price:              new(big.Int).Set(price),
				IsForSale:          listed,
			},
			Owner: from,
			URI:   uri,
		}
		l.userLocked(from).TokensOwned++
		if listed {
			l.saleOrder = append(l.saleOrder, id)
			ev = &ledger.Event{Name: ledger.EventTokenListed, TokenID: id, Seller: from, Price: new(big.Int).Set(price)}
		}
	}

	tx, _ = l.finish(tx, reason)
	l.mu.Unlock()

	if ev != nil {
		l.Emit(*ev)
	}
	return tx, nil
}

func (l *Ledger) ListForSale(_ context.Context, from string, id domain.TokenID, price *big.Int) (ledger.TxHandle, error) {
	l.mu.Lock()

	tx, reason, err := l.begin("listForSale")
	if err != nil {
		l.mu.Unlock()
		return "", err
	}

	t, ok := l.tokens[id]
	switch {
	case reason != "":
	case !ok:
		reason = "token does not exist"
	case !strings.EqualFold(t.Owner, from):
		reason = "caller is not the owner"
	case price.Sign() <= 0:
		reason = "price must be positive"
	}

	var ev *ledger.Event
	if reason == "" {
		t.Data.Price = new(big.Int).Set(price)
		if !t.Data.IsForSale {
			t.Data.IsForSale = true
			l.saleOrder = append(l.saleOrder, id)
		}
		ev = &ledger.Event{Name: ledger.EventTokenListed, TokenID: id, Seller: from, Price: new(big.Int).Set(price)}
	}

	tx, _ = l.finish(tx, reason)
	l.mu.Unlock()

	if ev != nil {
		l.Emit(*ev)
	}
	return tx, nil
}

func (l *Ledger) Delist(_ context.Context, from string, id domain.TokenID) (ledger.TxHandle, error) {
	l.mu.Lock()

	tx, reason, err := l.begin("delist")
	if err != nil {
		l.mu.Unlock()
		return "", err
	}

	t, ok := l.tokens[id]
	switch {
	case reason != "":
	case !ok:
		reason = "token does not exist"
	case !strings.EqualFold(t.Owner, from):
		reason = "caller is not the owner"
	case !t.Data.IsForSale:
		reason = "token is not for sale"
	}

	var ev *ledger.Event
	if reason == "" {
		t.Data.IsForSale = false
		t.Data.Price = big.NewInt(0)
		l.removeFromSaleLocked(id)
		ev = &ledger.Event{Name: ledger.EventTokenDelisted, TokenID: id, Seller: from}
	}

	tx, _ = l.finish(tx, reason)
	l.mu.Unlock()

	if ev != nil {
		l.Emit(*ev)
	}
	return tx, nil
}

func (l *Ledger) BuyNFT(_ context.Context, from string, id domain.TokenID, value *big.Int) (ledger.TxHandle, error) {
	l.mu.Lock()

	tx, reason, err := l.begin("buyNFT")
	if err != nil {
		l.mu.Unlock()
		return "", err
	}

	t, ok := l.tokens[id]
	switch {
	case reason != "":
	case !ok:
		reason = "token does not exist"
	case strings.EqualFold(t.Owner, from):
		reason = "cannot buy own token"
	case !t.Data.IsForSale:
		reason = "token is not for sale"
	case value.Cmp(t.Data.Price) != 0:
		reason = "incorrect payment amount"
	}

	var ev *ledger.Event
	if reason == "" {
		seller := t.Owner
		price := new(big.Int).Set(t.Data.Price)

		t.Owner = from
		t.Data.IsForSale = false
		t.Data.Price = big.NewInt(0)
		l.removeFromSaleLocked(id)

		l.stats.TotalVolume.Add(l.stats.TotalVolume, price)
		l.stats.TotalTransactions++

		sellerStats := l.userLocked(seller)
		sellerStats.TokensOwned--
		sellerStats.TokensSold++
		sellerStats.TotalEarned.Add(sellerStats.TotalEarned, price)

		buyerStats := l.userLocked(from)
		buyerStats.TokensOwned++
		buyerStats.TokensPurchased++
		buyerStats.TotalSpent.Add(buyerStats.TotalSpent, price)

		ev = &ledger.Event{Name: ledger.EventTokenSold, TokenID: id, Seller: seller, Buyer: from, Price: price}
	}

	tx, _ = l.finish(tx, reason)
	l.mu.Unlock()

	if ev != nil {
		l.Emit(*ev)
	}
	return tx, nil
}

func (l *Ledger) removeFromSaleLocked(id domain.TokenID) {
	for i, sid := range l.saleOrder {
		if sid == id {
			l.saleOrder = append(l.saleOrder[:i], l.saleOrder[i+1:]...)
			return
		}
	}
}

func (l *Ledger) AwaitReceipt(ctx context.Context, tx ledger.TxHandle) (*ledger.Receipt, error) {
	l.mu.Lock()
	receipt, ok := l.receipts[tx]
	hold := l.HoldReceipts
	l.mu.Unlock()

	if hold || !ok {
		<-ctx.Done()
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%w: tx %s", ledger.ErrReceiptTimeout, tx)
		}
		return nil, ctx.Err()
	}
	return receipt, nil
}

// EventStream

func (l *Ledger) Subscribe(_ context.Context, event string) (*ledger.Subscription, error) {
	ch := make(chan ledger.Event, 64)

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, fmt.Errorf("stream closed")
	}
	l.subs[event] = append(l.subs[event], ch)
	l.mu.Unlock()

	cancel := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		chans := l.subs[event]
		for i, c := range chans {
			if c == ch {
				l.subs[event] = append(chans[:i], chans[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ledger.NewSubscription(event, ch, cancel), nil
}

// Emit publishes an event to subscribers. Tests call it directly to
// simulate duplicate or out-of-band deliveries.
func (l *Ledger) Emit(ev ledger.Event) {
	l.mu.Lock()
	chans := append([]chan ledger.Event(nil), l.subs[ev.Name]...)
	l.mu.Unlock()

	for _, ch := range chans {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	for event, chans := range l.subs {
		for _, ch := range chans {
			close(ch)
		}
		delete(l.subs, event)
	}
	return nil
}

// Interface compliance.
var (
	_ ledger.Reader      = (*Ledger)(nil)
	_ ledger.Writer      = (*Ledger)(nil)
	_ ledger.EventStream = (*Ledger)(nil)
)
