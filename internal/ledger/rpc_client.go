package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"nftmarket/internal/domain"
	"nftmarket/internal/format"
	"nftmarket/internal/observability"
)

// Default configuration values.
const (
	DefaultTimeout      = 30 * time.Second
	DefaultMaxRetries   = 3
	DefaultRetryDelay   = 1 * time.Second
	DefaultMaxDelay     = 10 * time.Second
	DefaultBackoffMult  = 2.0
	DefaultPollInterval = 2 * time.Second
)

// Client implements Reader and Writer over HTTP JSON-RPC 2.0 against a
// node exposing the marketplace contract surface. Every call carries
// the contract address as its first positional parameter. Reads are
// retried with exponential backoff; writes are broadcast exactly once
// (a retried write could double-mint or double-buy).
type Client struct {
	endpoint     string
	contract     string
	client       *http.Client
	maxRetries   int
	retryDelay   time.Duration
	maxDelay     time.Duration
	backoffMult  float64
	pollInterval time.Duration
	requestID    atomic.Uint64
	logger       logrus.FieldLogger
}

// ClientOption configures Client.
type ClientOption func(*Client)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets maximum read retry attempts.
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.retryDelay = d
	}
}

// WithPollInterval sets the receipt polling interval.
func WithPollInterval(d time.Duration) ClientOption {
	return func(c *Client) {
		c.pollInterval = d
	}
}

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.client = client
	}
}

// WithLogger sets the client logger.
func WithLogger(l logrus.FieldLogger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}

// NewClient creates a ledger RPC client bound to one contract address.
func NewClient(endpoint, contract string, opts ...ClientOption) *Client {
	c := &Client{
		endpoint:     endpoint,
		contract:     contract,
		client:       &http.Client{Timeout: DefaultTimeout},
		maxRetries:   DefaultMaxRetries,
		retryDelay:   DefaultRetryDelay,
		maxDelay:     DefaultMaxDelay,
		backoffMult:  DefaultBackoffMult,
		pollInterval: DefaultPollInterval,
		logger:       logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// rpcRequest represents a JSON-RPC 2.0 request.
type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

// rpcResponse represents a JSON-RPC 2.0 response.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// rpcError represents a JSON-RPC 2.0 error.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// do performs a single JSON-RPC round trip.
func (c *Client) do(ctx context.Context, body []byte) (*rpcResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}

	respBody, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("rate limited (429)")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &rpcResp, nil
}

// call performs a read call with retries and exponential backoff.
// Node-level errors are returned as-is and never retried.
func (c *Client) call(ctx context.Context, method string, params []interface{}, result interface{}) (err error) {
	start := time.Now()
	defer func() {
		observability.RecordRPCCall(method, time.Since(start).Seconds(), err)
	}()

	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * c.backoffMult)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		rpcResp, err := c.do(ctx, body)
		if err != nil {
			lastErr = err
			continue
		}

		if rpcResp.Error != nil {
			return rpcResp.Error
		}
		if result != nil && rpcResp.Result != nil {
			if err := json.Unmarshal(rpcResp.Result, result); err != nil {
				return fmt.Errorf("unmarshal result: %w", err)
			}
		}
		return nil
	}

	return fmt.Errorf("%w: %s: %v", ErrNetwork, method, lastErr)
}

// submit broadcasts a state-changing transaction. Exactly one attempt:
// retrying a broadcast that may have been accepted risks duplicates.
func (c *Client) submit(ctx context.Context, method string, params []interface{}) (TxHandle, error) {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	rpcResp, err := c.do(ctx, body)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrNetwork, method, err)
	}
	if rpcResp.Error != nil {
		return "", classifyRPCError(rpcResp.Error)
	}

	var txHash string
	if err := json.Unmarshal(rpcResp.Result, &txHash); err != nil {
		return "", fmt.Errorf("unmarshal tx hash: %w", err)
	}

	c.logger.WithFields(logrus.Fields{"method": method, "tx": txHash}).Debug("transaction broadcast")
	observability.RecordTxSubmitted(method)
	return TxHandle(txHash), nil
}

// parseWei converts a decimal string from the wire into a wei value.
func parseWei(s string) (*big.Int, error) {
	if s == "" {
		return big.NewInt(0), nil
	}
	v, ok := format.ParseBigInt(s)
	if !ok {
		return nil, fmt.Errorf("malformed wei value %q", s)
	}
	return v, nil
}

// GetTokensForSale returns the listed token ids within the window.
func (c *Client) GetTokensForSale(ctx context.Context, offset, count uint64) ([]domain.TokenID, error) {
	var ids []domain.TokenID
	if err := c.call(ctx, "getTokensForSale", []interface{}{c.contract, offset, count}, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// GetOwnedTokens returns ids held by owner within the window.
func (c *Client) GetOwnedTokens(ctx context.Context, owner string, offset, count uint64) ([]domain.TokenID, error) {
	var ids []domain.TokenID
	if err := c.call(ctx, "getOwnedTokens", []interface{}{c.contract, owner, offset, count}, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// tokenDataResult is the raw getTokenData response.
type tokenDataResult struct {
	Creator            string `json:"creator"`
	RoyaltyBasisPoints uint64 `json:"royaltyBasisPoints"`
	CreatedAt          int64  `json:"createdAt"`
	Price              string `json:"price"`
	IsForSale          bool   `json:"isForSale"`
}

// GetTokenData returns the on-chain record for a token.
func (c *Client) GetTokenData(ctx context.Context, id domain.TokenID) (*domain.TokenData, error) {
	var result tokenDataResult
	if err := c.call(ctx, "getTokenData", []interface{}{c.contract, id}, &result); err != nil {
		return nil, err
	}

	price, err := parseWei(result.Price)
	if err != nil {
		return nil, fmt.Errorf("getTokenData %d: %w", id, err)
	}

	return &domain.TokenData{
		Creator:            domain.NormalizeAddress(result.Creator),
		RoyaltyBasisPoints: result.RoyaltyBasisPoints,
		CreatedAt:          result.CreatedAt,
		Price:              price,
		IsForSale:          result.IsForSale,
	}, nil
}

// OwnerOf returns the current holder of a token.
func (c *Client) OwnerOf(ctx context.Context, id domain.TokenID) (string, error) {
	var owner string
	if err := c.call(ctx, "ownerOf", []interface{}{c.contract, id}, &owner); err != nil {
		return "", err
	}
	return domain.NormalizeAddress(owner), nil
}

// TokenURI returns the content pointer stored at mint time.
func (c *Client) TokenURI(ctx context.Context, id domain.TokenID) (string, error) {
	var uri string
	if err := c.call(ctx, "tokenURI", []interface{}{c.contract, id}, &uri); err != nil {
		return "", err
	}
	return uri, nil
}

// contractStatsResult is the raw getContractStats response.
type contractStatsResult struct {
	TotalNFTs   uint64 `json:"totalNFTs"`
	TotalOnSale uint64 `json:"totalOnSale"`
	Stats       struct {
		TotalVolume       string `json:"totalVolume"`
		TotalTransactions uint64 `json:"totalTransactions"`
		MarketplaceFee    uint64 `json:"marketplaceFee"`
		MaxRoyaltyFee     uint64 `json:"maxRoyaltyFee"`
	} `json:"stats"`
}

// GetContractStats returns the marketplace-wide aggregate.
func (c *Client) GetContractStats(ctx context.Context) (*domain.ContractStats, error) {
	var result contractStatsResult
	if err := c.call(ctx, "getContractStats", []interface{}{c.contract}, &result); err != nil {
		return nil, err
	}

	volume, err := parseWei(result.Stats.TotalVolume)
	if err != nil {
		return nil, fmt.Errorf("getContractStats: %w", err)
	}

	return &domain.ContractStats{
		TotalNFTs:   result.TotalNFTs,
		TotalOnSale: result.TotalOnSale,
		Stats: domain.MarketplaceStats{
			TotalVolume:       volume,
			TotalTransactions: result.Stats.TotalTransactions,
			MarketplaceFee:    result.Stats.MarketplaceFee,
			MaxRoyaltyFee:     result.Stats.MaxRoyaltyFee,
		},
	}, nil
}

// userStatsResult is the raw getUserStats response.
type userStatsResult struct {
	TokensOwned     uint64 `json:"tokensOwned"`
	TokensSold      uint64 `json:"tokensSold"`
	TokensPurchased uint64 `json:"tokensPurchased"`
	TotalSpent      string `json:"totalSpent"`
	TotalEarned     string `json:"totalEarned"`
}

// GetUserStats returns the per-address aggregate.
func (c *Client) GetUserStats(ctx context.Context, address string) (*domain.UserStats, error) {
	var result userStatsResult
	if err := c.call(ctx, "getUserStats", []interface{}{c.contract, address}, &result); err != nil {
		return nil, err
	}

	spent, err := parseWei(result.TotalSpent)
	if err != nil {
		return nil, fmt.Errorf("getUserStats %s: %w", address, err)
	}
	earned, err := parseWei(result.TotalEarned)
	if err != nil {
		return nil, fmt.Errorf("getUserStats %s: %w", address, err)
	}

	return &domain.UserStats{
		TokensOwned:     result.TokensOwned,
		TokensSold:      result.TokensSold,
		TokensPurchased: result.TokensPurchased,
		TotalSpent:      spent,
		TotalEarned:     earned,
	}, nil
}

// MintNFT broadcasts a mint transaction.
func (c *Client) MintNFT(ctx context.Context, from, uri string, price *big.Int, royaltyBasisPoints uint64) (TxHandle, error) {
	return c.submit(ctx, "mintNFT", []interface{}{c.contract, from, uri, price.String(), royaltyBasisPoints})
}

// ListForSale broadcasts a listing transaction.
func (c *Client) ListForSale(ctx context.Context, from string, id domain.TokenID, price *big.Int) (TxHandle, error) {
	return c.submit(ctx, "listForSale", []interface{}{c.contract, from, id, price.String()})
}

// Delist broadcasts a delisting transaction.
func (c *Client) Delist(ctx context.Context, from string, id domain.TokenID) (TxHandle, error) {
	return c.submit(ctx, "delist", []interface{}{c.contract, from, id})
}

// BuyNFT broadcasts a purchase transaction paying value wei.
func (c *Client) BuyNFT(ctx context.Context, from string, id domain.TokenID, value *big.Int) (TxHandle, error) {
	return c.submit(ctx, "buyNFT", []interface{}{c.contract, from, id, value.String()})
}

// receiptResult is the raw getTransactionReceipt response. A null
// result means the transaction is still pending.
type receiptResult struct {
	TxHash      string `json:"txHash"`
	Status      string `json:"status"`
	Reason      string `json:"reason,omitempty"`
	BlockNumber uint64 `json:"blockNumber"`
}

// AwaitReceipt polls for the transaction outcome until the context
// expires. A deadline hit maps to ErrReceiptTimeout: the transaction is
// not known to have failed, only unconfirmed within the bound.
func (c *Client) AwaitReceipt(ctx context.Context, tx TxHandle) (*Receipt, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		var result *receiptResult
		if err := c.call(ctx, "getTransactionReceipt", []interface{}{string(tx)}, &result); err != nil {
			if ctx.Err() == context.DeadlineExceeded {
				return nil, fmt.Errorf("%w: tx %s", ErrReceiptTimeout, tx)
			}
			return nil, err
		}

		if result != nil {
			return &Receipt{
				TxHash:      TxHandle(result.TxHash),
				Status:      ReceiptStatus(result.Status),
				Reason:      result.Reason,
				BlockNumber: result.BlockNumber,
			}, nil
		}

		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return nil, fmt.Errorf("%w: tx %s", ErrReceiptTimeout, tx)
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Interface compliance.
var (
	_ Reader = (*Client)(nil)
	_ Writer = (*Client)(nil)
)
