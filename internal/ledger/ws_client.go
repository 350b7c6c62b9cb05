package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"nftmarket/internal/domain"
	"nftmarket/internal/format"
	"nftmarket/internal/observability"
)

// WSConfig configures WebSocket client behavior.
type WSConfig struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
	// SubscribeTimeout bounds the wait for a subscription confirmation.
	SubscribeTimeout time.Duration
}

// DefaultWSConfig returns default WebSocket configuration.
func DefaultWSConfig() WSConfig {
	return WSConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		SubscribeTimeout:  30 * time.Second,
	}
}

// WSClient implements EventStream over a WebSocket JSON-RPC connection.
// It transparently reconnects and resubscribes after connection loss.
// Duplicate delivery after a reorganization is possible; subscribers
// treat events as idempotent refresh triggers.
type WSClient struct {
	endpoint string
	contract string
	config   WSConfig
	logger   logrus.FieldLogger

	conn      *websocket.Conn
	connMu    sync.Mutex
	closed    atomic.Bool
	requestID atomic.Uint64

	// subs maps subscription ID to delivery channel
	subs   map[int64]chan Event
	subsMu sync.RWMutex

	// activeEvents stores event names for resubscription after reconnect
	activeEvents   map[int64]string
	activeEventsMu sync.RWMutex

	// pendingSubs maps request ID to channel waiting for subscription ID
	pendingSubs   map[uint64]chan int64
	pendingSubsMu sync.Mutex

	done chan struct{}
	wg   sync.WaitGroup

	reconnecting atomic.Bool
}

// NewWSClient connects to the endpoint and starts the read and ping
// loops.
func NewWSClient(ctx context.Context, endpoint, contract string, config *WSConfig, opts ...WSOption) (*WSClient, error) {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = *config
	}

	c := &WSClient{
		endpoint:     endpoint,
		contract:     contract,
		config:       cfg,
		logger:       logrus.StandardLogger(),
		subs:         make(map[int64]chan Event),
		activeEvents: make(map[int64]string),
		pendingSubs:  make(map[uint64]chan int64),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	c.wg.Add(2)
	go c.readLoop()
	go c.pingLoop()

	return c, nil
}

// WSOption configures WSClient.
type WSOption func(*WSClient)

// WithWSLogger sets the client logger.
func WithWSLogger(l logrus.FieldLogger) WSOption {
	return func(c *WSClient) {
		c.logger = l
	}
}

// connect establishes the WebSocket connection.
func (c *WSClient) connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	c.conn = conn
	return nil
}

// Subscribe starts delivery of the named contract event.
func (c *WSClient) Subscribe(ctx context.Context, event string) (*Subscription, error) {
	subID, err := c.subscribeRequest(ctx, event)
	if err != nil {
		return nil, err
	}

	// Buffered channel absorbs bursts; events are refresh triggers, so
	// a drop under sustained backpressure loses no authoritative state.
	ch := make(chan Event, 1024)
	c.subsMu.Lock()
	c.subs[subID] = ch
	c.subsMu.Unlock()

	c.activeEventsMu.Lock()
	c.activeEvents[subID] = event
	c.activeEventsMu.Unlock()

	return NewSubscription(event, ch, func() { c.unsubscribe(subID) }), nil
}

// subscribeRequest sends the subscribe call and waits for the
// subscription ID, without storing channel state.
func (c *WSClient) subscribeRequest(ctx context.Context, event string) (int64, error) {
	if c.closed.Load() {
		return 0, fmt.Errorf("client closed")
	}

	reqID := c.requestID.Add(1)
	req := wsRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  "subscribeContractEvents",
		Params:  []interface{}{c.contract, event},
	}

	confirmCh := make(chan int64, 1)
	c.pendingSubsMu.Lock()
	c.pendingSubs[reqID] = confirmCh
	c.pendingSubsMu.Unlock()

	dropPending := func() {
		c.pendingSubsMu.Lock()
		delete(c.pendingSubs, reqID)
		c.pendingSubsMu.Unlock()
	}

	c.connMu.Lock()
	if c.conn == nil {
		c.connMu.Unlock()
		dropPending()
		return 0, fmt.Errorf("not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	err := c.conn.WriteJSON(req)
	c.connMu.Unlock()

	if err != nil {
		dropPending()
		return 0, fmt.Errorf("write subscribe: %w", err)
	}

	select {
	case subID := <-confirmCh:
		return subID, nil
	case <-time.After(c.config.SubscribeTimeout):
		dropPending()
		return 0, fmt.Errorf("subscription timeout after %v", c.config.SubscribeTimeout)
	case <-c.done:
		return 0, fmt.Errorf("client closed")
	case <-ctx.Done():
		dropPending()
		return 0, ctx.Err()
	}
}

// unsubscribe removes the subscription and notifies the node
// best-effort.
func (c *WSClient) unsubscribe(subID int64) {
	c.subsMu.Lock()
	ch, ok := c.subs[subID]
	if ok {
		delete(c.subs, subID)
		close(ch)
	}
	c.subsMu.Unlock()

	c.activeEventsMu.Lock()
	delete(c.activeEvents, subID)
	c.activeEventsMu.Unlock()

	if !ok || c.closed.Load() {
		return
	}

	req := wsRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  "unsubscribeContractEvents",
		Params:  []interface{}{subID},
	}

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
		if err := c.conn.WriteJSON(req); err != nil {
			c.logger.WithError(err).Debug("unsubscribe write failed")
		}
	}
	c.connMu.Unlock()
}

// Close closes the WebSocket connection and all subscriptions.
func (c *WSClient) Close() error {
	if c.closed.Swap(true) {
		return nil // Already closed
	}

	close(c.done)

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
	}
	c.connMu.Unlock()

	c.subsMu.Lock()
	for id, ch := range c.subs {
		close(ch)
		delete(c.subs, id)
	}
	c.subsMu.Unlock()

	c.pendingSubsMu.Lock()
	for id, ch := range c.pendingSubs {
		close(ch)
		delete(c.pendingSubs, id)
	}
	c.pendingSubsMu.Unlock()

	c.wg.Wait()
	return nil
}

// readLoop reads messages and dispatches to subscribers, reconnecting
// with exponential backoff on connection loss.
func (c *WSClient) readLoop() {
	defer c.wg.Done()

	reconnectDelay := c.config.ReconnectDelay

	for !c.closed.Load() {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			// A previous reconnect attempt failed and left no
			// connection; schedule another one rather than waiting for
			// a read error that can never come.
			if !c.reconnecting.Swap(true) {
				go c.reconnect(reconnectDelay)
			}
			reconnectDelay = reconnectDelay * 2
			if reconnectDelay > c.config.MaxReconnectDelay {
				reconnectDelay = c.config.MaxReconnectDelay
			}

			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}

			if !c.reconnecting.Swap(true) {
				go c.reconnect(reconnectDelay)
			}

			reconnectDelay = reconnectDelay * 2
			if reconnectDelay > c.config.MaxReconnectDelay {
				reconnectDelay = c.config.MaxReconnectDelay
			}

			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		reconnectDelay = c.config.ReconnectDelay

		c.handleMessage(message)
	}
}

// reconnect attempts to reconnect and resubscribe.
func (c *WSClient) reconnect(delay time.Duration) {
	defer c.reconnecting.Store(false)

	if c.closed.Load() {
		return
	}

	select {
	case <-c.done:
		return
	case <-time.After(delay):
	}

	observability.RecordWSReconnect()

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.connect(ctx); err != nil {
		c.logger.WithError(err).Warn("reconnect failed, will retry on next read error")
		return
	}

	c.resubscribeAll()
}

// resubscribeAll re-establishes all active subscriptions after a
// reconnect, remapping delivery channels onto the new subscription ids.
func (c *WSClient) resubscribeAll() {
	c.activeEventsMu.RLock()
	events := make(map[int64]string, len(c.activeEvents))
	for id, name := range c.activeEvents {
		events[id] = name
	}
	c.activeEventsMu.RUnlock()

	c.subsMu.RLock()
	channels := make(map[int64]chan Event, len(c.subs))
	for id, ch := range c.subs {
		channels[id] = ch
	}
	c.subsMu.RUnlock()

	for oldSubID, event := range events {
		ch := channels[oldSubID]
		if ch == nil {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		newSubID, err := c.subscribeRequest(ctx, event)
		cancel()

		if err != nil {
			c.logger.WithError(err).WithField("event", event).Warn("resubscribe failed")
			continue
		}

		c.subsMu.Lock()
		delete(c.subs, oldSubID)
		c.subs[newSubID] = ch
		c.subsMu.Unlock()

		c.activeEventsMu.Lock()
		delete(c.activeEvents, oldSubID)
		c.activeEvents[newSubID] = event
		c.activeEventsMu.Unlock()
	}
}

// handleMessage processes an incoming WebSocket message.
func (c *WSClient) handleMessage(message []byte) {
	// Subscription confirmation first
	var resp wsSubscribeResponse
	if err := json.Unmarshal(message, &resp); err == nil && resp.Result > 0 {
		c.handleSubscribeResponse(&resp)
		return
	}

	// Event notification
	var notif wsNotification
	if err := json.Unmarshal(message, &notif); err == nil && notif.Method == "contractEvent" {
		c.handleEventNotification(&notif)
		return
	}

	// Error response
	var errResp struct {
		JSONRPC string    `json:"jsonrpc"`
		ID      uint64    `json:"id"`
		Error   *rpcError `json:"error"`
	}
	if err := json.Unmarshal(message, &errResp); err == nil && errResp.Error != nil {
		c.logger.WithFields(logrus.Fields{
			"code":    errResp.Error.Code,
			"message": errResp.Error.Message,
		}).Warn("websocket error response")
	}
}

// handleSubscribeResponse handles subscription confirmation.
func (c *WSClient) handleSubscribeResponse(resp *wsSubscribeResponse) {
	c.pendingSubsMu.Lock()
	ch, ok := c.pendingSubs[resp.ID]
	if ok {
		delete(c.pendingSubs, resp.ID)
	}
	c.pendingSubsMu.Unlock()

	if ok {
		select {
		case ch <- resp.Result:
		default:
		}
	}
}

// handleEventNotification dispatches a contract event to its
// subscriber.
func (c *WSClient) handleEventNotification(notif *wsNotification) {
	if notif.Params == nil {
		return
	}

	value := notif.Params.Result
	event := Event{
		Name:        value.Event,
		TokenID:     domain.TokenID(value.TokenID),
		Seller:      domain.NormalizeAddress(value.Seller),
		Buyer:       domain.NormalizeAddress(value.Buyer),
		BlockNumber: value.BlockNumber,
	}
	if value.Price != "" {
		if price, ok := format.ParseBigInt(value.Price); ok {
			event.Price = price
		}
	}

	observability.RecordEventReceived(event.Name)

	c.subsMu.RLock()
	ch, ok := c.subs[notif.Params.Subscription]
	if ok {
		// Non-blocking: events only trigger refreshes, so a drop under
		// sustained backpressure is recovered by the next refresh.
		select {
		case ch <- event:
		default:
			observability.RecordEventDropped(event.Name)
			c.logger.WithField("event", event.Name).Warn("subscriber buffer full, event dropped")
		}
	}
	c.subsMu.RUnlock()
}

// pingLoop sends periodic ping frames to keep the connection alive.
func (c *WSClient) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.connMu.Lock()
			if c.conn != nil {
				c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
				if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					// Connection might be dead, reader will reconnect
				}
			}
			c.connMu.Unlock()
		}
	}
}

// WebSocket message types

type wsRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

type wsSubscribeResponse struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Result  int64  `json:"result"` // subscription ID
}

type wsNotification struct {
	JSONRPC string                `json:"jsonrpc"`
	Method  string                `json:"method"`
	Params  *wsNotificationParams `json:"params"`
}

type wsNotificationParams struct {
	Subscription int64        `json:"subscription"`
	Result       wsEventValue `json:"result"`
}

type wsEventValue struct {
	Event       string `json:"event"`
	TokenID     uint64 `json:"tokenId"`
	Seller      string `json:"seller,omitempty"`
	Buyer       string `json:"buyer,omitempty"`
	Price       string `json:"price,omitempty"`
	BlockNumber uint64 `json:"blockNumber"`
}

var _ EventStream = (*WSClient)(nil)
