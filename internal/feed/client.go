package feed

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tradeview/marketfeed/internal/transport"
)

// Errors
var ErrRetryBudgetExhausted = errors.New("reconnect budget exhausted")

// Config configures a Client.
type Config struct {
	URL                  string        // Feed WebSocket URL
	ReconnectInterval    time.Duration // Fixed wait between reconnect attempts
	MaxReconnectAttempts int           // Automatic reconnects before giving up
	AutoConnect          bool          // Connect during New

	// Transport knobs.
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	PongTimeout      time.Duration
}

// DefaultConfig returns sensible defaults for a feed URL.
func DefaultConfig(url string) Config {
	tc := transport.DefaultConfig()
	return Config{
		URL:                  url,
		ReconnectInterval:    3 * time.Second,
		MaxReconnectAttempts: 5,
		AutoConnect:          true,
		HandshakeTimeout:     tc.HandshakeTimeout,
		WriteTimeout:         tc.WriteTimeout,
		PingInterval:         tc.PingInterval,
		PongTimeout:          tc.PongTimeout,
	}
}

// conn is the transport surface the client drives. *transport.Conn
// satisfies it; tests substitute a fake.
type conn interface {
	Open(ctx context.Context, url string) error
	Send(data []byte) bool
	Close(code int, reason string) error
}

// Client is the public facade: connect/disconnect, send, subscribe/
// unsubscribe, handler registration, liveness ping, and observable
// state. One Client owns at most one live transport connection.
//
// The subscription set and handler table survive transport replacement
// across reconnects; only Disconnect followed by garbage collection of
// the Client discards them.
type Client struct {
	cfg      Config
	logger   *slog.Logger
	clientID string

	// dial builds a transport for one connection attempt.
	dial func(ev transport.Events) conn

	mu          sync.Mutex
	conn        conn
	gen         uint64 // connection generation; stale events are dropped
	status      Status
	lastErr     error
	lastMessage *Message
	sessionID   string
	userID      string
	serverTime  int64
	attempts    int
	manualClose bool
	retryTimer  *time.Timer
	parseErrors int64
	subs        map[string]Subscription
	handlers    map[string]Handler
}

// New creates a Client. When cfg.AutoConnect is set the first connection
// attempt starts immediately.
func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = 3 * time.Second
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = 5
	}

	c := &Client{
		cfg:      cfg,
		logger:   logger,
		clientID: uuid.NewString(),
		status:   StatusDisconnected,
		subs:     make(map[string]Subscription),
		handlers: make(map[string]Handler),
	}
	c.dial = func(ev transport.Events) conn {
		return transport.New(transport.Config{
			HandshakeTimeout: cfg.HandshakeTimeout,
			WriteTimeout:     cfg.WriteTimeout,
			PingInterval:     cfg.PingInterval,
			PongTimeout:      cfg.PongTimeout,
		}, ev, logger)
	}

	if cfg.AutoConnect {
		c.Connect()
	}
	return c
}

// ClientID returns the identifier attached to liveness pings.
func (c *Client) ClientID() string { return c.clientID }

// Connect starts the connection state machine. It is idempotent while a
// connection attempt is in flight or established; after a manual
// disconnect or an exhausted retry budget it starts over with a fresh
// attempt counter.
func (c *Client) Connect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status == StatusConnecting || c.status == StatusConnected {
		return
	}

	c.manualClose = false
	c.attempts = 0
	c.lastErr = nil
	c.cancelRetryLocked()
	c.openLocked()
}

// Disconnect closes the current connection, cancels any pending retry
// and suppresses all future automatic reconnects. Safe to call in any
// state.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.manualClose = true
	c.cancelRetryLocked()
	cn := c.conn
	c.conn = nil
	c.gen++ // drop events still in flight from the old connection
	c.status = StatusDisconnected
	c.mu.Unlock()

	if cn != nil {
		cn.Close(websocket.CloseNormalClosure, "client disconnect")
	}
	c.logger.Info("disconnected")
}

// Send marshals v and writes it to the transport. It reports false when
// not connected or when marshaling fails; it never blocks on retries
// and never queues unsent frames.
func (c *Client) Send(v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Warn("send: marshal failed", "error", err)
		return false
	}

	c.mu.Lock()
	cn := c.conn
	connected := c.status == StatusConnected
	c.mu.Unlock()

	if !connected || cn == nil {
		return false
	}
	return cn.Send(data)
}

// Ping sends a liveness frame. Reports false when not connected.
func (c *Client) Ping() bool {
	return c.Send(map[string]any{
		"type":      TypePing,
		"client_id": c.clientID,
		"timestamp": time.Now().UnixMilli(),
	})
}

// Subscribe adds a subscription to the registry and, when connected,
// sends the subscribe frame immediately. Subscribing twice to the same
// kind+params is a no-op.
func (c *Client) Subscribe(sub Subscription) {
	key := sub.key()

	c.mu.Lock()
	if _, exists := c.subs[key]; exists {
		c.mu.Unlock()
		return
	}
	c.subs[key] = sub
	cn := c.conn
	connected := c.status == StatusConnected
	c.mu.Unlock()

	if connected && cn != nil {
		cn.Send(marshalFrame(sub.subscribeFrame()))
	}
}

// Unsubscribe removes a subscription from the registry and, when
// connected, sends the unsubscribe frame immediately. Removing an
// absent subscription is a no-op. While disconnected only local state
// changes; the server-side unsubscribe is implicitly satisfied by not
// replaying the entry on the next connect.
func (c *Client) Unsubscribe(sub Subscription) {
	key := sub.key()

	c.mu.Lock()
	if _, exists := c.subs[key]; !exists {
		c.mu.Unlock()
		return
	}
	delete(c.subs, key)
	cn := c.conn
	connected := c.status == StatusConnected
	c.mu.Unlock()

	if connected && cn != nil {
		cn.Send(marshalFrame(sub.unsubscribeFrame()))
	}
}

// Subscriptions returns the current registry contents in canonical order.
func (c *Client) Subscriptions() []Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sortedSubsLocked()
}

// Handle registers the handler for a message type. A second registration
// for the same type replaces the first; handlers never stack.
func (c *Client) Handle(msgType string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[msgType] = h
}

// RemoveHandler drops the handler for a message type.
func (c *Client) RemoveHandler(msgType string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, msgType)
}

// State returns a snapshot of the observable state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := State{
		Connected:         c.status == StatusConnected,
		Status:            c.status,
		Err:               c.lastErr,
		SessionID:         c.sessionID,
		UserID:            c.userID,
		ServerTime:        c.serverTime,
		ReconnectAttempts: c.attempts,
		ParseErrors:       c.parseErrors,
	}
	if c.lastMessage != nil {
		m := *c.lastMessage
		s.LastMessage = &m
	}
	return s
}

// Connected reports whether the client is currently connected.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status == StatusConnected
}

// Status returns the current connection status.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// openLocked starts one connection attempt. Caller holds c.mu.
func (c *Client) openLocked() {
	c.gen++
	gen := c.gen
	c.status = StatusConnecting

	ev := transport.Events{
		OnOpen:    func() { c.opened(gen) },
		OnMessage: func(data []byte) { c.dispatch(gen, data) },
		OnError:   func(err error) { c.transportError(gen, err) },
		OnClose:   func(code int, reason string, remote bool) { c.closedEvent(gen, code, reason, remote) },
	}

	cn := c.dial(ev)
	c.conn = cn

	go func() {
		if err := cn.Open(context.Background(), c.cfg.URL); err != nil {
			c.connectFailed(gen, err)
		}
	}()
}

// opened handles a successful transport open: reset the attempt counter
// and replay the full subscription set (resync).
func (c *Client) opened(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.manualClose {
		c.mu.Unlock()
		return
	}
	c.status = StatusConnected
	c.attempts = 0
	c.lastErr = nil
	cn := c.conn
	subs := c.sortedSubsLocked()
	c.mu.Unlock()

	c.logger.Info("connected", "url", c.cfg.URL, "subscriptions", len(subs))

	for _, sub := range subs {
		cn.Send(marshalFrame(sub.subscribeFrame()))
	}
}

// connectFailed handles a failed dial.
func (c *Client) connectFailed(gen uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen || c.manualClose {
		return
	}
	c.logger.Warn("connect failed", "url", c.cfg.URL, "error", err)
	c.lastErr = err
	c.scheduleRetryLocked()
}

// transportError records a transport-level error. A close event follows
// and drives the retry policy; nothing is propagated as a panic or an
// error return across the public API.
func (c *Client) transportError(gen uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen {
		return
	}
	c.lastErr = err
	c.logger.Warn("transport error", "error", err)
}

// closedEvent handles a transport close. Only a remote close of the
// current connection schedules a reconnect; local closes were initiated
// by Disconnect, which set terminal state already.
func (c *Client) closedEvent(gen uint64, code int, reason string, remote bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen || !remote || c.manualClose {
		return
	}

	c.logger.Warn("connection lost", "code", code, "reason", reason)
	c.conn = nil
	c.status = StatusDisconnected
	c.scheduleRetryLocked()
}

// scheduleRetryLocked increments the attempt counter and arms the retry
// timer, or settles in terminal error state when the budget is spent.
// At most one timer is pending at a time. Caller holds c.mu.
func (c *Client) scheduleRetryLocked() {
	if c.manualClose {
		return
	}
	c.cancelRetryLocked()

	if c.attempts >= c.cfg.MaxReconnectAttempts {
		c.status = StatusError
		if c.lastErr == nil {
			c.lastErr = ErrRetryBudgetExhausted
		}
		c.logger.Error("reconnect budget exhausted",
			"attempts", c.attempts,
			"max", c.cfg.MaxReconnectAttempts,
		)
		return
	}

	c.attempts++
	c.status = StatusConnecting
	c.logger.Info("scheduling reconnect",
		"attempt", c.attempts,
		"max", c.cfg.MaxReconnectAttempts,
		"wait", c.cfg.ReconnectInterval,
	)
	c.retryTimer = time.AfterFunc(c.cfg.ReconnectInterval, c.retry)
}

// retry fires from the reconnect timer.
func (c *Client) retry() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.manualClose || c.retryTimer == nil {
		return
	}
	c.retryTimer = nil
	c.openLocked()
}

func (c *Client) cancelRetryLocked() {
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
}

func (c *Client) sortedSubsLocked() []Subscription {
	keys := make([]string, 0, len(c.subs))
	for key := range c.subs {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := make([]Subscription, 0, len(keys))
	for _, key := range keys {
		out = append(out, c.subs[key])
	}
	return out
}

func marshalFrame(m map[string]any) []byte {
	data, _ := json.Marshal(m)
	return data
}
