package transport

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Errors
var (
	ErrStaleConnection = errors.New("connection stale (no pong)")
	ErrAlreadyClosed   = errors.New("already closed")
)

// Events holds the four notification slots a consumer wires before Open.
// Slots may be nil. Ordering is guaranteed: OnOpen fires before any
// OnMessage, and OnClose fires exactly once, after the last OnMessage.
type Events struct {
	OnOpen    func()
	OnMessage func(data []byte)
	OnError   func(err error)

	// OnClose receives the close code and reason. remote is true when the
	// close was initiated by the server or the network rather than by a
	// local call to Close.
	OnClose func(code int, reason string, remote bool)
}

// Config configures a single connection.
type Config struct {
	HandshakeTimeout time.Duration // Dial deadline
	WriteTimeout     time.Duration // Write deadline for sends
	PingInterval     time.Duration // Interval between keepalive pings
	PongTimeout      time.Duration // Max time without pong before the connection is stale
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		PingInterval:     15 * time.Second,
		PongTimeout:      60 * time.Second,
	}
}

// Conn is a single-use WebSocket connection. After it closes it cannot be
// reopened; the caller creates a fresh Conn instead.
type Conn struct {
	cfg    Config
	events Events
	logger *slog.Logger

	ws   *websocket.Conn
	done chan struct{}

	// Write serialization
	writeMu sync.Mutex

	// State
	mu         sync.RWMutex
	connected  bool
	closed     bool
	lastPongAt time.Time
}

// New creates an unopened connection with the given event slots.
func New(cfg Config, events Events, logger *slog.Logger) *Conn {
	if logger == nil {
		logger = slog.Default()
	}
	return &Conn{
		cfg:    cfg,
		events: events,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Open dials the WebSocket endpoint. A dial failure is returned directly;
// everything after a successful dial is reported through the Events slots.
func (c *Conn) Open(ctx context.Context, url string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrAlreadyClosed
	}
	c.mu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}

	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.ws = ws
	c.connected = true
	c.lastPongAt = time.Now()
	c.mu.Unlock()

	ws.SetPingHandler(func(data string) error {
		c.mu.Lock()
		c.lastPongAt = time.Now()
		c.mu.Unlock()

		return ws.WriteControl(
			websocket.PongMessage,
			[]byte(data),
			time.Now().Add(time.Second),
		)
	})

	ws.SetPongHandler(func(string) error {
		c.mu.Lock()
		c.lastPongAt = time.Now()
		c.mu.Unlock()
		return nil
	})

	c.logger.Debug("websocket connected", "url", url)

	if c.events.OnOpen != nil {
		c.events.OnOpen()
	}

	go c.readLoop()
	go c.heartbeatLoop()

	return nil
}

// Send writes raw bytes to the connection. It reports false instead of
// returning an error when the connection is not open; unsent frames are
// not queued.
func (c *Conn) Send(data []byte) bool {
	c.mu.RLock()
	if !c.connected {
		c.mu.RUnlock()
		return false
	}
	ws := c.ws
	c.mu.RUnlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		c.logger.Debug("send failed", "error", err)
		return false
	}
	return true
}

// Close initiates a graceful local shutdown. OnClose fires with
// remote=false; the read loop exits without reporting an error.
// Safe to call more than once.
func (c *Conn) Close(code int, reason string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	ws := c.ws
	c.mu.Unlock()

	close(c.done)

	var err error
	if ws != nil {
		ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason),
			time.Now().Add(time.Second),
		)
		err = ws.Close()
	}

	if c.events.OnClose != nil {
		c.events.OnClose(code, reason, false)
	}
	return err
}

// Connected reports whether the connection is currently open.
func (c *Conn) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// readLoop reads frames until the connection fails or Close is called.
func (c *Conn) readLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.remoteClosed(err)
			return
		}

		select {
		case <-c.done:
			return
		default:
		}

		if c.events.OnMessage != nil {
			c.events.OnMessage(data)
		}
	}
}

// remoteClosed marks the connection down after a read failure and fires
// the error/close slots, unless the failure was caused by a local Close.
func (c *Conn) remoteClosed(err error) {
	select {
	case <-c.done:
		return
	default:
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.connected = false
	c.mu.Unlock()

	close(c.done)

	code := websocket.CloseAbnormalClosure
	reason := err.Error()

	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		code = ce.Code
		reason = ce.Text
	} else if c.events.OnError != nil {
		c.events.OnError(err)
	}

	c.ws.Close()

	if c.events.OnClose != nil {
		c.events.OnClose(code, reason, true)
	}
}

// heartbeatLoop sends keepalive pings and watches for stale connections.
func (c *Conn) heartbeatLoop() {
	if c.cfg.PingInterval <= 0 {
		return
	}

	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.RLock()
			ws := c.ws
			lastPong := c.lastPongAt
			c.mu.RUnlock()

			if ws != nil {
				deadline := time.Now().Add(c.cfg.WriteTimeout)
				if err := ws.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
					c.logger.Debug("failed to send ping", "error", err)
				}
			}

			if c.cfg.PongTimeout > 0 && time.Since(lastPong) > c.cfg.PongTimeout {
				c.logger.Warn("no pong received, connection stale",
					"last_pong", lastPong,
					"timeout", c.cfg.PongTimeout,
				)
				if c.events.OnError != nil {
					c.events.OnError(ErrStaleConnection)
				}
				// Force the read loop to exit and report a remote close.
				ws.Close()
				return
			}
		}
	}
}
