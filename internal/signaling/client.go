// Package signaling implements SignalClient: a single persistent,
// auto-reconnecting WebSocket connection to the signaling server, with a
// phased backoff schedule and a periodic heartbeat.
package signaling

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/airan-project/airan/internal/logging"
)

// ReconnectPhase identifies one row of the phased backoff table.
type ReconnectPhase int

const (
	Phase0 ReconnectPhase = iota // 1s delay, 10 attempts
	Phase1                       // 10s delay, 10 attempts
	Phase2                       // 30s delay, 10 attempts
	Phase3                       // 60s delay, unbounded, counter resets every 10
)

var phaseDelays = map[ReconnectPhase]time.Duration{
	Phase0: 1 * time.Second,
	Phase1: 10 * time.Second,
	Phase2: 30 * time.Second,
	Phase3: 60 * time.Second,
}

const maxRetryPerPhase = 10

// DefaultHeartbeatInterval is used when Connect is called with interval <= 0.
const DefaultHeartbeatInterval = 30 * time.Second

// heartbeatText is the literal text frame sent as a heartbeat, matching
// what the signaling server expects.
const heartbeatText = "@heart"

// Client maintains one logical signaling connection, handling reconnection
// and heartbeat entirely internally. Callers never see raw websocket
// frames; text/binary payloads flow through the subscription callbacks.
//
// Dialing, reading, the heartbeat and reconnect timers run on goroutines
// this Client owns; SendText/SendBinary write on the caller's goroutine,
// serialised with the heartbeat by writeMu.
type Client struct {
	url               string
	heartbeatInterval time.Duration

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	closed    bool

	// writeMu serialises frame writes: the heartbeat timer and Send* calls
	// share one connection, and the websocket library allows only a single
	// concurrent writer.
	writeMu sync.Mutex

	onConnected      func()
	onDisconnected   func()
	onText           func(string)
	onBinary         func([]byte)
	onReconnectState func(phase int, attempt int, nextDelay time.Duration)

	cancel context.CancelFunc
	done   chan struct{}
}

// NewClient constructs a Client bound to url. Call Connect to start it.
func NewClient(url string) *Client {
	return &Client{url: url, heartbeatInterval: DefaultHeartbeatInterval}
}

// OnConnected registers the callback fired after every successful (re)connect.
func (c *Client) OnConnected(fn func()) { c.onConnected = fn }

// OnDisconnected registers the callback fired on every disconnect.
func (c *Client) OnDisconnected(fn func()) { c.onDisconnected = fn }

// OnText registers the callback fired for each inbound text frame.
func (c *Client) OnText(fn func(string)) { c.onText = fn }

// OnBinary registers the callback fired for each inbound binary frame.
func (c *Client) OnBinary(fn func([]byte)) { c.onBinary = fn }

// OnReconnectStatus registers the callback fired at the start of every
// reconnect attempt, surfacing phase/attempt/next-delay to the UI.
func (c *Client) OnReconnectStatus(fn func(phase int, attempt int, nextDelay time.Duration)) {
	c.onReconnectState = fn
}

// Connect starts the signaling worker: dial, then loop reconnecting with
// the phased backoff schedule forever until ctx is cancelled or Close is
// called. heartbeatInterval <= 0 selects DefaultHeartbeatInterval.
func (c *Client) Connect(ctx context.Context, heartbeatInterval time.Duration) {
	if heartbeatInterval > 0 {
		c.heartbeatInterval = heartbeatInterval
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.done = make(chan struct{})
	c.mu.Unlock()

	go c.run(runCtx)
}

// Close terminates the signaling worker and the underlying connection.
// Idempotent.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	cancel := c.cancel
	conn := c.conn
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
}

// SendText writes a text frame on the current connection. It may block on
// transport backpressure; it returns an error (never panics) if currently
// disconnected; retrying is the caller's responsibility.
func (c *Client) SendText(s string) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.connected
	c.mu.Unlock()

	if !connected || conn == nil {
		return errNotConnected
	}
	return c.writeMessage(conn, websocket.TextMessage, []byte(s))
}

// SendBinary writes a binary frame on the current connection.
func (c *Client) SendBinary(b []byte) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.connected
	c.mu.Unlock()

	if !connected || conn == nil {
		return errNotConnected
	}
	return c.writeMessage(conn, websocket.BinaryMessage, b)
}

func (c *Client) writeMessage(conn *websocket.Conn, msgType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(msgType, data)
}

func (c *Client) run(ctx context.Context) {
	defer close(c.done)

	phase := Phase0
	attempt := 0
	firstAttempt := true

	for {
		if ctx.Err() != nil {
			return
		}

		// The very first connection attempt of the client's lifetime dials
		// immediately; every attempt after a failure or a disconnect waits
		// out the current phase's delay first.
		if !firstAttempt {
			delay := phaseDelays[phase]
			if c.onReconnectState != nil {
				c.onReconnectState(int(phase), attempt+1, delay)
			}
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
		}
		firstAttempt = false

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
		if err != nil {
			logging.Error("signaling: dial %s: %v", c.url, err)

			attempt++
			if attempt >= maxRetryPerPhase {
				attempt = 0
				if phase < Phase3 {
					phase++
				}
				// Phase3's counter resets every 10 attempts but stays in Phase3.
			}
			continue
		}

		// Connected: reset phase/attempt, emit connected, run the session.
		phase = Phase0
		attempt = 0

		c.mu.Lock()
		c.conn = conn
		c.connected = true
		c.mu.Unlock()

		if c.onConnected != nil {
			c.onConnected()
		}

		c.runConnectedSession(ctx, conn)

		c.mu.Lock()
		c.connected = false
		c.conn = nil
		c.mu.Unlock()

		if c.onDisconnected != nil {
			c.onDisconnected()
		}

		if ctx.Err() != nil {
			return
		}
		// Loop back into the reconnect schedule from Phase0.
	}
}

// runConnectedSession owns the heartbeat timer and the read loop for one
// connected lifetime; it returns when the connection drops or ctx ends.
func (c *Client) runConnectedSession(ctx context.Context, conn *websocket.Conn) {
	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.heartbeatLoop(sessionCtx, conn)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			logging.Error("signaling: read: %v", err)
			_ = conn.Close()
			return
		}

		switch msgType {
		case websocket.TextMessage:
			if c.onText != nil {
				c.onText(string(data))
			}
		case websocket.BinaryMessage:
			if c.onBinary != nil {
				c.onBinary(data)
			}
		}

		if ctx.Err() != nil {
			_ = conn.Close()
			return
		}
	}
}

func (c *Client) heartbeatLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.writeMessage(conn, websocket.TextMessage, []byte(heartbeatText)); err != nil {
				logging.Error("signaling: heartbeat write: %v", err)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

type signalingError string

func (e signalingError) Error() string { return string(e) }

const errNotConnected = signalingError("signaling: not connected")
