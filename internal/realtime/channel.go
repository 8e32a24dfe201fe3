// Package realtime maintains the per-user message channel to the chat
// server: one connection, unbounded exponential reconnect, and dispatch of
// inbound frames to handlers registered by type.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/zulandar/novelsync/internal/clock"
	"github.com/zulandar/novelsync/internal/config"
	"github.com/zulandar/novelsync/internal/observe"
)

// Status is the connection state.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	}
	return "disconnected"
}

// Keepalive frame types.
const (
	TypePing = "ping"
	TypePong = "pong"
)

const (
	baseBackoff       = time.Second
	DefaultMaxBackoff = 30 * time.Second
)

// Frame is the envelope of every inbound message.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Handler receives the payload of a frame. Frames without a payload hand
// over the whole raw frame.
type Handler func(payload json.RawMessage)

// Opts configures a Channel.
type Opts struct {
	BaseURL    string // ws:// or wss:// origin
	Dialer     Dialer
	Clock      clock.Clock
	UserID     func() string
	MaxBackoff time.Duration
}

type handlerEntry struct {
	id int
	fn Handler
}

// Channel is the realtime connection. Inbound frames are read and
// dispatched on one goroutine per connection, in arrival order.
type Channel struct {
	baseURL    string
	dialer     Dialer
	clock      clock.Clock
	userID     func() string
	maxBackoff time.Duration

	mu        sync.Mutex
	status    Status
	conn      Conn
	attempts  int
	manual    bool
	reconnect clock.Timer
	handlers  map[string][]handlerEntry
	nextID    int

	writeMu sync.Mutex
	hub     observe.Hub
}

// New creates a Channel.
func New(opts Opts) (*Channel, error) {
	if opts.Dialer == nil {
		return nil, fmt.Errorf("realtime: dialer is required")
	}
	if opts.UserID == nil {
		return nil, fmt.Errorf("realtime: user id func is required")
	}
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("realtime: base url is required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = DefaultMaxBackoff
	}
	return &Channel{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		dialer:     opts.Dialer,
		clock:      opts.Clock,
		userID:     opts.UserID,
		maxBackoff: opts.MaxBackoff,
		handlers:   make(map[string][]handlerEntry),
	}, nil
}

// URL returns the endpoint for a user.
func (c *Channel) URL(userID string) string {
	return c.baseURL + "/api/ws/" + url.PathEscape(userID)
}

// Backoff returns the reconnect delay after attempts consecutive failures.
func Backoff(attempts int, max time.Duration) time.Duration {
	if attempts >= 30 {
		return max
	}
	d := baseBackoff << attempts
	if d > max {
		return max
	}
	return d
}

// Status returns the current connection state.
func (c *Channel) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Attempts returns the reconnect attempts since the last successful open.
func (c *Channel) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Subscribe registers fn for status changes.
func (c *Channel) Subscribe(fn func()) func() {
	return c.hub.Subscribe(fn)
}

// Connect opens the channel for the current user. It is a no-op unless
// the channel is disconnected, and for anonymous users. A failed dial
// schedules a reconnect like any unexpected close.
func (c *Channel) Connect(ctx context.Context) error {
	uid := c.userID()
	if config.IsAnonymous(uid) {
		log.Printf("realtime: connect skipped: no logged-in user")
		return nil
	}

	c.mu.Lock()
	if c.status != StatusDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.manual = false
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
	c.status = StatusConnecting
	c.mu.Unlock()
	c.hub.Notify()

	conn, err := c.dialer.Dial(ctx, c.URL(uid))
	if err != nil {
		c.lost(nil, err)
		return fmt.Errorf("realtime: connect: %w", err)
	}

	c.mu.Lock()
	if c.manual {
		c.status = StatusDisconnected
		c.mu.Unlock()
		conn.Close()
		c.hub.Notify()
		return nil
	}
	c.conn = conn
	c.status = StatusConnected
	c.attempts = 0
	c.mu.Unlock()
	c.hub.Notify()

	log.Printf("realtime: connected as %s", uid)
	go c.readLoop(conn)
	return nil
}

// Disconnect closes the connection and suppresses reconnects until the
// next Connect.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	c.manual = true
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
	conn := c.conn
	c.conn = nil
	changed := c.status != StatusDisconnected
	c.status = StatusDisconnected
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if changed {
		c.hub.Notify()
	}
}

// lost handles the end of conn (nil for a failed dial). Closes of a
// connection that is no longer current are ignored.
func (c *Channel) lost(conn Conn, cause error) {
	c.mu.Lock()
	if conn != nil && c.conn != conn {
		c.mu.Unlock()
		return
	}
	if conn == nil && c.status != StatusConnecting {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.status = StatusDisconnected
	if c.manual {
		c.mu.Unlock()
		c.hub.Notify()
		return
	}
	delay := Backoff(c.attempts, c.maxBackoff)
	c.attempts++
	c.reconnect = c.clock.AfterFunc(delay, func() {
		c.mu.Lock()
		c.reconnect = nil
		c.mu.Unlock()
		c.Connect(context.Background())
	})
	c.mu.Unlock()
	c.hub.Notify()

	log.Printf("realtime: connection lost (%v), reconnecting in %s", cause, delay)
}

func (c *Channel) readLoop(conn Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			c.lost(conn, err)
			return
		}
		c.dispatch(data)
	}
}

func (c *Channel) dispatch(data []byte) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		log.Printf("realtime: dropping malformed frame: %v", err)
		return
	}
	switch f.Type {
	case TypePong:
		return
	case TypePing:
		c.Send(map[string]string{"type": TypePong})
		return
	}

	c.mu.Lock()
	hs := append([]handlerEntry(nil), c.handlers[f.Type]...)
	c.mu.Unlock()

	payload := f.Payload
	if len(payload) == 0 || string(payload) == "null" {
		payload = json.RawMessage(data)
	}
	for _, h := range hs {
		h.fn(payload)
	}
}

// OnMessage registers h for frames of type t and returns a function that
// removes it.
func (c *Channel) OnMessage(t string, h Handler) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	c.handlers[t] = append(c.handlers[t], handlerEntry{id: id, fn: h})

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			hs := c.handlers[t]
			for i, e := range hs {
				if e.id == id {
					c.handlers[t] = append(hs[:i:i], hs[i+1:]...)
					break
				}
			}
			if len(c.handlers[t]) == 0 {
				delete(c.handlers, t)
			}
		})
	}
}

// Send transmits v as JSON when connected. It reports false, with a
// warning logged, when the frame was dropped.
func (c *Channel) Send(v any) bool {
	c.mu.Lock()
	conn := c.conn
	connected := c.status == StatusConnected
	c.mu.Unlock()
	if !connected || conn == nil {
		log.Printf("realtime: not connected, dropping outbound message")
		return false
	}
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("realtime: encode outbound message: %v", err)
		return false
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteMessage(data); err != nil {
		log.Printf("realtime: send: %v", err)
		return false
	}
	return true
}
