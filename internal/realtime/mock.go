package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// MockDialer implements Dialer for tests. Dials fail while Fail is set;
// otherwise each dial returns a fresh MockConn.
type MockDialer struct {
	mu    sync.Mutex
	fail  error
	urls  []string
	conns []*MockConn
}

// NewMockDialer creates a MockDialer.
func NewMockDialer() *MockDialer {
	return &MockDialer{}
}

// SetFail makes subsequent dials return err; nil restores success.
func (d *MockDialer) SetFail(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail = err
}

// Dial records url and returns a new MockConn.
func (d *MockDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls = append(d.urls, url)
	if d.fail != nil {
		return nil, d.fail
	}
	c := NewMockConn()
	d.conns = append(d.conns, c)
	return c, nil
}

// Dials returns the number of dial attempts.
func (d *MockDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

// URLs returns every dialed url.
func (d *MockDialer) URLs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.urls...)
}

// Last returns the most recent connection, or nil.
func (d *MockDialer) Last() *MockConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// MockConn implements Conn. Inbound frames are injected with Inject and
// outbound frames are recorded.
type MockConn struct {
	inbound chan []byte
	done    chan struct{}

	mu     sync.Mutex
	sent   [][]byte
	closed bool
}

// NewMockConn creates an open MockConn.
func NewMockConn() *MockConn {
	return &MockConn{
		inbound: make(chan []byte, 100),
		done:    make(chan struct{}),
	}
}

// ReadMessage blocks for the next injected frame. It returns io.EOF once
// the connection is closed.
func (c *MockConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.inbound:
		return data, nil
	case <-c.done:
		return nil, io.EOF
	}
}

// WriteMessage records data.
func (c *MockConn) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("mock conn: closed")
	}
	c.sent = append(c.sent, append([]byte(nil), data...))
	return nil
}

// Close ends the connection. Safe to call more than once.
func (c *MockConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
	return nil
}

// Closed reports whether Close was called.
func (c *MockConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Inject queues a raw inbound frame.
func (c *MockConn) Inject(data []byte) {
	c.inbound <- data
}

// InjectFrame queues {type, payload} with payload encoded as JSON.
func (c *MockConn) InjectFrame(t string, payload any) error {
	f := map[string]any{"type": t}
	if payload != nil {
		f["payload"] = payload
	}
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	c.Inject(data)
	return nil
}

// Sent returns every frame written so far.
func (c *MockConn) Sent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.sent))
	copy(out, c.sent)
	return out
}
