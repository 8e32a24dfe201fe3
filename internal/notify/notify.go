// Package notify holds the global transient error message: failures that
// have no message or task to attach to are shown here and clear themselves.
package notify

import (
	"log"
	"sync"
	"time"

	"github.com/zulandar/novelsync/internal/clock"
	"github.com/zulandar/novelsync/internal/observe"
)

// DefaultTTL is how long a message stays visible.
const DefaultTTL = 5 * time.Second

// Notifier stores the current transient error.
type Notifier struct {
	clock clock.Clock
	ttl   time.Duration
	hub   observe.Hub

	mu    sync.Mutex
	msg   string
	gen   int
	timer clock.Timer
}

// New creates a Notifier. A nil clock uses the wall clock.
func New(c clock.Clock) *Notifier {
	if c == nil {
		c = clock.Real{}
	}
	return &Notifier{clock: c, ttl: DefaultTTL}
}

// Set shows msg, replacing any current message. An empty msg clears.
func (n *Notifier) Set(msg string) {
	n.mu.Lock()
	n.gen++
	gen := n.gen
	n.msg = msg
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
	if msg != "" {
		n.timer = n.clock.AfterFunc(n.ttl, func() { n.expire(gen) })
	}
	n.mu.Unlock()

	if msg != "" {
		log.Printf("notify: %s", msg)
	}
	n.hub.Notify()
}

// Error shows err.Error(); a nil err is ignored.
func (n *Notifier) Error(err error) {
	if err == nil {
		return
	}
	n.Set(err.Error())
}

func (n *Notifier) expire(gen int) {
	n.mu.Lock()
	if n.gen != gen {
		n.mu.Unlock()
		return
	}
	n.msg = ""
	n.timer = nil
	n.mu.Unlock()
	n.hub.Notify()
}

// Current returns the visible message, or "".
func (n *Notifier) Current() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.msg
}

// Subscribe registers fn for changes.
func (n *Notifier) Subscribe(fn func()) func() {
	return n.hub.Subscribe(fn)
}
