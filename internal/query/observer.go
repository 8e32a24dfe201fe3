package query

import (
	"context"
	"sync"

	"github.com/zulandar/novelsync/internal/observe"
)

// Observer keeps one key alive in the cache and is told when its value
// changes. Switching keys keeps the previous value visible as a
// placeholder until the new key has data.
type Observer struct {
	c   *Cache
	hub observe.Hub

	mu          sync.Mutex
	key         Key
	fetch       Fetcher
	opts        Options
	placeholder any
	hasPH       bool
	closed      bool
}

// Observe registers an observer for key. It does not fetch; call Fetch.
func (c *Cache) Observe(key Key, fetch Fetcher, opts Options) *Observer {
	o := &Observer{c: c, key: key, fetch: fetch, opts: opts.withDefaults(c.defaults)}
	c.attach(o, key, fetch, o.opts)
	return o
}

func (c *Cache) attach(o *Observer, key Key, fetch Fetcher, opts Options) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entryLocked(key)
	e.observers[o] = struct{}{}
	e.fetch = fetch
	if e.opts.StaleTime == 0 {
		e.opts = opts
	}
	if e.gcTimer != nil {
		e.gcTimer.Stop()
		e.gcTimer = nil
	}
}

func (c *Cache) detach(o *Observer, key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key.String()]
	if !ok {
		return
	}
	delete(e.observers, o)
	if len(e.observers) == 0 {
		c.armGCLocked(e)
	}
}

// Key returns the observed key.
func (o *Observer) Key() Key {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.key
}

// Data returns the value for the observed key, or the placeholder from the
// previous key while the new one is loading.
func (o *Observer) Data() (any, bool) {
	o.mu.Lock()
	key, ph, hasPH := o.key, o.placeholder, o.hasPH
	o.mu.Unlock()
	if v, ok := o.c.Peek(key); ok {
		return v, true
	}
	return ph, hasPH
}

// IsPlaceholder reports whether Data is showing the previous key's value.
func (o *Observer) IsPlaceholder() bool {
	o.mu.Lock()
	key, hasPH := o.key, o.hasPH
	o.mu.Unlock()
	_, ok := o.c.Peek(key)
	return !ok && hasPH
}

// Err returns the last fetch error for the observed key.
func (o *Observer) Err() error {
	key := o.Key()
	o.c.mu.Lock()
	defer o.c.mu.Unlock()
	if e, ok := o.c.entries[key.String()]; ok {
		return e.err
	}
	return nil
}

// Fetch returns the value, loading it when missing or stale.
func (o *Observer) Fetch(ctx context.Context) (any, error) {
	o.mu.Lock()
	key, fetch, opts := o.key, o.fetch, o.opts
	o.mu.Unlock()
	return o.c.Get(ctx, key, fetch, opts)
}

// Refetch loads the value even when fresh.
func (o *Observer) Refetch(ctx context.Context) (any, error) {
	o.mu.Lock()
	key, fetch, opts := o.key, o.fetch, o.opts
	o.mu.Unlock()
	return o.c.load(ctx, key, fetch, opts, true)
}

// SetKey moves the observer to a new key and fetches it. Until the fetch
// resolves, Data returns the old key's value.
func (o *Observer) SetKey(ctx context.Context, key Key, fetch Fetcher) (any, error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, context.Canceled
	}
	old := o.key
	if !old.Equal(key) {
		if v, ok := o.c.Peek(old); ok {
			o.placeholder, o.hasPH = v, true
		}
		o.key = key
	}
	o.fetch = fetch
	opts := o.opts
	o.mu.Unlock()

	if !old.Equal(key) {
		o.c.attach(o, key, fetch, opts)
		o.c.detach(o, old)
		o.hub.Notify()
	}
	return o.Fetch(ctx)
}

// Subscribe registers fn for changes to the observed value.
func (o *Observer) Subscribe(fn func()) func() {
	return o.hub.Subscribe(fn)
}

// Close releases the key; the entry is evicted after its gc window.
func (o *Observer) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	key := o.key
	o.mu.Unlock()
	o.c.detach(o, key)
}
