// Package query is a keyed cache of asynchronous query results with
// staleness and garbage-collection windows, in-flight deduplication, and
// prefix invalidation. Observed entries are refetched when invalidated;
// unobserved ones are refetched lazily on the next read.
package query

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/zulandar/novelsync/internal/clock"
	"github.com/zulandar/novelsync/internal/observe"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Default windows and retry count for read queries.
const (
	DefaultStaleTime = 5 * time.Minute
	DefaultGCTime    = 10 * time.Minute
	DefaultRetry     = 1
)

// NoRetry disables retries for one query.
const NoRetry = -1

// Fetcher loads the value for a key.
type Fetcher func(ctx context.Context) (any, error)

// Options tune one query. Zero fields fall back to the cache defaults.
type Options struct {
	StaleTime time.Duration
	GCTime    time.Duration
	// Retry is the number of extra attempts after a failure. Use NoRetry
	// to fail on the first error.
	Retry int
}

func (o Options) withDefaults(d Options) Options {
	if o.StaleTime == 0 {
		o.StaleTime = d.StaleTime
	}
	if o.GCTime == 0 {
		o.GCTime = d.GCTime
	}
	if o.Retry == 0 {
		o.Retry = d.Retry
	}
	return o
}

type entry struct {
	key         Key
	value       any
	hasValue    bool
	fetchedAt   time.Time
	invalidated bool
	// gen counts invalidations; storedGen is the gen the value was fetched
	// under. A fetch that started before an invalidation must not mark the
	// entry fresh.
	gen         uint64
	storedGen   uint64
	err         error
	opts        Options
	fetch       Fetcher
	observers   map[*Observer]struct{}
	gcTimer     clock.Timer
}

// Cache is the process-wide query cache. Construct one per application.
type Cache struct {
	clock    clock.Clock
	defaults Options
	group    singleflight.Group
	hub      observe.Hub

	mu      sync.Mutex
	entries map[string]*entry
}

// New creates a Cache. A nil clock uses the wall clock.
func New(defaults Options, c clock.Clock) *Cache {
	if c == nil {
		c = clock.Real{}
	}
	return &Cache{
		clock: c,
		defaults: defaults.withDefaults(Options{
			StaleTime: DefaultStaleTime,
			GCTime:    DefaultGCTime,
			Retry:     DefaultRetry,
		}),
		entries: make(map[string]*entry),
	}
}

// Defaults returns the effective default options.
func (c *Cache) Defaults() Options { return c.defaults }

// entryLocked returns the entry for key, creating an empty one.
func (c *Cache) entryLocked(key Key) *entry {
	k := key.String()
	e, ok := c.entries[k]
	if !ok {
		e = &entry{key: key, observers: make(map[*Observer]struct{})}
		c.entries[k] = e
	}
	return e
}

func (c *Cache) freshLocked(e *entry) bool {
	if e == nil || !e.hasValue || e.invalidated {
		return false
	}
	return c.clock.Now().Sub(e.fetchedAt) < e.opts.StaleTime
}

// Get returns the cached value for key when fresh; otherwise it runs fetch
// (shared with any concurrent caller for the same key) and caches the
// result. On failure the previous value stays cached.
func (c *Cache) Get(ctx context.Context, key Key, fetch Fetcher, opts Options) (any, error) {
	opts = opts.withDefaults(c.defaults)
	c.mu.Lock()
	e := c.entries[key.String()]
	if c.freshLocked(e) {
		v := e.value
		c.mu.Unlock()
		return v, nil
	}
	c.mu.Unlock()
	return c.load(ctx, key, fetch, opts, false)
}

// load runs the deduplicated fetch. Callers waiting on the same key share
// one network call; each caller may still give up via its own ctx.
func (c *Cache) load(ctx context.Context, key Key, fetch Fetcher, opts Options, force bool) (any, error) {
	k := key.String()
	if force {
		c.group.Forget(k)
	}
	ch := c.group.DoChan(k, func() (any, error) {
		if !force {
			c.mu.Lock()
			e := c.entries[k]
			if c.freshLocked(e) {
				v := e.value
				c.mu.Unlock()
				return v, nil
			}
			c.mu.Unlock()
		}
		return c.fetchAndStore(context.WithoutCancel(ctx), key, fetch, opts)
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Cache) fetchAndStore(ctx context.Context, key Key, fetch Fetcher, opts Options) (any, error) {
	c.mu.Lock()
	gen := c.entryLocked(key).gen
	c.mu.Unlock()

	var (
		v   any
		err error
	)
	for attempt := 0; attempt <= max(opts.Retry, 0); attempt++ {
		v, err = fetch(ctx)
		if err == nil {
			break
		}
	}

	c.mu.Lock()
	e := c.entryLocked(key)
	e.fetch = fetch
	e.opts = opts
	if err != nil {
		e.err = err
		if len(e.observers) == 0 {
			c.armGCLocked(e)
		}
		observers := e.observerList()
		c.mu.Unlock()
		notifyAll(observers)
		return nil, fmt.Errorf("query: fetch %s: %w", key, err)
	}
	if e.hasValue && gen < e.storedGen {
		// A newer fetch already stored its value.
		c.mu.Unlock()
		return v, nil
	}
	e.value = v
	e.hasValue = true
	e.fetchedAt = c.clock.Now()
	e.storedGen = gen
	e.invalidated = gen != e.gen
	e.err = nil
	if len(e.observers) == 0 {
		c.armGCLocked(e)
	}
	observers := e.observerList()
	c.mu.Unlock()

	notifyAll(observers)
	c.hub.Notify()
	return v, nil
}

func (e *entry) observerList() []*Observer {
	out := make([]*Observer, 0, len(e.observers))
	for o := range e.observers {
		out = append(out, o)
	}
	return out
}

func notifyAll(observers []*Observer) {
	for _, o := range observers {
		o.hub.Notify()
	}
}

// armGCLocked schedules eviction of an unobserved entry.
func (c *Cache) armGCLocked(e *entry) {
	if e.gcTimer != nil {
		e.gcTimer.Stop()
	}
	gc := e.opts.GCTime
	if gc == 0 {
		gc = c.defaults.GCTime
	}
	k := e.key.String()
	e.gcTimer = c.clock.AfterFunc(gc, func() {
		c.mu.Lock()
		cur, ok := c.entries[k]
		evicted := ok && cur == e && len(e.observers) == 0
		if evicted {
			delete(c.entries, k)
		}
		c.mu.Unlock()
		if evicted {
			c.hub.Notify()
		}
	})
}

// Peek returns the cached value without fetching, stale or not.
func (c *Cache) Peek(key Key) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entries[key.String()]
	if e == nil || !e.hasValue {
		return nil, false
	}
	return e.value, true
}

// IsStale reports whether key is missing, invalidated, or past its window.
func (c *Cache) IsStale(key Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.freshLocked(c.entries[key.String()])
}

// Entry is a snapshot of one cached value.
type Entry struct {
	Key   Key
	Value any
}

// Find returns every cached value whose key starts with prefix.
func (c *Cache) Find(prefix Key) []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Entry
	for _, e := range c.entries {
		if e.hasValue && e.key.HasPrefix(prefix) {
			out = append(out, Entry{Key: e.key, Value: e.value})
		}
	}
	return out
}

// SetData replaces the cached value with updater(old) without touching the
// network. old is nil when nothing is cached. Reserved for narrow patches
// of fields that are safe to overwrite.
func (c *Cache) SetData(key Key, updater func(old any) any) {
	c.mu.Lock()
	e := c.entryLocked(key)
	var old any
	if e.hasValue {
		old = e.value
	}
	e.value = updater(old)
	e.hasValue = true
	if e.opts.StaleTime == 0 {
		e.opts = c.defaults
	}
	if e.fetchedAt.IsZero() {
		e.fetchedAt = c.clock.Now()
	}
	if len(e.observers) == 0 {
		c.armGCLocked(e)
	}
	observers := e.observerList()
	c.mu.Unlock()

	notifyAll(observers)
	c.hub.Notify()
}

// Invalidate marks every entry under prefix stale. Entries with an active
// observer are refetched before Invalidate returns; the rest refetch on
// their next read. Refetch failures stay on the entry and are logged.
func (c *Cache) Invalidate(ctx context.Context, prefix Key) {
	type refetch struct {
		key   Key
		fetch Fetcher
		opts  Options
	}
	var todo []refetch

	c.mu.Lock()
	for _, e := range c.entries {
		if !e.key.HasPrefix(prefix) {
			continue
		}
		e.invalidated = true
		e.gen++
		c.group.Forget(e.key.String())
		if len(e.observers) > 0 && e.fetch != nil {
			todo = append(todo, refetch{key: e.key, fetch: e.fetch, opts: e.opts})
		}
	}
	c.mu.Unlock()
	c.hub.Notify()

	var g errgroup.Group
	for _, r := range todo {
		g.Go(func() error {
			if _, err := c.load(ctx, r.key, r.fetch, r.opts, true); err != nil {
				log.Printf("query: refetch %s: %v", r.key, err)
			}
			return nil
		})
	}
	g.Wait()
}

// Remove evicts every entry under prefix immediately.
func (c *Cache) Remove(prefix Key) {
	c.mu.Lock()
	for k, e := range c.entries {
		if e.key.HasPrefix(prefix) {
			if e.gcTimer != nil {
				e.gcTimer.Stop()
			}
			delete(c.entries, k)
		}
	}
	c.mu.Unlock()
	c.hub.Notify()
}

// Len returns the number of entries, including ones without a value yet.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Subscribe registers fn for any change to any entry.
func (c *Cache) Subscribe(fn func()) func() {
	return c.hub.Subscribe(fn)
}
