package query

import (
	"context"
	"fmt"
)

// Query is a typed view over an Observer.
type Query[T any] struct {
	obs *Observer
}

func erase[T any](fetch func(context.Context) (T, error)) Fetcher {
	return func(ctx context.Context) (any, error) {
		return fetch(ctx)
	}
}

func cast[T any](v any, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("query: cached value is %T, want %T", v, zero)
	}
	return t, nil
}

// Watch observes key with a typed fetcher.
func Watch[T any](c *Cache, key Key, fetch func(context.Context) (T, error), opts Options) *Query[T] {
	return &Query[T]{obs: c.Observe(key, erase(fetch), opts)}
}

// Data returns the current value or placeholder.
func (q *Query[T]) Data() (T, bool) {
	v, ok := q.obs.Data()
	if !ok {
		var zero T
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}

// Fetch loads the value when missing or stale.
func (q *Query[T]) Fetch(ctx context.Context) (T, error) {
	return cast[T](q.obs.Fetch(ctx))
}

// Refetch loads the value unconditionally.
func (q *Query[T]) Refetch(ctx context.Context) (T, error) {
	return cast[T](q.obs.Refetch(ctx))
}

// SetKey switches to another key, keeping the old value as placeholder.
func (q *Query[T]) SetKey(ctx context.Context, key Key, fetch func(context.Context) (T, error)) (T, error) {
	return cast[T](q.obs.SetKey(ctx, key, erase(fetch)))
}

// Key returns the observed key.
func (q *Query[T]) Key() Key { return q.obs.Key() }

// IsPlaceholder reports whether Data is the previous key's value.
func (q *Query[T]) IsPlaceholder() bool { return q.obs.IsPlaceholder() }

// Err returns the last fetch error.
func (q *Query[T]) Err() error { return q.obs.Err() }

// Subscribe registers fn for value changes.
func (q *Query[T]) Subscribe(fn func()) func() { return q.obs.Subscribe(fn) }

// Close releases the observer.
func (q *Query[T]) Close() { q.obs.Close() }

// Fetch is a typed Cache.Get.
func Fetch[T any](ctx context.Context, c *Cache, key Key, fetch func(context.Context) (T, error), opts Options) (T, error) {
	return cast[T](c.Get(ctx, key, erase(fetch), opts))
}

// Peek is a typed Cache.Peek.
func Peek[T any](c *Cache, key Key) (T, bool) {
	v, ok := c.Peek(key)
	if !ok {
		var zero T
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}
