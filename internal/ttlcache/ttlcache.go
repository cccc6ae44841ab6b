// Package ttlcache provides a time-bounded cache whose misses are
// deduplicated: concurrent callers for the same key share one fetch.
package ttlcache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// FetchFunc produces the value for a missing or expired key.
type FetchFunc[V any] func(ctx context.Context) (V, error)

type entry[V any] struct {
	value     V
	fetchedAt time.Time
}

// Cache maps string keys to values that stay valid for a fixed TTL.
// Errors are never cached. Expired entries are not evicted in the
// background; the next Get after expiry fetches again.
type Cache[V any] struct {
	ttl   time.Duration
	now   func() time.Time
	group singleflight.Group

	mu      sync.RWMutex
	entries map[string]entry[V]
}

// Option configures a Cache.
type Option[V any] func(*Cache[V])

// WithClock replaces time.Now, for tests.
func WithClock[V any](now func() time.Time) Option[V] {
	return func(c *Cache[V]) {
		c.now = now
	}
}

// New creates a cache with the given TTL.
func New[V any](ttl time.Duration, opts ...Option[V]) *Cache[V] {
	c := &Cache[V]{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]entry[V]),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached value for key, calling fetch on a miss. Only one
// fetch per key runs at a time; callers arriving while it runs wait for
// its result. The fetch runs on a context that is not cancelled with ctx,
// so a caller giving up does not fail the other waiters.
func (c *Cache[V]) Get(ctx context.Context, key string, fetch FetchFunc[V]) (V, error) {
	if v, ok := c.lookup(key); ok {
		return v, nil
	}

	ch := c.group.DoChan(key, func() (any, error) {
		// Another flight may have stored the value between lookup and
		// joining the group.
		if v, ok := c.lookup(key); ok {
			return v, nil
		}

		v, err := fetch(context.WithoutCancel(ctx))
		if err != nil {
			return v, err
		}

		c.mu.Lock()
		c.entries[key] = entry[V]{value: v, fetchedAt: c.now()}
		c.mu.Unlock()
		return v, nil
	})

	select {
	case res := <-ch:
		v, _ := res.Val.(V)
		return v, res.Err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

func (c *Cache[V]) lookup(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok || c.now().Sub(e.fetchedAt) >= c.ttl {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Invalidate drops the entry for key.
func (c *Cache[V]) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Len returns the number of stored entries, expired ones included.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
