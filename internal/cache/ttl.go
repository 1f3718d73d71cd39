// Package cache provides a bounded-staleness read-through cache used for
// agent profile lookups. Values may be served up to TTL after the backing
// record changed; callers accept that window instead of a store round-trip
// per message.
package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// maxEntries caps the number of tracked keys; the oldest entries are
// evicted first when the cap is reached.
const maxEntries = 10000

type entry[V any] struct {
	value    V
	storedAt time.Time
}

// TTL is a string-keyed cache whose entries are fresh for a fixed duration.
// Safe for concurrent use.
type TTL[V any] struct {
	ttl     time.Duration
	now     func() time.Time
	mu      sync.RWMutex
	entries map[string]entry[V]
	loads   singleflight.Group
}

// NewTTL creates a cache with the given staleness bound.
func NewTTL[V any](ttl time.Duration) *TTL[V] {
	return &TTL[V]{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]entry[V]),
	}
}

// TTL returns the declared staleness bound.
func (c *TTL[V]) TTL() time.Duration { return c.ttl }

// Get returns the cached value and whether it is still fresh.
// A stale value is returned with fresh=false; a missing key returns the zero value.
func (c *TTL[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		var zero V
		return zero, false
	}
	return e.value, c.now().Sub(e.storedAt) < c.ttl
}

// Set stores a value, stamping it with the current time.
func (c *TTL[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= maxEntries {
		c.evictOldestLocked()
	}
	c.entries[key] = entry[V]{value: value, storedAt: c.now()}
}

// Invalidate removes one key.
func (c *TTL[V]) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// InvalidateAll clears every entry.
func (c *TTL[V]) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[string]entry[V])
	c.mu.Unlock()
}

// Len returns the number of tracked keys (fresh or stale).
func (c *TTL[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// GetOrLoad returns a fresh cached value or loads it. Concurrent loads for the
// same key are collapsed into one call. Load errors are not cached.
func (c *TTL[V]) GetOrLoad(ctx context.Context, key string, load func(ctx context.Context) (V, error)) (V, error) {
	if v, fresh := c.Get(key); fresh {
		return v, nil
	}

	res, err, _ := c.loads.Do(key, func() (interface{}, error) {
		v, err := load(ctx)
		if err != nil {
			return v, err
		}
		c.Set(key, v)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return res.(V), nil
}

func (c *TTL[V]) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	for k, e := range c.entries {
		if oldestKey == "" || e.storedAt.Before(oldest) {
			oldestKey = k
			oldest = e.storedAt
		}
	}
	delete(c.entries, oldestKey)
}
