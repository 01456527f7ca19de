package cache

import (
	"context"
	"sync"
	"time"
)

// Cache stores API responses of one data kind with a freshness TTL. Entries outlive their
// TTL for a stale-retention period so callers can fall back to old data when upstream fails.
type Cache[T any] interface {
	// Get returns a fresh value. (zero, false, nil) on miss or expiry.
	Get(ctx context.Context, key string) (T, bool, error)
	// GetStale returns any retained value, fresh or expired.
	GetStale(ctx context.Context, key string) (T, bool, error)
	// Set stores value, fresh for ttl.
	Set(ctx context.Context, key string, value T, ttl time.Duration) error
}

// DefaultStaleRetention is how long an expired entry stays available to GetStale.
const DefaultStaleRetention = 24 * time.Hour

const sweepEvery = 128

// InMemoryCache implements Cache with a mutex-guarded map. Entries past stale retention are
// swept periodically on Set.
type InMemoryCache[T any] struct {
	mu       sync.Mutex
	data     map[string]cacheEntry[T]
	staleFor time.Duration
	sets     int
	now      func() time.Time
}

type cacheEntry[T any] struct {
	value      T
	expiresAt  time.Time
	staleUntil time.Time
}

// NewInMemoryCache creates an in-memory cache. staleFor <= 0 uses DefaultStaleRetention.
func NewInMemoryCache[T any](staleFor time.Duration) *InMemoryCache[T] {
	if staleFor <= 0 {
		staleFor = DefaultStaleRetention
	}
	return &InMemoryCache[T]{
		data:     make(map[string]cacheEntry[T]),
		staleFor: staleFor,
		now:      time.Now,
	}
}

// Get implements Cache.
func (c *InMemoryCache[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.data[key]
	if !ok || c.now().After(entry.expiresAt) {
		return zero, false, nil
	}
	return entry.value, true, nil
}

// GetStale implements Cache.
func (c *InMemoryCache[T]) GetStale(ctx context.Context, key string) (T, bool, error) {
	var zero T
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.data[key]
	if !ok {
		return zero, false, nil
	}
	if c.now().After(entry.staleUntil) {
		delete(c.data, key)
		return zero, false, nil
	}
	return entry.value, true, nil
}

// Set implements Cache.
func (c *InMemoryCache[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	expires := now.Add(ttl)
	c.data[key] = cacheEntry[T]{value: value, expiresAt: expires, staleUntil: expires.Add(c.staleFor)}
	c.sets++
	if c.sets%sweepEvery == 0 {
		c.sweepLocked(now)
	}
	return nil
}

// Len returns the number of retained entries, fresh or stale.
func (c *InMemoryCache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

func (c *InMemoryCache[T]) sweepLocked(now time.Time) {
	for k, e := range c.data {
		if now.After(e.staleUntil) {
			delete(c.data, k)
		}
	}
}
