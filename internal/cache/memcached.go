package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

const keyPrefix = "airquality:"

const maxRelativeExp = 30 * 24 * 60 * 60 // memcached treats larger values as absolute unix time

// MemcachedClient is a shared memcached connection pool. One client backs every typed cache.
type MemcachedClient struct {
	client *memcache.Client
}

// NewMemcachedClient creates a MemcachedClient. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and maxIdleConns
// configure the client; both use package defaults if zero.
func NewMemcachedClient(addrs string, timeout time.Duration, maxIdleConns int) *MemcachedClient {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return &MemcachedClient{client: client}
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

// Ping checks if memcached is reachable. Used for health checks.
func (m *MemcachedClient) Ping() error {
	return m.client.Ping()
}

// Close closes the memcached client connections. Call during shutdown.
func (m *MemcachedClient) Close() error {
	return m.client.Close()
}

// MemcachedCache implements Cache for one data kind in memcached. Values are stored in an
// envelope carrying their freshness deadline; memcached itself expires them after ttl plus
// stale retention.
type MemcachedCache[T any] struct {
	mc       *MemcachedClient
	kind     string
	staleFor time.Duration
}

type envelope[T any] struct {
	Value     T         `json:"value"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// NewMemcachedCache returns a typed cache namespaced by kind.
func NewMemcachedCache[T any](mc *MemcachedClient, kind string, staleFor time.Duration) *MemcachedCache[T] {
	if staleFor <= 0 {
		staleFor = DefaultStaleRetention
	}
	return &MemcachedCache[T]{mc: mc, kind: kind, staleFor: staleFor}
}

// key builds a memcached-safe key: no spaces or control characters.
func (c *MemcachedCache[T]) key(k string) string {
	return keyPrefix + c.kind + ":" + strings.Map(func(r rune) rune {
		if r <= ' ' || r == 0x7f {
			return '_'
		}
		return r
	}, k)
}

func (c *MemcachedCache[T]) load(ctx context.Context, key string) (envelope[T], bool, error) {
	var env envelope[T]
	if ctx.Err() != nil {
		return env, false, ctx.Err()
	}
	item, err := c.mc.client.Get(c.key(key))
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return env, false, nil
		}
		return env, false, err
	}
	if err := json.Unmarshal(item.Value, &env); err != nil {
		return env, false, err
	}
	return env, true, nil
}

// Get implements Cache. Returns false, nil on miss or expiry; false, err on error.
func (c *MemcachedCache[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T
	env, ok, err := c.load(ctx, key)
	if err != nil || !ok {
		return zero, false, err
	}
	if time.Now().After(env.ExpiresAt) {
		return zero, false, nil
	}
	return env.Value, true, nil
}

// GetStale implements Cache.
func (c *MemcachedCache[T]) GetStale(ctx context.Context, key string) (T, bool, error) {
	var zero T
	env, ok, err := c.load(ctx, key)
	if err != nil || !ok {
		return zero, false, err
	}
	return env.Value, true, nil
}

// Set implements Cache.
func (c *MemcachedCache[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	raw, err := json.Marshal(envelope[T]{Value: value, ExpiresAt: time.Now().Add(ttl)})
	if err != nil {
		return err
	}
	return c.mc.client.Set(&memcache.Item{
		Key:        c.key(key),
		Value:      raw,
		Expiration: expirationSeconds(ttl + c.staleFor),
	})
}

func expirationSeconds(d time.Duration) int32 {
	sec := int64(d.Seconds())
	if sec <= 0 {
		return 3600
	}
	if sec > maxRelativeExp {
		return maxRelativeExp
	}
	return int32(sec)
}
