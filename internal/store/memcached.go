package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

const memcachedKeyPrefix = "dashboard:state:"

// MemcachedStorage persists snapshots in memcached with no expiry. Memcached may still evict
// under memory pressure; on eviction the container falls back to its defaults at next start.
type MemcachedStorage struct {
	client *memcache.Client
}

// NewMemcachedStorage creates a MemcachedStorage. addrs is a comma-separated server list.
func NewMemcachedStorage(addrs string, timeout time.Duration) *MemcachedStorage {
	var servers []string
	for _, a := range strings.Split(addrs, ",") {
		if a = strings.TrimSpace(a); a != "" {
			servers = append(servers, a)
		}
	}
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	return &MemcachedStorage{client: client}
}

// Load implements Storage.
func (m *MemcachedStorage) Load(ctx context.Context, key string) ([]byte, bool, error) {
	if ctx.Err() != nil {
		return nil, false, ctx.Err()
	}
	item, err := m.client.Get(memcachedKeyPrefix + key)
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return item.Value, true, nil
}

// Save implements Storage.
func (m *MemcachedStorage) Save(ctx context.Context, key string, data []byte) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return m.client.Set(&memcache.Item{Key: memcachedKeyPrefix + key, Value: data})
}

// Close releases idle connections.
func (m *MemcachedStorage) Close() error {
	return m.client.Close()
}
