package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/airquality-dashboard/internal/observability"
)

// Storage keys for the persisted containers.
const (
	LocationsKey = "locations"
	SettingsKey  = "settings"
)

// Storage is durable key-value storage for container snapshots.
// Load returns (nil, false, nil) when the key has never been saved.
type Storage interface {
	Load(ctx context.Context, key string) ([]byte, bool, error)
	Save(ctx context.Context, key string, data []byte) error
}

// MemoryStorage keeps snapshots in process memory. Useful for tests and ephemeral runs.
type MemoryStorage struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStorage returns an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{data: make(map[string][]byte)}
}

// Load implements Storage.
func (m *MemoryStorage) Load(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, true, nil
}

// Save implements Storage.
func (m *MemoryStorage) Save(ctx context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	m.data[key] = cp
	return nil
}

// FileStorage writes one JSON file per key under a directory.
type FileStorage struct {
	dir string
}

// NewFileStorage creates dir if needed and returns a FileStorage rooted there.
func NewFileStorage(dir string) (*FileStorage, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("file storage: directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("file storage: create %s: %w", dir, err)
	}
	return &FileStorage{dir: dir}, nil
}

func (f *FileStorage) path(key string) string {
	return filepath.Join(f.dir, key+".json")
}

// Load implements Storage.
func (f *FileStorage) Load(ctx context.Context, key string) ([]byte, bool, error) {
	if ctx.Err() != nil {
		return nil, false, ctx.Err()
	}
	b, err := os.ReadFile(f.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("file storage: read %s: %w", key, err)
	}
	return b, true, nil
}

// Save implements Storage. The write is atomic: data goes to a temp file that is renamed over the target.
func (f *FileStorage) Save(ctx context.Context, key string, data []byte) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	tmp, err := os.CreateTemp(f.dir, key+".*.tmp")
	if err != nil {
		return fmt.Errorf("file storage: temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("file storage: write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("file storage: close %s: %w", key, err)
	}
	if err := os.Rename(tmpName, f.path(key)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("file storage: rename %s: %w", key, err)
	}
	return nil
}

const persistTimeout = 2 * time.Second

// persister saves and restores one container's snapshot. Errors are logged, never returned
// to mutators. A nil persister or nil storage disables persistence.
type persister struct {
	storage Storage
	key     string
	logger  *zap.Logger
}

func (p *persister) save(v any) {
	if p == nil || p.storage == nil {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		p.fail("encode", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := p.storage.Save(ctx, p.key, raw); err != nil {
		p.fail("save", err)
		return
	}
	observability.StorePersistTotal.WithLabelValues(p.key, "save", "success").Inc()
}

// restore unmarshals the saved snapshot over into, which holds the defaults. Fields absent
// from the saved JSON keep their default values.
func (p *persister) restore(ctx context.Context, into any) bool {
	if p == nil || p.storage == nil {
		return false
	}
	raw, ok, err := p.storage.Load(ctx, p.key)
	if err != nil {
		p.fail("load", err)
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, into); err != nil {
		p.fail("decode", err)
		return false
	}
	observability.StorePersistTotal.WithLabelValues(p.key, "load", "success").Inc()
	return true
}

func (p *persister) fail(op string, err error) {
	observability.StorePersistTotal.WithLabelValues(p.key, op, "error").Inc()
	if p.logger != nil {
		p.logger.Warn("state persistence failed", zap.String("store", p.key), zap.String("op", op), zap.Error(err))
	}
}
