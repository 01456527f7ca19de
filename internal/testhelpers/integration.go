//go:build integration
// +build integration

package testhelpers

import (
	"os"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/airquality-dashboard/internal/cache"
	"github.com/kjstillabower/airquality-dashboard/internal/client"
	"github.com/kjstillabower/airquality-dashboard/internal/service"
)

// IntegrationTestConfig holds configuration for integration tests.
type IntegrationTestConfig struct {
	APIURL        string
	CacheBackend  string // "in_memory" or "memcached"
	MemcachedAddr string
}

// GetIntegrationConfig loads integration test configuration from environment.
// Skips the test if AIRQUALITY_API_URL is not set.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	t.Helper()
	apiURL := os.Getenv("AIRQUALITY_API_URL")
	if apiURL == "" {
		t.Skip("AIRQUALITY_API_URL not set, skipping integration test")
	}
	memcachedAddr := os.Getenv("MEMCACHED_ADDRS")
	if memcachedAddr == "" {
		memcachedAddr = "localhost:11211"
	}
	return IntegrationTestConfig{
		APIURL:        apiURL,
		CacheBackend:  os.Getenv("INTEGRATION_CACHE_BACKEND"),
		MemcachedAddr: memcachedAddr,
	}
}

// SetupIntegrationService builds a service against the live API. With the memcached backend
// it falls back to in-memory caches when the server does not answer a ping. The cleanup
// func releases the memcached connection.
func SetupIntegrationService(t *testing.T, cfg IntegrationTestConfig) (*service.AirQualityService, func()) {
	t.Helper()
	c, err := client.New(client.Options{BaseURL: cfg.APIURL, Timeout: 10 * time.Second, RetryAttempts: 1})
	if err != nil {
		t.Fatalf("client.New() error = %v", err)
	}

	caches := service.NewInMemoryCaches(time.Hour)
	cleanup := func() {}
	if cfg.CacheBackend == "memcached" {
		mc := cache.NewMemcachedClient(cfg.MemcachedAddr, 500*time.Millisecond, 2)
		if err := mc.Ping(); err != nil {
			t.Logf("memcached not available (%v), using in-memory caches", err)
			_ = mc.Close()
		} else {
			t.Logf("using memcached caches at %s", cfg.MemcachedAddr)
			caches = service.NewMemcachedCaches(mc, time.Hour)
			cleanup = func() { _ = mc.Close() }
		}
	}

	svc := service.NewAirQualityService(c, caches, service.Options{StaleFallback: true, Logger: zap.NewNop()})
	return svc, cleanup
}
