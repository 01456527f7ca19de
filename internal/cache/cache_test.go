package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kjstillabower/airquality-dashboard/internal/models"
)

func newClockedCache(staleFor time.Duration) (*InMemoryCache[models.Current], *time.Time) {
	c := NewInMemoryCache[models.Current](staleFor)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	return c, &now
}

// TestInMemoryCache_GetSet verifies that Set stores values and Get retrieves
// them correctly with the expected data.
func TestInMemoryCache_GetSet(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache[models.Current](0)

	val := models.Current{AQI: 42, DominantPollutant: "PM2.5"}
	if err := c.Set(ctx, "current:37.7749,-122.4194", val, time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, ok, err := c.Get(ctx, "current:37.7749,-122.4194")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok {
		t.Fatal("Get() ok = false, want true")
	}
	if got.AQI != 42 || got.DominantPollutant != "PM2.5" {
		t.Errorf("Get() = %+v, want %+v", got, val)
	}
}

// TestInMemoryCache_Get_Miss verifies that Get returns ok=false when
// the requested key does not exist in cache.
func TestInMemoryCache_Get_Miss(t *testing.T) {
	c := NewInMemoryCache[models.Forecast](0)
	_, ok, err := c.Get(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Error("Get() ok = true, want false for miss")
	}
}

// TestInMemoryCache_ExpiredServesStale verifies that an expired entry is a Get miss but is
// still returned by GetStale within retention.
func TestInMemoryCache_ExpiredServesStale(t *testing.T) {
	ctx := context.Background()
	c, now := newClockedCache(time.Hour)
	_ = c.Set(ctx, "k", models.Current{AQI: 99}, 5*time.Minute)

	*now = now.Add(6 * time.Minute)
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Error("Get() ok = true after TTL, want false")
	}
	got, ok, err := c.GetStale(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("GetStale() = ok %v err %v, want hit", ok, err)
	}
	if got.AQI != 99 {
		t.Errorf("GetStale().AQI = %d, want 99", got.AQI)
	}
}

// TestInMemoryCache_StaleRetentionExpires verifies that entries past retention are dropped.
func TestInMemoryCache_StaleRetentionExpires(t *testing.T) {
	ctx := context.Background()
	c, now := newClockedCache(time.Hour)
	_ = c.Set(ctx, "k", models.Current{AQI: 1}, time.Minute)

	*now = now.Add(2 * time.Hour)
	if _, ok, _ := c.GetStale(ctx, "k"); ok {
		t.Error("GetStale() ok = true past retention, want false")
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0 after stale eviction", c.Len())
	}
}

// TestInMemoryCache_SweepOnSet verifies that periodic sweeps drop long-dead entries.
func TestInMemoryCache_SweepOnSet(t *testing.T) {
	ctx := context.Background()
	c, now := newClockedCache(time.Minute)
	_ = c.Set(ctx, "old", models.Current{}, time.Minute)
	*now = now.Add(time.Hour)
	for i := 0; i < sweepEvery; i++ {
		_ = c.Set(ctx, fmt.Sprintf("k%d", i), models.Current{}, time.Minute)
	}
	if _, ok, _ := c.GetStale(ctx, "old"); ok {
		t.Error("old entry survived sweep")
	}
	if c.Len() != sweepEvery {
		t.Errorf("Len() = %d, want %d", c.Len(), sweepEvery)
	}
}

// TestInMemoryCache_Concurrent verifies safe concurrent use.
func TestInMemoryCache_Concurrent(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache[int](0)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("k%d", i%4)
			for j := 0; j < 100; j++ {
				_ = c.Set(ctx, key, j, time.Minute)
				_, _, _ = c.Get(ctx, key)
				_, _, _ = c.GetStale(ctx, key)
			}
		}(i)
	}
	wg.Wait()
	if c.Len() != 4 {
		t.Errorf("Len() = %d, want 4", c.Len())
	}
}

func TestExpirationSeconds(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want int32
	}{
		{0, 3600},
		{-time.Second, 3600},
		{5 * time.Minute, 300},
		{24*time.Hour + 5*time.Minute, 86700},
		{90 * 24 * time.Hour, maxRelativeExp},
	}
	for _, tt := range tests {
		if got := expirationSeconds(tt.in); got != tt.want {
			t.Errorf("expirationSeconds(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestMemcachedCache_KeySanitized(t *testing.T) {
	c := NewMemcachedCache[models.Current](NewMemcachedClient("", 0, 0), "current", 0)
	if got := c.key("37.7749,-122.4194 San Francisco"); got != "airquality:current:37.7749,-122.4194_San_Francisco" {
		t.Errorf("key() = %q", got)
	}
}

func TestParseAddrs(t *testing.T) {
	got := parseAddrs(" host1:11211, ,host2:11211 ")
	if len(got) != 2 || got[0] != "host1:11211" || got[1] != "host2:11211" {
		t.Errorf("parseAddrs() = %v", got)
	}
}
