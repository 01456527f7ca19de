package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/airquality-dashboard/internal/models"
	"github.com/kjstillabower/airquality-dashboard/internal/observability"
)

// Prefetcher is implemented by the service layer to load current conditions and forecast
// for a point into the cache. It keeps this package free of a dependency on the service.
type Prefetcher interface {
	Prefetch(ctx context.Context, at models.Coordinates) error
}

// CacheWarmer keeps the user's saved locations warm so switching between them is served from cache.
type CacheWarmer struct {
	fetcher Prefetcher
	logger  *zap.Logger
}

// NewCacheWarmer creates a CacheWarmer that uses the given fetcher and logger.
func NewCacheWarmer(fetcher Prefetcher, logger *zap.Logger) *CacheWarmer {
	return &CacheWarmer{fetcher: fetcher, logger: logger}
}

// Warm prefetches each point concurrently. Returns the joined per-point errors.
func (w *CacheWarmer) Warm(ctx context.Context, points []models.Coordinates) error {
	start := time.Now()
	observability.CacheWarmingTotal.Inc()
	if w.logger != nil {
		w.logger.Debug("warming cache", zap.Int("locations", len(points)))
	}
	var wg sync.WaitGroup
	errCh := make(chan error, len(points))
	for _, p := range points {
		wg.Add(1)
		go func(p models.Coordinates) {
			defer wg.Done()
			if err := w.fetcher.Prefetch(ctx, p); err != nil {
				errCh <- fmt.Errorf("warm %s: %w", p.Key(), err)
			}
		}(p)
	}
	wg.Wait()
	close(errCh)
	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	duration := time.Since(start).Seconds()
	observability.CacheWarmingDurationSeconds.Observe(duration)
	if w.logger != nil {
		w.logger.Info("cache warming complete", zap.Int("locations", len(points)), zap.Int("errors", len(errs)), zap.Float64("duration_seconds", duration))
	}
	if len(errs) > 0 {
		observability.CacheWarmingErrorsTotal.Inc()
		return errors.Join(errs...)
	}
	return nil
}

// WarmPeriodic runs an initial Warm, then refreshes at the given interval until ctx is done.
// points is called before every run so locations saved in the meantime are included.
func (w *CacheWarmer) WarmPeriodic(ctx context.Context, points func() []models.Coordinates, interval time.Duration) error {
	if err := w.Warm(ctx, points()); err != nil && w.logger != nil {
		w.logger.Warn("initial cache warm failed", zap.Error(err))
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.Warm(ctx, points()); err != nil && w.logger != nil {
				w.logger.Warn("periodic cache warm failed", zap.Error(err))
			}
		}
	}
}
