package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/airquality-dashboard/internal/aqi"
	"github.com/kjstillabower/airquality-dashboard/internal/cache"
	"github.com/kjstillabower/airquality-dashboard/internal/client"
	"github.com/kjstillabower/airquality-dashboard/internal/models"
	"github.com/kjstillabower/airquality-dashboard/internal/observability"
)

// Defaults for query parameters the caller may omit.
const (
	DefaultForecastHours   = 72
	MaxForecastHours       = 168
	DefaultHistoricalHours = 48
	DefaultSensorRadiusKm  = 50
)

// Cache kinds, used in cache keys and metric labels.
const (
	KindCurrent    = "current"
	KindForecast   = "forecast"
	KindHistorical = "historical"
	KindSensors    = "sensors"
	KindMap        = "map"
	KindExplain    = "explain"
)

// TTLs holds the freshness period of each cached data kind.
type TTLs struct {
	Current    time.Duration
	Forecast   time.Duration
	Historical time.Duration
	Sensors    time.Duration
	Map        time.Duration
	Explain    time.Duration
}

// DefaultTTLs returns the refresh intervals the dashboard polls at.
func DefaultTTLs() TTLs {
	return TTLs{
		Current:    5 * time.Minute,
		Forecast:   time.Hour,
		Historical: 10 * time.Minute,
		Sensors:    10 * time.Minute,
		Map:        5 * time.Minute,
		Explain:    30 * time.Minute,
	}
}

// withDefaults fills zero fields from DefaultTTLs.
func (t TTLs) withDefaults() TTLs {
	d := DefaultTTLs()
	if t.Current <= 0 {
		t.Current = d.Current
	}
	if t.Forecast <= 0 {
		t.Forecast = d.Forecast
	}
	if t.Historical <= 0 {
		t.Historical = d.Historical
	}
	if t.Sensors <= 0 {
		t.Sensors = d.Sensors
	}
	if t.Map <= 0 {
		t.Map = d.Map
	}
	if t.Explain <= 0 {
		t.Explain = d.Explain
	}
	return t
}

// Caches groups one cache per data kind.
type Caches struct {
	Current    cache.Cache[models.Current]
	Forecast   cache.Cache[models.Forecast]
	Historical cache.Cache[models.Historical]
	Sensors    cache.Cache[models.SensorList]
	Map        cache.Cache[models.MapData]
	Explain    cache.Cache[models.Explanation]
}

// NewInMemoryCaches returns process-local caches retaining expired entries for staleFor.
func NewInMemoryCaches(staleFor time.Duration) Caches {
	return Caches{
		Current:    cache.NewInMemoryCache[models.Current](staleFor),
		Forecast:   cache.NewInMemoryCache[models.Forecast](staleFor),
		Historical: cache.NewInMemoryCache[models.Historical](staleFor),
		Sensors:    cache.NewInMemoryCache[models.SensorList](staleFor),
		Map:        cache.NewInMemoryCache[models.MapData](staleFor),
		Explain:    cache.NewInMemoryCache[models.Explanation](staleFor),
	}
}

// NewMemcachedCaches returns caches sharing one memcached client, namespaced by kind.
func NewMemcachedCaches(mc *cache.MemcachedClient, staleFor time.Duration) Caches {
	return Caches{
		Current:    cache.NewMemcachedCache[models.Current](mc, KindCurrent, staleFor),
		Forecast:   cache.NewMemcachedCache[models.Forecast](mc, KindForecast, staleFor),
		Historical: cache.NewMemcachedCache[models.Historical](mc, KindHistorical, staleFor),
		Sensors:    cache.NewMemcachedCache[models.SensorList](mc, KindSensors, staleFor),
		Map:        cache.NewMemcachedCache[models.MapData](mc, KindMap, staleFor),
		Explain:    cache.NewMemcachedCache[models.Explanation](mc, KindExplain, staleFor),
	}
}

// Options configures an AirQualityService.
type Options struct {
	TTLs TTLs
	// StaleFallback serves retained expired entries when upstream fails.
	StaleFallback bool
	// CoalesceTimeout bounds a shared upstream call; 0 uses the package default.
	CoalesceTimeout time.Duration
	Logger          *zap.Logger
}

// AirQualityService orchestrates air-quality data retrieval using cache-aside pattern
// with upstream API fallback. Concurrent misses for the same key share one upstream call.
type AirQualityService struct {
	client        client.AirQualityClient
	caches        Caches
	ttls          TTLs
	staleFallback bool
	logger        *zap.Logger

	current    *requestCoalescer[models.Current]
	forecast   *requestCoalescer[models.Forecast]
	historical *requestCoalescer[models.Historical]
	sensors    *requestCoalescer[models.SensorList]
	mapData    *requestCoalescer[models.MapData]
	explain    *requestCoalescer[models.Explanation]
}

// NewAirQualityService creates an AirQualityService over the given client and caches.
func NewAirQualityService(c client.AirQualityClient, caches Caches, opts Options) *AirQualityService {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	to := opts.CoalesceTimeout
	return &AirQualityService{
		client:        c,
		caches:        caches,
		ttls:          opts.TTLs.withDefaults(),
		staleFallback: opts.StaleFallback,
		logger:        logger,
		current:       newRequestCoalescer[models.Current](to),
		forecast:      newRequestCoalescer[models.Forecast](to),
		historical:    newRequestCoalescer[models.Historical](to),
		sensors:       newRequestCoalescer[models.SensorList](to),
		mapData:       newRequestCoalescer[models.MapData](to),
		explain:       newRequestCoalescer[models.Explanation](to),
	}
}

// GetCurrent returns current conditions at a point. name, when set, replaces the location
// name in the response; it is not part of the cache key.
func (s *AirQualityService) GetCurrent(ctx context.Context, at models.Coordinates, name string) (models.Current, error) {
	cur, err := fetchCached(ctx, s, KindCurrent, s.caches.Current, s.current, at.Key(), s.ttls.Current,
		func(ctx context.Context) (models.Current, error) {
			return s.client.GetCurrent(ctx, at, name)
		},
		func(c *models.Current) { c.Stale = true },
	)
	if err != nil {
		return models.Current{}, err
	}
	if name != "" {
		cur.Location.Name = name
	}
	observability.RecordAQIReading(aqi.Classify(cur.AQI).String())
	return cur, nil
}

// GetForecast returns the hourly forecast. hours <= 0 uses DefaultForecastHours; values above
// MaxForecastHours are capped.
func (s *AirQualityService) GetForecast(ctx context.Context, at models.Coordinates, hours int) (models.Forecast, error) {
	hours = clampHours(hours, DefaultForecastHours, MaxForecastHours)
	return fetchCached(ctx, s, KindForecast, s.caches.Forecast, s.forecast, fmt.Sprintf("%s|%d", at.Key(), hours), s.ttls.Forecast,
		func(ctx context.Context) (models.Forecast, error) {
			return s.client.GetForecast(ctx, at, hours)
		},
		func(f *models.Forecast) { f.Stale = true },
	)
}

// GetHistorical returns past readings. hours <= 0 uses DefaultHistoricalHours.
func (s *AirQualityService) GetHistorical(ctx context.Context, at models.Coordinates, hours int) (models.Historical, error) {
	if hours <= 0 {
		hours = DefaultHistoricalHours
	}
	return fetchCached(ctx, s, KindHistorical, s.caches.Historical, s.historical, fmt.Sprintf("%s|%d", at.Key(), hours), s.ttls.Historical,
		func(ctx context.Context) (models.Historical, error) {
			return s.client.GetHistorical(ctx, at, hours)
		},
		func(h *models.Historical) { h.Stale = true },
	)
}

// GetSensors returns monitoring stations within radiusKm. radiusKm <= 0 uses DefaultSensorRadiusKm.
func (s *AirQualityService) GetSensors(ctx context.Context, at models.Coordinates, radiusKm float64) (models.SensorList, error) {
	if radiusKm <= 0 {
		radiusKm = DefaultSensorRadiusKm
	}
	return fetchCached(ctx, s, KindSensors, s.caches.Sensors, s.sensors, fmt.Sprintf("%s|%g", at.Key(), radiusKm), s.ttls.Sensors,
		func(ctx context.Context) (models.SensorList, error) {
			return s.client.GetSensors(ctx, at, radiusKm)
		},
		func(l *models.SensorList) { l.Stale = true },
	)
}

// GetMapData returns heatmap cells for a viewport.
func (s *AirQualityService) GetMapData(ctx context.Context, bounds models.Bounds) (models.MapData, error) {
	return fetchCached(ctx, s, KindMap, s.caches.Map, s.mapData, bounds.Key(), s.ttls.Map,
		func(ctx context.Context) (models.MapData, error) {
			return s.client.GetMapData(ctx, bounds)
		},
		func(m *models.MapData) { m.Stale = true },
	)
}

// Explain returns a plain-language explanation of a reading. When upstream and cache both
// fail it answers locally with Fallback set, so this method only fails on a cancelled ctx.
func (s *AirQualityService) Explain(ctx context.Context, aqiValue int, pollutant, weather string) (models.Explanation, error) {
	key := fmt.Sprintf("%d|%s|%s", aqiValue, pollutant, weather)
	exp, err := fetchCached(ctx, s, KindExplain, s.caches.Explain, s.explain, key, s.ttls.Explain,
		func(ctx context.Context) (models.Explanation, error) {
			return s.client.Explain(ctx, aqiValue, pollutant, weather)
		},
		func(*models.Explanation) {},
	)
	if err == nil {
		return exp, nil
	}
	if ctx.Err() != nil {
		return models.Explanation{}, ctx.Err()
	}
	observability.LoggerFrom(ctx, s.logger).Warn("explain upstream failed, using local explanation",
		zap.Int("aqi", aqiValue), zap.Error(err))
	return LocalExplanation(aqiValue, pollutant, weather), nil
}

// LocalExplanation builds an explanation without the upstream service.
func LocalExplanation(aqiValue int, pollutant, weather string) models.Explanation {
	return models.Explanation{
		AQI:         aqiValue,
		Category:    aqi.Classify(aqiValue).String(),
		Explanation: aqi.Explain(aqiValue, pollutant, weather),
		Factors:     aqi.ExplainFactors(pollutant, weather),
		Fallback:    true,
	}
}

// CreateAlertRule forwards an alert rule upstream. Never cached or coalesced.
func (s *AirQualityService) CreateAlertRule(ctx context.Context, rule models.AlertRule) (models.AlertRuleReceipt, error) {
	receipt, err := s.client.CreateAlertRule(ctx, rule)
	if err != nil {
		return models.AlertRuleReceipt{}, fmt.Errorf("create alert rule: %w", err)
	}
	return receipt, nil
}

// Prefetch loads current conditions and the default forecast for a point into the cache.
// Implements cache.Prefetcher.
func (s *AirQualityService) Prefetch(ctx context.Context, at models.Coordinates) error {
	_, curErr := s.GetCurrent(ctx, at, "")
	_, fcErr := s.GetForecast(ctx, at, DefaultForecastHours)
	return errors.Join(curErr, fcErr)
}

// Ping checks that the upstream API is reachable.
func (s *AirQualityService) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}

func clampHours(hours, def, max int) int {
	if hours <= 0 {
		return def
	}
	if hours > max {
		return max
	}
	return hours
}

// fetchCached is the cache-aside path shared by every data kind: fresh cache hit, else one
// coalesced upstream call that populates the cache, else (when enabled) the retained stale
// entry with markStale applied.
func fetchCached[T any](
	ctx context.Context,
	s *AirQualityService,
	kind string,
	c cache.Cache[T],
	rc *requestCoalescer[T],
	key string,
	ttl time.Duration,
	fetch func(context.Context) (T, error),
	markStale func(*T),
) (T, error) {
	var zero T
	start := time.Now()
	logger := observability.LoggerFrom(ctx, s.logger)

	cached, ok, err := c.Get(ctx, key)
	if err != nil {
		observability.RecordCacheLookup(kind, "error")
		logger.Warn("cache get failed", zap.String("kind", kind), zap.String("key", key), zap.Error(err))
	} else if ok {
		observability.RecordCacheLookup(kind, "hit")
		logger.Debug("cache hit", zap.String("kind", kind), zap.String("key", key))
		return cached, nil
	} else {
		observability.RecordCacheLookup(kind, "miss")
	}

	logger.Debug("cache miss, fetching upstream", zap.String("kind", kind), zap.String("key", key))
	data, shared, upstreamErr := rc.GetOrDo(ctx, key, func(ctx context.Context) (T, error) {
		v, err := fetch(ctx)
		if err != nil {
			return v, err
		}
		if setErr := c.Set(ctx, key, v, ttl); setErr != nil {
			observability.LoggerFrom(ctx, s.logger).Warn("cache set failed",
				zap.String("kind", kind), zap.String("key", key), zap.Error(setErr))
		}
		return v, nil
	})
	if upstreamErr == nil {
		logger.Debug("served from upstream", zap.String("kind", kind), zap.String("key", key),
			zap.Bool("coalesced", shared), zap.Duration("duration", time.Since(start)))
		return data, nil
	}

	if s.staleFallback && ctx.Err() == nil {
		stale, ok, staleErr := c.GetStale(ctx, key)
		if staleErr == nil && ok {
			observability.RecordCacheLookup(kind, "stale")
			markStale(&stale)
			logger.Info("serving stale cache", zap.String("kind", kind), zap.String("key", key),
				zap.String("error_category", string(client.CategorizeError(upstreamErr))))
			return stale, nil
		}
	}
	return zero, fmt.Errorf("fetch %s for %s: %w", kind, key, upstreamErr)
}
