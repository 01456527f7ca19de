package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kjstillabower/airquality-dashboard/internal/traffic"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 latency increases.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation.
	HTTPRequestsInFlight prometheus.Gauge

	// Air-quality API call rate per endpoint. Watch for: error vs success ratio.
	UpstreamCallsTotal *prometheus.CounterVec

	// Air-quality API latency per endpoint. Watch for: p95 > 2s (upstream degradation), p99 near the 15s timeout.
	UpstreamDuration *prometheus.HistogramVec

	// Retry attempts against the air-quality API. Watch for: high retries = unstable upstream.
	UpstreamRetriesTotal *prometheus.CounterVec

	// Cache lookups by data kind and result (hit, miss, stale).
	CacheLookupsTotal *prometheus.CounterVec

	// Cache warming runs over saved locations.
	CacheWarmingTotal prometheus.Counter

	// Cache warming runs with at least one failed location.
	CacheWarmingErrorsTotal prometheus.Counter

	// Cache warming run duration.
	CacheWarmingDurationSeconds prometheus.Histogram

	// Alerts produced by derivation. Watch for: sustained forecast alerts in a region.
	AlertsDerivedTotal *prometheus.CounterVec

	// Alert deliveries per backend and channel.
	NotificationsTotal *prometheus.CounterVec

	// Current-conditions readings by AQI category.
	AQIReadingsTotal *prometheus.CounterVec

	// Client-state mutations per container and operation.
	StoreMutationsTotal *prometheus.CounterVec

	// Client-state persistence outcomes. Watch for: result=error (state will not survive restart).
	StorePersistTotal *prometheus.CounterVec

	// Rate limit denials. Watch for: overload, capacity exceeded.
	RateLimitDeniedTotal prometheus.Counter

	rateLimitGaugesOnce sync.Once
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	UpstreamCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airQualityApiCallsTotal",
			Help: "Total number of air-quality API calls",
		},
		[]string{"endpoint", "status"},
	)
	UpstreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "airQualityApiDurationSeconds",
			Help:    "Air-quality API latency in seconds (per request)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 15},
		},
		[]string{"endpoint", "status"},
	)
	UpstreamRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airQualityApiRetriesTotal",
			Help: "Total number of retry attempts for air-quality API calls",
		},
		[]string{"endpoint"},
	)
	CacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheLookupsTotal",
			Help: "Cache lookups by data kind and result (hit, miss, stale)",
		},
		[]string{"kind", "result"},
	)
	CacheWarmingTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingTotal",
			Help: "Total number of cache warming runs",
		},
	)
	CacheWarmingErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingErrorsTotal",
			Help: "Cache warming runs with at least one failed location",
		},
	)
	CacheWarmingDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cacheWarmingDurationSeconds",
			Help:    "Cache warming run duration in seconds",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 30},
		},
	)
	AlertsDerivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alertsDerivedTotal",
			Help: "Alerts produced by derivation",
		},
		[]string{"kind", "severity"},
	)
	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alertNotificationsTotal",
			Help: "Alert notifications by backend, channel and result",
		},
		[]string{"backend", "channel", "result"},
	)
	AQIReadingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aqiReadingsTotal",
			Help: "Current-conditions readings served, by AQI category",
		},
		[]string{"category"},
	)
	StoreMutationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storeMutationsTotal",
			Help: "Client-state mutations by container and operation",
		},
		[]string{"store", "op"},
	)
	StorePersistTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storePersistTotal",
			Help: "Client-state persistence operations by container, operation and result",
		},
		[]string{"store", "op", "result"},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		UpstreamCallsTotal, UpstreamDuration, UpstreamRetriesTotal,
		CacheLookupsTotal, CacheWarmingTotal, CacheWarmingErrorsTotal, CacheWarmingDurationSeconds,
		AlertsDerivedTotal, NotificationsTotal, AQIReadingsTotal,
		StoreMutationsTotal, StorePersistTotal,
		RateLimitDeniedTotal,
	)
}

// RegisterRateLimitGauges registers load and rejects gauges for the rate-limited path.
// Call from main after config load with the traffic window used by health.
func RegisterRateLimitGauges(window time.Duration) {
	rateLimitGaugesOnce.Do(func() {
		registry.MustRegister(
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRequestsInWindow",
					Help: "Requests hitting rate-limited path in sliding window; load/capacity planning",
				},
				func() float64 { return float64(traffic.RequestCount(window)) },
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRejectsInWindow",
					Help: "429 responses in sliding window; are we rejecting requests",
				},
				func() float64 { return float64(traffic.DenialCount(window)) },
			),
		)
	})
}

// RecordCacheLookup records a cache lookup result ("hit", "miss" or "stale") for a data kind.
func RecordCacheLookup(kind, result string) {
	CacheLookupsTotal.WithLabelValues(kind, result).Inc()
}

// RecordAQIReading records a served reading under its category name.
func RecordAQIReading(category string) {
	AQIReadingsTotal.WithLabelValues(category).Inc()
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
