package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	return m.GetCounter().GetValue()
}

// TestMetrics_Usable verifies that all Prometheus metrics can be used without
// panic, ensuring label dimensions match usage across client, http, service, store and notify.
func TestMetrics_Usable(t *testing.T) {
	// Route uses the path template to bound cardinality (e.g. /api/aqi/{value}, not /api/aqi/42)
	HTTPRequestsTotal.WithLabelValues("GET", "/api/aqi/{value}", "2xx").Inc()
	HTTPRequestDuration.WithLabelValues("GET", "/api/aqi/{value}").Observe(0.01)
	HTTPRequestsInFlight.Inc()
	HTTPRequestsInFlight.Dec()
	UpstreamCallsTotal.WithLabelValues("current", "success").Inc()
	UpstreamCallsTotal.WithLabelValues("forecast", "upstream_unavailable").Inc()
	UpstreamDuration.WithLabelValues("current", "success").Observe(0.1)
	UpstreamRetriesTotal.WithLabelValues("current").Inc()
	AlertsDerivedTotal.WithLabelValues("forecast_exceedance", "moderate").Inc()
	NotificationsTotal.WithLabelValues("log", "push", "success").Inc()
	StoreMutationsTotal.WithLabelValues("settings", "theme").Inc()
	StorePersistTotal.WithLabelValues("settings", "save", "success").Inc()
	RateLimitDeniedTotal.Inc()
}

// TestRecordCacheLookup verifies that lookups are counted per kind and result.
func TestRecordCacheLookup(t *testing.T) {
	before := counterValue(t, CacheLookupsTotal.WithLabelValues("forecast", "stale"))
	RecordCacheLookup("forecast", "stale")
	RecordCacheLookup("forecast", "stale")
	after := counterValue(t, CacheLookupsTotal.WithLabelValues("forecast", "stale"))
	if after-before != 2 {
		t.Errorf("stale lookups delta = %v, want 2", after-before)
	}
}

// TestRecordAQIReading verifies that readings are counted under their category.
func TestRecordAQIReading(t *testing.T) {
	before := counterValue(t, AQIReadingsTotal.WithLabelValues("Moderate"))
	RecordAQIReading("Moderate")
	if got := counterValue(t, AQIReadingsTotal.WithLabelValues("Moderate")) - before; got != 1 {
		t.Errorf("Moderate readings delta = %v, want 1", got)
	}
}

// TestRegisterRateLimitGauges_Idempotent verifies that repeated registration does not panic.
func TestRegisterRateLimitGauges_Idempotent(t *testing.T) {
	RegisterRateLimitGauges(time.Minute)
	RegisterRateLimitGauges(time.Minute)
}

// TestMetricsHandler_ServesPrometheusFormat verifies that MetricsHandler serves
// Prometheus text exposition format with correct HTTP status and metric output.
func TestMetricsHandler_ServesPrometheusFormat(t *testing.T) {
	HTTPRequestsTotal.WithLabelValues("GET", "/health", "2xx").Inc()
	handler := MetricsHandler()
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("MetricsHandler status = %d, want 200", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "httpRequestsTotal") {
		t.Error("MetricsHandler response should contain metric output")
	}
}
