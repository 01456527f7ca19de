package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/airquality-dashboard/internal/client"
	"github.com/kjstillabower/airquality-dashboard/internal/lifecycle"
	"github.com/kjstillabower/airquality-dashboard/internal/models"
	"github.com/kjstillabower/airquality-dashboard/internal/observability"
	"github.com/kjstillabower/airquality-dashboard/internal/service"
	"github.com/kjstillabower/airquality-dashboard/internal/store"
	"github.com/kjstillabower/airquality-dashboard/internal/traffic"
)

// Error codes returned in the error envelope.
const (
	CodeInvalidLocation     = "INVALID_LOCATION"
	CodeInvalidThreshold    = "INVALID_THRESHOLD"
	CodeInvalidCoordinates  = "INVALID_COORDINATES"
	CodeInvalidSetting      = "INVALID_SETTING"
	CodeInvalidParameter    = "INVALID_PARAMETER"
	CodeInvalidBody         = "INVALID_BODY"
	CodeNotFound            = "NOT_FOUND"
	CodeRateLimited         = "RATE_LIMITED"
	CodeTimeout             = "TIMEOUT"
	CodeUpstreamBadRequest  = "UPSTREAM_BAD_REQUEST"
	CodeUpstreamRateLimited = "UPSTREAM_RATE_LIMITED"
	CodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
)

// AirQuality is the cached air-quality data source the handlers read from.
type AirQuality interface {
	GetCurrent(ctx context.Context, at models.Coordinates, name string) (models.Current, error)
	GetForecast(ctx context.Context, at models.Coordinates, hours int) (models.Forecast, error)
	GetHistorical(ctx context.Context, at models.Coordinates, hours int) (models.Historical, error)
	GetSensors(ctx context.Context, at models.Coordinates, radiusKm float64) (models.SensorList, error)
	GetMapData(ctx context.Context, bounds models.Bounds) (models.MapData, error)
	Explain(ctx context.Context, aqi int, pollutant, weather string) (models.Explanation, error)
	CreateAlertRule(ctx context.Context, rule models.AlertRule) (models.AlertRuleReceipt, error)
	Ping(ctx context.Context) error
}

// DashboardView is the currently viewed dashboard.
type DashboardView interface {
	Snapshot() service.DashboardSnapshot
	Refresh()
}

// HealthConfig holds lifecycle thresholds for the health handler.
type HealthConfig struct {
	Policy lifecycle.Policy
	// UpstreamTimeout bounds the upstream reachability probe. Zero uses 2s.
	UpstreamTimeout time.Duration
	// CachePing, when set, is called to check cache reachability. Used when backend is memcached.
	CachePing func() error
	Version   string
}

// Deps are the collaborators of a Handler. Dashboard may be nil when no dashboard runs.
type Deps struct {
	AirQuality AirQuality
	Dashboard  DashboardView
	Locations  *store.Locations
	Settings   *store.Settings
	UI         *store.UI
	Health     *HealthConfig
	Logger     *zap.Logger
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	aq               AirQuality
	dashboard        DashboardView
	locations        *store.Locations
	settings         *store.Settings
	ui               *store.UI
	healthConfig     *HealthConfig
	logger           *zap.Logger
	now              func() time.Time
	healthStatusMu   sync.Mutex
	healthStatusPrev lifecycle.Status
}

// NewHandler returns a new Handler.
func NewHandler(d Deps) *Handler {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ui := d.UI
	if ui == nil {
		ui = store.NewUI()
	}
	return &Handler{
		aq:           d.AirQuality,
		dashboard:    d.Dashboard,
		locations:    d.Locations,
		settings:     d.Settings,
		ui:           ui,
		healthConfig: d.Health,
		logger:       logger,
		now:          time.Now,
	}
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     lifecycle.Status
	statusCode int
	reason     string
	upstreamOK bool
	counts     traffic.Counts
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus(r.Context())

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", string(prev)),
			zap.String("current_status", string(result.status)),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := map[string]string{"airQualityApi": "healthy"}
	if !result.upstreamOK {
		checks["airQualityApi"] = "unhealthy"
	}
	if h.healthConfig != nil && h.healthConfig.CachePing != nil {
		if h.healthConfig.CachePing() == nil {
			checks["cache"] = "healthy"
		} else {
			checks["cache"] = "unhealthy"
		}
	}
	version := "dev"
	if h.healthConfig != nil && h.healthConfig.Version != "" {
		version = h.healthConfig.Version
	}
	writeJSON(w, result.statusCode, map[string]interface{}{
		"status":  result.status,
		"service": observability.ServiceName,
		"version": version,
		"checks":  checks,
		"traffic": map[string]int{
			"success": result.counts.Success,
			"error":   result.counts.Error,
			"denied":  result.counts.Denied,
		},
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > upstream unreachable > error rate breach > healthy.
func (h *Handler) computeHealthStatus(ctx context.Context) healthResult {
	var policy lifecycle.Policy
	timeout := 2 * time.Second
	if h.healthConfig != nil {
		policy = h.healthConfig.Policy
		if h.healthConfig.UpstreamTimeout > 0 {
			timeout = h.healthConfig.UpstreamTimeout
		}
	}
	status, counts := policy.Evaluate()
	if status == lifecycle.StatusShuttingDown {
		return healthResult{status, http.StatusServiceUnavailable, "signal", true, counts}
	}

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := h.aq.Ping(pingCtx); err != nil {
		return healthResult{lifecycle.StatusDegraded, http.StatusServiceUnavailable, "upstream_unreachable", false, counts}
	}
	if status == lifecycle.StatusDegraded {
		return healthResult{status, http.StatusServiceUnavailable, "error_rate_breach", true, counts}
	}
	return healthResult{lifecycle.StatusHealthy, http.StatusOK, "", true, counts}
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": observability.CorrelationID(r.Context()),
		},
	})
}

// writeServiceError maps a failed upstream-backed operation to a status and error code,
// records the outcome for health and raises an error toast for the dashboard.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, what string, err error) {
	logger := observability.LoggerFrom(r.Context(), h.logger)
	status, code, msg := http.StatusServiceUnavailable, CodeUpstreamUnavailable, "Unable to fetch "+what
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		status, code, msg = http.StatusGatewayTimeout, CodeTimeout, "Timed out fetching "+what
	case errors.Is(err, context.Canceled):
		// Client went away; nothing useful to record.
		logger.Debug("request cancelled", zap.String("operation", what))
		return
	case errors.Is(err, client.ErrBadRequest):
		status, code, msg = http.StatusBadRequest, CodeUpstreamBadRequest, "Air-quality API rejected the "+what+" request"
	case errors.Is(err, client.ErrNotFound):
		status, code, msg = http.StatusNotFound, CodeNotFound, "No "+what+" available for this location"
	case errors.Is(err, client.ErrRateLimited):
		status, code, msg = http.StatusTooManyRequests, CodeUpstreamRateLimited, "Air-quality API rate limit reached"
	}
	if status >= http.StatusInternalServerError || status == http.StatusTooManyRequests {
		traffic.Record(traffic.Error)
		h.ui.ShowToast(store.Toast{Kind: "error", Message: "Failed to load " + what})
	}
	logger.Warn("upstream request failed",
		zap.String("operation", what),
		zap.String("error_category", string(client.CategorizeError(err))),
		zap.Error(err))
	writeError(w, r, status, code, msg)
}

// decodeBody decodes a JSON request body, rejecting unknown fields.
func decodeBody(w http.ResponseWriter, r *http.Request, into any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(into)
}
