package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/airquality-dashboard/internal/observability"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	// Limiter paces the upstream-backed routes; nil disables rate limiting.
	Limiter *rate.Limiter
	// RequestTimeout bounds upstream-backed routes; zero disables the deadline.
	RequestTimeout time.Duration
	// CORSOrigins are the browser origins allowed to call the API; empty disables CORS.
	CORSOrigins []string
	Logger      *zap.Logger
}

// NewRouter registers every route on h. Upstream-backed routes get the rate limiter and
// request timeout; local state routes get neither.
func NewRouter(h *Handler, opts RouterOptions) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)
	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	upstream := router.PathPrefix("/api").Subrouter()
	upstream.Use(RateLimitMiddleware(opts.Limiter))
	if opts.RequestTimeout > 0 {
		upstream.Use(TimeoutMiddleware(opts.RequestTimeout))
	}
	upstream.HandleFunc("/conditions", h.GetConditions).Methods(http.MethodGet)
	upstream.HandleFunc("/forecast", h.GetForecast).Methods(http.MethodGet)
	upstream.HandleFunc("/historical", h.GetHistorical).Methods(http.MethodGet)
	upstream.HandleFunc("/sensors", h.GetSensors).Methods(http.MethodGet)
	upstream.HandleFunc("/map", h.GetMap).Methods(http.MethodGet)
	upstream.HandleFunc("/explain", h.GetExplain).Methods(http.MethodGet)
	upstream.HandleFunc("/alerts", h.GetAlerts).Methods(http.MethodGet)
	upstream.HandleFunc("/alerts/rules", h.PostAlertRule).Methods(http.MethodPost)
	upstream.HandleFunc("/dashboard/refresh", h.PostDashboardRefresh).Methods(http.MethodPost)

	local := router.PathPrefix("/api").Subrouter()
	local.HandleFunc("/aqi", h.GetAQICategories).Methods(http.MethodGet)
	local.HandleFunc("/aqi/{value:-?[0-9]+}", h.GetAQI).Methods(http.MethodGet)
	local.HandleFunc("/convert", h.GetConvert).Methods(http.MethodGet)
	local.HandleFunc("/compass/{degrees}", h.GetCompass).Methods(http.MethodGet)
	local.HandleFunc("/dashboard", h.GetDashboard).Methods(http.MethodGet)

	local.HandleFunc("/locations", h.GetLocations).Methods(http.MethodGet)
	local.HandleFunc("/locations", h.PostLocation).Methods(http.MethodPost)
	local.HandleFunc("/locations/current", h.PutCurrentLocation).Methods(http.MethodPut)
	local.HandleFunc("/locations/{id}", h.PatchLocation).Methods(http.MethodPatch)
	local.HandleFunc("/locations/{id}", h.DeleteLocation).Methods(http.MethodDelete)
	local.HandleFunc("/locations/{id}/primary", h.PostPrimaryLocation).Methods(http.MethodPost)

	local.HandleFunc("/settings", h.GetSettings).Methods(http.MethodGet)
	local.HandleFunc("/settings", h.PatchSettings).Methods(http.MethodPatch)
	local.HandleFunc("/settings/{key}", h.PutSetting).Methods(http.MethodPut)

	local.HandleFunc("/ui", h.GetUI).Methods(http.MethodGet)
	local.HandleFunc("/ui", h.PatchUI).Methods(http.MethodPatch)
	local.HandleFunc("/ui/sidebar/toggle", h.PostToggleSidebar).Methods(http.MethodPost)

	var out http.Handler = router
	if len(opts.CORSOrigins) > 0 {
		out = CORSMiddleware(opts.CORSOrigins)(out)
	}
	return RecoveryMiddleware(logger)(out)
}
