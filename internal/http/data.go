package http

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/kjstillabower/airquality-dashboard/internal/alerts"
	"github.com/kjstillabower/airquality-dashboard/internal/models"
	"github.com/kjstillabower/airquality-dashboard/internal/observability"
	"github.com/kjstillabower/airquality-dashboard/internal/traffic"
	"github.com/kjstillabower/airquality-dashboard/internal/validation"
)

// Location display names accepted from query strings and request bodies, in runes.
const (
	minLocationLength = 2
	maxLocationLength = 100
)

var errMissingParam = errors.New("missing parameter")

func parseFloatParam(q url.Values, name string) (float64, error) {
	raw := strings.TrimSpace(q.Get(name))
	if raw == "" {
		return 0, errMissingParam
	}
	return strconv.ParseFloat(raw, 64)
}

// parsePoint reads and validates the lat and lon query parameters.
func parsePoint(q url.Values) (models.Coordinates, error) {
	lat, err := parseFloatParam(q, "lat")
	if err != nil {
		return models.Coordinates{}, errors.New("lat must be a number")
	}
	lon, err := parseFloatParam(q, "lon")
	if err != nil {
		return models.Coordinates{}, errors.New("lon must be a number")
	}
	if err := validation.ValidateCoordinates(lat, lon); err != nil {
		return models.Coordinates{}, err
	}
	return models.Coordinates{Lat: lat, Lon: lon}, nil
}

// parseOptionalPositive returns 0 when name is absent so the service applies its default.
func parseOptionalPositive(q url.Values, name string) (float64, bool) {
	v, err := parseFloatParam(q, name)
	if errors.Is(err, errMissingParam) {
		return 0, true
	}
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

func (h *Handler) point(w http.ResponseWriter, r *http.Request) (models.Coordinates, bool) {
	at, err := parsePoint(r.URL.Query())
	if err != nil {
		writeError(w, r, http.StatusBadRequest, CodeInvalidCoordinates, err.Error())
		return models.Coordinates{}, false
	}
	return at, true
}

// GetConditions handles GET /api/conditions?lat&lon&location.
func (h *Handler) GetConditions(w http.ResponseWriter, r *http.Request) {
	at, ok := h.point(w, r)
	if !ok {
		return
	}
	name := ""
	if raw := r.URL.Query().Get("location"); raw != "" {
		var err error
		if name, err = validation.ValidateLocation(raw, minLocationLength, maxLocationLength); err != nil {
			writeError(w, r, http.StatusBadRequest, CodeInvalidLocation, err.Error())
			return
		}
	}
	current, err := h.aq.GetCurrent(r.Context(), at, name)
	if err != nil {
		h.writeServiceError(w, r, "current conditions", err)
		return
	}
	traffic.Record(traffic.Success)
	writeJSON(w, http.StatusOK, newConditionsView(current, h.settings.Snapshot().Units))
}

// GetForecast handles GET /api/forecast?lat&lon&hours.
func (h *Handler) GetForecast(w http.ResponseWriter, r *http.Request) {
	at, ok := h.point(w, r)
	if !ok {
		return
	}
	hours, ok := parseOptionalPositive(r.URL.Query(), "hours")
	if !ok || hours != float64(int(hours)) {
		writeError(w, r, http.StatusBadRequest, CodeInvalidParameter, "hours must be a positive integer")
		return
	}
	forecast, err := h.aq.GetForecast(r.Context(), at, int(hours))
	if err != nil {
		h.writeServiceError(w, r, "forecast", err)
		return
	}
	traffic.Record(traffic.Success)
	writeJSON(w, http.StatusOK, forecast)
}

// GetHistorical handles GET /api/historical?lat&lon&hours.
func (h *Handler) GetHistorical(w http.ResponseWriter, r *http.Request) {
	at, ok := h.point(w, r)
	if !ok {
		return
	}
	hours, ok := parseOptionalPositive(r.URL.Query(), "hours")
	if !ok || hours != float64(int(hours)) {
		writeError(w, r, http.StatusBadRequest, CodeInvalidParameter, "hours must be a positive integer")
		return
	}
	hist, err := h.aq.GetHistorical(r.Context(), at, int(hours))
	if err != nil {
		h.writeServiceError(w, r, "historical data", err)
		return
	}
	traffic.Record(traffic.Success)
	writeJSON(w, http.StatusOK, hist)
}

// GetSensors handles GET /api/sensors?lat&lon&radius.
func (h *Handler) GetSensors(w http.ResponseWriter, r *http.Request) {
	at, ok := h.point(w, r)
	if !ok {
		return
	}
	radius, ok := parseOptionalPositive(r.URL.Query(), "radius")
	if !ok {
		writeError(w, r, http.StatusBadRequest, CodeInvalidParameter, "radius must be a positive number of kilometres")
		return
	}
	sensors, err := h.aq.GetSensors(r.Context(), at, radius)
	if err != nil {
		h.writeServiceError(w, r, "sensors", err)
		return
	}
	traffic.Record(traffic.Success)
	writeJSON(w, http.StatusOK, sensors)
}

// GetMap handles GET /api/map?north&south&east&west.
func (h *Handler) GetMap(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var b models.Bounds
	for _, f := range []struct {
		name string
		dst  *float64
	}{{"north", &b.North}, {"south", &b.South}, {"east", &b.East}, {"west", &b.West}} {
		v, err := parseFloatParam(q, f.name)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, CodeInvalidCoordinates, f.name+" must be a number")
			return
		}
		*f.dst = v
	}
	if err := validation.ValidateBounds(b.North, b.South, b.East, b.West); err != nil {
		writeError(w, r, http.StatusBadRequest, CodeInvalidCoordinates, err.Error())
		return
	}
	data, err := h.aq.GetMapData(r.Context(), b)
	if err != nil {
		h.writeServiceError(w, r, "map data", err)
		return
	}
	traffic.Record(traffic.Success)
	writeJSON(w, http.StatusOK, data)
}

// GetExplain handles GET /api/explain?aqi&pollutant&weather. A local explanation is served
// when the upstream explainer is unavailable.
func (h *Handler) GetExplain(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	value, err := strconv.Atoi(strings.TrimSpace(q.Get("aqi")))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, CodeInvalidParameter, "aqi must be an integer")
		return
	}
	pollutant := strings.TrimSpace(q.Get("pollutant"))
	if pollutant == "" {
		writeError(w, r, http.StatusBadRequest, CodeInvalidParameter, "pollutant is required")
		return
	}
	weather := strings.TrimSpace(q.Get("weather"))
	if weather == "" {
		weather = "clear"
	}
	exp, err := h.aq.Explain(r.Context(), value, pollutant, weather)
	if err != nil {
		h.writeServiceError(w, r, "explanation", err)
		return
	}
	traffic.Record(traffic.Success)
	writeJSON(w, http.StatusOK, exp)
}

// GetAlerts handles GET /api/alerts?lat&lon. Alerts are derived from current conditions and
// the forecast using the threshold from settings. One failed input still yields the alerts
// the other supports.
func (h *Handler) GetAlerts(w http.ResponseWriter, r *http.Request) {
	at, ok := h.point(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	var (
		wg          sync.WaitGroup
		current     models.Current
		forecast    models.Forecast
		errCurrent  error
		errForecast error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		current, errCurrent = h.aq.GetCurrent(ctx, at, "")
	}()
	go func() {
		defer wg.Done()
		forecast, errForecast = h.aq.GetForecast(ctx, at, 0)
	}()
	wg.Wait()

	if errCurrent != nil && errForecast != nil {
		h.writeServiceError(w, r, "alert inputs", errors.Join(errCurrent, errForecast))
		return
	}
	var cur *alerts.Current
	if errCurrent == nil {
		cur = alerts.FromCurrent(&current)
	}
	var points []models.ForecastPoint
	if errForecast == nil {
		points = forecast.Points
	}
	partial := errCurrent != nil || errForecast != nil
	if partial {
		observability.LoggerFrom(ctx, h.logger).Warn("alerts derived from partial inputs",
			zap.NamedError("current_error", errCurrent),
			zap.NamedError("forecast_error", errForecast))
	}

	threshold := h.settings.Snapshot().AlertThreshold
	derived := alerts.Derive(cur, points, threshold, h.now())
	for _, a := range derived {
		observability.AlertsDerivedTotal.WithLabelValues(string(a.Kind), string(a.Severity)).Inc()
	}
	traffic.Record(traffic.Success)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"location":  at,
		"threshold": threshold,
		"alerts":    derived,
		"partial":   partial,
	})
}

// PostAlertRule handles POST /api/alerts/rules. Notification methods default to the channels
// enabled in settings.
func (h *Handler) PostAlertRule(w http.ResponseWriter, r *http.Request) {
	var rule models.AlertRule
	if err := decodeBody(w, r, &rule); err != nil {
		writeError(w, r, http.StatusBadRequest, CodeInvalidBody, "invalid alert rule: "+err.Error())
		return
	}
	if err := validation.ValidateCoordinates(rule.Location.Lat, rule.Location.Lon); err != nil {
		writeError(w, r, http.StatusBadRequest, CodeInvalidCoordinates, err.Error())
		return
	}
	if err := validation.ValidateThreshold(rule.Threshold); err != nil {
		writeError(w, r, http.StatusBadRequest, CodeInvalidThreshold, err.Error())
		return
	}
	if rule.Location.Name != "" {
		name, err := validation.ValidateLocation(rule.Location.Name, minLocationLength, maxLocationLength)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, CodeInvalidLocation, err.Error())
			return
		}
		rule.Location.Name = name
	}
	if len(rule.NotificationMethods) == 0 {
		rule.NotificationMethods = h.settings.Snapshot().Notifications.Channels()
	}
	receipt, err := h.aq.CreateAlertRule(r.Context(), rule)
	if err != nil {
		h.writeServiceError(w, r, "alert rule", err)
		return
	}
	traffic.Record(traffic.Success)
	writeJSON(w, http.StatusCreated, receipt)
}

// GetDashboard handles GET /api/dashboard.
func (h *Handler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	if h.dashboard == nil {
		writeError(w, r, http.StatusNotFound, CodeNotFound, "dashboard not running")
		return
	}
	writeJSON(w, http.StatusOK, h.dashboard.Snapshot())
}

// PostDashboardRefresh handles POST /api/dashboard/refresh. The reload runs in the background;
// the response carries the snapshot as of the request.
func (h *Handler) PostDashboardRefresh(w http.ResponseWriter, r *http.Request) {
	if h.dashboard == nil {
		writeError(w, r, http.StatusNotFound, CodeNotFound, "dashboard not running")
		return
	}
	h.dashboard.Refresh()
	writeJSON(w, http.StatusAccepted, h.dashboard.Snapshot())
}
