package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kjstillabower/airquality-dashboard/internal/circuitbreaker"
	"github.com/kjstillabower/airquality-dashboard/internal/models"
	"github.com/kjstillabower/airquality-dashboard/internal/observability"
)

// AirQualityClient is the air-quality REST API.
type AirQualityClient interface {
	GetCurrent(ctx context.Context, at models.Coordinates, location string) (models.Current, error)
	GetForecast(ctx context.Context, at models.Coordinates, hours int) (models.Forecast, error)
	GetHistorical(ctx context.Context, at models.Coordinates, hours int) (models.Historical, error)
	GetMapData(ctx context.Context, bounds models.Bounds) (models.MapData, error)
	GetSensors(ctx context.Context, at models.Coordinates, radiusKm float64) (models.SensorList, error)
	CreateAlertRule(ctx context.Context, rule models.AlertRule) (models.AlertRuleReceipt, error)
	Explain(ctx context.Context, aqi int, pollutant, weather string) (models.Explanation, error)
	Ping(ctx context.Context) error
}

var (
	ErrBadRequest          = errors.New("bad request")
	ErrNotFound            = errors.New("not found")
	ErrRateLimited         = errors.New("rate limited")
	ErrUpstreamFailure     = errors.New("upstream failure")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrCircuitOpen         = errors.New("circuit open")
)

// Endpoint labels used for metrics and logs.
const (
	EndpointCurrent    = "current"
	EndpointForecast   = "forecast"
	EndpointHistorical = "historical"
	EndpointMap        = "map"
	EndpointSensors    = "sensors"
	EndpointAlerts     = "alerts"
	EndpointExplain    = "explain"
	EndpointPing       = "ping"
)

const maxResponseBytes = 8 << 20

// Options configures an HTTPClient. Zero values mean a 15s timeout and three attempts
// backing off from 1s to 8s.
type Options struct {
	BaseURL        string
	Timeout        time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	// Breaker, when set, wraps every attempt.
	Breaker *circuitbreaker.CircuitBreaker
	// Limiter, when set, paces outbound attempts.
	Limiter *rate.Limiter
	// Transport overrides the HTTP transport (tests).
	Transport http.RoundTripper
}

// HTTPClient implements AirQualityClient over HTTP+JSON.
type HTTPClient struct {
	baseURL        *url.URL
	client         *http.Client
	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
	breaker        *circuitbreaker.CircuitBreaker
	limiter        *rate.Limiter
}

// New validates opts and returns an HTTPClient.
func New(opts Options) (*HTTPClient, error) {
	if strings.TrimSpace(opts.BaseURL) == "" {
		return nil, errors.New("client: base URL is required")
	}
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("client: invalid base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("client: base URL scheme must be http or https, got %q", base.Scheme)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 3
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = time.Second
	}
	if opts.RetryMaxDelay <= 0 {
		opts.RetryMaxDelay = 8 * time.Second
	}
	return &HTTPClient{
		baseURL:        base,
		client:         &http.Client{Timeout: opts.Timeout, Transport: opts.Transport},
		retryAttempts:  opts.RetryAttempts,
		retryBaseDelay: opts.RetryBaseDelay,
		retryMaxDelay:  opts.RetryMaxDelay,
		breaker:        opts.Breaker,
		limiter:        opts.Limiter,
	}, nil
}

func coordQuery(at models.Coordinates) url.Values {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(at.Lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(at.Lon, 'f', -1, 64))
	return q
}

// GetCurrent fetches current conditions. location is an optional display name.
func (c *HTTPClient) GetCurrent(ctx context.Context, at models.Coordinates, location string) (models.Current, error) {
	q := coordQuery(at)
	if location != "" {
		q.Set("location", location)
	}
	return do[models.Current](ctx, c, EndpointCurrent, http.MethodGet, "/api/current", q, nil)
}

// GetForecast fetches hourly forecast points.
func (c *HTTPClient) GetForecast(ctx context.Context, at models.Coordinates, hours int) (models.Forecast, error) {
	q := coordQuery(at)
	q.Set("hours", strconv.Itoa(hours))
	return do[models.Forecast](ctx, c, EndpointForecast, http.MethodGet, "/api/forecast", q, nil)
}

// GetHistorical fetches past readings.
func (c *HTTPClient) GetHistorical(ctx context.Context, at models.Coordinates, hours int) (models.Historical, error) {
	q := coordQuery(at)
	q.Set("hours", strconv.Itoa(hours))
	return do[models.Historical](ctx, c, EndpointHistorical, http.MethodGet, "/api/historical", q, nil)
}

// GetMapData fetches heatmap cells within bounds.
func (c *HTTPClient) GetMapData(ctx context.Context, bounds models.Bounds) (models.MapData, error) {
	q := url.Values{}
	q.Set("north", strconv.FormatFloat(bounds.North, 'f', -1, 64))
	q.Set("south", strconv.FormatFloat(bounds.South, 'f', -1, 64))
	q.Set("east", strconv.FormatFloat(bounds.East, 'f', -1, 64))
	q.Set("west", strconv.FormatFloat(bounds.West, 'f', -1, 64))
	return do[models.MapData](ctx, c, EndpointMap, http.MethodGet, "/api/map/data", q, nil)
}

// GetSensors fetches sensors within radiusKm of at.
func (c *HTTPClient) GetSensors(ctx context.Context, at models.Coordinates, radiusKm float64) (models.SensorList, error) {
	q := coordQuery(at)
	q.Set("radius", strconv.FormatFloat(radiusKm, 'f', -1, 64))
	return do[models.SensorList](ctx, c, EndpointSensors, http.MethodGet, "/api/sensors", q, nil)
}

// CreateAlertRule persists an alert rule upstream.
func (c *HTTPClient) CreateAlertRule(ctx context.Context, rule models.AlertRule) (models.AlertRuleReceipt, error) {
	return do[models.AlertRuleReceipt](ctx, c, EndpointAlerts, http.MethodPost, "/api/alerts", nil, rule)
}

// Explain fetches a natural-language explanation for an AQI value.
func (c *HTTPClient) Explain(ctx context.Context, aqi int, pollutant, weather string) (models.Explanation, error) {
	q := url.Values{}
	q.Set("aqi", strconv.Itoa(aqi))
	q.Set("pollutant", pollutant)
	if weather != "" {
		q.Set("weather", weather)
	}
	return do[models.Explanation](ctx, c, EndpointExplain, http.MethodGet, "/api/explain", q, nil)
}

// Ping checks that the API root answers. It does not retry.
func (c *HTTPClient) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodGet, "/", nil, nil)
	if err != nil {
		return fmt.Errorf("build ping request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: ping: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
	if err := classifyStatus(resp.StatusCode, nil); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// do runs one logical call with retries. Each attempt passes the outbound limiter and the
// circuit breaker. Transport errors, 429 and 502/503/504 are retried; everything else
// returns immediately.
func do[T any](ctx context.Context, c *HTTPClient, endpoint, method, path string, query url.Values, body any) (T, error) {
	var zero T
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return zero, fmt.Errorf("%s: encode request: %w", endpoint, err)
		}
		payload = b
	}

	var lastErr error
	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			observability.UpstreamRetriesTotal.WithLabelValues(endpoint).Inc()
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(c.calculateBackoff(attempt)):
			}
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return zero, fmt.Errorf("%s: outbound rate limit: %w", endpoint, err)
			}
		}

		var out T
		call := func() error {
			var err error
			out, err = attemptOnce[T](ctx, c, endpoint, method, path, query, payload)
			return err
		}
		var err error
		if c.breaker != nil {
			err = c.breaker.Call(ctx, call)
			if errors.Is(err, circuitbreaker.ErrOpen) {
				observability.UpstreamCallsTotal.WithLabelValues(endpoint, string(ErrorCategoryCircuitOpen)).Inc()
				return zero, fmt.Errorf("%s: %w", endpoint, ErrCircuitOpen)
			}
		} else {
			err = call()
		}
		if err == nil {
			return out, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return zero, err
		}
		if !isRetryable(err) {
			return zero, err
		}
	}
	return zero, fmt.Errorf("exhausted retries: %w", lastErr)
}

func attemptOnce[T any](ctx context.Context, c *HTTPClient, endpoint, method, path string, query url.Values, payload []byte) (T, error) {
	var zero T
	start := time.Now()

	req, err := c.newRequest(ctx, method, path, query, payload)
	if err != nil {
		observability.UpstreamCallsTotal.WithLabelValues(endpoint, "error").Inc()
		return zero, fmt.Errorf("%s: build request: %w", endpoint, err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		observeCall(endpoint, "error", start)
		if ctx.Err() != nil {
			return zero, fmt.Errorf("%s: %w", endpoint, ctx.Err())
		}
		return zero, fmt.Errorf("%s: %w: %v", endpoint, ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	observeCall(endpoint, statusLabel(resp.StatusCode), start)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return zero, fmt.Errorf("%s: %w: read response body: %v", endpoint, ErrUpstreamUnavailable, err)
	}
	if err := classifyStatus(resp.StatusCode, body); err != nil {
		return zero, fmt.Errorf("%s: %w", endpoint, err)
	}

	var out T
	if err := json.Unmarshal(body, &out); err != nil {
		return zero, fmt.Errorf("%s: parse response: %w", endpoint, err)
	}
	return out, nil
}

func observeCall(endpoint, status string, start time.Time) {
	observability.UpstreamCallsTotal.WithLabelValues(endpoint, status).Inc()
	observability.UpstreamDuration.WithLabelValues(endpoint, status).Observe(time.Since(start).Seconds())
}

func (c *HTTPClient) newRequest(ctx context.Context, method, path string, query url.Values, payload []byte) (*http.Request, error) {
	u := *c.baseURL
	u.Path = c.baseURL.Path + path
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if corrID := observability.CorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}
	return req, nil
}

// classifyStatus maps a non-2xx status to a sentinel, appending the upstream detail when present.
func classifyStatus(status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}
	var sentinel error
	switch {
	case status == http.StatusNotFound:
		sentinel = ErrNotFound
	case status == http.StatusTooManyRequests:
		sentinel = ErrRateLimited
	case status == http.StatusBadGateway, status == http.StatusServiceUnavailable, status == http.StatusGatewayTimeout:
		sentinel = ErrUpstreamUnavailable
	case status >= 400 && status < 500:
		sentinel = ErrBadRequest
	default:
		sentinel = ErrUpstreamFailure
	}
	if detail := upstreamDetail(body); detail != "" {
		return fmt.Errorf("%w: HTTP %d: %s", sentinel, status, detail)
	}
	return fmt.Errorf("%w: HTTP %d", sentinel, status)
}

// upstreamDetail extracts the API's {"detail": "..."} error text.
func upstreamDetail(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var e struct {
		Detail any `json:"detail"`
	}
	if err := json.Unmarshal(body, &e); err != nil || e.Detail == nil {
		return ""
	}
	if s, ok := e.Detail.(string); ok {
		return s
	}
	b, _ := json.Marshal(e.Detail)
	return string(b)
}

func isRetryable(err error) bool {
	return errors.Is(err, ErrUpstreamUnavailable) || errors.Is(err, ErrRateLimited)
}

// isBreakerFailure reports whether err indicates an unhealthy upstream rather than a caller mistake.
func isBreakerFailure(err error) bool {
	return errors.Is(err, ErrUpstreamUnavailable) || errors.Is(err, ErrUpstreamFailure)
}

// BreakerFailurePredicate is the circuitbreaker.Config.IsFailure to use with this client.
func BreakerFailurePredicate() func(error) bool { return isBreakerFailure }

func (c *HTTPClient) calculateBackoff(attempt int) time.Duration {
	delay := float64(c.retryBaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(c.retryMaxDelay) {
		delay = float64(c.retryMaxDelay)
	}

	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}
