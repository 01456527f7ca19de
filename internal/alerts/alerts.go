// Package alerts derives the live alert list from current conditions and the forecast.
//
// Alerts are a projection of their inputs, not an inbox: callers replace their list wholesale
// on every derivation, and a dismissed alert reappears while its condition still holds.
package alerts

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/kjstillabower/airquality-dashboard/internal/models"
)

// Kind distinguishes an exceedance happening now from one predicted by the forecast.
type Kind string

const (
	KindCurrent  Kind = "current_exceedance"
	KindForecast Kind = "forecast_exceedance"
)

// Severity of an alert.
type Severity string

const (
	SeverityModerate Severity = "moderate"
	SeverityHigh     Severity = "high"
)

// ForecastWindow is the number of forecast points scanned for exceedances (the next 24 hours).
const ForecastWindow = 24

// highSeverityAQI is the forecast value above which a forecast alert is high severity.
const highSeverityAQI = 150

// Current is the subset of current conditions the deriver reads.
type Current struct {
	AQI               int
	DominantPollutant string
	// Timestamp of the reading, when known.
	Timestamp *time.Time
}

// Alert is one derived, unpersisted alert.
type Alert struct {
	ID              string     `json:"id"`
	Kind            Kind       `json:"kind"`
	Severity        Severity   `json:"severity"`
	Title           string     `json:"title"`
	Message         string     `json:"message"`
	AQIValue        int        `json:"aqiValue"`
	SourceTimestamp *time.Time `json:"sourceTimestamp"`
	HoursUntil      *int       `json:"hoursUntil,omitempty"`
}

// Fingerprint identifies the condition an alert describes, independent of its random ID.
func (a Alert) Fingerprint() string {
	ts := ""
	if a.SourceTimestamp != nil {
		ts = a.SourceTimestamp.UTC().Format(time.RFC3339)
	}
	return fmt.Sprintf("%s|%d|%s", a.Kind, a.AQIValue, ts)
}

// FromCurrent adapts API current conditions for Derive. A nil input yields nil.
func FromCurrent(c *models.Current) *Current {
	if c == nil {
		return nil
	}
	out := &Current{AQI: c.AQI, DominantPollutant: c.DominantPollutant}
	if !c.Timestamp.IsZero() {
		ts := c.Timestamp
		out.Timestamp = &ts
	}
	return out
}

// Derive returns at most two alerts, in order: the earliest forecast exceedance within the
// next ForecastWindow points, then the current exceedance. A nil current or empty forecast
// contributes nothing. threshold is not range-checked here.
func Derive(current *Current, forecast []models.ForecastPoint, threshold int, now time.Time) []Alert {
	out := make([]Alert, 0, 2)

	window := forecast
	if len(window) > ForecastWindow {
		window = window[:ForecastWindow]
	}
	for _, p := range window {
		if p.AQI <= threshold {
			continue
		}
		hours := int(math.Round(p.Timestamp.Sub(now).Hours()))
		ts := p.Timestamp
		out = append(out, Alert{
			ID:              uuid.NewString(),
			Kind:            KindForecast,
			Severity:        forecastSeverity(p.AQI),
			Title:           "Air Quality Alert",
			Message:         fmt.Sprintf("AQI expected to reach %d in %d hours. Dominant pollutant: %s", p.AQI, hours, p.DominantPollutant),
			AQIValue:        p.AQI,
			SourceTimestamp: &ts,
			HoursUntil:      &hours,
		})
		break
	}

	if current != nil && current.AQI > threshold {
		out = append(out, Alert{
			ID:              uuid.NewString(),
			Kind:            KindCurrent,
			Severity:        SeverityHigh,
			Title:           "Current Air Quality Alert",
			Message:         fmt.Sprintf("Current AQI is %d, above your threshold of %d. Dominant pollutant: %s", current.AQI, threshold, current.DominantPollutant),
			AQIValue:        current.AQI,
			SourceTimestamp: current.Timestamp,
		})
	}
	return out
}

func forecastSeverity(aqi int) Severity {
	if aqi > highSeverityAQI {
		return SeverityHigh
	}
	return SeverityModerate
}
