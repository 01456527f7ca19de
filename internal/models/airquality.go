package models

import (
	"fmt"
	"time"
)

// Coordinates is a WGS84 point.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Key returns a stable cache key fragment for the point, rounded to four decimals (~11 m).
func (c Coordinates) Key() string {
	return fmt.Sprintf("%.4f,%.4f", c.Lat, c.Lon)
}

// PollutantKey identifies one of the tracked pollutants.
type PollutantKey string

const (
	PM25 PollutantKey = "pm25"
	PM10 PollutantKey = "pm10"
	O3   PollutantKey = "o3"
	NO2  PollutantKey = "no2"
	SO2  PollutantKey = "so2"
	CO   PollutantKey = "co"
)

// PollutantKeys lists pollutants in display order.
var PollutantKeys = []PollutantKey{PM25, PM10, O3, NO2, SO2, CO}

// PollutantReading is one pollutant's measurement as returned by the API.
type PollutantReading struct {
	Value       float64 `json:"value"`
	Unit        string  `json:"unit"`
	AQI         int     `json:"aqi"`
	Trend       string  `json:"trend"`
	Description string  `json:"description"`
}

// Weather is the weather block attached to current conditions. Units are metric.
type Weather struct {
	Temperature   float64 `json:"temperature"`
	FeelsLike     float64 `json:"feelsLike"`
	WindSpeed     float64 `json:"windSpeed"`
	WindDirection float64 `json:"windDirection"`
	Humidity      int     `json:"humidity"`
	Pressure      float64 `json:"pressure"`
	Visibility    float64 `json:"visibility"`
	UVIndex       int     `json:"uvIndex"`
	Conditions    string  `json:"conditions"`
}

// Place is the location block echoed by the API.
type Place struct {
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	Name     string  `json:"name,omitempty"`
	Timezone string  `json:"timezone,omitempty"`
}

// DataSource describes an upstream feed contributing to a reading.
type DataSource struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	LastUpdate string `json:"lastUpdate"`
}

// Current is the response of GET /api/current.
type Current struct {
	Location          Place                             `json:"location"`
	Timestamp         time.Time                         `json:"timestamp"`
	AQI               int                               `json:"aqi"`
	Category          string                            `json:"category"`
	CategoryColor     string                            `json:"categoryColor"`
	DominantPollutant string                            `json:"dominantPollutant"`
	Pollutants        map[PollutantKey]PollutantReading `json:"pollutants"`
	Weather           *Weather                          `json:"weather,omitempty"`
	DataSources       []DataSource                      `json:"dataSources,omitempty"`
	Confidence        float64                           `json:"confidence"`
	Stale             bool                              `json:"stale,omitempty"` // served from stale cache
}

// ForecastPoint is one hourly forecast entry.
type ForecastPoint struct {
	Timestamp         time.Time `json:"timestamp"`
	Hour              int       `json:"hour"`
	AQI               int       `json:"aqi"`
	Category          string    `json:"category"`
	DominantPollutant string    `json:"dominantPollutant"`
	Temperature       float64   `json:"temperature"`
	WindSpeed         float64   `json:"windSpeed"`
	Confidence        float64   `json:"confidence"`
	Weather           string    `json:"weather"`
}

// AccuracyStats are the model error figures published with a forecast.
type AccuracyStats struct {
	RMSE24h float64 `json:"historical_rmse_24h"`
	RMSE48h float64 `json:"historical_rmse_48h"`
	RMSE72h float64 `json:"historical_rmse_72h"`
}

// Forecast is the response of GET /api/forecast. Points are chronological ascending.
type Forecast struct {
	Location    Place           `json:"location"`
	GeneratedAt time.Time       `json:"generated_at"`
	Points      []ForecastPoint `json:"forecast"`
	Accuracy    *AccuracyStats  `json:"accuracy_stats,omitempty"`
	Stale       bool            `json:"stale,omitempty"`
}

// HistoricalPoint is one past reading.
type HistoricalPoint struct {
	Timestamp time.Time `json:"timestamp"`
	AQI       int       `json:"aqi"`
	PM25      float64   `json:"pm25"`
	O3        float64   `json:"o3"`
	NO2       float64   `json:"no2"`
}

// TimeRange bounds a historical query.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// HistoricalStats summarizes a historical series.
type HistoricalStats struct {
	MeanAQI float64 `json:"mean_aqi"`
	MaxAQI  int     `json:"max_aqi"`
	MinAQI  int     `json:"min_aqi"`
}

// Historical is the response of GET /api/historical.
type Historical struct {
	Location   Place             `json:"location"`
	TimeRange  TimeRange         `json:"time_range"`
	Points     []HistoricalPoint `json:"data"`
	Statistics HistoricalStats   `json:"statistics"`
	Stale      bool              `json:"stale,omitempty"`
}

// Sensor is a nearby physical monitoring station.
type Sensor struct {
	ID         string                            `json:"id"`
	Type       string                            `json:"type"`
	Name       string                            `json:"name"`
	Lat        float64                           `json:"lat"`
	Lon        float64                           `json:"lon"`
	AQI        int                               `json:"aqi"`
	Category   string                            `json:"category"`
	Pollutants map[PollutantKey]PollutantReading `json:"pollutants,omitempty"`
	LastUpdate string                            `json:"lastUpdate"`
}

// SensorList is the response of GET /api/sensors.
type SensorList struct {
	Sensors []Sensor `json:"sensors"`
	Stale   bool     `json:"stale,omitempty"`
}

// Bounds is a map viewport.
type Bounds struct {
	North float64 `json:"north"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	West  float64 `json:"west"`
}

// Key returns a stable cache key fragment for the bounding box.
func (b Bounds) Key() string {
	return fmt.Sprintf("%.4f,%.4f,%.4f,%.4f", b.North, b.South, b.East, b.West)
}

// HeatmapCell is one grid cell of map data.
type HeatmapCell struct {
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	AQI       int     `json:"aqi"`
	Intensity float64 `json:"intensity"`
}

// MapData is the response of GET /api/map/data.
type MapData struct {
	Bounds Bounds        `json:"bounds"`
	Cells  []HeatmapCell `json:"data"`
	Stale  bool          `json:"stale,omitempty"`
}

// AlertRule is a server-side alert configuration sent to POST /api/alerts.
type AlertRule struct {
	Location            Place    `json:"location"`
	Threshold           int      `json:"threshold"`
	Pollutants          []string `json:"pollutants"`
	NotificationMethods []string `json:"notification_methods"`
	AdvanceWarningHours int      `json:"advance_warning_hours"`
}

// AlertRuleReceipt is the response of POST /api/alerts.
type AlertRuleReceipt struct {
	AlertID   string    `json:"alert_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	Message   string    `json:"message"`
}

// Explanation is the response of GET /api/explain.
type Explanation struct {
	AQI         int      `json:"aqi"`
	Category    string   `json:"category"`
	Explanation string   `json:"explanation"`
	Factors     []string `json:"factors"`
	Fallback    bool     `json:"fallback,omitempty"` // generated locally, upstream unavailable
}
