package http

import (
	"math"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/kjstillabower/airquality-dashboard/internal/aqi"
	"github.com/kjstillabower/airquality-dashboard/internal/models"
	"github.com/kjstillabower/airquality-dashboard/internal/trend"
	"github.com/kjstillabower/airquality-dashboard/internal/units"
)

// AQIView is the display form of a single AQI value.
type AQIView struct {
	AQI      int        `json:"aqi"`
	Category aqi.Info   `json:"category"`
	Advice   aqi.Advice `json:"advice"`
}

func newAQIView(v int) AQIView {
	c := aqi.Classify(v)
	return AQIView{AQI: v, Category: c.Info(), Advice: c.Advice()}
}

// WeatherView is the weather block converted to the user's unit system.
type WeatherView struct {
	Temperature        float64 `json:"temperature"`
	FeelsLike          float64 `json:"feelsLike"`
	TemperatureUnit    string  `json:"temperatureUnit"`
	WindSpeed          float64 `json:"windSpeed"`
	WindSpeedUnit      string  `json:"windSpeedUnit"`
	WindDirection      float64 `json:"windDirection"`
	WindDirectionLabel string  `json:"windDirectionLabel"`
	Visibility         float64 `json:"visibility"`
	VisibilityUnit     string  `json:"visibilityUnit"`
	Humidity           int     `json:"humidity"`
	Pressure           float64 `json:"pressure"`
	UVIndex            int     `json:"uvIndex"`
	Conditions         string  `json:"conditions"`
}

func newWeatherView(w *models.Weather, sys units.System) *WeatherView {
	if w == nil {
		return nil
	}
	return &WeatherView{
		Temperature:        units.Temperature(w.Temperature, sys),
		FeelsLike:          units.Temperature(w.FeelsLike, sys),
		TemperatureUnit:    units.Suffix(units.KindTemperature, sys),
		WindSpeed:          units.Speed(w.WindSpeed, sys),
		WindSpeedUnit:      units.Suffix(units.KindSpeed, sys),
		WindDirection:      w.WindDirection,
		WindDirectionLabel: trend.Compass(w.WindDirection),
		Visibility:         units.Distance(w.Visibility, sys),
		VisibilityUnit:     units.Suffix(units.KindDistance, sys),
		Humidity:           w.Humidity,
		Pressure:           w.Pressure,
		UVIndex:            w.UVIndex,
		Conditions:         w.Conditions,
	}
}

// PollutantView is a pollutant reading with its trend descriptor and band.
type PollutantView struct {
	models.PollutantReading
	TrendDescriptor trend.Descriptor `json:"trendDescriptor"`
	Category        aqi.Info         `json:"category"`
}

// ConditionsView is current conditions decorated for display.
type ConditionsView struct {
	Current    models.Current                        `json:"current"`
	Category   aqi.Info                              `json:"category"`
	Advice     aqi.Advice                            `json:"advice"`
	Units      units.System                          `json:"units"`
	Weather    *WeatherView                          `json:"weather,omitempty"`
	Pollutants map[models.PollutantKey]PollutantView `json:"pollutants"`
}

func newConditionsView(c models.Current, sys units.System) ConditionsView {
	cat := aqi.Classify(c.AQI)
	out := ConditionsView{
		Current:    c,
		Category:   cat.Info(),
		Advice:     cat.Advice(),
		Units:      sys,
		Weather:    newWeatherView(c.Weather, sys),
		Pollutants: make(map[models.PollutantKey]PollutantView, len(c.Pollutants)),
	}
	for k, p := range c.Pollutants {
		out.Pollutants[k] = PollutantView{
			PollutantReading: p,
			TrendDescriptor:  trend.Describe(trend.Trend(p.Trend)),
			Category:         aqi.Classify(p.AQI).Info(),
		}
	}
	return out
}

// GetAQI handles GET /api/aqi/{value}.
func (h *Handler) GetAQI(w http.ResponseWriter, r *http.Request) {
	v, err := strconv.Atoi(mux.Vars(r)["value"])
	if err != nil {
		writeError(w, r, http.StatusBadRequest, CodeInvalidParameter, "aqi must be an integer")
		return
	}
	writeJSON(w, http.StatusOK, newAQIView(v))
}

// GetAQICategories handles GET /api/aqi. It lists every band in ascending order.
func (h *Handler) GetAQICategories(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"categories": aqi.Categories()})
}

// GetConvert handles GET /api/convert?kind=&value=&units=. units defaults to the settings value.
func (h *Handler) GetConvert(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	kind, ok := units.ParseKind(q.Get("kind"))
	if !ok {
		writeError(w, r, http.StatusBadRequest, CodeInvalidParameter, "kind must be temperature, speed or distance")
		return
	}
	value, err := strconv.ParseFloat(q.Get("value"), 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		writeError(w, r, http.StatusBadRequest, CodeInvalidParameter, "value must be a number")
		return
	}
	sys := h.settings.Snapshot().Units
	if raw := q.Get("units"); raw != "" {
		if sys, ok = units.ParseSystem(raw); !ok {
			writeError(w, r, http.StatusBadRequest, CodeInvalidParameter, "units must be metric or imperial")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"kind":      kind,
		"value":     value,
		"units":     sys,
		"converted": units.Convert(kind, value, sys),
		"suffix":    units.Suffix(kind, sys),
	})
}

// GetCompass handles GET /api/compass/{degrees}.
func (h *Handler) GetCompass(w http.ResponseWriter, r *http.Request) {
	deg, err := strconv.ParseFloat(mux.Vars(r)["degrees"], 64)
	if err != nil || math.IsNaN(deg) || math.IsInf(deg, 0) {
		writeError(w, r, http.StatusBadRequest, CodeInvalidParameter, "degrees must be a number")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"degrees": deg,
		"label":   trend.Compass(deg),
	})
}
