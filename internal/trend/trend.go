// Package trend describes pollutant trends and wind bearings for display.
package trend

import "math"

// Trend is the direction a pollutant reading is moving.
type Trend string

const (
	Increasing Trend = "increasing"
	Decreasing Trend = "decreasing"
	Stable     Trend = "stable"
)

// Polarity says whether a trend is good or bad for air quality.
type Polarity string

const (
	Worse   Polarity = "worse"
	Better  Polarity = "better"
	Neutral Polarity = "neutral"
)

// Descriptor is the display form of a trend.
type Descriptor struct {
	Label    string   `json:"label"`
	Polarity Polarity `json:"polarity"`
	Icon     string   `json:"icon"`
}

// Describe returns the descriptor for t. Unrecognized trends describe as Stable.
func Describe(t Trend) Descriptor {
	switch t {
	case Increasing:
		return Descriptor{Label: "Worsening", Polarity: Worse, Icon: "trending-up"}
	case Decreasing:
		return Descriptor{Label: "Improving", Polarity: Better, Icon: "trending-down"}
	default:
		return Descriptor{Label: "Stable", Polarity: Neutral, Icon: "minus"}
	}
}

var compassLabels = [16]string{
	"N", "NNE", "NE", "ENE", "E", "ESE", "SE", "SSE",
	"S", "SSW", "SW", "WSW", "W", "WNW", "NW", "NNW",
}

// Compass returns the 16-point compass label for a bearing in degrees.
// The index is normalized into [0,16) so negative and >360 bearings wrap.
func Compass(degrees float64) string {
	if math.IsNaN(degrees) || math.IsInf(degrees, 0) {
		return compassLabels[0]
	}
	idx := int(math.Mod(math.Round(degrees/22.5), 16))
	if idx < 0 {
		idx += 16
	}
	return compassLabels[idx]
}
