// Package aqi maps Air Quality Index values to display categories and health guidance.
package aqi

import "fmt"

// Category is one of the six fixed AQI bands.
type Category int

const (
	Good Category = iota
	Moderate
	UnhealthySensitive
	Unhealthy
	VeryUnhealthy
	Hazardous
)

// Info is the display metadata for a category. Max of Hazardous is nominal; values above it
// still classify as Hazardous.
type Info struct {
	Min   int    `json:"min"`
	Max   int    `json:"max"`
	Name  string `json:"name"`
	Color string `json:"color"`
	Level int    `json:"level"`
	Icon  string `json:"icon"`
}

// Advice is canned guidance for the general public and for sensitive groups.
type Advice struct {
	General   string `json:"general"`
	Sensitive string `json:"sensitive"`
}

var table = [...]Info{
	Good:               {Min: 0, Max: 50, Name: "Good", Color: "#00E676", Level: 1, Icon: "smile"},
	Moderate:           {Min: 51, Max: 100, Name: "Moderate", Color: "#FFEB3B", Level: 2, Icon: "meh"},
	UnhealthySensitive: {Min: 101, Max: 150, Name: "Unhealthy for Sensitive Groups", Color: "#FF9800", Level: 3, Icon: "alert-circle"},
	Unhealthy:          {Min: 151, Max: 200, Name: "Unhealthy", Color: "#F44336", Level: 4, Icon: "alert-triangle"},
	VeryUnhealthy:      {Min: 201, Max: 300, Name: "Very Unhealthy", Color: "#9C27B0", Level: 5, Icon: "x-circle"},
	Hazardous:          {Min: 301, Max: 500, Name: "Hazardous", Color: "#880E4F", Level: 6, Icon: "alert-octagon"},
}

// Classify returns the category containing aqi. Values above 300 are Hazardous.
// Negative values are not rejected and classify as Good.
func Classify(aqi int) Category {
	switch {
	case aqi <= table[Good].Max:
		return Good
	case aqi <= table[Moderate].Max:
		return Moderate
	case aqi <= table[UnhealthySensitive].Max:
		return UnhealthySensitive
	case aqi <= table[Unhealthy].Max:
		return Unhealthy
	case aqi <= table[VeryUnhealthy].Max:
		return VeryUnhealthy
	default:
		return Hazardous
	}
}

// Categories returns the fixed category table in ascending order.
func Categories() []Info {
	out := make([]Info, len(table))
	copy(out, table[:])
	return out
}

// Info returns the display metadata for c. Out-of-range values report Hazardous metadata.
func (c Category) Info() Info {
	if c < Good || c > Hazardous {
		return table[Hazardous]
	}
	return table[c]
}

func (c Category) String() string {
	return c.Info().Name
}

// MarshalText encodes the category as its display name.
func (c Category) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// Contains reports whether aqi falls inside c's range. Hazardous is open above.
func (c Category) Contains(aqi int) bool {
	info := c.Info()
	if c == Hazardous {
		return aqi >= info.Min
	}
	return aqi >= info.Min && aqi <= info.Max
}

// HealthAdvice returns the guidance for the category that aqi falls in.
func HealthAdvice(aqi int) Advice {
	return Classify(aqi).Advice()
}

// Advice returns the guidance text for c.
func (c Category) Advice() Advice {
	switch c {
	case Good:
		return Advice{
			General:   "Air quality is ideal for outdoor activities.",
			Sensitive: "No precautions needed.",
		}
	case Moderate:
		return Advice{
			General:   "Air quality is acceptable for most people.",
			Sensitive: "Unusually sensitive people should consider limiting prolonged outdoor exertion.",
		}
	case UnhealthySensitive:
		return Advice{
			General:   "General public can enjoy outdoor activities.",
			Sensitive: "Sensitive groups should reduce prolonged or heavy outdoor exertion.",
		}
	case Unhealthy:
		return Advice{
			General:   "Everyone should reduce prolonged or heavy outdoor exertion.",
			Sensitive: "Sensitive groups should avoid prolonged outdoor exertion.",
		}
	case VeryUnhealthy:
		return Advice{
			General:   "Everyone should avoid prolonged or heavy outdoor exertion.",
			Sensitive: "Sensitive groups should remain indoors.",
		}
	default:
		return Advice{
			General:   "Everyone should avoid all outdoor exertion.",
			Sensitive: "Everyone should remain indoors.",
		}
	}
}

// Explain returns a plain-language explanation of an AQI value. Used when the upstream
// explanation service is unavailable.
func Explain(aqi int, pollutant, weather string) string {
	switch Classify(aqi) {
	case Good:
		return "Air quality is excellent today! Light winds are helping disperse any pollutants, and there are no major emission sources upwind. Perfect conditions for outdoor activities."
	case Moderate:
		return fmt.Sprintf("The AQI of %d is driven primarily by %s emissions. Current weather conditions are %s, which affects how pollutants disperse in the atmosphere. Sensitive individuals should monitor symptoms.", aqi, pollutant, weather)
	case UnhealthySensitive:
		return fmt.Sprintf("Elevated %s levels are causing the AQI to reach %d. The %s weather is limiting pollutant dispersion. People with respiratory conditions should limit prolonged outdoor exertion.", pollutant, aqi, weather)
	case Unhealthy:
		return fmt.Sprintf("Poor air quality today with AQI %d due to high %s concentrations. Weather conditions (%s) are trapping pollutants near the surface. Everyone should reduce outdoor activities.", aqi, pollutant, weather)
	case VeryUnhealthy:
		return fmt.Sprintf("Very poor air quality (AQI %d) caused by excessive %s. The %s conditions are preventing pollutant dispersion. Avoid all outdoor activities.", aqi, pollutant, weather)
	default:
		return fmt.Sprintf("Hazardous air quality (AQI %d) with dangerous %s levels. Emergency conditions due to %s weather patterns. Stay indoors with windows closed.", aqi, pollutant, weather)
	}
}

// ExplainFactors lists the contributing factors reported alongside an explanation.
func ExplainFactors(pollutant, weather string) []string {
	return []string{
		"Primary pollutant: " + pollutant,
		"Weather conditions: " + weather,
		"Wind patterns affecting dispersion",
		"Nearby emission sources",
	}
}
