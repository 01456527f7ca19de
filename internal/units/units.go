// Package units converts display values between metric and imperial systems.
package units

import (
	"math"
	"strings"
)

// System is a measurement system selected in user settings.
type System string

const (
	Metric   System = "metric"
	Imperial System = "imperial"
)

// Kind is a physical quantity with a unit suffix.
type Kind string

const (
	KindTemperature Kind = "temperature"
	KindSpeed       Kind = "speed"
	KindDistance    Kind = "distance"
)

const kmToMiles = 0.621371

// ParseSystem parses a system name, case-insensitively.
func ParseSystem(s string) (System, bool) {
	switch System(strings.ToLower(strings.TrimSpace(s))) {
	case Metric:
		return Metric, true
	case Imperial:
		return Imperial, true
	}
	return "", false
}

// ParseKind parses a quantity name, case-insensitively.
func ParseKind(s string) (Kind, bool) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindTemperature:
		return KindTemperature, true
	case KindSpeed:
		return KindSpeed, true
	case KindDistance:
		return KindDistance, true
	}
	return "", false
}

// Temperature converts celsius to the given system, rounded to a whole degree.
// Any system other than Imperial is treated as metric.
func Temperature(celsius float64, sys System) float64 {
	if sys == Imperial {
		return math.Round(celsius*9/5 + 32)
	}
	return math.Round(celsius)
}

// Speed converts km/h to the given system, rounded to a whole unit.
func Speed(kmh float64, sys System) float64 {
	if sys == Imperial {
		return math.Round(kmh * kmToMiles)
	}
	return math.Round(kmh)
}

// Distance converts km to the given system, rounded to one decimal place.
func Distance(km float64, sys System) float64 {
	if sys == Imperial {
		return roundTenth(km * kmToMiles)
	}
	return roundTenth(km)
}

// Convert dispatches to the converter for kind. Unknown kinds are returned unchanged.
func Convert(kind Kind, value float64, sys System) float64 {
	switch kind {
	case KindTemperature:
		return Temperature(value, sys)
	case KindSpeed:
		return Speed(value, sys)
	case KindDistance:
		return Distance(value, sys)
	}
	return value
}

// Suffix returns the display suffix for kind in the given system.
func Suffix(kind Kind, sys System) string {
	imperial := sys == Imperial
	switch kind {
	case KindTemperature:
		if imperial {
			return "°F"
		}
		return "°C"
	case KindSpeed:
		if imperial {
			return "mph"
		}
		return "km/h"
	case KindDistance:
		if imperial {
			return "mi"
		}
		return "km"
	}
	return ""
}

func roundTenth(v float64) float64 {
	return math.Round(v*10) / 10
}
