package validation

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode"
)

// ErrLocationEmpty is returned when location is empty or whitespace-only after trim.
var ErrLocationEmpty = errors.New("location is required")

// ErrLocationTooShort is returned when location length is below the minimum.
var ErrLocationTooShort = errors.New("location too short")

// ErrLocationTooLong is returned when location length exceeds the maximum.
var ErrLocationTooLong = errors.New("location too long")

// ErrLocationInvalidChars is returned when location contains disallowed characters.
var ErrLocationInvalidChars = errors.New("location contains invalid characters")

// ValidateLocation trims the input, enforces length bounds (minLen, maxLen in runes),
// and restricts to allowed characters: letters (Unicode), digits, space, comma, hyphen,
// period and apostrophe (St. John's).
// Returns the trimmed string or an error suitable for 400 INVALID_LOCATION responses.
func ValidateLocation(input string, minLen, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	n := len(r)
	if n == 0 {
		return "", ErrLocationEmpty
	}
	if minLen > 0 && n < minLen {
		return "", ErrLocationTooShort
	}
	if maxLen > 0 && n > maxLen {
		return "", ErrLocationTooLong
	}
	for _, c := range r {
		if !isAllowedLocationRune(c) {
			return "", ErrLocationInvalidChars
		}
	}
	return s, nil
}

// isAllowedLocationRune returns true for letters (Unicode), digits and place-name punctuation.
func isAllowedLocationRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) {
		return true
	}
	switch r {
	case ' ', ',', '-', '.', '\'':
		return true
	}
	return false
}

// Alert threshold bounds accepted from user input.
const (
	MinAlertThreshold = 50
	MaxAlertThreshold = 200
)

// ErrLatitudeRange is returned when latitude is outside [-90, 90] or not a number.
var ErrLatitudeRange = errors.New("latitude must be between -90 and 90")

// ErrLongitudeRange is returned when longitude is outside [-180, 180] or not a number.
var ErrLongitudeRange = errors.New("longitude must be between -180 and 180")

// ErrThresholdRange is returned when an alert threshold is outside the accepted range.
var ErrThresholdRange = fmt.Errorf("alert threshold must be between %d and %d", MinAlertThreshold, MaxAlertThreshold)

// ErrBoundsInverted is returned when a map viewport's south edge is north of its north edge.
var ErrBoundsInverted = errors.New("south must not exceed north")

// ValidateCoordinates checks a WGS84 point.
func ValidateCoordinates(lat, lon float64) error {
	if math.IsNaN(lat) || lat < -90 || lat > 90 {
		return ErrLatitudeRange
	}
	if math.IsNaN(lon) || lon < -180 || lon > 180 {
		return ErrLongitudeRange
	}
	return nil
}

// ValidateBounds checks a map viewport. East may be less than west when the box crosses
// the antimeridian.
func ValidateBounds(north, south, east, west float64) error {
	if err := ValidateCoordinates(north, east); err != nil {
		return err
	}
	if err := ValidateCoordinates(south, west); err != nil {
		return err
	}
	if south > north {
		return ErrBoundsInverted
	}
	return nil
}

// ValidateThreshold enforces the alert threshold range for user input. The alert deriver
// itself accepts any value.
func ValidateThreshold(v int) error {
	if v < MinAlertThreshold || v > MaxAlertThreshold {
		return ErrThresholdRange
	}
	return nil
}
