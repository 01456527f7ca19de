package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kjstillabower/airquality-dashboard/internal/store"
	"github.com/kjstillabower/airquality-dashboard/internal/units"
)

// ErrInvalidSetting is returned when a setting value is malformed or outside its enum.
var ErrInvalidSetting = errors.New("invalid setting")

var (
	themes    = map[store.Theme]bool{store.ThemeDark: true, store.ThemeLight: true}
	languages = map[store.Language]bool{
		store.LanguageEnglish: true, store.LanguageSpanish: true,
		store.LanguageFrench: true, store.LanguageGerman: true,
	}
	fontSizes = map[string]bool{"small": true, "medium": true, "large": true}
)

// ValidateSetting checks a single setting value as accepted by store.Settings.UpdateSetting.
// Unknown keys wrap store.ErrUnknownSetting; out-of-range thresholds return ErrThresholdRange.
func ValidateSetting(key string, raw json.RawMessage) error {
	switch key {
	case store.SettingTheme:
		var v store.Theme
		if err := decode(key, raw, &v); err != nil {
			return err
		}
		if !themes[v] {
			return fmt.Errorf("%w: theme %q", ErrInvalidSetting, v)
		}
	case store.SettingUnits:
		var v units.System
		if err := decode(key, raw, &v); err != nil {
			return err
		}
		if v != units.Metric && v != units.Imperial {
			return fmt.Errorf("%w: units %q", ErrInvalidSetting, v)
		}
	case store.SettingLanguage:
		var v store.Language
		if err := decode(key, raw, &v); err != nil {
			return err
		}
		if !languages[v] {
			return fmt.Errorf("%w: language %q", ErrInvalidSetting, v)
		}
	case store.SettingNotifications:
		var v store.Notifications
		return decode(key, raw, &v)
	case store.SettingAlertThreshold:
		var v int
		if err := decode(key, raw, &v); err != nil {
			return err
		}
		return ValidateThreshold(v)
	case store.SettingAccessibility:
		var v store.Accessibility
		if err := decode(key, raw, &v); err != nil {
			return err
		}
		if !fontSizes[v.FontSize] {
			return fmt.Errorf("%w: fontSize %q", ErrInvalidSetting, v.FontSize)
		}
	default:
		return fmt.Errorf("%w: %q", store.ErrUnknownSetting, key)
	}
	return nil
}

// ValidateSettings checks every field of a full settings document.
func ValidateSettings(s store.SettingsState) error {
	fields := []struct {
		key   string
		value any
	}{
		{store.SettingTheme, s.Theme},
		{store.SettingUnits, s.Units},
		{store.SettingLanguage, s.Language},
		{store.SettingNotifications, s.Notifications},
		{store.SettingAlertThreshold, s.AlertThreshold},
		{store.SettingAccessibility, s.Accessibility},
	}
	for _, f := range fields {
		raw, err := json.Marshal(f.value)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidSetting, f.key, err)
		}
		if err := ValidateSetting(f.key, raw); err != nil {
			return err
		}
	}
	return nil
}

// decode rejects JSON null, which would otherwise leave into at its zero value.
func decode(key string, raw json.RawMessage, into any) error {
	if t := bytes.TrimSpace(raw); len(t) == 0 || bytes.Equal(t, []byte("null")) {
		return fmt.Errorf("%w: %s: value is required", ErrInvalidSetting, key)
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidSetting, key, err)
	}
	return nil
}
