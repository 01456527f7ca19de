package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/kjstillabower/airquality-dashboard/internal/observability"
	"github.com/kjstillabower/airquality-dashboard/internal/units"
)

// Theme is the UI color scheme.
type Theme string

const (
	ThemeDark  Theme = "dark"
	ThemeLight Theme = "light"
)

// Language is a UI language code.
type Language string

const (
	LanguageEnglish Language = "en"
	LanguageSpanish Language = "es"
	LanguageFrench  Language = "fr"
	LanguageGerman  Language = "de"
)

// Notifications are the enabled alert delivery channels.
type Notifications struct {
	Push  bool `json:"push"`
	Email bool `json:"email"`
	SMS   bool `json:"sms"`
}

// Channels lists the enabled channel names.
func (n Notifications) Channels() []string {
	var out []string
	if n.Push {
		out = append(out, "push")
	}
	if n.Email {
		out = append(out, "email")
	}
	if n.SMS {
		out = append(out, "sms")
	}
	return out
}

// Accessibility holds display accessibility preferences.
type Accessibility struct {
	ReducedMotion bool   `json:"reducedMotion"`
	HighContrast  bool   `json:"highContrast"`
	FontSize      string `json:"fontSize"`
}

// SettingsState is the full snapshot of the Settings container.
type SettingsState struct {
	Theme          Theme         `json:"theme"`
	Units          units.System  `json:"units"`
	Language       Language      `json:"language"`
	Notifications  Notifications `json:"notifications"`
	AlertThreshold int           `json:"alertThreshold"`
	Accessibility  Accessibility `json:"accessibility"`
}

// Setting keys accepted by UpdateSetting.
const (
	SettingTheme          = "theme"
	SettingUnits          = "units"
	SettingLanguage       = "language"
	SettingNotifications  = "notifications"
	SettingAlertThreshold = "alertThreshold"
	SettingAccessibility  = "accessibility"
)

// ErrUnknownSetting is returned by UpdateSetting for keys outside the settings schema.
var ErrUnknownSetting = errors.New("unknown setting")

// DefaultSettings returns the seed settings.
func DefaultSettings() SettingsState {
	return SettingsState{
		Theme:          ThemeDark,
		Units:          units.Metric,
		Language:       LanguageEnglish,
		Notifications:  Notifications{Push: true},
		AlertThreshold: 100,
		Accessibility:  Accessibility{FontSize: "medium"},
	}
}

// Settings owns the user's preferences. Each setter replaces exactly one field.
type Settings struct {
	mu       sync.Mutex
	notifyMu sync.Mutex
	state    SettingsState
	obs      Observers[SettingsState]
	persist  *persister
}

// NewSettings rehydrates settings from storage over the defaults, so fields missing from an
// older snapshot take their default value.
func NewSettings(ctx context.Context, storage Storage, logger *zap.Logger) *Settings {
	s := &Settings{
		state:   DefaultSettings(),
		persist: &persister{storage: storage, key: SettingsKey, logger: logger},
	}
	restored := DefaultSettings()
	if s.persist.restore(ctx, &restored) {
		s.state = restored
	}
	return s
}

// Snapshot returns the current settings.
func (s *Settings) Snapshot() SettingsState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe registers fn to receive the snapshot after each mutation.
func (s *Settings) Subscribe(fn func(SettingsState)) func() {
	return s.obs.Subscribe(fn)
}

func (s *Settings) SetTheme(theme Theme) {
	s.mutate(SettingTheme, func(st *SettingsState) { st.Theme = theme })
}

func (s *Settings) SetUnits(sys units.System) {
	s.mutate(SettingUnits, func(st *SettingsState) { st.Units = sys })
}

func (s *Settings) SetLanguage(lang Language) {
	s.mutate(SettingLanguage, func(st *SettingsState) { st.Language = lang })
}

// SetNotifications replaces the whole notifications sub-object.
func (s *Settings) SetNotifications(n Notifications) {
	s.mutate(SettingNotifications, func(st *SettingsState) { st.Notifications = n })
}

// SetAlertThreshold stores threshold as given; range checks belong to input validation.
func (s *Settings) SetAlertThreshold(threshold int) {
	s.mutate(SettingAlertThreshold, func(st *SettingsState) { st.AlertThreshold = threshold })
}

func (s *Settings) SetAccessibility(a Accessibility) {
	s.mutate(SettingAccessibility, func(st *SettingsState) { st.Accessibility = a })
}

// UpdateSetting sets one field by key from its JSON value. Decoding happens before any write,
// so a bad value leaves the state untouched.
func (s *Settings) UpdateSetting(key string, value json.RawMessage) error {
	switch key {
	case SettingTheme:
		var v Theme
		if err := decodeSetting(key, value, &v); err != nil {
			return err
		}
		s.SetTheme(v)
	case SettingUnits:
		var v units.System
		if err := decodeSetting(key, value, &v); err != nil {
			return err
		}
		s.SetUnits(v)
	case SettingLanguage:
		var v Language
		if err := decodeSetting(key, value, &v); err != nil {
			return err
		}
		s.SetLanguage(v)
	case SettingNotifications:
		var v Notifications
		if err := decodeSetting(key, value, &v); err != nil {
			return err
		}
		s.SetNotifications(v)
	case SettingAlertThreshold:
		var v int
		if err := decodeSetting(key, value, &v); err != nil {
			return err
		}
		s.SetAlertThreshold(v)
	case SettingAccessibility:
		var v Accessibility
		if err := decodeSetting(key, value, &v); err != nil {
			return err
		}
		s.SetAccessibility(v)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownSetting, key)
	}
	return nil
}

func decodeSetting(key string, value json.RawMessage, into any) error {
	if err := json.Unmarshal(value, into); err != nil {
		return fmt.Errorf("decode setting %s: %w", key, err)
	}
	return nil
}

func (s *Settings) mutate(op string, fn func(*SettingsState)) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	fn(&s.state)
	snap := s.state
	s.persist.save(snap)
	s.mu.Unlock()

	observability.StoreMutationsTotal.WithLabelValues(SettingsKey, op).Inc()
	s.obs.Notify(snap)
}
