package http

import (
	"net/http"
	"testing"

	"github.com/kjstillabower/airquality-dashboard/internal/units"
)

// TestHandler_GetAQI verifies category and advice lookup, including out-of-table values.
func TestHandler_GetAQI(t *testing.T) {
	tests := []struct {
		target   string
		wantCode int
		wantName string
	}{
		{"/api/aqi/0", http.StatusOK, "Good"},
		{"/api/aqi/101", http.StatusOK, "Unhealthy for Sensitive Groups"},
		{"/api/aqi/450", http.StatusOK, "Hazardous"},
		{"/api/aqi/-5", http.StatusOK, "Good"},
		{"/api/aqi/abc", http.StatusNotFound, ""},
	}
	env := newTestEnv(t, nil, RouterOptions{})
	for _, tc := range tests {
		t.Run(tc.target, func(t *testing.T) {
			w := env.do(http.MethodGet, tc.target, "")
			if w.Code != tc.wantCode {
				t.Fatalf("status = %d, want %d", w.Code, tc.wantCode)
			}
			if tc.wantCode != http.StatusOK {
				return
			}
			view := decodeJSON[AQIView](t, w)
			if view.Category.Name != tc.wantName {
				t.Errorf("category = %q, want %q", view.Category.Name, tc.wantName)
			}
			if view.Advice.General == "" || view.Advice.Sensitive == "" {
				t.Errorf("advice incomplete: %+v", view.Advice)
			}
		})
	}
}

// TestHandler_GetAQICategories verifies that all six bands are listed in order.
func TestHandler_GetAQICategories(t *testing.T) {
	env := newTestEnv(t, nil, RouterOptions{})
	w := env.do(http.MethodGet, "/api/aqi", "")
	body := decodeJSON[struct {
		Categories []struct {
			Min  int    `json:"min"`
			Name string `json:"name"`
		} `json:"categories"`
	}](t, w)
	if len(body.Categories) != 6 {
		t.Fatalf("categories = %d, want 6", len(body.Categories))
	}
	for i := 1; i < len(body.Categories); i++ {
		if body.Categories[i].Min <= body.Categories[i-1].Min {
			t.Errorf("categories not ascending at %d", i)
		}
	}
}

// TestHandler_GetConvert verifies conversion, suffixes and the settings fallback for units.
func TestHandler_GetConvert(t *testing.T) {
	tests := []struct {
		name          string
		settingsUnits units.System
		target        string
		wantCode      int
		wantConverted float64
		wantSuffix    string
	}{
		{"explicit imperial temperature", units.Metric, "/api/convert?kind=temperature&value=100&units=imperial", http.StatusOK, 212, "°F"},
		{"settings imperial speed", units.Imperial, "/api/convert?kind=speed&value=100", http.StatusOK, 62, "mph"},
		{"metric distance", units.Metric, "/api/convert?kind=distance&value=12.34", http.StatusOK, 12.3, "km"},
		{"case-insensitive kind", units.Metric, "/api/convert?kind=Temperature&value=21.6", http.StatusOK, 22, "°C"},
		{"unknown kind", units.Metric, "/api/convert?kind=pressure&value=1", http.StatusBadRequest, 0, ""},
		{"bad value", units.Metric, "/api/convert?kind=speed&value=fast", http.StatusBadRequest, 0, ""},
		{"bad units", units.Metric, "/api/convert?kind=speed&value=1&units=nautical", http.StatusBadRequest, 0, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t, nil, RouterOptions{})
			env.settings.SetUnits(tc.settingsUnits)

			w := env.do(http.MethodGet, tc.target, "")

			if w.Code != tc.wantCode {
				t.Fatalf("status = %d, want %d", w.Code, tc.wantCode)
			}
			if tc.wantCode != http.StatusOK {
				if code := decodeErrorCode(t, w); code != CodeInvalidParameter {
					t.Errorf("error.code = %q, want %s", code, CodeInvalidParameter)
				}
				return
			}
			body := decodeJSON[struct {
				Converted float64 `json:"converted"`
				Suffix    string  `json:"suffix"`
			}](t, w)
			if body.Converted != tc.wantConverted || body.Suffix != tc.wantSuffix {
				t.Errorf("got %v%s, want %v%s", body.Converted, body.Suffix, tc.wantConverted, tc.wantSuffix)
			}
		})
	}
}

// TestHandler_GetCompass verifies bearing labels, including wrap-around.
func TestHandler_GetCompass(t *testing.T) {
	tests := []struct {
		degrees string
		want    string
	}{
		{"0", "N"},
		{"45", "NE"},
		{"200", "SSW"},
		{"350", "N"},
		{"-45", "NW"},
		{"720", "N"},
	}
	env := newTestEnv(t, nil, RouterOptions{})
	for _, tc := range tests {
		t.Run(tc.degrees, func(t *testing.T) {
			w := env.do(http.MethodGet, "/api/compass/"+tc.degrees, "")
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", w.Code)
			}
			body := decodeJSON[struct {
				Label string `json:"label"`
			}](t, w)
			if body.Label != tc.want {
				t.Errorf("Compass(%s) = %q, want %q", tc.degrees, body.Label, tc.want)
			}
		})
	}

	w := env.do(http.MethodGet, "/api/compass/north", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("non-numeric degrees: status = %d, want 400", w.Code)
	}
}
