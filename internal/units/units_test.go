package units

import "testing"

func TestTemperature(t *testing.T) {
	tests := []struct {
		name string
		in   float64
		sys  System
		want float64
	}{
		{"freezing imperial", 0, Imperial, 32},
		{"boiling imperial", 100, Imperial, 212},
		{"body temp imperial", 37, Imperial, 99},
		{"negative imperial", -40, Imperial, -40},
		{"metric rounds", 21.6, Metric, 22},
		{"metric half away from zero", 21.5, Metric, 22},
		{"metric negative", -3.5, Metric, -4},
		{"unknown system is metric", 12.4, System("kelvin"), 12},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Temperature(tt.in, tt.sys); got != tt.want {
				t.Errorf("Temperature(%v, %q) = %v, want %v", tt.in, tt.sys, got, tt.want)
			}
		})
	}
}

func TestSpeedAndDistance(t *testing.T) {
	if got := Speed(100, Imperial); got != 62 {
		t.Errorf("Speed(100, imperial) = %v, want 62", got)
	}
	if got := Speed(12.7, Metric); got != 13 {
		t.Errorf("Speed(12.7, metric) = %v, want 13", got)
	}
	if got := Distance(10, Imperial); got != 6.2 {
		t.Errorf("Distance(10, imperial) = %v, want 6.2", got)
	}
	if got := Distance(8.26, Metric); got != 8.3 {
		t.Errorf("Distance(8.26, metric) = %v, want 8.3", got)
	}
}

func TestConvert(t *testing.T) {
	if got := Convert(KindTemperature, 100, Imperial); got != 212 {
		t.Errorf("Convert(temperature) = %v, want 212", got)
	}
	if got := Convert(Kind("pressure"), 1013.2, Imperial); got != 1013.2 {
		t.Errorf("Convert(unknown) = %v, want unchanged", got)
	}
}

func TestSuffix(t *testing.T) {
	tests := []struct {
		kind Kind
		sys  System
		want string
	}{
		{KindTemperature, Metric, "°C"},
		{KindTemperature, Imperial, "°F"},
		{KindSpeed, Metric, "km/h"},
		{KindSpeed, Imperial, "mph"},
		{KindDistance, Metric, "km"},
		{KindDistance, Imperial, "mi"},
		{Kind("other"), Metric, ""},
	}
	for _, tt := range tests {
		if got := Suffix(tt.kind, tt.sys); got != tt.want {
			t.Errorf("Suffix(%q, %q) = %q, want %q", tt.kind, tt.sys, got, tt.want)
		}
	}
}

func TestParseSystemAndKind(t *testing.T) {
	if s, ok := ParseSystem(" Imperial "); !ok || s != Imperial {
		t.Errorf("ParseSystem(Imperial) = %q, %v", s, ok)
	}
	if _, ok := ParseSystem("nautical"); ok {
		t.Error("ParseSystem(nautical) ok = true, want false")
	}
	if k, ok := ParseKind("SPEED"); !ok || k != KindSpeed {
		t.Errorf("ParseKind(SPEED) = %q, %v", k, ok)
	}
	if _, ok := ParseKind(""); ok {
		t.Error("ParseKind(empty) ok = true, want false")
	}
}
