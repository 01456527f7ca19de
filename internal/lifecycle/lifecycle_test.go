package lifecycle

import (
	"testing"
	"time"

	"github.com/kjstillabower/airquality-dashboard/internal/traffic"
)

func TestIsShuttingDown_DefaultFalse(t *testing.T) {
	SetShuttingDown(false)
	if IsShuttingDown() {
		t.Error("IsShuttingDown() = true, want false by default")
	}
}

func TestSetShuttingDown_True(t *testing.T) {
	SetShuttingDown(true)
	defer SetShuttingDown(false)
	if !IsShuttingDown() {
		t.Error("IsShuttingDown() = false after SetShuttingDown(true), want true")
	}
}

func TestSetShuttingDown_False(t *testing.T) {
	SetShuttingDown(true)
	SetShuttingDown(false)
	if IsShuttingDown() {
		t.Error("IsShuttingDown() = true after SetShuttingDown(false), want false")
	}
}

// TestPolicy_Evaluate verifies the status derived from shutdown state and error rate.
func TestPolicy_Evaluate(t *testing.T) {
	p := Policy{Window: time.Minute, ErrorPct: 50, MinRequests: 4}
	tests := []struct {
		name     string
		success  int
		errors   int
		shutdown bool
		want     Status
	}{
		{"idle", 0, 0, false, StatusHealthy},
		{"below min requests", 0, 3, false, StatusHealthy},
		{"low error rate", 3, 1, false, StatusHealthy},
		{"high error rate", 2, 2, false, StatusDegraded},
		{"shutdown wins", 0, 4, true, StatusShuttingDown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			traffic.Reset()
			defer traffic.Reset()
			SetShuttingDown(tt.shutdown)
			defer SetShuttingDown(false)
			for i := 0; i < tt.success; i++ {
				traffic.Record(traffic.Success)
			}
			for i := 0; i < tt.errors; i++ {
				traffic.Record(traffic.Error)
			}
			got, counts := p.Evaluate()
			if got != tt.want {
				t.Errorf("Evaluate() = %q (%+v), want %q", got, counts, tt.want)
			}
		})
	}
}

// TestPolicy_DisabledErrorPct verifies that a zero ErrorPct never reports degraded.
func TestPolicy_DisabledErrorPct(t *testing.T) {
	traffic.Reset()
	defer traffic.Reset()
	traffic.Record(traffic.Error)
	if got, _ := (Policy{Window: time.Minute}).Evaluate(); got != StatusHealthy {
		t.Errorf("Evaluate() = %q, want healthy", got)
	}
}
