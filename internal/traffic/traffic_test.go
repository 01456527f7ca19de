package traffic

import (
	"testing"
	"time"
)

// TestRequestCount_Empty verifies that RequestCount returns 0 when no
// requests have been recorded within the time window.
func TestRequestCount_Empty(t *testing.T) {
	Reset()
	if n := RequestCount(1 * time.Minute); n != 0 {
		t.Errorf("RequestCount() = %d, want 0", n)
	}
}

// TestRecord_AndRequestCount verifies that every outcome counts toward RequestCount.
func TestRecord_AndRequestCount(t *testing.T) {
	Reset()
	Record(Success)
	Record(Error)
	RecordDenied()
	if n := RequestCount(1 * time.Minute); n != 3 {
		t.Errorf("RequestCount() = %d, want 3", n)
	}
	if n := DenialCount(1 * time.Minute); n != 1 {
		t.Errorf("DenialCount() = %d, want 1", n)
	}
}

// TestWindow_ExpiresOutsideWindow verifies that outcomes older than the window are excluded.
func TestWindow_ExpiresOutsideWindow(t *testing.T) {
	tr := NewTracker(time.Hour)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return now }

	tr.Record(Success)
	now = now.Add(2 * time.Minute)
	tr.Record(Error)

	if c := tr.Window(time.Minute); c.Success != 0 || c.Error != 1 {
		t.Errorf("Window(1m) = %+v, want only the error", c)
	}
	if c := tr.Window(5 * time.Minute); c.Total() != 2 {
		t.Errorf("Window(5m).Total() = %d, want 2", c.Total())
	}
}

// TestTracker_PrunesPastRetention verifies that outcomes older than retention are forgotten
// even for wide windows.
func TestTracker_PrunesPastRetention(t *testing.T) {
	tr := NewTracker(time.Minute)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return now }

	tr.Record(Success)
	now = now.Add(2 * time.Minute)
	tr.Record(Success)

	if c := tr.Window(time.Hour); c.Success != 1 {
		t.Errorf("Window(1h).Success = %d, want 1 after pruning", c.Success)
	}
}

// TestCounts_ErrorPct verifies that denials are excluded from the error percentage.
func TestCounts_ErrorPct(t *testing.T) {
	tests := []struct {
		c    Counts
		want int
	}{
		{Counts{}, 0},
		{Counts{Success: 3, Error: 1}, 25},
		{Counts{Success: 1, Error: 1, Denied: 10}, 50},
		{Counts{Denied: 5}, 0},
		{Counts{Error: 2}, 100},
	}
	for _, tt := range tests {
		if got := tt.c.ErrorPct(); got != tt.want {
			t.Errorf("%+v.ErrorPct() = %d, want %d", tt.c, got, tt.want)
		}
	}
}

// TestReset verifies that Reset clears all recorded outcomes.
func TestReset(t *testing.T) {
	Reset()
	Record(Success)
	RecordDenied()
	Reset()
	if c := Window(time.Minute); c.Total() != 0 {
		t.Errorf("After Reset, Window() = %+v, want zero", c)
	}
}
