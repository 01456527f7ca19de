package http

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"

	"github.com/kjstillabower/airquality-dashboard/internal/observability"
)

func inFlightGauge(t *testing.T) float64 {
	t.Helper()
	var m dto.Metric
	if err := observability.HTTPRequestsInFlight.Write(&m); err != nil {
		t.Fatalf("read gauge: %v", err)
	}
	return m.GetGauge().GetValue()
}

// TestInFlightTracker_ConcurrentBalance verifies that matched increments and decrements from
// many goroutines net to zero.
func TestInFlightTracker_ConcurrentBalance(t *testing.T) {
	tracker := &InFlightTracker{}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tracker.Increment()
			tracker.Decrement()
		}()
	}
	wg.Wait()
	if got := tracker.Count(); got != 0 {
		t.Errorf("Count() = %d, want 0", got)
	}
}

// TestInFlightTracker_Gauge verifies that only a gauge-backed tracker moves the metric.
func TestInFlightTracker_Gauge(t *testing.T) {
	base := inFlightGauge(t)

	plain := &InFlightTracker{}
	plain.Increment()
	if got := inFlightGauge(t); got != base {
		t.Errorf("gauge moved for plain tracker: %v, want %v", got, base)
	}
	plain.Decrement()

	mirrored := &InFlightTracker{gauge: true}
	mirrored.Increment()
	mirrored.Increment()
	if got := inFlightGauge(t) - base; got != 2 {
		t.Errorf("gauge delta = %v, want 2", got)
	}
	mirrored.Decrement()
	mirrored.Decrement()
	if got := inFlightGauge(t); got != base {
		t.Errorf("gauge after drain = %v, want %v", got, base)
	}
}

// TestInFlightTracker_WaitForZero verifies that a drain wait ends when the last request does,
// and that an expired deadline ends it first.
func TestInFlightTracker_WaitForZero(t *testing.T) {
	t.Run("drains", func(t *testing.T) {
		tracker := &InFlightTracker{}
		tracker.Increment()
		go func() {
			time.Sleep(10 * time.Millisecond)
			tracker.Decrement()
		}()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := tracker.WaitForZero(ctx, 2*time.Millisecond); err != nil {
			t.Errorf("WaitForZero() = %v, want nil", err)
		}
	})

	t.Run("already idle", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := (&InFlightTracker{}).WaitForZero(ctx, time.Millisecond); err != nil {
			t.Errorf("WaitForZero() on idle tracker = %v, want nil", err)
		}
	})

	t.Run("deadline", func(t *testing.T) {
		tracker := &InFlightTracker{}
		tracker.Increment()
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		if err := tracker.WaitForZero(ctx, 5*time.Millisecond); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("WaitForZero() = %v, want context.DeadlineExceeded", err)
		}
	})
}
