package traffic

import (
	"sync"
	"time"
)

// Outcome classifies a finished request for health and load accounting.
type Outcome int

const (
	// Success is a request served with data (including stale-cache fallbacks).
	Success Outcome = iota
	// Error is a request that failed upstream or timed out.
	Error
	// Denied is a request rejected by the inbound rate limiter.
	Denied
)

// Counts are outcome totals within a window.
type Counts struct {
	Success int
	Error   int
	Denied  int
}

// Total returns every outcome in the window.
func (c Counts) Total() int { return c.Success + c.Error + c.Denied }

// ErrorPct returns errors as a percentage of successes plus errors. Denials are excluded.
// Zero served requests yields 0.
func (c Counts) ErrorPct() int {
	served := c.Success + c.Error
	if served == 0 {
		return 0
	}
	return c.Error * 100 / served
}

// DefaultRetention bounds how far back any window may look.
const DefaultRetention = 5 * time.Minute

var defaultTracker = NewTracker(DefaultRetention)

// Record adds an outcome to the process-wide tracker.
func Record(o Outcome) { defaultTracker.Record(o) }

// RecordDenied records a rate-limit denial (429).
func RecordDenied() { defaultTracker.Record(Denied) }

// Window returns process-wide outcome counts within window.
func Window(window time.Duration) Counts { return defaultTracker.Window(window) }

// RequestCount returns the number of outcomes (success + error + denied) within the window.
func RequestCount(window time.Duration) int { return defaultTracker.Window(window).Total() }

// DenialCount returns the number of denials within the window.
func DenialCount(window time.Duration) int { return defaultTracker.Window(window).Denied }

// Reset clears all recorded outcomes. For tests only.
func Reset() { defaultTracker.Reset() }

type event struct {
	at      time.Time
	outcome Outcome
}

// Tracker keeps a time-ordered log of outcomes, pruned to its retention.
type Tracker struct {
	mu        sync.Mutex
	retention time.Duration
	events    []event
	now       func() time.Time
}

// NewTracker returns a Tracker that forgets outcomes older than retention.
func NewTracker(retention time.Duration) *Tracker {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Tracker{retention: retention, now: time.Now}
}

// Record appends an outcome at the current time.
func (t *Tracker) Record(o Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.events = append(t.events, event{at: now, outcome: o})
	t.pruneLocked(now)
}

// Window counts outcomes not older than window.
func (t *Tracker) Window(window time.Duration) Counts {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-window)
	var c Counts
	for i := len(t.events) - 1; i >= 0; i-- {
		e := t.events[i]
		if e.at.Before(cutoff) {
			break
		}
		switch e.outcome {
		case Success:
			c.Success++
		case Error:
			c.Error++
		case Denied:
			c.Denied++
		}
	}
	return c
}

// Reset clears all recorded outcomes.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = nil
}

// pruneLocked drops events older than retention. Must be called with mutex held.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-t.retention)
	i := 0
	for ; i < len(t.events) && t.events[i].at.Before(cutoff); i++ {
	}
	if i > 0 {
		t.events = append(t.events[:0], t.events[i:]...)
	}
}
