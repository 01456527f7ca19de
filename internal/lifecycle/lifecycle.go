package lifecycle

import (
	"sync/atomic"
	"time"

	"github.com/kjstillabower/airquality-dashboard/internal/traffic"
)

var shuttingDown atomic.Bool

// SetShuttingDown sets the shutdown flag. Call when SIGTERM/SIGINT received.
// Health reports shutting-down while true.
func SetShuttingDown(v bool) {
	shuttingDown.Store(v)
}

// IsShuttingDown returns true if the process is draining and should not receive new traffic.
func IsShuttingDown() bool {
	return shuttingDown.Load()
}

// Status is the health state reported by /health.
type Status string

const (
	StatusHealthy      Status = "healthy"
	StatusDegraded     Status = "degraded"
	StatusShuttingDown Status = "shutting-down"
)

// Policy decides when the service counts as degraded.
type Policy struct {
	// Window is the look-back for outcome counts.
	Window time.Duration
	// ErrorPct at or above which the service is degraded.
	ErrorPct int
	// MinRequests below which error rate is ignored, so a single failure at idle does not flip health.
	MinRequests int
}

// Evaluate returns the current status and the counts it was derived from. Shutdown wins over
// error rate. Degraded still serves traffic; it reflects an unstable upstream.
func (p Policy) Evaluate() (Status, traffic.Counts) {
	counts := traffic.Window(p.Window)
	if IsShuttingDown() {
		return StatusShuttingDown, counts
	}
	if p.ErrorPct > 0 && counts.Success+counts.Error >= p.MinRequests && counts.ErrorPct() >= p.ErrorPct {
		return StatusDegraded, counts
	}
	return StatusHealthy, counts
}
