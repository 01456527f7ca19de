package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/airquality-dashboard/internal/observability"
	"github.com/kjstillabower/airquality-dashboard/internal/service"
	"github.com/kjstillabower/airquality-dashboard/internal/store"
)

const (
	dispatchQueueSize = 64
	// fingerprintRetention bounds how long a dispatched alert suppresses a repeat.
	fingerprintRetention = 24 * time.Hour
	publishTimeout       = 10 * time.Second
)

// ChannelSource reports the notification channels the user has enabled.
type ChannelSource interface {
	Snapshot() store.SettingsState
}

// Dispatcher publishes each newly derived alert once per enabled channel. An alert is new on
// a channel when its fingerprint (kind, AQI and source timestamp) at that location has not
// been delivered there, so re-derivations of the same condition are not republished.
type Dispatcher struct {
	publisher Publisher
	settings  ChannelSource
	logger    *zap.Logger
	now       func() time.Time

	queue chan service.DashboardSnapshot

	mu   sync.Mutex
	sent map[string]time.Time // location|fingerprint|channel
}

// NewDispatcher creates a Dispatcher. Call Run to process snapshots queued by Attach.
func NewDispatcher(p Publisher, settings ChannelSource, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		publisher: p,
		settings:  settings,
		logger:    logger,
		now:       time.Now,
		queue:     make(chan service.DashboardSnapshot, dispatchQueueSize),
		sent:      make(map[string]time.Time),
	}
}

// Attach subscribes to dashboard snapshots. Snapshots are queued without blocking the
// dashboard; when the queue is full the snapshot is dropped, and its alerts are picked up
// by the next one since they stay derived while their condition holds.
func (d *Dispatcher) Attach(dash *service.Dashboard) (unsubscribe func()) {
	return dash.Subscribe(func(s service.DashboardSnapshot) {
		if s.Loading || len(s.Alerts) == 0 {
			return
		}
		select {
		case d.queue <- s:
		default:
			d.logger.Warn("notification queue full, dropping snapshot")
		}
	})
}

// Run dispatches queued snapshots until ctx is done, then drains what is already queued.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			d.drain()
			return ctx.Err()
		case s := <-d.queue:
			d.dispatchLogged(context.Background(), s)
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case s := <-d.queue:
			d.dispatchLogged(context.Background(), s)
		default:
			return
		}
	}
}

func (d *Dispatcher) dispatchLogged(ctx context.Context, s service.DashboardSnapshot) {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := d.Dispatch(ctx, s); err != nil {
		d.logger.Warn("alert dispatch failed", zap.Error(err))
	}
}

// Dispatch publishes the snapshot's new alerts to every enabled channel and returns the
// joined publish errors. Delivery is tracked per channel, so after a partial failure the next
// snapshot retries only the channels that rejected the alert.
func (d *Dispatcher) Dispatch(ctx context.Context, s service.DashboardSnapshot) error {
	if s.Location == nil || len(s.Alerts) == 0 {
		return nil
	}
	channels := d.settings.Snapshot().Notifications.Channels()
	if len(channels) == 0 {
		return nil
	}

	now := d.now()
	d.prune(now)

	var errs []error
	for _, a := range s.Alerts {
		prefix := s.Location.ID + "|" + a.Fingerprint() + "|"
		var delivered []string
		for _, ch := range channels {
			key := prefix + ch
			if d.wasSent(key) {
				continue
			}
			err := d.publisher.Publish(ctx, NewMessage(a, *s.Location, ch, now))
			result := "success"
			if err != nil {
				result = "error"
				errs = append(errs, err)
			} else {
				d.markSent(key, now)
				delivered = append(delivered, ch)
			}
			observability.NotificationsTotal.WithLabelValues(d.publisher.Name(), ch, result).Inc()
		}
		if len(delivered) > 0 {
			d.logger.Debug("alert dispatched", zap.String("alert_id", a.ID), zap.Strings("channels", delivered))
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) wasSent(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.sent[key]
	return ok
}

func (d *Dispatcher) markSent(key string, at time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent[key] = at
}

func (d *Dispatcher) prune(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for k, at := range d.sent {
		if now.Sub(at) > fingerprintRetention {
			delete(d.sent, k)
		}
	}
}
