package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/airquality-dashboard/internal/alerts"
	"github.com/kjstillabower/airquality-dashboard/internal/models"
	"github.com/kjstillabower/airquality-dashboard/internal/observability"
	"github.com/kjstillabower/airquality-dashboard/internal/store"
)

// Fetcher is the subset of AirQualityService the dashboard loads from.
type Fetcher interface {
	GetCurrent(ctx context.Context, at models.Coordinates, name string) (models.Current, error)
	GetForecast(ctx context.Context, at models.Coordinates, hours int) (models.Forecast, error)
}

// DashboardSnapshot is the display state of the currently viewed location. Pointer fields
// are replaced, never mutated, so snapshots may share them.
type DashboardSnapshot struct {
	Location  *store.SavedLocation `json:"location"`
	Current   *models.Current      `json:"current"`
	Forecast  *models.Forecast     `json:"forecast"`
	Alerts    []alerts.Alert       `json:"alerts"`
	Threshold int                  `json:"threshold"`
	Loading   bool                 `json:"loading"`
	Error     string               `json:"error,omitempty"`
	UpdatedAt time.Time            `json:"updatedAt"`
}

func (s DashboardSnapshot) clone() DashboardSnapshot {
	out := s
	out.Alerts = append([]alerts.Alert(nil), s.Alerts...)
	if out.Alerts == nil {
		out.Alerts = []alerts.Alert{}
	}
	return out
}

// DashboardOptions configures a Dashboard.
type DashboardOptions struct {
	// ForecastHours requested per load; 0 uses DefaultForecastHours.
	ForecastHours int
	// LoadTimeout bounds one load; 0 means 30s.
	LoadTimeout time.Duration
	Logger      *zap.Logger
}

// Dashboard projects the Locations and Settings containers onto loaded data for the location
// being viewed: the current location when set, otherwise the primary one. A location change
// cancels the previous load, and a generation counter keeps a late result from overwriting
// a newer location. A threshold change re-derives alerts from held data without refetching.
type Dashboard struct {
	fetcher       Fetcher
	locations     *store.Locations
	settings      *store.Settings
	logger        *zap.Logger
	forecastHours int
	loadTimeout   time.Duration
	now           func() time.Time

	mu     sync.Mutex
	snap   DashboardSnapshot
	gen    uint64
	cancel context.CancelFunc
	base   context.Context
	unsubs []func()
	wg     sync.WaitGroup

	// notifyMu orders notifications the same as the state changes they report.
	notifyMu sync.Mutex
	obs      store.Observers[DashboardSnapshot]
}

// NewDashboard creates a Dashboard. Call Start to begin tracking the stores.
func NewDashboard(fetcher Fetcher, locations *store.Locations, settings *store.Settings, opts DashboardOptions) *Dashboard {
	if opts.ForecastHours <= 0 {
		opts.ForecastHours = DefaultForecastHours
	}
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Dashboard{
		fetcher:       fetcher,
		locations:     locations,
		settings:      settings,
		logger:        opts.Logger,
		forecastHours: opts.ForecastHours,
		loadTimeout:   opts.LoadTimeout,
		now:           time.Now,
		snap:          DashboardSnapshot{Alerts: []alerts.Alert{}},
	}
}

// Start subscribes to the stores and loads the initial location. Loads run on contexts
// derived from ctx.
func (d *Dashboard) Start(ctx context.Context) {
	d.mu.Lock()
	d.base = ctx
	d.snap.Threshold = d.settings.Snapshot().AlertThreshold
	d.unsubs = append(d.unsubs,
		d.locations.Subscribe(d.onLocations),
		d.settings.Subscribe(d.onSettings),
	)
	d.mu.Unlock()

	d.load(effectiveLocation(d.locations.Snapshot()))
}

// Stop unsubscribes, cancels any in-flight load and waits for it to exit.
func (d *Dashboard) Stop() {
	d.mu.Lock()
	for _, u := range d.unsubs {
		u()
	}
	d.unsubs = nil
	d.gen++
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.mu.Unlock()
	d.wg.Wait()
}

// Refresh reloads the viewed location. Data still fresh in the service cache is reused.
func (d *Dashboard) Refresh() {
	d.load(effectiveLocation(d.locations.Snapshot()))
}

// WaitIdle blocks until no load is in flight.
func (d *Dashboard) WaitIdle() {
	d.wg.Wait()
}

// Snapshot returns the current display state.
func (d *Dashboard) Snapshot() DashboardSnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snap.clone()
}

// Subscribe registers fn to receive every new snapshot. fn must not call Refresh synchronously.
func (d *Dashboard) Subscribe(fn func(DashboardSnapshot)) func() {
	return d.obs.Subscribe(fn)
}

func effectiveLocation(s store.LocationsState) *store.SavedLocation {
	if s.Current != nil {
		c := *s.Current
		return &c
	}
	for _, loc := range s.Saved {
		if loc.IsPrimary {
			l := loc
			return &l
		}
	}
	return nil
}

func sameLocation(a, b *store.SavedLocation) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.ID == b.ID && a.Lat == b.Lat && a.Lon == b.Lon
}

func (d *Dashboard) onLocations(s store.LocationsState) {
	next := effectiveLocation(s)
	d.mu.Lock()
	unchanged := sameLocation(d.snap.Location, next)
	if unchanged && next != nil {
		// Renames keep the loaded data.
		d.snap.Location = next
	}
	d.mu.Unlock()
	if !unchanged {
		d.load(next)
	}
}

func (d *Dashboard) onSettings(s store.SettingsState) {
	d.mu.Lock()
	if s.AlertThreshold == d.snap.Threshold {
		d.mu.Unlock()
		return
	}
	d.snap.Threshold = s.AlertThreshold
	if !d.snap.Loading {
		d.snap.Alerts = d.derive(d.snap.Current, d.snap.Forecast, s.AlertThreshold)
		d.snap.UpdatedAt = d.now()
	}
	d.publishLocked()
}

// publishLocked notifies subscribers of the current state and releases d.mu.
func (d *Dashboard) publishLocked() {
	snap := d.snap.clone()
	d.notifyMu.Lock()
	d.mu.Unlock()
	d.obs.Notify(snap)
	d.notifyMu.Unlock()
}

func (d *Dashboard) load(loc *store.SavedLocation) {
	d.mu.Lock()
	d.gen++
	gen := d.gen
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.snap.Location = loc
	d.snap.Current = nil
	d.snap.Forecast = nil
	d.snap.Alerts = []alerts.Alert{}
	d.snap.Error = ""
	d.snap.UpdatedAt = d.now()
	if loc == nil || d.base == nil {
		d.snap.Loading = false
		d.publishLocked()
		return
	}
	ctx, cancel := context.WithTimeout(d.base, d.loadTimeout)
	d.cancel = cancel
	d.snap.Loading = true
	d.wg.Add(1)
	d.publishLocked()

	go func() {
		defer d.wg.Done()
		defer cancel()
		d.fetch(ctx, gen, *loc)
	}()
}

func (d *Dashboard) fetch(ctx context.Context, gen uint64, loc store.SavedLocation) {
	at := loc.Coordinates()
	var (
		cur           models.Current
		fc            models.Forecast
		curErr, fcErr error
		wg            sync.WaitGroup
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		cur, curErr = d.fetcher.GetCurrent(ctx, at, loc.DisplayName())
	}()
	go func() {
		defer wg.Done()
		fc, fcErr = d.fetcher.GetForecast(ctx, at, d.forecastHours)
	}()
	wg.Wait()

	d.mu.Lock()
	if gen != d.gen {
		d.mu.Unlock()
		d.logger.Debug("discarding superseded dashboard load", zap.String("location_id", loc.ID))
		return
	}
	d.cancel = nil
	d.snap.Loading = false
	d.snap.Current, d.snap.Forecast = nil, nil
	if curErr == nil {
		d.snap.Current = &cur
	}
	if fcErr == nil {
		d.snap.Forecast = &fc
	}
	if err := errors.Join(curErr, fcErr); err != nil {
		d.snap.Error = err.Error()
		d.logger.Warn("dashboard load failed", zap.String("location_id", loc.ID), zap.Error(err))
	}
	d.snap.Alerts = d.derive(d.snap.Current, d.snap.Forecast, d.snap.Threshold)
	d.snap.UpdatedAt = d.now()
	d.publishLocked()
}

func (d *Dashboard) derive(cur *models.Current, fc *models.Forecast, threshold int) []alerts.Alert {
	var points []models.ForecastPoint
	if fc != nil {
		points = fc.Points
	}
	out := alerts.Derive(alerts.FromCurrent(cur), points, threshold, d.now())
	for _, a := range out {
		observability.AlertsDerivedTotal.WithLabelValues(string(a.Kind), string(a.Severity)).Inc()
	}
	return out
}
