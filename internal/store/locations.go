package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kjstillabower/airquality-dashboard/internal/models"
	"github.com/kjstillabower/airquality-dashboard/internal/observability"
)

// SavedLocation is a user-saved place.
type SavedLocation struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	CustomName string    `json:"customName,omitempty"`
	Lat        float64   `json:"lat"`
	Lon        float64   `json:"lon"`
	IsPrimary  bool      `json:"isPrimary"`
	AddedAt    time.Time `json:"addedAt"`
}

// Coordinates returns the location's point.
func (l SavedLocation) Coordinates() models.Coordinates {
	return models.Coordinates{Lat: l.Lat, Lon: l.Lon}
}

// DisplayName prefers the user's custom name.
func (l SavedLocation) DisplayName() string {
	if l.CustomName != "" {
		return l.CustomName
	}
	return l.Name
}

// NewLocation holds the caller-supplied fields of a location being added.
type NewLocation struct {
	Name       string  `json:"name"`
	CustomName string  `json:"customName,omitempty"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
}

// LocationPatch is a partial update; nil fields are left unchanged.
type LocationPatch struct {
	Name       *string  `json:"name,omitempty"`
	CustomName *string  `json:"customName,omitempty"`
	Lat        *float64 `json:"lat,omitempty"`
	Lon        *float64 `json:"lon,omitempty"`
}

// LocationsState is the full snapshot of the Locations container.
type LocationsState struct {
	Saved   []SavedLocation `json:"savedLocations"`
	Current *SavedLocation  `json:"currentLocation"`
}

func (s LocationsState) clone() LocationsState {
	out := LocationsState{Saved: make([]SavedLocation, len(s.Saved))}
	copy(out.Saved, s.Saved)
	if s.Current != nil {
		c := *s.Current
		out.Current = &c
	}
	return out
}

// DefaultLocations returns the seed state: San Francisco as the primary location.
func DefaultLocations() LocationsState {
	return LocationsState{
		Saved: []SavedLocation{{
			ID:         "default",
			Name:       "San Francisco",
			CustomName: "Home",
			Lat:        37.7749,
			Lon:        -122.4194,
			IsPrimary:  true,
			AddedAt:    time.Now().UTC(),
		}},
	}
}

// Locations owns the saved-location list and the currently viewed location.
// All mutations persist the full snapshot and then notify subscribers.
type Locations struct {
	mu       sync.Mutex
	notifyMu sync.Mutex
	state    LocationsState
	obs      Observers[LocationsState]
	persist  *persister
	now      func() time.Time
}

// NewLocations rehydrates the container from storage over the default seed.
// A nil storage yields an unpersisted container.
func NewLocations(ctx context.Context, storage Storage, logger *zap.Logger) *Locations {
	l := &Locations{
		state:   DefaultLocations(),
		persist: &persister{storage: storage, key: LocationsKey, logger: logger},
		now:     func() time.Time { return time.Now().UTC() },
	}
	var saved struct {
		Saved   *[]SavedLocation `json:"savedLocations"`
		Current *SavedLocation   `json:"currentLocation"`
	}
	if l.persist.restore(ctx, &saved) {
		if saved.Saved != nil {
			l.state.Saved = *saved.Saved
		}
		l.state.Current = saved.Current
	}
	return l
}

// Snapshot returns a copy of the current state.
func (l *Locations) Snapshot() LocationsState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.clone()
}

// Subscribe registers fn to receive the snapshot after each mutation.
func (l *Locations) Subscribe(fn func(LocationsState)) func() {
	return l.obs.Subscribe(fn)
}

// Primary returns the primary saved location, if any.
func (l *Locations) Primary() (SavedLocation, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, loc := range l.state.Saved {
		if loc.IsPrimary {
			return loc, true
		}
	}
	return SavedLocation{}, false
}

// Get returns the saved location with id.
func (l *Locations) Get(id string) (SavedLocation, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, loc := range l.state.Saved {
		if loc.ID == id {
			return loc, true
		}
	}
	return SavedLocation{}, false
}

// Add appends a location. It becomes primary only when the list was empty.
func (l *Locations) Add(in NewLocation) SavedLocation {
	var added SavedLocation
	l.mutate("add", func(s *LocationsState) {
		now := l.now()
		added = SavedLocation{
			ID:         newLocationID(now),
			Name:       in.Name,
			CustomName: in.CustomName,
			Lat:        in.Lat,
			Lon:        in.Lon,
			IsPrimary:  len(s.Saved) == 0,
			AddedAt:    now,
		}
		s.Saved = append(s.Saved, added)
	})
	return added
}

// Remove deletes the location with id. Removing the last location is allowed. When the
// removed entry was primary and others remain, the first remaining entry becomes primary.
func (l *Locations) Remove(id string) {
	l.mutate("remove", func(s *LocationsState) {
		kept := make([]SavedLocation, 0, len(s.Saved))
		removedPrimary := false
		for _, loc := range s.Saved {
			if loc.ID == id {
				removedPrimary = removedPrimary || loc.IsPrimary
				continue
			}
			kept = append(kept, loc)
		}
		if removedPrimary && len(kept) > 0 {
			kept[0].IsPrimary = true
		}
		s.Saved = kept
	})
}

// Update applies patch to the location with id. Unknown ids are a no-op.
func (l *Locations) Update(id string, patch LocationPatch) {
	l.mutate("update", func(s *LocationsState) {
		for i := range s.Saved {
			if s.Saved[i].ID != id {
				continue
			}
			loc := &s.Saved[i]
			if patch.Name != nil {
				loc.Name = *patch.Name
			}
			if patch.CustomName != nil {
				loc.CustomName = *patch.CustomName
			}
			if patch.Lat != nil {
				loc.Lat = *patch.Lat
			}
			if patch.Lon != nil {
				loc.Lon = *patch.Lon
			}
		}
	})
}

// SetPrimary marks id as the only primary location. An unknown id clears every primary flag,
// matching a plain map over the list.
func (l *Locations) SetPrimary(id string) {
	l.mutate("set_primary", func(s *LocationsState) {
		for i := range s.Saved {
			s.Saved[i].IsPrimary = s.Saved[i].ID == id
		}
	})
}

// SetCurrent records the currently viewed location. It need not be in the saved list; nil clears it.
func (l *Locations) SetCurrent(loc *SavedLocation) {
	l.mutate("set_current", func(s *LocationsState) {
		if loc == nil {
			s.Current = nil
			return
		}
		c := *loc
		s.Current = &c
	})
}

func (l *Locations) mutate(op string, fn func(*LocationsState)) {
	// notifyMu spans the write and its delivery so subscribers see mutations in order.
	// mu is never held while waiting on it, so Snapshot stays available.
	l.notifyMu.Lock()
	defer l.notifyMu.Unlock()

	l.mu.Lock()
	fn(&l.state)
	snap := l.state.clone()
	l.persist.save(snap)
	l.mu.Unlock()

	observability.StoreMutationsTotal.WithLabelValues(LocationsKey, op).Inc()
	l.obs.Notify(snap)
}

// newLocationID is timestamp-derived; the random suffix keeps ids unique within a millisecond.
func newLocationID(now time.Time) string {
	return fmt.Sprintf("loc_%d_%s", now.UnixMilli(), uuid.NewString()[:8])
}
