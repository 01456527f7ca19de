package store

import "sync"

// Toast is a transient user-facing notification.
type Toast struct {
	Kind    string `json:"kind"` // success, error, info
	Message string `json:"message"`
}

// UIState holds ephemeral view flags. It is never persisted.
type UIState struct {
	SidebarCollapsed bool   `json:"sidebarCollapsed"`
	ShowSearchModal  bool   `json:"showSearchModal"`
	ActiveModal      string `json:"activeModal,omitempty"`
	Toast            *Toast `json:"toast,omitempty"`
}

// UI is the transient view-state container; it resets to defaults on restart.
type UI struct {
	mu       sync.Mutex
	notifyMu sync.Mutex
	state    UIState
	obs      Observers[UIState]
}

// NewUI returns a UI container with default flags.
func NewUI() *UI {
	return &UI{}
}

// Snapshot returns a copy of the current state.
func (u *UI) Snapshot() UIState {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state.clone()
}

// Subscribe registers fn to receive the snapshot after each mutation.
func (u *UI) Subscribe(fn func(UIState)) func() {
	return u.obs.Subscribe(fn)
}

func (u *UI) ToggleSidebar() {
	u.mutate(func(s *UIState) { s.SidebarCollapsed = !s.SidebarCollapsed })
}

func (u *UI) SetSidebarCollapsed(collapsed bool) {
	u.mutate(func(s *UIState) { s.SidebarCollapsed = collapsed })
}

func (u *UI) SetShowSearchModal(show bool) {
	u.mutate(func(s *UIState) { s.ShowSearchModal = show })
}

func (u *UI) SetActiveModal(modal string) {
	u.mutate(func(s *UIState) { s.ActiveModal = modal })
}

func (u *UI) ShowToast(t Toast) {
	u.mutate(func(s *UIState) { s.Toast = &t })
}

func (u *UI) ClearToast() {
	u.mutate(func(s *UIState) { s.Toast = nil })
}

func (s UIState) clone() UIState {
	out := s
	if s.Toast != nil {
		t := *s.Toast
		out.Toast = &t
	}
	return out
}

func (u *UI) mutate(fn func(*UIState)) {
	u.notifyMu.Lock()
	defer u.notifyMu.Unlock()

	u.mu.Lock()
	fn(&u.state)
	snap := u.state.clone()
	u.mu.Unlock()
	u.obs.Notify(snap)
}
