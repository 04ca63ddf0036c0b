package viewstate

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Listener receives every published snapshot.
type Listener func(State)

type subscription struct {
	id uint64
	fn Listener
}

// Store owns the view state. All mutation goes through its methods; each
// mutation publishes a new snapshot to every subscriber synchronously, in
// subscription order, before the mutating call returns.
//
// Listeners may call State but must not mutate the store: delivery holds
// the store's write lock.
type Store struct {
	logger *slog.Logger

	// mu serializes mutations together with their broadcast.
	mu        sync.Mutex
	snapshot  atomic.Pointer[State]
	listeners []subscription
	nextID    uint64
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger for view switches.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewStore creates a store showing the data view with both sub-states empty.
func NewStore(opts ...Option) *Store {
	s := &Store{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(s)
	}
	s.snapshot.Store(&State{CurrentView: ViewData})
	return s
}

// State returns the current snapshot.
func (s *Store) State() State {
	return *s.snapshot.Load()
}

// Subscribe registers a listener. The returned function unsubscribes it and
// is safe to call more than once.
func (s *Store) Subscribe(fn Listener) (unsubscribe func()) {
	if fn == nil {
		panic("viewstate: nil listener")
	}

	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, subscription{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, sub := range s.listeners {
				if sub.id == id {
					// Copy so a broadcast iterating the old slice is unaffected.
					next := make([]subscription, 0, len(s.listeners)-1)
					next = append(next, s.listeners[:i]...)
					s.listeners = append(next, s.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// UpdateDataView applies fn to a private copy of the data view and
// publishes the result. fn never sees the dashboard view, and the current
// view is never changed.
func (s *Store) UpdateDataView(fn func(*DataView)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.snapshot.Load()
	dv := prev.DataView.clone()
	fn(&dv)

	next := *prev
	next.DataView = dv
	s.publishLocked(&next)
}

// UpdateDashboardView applies fn to a private copy of the dashboard view and
// publishes the result. fn never sees the data view. When autoSwitch is set
// and the update introduces a new chart while the data view is showing, the
// current view switches to the dashboard.
func (s *Store) UpdateDashboardView(fn func(*DashboardView), autoSwitch bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.snapshot.Load()
	dv := prev.DashboardView.clone()
	fn(&dv)

	next := *prev
	next.DashboardView = dv
	if autoSwitch && prev.CurrentView == ViewData && introducesChart(prev.DashboardView, dv) {
		next.CurrentView = ViewDashboard
		s.logger.Debug("auto-switched view", "view", ViewDashboard)
	}
	s.publishLocked(&next)
}

// SwitchView changes the current view. Switching to the view already
// showing still publishes a snapshot. An unknown view panics.
func (s *Store) SwitchView(v View) {
	if !v.Valid() {
		panic(fmt.Sprintf("viewstate: unknown view %q", v))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := *s.snapshot.Load()
	next.CurrentView = v
	s.publishLocked(&next)
}

// ResetDataView clears the data view.
func (s *Store) ResetDataView() {
	s.UpdateDataView(func(d *DataView) { *d = DataView{} })
}

// ResetDashboardView clears the dashboard view. The current view is kept.
func (s *Store) ResetDashboardView() {
	s.UpdateDashboardView(func(d *DashboardView) { *d = DashboardView{} }, false)
}

// publishLocked stores next as the current snapshot and delivers it.
// Caller must hold s.mu.
func (s *Store) publishLocked(next *State) {
	next.Version = s.snapshot.Load().Version + 1
	s.snapshot.Store(next)

	snap := *next
	for _, sub := range s.listeners {
		sub.fn(snap)
	}
}
