package projector

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/filip-herceg/ReViewPoint-sub010/bus"
	"github.com/filip-herceg/ReViewPoint-sub010/event"
	"github.com/filip-herceg/ReViewPoint-sub010/metric"
)

// Store holds the projected state and folds events into it. Folds are
// applied in the order events arrive; the store is the single writer of its
// state and consumers read deep-copied snapshots.
type Store struct {
	logger  *slog.Logger
	metrics *metric.Metrics

	// now and newID are injected into reducers so folds stay pure.
	now   func() time.Time
	newID func() string

	mu      sync.Mutex
	state   State
	nextSub int
	subs    map[int]func(State)
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics enables projection metrics. A nil value disables them.
func WithMetrics(metrics *metric.Metrics) Option {
	return func(s *Store) {
		s.metrics = metrics
	}
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		logger: slog.Default(),
		now:    time.Now,
		newID:  uuid.NewString,
		state: State{
			Uploads: make(map[string]UploadProgress),
		},
		subs: make(map[int]func(State)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Attach registers the store on the bus for every known event type, so folds
// happen synchronously on the dispatch path, in arrival order.
func (s *Store) Attach(b *bus.Bus) []*bus.Subscription {
	return b.OnAll(s.Apply)
}

// Apply folds one event into the state and notifies subscribers when the
// state changed.
func (s *Store) Apply(ev event.Event) {
	if ev == nil {
		return
	}

	s.mu.Lock()
	next, changed := reduce(s.state, ev, s.now(), s.newID)
	if !changed {
		s.mu.Unlock()
		return
	}
	s.state = next
	s.recordGaugesLocked()
	snapshot := s.state.clone()
	subs := s.subscribersLocked()
	s.mu.Unlock()

	s.notify(snapshot, subs)
}

// State returns a deep-copied snapshot, safe to retain and mutate.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// Subscribe registers an observer invoked with a snapshot after every state
// change. The returned function removes the observer; it is idempotent.
func (s *Store) Subscribe(fn func(State)) func() {
	if fn == nil {
		return func() {}
	}

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// MarkNotificationRead marks one notification as read. Reports whether the
// id was found. Connection and upload state are never touched.
func (s *Store) MarkNotificationRead(id string) bool {
	return s.mutateNotifications(func(list []Notification) ([]Notification, bool) {
		for i := range list {
			if list[i].ID == id {
				if list[i].Read {
					return list, false
				}
				list[i].Read = true
				return list, true
			}
		}
		return list, false
	})
}

// RemoveNotification deletes one notification. Reports whether the id was
// found.
func (s *Store) RemoveNotification(id string) bool {
	return s.mutateNotifications(func(list []Notification) ([]Notification, bool) {
		for i := range list {
			if list[i].ID == id {
				return append(list[:i], list[i+1:]...), true
			}
		}
		return list, false
	})
}

// ClearNotifications removes every notification, persistent ones included.
func (s *Store) ClearNotifications() {
	s.mutateNotifications(func(list []Notification) ([]Notification, bool) {
		if len(list) == 0 {
			return list, false
		}
		return nil, true
	})
}

// mutateNotifications applies fn to a copy of the notification list and
// publishes the result when fn reports a change.
func (s *Store) mutateNotifications(fn func([]Notification) ([]Notification, bool)) bool {
	s.mu.Lock()
	list := append([]Notification(nil), s.state.Notifications...)
	list, changed := fn(list)
	if !changed {
		s.mu.Unlock()
		return false
	}
	s.state.Notifications = list
	s.recordGaugesLocked()
	snapshot := s.state.clone()
	subs := s.subscribersLocked()
	s.mu.Unlock()

	s.notify(snapshot, subs)
	return true
}

// subscribersLocked snapshots the observer set in registration order.
// Caller holds s.mu.
func (s *Store) subscribersLocked() []func(State) {
	if len(s.subs) == 0 {
		return nil
	}
	subs := make([]func(State), 0, len(s.subs))
	for id := 0; id < s.nextSub; id++ {
		if fn, ok := s.subs[id]; ok {
			subs = append(subs, fn)
		}
	}
	return subs
}

// notify delivers a snapshot to each observer. A panicking observer is
// recovered and logged so it cannot block the others.
func (s *Store) notify(snapshot State, subs []func(State)) {
	for _, fn := range subs {
		s.dispatch(snapshot.clone(), fn)
	}
}

func (s *Store) dispatch(snapshot State, fn func(State)) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("state observer panicked", "panic", r)
			if s.metrics != nil {
				s.metrics.RecordListenerPanic()
			}
		}
	}()
	fn(snapshot)
}

// recordGaugesLocked refreshes the projection gauges. Caller holds s.mu.
func (s *Store) recordGaugesLocked() {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordNotificationsActive(len(s.state.Notifications))

	active := 0
	for _, u := range s.state.Uploads {
		if !u.Terminal() {
			active++
		}
	}
	s.metrics.RecordUploadsActive(active)
}
