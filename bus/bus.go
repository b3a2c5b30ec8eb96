// Package bus provides the typed publish/subscribe router that fans decoded
// events out to registered listeners.
//
// Dispatch is synchronous: Emit delivers to every listener registered for the
// event's type, in registration order, before returning. A listener that
// panics is recovered and logged without interrupting delivery to later
// listeners, so consumers stay isolated from one another.
package bus

import (
	"log/slog"
	"sync"

	"github.com/filip-herceg/ReViewPoint-sub010/event"
	"github.com/filip-herceg/ReViewPoint-sub010/metric"
)

// Listener handles one dispatched event. Listeners run synchronously on the
// emitting goroutine and must not block on I/O.
type Listener func(event.Event)

// Subscription is the handle returned by On. Unsubscribe removes the listener;
// it is safe to call more than once.
type Subscription struct {
	bus       *Bus
	eventType event.Type
	id        uint64
}

// Unsubscribe removes the listener from the bus.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.bus == nil {
		return
	}
	s.bus.remove(s.eventType, s.id)
	s.bus = nil
}

// registration pairs a listener with its ordering id.
type registration struct {
	id uint64
	fn Listener
}

// Bus routes typed events to listeners. The zero value is not usable; create
// instances with New.
type Bus struct {
	mu        sync.RWMutex
	listeners map[event.Type][]registration
	nextID    uint64

	logger  *slog.Logger
	metrics *metric.Metrics
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the structured logger used for listener panic reports.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithMetrics enables dispatch metrics. A nil metrics value disables them.
func WithMetrics(m *metric.Metrics) Option {
	return func(b *Bus) {
		b.metrics = m
	}
}

// New creates an event bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		listeners: make(map[event.Type][]registration),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// On registers a listener for one event type and returns its subscription
// handle. Multiple listeners per type are allowed; Emit invokes them in
// registration order.
func (b *Bus) On(eventType event.Type, fn Listener) *Subscription {
	if fn == nil {
		return &Subscription{}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.listeners[eventType] = append(b.listeners[eventType], registration{id: id, fn: fn})

	return &Subscription{bus: b, eventType: eventType, id: id}
}

// OnAll registers a listener for every known event type and returns the
// subscription handles in the same order as event.KnownTypes.
func (b *Bus) OnAll(fn Listener) []*Subscription {
	types := event.KnownTypes()
	subs := make([]*Subscription, 0, len(types))
	for _, t := range types {
		subs = append(subs, b.On(t, fn))
	}
	return subs
}

// Emit delivers the event to all listeners registered for its type,
// synchronously and in registration order. Nil events are ignored.
func (b *Bus) Emit(e event.Event) {
	if e == nil {
		return
	}

	b.mu.RLock()
	regs := b.listeners[e.EventType()]
	snapshot := make([]registration, len(regs))
	copy(snapshot, regs)
	b.mu.RUnlock()

	for _, reg := range snapshot {
		b.dispatch(reg, e)
	}

	if b.metrics != nil {
		b.metrics.RecordEventDispatched(e.EventType().String())
	}
}

// ListenerCount returns the number of listeners registered for a type.
func (b *Bus) ListenerCount(eventType event.Type) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners[eventType])
}

// dispatch invokes one listener, isolating its panics from the rest of the
// delivery pass.
func (b *Bus) dispatch(reg registration, e event.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event listener panicked",
				"event_type", e.EventType().String(),
				"panic", r)
			if b.metrics != nil {
				b.metrics.RecordListenerPanic()
			}
		}
	}()
	reg.fn(e)
}

// remove deletes one registration, preserving the order of the rest.
func (b *Bus) remove(eventType event.Type, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	regs := b.listeners[eventType]
	for i, reg := range regs {
		if reg.id == id {
			b.listeners[eventType] = append(regs[:i:i], regs[i+1:]...)
			return
		}
	}
}
