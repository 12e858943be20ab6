package dispatch

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Event is one emission: the event name and its payload.
type Event struct {
	Name string
	Data any
}

// Handler receives events.
type Handler func(Event)

// Subscriber is the registration surface exposed to consumers that should
// not depend on the connection manager itself.
type Subscriber interface {
	On(event string, h Handler) Subscription
	Off(event string, subs ...Subscription)
}

// Subscription identifies one registration.
type Subscription struct {
	event string
	id    uint64
	d     *Dispatcher
}

// Event returns the event name the subscription is registered for.
func (s Subscription) Event() string { return s.event }

// Unsubscribe removes exactly this registration. Safe to call more than once.
func (s Subscription) Unsubscribe() {
	if s.d == nil {
		return
	}
	s.d.Off(s.event, s)
}

type entry struct {
	id uint64
	h  Handler
}

// Dispatcher routes named events to handlers.
type Dispatcher struct {
	logger *slog.Logger

	mu       sync.RWMutex
	handlers map[string][]entry
	nextID   uint64

	panics atomic.Int64
}

// New creates an empty dispatcher.
func New(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		logger:   logger,
		handlers: make(map[string][]entry),
	}
}

// On registers h for event. Nil handlers are ignored.
func (d *Dispatcher) On(event string, h Handler) Subscription {
	if h == nil {
		return Subscription{}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	id := d.nextID
	d.handlers[event] = append(d.handlers[event], entry{id: id, h: h})
	return Subscription{event: event, id: id, d: d}
}

// Off removes the given registrations from event. With no subscriptions it
// removes every handler registered for event.
func (d *Dispatcher) Off(event string, subs ...Subscription) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(subs) == 0 {
		delete(d.handlers, event)
		return
	}

	current := d.handlers[event]
	if len(current) == 0 {
		return
	}

	// Copy so an in-flight Emit keeps iterating its own snapshot.
	kept := make([]entry, 0, len(current))
	for _, e := range current {
		if !matches(e.id, event, d, subs) {
			kept = append(kept, e)
		}
	}
	if len(kept) == 0 {
		delete(d.handlers, event)
		return
	}
	d.handlers[event] = kept
}

func matches(id uint64, event string, d *Dispatcher, subs []Subscription) bool {
	for _, s := range subs {
		if s.d == d && s.event == event && s.id == id {
			return true
		}
	}
	return false
}

// Emit delivers data to every handler registered for event at the time of
// the call and returns how many handlers ran without panicking.
func (d *Dispatcher) Emit(event string, data any) int {
	d.mu.RLock()
	snapshot := d.handlers[event]
	d.mu.RUnlock()

	ev := Event{Name: event, Data: data}
	ok := 0
	for _, e := range snapshot {
		if d.invoke(e.h, ev) {
			ok++
		}
	}
	return ok
}

func (d *Dispatcher) invoke(h Handler, ev Event) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			d.panics.Add(1)
			d.logger.Error("event handler panicked",
				"event", ev.Name,
				"panic", fmt.Sprint(r),
			)
			ok = false
		}
	}()
	h(ev)
	return true
}

// Count returns the number of handlers registered for event.
func (d *Dispatcher) Count(event string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers[event])
}

// Reset removes every handler for every event.
func (d *Dispatcher) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = make(map[string][]entry)
}

// Panics returns how many handler invocations have panicked.
func (d *Dispatcher) Panics() int64 {
	return d.panics.Load()
}

// Typed adapts a payload-typed callback to a Handler. Events whose payload
// is not a T are ignored.
func Typed[T any](fn func(T)) Handler {
	return func(ev Event) {
		if v, ok := ev.Data.(T); ok {
			fn(v)
		}
	}
}
