// Package bus is an in-process publish/subscribe bus for lifecycle events
// such as peers connecting or a replica finishing its bootstrap.
//
// Delivery is synchronous: Publish calls every handler subscribed to the
// event's type, then every wildcard handler, in subscription order, on the
// caller's goroutine. Handlers should be quick.
package bus

import (
	"errors"
	"sync"
	"time"

	"github.com/armon/go-metrics"
	"github.com/google/uuid"
)

// Any subscribes to every event type.
const Any = ""

// Event is one published occurrence. Data carries the publisher's payload.
type Event struct {
	Type      string
	Source    string
	Timestamp time.Time
	Data      any
}

// NewEvent stamps an event with the current time.
func NewEvent(typ, source string, data any) Event {
	return Event{Type: typ, Source: source, Timestamp: time.Now(), Data: data}
}

// Handler errors are joined and returned from Publish.
type Handler func(event Event) error

type subscriber struct {
	id      string
	handler Handler
}

// Subscription is a registered handler. Cancel removes it.
type Subscription struct {
	id        string
	eventType string
	bus       *Bus
	once      sync.Once
}

func (s *Subscription) ID() string { return s.id }

func (s *Subscription) EventType() string { return s.eventType }

// Cancel unsubscribes. Calling it again does nothing.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.bus.remove(s.eventType, s.id)
	})
}

type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]subscriber
}

func New() *Bus {
	return &Bus{handlers: make(map[string][]subscriber)}
}

// Subscribe registers handler for eventType, or for every event when
// eventType is Any.
func (b *Bus) Subscribe(eventType string, handler Handler) *Subscription {
	s := &Subscription{id: uuid.NewString(), eventType: eventType, bus: b}
	b.mu.Lock()
	b.handlers[eventType] = append(b.handlers[eventType], subscriber{id: s.id, handler: handler})
	b.mu.Unlock()
	return s
}

func (b *Bus) remove(eventType, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.handlers[eventType]
	for i, s := range subs {
		if s.id == id {
			b.handlers[eventType] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.handlers[eventType]) == 0 {
		delete(b.handlers, eventType)
	}
}

// Subscribers counts the handlers registered for eventType, wildcard ones
// excluded unless eventType is Any.
func (b *Bus) Subscribers(eventType string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[eventType])
}

// Publish delivers event and returns the joined handler errors.
func (b *Bus) Publish(event Event) error {
	b.mu.RLock()
	subs := make([]subscriber, 0, len(b.handlers[event.Type])+len(b.handlers[Any]))
	subs = append(subs, b.handlers[event.Type]...)
	if event.Type != Any {
		subs = append(subs, b.handlers[Any]...)
	}
	b.mu.RUnlock()

	labels := []metrics.Label{{Name: "type", Value: event.Type}}
	metrics.IncrCounterWithLabels([]string{"events", "published"}, 1, labels)

	var errs []error
	for _, s := range subs {
		if err := s.handler(event); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		metrics.IncrCounterWithLabels([]string{"events", "errors"}, float32(len(errs)), labels)
	}
	return errors.Join(errs...)
}
