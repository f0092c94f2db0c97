package events

import (
	"sync"

	"go.uber.org/zap"
)

// Handler processes an event. Returning an error logs it but does not stop dispatch.
type Handler func(Event) error

// Bus is a synchronous in-process event bus.
// Subscribers run in registration order on the publisher's goroutine, after
// the publisher's transaction has committed. They must not do network I/O
// inline; Redis and email work goes to the cache and notify workers.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
}

func NewBus() *Bus {
	return &Bus{
		handlers: make(map[EventType][]Handler),
	}
}

// Subscribe registers a handler for a given event type.
func (b *Bus) Subscribe(eventType EventType, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], h)
}

// Publish dispatches an event to all registered handlers for its type.
// A nil bus is a no-op so services can run without subscribers.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	handlers := b.handlers[e.Type]
	b.mu.RUnlock()

	for _, h := range handlers {
		if err := h(e); err != nil {
			zap.S().Warnw("event handler failed", "type", e.Type, "error", err)
		}
	}
}

// PublishAll publishes events in order.
func (b *Bus) PublishAll(es ...Event) {
	for _, e := range es {
		b.Publish(e)
	}
}
