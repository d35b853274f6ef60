package bus

import (
	"log/slog"
	"sync"

	"tiaapa/internal/domain"
)

// SessionBus fans session events out to named subscribers. Handlers run
// synchronously in subscription order on the publisher's goroutine.
type SessionBus struct {
	mu       sync.RWMutex
	handlers map[string]func(domain.Event)
	order    []string
	closed   bool
	logger   *slog.Logger
}

// New creates an empty SessionBus.
func New(logger *slog.Logger) *SessionBus {
	return &SessionBus{
		handlers: make(map[string]func(domain.Event)),
		logger:   logger,
	}
}

// Subscribe registers handler under name, replacing any handler with the same name.
func (b *SessionBus) Subscribe(name string, handler func(domain.Event)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.handlers[name]; !ok {
		b.order = append(b.order, name)
	}
	b.handlers[name] = handler
}

func (b *SessionBus) Unsubscribe(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.handlers[name]; !ok {
		return
	}
	delete(b.handlers, name)
	for i, n := range b.order {
		if n == name {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}

func (b *SessionBus) Publish(ev domain.Event) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		b.logger.Debug("event dropped, bus closed", "event", ev.Type)
		return
	}
	type named struct {
		name    string
		handler func(domain.Event)
	}
	handlers := make([]named, 0, len(b.order))
	for _, name := range b.order {
		handlers = append(handlers, named{name: name, handler: b.handlers[name]})
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("event handler panic", "event", ev.Type, "subscriber", h.name, "panic", r)
				}
			}()
			h.handler(ev)
		}()
	}
}

// Close stops delivery; later publishes are dropped.
func (b *SessionBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}
