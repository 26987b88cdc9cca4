// Package bus is the in-process event bus connecting watchdogs. It offers
// ordered, typed pub/sub with two delivery contracts: Dispatch swallows
// individual handler errors so one misbehaving subscriber cannot starve the
// rest, and DispatchStrict surfaces the first error after every handler has
// run. The bus keeps no history; an event not delivered is gone.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Handler processes one event. Handlers may dispatch further events;
// re-entrant dispatch is a plain nested call.
type Handler func(ctx context.Context, ev Event) error

type entry struct {
	id string
	fn Handler
}

// Bus routes events to handlers in registration order per kind. Safe for
// concurrent use; delivery itself runs on the dispatching goroutine.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Kind][]entry
	logger   *slog.Logger
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) { b.logger = l }
}

// New creates an empty Bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		handlers: make(map[Kind][]entry),
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// On registers a handler for an event kind under a caller-supplied id.
// Registering the same id again replaces the handler in place, keeping its
// original position in the delivery order; this makes re-registration
// idempotent for watchdogs that attach, detach, and attach again.
func (b *Bus) On(kind Kind, handlerID string, fn Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.handlers[kind]
	for i := range list {
		if list[i].id == handlerID {
			list[i].fn = fn
			return
		}
	}
	b.handlers[kind] = append(list, entry{id: handlerID, fn: fn})
}

// Off removes the handler registered under handlerID for kind. Removing an
// unknown id is a no-op.
func (b *Bus) Off(kind Kind, handlerID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.handlers[kind]
	for i := range list {
		if list[i].id == handlerID {
			b.handlers[kind] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// HandlerCount returns the number of handlers registered for kind.
func (b *Bus) HandlerCount(kind Kind) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[kind])
}

// Dispatch delivers ev to all handlers for its kind, in registration order.
// Handler errors are logged and swallowed; delivery continues to the next
// handler and Dispatch returns once all have run.
func (b *Bus) Dispatch(ctx context.Context, ev Event) {
	for _, e := range b.snapshot(ev.Kind()) {
		if err := e.fn(ctx, ev); err != nil {
			b.logger.Error("bus: handler failed",
				"event", ev.Kind(), "handler", e.id, "error", err)
		}
	}
}

// DispatchStrict delivers ev like Dispatch but returns the first handler
// error encountered. Later handlers still run; their errors are logged so
// they are not lost, only the first is propagated.
func (b *Bus) DispatchStrict(ctx context.Context, ev Event) error {
	var first error
	for _, e := range b.snapshot(ev.Kind()) {
		if err := e.fn(ctx, ev); err != nil {
			if first == nil {
				first = fmt.Errorf("bus: handler %s for %s: %w", e.id, ev.Kind(), err)
			} else {
				b.logger.Error("bus: handler failed",
					"event", ev.Kind(), "handler", e.id, "error", err)
			}
		}
	}
	return first
}

// snapshot copies the handler list so delivery never holds the lock. A
// handler registered or removed mid-dispatch takes effect on the next
// dispatch, and nested Dispatch calls cannot deadlock.
func (b *Bus) snapshot(kind Kind) []entry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	list := b.handlers[kind]
	if len(list) == 0 {
		return nil
	}
	out := make([]entry, len(list))
	copy(out, list)
	return out
}
