// Package watchdog contains the reactive components driving the browser
// substrate. A watchdog declares up front which event kinds it listens to,
// registers its handlers against that declaration, and attaches to the bus
// as a unit. The declaration is enforced when handlers are registered, so a
// watchdog reacting to an undeclared event is a construction-time bug, not a
// silent runtime drop.
package watchdog

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/hazyhaar/webpilot/bus"
)

var (
	// ErrAlreadyAttached is returned by AttachToSession when the watchdog is
	// already attached to a bus.
	ErrAlreadyAttached = errors.New("watchdog: already attached")
	// ErrUndeclaredEvent is returned by Handle for a kind missing from the
	// watchdog's ListensTo declaration.
	ErrUndeclaredEvent = errors.New("watchdog: event kind not declared")
)

type handlerReg struct {
	kind bus.Kind
	fn   bus.Handler
}

// Base carries the shared watchdog lifecycle: the ListensTo and Emits
// declarations, ordered handler registration, and idempotent attach/detach
// against a Bus. Concrete watchdogs embed it.
type Base struct {
	name       string
	instanceID string
	listensTo  map[bus.Kind]struct{}
	emits      []bus.Kind
	logger     *slog.Logger

	mu       sync.Mutex
	handlers []handlerReg
	attached *bus.Bus
	onDetach []func()
}

// NewBase creates the lifecycle core for a watchdog named name that may only
// handle the listensTo kinds. emits declares the kinds the watchdog
// dispatches; it documents the watchdog's contract and is not enforced.
func NewBase(name string, listensTo, emits []bus.Kind, logger *slog.Logger) *Base {
	if logger == nil {
		logger = slog.Default()
	}
	lt := make(map[bus.Kind]struct{}, len(listensTo))
	for _, k := range listensTo {
		lt[k] = struct{}{}
	}
	return &Base{
		name:       name,
		instanceID: uuid.NewString(),
		listensTo:  lt,
		emits:      append([]bus.Kind(nil), emits...),
		logger:     logger,
	}
}

// Name returns the watchdog name.
func (b *Base) Name() string { return b.name }

// InstanceID returns the unique id of this watchdog instance, part of its
// bus handler ids.
func (b *Base) InstanceID() string { return b.instanceID }

// Logger returns the watchdog's logger.
func (b *Base) Logger() *slog.Logger { return b.logger }

// Emits returns the event kinds the watchdog declares it dispatches.
func (b *Base) Emits() []bus.Kind { return append([]bus.Kind(nil), b.emits...) }

// Handle registers a handler for kind. The kind must appear in the ListensTo
// declaration; otherwise ErrUndeclaredEvent is returned and nothing is
// registered. Handlers fire in registration order when attached.
func (b *Base) Handle(kind bus.Kind, fn bus.Handler) error {
	if _, ok := b.listensTo[kind]; !ok {
		return fmt.Errorf("watchdog %s: %w: %s", b.name, ErrUndeclaredEvent, kind)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, handlerReg{kind: kind, fn: fn})
	return nil
}

// OnDetach registers a hook run by DetachFromSession after handlers are
// unregistered. Hooks run in registration order.
func (b *Base) OnDetach(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onDetach = append(b.onDetach, fn)
}

// AttachToSession registers every handler on the bus under
// "<name>/<instanceID>" ids. Attaching twice without detaching is an error.
func (b *Base) AttachToSession(eb *bus.Bus) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.attached != nil {
		return fmt.Errorf("watchdog %s: %w", b.name, ErrAlreadyAttached)
	}
	id := b.name + "/" + b.instanceID
	for _, h := range b.handlers {
		eb.On(h.kind, id, h.fn)
	}
	b.attached = eb
	b.logger.Debug("watchdog attached", "watchdog", b.name, "handlers", len(b.handlers))
	return nil
}

// DetachFromSession unregisters all handlers and runs the OnDetach hooks.
// Detaching when not attached is a no-op.
func (b *Base) DetachFromSession() {
	b.mu.Lock()
	if b.attached == nil {
		b.mu.Unlock()
		return
	}
	eb := b.attached
	b.attached = nil
	id := b.name + "/" + b.instanceID
	handlers := b.handlers
	hooks := b.onDetach
	b.mu.Unlock()

	for _, h := range handlers {
		eb.Off(h.kind, id)
	}
	for _, fn := range hooks {
		fn()
	}
	b.logger.Debug("watchdog detached", "watchdog", b.name)
}

// Bus returns the bus the watchdog is attached to, or nil when detached.
// Handlers only run while attached, so they may dispatch through it safely.
func (b *Base) Bus() *bus.Bus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attached
}

// Attached reports whether the watchdog is currently attached to a bus.
func (b *Base) Attached() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attached != nil
}
