package watchdog

import (
	"context"
	"errors"
	"testing"

	"github.com/hazyhaar/webpilot/bus"
)

func TestHandleRejectsUndeclaredKind(t *testing.T) {
	b := NewBase("test", []bus.Kind{bus.KindTabCreated}, nil, nil)

	err := b.Handle(bus.KindTabClosed, func(ctx context.Context, ev bus.Event) error { return nil })
	if !errors.Is(err, ErrUndeclaredEvent) {
		t.Fatalf("error: got %v, want ErrUndeclaredEvent", err)
	}
	if err := b.Handle(bus.KindTabCreated, func(ctx context.Context, ev bus.Event) error { return nil }); err != nil {
		t.Fatalf("declared kind rejected: %v", err)
	}
}

func TestAttachDetachLifecycle(t *testing.T) {
	eb := bus.New()
	b := NewBase("test", []bus.Kind{bus.KindTabCreated}, nil, nil)

	var calls int
	if err := b.Handle(bus.KindTabCreated, func(ctx context.Context, ev bus.Event) error {
		calls++
		return nil
	}); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if err := b.AttachToSession(eb); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if !b.Attached() {
		t.Fatal("not attached after AttachToSession")
	}
	if err := b.AttachToSession(eb); !errors.Is(err, ErrAlreadyAttached) {
		t.Fatalf("double attach: got %v, want ErrAlreadyAttached", err)
	}

	eb.Dispatch(context.Background(), bus.TabCreatedEvent{TargetID: "t1"})
	if calls != 1 {
		t.Fatalf("calls: got %d, want 1", calls)
	}

	var hookRuns int
	b.OnDetach(func() { hookRuns++ })

	b.DetachFromSession()
	b.DetachFromSession() // idempotent
	if b.Attached() {
		t.Fatal("still attached after detach")
	}
	if hookRuns != 1 {
		t.Fatalf("detach hooks: got %d runs, want 1", hookRuns)
	}
	if got := eb.HandlerCount(bus.KindTabCreated); got != 0 {
		t.Fatalf("bus handlers after detach: got %d, want 0", got)
	}

	// Reattach works and delivers again.
	if err := b.AttachToSession(eb); err != nil {
		t.Fatalf("reattach: %v", err)
	}
	eb.Dispatch(context.Background(), bus.TabCreatedEvent{TargetID: "t2"})
	if calls != 2 {
		t.Fatalf("calls after reattach: got %d, want 2", calls)
	}
}

func TestEmitsDeclaration(t *testing.T) {
	b := NewBase("test", []bus.Kind{bus.KindBrowserConnected},
		[]bus.Kind{bus.KindTabCreated, bus.KindBrowserError}, nil)

	got := b.Emits()
	if len(got) != 2 || got[0] != bus.KindTabCreated || got[1] != bus.KindBrowserError {
		t.Fatalf("emits: got %v", got)
	}
	// The returned slice is a copy; mutating it does not touch the declaration.
	got[0] = bus.KindTabClosed
	if b.Emits()[0] != bus.KindTabCreated {
		t.Fatal("emits declaration mutated through accessor")
	}

	if e := NewBase("quiet", nil, nil, nil).Emits(); len(e) != 0 {
		t.Fatalf("emits for quiet watchdog: got %v", e)
	}
}

func TestBusAccessor(t *testing.T) {
	eb := bus.New()
	b := NewBase("test", nil, nil, nil)
	if b.Bus() != nil {
		t.Fatal("detached base reports a bus")
	}
	if err := b.AttachToSession(eb); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if b.Bus() != eb {
		t.Fatal("attached base reports wrong bus")
	}
}
