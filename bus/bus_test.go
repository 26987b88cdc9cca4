package bus

import (
	"context"
	"errors"
	"testing"
)

func TestDispatchOrderAndIsolation(t *testing.T) {
	b := New()
	ctx := context.Background()

	var calls []string
	b.On(KindTabCreated, "first", func(ctx context.Context, ev Event) error {
		calls = append(calls, "first")
		return errors.New("boom")
	})
	b.On(KindTabCreated, "second", func(ctx context.Context, ev Event) error {
		calls = append(calls, "second")
		return nil
	})

	b.Dispatch(ctx, TabCreatedEvent{TargetID: "t1"})

	if len(calls) != 2 || calls[0] != "first" || calls[1] != "second" {
		t.Fatalf("calls: got %v, want [first second]", calls)
	}
}

func TestDispatchStrictReturnsFirstError(t *testing.T) {
	b := New()
	ctx := context.Background()

	errA := errors.New("a failed")
	var ranLater bool
	b.On(KindTabClosed, "a", func(ctx context.Context, ev Event) error { return errA })
	b.On(KindTabClosed, "b", func(ctx context.Context, ev Event) error {
		ranLater = true
		return errors.New("b failed")
	})

	err := b.DispatchStrict(ctx, TabClosedEvent{TargetID: "t1"})
	if !errors.Is(err, errA) {
		t.Fatalf("error: got %v, want wrapped %v", err, errA)
	}
	if !ranLater {
		t.Fatal("later handler did not run after first error")
	}
}

func TestOnReplacesInPlace(t *testing.T) {
	b := New()
	ctx := context.Background()

	var calls []string
	b.On(KindFocusChanged, "x", func(ctx context.Context, ev Event) error {
		calls = append(calls, "x-old")
		return nil
	})
	b.On(KindFocusChanged, "y", func(ctx context.Context, ev Event) error {
		calls = append(calls, "y")
		return nil
	})
	// Re-registering x must replace the handler but keep its position.
	b.On(KindFocusChanged, "x", func(ctx context.Context, ev Event) error {
		calls = append(calls, "x-new")
		return nil
	})

	if got := b.HandlerCount(KindFocusChanged); got != 2 {
		t.Fatalf("handler count: got %d, want 2", got)
	}
	b.Dispatch(ctx, FocusChangedEvent{TargetID: "t1"})
	if len(calls) != 2 || calls[0] != "x-new" || calls[1] != "y" {
		t.Fatalf("calls: got %v, want [x-new y]", calls)
	}
}

func TestOff(t *testing.T) {
	b := New()
	ctx := context.Background()

	var called bool
	b.On(KindBrowserStopped, "h", func(ctx context.Context, ev Event) error {
		called = true
		return nil
	})
	b.Off(KindBrowserStopped, "h")
	b.Off(KindBrowserStopped, "unknown") // no-op

	b.Dispatch(ctx, BrowserStoppedEvent{})
	if called {
		t.Fatal("removed handler was invoked")
	}
	if got := b.HandlerCount(KindBrowserStopped); got != 0 {
		t.Fatalf("handler count: got %d, want 0", got)
	}
}

func TestReentrantDispatch(t *testing.T) {
	b := New()
	ctx := context.Background()

	var sawClosed bool
	b.On(KindTabCreated, "creator", func(ctx context.Context, ev Event) error {
		// Handlers may dispatch further events inline.
		b.Dispatch(ctx, TabClosedEvent{TargetID: "nested"})
		return nil
	})
	b.On(KindTabClosed, "closer", func(ctx context.Context, ev Event) error {
		sawClosed = true
		return nil
	})

	b.Dispatch(ctx, TabCreatedEvent{TargetID: "t1"})
	if !sawClosed {
		t.Fatal("nested dispatch was not delivered")
	}
}

func TestDispatchNoHandlers(t *testing.T) {
	b := New()
	// Must not panic or block.
	b.Dispatch(context.Background(), BrowserConnectedEvent{})
	if err := b.DispatchStrict(context.Background(), BrowserConnectedEvent{}); err != nil {
		t.Fatalf("strict dispatch with no handlers: got %v, want nil", err)
	}
}
