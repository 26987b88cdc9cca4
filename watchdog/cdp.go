package watchdog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hazyhaar/webpilot/bus"
	"github.com/hazyhaar/webpilot/driver"
	"github.com/hazyhaar/webpilot/sessions"
)

type cdpState int

const (
	cdpIdle cdpState = iota
	cdpDiscovering
	cdpMonitoring
	cdpTornDown
)

// CDPConfig tunes the CDP watchdog.
type CDPConfig struct {
	// TargetTypes limits which CDP target types are tracked.
	TargetTypes []string
	Logger      *slog.Logger
}

func (c *CDPConfig) defaults() {
	if len(c.TargetTypes) == 0 {
		c.TargetTypes = []string{"page", "iframe"}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// CDPWatchdog owns target discovery. On BrowserConnected it enables
// discovery, seeds the session manager with the current targets, and installs
// driver listeners that translate raw CDP notifications into domain events:
// a newly attached target becomes TabCreated, a URL change becomes
// NavigationComplete, a removed target becomes TabClosed. On BrowserStopped
// everything is released best-effort.
type CDPWatchdog struct {
	*Base
	drv driver.Driver
	mgr *sessions.Manager
	cfg CDPConfig

	mu       sync.Mutex
	state    cdpState
	removers []func()
}

// NewCDP creates the CDP watchdog. Handlers are wired at construction;
// nothing runs until AttachToSession and a BrowserConnected event.
func NewCDP(drv driver.Driver, mgr *sessions.Manager, cfg CDPConfig) (*CDPWatchdog, error) {
	cfg.defaults()
	w := &CDPWatchdog{
		Base: NewBase("cdp", []bus.Kind{
			bus.KindBrowserConnected,
			bus.KindBrowserStopped,
		}, []bus.Kind{
			bus.KindTabCreated,
			bus.KindNavigationComplete,
			bus.KindTabClosed,
			bus.KindBrowserError,
		}, cfg.Logger),
		drv: drv,
		mgr: mgr,
		cfg: cfg,
	}
	if err := w.Handle(bus.KindBrowserConnected, w.onBrowserConnected); err != nil {
		return nil, err
	}
	if err := w.Handle(bus.KindBrowserStopped, w.onBrowserStopped); err != nil {
		return nil, err
	}
	w.OnDetach(w.teardown)
	return w, nil
}

// State is exposed for tests and the inspect surface.
func (w *CDPWatchdog) State() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch w.state {
	case cdpDiscovering:
		return "discovering"
	case cdpMonitoring:
		return "monitoring"
	case cdpTornDown:
		return "torn down"
	}
	return "idle"
}

func (w *CDPWatchdog) onBrowserConnected(ctx context.Context, _ bus.Event) error {
	w.mu.Lock()
	if w.state != cdpIdle {
		w.mu.Unlock()
		return nil
	}
	w.state = cdpDiscovering
	w.mu.Unlock()

	if err := w.drv.EnableDiscovery(ctx, w.cfg.TargetTypes); err != nil {
		w.mu.Lock()
		w.state = cdpIdle
		w.mu.Unlock()
		w.dispatchError("CDPDiscoveryFailed", "enabling target discovery failed", err)
		return fmt.Errorf("watchdog cdp: enable discovery: %w", err)
	}

	infos, err := w.drv.Targets(ctx)
	if err != nil {
		// Back to idle so a later BrowserConnected can retry.
		w.mu.Lock()
		w.state = cdpIdle
		w.mu.Unlock()
		w.dispatchError("CDPDiscoveryFailed", "target enumeration failed", err)
		return fmt.Errorf("watchdog cdp: list targets: %w", err)
	}
	for _, info := range infos {
		if !w.tracked(info.Type) {
			continue
		}
		created := w.mgr.UpsertTarget(targetFromInfo(info, sessions.SourceCDP))
		if created && info.Type == "page" {
			w.dispatch(bus.TabCreatedEvent{TargetID: info.TargetID, URL: info.URL})
		}
	}

	w.installListeners()

	w.mu.Lock()
	w.state = cdpMonitoring
	w.mu.Unlock()
	w.Logger().Info("cdp: monitoring targets", "seeded", len(infos))
	return nil
}

func (w *CDPWatchdog) onBrowserStopped(ctx context.Context, _ bus.Event) error {
	w.teardown()
	if err := w.drv.Detach(ctx); err != nil {
		// Teardown never fails the stop sequence.
		w.Logger().Warn("cdp: detach during teardown", "error", err)
	}
	return nil
}

// installListeners subscribes to driver notifications. Each callback runs on
// the driver's event goroutine; the session manager absorbs the race and the
// bus dispatch happens inline.
func (w *CDPWatchdog) installListeners() {
	rmAttach := w.drv.OnTargetAttached(func(sessionID string, info driver.TargetInfo) {
		if !w.tracked(info.Type) {
			return
		}
		created := w.mgr.HandleTargetAttached(sessionID, targetFromInfo(info, sessions.SourceCDP))
		if created && info.Type == "page" {
			w.dispatch(bus.TabCreatedEvent{TargetID: info.TargetID, URL: info.URL})
		}
	})
	rmInfo := w.drv.OnTargetInfoChanged(func(info driver.TargetInfo) {
		if !w.tracked(info.Type) {
			return
		}
		if w.mgr.HandleTargetInfoChanged(targetFromInfo(info, "")) {
			w.dispatch(bus.NavigationCompleteEvent{TargetID: info.TargetID, URL: info.URL})
		}
	})
	rmDetach := w.drv.OnTargetDetached(func(sessionID, _ string) {
		targetID, removed := w.mgr.HandleTargetDetached(sessionID)
		if removed {
			w.dispatch(bus.TabClosedEvent{TargetID: targetID})
		}
	})

	w.mu.Lock()
	w.removers = append(w.removers, rmAttach, rmInfo, rmDetach)
	w.mu.Unlock()
}

func (w *CDPWatchdog) teardown() {
	w.mu.Lock()
	if w.state == cdpTornDown {
		w.mu.Unlock()
		return
	}
	w.state = cdpTornDown
	removers := w.removers
	w.removers = nil
	w.mu.Unlock()

	for _, rm := range removers {
		rm()
	}
}

func (w *CDPWatchdog) tracked(targetType string) bool {
	for _, t := range w.cfg.TargetTypes {
		if t == targetType {
			return true
		}
	}
	return false
}

func (w *CDPWatchdog) dispatch(ev bus.Event) {
	if eb := w.Bus(); eb != nil {
		eb.Dispatch(context.Background(), ev)
	}
}

func (w *CDPWatchdog) dispatchError(errorType, msg string, err error) {
	w.Logger().Error("cdp: "+msg, "error", err)
	w.dispatch(bus.BrowserErrorEvent{
		ErrorType: errorType,
		Message:   msg,
		Details:   map[string]any{"error": err.Error()},
	})
}

func targetFromInfo(info driver.TargetInfo, source sessions.Source) sessions.Target {
	tt := sessions.TargetType(info.Type)
	return sessions.Target{
		ID:       info.TargetID,
		Type:     tt,
		URL:      info.URL,
		Title:    info.Title,
		Attached: info.Attached,
		Source:   source,
	}
}
