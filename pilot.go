// Package webpilot wires the browser-control substrate together: the event
// bus, the session manager, the CDP driver, and the watchdog set. A Pilot is
// one browser session end to end.
package webpilot

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/webpilot/artifacts"
	"github.com/hazyhaar/webpilot/bus"
	"github.com/hazyhaar/webpilot/config"
	"github.com/hazyhaar/webpilot/dom"
	"github.com/hazyhaar/webpilot/driver"
	"github.com/hazyhaar/webpilot/inspect"
	"github.com/hazyhaar/webpilot/sessions"
	"github.com/hazyhaar/webpilot/watchdog"
)

// attachable is the slice of the watchdog lifecycle the pilot drives.
type attachable interface {
	Name() string
	AttachToSession(*bus.Bus) error
	DetachFromSession()
}

// Pilot owns one browser session: driver connection, event bus, session
// manager, watchdogs, artifact index, and the optional inspect surface.
type Pilot struct {
	cfg    *config.Config
	logger *slog.Logger

	Bus      *bus.Bus
	Sessions *sessions.Manager
	Driver   driver.Driver
	DOM      *dom.Service

	rod        *driver.Rod // nil when an external driver was injected
	watchdogs  []attachable
	store      *artifacts.Store
	db         *sql.DB
	inspectSrv *inspect.Server

	mu      sync.Mutex
	started bool
	stopped bool
}

// New builds a pilot with a rod-backed driver from the configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Pilot, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	rd := driver.NewRod(driver.RodConfig{
		ControlURL: cfg.Browser.ControlURL,
		Headless:   cfg.Browser.Headless,
		Stealth:    cfg.Browser.Stealth,
		NavTimeout: cfg.Browser.NavTimeout,
		Logger:     logger,
	})
	p, err := NewWithDriver(cfg, rd, logger)
	if err != nil {
		return nil, err
	}
	p.rod = rd
	return p, nil
}

// NewWithDriver builds a pilot around an existing driver. The caller owns
// the driver's connection lifecycle.
func NewWithDriver(cfg *config.Config, drv driver.Driver, logger *slog.Logger) (*Pilot, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &Pilot{
		cfg:      cfg,
		logger:   logger,
		Bus:      bus.New(bus.WithLogger(logger)),
		Sessions: sessions.NewManager(),
		Driver:   drv,
		DOM:      dom.NewService(drv, logger),
	}

	if cfg.Recording.ArtifactDB != "" {
		db, err := sql.Open("sqlite", cfg.Recording.ArtifactDB)
		if err != nil {
			return nil, fmt.Errorf("webpilot: open artifact db: %w", err)
		}
		p.db = db
		p.store = artifacts.NewStore(db, logger)
		if err := p.store.Init(); err != nil {
			return nil, err
		}
	}

	cdpWD, err := watchdog.NewCDP(drv, p.Sessions, watchdog.CDPConfig{Logger: logger})
	if err != nil {
		return nil, err
	}
	storageWD, err := watchdog.NewStorage(drv, watchdog.StorageConfig{
		Path:     cfg.StorageState.Path,
		Interval: cfg.StorageState.Interval,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	recordingWD, err := watchdog.NewRecording(drv, p.store, watchdog.RecordingConfig{
		VideoDir: cfg.Recording.VideoDir,
		TraceDir: cfg.Recording.TraceDir,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	permsWD, err := watchdog.NewPermissions(drv, cfg.Permissions, logger)
	if err != nil {
		return nil, err
	}
	popupsWD, err := watchdog.NewPopups(drv, logger)
	if err != nil {
		return nil, err
	}
	p.watchdogs = []attachable{cdpWD, storageWD, recordingWD, permsWD, popupsWD}

	if cfg.Inspect.Addr != "" {
		p.inspectSrv = inspect.NewServer(cfg.Inspect.Addr, p.Sessions, p.store, logger)
	}
	return p, nil
}

// Start connects the driver, attaches the watchdogs, and announces the
// browser on the bus. The BrowserConnected dispatch is strict: a watchdog
// that cannot initialize fails the whole start.
func (p *Pilot) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return fmt.Errorf("webpilot: already started")
	}
	p.started = true
	p.mu.Unlock()

	if p.rod != nil {
		if err := p.rod.Connect(ctx); err != nil {
			return err
		}
	}

	// Pilot-owned reactions: navigation requests and focus announcements.
	p.Bus.On(bus.KindNavigateToURL, "pilot/navigate", p.onNavigate)
	p.Bus.On(bus.KindFocusChanged, "pilot/focus", p.onFocusChanged)

	for _, w := range p.watchdogs {
		if err := w.AttachToSession(p.Bus); err != nil {
			return fmt.Errorf("webpilot: attach %s: %w", w.Name(), err)
		}
	}
	if p.inspectSrv != nil {
		p.inspectSrv.Start()
	}

	if err := p.Bus.DispatchStrict(ctx, bus.BrowserConnectedEvent{CDPURL: p.cfg.Browser.ControlURL}); err != nil {
		return err
	}
	p.logger.Info("webpilot: started")
	return nil
}

// Stop runs the shutdown sequence: BrowserStop while the browser still
// answers (final saves, recording stops), then BrowserStopped, then detach,
// clear, and close. Idempotent.
func (p *Pilot) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	p.mu.Unlock()

	p.Bus.Dispatch(ctx, bus.BrowserStopEvent{})
	p.Bus.Dispatch(ctx, bus.BrowserStoppedEvent{})

	for _, w := range p.watchdogs {
		w.DetachFromSession()
	}
	p.Bus.Off(bus.KindNavigateToURL, "pilot/navigate")
	p.Bus.Off(bus.KindFocusChanged, "pilot/focus")
	p.Sessions.Clear()

	if p.inspectSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := p.inspectSrv.Close(shutdownCtx); err != nil {
			p.logger.Warn("webpilot: inspect close", "error", err)
		}
		cancel()
	}
	if p.store != nil {
		p.store.Close()
	}
	if p.db != nil {
		if err := p.db.Close(); err != nil {
			p.logger.Warn("webpilot: artifact db close", "error", err)
		}
	}
	if p.rod != nil {
		if err := p.rod.Close(); err != nil {
			p.logger.Warn("webpilot: driver close", "error", err)
		}
	}
	p.logger.Info("webpilot: stopped")
	return nil
}

// onNavigate drives the focused target (or a new tab) to the requested URL.
func (p *Pilot) onNavigate(ctx context.Context, ev bus.Event) error {
	req := ev.(bus.NavigateToURLEvent)
	targetID := p.Sessions.FocusedTargetID()
	if targetID == "" && !req.NewTab {
		req.NewTab = true
	}
	if err := p.Driver.Navigate(ctx, targetID, req.URL, req.NewTab); err != nil {
		return fmt.Errorf("webpilot: navigate: %w", err)
	}
	return nil
}

func (p *Pilot) onFocusChanged(ctx context.Context, ev bus.Event) error {
	p.Sessions.SetFocus(ev.(bus.FocusChangedEvent).TargetID)
	return nil
}
