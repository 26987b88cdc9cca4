package watchdog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/hazyhaar/webpilot/bus"
	"github.com/hazyhaar/webpilot/driver"
	"github.com/hazyhaar/webpilot/storagestate"
)

// DefaultStorageStatePath is used when neither the event nor the config
// names a destination.
const DefaultStorageStatePath = "webpilot-storage-state.json"

// StorageConfig tunes the storage watchdog.
type StorageConfig struct {
	// Path is the configured save/load destination. Event paths override it.
	Path string
	// Interval is the background save cadence.
	Interval time.Duration
	Logger   *slog.Logger
}

func (c *StorageConfig) defaults() {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// StorageWatchdog persists browser storage state. It saves on explicit
// SaveStorageState events, on BrowserStop (the last chance before the
// browser goes away), and on a background timer that skips unchanged state.
// Saves merge the file on disk with the live browser so two browser
// instances sharing a state file do not clobber each other's cookies.
type StorageWatchdog struct {
	*Base
	drv driver.Driver
	cfg StorageConfig

	// saveMu serializes writes to the state file. Explicit and stop saves
	// queue behind an in-flight save; only the background ticker skips.
	saveMu sync.Mutex

	mu       sync.Mutex
	stopTick chan struct{}
	lastFP   string
}

// NewStorage creates the storage watchdog.
func NewStorage(drv driver.Driver, cfg StorageConfig) (*StorageWatchdog, error) {
	cfg.defaults()
	w := &StorageWatchdog{
		Base: NewBase("storage", []bus.Kind{
			bus.KindBrowserConnected,
			bus.KindBrowserStop,
			bus.KindBrowserStopped,
			bus.KindSaveStorageState,
			bus.KindLoadStorageState,
		}, []bus.Kind{
			bus.KindStorageStateSaved,
			bus.KindStorageStateLoaded,
		}, cfg.Logger),
		drv: drv,
		cfg: cfg,
	}
	for kind, fn := range map[bus.Kind]bus.Handler{
		bus.KindBrowserConnected: w.onBrowserConnected,
		bus.KindBrowserStop:      w.onBrowserStop,
		bus.KindBrowserStopped:   w.onBrowserStopped,
		bus.KindSaveStorageState: w.onSave,
		bus.KindLoadStorageState: w.onLoad,
	} {
		if err := w.Handle(kind, fn); err != nil {
			return nil, err
		}
	}
	w.OnDetach(w.stopTicker)
	return w, nil
}

func (w *StorageWatchdog) onBrowserConnected(ctx context.Context, _ bus.Event) error {
	w.mu.Lock()
	if w.stopTick != nil {
		w.mu.Unlock()
		return nil
	}
	stop := make(chan struct{})
	w.stopTick = stop
	w.mu.Unlock()

	go w.tickLoop(stop)
	return nil
}

func (w *StorageWatchdog) onBrowserStop(ctx context.Context, _ bus.Event) error {
	// Final save while the browser still answers.
	return w.save(ctx, w.path(""))
}

func (w *StorageWatchdog) onBrowserStopped(ctx context.Context, _ bus.Event) error {
	w.stopTicker()
	return nil
}

func (w *StorageWatchdog) onSave(ctx context.Context, ev bus.Event) error {
	req := ev.(bus.SaveStorageStateEvent)
	return w.save(ctx, w.path(req.Path))
}

func (w *StorageWatchdog) onLoad(ctx context.Context, ev bus.Event) error {
	req := ev.(bus.LoadStorageStateEvent)
	path := w.path(req.Path)

	st, err := storagestate.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		w.Logger().Info("storage: no state file to load", "path", path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("watchdog storage: load: %w", err)
	}
	if err := w.drv.SetCookies(ctx, st.Cookies); err != nil {
		return fmt.Errorf("watchdog storage: set cookies: %w", err)
	}

	// The loaded state is the ticker's baseline; an unchanged browser
	// should not trigger a save on the first tick.
	w.mu.Lock()
	w.lastFP = storagestate.Fingerprint(st)
	w.mu.Unlock()

	w.Logger().Info("storage: state loaded",
		"path", path, "cookies", len(st.Cookies), "origins", len(st.Origins))
	w.dispatch(ctx, bus.StorageStateLoadedEvent{
		Path: path, Cookies: len(st.Cookies), Origins: len(st.Origins),
	})
	return nil
}

// save reads the live state, merges it over the file on disk, and writes
// atomically. Requested saves wait their turn behind an in-flight one so an
// explicit or final save is never dropped.
func (w *StorageWatchdog) save(ctx context.Context, path string) error {
	w.saveMu.Lock()
	defer w.saveMu.Unlock()
	return w.saveLocked(ctx, path)
}

// saveLocked does the work; callers hold saveMu.
func (w *StorageWatchdog) saveLocked(ctx context.Context, path string) error {
	live, err := w.drv.StorageState(ctx)
	if err != nil {
		return fmt.Errorf("watchdog storage: read live state: %w", err)
	}
	disk, err := storagestate.LoadOrEmpty(path)
	if err != nil {
		// Unreadable file: save anyway, the .bak keeps the old bytes.
		w.Logger().Warn("storage: existing state unreadable, merging over empty",
			"path", path, "error", err)
		disk = storagestate.State{}
	}
	merged := storagestate.Merge(disk, live)
	if err := storagestate.Save(path, merged); err != nil {
		return fmt.Errorf("watchdog storage: save: %w", err)
	}

	w.mu.Lock()
	w.lastFP = storagestate.Fingerprint(live)
	w.mu.Unlock()

	w.Logger().Info("storage: state saved",
		"path", path, "cookies", len(merged.Cookies), "origins", len(merged.Origins))
	w.dispatch(ctx, bus.StorageStateSavedEvent{
		Path: path, Cookies: len(merged.Cookies), Origins: len(merged.Origins),
	})
	return nil
}

// tickLoop saves periodically, skipping ticks where the live state
// fingerprint has not moved since the last save.
func (w *StorageWatchdog) tickLoop(stop chan struct{}) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			live, err := w.drv.StorageState(ctx)
			if err != nil {
				w.Logger().Warn("storage: periodic read failed", "error", err)
				cancel()
				continue
			}
			fp := storagestate.Fingerprint(live)
			w.mu.Lock()
			changed := fp != w.lastFP
			w.mu.Unlock()
			if changed {
				if w.saveMu.TryLock() {
					err := w.saveLocked(ctx, w.path(""))
					w.saveMu.Unlock()
					if err != nil {
						w.Logger().Warn("storage: periodic save failed", "error", err)
					}
				} else {
					w.Logger().Debug("storage: save already in progress, skipping tick")
				}
			}
			cancel()
		}
	}
}

func (w *StorageWatchdog) stopTicker() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopTick != nil {
		close(w.stopTick)
		w.stopTick = nil
	}
}

// path resolves the destination: event argument, then config, then default.
func (w *StorageWatchdog) path(eventPath string) string {
	if eventPath != "" {
		return eventPath
	}
	if w.cfg.Path != "" {
		return w.cfg.Path
	}
	return DefaultStorageStatePath
}

func (w *StorageWatchdog) dispatch(ctx context.Context, ev bus.Event) {
	if eb := w.Bus(); eb != nil {
		eb.Dispatch(ctx, ev)
	}
}
