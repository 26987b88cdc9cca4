package watchdog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/hazyhaar/webpilot/artifacts"
	"github.com/hazyhaar/webpilot/bus"
	"github.com/hazyhaar/webpilot/driver"
)

// RecordingConfig tunes the recording watchdog.
type RecordingConfig struct {
	// VideoDir receives per-page screencast frames. Empty disables video.
	VideoDir string
	// TraceDir receives the browser trace. Empty disables tracing.
	TraceDir string
	Logger   *slog.Logger
}

func (c *RecordingConfig) defaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// RecordingWatchdog captures a browser trace plus per-page screencast video
// and registers the resulting files as artifacts. Start failures surface as
// BrowserError events rather than aborting the session: a session without
// recordings is degraded, not broken. The trace started flag is cleared on
// every stop attempt so a failed stop cannot wedge the next start.
type RecordingWatchdog struct {
	*Base
	drv   driver.Driver
	store *artifacts.Store // may be nil when indexing is disabled
	cfg   RecordingConfig

	mu           sync.Mutex
	traceStarted bool
	pageRemovers map[string]func() // page id -> close-listener remover
}

// NewRecording creates the recording watchdog.
func NewRecording(drv driver.Driver, store *artifacts.Store, cfg RecordingConfig) (*RecordingWatchdog, error) {
	cfg.defaults()
	w := &RecordingWatchdog{
		Base: NewBase("recording", []bus.Kind{
			bus.KindBrowserConnected,
			bus.KindTabCreated,
			bus.KindBrowserStop,
			bus.KindBrowserStopped,
		}, []bus.Kind{
			bus.KindBrowserError,
		}, cfg.Logger),
		drv:          drv,
		store:        store,
		cfg:          cfg,
		pageRemovers: make(map[string]func()),
	}
	for kind, fn := range map[bus.Kind]bus.Handler{
		bus.KindBrowserConnected: w.onBrowserConnected,
		bus.KindTabCreated:       w.onTabCreated,
		bus.KindBrowserStop:      w.onBrowserStop,
		bus.KindBrowserStopped:   w.onBrowserStopped,
	} {
		if err := w.Handle(kind, fn); err != nil {
			return nil, err
		}
	}
	w.OnDetach(w.removeAllListeners)
	return w, nil
}

func (w *RecordingWatchdog) onBrowserConnected(ctx context.Context, _ bus.Event) error {
	if w.cfg.TraceDir != "" {
		if err := os.MkdirAll(w.cfg.TraceDir, 0o755); err != nil {
			w.reportError(ctx, "RecordingStartFailed", "creating trace dir failed", err)
		} else if err := w.drv.StartTrace(ctx, w.cfg.TraceDir); err != nil {
			w.reportError(ctx, "RecordingStartFailed", "starting trace failed", err)
		} else {
			w.mu.Lock()
			w.traceStarted = true
			w.mu.Unlock()
		}
	}

	if w.cfg.VideoDir == "" {
		return nil
	}
	if err := os.MkdirAll(w.cfg.VideoDir, 0o755); err != nil {
		w.reportError(ctx, "RecordingStartFailed", "creating video dir failed", err)
		return nil
	}
	pages, err := w.drv.Pages(ctx)
	if err != nil {
		w.reportError(ctx, "RecordingStartFailed", "listing pages failed", err)
		return nil
	}
	for _, p := range pages {
		w.startVideo(ctx, p.PageID, p.TargetID)
	}
	return nil
}

func (w *RecordingWatchdog) onTabCreated(ctx context.Context, ev bus.Event) error {
	if w.cfg.VideoDir == "" {
		return nil
	}
	created := ev.(bus.TabCreatedEvent)
	pages, err := w.drv.Pages(ctx)
	if err != nil {
		w.Logger().Warn("recording: listing pages for new tab", "error", err)
		return nil
	}
	for _, p := range pages {
		if p.TargetID == created.TargetID {
			w.startVideo(ctx, p.PageID, p.TargetID)
			return nil
		}
	}
	return nil
}

func (w *RecordingWatchdog) onBrowserStop(ctx context.Context, _ bus.Event) error {
	w.stopTrace(ctx)
	w.stopAllVideos(ctx)
	return nil
}

func (w *RecordingWatchdog) onBrowserStopped(ctx context.Context, _ bus.Event) error {
	w.removeAllListeners()
	return nil
}

// startVideo begins screencast capture for a page and installs a one-shot
// close listener that finalizes the recording. Idempotent per page.
func (w *RecordingWatchdog) startVideo(ctx context.Context, pageID, targetID string) {
	w.mu.Lock()
	if _, ok := w.pageRemovers[pageID]; ok {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	if err := w.drv.StartVideo(ctx, pageID, w.cfg.VideoDir); err != nil {
		w.reportError(ctx, "RecordingStartFailed", "starting video failed", err)
		return
	}

	remove, err := w.drv.OnPageClosed(pageID, func() {
		w.finalizeVideo(context.Background(), pageID, targetID)
	})
	if err != nil {
		w.Logger().Warn("recording: installing close listener", "page", pageID, "error", err)
		return
	}
	w.mu.Lock()
	w.pageRemovers[pageID] = remove
	w.mu.Unlock()
}

// finalizeVideo stops capture for one page and registers the artifact.
func (w *RecordingWatchdog) finalizeVideo(ctx context.Context, pageID, targetID string) {
	w.mu.Lock()
	remove, ok := w.pageRemovers[pageID]
	delete(w.pageRemovers, pageID)
	w.mu.Unlock()
	if ok && remove != nil {
		remove()
	}

	path, err := w.drv.VideoPath(ctx, pageID)
	if err != nil {
		w.reportError(ctx, "RecordingStopFailed", "stopping video failed", err)
		return
	}
	w.register(&artifacts.Artifact{Type: artifacts.TypeVideo, TargetID: targetID, Path: path})
	w.Logger().Info("recording: video finalized", "page", pageID, "path", path)
}

func (w *RecordingWatchdog) stopTrace(ctx context.Context) {
	w.mu.Lock()
	started := w.traceStarted
	w.traceStarted = false // cleared regardless of stop outcome
	w.mu.Unlock()
	if !started {
		return
	}

	path, err := w.drv.StopTrace(ctx)
	if err != nil {
		w.reportError(ctx, "RecordingStopFailed", "stopping trace failed", err)
		return
	}
	w.register(&artifacts.Artifact{Type: artifacts.TypeTrace, Path: path})
	w.Logger().Info("recording: trace finalized", "path", path)
}

func (w *RecordingWatchdog) stopAllVideos(ctx context.Context) {
	w.mu.Lock()
	pageIDs := make([]string, 0, len(w.pageRemovers))
	for id := range w.pageRemovers {
		pageIDs = append(pageIDs, id)
	}
	w.mu.Unlock()

	for _, pageID := range pageIDs {
		targetID, _ := w.targetForPage(ctx, pageID)
		w.finalizeVideo(ctx, pageID, targetID)
	}
}

func (w *RecordingWatchdog) targetForPage(ctx context.Context, pageID string) (string, bool) {
	pages, err := w.drv.Pages(ctx)
	if err != nil {
		return "", false
	}
	for _, p := range pages {
		if p.PageID == pageID {
			return p.TargetID, true
		}
	}
	return "", false
}

func (w *RecordingWatchdog) removeAllListeners() {
	w.mu.Lock()
	removers := w.pageRemovers
	w.pageRemovers = make(map[string]func())
	w.mu.Unlock()

	for _, rm := range removers {
		if rm != nil {
			rm()
		}
	}
}

func (w *RecordingWatchdog) register(a *artifacts.Artifact) {
	if w.store != nil {
		w.store.RecordAsync(a)
	}
}

func (w *RecordingWatchdog) reportError(ctx context.Context, errorType, msg string, err error) {
	w.Logger().Error(fmt.Sprintf("recording: %s", msg), "error", err)
	if eb := w.Bus(); eb != nil {
		eb.Dispatch(ctx, bus.BrowserErrorEvent{
			ErrorType: errorType,
			Message:   msg,
			Details:   map[string]any{"error": err.Error()},
		})
	}
}
