package watchdog

import (
	"context"
	"log/slog"

	"github.com/hazyhaar/webpilot/bus"
	"github.com/hazyhaar/webpilot/driver"
)

// PopupsWatchdog auto-accepts JavaScript dialogs (alert/confirm/prompt) on
// every tab. An unanswered dialog freezes the page's event loop and with it
// every CDP call against that page, so dismissal is installed as soon as a
// tab exists.
type PopupsWatchdog struct {
	*Base
	drv driver.Driver
}

// NewPopups creates the popups watchdog.
func NewPopups(drv driver.Driver, logger *slog.Logger) (*PopupsWatchdog, error) {
	w := &PopupsWatchdog{
		Base: NewBase("popups", []bus.Kind{
			bus.KindBrowserConnected,
			bus.KindTabCreated,
		}, nil, logger),
		drv: drv,
	}
	if err := w.Handle(bus.KindBrowserConnected, w.installAll); err != nil {
		return nil, err
	}
	if err := w.Handle(bus.KindTabCreated, w.installForTab); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *PopupsWatchdog) installAll(ctx context.Context, _ bus.Event) error {
	pages, err := w.drv.Pages(ctx)
	if err != nil {
		w.Logger().Warn("popups: listing pages", "error", err)
		return nil
	}
	for _, p := range pages {
		w.install(ctx, p.PageID)
	}
	return nil
}

func (w *PopupsWatchdog) installForTab(ctx context.Context, ev bus.Event) error {
	created := ev.(bus.TabCreatedEvent)
	pages, err := w.drv.Pages(ctx)
	if err != nil {
		w.Logger().Warn("popups: listing pages", "error", err)
		return nil
	}
	for _, p := range pages {
		if p.TargetID == created.TargetID {
			w.install(ctx, p.PageID)
			return nil
		}
	}
	return nil
}

func (w *PopupsWatchdog) install(ctx context.Context, pageID string) {
	if err := w.drv.DismissDialogs(ctx, pageID); err != nil {
		w.Logger().Warn("popups: install dismiss handler", "page", pageID, "error", err)
	}
}
