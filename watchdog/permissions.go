package watchdog

import (
	"context"
	"log/slog"

	"github.com/hazyhaar/webpilot/bus"
	"github.com/hazyhaar/webpilot/driver"
)

// PermissionsWatchdog grants a configured permission set when the browser
// connects and again on every new tab, so prompts (geolocation,
// notifications, clipboard) never block the agent.
type PermissionsWatchdog struct {
	*Base
	drv   driver.Driver
	perms []string
}

// NewPermissions creates the permissions watchdog. An empty permission list
// yields a watchdog that attaches but does nothing.
func NewPermissions(drv driver.Driver, perms []string, logger *slog.Logger) (*PermissionsWatchdog, error) {
	w := &PermissionsWatchdog{
		Base: NewBase("permissions", []bus.Kind{
			bus.KindBrowserConnected,
			bus.KindTabCreated,
		}, nil, logger),
		drv:   drv,
		perms: perms,
	}
	if err := w.Handle(bus.KindBrowserConnected, w.grant); err != nil {
		return nil, err
	}
	if err := w.Handle(bus.KindTabCreated, w.grant); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *PermissionsWatchdog) grant(ctx context.Context, _ bus.Event) error {
	if len(w.perms) == 0 {
		return nil
	}
	if err := w.drv.GrantPermissions(ctx, "", w.perms); err != nil {
		// A failed grant only means prompts may appear; not fatal.
		w.Logger().Warn("permissions: grant failed", "error", err)
	}
	return nil
}
