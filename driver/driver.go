// Package driver defines the boundary to the underlying browser-control
// library and provides a go-rod implementation. Everything above this
// package speaks in terms of the Driver interface; nothing else imports the
// CDP wire types, so the protocol surface can change without touching the
// watchdogs.
package driver

import (
	"context"

	"github.com/hazyhaar/webpilot/storagestate"
)

// TargetInfo is the normalized shape of a CDP target notification.
type TargetInfo struct {
	TargetID string
	Type     string // "page" | "iframe" | ...
	URL      string
	Title    string
	Attached bool
}

// PageInfo describes one open page handle.
type PageInfo struct {
	PageID   string
	TargetID string
	URL      string
	Title    string
}

// Driver is the abstract CDP capability consumed by the watchdogs and the
// DOM service. Implementations must be safe for concurrent use. The remove
// functions returned by On* unsubscribe the listener and are idempotent.
type Driver interface {
	// EnableDiscovery turns on target discovery for the given target types
	// and enables auto-attach so attach/detach notifications flow.
	EnableDiscovery(ctx context.Context, targetTypes []string) error
	// Targets enumerates the currently known targets.
	Targets(ctx context.Context) ([]TargetInfo, error)
	// Detach tears down the discovery session. Best effort.
	Detach(ctx context.Context) error

	OnTargetAttached(fn func(sessionID string, info TargetInfo)) (remove func())
	OnTargetDetached(fn func(sessionID, targetID string)) (remove func())
	OnTargetInfoChanged(fn func(info TargetInfo)) (remove func())

	// Pages lists open page handles.
	Pages(ctx context.Context) ([]PageInfo, error)
	// OnPageClosed invokes fn once when the page's target is destroyed.
	OnPageClosed(pageID string, fn func()) (remove func(), err error)

	// StorageState reads live cookies and per-origin localStorage.
	StorageState(ctx context.Context) (storagestate.State, error)
	// SetCookies injects cookies into the browser.
	SetCookies(ctx context.Context, cookies []storagestate.Cookie) error

	// StartTrace begins trace capture; StopTrace finishes it and returns the
	// written file path.
	StartTrace(ctx context.Context, dir string) error
	StopTrace(ctx context.Context) (path string, err error)

	// StartVideo begins screencast capture for a page into dir; VideoPath
	// stops capture and returns where frames were written.
	StartVideo(ctx context.Context, pageID, dir string) error
	VideoPath(ctx context.Context, pageID string) (string, error)

	// GrantPermissions grants browser permissions, optionally scoped to an
	// origin (empty origin means all origins).
	GrantPermissions(ctx context.Context, origin string, permissions []string) error
	// DismissDialogs installs an auto-dismiss handler for JS dialogs on a page.
	DismissDialogs(ctx context.Context, pageID string) error

	// Navigate drives the target (or a new tab) to url.
	Navigate(ctx context.Context, targetID, url string, newTab bool) error
	// Evaluate runs a script in page context. Scripts return a JSON string;
	// Evaluate hands it back verbatim.
	Evaluate(ctx context.Context, pageID, js string) (string, error)
}
