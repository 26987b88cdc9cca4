package driver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/webpilot/storagestate"
)

// RodConfig configures the rod-backed driver.
type RodConfig struct {
	// ControlURL is the WebSocket URL of an external Chrome instance.
	// Empty = launch a local Chrome via launcher.
	ControlURL string

	// Headless launches Chrome without a display. Default: true.
	Headless bool

	// Stealth applies anti-detection patches to new pages.
	Stealth bool

	// NavTimeout bounds a single navigation. Default: 30s.
	NavTimeout time.Duration

	Logger *slog.Logger
}

func (c *RodConfig) defaults() {
	if c.NavTimeout <= 0 {
		c.NavTimeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

var _ Driver = (*Rod)(nil)

// Rod implements Driver over a go-rod browser connection.
type Rod struct {
	cfg    RodConfig
	logger *slog.Logger

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher

	// lifecycle context parents all event subscriptions so Close tears
	// every listener down at once.
	ctx    context.Context
	cancel context.CancelFunc

	tracePage *rod.Page
	traceDir  string
	videos    map[string]*screencast
}

// NewRod creates a rod driver. Call Connect before use.
func NewRod(cfg RodConfig) *Rod {
	cfg.defaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Rod{
		cfg:    cfg,
		logger: cfg.Logger,
		ctx:    ctx,
		cancel: cancel,
		videos: make(map[string]*screencast),
	}
}

// Connect launches Chrome (or connects to a remote instance).
func (r *Rod) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	wsURL := r.cfg.ControlURL
	if wsURL == "" {
		l := launcher.New().
			Headless(r.cfg.Headless).
			Set("disable-blink-features", "AutomationControlled")
		u, err := l.Launch()
		if err != nil {
			return fmt.Errorf("driver: launch: %w", err)
		}
		r.lnch = l
		wsURL = u
		r.logger.Info("driver: launched local chrome", "url", wsURL, "headless", r.cfg.Headless)
	} else {
		r.logger.Info("driver: connecting to remote", "url", wsURL)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return fmt.Errorf("driver: connect: %w", err)
	}
	if err := b.IgnoreCertErrors(true); err != nil {
		r.logger.Warn("driver: ignore cert errors failed", "error", err)
	}
	r.browser = b
	return nil
}

// Close cancels all subscriptions and shuts Chrome down.
func (r *Rod) Close() error {
	r.cancel()
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, sc := range r.videos {
		sc.stop()
		delete(r.videos, id)
	}
	if r.browser != nil {
		if err := r.browser.Close(); err != nil {
			r.logger.Warn("driver: browser close", "error", err)
		}
		r.browser = nil
	}
	if r.lnch != nil {
		r.lnch.Cleanup()
		r.lnch = nil
	}
	return nil
}

func (r *Rod) b() (*rod.Browser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.browser == nil {
		return nil, fmt.Errorf("driver: not connected")
	}
	return r.browser, nil
}

// EnableDiscovery enables target discovery plus flat auto-attach so that
// Target.attachedToTarget / detachedFromTarget notifications flow.
func (r *Rod) EnableDiscovery(ctx context.Context, targetTypes []string) error {
	b, err := r.b()
	if err != nil {
		return err
	}
	if err := (proto.TargetSetDiscoverTargets{Discover: true}).Call(b); err != nil {
		return fmt.Errorf("driver: setDiscoverTargets: %w", err)
	}
	err = proto.TargetSetAutoAttach{
		AutoAttach:             true,
		WaitForDebuggerOnStart: false,
		Flatten:                true,
	}.Call(b)
	if err != nil {
		return fmt.Errorf("driver: setAutoAttach: %w", err)
	}
	return nil
}

// Targets enumerates targets via Target.getTargets.
func (r *Rod) Targets(ctx context.Context) ([]TargetInfo, error) {
	b, err := r.b()
	if err != nil {
		return nil, err
	}
	res, err := proto.TargetGetTargets{}.Call(b)
	if err != nil {
		return nil, fmt.Errorf("driver: getTargets: %w", err)
	}
	out := make([]TargetInfo, 0, len(res.TargetInfos))
	for _, ti := range res.TargetInfos {
		out = append(out, infoFromProto(ti))
	}
	return out, nil
}

// Detach turns discovery back off. Best effort.
func (r *Rod) Detach(ctx context.Context) error {
	b, err := r.b()
	if err != nil {
		return err
	}
	if err := (proto.TargetSetDiscoverTargets{Discover: false}).Call(b); err != nil {
		return fmt.Errorf("driver: detach: %w", err)
	}
	return nil
}

func (r *Rod) OnTargetAttached(fn func(sessionID string, info TargetInfo)) func() {
	b, err := r.b()
	if err != nil {
		return func() {}
	}
	ctx, cancel := context.WithCancel(r.ctx)
	go b.Context(ctx).EachEvent(func(e *proto.TargetAttachedToTarget) {
		fn(string(e.SessionID), infoFromProto(e.TargetInfo))
	})()
	return cancel
}

func (r *Rod) OnTargetDetached(fn func(sessionID, targetID string)) func() {
	b, err := r.b()
	if err != nil {
		return func() {}
	}
	ctx, cancel := context.WithCancel(r.ctx)
	go b.Context(ctx).EachEvent(func(e *proto.TargetDetachedFromTarget) {
		fn(string(e.SessionID), string(e.TargetID))
	})()
	return cancel
}

func (r *Rod) OnTargetInfoChanged(fn func(info TargetInfo)) func() {
	b, err := r.b()
	if err != nil {
		return func() {}
	}
	ctx, cancel := context.WithCancel(r.ctx)
	go b.Context(ctx).EachEvent(func(e *proto.TargetTargetInfoChanged) {
		fn(infoFromProto(e.TargetInfo))
	})()
	return cancel
}

// Pages lists open page handles. The rod page's target id doubles as the
// page id: it is the only identity a rod handle carries across calls.
func (r *Rod) Pages(ctx context.Context) ([]PageInfo, error) {
	b, err := r.b()
	if err != nil {
		return nil, err
	}
	pages, err := b.Pages()
	if err != nil {
		return nil, fmt.Errorf("driver: pages: %w", err)
	}
	out := make([]PageInfo, 0, len(pages))
	for _, p := range pages {
		pi := PageInfo{PageID: string(p.TargetID), TargetID: string(p.TargetID)}
		if info, err := p.Info(); err == nil {
			pi.URL = info.URL
			pi.Title = info.Title
		}
		out = append(out, pi)
	}
	return out, nil
}

// OnPageClosed fires fn once when the page's target is destroyed.
func (r *Rod) OnPageClosed(pageID string, fn func()) (func(), error) {
	b, err := r.b()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(r.ctx)
	var once sync.Once
	go b.Context(ctx).EachEvent(func(e *proto.TargetTargetDestroyed) {
		if string(e.TargetID) != pageID {
			return
		}
		once.Do(fn)
		cancel()
	})()
	return cancel, nil
}

// StorageState reads cookies from the browser and localStorage from every
// open page, grouped by origin.
func (r *Rod) StorageState(ctx context.Context) (storagestate.State, error) {
	b, err := r.b()
	if err != nil {
		return storagestate.State{}, err
	}

	var st storagestate.State
	cookies, err := b.GetCookies()
	if err != nil {
		return storagestate.State{}, fmt.Errorf("driver: get cookies: %w", err)
	}
	for _, c := range cookies {
		st.Cookies = append(st.Cookies, storagestate.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  float64(c.Expires),
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: string(c.SameSite),
		})
	}

	pages, err := b.Pages()
	if err != nil {
		return st, nil // cookies alone are still useful
	}
	seen := make(map[string]bool)
	for _, p := range pages {
		origin, kvs, err := readLocalStorage(ctx, p)
		if err != nil || origin == "" || seen[origin] {
			continue
		}
		seen[origin] = true
		st.Origins = append(st.Origins, storagestate.Origin{Origin: origin, LocalStorage: kvs})
	}
	return st, nil
}

// SetCookies injects cookies via Network.setCookies.
func (r *Rod) SetCookies(ctx context.Context, cookies []storagestate.Cookie) error {
	b, err := r.b()
	if err != nil {
		return err
	}
	params := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, c := range cookies {
		p := &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		}
		if c.Expires > 0 {
			p.Expires = proto.TimeSinceEpoch(c.Expires)
		}
		if c.SameSite != "" {
			p.SameSite = proto.NetworkCookieSameSite(c.SameSite)
		}
		params = append(params, p)
	}
	if err := b.SetCookies(params); err != nil {
		return fmt.Errorf("driver: set cookies: %w", err)
	}
	return nil
}

// StartTrace begins trace capture on the first open page, streaming the
// result back on stop.
func (r *Rod) StartTrace(ctx context.Context, dir string) error {
	b, err := r.b()
	if err != nil {
		return err
	}
	pages, err := b.Pages()
	if err != nil || len(pages) == 0 {
		return fmt.Errorf("driver: no page to trace")
	}
	page := pages.First()
	err = proto.TracingStart{
		TransferMode: proto.TracingStartTransferModeReturnAsStream,
	}.Call(page)
	if err != nil {
		return fmt.Errorf("driver: tracing start: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("driver: trace dir: %w", err)
	}

	r.mu.Lock()
	r.tracePage = page
	r.traceDir = dir
	r.mu.Unlock()
	return nil
}

// StopTrace ends tracing, drains the result stream, and writes it to the
// trace directory.
func (r *Rod) StopTrace(ctx context.Context) (string, error) {
	r.mu.Lock()
	page := r.tracePage
	dir := r.traceDir
	r.tracePage = nil
	r.mu.Unlock()
	if page == nil {
		return "", fmt.Errorf("driver: tracing not started")
	}

	done := proto.TracingTracingComplete{}
	wait := page.WaitEvent(&done)
	if err := (proto.TracingEnd{}).Call(page); err != nil {
		return "", fmt.Errorf("driver: tracing end: %w", err)
	}
	wait()

	path := filepath.Join(dir, fmt.Sprintf("trace-%d.json", time.Now().UnixMilli()))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("driver: create trace file: %w", err)
	}
	defer f.Close()

	for {
		chunk, err := proto.IORead{Handle: done.Stream}.Call(page)
		if err != nil {
			return "", fmt.Errorf("driver: read trace stream: %w", err)
		}
		data := []byte(chunk.Data)
		if chunk.Base64Encoded {
			data, err = base64.StdEncoding.DecodeString(chunk.Data)
			if err != nil {
				return "", fmt.Errorf("driver: decode trace chunk: %w", err)
			}
		}
		if _, err := f.Write(data); err != nil {
			return "", fmt.Errorf("driver: write trace file: %w", err)
		}
		if chunk.EOF {
			break
		}
	}
	_ = proto.IOClose{Handle: done.Stream}.Call(page)
	return path, nil
}

// screencast captures JPEG frames for one page.
type screencast struct {
	dir    string
	page   *rod.Page
	cancel context.CancelFunc
}

func (sc *screencast) stop() {
	sc.cancel()
	_ = proto.PageStopScreencast{}.Call(sc.page)
}

// StartVideo begins a screencast for the page, writing numbered JPEG frames
// under dir/<pageID>/.
func (r *Rod) StartVideo(ctx context.Context, pageID, dir string) error {
	page, err := r.pageByID(pageID)
	if err != nil {
		return err
	}
	frameDir := filepath.Join(dir, pageID)
	if err := os.MkdirAll(frameDir, 0o755); err != nil {
		return fmt.Errorf("driver: video dir: %w", err)
	}

	quality := 70
	everyNth := 2
	err = proto.PageStartScreencast{
		Format:        proto.PageStartScreencastFormatJpeg,
		Quality:       &quality,
		EveryNthFrame: &everyNth,
	}.Call(page)
	if err != nil {
		return fmt.Errorf("driver: start screencast: %w", err)
	}

	scCtx, cancel := context.WithCancel(r.ctx)
	sc := &screencast{dir: frameDir, page: page, cancel: cancel}
	var n int
	go page.Context(scCtx).EachEvent(func(e *proto.PageScreencastFrame) {
		n++
		frame := filepath.Join(frameDir, fmt.Sprintf("%06d.jpg", n))
		if err := os.WriteFile(frame, e.Data, 0o644); err != nil {
			r.logger.Warn("driver: write frame", "error", err)
		}
		_ = proto.PageScreencastFrameAck{SessionID: e.SessionID}.Call(page)
	})()

	r.mu.Lock()
	r.videos[pageID] = sc
	r.mu.Unlock()
	return nil
}

// VideoPath stops the page's screencast and returns its frame directory.
func (r *Rod) VideoPath(ctx context.Context, pageID string) (string, error) {
	r.mu.Lock()
	sc, ok := r.videos[pageID]
	delete(r.videos, pageID)
	r.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("driver: no recording for page %s", pageID)
	}
	sc.stop()
	return sc.dir, nil
}

// GrantPermissions grants browser permissions, optionally scoped to origin.
func (r *Rod) GrantPermissions(ctx context.Context, origin string, permissions []string) error {
	b, err := r.b()
	if err != nil {
		return err
	}
	perms := make([]proto.BrowserPermissionType, 0, len(permissions))
	for _, p := range permissions {
		perms = append(perms, proto.BrowserPermissionType(p))
	}
	req := proto.BrowserGrantPermissions{Permissions: perms}
	if origin != "" {
		req.Origin = origin
	}
	if err := req.Call(b); err != nil {
		return fmt.Errorf("driver: grant permissions: %w", err)
	}
	return nil
}

// DismissDialogs auto-accepts JS dialogs (alert/confirm/prompt) on a page so
// an unattended session never hangs on a modal.
func (r *Rod) DismissDialogs(ctx context.Context, pageID string) error {
	page, err := r.pageByID(pageID)
	if err != nil {
		return err
	}
	go page.Context(r.ctx).EachEvent(func(e *proto.PageJavascriptDialogOpening) {
		if err := (proto.PageHandleJavaScriptDialog{Accept: true}).Call(page); err != nil {
			r.logger.Warn("driver: dismiss dialog", "error", err)
		}
	})()
	return nil
}

// Navigate drives a target to url, or opens a new tab. New tabs go through
// stealth.Page when stealth is enabled.
func (r *Rod) Navigate(ctx context.Context, targetID, urlStr string, newTab bool) error {
	b, err := r.b()
	if err != nil {
		return err
	}

	if newTab {
		var page *rod.Page
		if r.cfg.Stealth {
			page, err = stealth.Page(b)
		} else {
			page, err = b.Page(proto.TargetCreateTarget{URL: ""})
		}
		if err != nil {
			return fmt.Errorf("driver: create tab: %w", err)
		}
		return r.navigate(ctx, page, urlStr)
	}

	page, err := r.pageByID(targetID)
	if err != nil {
		return err
	}
	return r.navigate(ctx, page, urlStr)
}

func (r *Rod) navigate(ctx context.Context, page *rod.Page, urlStr string) error {
	navCtx, cancel := context.WithTimeout(ctx, r.cfg.NavTimeout)
	defer cancel()
	if err := page.Context(navCtx).Navigate(urlStr); err != nil {
		return fmt.Errorf("driver: navigate %s: %w", urlStr, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		r.logger.Warn("driver: wait load timeout", "url", urlStr, "error", err)
	}
	return nil
}

// Evaluate runs js in page context and returns the string result.
func (r *Rod) Evaluate(ctx context.Context, pageID, js string) (string, error) {
	page, err := r.pageByID(pageID)
	if err != nil {
		return "", err
	}
	res, err := page.Context(ctx).Eval(js)
	if err != nil {
		return "", fmt.Errorf("driver: eval: %w", err)
	}
	return res.Value.Str(), nil
}

func (r *Rod) pageByID(pageID string) (*rod.Page, error) {
	b, err := r.b()
	if err != nil {
		return nil, err
	}
	pages, err := b.Pages()
	if err != nil {
		return nil, fmt.Errorf("driver: pages: %w", err)
	}
	for _, p := range pages {
		if string(p.TargetID) == pageID {
			return p, nil
		}
	}
	return nil, fmt.Errorf("driver: page %s not found", pageID)
}

func infoFromProto(ti *proto.TargetTargetInfo) TargetInfo {
	if ti == nil {
		return TargetInfo{}
	}
	return TargetInfo{
		TargetID: string(ti.TargetID),
		Type:     string(ti.Type),
		URL:      ti.URL,
		Title:    ti.Title,
		Attached: ti.Attached,
	}
}

// readLocalStorage collects the page's localStorage as key/value pairs.
func readLocalStorage(ctx context.Context, page *rod.Page) (string, []storagestate.KV, error) {
	res, err := page.Context(ctx).Eval(`() => {
		const out = { origin: location.origin, items: [] };
		try {
			for (let i = 0; i < localStorage.length; i++) {
				const k = localStorage.key(i);
				out.items.push({ name: k, value: localStorage.getItem(k) });
			}
		} catch (e) { /* opaque origins throw */ }
		return JSON.stringify(out);
	}`)
	if err != nil {
		return "", nil, err
	}
	var parsed struct {
		Origin string           `json:"origin"`
		Items  []storagestate.KV `json:"items"`
	}
	if err := json.Unmarshal([]byte(res.Value.Str()), &parsed); err != nil {
		return "", nil, err
	}
	if u, err := url.Parse(parsed.Origin); err != nil || u.Scheme == "" {
		return "", nil, fmt.Errorf("driver: opaque origin")
	}
	return parsed.Origin, parsed.Items, nil
}
