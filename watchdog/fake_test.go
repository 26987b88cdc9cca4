package watchdog

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/hazyhaar/webpilot/driver"
	"github.com/hazyhaar/webpilot/storagestate"
)

// fakeDriver is an in-memory Driver for watchdog tests. Listener callbacks
// are invoked synchronously by the emit helpers.
type fakeDriver struct {
	mu sync.Mutex

	discoveryErr     error
	discoveryEnabled bool
	detachCalls      int

	targets    []driver.TargetInfo
	targetsErr error
	pages      []driver.PageInfo

	onAttached map[int]func(string, driver.TargetInfo)
	onDetached map[int]func(string, string)
	onInfo     map[int]func(driver.TargetInfo)
	nextSub    int

	liveState  storagestate.State
	stateErr   error
	setCookies [][]storagestate.Cookie

	traceStarted bool
	traceStops   int
	traceErr     error
	stopTraceErr error

	videoStarts map[string]int
	videoStops  map[string]int
	closeFns    map[string]func()

	granted   [][]string
	dismissed []string
	navigated []string
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		onAttached:  make(map[int]func(string, driver.TargetInfo)),
		onDetached:  make(map[int]func(string, string)),
		onInfo:      make(map[int]func(driver.TargetInfo)),
		videoStarts: make(map[string]int),
		videoStops:  make(map[string]int),
		closeFns:    make(map[string]func()),
	}
}

func (f *fakeDriver) EnableDiscovery(ctx context.Context, targetTypes []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.discoveryErr != nil {
		return f.discoveryErr
	}
	f.discoveryEnabled = true
	return nil
}

func (f *fakeDriver) Targets(ctx context.Context) ([]driver.TargetInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.targetsErr != nil {
		return nil, f.targetsErr
	}
	return append([]driver.TargetInfo(nil), f.targets...), nil
}

func (f *fakeDriver) Detach(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detachCalls++
	return nil
}

func (f *fakeDriver) OnTargetAttached(fn func(string, driver.TargetInfo)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextSub
	f.nextSub++
	f.onAttached[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.onAttached, id)
	}
}

func (f *fakeDriver) OnTargetDetached(fn func(string, string)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextSub
	f.nextSub++
	f.onDetached[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.onDetached, id)
	}
}

func (f *fakeDriver) OnTargetInfoChanged(fn func(driver.TargetInfo)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextSub
	f.nextSub++
	f.onInfo[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.onInfo, id)
	}
}

func (f *fakeDriver) Pages(ctx context.Context) ([]driver.PageInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]driver.PageInfo(nil), f.pages...), nil
}

func (f *fakeDriver) OnPageClosed(pageID string, fn func()) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeFns[pageID] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.closeFns, pageID)
	}, nil
}

func (f *fakeDriver) StorageState(ctx context.Context) (storagestate.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.liveState, f.stateErr
}

func (f *fakeDriver) SetCookies(ctx context.Context, cookies []storagestate.Cookie) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setCookies = append(f.setCookies, cookies)
	return nil
}

func (f *fakeDriver) StartTrace(ctx context.Context, dir string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.traceErr != nil {
		return f.traceErr
	}
	f.traceStarted = true
	return nil
}

func (f *fakeDriver) StopTrace(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.traceStops++
	if f.stopTraceErr != nil {
		return "", f.stopTraceErr
	}
	return "/tmp/trace.json", nil
}

func (f *fakeDriver) StartVideo(ctx context.Context, pageID, dir string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.videoStarts[pageID]++
	return nil
}

func (f *fakeDriver) VideoPath(ctx context.Context, pageID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.videoStops[pageID]++
	return filepath.Join("/tmp/videos", pageID), nil
}

func (f *fakeDriver) GrantPermissions(ctx context.Context, origin string, permissions []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.granted = append(f.granted, permissions)
	return nil
}

func (f *fakeDriver) DismissDialogs(ctx context.Context, pageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dismissed = append(f.dismissed, pageID)
	return nil
}

func (f *fakeDriver) Navigate(ctx context.Context, targetID, url string, newTab bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.navigated = append(f.navigated, url)
	return nil
}

func (f *fakeDriver) Evaluate(ctx context.Context, pageID, js string) (string, error) {
	return "{}", nil
}

func (f *fakeDriver) emitAttached(sessionID string, info driver.TargetInfo) {
	f.mu.Lock()
	fns := make([]func(string, driver.TargetInfo), 0, len(f.onAttached))
	for _, fn := range f.onAttached {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(sessionID, info)
	}
}

func (f *fakeDriver) emitInfoChanged(info driver.TargetInfo) {
	f.mu.Lock()
	fns := make([]func(driver.TargetInfo), 0, len(f.onInfo))
	for _, fn := range f.onInfo {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(info)
	}
}

func (f *fakeDriver) emitDetached(sessionID, targetID string) {
	f.mu.Lock()
	fns := make([]func(string, string), 0, len(f.onDetached))
	for _, fn := range f.onDetached {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(sessionID, targetID)
	}
}

func (f *fakeDriver) emitPageClosed(pageID string) {
	f.mu.Lock()
	fn := f.closeFns[pageID]
	f.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (f *fakeDriver) listenerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.onAttached) + len(f.onDetached) + len(f.onInfo)
}

var _ driver.Driver = (*fakeDriver)(nil)
