package bus

// Kind identifies an event type on the bus. Watchdogs subscribe by Kind and
// dispatch concrete events; the Kind string doubles as the wire-stable name
// used in logs and handler ids.
type Kind string

const (
	KindBrowserConnected   Kind = "BrowserConnectedEvent"
	KindBrowserStop        Kind = "BrowserStopEvent"
	KindBrowserStopped     Kind = "BrowserStoppedEvent"
	KindBrowserError       Kind = "BrowserErrorEvent"
	KindTabCreated         Kind = "TabCreatedEvent"
	KindTabClosed          Kind = "TabClosedEvent"
	KindNavigationComplete Kind = "NavigationCompleteEvent"
	KindNavigateToURL      Kind = "NavigateToURLEvent"
	KindFocusChanged       Kind = "FocusChangedEvent"
	KindSaveStorageState   Kind = "SaveStorageStateEvent"
	KindLoadStorageState   Kind = "LoadStorageStateEvent"
	KindStorageStateSaved  Kind = "StorageStateSavedEvent"
	KindStorageStateLoaded Kind = "StorageStateLoadedEvent"
)

// Event is a tagged, immutable record delivered through the Bus. Events are
// the only channel between watchdogs; watchdogs never call each other.
type Event interface {
	Kind() Kind
}

// BrowserConnectedEvent announces that the CDP driver is connected and the
// browser is ready. CDPURL is the debugging endpoint, informational only.
type BrowserConnectedEvent struct {
	CDPURL string
}

func (BrowserConnectedEvent) Kind() Kind { return KindBrowserConnected }

// BrowserStopEvent requests an orderly shutdown. Watchdogs that need to act
// before the browser goes away (final storage save) listen to this; the
// actual teardown signal is BrowserStoppedEvent.
type BrowserStopEvent struct{}

func (BrowserStopEvent) Kind() Kind { return KindBrowserStop }

// BrowserStoppedEvent announces that the browser is gone. Watchdogs release
// native listeners and timers on this event.
type BrowserStoppedEvent struct{}

func (BrowserStoppedEvent) Kind() Kind { return KindBrowserStopped }

// BrowserErrorEvent carries a recoverable failure with a stable ErrorType tag
// so consumers can branch without parsing messages.
type BrowserErrorEvent struct {
	ErrorType string
	Message   string
	Details   map[string]any
}

func (BrowserErrorEvent) Kind() Kind { return KindBrowserError }

// TabCreatedEvent is dispatched once per newly discovered target.
type TabCreatedEvent struct {
	TargetID string
	URL      string
}

func (TabCreatedEvent) Kind() Kind { return KindTabCreated }

// TabClosedEvent is dispatched when a target is removed from tracking.
type TabClosedEvent struct {
	TargetID string
}

func (TabClosedEvent) Kind() Kind { return KindTabClosed }

// NavigationCompleteEvent is dispatched when a tracked target's URL changed.
// Title-only changes do not produce this event.
type NavigationCompleteEvent struct {
	TargetID string
	URL      string
}

func (NavigationCompleteEvent) Kind() Kind { return KindNavigationComplete }

// NavigateToURLEvent asks the owner of the focused tab to navigate.
type NavigateToURLEvent struct {
	URL    string
	NewTab bool
}

func (NavigateToURLEvent) Kind() Kind { return KindNavigateToURL }

// FocusChangedEvent announces that the agent is now looking at TargetID.
type FocusChangedEvent struct {
	TargetID string
}

func (FocusChangedEvent) Kind() Kind { return KindFocusChanged }

// SaveStorageStateEvent requests a cookie/origin-storage save. Path overrides
// the configured destination when non-empty.
type SaveStorageStateEvent struct {
	Path string
}

func (SaveStorageStateEvent) Kind() Kind { return KindSaveStorageState }

// LoadStorageStateEvent requests a cookie/origin-storage restore.
type LoadStorageStateEvent struct {
	Path string
}

func (LoadStorageStateEvent) Kind() Kind { return KindLoadStorageState }

// StorageStateSavedEvent reports a completed save.
type StorageStateSavedEvent struct {
	Path    string
	Cookies int
	Origins int
}

func (StorageStateSavedEvent) Kind() Kind { return KindStorageStateSaved }

// StorageStateLoadedEvent reports a completed restore.
type StorageStateLoadedEvent struct {
	Path    string
	Cookies int
	Origins int
}

func (StorageStateLoadedEvent) Kind() Kind { return KindStorageStateLoaded }
