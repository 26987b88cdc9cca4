package dom

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/hazyhaar/webpilot/driver"
)

//go:embed snapshot.js
var snapshotJS string

// ErrNoRoot is returned when the in-page snapshot has no resolvable element
// root. No recovery exists inside the DOM layer; callers treat the step as
// failed and retry on the next one.
var ErrNoRoot = errors.New("dom: failed to construct DOM tree")

// Options tunes one snapshot.
type Options struct {
	// Highlight draws index badges on interactive elements in-page.
	Highlight bool
	// FocusIndex narrows highlighting to a single element, -1 for all.
	FocusIndex int
	// ViewportExpansion extends the "in viewport" band by this many pixels
	// above and below the visible area. -1 disables the viewport filter.
	ViewportExpansion int
}

// Snapshot is the result of one page capture: the element tree plus the
// index->node selector map used for O(1) action resolution.
type Snapshot struct {
	Root        *ElementNode
	SelectorMap map[int]*ElementNode
}

// Service captures element trees from live pages through the CDP driver.
type Service struct {
	drv    driver.Driver
	logger *slog.Logger
}

// NewService creates a DOM service.
func NewService(drv driver.Driver, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{drv: drv, logger: logger}
}

// ClickableElements evaluates the bundled snapshot script in the page and
// builds the element tree. Pages that cannot execute script (new-tab and
// browser-internal pages) return an empty single-node tree rather than an
// error.
func (s *Service) ClickableElements(ctx context.Context, page driver.PageInfo, opts Options) (*Snapshot, error) {
	if !scriptable(page.URL) {
		s.logger.Debug("dom: non-scriptable page, returning empty tree", "url", page.URL)
		return emptySnapshot(), nil
	}

	args, err := json.Marshal(map[string]any{
		"doHighlightElements": opts.Highlight,
		"focusHighlightIndex": opts.FocusIndex,
		"viewportExpansion":   opts.ViewportExpansion,
	})
	if err != nil {
		return nil, fmt.Errorf("dom: marshal args: %w", err)
	}

	js := fmt.Sprintf("() => (%s)(%s)", snapshotJS, args)
	raw, err := s.drv.Evaluate(ctx, page.PageID, js)
	if err != nil {
		return nil, fmt.Errorf("dom: snapshot eval: %w", err)
	}

	snap, err := BuildTree([]byte(raw))
	if err != nil {
		return nil, err
	}
	s.logger.Debug("dom: snapshot built",
		"url", page.URL, "interactive", len(snap.SelectorMap))
	return snap, nil
}

// wireNode is the serialized shape produced by snapshot.js. Attributes are a
// pair list, not an object, to preserve document order.
type wireNode struct {
	Type           string      `json:"type,omitempty"` // "TEXT_NODE" for text leaves
	Text           string      `json:"text,omitempty"`
	TagName        string      `json:"tagName,omitempty"`
	XPath          string      `json:"xpath,omitempty"`
	Attributes     [][2]string `json:"attributes,omitempty"`
	Children       []string    `json:"children,omitempty"`
	IsInteractive  bool        `json:"isInteractive,omitempty"`
	IsVisible      bool        `json:"isVisible,omitempty"`
	IsInViewport   bool        `json:"isInViewport,omitempty"`
	HighlightIndex *int        `json:"highlightIndex,omitempty"`
	ShadowRoot     bool        `json:"shadowRoot,omitempty"`
	Box            *Box        `json:"box,omitempty"`
}

type wireTree struct {
	RootID string              `json:"rootId"`
	Map    map[string]wireNode `json:"map"`
}

// BuildTree constructs the element tree from the snapshot script's output.
// Two passes: first instantiate every node keyed by serialized id, then wire
// children and parent back-references from each node's child-id list. The
// selector map is filled in the same pass.
func BuildTree(raw []byte) (*Snapshot, error) {
	var wt wireTree
	if err := json.Unmarshal(raw, &wt); err != nil {
		return nil, fmt.Errorf("dom: parse snapshot: %w", err)
	}

	nodes := make(map[string]Node, len(wt.Map))
	for id, wn := range wt.Map {
		if wn.Type == "TEXT_NODE" {
			nodes[id] = &TextNode{Text: wn.Text, Visible: wn.IsVisible}
			continue
		}
		el := &ElementNode{
			Tag:            strings.ToLower(wn.TagName),
			XPath:          wn.XPath,
			Interactive:    wn.IsInteractive,
			Visible:        wn.IsVisible,
			InViewport:     wn.IsInViewport,
			HighlightIndex: wn.HighlightIndex,
			ShadowRoot:     wn.ShadowRoot,
			Box:            wn.Box,
		}
		for _, pair := range wn.Attributes {
			el.SetAttr(pair[0], pair[1])
		}
		nodes[id] = el
	}

	selector := make(map[int]*ElementNode)
	for id, wn := range wt.Map {
		el, ok := nodes[id].(*ElementNode)
		if !ok {
			continue
		}
		for _, childID := range wn.Children {
			child, ok := nodes[childID]
			if !ok {
				continue // dangling id: node vanished mid-snapshot
			}
			el.AppendChild(child)
		}
		if el.HighlightIndex != nil {
			idx := *el.HighlightIndex
			if _, dup := selector[idx]; dup {
				return nil, fmt.Errorf("dom: duplicate highlight index %d in snapshot", idx)
			}
			selector[idx] = el
		}
	}

	root, ok := nodes[wt.RootID].(*ElementNode)
	if !ok || root == nil {
		return nil, ErrNoRoot
	}
	return &Snapshot{Root: root, SelectorMap: selector}, nil
}

// scriptable reports whether a page can run the snapshot script.
func scriptable(pageURL string) bool {
	if pageURL == "" || pageURL == "about:blank" {
		return false
	}
	u, err := url.Parse(pageURL)
	if err != nil {
		return false
	}
	switch u.Scheme {
	case "http", "https", "file":
		return true
	}
	return false
}

func emptySnapshot() *Snapshot {
	return &Snapshot{
		Root:        &ElementNode{Tag: "body", XPath: "/body"},
		SelectorMap: map[int]*ElementNode{},
	}
}
