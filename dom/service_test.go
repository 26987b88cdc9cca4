package dom

import (
	"errors"
	"testing"
)

// wire builds a snapshot payload the way snapshot.js would emit it.
const sampleWire = `{
	"rootId": "1",
	"map": {
		"1": {"tagName": "BODY", "xpath": "/body[1]", "attributes": [], "children": ["2", "4"], "isVisible": true},
		"2": {"tagName": "div", "xpath": "/body[1]/div[1]", "attributes": [["class", "wrap"]], "children": ["3"], "isVisible": true},
		"3": {"tagName": "button", "xpath": "/body[1]/div[1]/button[1]",
			"attributes": [["id", "go"], ["class", "btn"]],
			"children": ["5"], "isVisible": true, "isInteractive": true, "isInViewport": true,
			"highlightIndex": 0, "box": {"x": 10, "y": 20, "width": 100, "height": 30}},
		"4": {"tagName": "a", "xpath": "/body[1]/a[1]", "attributes": [["href", "/next"]],
			"children": [], "isVisible": true, "isInteractive": true, "isInViewport": true, "highlightIndex": 1},
		"5": {"type": "TEXT_NODE", "text": "Go", "isVisible": true}
	}
}`

func TestBuildTree(t *testing.T) {
	snap, err := BuildTree([]byte(sampleWire))
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	if snap.Root.Tag != "body" {
		t.Fatalf("root tag: got %q, want body", snap.Root.Tag)
	}
	if len(snap.Root.Children) != 2 {
		t.Fatalf("root children: got %d, want 2", len(snap.Root.Children))
	}
	if len(snap.SelectorMap) != 2 {
		t.Fatalf("selector map: got %d entries, want 2", len(snap.SelectorMap))
	}

	btn := snap.SelectorMap[0]
	if btn == nil || btn.Tag != "button" {
		t.Fatalf("selector 0: got %+v, want button", btn)
	}
	if v, _ := btn.Attr("id"); v != "go" {
		t.Fatalf("button id: got %q, want go", v)
	}
	if btn.Box == nil || btn.Box.Width != 100 {
		t.Fatalf("button box: got %+v", btn.Box)
	}
	if btn.Text() != "Go" {
		t.Fatalf("button text: got %q, want Go", btn.Text())
	}

	// Parent back-references follow the child wiring.
	if btn.Parent() == nil || btn.Parent().Tag != "div" {
		t.Fatalf("button parent: got %+v, want div", btn.Parent())
	}
	if btn.Parent().Parent() != snap.Root {
		t.Fatal("grandparent is not the root")
	}
	if snap.Root.Parent() != nil {
		t.Fatal("root has a parent")
	}
}

func TestBuildTreeDanglingChildSkipped(t *testing.T) {
	raw := `{"rootId": "1", "map": {
		"1": {"tagName": "body", "xpath": "/body[1]", "children": ["2", "99"], "isVisible": true},
		"2": {"tagName": "p", "xpath": "/body[1]/p[1]", "children": [], "isVisible": true}
	}}`
	snap, err := BuildTree([]byte(raw))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(snap.Root.Children) != 1 {
		t.Fatalf("children: got %d, want 1 (dangling id skipped)", len(snap.Root.Children))
	}
}

func TestBuildTreeBadRoot(t *testing.T) {
	for name, raw := range map[string]string{
		"missing root": `{"rootId": "9", "map": {"1": {"tagName": "body", "xpath": "/body[1]"}}}`,
		"text root":    `{"rootId": "1", "map": {"1": {"type": "TEXT_NODE", "text": "hi"}}}`,
		"empty map":    `{"rootId": "", "map": {}}`,
	} {
		if _, err := BuildTree([]byte(raw)); !errors.Is(err, ErrNoRoot) {
			t.Fatalf("%s: got %v, want ErrNoRoot", name, err)
		}
	}
}

func TestBuildTreeDuplicateHighlightIndex(t *testing.T) {
	raw := `{"rootId": "1", "map": {
		"1": {"tagName": "body", "xpath": "/body[1]", "children": ["2", "3"], "isVisible": true},
		"2": {"tagName": "a", "xpath": "/body[1]/a[1]", "children": [], "isVisible": true, "highlightIndex": 0},
		"3": {"tagName": "a", "xpath": "/body[1]/a[2]", "children": [], "isVisible": true, "highlightIndex": 0}
	}}`
	if _, err := BuildTree([]byte(raw)); err == nil {
		t.Fatal("duplicate highlight index accepted")
	}
}

func TestBuildTreeBadJSON(t *testing.T) {
	if _, err := BuildTree([]byte("{nope")); err == nil {
		t.Fatal("malformed payload: got nil error")
	}
}

func TestWalkStops(t *testing.T) {
	snap, err := BuildTree([]byte(sampleWire))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	var visited int
	snap.Root.Walk(func(n *ElementNode) bool {
		visited++
		return visited < 2
	})
	if visited != 2 {
		t.Fatalf("visited: got %d, want 2", visited)
	}
}

func TestScriptable(t *testing.T) {
	cases := []struct {
		url  string
		want bool
	}{
		{"https://a.test/page", true},
		{"http://a.test", true},
		{"file:///tmp/page.html", true},
		{"about:blank", false},
		{"chrome://settings", false},
		{"devtools://devtools/bundled", false},
		{"", false},
	}
	for _, c := range cases {
		if got := scriptable(c.url); got != c.want {
			t.Fatalf("scriptable(%q): got %v, want %v", c.url, got, c.want)
		}
	}
}

func TestEmptySnapshot(t *testing.T) {
	snap := emptySnapshot()
	if snap.Root == nil || snap.Root.Tag != "body" {
		t.Fatalf("root: got %+v", snap.Root)
	}
	if len(snap.SelectorMap) != 0 {
		t.Fatal("empty snapshot has selector entries")
	}
}
