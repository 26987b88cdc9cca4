package domhash

import (
	"testing"

	"github.com/hazyhaar/webpilot/dom"
)

// page builds a small tree: body > form > button, with the button carrying
// highlight index 0.
func page(buttonClass string) (*dom.ElementNode, *dom.ElementNode) {
	body := &dom.ElementNode{Tag: "body", XPath: "/body[1]", Visible: true}
	form := &dom.ElementNode{Tag: "form", XPath: "/body[1]/form[1]", Visible: true}
	idx := 0
	btn := &dom.ElementNode{
		Tag:            "button",
		XPath:          "/body[1]/form[1]/button[1]",
		Visible:        true,
		Interactive:    true,
		InViewport:     true,
		HighlightIndex: &idx,
	}
	btn.SetAttr("id", "submit")
	btn.SetAttr("class", buttonClass)
	btn.AppendChild(&dom.TextNode{Text: "Send", Visible: true})
	form.AppendChild(btn)
	body.AppendChild(form)
	return body, btn
}

func TestParentBranchPath(t *testing.T) {
	_, btn := page("btn")
	got := ParentBranchPath(btn)
	want := []string{"body", "form", "button"}
	if len(got) != len(want) {
		t.Fatalf("branch: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("branch[%d]: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestAccessibleNamePrecedence(t *testing.T) {
	_, btn := page("btn")
	if got := AccessibleName(btn); got != "Send" {
		t.Fatalf("text fallback: got %q, want Send", got)
	}
	btn.SetAttr("title", "Submit the form")
	if got := AccessibleName(btn); got != "Submit the form" {
		t.Fatalf("title: got %q", got)
	}
	btn.SetAttr("aria-label", "Send message")
	if got := AccessibleName(btn); got != "Send message" {
		t.Fatalf("aria-label: got %q", got)
	}
}

func TestStableHashSurvivesClassChurn(t *testing.T) {
	_, before := page("btn primary")
	_, after := page("btn primary is-hover focus:ring")

	if ElementHash(before) == ElementHash(after) {
		t.Fatal("exact hash identical despite class change")
	}
	if StableHash(before) != StableHash(after) {
		t.Fatal("stable hash broken by dynamic class tokens")
	}

	// A genuinely different class still changes the stable hash.
	_, other := page("btn secondary")
	if StableHash(before) == StableHash(other) {
		t.Fatal("stable hash blind to real class difference")
	}
}

func TestFilterDynamicClasses(t *testing.T) {
	got := filterDynamicClasses("btn is-active md:open selected primary")
	if got != "btn primary" {
		t.Fatalf("filtered: got %q, want %q", got, "btn primary")
	}
}

func TestFindInTreeExactTier(t *testing.T) {
	_, btn := page("btn")
	h := Capture(btn)

	newRoot, _ := page("btn")
	found := FindInTree(h, newRoot)
	if found == nil || found.Tag != "button" {
		t.Fatalf("exact tier: got %+v", found)
	}
}

func TestFindInTreeStableTier(t *testing.T) {
	_, btn := page("btn")
	h := Capture(btn)

	// Re-rendered page where the button gained a hover class.
	newRoot, newBtn := page("btn is-hover")
	found := FindInTree(h, newRoot)
	if found != newBtn {
		t.Fatalf("stable tier: got %+v, want the churned button", found)
	}
}

func TestFindInTreeLegacyTier(t *testing.T) {
	_, btn := page("btn")
	h := Capture(btn)
	// Break both structural hashes but keep xpath/branch/attributes: change
	// the accessible name.
	newRoot, newBtn := page("btn")
	newBtn.Children = nil
	newBtn.AppendChild(&dom.TextNode{Text: "Submit now", Visible: true})

	found := FindInTree(h, newRoot)
	if found != newBtn {
		t.Fatalf("legacy tier: got %+v, want the renamed button", found)
	}
}

func TestFindInTreeIgnoresUnhighlighted(t *testing.T) {
	_, btn := page("btn")
	h := Capture(btn)

	newRoot, newBtn := page("btn")
	newBtn.HighlightIndex = nil // no longer actionable

	if found := FindInTree(h, newRoot); found != nil {
		t.Fatalf("unhighlighted node matched: %+v", found)
	}
}

func TestFindInTreeGone(t *testing.T) {
	_, btn := page("btn")
	h := Capture(btn)

	empty := &dom.ElementNode{Tag: "body", XPath: "/body[1]"}
	if found := FindInTree(h, empty); found != nil {
		t.Fatalf("match in empty tree: %+v", found)
	}
}

func TestCompare(t *testing.T) {
	_, btn := page("btn")
	h := Capture(btn)

	_, same := page("btn")
	if !Compare(h, same) {
		t.Fatal("identical element did not compare equal")
	}
	_, churned := page("btn is-active")
	if !Compare(h, churned) {
		t.Fatal("class-churned element did not compare equal")
	}

	other := &dom.ElementNode{Tag: "a", XPath: "/body[1]/a[1]"}
	other.SetAttr("href", "/elsewhere")
	if Compare(h, other) {
		t.Fatal("unrelated element compared equal")
	}
}

func TestCaptureFields(t *testing.T) {
	_, btn := page("btn")
	h := Capture(btn)

	if h.Tag != "button" || h.XPath != "/body[1]/form[1]/button[1]" {
		t.Fatalf("capture identity: %+v", h)
	}
	if h.HighlightIndex == nil || *h.HighlightIndex != 0 {
		t.Fatalf("highlight index: %+v", h.HighlightIndex)
	}
	if h.ElementHash == "" || h.StableHash == "" || h.Legacy.XPathHash == "" {
		t.Fatal("capture left hashes empty")
	}
	if h.AccessibleName != "Send" {
		t.Fatalf("accessible name: got %q", h.AccessibleName)
	}
}
