// Package domhash re-identifies DOM elements across snapshots. Highlight
// indexes are only valid within one snapshot, so the agent persists a
// HistoryElement (structural hashes plus enough raw identity to fall back
// on) and asks this package whether the same element exists in a later,
// different tree.
//
// Three tiers, most to least precise: the exact element hash breaks under
// class churn from hover states and framework re-renders; the stable hash
// filters dynamic-state class tokens and survives that churn; the legacy
// three-hash tuple tolerates attribute drift but is positionally rigid.
// Stacking them maximizes recall while preferring precision.
package domhash

import (
	"crypto/sha256"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/hazyhaar/webpilot/dom"
)

// stableAttrs is the allow-list of attribute names that participate in
// hashing. Volatile attributes (inline style, framework-generated ids) are
// deliberately absent. aria-* names are matched by prefix.
var stableAttrs = map[string]bool{
	"id": true, "class": true, "name": true, "type": true, "role": true,
	"value": true, "placeholder": true, "title": true, "alt": true,
	"href": true, "src": true, "for": true, "action": true, "method": true,
	"target": true, "rel": true, "download": true, "required": true,
	"readonly": true, "disabled": true, "checked": true, "selected": true,
	"multiple": true, "maxlength": true, "minlength": true, "pattern": true,
	"min": true, "max": true, "step": true, "contenteditable": true,
	"tabindex": true, "data-testid": true, "data-test": true,
	"data-qa": true, "data-cy": true,
}

// dynamicClassPattern matches class tokens that encode transient UI state.
// A token like "btn-hover" or "is_active" toggles between renders without
// the element changing identity.
var dynamicClassPattern = regexp.MustCompile(
	`(^|[-_:])(hover|active|focus|focused|open|opened|closed|selected|` +
		`expanded|collapsed|pressed|checked|visible|hidden|show|hide|` +
		`loading|loaded|animating|current|highlight)($|[-_:])`)

// Hashed is the legacy 3-tuple identity used as the coarse fallback tier.
type Hashed struct {
	BranchPathHash string `json:"branch_path_hash"`
	AttributesHash string `json:"attributes_hash"`
	XPathHash      string `json:"xpath_hash"`
}

// HistoryElement is the serializable identity snapshot of one element,
// persisted in agent history and matched against later trees.
type HistoryElement struct {
	Tag              string            `json:"tag_name"`
	XPath            string            `json:"xpath"`
	HighlightIndex   *int              `json:"highlight_index,omitempty"`
	ParentBranchPath []string          `json:"entire_parent_branch_path"`
	Attributes       map[string]string `json:"attributes"`
	ElementHash      string            `json:"element_hash"`
	StableHash       string            `json:"stable_hash"`
	Legacy           Hashed            `json:"hashed"`
	AccessibleName   string            `json:"accessible_name,omitempty"`
}

// Capture records an element's identity for later re-identification.
func Capture(n *dom.ElementNode) *HistoryElement {
	return &HistoryElement{
		Tag:              n.Tag,
		XPath:            n.XPath,
		HighlightIndex:   n.HighlightIndex,
		ParentBranchPath: ParentBranchPath(n),
		Attributes:       n.AttrMap(),
		ElementHash:      ElementHash(n),
		StableHash:       StableHash(n),
		Legacy:           LegacyHash(n),
		AccessibleName:   AccessibleName(n),
	}
}

// ParentBranchPath returns the ancestor tag names from root to the element.
func ParentBranchPath(n *dom.ElementNode) []string {
	var rev []string
	for cur := n; cur != nil; cur = cur.Parent() {
		rev = append(rev, cur.Tag)
	}
	out := make([]string, len(rev))
	for i := range rev {
		out[i] = rev[len(rev)-1-i]
	}
	return out
}

// AccessibleName resolves a human-meaningful name: aria-label, else title,
// else the element's visible text, whitespace-collapsed and capped.
func AccessibleName(n *dom.ElementNode) string {
	if v, ok := n.Attr("aria-label"); ok && strings.TrimSpace(v) != "" {
		return collapse(v)
	}
	if v, ok := n.Attr("title"); ok && strings.TrimSpace(v) != "" {
		return collapse(v)
	}
	return collapse(n.Text())
}

// ElementHash is the exact identity variant: precise, but brittle under
// class churn.
func ElementHash(n *dom.ElementNode) string {
	return hashParts(
		strings.Join(ParentBranchPath(n), "/"),
		attrRepr(n, false),
		AccessibleName(n),
	)
}

// StableHash filters dynamic-state class tokens before hashing, so a class
// toggling between renders does not break identity.
func StableHash(n *dom.ElementNode) string {
	return hashParts(
		strings.Join(ParentBranchPath(n), "/"),
		attrRepr(n, true),
		AccessibleName(n),
	)
}

// LegacyHash computes the coarse 3-tuple fallback identity.
func LegacyHash(n *dom.ElementNode) Hashed {
	return LegacyOf(n.XPath, ParentBranchPath(n), n.AttrMap())
}

// LegacyOf computes the legacy tuple from raw parts; exposed so persisted
// history (which no longer has the node) can be rehashed.
func LegacyOf(xpath string, branch []string, attrs map[string]string) Hashed {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(attrs[k])
		b.WriteByte(';')
	}
	return Hashed{
		BranchPathHash: hashParts(strings.Join(branch, "/")),
		AttributesHash: hashParts(b.String()),
		XPathHash:      hashParts(xpath),
	}
}

// FindInTree locates the history element in a new tree. Only nodes carrying
// a highlight index are candidates. Exact hash is tried across the whole
// tree first, then stable hash, then the legacy tuple; first match wins.
// A nil result means "element no longer present", not an error.
func FindInTree(h *HistoryElement, root *dom.ElementNode) *dom.ElementNode {
	candidates := highlightedNodes(root)

	for _, n := range candidates {
		if ElementHash(n) == h.ElementHash {
			return n
		}
	}
	for _, n := range candidates {
		if StableHash(n) == h.StableHash {
			return n
		}
	}
	for _, n := range candidates {
		if LegacyHash(n) == h.Legacy {
			return n
		}
	}
	return nil
}

// Compare runs the same three-tier check against one known node, used to
// validate that the element acted on last step is still the same one.
func Compare(h *HistoryElement, n *dom.ElementNode) bool {
	if ElementHash(n) == h.ElementHash {
		return true
	}
	if StableHash(n) == h.StableHash {
		return true
	}
	return LegacyHash(n) == h.Legacy
}

func highlightedNodes(root *dom.ElementNode) []*dom.ElementNode {
	var out []*dom.ElementNode
	root.Walk(func(n *dom.ElementNode) bool {
		if n.HighlightIndex != nil {
			out = append(out, n)
		}
		return true
	})
	return out
}

// attrRepr renders the stable attributes sorted by name. With
// filterDynamic, class tokens matching the dynamic-state pattern are
// dropped first.
func attrRepr(n *dom.ElementNode, filterDynamic bool) string {
	type kv struct{ k, v string }
	var picked []kv
	for _, a := range n.Attrs() {
		if !stableAttrs[a.Name] && !strings.HasPrefix(a.Name, "aria-") {
			continue
		}
		v := a.Value
		if filterDynamic && a.Name == "class" {
			v = filterDynamicClasses(v)
		}
		picked = append(picked, kv{a.Name, v})
	}
	sort.Slice(picked, func(i, j int) bool { return picked[i].k < picked[j].k })
	var b strings.Builder
	for _, p := range picked {
		b.WriteString(p.k)
		b.WriteByte('=')
		b.WriteString(p.v)
		b.WriteByte(';')
	}
	return b.String()
}

func filterDynamicClasses(class string) string {
	var kept []string
	for _, tok := range strings.Fields(class) {
		if dynamicClassPattern.MatchString(strings.ToLower(tok)) {
			continue
		}
		kept = append(kept, tok)
	}
	return strings.Join(kept, " ")
}

func hashParts(parts ...string) string {
	h := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return fmt.Sprintf("%x", h[:16]) // 128 bits is plenty for identity
}

func collapse(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > 80 {
		s = s[:80]
	}
	return s
}
