// Package dom builds an element tree from a live page snapshot. The tree
// mirrors the DOM at snapshot time: ownership runs strictly root-to-children,
// parent links are traversal-only back-references, and every element the
// agent may act on carries a dense highlight index valid for this snapshot
// only.
package dom

// Node is either an *ElementNode or a *TextNode.
type Node interface {
	node()
}

// Attr is one element attribute. Attributes keep document order; names are
// unique within an element.
type Attr struct {
	Name  string
	Value string
}

// Box is an element's bounding box in page coordinates.
type Box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// ElementNode is one element of the snapshot tree.
type ElementNode struct {
	Tag      string
	XPath    string
	Children []Node

	Interactive bool
	Visible     bool
	InViewport  bool
	// HighlightIndex is set only for elements the agent may act on. Dense
	// integers assigned at snapshot time; not stable across snapshots.
	HighlightIndex *int
	ShadowRoot     bool
	Box            *Box

	attrs  []Attr
	parent *ElementNode
}

func (*ElementNode) node() {}

// Parent returns the traversal-only back-reference, nil at the root.
func (n *ElementNode) Parent() *ElementNode { return n.parent }

// Attr returns the value of the named attribute.
func (n *ElementNode) Attr(name string) (string, bool) {
	for _, a := range n.attrs {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// SetAttr sets an attribute, replacing in place to keep document order.
func (n *ElementNode) SetAttr(name, value string) {
	for i := range n.attrs {
		if n.attrs[i].Name == name {
			n.attrs[i].Value = value
			return
		}
	}
	n.attrs = append(n.attrs, Attr{Name: name, Value: value})
}

// Attrs returns the ordered attribute list.
func (n *ElementNode) Attrs() []Attr { return n.attrs }

// AttrMap returns the attributes as a plain map (order lost).
func (n *ElementNode) AttrMap() map[string]string {
	m := make(map[string]string, len(n.attrs))
	for _, a := range n.attrs {
		m[a.Name] = a.Value
	}
	return m
}

// AppendChild attaches a child and wires its back-reference.
func (n *ElementNode) AppendChild(c Node) {
	n.Children = append(n.Children, c)
	switch child := c.(type) {
	case *ElementNode:
		child.parent = n
	case *TextNode:
		child.parent = n
	}
}

// Walk visits every element node depth-first, pre-order. Returning false
// from fn stops the walk.
func (n *ElementNode) Walk(fn func(*ElementNode) bool) bool {
	if !fn(n) {
		return false
	}
	for _, c := range n.Children {
		if el, ok := c.(*ElementNode); ok {
			if !el.Walk(fn) {
				return false
			}
		}
	}
	return true
}

// Text collects the element's visible text content, depth-first.
func (n *ElementNode) Text() string {
	var out []byte
	var rec func(Node)
	rec = func(c Node) {
		switch v := c.(type) {
		case *TextNode:
			if v.Visible {
				if len(out) > 0 {
					out = append(out, ' ')
				}
				out = append(out, v.Text...)
			}
		case *ElementNode:
			for _, cc := range v.Children {
				rec(cc)
			}
		}
	}
	for _, c := range n.Children {
		rec(c)
	}
	return string(out)
}

// TextNode is a text leaf of the snapshot tree.
type TextNode struct {
	Text    string
	Visible bool

	parent *ElementNode
}

func (*TextNode) node() {}

// Parent returns the traversal-only back-reference.
func (t *TextNode) Parent() *ElementNode { return t.parent }
