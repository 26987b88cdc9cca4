package extract

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// boilerplateClasses marks subtrees that carry chrome, not content.
var boilerplateClasses = []string{
	"nav", "menu", "sidebar", "footer", "header", "banner", "advert",
	"ad-", "cookie", "consent", "popup", "modal", "share", "social",
	"comment", "related", "breadcrumb",
}

// pickContent chooses the main content node: semantic landmarks (<main>,
// <article>) when present, otherwise the densest non-boilerplate subtree of
// the body.
func pickContent(doc *html.Node, minLen int) *html.Node {
	for _, tag := range []atom.Atom{atom.Main, atom.Article} {
		for _, n := range findAllByTag(doc, tag) {
			if isBoilerplate(n) {
				continue
			}
			if len(collectText(n)) >= minLen {
				return n
			}
		}
	}

	body := findBody(doc)
	if body == nil {
		body = doc
	}
	if best := densestNode(body, minLen); best != nil {
		return best
	}
	if len(collectText(body)) > 0 {
		return body
	}
	return nil
}

type nodeScore struct {
	node     *html.Node
	textLen  int
	linkDens float64
	density  float64
}

// densestNode scores content-bearing subtrees by text-to-markup ratio,
// penalizing link-heavy regions (navigation reads as text too).
func densestNode(root *html.Node, minLen int) *html.Node {
	var candidates []nodeScore

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type != html.ElementNode || isBoilerplate(n) {
			return
		}
		if isContentTag(n.DataAtom) || n.DataAtom == atom.Body {
			text := collectText(n)
			if len(text) >= minLen {
				markup := len(renderNode(n))
				if markup == 0 {
					markup = 1
				}
				linkLen := len(collectLinkText(n))
				candidates = append(candidates, nodeScore{
					node:     n,
					textLen:  len(text),
					linkDens: float64(linkLen) / float64(len(text)),
					density:  float64(len(text)) / float64(markup),
				})
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	var best *nodeScore
	var bestScore float64
	for i := range candidates {
		c := &candidates[i]
		if c.linkDens > 0.5 {
			continue
		}
		score := c.density * logScale(c.textLen) * (1 - c.linkDens)
		if score > bestScore {
			bestScore = score
			best = c
		}
	}
	if best == nil {
		return nil
	}
	return best.node
}

func logScale(n int) float64 {
	if n <= 0 {
		return 0
	}
	scale := 1.0
	for v := n; v > 100; v /= 2 {
		scale++
	}
	return scale
}

func isContentTag(a atom.Atom) bool {
	switch a {
	case atom.Div, atom.Section, atom.Article, atom.Main, atom.P, atom.Td:
		return true
	}
	return false
}

func isBoilerplate(n *html.Node) bool {
	switch n.DataAtom {
	case atom.Nav, atom.Footer, atom.Aside, atom.Header, atom.Form:
		return true
	}
	role := getAttr(n, "role")
	switch role {
	case "navigation", "banner", "contentinfo", "complementary", "search":
		return true
	}
	idClass := strings.ToLower(getAttr(n, "id") + " " + getAttr(n, "class"))
	for _, marker := range boilerplateClasses {
		if strings.Contains(idClass, marker) {
			return true
		}
	}
	return false
}

func collectText(n *html.Node) string {
	var sb strings.Builder
	var f func(*html.Node)
	f = func(n *html.Node) {
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				if sb.Len() > 0 {
					sb.WriteByte(' ')
				}
				sb.WriteString(text)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
		}
	}
	f(n)
	return sb.String()
}

func collectLinkText(n *html.Node) string {
	var sb strings.Builder
	var f func(*html.Node, bool)
	f = func(n *html.Node, inLink bool) {
		if n.Type == html.ElementNode && n.DataAtom == atom.A {
			inLink = true
		}
		if n.Type == html.TextNode && inLink {
			sb.WriteString(strings.TrimSpace(n.Data))
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c, inLink)
		}
	}
	f(n, false)
	return sb.String()
}

func renderNode(n *html.Node) string {
	var sb strings.Builder
	if err := html.Render(&sb, n); err != nil {
		return ""
	}
	return sb.String()
}

func findBody(doc *html.Node) *html.Node {
	var body *html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if body != nil {
			return
		}
		if n.Type == html.ElementNode && n.DataAtom == atom.Body {
			body = n
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return body
}

func findAllByTag(root *html.Node, tag atom.Atom) []*html.Node {
	var results []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == tag {
			results = append(results, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return results
}

func getAttr(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}
