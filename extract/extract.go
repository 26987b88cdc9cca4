// Package extract turns raw page HTML into clean markdown for the agent to
// read. The pipeline: parse, drop hidden and boilerplate subtrees, pick the
// main content region (semantic landmarks first, text density as fallback),
// sanitize, convert to markdown.
package extract

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

func newConverter() *converter.Converter {
	return converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
			table.NewTablePlugin(),
		),
	)
}

// Options tunes one extraction.
type Options struct {
	// MinTextLen is the minimum text length for a subtree to count as
	// content. Defaults to 80.
	MinTextLen int
}

// Result is the extracted page content.
type Result struct {
	Markdown string
	Text     string
	Title    string
	Hash     string
}

// FromHTML extracts readable content from a page's HTML.
func FromHTML(rawHTML string, opts Options) (*Result, error) {
	if opts.MinTextLen <= 0 {
		opts.MinTextLen = 80
	}

	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return nil, fmt.Errorf("extract: parse html: %w", err)
	}
	title := pageTitle(doc)
	pruneHidden(doc)

	content := pickContent(doc, opts.MinTextLen)
	if content == nil {
		return &Result{Title: title, Hash: hashText("")}, nil
	}

	sanitized := bluemonday.UGCPolicy().Sanitize(renderNode(content))
	md, err := newConverter().ConvertString(sanitized)
	if err != nil {
		return nil, fmt.Errorf("extract: markdown conversion: %w", err)
	}
	md = strings.TrimSpace(md)
	text := collectText(content)

	return &Result{
		Markdown: md,
		Text:     text,
		Title:    title,
		Hash:     hashText(md),
	}, nil
}

// pageTitle returns the <title> text, trimmed.
func pageTitle(doc *html.Node) string {
	var title string
	var walk func(*html.Node) bool
	walk = func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.DataAtom == atom.Title {
			title = strings.TrimSpace(collectText(n))
			return false
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if !walk(c) {
				return false
			}
		}
		return true
	}
	walk(doc)
	return title
}

// pruneHidden removes subtrees a reader cannot see: script-ish elements,
// hidden attributes, and inline display:none / visibility:hidden styles.
func pruneHidden(n *html.Node) {
	var next *html.Node
	for c := n.FirstChild; c != nil; c = next {
		next = c.NextSibling
		if c.Type == html.ElementNode && isHidden(c) {
			n.RemoveChild(c)
			continue
		}
		pruneHidden(c)
	}
}

func isHidden(n *html.Node) bool {
	switch n.DataAtom {
	case atom.Script, atom.Style, atom.Noscript, atom.Template, atom.Iframe:
		return true
	}
	for _, a := range n.Attr {
		switch a.Key {
		case "hidden":
			return true
		case "aria-hidden":
			if a.Val == "true" {
				return true
			}
		case "style":
			style := strings.ReplaceAll(strings.ToLower(a.Val), " ", "")
			if strings.Contains(style, "display:none") ||
				strings.Contains(style, "visibility:hidden") {
				return true
			}
		}
	}
	return false
}

func hashText(s string) string {
	h := sha256.Sum256([]byte(s))
	return fmt.Sprintf("%x", h[:16])
}
