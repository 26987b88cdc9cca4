package extract

import (
	"strings"
	"testing"
)

const samplePage = `<!DOCTYPE html>
<html><head><title>Release Notes</title><style>.x{color:red}</style></head>
<body>
  <nav><a href="/">Home</a> <a href="/docs">Docs</a> <a href="/blog">Blog</a></nav>
  <div class="cookie-banner">We use cookies to improve your experience.</div>
  <main>
    <h1>Version 2.0</h1>
    <p>This release introduces a rewritten scheduler that cuts tail latency in
    half under sustained load. The previous design serialized dispatch through
    a single queue; the new one shards work across per-core queues.</p>
    <p>Upgrading requires no configuration changes. Existing deployments pick
    up the new scheduler on restart.</p>
    <script>trackPageView();</script>
    <p style="display:none">internal draft marker, do not publish</p>
  </main>
  <footer>Copyright 2026. All rights reserved.</footer>
</body></html>`

func TestFromHTML(t *testing.T) {
	res, err := FromHTML(samplePage, Options{})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}

	if res.Title != "Release Notes" {
		t.Fatalf("title: got %q, want Release Notes", res.Title)
	}
	if !strings.Contains(res.Markdown, "rewritten scheduler") {
		t.Fatalf("markdown missing content: %q", res.Markdown)
	}
	if strings.Contains(res.Markdown, "Version 2.0") == false {
		t.Fatalf("markdown missing heading: %q", res.Markdown)
	}
	for _, gone := range []string{
		"trackPageView",
		"internal draft marker",
		"We use cookies",
		"All rights reserved",
	} {
		if strings.Contains(res.Markdown, gone) {
			t.Fatalf("markdown contains stripped content %q", gone)
		}
	}
	if res.Hash == "" {
		t.Fatal("hash empty")
	}
}

func TestFromHTMLDeterministicHash(t *testing.T) {
	a, err := FromHTML(samplePage, Options{})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	b, err := FromHTML(samplePage, Options{})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if a.Hash != b.Hash {
		t.Fatal("hash differs across identical inputs")
	}
}

func TestFromHTMLEmptyPage(t *testing.T) {
	res, err := FromHTML("<html><body></body></html>", Options{})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if res.Markdown != "" {
		t.Fatalf("markdown for empty page: %q", res.Markdown)
	}
}

func TestFromHTMLDensityFallback(t *testing.T) {
	// No <main>/<article>: density scoring must find the content div, not
	// the link-heavy navigation div.
	page := `<html><body>
	<div class="menu"><a href="/a">Alpha</a><a href="/b">Beta</a><a href="/c">Gamma</a><a href="/d">Delta</a></div>
	<div class="post-body"><p>` + strings.Repeat("Plain readable sentence content here. ", 20) + `</p></div>
	</body></html>`

	res, err := FromHTML(page, Options{})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if !strings.Contains(res.Markdown, "Plain readable sentence") {
		t.Fatalf("content paragraph missing: %q", res.Markdown)
	}
	if strings.Contains(res.Markdown, "Alpha") {
		t.Fatalf("navigation leaked into content: %q", res.Markdown)
	}
}

func TestIsHidden(t *testing.T) {
	res, err := FromHTML(`<html><body><main>
	<p>`+strings.Repeat("Visible text stays in the output. ", 10)+`</p>
	<div aria-hidden="true">screen-reader hidden</div>
	<div hidden>attribute hidden</div>
	<div style="visibility: hidden">style hidden</div>
	</main></body></html>`, Options{})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	for _, gone := range []string{"screen-reader hidden", "attribute hidden", "style hidden"} {
		if strings.Contains(res.Markdown, gone) {
			t.Fatalf("hidden content %q survived", gone)
		}
	}
}
