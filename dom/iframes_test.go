package dom

import "testing"

func iframe(src string, visible bool) *ElementNode {
	n := &ElementNode{Tag: "iframe", Visible: visible}
	if src != "" {
		n.SetAttr("src", src)
	}
	return n
}

func TestCrossOriginIFrames(t *testing.T) {
	root := &ElementNode{Tag: "body", Visible: true}
	root.AppendChild(iframe("https://widget.example/embed", true))
	root.AppendChild(iframe("https://a.test/same-origin", true))
	root.AppendChild(iframe("https://hidden.example/x", false))
	root.AppendChild(iframe("https://ads.doubleclick.net/frame", true))
	root.AppendChild(iframe("", true))
	root.AppendChild(iframe("/relative/path", true))

	got := CrossOriginIFrames(&Snapshot{Root: root}, "https://a.test/page")

	if len(got) != 1 || got[0] != "https://widget.example/embed" {
		t.Fatalf("iframes: got %v, want [https://widget.example/embed]", got)
	}
}

func TestCrossOriginIFramesAdSubdomain(t *testing.T) {
	root := &ElementNode{Tag: "body", Visible: true}
	root.AppendChild(iframe("https://sub.googlesyndication.com/ad", true))

	got := CrossOriginIFrames(&Snapshot{Root: root}, "https://a.test")
	if len(got) != 0 {
		t.Fatalf("ad subdomain not filtered: %v", got)
	}
}

func TestCrossOriginIFramesBadTopURL(t *testing.T) {
	root := &ElementNode{Tag: "body", Visible: true}
	root.AppendChild(iframe("https://widget.example/embed", true))
	if got := CrossOriginIFrames(&Snapshot{Root: root}, "://bad"); got != nil {
		t.Fatalf("bad top url: got %v, want nil", got)
	}
}
