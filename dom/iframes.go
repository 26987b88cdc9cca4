package dom

import (
	"net/url"
	"strings"
)

// adHosts are iframe hosts that are never worth the agent's attention.
// Suffix-matched against the frame hostname.
var adHosts = []string{
	"doubleclick.net",
	"googlesyndication.com",
	"googletagmanager.com",
	"adservice.google.com",
	"amazon-adsystem.com",
	"adnxs.com",
	"criteo.com",
	"taboola.com",
	"outbrain.com",
}

// CrossOriginIFrames returns the URLs of iframes in the snapshot whose
// hostname differs from the top page's, excluding hidden frames and known
// ad hosts.
func CrossOriginIFrames(snap *Snapshot, topURL string) []string {
	top, err := url.Parse(topURL)
	if err != nil {
		return nil
	}
	topHost := top.Hostname()

	var out []string
	snap.Root.Walk(func(n *ElementNode) bool {
		if n.Tag != "iframe" || !n.Visible {
			return true
		}
		src, ok := n.Attr("src")
		if !ok || src == "" {
			return true
		}
		u, err := url.Parse(src)
		if err != nil {
			return true
		}
		host := u.Hostname()
		if host == "" || host == topHost {
			return true
		}
		if isAdHost(host) {
			return true
		}
		out = append(out, src)
		return true
	})
	return out
}

func isAdHost(host string) bool {
	for _, ad := range adHosts {
		if host == ad || strings.HasSuffix(host, "."+ad) {
			return true
		}
	}
	return false
}
