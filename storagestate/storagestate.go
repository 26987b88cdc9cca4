// Package storagestate persists browser cookies and origin storage as a JSON
// file with exactly two top-level keys, "cookies" and "origins". Saves merge
// the live state into whatever is on disk before overwriting: the file may
// have been updated by a sibling run since this session last loaded it, and
// a blind overwrite would silently drop those cookies.
package storagestate

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
)

// Cookie mirrors the CDP cookie shape. Identity for merging is the
// (Name, Domain, Path) triple.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	SameSite string  `json:"sameSite,omitempty"`
}

// key is the merge identity of a cookie.
func (c Cookie) key() string { return c.Name + "\x00" + c.Domain + "\x00" + c.Path }

// KV is one localStorage entry.
type KV struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Origin holds the persisted storage of one origin. Identity for merging is
// the Origin string.
type Origin struct {
	Origin       string `json:"origin"`
	LocalStorage []KV   `json:"localStorage,omitempty"`
}

// State is the on-disk document.
type State struct {
	Cookies []Cookie `json:"cookies"`
	Origins []Origin `json:"origins"`
}

// Merge combines the on-disk state with the live state: union of keys,
// live wins per key. Output ordering is deterministic (sorted by key) so
// repeated saves of unchanged state produce identical bytes.
func Merge(disk, live State) State {
	cookies := make(map[string]Cookie, len(disk.Cookies)+len(live.Cookies))
	for _, c := range disk.Cookies {
		cookies[c.key()] = c
	}
	for _, c := range live.Cookies {
		cookies[c.key()] = c
	}

	origins := make(map[string]Origin, len(disk.Origins)+len(live.Origins))
	for _, o := range disk.Origins {
		origins[o.Origin] = o
	}
	for _, o := range live.Origins {
		origins[o.Origin] = o
	}

	var out State
	out.Cookies = make([]Cookie, 0, len(cookies))
	for _, c := range cookies {
		out.Cookies = append(out.Cookies, c)
	}
	sort.Slice(out.Cookies, func(i, j int) bool {
		return out.Cookies[i].key() < out.Cookies[j].key()
	})
	out.Origins = make([]Origin, 0, len(origins))
	for _, o := range origins {
		out.Origins = append(out.Origins, o)
	}
	sort.Slice(out.Origins, func(i, j int) bool {
		return out.Origins[i].Origin < out.Origins[j].Origin
	})
	return out
}

// Load reads a state file. A missing file returns an empty state and
// os.ErrNotExist; callers that treat absence as empty check with errors.Is.
func Load(path string) (State, error) {
	var st State
	data, err := os.ReadFile(path)
	if err != nil {
		return st, err
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, fmt.Errorf("storagestate: parse %s: %w", path, err)
	}
	return st, nil
}

// LoadOrEmpty reads a state file, treating a missing file as empty state.
func LoadOrEmpty(path string) (State, error) {
	st, err := Load(path)
	if err != nil && errors.Is(err, fs.ErrNotExist) {
		return State{}, nil
	}
	return st, err
}

// Save writes the state atomically: marshal to a .tmp sibling, rename any
// existing file to .bak (best effort), then rename .tmp into place. A crash
// mid-save leaves either the previous file or the complete new one, never a
// torn write.
func Save(path string, st State) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("storagestate: marshal: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("storagestate: write %s: %w", tmp, err)
	}

	if _, err := os.Stat(path); err == nil {
		// Keep the previous version around; failure here is not fatal.
		_ = os.Rename(path, path+".bak")
	}

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("storagestate: rename %s: %w", path, err)
	}
	return nil
}

// Fingerprint returns a stable hash of the state: canonical (sorted,
// deterministic) JSON fed through sha256, hex-truncated to 128 bits. Two
// states with the same cookies and origins fingerprint identically
// regardless of input ordering.
func Fingerprint(st State) string {
	canon := Merge(State{}, st)
	data, err := json.Marshal(canon)
	if err != nil {
		return ""
	}
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:16])
}
