package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	c := Default()
	if !c.Browser.Headless || !c.Browser.Stealth {
		t.Fatalf("browser defaults: %+v", c.Browser)
	}
	if c.Browser.NavTimeout != 30*time.Second {
		t.Fatalf("nav timeout: got %v, want 30s", c.Browser.NavTimeout)
	}
	if c.StorageState.Interval != 30*time.Second {
		t.Fatalf("storage interval: got %v, want 30s", c.StorageState.Interval)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := `
browser:
  control_url: ws://127.0.0.1:9222
  headless: true
  nav_timeout: 45s
storage_state:
  path: /var/lib/webpilot/state.json
  interval: 2m
recording:
  video_dir: /var/lib/webpilot/videos
  trace_dir: /var/lib/webpilot/traces
  artifact_db: /var/lib/webpilot/artifacts.db
inspect:
  addr: 127.0.0.1:8077
permissions:
  - geolocation
  - clipboardReadWrite
`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	c, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Browser.ControlURL != "ws://127.0.0.1:9222" {
		t.Fatalf("control url: got %q", c.Browser.ControlURL)
	}
	if c.Browser.NavTimeout != 45*time.Second {
		t.Fatalf("nav timeout: got %v, want 45s", c.Browser.NavTimeout)
	}
	if c.StorageState.Interval != 2*time.Minute {
		t.Fatalf("interval: got %v, want 2m", c.StorageState.Interval)
	}
	if c.Recording.ArtifactDB != "/var/lib/webpilot/artifacts.db" {
		t.Fatalf("artifact db: got %q", c.Recording.ArtifactDB)
	}
	if c.Inspect.Addr != "127.0.0.1:8077" {
		t.Fatalf("inspect addr: got %q", c.Inspect.Addr)
	}
	if len(c.Permissions) != 2 || c.Permissions[0] != "geolocation" {
		t.Fatalf("permissions: got %v", c.Permissions)
	}
}

func TestLoadFileDefaultsApplied(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("browser:\n  headless: false\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	c, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Browser.Headless {
		t.Fatal("explicit headless=false overridden")
	}
	if c.Browser.NavTimeout != 30*time.Second || c.StorageState.Interval != 30*time.Second {
		t.Fatalf("defaults not applied: %+v", c)
	}
}

func TestLoadFileErrors(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("missing file: got nil error")
	}
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte(":\n\t bad"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Fatal("malformed yaml: got nil error")
	}
}
