// Package config loads the pilot configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full pilot configuration.
type Config struct {
	Browser      BrowserConfig      `yaml:"browser"`
	StorageState StorageStateConfig `yaml:"storage_state"`
	Recording    RecordingConfig    `yaml:"recording"`
	Inspect      InspectConfig      `yaml:"inspect"`
	// Permissions are granted on connect and on every new tab.
	Permissions []string `yaml:"permissions"`
}

// BrowserConfig controls how the browser is launched or attached.
type BrowserConfig struct {
	// ControlURL attaches to an already-running browser's debugging endpoint.
	// Empty launches a local browser.
	ControlURL string        `yaml:"control_url"`
	Headless   bool          `yaml:"headless"`
	Stealth    bool          `yaml:"stealth"`
	NavTimeout time.Duration `yaml:"nav_timeout"`
}

// StorageStateConfig controls cookie/localStorage persistence.
type StorageStateConfig struct {
	Path     string        `yaml:"path"`
	Interval time.Duration `yaml:"interval"`
}

// RecordingConfig controls trace and video capture. Empty dirs disable the
// corresponding capture.
type RecordingConfig struct {
	VideoDir string `yaml:"video_dir"`
	TraceDir string `yaml:"trace_dir"`
	// ArtifactDB is the sqlite file indexing recordings. Empty disables the
	// index.
	ArtifactDB string `yaml:"artifact_db"`
}

// InspectConfig controls the HTTP debug surface. Empty addr disables it.
type InspectConfig struct {
	Addr string `yaml:"addr"`
}

func (c *Config) applyDefaults() {
	if c.Browser.NavTimeout <= 0 {
		c.Browser.NavTimeout = 30 * time.Second
	}
	if c.StorageState.Interval <= 0 {
		c.StorageState.Interval = 30 * time.Second
	}
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	c := &Config{}
	c.Browser.Headless = true
	c.Browser.Stealth = true
	c.applyDefaults()
	return c
}

// LoadFile reads and validates a YAML config file.
func LoadFile(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var c Config
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	c.applyDefaults()
	return &c, nil
}
