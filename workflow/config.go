// Package workflow ties the pipeline together: it loads the project
// configuration, runs upload → capture → diff → report, records run history,
// merges approvals into the golden baseline, and exposes the whole thing to
// the CLI, the review server, MCP clients, and watch mode.
package workflow

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/vigie/baseline"
	"github.com/hazyhaar/vigie/browser"
	"github.com/hazyhaar/vigie/capture"
)

// StorageConfig selects where test pages and screenshots are stored. Dir is
// the common case; UploadURL switches to an HTTP PUT store for runs whose
// pages must be reachable by a remote capture service.
type StorageConfig struct {
	Dir       string `yaml:"dir"`
	BaseURL   string `yaml:"base_url"`
	UploadURL string `yaml:"upload_url"`
}

// BaselineConfig names the golden baseline to diff against and the file that
// approvals are merged into.
type BaselineConfig struct {
	Source baseline.Source `yaml:"source"`

	// Output is where merged baselines are written. Defaults to the
	// source path when the baseline comes from a local file.
	Output string `yaml:"output"`
}

// ReviewConfig configures the review server.
type ReviewConfig struct {
	Addr string `yaml:"addr"`

	// PasswordHash is a bcrypt hash; empty leaves the server open.
	PasswordHash string `yaml:"password_hash"`
}

// WatchConfig configures watch mode.
type WatchConfig struct {
	// Debounce is how long the pages directory must stay quiet before a
	// re-run triggers. Default: 2s.
	Debounce time.Duration `yaml:"debounce"`
}

// Config is the project configuration file.
type Config struct {
	// PagesDir holds the test pages and their assets.
	PagesDir string `yaml:"pages_dir"`

	Storage  StorageConfig  `yaml:"storage"`
	Capture  capture.Config `yaml:"capture"`
	Browser  browser.Config `yaml:"browser"`
	Baseline BaselineConfig `yaml:"baseline"`

	// Threshold is the mismatch fraction above which a comparison counts
	// as a diff. Zero means the differ's default.
	Threshold float64 `yaml:"threshold"`

	// PixelTolerance is the per-channel color tolerance of the pixel
	// comparison. Zero means exact.
	PixelTolerance uint8 `yaml:"pixel_tolerance"`

	// ReportDir receives one subdirectory per run. Default: "reports".
	ReportDir string `yaml:"report_dir"`

	// RunDB is the run history database path. Default: "vigie.db".
	RunDB string `yaml:"run_db"`

	Review ReviewConfig `yaml:"review"`
	Watch  WatchConfig  `yaml:"watch"`
}

func (c *Config) defaults() {
	if c.Capture.ShotDir == "" {
		c.Capture.ShotDir = "screenshots"
	}
	if c.ReportDir == "" {
		c.ReportDir = "reports"
	}
	if c.RunDB == "" {
		c.RunDB = "vigie.db"
	}
	if c.Baseline.Output == "" {
		c.Baseline.Output = c.Baseline.Source.Path
	}
	if c.Review.Addr == "" {
		c.Review.Addr = "127.0.0.1:8799"
	}
	if c.Watch.Debounce <= 0 {
		c.Watch.Debounce = 2 * time.Second
	}
}

// Validate checks the fields the engine cannot default.
func (c *Config) Validate() error {
	if c.PagesDir == "" {
		return fmt.Errorf("workflow: config: pages_dir is required")
	}
	if c.Storage.Dir == "" && c.Storage.UploadURL == "" {
		return fmt.Errorf("workflow: config: storage.dir or storage.upload_url is required")
	}
	if err := c.Baseline.Source.Validate(); err != nil {
		return fmt.Errorf("workflow: config: %w", err)
	}
	if c.Baseline.Output == "" {
		return fmt.Errorf("workflow: config: baseline.output is required when the baseline source is not a local file")
	}
	return nil
}

// LoadConfig reads and parses a YAML config file, applies defaults, and
// validates it.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("workflow: read config %s: %w", path, err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("workflow: parse config %s: %w", path, err)
	}
	cfg.defaults()
	return cfg, cfg.Validate()
}
