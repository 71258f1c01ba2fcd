// Package browser implements the capture service collaborator with a local
// Chrome driven through Rod. Each matrix entry emulates one viewport/device
// combination and reports itself under an (OS, Browser) label pair, so the
// rest of the workflow is indifferent to whether screenshots come from a
// cross-browser SaaS or this local fallback.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/vigie/capture"
)

// MatrixEntry is one emulated browser in the capture matrix.
type MatrixEntry struct {
	// OS and Browser label the entry; capture.BrowserKey derives the
	// manifest key from them.
	OS      string `yaml:"os"`
	Browser string `yaml:"browser"`

	Width  int     `yaml:"width"`
	Height int     `yaml:"height"`
	Scale  float64 `yaml:"scale"`
	Mobile bool    `yaml:"mobile"`
}

// Config configures the Rod capture service.
type Config struct {
	// RemoteURL is the WebSocket URL of an external Chrome. Empty = launch
	// a local one via the launcher.
	RemoteURL string `yaml:"remote_url"`

	// Matrix lists the emulated browsers. Default: one 1280x800 desktop
	// entry labelled (Linux, chrome).
	Matrix []MatrixEntry `yaml:"matrix"`

	// Stealth navigates through a stealth page, for capturing pages hosted
	// behind bot detection. Local test pages don't need it.
	Stealth bool `yaml:"stealth"`

	// NavigateTimeout bounds page navigation + load. Default: 30s.
	NavigateTimeout time.Duration `yaml:"navigate_timeout"`

	// RawDir is the upload prefix for raw (uncropped) screenshots.
	// Default: "raw".
	RawDir string `yaml:"raw_dir"`

	Logger *slog.Logger `yaml:"-"`
}

func (c *Config) defaults() {
	if len(c.Matrix) == 0 {
		c.Matrix = []MatrixEntry{{OS: "Linux", Browser: "chrome", Width: 1280, Height: 800, Scale: 1}}
	}
	if c.NavigateTimeout <= 0 {
		c.NavigateTimeout = 30 * time.Second
	}
	if c.RawDir == "" {
		c.RawDir = "raw"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Service captures pages with a locally managed Chrome and stores the raw
// screenshots through the injected storage. It implements capture.Service.
type Service struct {
	cfg   Config
	store capture.Storage

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	seq     int
}

// New creates a Service. Call Close when the run is finished.
func New(cfg Config, store capture.Storage) *Service {
	cfg.defaults()
	return &Service{cfg: cfg, store: store}
}

// connect launches or attaches to Chrome on first use.
func (s *Service) connect() (*rod.Browser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.browser != nil {
		return s.browser, nil
	}

	wsURL := s.cfg.RemoteURL
	if wsURL == "" {
		l := launcher.New().Headless(true)
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		s.lnch = l
		s.cfg.Logger.Info("browser: launched local chrome", "url", wsURL)
	} else {
		s.cfg.Logger.Info("browser: connecting to remote", "url", wsURL)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	s.browser = b
	return b, nil
}

// Close shuts down Chrome.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.browser != nil {
		s.browser.Close()
		s.browser = nil
	}
	if s.lnch != nil {
		s.lnch.Cleanup()
		s.lnch = nil
	}
	return nil
}

// CaptureURL renders the page once per matrix entry and returns the stored
// raw screenshot locations. Matrix entries run sequentially within one page
// capture; the coordinator already fans out across pages.
func (s *Service) CaptureURL(ctx context.Context, url string) ([]capture.BrowserShot, error) {
	b, err := s.connect()
	if err != nil {
		return nil, err
	}

	shots := make([]capture.BrowserShot, 0, len(s.cfg.Matrix))
	for _, entry := range s.cfg.Matrix {
		img, err := s.captureOne(ctx, b, url, entry)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		s.seq++
		seq := s.seq
		s.mu.Unlock()

		key := capture.BrowserKey(entry.OS, entry.Browser)
		loc, err := s.store.Upload(ctx, capture.File{
			Dest: fmt.Sprintf("%s/%06d_%s.png", s.cfg.RawDir, seq, key),
			Body: img,
		})
		if err != nil {
			return nil, fmt.Errorf("browser: store raw shot %s: %w", key, err)
		}
		shots = append(shots, capture.BrowserShot{OS: entry.OS, Browser: entry.Browser, ImageLocation: loc})
	}

	s.cfg.Logger.Debug("browser: captured", "url", url, "shots", len(shots))
	return shots, nil
}

func (s *Service) captureOne(ctx context.Context, b *rod.Browser, url string, entry MatrixEntry) ([]byte, error) {
	var page *rod.Page
	var err error
	if s.cfg.Stealth {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}
	defer page.Close()

	scale := entry.Scale
	if scale <= 0 {
		scale = 1
	}
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             entry.Width,
		Height:            entry.Height,
		DeviceScaleFactor: scale,
		Mobile:            entry.Mobile,
	}); err != nil {
		return nil, fmt.Errorf("browser: set viewport: %w", err)
	}

	navCtx, cancel := context.WithTimeout(ctx, s.cfg.NavigateTimeout)
	defer cancel()

	if err := page.Context(navCtx).Navigate(url); err != nil {
		return nil, fmt.Errorf("browser: navigate %s: %w", url, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		s.cfg.Logger.Warn("browser: wait load timeout", "url", url, "error", err)
	}
	// Let fonts and late layout settle before shooting.
	if err := page.Context(navCtx).WaitIdle(2 * time.Second); err != nil {
		s.cfg.Logger.Debug("browser: wait idle", "url", url, "error", err)
	}

	img, err := page.Context(navCtx).Screenshot(true, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, fmt.Errorf("browser: screenshot %s: %w", url, err)
	}
	return img, nil
}
