package capture

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"regexp"

	"github.com/hazyhaar/vigie/manifest"
)

// DefaultPagePattern is the component-test naming convention: an asset is a
// candidate test page when its relative path ends in ".test.html".
const DefaultPagePattern = `\.test\.html$`

// Asset is one input file for the upload stage: a relative path and its
// content bytes.
type Asset struct {
	Path string
	Body []byte
}

// Config configures the coordinator's page classification and screenshot
// placement.
type Config struct {
	// PagePattern is the regexp an asset path must match to be a test page.
	// Default: DefaultPagePattern.
	PagePattern string `yaml:"page_pattern"`

	// Include narrows test pages to paths matching any of these regexps.
	// Empty matches everything.
	Include []string `yaml:"include"`

	// Exclude rejects test pages matching any of these regexps. Exclude
	// always wins over include.
	Exclude []string `yaml:"exclude"`

	// ShotDir is the destination prefix for cropped screenshot uploads.
	// Default: "screenshots".
	ShotDir string `yaml:"shot_dir"`
}

func (c *Config) defaults() {
	if c.PagePattern == "" {
		c.PagePattern = DefaultPagePattern
	}
	if c.ShotDir == "" {
		c.ShotDir = "screenshots"
	}
}

// Coordinator drives the concurrent upload/capture pipeline and assembles
// the run's test cases.
type Coordinator struct {
	store  Storage
	svc    Service
	crop   Cropper
	fetch  Fetcher
	logger *slog.Logger

	shotDir string
	pageRe  *regexp.Regexp
	include []*regexp.Regexp
	exclude []*regexp.Regexp
}

// New creates a Coordinator. All four collaborators are required.
func New(store Storage, svc Service, crop Cropper, fetch Fetcher, cfg Config, logger *slog.Logger) (*Coordinator, error) {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}

	pageRe, err := regexp.Compile(cfg.PagePattern)
	if err != nil {
		return nil, fmt.Errorf("capture: page pattern %q: %w", cfg.PagePattern, err)
	}
	include, err := compileAll(cfg.Include)
	if err != nil {
		return nil, fmt.Errorf("capture: include: %w", err)
	}
	exclude, err := compileAll(cfg.Exclude)
	if err != nil {
		return nil, fmt.Errorf("capture: exclude: %w", err)
	}

	return &Coordinator{
		store:   store,
		svc:     svc,
		crop:    crop,
		fetch:   fetch,
		logger:  logger,
		shotDir: cfg.ShotDir,
		pageRe:  pageRe,
		include: include,
		exclude: exclude,
	}, nil
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// isTestPage applies the naming convention plus the include/exclude pair.
// An empty include list matches everything; any exclude match rejects.
func (c *Coordinator) isTestPage(relPath string) bool {
	if !c.pageRe.MatchString(relPath) {
		return false
	}
	for _, re := range c.exclude {
		if re.MatchString(relPath) {
			return false
		}
	}
	if len(c.include) == 0 {
		return true
	}
	for _, re := range c.include {
		if re.MatchString(relPath) {
			return true
		}
	}
	return false
}

// UploadAssets uploads every asset concurrently (unbounded fan-out, no
// batching) and returns a test case for each asset classified as a test
// page. Any single upload failure fails the whole batch; uploads already in
// flight are not rolled back.
func (c *Coordinator) UploadAssets(ctx context.Context, assets []Asset) ([]*manifest.TestCase, error) {
	total := len(assets)
	locations, err := joinAll(total, func(i int) (string, error) {
		a := assets[i]
		loc, err := c.store.Upload(ctx, File{
			Dest:     a.Path,
			Body:     a.Body,
			Position: i + 1,
			Total:    total,
		})
		if err != nil {
			return "", fmt.Errorf("capture: upload %s (%d/%d): %w", a.Path, i+1, total, err)
		}
		c.logger.Debug("capture: uploaded asset", "path", a.Path, "position", i+1, "total", total)
		return loc, nil
	})
	if err != nil {
		return nil, err
	}

	// Fold after the join: classification and case assembly stay
	// single-threaded.
	var cases []*manifest.TestCase
	for i, a := range assets {
		if !c.isTestPage(a.Path) {
			continue
		}
		cases = append(cases, &manifest.TestCase{Path: a.Path, PublicURL: locations[i]})
	}

	c.logger.Info("capture: assets uploaded", "assets", total, "test_pages", len(cases))
	return cases, nil
}

// shotResult is one per-browser screenshot pending fold-in.
type shotResult struct {
	browser  string
	location string
}

// CaptureScreenshots requests a browser-matrix capture for every test case
// concurrently. Each per-browser result is downloaded, cropped to content
// bounds, and re-uploaded. Screenshot maps are mutated in place; the same
// slice is returned for chaining.
func (c *Coordinator) CaptureScreenshots(ctx context.Context, cases []*manifest.TestCase) ([]*manifest.TestCase, error) {
	total := len(cases)
	perCase, err := joinAll(total, func(i int) ([]shotResult, error) {
		tc := cases[i]
		shots, err := c.svc.CaptureURL(ctx, tc.PublicURL)
		if err != nil {
			c.logger.Error("capture: page capture failed",
				"page", tc.Path, "position", i+1, "total", total, "error", err)
			return nil, fmt.Errorf("capture: %s (%d/%d): %w", tc.Path, i+1, total, err)
		}

		results := make([]shotResult, 0, len(shots))
		for _, shot := range shots {
			key := BrowserKey(shot.OS, shot.Browser)
			loc, err := c.processShot(ctx, tc, shot, key, i+1, total)
			if err != nil {
				return nil, err
			}
			results = append(results, shotResult{browser: key, location: loc})
		}
		return results, nil
	})
	if err != nil {
		return nil, err
	}

	// Fold after the join: the per-case screenshot maps are only touched
	// single-threadedly.
	for i, results := range perCase {
		for _, r := range results {
			cases[i].AddScreenshot(r.browser, r.location)
		}
	}

	c.logger.Info("capture: screenshots captured", "pages", total)
	return cases, nil
}

// processShot downloads one raw screenshot, crops it, and uploads the
// cropped image to its manifest location.
func (c *Coordinator) processShot(ctx context.Context, tc *manifest.TestCase, shot BrowserShot, key string, position, total int) (string, error) {
	raw, err := c.fetch.Fetch(ctx, shot.ImageLocation)
	if err != nil {
		return "", fmt.Errorf("capture: download %s/%s: %w", tc.Path, key, err)
	}
	cropped, err := c.crop.Crop(raw)
	if err != nil {
		return "", fmt.Errorf("capture: crop %s/%s: %w", tc.Path, key, err)
	}
	loc, err := c.store.Upload(ctx, File{
		Dest:     path.Join(c.shotDir, tc.Path, key+".png"),
		Body:     cropped,
		Position: position,
		Total:    total,
	})
	if err != nil {
		return "", fmt.Errorf("capture: upload screenshot %s/%s: %w", tc.Path, key, err)
	}
	return loc, nil
}
