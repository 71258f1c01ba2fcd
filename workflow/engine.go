package workflow

import (
	"context"
	"crypto/rand"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hazyhaar/vigie/baseline"
	"github.com/hazyhaar/vigie/browser"
	"github.com/hazyhaar/vigie/capture"
	"github.com/hazyhaar/vigie/differ"
	"github.com/hazyhaar/vigie/imaging"
	"github.com/hazyhaar/vigie/manifest"
	"github.com/hazyhaar/vigie/report"
	"github.com/hazyhaar/vigie/runstore"
	"github.com/hazyhaar/vigie/storage"
)

// BlobStore is the storage the pipeline uploads to and downloads from.
type BlobStore interface {
	capture.Storage
	capture.Fetcher
}

// Option overrides an engine collaborator.
type Option func(*Engine)

// WithBlobStore replaces the storage built from the config.
func WithBlobStore(s BlobStore) Option {
	return func(e *Engine) { e.blob = s }
}

// WithCaptureService replaces the Rod browser service built from the config.
func WithCaptureService(svc capture.Service) Option {
	return func(e *Engine) { e.svc = svc }
}

// Engine owns the assembled pipeline for one project.
type Engine struct {
	cfg    *Config
	logger *slog.Logger

	blob    BlobStore
	svc     capture.Service
	browser *browser.Service // set when the engine launched it
	cropper capture.Cropper
	diff    *differ.Differ
	asm     *report.Assembler
	runs    *runstore.Store

	mu         sync.Mutex
	lastReport *differ.Report
	lastRunDir string
}

// New assembles an engine from the config. Close releases the browser and
// the run database.
func New(cfg *Config, logger *slog.Logger, opts ...Option) (*Engine, error) {
	cfg.defaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{cfg: cfg, logger: logger}
	for _, opt := range opts {
		opt(e)
	}

	if e.blob == nil {
		if cfg.Storage.UploadURL != "" {
			e.blob = storage.NewHTTP(cfg.Storage.UploadURL, nil, logger)
		} else {
			e.blob = storage.NewDir(cfg.Storage.Dir, cfg.Storage.BaseURL, logger)
		}
	}
	if e.svc == nil {
		bcfg := cfg.Browser
		bcfg.Logger = logger
		e.browser = browser.New(bcfg, e.blob)
		e.svc = e.browser
	}

	e.cropper = imaging.ContentCropper{Tolerance: cfg.PixelTolerance}
	// Coordinators are rebuilt per run (each run gets its own screenshot
	// prefix); compile the patterns once now so bad config fails here.
	if _, err := e.newCoordinator("validate"); err != nil {
		return nil, err
	}

	cmp := imaging.NewComparator(e.blob.Fetch, imaging.Options{Tolerance: cfg.PixelTolerance})
	diffOpts := []differ.Option{differ.WithLogger(logger)}
	if cfg.Threshold > 0 {
		diffOpts = append(diffOpts, differ.WithThreshold(cfg.Threshold))
	}
	e.diff = differ.New(cmp, diffOpts...)

	asm, err := report.NewAssembler(cfg.ReportDir, logger)
	if err != nil {
		return nil, err
	}
	e.asm = asm

	runs, err := runstore.Open(cfg.RunDB)
	if err != nil {
		return nil, err
	}
	e.runs = runs
	return e, nil
}

// Close releases the engine's browser and database handles.
func (e *Engine) Close() error {
	var first error
	if e.browser != nil {
		first = e.browser.Close()
	}
	if err := e.runs.Close(); err != nil && first == nil {
		first = err
	}
	return first
}

// baselineStore builds a fresh store so every run and approval sees the
// baseline as it is on disk now, not as it was when the engine started.
func (e *Engine) baselineStore() (*baseline.Store, error) {
	cache, err := baseline.NewCache(e.cfg.Baseline.Source, baseline.WithCacheLogger(e.logger))
	if err != nil {
		return nil, err
	}
	return baseline.NewStore(cache, e.cfg.Baseline.Output, e.logger), nil
}

// newCoordinator builds the capture pipeline for one run. Screenshots land
// under a per-run prefix so earlier runs' images, which the baseline may
// point at, are never overwritten.
func (e *Engine) newCoordinator(runID string) (*capture.Coordinator, error) {
	ccfg := e.cfg.Capture
	ccfg.ShotDir = path.Join(ccfg.ShotDir, runID)
	return capture.New(e.blob, e.svc, e.cropper, e.blob, ccfg, e.logger)
}

// newRunID mints a sortable run identifier.
func newRunID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(rand.Reader, 0)).String()
}

// readAssets loads every regular file under the pages directory, keyed by
// its slash-separated relative path.
func readAssets(dir string) ([]capture.Asset, error) {
	var assets []capture.Asset
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		body, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		assets = append(assets, capture.Asset{Path: filepath.ToSlash(rel), Body: body})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("workflow: read pages dir %s: %w", dir, err)
	}
	return assets, nil
}

// Run executes one full pipeline pass: upload the pages directory, capture
// screenshots across the browser matrix, diff against the golden baseline,
// persist the review report, and record the run.
func (e *Engine) Run(ctx context.Context) (*runstore.Run, error) {
	id := newRunID()
	if err := e.runs.StartRun(ctx, id); err != nil {
		return nil, err
	}
	e.logger.Info("workflow: run started", "run", id, "pages_dir", e.cfg.PagesDir)

	run, err := e.execute(ctx, id)
	if err != nil {
		if ferr := e.runs.FailRun(ctx, id, err); ferr != nil {
			e.logger.Error("workflow: recording failure failed", "run", id, "error", ferr)
		}
		return nil, err
	}
	return run, nil
}

func (e *Engine) execute(ctx context.Context, id string) (*runstore.Run, error) {
	assets, err := readAssets(e.cfg.PagesDir)
	if err != nil {
		return nil, err
	}
	coord, err := e.newCoordinator(id)
	if err != nil {
		return nil, err
	}

	cases, err := coord.UploadAssets(ctx, assets)
	if err != nil {
		return nil, err
	}
	if len(cases) == 0 {
		return nil, fmt.Errorf("workflow: no test pages found under %s", e.cfg.PagesDir)
	}
	if _, err := coord.CaptureScreenshots(ctx, cases); err != nil {
		return nil, err
	}

	store, err := e.baselineStore()
	if err != nil {
		return nil, err
	}
	expected, err := store.Load(ctx)
	if err != nil {
		return nil, err
	}
	actual := manifest.FromTestCases(cases)

	rep, err := e.diff.CompareAll(ctx, cases, actual, expected)
	if err != nil {
		return nil, err
	}

	runDir, err := e.asm.Persist(id, rep)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.lastReport = rep
	e.lastRunDir = runDir
	e.mu.Unlock()

	run := runstore.Run{
		ID:        id,
		Pages:     len(cases),
		Diffs:     len(rep.Diffs),
		Added:     len(rep.Added),
		Removed:   len(rep.Removed),
		Unchanged: len(rep.Unchanged),
		ReportDir: runDir,
	}
	if err := e.runs.FinishRun(ctx, run); err != nil {
		return nil, err
	}
	recorded, err := e.runs.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}

	e.logger.Info("workflow: run finished", "run", id, "status", recorded.Status,
		"diffs", run.Diffs, "added", run.Added, "removed", run.Removed, "unchanged", run.Unchanged)
	return recorded, nil
}

// latestReport returns the report held in memory, falling back to the most
// recent recorded run's report directory.
func (e *Engine) latestReport(ctx context.Context) (*differ.Report, error) {
	e.mu.Lock()
	rep := e.lastReport
	e.mu.Unlock()
	if rep != nil {
		return rep, nil
	}

	runs, err := e.runs.ListRuns(ctx, 10)
	if err != nil {
		return nil, err
	}
	for _, r := range runs {
		if r.ReportDir == "" {
			continue
		}
		return report.Load(r.ReportDir)
	}
	return nil, fmt.Errorf("workflow: no completed run to approve")
}

// Approve merges the given approvals from the latest run into the golden
// baseline and persists it. A nil set approves everything.
func (e *Engine) Approve(ctx context.Context, set *differ.ApprovalSet) (manifest.Manifest, error) {
	rep, err := e.latestReport(ctx)
	if err != nil {
		return nil, err
	}
	store, err := e.baselineStore()
	if err != nil {
		return nil, err
	}
	merged, err := store.MergeApprovals(ctx, rep, set)
	if err != nil {
		return nil, err
	}
	e.logger.Info("workflow: baseline updated", "path", e.cfg.Baseline.Output, "pages", len(merged))
	return merged, nil
}

// Runs lists the most recent recorded runs.
func (e *Engine) Runs(ctx context.Context, limit int) ([]runstore.Run, error) {
	return e.runs.ListRuns(ctx, limit)
}

// ReviewHandler serves the latest run's review page, with approvals wired
// back into the baseline.
func (e *Engine) ReviewHandler(ctx context.Context) (http.Handler, error) {
	if _, err := e.latestReport(ctx); err != nil {
		return nil, err
	}
	e.mu.Lock()
	runDir := e.lastRunDir
	e.mu.Unlock()
	if runDir == "" {
		runs, err := e.runs.ListRuns(ctx, 1)
		if err != nil {
			return nil, err
		}
		if len(runs) == 0 || runs[0].ReportDir == "" {
			return nil, fmt.Errorf("workflow: no report to serve")
		}
		runDir = runs[0].ReportDir
	}

	approve := func(ctx context.Context, set *differ.ApprovalSet) error {
		_, err := e.Approve(ctx, set)
		return err
	}
	srv := report.NewServer(report.ServerConfig{
		ReportDir:    runDir,
		StorageDir:   e.cfg.Storage.Dir,
		PasswordHash: []byte(e.cfg.Review.PasswordHash),
		Logger:       e.logger,
	}, approve)
	return srv.Handler(), nil
}
