// Package report turns a classified diff report into a persisted, reviewable
// artifact: report.json, the diff images, and a rendered review page. It
// also serves the review UI with approval endpoints.
package report

import (
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"

	_ "embed"

	"github.com/hazyhaar/vigie/differ"
)

//go:embed review.html.tmpl
var reviewTmpl string

var unsafeNameRe = regexp.MustCompile(`[^\w.-]`)

// Assembler persists run reports under a base directory, one subdirectory
// per run.
type Assembler struct {
	dir    string
	logger *slog.Logger
	tmpl   *template.Template
}

// NewAssembler creates an Assembler writing under dir.
func NewAssembler(dir string, logger *slog.Logger) (*Assembler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	tmpl, err := template.New("review").Parse(reviewTmpl)
	if err != nil {
		return nil, fmt.Errorf("report: parse template: %w", err)
	}
	return &Assembler{dir: dir, logger: logger, tmpl: tmpl}, nil
}

// Persist writes the run's report directory and returns its path. Diff image
// buffers are nilled as soon as each image is durably on disk, so a run with
// many diffs never holds every buffer at once.
func (a *Assembler) Persist(runID string, rep *differ.Report) (string, error) {
	runDir := filepath.Join(a.dir, runID)
	if err := os.MkdirAll(filepath.Join(runDir, "diffs"), 0o755); err != nil {
		return "", fmt.Errorf("report: mkdir %s: %w", runDir, err)
	}

	for _, r := range rep.Diffs {
		if r.DiffImage == nil {
			continue
		}
		name := diffImageName(r)
		if err := os.WriteFile(filepath.Join(runDir, filepath.FromSlash(name)), r.DiffImage, 0o644); err != nil {
			return "", fmt.Errorf("report: write diff image %s: %w", name, err)
		}
		r.DiffPath = name
		r.DiffImage = nil // released: the image is durable now
	}

	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return "", fmt.Errorf("report: encode: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(filepath.Join(runDir, "report.json"), data, 0o644); err != nil {
		return "", fmt.Errorf("report: write report.json: %w", err)
	}

	page, err := os.Create(filepath.Join(runDir, "index.html"))
	if err != nil {
		return "", fmt.Errorf("report: create review page: %w", err)
	}
	defer page.Close()
	if err := a.tmpl.Execute(page, struct {
		RunID  string
		Report *differ.Report
	}{RunID: runID, Report: rep}); err != nil {
		return "", fmt.Errorf("report: render review page: %w", err)
	}

	a.logger.Info("report: persisted", "run", runID, "dir", runDir,
		"diffs", len(rep.Diffs), "added", len(rep.Added),
		"removed", len(rep.Removed), "unchanged", len(rep.Unchanged))
	return runDir, nil
}

// diffImageName returns the slash-separated path of a diff image relative to
// the run directory; it doubles as the image's URL path on the review server.
func diffImageName(r *differ.Result) string {
	page := unsafeNameRe.ReplaceAllString(r.Page, "_")
	browser := unsafeNameRe.ReplaceAllString(r.Browser, "_")
	return "diffs/" + page + "__" + browser + ".png"
}

// Load reads a persisted report back from a run directory.
func Load(runDir string) (*differ.Report, error) {
	data, err := os.ReadFile(filepath.Join(runDir, "report.json"))
	if err != nil {
		return nil, fmt.Errorf("report: read %s: %w", runDir, err)
	}
	var rep differ.Report
	if err := json.Unmarshal(data, &rep); err != nil {
		return nil, fmt.Errorf("report: decode %s: %w", runDir, err)
	}
	return &rep, nil
}
