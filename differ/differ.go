// Package differ classifies a run's screenshot manifest against the golden
// baseline. Every (page, browser) pair ends up in exactly one of four
// buckets: diff, added, removed, or unchanged. Buckets are sorted by
// (page, browser) with byte-wise string comparison so re-runs produce
// identical, review-stable output.
package differ

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/hazyhaar/vigie/manifest"
)

// DefaultThreshold is the mismatch fraction at or below which two
// screenshots are considered unchanged. 0.0001 (0.01%) absorbs
// anti-aliasing jitter without hiding real regressions.
const DefaultThreshold = 0.0001

// Outcome is what a Comparator reports for one screenshot pair.
type Outcome struct {
	// MismatchFraction is the fraction of differing pixels, in [0, 1].
	MismatchFraction float64

	// DiffImage is an encoded visual diff, present when the images differ.
	DiffImage []byte
}

// Comparator compares two screenshots by location. Implementations fetch
// the image bytes themselves; see the imaging package for the default.
type Comparator interface {
	Compare(ctx context.Context, actualLocation, expectedLocation string) (Outcome, error)
}

// Result is one classified (page, browser) pair. Expected is empty for
// added entries, Actual is empty for removed entries; both are set for
// diff and unchanged entries.
type Result struct {
	Page     string `json:"page"`
	Browser  string `json:"browser"`
	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual,omitempty"`

	// DiffImage holds the comparator's diff rendering for diff entries.
	// The report assembler nils it once the image is durably written, so
	// a run with many diffs does not hold every buffer at once.
	DiffImage []byte `json:"-"`

	// DiffPath is where the persisted diff image lives, relative to the
	// report directory. Set by the report assembler.
	DiffPath string `json:"diffPath,omitempty"`
}

// Key returns the result's manifest key.
func (r *Result) Key() manifest.Key {
	return manifest.Key{Page: r.Page, Browser: r.Browser}
}

// Report is the classified outcome of one run, ready for human review.
type Report struct {
	TestCases []*manifest.TestCase `json:"testCases"`
	Diffs     []*Result            `json:"diffs"`
	Added     []*Result            `json:"added"`
	Removed   []*Result            `json:"removed"`
	Unchanged []*Result            `json:"unchanged"`
}

// Differ runs the comparison pass.
type Differ struct {
	cmp       Comparator
	threshold float64
	logger    *slog.Logger
}

// Option configures a Differ.
type Option func(*Differ)

// WithThreshold overrides the unchanged/diff mismatch threshold.
func WithThreshold(t float64) Option {
	return func(d *Differ) { d.threshold = t }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Differ) { d.logger = l }
}

// New creates a Differ using the given comparator.
func New(cmp Comparator, opts ...Option) *Differ {
	d := &Differ{cmp: cmp, threshold: DefaultThreshold, logger: slog.Default()}
	for _, o := range opts {
		o(d)
	}
	return d
}

// CompareAll classifies every screenshot of the actual manifest against the
// expected (baseline) manifest.
//
// A comparator error fails the whole pass: a report with partial data could
// mislead approval decisions, so correctness wins over availability here.
func (d *Differ) CompareAll(ctx context.Context, cases []*manifest.TestCase, actual, expected manifest.Manifest) (*Report, error) {
	rep := &Report{TestCases: cases}

	// Main pass: pages present in both manifests, browsers present in both
	// sub-manifests. Everything else is handled by the add/remove passes.
	for page, act := range actual {
		exp, ok := expected[page]
		if !ok {
			continue
		}
		for browser, actualLoc := range act.Screenshots {
			expectedLoc, ok := exp.Screenshots[browser]
			if !ok {
				continue
			}
			out, err := d.cmp.Compare(ctx, actualLoc, expectedLoc)
			if err != nil {
				return nil, fmt.Errorf("differ: compare %s/%s: %w", page, browser, err)
			}
			res := &Result{Page: page, Browser: browser, Expected: expectedLoc, Actual: actualLoc}
			if out.MismatchFraction <= d.threshold {
				rep.Unchanged = append(rep.Unchanged, res)
				continue
			}
			res.DiffImage = out.DiffImage
			rep.Diffs = append(rep.Diffs, res)
			d.logger.Info("differ: screenshot differs",
				"page", page, "browser", browser, "mismatch", out.MismatchFraction)
		}
	}

	rep.Added = complement(actual, expected, func(page, browser, loc string) *Result {
		return &Result{Page: page, Browser: browser, Actual: loc}
	})
	rep.Removed = complement(expected, actual, func(page, browser, loc string) *Result {
		return &Result{Page: page, Browser: browser, Expected: loc}
	})

	sortBucket(rep.Diffs)
	sortBucket(rep.Added)
	sortBucket(rep.Removed)
	sortBucket(rep.Unchanged)

	d.logger.Info("differ: comparison complete",
		"diffs", len(rep.Diffs), "added", len(rep.Added),
		"removed", len(rep.Removed), "unchanged", len(rep.Unchanged))

	return rep, nil
}

// complement collects every (page, browser) pair present in a but absent
// from b, including every browser of pages b lacks entirely.
func complement(a, b manifest.Manifest, mk func(page, browser, loc string) *Result) []*Result {
	var out []*Result
	for page, entry := range a {
		other, pageShared := b[page]
		for browser, loc := range entry.Screenshots {
			if pageShared {
				if _, ok := other.Screenshots[browser]; ok {
					continue
				}
			}
			out = append(out, mk(page, browser, loc))
		}
	}
	return out
}

func sortBucket(bucket []*Result) {
	sort.Slice(bucket, func(i, j int) bool {
		return bucket[i].Key().Less(bucket[j].Key())
	})
}
