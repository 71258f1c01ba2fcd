package baseline

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/hazyhaar/vigie/differ"
	"github.com/hazyhaar/vigie/manifest"
)

// sampleReport builds a report against golden():
//
//	a.html/chrome   diff      (imgA → newA)
//	a.html/edge     added     (newE)
//	b.html/chrome   removed
//	a.html/firefox  unchanged
func sampleReport() *differ.Report {
	cases := []*manifest.TestCase{
		{Path: "a.html", PublicURL: "u2", Screenshots: map[string]string{
			"chrome": "newA", "firefox": "newF", "edge": "newE",
		}},
	}
	return &differ.Report{
		TestCases: cases,
		Diffs:     []*differ.Result{{Page: "a.html", Browser: "chrome", Expected: "imgA", Actual: "newA"}},
		Added:     []*differ.Result{{Page: "a.html", Browser: "edge", Actual: "newE"}},
		Removed:   []*differ.Result{{Page: "b.html", Browser: "chrome", Expected: "imgB"}},
		Unchanged: []*differ.Result{{Page: "a.html", Browser: "firefox", Expected: "imgF", Actual: "newF"}},
	}
}

func TestMergeBlanketApproval(t *testing.T) {
	base := golden()
	merged, err := Merge(base, sampleReport(), nil)
	if err != nil {
		t.Fatal(err)
	}

	entry, ok := merged["a.html"]
	if !ok {
		t.Fatal("a.html missing after merge")
	}
	if entry.Screenshots["chrome"] != "newA" {
		t.Errorf("diff not applied: chrome = %q", entry.Screenshots["chrome"])
	}
	if entry.Screenshots["edge"] != "newE" {
		t.Errorf("add not applied: edge = %q", entry.Screenshots["edge"])
	}
	// Unchanged entries keep the baseline location.
	if entry.Screenshots["firefox"] != "imgF" {
		t.Errorf("unchanged overwritten: firefox = %q", entry.Screenshots["firefox"])
	}
	// The page had a diff, so it takes the run's publicUrl.
	if entry.PublicURL != "u2" {
		t.Errorf("publicUrl = %q, want u2", entry.PublicURL)
	}
	// b.html's only browser was removed, so the page entry is gone.
	if _, ok := merged["b.html"]; ok {
		t.Error("b.html should be pruned after removing its last screenshot")
	}
	// The input baseline must be untouched.
	if !base.Equal(golden()) {
		t.Error("Merge mutated its input")
	}
}

func TestMergeEmptySetIsNoOp(t *testing.T) {
	empty := &differ.ApprovalSet{}
	merged, err := Merge(golden(), sampleReport(), empty)
	if err != nil {
		t.Fatal(err)
	}
	if !merged.Equal(golden()) {
		t.Errorf("empty approval changed the baseline: %v", merged)
	}
}

func TestMergeFullSetEqualsBlanket(t *testing.T) {
	rep := sampleReport()
	blanket, err := Merge(golden(), rep, nil)
	if err != nil {
		t.Fatal(err)
	}
	full, err := Merge(golden(), rep, differ.ApproveAll(rep))
	if err != nil {
		t.Fatal(err)
	}
	if !full.Equal(blanket) {
		t.Errorf("full filter merge %v != blanket merge %v", full, blanket)
	}
}

func TestMergeSelectiveDiffOnly(t *testing.T) {
	set := &differ.ApprovalSet{
		Diffs: differ.NewKeySet(manifest.Key{Page: "a.html", Browser: "chrome"}),
	}
	merged, err := Merge(golden(), sampleReport(), set)
	if err != nil {
		t.Fatal(err)
	}
	entry := merged["a.html"]
	if entry.Screenshots["chrome"] != "newA" {
		t.Error("approved diff not applied")
	}
	if _, ok := entry.Screenshots["edge"]; ok {
		t.Error("unapproved add applied")
	}
	if _, ok := merged["b.html"]; !ok {
		t.Error("unapproved remove applied")
	}
	if entry.PublicURL != "u2" {
		t.Errorf("publicUrl = %q, want u2 (page had an approved diff)", entry.PublicURL)
	}
}

func TestMergeSelectiveAddKeepsPublicURL(t *testing.T) {
	set := &differ.ApprovalSet{
		Added: differ.NewKeySet(manifest.Key{Page: "a.html", Browser: "edge"}),
	}
	merged, err := Merge(golden(), sampleReport(), set)
	if err != nil {
		t.Fatal(err)
	}
	entry := merged["a.html"]
	if entry.Screenshots["edge"] != "newE" {
		t.Error("approved add not applied")
	}
	// No diff approved for the page: it keeps the baseline publicUrl.
	if entry.PublicURL != "u1" {
		t.Errorf("publicUrl = %q, want u1", entry.PublicURL)
	}
}

func TestMergeAddCreatesNewPage(t *testing.T) {
	rep := &differ.Report{
		TestCases: []*manifest.TestCase{
			{Path: "new.html", PublicURL: "uN", Screenshots: map[string]string{"chrome": "imgN"}},
		},
		Added: []*differ.Result{{Page: "new.html", Browser: "chrome", Actual: "imgN"}},
	}
	merged, err := Merge(golden(), rep, nil)
	if err != nil {
		t.Fatal(err)
	}
	entry, ok := merged["new.html"]
	if !ok {
		t.Fatal("new page not created")
	}
	if entry.PublicURL != "uN" || entry.Screenshots["chrome"] != "imgN" {
		t.Errorf("entry = %+v", entry)
	}
}

func TestMergeUnknownApprovalFails(t *testing.T) {
	set := &differ.ApprovalSet{
		Diffs: differ.NewKeySet(manifest.Key{Page: "nope.html", Browser: "chrome"}),
	}
	_, err := Merge(golden(), sampleReport(), set)
	var unknown *ErrUnknownApproval
	if !errors.As(err, &unknown) {
		t.Fatalf("error = %v, want *ErrUnknownApproval", err)
	}
	if unknown.Page != "nope.html" || unknown.Bucket != "diff" {
		t.Errorf("unexpected error detail: %+v", unknown)
	}
}

func TestMergeDiffMissingFromBaselineFails(t *testing.T) {
	rep := &differ.Report{
		TestCases: []*manifest.TestCase{{Path: "x.html", PublicURL: "u", Screenshots: map[string]string{"chrome": "i"}}},
		Diffs:     []*differ.Result{{Page: "x.html", Browser: "chrome", Expected: "old", Actual: "i"}},
	}
	_, err := Merge(manifest.Manifest{}, rep, nil)
	var missing *ErrMissingEntry
	if !errors.As(err, &missing) {
		t.Fatalf("error = %v, want *ErrMissingEntry", err)
	}
}

func TestMergeRemoveMissingFromBaselineFails(t *testing.T) {
	rep := &differ.Report{
		Removed: []*differ.Result{{Page: "ghost.html", Browser: "chrome", Expected: "i"}},
	}
	_, err := Merge(manifest.Manifest{}, rep, nil)
	var missing *ErrMissingEntry
	if !errors.As(err, &missing) {
		t.Fatalf("error = %v, want *ErrMissingEntry", err)
	}
}

func TestStoreMergeApprovalsPersists(t *testing.T) {
	src := writeBaseline(t, golden())
	out := filepath.Join(t.TempDir(), "golden.json")

	c, err := NewCache(Source{Path: src})
	if err != nil {
		t.Fatal(err)
	}
	s := NewStore(c, out, nil)

	merged, err := s.MergeApprovals(context.Background(), sampleReport(), nil)
	if err != nil {
		t.Fatal(err)
	}

	// Reload from disk and compare.
	c2, err := NewCache(Source{Path: out})
	if err != nil {
		t.Fatal(err)
	}
	reloaded, err := c2.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !reloaded.Equal(merged) {
		t.Errorf("persisted baseline %v != merged %v", reloaded, merged)
	}
}
