package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/hazyhaar/vigie/differ"
	"github.com/hazyhaar/vigie/manifest"
)

func sampleReport() *differ.Report {
	return &differ.Report{
		TestCases: []*manifest.TestCase{
			{Path: "a.test.html", PublicURL: "u", Screenshots: map[string]string{"win10_chrome": "s"}},
		},
		Diffs: []*differ.Result{
			{Page: "a.test.html", Browser: "win10_chrome", Expected: "e", Actual: "s", DiffImage: []byte("png-bytes")},
		},
		Added:     []*differ.Result{{Page: "b.test.html", Browser: "win10_chrome", Actual: "s2"}},
		Unchanged: []*differ.Result{{Page: "c.test.html", Browser: "win10_chrome", Expected: "e3", Actual: "s3"}},
	}
}

func persistSample(t *testing.T) (string, *differ.Report) {
	t.Helper()
	a, err := NewAssembler(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	rep := sampleReport()
	dir, err := a.Persist("01RUN", rep)
	if err != nil {
		t.Fatal(err)
	}
	return dir, rep
}

func TestPersistWritesArtifacts(t *testing.T) {
	dir, rep := persistSample(t)

	img, err := os.ReadFile(filepath.Join(dir, "diffs", "a.test.html__win10_chrome.png"))
	if err != nil {
		t.Fatal(err)
	}
	if string(img) != "png-bytes" {
		t.Errorf("diff image = %q", img)
	}

	// Buffer released after durable write, path recorded.
	if rep.Diffs[0].DiffImage != nil {
		t.Error("diff image buffer not released after persist")
	}
	if rep.Diffs[0].DiffPath != "diffs/a.test.html__win10_chrome.png" {
		t.Errorf("diff path = %q", rep.Diffs[0].DiffPath)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "report.json"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasSuffix(raw, []byte("\n")) {
		t.Error("report.json missing trailing newline")
	}
	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"testCases", "diffs", "added", "removed", "unchanged"} {
		if _, ok := decoded[key]; !ok {
			t.Errorf("report.json missing %q", key)
		}
	}

	page, err := os.ReadFile(filepath.Join(dir, "index.html"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(page), "a.test.html") || !strings.Contains(string(page), "01RUN") {
		t.Error("review page missing run content")
	}
}

func TestLoadRoundTrip(t *testing.T) {
	dir, rep := persistSample(t)

	loaded, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded.Diffs) != 1 || loaded.Diffs[0].Key() != rep.Diffs[0].Key() {
		t.Errorf("loaded diffs = %+v", loaded.Diffs)
	}
	if loaded.Diffs[0].DiffPath != rep.Diffs[0].DiffPath {
		t.Errorf("diff path = %q", loaded.Diffs[0].DiffPath)
	}
	if len(loaded.TestCases) != 1 || loaded.TestCases[0].Path != "a.test.html" {
		t.Errorf("loaded test cases = %+v", loaded.TestCases)
	}
}

func TestServerServesReport(t *testing.T) {
	dir, _ := persistSample(t)
	srv := httptest.NewServer(NewServer(ServerConfig{ReportDir: dir}, nil).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/report.json")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("missing security header, got %q", got)
	}
}

func TestServerApprove(t *testing.T) {
	dir, _ := persistSample(t)

	var gotSet *differ.ApprovalSet
	var called bool
	approve := func(_ context.Context, set *differ.ApprovalSet) error {
		called = true
		gotSet = set
		return nil
	}
	srv := httptest.NewServer(NewServer(ServerConfig{ReportDir: dir}, approve).Handler())
	defer srv.Close()

	// Blanket approval: nil set.
	resp, err := http.Post(srv.URL+"/approve", "application/json", strings.NewReader(`{"all": true}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !called || gotSet != nil {
		t.Errorf("blanket approve: status=%d called=%v set=%v", resp.StatusCode, called, gotSet)
	}

	// Selective approval.
	body := `{"diffs": [{"page": "a.test.html", "browser": "win10_chrome"}]}`
	resp, err = http.Post(srv.URL+"/approve", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if gotSet == nil || !gotSet.Diffs.Has(manifest.Key{Page: "a.test.html", Browser: "win10_chrome"}) {
		t.Errorf("selective approve set = %+v", gotSet)
	}
	if len(gotSet.Added) != 0 || len(gotSet.Removed) != 0 {
		t.Error("unrequested buckets not empty")
	}
}

func TestServerApproveFailure(t *testing.T) {
	dir, _ := persistSample(t)
	approve := func(context.Context, *differ.ApprovalSet) error {
		return errors.New("baseline: approval for x/y not found in diff bucket")
	}
	srv := httptest.NewServer(NewServer(ServerConfig{ReportDir: dir}, approve).Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/approve", "application/json", strings.NewReader(`{"all": true}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
}

func TestServerBasicAuth(t *testing.T) {
	dir, _ := persistSample(t)
	hash, err := bcrypt.GenerateFromPassword([]byte("sesame"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(NewServer(ServerConfig{ReportDir: dir, PasswordHash: hash}, nil).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/report.json")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/report.json", nil)
	req.SetBasicAuth("reviewer", "sesame")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("authenticated status = %d, want 200", resp.StatusCode)
	}
}
