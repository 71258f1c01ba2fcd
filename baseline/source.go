// Package baseline loads, caches, merges, and persists the golden snapshot
// manifest. The baseline file is the only long-lived artifact of the
// workflow: it is read once per process, cloned before any mutation, and
// rewritten atomically as a whole-file replace in canonical JSON form.
package baseline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"time"
)

// GitReader fetches a file's content at a given revision. The workflow uses
// it to pin the baseline to the commit under test instead of the working
// tree.
type GitReader interface {
	ReadFileAtRevision(ctx context.Context, path, revision string) ([]byte, error)
}

// ExecGit reads revisions through the git binary.
type ExecGit struct {
	// Dir is the repository directory. Empty means the current directory.
	Dir string
}

// ReadFileAtRevision runs `git show revision:path`.
func (g *ExecGit) ReadFileAtRevision(ctx context.Context, path, revision string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", "show", revision+":"+path)
	cmd.Dir = g.Dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("baseline: git show %s:%s: %w (%s)",
			revision, path, err, bytes.TrimSpace(stderr.Bytes()))
	}
	return out, nil
}

// Source names where the golden baseline comes from. Exactly one arm must be
// populated: a public URL, a local file path, or a (revision, path) pair
// resolved through git.
type Source struct {
	URL          string `yaml:"url"`
	Path         string `yaml:"path"`
	Revision     string `yaml:"revision"`
	RevisionPath string `yaml:"revision_path"`
}

type sourceKind int

const (
	kindInvalid sourceKind = iota
	kindURL
	kindPath
	kindRevision
)

func (s Source) kind() sourceKind {
	var k sourceKind
	arms := 0
	if s.URL != "" {
		arms, k = arms+1, kindURL
	}
	if s.Path != "" {
		arms, k = arms+1, kindPath
	}
	if s.Revision != "" || s.RevisionPath != "" {
		if s.Revision == "" || s.RevisionPath == "" {
			return kindInvalid
		}
		arms, k = arms+1, kindRevision
	}
	if arms != 1 {
		return kindInvalid
	}
	return k
}

// Validate checks that exactly one arm is populated.
func (s Source) Validate() error {
	if s.kind() == kindInvalid {
		return &ErrSourceConfig{URL: s.URL, Path: s.Path, Revision: s.Revision, RevisionPath: s.RevisionPath}
	}
	return nil
}

// fetch resolves the source to raw baseline bytes. A missing local file is
// not an error: the first run of a project has no baseline yet, so it reads
// as an empty manifest.
func (s Source) fetch(ctx context.Context, client *http.Client, git GitReader) ([]byte, error) {
	switch s.kind() {
	case kindURL:
		return fetchURL(ctx, client, s.URL)
	case kindPath:
		data, err := os.ReadFile(s.Path)
		if os.IsNotExist(err) {
			return []byte("{}\n"), nil
		}
		if err != nil {
			return nil, fmt.Errorf("baseline: read %s: %w", s.Path, err)
		}
		return data, nil
	case kindRevision:
		return git.ReadFileAtRevision(ctx, s.RevisionPath, s.Revision)
	default:
		return nil, &ErrSourceConfig{URL: s.URL, Path: s.Path, Revision: s.Revision, RevisionPath: s.RevisionPath}
	}
}

func fetchURL(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("baseline: new request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("baseline: fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("baseline: fetch %s: status %d", url, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("baseline: read %s: %w", url, err)
	}
	return data, nil
}
