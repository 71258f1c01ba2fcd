// Package storage provides implementations of the capture package's Storage
// and Fetcher collaborators: a local directory store for self-contained runs
// and an HTTP PUT store for remote buckets fronted by a plain object server.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/hazyhaar/vigie/capture"
)

// cleanDest normalizes an upload destination and rejects anything escaping
// the store root.
func cleanDest(dest string) (string, error) {
	cleaned := path.Clean("/" + dest)[1:]
	if cleaned == "" || cleaned == "." || strings.HasPrefix(cleaned, "..") {
		return "", fmt.Errorf("storage: invalid destination %q", dest)
	}
	return cleaned, nil
}

// Dir stores uploads under a local directory and serves locations either as
// plain file paths or, when BaseURL is set, as URLs under it (the review
// server mounts the same directory).
type Dir struct {
	root    string
	baseURL string
	logger  *slog.Logger
}

// NewDir creates a directory store rooted at root. baseURL may be empty, in
// which case locations are absolute file paths.
func NewDir(root, baseURL string, logger *slog.Logger) *Dir {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dir{root: root, baseURL: strings.TrimRight(baseURL, "/"), logger: logger}
}

// Upload writes the file under the root and returns its public location.
func (d *Dir) Upload(_ context.Context, f capture.File) (string, error) {
	dest, err := cleanDest(f.Dest)
	if err != nil {
		return "", err
	}
	full := filepath.Join(d.root, filepath.FromSlash(dest))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("storage: mkdir for %s: %w", dest, err)
	}
	if err := os.WriteFile(full, f.Body, 0o644); err != nil {
		return "", fmt.Errorf("storage: write %s: %w", dest, err)
	}
	d.logger.Debug("storage: stored file", "dest", dest, "bytes", len(f.Body), "position", f.Position, "total", f.Total)

	if d.baseURL != "" {
		return d.baseURL + "/" + dest, nil
	}
	return full, nil
}

// Fetch reads a location back. URLs under BaseURL resolve to local files;
// everything else is treated as a file path or fetched over HTTP.
func (d *Dir) Fetch(ctx context.Context, location string) ([]byte, error) {
	if d.baseURL != "" && strings.HasPrefix(location, d.baseURL+"/") {
		rel := strings.TrimPrefix(location, d.baseURL+"/")
		dest, err := cleanDest(rel)
		if err != nil {
			return nil, err
		}
		location = filepath.Join(d.root, filepath.FromSlash(dest))
	}
	return FetchLocation(ctx, nil, location)
}

// Root returns the store's root directory.
func (d *Dir) Root() string { return d.root }

// HTTP uploads via PUT to base/dest and fetches via GET.
type HTTP struct {
	base   string
	client *http.Client
	logger *slog.Logger
}

// NewHTTP creates an HTTP store. client may be nil.
func NewHTTP(base string, client *http.Client, logger *slog.Logger) *HTTP {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTP{base: strings.TrimRight(base, "/"), client: client, logger: logger}
}

// Upload PUTs the file and returns its URL.
func (h *HTTP) Upload(ctx context.Context, f capture.File) (string, error) {
	dest, err := cleanDest(f.Dest)
	if err != nil {
		return "", err
	}
	url := h.base + "/" + dest
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(f.Body))
	if err != nil {
		return "", fmt.Errorf("storage: new request: %w", err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("storage: put %s (%d/%d): %w", dest, f.Position, f.Total, err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("storage: put %s (%d/%d): status %d", dest, f.Position, f.Total, resp.StatusCode)
	}
	return url, nil
}

// Fetch GETs a location.
func (h *HTTP) Fetch(ctx context.Context, location string) ([]byte, error) {
	return FetchLocation(ctx, h.client, location)
}

// FetchLocation downloads http(s) URLs and reads anything else as a local
// file path.
func FetchLocation(ctx context.Context, client *http.Client, location string) ([]byte, error) {
	if !strings.HasPrefix(location, "http://") && !strings.HasPrefix(location, "https://") {
		data, err := os.ReadFile(location)
		if err != nil {
			return nil, fmt.Errorf("storage: read %s: %w", location, err)
		}
		return data, nil
	}

	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: new request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("storage: get %s: %w", location, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("storage: get %s: status %d", location, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", location, err)
	}
	return data, nil
}
