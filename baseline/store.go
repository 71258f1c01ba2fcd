package baseline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/hazyhaar/vigie/differ"
	"github.com/hazyhaar/vigie/manifest"
)

// Store couples the read side (Cache) with the write side (a local baseline
// file) and applies approval merges between the two.
type Store struct {
	cache  *Cache
	path   string
	logger *slog.Logger
}

// NewStore creates a Store that reads through cache and persists to path.
func NewStore(cache *Cache, path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{cache: cache, path: path, logger: logger}
}

// Load returns a deep copy of the current baseline.
func (s *Store) Load(ctx context.Context) (manifest.Manifest, error) {
	return s.cache.Load(ctx)
}

// Save writes the manifest to the baseline file in canonical form, as an
// atomic whole-file replace (temp file + rename).
func (s *Store) Save(m manifest.Manifest) error {
	data, err := manifest.Encode(m)
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("baseline: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".baseline-*.json")
	if err != nil {
		return fmt.Errorf("baseline: temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("baseline: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("baseline: close temp: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("baseline: replace %s: %w", s.path, err)
	}

	s.logger.Info("baseline: saved", "path", s.path, "pages", len(m))
	return nil
}

// MergeApprovals loads the current baseline, applies the reviewer's
// approvals from the report, persists the result, and returns it. A nil set
// is a blanket approval of every diff, added, and removed entry.
func (s *Store) MergeApprovals(ctx context.Context, rep *differ.Report, set *differ.ApprovalSet) (manifest.Manifest, error) {
	base, err := s.cache.Load(ctx)
	if err != nil {
		return nil, err
	}
	merged, err := Merge(base, rep, set)
	if err != nil {
		return nil, err
	}
	if err := s.Save(merged); err != nil {
		return nil, err
	}
	return merged, nil
}
