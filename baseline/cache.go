package baseline

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/hazyhaar/vigie/manifest"
)

// Cache resolves the baseline source at most once and hands out a
// structural deep copy on every Load, so callers can mutate their copy
// freely. It is an explicit object, constructor-injected wherever the
// baseline is needed.
type Cache struct {
	src    Source
	client *http.Client
	git    GitReader
	logger *slog.Logger

	mu     sync.Mutex
	loaded bool
	m      manifest.Manifest
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithHTTPClient sets the client used for URL sources.
func WithHTTPClient(c *http.Client) CacheOption {
	return func(ca *Cache) { ca.client = c }
}

// WithGitReader sets the collaborator used for revision sources.
func WithGitReader(g GitReader) CacheOption {
	return func(ca *Cache) { ca.git = g }
}

// WithCacheLogger sets a custom logger.
func WithCacheLogger(l *slog.Logger) CacheOption {
	return func(ca *Cache) { ca.logger = l }
}

// NewCache creates a Cache for the given source. The source is validated
// eagerly so a misconfiguration surfaces before any work is done.
func NewCache(src Source, opts ...CacheOption) (*Cache, error) {
	if err := src.Validate(); err != nil {
		return nil, err
	}
	c := &Cache{src: src, git: &ExecGit{}, logger: slog.Default()}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Load returns a deep copy of the baseline manifest, resolving the source on
// the first call. A failed load is not cached: the next call retries.
func (c *Cache) Load(ctx context.Context) (manifest.Manifest, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.loaded {
		data, err := c.src.fetch(ctx, c.client, c.git)
		if err != nil {
			return nil, err
		}
		m, err := manifest.Decode(data)
		if err != nil {
			return nil, err
		}
		if m == nil {
			m = manifest.Manifest{}
		}
		c.m = m
		c.loaded = true
		c.logger.Info("baseline: loaded", "pages", len(m))
	}

	return c.m.Clone(), nil
}
