// Package cache implements the §4.1 Resource Cache: the one-time,
// process-wide acquisition of the charting-library JavaScript bundle, with
// integrity across concurrent workers and on-demand version replacement.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"

	"chartexport/internal/apperror"
	"chartexport/internal/config"
	"chartexport/internal/logging"
)

// Bundle is the assembled charting-library script bundle, §3 CachedBundle.
type Bundle struct {
	Version    string
	SourceText string
	FetchedAt  time.Time
	Origin     string
	SHA        string
}

// manifest is the sidecar persisted alongside the bundle at
// <cachePath>/manifest.json, per §6 "Persisted state".
type manifest struct {
	Version   string    `json:"version"`
	SHA       string    `json:"sha"`
	FetchedAt time.Time `json:"fetchedAt"`
	Scripts   []string  `json:"scripts"`
}

var versionPattern = regexp.MustCompile(`^latest$|^\d{1,2}(\.\d{1,2}){0,2}$`)

// Fetcher abstracts the origin lookup so tests can substitute an in-memory
// source instead of issuing real HTTP requests.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// HTTPFetcher fetches scripts over plain HTTP(S).
type HTTPFetcher struct {
	Client *http.Client
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, url)
	}
	return io.ReadAll(resp.Body)
}

// Cache is the Resource Cache: Init builds the bundle once, Get returns an
// immutable snapshot, UpdateVersion rebuilds it on demand. Publication is a
// single atomic pointer swap; readers never block writers.
type Cache struct {
	cfg     config.CacheConfig
	fetcher Fetcher
	log     *logging.Logger

	bundle atomic.Pointer[Bundle]
}

// New constructs a Cache. A nil fetcher defaults to HTTPFetcher.
func New(cfg config.CacheConfig, fetcher Fetcher, log *logging.Logger) *Cache {
	if fetcher == nil {
		fetcher = &HTTPFetcher{}
	}
	return &Cache{cfg: cfg, fetcher: fetcher, log: log}
}

// Init fetches and assembles the bundle, or loads it from the on-disk
// cache when cfg.ForceFetch is false and a fingerprint-matching copy is
// present. A failure here is fatal to startup, per §4.1.
func (c *Cache) Init(ctx context.Context) error {
	version := c.cfg.Version
	if version == "" {
		version = "latest"
	}

	if !c.cfg.ForceFetch {
		if b, ok := c.loadFromDisk(version); ok {
			c.bundle.Store(b)
			return nil
		}
	}

	b, err := c.fetchAndAssemble(ctx, version)
	if err != nil {
		return apperror.Wrap(err, apperror.CodePoolInitFailed, "failed to assemble charting-library bundle")
	}

	c.bundle.Store(b)
	if err := c.persist(b); err != nil && c.log != nil {
		c.log.Warning("cache: failed to persist bundle to disk", "error", err)
	}
	return nil
}

// Get returns the current bundle as an immutable snapshot. Lock-free.
func (c *Cache) Get() *Bundle {
	return c.bundle.Load()
}

// UpdateVersion validates v, then re-assembles the bundle pinned to that
// version. On failure the previous bundle remains in force and
// CacheUpdateFailed is returned, per §4.1.
func (c *Cache) UpdateVersion(ctx context.Context, v string) error {
	if !versionPattern.MatchString(v) {
		return apperror.NewWithField(apperror.CodeCacheUpdateFailed, "version does not match the required pattern", "version")
	}

	b, err := c.fetchAndAssemble(ctx, v)
	if err != nil {
		if c.log != nil {
			c.log.Warning("cache: version update failed, retaining active bundle", "version", v, "error", err)
		}
		return apperror.Wrap(err, apperror.CodeCacheUpdateFailed, "failed to update charting-library version")
	}

	c.bundle.Store(b)
	if err := c.persist(b); err != nil && c.log != nil {
		c.log.Warning("cache: failed to persist updated bundle to disk", "error", err)
	}
	return nil
}

// fetchAndAssemble concatenates core ⊕ modules ⊕ indicators ⊕ custom, in
// that fixed order, each fetched with a bounded retry (3 attempts,
// exponential backoff 250ms->1s).
func (c *Cache) fetchAndAssemble(ctx context.Context, version string) (*Bundle, error) {
	groups := [][]string{c.cfg.CorePaths, c.cfg.ModulePaths, c.cfg.IndicatorPaths, c.cfg.CustomScriptPaths}

	var assembled []byte
	var scripts []string
	for _, group := range groups {
		for _, path := range group {
			url := c.resolveURL(path, version)
			body, err := c.fetchWithRetry(ctx, url)
			if err != nil {
				return nil, fmt.Errorf("fetching %s: %w", url, err)
			}
			assembled = append(assembled, body...)
			assembled = append(assembled, '\n')
			scripts = append(scripts, url)
		}
	}

	sum := sha256.Sum256(assembled)
	return &Bundle{
		Version:    version,
		SourceText: string(assembled),
		FetchedAt:  time.Now(),
		Origin:     c.cfg.Origin,
		SHA:        hex.EncodeToString(sum[:]),
	}, nil
}

func (c *Cache) resolveURL(path, version string) string {
	return fmt.Sprintf("%s/%s/%s", c.cfg.Origin, version, path)
}

// fetchWithRetry performs the bounded-retry fetch described in §4.1:
// three attempts, exponential backoff starting at 250ms and capped at 1s.
func (c *Cache) fetchWithRetry(ctx context.Context, url string) ([]byte, error) {
	backoff := retry.NewExponential(250 * time.Millisecond)
	backoff = retry.WithCappedDuration(1*time.Second, backoff)
	backoff = retry.WithMaxRetries(2, backoff) // 2 retries + the initial attempt = 3

	var body []byte
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		b, err := c.fetcher.Fetch(ctx, url)
		if err != nil {
			return retry.RetryableError(err)
		}
		body = b
		return nil
	})
	return body, err
}

func (c *Cache) bundlePath() string  { return filepath.Join(c.cfg.CachePath, "highcharts.js") }
func (c *Cache) manifestPath() string { return filepath.Join(c.cfg.CachePath, "manifest.json") }

// loadFromDisk loads a previously persisted bundle when its manifest
// reports the requested version, avoiding network I/O entirely.
func (c *Cache) loadFromDisk(version string) (*Bundle, bool) {
	mf, err := os.ReadFile(c.manifestPath())
	if err != nil {
		return nil, false
	}
	var m manifest
	if err := json.Unmarshal(mf, &m); err != nil {
		return nil, false
	}
	if m.Version != version {
		return nil, false
	}
	source, err := os.ReadFile(c.bundlePath())
	if err != nil {
		return nil, false
	}
	sum := sha256.Sum256(source)
	if hex.EncodeToString(sum[:]) != m.SHA {
		return nil, false
	}
	return &Bundle{
		Version:    m.Version,
		SourceText: string(source),
		FetchedAt:  m.FetchedAt,
		Origin:     c.cfg.Origin,
		SHA:        m.SHA,
	}, true
}

// persist writes the assembled bundle and its manifest sidecar to
// cachePath, per §6 "Persisted state".
func (c *Cache) persist(b *Bundle) error {
	if c.cfg.CachePath == "" {
		return nil
	}
	if err := os.MkdirAll(c.cfg.CachePath, 0755); err != nil {
		return err
	}
	if err := os.WriteFile(c.bundlePath(), []byte(b.SourceText), 0644); err != nil {
		return err
	}

	groups := [][]string{c.cfg.CorePaths, c.cfg.ModulePaths, c.cfg.IndicatorPaths, c.cfg.CustomScriptPaths}
	var scripts []string
	for _, group := range groups {
		scripts = append(scripts, group...)
	}

	m := manifest{Version: b.Version, SHA: b.SHA, FetchedAt: b.FetchedAt, Scripts: scripts}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(c.manifestPath(), data, 0644)
}
