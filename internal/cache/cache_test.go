package cache

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"chartexport/internal/config"
)

type fakeFetcher struct {
	calls   int
	fail    int
	content map[string]string
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	f.calls++
	if f.calls <= f.fail {
		return nil, errors.New("fake fetch failure")
	}
	if body, ok := f.content[url]; ok {
		return []byte(body), nil
	}
	return []byte("// " + url + "\n"), nil
}

func baseCacheConfig(t *testing.T) config.CacheConfig {
	return config.CacheConfig{
		Version:     "latest",
		Origin:      "https://code.highcharts.com",
		CorePaths:   []string{"highcharts.js"},
		ModulePaths: []string{"modules/exporting.js"},
		CachePath:   t.TempDir(),
	}
}

func TestCache_InitAssemblesBundleInOrder(t *testing.T) {
	fetcher := &fakeFetcher{}
	c := New(baseCacheConfig(t), fetcher, nil)

	if err := c.Init(context.Background()); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	bundle := c.Get()
	if bundle == nil {
		t.Fatal("expected a bundle after Init")
	}
	if bundle.Version != "latest" {
		t.Errorf("expected version 'latest', got %s", bundle.Version)
	}
	wantCalls := 2 // one core path + one module path
	if fetcher.calls != wantCalls {
		t.Errorf("expected %d fetches, got %d", wantCalls, fetcher.calls)
	}
	core := strings.Index(bundle.SourceText, "latest/highcharts.js")
	module := strings.Index(bundle.SourceText, "latest/modules/exporting.js")
	if core < 0 || module < 0 || core > module {
		t.Errorf("expected core script before module script in bundle, got %q", bundle.SourceText)
	}
}

func TestCache_InitPersistsAndReloadsFromDisk(t *testing.T) {
	cfg := baseCacheConfig(t)
	fetcher := &fakeFetcher{}
	c := New(cfg, fetcher, nil)
	if err := c.Init(context.Background()); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	// A fresh Cache pointed at the same cache path should load from disk
	// without hitting the fetcher again.
	reloadFetcher := &fakeFetcher{}
	c2 := New(cfg, reloadFetcher, nil)
	if err := c2.Init(context.Background()); err != nil {
		t.Fatalf("second Init failed: %v", err)
	}
	if reloadFetcher.calls != 0 {
		t.Errorf("expected disk cache hit with 0 fetches, got %d", reloadFetcher.calls)
	}
	if c2.Get().SHA != c.Get().SHA {
		t.Error("reloaded bundle should match the persisted SHA")
	}
}

func TestCache_InitForceFetchBypassesDisk(t *testing.T) {
	cfg := baseCacheConfig(t)
	fetcher := &fakeFetcher{}
	c := New(cfg, fetcher, nil)
	if err := c.Init(context.Background()); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	cfg.ForceFetch = true
	forcedFetcher := &fakeFetcher{}
	c2 := New(cfg, forcedFetcher, nil)
	if err := c2.Init(context.Background()); err != nil {
		t.Fatalf("forced Init failed: %v", err)
	}
	if forcedFetcher.calls == 0 {
		t.Error("ForceFetch should bypass the disk cache and hit the fetcher")
	}
}

func TestCache_UpdateVersionRejectsMalformedVersion(t *testing.T) {
	c := New(baseCacheConfig(t), &fakeFetcher{}, nil)
	if err := c.Init(context.Background()); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	err := c.UpdateVersion(context.Background(), "not-a-version; DROP TABLE")
	if err == nil {
		t.Fatal("expected UpdateVersion to reject a malformed version string")
	}
}

func TestCache_UpdateVersionRetainsBundleOnFailure(t *testing.T) {
	cfg := baseCacheConfig(t)
	c := New(cfg, &fakeFetcher{}, nil)
	if err := c.Init(context.Background()); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	original := c.Get()

	failing := &fakeFetcher{fail: 100}
	c.fetcher = failing
	if err := c.UpdateVersion(context.Background(), "9.9.9"); err == nil {
		t.Fatal("expected UpdateVersion to fail when every fetch errors")
	}

	if c.Get() != original {
		t.Error("a failed UpdateVersion must leave the active bundle untouched")
	}
}

func TestCache_UpdateVersionSucceeds(t *testing.T) {
	cfg := baseCacheConfig(t)
	c := New(cfg, &fakeFetcher{}, nil)
	if err := c.Init(context.Background()); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	if err := c.UpdateVersion(context.Background(), "10.3.3"); err != nil {
		t.Fatalf("UpdateVersion failed: %v", err)
	}
	if c.Get().Version != "10.3.3" {
		t.Errorf("expected version 10.3.3, got %s", c.Get().Version)
	}
}

func TestCache_FetchWithRetryRecoversWithinBudget(t *testing.T) {
	cfg := baseCacheConfig(t)
	fetcher := &fakeFetcher{fail: 2} // fails twice, succeeds on the 3rd attempt
	c := New(cfg, fetcher, nil)

	if err := c.Init(context.Background()); err != nil {
		t.Fatalf("expected Init to recover within the retry budget: %v", err)
	}
}

func TestCache_FetchWithRetryExhaustsBudget(t *testing.T) {
	cfg := baseCacheConfig(t)
	fetcher := &fakeFetcher{fail: 100}
	c := New(cfg, fetcher, nil)

	if err := c.Init(context.Background()); err == nil {
		t.Fatal("expected Init to fail once the retry budget is exhausted")
	}
}

func TestCache_BundlePathsDeriveFromCachePath(t *testing.T) {
	cfg := baseCacheConfig(t)
	c := New(cfg, &fakeFetcher{}, nil)
	if got, want := c.bundlePath(), filepath.Join(cfg.CachePath, "highcharts.js"); got != want {
		t.Errorf("bundlePath() = %q, want %q", got, want)
	}
	if got, want := c.manifestPath(), filepath.Join(cfg.CachePath, "manifest.json"); got != want {
		t.Errorf("manifestPath() = %q, want %q", got, want)
	}
}
