package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

const (
	envPrefix    = "HIGHCHARTS_"
	configEnvVar = "HIGHCHARTS_CONFIG_PATH"
)

// Loader loads configuration from the layered sources named in §6:
// defaults -> config file -> environment -> explicit caller options -> CLI args.
type Loader struct {
	k           *koanf.Koanf
	configPaths []string
	envPrefix   string
	configFile  string
	overrides   map[string]any
	flags       *pflag.FlagSet
}

// NewLoader creates a new configuration loader.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		k: koanf.New("."),
		configPaths: []string{
			"config.json",
			"config/config.json",
			"/etc/chartexport/config.json",
		},
		envPrefix: envPrefix,
		overrides: map[string]any{},
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithConfigPaths sets the fallback search paths for the config file.
func WithConfigPaths(paths ...string) LoaderOption {
	return func(l *Loader) { l.configPaths = paths }
}

// WithEnvPrefix sets the environment variable prefix.
func WithEnvPrefix(prefix string) LoaderOption {
	return func(l *Loader) { l.envPrefix = prefix }
}

// WithConfigFile pins an explicit config file path, bypassing the search list.
func WithConfigFile(path string) LoaderOption {
	return func(l *Loader) { l.configFile = path }
}

// WithOptions layers explicit caller-supplied dotted-key overrides on top of
// file and environment configuration, one level below CLI args per §6.
func WithOptions(overrides map[string]any) LoaderOption {
	return func(l *Loader) {
		for k, v := range overrides {
			l.overrides[k] = v
		}
	}
}

// WithFlags layers a parsed pflag.FlagSet as the highest-priority source,
// matching §6's "CLI arguments" tier.
func WithFlags(flags *pflag.FlagSet) LoaderOption {
	return func(l *Loader) { l.flags = flags }
}

// Load loads configuration with priority (low to high):
// 1. Built-in defaults
// 2. JSON config file
// 3. Environment variables
// 4. Explicit caller-supplied options
// 5. CLI arguments
func (l *Loader) Load() (*Config, error) {
	if err := l.loadDefaults(); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if err := l.loadConfigFile(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}

	if err := l.loadEnv(); err != nil {
		return nil, fmt.Errorf("failed to load env: %w", err)
	}

	if len(l.overrides) > 0 {
		if err := l.k.Load(confmap.Provider(l.overrides, "."), nil); err != nil {
			return nil, fmt.Errorf("failed to load explicit options: %w", err)
		}
	}

	if l.flags != nil {
		if err := l.k.Load(posflag.Provider(l.flags, ".", l.k), nil); err != nil {
			return nil, fmt.Errorf("failed to load CLI flags: %w", err)
		}
	}

	var cfg Config
	if err := l.k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (l *Loader) loadDefaults() error {
	defaults := map[string]any{
		"app.name":        "chartexport",
		"app.version":     "1.0.0",
		"app.environment": "development",

		"http.port":             8080,
		"http.read_timeout":     30 * time.Second,
		"http.write_timeout":    30 * time.Second,
		"http.shutdown_timeout": 10 * time.Second,
		"http.max_request_bytes": 50 * 1024 * 1024,
		"http.admin_token":      "",

		"log.level":            "notice",
		"log.format":            "json",
		"log.file_path":         "",
		"log.max_size_mb":       100,
		"log.max_backups":       3,
		"log.max_age_days":      7,
		"log.compress":          true,
		"log.websocket_enable":  false,
		"log.websocket_port":    8999,

		"pool.min":                   1,
		"pool.max":                   4,
		"pool.work_limit":            40,
		"pool.queue_size":            20,
		"pool.acquire_timeout":       10 * time.Second,
		"pool.create_timeout":        15 * time.Second,
		"pool.destroy_timeout":       5 * time.Second,
		"pool.idle_timeout":          30 * time.Second,
		"pool.create_retry_interval": 500 * time.Millisecond,
		"pool.rasterization_timeout": 15 * time.Second,
		"pool.reaper_interval":       5 * time.Second,
		"pool.reaper_enabled":        true,
		"pool.benchmarking":          false,

		"cache.version":              "latest",
		"cache.origin":               "https://code.highcharts.com",
		"cache.core_paths":           []string{"highcharts.js"},
		"cache.module_paths":         []string{"modules/exporting.js", "modules/export-data.js"},
		"cache.indicator_paths":      []string{},
		"cache.custom_script_paths":  []string{},
		"cache.cache_path":           "./cache",
		"cache.force_fetch":          false,

		"policy.allow_code_execution": false,
		"policy.allow_file_resources": false,
	}

	return l.k.Load(confmap.Provider(defaults, "."), nil)
}

func (l *Loader) loadConfigFile() error {
	if l.configFile != "" {
		if _, err := os.Stat(l.configFile); err == nil {
			return l.k.Load(file.Provider(l.configFile), json.Parser())
		}
		return fmt.Errorf("config file not found: %s", l.configFile)
	}

	if configPath := os.Getenv(configEnvVar); configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			return l.k.Load(file.Provider(configPath), json.Parser())
		}
	}

	for _, path := range l.configPaths {
		absPath, err := filepath.Abs(path)
		if err != nil {
			continue
		}
		if _, err := os.Stat(absPath); err == nil {
			return l.k.Load(file.Provider(absPath), json.Parser())
		}
	}

	return fmt.Errorf("config file not found in paths: %v", l.configPaths)
}

func (l *Loader) loadEnv() error {
	return l.k.Load(env.Provider(l.envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(
			strings.ToLower(
				strings.TrimPrefix(s, l.envPrefix),
			),
			"_", ".",
		)
	}), nil)
}

// MustLoad loads configuration or panics.
func MustLoad(opts ...LoaderOption) *Config {
	cfg, err := NewLoader(opts...).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Load is a convenience function using default settings only.
func Load() (*Config, error) {
	return NewLoader().Load()
}
