// Package config holds the layered configuration for the export service.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure.
type Config struct {
	App    AppConfig    `koanf:"app"`
	HTTP   HTTPConfig   `koanf:"http"`
	Log    LogConfig    `koanf:"log"`
	Pool   PoolConfig   `koanf:"pool"`
	Cache  CacheConfig  `koanf:"cache"`
	Policy PolicyConfig `koanf:"policy"`
}

// AppConfig holds process-wide identity settings.
type AppConfig struct {
	Name        string `koanf:"name"`
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"` // development, production
}

// HTTPConfig configures the public HTTP surface.
type HTTPConfig struct {
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	MaxRequestBytes int64         `koanf:"max_request_bytes"`
	AdminToken      string        `koanf:"admin_token"` // required by POST /change_hc_version/:v
}

// LogConfig configures the leveled logger and its sinks.
type LogConfig struct {
	Level           string `koanf:"level"` // silent, error, warning, notice, verbose
	Format          string `koanf:"format"`
	FilePath        string `koanf:"file_path"`
	MaxSizeMB       int    `koanf:"max_size_mb"`
	MaxBackups      int    `koanf:"max_backups"`
	MaxAgeDays      int    `koanf:"max_age_days"`
	Compress        bool   `koanf:"compress"`
	WebsocketEnable bool   `koanf:"websocket_enable"`
	WebsocketPort   int    `koanf:"websocket_port"`
}

// PoolConfig configures the Browser Worker Pool, §4.3.
type PoolConfig struct {
	Min                  int           `koanf:"min"`
	Max                  int           `koanf:"max"`
	WorkLimit            int           `koanf:"work_limit"`
	QueueSize            int           `koanf:"queue_size"`
	AcquireTimeout       time.Duration `koanf:"acquire_timeout"`
	CreateTimeout        time.Duration `koanf:"create_timeout"`
	DestroyTimeout       time.Duration `koanf:"destroy_timeout"`
	IdleTimeout          time.Duration `koanf:"idle_timeout"`
	CreateRetryInterval  time.Duration `koanf:"create_retry_interval"`
	RasterizationTimeout time.Duration `koanf:"rasterization_timeout"`
	ReaperInterval       time.Duration `koanf:"reaper_interval"`
	ReaperEnabled        bool          `koanf:"reaper_enabled"`
	Benchmarking         bool          `koanf:"benchmarking"`
}

// CacheConfig configures the Resource Cache, §4.1.
type CacheConfig struct {
	Version           string   `koanf:"version"`
	Origin            string   `koanf:"origin"`
	CorePaths         []string `koanf:"core_paths"`
	ModulePaths       []string `koanf:"module_paths"`
	IndicatorPaths    []string `koanf:"indicator_paths"`
	CustomScriptPaths []string `koanf:"custom_script_paths"`
	CachePath         string   `koanf:"cache_path"`
	ForceFetch        bool     `koanf:"force_fetch"`
}

// PolicyConfig controls the §4.5 policy gate.
type PolicyConfig struct {
	AllowCodeExecution bool `koanf:"allow_code_execution"`
	AllowFileResources bool `koanf:"allow_file_resources"`
}

// Address returns host:port for the HTTP listener.
func (c HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate checks structural invariants that the loader cannot express as
// simple defaults (cross-field constraints from §4.3 and §6).
func (c *Config) Validate() error {
	var errs []string

	if c.App.Name == "" {
		errs = append(errs, "app.name is required")
	}

	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Sprintf("http.port must be between 1 and 65535, got %d", c.HTTP.Port))
	}

	validLevels := map[string]bool{"silent": true, "error": true, "warning": true, "notice": true, "verbose": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, fmt.Sprintf("log.level must be one of: silent, error, warning, notice, verbose, got %s", c.Log.Level))
	}

	if c.Pool.Min < 0 {
		errs = append(errs, "pool.min must be >= 0")
	}
	if c.Pool.Max < 1 || c.Pool.Max < c.Pool.Min {
		errs = append(errs, fmt.Sprintf("pool.max must be >= 1 and >= pool.min, got max=%d min=%d", c.Pool.Max, c.Pool.Min))
	}
	if c.Pool.WorkLimit < 1 {
		errs = append(errs, "pool.work_limit must be >= 1")
	}
	if c.Pool.QueueSize < 0 {
		errs = append(errs, "pool.queue_size must be >= 0")
	}

	if c.Cache.Origin == "" && len(c.Cache.CorePaths) == 0 {
		errs = append(errs, "cache.origin or cache.core_paths must be set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return nil
}

// IsDevelopment reports whether the environment is "development" or "dev";
// the HTTP server then adds a "stack" field to surfaced errors.
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development" || c.App.Environment == "dev"
}

// IsProduction reports whether the environment is "production" or "prod".
// Other values (e.g. "staging") are neither development nor production.
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production" || c.App.Environment == "prod"
}
