package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.App.Name != "chartexport" {
		t.Errorf("expected app name 'chartexport', got %s", cfg.App.Name)
	}
	if cfg.HTTP.Port != 8080 {
		t.Errorf("expected http port 8080, got %d", cfg.HTTP.Port)
	}
	if cfg.Log.Level != "notice" {
		t.Errorf("expected log level 'notice', got %s", cfg.Log.Level)
	}
	if cfg.Pool.Max != 4 {
		t.Errorf("expected pool max 4, got %d", cfg.Pool.Max)
	}
}

func TestLoader_LoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	configContent := `{
		"app": {"name": "custom-export", "version": "2.0.0", "environment": "staging"},
		"http": {"port": 9090},
		"log": {"level": "verbose"}
	}`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := NewLoader(WithConfigPaths(configPath)).Load()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.App.Name != "custom-export" {
		t.Errorf("expected app name 'custom-export', got %s", cfg.App.Name)
	}
	if cfg.App.Version != "2.0.0" {
		t.Errorf("expected version '2.0.0', got %s", cfg.App.Version)
	}
	if cfg.HTTP.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.HTTP.Port)
	}
	if cfg.Log.Level != "verbose" {
		t.Errorf("expected log level 'verbose', got %s", cfg.Log.Level)
	}
}

func TestLoader_LoadFromEnv(t *testing.T) {
	os.Setenv("HIGHCHARTS_APP_NAME", "env-export")
	os.Setenv("HIGHCHARTS_HTTP_PORT", "9091")
	defer func() {
		os.Unsetenv("HIGHCHARTS_APP_NAME")
		os.Unsetenv("HIGHCHARTS_HTTP_PORT")
	}()

	cfg, err := NewLoader().Load()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.App.Name != "env-export" {
		t.Errorf("expected app name 'env-export', got %s", cfg.App.Name)
	}
	if cfg.HTTP.Port != 9091 {
		t.Errorf("expected port 9091, got %d", cfg.HTTP.Port)
	}
}

func TestLoader_EnvOverridesFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	configContent := `{"app": {"name": "file-export"}, "http": {"port": 9092}}`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	os.Setenv("HIGHCHARTS_APP_NAME", "env-override")
	defer os.Unsetenv("HIGHCHARTS_APP_NAME")

	cfg, err := NewLoader(WithConfigPaths(configPath)).Load()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.App.Name != "env-override" {
		t.Errorf("expected env override, got %s", cfg.App.Name)
	}
	if cfg.HTTP.Port != 9092 {
		t.Errorf("expected port from file 9092, got %d", cfg.HTTP.Port)
	}
}

func TestLoader_WithEnvPrefix(t *testing.T) {
	os.Setenv("CUSTOM_APP_NAME", "custom-prefix-export")
	defer os.Unsetenv("CUSTOM_APP_NAME")

	cfg, err := NewLoader(WithEnvPrefix("CUSTOM_")).Load()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.App.Name != "custom-prefix-export" {
		t.Errorf("expected 'custom-prefix-export', got %s", cfg.App.Name)
	}
}

func TestLoader_WithOptions(t *testing.T) {
	cfg, err := NewLoader(WithOptions(map[string]any{"app.name": "override-export", "http.port": 9093})).Load()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.App.Name != "override-export" {
		t.Errorf("expected 'override-export', got %s", cfg.App.Name)
	}
	if cfg.HTTP.Port != 9093 {
		t.Errorf("expected port 9093, got %d", cfg.HTTP.Port)
	}
}

func TestLoader_OptionsOverrideEnv(t *testing.T) {
	os.Setenv("HIGHCHARTS_APP_NAME", "env-export")
	defer os.Unsetenv("HIGHCHARTS_APP_NAME")

	cfg, err := NewLoader(WithOptions(map[string]any{"app.name": "explicit-export"})).Load()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.App.Name != "explicit-export" {
		t.Errorf("expected explicit option to win over env, got %s", cfg.App.Name)
	}
}

func TestMustLoad_Success(t *testing.T) {
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("MustLoad should not panic with valid config")
		}
	}()

	cfg := MustLoad()
	if cfg == nil {
		t.Error("expected non-nil config")
	}
}

func TestLoad_Simple(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg == nil {
		t.Error("expected non-nil config")
	}
}

func TestLoader_ConfigFileNotFoundIsNonFatal(t *testing.T) {
	cfg, err := NewLoader(WithConfigPaths(filepath.Join(t.TempDir(), "missing.json"))).Load()
	if err != nil {
		t.Fatalf("missing config file should fall back to defaults, got error: %v", err)
	}
	if cfg.App.Name != "chartexport" {
		t.Errorf("expected default app name, got %s", cfg.App.Name)
	}
}
