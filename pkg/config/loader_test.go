package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "airthings.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
credentials:
  client_id: abc
  client_secret: def
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Credentials.ClientID != "abc" {
		t.Errorf("Expected client id abc, got %q", cfg.Credentials.ClientID)
	}
	if cfg.API.Timeout.Std() != 10*time.Second {
		t.Errorf("Expected default timeout 10s, got %v", cfg.API.Timeout)
	}
	if cfg.Poll.Interval.Std() != 5*time.Minute {
		t.Errorf("Expected default interval 5m, got %v", cfg.Poll.Interval)
	}
	if cfg.Poll.Workers != 4 {
		t.Errorf("Expected default workers 4, got %d", cfg.Poll.Workers)
	}
	if cfg.Store.Path != "airthings.db" {
		t.Errorf("Expected default store path, got %q", cfg.Store.Path)
	}
	if cfg.Telemetry.Logging.Level != "info" {
		t.Errorf("Expected default log level info, got %q", cfg.Telemetry.Logging.Level)
	}
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
credentials:
  client_id: abc
  client_secret: def
api:
  timeout: 30s
  max_retries: 5
poll:
  interval: 1m
  workers: 8
telemetry:
  logging:
    level: debug
    format: json
  metrics:
    enabled: true
    listen_address: ":9191"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.API.Timeout.Std() != 30*time.Second {
		t.Errorf("Expected timeout 30s, got %v", cfg.API.Timeout)
	}
	if cfg.API.MaxRetries != 5 {
		t.Errorf("Expected max retries 5, got %d", cfg.API.MaxRetries)
	}
	if cfg.Poll.Interval.Std() != time.Minute {
		t.Errorf("Expected interval 1m, got %v", cfg.Poll.Interval)
	}
	if cfg.Telemetry.Logging.Format != "json" {
		t.Errorf("Expected json format, got %q", cfg.Telemetry.Logging.Format)
	}
	if !cfg.Telemetry.Metrics.Enabled || cfg.Telemetry.Metrics.ListenAddress != ":9191" {
		t.Errorf("Metrics overrides not applied: %+v", cfg.Telemetry.Metrics)
	}
}

func TestLoadEnvOverridesCredentials(t *testing.T) {
	path := writeConfig(t, `
credentials:
  client_id: from-file
  client_secret: from-file
`)

	t.Setenv(EnvClientID, "from-env")
	t.Setenv(EnvClientSecret, "also-from-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Credentials.ClientID != "from-env" {
		t.Errorf("Expected env override, got %q", cfg.Credentials.ClientID)
	}
	if cfg.Credentials.ClientSecret != "also-from-env" {
		t.Errorf("Expected env override, got %q", cfg.Credentials.ClientSecret)
	}
}

func TestLoadMissingCredentials(t *testing.T) {
	path := writeConfig(t, `
api:
  timeout: 5s
`)

	t.Setenv(EnvClientID, "")
	t.Setenv(EnvClientSecret, "")

	if _, err := Load(path); err == nil {
		t.Fatal("Expected validation error for missing credentials")
	}
}

func TestLoadStoreOnlyMissingCredentials(t *testing.T) {
	path := writeConfig(t, `
store:
  path: history.db
`)

	t.Setenv(EnvClientID, "")
	t.Setenv(EnvClientSecret, "")

	cfg, err := LoadStoreOnly(path)
	if err != nil {
		t.Fatalf("LoadStoreOnly failed: %v", err)
	}
	if cfg.Store.Path != "history.db" {
		t.Errorf("Expected store path history.db, got %q", cfg.Store.Path)
	}
}

func TestLoadStoreOnlyStillValidatesRest(t *testing.T) {
	path := writeConfig(t, `
telemetry:
  logging:
    level: loud
`)

	if _, err := LoadStoreOnly(path); err == nil {
		t.Fatal("Expected validation error for bad log level")
	}
}

func TestLoadInvalidLogLevel(t *testing.T) {
	path := writeConfig(t, `
credentials:
  client_id: abc
  client_secret: def
telemetry:
  logging:
    level: loud
`)

	if _, err := Load(path); err == nil {
		t.Fatal("Expected validation error for bad log level")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("Expected error for missing file")
	}
}

func TestDurationIntegerSeconds(t *testing.T) {
	path := writeConfig(t, `
credentials:
  client_id: abc
  client_secret: def
poll:
  interval: 120
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Poll.Interval.Std() != 2*time.Minute {
		t.Errorf("Expected bare integer to mean seconds, got %v", cfg.Poll.Interval)
	}
}

func TestWriteStarter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "starter.yaml")

	if err := WriteStarter(path); err != nil {
		t.Fatalf("WriteStarter failed: %v", err)
	}

	// Starter must parse, but fails validation until credentials are set.
	if _, err := Load(path); err == nil {
		t.Error("Expected starter config to fail validation without credentials")
	}

	if err := WriteStarter(path); err == nil {
		t.Error("Expected error when overwriting existing file")
	}
}
