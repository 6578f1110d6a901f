package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Environment variables that override config file values, so credentials
// can be kept out of version-controlled files.
const (
	EnvClientID     = "AIRTHINGS_CLIENT_ID"
	EnvClientSecret = "AIRTHINGS_CLIENT_SECRET"
)

// Load reads the YAML config file at path, applies defaults and environment
// overrides, and validates the result. An empty path loads defaults plus
// environment overrides only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadStoreOnly is Load without the credentials requirement, for commands
// that only touch the local store.
func LoadStoreOnly(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.ValidateStoreOnly(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnvOverrides overlays environment-provided credentials.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvClientID); v != "" {
		cfg.Credentials.ClientID = v
	}
	if v := os.Getenv(EnvClientSecret); v != "" {
		cfg.Credentials.ClientSecret = v
	}
}

// WriteStarter writes a commented starter config file to path.
// It refuses to overwrite an existing file.
func WriteStarter(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}

	starter := `# Airthings client configuration.
credentials:
  # Issued at https://dashboard.airthings.com under Integrations.
  # Can also be provided via AIRTHINGS_CLIENT_ID / AIRTHINGS_CLIENT_SECRET.
  client_id: ""
  client_secret: ""

api:
  timeout: 10s
  max_retries: 3

poll:
  interval: 5m
  workers: 4
  max_retries: 3
  retention: 2160h # 90 days

store:
  path: data/airthings.db

telemetry:
  logging:
    level: info
    format: console
    output: stderr
  metrics:
    enabled: false
    listen_address: ":9090"
    path: /metrics
    namespace: airthings
  tracing:
    enabled: false
    exporter: none
    sampling_rate: 1.0
`

	if err := os.WriteFile(path, []byte(starter), 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
