package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so durations can be written as strings
// like "10s" or "5m" in YAML. Bare integers are treated as seconds.
type Duration time.Duration

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// String returns the duration in time.Duration notation.
func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err == nil {
		*d = Duration(time.Duration(n) * time.Second)
		return nil
	}
	return fmt.Errorf("invalid duration: %s", value.Value)
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// Config is the top-level configuration for the airthings CLI and daemon.
type Config struct {
	// Credentials holds the Airthings API credentials.
	Credentials CredentialsConfig `yaml:"credentials" validate:"required"`

	// API configures the Airthings consumer API client.
	API APIConfig `yaml:"api"`

	// Poll configures the polling daemon.
	Poll PollConfig `yaml:"poll"`

	// Store configures the local sample history store.
	Store StoreConfig `yaml:"store"`

	// Telemetry configures logging, metrics and tracing.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// CredentialsConfig holds the client-credentials pair issued by the
// Airthings dashboard. Both fields can be overridden by environment
// variables so secrets can stay out of the config file.
type CredentialsConfig struct {
	ClientID     string `yaml:"client_id" validate:"required"`
	ClientSecret string `yaml:"client_secret" validate:"required"`
}

// APIConfig configures the API client.
type APIConfig struct {
	// BaseURL is the consumer API base URL.
	BaseURL string `yaml:"base_url" validate:"omitempty,url"`

	// TokenURL is the token endpoint URL.
	TokenURL string `yaml:"token_url" validate:"omitempty,url"`

	// Timeout is the per-request timeout.
	Timeout Duration `yaml:"timeout" validate:"min=0"`

	// MaxRetries is the retry budget per API operation.
	MaxRetries int `yaml:"max_retries" validate:"min=0,max=10"`
}

// PollConfig configures the polling daemon.
type PollConfig struct {
	// Interval is the time between poll cycles.
	Interval Duration `yaml:"interval" validate:"min=0"`

	// Workers is the number of concurrent device fetches per cycle.
	Workers int `yaml:"workers" validate:"min=0,max=64"`

	// MaxRetries is the per-device retry budget within a cycle.
	MaxRetries int `yaml:"max_retries" validate:"min=0,max=10"`

	// Retention is how long stored samples are kept. Zero disables pruning.
	Retention Duration `yaml:"retention" validate:"min=0"`
}

// StoreConfig configures the SQLite history store.
type StoreConfig struct {
	// Path is the SQLite database file path.
	Path string `yaml:"path"`

	// MaxOpenConns bounds the connection pool.
	MaxOpenConns int `yaml:"max_open_conns" validate:"min=0"`

	// MaxIdleConns bounds idle pooled connections.
	MaxIdleConns int `yaml:"max_idle_conns" validate:"min=0"`
}

// TelemetryConfig configures the observability stack.
type TelemetryConfig struct {
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level sets the minimum log level (trace, debug, info, warn, error, fatal).
	Level string `yaml:"level" validate:"omitempty,oneof=trace debug info warn error fatal"`

	// Format specifies the log format (console, json).
	Format string `yaml:"format" validate:"omitempty,oneof=console json"`

	// Output specifies where logs are written (stdout, stderr, file path).
	Output string `yaml:"output"`
}

// MetricsConfig configures the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddress string `yaml:"listen_address" validate:"required_if=Enabled true"`
	Path          string `yaml:"path"`
	Namespace     string `yaml:"namespace"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter" validate:"omitempty,oneof=otlp stdout none"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate" validate:"min=0,max=1"`
	Insecure     bool    `yaml:"insecure"`
}

// Default returns a configuration with sensible defaults applied.
// Credentials are left empty and must come from the file or environment.
func Default() *Config {
	return &Config{
		API: APIConfig{
			Timeout:    Duration(10 * time.Second),
			MaxRetries: 3,
		},
		Poll: PollConfig{
			Interval:   Duration(5 * time.Minute),
			Workers:    4,
			MaxRetries: 3,
			Retention:  Duration(90 * 24 * time.Hour),
		},
		Store: StoreConfig{
			Path:         "airthings.db",
			MaxOpenConns: 25,
			MaxIdleConns: 5,
		},
		Telemetry: TelemetryConfig{
			Logging: LoggingConfig{
				Level:  "info",
				Format: "console",
				Output: "stderr",
			},
			Metrics: MetricsConfig{
				Enabled:       false,
				ListenAddress: ":9090",
				Path:          "/metrics",
				Namespace:     "airthings",
			},
			Tracing: TracingConfig{
				Enabled:      false,
				Exporter:     "none",
				SamplingRate: 1.0,
				Insecure:     true,
			},
		},
	}
}

// Validate checks the configuration against its struct tags.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// ValidateStoreOnly checks everything except the credentials. Commands that
// only read the local store do not need API access.
func (c *Config) ValidateStoreOnly() error {
	if err := validator.New().StructExcept(c, "Credentials"); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}
