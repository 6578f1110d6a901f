package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/airthings-community/go-airthings/pkg/airthings"
	"github.com/airthings-community/go-airthings/pkg/config"
	"github.com/airthings-community/go-airthings/pkg/stores"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool

	// buildVersion is the version reported to telemetry.
	buildVersion = "dev"
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	buildVersion = version
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "airthings",
		Short: "Airthings - air quality monitoring toolkit",
		Long: `Airthings is a client and collector for the Airthings consumer API.

It reads sensor data (radon, CO2, VOC, temperature, humidity, pressure)
from the devices registered on an Airthings account, and can run as a
daemon that polls all devices on a schedule and stores the readings in a
local SQLite database for later inspection.

Credentials are created at https://dashboard.airthings.com under
Integrations > API. Set them in the config file or via the
AIRTHINGS_CLIENT_ID and AIRTHINGS_CLIENT_SECRET environment variables.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newDevicesCommand())
	rootCmd.AddCommand(newSamplesCommand())
	rootCmd.AddCommand(newTokenCommand())
	rootCmd.AddCommand(newPollCommand())
	rootCmd.AddCommand(newHistoryCommand())

	return rootCmd
}

// loadConfig loads the effective configuration for a command invocation.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	return cfg, nil
}

// loadStoreConfig loads the configuration for commands that only read the
// local store and therefore work without API credentials.
func loadStoreConfig() (*config.Config, error) {
	cfg, err := config.LoadStoreOnly(configPath)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	return cfg, nil
}

// newClient builds an API client from the configuration.
func newClient(cfg *config.Config) (*airthings.Client, error) {
	return airthings.NewClient(airthings.Config{
		ClientID:     cfg.Credentials.ClientID,
		ClientSecret: cfg.Credentials.ClientSecret,
		APIURL:       cfg.API.BaseURL,
		TokenURL:     cfg.API.TokenURL,
		Timeout:      cfg.API.Timeout.Std(),
		MaxRetries:   cfg.API.MaxRetries,
		Logger:       log.Logger,
	})
}

// openStore opens and migrates the SQLite store.
func openStore(ctx context.Context, cfg *config.Config) (stores.Store, error) {
	store, err := stores.NewSQLiteStore(stores.Config{
		Path:         cfg.Store.Path,
		MaxOpenConns: cfg.Store.MaxOpenConns,
		MaxIdleConns: cfg.Store.MaxIdleConns,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

// printJSON writes v as indented JSON to stdout.
func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
