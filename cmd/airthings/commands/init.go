package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/airthings-community/go-airthings/pkg/config"
	"github.com/airthings-community/go-airthings/pkg/stores"
)

func newInitCommand() *cobra.Command {
	var dataDir string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a workspace",
		Long: `Initialize a workspace with a starter config file and an empty database.

The starter config documents every setting. Fill in the API credentials
from https://dashboard.airthings.com (Integrations > API), or export them
as AIRTHINGS_CLIENT_ID and AIRTHINGS_CLIENT_SECRET.`,
		Example: `  # Initialize in the current directory
  airthings init

  # Initialize with a custom config path and data directory
  airthings init --config /etc/airthings/airthings.yaml --data-dir /var/lib/airthings`,
		RunE: func(cmd *cobra.Command, args []string) error {
			target := configPath
			if target == "" {
				target = "airthings.yaml"
			}

			log.Info().
				Str("config", target).
				Str("data_dir", dataDir).
				Msg("Initializing workspace")

			ctx := cmd.Context()

			// Step 1: Create the data directory
			if err := os.MkdirAll(dataDir, 0700); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", dataDir, err)
			}
			fmt.Printf("✓ Created directory: %s\n", dataDir)

			// Step 2: Write the starter config
			if err := config.WriteStarter(target); err != nil {
				return err
			}
			fmt.Printf("✓ Wrote starter config: %s\n", target)

			// Step 3: Initialize the SQLite database
			dbPath := filepath.Join(dataDir, "airthings.db")
			store, err := stores.NewSQLiteStore(stores.Config{
				Path: dbPath,
			})
			if err != nil {
				return fmt.Errorf("failed to create store: %w", err)
			}
			defer store.Close()

			if err := store.Init(ctx); err != nil {
				return fmt.Errorf("failed to initialize store: %w", err)
			}
			if err := store.Migrate(ctx); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			fmt.Printf("✓ Initialized database: %s\n", dbPath)

			fmt.Println("\nNext steps:")
			fmt.Printf("  1. Add your API credentials to %s\n", target)
			fmt.Printf("  2. Run: airthings devices --config %s\n", target)
			fmt.Printf("  3. Run: airthings poll --config %s\n", target)

			return nil
		},
	}

	cmd.Flags().StringVar(&dataDir, "data-dir", "./data", "data directory for the database")

	return cmd
}
