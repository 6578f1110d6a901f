package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newValidateCommand() *cobra.Command {
	var checkCredentials bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration",
		Long: `Validate the effective configuration, including environment overrides.

With --check-credentials the configured credentials are verified against
the token endpoint with a real token exchange.`,
		Example: `  # Validate the config file
  airthings validate --config airthings.yaml

  # Also verify the credentials against the API
  airthings validate --config airthings.yaml --check-credentials`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			fmt.Println("✓ Configuration is valid")

			if !checkCredentials {
				return nil
			}

			client, err := newClient(cfg)
			if err != nil {
				return err
			}
			if _, err := client.Token(cmd.Context()); err != nil {
				return fmt.Errorf("credential check failed: %w", err)
			}
			fmt.Println("✓ Credentials accepted by the token endpoint")

			return nil
		},
	}

	cmd.Flags().BoolVar(&checkCredentials, "check-credentials", false, "verify credentials with a token exchange")

	return cmd
}
