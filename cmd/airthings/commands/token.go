package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newTokenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Exchange credentials for an access token",
		Long: `Exchange the configured client credentials for an access token and
print it to stdout.

Useful for verifying credentials and for calling the API directly with
curl. The token is short-lived and printed only because it was explicitly
requested; it never appears in logs.`,
		Example: `  # Print an access token
  airthings token

  # Use it against the API directly
  curl -H "Authorization: $(airthings token)" https://ext-api.airthings.com/v1/devices`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			client, err := newClient(cfg)
			if err != nil {
				return err
			}

			token, err := client.Token(cmd.Context())
			if err != nil {
				return fmt.Errorf("token exchange failed: %w", err)
			}

			if jsonOutput {
				return printJSON(map[string]string{"access_token": token})
			}

			fmt.Println(token)
			return nil
		},
	}

	return cmd
}
