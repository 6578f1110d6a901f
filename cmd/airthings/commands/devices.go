package commands

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newDevicesCommand() *cobra.Command {
	var withSamples bool

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List devices on the account",
		Long: `List the Airthings devices registered on the account.

Shows each device's serial number, type, name, segment activity, and the
sensor types it reports. With --with-samples the latest reading for each
sensor is fetched as well.`,
		Example: `  # List all devices
  airthings devices

  # Include the latest sensor readings
  airthings devices --with-samples

  # Machine-readable output
  airthings devices --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			client, err := newClient(cfg)
			if err != nil {
				return err
			}

			ctx := cmd.Context()

			if withSamples {
				devices, err := client.UpdateDevices(ctx)
				if err != nil {
					return fmt.Errorf("failed to fetch devices: %w", err)
				}
				if jsonOutput {
					return printJSON(devices)
				}
				for _, device := range devices {
					fmt.Printf("%s  %s (%s)\n", device.ID, device.Name, device.Type)
					printSamples(device.Sensors, "    ")
				}
				return nil
			}

			devices, err := client.Devices(ctx)
			if err != nil {
				return fmt.Errorf("failed to fetch devices: %w", err)
			}

			log.Debug().Int("count", len(devices)).Msg("Fetched device list")

			if jsonOutput {
				return printJSON(devices)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTYPE\tNAME\tACTIVE\tSENSORS")
			for _, device := range devices {
				fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%s\n",
					device.ID, device.Type, device.Name, device.Active,
					strings.Join(device.SensorTypes, ","))
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&withSamples, "with-samples", false, "fetch the latest samples for each device")

	return cmd
}
