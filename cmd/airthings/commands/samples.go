package commands

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

func newSamplesCommand() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "samples [device-id]",
		Short: "Fetch the latest samples for a device",
		Long: `Fetch the latest sensor readings for a single device, or for every
device on the account with --all.

Only numeric sensor values are reported. Which sensors a device reports
depends on its type; use "airthings devices" to see the sensor types per
device.`,
		Example: `  # Latest samples for a device by serial number
  airthings samples 2960012345

  # Latest samples for every device
  airthings samples --all

  # Machine-readable output
  airthings samples 2960012345 --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && len(args) == 0 {
				return fmt.Errorf("a device ID is required unless --all is set")
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			client, err := newClient(cfg)
			if err != nil {
				return err
			}

			if all {
				devices, err := client.UpdateDevices(cmd.Context())
				if err != nil {
					return fmt.Errorf("failed to fetch samples: %w", err)
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

			deviceID := args[0]
			samples, err := client.LatestSamples(cmd.Context(), deviceID)
			if err != nil {
				return fmt.Errorf("failed to fetch samples for %s: %w", deviceID, err)
			}

			if jsonOutput {
				return printJSON(samples)
			}

			if len(samples) == 0 {
				fmt.Printf("No numeric samples reported by %s\n", deviceID)
				return nil
			}

			printSamples(samples, "")
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "fetch samples for every device on the account")

	return cmd
}

// printSamples writes sensor values sorted by sensor type.
func printSamples(samples map[string]float64, indent string) {
	sensorTypes := make([]string, 0, len(samples))
	for sensorType := range samples {
		sensorTypes = append(sensorTypes, sensorType)
	}
	sort.Strings(sensorTypes)

	for _, sensorType := range sensorTypes {
		fmt.Printf("%s%-24s %g\n", indent, sensorType, samples[sensorType])
	}
}
