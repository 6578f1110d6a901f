package commands

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/airthings-community/go-airthings/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect stored poll history",
		Long: `Inspect the poll history stored in the local database.

The database is populated by "airthings poll". History covers poll runs,
per-device samples, and the event log.`,
	}

	cmd.AddCommand(newHistoryRunsCommand())
	cmd.AddCommand(newHistorySamplesCommand())
	cmd.AddCommand(newHistoryEventsCommand())

	return cmd
}

func newHistoryRunsCommand() *cobra.Command {
	var (
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List poll runs",
		Long: `List recorded poll runs, newest first.

Each run covers one cycle over all devices with its per-device outcome
counts.`,
		Example: `  # Show the most recent poll runs
  airthings history runs

  # Page through older runs
  airthings history runs --limit 20 --offset 20`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadStoreConfig()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.ListPollRuns(ctx, limit, offset)
			if err != nil {
				return fmt.Errorf("failed to list poll runs: %w", err)
			}

			if jsonOutput {
				return printJSON(runs)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tSTARTED\tDEVICES\tOK\tFAILED\tSKIPPED")
			for _, run := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
					run.ID, run.Status, run.StartedAt.Format(time.RFC3339),
					run.DevicesTotal, run.Succeeded, run.Failed, run.Skipped)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to show")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of runs to skip")

	return cmd
}

func newHistorySamplesCommand() *cobra.Command {
	var (
		sensorType string
		since      time.Duration
		limit      int
		offset     int
	)

	cmd := &cobra.Command{
		Use:   "samples <device-id>",
		Short: "List stored samples for a device",
		Long: `List stored sensor readings for a device, newest first.

Readings can be narrowed to a single sensor type and a time window.`,
		Example: `  # Recent samples for a device
  airthings history samples 2960012345

  # Radon readings from the last week
  airthings history samples 2960012345 --sensor radonShortTermAvg --since 168h`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deviceID := args[0]

			cfg, err := loadStoreConfig()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			var cutoff time.Time
			if since > 0 {
				cutoff = time.Now().Add(-since)
			}

			samples, err := store.ListSamples(ctx, deviceID, sensorType, cutoff, limit, offset)
			if err != nil {
				return fmt.Errorf("failed to list samples: %w", err)
			}

			if jsonOutput {
				return printJSON(samples)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RECORDED\tSENSOR\tVALUE")
			for _, sample := range samples {
				fmt.Fprintf(w, "%s\t%s\t%g\n",
					sample.RecordedAt.Format(time.RFC3339), sample.SensorType, sample.Value)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&sensorType, "sensor", "", "filter by sensor type")
	cmd.Flags().DurationVar(&since, "since", 0, "only samples from the last duration (e.g. 24h)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of samples to show")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of samples to skip")

	return cmd
}

func newHistoryEventsCommand() *cobra.Command {
	var (
		runID  string
		level  string
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "events",
		Short: "List the event log",
		Long: `List events from the poll event log, newest first.

Events record per-run and per-device outcomes: cycle boundaries, poll
failures, and skipped devices.`,
		Example: `  # Recent events
  airthings history events

  # Errors for a specific run
  airthings history events --run 8f14e45f --level error`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadStoreConfig()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			var runFilter *string
			if runID != "" {
				runFilter = &runID
			}
			var levelFilter *stores.EventLevel
			if level != "" {
				l := stores.EventLevel(level)
				levelFilter = &l
			}

			events, err := store.ListEvents(ctx, runFilter, levelFilter, limit, offset)
			if err != nil {
				return fmt.Errorf("failed to list events: %w", err)
			}

			if jsonOutput {
				return printJSON(events)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TIMESTAMP\tLEVEL\tDEVICE\tMESSAGE")
			for _, event := range events {
				device := ""
				if event.DeviceID != nil {
					device = *event.DeviceID
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					event.Timestamp.Format(time.RFC3339), event.Level, device, event.Message)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "filter by poll run ID")
	cmd.Flags().StringVar(&level, "level", "", "filter by level (debug, info, warning, error)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of events to show")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of events to skip")

	return cmd
}
