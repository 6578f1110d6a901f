package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/airthings-community/go-airthings/pkg/airthings"
	"github.com/airthings-community/go-airthings/pkg/config"
	"github.com/airthings-community/go-airthings/pkg/poller"
	"github.com/airthings-community/go-airthings/pkg/telemetry"
)

func newPollCommand() *cobra.Command {
	var (
		once     bool
		interval time.Duration
		workers  int
	)

	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Poll all devices and store their samples",
		Long: `Poll the latest samples for every device on the account and store them
in the local database.

By default this runs as a daemon, polling at the configured interval
until interrupted. Each cycle is recorded as a poll run; per-device
outcomes land in the event log. With --once a single cycle is executed
and the command exits.

When metrics are enabled in the config, a Prometheus endpoint is served
for the lifetime of the daemon. Edits to the config file are picked up
live: credentials, interval, workers, and retention apply from the next
cycle. Store and telemetry changes take effect on restart.`,
		Example: `  # Run the polling daemon with the configured interval
  airthings poll --config airthings.yaml

  # Run a single poll cycle and exit
  airthings poll --once

  # Override the interval and worker count
  airthings poll --interval 2m --workers 8`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if interval > 0 {
				cfg.Poll.Interval = config.Duration(interval)
			}
			if workers > 0 {
				cfg.Poll.Workers = workers
			}

			tel, err := newTelemetry(cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize telemetry: %w", err)
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := tel.Shutdown(shutdownCtx); err != nil {
					log.Warn().Err(err).Msg("Telemetry shutdown incomplete")
				}
			}()

			if err := tel.StartMetricsServer(); err != nil {
				return fmt.Errorf("failed to start metrics server: %w", err)
			}

			client, err := newAPIClient(cfg, tel)
			if err != nil {
				return err
			}

			ctx := cmd.Context()

			store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			p := poller.New(client, store, tel, pollOptions(cfg))

			if once {
				run, err := p.RunOnce(tel.WithContext(ctx))
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(run)
				}
				fmt.Printf("Poll run %s: %s (%d succeeded, %d failed, %d skipped)\n",
					run.ID, run.Status, run.Succeeded, run.Failed, run.Skipped)
				return nil
			}

			// Watch the config file so edits apply without a restart.
			if configPath != "" {
				watcher := config.NewWatcher(configPath, tel.Logger.Zerolog())
				go func() {
					err := watcher.Watch(ctx, func(updated *config.Config) {
						// Flag overrides stay in effect across reloads.
						if interval > 0 {
							updated.Poll.Interval = config.Duration(interval)
						}
						if workers > 0 {
							updated.Poll.Workers = workers
						}

						fresh, err := newAPIClient(updated, tel)
						if err != nil {
							tel.Logger.WithError(err).Error("Config reload produced an unusable client; keeping previous settings")
							return
						}
						p.Reconfigure(fresh, pollOptions(updated))

						_ = tel.Events.PublishConfigReloaded(configPath)
						tel.Logger.
							WithField("path", configPath).
							Info("Configuration reloaded; new settings apply from the next cycle")
					})
					if err != nil && ctx.Err() == nil {
						tel.Logger.WithError(err).Warn("Config watcher stopped")
					}
				}()
			}

			return p.Run(ctx)
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "run a single poll cycle and exit")
	cmd.Flags().DurationVar(&interval, "interval", 0, "override the poll interval")
	cmd.Flags().IntVar(&workers, "workers", 0, "override the worker count")

	return cmd
}

// newAPIClient builds an API client from the configuration, reporting token
// refreshes through telemetry.
func newAPIClient(cfg *config.Config, tel *telemetry.Telemetry) (*airthings.Client, error) {
	return airthings.NewClient(airthings.Config{
		ClientID:     cfg.Credentials.ClientID,
		ClientSecret: cfg.Credentials.ClientSecret,
		APIURL:       cfg.API.BaseURL,
		TokenURL:     cfg.API.TokenURL,
		Timeout:      cfg.API.Timeout.Std(),
		MaxRetries:   cfg.API.MaxRetries,
		Logger:       tel.Logger.Zerolog(),
		OnTokenRefresh: func() {
			tel.Metrics.RecordTokenRefresh()
			_ = tel.Events.PublishTokenRefreshed()
		},
	})
}

func pollOptions(cfg *config.Config) poller.Options {
	return poller.Options{
		Interval:   cfg.Poll.Interval.Std(),
		Workers:    cfg.Poll.Workers,
		MaxRetries: cfg.Poll.MaxRetries,
		Retention:  cfg.Poll.Retention.Std(),
	}
}

// newTelemetry maps the file configuration onto the telemetry stack.
func newTelemetry(cfg *config.Config) (*telemetry.Telemetry, error) {
	tcfg := telemetry.DefaultConfig()
	tcfg.ServiceVersion = buildVersion

	if cfg.Telemetry.Logging.Level != "" {
		tcfg.Logging.Level = cfg.Telemetry.Logging.Level
	}
	if cfg.Telemetry.Logging.Format != "" {
		tcfg.Logging.Format = cfg.Telemetry.Logging.Format
	}
	if cfg.Telemetry.Logging.Output != "" {
		tcfg.Logging.Output = cfg.Telemetry.Logging.Output
	}

	tcfg.Metrics.Enabled = cfg.Telemetry.Metrics.Enabled
	if cfg.Telemetry.Metrics.ListenAddress != "" {
		tcfg.Metrics.ListenAddress = cfg.Telemetry.Metrics.ListenAddress
	}
	if cfg.Telemetry.Metrics.Path != "" {
		tcfg.Metrics.Path = cfg.Telemetry.Metrics.Path
	}
	if cfg.Telemetry.Metrics.Namespace != "" {
		tcfg.Metrics.Namespace = cfg.Telemetry.Metrics.Namespace
	}

	tcfg.Tracing.Enabled = cfg.Telemetry.Tracing.Enabled
	if cfg.Telemetry.Tracing.Exporter != "" {
		tcfg.Tracing.Exporter = cfg.Telemetry.Tracing.Exporter
	}
	tcfg.Tracing.Endpoint = cfg.Telemetry.Tracing.Endpoint
	if cfg.Telemetry.Tracing.SamplingRate > 0 {
		tcfg.Tracing.SamplingRate = cfg.Telemetry.Tracing.SamplingRate
	}
	tcfg.Tracing.Insecure = cfg.Telemetry.Tracing.Insecure

	return telemetry.NewTelemetry(tcfg)
}
