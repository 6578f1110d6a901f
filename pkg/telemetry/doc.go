// Package telemetry provides observability instrumentation for the Airthings tools.
//
// The telemetry package integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry), metrics (Prometheus), and event publishing into a unified system
// for monitoring the API client and the sample poller.
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = "1.0.0"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	if err := tel.StartMetricsServer(); err != nil {
//	    log.Fatal(err)
//	}
//
//	ctx = tel.WithContext(ctx)
//
// # Structured Logging
//
// The logger provides component-specific logging with automatic context propagation:
//
//	logger := tel.Logger.NewComponentLogger("poller")
//	logger = logger.WithRunID(runID).WithDeviceID(deviceID)
//	logger.Info("Polling device")
//	logger.WithError(err).Error("Device poll failed")
//
// Log levels: trace, debug, info, warn, error, fatal
//
// # Distributed Tracing
//
// Tracing supports multiple exporters:
//
//   - "stdout": Print traces to stdout (development)
//   - "otlp": Export via OTLP/gRPC (production, works with collectors)
//   - "none": Generate traces but don't export (testing)
//
// Configure via TracingConfig.Exporter and TracingConfig.Endpoint.
//
// # Common Metrics
//
// Key metrics exposed:
//
//   - airthings_api_requests_total{operation,status}
//   - airthings_api_request_duration_seconds{operation}
//   - airthings_token_refreshes_total
//   - airthings_poll_cycles_total{status}
//   - airthings_poll_cycle_duration_seconds{status}
//   - airthings_devices_polled_total{result}
//   - airthings_samples_stored_total
//   - airthings_sensor_value{device_id,sensor_type}
//   - airthings_devices_known
//   - airthings_devices_active
//   - airthings_errors_by_class_total{class}
//   - airthings_active_poll_cycles
//
// Credentials and access tokens are never logged, traced, or attached to events.
package telemetry
