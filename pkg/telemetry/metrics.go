package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the Airthings tools.
type Metrics struct {
	config MetricsConfig

	// API client metrics
	apiRequests        *prometheus.CounterVec
	apiRequestDuration *prometheus.HistogramVec
	tokenRefreshes     prometheus.Counter

	// Poll cycle metrics
	pollCycles        *prometheus.CounterVec
	pollCycleDuration *prometheus.HistogramVec
	devicesPolled     *prometheus.CounterVec
	samplesStored     prometheus.Counter

	// Sensor metrics
	sensorValue *prometheus.GaugeVec

	// Device metrics
	devicesKnown  prometheus.Gauge
	devicesActive prometheus.Gauge

	// Error metrics
	errorsByClass *prometheus.CounterVec

	// System metrics
	activeCycles prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	// Create a new registry
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		// API client metrics
		apiRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_requests_total",
				Help:      "Total number of Airthings API requests",
			},
			[]string{"operation", "status"},
		),
		apiRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_request_duration_seconds",
				Help:      "Duration of Airthings API requests in seconds",
				Buckets:   buckets,
			},
			[]string{"operation"},
		),
		tokenRefreshes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "token_refreshes_total",
				Help:      "Total number of access token exchanges",
			},
		),

		// Poll cycle metrics
		pollCycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "poll_cycles_total",
				Help:      "Total number of completed poll cycles",
			},
			[]string{"status"},
		),
		pollCycleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "poll_cycle_duration_seconds",
				Help:      "Duration of poll cycles in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),
		devicesPolled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "devices_polled_total",
				Help:      "Total number of per-device poll attempts",
			},
			[]string{"result"},
		),
		samplesStored: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "samples_stored_total",
				Help:      "Total number of sensor samples written to the store",
			},
		),

		// Sensor metrics
		sensorValue: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sensor_value",
				Help:      "Latest reported value per device and sensor type",
			},
			[]string{"device_id", "sensor_type"},
		),

		// Device metrics
		devicesKnown: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "devices_known",
				Help:      "Number of devices registered on the account",
			},
		),
		devicesActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "devices_active",
				Help:      "Number of devices with an active segment",
			},
		),

		// Error metrics
		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),

		// System metrics
		activeCycles: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_poll_cycles",
				Help:      "Current number of poll cycles in flight",
			},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.apiRequests,
		m.apiRequestDuration,
		m.tokenRefreshes,
		m.pollCycles,
		m.pollCycleDuration,
		m.devicesPolled,
		m.samplesStored,
		m.sensorValue,
		m.devicesKnown,
		m.devicesActive,
		m.errorsByClass,
		m.activeCycles,
	)

	return m, nil
}

// API Client Metrics

// RecordAPIRequest records an API request with its status and duration.
func (m *Metrics) RecordAPIRequest(operation, status string, duration time.Duration) {
	if m.apiRequests == nil {
		return
	}
	m.apiRequests.WithLabelValues(operation, status).Inc()
	m.apiRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordTokenRefresh increments the token exchange counter.
func (m *Metrics) RecordTokenRefresh() {
	if m.tokenRefreshes == nil {
		return
	}
	m.tokenRefreshes.Inc()
}

// Poll Cycle Metrics

// RecordCycleStarted marks a poll cycle as in flight.
func (m *Metrics) RecordCycleStarted() {
	if m.activeCycles == nil {
		return
	}
	m.activeCycles.Inc()
}

// RecordCycleCompleted records a completed poll cycle with its status and duration.
func (m *Metrics) RecordCycleCompleted(status string, duration time.Duration) {
	if m.pollCycles == nil {
		return
	}
	m.pollCycles.WithLabelValues(status).Inc()
	m.pollCycleDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.activeCycles.Dec()
}

// RecordDevicePolled records the outcome of a per-device poll attempt
// (succeeded, failed, skipped).
func (m *Metrics) RecordDevicePolled(result string) {
	if m.devicesPolled == nil {
		return
	}
	m.devicesPolled.WithLabelValues(result).Inc()
}

// AddSamplesStored adds to the stored sample counter.
func (m *Metrics) AddSamplesStored(count int) {
	if m.samplesStored == nil {
		return
	}
	m.samplesStored.Add(float64(count))
}

// Sensor Metrics

// SetSensorValue sets the latest value for a device sensor.
func (m *Metrics) SetSensorValue(deviceID, sensorType string, value float64) {
	if m.sensorValue == nil {
		return
	}
	m.sensorValue.WithLabelValues(deviceID, sensorType).Set(value)
}

// Device Metrics

// SetDeviceCounts sets the known and active device gauges.
func (m *Metrics) SetDeviceCounts(known, active int) {
	if m.devicesKnown == nil {
		return
	}
	m.devicesKnown.Set(float64(known))
	m.devicesActive.Set(float64(active))
}

// Error Metrics

// RecordError records an error by class.
func (m *Metrics) RecordError(errorClass string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration is a helper to time an operation and record it.
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(t.Duration().Seconds())
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// Log error but don't fail the application
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}
