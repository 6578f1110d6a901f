package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Telemetry provides a unified telemetry interface combining logging, tracing,
// metrics, and events.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

// telemetryContextKey is the context key for telemetry instances.
type telemetryContextKey struct{}

// NewTelemetry creates a new telemetry instance from configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Initialize logger
	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	// Initialize tracer
	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}

	// Initialize metrics
	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	// Initialize event publisher
	events, err := NewEventPublisher(cfg.Events)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
	}, nil
}

// WithContext adds the telemetry instance to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	ctx = t.Logger.WithContext(ctx)
	return ctx
}

// FromTelemetryContext retrieves the telemetry instance from the context.
// If no telemetry is found, it returns nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// Shutdown gracefully shuts down all telemetry components.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	// Shutdown in reverse order of initialization
	if err := t.Events.Shutdown(ctx); err != nil {
		return err
	}

	if err := t.Tracer.Shutdown(ctx); err != nil {
		return err
	}

	// The metrics server keeps serving until the process exits so that the
	// final scrape can observe shutdown counters.

	return nil
}

// Flush forces all pending telemetry data to be exported.
func (t *Telemetry) Flush(ctx context.Context) error {
	return t.Tracer.ForceFlush(ctx)
}

// StartMetricsServer starts the metrics HTTP server if metrics are enabled.
func (t *Telemetry) StartMetricsServer() error {
	return t.Metrics.StartMetricsServer()
}

// cycleSpanKey is the context key for poll cycle spans.
type cycleSpanKey struct{}

// cycleTimerKey is the context key for poll cycle timers.
type cycleTimerKey struct{}

// WithCycleContext creates a context enriched with poll cycle telemetry.
func WithCycleContext(ctx context.Context, runID string, deviceCount int) context.Context {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return ctx
	}

	// Start cycle span
	spanCtx, span := tel.Tracer.StartCycleSpan(ctx, runID)

	// Create cycle-specific logger
	logger := tel.Logger.WithRunID(runID)
	spanCtx = logger.WithContext(spanCtx)

	tel.Metrics.RecordCycleStarted()
	_ = tel.Events.PublishCycleStarted(runID, deviceCount)

	spanCtx = context.WithValue(spanCtx, cycleSpanKey{}, span)
	spanCtx = context.WithValue(spanCtx, cycleTimerKey{}, NewTimer())

	return spanCtx
}

// EndCycleContext completes the poll cycle context, recording metrics and events.
func EndCycleContext(ctx context.Context, runID, status string, err error) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return
	}

	// Get the cycle span from context
	if span, ok := ctx.Value(cycleSpanKey{}).(trace.Span); ok {
		span.SetAttributes(AttrRunStatus.String(status))
		if err != nil {
			RecordError(span, err)
		} else {
			RecordSuccess(span)
		}
		span.End()
	}

	var duration time.Duration
	if timer, ok := ctx.Value(cycleTimerKey{}).(*Timer); ok {
		duration = timer.Duration()
	}

	tel.Metrics.RecordCycleCompleted(status, duration)

	if err != nil {
		_ = tel.Events.PublishCycleFailed(runID, err.Error())
	} else {
		_ = tel.Events.PublishCycleCompleted(runID, status, duration)
	}
}

// RecordAPIOperation wraps an API call with tracing, timing, and metrics.
func RecordAPIOperation(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	tel := FromTelemetryContext(ctx)

	// Start span
	var span trace.Span
	if tel != nil {
		ctx, span = tel.Tracer.StartAPISpan(ctx, operation)
		defer span.End()
	}

	// Start timer
	timer := NewTimer()

	// Execute operation
	err := fn(ctx)

	// Record metrics
	if tel != nil {
		duration := timer.Duration()
		status := "ok"
		if err != nil {
			status = "error"
			RecordError(span, err)
		} else {
			RecordSuccess(span)
		}
		tel.Metrics.RecordAPIRequest(operation, status, duration)
	}

	return err
}
