package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/airthings-community/go-airthings/pkg/airthings"
	"github.com/airthings-community/go-airthings/pkg/stores"
	"github.com/airthings-community/go-airthings/pkg/telemetry"
)

// DeviceClient is the subset of the API client the poller needs.
type DeviceClient interface {
	Devices(ctx context.Context) ([]*airthings.Device, error)
	LatestSamples(ctx context.Context, deviceID string) (map[string]float64, error)
}

// Options configures the poller.
type Options struct {
	// Interval is the time between poll cycles.
	Interval time.Duration

	// Workers is the maximum number of devices polled concurrently.
	Workers int

	// MaxRetries is the number of retries per device on retryable errors.
	MaxRetries int

	// Retention is how long stored samples are kept. Zero disables pruning.
	Retention time.Duration
}

// Poller periodically fetches the latest samples for every device on the
// account and persists them.
type Poller struct {
	mu     sync.RWMutex
	client DeviceClient
	opts   Options

	store  stores.Store
	tel    *telemetry.Telemetry
	logger *telemetry.Logger
}

// cycleTally tracks per-device outcomes during a cycle.
type cycleTally struct {
	mu        sync.Mutex
	succeeded int
	failed    int
	skipped   int
	firstErr  error
}

func (t *cycleTally) addSucceeded() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.succeeded++
}

func (t *cycleTally) addFailed(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failed++
	if t.firstErr == nil {
		t.firstErr = err
	}
}

func (t *cycleTally) addSkipped() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.skipped++
}

// New creates a poller.
func New(client DeviceClient, store stores.Store, tel *telemetry.Telemetry, opts Options) *Poller {
	return &Poller{
		client: client,
		store:  store,
		tel:    tel,
		logger: tel.Logger.NewComponentLogger("poller"),
		opts:   applyDefaults(opts),
	}
}

func applyDefaults(opts Options) Options {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Minute
	}
	return opts
}

// Reconfigure replaces the client and options. The new settings apply from
// the next poll cycle; a cycle already in flight finishes with the old ones.
func (p *Poller) Reconfigure(client DeviceClient, opts Options) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if client != nil {
		p.client = client
	}
	p.opts = applyDefaults(opts)

	p.logger.
		WithField("interval", p.opts.Interval.String()).
		WithField("workers", p.opts.Workers).
		Info("Poller reconfigured")
}

// snapshot returns the client and options for one cycle.
func (p *Poller) snapshot() (DeviceClient, Options) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.client, p.opts
}

// Run executes poll cycles at the configured interval until the context is
// cancelled. The first cycle starts immediately.
func (p *Poller) Run(ctx context.Context) error {
	ctx = p.tel.WithContext(ctx)

	_, opts := p.snapshot()
	p.logger.
		WithField("interval", opts.Interval.String()).
		WithField("workers", opts.Workers).
		Info("Poller started")

	interval := opts.Interval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := p.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				p.logger.Info("Poller stopped")
				return nil
			}
			p.logger.WithError(err).Error("Poll cycle failed")
		}

		// Pick up an interval change from Reconfigure.
		if _, opts := p.snapshot(); opts.Interval != interval {
			interval = opts.Interval
			ticker.Reset(interval)
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			p.logger.Info("Poller stopped")
			return nil
		}
	}
}

// RunOnce executes a single poll cycle over all devices and returns the
// completed run record.
func (p *Poller) RunOnce(ctx context.Context) (*stores.PollRun, error) {
	ctx = p.tel.WithContext(ctx)
	runID := uuid.New().String()
	logger := p.logger.WithRunID(runID)
	client, opts := p.snapshot()

	var devices []*airthings.Device
	err := telemetry.RecordAPIOperation(ctx, "devices", func(ctx context.Context) error {
		var err error
		devices, err = client.Devices(ctx)
		return err
	})
	if err != nil {
		p.tel.Metrics.RecordError(string(errorClass(err)))
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	run := &stores.PollRun{
		ID:           runID,
		Status:       stores.PollRunStatusRunning,
		StartedAt:    time.Now(),
		DevicesTotal: len(devices),
	}
	if err := p.store.CreatePollRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create poll run: %w", err)
	}

	cycleCtx := telemetry.WithCycleContext(ctx, runID, len(devices))
	logger.WithField("devices", len(devices)).Info("Poll cycle started")
	p.appendEvent(ctx, &runID, nil, stores.EventLevelInfo,
		fmt.Sprintf("poll cycle started for %d devices", len(devices)))

	tally := &cycleTally{}
	p.pollDevices(cycleCtx, client, opts, runID, devices, tally)

	// Finalize the run record.
	completedAt := time.Now()
	run.CompletedAt = &completedAt
	run.Succeeded = tally.succeeded
	run.Failed = tally.failed
	run.Skipped = tally.skipped
	run.Status = finalStatus(ctx, tally)
	if tally.firstErr != nil {
		msg := tally.firstErr.Error()
		run.Error = &msg
	}

	if err := p.store.CompletePollRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to complete poll run: %w", err)
	}

	active := 0
	for _, d := range devices {
		if d.Active {
			active++
		}
	}
	p.tel.Metrics.SetDeviceCounts(len(devices), active)

	telemetry.EndCycleContext(cycleCtx, runID, string(run.Status), tally.firstErr)
	logger.
		WithField("status", string(run.Status)).
		WithField("succeeded", run.Succeeded).
		WithField("failed", run.Failed).
		WithField("skipped", run.Skipped).
		Info("Poll cycle completed")
	p.appendEvent(ctx, &runID, nil, levelForStatus(run.Status),
		fmt.Sprintf("poll cycle completed with status %s", run.Status))

	if opts.Retention > 0 {
		p.prune(ctx, opts.Retention)
	}

	return run, nil
}

// pollDevices polls all devices using a bounded worker pool.
func (p *Poller) pollDevices(ctx context.Context, client DeviceClient, opts Options, runID string, devices []*airthings.Device, tally *cycleTally) {
	workerCount := opts.Workers
	if len(devices) < workerCount {
		workerCount = len(devices)
	}
	if workerCount == 0 {
		return
	}

	workQueue := make(chan *airthings.Device, len(devices))
	for _, device := range devices {
		workQueue <- device
	}
	close(workQueue)

	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for device := range workQueue {
				p.pollDevice(ctx, client, opts, runID, device, tally)

				select {
				case <-ctx.Done():
					return
				default:
				}
			}
		}()
	}

	wg.Wait()
}

// pollDevice fetches and stores the latest samples for a single device,
// retrying on retryable errors with exponential backoff.
func (p *Poller) pollDevice(ctx context.Context, client DeviceClient, opts Options, runID string, device *airthings.Device, tally *cycleTally) {
	logger := p.logger.WithRunID(runID).WithDeviceID(device.ID)

	if !device.HasSensors() {
		tally.addSkipped()
		p.tel.Metrics.RecordDevicePolled("skipped")
		_ = p.tel.Events.PublishDeviceSkipped(runID, device.ID, "device reports no sensors")
		p.appendEvent(ctx, &runID, &device.ID, stores.EventLevelWarning, "skipped: device reports no sensors")
		logger.Debug("Skipping device without sensors")
		return
	}

	deviceCtx, span := p.tel.Tracer.StartDeviceSpan(ctx, runID, device.ID)
	defer span.End()

	var samples map[string]float64
	var err error

	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		err = telemetry.RecordAPIOperation(deviceCtx, "latest-samples", func(ctx context.Context) error {
			var err error
			samples, err = client.LatestSamples(ctx, device.ID)
			return err
		})
		if err == nil {
			break
		}

		if !airthings.IsRetryable(err) {
			break
		}

		if attempt >= opts.MaxRetries {
			break
		}

		backoff := calculateBackoff(attempt, err)
		logger.
			WithError(err).
			WithField("attempt", attempt+1).
			WithField("backoff", backoff.String()).
			Warn("Retrying device poll")

		select {
		case <-time.After(backoff):
		case <-deviceCtx.Done():
			err = deviceCtx.Err()
			attempt = opts.MaxRetries
		}
	}

	if err != nil {
		telemetry.RecordError(span, err)
		tally.addFailed(err)
		p.tel.Metrics.RecordDevicePolled("failed")
		p.tel.Metrics.RecordError(string(errorClass(err)))
		_ = p.tel.Events.PublishDeviceFailed(runID, device.ID, err.Error())
		p.appendEvent(ctx, &runID, &device.ID, stores.EventLevelError, err.Error())
		logger.WithError(err).Error("Device poll failed")
		return
	}

	if len(samples) == 0 {
		telemetry.RecordSuccess(span)
		tally.addSkipped()
		p.tel.Metrics.RecordDevicePolled("skipped")
		_ = p.tel.Events.PublishDeviceSkipped(runID, device.ID, "no numeric samples reported")
		p.appendEvent(ctx, &runID, &device.ID, stores.EventLevelWarning, "skipped: no numeric samples reported")
		logger.Debug("Device reported no numeric samples")
		return
	}

	if err := p.storeSamples(ctx, runID, device, samples); err != nil {
		telemetry.RecordError(span, err)
		tally.addFailed(err)
		p.tel.Metrics.RecordDevicePolled("failed")
		_ = p.tel.Events.PublishDeviceFailed(runID, device.ID, err.Error())
		p.appendEvent(ctx, &runID, &device.ID, stores.EventLevelError, err.Error())
		logger.WithError(err).Error("Failed to store samples")
		return
	}

	telemetry.RecordSuccess(span)
	tally.addSucceeded()
	p.tel.Metrics.RecordDevicePolled("succeeded")
	p.tel.Metrics.AddSamplesStored(len(samples))
	for sensorType, value := range samples {
		p.tel.Metrics.SetSensorValue(device.ID, sensorType, value)
	}
	_ = p.tel.Events.PublishDevicePolled(runID, device.ID, len(samples))
	logger.WithField("samples", len(samples)).Debug("Device polled")
}

// storeSamples upserts the device record and writes its samples.
func (p *Poller) storeSamples(ctx context.Context, runID string, device *airthings.Device, samples map[string]float64) error {
	sensorTypes, err := json.Marshal(device.SensorTypes)
	if err != nil {
		return fmt.Errorf("failed to encode sensor types: %w", err)
	}

	now := time.Now()
	record := &stores.DeviceRecord{
		ID:          device.ID,
		DeviceType:  device.Type,
		Name:        device.Name,
		Active:      device.Active,
		SensorTypes: string(sensorTypes),
		FirstSeen:   now,
		LastSeen:    now,
	}
	if err := p.store.UpsertDevice(ctx, record); err != nil {
		return fmt.Errorf("failed to upsert device: %w", err)
	}

	if err := p.store.InsertSamples(ctx, runID, device.ID, now, samples); err != nil {
		return fmt.Errorf("failed to insert samples: %w", err)
	}

	return nil
}

// prune deletes samples past the retention window.
func (p *Poller) prune(ctx context.Context, retention time.Duration) {
	cutoff := time.Now().Add(-retention)
	pruned, err := p.store.PruneSamples(ctx, cutoff)
	if err != nil {
		p.logger.WithError(err).Error("Failed to prune samples")
		return
	}
	if pruned > 0 {
		_ = p.tel.Events.PublishSamplesPruned(pruned)
		p.logger.WithField("pruned", pruned).Info("Pruned samples past retention")
	}
}

// appendEvent writes an event to the store, logging on failure.
func (p *Poller) appendEvent(ctx context.Context, runID, deviceID *string, level stores.EventLevel, message string) {
	event := &stores.Event{
		PollRunID: runID,
		DeviceID:  deviceID,
		Level:     level,
		Message:   message,
		Timestamp: time.Now(),
	}
	if err := p.store.AppendEvent(ctx, event); err != nil {
		p.logger.WithError(err).Warn("Failed to append event")
	}
}

// finalStatus derives the run status from the tally.
func finalStatus(ctx context.Context, tally *cycleTally) stores.PollRunStatus {
	if ctx.Err() != nil {
		return stores.PollRunStatusCancelled
	}
	// Skipped devices have no sensors to read, so a run that only skips
	// still completed normally.
	switch {
	case tally.failed > 0 && tally.succeeded > 0:
		return stores.PollRunStatusPartial
	case tally.failed > 0:
		return stores.PollRunStatusFailed
	default:
		return stores.PollRunStatusCompleted
	}
}

// levelForStatus maps a run status to an event level.
func levelForStatus(status stores.PollRunStatus) stores.EventLevel {
	switch status {
	case stores.PollRunStatusCompleted:
		return stores.EventLevelInfo
	case stores.PollRunStatusPartial:
		return stores.EventLevelWarning
	default:
		return stores.EventLevelError
	}
}

// calculateBackoff calculates exponential backoff with jitter.
func calculateBackoff(attempt int, err error) time.Duration {
	baseDelay := 1 * time.Second

	// Throttled errors get a larger base delay to let the rate limit reset.
	if airthings.IsThrottled(err) {
		baseDelay = 5 * time.Second
	}

	// Exponential backoff: delay = baseDelay * 2^attempt
	delay := baseDelay * time.Duration(math.Pow(2, float64(attempt)))

	// Cap at 1 minute
	if delay > time.Minute {
		delay = time.Minute
	}

	// Add jitter (±25%)
	jitter := time.Duration(float64(delay) * 0.25)
	delay = delay + jitter/2

	return delay
}

// errorClass extracts the error class for metrics labels.
func errorClass(err error) airthings.ErrorClass {
	var apiErr *airthings.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Class
	}
	return airthings.ErrorClassPermanent
}
