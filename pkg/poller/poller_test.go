package poller

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/airthings-community/go-airthings/pkg/airthings"
	"github.com/airthings-community/go-airthings/pkg/stores"
	"github.com/airthings-community/go-airthings/pkg/telemetry"
)

// fakeClient is a configurable in-memory DeviceClient.
type fakeClient struct {
	mu          sync.Mutex
	devices     []*airthings.Device
	devicesErr  error
	samples     map[string]map[string]float64
	sampleErrs  map[string]error
	failOnce    map[string]error
	sampleCalls map[string]int
}

func (f *fakeClient) Devices(ctx context.Context) ([]*airthings.Device, error) {
	if f.devicesErr != nil {
		return nil, f.devicesErr
	}
	return f.devices, nil
}

func (f *fakeClient) LatestSamples(ctx context.Context, deviceID string) (map[string]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.sampleCalls == nil {
		f.sampleCalls = make(map[string]int)
	}
	f.sampleCalls[deviceID]++

	if err, ok := f.failOnce[deviceID]; ok {
		delete(f.failOnce, deviceID)
		return nil, err
	}
	if err, ok := f.sampleErrs[deviceID]; ok {
		return nil, err
	}
	return f.samples[deviceID], nil
}

func (f *fakeClient) calls(deviceID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sampleCalls[deviceID]
}

func device(id string, sensors ...string) *airthings.Device {
	return &airthings.Device{
		ID:          id,
		Type:        "WAVE_PLUS",
		Name:        "Office " + id,
		Active:      true,
		SensorTypes: sensors,
	}
}

func setupTestStore(t *testing.T) stores.Store {
	t.Helper()

	store, err := stores.NewSQLiteStore(stores.Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return store
}

func newTestTelemetry(t *testing.T) *telemetry.Telemetry {
	t.Helper()

	cfg := telemetry.DefaultConfig()
	cfg.Logging.Level = "error"
	cfg.Logging.Output = "stderr"
	cfg.Events.EnableAsync = false

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		t.Fatalf("failed to create telemetry: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		tel.Shutdown(ctx)
	})

	return tel
}

func newTestPoller(t *testing.T, client *fakeClient, store stores.Store, opts Options) *Poller {
	t.Helper()
	return New(client, store, newTestTelemetry(t), opts)
}

func TestRunOncePersistsSamples(t *testing.T) {
	client := &fakeClient{
		devices: []*airthings.Device{
			device("2960000001", "radonShortTermAvg", "temp"),
			device("2960000002", "co2", "humidity"),
		},
		samples: map[string]map[string]float64{
			"2960000001": {"radonShortTermAvg": 54, "temp": 21.5},
			"2960000002": {"co2": 620, "humidity": 32},
		},
	}
	store := setupTestStore(t)
	p := newTestPoller(t, client, store, Options{})

	run, err := p.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}

	if run.Status != stores.PollRunStatusCompleted {
		t.Errorf("run status = %s, want %s", run.Status, stores.PollRunStatusCompleted)
	}
	if run.Succeeded != 2 || run.Failed != 0 || run.Skipped != 0 {
		t.Errorf("run tally = %d/%d/%d, want 2/0/0", run.Succeeded, run.Failed, run.Skipped)
	}
	if run.CompletedAt == nil {
		t.Error("run should have a completion time")
	}

	ctx := context.Background()
	devices, err := store.ListDevices(ctx)
	if err != nil {
		t.Fatalf("ListDevices() error = %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("stored %d devices, want 2", len(devices))
	}

	samples, err := store.ListSamples(ctx, "2960000001", "", time.Time{}, 100, 0)
	if err != nil {
		t.Fatalf("ListSamples() error = %v", err)
	}
	if len(samples) != 2 {
		t.Errorf("stored %d samples for first device, want 2", len(samples))
	}
	for _, s := range samples {
		if s.PollRunID != run.ID {
			t.Errorf("sample run ID = %s, want %s", s.PollRunID, run.ID)
		}
	}
}

func TestRunOnceSkipsSensorlessDevices(t *testing.T) {
	client := &fakeClient{
		devices: []*airthings.Device{
			device("2960000001", "temp"),
			device("2930000009"), // hub, no sensors
		},
		samples: map[string]map[string]float64{
			"2960000001": {"temp": 20.1},
		},
	}
	store := setupTestStore(t)
	p := newTestPoller(t, client, store, Options{})

	run, err := p.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}

	// A skipped hub is normal, not a degraded run.
	if run.Status != stores.PollRunStatusCompleted {
		t.Errorf("run status = %s, want %s", run.Status, stores.PollRunStatusCompleted)
	}
	if run.Succeeded != 1 || run.Skipped != 1 {
		t.Errorf("run tally = %d succeeded, %d skipped, want 1/1", run.Succeeded, run.Skipped)
	}

	// The sensorless device must never be queried.
	if calls := client.calls("2930000009"); calls != 0 {
		t.Errorf("sensorless device was queried %d times", calls)
	}
}

func TestRunOnceRecordsDeviceFailure(t *testing.T) {
	client := &fakeClient{
		devices: []*airthings.Device{
			device("2960000001", "temp"),
			device("2960000002", "co2"),
		},
		samples: map[string]map[string]float64{
			"2960000001": {"temp": 20.1},
		},
		sampleErrs: map[string]error{
			"2960000002": airthings.NewPermanentError("device not found", nil).WithStatus(404),
		},
	}
	store := setupTestStore(t)
	p := newTestPoller(t, client, store, Options{MaxRetries: 3})

	run, err := p.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}

	if run.Status != stores.PollRunStatusPartial {
		t.Errorf("run status = %s, want %s", run.Status, stores.PollRunStatusPartial)
	}
	if run.Error == nil {
		t.Error("run should record the first error")
	}

	// Permanent errors must not be retried.
	if calls := client.calls("2960000002"); calls != 1 {
		t.Errorf("permanent failure retried: %d calls, want 1", calls)
	}

	events, err := store.ListEvents(context.Background(), &run.ID, nil, 100, 0)
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	var sawError bool
	for _, e := range events {
		if e.Level == stores.EventLevelError && e.DeviceID != nil && *e.DeviceID == "2960000002" {
			sawError = true
		}
	}
	if !sawError {
		t.Error("no error event recorded for the failed device")
	}
}

func TestRunOnceAllDevicesFailed(t *testing.T) {
	client := &fakeClient{
		devices: []*airthings.Device{device("2960000001", "temp")},
		sampleErrs: map[string]error{
			"2960000001": airthings.NewPermanentError("gone", nil).WithStatus(410),
		},
	}
	store := setupTestStore(t)
	p := newTestPoller(t, client, store, Options{})

	run, err := p.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if run.Status != stores.PollRunStatusFailed {
		t.Errorf("run status = %s, want %s", run.Status, stores.PollRunStatusFailed)
	}
}

func TestRunOnceRetriesTransientFailure(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping backoff test in short mode")
	}

	client := &fakeClient{
		devices: []*airthings.Device{device("2960000001", "temp")},
		samples: map[string]map[string]float64{
			"2960000001": {"temp": 19.8},
		},
		failOnce: map[string]error{
			"2960000001": airthings.NewTransientError("connection reset", nil),
		},
	}
	store := setupTestStore(t)
	p := newTestPoller(t, client, store, Options{MaxRetries: 2})

	run, err := p.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}

	if run.Status != stores.PollRunStatusCompleted {
		t.Errorf("run status = %s, want %s", run.Status, stores.PollRunStatusCompleted)
	}
	if calls := client.calls("2960000001"); calls != 2 {
		t.Errorf("transient failure produced %d calls, want 2", calls)
	}
}

func TestRunOnceDeviceListFailure(t *testing.T) {
	client := &fakeClient{
		devicesErr: airthings.NewAuthError("invalid credentials", nil),
	}
	store := setupTestStore(t)
	p := newTestPoller(t, client, store, Options{})

	if _, err := p.RunOnce(context.Background()); err == nil {
		t.Fatal("RunOnce() should fail when the device list cannot be fetched")
	}

	runs, err := store.ListPollRuns(context.Background(), 10, 0)
	if err != nil {
		t.Fatalf("ListPollRuns() error = %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("a run was created despite the device list failure")
	}
}

func TestRunOncePrunesOldSamples(t *testing.T) {
	client := &fakeClient{
		devices: []*airthings.Device{device("2960000001", "temp")},
		samples: map[string]map[string]float64{
			"2960000001": {"temp": 21.0},
		},
	}
	store := setupTestStore(t)

	// Seed an old run with samples past the retention window.
	ctx := context.Background()
	oldRun := &stores.PollRun{
		ID:        "old-run",
		Status:    stores.PollRunStatusCompleted,
		StartedAt: time.Now().Add(-48 * time.Hour),
	}
	if err := store.CreatePollRun(ctx, oldRun); err != nil {
		t.Fatalf("CreatePollRun() error = %v", err)
	}
	if err := store.UpsertDevice(ctx, &stores.DeviceRecord{
		ID: "2960000001", DeviceType: "WAVE_PLUS", Name: "Office",
		SensorTypes: `["temp"]`, FirstSeen: time.Now(), LastSeen: time.Now(),
	}); err != nil {
		t.Fatalf("UpsertDevice() error = %v", err)
	}
	old := time.Now().Add(-24 * time.Hour)
	if err := store.InsertSamples(ctx, "old-run", "2960000001", old, map[string]float64{"temp": 18.0}); err != nil {
		t.Fatalf("InsertSamples() error = %v", err)
	}

	p := newTestPoller(t, client, store, Options{Retention: time.Hour})
	if _, err := p.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}

	samples, err := store.ListSamples(ctx, "2960000001", "", time.Time{}, 100, 0)
	if err != nil {
		t.Fatalf("ListSamples() error = %v", err)
	}
	for _, s := range samples {
		if s.RecordedAt.Before(time.Now().Add(-time.Hour)) {
			t.Errorf("sample from %s survived pruning", s.RecordedAt)
		}
	}
	if len(samples) != 1 {
		t.Errorf("got %d samples after pruning, want 1", len(samples))
	}
}

func TestReconfigureSwapsClient(t *testing.T) {
	first := &fakeClient{
		devices: []*airthings.Device{device("2960000001", "temp")},
		samples: map[string]map[string]float64{
			"2960000001": {"temp": 20.0},
		},
	}
	store := setupTestStore(t)
	p := newTestPoller(t, first, store, Options{})

	if _, err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}

	second := &fakeClient{
		devices: []*airthings.Device{device("2960000002", "co2")},
		samples: map[string]map[string]float64{
			"2960000002": {"co2": 640.0},
		},
	}
	p.Reconfigure(second, Options{Interval: time.Minute, Workers: 2})

	run, err := p.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() after Reconfigure error = %v", err)
	}
	if run.Succeeded != 1 {
		t.Errorf("run tally = %d succeeded, want 1", run.Succeeded)
	}

	// The second cycle must come from the replacement client.
	if calls := second.calls("2960000002"); calls != 1 {
		t.Errorf("replacement client called %d times, want 1", calls)
	}
	if calls := first.calls("2960000001"); calls != 1 {
		t.Errorf("original client called %d times after swap, want 1", calls)
	}
	if _, err := store.GetDevice(context.Background(), "2960000002"); err != nil {
		t.Errorf("device from replacement client not stored: %v", err)
	}
}

func TestReconfigureAppliesDefaults(t *testing.T) {
	client := &fakeClient{}
	p := newTestPoller(t, client, setupTestStore(t), Options{})

	p.Reconfigure(nil, Options{})

	got, opts := p.snapshot()
	if opts.Workers != 4 {
		t.Errorf("workers = %d, want default 4", opts.Workers)
	}
	if opts.Interval != 5*time.Minute {
		t.Errorf("interval = %s, want default 5m", opts.Interval)
	}
	if got != DeviceClient(client) {
		t.Error("nil client must keep the existing client")
	}
}

func TestRunOnceRecordsAPIRequestMetrics(t *testing.T) {
	client := &fakeClient{
		devices: []*airthings.Device{device("2960000001", "temp")},
		samples: map[string]map[string]float64{
			"2960000001": {"temp": 21.0},
		},
	}
	store := setupTestStore(t)

	cfg := telemetry.DefaultConfig()
	cfg.Logging.Level = "error"
	cfg.Events.EnableAsync = false
	cfg.Metrics.Enabled = true
	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		t.Fatalf("failed to create telemetry: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		tel.Shutdown(ctx)
	})

	p := New(client, store, tel, Options{})
	if _, err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}

	rec := httptest.NewRecorder()
	tel.Metrics.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		`airthings_api_requests_total{operation="devices",status="ok"} 1`,
		`airthings_api_requests_total{operation="latest-samples",status="ok"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	client := &fakeClient{
		devices: []*airthings.Device{device("2960000001", "temp")},
		samples: map[string]map[string]float64{
			"2960000001": {"temp": 21.0},
		},
	}
	store := setupTestStore(t)
	p := newTestPoller(t, client, store, Options{Interval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- p.Run(ctx)
	}()

	// Let the first cycle complete, then cancel.
	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not stop after cancellation")
	}

	runs, err := store.ListPollRuns(context.Background(), 10, 0)
	if err != nil {
		t.Fatalf("ListPollRuns() error = %v", err)
	}
	if len(runs) != 1 {
		t.Errorf("got %d runs, want 1", len(runs))
	}
}

func TestCalculateBackoff(t *testing.T) {
	transient := airthings.NewTransientError("reset", nil)
	throttled := airthings.NewThrottledError("rate limited", nil)

	if b0, b1 := calculateBackoff(0, transient), calculateBackoff(1, transient); b1 <= b0 {
		t.Errorf("backoff did not grow: attempt 0 = %s, attempt 1 = %s", b0, b1)
	}

	if bt, bs := calculateBackoff(0, throttled), calculateBackoff(0, transient); bt <= bs {
		t.Errorf("throttled backoff %s should exceed transient backoff %s", bt, bs)
	}

	if b := calculateBackoff(20, transient); b > 2*time.Minute {
		t.Errorf("backoff %s exceeds cap", b)
	}
}

func TestFinalStatus(t *testing.T) {
	tests := []struct {
		name      string
		succeeded int
		failed    int
		skipped   int
		want      stores.PollRunStatus
	}{
		{"all succeeded", 3, 0, 0, stores.PollRunStatusCompleted},
		{"mixed", 2, 1, 0, stores.PollRunStatusPartial},
		{"all failed", 0, 2, 0, stores.PollRunStatusFailed},
		{"skips only", 2, 0, 1, stores.PollRunStatusCompleted},
		{"hub only", 0, 0, 1, stores.PollRunStatusCompleted},
		{"failed with skips", 0, 1, 1, stores.PollRunStatusFailed},
		{"empty", 0, 0, 0, stores.PollRunStatusCompleted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tally := &cycleTally{
				succeeded: tt.succeeded,
				failed:    tt.failed,
				skipped:   tt.skipped,
			}
			if got := finalStatus(context.Background(), tally); got != tt.want {
				t.Errorf("finalStatus() = %s, want %s", got, tt.want)
			}
		})
	}
}
