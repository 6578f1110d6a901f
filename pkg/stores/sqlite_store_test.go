package stores

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
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

	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testDevice(id string) *DeviceRecord {
	now := time.Now().UTC().Truncate(time.Second)
	return &DeviceRecord{
		ID:          id,
		DeviceType:  "WAVE_PLUS",
		Name:        "Bedroom",
		Active:      true,
		SensorTypes: `["temp","humidity","radonShortTermAvg"]`,
		FirstSeen:   now,
		LastSeen:    now,
	}
}

// TestStoreLifecycle tests database initialization and closure
func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

// TestStoreMigrations tests that all expected tables exist
func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	tables := []string{"devices", "samples", "poll_runs", "events"}
	for _, table := range tables {
		query := "SELECT COUNT(*) FROM " + table
		var count int
		if err := store.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}
}

// TestInitAppliesPragmas verifies the DSN pragmas actually take effect
// on a file-backed database. WAL mode only applies to on-disk databases,
// so :memory: cannot cover this.
func TestInitAppliesPragmas(t *testing.T) {
	store, err := NewSQLiteStore(Config{
		Path: filepath.Join(t.TempDir(), "pragmas.db"),
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	var journalMode string
	if err := store.db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("failed to read journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("expected journal_mode wal, got %q", journalMode)
	}

	var foreignKeys int
	if err := store.db.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&foreignKeys); err != nil {
		t.Fatalf("failed to read foreign_keys: %v", err)
	}
	if foreignKeys != 1 {
		t.Errorf("expected foreign_keys enabled, got %d", foreignKeys)
	}
}

func TestInsertSamplesUnknownDeviceRejected(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	err := store.InsertSamples(ctx, "run-1", "no-such-device", time.Now().UTC(), map[string]float64{
		"temp": 21.5,
	})
	if err == nil {
		t.Fatal("expected foreign key violation for unknown device")
	}
}

func TestNewSQLiteStoreRequiresPath(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestDeviceUpsert(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	device := testDevice("2930000001")
	if err := store.UpsertDevice(ctx, device); err != nil {
		t.Fatalf("failed to upsert device: %v", err)
	}

	got, err := store.GetDevice(ctx, device.ID)
	if err != nil {
		t.Fatalf("failed to get device: %v", err)
	}
	if got.DeviceType != "WAVE_PLUS" || got.Name != "Bedroom" || !got.Active {
		t.Errorf("unexpected device: %+v", got)
	}

	// Update must preserve first_seen and move last_seen.
	firstSeen := got.FirstSeen
	device.Name = "Office"
	device.Active = false
	device.LastSeen = device.LastSeen.Add(time.Hour)
	if err := store.UpsertDevice(ctx, device); err != nil {
		t.Fatalf("failed to re-upsert device: %v", err)
	}

	got, err = store.GetDevice(ctx, device.ID)
	if err != nil {
		t.Fatalf("failed to get device after update: %v", err)
	}
	if got.Name != "Office" || got.Active {
		t.Errorf("update not applied: %+v", got)
	}
	if !got.FirstSeen.Equal(firstSeen) {
		t.Errorf("first_seen changed on update: %v != %v", got.FirstSeen, firstSeen)
	}
	if !got.LastSeen.After(firstSeen) {
		t.Errorf("last_seen not advanced: %v", got.LastSeen)
	}
}

func TestGetDeviceNotFound(t *testing.T) {
	store := setupTestStore(t)

	if _, err := store.GetDevice(context.Background(), "missing"); err == nil {
		t.Fatal("expected error for missing device")
	}
}

func TestListDevices(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"2930000002", "2930000001", "2930000003"} {
		if err := store.UpsertDevice(ctx, testDevice(id)); err != nil {
			t.Fatalf("failed to upsert device %s: %v", id, err)
		}
	}

	devices, err := store.ListDevices(ctx)
	if err != nil {
		t.Fatalf("failed to list devices: %v", err)
	}
	if len(devices) != 3 {
		t.Fatalf("expected 3 devices, got %d", len(devices))
	}
	// Ordered by serial number.
	if devices[0].ID != "2930000001" || devices[2].ID != "2930000003" {
		t.Errorf("unexpected order: %s, %s, %s", devices[0].ID, devices[1].ID, devices[2].ID)
	}
}

func TestSampleInsertAndList(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	device := testDevice("2930000001")
	if err := store.UpsertDevice(ctx, device); err != nil {
		t.Fatalf("failed to upsert device: %v", err)
	}

	base := time.Now().UTC().Truncate(time.Second)
	err := store.InsertSamples(ctx, "run-1", device.ID, base, map[string]float64{
		"temp":     21.5,
		"humidity": 45.0,
	})
	if err != nil {
		t.Fatalf("failed to insert samples: %v", err)
	}
	err = store.InsertSamples(ctx, "run-2", device.ID, base.Add(5*time.Minute), map[string]float64{
		"temp":     22.0,
		"humidity": 44.0,
	})
	if err != nil {
		t.Fatalf("failed to insert second batch: %v", err)
	}

	// All samples, newest first.
	samples, err := store.ListSamples(ctx, device.ID, "", base.Add(-time.Hour), 100, 0)
	if err != nil {
		t.Fatalf("failed to list samples: %v", err)
	}
	if len(samples) != 4 {
		t.Fatalf("expected 4 samples, got %d", len(samples))
	}
	if samples[0].PollRunID != "run-2" {
		t.Errorf("expected newest sample first, got run %s", samples[0].PollRunID)
	}

	// Filter by sensor type.
	temps, err := store.ListSamples(ctx, device.ID, "temp", base.Add(-time.Hour), 100, 0)
	if err != nil {
		t.Fatalf("failed to list temp samples: %v", err)
	}
	if len(temps) != 2 {
		t.Fatalf("expected 2 temp samples, got %d", len(temps))
	}
	if temps[0].Value != 22.0 {
		t.Errorf("expected newest temp 22.0, got %v", temps[0].Value)
	}

	// Since filter excludes the first batch.
	recent, err := store.ListSamples(ctx, device.ID, "", base.Add(time.Minute), 100, 0)
	if err != nil {
		t.Fatalf("failed to list recent samples: %v", err)
	}
	if len(recent) != 2 {
		t.Errorf("expected 2 recent samples, got %d", len(recent))
	}
}

func TestInsertSamplesEmptyIsNoop(t *testing.T) {
	store := setupTestStore(t)

	if err := store.InsertSamples(context.Background(), "run-1", "dev", time.Now(), nil); err != nil {
		t.Fatalf("empty insert should succeed: %v", err)
	}
}

func TestPruneSamples(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	device := testDevice("2930000001")
	if err := store.UpsertDevice(ctx, device); err != nil {
		t.Fatalf("failed to upsert device: %v", err)
	}

	base := time.Now().UTC().Truncate(time.Second)
	old := base.Add(-48 * time.Hour)
	_ = store.InsertSamples(ctx, "run-old", device.ID, old, map[string]float64{"temp": 19.0})
	_ = store.InsertSamples(ctx, "run-new", device.ID, base, map[string]float64{"temp": 21.0})

	pruned, err := store.PruneSamples(ctx, base.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("failed to prune: %v", err)
	}
	if pruned != 1 {
		t.Errorf("expected 1 pruned sample, got %d", pruned)
	}

	remaining, err := store.ListSamples(ctx, device.ID, "", base.Add(-72*time.Hour), 100, 0)
	if err != nil {
		t.Fatalf("failed to list after prune: %v", err)
	}
	if len(remaining) != 1 || remaining[0].PollRunID != "run-new" {
		t.Errorf("unexpected remaining samples: %+v", remaining)
	}
}

func TestPollRunLifecycle(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	run := &PollRun{
		ID:        "run-1",
		Status:    PollRunStatusRunning,
		StartedAt: time.Now().UTC().Truncate(time.Second),
	}
	if err := store.CreatePollRun(ctx, run); err != nil {
		t.Fatalf("failed to create poll run: %v", err)
	}

	got, err := store.GetPollRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to get poll run: %v", err)
	}
	if got.Status != PollRunStatusRunning {
		t.Errorf("expected running status, got %s", got.Status)
	}

	completedAt := run.StartedAt.Add(30 * time.Second)
	run.Status = PollRunStatusPartial
	run.CompletedAt = &completedAt
	run.DevicesTotal = 3
	run.Succeeded = 2
	run.Failed = 1
	errMsg := "one device failed"
	run.Error = &errMsg
	if err := store.CompletePollRun(ctx, run); err != nil {
		t.Fatalf("failed to complete poll run: %v", err)
	}

	got, err = store.GetPollRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to get completed run: %v", err)
	}
	if got.Status != PollRunStatusPartial || got.Succeeded != 2 || got.Failed != 1 {
		t.Errorf("unexpected completed run: %+v", got)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(completedAt) {
		t.Errorf("completed_at not persisted: %v", got.CompletedAt)
	}
	if got.Error == nil || *got.Error != errMsg {
		t.Errorf("error not persisted: %v", got.Error)
	}
}

func TestCompletePollRunNotFound(t *testing.T) {
	store := setupTestStore(t)

	run := &PollRun{ID: "missing", Status: PollRunStatusCompleted}
	if err := store.CompletePollRun(context.Background(), run); err == nil {
		t.Fatal("expected error for missing run")
	}
}

func TestListPollRunsPagination(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	for i := 0; i < 5; i++ {
		run := &PollRun{
			ID:        "run-" + string(rune('a'+i)),
			Status:    PollRunStatusCompleted,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.CreatePollRun(ctx, run); err != nil {
			t.Fatalf("failed to create run: %v", err)
		}
	}

	page, err := store.ListPollRuns(ctx, 2, 0)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(page))
	}
	if page[0].ID != "run-e" {
		t.Errorf("expected newest run first, got %s", page[0].ID)
	}

	next, err := store.ListPollRuns(ctx, 2, 2)
	if err != nil {
		t.Fatalf("failed to list second page: %v", err)
	}
	if len(next) != 2 || next[0].ID != "run-c" {
		t.Errorf("unexpected second page: %+v", next)
	}
}

func TestEventAppendAndFilter(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	runID := "run-1"
	deviceID := "2930000001"
	events := []*Event{
		{PollRunID: &runID, Level: EventLevelInfo, Message: "cycle started"},
		{PollRunID: &runID, DeviceID: &deviceID, Level: EventLevelError, Message: "fetch failed"},
		{Level: EventLevelInfo, Message: "unrelated"},
	}
	for _, event := range events {
		if err := store.AppendEvent(ctx, event); err != nil {
			t.Fatalf("failed to append event: %v", err)
		}
		if event.ID == 0 {
			t.Error("expected event ID to be set")
		}
	}

	byRun, err := store.ListEvents(ctx, &runID, nil, 100, 0)
	if err != nil {
		t.Fatalf("failed to list by run: %v", err)
	}
	if len(byRun) != 2 {
		t.Errorf("expected 2 events for run, got %d", len(byRun))
	}

	level := EventLevelError
	byLevel, err := store.ListEvents(ctx, &runID, &level, 100, 0)
	if err != nil {
		t.Fatalf("failed to list by level: %v", err)
	}
	if len(byLevel) != 1 || byLevel[0].Message != "fetch failed" {
		t.Errorf("unexpected error events: %+v", byLevel)
	}
	if byLevel[0].DeviceID == nil || *byLevel[0].DeviceID != deviceID {
		t.Errorf("device id not persisted: %v", byLevel[0].DeviceID)
	}

	all, err := store.ListEvents(ctx, nil, nil, 100, 0)
	if err != nil {
		t.Fatalf("failed to list all: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 events, got %d", len(all))
	}
}
