package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db           *sql.DB
	path         string
	maxOpenConns int
	maxIdleConns int
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}

	return &SQLiteStore{
		path:         cfg.Path,
		maxOpenConns: cfg.MaxOpenConns,
		maxIdleConns: cfg.MaxIdleConns,
	}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	// The _pragma parameters run on every new pooled connection, so
	// foreign key enforcement and the busy timeout hold across the pool.
	dsn := fmt.Sprintf("%s?_txlock=immediate"+
		"&_pragma=journal_mode(WAL)"+
		"&_pragma=busy_timeout(5000)"+
		"&_pragma=synchronous(NORMAL)"+
		"&_pragma=foreign_keys(1)", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.maxOpenConns)
	db.SetMaxIdleConns(s.maxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Each pooled connection to :memory: would get its own database.
	if s.path == ":memory:" {
		db.SetMaxOpenConns(1)
		db.SetConnMaxLifetime(0)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// UpsertDevice inserts or updates a device record, preserving first_seen.
func (s *SQLiteStore) UpsertDevice(ctx context.Context, device *DeviceRecord) error {
	query := `
		INSERT INTO devices (id, device_type, name, active, sensor_types, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			device_type = excluded.device_type,
			name = excluded.name,
			active = excluded.active,
			sensor_types = excluded.sensor_types,
			last_seen = excluded.last_seen
	`

	_, err := s.db.ExecContext(ctx, query,
		device.ID,
		device.DeviceType,
		device.Name,
		device.Active,
		device.SensorTypes,
		device.FirstSeen,
		device.LastSeen,
	)

	if err != nil {
		return fmt.Errorf("failed to upsert device: %w", err)
	}

	return nil
}

// GetDevice retrieves a device by serial number
func (s *SQLiteStore) GetDevice(ctx context.Context, id string) (*DeviceRecord, error) {
	query := `
		SELECT id, device_type, name, active, sensor_types, first_seen, last_seen
		FROM devices
		WHERE id = ?
	`

	device := &DeviceRecord{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&device.ID,
		&device.DeviceType,
		&device.Name,
		&device.Active,
		&device.SensorTypes,
		&device.FirstSeen,
		&device.LastSeen,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("device not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}

	return device, nil
}

// ListDevices lists all known devices
func (s *SQLiteStore) ListDevices(ctx context.Context) ([]*DeviceRecord, error) {
	query := `
		SELECT id, device_type, name, active, sensor_types, first_seen, last_seen
		FROM devices
		ORDER BY id
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	defer rows.Close()

	devices := []*DeviceRecord{}
	for rows.Next() {
		device := &DeviceRecord{}
		if err := rows.Scan(
			&device.ID,
			&device.DeviceType,
			&device.Name,
			&device.Active,
			&device.SensorTypes,
			&device.FirstSeen,
			&device.LastSeen,
		); err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		devices = append(devices, device)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate devices: %w", err)
	}

	return devices, nil
}

// InsertSamples stores one reading per sensor type for a device, in a single
// transaction so a poll cycle's readings land atomically.
func (s *SQLiteStore) InsertSamples(ctx context.Context, runID, deviceID string, recordedAt time.Time, values map[string]float64) error {
	if len(values) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO samples (device_id, sensor_type, value, poll_run_id, recorded_at)
		VALUES (?, ?, ?, ?, ?)
	`

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for sensorType, value := range values {
		if _, err := stmt.ExecContext(ctx, deviceID, sensorType, value, runID, recordedAt); err != nil {
			return fmt.Errorf("failed to insert sample: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit samples: %w", err)
	}

	return nil
}

// ListSamples lists stored samples for a device, newest first.
// sensorType narrows to a single sensor when non-empty.
func (s *SQLiteStore) ListSamples(ctx context.Context, deviceID, sensorType string, since time.Time, limit, offset int) ([]*Sample, error) {
	query := `
		SELECT id, device_id, sensor_type, value, poll_run_id, recorded_at
		FROM samples
		WHERE device_id = ? AND recorded_at >= ?
	`
	args := []interface{}{deviceID, since}

	if sensorType != "" {
		query += " AND sensor_type = ?"
		args = append(args, sensorType)
	}

	query += " ORDER BY recorded_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list samples: %w", err)
	}
	defer rows.Close()

	samples := []*Sample{}
	for rows.Next() {
		sample := &Sample{}
		if err := rows.Scan(
			&sample.ID,
			&sample.DeviceID,
			&sample.SensorType,
			&sample.Value,
			&sample.PollRunID,
			&sample.RecordedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan sample: %w", err)
		}
		samples = append(samples, sample)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate samples: %w", err)
	}

	return samples, nil
}

// PruneSamples deletes samples recorded before olderThan and returns the
// number of rows removed.
func (s *SQLiteStore) PruneSamples(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM samples WHERE recorded_at < ?", olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to prune samples: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows, nil
}

// CreatePollRun creates a new poll run record
func (s *SQLiteStore) CreatePollRun(ctx context.Context, run *PollRun) error {
	query := `
		INSERT INTO poll_runs (id, status, started_at, completed_at, devices_total, succeeded, failed, skipped, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.Status,
		run.StartedAt,
		run.CompletedAt,
		run.DevicesTotal,
		run.Succeeded,
		run.Failed,
		run.Skipped,
		run.Error,
	)

	if err != nil {
		return fmt.Errorf("failed to create poll run: %w", err)
	}

	return nil
}

// GetPollRun retrieves a poll run by ID
func (s *SQLiteStore) GetPollRun(ctx context.Context, id string) (*PollRun, error) {
	query := `
		SELECT id, status, started_at, completed_at, devices_total, succeeded, failed, skipped, error
		FROM poll_runs
		WHERE id = ?
	`

	run := &PollRun{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&run.ID,
		&run.Status,
		&run.StartedAt,
		&run.CompletedAt,
		&run.DevicesTotal,
		&run.Succeeded,
		&run.Failed,
		&run.Skipped,
		&run.Error,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("poll run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get poll run: %w", err)
	}

	return run, nil
}

// CompletePollRun writes the final status and counters for a poll run.
func (s *SQLiteStore) CompletePollRun(ctx context.Context, run *PollRun) error {
	query := `
		UPDATE poll_runs
		SET status = ?, completed_at = ?, devices_total = ?, succeeded = ?, failed = ?, skipped = ?, error = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		run.Status,
		run.CompletedAt,
		run.DevicesTotal,
		run.Succeeded,
		run.Failed,
		run.Skipped,
		run.Error,
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to complete poll run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("poll run not found: %s", run.ID)
	}

	return nil
}

// ListPollRuns lists poll runs with pagination, newest first
func (s *SQLiteStore) ListPollRuns(ctx context.Context, limit, offset int) ([]*PollRun, error) {
	query := `
		SELECT id, status, started_at, completed_at, devices_total, succeeded, failed, skipped, error
		FROM poll_runs
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list poll runs: %w", err)
	}
	defer rows.Close()

	runs := []*PollRun{}
	for rows.Next() {
		run := &PollRun{}
		if err := rows.Scan(
			&run.ID,
			&run.Status,
			&run.StartedAt,
			&run.CompletedAt,
			&run.DevicesTotal,
			&run.Succeeded,
			&run.Failed,
			&run.Skipped,
			&run.Error,
		); err != nil {
			return nil, fmt.Errorf("failed to scan poll run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate poll runs: %w", err)
	}

	return runs, nil
}

// AppendEvent appends an event to the log
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *Event) error {
	query := `
		INSERT INTO events (poll_run_id, device_id, level, message, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	result, err := s.db.ExecContext(ctx, query,
		event.PollRunID,
		event.DeviceID,
		event.Level,
		event.Message,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	if id, err := result.LastInsertId(); err == nil {
		event.ID = id
	}

	return nil
}

// ListEvents lists events with optional run and level filters, newest first
func (s *SQLiteStore) ListEvents(ctx context.Context, runID *string, level *EventLevel, limit, offset int) ([]*Event, error) {
	query := `
		SELECT id, poll_run_id, device_id, level, message, timestamp
		FROM events
		WHERE 1=1
	`
	args := []interface{}{}

	if runID != nil {
		query += " AND poll_run_id = ?"
		args = append(args, *runID)
	}
	if level != nil {
		query += " AND level = ?"
		args = append(args, *level)
	}

	query += " ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		event := &Event{}
		if err := rows.Scan(
			&event.ID,
			&event.PollRunID,
			&event.DeviceID,
			&event.Level,
			&event.Message,
			&event.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}

	return events, nil
}

// HealthCheck verifies the database connection is usable
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}
