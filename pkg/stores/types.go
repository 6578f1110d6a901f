package stores

import (
	"context"
	"time"
)

// PollRunStatus represents the status of a poll cycle
type PollRunStatus string

const (
	PollRunStatusRunning   PollRunStatus = "running"
	PollRunStatusCompleted PollRunStatus = "completed"
	PollRunStatusPartial   PollRunStatus = "partial"
	PollRunStatusFailed    PollRunStatus = "failed"
	PollRunStatusCancelled PollRunStatus = "cancelled"
)

// EventLevel represents the severity level of an event
type EventLevel string

const (
	EventLevelDebug   EventLevel = "debug"
	EventLevelInfo    EventLevel = "info"
	EventLevelWarning EventLevel = "warning"
	EventLevelError   EventLevel = "error"
)

// DeviceRecord represents a known Airthings device
type DeviceRecord struct {
	ID          string    `json:"id"` // device serial number
	DeviceType  string    `json:"device_type"`
	Name        string    `json:"name"`
	Active      bool      `json:"active"`
	SensorTypes string    `json:"sensor_types"` // JSON array of sensor type names
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
}

// Sample represents a single stored sensor reading
type Sample struct {
	ID         int64     `json:"id"`
	DeviceID   string    `json:"device_id"`
	SensorType string    `json:"sensor_type"`
	Value      float64   `json:"value"`
	PollRunID  string    `json:"poll_run_id"`
	RecordedAt time.Time `json:"recorded_at"`
}

// PollRun represents one poll cycle over all devices
type PollRun struct {
	ID           string        `json:"id"`
	Status       PollRunStatus `json:"status"`
	StartedAt    time.Time     `json:"started_at"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
	DevicesTotal int           `json:"devices_total"`
	Succeeded    int           `json:"succeeded"`
	Failed       int           `json:"failed"`
	Skipped      int           `json:"skipped"`
	Error        *string       `json:"error,omitempty"`
}

// Event represents an append-only log event
type Event struct {
	ID        int64      `json:"id"`
	PollRunID *string    `json:"poll_run_id,omitempty"`
	DeviceID  *string    `json:"device_id,omitempty"`
	Level     EventLevel `json:"level"`
	Message   string     `json:"message"`
	Timestamp time.Time  `json:"timestamp"`
}

// Store defines the interface for the persistence layer
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Device operations
	UpsertDevice(ctx context.Context, device *DeviceRecord) error
	GetDevice(ctx context.Context, id string) (*DeviceRecord, error)
	ListDevices(ctx context.Context) ([]*DeviceRecord, error)

	// Sample operations
	InsertSamples(ctx context.Context, runID, deviceID string, recordedAt time.Time, values map[string]float64) error
	ListSamples(ctx context.Context, deviceID, sensorType string, since time.Time, limit, offset int) ([]*Sample, error)
	PruneSamples(ctx context.Context, olderThan time.Time) (int64, error)

	// PollRun operations
	CreatePollRun(ctx context.Context, run *PollRun) error
	GetPollRun(ctx context.Context, id string) (*PollRun, error)
	CompletePollRun(ctx context.Context, run *PollRun) error
	ListPollRuns(ctx context.Context, limit, offset int) ([]*PollRun, error)

	// Event operations
	AppendEvent(ctx context.Context, event *Event) error
	ListEvents(ctx context.Context, runID *string, level *EventLevel, limit, offset int) ([]*Event, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
