package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event represents a telemetry event in the Airthings tools.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies where the event originated.
	Source string `json:"source"`

	// RunID is the associated poll run ID, if applicable.
	RunID string `json:"run_id,omitempty"`

	// DeviceID is the associated device serial number, if applicable.
	DeviceID string `json:"device_id,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// EventType constants for common event types.
const (
	EventTypeCycleStarted   = "cycle.started"
	EventTypeCycleCompleted = "cycle.completed"
	EventTypeCycleFailed    = "cycle.failed"
	EventTypeDevicePolled   = "device.polled"
	EventTypeDeviceFailed   = "device.failed"
	EventTypeDeviceSkipped  = "device.skipped"
	EventTypeTokenRefreshed = "token.refreshed"
	EventTypeSamplesPruned  = "samples.pruned"
	EventTypeConfigReloaded = "config.reloaded"
	EventTypeError          = "error"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher manages event publishing and subscriptions.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	filters     []EventFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())

	ep := &EventPublisher{
		config:      cfg,
		buffer:      make(chan Event, cfg.BufferSize),
		subscribers: make([]subscriberEntry, 0),
		filters:     make([]EventFilter, 0),
		ctx:         ctx,
		cancel:      cancel,
	}

	// Start the event processing goroutine
	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}

	// Set ID and timestamp if not already set
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	// Apply global filters
	ep.mu.RLock()
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.RUnlock()
			return nil // Event filtered out
		}
	}
	ep.mu.RUnlock()

	// Send to buffer if async, otherwise process immediately
	if ep.config.EnableAsync {
		select {
		case ep.buffer <- event:
			return nil
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	// Synchronous publishing
	ep.deliverEvent(event)
	return nil
}

// PublishCycleStarted publishes a poll cycle started event.
func (ep *EventPublisher) PublishCycleStarted(runID string, deviceCount int) error {
	return ep.Publish(Event{
		Type:    EventTypeCycleStarted,
		Source:  "poller",
		RunID:   runID,
		Message: fmt.Sprintf("Poll cycle %s started for %d devices", runID, deviceCount),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"device_count": deviceCount,
		},
	})
}

// PublishCycleCompleted publishes a poll cycle completed event.
func (ep *EventPublisher) PublishCycleCompleted(runID, status string, duration time.Duration) error {
	return ep.Publish(Event{
		Type:    EventTypeCycleCompleted,
		Source:  "poller",
		RunID:   runID,
		Message: fmt.Sprintf("Poll cycle %s completed with status: %s", runID, status),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"status":   status,
			"duration": duration.Seconds(),
		},
	})
}

// PublishCycleFailed publishes a poll cycle failed event.
func (ep *EventPublisher) PublishCycleFailed(runID, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypeCycleFailed,
		Source:  "poller",
		RunID:   runID,
		Message: fmt.Sprintf("Poll cycle %s failed: %s", runID, reason),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// PublishDevicePolled publishes a device polled event.
func (ep *EventPublisher) PublishDevicePolled(runID, deviceID string, sampleCount int) error {
	return ep.Publish(Event{
		Type:     EventTypeDevicePolled,
		Source:   "poller",
		RunID:    runID,
		DeviceID: deviceID,
		Message:  fmt.Sprintf("Device %s polled: %d samples", deviceID, sampleCount),
		Level:    EventLevelInfo,
		Data: map[string]interface{}{
			"sample_count": sampleCount,
		},
	})
}

// PublishDeviceFailed publishes a device poll failure event.
func (ep *EventPublisher) PublishDeviceFailed(runID, deviceID, reason string) error {
	return ep.Publish(Event{
		Type:     EventTypeDeviceFailed,
		Source:   "poller",
		RunID:    runID,
		DeviceID: deviceID,
		Message:  fmt.Sprintf("Device %s poll failed: %s", deviceID, reason),
		Level:    EventLevelError,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// PublishDeviceSkipped publishes a device skipped event.
func (ep *EventPublisher) PublishDeviceSkipped(runID, deviceID, reason string) error {
	return ep.Publish(Event{
		Type:     EventTypeDeviceSkipped,
		Source:   "poller",
		RunID:    runID,
		DeviceID: deviceID,
		Message:  fmt.Sprintf("Device %s skipped: %s", deviceID, reason),
		Level:    EventLevelWarning,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// PublishTokenRefreshed publishes a token exchange event.
func (ep *EventPublisher) PublishTokenRefreshed() error {
	return ep.Publish(Event{
		Type:    EventTypeTokenRefreshed,
		Source:  "client",
		Message: "Access token refreshed",
		Level:   EventLevelInfo,
	})
}

// PublishSamplesPruned publishes a retention pruning event.
func (ep *EventPublisher) PublishSamplesPruned(pruned int64) error {
	return ep.Publish(Event{
		Type:    EventTypeSamplesPruned,
		Source:  "poller",
		Message: fmt.Sprintf("Pruned %d samples past retention", pruned),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"pruned": pruned,
		},
	})
}

// PublishConfigReloaded publishes a configuration reload event.
func (ep *EventPublisher) PublishConfigReloaded(path string) error {
	return ep.Publish(Event{
		Type:    EventTypeConfigReloaded,
		Source:  "config",
		Message: fmt.Sprintf("Configuration reloaded from %s", path),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"path": path,
		},
	})
}

// Subscribe adds a new event subscriber.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// AddFilter adds a global event filter.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.filters = append(ep.filters, filter)
}

// processEvents processes events from the buffer asynchronously.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	batch := make([]Event, 0, ep.config.MaxBatchSize)

	flushInterval := ep.config.FlushInterval
	if flushInterval <= 0 {
		flushInterval = time.Second
	}

	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch, event)

			// Flush batch if it reaches max size
			if len(batch) >= ep.config.MaxBatchSize {
				ep.flushBatch(batch)
				batch = make([]Event, 0, ep.config.MaxBatchSize)
			}

		case <-time.After(flushInterval):
			if len(batch) > 0 {
				ep.flushBatch(batch)
				batch = make([]Event, 0, ep.config.MaxBatchSize)
			}

		case <-ep.ctx.Done():
			// Flush remaining events before shutting down
			if len(batch) > 0 {
				ep.flushBatch(batch)
			}
			return
		}
	}
}

// flushBatch delivers a batch of events to subscribers.
func (ep *EventPublisher) flushBatch(events []Event) {
	for _, event := range events {
		ep.deliverEvent(event)
	}
}

// deliverEvent delivers an event to all subscribers.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		// Apply subscriber-specific filter
		if entry.filter != nil && !entry.filter(event) {
			continue
		}

		// Call subscriber in a goroutine to avoid blocking
		go entry.subscriber(event)
	}
}

// Shutdown gracefully shuts down the event publisher.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled {
		return nil
	}

	// Signal shutdown
	ep.cancel()

	// Wait for processing to complete with timeout
	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// Common event filters.

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}

	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByRunID creates a filter that only allows events for a specific poll run.
func FilterByRunID(runID string) EventFilter {
	return func(event Event) bool {
		return event.RunID == runID
	}
}

// FilterByDeviceID creates a filter that only allows events for a specific device.
func FilterByDeviceID(deviceID string) EventFilter {
	return func(event Event) bool {
		return event.DeviceID == deviceID
	}
}
