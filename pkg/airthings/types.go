package airthings

import "encoding/json"

// Device represents a single Airthings device as reported by the consumer API.
type Device struct {
	// ID is the device serial number.
	ID string `json:"id"`

	// Type is the device model (e.g. "WAVE_PLUS", "WAVE_MINI", "VIEW_PLUS").
	Type string `json:"device_type"`

	// Name is the name of the segment (room) the device is assigned to.
	Name string `json:"name"`

	// Active reports whether the device's segment is currently active.
	Active bool `json:"active"`

	// SensorTypes lists the sensor types the device exposes
	// (e.g. "radonShortTermAvg", "temp", "humidity", "co2").
	SensorTypes []string `json:"sensor_types"`

	// Sensors maps sensor type to the most recently fetched value.
	// Empty until samples have been fetched for the device.
	Sensors map[string]float64 `json:"sensors"`
}

// HasSensors reports whether the device declares any sensor types.
func (d *Device) HasSensors() bool {
	return len(d.SensorTypes) > 0
}

// Wire types for the consumer API.

type devicesResponse struct {
	Devices []deviceEntry `json:"devices"`
}

type deviceEntry struct {
	ID         string       `json:"id"`
	DeviceType string       `json:"deviceType"`
	Sensors    []string     `json:"sensors"`
	Segment    segmentEntry `json:"segment"`
}

type segmentEntry struct {
	Name     string `json:"name"`
	IsActive bool   `json:"isActive"`
}

type samplesResponse struct {
	Data map[string]json.RawMessage `json:"data"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

// toDevice converts a wire device entry to a Device.
func (e deviceEntry) toDevice() *Device {
	return &Device{
		ID:          e.ID,
		Type:        e.DeviceType,
		Name:        e.Segment.Name,
		Active:      e.Segment.IsActive,
		SensorTypes: e.Sensors,
		Sensors:     make(map[string]float64, len(e.Sensors)),
	}
}

// numericSamples extracts the numeric fields from a latest-samples payload.
// Non-numeric fields (e.g. relay device type strings) are dropped.
func numericSamples(data map[string]json.RawMessage) map[string]float64 {
	out := make(map[string]float64, len(data))
	for key, raw := range data {
		var v float64
		if err := json.Unmarshal(raw, &v); err != nil {
			continue
		}
		out[key] = v
	}
	return out
}
