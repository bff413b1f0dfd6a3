package application

import "encoding/json"

const (
	EventSensorData   = "sensorData"
	EventDeviceStatus = "deviceStatus"
)

// Event is a fan-out message for viewer sessions. Data carries the original
// payload bytes for sensorData events and is empty for deviceStatus events.
type Event struct {
	Type     string          `json:"type"`
	DeviceID string          `json:"deviceId,omitempty"`
	Status   string          `json:"status,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// Broadcaster delivers events to every connected viewer session, best-effort.
// Broadcast must never block the caller.
type Broadcaster interface {
	Broadcast(event Event)
}
