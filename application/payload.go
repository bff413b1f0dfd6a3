package application

import (
	"fmt"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var (
	ErrMalformedPayload = fmt.Errorf("malformed payload")
	ErrMissingDeviceID  = fmt.Errorf("missing device_id")
)

// TelemetryTimestampLayout is the literal on-device clock format.
const TelemetryTimestampLayout = "02/01/2006, 15:04:05"

var jsonFast = jsoniter.ConfigCompatibleWithStandardLibrary

// Telemetry is the decoded form of one broker payload. Decoding is
// all-or-nothing for the envelope: either the payload parses and carries a
// device id, or no Telemetry is produced at all. Per-field oddities land in
// Invalid instead of failing the whole message.
type Telemetry struct {
	DeviceID string
	Status   string
	Battery  *int
	// Timestamp is the device-reported reading time; nil when absent or
	// unparseable, in which case callers fall back to arrival time.
	Timestamp *time.Time
	Values    map[SensorKind]float64

	// Invalid lists payload fields that were present but not usable.
	Invalid []string

	Raw []byte
}

// ReadingTime resolves the timestamp to stamp sensor readings with.
func (t *Telemetry) ReadingTime(arrival time.Time) time.Time {
	if t.Timestamp != nil {
		return *t.Timestamp
	}
	return arrival
}

// ParseTelemetry decodes a raw broker payload into a Telemetry record.
func ParseTelemetry(payload []byte) (*Telemetry, error) {
	fields := map[string]any{}
	if err := jsonFast.Unmarshal(payload, &fields); err != nil {
		return nil, ErrMalformedPayload
	}

	deviceID, _ := fields["device_id"].(string)
	if deviceID == "" {
		return nil, ErrMissingDeviceID
	}

	t := &Telemetry{
		DeviceID: deviceID,
		Status:   StatusOnline,
		Values:   map[SensorKind]float64{},
		Raw:      payload,
	}

	if status, ok := fields["status"].(string); ok && status != "" {
		t.Status = status
	}

	if raw, ok := fields["battery"]; ok {
		if battery, ok := asInt(raw); ok {
			t.Battery = &battery
		} else {
			t.Invalid = append(t.Invalid, "battery")
		}
	}

	if raw, ok := fields["timestamp"]; ok {
		stamp, _ := raw.(string)
		if parsed, err := time.Parse(TelemetryTimestampLayout, stamp); err == nil {
			t.Timestamp = &parsed
		} else {
			t.Invalid = append(t.Invalid, "timestamp")
		}
	}

	for _, kind := range SensorKinds {
		raw, ok := fields[string(kind)]
		if !ok {
			continue
		}
		if value, ok := asFloat(raw); ok {
			t.Values[kind] = value
		} else {
			t.Invalid = append(t.Invalid, string(kind))
		}
	}

	return t, nil
}

func asFloat(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	}
	return 0, false
}

func asInt(raw any) (int, bool) {
	switch v := raw.(type) {
	case float64:
		return int(v), true
	case string:
		n, err := strconv.Atoi(v)
		return n, err == nil
	}
	return 0, false
}
