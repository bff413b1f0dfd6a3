package application

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTelemetry_RoundTrip(t *testing.T) {
	payload := []byte(`{"device_id":"A1","temperature":21.5,"timestamp":"01/01/2024, 12:00:00"}`)

	tel, err := ParseTelemetry(payload)
	require.NoError(t, err)

	assert.Equal(t, "A1", tel.DeviceID)
	assert.Equal(t, StatusOnline, tel.Status)
	assert.Nil(t, tel.Battery)
	assert.Equal(t, map[SensorKind]float64{SensorTemperature: 21.5}, tel.Values)

	require.NotNil(t, tel.Timestamp)
	assert.Equal(t, time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC), *tel.Timestamp)
	assert.Equal(t, payload, tel.Raw)
	assert.Empty(t, tel.Invalid)
}

func TestParseTelemetry_Malformed(t *testing.T) {
	_, err := ParseTelemetry([]byte("not json"))
	assert.Equal(t, ErrMalformedPayload, err)
}

func TestParseTelemetry_MissingDeviceID(t *testing.T) {
	_, err := ParseTelemetry([]byte(`{"temperature":21.5}`))
	assert.Equal(t, ErrMissingDeviceID, err)

	_, err = ParseTelemetry([]byte(`{"device_id":""}`))
	assert.Equal(t, ErrMissingDeviceID, err)
}

func TestParseTelemetry_Battery(t *testing.T) {
	tel, err := ParseTelemetry([]byte(`{"device_id":"A1","battery":87}`))
	require.NoError(t, err)
	require.NotNil(t, tel.Battery)
	assert.Equal(t, 87, *tel.Battery)

	tel, err = ParseTelemetry([]byte(`{"device_id":"A1","battery":"42"}`))
	require.NoError(t, err)
	require.NotNil(t, tel.Battery)
	assert.Equal(t, 42, *tel.Battery)

	tel, err = ParseTelemetry([]byte(`{"device_id":"A1","battery":"notanumber","humidity":55}`))
	require.NoError(t, err)
	assert.Nil(t, tel.Battery)
	assert.Contains(t, tel.Invalid, "battery")
	// other fields still parse
	assert.Equal(t, map[SensorKind]float64{SensorHumidity: 55}, tel.Values)
}

func TestParseTelemetry_TimestampFallback(t *testing.T) {
	arrival := time.Date(2024, 6, 1, 8, 30, 0, 0, time.UTC)

	tel, err := ParseTelemetry([]byte(`{"device_id":"A1","timestamp":"2024-01-01T12:00:00Z"}`))
	require.NoError(t, err)
	assert.Nil(t, tel.Timestamp)
	assert.Contains(t, tel.Invalid, "timestamp")
	assert.Equal(t, arrival, tel.ReadingTime(arrival))

	tel, err = ParseTelemetry([]byte(`{"device_id":"A1"}`))
	require.NoError(t, err)
	assert.Nil(t, tel.Timestamp)
	assert.Empty(t, tel.Invalid)
	assert.Equal(t, arrival, tel.ReadingTime(arrival))
}

func TestParseTelemetry_NumericStrings(t *testing.T) {
	tel, err := ParseTelemetry([]byte(`{"device_id":"A1","weight":"3.4","light":"bright"}`))
	require.NoError(t, err)

	assert.Equal(t, map[SensorKind]float64{SensorWeight: 3.4}, tel.Values)
	assert.Contains(t, tel.Invalid, "light")
}

func TestParseTelemetry_Status(t *testing.T) {
	tel, err := ParseTelemetry([]byte(`{"device_id":"A1","status":"offline"}`))
	require.NoError(t, err)
	assert.Equal(t, StatusOffline, tel.Status)
}

func TestSensorKind_Unit(t *testing.T) {
	assert.Equal(t, "°C", SensorTemperature.Unit())
	assert.Equal(t, "%", SensorHumidity.Unit())
	assert.Equal(t, "lux", SensorLight.Unit())
	assert.Equal(t, "kg", SensorWeight.Unit())
	assert.Equal(t, "", SensorKind("pressure").Unit())
}
