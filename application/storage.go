package application

import (
	"context"
	"fmt"
	"time"
)

var ErrNotFound = fmt.Errorf("not found")

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

type SensorKind string

const (
	SensorTemperature SensorKind = "temperature"
	SensorHumidity    SensorKind = "humidity"
	SensorLight       SensorKind = "light"
	SensorWeight      SensorKind = "weight"
)

// SensorKinds lists every recognized kind in payload scan order.
var SensorKinds = []SensorKind{SensorTemperature, SensorHumidity, SensorLight, SensorWeight}

// Unit returns the fixed unit string for the kind.
func (k SensorKind) Unit() string {
	switch k {
	case SensorTemperature:
		return "°C"
	case SensorHumidity:
		return "%"
	case SensorLight:
		return "lux"
	case SensorWeight:
		return "kg"
	}
	return ""
}

type Device struct {
	DeviceID     string
	Name         string
	Type         string
	Status       string
	BatteryLevel *int
	LastUpdate   *time.Time
}

// DeviceUpdate carries the fields to change; nil means leave untouched.
type DeviceUpdate struct {
	Status       *string
	BatteryLevel *int
	LastUpdate   *time.Time
}

type SensorReading struct {
	DeviceID  string
	Kind      SensorKind
	Value     float64
	Unit      string
	Timestamp time.Time
}

type ConnectionState struct {
	ID            int64
	BrokerURL     string
	ClientID      string
	Username      string
	Password      string
	Connected     bool
	LastConnected time.Time
}

// Storage is the persistence collaborator. Implementations provide atomic
// single-row writes; the service never assumes multi-row transactions.
type Storage interface {
	GetDevice(ctx context.Context, deviceID string) (Device, error)
	UpdateDevice(ctx context.Context, deviceID string, update DeviceUpdate) error
	ListDevices(ctx context.Context) ([]Device, error)

	CreateSensorReading(ctx context.Context, reading SensorReading) error
	RecentReadings(ctx context.Context, deviceID string, kind SensorKind, limit int) ([]SensorReading, error)

	CreateConnectionState(ctx context.Context, state ConnectionState) (int64, error)
	SetConnectionConnected(ctx context.Context, id int64, connected bool) error
	LatestActiveConnection(ctx context.Context) (ConnectionState, error)
}
