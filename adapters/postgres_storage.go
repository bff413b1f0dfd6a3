package adapters

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"kittypaw-telemetry/application"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// PostgresStorage is the storage collaborator backed by a pgx pool. Every
// write is a single-row statement; the service never needs multi-row
// transactions.
type PostgresStorage struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

func NewPostgresStorage(pool *pgxpool.Pool, log zerolog.Logger) *PostgresStorage {
	return &PostgresStorage{pool: pool, log: log}
}

// EnsureSchema creates the tables when they do not exist yet.
func (s *PostgresStorage) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS devices (
			device_id     TEXT PRIMARY KEY,
			name          TEXT NOT NULL DEFAULT '',
			type          TEXT NOT NULL DEFAULT '',
			status        TEXT NOT NULL DEFAULT 'offline',
			battery_level INTEGER,
			last_update   TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS sensor_readings (
			id          BIGSERIAL PRIMARY KEY,
			device_id   TEXT NOT NULL REFERENCES devices(device_id) ON DELETE CASCADE,
			kind        TEXT NOT NULL,
			value       DOUBLE PRECISION NOT NULL,
			unit        TEXT NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS sensor_readings_device_kind_idx
			ON sensor_readings (device_id, kind, recorded_at DESC)`,
		`CREATE TABLE IF NOT EXISTS mqtt_connections (
			id             BIGSERIAL PRIMARY KEY,
			broker_url     TEXT NOT NULL,
			client_id      TEXT NOT NULL,
			username       TEXT NOT NULL DEFAULT '',
			password       TEXT NOT NULL DEFAULT '',
			connected      BOOLEAN NOT NULL DEFAULT FALSE,
			last_connected TIMESTAMPTZ
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresStorage) GetDevice(ctx context.Context, deviceID string) (application.Device, error) {
	var device application.Device

	err := s.pool.QueryRow(ctx, `
		SELECT device_id, name, type, status, battery_level, last_update
		FROM devices
		WHERE device_id = $1
	`, deviceID).Scan(
		&device.DeviceID,
		&device.Name,
		&device.Type,
		&device.Status,
		&device.BatteryLevel,
		&device.LastUpdate,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return application.Device{}, application.ErrNotFound
	}
	if err != nil {
		return application.Device{}, fmt.Errorf("get device %s: %w", deviceID, err)
	}

	return device, nil
}

func (s *PostgresStorage) UpdateDevice(ctx context.Context, deviceID string, update application.DeviceUpdate) error {
	set := make([]string, 0, 3)
	args := []any{deviceID}

	addSet := func(column string, value any) {
		args = append(args, value)
		set = append(set, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if update.Status != nil {
		addSet("status", *update.Status)
	}
	if update.BatteryLevel != nil {
		addSet("battery_level", *update.BatteryLevel)
	}
	if update.LastUpdate != nil {
		addSet("last_update", *update.LastUpdate)
	}

	if len(set) == 0 {
		return nil
	}

	tag, err := s.pool.Exec(ctx, fmt.Sprintf(
		"UPDATE devices SET %s WHERE device_id = $1", strings.Join(set, ", "),
	), args...)
	if err != nil {
		return fmt.Errorf("update device %s: %w", deviceID, err)
	}
	if tag.RowsAffected() == 0 {
		return application.ErrNotFound
	}

	return nil
}

func (s *PostgresStorage) ListDevices(ctx context.Context) ([]application.Device, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT device_id, name, type, status, battery_level, last_update
		FROM devices
		ORDER BY device_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var devices []application.Device
	for rows.Next() {
		var device application.Device
		if err := rows.Scan(
			&device.DeviceID,
			&device.Name,
			&device.Type,
			&device.Status,
			&device.BatteryLevel,
			&device.LastUpdate,
		); err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		devices = append(devices, device)
	}

	return devices, rows.Err()
}

func (s *PostgresStorage) CreateSensorReading(ctx context.Context, reading application.SensorReading) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sensor_readings (device_id, kind, value, unit, recorded_at)
		VALUES ($1, $2, $3, $4, $5)
	`, reading.DeviceID, string(reading.Kind), reading.Value, reading.Unit, reading.Timestamp)
	if err != nil {
		return fmt.Errorf("create sensor reading: %w", err)
	}

	return nil
}

// RecentReadings returns the newest readings for a device and kind, ordered
// chronologically ascending for snapshot delivery.
func (s *PostgresStorage) RecentReadings(ctx context.Context, deviceID string, kind application.SensorKind, limit int) ([]application.SensorReading, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT device_id, kind, value, unit, recorded_at
		FROM sensor_readings
		WHERE device_id = $1 AND kind = $2
		ORDER BY recorded_at DESC
		LIMIT $3
	`, deviceID, string(kind), limit)
	if err != nil {
		return nil, fmt.Errorf("recent readings: %w", err)
	}
	defer rows.Close()

	var readings []application.SensorReading
	for rows.Next() {
		var reading application.SensorReading
		var kindStr string
		if err := rows.Scan(
			&reading.DeviceID,
			&kindStr,
			&reading.Value,
			&reading.Unit,
			&reading.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}
		reading.Kind = application.SensorKind(kindStr)
		readings = append(readings, reading)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// newest-first from the query, ascending for the caller
	for i, j := 0, len(readings)-1; i < j; i, j = i+1, j-1 {
		readings[i], readings[j] = readings[j], readings[i]
	}

	return readings, nil
}

func (s *PostgresStorage) CreateConnectionState(ctx context.Context, state application.ConnectionState) (int64, error) {
	var id int64

	err := s.pool.QueryRow(ctx, `
		INSERT INTO mqtt_connections (broker_url, client_id, username, password, connected, last_connected)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, state.BrokerURL, state.ClientID, state.Username, state.Password, state.Connected, state.LastConnected).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create connection state: %w", err)
	}

	return id, nil
}

func (s *PostgresStorage) SetConnectionConnected(ctx context.Context, id int64, connected bool) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE mqtt_connections SET connected = $2 WHERE id = $1
	`, id, connected)
	if err != nil {
		return fmt.Errorf("set connection connected: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return application.ErrNotFound
	}

	return nil
}

func (s *PostgresStorage) LatestActiveConnection(ctx context.Context) (application.ConnectionState, error) {
	var state application.ConnectionState
	var lastConnected *time.Time

	err := s.pool.QueryRow(ctx, `
		SELECT id, broker_url, client_id, username, password, connected, last_connected
		FROM mqtt_connections
		WHERE connected
		ORDER BY last_connected DESC
		LIMIT 1
	`).Scan(
		&state.ID,
		&state.BrokerURL,
		&state.ClientID,
		&state.Username,
		&state.Password,
		&state.Connected,
		&lastConnected,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return application.ConnectionState{}, application.ErrNotFound
	}
	if err != nil {
		return application.ConnectionState{}, fmt.Errorf("latest active connection: %w", err)
	}

	if lastConnected != nil {
		state.LastConnected = *lastConnected
	}

	return state, nil
}

var _ application.Storage = &PostgresStorage{}
