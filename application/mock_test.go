package application

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockBrokerClient struct {
	mock.Mock
}

func (m *MockBrokerClient) Connect(opts ConnectOptions) error {
	args := m.Called(opts)
	return args.Error(0)
}

func (m *MockBrokerClient) Disconnect() {
	m.Called()
}

func (m *MockBrokerClient) Subscribe(topic string, handler MessageHandler) error {
	args := m.Called(topic, handler)
	return args.Error(0)
}

func (m *MockBrokerClient) Publish(topic string, payload []byte) error {
	args := m.Called(topic, payload)
	return args.Error(0)
}

func (m *MockBrokerClient) IsConnected() bool {
	return m.Called().Bool(0)
}

func (m *MockBrokerClient) Status() BrokerStatus {
	return m.Called().Get(0).(BrokerStatus)
}

var _ BrokerClient = &MockBrokerClient{}

type MockStorage struct {
	mock.Mock
}

func (m *MockStorage) GetDevice(ctx context.Context, deviceID string) (Device, error) {
	args := m.Called(ctx, deviceID)
	return args.Get(0).(Device), args.Error(1)
}

func (m *MockStorage) UpdateDevice(ctx context.Context, deviceID string, update DeviceUpdate) error {
	args := m.Called(ctx, deviceID, update)
	return args.Error(0)
}

func (m *MockStorage) ListDevices(ctx context.Context) ([]Device, error) {
	args := m.Called(ctx)
	var devices []Device
	if v := args.Get(0); v != nil {
		devices = v.([]Device)
	}
	return devices, args.Error(1)
}

func (m *MockStorage) CreateSensorReading(ctx context.Context, reading SensorReading) error {
	args := m.Called(ctx, reading)
	return args.Error(0)
}

func (m *MockStorage) RecentReadings(ctx context.Context, deviceID string, kind SensorKind, limit int) ([]SensorReading, error) {
	args := m.Called(ctx, deviceID, kind, limit)
	var readings []SensorReading
	if v := args.Get(0); v != nil {
		readings = v.([]SensorReading)
	}
	return readings, args.Error(1)
}

func (m *MockStorage) CreateConnectionState(ctx context.Context, state ConnectionState) (int64, error) {
	args := m.Called(ctx, state)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStorage) SetConnectionConnected(ctx context.Context, id int64, connected bool) error {
	args := m.Called(ctx, id, connected)
	return args.Error(0)
}

func (m *MockStorage) LatestActiveConnection(ctx context.Context) (ConnectionState, error) {
	args := m.Called(ctx)
	return args.Get(0).(ConnectionState), args.Error(1)
}

var _ Storage = &MockStorage{}

type MockBroadcaster struct {
	mock.Mock
}

func (m *MockBroadcaster) Broadcast(event Event) {
	m.Called(event)
}

var _ Broadcaster = &MockBroadcaster{}
