package adapters

import (
	"context"
	"time"

	"kittypaw-telemetry/application"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/mock"
)

type MockMQTTClient struct {
	mock.Mock
}

func (m *MockMQTTClient) IsConnected() bool {
	return m.Called().Bool(0)
}

func (m *MockMQTTClient) IsConnectionOpen() bool {
	return m.Called().Bool(0)
}

func (m *MockMQTTClient) Connect() mqtt.Token {
	return m.Called().Get(0).(mqtt.Token)
}

func (m *MockMQTTClient) Disconnect(quiesce uint) {
	m.Called(quiesce)
}

func (m *MockMQTTClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	return m.Called(topic, qos, retained, payload).Get(0).(mqtt.Token)
}

func (m *MockMQTTClient) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	return m.Called(topic, qos, callback).Get(0).(mqtt.Token)
}

func (m *MockMQTTClient) SubscribeMultiple(filters map[string]byte, callback mqtt.MessageHandler) mqtt.Token {
	return m.Called(filters, callback).Get(0).(mqtt.Token)
}

func (m *MockMQTTClient) Unsubscribe(topics ...string) mqtt.Token {
	return m.Called(topics).Get(0).(mqtt.Token)
}

func (m *MockMQTTClient) AddRoute(topic string, callback mqtt.MessageHandler) {
	m.Called(topic, callback)
}

func (m *MockMQTTClient) OptionsReader() mqtt.ClientOptionsReader {
	return mqtt.ClientOptionsReader{}
}

var _ mqtt.Client = &MockMQTTClient{}

type MockToken struct {
	mock.Mock
}

func (m *MockToken) Wait() bool {
	return m.Called().Bool(0)
}

func (m *MockToken) WaitTimeout(d time.Duration) bool {
	return m.Called(d).Bool(0)
}

func (m *MockToken) Done() <-chan struct{} {
	return m.Called().Get(0).(chan struct{})
}

func (m *MockToken) Error() error {
	return m.Called().Error(0)
}

var _ mqtt.Token = &MockToken{}

func closedChan() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (f fakeMessage) Duplicate() bool   { return false }
func (f fakeMessage) Qos() byte         { return 0 }
func (f fakeMessage) Retained() bool    { return false }
func (f fakeMessage) Topic() string     { return f.topic }
func (f fakeMessage) MessageID() uint16 { return 0 }
func (f fakeMessage) Payload() []byte   { return f.payload }
func (f fakeMessage) Ack()              {}

var _ mqtt.Message = fakeMessage{}

type MockStorage struct {
	mock.Mock
}

func (m *MockStorage) GetDevice(ctx context.Context, deviceID string) (application.Device, error) {
	args := m.Called(ctx, deviceID)
	return args.Get(0).(application.Device), args.Error(1)
}

func (m *MockStorage) UpdateDevice(ctx context.Context, deviceID string, update application.DeviceUpdate) error {
	return m.Called(ctx, deviceID, update).Error(0)
}

func (m *MockStorage) ListDevices(ctx context.Context) ([]application.Device, error) {
	args := m.Called(ctx)
	var devices []application.Device
	if v := args.Get(0); v != nil {
		devices = v.([]application.Device)
	}
	return devices, args.Error(1)
}

func (m *MockStorage) CreateSensorReading(ctx context.Context, reading application.SensorReading) error {
	return m.Called(ctx, reading).Error(0)
}

func (m *MockStorage) RecentReadings(ctx context.Context, deviceID string, kind application.SensorKind, limit int) ([]application.SensorReading, error) {
	args := m.Called(ctx, deviceID, kind, limit)
	var readings []application.SensorReading
	if v := args.Get(0); v != nil {
		readings = v.([]application.SensorReading)
	}
	return readings, args.Error(1)
}

func (m *MockStorage) CreateConnectionState(ctx context.Context, state application.ConnectionState) (int64, error) {
	args := m.Called(ctx, state)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStorage) SetConnectionConnected(ctx context.Context, id int64, connected bool) error {
	return m.Called(ctx, id, connected).Error(0)
}

func (m *MockStorage) LatestActiveConnection(ctx context.Context) (application.ConnectionState, error) {
	args := m.Called(ctx)
	return args.Get(0).(application.ConnectionState), args.Error(1)
}

var _ application.Storage = &MockStorage{}
