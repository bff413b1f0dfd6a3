package adapters

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"kittypaw-telemetry/application"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

const (
	MQTTDefaultConnectTimeout   = 30 * time.Second
	MQTTDefaultPublishTimeout   = 5 * time.Second
	MQTTDisconnectQuiesceMillis = 250
)

var (
	ErrMQTTNotConnected   = fmt.Errorf("not connected")
	ErrMQTTConnectTimeout = fmt.Errorf("connect timeout")
	ErrMQTTPublishTimeout = fmt.Errorf("publish timeout")
)

type MQTTClientParams struct {
	ConnectTimeout time.Duration
	PublishTimeout time.Duration

	NewClientFunc func(options *mqtt.ClientOptions) mqtt.Client

	Log zerolog.Logger
}

func (m *MQTTClientParams) EnsureDefaults() {
	if m.ConnectTimeout == 0 {
		m.ConnectTimeout = MQTTDefaultConnectTimeout
	}

	if m.PublishTimeout == 0 {
		m.PublishTimeout = MQTTDefaultPublishTimeout
	}

	if m.NewClientFunc == nil {
		m.NewClientFunc = mqtt.NewClient
	}
}

// MQTTClient adapts the paho client to application.BrokerClient. A fresh paho
// client is built per Connect so the broker address can change between
// sessions. Reconnect policy lives in the service, so paho's own
// auto-reconnect stays off.
type MQTTClient struct {
	params MQTTClientParams

	mu     sync.RWMutex
	client mqtt.Client

	connected        uint64
	msgCount         uint64
	msgTime          atomic.Pointer[time.Time]
	onConnectionLost func(err error)

	log zerolog.Logger
}

func NewMQTTClient(params MQTTClientParams) *MQTTClient {
	params.EnsureDefaults()

	m := &MQTTClient{params: params, log: params.Log}

	t := time.Unix(0, 0)
	m.msgTime.Store(&t)

	return m
}

func (m *MQTTClient) Connect(opts application.ConnectOptions) error {
	if atomic.LoadUint64(&m.connected) == 1 {
		return nil
	}

	client := m.newMqttClient(opts)

	m.mu.Lock()
	m.client = client
	m.onConnectionLost = opts.OnConnectionLost
	m.mu.Unlock()

	tc := time.NewTimer(m.params.ConnectTimeout)
	defer tc.Stop()

	token := client.Connect()
	select {
	case <-tc.C:
		return ErrMQTTConnectTimeout
	case <-token.Done():
		if token.Error() != nil {
			return token.Error()
		}
	}

	atomic.StoreUint64(&m.connected, 1)
	return nil
}

func (m *MQTTClient) Disconnect() {
	m.mu.Lock()
	client := m.client
	m.client = nil
	m.onConnectionLost = nil
	m.mu.Unlock()

	atomic.StoreUint64(&m.connected, 0)

	if client != nil {
		client.Disconnect(MQTTDisconnectQuiesceMillis)
	}
}

func (m *MQTTClient) IsConnected() bool {
	return atomic.LoadUint64(&m.connected) == 1
}

func (m *MQTTClient) Status() application.BrokerStatus {
	return application.BrokerStatus{
		MessageCount:    atomic.LoadUint64(&m.msgCount),
		LastMessageTime: *m.msgTime.Load(),
		Connected:       m.IsConnected(),
	}
}

func (m *MQTTClient) Subscribe(topic string, handler application.MessageHandler) error {
	m.mu.RLock()
	client := m.client
	m.mu.RUnlock()

	if client == nil {
		return ErrMQTTNotConnected
	}

	token := client.Subscribe(topic, 0, func(client mqtt.Client, msg mqtt.Message) {
		t := time.Now()
		m.msgTime.Store(&t)
		atomic.AddUint64(&m.msgCount, 1)

		handler(msg.Topic(), msg.Payload())
	})

	if token.Wait() && token.Error() != nil {
		return token.Error()
	}
	return nil
}

func (m *MQTTClient) Publish(topic string, payload []byte) error {
	m.mu.RLock()
	client := m.client
	m.mu.RUnlock()

	if client == nil || !m.IsConnected() {
		return ErrMQTTNotConnected
	}

	tc := time.NewTimer(m.params.PublishTimeout)
	defer tc.Stop()

	token := client.Publish(topic, 0, false, payload)
	select {
	case <-tc.C:
		return ErrMQTTPublishTimeout
	case <-token.Done():
		if token.Error() != nil {
			return token.Error()
		}
	}

	return nil
}

func (m *MQTTClient) OnConnect(client mqtt.Client) {
	m.log.Info().Msg("connected")
	atomic.StoreUint64(&m.connected, 1)
}

func (m *MQTTClient) OnConnectionLost(client mqtt.Client, err error) {
	m.log.Warn().Msgf("connection lost: %v", err)
	atomic.StoreUint64(&m.connected, 0)

	m.mu.RLock()
	onLost := m.onConnectionLost
	m.mu.RUnlock()

	if onLost != nil {
		onLost(err)
	}
}

func (m *MQTTClient) newMqttClient(connectOpts application.ConnectOptions) mqtt.Client {
	opts := mqtt.NewClientOptions()

	opts.AddBroker("tcp://" + connectOpts.Address)
	opts.SetClientID(connectOpts.ClientID)
	if connectOpts.Username != "" {
		opts.SetUsername(connectOpts.Username)
	}
	if connectOpts.Password != "" {
		opts.SetPassword(connectOpts.Password)
	}

	opts.SetAutoReconnect(false)
	opts.SetCleanSession(true)
	opts.OnConnect = m.OnConnect
	opts.OnConnectionLost = m.OnConnectionLost

	return m.params.NewClientFunc(opts)
}

var _ application.BrokerClient = &MQTTClient{}
