package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultBrokerURL      = "mqtt://broker.emqx.io:1883"
	DefaultReconnectDelay = 5 * time.Second

	reportInterval = 30 * time.Second
)

type TelemetryServiceParams struct {
	Broker      BrokerClient
	Storage     Storage
	Broadcaster Broadcaster

	// Topics seeds the registry; the default provisioned devices go here.
	Topics []string

	LivenessTimeout time.Duration
	SweepInterval   time.Duration
	ReconnectDelay  time.Duration

	// Now is injectable for tests.
	Now func() time.Time

	Log zerolog.Logger
}

func (p *TelemetryServiceParams) EnsureDefaults() {
	if p.LivenessTimeout == 0 {
		p.LivenessTimeout = DefaultLivenessTimeout
	}
	if p.SweepInterval == 0 {
		p.SweepInterval = DefaultSweepInterval
	}
	if p.ReconnectDelay == 0 {
		p.ReconnectDelay = DefaultReconnectDelay
	}
	if p.Now == nil {
		p.Now = time.Now
	}
}

// TelemetryService owns the broker connection, ingests device telemetry,
// tracks liveness and fans results out to viewer sessions. Construct one per
// process and hand it to the request-handling layer.
type TelemetryService struct {
	params TelemetryServiceParams

	broker      BrokerClient
	storage     Storage
	broadcaster Broadcaster
	topics      *TopicRegistry
	liveness    *LivenessTracker

	mu             sync.Mutex
	connectOpts    ConnectOptions
	connectionID   int64
	closed         bool
	reconnectTimer *time.Timer

	// deviceLocks serializes read-modify-write device updates per device id.
	deviceLocks sync.Map

	log zerolog.Logger
}

func NewTelemetryService(params TelemetryServiceParams) (*TelemetryService, error) {
	params.EnsureDefaults()

	if params.Broker == nil {
		return nil, fmt.Errorf("Broker is nil")
	}
	if params.Storage == nil {
		return nil, fmt.Errorf("Storage is nil")
	}
	if params.Broadcaster == nil {
		return nil, fmt.Errorf("Broadcaster is nil")
	}

	return &TelemetryService{
		params:      params,
		broker:      params.Broker,
		storage:     params.Storage,
		broadcaster: params.Broadcaster,
		topics:      NewTopicRegistry(params.Topics...),
		liveness:    NewLivenessTracker(params.LivenessTimeout),
		log:         params.Log,
	}, nil
}

// Connect establishes the broker session, subscribes every registered topic
// and records the connection state. Only address and transport failures are
// returned; the caller decides whether to retry.
func (s *TelemetryService) Connect(ctx context.Context, address, clientID, username, password string) error {
	normalized, err := NormalizeBrokerAddress(address)
	if err != nil {
		s.log.Error().Str("address", address).Msg("invalid broker address")
		return err
	}

	opts := ConnectOptions{
		Address:          normalized,
		ClientID:         clientID,
		Username:         username,
		Password:         password,
		OnConnectionLost: s.onConnectionLost,
	}

	if err := s.broker.Connect(opts); err != nil {
		s.log.Err(err).Str("address", normalized).Msg("broker connect failed")
		return err
	}

	s.subscribeAll()

	state := ConnectionState{
		BrokerURL:     normalized,
		ClientID:      clientID,
		Username:      username,
		Password:      password,
		Connected:     true,
		LastConnected: s.params.Now(),
	}

	connectionID, err := s.storage.CreateConnectionState(ctx, state)
	if err != nil {
		s.log.Err(err).Msg("failed to persist connection state")
	}

	s.mu.Lock()
	s.connectOpts = opts
	s.connectionID = connectionID
	s.closed = false
	s.mu.Unlock()

	s.log.Info().Str("address", normalized).Str("client_id", clientID).Msg("connected to broker")
	return nil
}

// ResumeOrConnect restores the most recent active connection from storage, or
// falls back to the given defaults.
func (s *TelemetryService) ResumeOrConnect(ctx context.Context, defaultAddress, defaultClientID string) error {
	state, err := s.storage.LatestActiveConnection(ctx)
	if err == nil {
		if err := s.Connect(ctx, state.BrokerURL, state.ClientID, state.Username, state.Password); err == nil {
			return nil
		}
		s.log.Warn().Str("address", state.BrokerURL).Msg("stored connection unusable, falling back to default broker")
	} else if !errors.Is(err, ErrNotFound) {
		s.log.Err(err).Msg("failed to load stored connection state")
	}

	return s.Connect(ctx, defaultAddress, defaultClientID, "", "")
}

// Disconnect tears the broker session down and cancels any pending reconnect.
func (s *TelemetryService) Disconnect(ctx context.Context) {
	s.mu.Lock()
	s.closed = true
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	connectionID := s.connectionID
	s.connectionID = 0
	s.mu.Unlock()

	s.broker.Disconnect()

	if connectionID != 0 {
		if err := s.storage.SetConnectionConnected(ctx, connectionID, false); err != nil {
			s.log.Err(err).Msg("failed to mark connection state disconnected")
		}
	}

	s.log.Info().Msg("disconnected from broker")
}

func (s *TelemetryService) IsConnected() bool {
	return s.broker.IsConnected()
}

// AddTopic registers a telemetry topic and, when a connection is active,
// subscribes it immediately. It returns the normalized topic name.
func (s *TelemetryService) AddTopic(topic string) string {
	normalized, added := s.topics.Add(topic)
	if !added {
		return normalized
	}

	if s.broker.IsConnected() {
		if err := s.broker.Subscribe(normalized, s.handleMessage); err != nil {
			s.log.Err(err).Str("topic", normalized).Msg("failed to subscribe topic")
		} else {
			s.log.Info().Str("topic", normalized).Msg("subscribed new topic")
		}
	}
	return normalized
}

// Topics returns the current topic set.
func (s *TelemetryService) Topics() []string {
	return s.topics.All()
}

// Publish sends an outbound control message, distinct from the ingestion
// broadcast path. It reports success only.
func (s *TelemetryService) Publish(topic string, message []byte) bool {
	if !s.broker.IsConnected() {
		s.log.Error().Str("topic", topic).Msg("cannot publish: not connected")
		return false
	}

	if err := s.broker.Publish(topic, message); err != nil {
		s.log.Err(err).Str("topic", topic).Msg("publish failed")
		return false
	}
	return true
}

// Run drives the liveness sweep and the periodic status report until the
// context is cancelled, then unwinds the broker connection.
func (s *TelemetryService) Run(ctx context.Context) error {
	g := errgroup.Group{}

	// liveness sweep
	g.Go(func() error {
		ticker := time.NewTicker(s.params.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				s.Sweep(ctx)
			}
		}
	})

	// status report
	g.Go(func() error {
		ticker := time.NewTicker(reportInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				status := s.broker.Status()
				s.log.Info().
					Uint64("msg_count", status.MessageCount).
					Bool("is_connected", status.Connected).
					Time("last_message", status.LastMessageTime).
					Msg("ingest report")
			}
		}
	})

	err := g.Wait()
	s.Disconnect(context.Background())
	return err
}

// Sweep demotes every device that exceeded the liveness timeout. It only acts
// while a broker connection is active.
func (s *TelemetryService) Sweep(ctx context.Context) {
	if !s.broker.IsConnected() {
		return
	}

	for _, deviceID := range s.liveness.Expired(s.params.Now()) {
		s.transitionDevice(ctx, deviceID, StatusOffline)
	}
}

func (s *TelemetryService) subscribeAll() {
	for _, topic := range s.topics.All() {
		if err := s.broker.Subscribe(topic, s.handleMessage); err != nil {
			s.log.Err(err).Str("topic", topic).Msg("failed to subscribe topic")
			continue
		}
		s.log.Info().Str("topic", topic).Msg("subscribed topic")
	}
}

func (s *TelemetryService) onConnectionLost(err error) {
	s.log.Warn().Err(err).Msg("broker connection lost")
	s.scheduleReconnect()
}

// scheduleReconnect arms the reconnect timer, replacing any pending one so at
// most a single attempt is ever outstanding.
func (s *TelemetryService) scheduleReconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
	}
	s.reconnectTimer = time.AfterFunc(s.params.ReconnectDelay, s.reconnect)
}

func (s *TelemetryService) reconnect() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	opts := s.connectOpts
	s.reconnectTimer = nil
	s.mu.Unlock()

	s.log.Info().Str("address", opts.Address).Msg("reconnecting to broker")
	if err := s.broker.Connect(opts); err != nil {
		s.log.Err(err).Msg("reconnect failed")
		s.scheduleReconnect()
		return
	}

	s.subscribeAll()
}

// handleMessage is the ingestion pipeline. Every stage fails soft except
// payload decoding; a bad message never stops the receive loop.
func (s *TelemetryService) handleMessage(topic string, payload []byte) {
	ctx := context.Background()
	arrival := s.params.Now()

	t, err := ParseTelemetry(payload)
	if err != nil {
		s.log.Warn().Err(err).Str("topic", topic).Msg("dropping message")
		return
	}

	for _, field := range t.Invalid {
		s.log.Warn().Str("device_id", t.DeviceID).Str("field", field).Msg("ignoring unusable payload field")
	}

	s.liveness.RecordSeen(t.DeviceID, arrival)

	s.transitionDevice(ctx, t.DeviceID, t.Status)

	if t.Battery != nil {
		s.applyBattery(ctx, t.DeviceID, *t.Battery)
	}

	readingTime := t.ReadingTime(arrival)
	for kind, value := range t.Values {
		reading := SensorReading{
			DeviceID:  t.DeviceID,
			Kind:      kind,
			Value:     value,
			Unit:      kind.Unit(),
			Timestamp: readingTime,
		}
		if err := s.storage.CreateSensorReading(ctx, reading); err != nil {
			s.log.Err(err).
				Str("device_id", t.DeviceID).
				Str("kind", string(kind)).
				Msg("failed to store sensor reading")
		}
	}

	s.broadcaster.Broadcast(Event{
		Type:     EventSensorData,
		DeviceID: t.DeviceID,
		Data:     t.Raw,
	})
}

// transitionDevice applies a status change and broadcasts it. Writes are
// skipped when the stored status already matches, so a transition fires at
// most one broadcast.
func (s *TelemetryService) transitionDevice(ctx context.Context, deviceID, status string) {
	unlock := s.lockDevice(deviceID)
	changed := s.applyDeviceStatus(ctx, deviceID, status)
	unlock()

	if changed {
		s.broadcaster.Broadcast(Event{
			Type:     EventDeviceStatus,
			DeviceID: deviceID,
			Status:   status,
		})
	}
}

func (s *TelemetryService) applyDeviceStatus(ctx context.Context, deviceID, status string) bool {
	device, err := s.storage.GetDevice(ctx, deviceID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.log.Warn().Str("device_id", deviceID).Msg("device not found")
		} else {
			s.log.Err(err).Str("device_id", deviceID).Msg("failed to load device")
		}
		return false
	}

	if device.Status == status {
		s.log.Debug().Str("device_id", deviceID).Str("status", status).Msg("device status unchanged")
		return false
	}

	now := s.params.Now()
	update := DeviceUpdate{Status: &status, LastUpdate: &now}
	if err := s.storage.UpdateDevice(ctx, deviceID, update); err != nil {
		s.log.Err(err).Str("device_id", deviceID).Msg("failed to update device status")
		return false
	}

	s.log.Info().Str("device_id", deviceID).Str("status", status).Msg("device status updated")
	return true
}

func (s *TelemetryService) applyBattery(ctx context.Context, deviceID string, battery int) {
	unlock := s.lockDevice(deviceID)
	defer unlock()

	if err := s.storage.UpdateDevice(ctx, deviceID, DeviceUpdate{BatteryLevel: &battery}); err != nil {
		if errors.Is(err, ErrNotFound) {
			s.log.Warn().Str("device_id", deviceID).Msg("device not found for battery update")
		} else {
			s.log.Err(err).Str("device_id", deviceID).Msg("failed to update battery level")
		}
	}
}

func (s *TelemetryService) lockDevice(deviceID string) func() {
	muAny, _ := s.deviceLocks.LoadOrStore(deviceID, &sync.Mutex{})
	mu := muAny.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
