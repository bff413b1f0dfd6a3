package adapters

import (
	"context"
	"net/http"
	"sync"
	"time"

	"kittypaw-telemetry/application"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
)

const DefaultSnapshotLimit = 60

var jsonFast = jsoniter.ConfigCompatibleWithStandardLibrary

// TelemetryControl is the slice of the service a viewer session may drive.
type TelemetryControl interface {
	AddTopic(topic string) string
	Publish(topic string, message []byte) bool
}

type WSHubParams struct {
	Storage application.Storage

	// Control may be set later via SetControl when the service is
	// constructed after the hub.
	Control TelemetryControl

	// SnapshotLimit caps the readings per device per kind in the initial
	// snapshot.
	SnapshotLimit int

	Log zerolog.Logger
}

func (p *WSHubParams) EnsureDefaults() {
	if p.SnapshotLimit == 0 {
		p.SnapshotLimit = DefaultSnapshotLimit
	}
}

// WSHub fans broadcast events out to every connected viewer session. Delivery
// is best-effort: a session with a full send buffer misses the event, the
// rest still receive it, and the caller never blocks.
type WSHub struct {
	params WSHubParams

	upgrader websocket.Upgrader

	mu       sync.RWMutex
	control  TelemetryControl
	sessions map[*WSSession]struct{}

	wg conc.WaitGroup

	log zerolog.Logger
}

func NewWSHub(params WSHubParams) *WSHub {
	params.EnsureDefaults()

	return &WSHub{
		params: params,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		control:  params.Control,
		sessions: map[*WSSession]struct{}{},
		log:      params.Log,
	}
}

// SetControl wires the service's control surface into the hub.
func (h *WSHub) SetControl(control TelemetryControl) {
	h.mu.Lock()
	h.control = control
	h.mu.Unlock()
}

func (h *WSHub) controlSurface() TelemetryControl {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.control
}

func (h *WSHub) Broadcast(event application.Event) {
	frame, err := jsonFast.Marshal(event)
	if err != nil {
		h.log.Err(err).Str("type", event.Type).Msg("failed to encode event")
		return
	}

	h.mu.RLock()
	sessions := make([]*WSSession, 0, len(h.sessions))
	for session := range h.sessions {
		sessions = append(sessions, session)
	}
	h.mu.RUnlock()

	for _, session := range sessions {
		session.enqueue(frame)
	}
}

// ServeHTTP upgrades a viewer connection, delivers the initial snapshot and
// runs the session pumps until the viewer goes away.
func (h *WSHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Err(err).Msg("websocket upgrade failed")
		return
	}

	session := newWSSession(conn, h, h.log.With().Str("remote", conn.RemoteAddr().String()).Logger())

	h.mu.Lock()
	h.sessions[session] = struct{}{}
	h.mu.Unlock()

	h.log.Info().Str("remote", conn.RemoteAddr().String()).Msg("viewer connected")

	h.wg.Go(session.writePump)
	h.sendSnapshot(r.Context(), session)
	session.readPump()

	h.drop(session)
}

// Close disconnects every session and waits for the pumps to finish.
func (h *WSHub) Close() {
	h.mu.Lock()
	sessions := make([]*WSSession, 0, len(h.sessions))
	for session := range h.sessions {
		sessions = append(sessions, session)
	}
	h.mu.Unlock()

	for _, session := range sessions {
		h.drop(session)
	}

	h.wg.Wait()
}

func (h *WSHub) drop(session *WSSession) {
	h.mu.Lock()
	_, registered := h.sessions[session]
	delete(h.sessions, session)
	h.mu.Unlock()

	if registered {
		session.close()
		h.log.Info().Msg("viewer disconnected")
	}
}

type wsDevice struct {
	DeviceID     string     `json:"device_id"`
	Name         string     `json:"name"`
	Type         string     `json:"type"`
	Status       string     `json:"status"`
	BatteryLevel *int       `json:"battery_level"`
	LastUpdate   *time.Time `json:"last_update"`
}

type wsReadingPoint struct {
	Value     float64 `json:"value"`
	Unit      string  `json:"unit"`
	Timestamp string  `json:"timestamp"`
}

type wsSensorSeries struct {
	DeviceID   string           `json:"deviceId"`
	SensorType string           `json:"sensorType"`
	Data       []wsReadingPoint `json:"data"`
}

// sendSnapshot pushes the device list and the recent readings per device per
// sensor kind, oldest first, so a new viewer starts from the current state.
func (h *WSHub) sendSnapshot(ctx context.Context, session *WSSession) {
	devices, err := h.params.Storage.ListDevices(ctx)
	if err != nil {
		h.log.Err(err).Msg("failed to load devices for snapshot")
		return
	}

	wsDevices := make([]wsDevice, 0, len(devices))
	for _, device := range devices {
		wsDevices = append(wsDevices, wsDevice{
			DeviceID:     device.DeviceID,
			Name:         device.Name,
			Type:         device.Type,
			Status:       device.Status,
			BatteryLevel: device.BatteryLevel,
			LastUpdate:   device.LastUpdate,
		})
	}

	session.send("devices", wsDevices)

	for _, device := range devices {
		series := make([]wsSensorSeries, 0, len(application.SensorKinds))
		for _, kind := range application.SensorKinds {
			readings, err := h.params.Storage.RecentReadings(ctx, device.DeviceID, kind, h.params.SnapshotLimit)
			if err != nil {
				h.log.Err(err).
					Str("device_id", device.DeviceID).
					Str("kind", string(kind)).
					Msg("failed to load readings for snapshot")
				continue
			}

			points := make([]wsReadingPoint, 0, len(readings))
			for _, reading := range readings {
				points = append(points, wsReadingPoint{
					Value:     reading.Value,
					Unit:      reading.Unit,
					Timestamp: reading.Timestamp.Format(time.RFC3339),
				})
			}

			series = append(series, wsSensorSeries{
				DeviceID:   device.DeviceID,
				SensorType: string(kind),
				Data:       points,
			})
		}

		session.send("sensorData", series)
	}
}

var _ application.Broadcaster = &WSHub{}
