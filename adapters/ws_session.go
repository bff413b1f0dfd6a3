package adapters

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const sessionSendBuffer = 256

// WSSession is one live viewer connection. Outbound frames go through a
// buffered channel; a full buffer drops the frame rather than stall the hub.
type WSSession struct {
	conn *websocket.Conn
	hub  *WSHub

	sendCh    chan []byte
	done      chan struct{}
	closeOnce sync.Once

	log zerolog.Logger
}

func newWSSession(conn *websocket.Conn, hub *WSHub, log zerolog.Logger) *WSSession {
	return &WSSession{
		conn:   conn,
		hub:    hub,
		sendCh: make(chan []byte, sessionSendBuffer),
		done:   make(chan struct{}),
		log:    log,
	}
}

type wsControlMessage struct {
	Type    string          `json:"type"`
	Topic   string          `json:"topic"`
	Message json.RawMessage `json:"message"`
}

// readPump handles viewer control messages until the connection drops.
// Malformed frames are logged and skipped.
func (s *WSSession) readPump() {
	for {
		_, frame, err := s.conn.ReadMessage()
		if err != nil {
			return
		}

		var control wsControlMessage
		if err := jsonFast.Unmarshal(frame, &control); err != nil {
			s.log.Warn().Err(err).Msg("undecodable viewer message")
			continue
		}

		surface := s.hub.controlSurface()
		if surface == nil {
			s.log.Warn().Str("type", control.Type).Msg("control surface not wired yet")
			continue
		}

		switch control.Type {
		case "subscribe":
			if control.Topic == "" {
				continue
			}
			topic := surface.AddTopic(control.Topic)
			s.send("subscription_success", nil, func(ack map[string]any) {
				ack["topic"] = topic
			})

		case "publish":
			if control.Topic == "" || len(control.Message) == 0 {
				continue
			}
			ok := surface.Publish(control.Topic, control.Message)
			s.send("publish_result", nil, func(ack map[string]any) {
				ack["success"] = ok
			})

		default:
			s.log.Warn().Str("type", control.Type).Msg("unknown viewer message type")
		}
	}
}

func (s *WSSession) writePump() {
	for {
		select {
		case <-s.done:
			return
		case frame := <-s.sendCh:
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.log.Warn().Err(err).Msg("viewer write failed")
				return
			}
		}
	}
}

// send encodes a typed frame addressed to this session only. Extra fields are
// filled in by the optional mutators.
func (s *WSSession) send(msgType string, data any, mutate ...func(map[string]any)) {
	frame := map[string]any{"type": msgType}
	if data != nil {
		frame["data"] = data
	}
	for _, m := range mutate {
		m(frame)
	}

	encoded, err := jsonFast.Marshal(frame)
	if err != nil {
		s.log.Err(err).Str("type", msgType).Msg("failed to encode frame")
		return
	}

	s.enqueue(encoded)
}

func (s *WSSession) enqueue(frame []byte) {
	select {
	case s.sendCh <- frame:
	default:
		// slow viewer, drop the frame
	}
}

func (s *WSSession) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}
