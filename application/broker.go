package application

import (
	"fmt"
	"net"
	"strings"
	"time"
)

var ErrInvalidAddress = fmt.Errorf("invalid broker address")

// MessageHandler receives raw messages from the broker.
type MessageHandler func(topic string, payload []byte)

type ConnectOptions struct {
	// Address is host:port, scheme already stripped.
	Address  string
	ClientID string
	Username string
	Password string

	// OnConnectionLost fires on any non-user-initiated drop.
	OnConnectionLost func(err error)
}

type BrokerStatus struct {
	MessageCount    uint64
	LastMessageTime time.Time
	Connected       bool
}

type BrokerClient interface {
	Connect(opts ConnectOptions) error
	Disconnect()
	Subscribe(topic string, handler MessageHandler) error
	Publish(topic string, payload []byte) error

	IsConnected() bool
	Status() BrokerStatus
}

// NormalizeBrokerAddress strips an optional mqtt:// or tcp:// scheme and
// validates that the remainder splits into host and port.
func NormalizeBrokerAddress(address string) (string, error) {
	address = strings.TrimPrefix(address, "mqtt://")
	address = strings.TrimPrefix(address, "tcp://")

	host, port, err := net.SplitHostPort(address)
	if err != nil || host == "" || port == "" {
		return "", ErrInvalidAddress
	}
	return net.JoinHostPort(host, port), nil
}
