// Package mqtt connects the switch to its broker: command subscriptions in,
// relay status and firmware identity reports out.
package mqtt

import (
	"errors"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sweeney/basic-switch/internal/credentials"
	"github.com/sweeney/basic-switch/internal/router"
)

// QoS is used for every subscription and publish (at-most-once).
const QoS byte = 0

// DefaultBufferSize is the number of topics held while disconnected.
const DefaultBufferSize = 32

// ErrNotProvisioned is returned when a connection is requested without a
// complete credential record.
var ErrNotProvisioned = errors.New("mqtt: no credential record")

// Client is the networking collaborator used by the control loop.
type Client interface {
	// Publish sends a report to the broker, or buffers it while the link
	// is down. Returns error if publishing fails (should not crash the process).
	Publish(topic string, payload []byte, retained bool) error

	// Accept takes ownership of a committed credential record and
	// (re)connects with it. It must not block the caller.
	Accept(rec credentials.Record)

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// toMessage converts an inbound paho message to a router message.
func toMessage(m paho.Message) router.Message {
	return router.Message{
		Topic:    m.Topic(),
		Payload:  string(m.Payload()),
		Retained: m.Retained(),
	}
}
