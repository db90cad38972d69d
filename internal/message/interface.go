package message

import "github.com/ocpp-csms/csms/internal/csms/events"

// EventPublisher publishes session-lifecycle event envelopes to the
// message broker.
type EventPublisher interface {
	Publish(env events.Envelope) error
	Close() error
}
