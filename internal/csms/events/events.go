// Package events is the wire envelope the CSMS publishes its session
// events in: a session completing, and a connector's status changing.
package events

import "time"

// Type names an event kind.
type Type string

const (
	TypeSessionCompleted Type = "session.completed"
	TypeStatusChanged    Type = "connector.status_changed"
)

// Envelope is the JSON shape published to the broker: an identifying
// header plus a type-specific payload.
type Envelope struct {
	EventID       string      `json:"eventId"`
	EventType     Type        `json:"eventType"`
	ChargePointID string      `json:"chargePointId"`
	PodID         string      `json:"podId"`
	Timestamp     time.Time   `json:"timestamp"`
	Payload       interface{} `json:"payload"`
}

// SessionCompletedPayload mirrors station.CompletedSession's fields
// without importing the station package, keeping this package free of
// a dependency on the actor engine.
type SessionCompletedPayload struct {
	ConnectorID   int       `json:"connectorId"`
	TransactionID int       `json:"transactionId"`
	IdTag         string    `json:"idTag"`
	MeterStart    int       `json:"meterStartWh"`
	MeterStop     int       `json:"meterStopWh"`
	EnergyWh      int       `json:"energyWh"`
	StartTime     time.Time `json:"startTime"`
	StopTime      time.Time `json:"stopTime"`
	DurationSecs  int       `json:"durationSeconds"`
}

// StatusChangedPayload mirrors station.ConnectorStatus's fields.
type StatusChangedPayload struct {
	ConnectorID int    `json:"connectorId"`
	Status      string `json:"status"`
}
