// Package metrics exposes the Prometheus series the CSMS publishes on
// its metrics endpoint, using promauto so each gauge/counter/histogram
// self-registers against the default registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveConnections tracks the number of charge points currently
	// connected over WebSocket.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "csms_active_connections",
		Help: "The total number of connected charge points.",
	})

	// ActiveSessions is the gauge for in-progress charging sessions
	// across every connected charge point. It is registered, but no
	// package sets it, so it reports 0.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "csms_active_sessions",
		Help: "The total number of in-progress charging sessions.",
	})

	// MessagesReceived counts inbound OCPP CALLs, labeled by action.
	MessagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "csms_messages_received_total",
		Help: "Total number of OCPP CALL frames received from charge points.",
	}, []string{"action"})

	// CallsIssued counts outbound OCPP CALLs the CSMS sent, labeled by
	// action and outcome.
	CallsIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "csms_calls_issued_total",
		Help: "Total number of OCPP CALLs issued to charge points.",
	}, []string{"action", "outcome"})

	// CallTimeouts counts outbound calls that never received a reply
	// within their deadline.
	CallTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "csms_call_timeouts_total",
		Help: "Total number of outbound OCPP calls that timed out.",
	}, []string{"action"})

	// WatchdogFires counts no-session watchdog expirations that issued
	// an UnlockConnector.
	WatchdogFires = promauto.NewCounter(prometheus.CounterOpts{
		Name: "csms_watchdog_fires_total",
		Help: "Total number of no-session watchdog expirations.",
	})

	// SessionsCompleted counts finished charging sessions.
	SessionsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "csms_sessions_completed_total",
		Help: "Total number of completed charging sessions.",
	})

	// EventsPublished counts domain events published to the message
	// broker, labeled by event type.
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "csms_events_published_total",
		Help: "Total number of domain events published to the message broker.",
	}, []string{"event_type"})

	// OperatorRequests counts HTTP control-plane requests, labeled by
	// route and outcome.
	OperatorRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "csms_operator_requests_total",
		Help: "Total number of HTTP operator API requests.",
	}, []string{"route", "outcome"})

	// MessageProcessingDuration observes how long each inbound OCPP
	// action took to handle, labeled by action.
	MessageProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "csms_message_processing_duration_seconds",
		Help:    "Histogram of inbound OCPP message processing times.",
		Buckets: prometheus.DefBuckets,
	}, []string{"action"})
)
