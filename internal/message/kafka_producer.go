package message

import (
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ocpp-csms/csms/internal/config"
	"github.com/ocpp-csms/csms/internal/csms/events"
	"github.com/ocpp-csms/csms/internal/csms/station"
	"github.com/ocpp-csms/csms/internal/metrics"
)

// KafkaProducer publishes session.completed and
// connector.status_changed envelopes to Kafka. It implements
// station.EventSink directly so it can be wired into every actor with
// Actor.SetEventSink without an adapter type.
type KafkaProducer struct {
	producer sarama.AsyncProducer
	topic    string
	podID    string
}

// NewKafkaProducer builds a Kafka producer from the config.KafkaConfig
// producer tuning (retry count, flush frequency, success notifications).
func NewKafkaProducer(cfg config.KafkaConfig, podID string) (*KafkaProducer, error) {
	saramaCfg := sarama.NewConfig()
	saramaCfg.Producer.RequiredAcks = sarama.WaitForLocal
	saramaCfg.Producer.Compression = sarama.CompressionSnappy
	saramaCfg.Producer.Flush.Frequency = cfg.Producer.FlushFrequency
	saramaCfg.Producer.Return.Successes = cfg.Producer.ReturnSuccess
	saramaCfg.Producer.Return.Errors = true
	saramaCfg.Producer.Retry.Max = cfg.Producer.RetryMax

	producer, err := sarama.NewAsyncProducer(cfg.Brokers, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka async producer: %w", err)
	}

	return newKafkaProducer(producer, cfg.Topic, podID), nil
}

// newKafkaProducer wraps an already-constructed sarama.AsyncProducer and
// starts the goroutines that drain its Successes and Errors channels.
func newKafkaProducer(producer sarama.AsyncProducer, topic, podID string) *KafkaProducer {
	kp := &KafkaProducer{producer: producer, topic: topic, podID: podID}
	go kp.handleSuccesses()
	go kp.handleErrors()
	return kp
}

// Publish sends an envelope, keyed by charge point ID so every event
// for a given charger lands in the same partition and preserves order.
func (p *KafkaProducer) Publish(env events.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal event envelope: %w", err)
	}

	p.producer.Input() <- &sarama.ProducerMessage{
		Topic:    p.topic,
		Key:      sarama.StringEncoder(env.ChargePointID),
		Value:    sarama.ByteEncoder(data),
		Metadata: env.EventType,
	}
	return nil
}

// SessionCompleted implements station.EventSink.
func (p *KafkaProducer) SessionCompleted(chargePointID string, session station.CompletedSession) {
	env := events.Envelope{
		EventID:       uuid.NewString(),
		EventType:     events.TypeSessionCompleted,
		ChargePointID: chargePointID,
		PodID:         p.podID,
		Timestamp:     session.StopTime,
		Payload: events.SessionCompletedPayload{
			ConnectorID:   session.ConnectorID,
			TransactionID: session.TransactionID,
			IdTag:         session.IdTag,
			MeterStart:    session.MeterStart,
			MeterStop:     session.MeterStop,
			EnergyWh:      session.Energy,
			StartTime:     session.StartTime,
			StopTime:      session.StopTime,
			DurationSecs:  session.DurationSecs,
		},
	}
	if err := p.Publish(env); err != nil {
		log.Error().Err(err).Str("chargePointId", chargePointID).Msg("failed to publish session.completed event")
	}
}

// StatusChanged implements station.EventSink.
func (p *KafkaProducer) StatusChanged(chargePointID string, connectorID int, status string) {
	env := events.Envelope{
		EventID:       uuid.NewString(),
		EventType:     events.TypeStatusChanged,
		ChargePointID: chargePointID,
		PodID:         p.podID,
		Payload: events.StatusChangedPayload{
			ConnectorID: connectorID,
			Status:      status,
		},
	}
	if err := p.Publish(env); err != nil {
		log.Error().Err(err).Str("chargePointId", chargePointID).Msg("failed to publish connector.status_changed event")
	}
}

// Close releases the underlying producer.
func (p *KafkaProducer) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("failed to close Kafka producer: %w", err)
	}
	return nil
}

func (p *KafkaProducer) handleSuccesses() {
	for msg := range p.producer.Successes() {
		if eventType, ok := msg.Metadata.(events.Type); ok {
			metrics.EventsPublished.WithLabelValues(string(eventType)).Inc()
		}
		log.Debug().Str("topic", msg.Topic).Msg("kafka message sent")
	}
}

func (p *KafkaProducer) handleErrors() {
	for err := range p.producer.Errors() {
		log.Error().Err(err).Str("topic", err.Msg.Topic).Msg("failed to send kafka message")
	}
}
