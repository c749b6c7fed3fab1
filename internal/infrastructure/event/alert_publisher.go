package event

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/meschain/syncengine/internal/domain/integration"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// DefaultAlertTopic is the Kafka topic operator alerts are written to.
const DefaultAlertTopic = "sync.alerts"

// messageWriter is the subset of *kafka.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaAlertPublisher writes operator alerts to Kafka, keyed by marketplace so
// alerts of one marketplace stay ordered.
type KafkaAlertPublisher struct {
	writer messageWriter
	topic  string
	logger *zap.Logger
}

// NewKafkaAlertPublisher creates a publisher for the given brokers.
func NewKafkaAlertPublisher(brokers []string, topic string, logger *zap.Logger) *KafkaAlertPublisher {
	if topic == "" {
		topic = DefaultAlertTopic
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
		WriteTimeout: 5 * time.Second,
	}
	return newKafkaAlertPublisher(w, topic, logger)
}

func newKafkaAlertPublisher(w messageWriter, topic string, logger *zap.Logger) *KafkaAlertPublisher {
	return &KafkaAlertPublisher{writer: w, topic: topic, logger: logger}
}

// Publish serializes the alert as JSON and writes it synchronously.
func (p *KafkaAlertPublisher) Publish(ctx context.Context, alert integration.Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(alert.Marketplace),
		Value: payload,
		Time:  alert.OccurredAt,
		Headers: []kafka.Header{
			{Key: "severity", Value: []byte(alert.Severity)},
			{Key: "kind", Value: []byte(alert.Kind)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write alert to %s: %w", p.topic, err)
	}
	p.logger.Debug("Alert published",
		zap.String("topic", p.topic),
		zap.String("marketplace", string(alert.Marketplace)),
		zap.String("kind", string(alert.Kind)))
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaAlertPublisher) Close() error {
	return p.writer.Close()
}

// LogAlertPublisher logs alerts when no broker is configured.
type LogAlertPublisher struct {
	logger *zap.Logger
}

// NewLogAlertPublisher creates a log-only publisher.
func NewLogAlertPublisher(logger *zap.Logger) *LogAlertPublisher {
	return &LogAlertPublisher{logger: logger.Named("alerts")}
}

// Publish logs the alert at error level.
func (p *LogAlertPublisher) Publish(_ context.Context, alert integration.Alert) error {
	p.logger.Error("Operator alert",
		zap.String("severity", string(alert.Severity)),
		zap.String("kind", string(alert.Kind)),
		zap.String("marketplace", string(alert.Marketplace)),
		zap.String("entity_type", string(alert.EntityType)),
		zap.String("entity_id", alert.EntityID),
		zap.String("message", alert.Message),
		zap.Time("occurred_at", alert.OccurredAt))
	return nil
}

// Close is a no-op.
func (p *LogAlertPublisher) Close() error { return nil }

// AlertSink is an AlertPublisher that can be closed at shutdown.
type AlertSink interface {
	integration.AlertPublisher
	Close() error
}

// NewAlertPublisher returns a Kafka publisher when brokers are configured and
// a log-only publisher otherwise.
func NewAlertPublisher(brokers []string, topic string, logger *zap.Logger) AlertSink {
	if len(brokers) == 0 {
		logger.Info("No Kafka brokers configured, alerts are logged only")
		return NewLogAlertPublisher(logger)
	}
	logger.Info("Publishing alerts to Kafka",
		zap.Strings("brokers", brokers),
		zap.String("topic", topic))
	return NewKafkaAlertPublisher(brokers, topic, logger)
}
