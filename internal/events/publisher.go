// Package events announces stored completions on a Kafka topic.
package events

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"example.com/upkeep/internal/domain"
	"example.com/upkeep/internal/observability"
)

// EventType is carried in the event_type header of every message.
const EventType = "activity.completed"

// Completion is the JSON payload written for each stored completion.
type Completion struct {
	EventID     string    `json:"event_id"`
	Section     string    `json:"section"`
	Activity    string    `json:"activity"`
	CompletedAt string    `json:"completed_at"`
	Created     bool      `json:"created"`
	PublishedAt time.Time `json:"published_at"`
}

type messageWriter interface {
	WriteMessages(context.Context, ...kafka.Message) error
	Close() error
}

// NewKafkaWriter builds a writer whose messages name their own topic. Keys
// hash to a partition so one activity's completions arrive in order.
func NewKafkaWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
}

// KafkaPublisher implements domain.CompletionPublisher.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
	logger logrus.FieldLogger
	now    func() time.Time
}

// NewKafkaPublisher publishes completions to topic through writer.
func NewKafkaPublisher(writer messageWriter, topic string, logger logrus.FieldLogger) *KafkaPublisher {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &KafkaPublisher{writer: writer, topic: topic, logger: logger, now: time.Now}
}

// Publish writes one message keyed by section/activity so an activity's events stay ordered.
func (p *KafkaPublisher) Publish(ctx context.Context, event domain.CompletionEvent) error {
	payload := Completion{
		EventID:     uuid.NewString(),
		Section:     event.Section,
		Activity:    event.Activity,
		CompletedAt: domain.FormatRequestTimestamp(event.CompletedAt),
		Created:     event.Created,
		PublishedAt: p.now().UTC(),
	}
	body, err := sonic.ConfigStd.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode completion event: %w", err)
	}

	msg := kafka.Message{
		Topic: p.topic,
		Key:   []byte(event.Section + "/" + event.Activity),
		Value: body,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(EventType)},
			{Key: "event_id", Value: []byte(payload.EventID)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write completion event to %s: %w", p.topic, err)
	}

	observability.RecordEventPublished()
	p.logger.WithFields(logrus.Fields{
		"event_id": payload.EventID,
		"topic":    p.topic,
		"section":  event.Section,
		"activity": event.Activity,
	}).Debug("published completion event")
	return nil
}

// Close flushes pending writes and releases the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NoopPublisher discards events; it is used when no brokers are configured.
type NoopPublisher struct{}

// Publish does nothing.
func (NoopPublisher) Publish(context.Context, domain.CompletionEvent) error { return nil }
