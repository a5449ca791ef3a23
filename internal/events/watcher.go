package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// Reader exposes the minimal kafka.Reader interface needed by the Watcher.
type Reader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
	Close() error
}

// HandlerFunc receives each decoded completion.
type HandlerFunc func(context.Context, Completion) error

// Watcher follows the completion topic and hands each event to a handler.
type Watcher struct {
	reader Reader
	handle HandlerFunc
	logger logrus.FieldLogger
}

// NewWatcher constructs a Watcher.
func NewWatcher(reader Reader, handle HandlerFunc, logger logrus.FieldLogger) *Watcher {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Watcher{reader: reader, handle: handle, logger: logger}
}

// NewKafkaReader builds a group reader for topic that starts at new messages.
func NewKafkaReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     groupID,
		StartOffset: kafka.LastOffset,
	})
}

// Run blocks, processing messages until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg, err := w.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			w.logger.WithError(err).Warn("fetch completion event failed")
			continue
		}

		logger := w.logger.WithFields(logrus.Fields{"topic": msg.Topic, "partition": msg.Partition, "offset": msg.Offset})
		event, err := decodeCompletion(msg)
		if err != nil {
			logger.WithError(err).Warn("skipping undecodable message")
			// Commit malformed messages to avoid poison-pill loops.
			if commitErr := w.reader.CommitMessages(ctx, msg); commitErr != nil {
				logger.WithError(commitErr).Warn("commit after decode failure failed")
			}
			continue
		}

		if err := w.handle(ctx, event); err != nil {
			logger.WithError(err).WithField("event_id", event.EventID).Warn("completion handler failed")
			continue
		}

		if err := w.reader.CommitMessages(ctx, msg); err != nil {
			logger.WithError(err).Warn("commit failed")
		}
	}
}

func decodeCompletion(msg kafka.Message) (Completion, error) {
	eventType, ok := headerValue(msg, "event_type")
	if !ok {
		return Completion{}, errors.New("missing event_type header")
	}
	if string(eventType) != EventType {
		return Completion{}, fmt.Errorf("unexpected event type %q", eventType)
	}

	var event Completion
	if err := sonic.ConfigStd.Unmarshal(msg.Value, &event); err != nil {
		return Completion{}, fmt.Errorf("decode payload: %w", err)
	}
	if event.Section == "" || event.Activity == "" {
		return Completion{}, errors.New("payload lacks section or activity")
	}
	return event, nil
}

func headerValue(msg kafka.Message, key string) ([]byte, bool) {
	for _, header := range msg.Headers {
		if header.Key == key {
			return header.Value, true
		}
	}
	return nil, false
}
