package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/BradenHooton/loginguard/internal/models"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes security events as JSON, keyed by the locked identifier or banned IP
type KafkaNotifier struct {
	writer messageWriter
}

// writeBatchTimeout caps the wait for a batch to fill. Notify sends one event per call.
const writeBatchTimeout = 10 * time.Millisecond

// NewKafkaNotifier initializes a producer for topic
func NewKafkaNotifier(brokers []string, topic string) *KafkaNotifier {
	return &KafkaNotifier{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			BatchSize:              1,
			BatchTimeout:           writeBatchTimeout,
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
		},
	}
}

// Notify implements Notifier
func (k *KafkaNotifier) Notify(ctx context.Context, event models.SecurityEvent) error {
	const op = "alerts.KafkaNotifier.Notify"

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("%s: marshal: %w", op, err)
	}

	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.Key()),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// Close flushes pending writes
func (k *KafkaNotifier) Close() error {
	return k.writer.Close()
}
