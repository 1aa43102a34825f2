package alerting

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// MessageWriter is the subset of *kafka.Writer used by KafkaPublisher.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes alerts to a Kafka topic, keyed by account so that all
// alerts of one account land on the same partition.
type KafkaPublisher struct {
	writer MessageWriter
	topic  string
	logger *zap.Logger
}

// NewKafkaPublisher creates a publisher writing to topic on brokers.
func NewKafkaPublisher(brokers []string, topic string, logger *zap.Logger) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka publisher: no brokers")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka publisher: empty topic")
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		MaxAttempts:            3,
		AllowAutoTopicCreation: true,
	}
	return NewKafkaPublisherWithWriter(w, topic, logger), nil
}

// NewKafkaPublisherWithWriter creates a publisher over an existing writer.
func NewKafkaPublisherWithWriter(w MessageWriter, topic string, logger *zap.Logger) *KafkaPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaPublisher{writer: w, topic: topic, logger: logger}
}

// Name returns "kafka".
func (k *KafkaPublisher) Name() string { return "kafka" }

// Publish writes all alerts in one batch.
func (k *KafkaPublisher) Publish(ctx context.Context, alerts []Alert) error {
	if len(alerts) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, 0, len(alerts))
	for _, a := range alerts {
		value, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("marshal alert %s: %w", a.DetectionID, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(a.AccountID),
			Value: value,
			Time:  a.PublishedAt,
			Headers: []kafka.Header{
				{Key: "detection-id", Value: []byte(a.DetectionID)},
				{Key: "reason", Value: []byte(a.Reason)},
			},
		})
	}

	if err := k.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write %d alerts to %s: %w", len(msgs), k.topic, err)
	}

	k.logger.Debug("published alerts to kafka",
		zap.String("topic", k.topic),
		zap.Int("count", len(msgs)),
	)
	return nil
}

// Close flushes and closes the writer.
func (k *KafkaPublisher) Close() error {
	return k.writer.Close()
}
