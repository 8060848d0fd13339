package notifier

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/abhirajkale-hub/plaque-e-com-sub002/internal/models"
	"github.com/segmentio/kafka-go"
)

// KafkaPublisher emits notification messages for the out-of-band dispatcher
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher creates a publisher over the given kafka writer
func NewKafkaPublisher(writer *kafka.Writer) *KafkaPublisher {
	return &KafkaPublisher{writer: writer}
}

// Publish serializes the message and writes it keyed by event id so that
// replays land in the same partition
func (p *KafkaPublisher) Publish(ctx context.Context, msg models.NotificationMessage) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("error marshalling notification: %w", err)
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.EventID),
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("error writing notification to kafka: %w", err)
	}
	return nil
}

// KafkaReceiver is the consumer side implementing ports.NotificationReceiver
type KafkaReceiver struct {
	reader *kafka.Reader
}

// NewKafkaReceiver creates a receiver over the given kafka reader
func NewKafkaReceiver(reader *kafka.Reader) *KafkaReceiver {
	return &KafkaReceiver{reader: reader}
}

// Consume blocks for the next notification message
func (k *KafkaReceiver) Consume(ctx context.Context) (models.NotificationMessage, kafka.Message, error) {
	msg, err := k.reader.FetchMessage(ctx)
	if err != nil {
		return models.NotificationMessage{}, kafka.Message{}, fmt.Errorf("error while reading from kafka: %w", err)
	}
	var notification models.NotificationMessage
	if err = json.Unmarshal(msg.Value, &notification); err != nil {
		return models.NotificationMessage{}, kafka.Message{}, fmt.Errorf("error while unmarshalling message: %w", err)
	}
	return notification, msg, nil
}

// OnSuccess commits the message
func (k *KafkaReceiver) OnSuccess(ctx context.Context, msg kafka.Message) error {
	return k.reader.CommitMessages(ctx, msg)
}

// OnFail commits the message anyway: notifications are best-effort and a
// broken one must not wedge the consumer group
func (k *KafkaReceiver) OnFail(ctx context.Context, _ bool, msg kafka.Message) error {
	return k.reader.CommitMessages(ctx, msg)
}
