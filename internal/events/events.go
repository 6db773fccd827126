package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"

	"github.com/illegalcall/wingwoman/internal/models"
)

// Publisher sends usage events to Kafka, keyed by user so a user's events
// stay on one partition in order.
type Publisher struct {
	producer sarama.SyncProducer
	topic    string
	now      func() time.Time
}

func NewPublisher(producer sarama.SyncProducer, topic string) *Publisher {
	return &Publisher{producer: producer, topic: topic, now: time.Now}
}

// Publish fills in the event id and timestamp when missing and sends the event.
func (p *Publisher) Publish(ctx context.Context, event models.UsageEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if event.UserID == "" {
		return fmt.Errorf("usage event has no user id")
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = p.now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal usage event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.UserID),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("kind"), Value: []byte(event.Kind)},
		},
	}
	if _, _, err := p.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("failed to publish usage event: %w", err)
	}
	return nil
}

// Decode parses a usage event read from the topic.
func Decode(value []byte) (models.UsageEvent, error) {
	var event models.UsageEvent
	if err := json.Unmarshal(value, &event); err != nil {
		return models.UsageEvent{}, fmt.Errorf("invalid usage event: %w", err)
	}
	if event.ID == "" || event.UserID == "" || event.Kind == "" {
		return models.UsageEvent{}, fmt.Errorf("invalid usage event: missing id, user_id or kind")
	}
	return event, nil
}
