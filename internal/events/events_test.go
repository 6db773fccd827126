package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illegalcall/wingwoman/internal/models"
)

// MockProducer simulates Kafka producer for testing
type MockProducer struct {
	sarama.SyncProducer
	messages []*sarama.ProducerMessage
	err      error
}

func (m *MockProducer) SendMessage(msg *sarama.ProducerMessage) (partition int32, offset int64, err error) {
	if m.err != nil {
		return 0, 0, m.err
	}
	m.messages = append(m.messages, msg)
	return 0, int64(len(m.messages)), nil
}

func (m *MockProducer) Close() error {
	return nil
}

func TestPublish(t *testing.T) {
	producer := &MockProducer{}
	pub := NewPublisher(producer, "usage-events")
	fixed := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	pub.now = func() time.Time { return fixed }

	err := pub.Publish(context.Background(), models.UsageEvent{
		UserID:       "u1",
		Kind:         models.EventCreditsSpent,
		Activity:     models.ActivityIcebreakers,
		Amount:       0.25,
		CreditsAfter: 2.75,
	})
	require.NoError(t, err)
	require.Len(t, producer.messages, 1)

	msg := producer.messages[0]
	assert.Equal(t, "usage-events", msg.Topic)
	key, _ := msg.Key.Encode()
	assert.Equal(t, "u1", string(key))

	value, _ := msg.Value.Encode()
	event, err := Decode(value)
	require.NoError(t, err)
	assert.NotEmpty(t, event.ID)
	assert.Equal(t, fixed, event.OccurredAt)
	assert.Equal(t, models.ActivityIcebreakers, event.Activity)
	assert.Equal(t, 2.75, event.CreditsAfter)
}

func TestPublishErrors(t *testing.T) {
	pub := NewPublisher(&MockProducer{err: errors.New("broker down")}, "usage-events")

	err := pub.Publish(context.Background(), models.UsageEvent{UserID: "u1", Kind: models.EventItemSaved})
	assert.ErrorContains(t, err, "broker down")

	err = pub.Publish(context.Background(), models.UsageEvent{Kind: models.EventItemSaved})
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = pub.Publish(ctx, models.UsageEvent{UserID: "u1", Kind: models.EventItemSaved})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDecodeRejectsIncompleteEvents(t *testing.T) {
	_, err := Decode([]byte(`{"id":"e1","kind":"item_saved"}`))
	assert.Error(t, err)

	_, err = Decode([]byte(`{"id":`))
	assert.Error(t, err)
}
