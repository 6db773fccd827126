package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/IBM/sarama"

	"github.com/illegalcall/wingwoman/internal/config"
)

const (
	maxRetries = 10
	retryDelay = 3 * time.Second
	clientID   = "wingwoman"
)

// Brokers splits a comma-separated broker list.
func Brokers(list string) []string {
	var brokers []string
	for _, b := range strings.Split(list, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// waitForKafka polls the brokers until one answers, giving up after maxRetries
// or when ctx is done.
func waitForKafka(ctx context.Context, brokers []string) error {
	if len(brokers) == 0 {
		return fmt.Errorf("no kafka brokers configured")
	}
	for i := 0; i < maxRetries; i++ {
		config := sarama.NewConfig()
		config.ClientID = clientID
		config.Net.DialTimeout = 1 * time.Second
		client, err := sarama.NewClient(brokers, config)
		if err == nil {
			client.Close()
			return nil
		}
		slog.Info("Waiting for Kafka to be ready...", "attempt", i+1, "brokers", brokers)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryDelay):
		}
	}
	return fmt.Errorf("kafka not available after %d attempts", maxRetries)
}

// producerConfig hashes on the message key so every event of one user lands on
// the same partition.
func producerConfig(cfg config.KafkaConfig) *sarama.Config {
	config := sarama.NewConfig()
	config.ClientID = clientID
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Partitioner = sarama.NewHashPartitioner
	config.Producer.Retry.Max = cfg.RetryMax
	config.Producer.Retry.Backoff = cfg.RetryBackoff
	return config
}

func consumerConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.ClientID = clientID
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Return.Errors = true
	return config
}

func NewProducer(ctx context.Context, cfg config.KafkaConfig) (sarama.SyncProducer, error) {
	brokers := Brokers(cfg.Broker)
	if err := waitForKafka(ctx, brokers); err != nil {
		return nil, err
	}
	return sarama.NewSyncProducer(brokers, producerConfig(cfg))
}

func NewConsumer(ctx context.Context, cfg config.KafkaConfig) (sarama.ConsumerGroup, error) {
	brokers := Brokers(cfg.Broker)
	if err := waitForKafka(ctx, brokers); err != nil {
		return nil, err
	}
	return sarama.NewConsumerGroup(brokers, cfg.Group, consumerConfig())
}
