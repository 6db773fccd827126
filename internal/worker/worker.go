package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/illegalcall/wingwoman/internal/config"
	"github.com/illegalcall/wingwoman/internal/events"
	"github.com/illegalcall/wingwoman/internal/metrics"
	"github.com/illegalcall/wingwoman/internal/models"
	"github.com/illegalcall/wingwoman/pkg/database"
)

const counterRetention = 90 * 24 * time.Hour

var errMalformed = errors.New("malformed usage event")

type Worker struct {
	cfg      *config.Config
	db       *database.Clients
	consumer sarama.ConsumerGroup
	metrics  *metrics.Metrics
	logger   *slog.Logger

	ready     chan struct{}
	readyOnce sync.Once
}

func NewWorker(cfg *config.Config, db *database.Clients, consumer sarama.ConsumerGroup, m *metrics.Metrics) *Worker {
	slog.Info("Initializing new Worker")
	return &Worker{
		cfg:      cfg,
		db:       db,
		consumer: consumer,
		metrics:  m,
		logger:   slog.Default().With("component", "worker"),
		ready:    make(chan struct{}),
	}
}

// Start consumes the usage-events topic until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	topics := []string{w.cfg.Kafka.Topic}
	w.logger.Info("Starting worker", "topics", topics)

	// Start error logging for consumer errors
	go func() {
		for err := range w.consumer.Errors() {
			w.logger.Error("Kafka consumer error received", "error", err)
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if err := w.consumer.Consume(ctx, topics, w); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				w.logger.Error("Error from consumer.Consume", "error", err)
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	select {
	case <-w.ready:
		w.logger.Info("Worker setup complete; consumer ready")
	case <-ctx.Done():
	}

	<-ctx.Done()
	w.logger.Info("Context cancelled; shutting down worker")
	<-done
	return nil
}

// Setup is run at the beginning of a new session, before ConsumeClaim.
func (w *Worker) Setup(sarama.ConsumerGroupSession) error {
	w.logger.Info("Consumer group session setup complete")
	w.readyOnce.Do(func() { close(w.ready) })
	return nil
}

// Cleanup is run at the end of a session, once all ConsumeClaim goroutines have exited.
func (w *Worker) Cleanup(sarama.ConsumerGroupSession) error {
	w.logger.Info("Consumer group session cleanup complete")
	return nil
}

// ConsumeClaim must start a consumer loop of ConsumerGroupClaim's Messages().
func (w *Worker) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for message := range claim.Messages() {
		if err := w.processEvent(session.Context(), message); err != nil {
			w.logger.Error("Failed to process usage event", "offset", message.Offset, "partition", message.Partition, "error", err)
		}
		session.MarkMessage(message, "")
	}
	return nil
}

// processEvent records one usage event. Malformed payloads are dropped at once;
// storage failures are retried up to RetryMax times.
func (w *Worker) processEvent(ctx context.Context, msg *sarama.ConsumerMessage) error {
	event, err := events.Decode(msg.Value)
	if err != nil {
		w.record("unknown", "malformed")
		return fmt.Errorf("%w: %v", errMalformed, err)
	}

	attempts := w.cfg.Kafka.RetryMax
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		err = w.store(ctx, event)
		if err == nil {
			w.record(string(event.Kind), "stored")
			return nil
		}
		w.logger.Warn("Storing usage event failed", "eventID", event.ID, "attempt", attempt, "error", err)
		if attempt < attempts {
			select {
			case <-time.After(w.cfg.Kafka.RetryBackoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	w.record(string(event.Kind), "failed")
	return fmt.Errorf("failed to store usage event %s: %w", event.ID, err)
}

func (w *Worker) store(ctx context.Context, event models.UsageEvent) error {
	res, err := w.db.DB.ExecContext(ctx,
		`INSERT INTO usage_events (id, user_id, kind, activity, amount, credits_after, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7) ON CONFLICT (id) DO NOTHING`,
		event.ID, event.UserID, event.Kind, event.Activity, event.Amount, event.CreditsAfter, event.OccurredAt)
	if err != nil {
		return fmt.Errorf("failed to insert usage event: %w", err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		w.logger.Debug("Duplicate usage event skipped", "eventID", event.ID)
		return nil
	}

	return w.bumpCounters(ctx, event)
}

// CounterKey is the Redis key of the per-day counter for kind.
func CounterKey(day time.Time, kind string) string {
	return fmt.Sprintf("usage:%s:%s", day.UTC().Format("2006-01-02"), kind)
}

func (w *Worker) bumpCounters(ctx context.Context, event models.UsageEvent) error {
	kindKey := CounterKey(event.OccurredAt, string(event.Kind))

	pipe := w.db.Redis.TxPipeline()
	pipe.Incr(ctx, kindKey)
	pipe.Expire(ctx, kindKey, counterRetention)
	if event.Kind == models.EventCreditsSpent && event.Amount > 0 {
		creditsKey := CounterKey(event.OccurredAt, "credits")
		pipe.IncrByFloat(ctx, creditsKey, event.Amount)
		pipe.Expire(ctx, creditsKey, counterRetention)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to update usage counters: %w", err)
	}
	return nil
}

func (w *Worker) record(kind, outcome string) {
	if w.metrics != nil {
		w.metrics.EventsConsumed.WithLabelValues(kind, outcome).Inc()
	}
}
