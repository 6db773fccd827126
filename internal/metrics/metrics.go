package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors of the API and the worker.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Ledger metrics
	CreditsSpent        *prometheus.CounterVec
	SpendRejected       *prometheus.CounterVec
	RemoteWriteFailures prometheus.Counter
	Upgrades            *prometheus.CounterVec

	// Generation metrics
	Generations        *prometheus.CounterVec
	GenerationDuration *prometheus.HistogramVec

	// Business metrics
	SavedToggles   *prometheus.CounterVec
	LoginAttempts  *prometheus.CounterVec
	ActiveSessions prometheus.Gauge

	// Pipeline metrics
	EventsPublished *prometheus.CounterVec
	EventsConsumed  *prometheus.CounterVec
}

// New registers every collector with reg. Pass prometheus.DefaultRegisterer in
// production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),

		CreditsSpent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wingwoman_credits_spent_total",
				Help: "Credits deducted by activity",
			},
			[]string{"activity"},
		),
		SpendRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wingwoman_spend_rejected_total",
				Help: "Spend attempts rejected for insufficient credits",
			},
			[]string{"activity"},
		),
		RemoteWriteFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "wingwoman_remote_write_failures_total",
			Help: "Profile writes that failed and were reconciled",
		}),
		Upgrades: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wingwoman_upgrades_total",
				Help: "Subscription tier changes",
			},
			[]string{"tier"},
		),

		Generations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wingwoman_generations_total",
				Help: "Generation requests by feature and outcome",
			},
			[]string{"feature", "outcome"},
		),
		GenerationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wingwoman_generation_duration_seconds",
				Help:    "Latency of generation requests",
				Buckets: []float64{0.5, 1, 2, 4, 8, 15, 30, 60},
			},
			[]string{"feature"},
		),

		SavedToggles: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wingwoman_saved_toggles_total",
				Help: "Saved icebreaker toggles by resulting action",
			},
			[]string{"action"}, // saved, removed
		),
		LoginAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wingwoman_login_attempts_total",
				Help: "Login attempts by outcome",
			},
			[]string{"status"},
		),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "wingwoman_active_sessions",
			Help: "Number of open user sessions",
		}),

		EventsPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wingwoman_usage_events_published_total",
				Help: "Usage events sent to Kafka",
			},
			[]string{"status"},
		),
		EventsConsumed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wingwoman_usage_events_consumed_total",
				Help: "Usage events processed by the worker",
			},
			[]string{"kind", "outcome"},
		),
	}
}

// Middleware records request counts and latency per route pattern.
func (m *Metrics) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}
		path := c.Route().Path
		code := strconv.Itoa(status)

		m.HTTPRequestsTotal.WithLabelValues(c.Method(), path, code).Inc()
		m.HTTPRequestDuration.WithLabelValues(c.Method(), path, code).Observe(time.Since(start).Seconds())

		return err
	}
}

// RecordSpend records an accepted or rejected credit deduction.
func (m *Metrics) RecordSpend(activity string, amount float64, accepted bool) {
	if !accepted {
		m.SpendRejected.WithLabelValues(activity).Inc()
		return
	}
	m.CreditsSpent.WithLabelValues(activity).Add(amount)
}

// RecordGeneration records the outcome and latency of a generation call.
func (m *Metrics) RecordGeneration(feature string, duration time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.Generations.WithLabelValues(feature, outcome).Inc()
	m.GenerationDuration.WithLabelValues(feature).Observe(duration.Seconds())
}

// RecordLoginAttempt increments login attempts counter
func (m *Metrics) RecordLoginAttempt(success bool) {
	status := "failed"
	if success {
		status = "success"
	}
	m.LoginAttempts.WithLabelValues(status).Inc()
}

// RecordToggle counts a saved-item toggle.
func (m *Metrics) RecordToggle(saved bool) {
	action := "removed"
	if saved {
		action = "saved"
	}
	m.SavedToggles.WithLabelValues(action).Inc()
}

// RecordPublish counts a usage event publish attempt.
func (m *Metrics) RecordPublish(err error) {
	status := "ok"
	if err != nil {
		status = "failed"
	}
	m.EventsPublished.WithLabelValues(status).Inc()
}
