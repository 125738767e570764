package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outbox failure reasons.
const (
	OutboxReasonRetry        = "retry"
	OutboxReasonNonRetryable = "non_retryable"
	OutboxReasonMaxAttempts  = "max_attempts"
	OutboxReasonBlocked      = "blocked"
)

// OutboxMetrics tracks the outbox relay. A nil *OutboxMetrics is a no-op.
type OutboxMetrics struct {
	published *prometheus.CounterVec
	failures  *prometheus.CounterVec
	lag       prometheus.Histogram
	batch     prometheus.Histogram
}

func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	published := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "outbox",
		Name:      "published_total",
		Help:      "Outbox rows delivered to Pub/Sub by event type.",
	}, []string{"event_type"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "outbox",
		Name:      "failures_total",
		Help:      "Outbox rows not delivered, by event type and reason.",
	}, []string{"event_type", "reason"})
	lag := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "outbox",
		Name:      "publish_lag_seconds",
		Help:      "Time between a row being written and it being published.",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 15, 60, 300, 900},
	})
	batch := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "outbox",
		Name:      "batch_size",
		Help:      "Rows claimed per publish cycle.",
		Buckets:   prometheus.LinearBuckets(0, 10, 11),
	})
	reg.MustRegister(published, failures, lag, batch)
	return &OutboxMetrics{published: published, failures: failures, lag: lag, batch: batch}
}

// Published records a delivered row and how long it waited in the table.
func (m *OutboxMetrics) Published(eventType string, createdAt time.Time) {
	if m == nil || m.published == nil {
		return
	}
	m.published.WithLabelValues(normalizeLabel(eventType)).Inc()
	if !createdAt.IsZero() {
		m.lag.Observe(time.Since(createdAt).Seconds())
	}
}

func (m *OutboxMetrics) Failed(eventType, reason string) {
	if m == nil || m.failures == nil {
		return
	}
	m.failures.WithLabelValues(normalizeLabel(eventType), normalizeLabel(reason)).Inc()
}

func (m *OutboxMetrics) BatchClaimed(n int) {
	if m == nil || m.batch == nil {
		return
	}
	m.batch.Observe(float64(n))
}
