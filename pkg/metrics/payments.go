package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PaymentMetrics counts charge creation and webhook reconciliation outcomes.
// A nil *PaymentMetrics is a valid no-op.
type PaymentMetrics struct {
	charges  *prometheus.CounterVec
	orphans  prometheus.Counter
	webhooks *prometheus.CounterVec
}

func NewPaymentMetrics(reg prometheus.Registerer) *PaymentMetrics {
	if reg == nil {
		return &PaymentMetrics{}
	}
	charges := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "charges_total",
		Help:      "Charge creation attempts by saga outcome.",
	}, []string{"state"})
	orphans := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "orphaned_charges_total",
		Help:      "Provider charges created without a persisted local record.",
	})
	webhooks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhook_events_total",
		Help:      "Provider webhook events by event kind and result.",
	}, []string{"event", "result"})
	reg.MustRegister(charges, orphans, webhooks)
	return &PaymentMetrics{charges: charges, orphans: orphans, webhooks: webhooks}
}

// ChargeOutcome records the final saga state of one charge creation.
func (m *PaymentMetrics) ChargeOutcome(state string) {
	if m == nil || m.charges == nil {
		return
	}
	m.charges.WithLabelValues(normalizeLabel(state)).Inc()
}

func (m *PaymentMetrics) OrphanedCharge() {
	if m == nil || m.orphans == nil {
		return
	}
	m.orphans.Inc()
}

func (m *PaymentMetrics) WebhookOutcome(event, result string) {
	if m == nil || m.webhooks == nil {
		return
	}
	m.webhooks.WithLabelValues(normalizeLabel(event), normalizeLabel(result)).Inc()
}
