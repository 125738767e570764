package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPaymentMetricsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPaymentMetrics(reg)

	m.ChargeOutcome("persisted")
	m.ChargeOutcome("persisted")
	m.ChargeOutcome("orphaned_charge")
	m.OrphanedCharge()
	m.WebhookOutcome("OPENPIX:CHARGE_COMPLETED", "applied")
	m.WebhookOutcome("", "malformed")

	if got := testutil.ToFloat64(m.charges.WithLabelValues("persisted")); got != 2 {
		t.Fatalf("expected 2 persisted charges, got %f", got)
	}
	if got := testutil.ToFloat64(m.orphans); got != 1 {
		t.Fatalf("expected 1 orphan, got %f", got)
	}
	if got := testutil.ToFloat64(m.webhooks.WithLabelValues("unknown", "malformed")); got != 1 {
		t.Fatalf("expected empty event label to normalize, got %f", got)
	}
	if n := testutil.CollectAndCount(m.webhooks); n != 2 {
		t.Fatalf("expected 2 webhook series, got %d", n)
	}
}

func TestNilPaymentMetricsIsNoop(t *testing.T) {
	var m *PaymentMetrics
	m.ChargeOutcome("persisted")
	m.OrphanedCharge()
	m.WebhookOutcome("e", "r")

	empty := NewPaymentMetrics(nil)
	empty.ChargeOutcome("persisted")
	empty.OrphanedCharge()
}
