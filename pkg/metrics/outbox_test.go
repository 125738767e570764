package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestOutboxMetricsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewOutboxMetrics(reg)

	m.Published("payment_completed", time.Now().Add(-2*time.Second))
	m.Published("payment_completed", time.Time{})
	m.Failed("payment_expired", OutboxReasonRetry)
	m.Failed("", OutboxReasonMaxAttempts)
	m.BatchClaimed(3)

	if got := testutil.ToFloat64(m.published.WithLabelValues("payment_completed")); got != 2 {
		t.Fatalf("expected 2 published, got %f", got)
	}
	if got := testutil.ToFloat64(m.failures.WithLabelValues("unknown", "max_attempts")); got != 1 {
		t.Fatalf("expected normalized failure label, got %f", got)
	}
	if n := testutil.CollectAndCount(m.lag); n != 1 {
		t.Fatalf("expected lag histogram, got %d series", n)
	}
}

func TestNilOutboxMetricsIsNoop(t *testing.T) {
	var m *OutboxMetrics
	m.Published("e", time.Now())
	m.Failed("e", OutboxReasonRetry)
	m.BatchClaimed(1)

	empty := NewOutboxMetrics(nil)
	empty.Published("e", time.Now())
}

func TestServeWithoutAddressWaitsForCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, "", nil, nil) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("serve did not return after cancel")
	}
}
