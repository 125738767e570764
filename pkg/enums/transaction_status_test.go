package enums

import "testing"

func TestTransactionStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to TransactionStatus
		allowed  bool
	}{
		{TransactionStatusPending, TransactionStatusCompleted, true},
		{TransactionStatusPending, TransactionStatusExpired, true},
		{TransactionStatusPending, TransactionStatusFailed, true},
		{TransactionStatusPending, TransactionStatusPending, false},
		{TransactionStatusCompleted, TransactionStatusExpired, false},
		{TransactionStatusCompleted, TransactionStatusPending, false},
		{TransactionStatusExpired, TransactionStatusCompleted, false},
		{TransactionStatusFailed, TransactionStatusCompleted, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransitionTo(tc.to); got != tc.allowed {
			t.Fatalf("%s -> %s: expected %v got %v", tc.from, tc.to, tc.allowed, got)
		}
	}
}

func TestTransactionStatusTerminal(t *testing.T) {
	if TransactionStatusPending.IsTerminal() {
		t.Fatal("pending must not be terminal")
	}
	for _, s := range []TransactionStatus{TransactionStatusCompleted, TransactionStatusExpired, TransactionStatusFailed} {
		if !s.IsTerminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
}

func TestParseTransactionStatus(t *testing.T) {
	got, err := ParseTransactionStatus(" Completed ")
	if err != nil || got != TransactionStatusCompleted {
		t.Fatalf("unexpected parse result %q err=%v", got, err)
	}
	if _, err := ParseTransactionStatus("refunded"); err == nil {
		t.Fatal("expected error for unknown status")
	}
}

func TestOutboxEventForStatus(t *testing.T) {
	if ev, ok := OutboxEventForStatus(TransactionStatusCompleted); !ok || ev != EventPaymentCompleted {
		t.Fatalf("unexpected event %q ok=%v", ev, ok)
	}
	if _, ok := OutboxEventForStatus(TransactionStatusPending); ok {
		t.Fatal("pending has no outbox event")
	}
}
