package openpix

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestToCentsRoundsHalfAwayFromZero(t *testing.T) {
	cases := map[string]int64{
		"100.00":  10000,
		"0.005":   1,
		"0.004":   0,
		"19.999":  2000,
		"10.125":  1013,
		"-0.005":  -1,
		"-10.124": -1012,
		"0":       0,
	}
	for raw, want := range cases {
		if got := ToCents(decimal.RequireFromString(raw)); got != want {
			t.Fatalf("ToCents(%s) = %d, want %d", raw, got, want)
		}
	}
}

func TestFromCents(t *testing.T) {
	if got := FromCents(9905); !got.Equal(decimal.RequireFromString("99.05")) {
		t.Fatalf("unexpected %s", got)
	}
}

func TestNewCorrelationIDFormat(t *testing.T) {
	now := time.UnixMilli(1760000000123)
	id := NewCorrelationID("", now)
	parts := strings.Split(id, "_")
	if len(parts) != 3 || parts[0] != "pix" || parts[1] != "1760000000123" || len(parts[2]) != 12 {
		t.Fatalf("unexpected correlation id %q", id)
	}
	if custom := NewCorrelationID("woovi", now); !strings.HasPrefix(custom, "woovi_") {
		t.Fatalf("prefix not applied: %q", custom)
	}
}

func TestNewCorrelationIDUniqueUnderConcurrency(t *testing.T) {
	const n = 2000
	now := time.Now()
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i] = NewCorrelationID("pix", now)
		}(i)
	}
	wg.Wait()

	seen := make(map[string]struct{}, n)
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate correlation id %q", id)
		}
		seen[id] = struct{}{}
	}
}

func TestRedact(t *testing.T) {
	if got := redact("customer_email", "a@b.c"); got != "[REDACTED]" {
		t.Fatalf("expected redaction, got %v", got)
	}
	if got := redact("customer_tax", ""); got != "" {
		t.Fatalf("empty values stay empty, got %v", got)
	}
	if got := redact("status", "ACTIVE"); got != "ACTIVE" {
		t.Fatalf("unexpected redaction %v", got)
	}
}
