package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestMetadataForKnownCodes(t *testing.T) {
	tests := []struct {
		code      Code
		status    int
		publicMsg string
		retryable bool
		detailsOK bool
	}{
		{code: CodeValidation, status: http.StatusBadRequest, publicMsg: "validation failed", detailsOK: true},
		{code: CodeNotFound, status: http.StatusNotFound, publicMsg: "resource not found"},
		{code: CodeConflict, status: http.StatusConflict, publicMsg: "conflict detected"},
		{code: CodeStateConflict, status: http.StatusUnprocessableEntity, publicMsg: "state transition disallowed", detailsOK: true},
		{code: CodeIdempotency, status: http.StatusConflict, publicMsg: "idempotency key reused", detailsOK: true},
		{code: CodeInternal, status: http.StatusInternalServerError, publicMsg: "internal server error", retryable: true},
		{code: CodeDependency, status: http.StatusServiceUnavailable, publicMsg: "dependency unavailable", retryable: true, detailsOK: true},
		{code: CodeProvider, status: http.StatusBadGateway, publicMsg: "payment provider rejected the request", detailsOK: true},
	}

	for _, tt := range tests {
		meta := MetadataFor(tt.code)
		if meta.HTTPStatus != tt.status {
			t.Fatalf("code %s expected status %d got %d", tt.code, tt.status, meta.HTTPStatus)
		}
		if meta.PublicMessage != tt.publicMsg {
			t.Fatalf("code %s expected public message %q got %q", tt.code, tt.publicMsg, meta.PublicMessage)
		}
		if meta.Retryable != tt.retryable {
			t.Fatalf("code %s expected retryable %v got %v", tt.code, tt.retryable, meta.Retryable)
		}
		if meta.DetailsAllowed != tt.detailsOK {
			t.Fatalf("code %s expected details allowed %v got %v", tt.code, tt.detailsOK, meta.DetailsAllowed)
		}
	}
}

func TestMetadataForUnknownCodeDefaultsToInternal(t *testing.T) {
	meta := MetadataFor("SOMETHING_UNKNOWN")
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected internal status, got %d", meta.HTTPStatus)
	}
}

func TestErrorConstructors(t *testing.T) {
	base := Newf(CodeValidation, "amount %s must be positive", "-1.00")
	if base.Code() != CodeValidation {
		t.Fatalf("expected validation code, got %s", base.Code())
	}
	if base.Message() != "amount -1.00 must be positive" {
		t.Fatalf("unexpected message %q", base.Message())
	}
	if base.Details() != nil {
		t.Fatalf("details should be nil by default")
	}

	base.WithDetails(map[string]any{"field": "amount"})
	if base.Details() == nil {
		t.Fatalf("details should be preserved")
	}

	cause := stdErrors.New("duplicate key")
	wrapped := Wrap(CodeConflict, cause, "insert transaction")
	if !stdErrors.Is(wrapped, cause) {
		t.Fatalf("Wrap did not preserve cause")
	}
	if wrapped.Code() != CodeConflict {
		t.Fatalf("unexpected code %s", wrapped.Code())
	}
}

func TestAsAndIsSeeThroughWrapping(t *testing.T) {
	typed := New(CodeNotFound, "transaction not found")
	err := fmt.Errorf("lookup: %w", typed)

	if got := As(err); got == nil || got.Code() != CodeNotFound {
		t.Fatalf("As failed to return typed error")
	}
	if !Is(err, CodeNotFound) {
		t.Fatalf("expected Is to match wrapped code")
	}
	if Is(err, CodeConflict) {
		t.Fatalf("Is matched the wrong code")
	}
	if As(nil) != nil || Is(nil, CodeNotFound) {
		t.Fatalf("nil error should not match")
	}
}

func TestWithDetailMergesIntoMap(t *testing.T) {
	err := New(CodeStateConflict, "payment already completed").
		WithDetail("status", "completed").
		WithDetail("correlation_id", "pix_1")
	details, ok := err.Details().(map[string]any)
	if !ok || details["status"] != "completed" || details["correlation_id"] != "pix_1" {
		t.Fatalf("unexpected details %#v", err.Details())
	}
}

func TestErrorStringIncludesCause(t *testing.T) {
	err := Wrap(CodeDependency, stdErrors.New("dial tcp: refused"), "load transaction")
	if err.Error() != "DEPENDENCY_ERROR: load transaction: dial tcp: refused" {
		t.Fatalf("unexpected error string %q", err.Error())
	}
}

func TestHTTPStatusAndRetryable(t *testing.T) {
	wrapped := fmt.Errorf("create charge: %w", New(CodeProvider, "charge rejected"))
	if HTTPStatus(wrapped) != http.StatusBadGateway || IsRetryable(wrapped) {
		t.Fatalf("provider errors map to 502 and are final")
	}
	plain := stdErrors.New("boom")
	if HTTPStatus(plain) != http.StatusInternalServerError || !IsRetryable(plain) {
		t.Fatalf("untyped errors are 500 and retryable")
	}
}

func TestDumpCollectsChain(t *testing.T) {
	err := Wrap(CodeDependency, stdErrors.New("connection refused"), "update transaction status")
	d := Dump(err)
	if d.Code != CodeDependency {
		t.Fatalf("expected dependency code, got %s", d.Code)
	}
	if len(d.Chain) != 2 {
		t.Fatalf("expected two chain entries, got %v", d.Chain)
	}
	if d.PGCode != "" {
		t.Fatalf("unexpected pg code %q", d.PGCode)
	}
}

type fakeProviderFailure struct{ body string }

func (f fakeProviderFailure) Error() string        { return "provider said no" }
func (f fakeProviderFailure) ProviderStatus() int  { return 400 }
func (f fakeProviderFailure) ProviderBody() string { return f.body }

func TestDumpCapturesPostgresAndProviderFields(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "uq_transactions_correlation_id", TableName: "transactions"}
	d := Dump(Wrap(CodeConflict, pgErr, "insert transaction"))
	if d.PGCode != "23505" || d.PGConstraint != "uq_transactions_correlation_id" || d.PGTable != "transactions" {
		t.Fatalf("unexpected pg fields %+v", d)
	}

	long := strings.Repeat("x", 2*maxProviderBody)
	d = Dump(Wrap(CodeProvider, fakeProviderFailure{body: long}, "create charge"))
	if d.ProviderStatus != 400 {
		t.Fatalf("expected provider status, got %d", d.ProviderStatus)
	}
	if len(d.ProviderBody) != maxProviderBody+3 {
		t.Fatalf("expected truncated body, got %d bytes", len(d.ProviderBody))
	}
}
