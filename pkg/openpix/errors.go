package openpix

import (
	"errors"
	"fmt"

	pkgerrors "github.com/angelmondragon/pixpay-backend/pkg/errors"
)

// ProviderError is a non-2xx answer from OpenPix; Body is the raw response.
type ProviderError struct {
	Operation  string
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("openpix %s: status %d: %s", e.Operation, e.StatusCode, e.Body)
}

func (e *ProviderError) ProviderStatus() int { return e.StatusCode }

func (e *ProviderError) ProviderBody() string { return e.Body }

// AsProviderError extracts a ProviderError from err's chain.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// UnconfirmedChargeError is a 2xx create answer whose body could not be read.
// The charge most likely exists at the provider under CorrelationID.
type UnconfirmedChargeError struct {
	CorrelationID string
	StatusCode    int
	Err           error
}

func (e *UnconfirmedChargeError) Error() string {
	return fmt.Sprintf("openpix charge %s unconfirmed: status %d: %v", e.CorrelationID, e.StatusCode, e.Err)
}

func (e *UnconfirmedChargeError) Unwrap() error { return e.Err }

// AsUnconfirmedCharge extracts an UnconfirmedChargeError from err's chain.
func AsUnconfirmedCharge(err error) (*UnconfirmedChargeError, bool) {
	var uc *UnconfirmedChargeError
	if errors.As(err, &uc) {
		return uc, true
	}
	return nil, false
}

// Any answer from the provider maps to PROVIDER (502), 5xx included. Only a
// provider we could not reach maps to DEPENDENCY (503).
func mapProviderError(pe *ProviderError) error {
	return pkgerrors.Wrap(pkgerrors.CodeProvider, pe, fmt.Sprintf("openpix %s failed", pe.Operation)).
		WithDetails(map[string]any{"provider_status": pe.StatusCode})
}

func mapUnconfirmedCharge(uc *UnconfirmedChargeError) error {
	return pkgerrors.Wrap(pkgerrors.CodeProvider, uc, "openpix create charge unconfirmed").
		WithDetails(map[string]any{"provider_status": uc.StatusCode, "correlation_id": uc.CorrelationID})
}

func mapTransportError(op string, err error) error {
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("openpix %s failed", op))
}
