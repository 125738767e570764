package transactions

import (
	"errors"
	"fmt"

	pkgerrors "github.com/angelmondragon/pixpay-backend/pkg/errors"
)

// StoreError reports that the durable store rejected a read or write. A
// failed Create means the local record was not persisted.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("transaction store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// AsStoreError extracts a StoreError from err's chain.
func AsStoreError(err error) (*StoreError, bool) {
	var se *StoreError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

var errNoRows = errors.New("no matching transaction")

func storeError(code pkgerrors.Code, op string, err error) *pkgerrors.Error {
	return pkgerrors.Wrap(code, &StoreError{Op: op, Err: err}, fmt.Sprintf("%s transaction failed", op))
}
