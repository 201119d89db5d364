package utils

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrorRecordNotFound = errors.New("record not found")

	// ErrStoreUnavailable means the ledger store is not connected yet or went away.
	// Transient: callers may retry the whole request.
	ErrStoreUnavailable = errors.New("ledger store unavailable")
)

// ValidationError is a caller error: bad period format, unknown family,
// a line outside the family's fixed schema, a missing field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func NewValidationError(field string, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError reports that no facts exist for the requested key.
// PreviousPeriod is set when a carry-forward lookup missed.
type NotFoundError struct {
	Resource       string
	Period         string
	PreviousPeriod string
}

func (e *NotFoundError) Error() string {
	if e.PreviousPeriod != "" {
		return fmt.Sprintf("%s: no closing balances for previous period %s", e.Resource, e.PreviousPeriod)
	}
	if e.Period != "" {
		return fmt.Sprintf("%s: no data for period %s", e.Resource, e.Period)
	}
	return e.Resource + ": not found"
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrorRecordNotFound
}

// StoreTransactionError wraps a write that failed mid-transaction.
// The transaction has been rolled back; retrying the whole upsert is safe.
type StoreTransactionError struct {
	Op        string
	Retryable bool
	Err       error
}

func (e *StoreTransactionError) Error() string {
	return fmt.Sprintf("%s failed and was rolled back: %v", e.Op, e.Err)
}

func (e *StoreTransactionError) Unwrap() error { return e.Err }

// AmbiguousAggregationError reports a month lookup that failed without a clean
// not-found (timeout, dropped connection). Never treated as a zero contribution.
type AmbiguousAggregationError struct {
	Key    string
	Period string
	Err    error
}

func (e *AmbiguousAggregationError) Error() string {
	return fmt.Sprintf("aggregation of %s at %s is ambiguous: %v", e.Key, e.Period, e.Err)
}

func (e *AmbiguousAggregationError) Unwrap() error { return e.Err }

// HTTPStatus maps the error taxonomy onto response codes. Store failures,
// an unreachable store included, are 500.
func HTTPStatus(err error) int {
	var ve *ValidationError
	var nf *NotFoundError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.As(err, &nf), errors.Is(err, ErrorRecordNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
