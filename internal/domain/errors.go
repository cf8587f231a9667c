package domain

import "errors"

// Sentinel errors forming the service's error taxonomy. Call sites wrap them
// with fmt.Errorf("...: %w", err) and the HTTP layer maps them with errors.Is.
var (
	// ErrValidation marks bad input; never retried.
	ErrValidation = errors.New("validation failed")
	// ErrForbidden marks an authorization failure.
	ErrForbidden = errors.New("forbidden")
	// ErrDuplicatePayment marks an attempt to create a second payment for an
	// order that already has a PAID transaction.
	ErrDuplicatePayment = errors.New("duplicate payment for order")
	// ErrProviderUnavailable marks a network failure or timeout talking to a
	// gateway. Retryable by the caller, never retried automatically.
	ErrProviderUnavailable = errors.New("payment provider unavailable")
	// ErrVerificationFailed marks a callback that could not be authenticated.
	// Never surfaced to the provider as an error.
	ErrVerificationFailed = errors.New("callback verification failed")
	// ErrTransactionNotFound marks a lookup miss, including verified
	// callbacks referencing an unknown providerRef.
	ErrTransactionNotFound = errors.New("transaction not found")
	// ErrConflict marks a lost race or an invalid state transition request.
	ErrConflict = errors.New("conflicting transaction state")
	// ErrOrderNotFound marks a create request against an unknown order.
	ErrOrderNotFound = errors.New("order not found")
)
