// Package store persists payment transactions. Implementations must make
// "check no PAID transaction exists, then create" and "read state, then
// transition" atomic against the order/transaction key; the orchestrator
// relies on that for the at-most-one-PAID-per-order invariant.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/yourorg/booking-payments/internal/domain"
)

// ErrRefTaken reports a providerRef collision on insert. The orchestrator
// retries once with a fresh reference.
var ErrRefTaken = errors.New("provider reference already taken")

// TransitionUpdate carries the fields written alongside a status change.
type TransitionUpdate struct {
	FailureReason string
	RawPayload    []byte
	ConfirmedAt   *time.Time
}

// Store is the durable record of payment attempts.
type Store interface {
	// CreateForOrder inserts tx after atomically checking that the order has
	// no PAID transaction. Returns domain.ErrDuplicatePayment when it does
	// and ErrRefTaken on a providerRef collision.
	CreateForOrder(ctx context.Context, tx *domain.Transaction) error

	// GetByID returns the transaction or domain.ErrTransactionNotFound.
	GetByID(ctx context.Context, id string) (*domain.Transaction, error)

	// GetByProviderRef returns the transaction or domain.ErrTransactionNotFound.
	GetByProviderRef(ctx context.Context, ref string) (*domain.Transaction, error)

	// ListByOrder returns all attempts for the order, oldest first.
	ListByOrder(ctx context.Context, orderID string) ([]*domain.Transaction, error)

	// ListCreatedBetween returns transactions created in [from, to), oldest
	// first; reporting input.
	ListCreatedBetween(ctx context.Context, from, to time.Time) ([]*domain.Transaction, error)

	// Transition compare-and-sets the status from "from" to "to", applying
	// upd in the same write. Returns domain.ErrConflict when the stored
	// status no longer equals "from" and domain.ErrTransactionNotFound when
	// the row is missing.
	Transition(ctx context.Context, id string, from, to domain.Status, upd TransitionUpdate) error

	// Delete removes a transaction; administrative override only.
	Delete(ctx context.Context, id string) error
}
