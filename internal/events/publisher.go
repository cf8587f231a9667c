// Package events publishes transaction state changes for downstream
// consumers (notifications, finance exports). Delivery is best effort: a
// publish failure is logged and never fails the payment operation that
// produced it.
package events

import (
	"context"
	"time"

	"github.com/yourorg/booking-payments/internal/domain"
)

// TransactionEvent describes one state change of a payment transaction.
type TransactionEvent struct {
	EventType     string          `json:"event_type"` // e.g. "payment.paid"
	TransactionID string          `json:"transaction_id"`
	OrderID       string          `json:"order_id"`
	Provider      domain.Provider `json:"provider"`
	ProviderRef   string          `json:"provider_ref"`
	Amount        int64           `json:"amount"`
	Currency      string          `json:"currency"`
	Status        domain.Status   `json:"status"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// EventTypeFor maps a resulting status to the published event type.
func EventTypeFor(status domain.Status) string {
	switch status {
	case domain.StatusPaid:
		return "payment.paid"
	case domain.StatusFailed:
		return "payment.failed"
	case domain.StatusRefunded:
		return "payment.refunded"
	case domain.StatusPendingConfirmation:
		return "payment.pending"
	}
	return "payment.created"
}

// FromTransaction builds the event for a transaction's current state.
func FromTransaction(tx *domain.Transaction) TransactionEvent {
	return TransactionEvent{
		EventType:     EventTypeFor(tx.Status),
		TransactionID: tx.ID,
		OrderID:       tx.OrderID,
		Provider:      tx.Provider,
		ProviderRef:   tx.ProviderRef,
		Amount:        tx.Amount,
		Currency:      tx.Currency,
		Status:        tx.Status,
		OccurredAt:    time.Now().UTC(),
	}
}

// Publisher delivers transaction events.
type Publisher interface {
	Publish(ctx context.Context, event TransactionEvent) error
}

// Nop discards events; used when no broker is configured and in tests.
type Nop struct{}

func (Nop) Publish(context.Context, TransactionEvent) error { return nil }
