// Package orders is the narrow interface to the booking service that owns
// orders. The payment subsystem reads an order to authorize and price-check
// a payment attempt and writes exactly one thing: the paid confirmation.
package orders

import (
	"context"
)

// PaymentStatus of an order as the booking service tracks it.
type PaymentStatus string

const (
	PaymentStatusUnpaid PaymentStatus = "UNPAID"
	PaymentStatusPaid   PaymentStatus = "PAID"
)

// Order is the projection of a booking order the payment subsystem needs.
type Order struct {
	ID            string        `json:"id"`
	OwnerID       string        `json:"ownerId"`
	Amount        int64         `json:"amount"`
	Currency      string        `json:"currency"`
	PaymentStatus PaymentStatus `json:"paymentStatus"`
}

// Service is implemented by the booking collaborator.
type Service interface {
	// Get returns the order or domain.ErrOrderNotFound.
	Get(ctx context.Context, orderID string) (Order, error)

	// MarkPaid records the confirmed payment on the order. Called at most
	// once per order, on the first transition into PAID.
	MarkPaid(ctx context.Context, orderID, providerRef string) error
}
