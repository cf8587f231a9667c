// Package domain holds the payment transaction model, its status state
// machine, and the error taxonomy shared across the service. The transition
// rules are pure functions so the state machine can be tested without a
// store or a live gateway.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Provider identifies an external payment gateway.
type Provider string

const (
	ProviderVNPay  Provider = "VNPAY"
	ProviderMoMo   Provider = "MOMO"
	ProviderStripe Provider = "STRIPE"
	ProviderManual Provider = "MANUAL"
)

// KnownProvider reports whether name is one of the supported gateways.
func KnownProvider(name string) bool {
	switch Provider(name) {
	case ProviderVNPay, ProviderMoMo, ProviderStripe, ProviderManual:
		return true
	}
	return false
}

// Status is the lifecycle state of a payment attempt.
type Status string

const (
	StatusCreated             Status = "CREATED"
	StatusPendingConfirmation Status = "PENDING_CONFIRMATION"
	StatusPaid                Status = "PAID"
	StatusFailed              Status = "FAILED"
	StatusRefunded            Status = "REFUNDED"
)

// Terminal reports whether no further automatic transition leaves s.
func (s Status) Terminal() bool {
	switch s {
	case StatusPaid, StatusFailed, StatusRefunded:
		return true
	}
	return false
}

// ValidStatus reports whether s is a member of the status enumeration.
func ValidStatus(s string) bool {
	switch Status(s) {
	case StatusCreated, StatusPendingConfirmation, StatusPaid, StatusFailed, StatusRefunded:
		return true
	}
	return false
}

// Transaction is the unit of truth for one payment attempt. The internal ID
// never leaves the service; ProviderRef is the identifier embedded in every
// signed exchange with the gateway.
type Transaction struct {
	ID            string
	OrderID       string
	Provider      Provider
	ProviderRef   string
	Amount        int64 // canonical unit: minor units of Currency
	Currency      string
	Status        Status
	FailureReason string
	RawPayload    []byte // verification evidence retained for disputes
	CreatedAt     time.Time
	ConfirmedAt   *time.Time
}

// NewTransaction builds a CREATED transaction with a fresh internal ID.
func NewTransaction(orderID string, provider Provider, ref string, amount int64, currency string) *Transaction {
	return &Transaction{
		ID:          uuid.NewString(),
		OrderID:     orderID,
		Provider:    provider,
		ProviderRef: ref,
		Amount:      amount,
		Currency:    currency,
		Status:      StatusCreated,
		CreatedAt:   time.Now().UTC(),
	}
}

// Outcome is a verified callback's declared result.
type Outcome string

const (
	OutcomeSucceeded Outcome = "SUCCEEDED"
	OutcomeFailed    Outcome = "FAILED"
	// OutcomePending covers verified callbacks whose response code is neither
	// the provider's success code nor a known failure code. The transaction
	// stays in PENDING_CONFIRMATION rather than guessing.
	OutcomePending Outcome = "PENDING"
)

// TransitionDecision is the pure outcome of applying a verified callback to
// the current status. Exactly one of Apply, NoOp, Anomaly is set.
type TransitionDecision struct {
	Apply   bool   // move to Next
	Next    Status // valid only when Apply
	NoOp    bool   // duplicate delivery of an already-applied outcome
	Anomaly bool   // conflicting outcome against a terminal state
	// ConfirmOrder is set when this decision moves the transaction into PAID
	// for the first time; the order side effect fires exactly once.
	ConfirmOrder bool
}

// DecideCallback maps (current status, verified outcome) to a transition per
// the state machine. Callbacks for terminal states are no-ops when they agree
// with the recorded outcome and anomalies when they conflict.
func DecideCallback(current Status, outcome Outcome) TransitionDecision {
	switch current {
	case StatusPendingConfirmation, StatusCreated:
		// CREATED is reachable here only if the process died between persist
		// and the adapter ack; the verified callback proves the gateway saw
		// the request, so the transition is honored.
		switch outcome {
		case OutcomeSucceeded:
			return TransitionDecision{Apply: true, Next: StatusPaid, ConfirmOrder: true}
		case OutcomeFailed:
			return TransitionDecision{Apply: true, Next: StatusFailed}
		default:
			return TransitionDecision{NoOp: true}
		}
	case StatusPaid:
		if outcome == OutcomeSucceeded || outcome == OutcomePending {
			return TransitionDecision{NoOp: true}
		}
		return TransitionDecision{Anomaly: true}
	case StatusFailed:
		if outcome == OutcomeFailed || outcome == OutcomePending {
			return TransitionDecision{NoOp: true}
		}
		return TransitionDecision{Anomaly: true}
	case StatusRefunded:
		// Nothing the gateway reports changes a refunded transaction.
		if outcome == OutcomePending {
			return TransitionDecision{NoOp: true}
		}
		return TransitionDecision{Anomaly: true}
	}
	return TransitionDecision{Anomaly: true}
}

// Caller is the authenticated identity attached to a request by the external
// auth service.
type Caller struct {
	ID   string
	Role string
}

const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
)

// Elevated reports whether the caller may perform administrative transitions.
func (c Caller) Elevated() bool { return c.Role == RoleAdmin }
