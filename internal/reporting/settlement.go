// Package reporting aggregates persisted transactions into the settlement
// report used to reconcile against provider statements.
package reporting

import (
	"time"

	"github.com/yourorg/booking-payments/internal/domain"
)

// Report summarizes payment activity for a settlement window.
type Report struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`

	TotalAttempts int `json:"totalAttempts"`
	Paid          int `json:"paid"`
	Failed        int `json:"failed"`
	Refunded      int `json:"refunded"`
	// Unsettled counts attempts still in CREATED or PENDING_CONFIRMATION;
	// anything old enough here is a reconciliation candidate.
	Unsettled int `json:"unsettled"`

	// PaidAmountByCurrency sums PAID amounts in minor units per currency.
	// REFUNDED transactions were paid once but are excluded: the report
	// answers "how much should the statements show as settled".
	PaidAmountByCurrency map[string]int64 `json:"paidAmountByCurrency"`

	// RefundedAmountByCurrency sums REFUNDED amounts in minor units.
	RefundedAmountByCurrency map[string]int64 `json:"refundedAmountByCurrency"`

	// ProviderUsage counts attempts per provider regardless of outcome.
	ProviderUsage map[string]int `json:"providerUsage"`

	// FailureBreakdown counts FAILED transactions per recorded reason.
	FailureBreakdown map[string]int `json:"failureBreakdown"`
}

// Build aggregates transactions created in [from, to). The caller supplies
// the window; rows outside it are counted anyway since the store already
// filtered.
func Build(txs []*domain.Transaction, from, to time.Time) Report {
	r := Report{
		From:                     from,
		To:                       to,
		PaidAmountByCurrency:     make(map[string]int64),
		RefundedAmountByCurrency: make(map[string]int64),
		ProviderUsage:            make(map[string]int),
		FailureBreakdown:         make(map[string]int),
	}
	for _, tx := range txs {
		r.TotalAttempts++
		r.ProviderUsage[string(tx.Provider)]++

		switch tx.Status {
		case domain.StatusPaid:
			r.Paid++
			r.PaidAmountByCurrency[tx.Currency] += tx.Amount
		case domain.StatusRefunded:
			r.Refunded++
			r.RefundedAmountByCurrency[tx.Currency] += tx.Amount
		case domain.StatusFailed:
			r.Failed++
			reason := tx.FailureReason
			if reason == "" {
				reason = "unspecified"
			}
			r.FailureBreakdown[reason]++
		default:
			r.Unsettled++
		}
	}
	return r
}
