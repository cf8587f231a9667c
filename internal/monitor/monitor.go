// Package monitor guards the caller-facing contract and counts
// security-relevant events. Incoming create-payment bodies are validated
// against an embedded JSON schema before any handler logic runs, and every
// rejected callback increments a per-provider, per-reason counter so
// verification failures are visible to alerting.
package monitor

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/xeipuuv/gojsonschema"
)

//go:embed schema/create_payment.json
var createPaymentSchema string

// ContractMonitor validates request bodies against the create-payment schema.
type ContractMonitor struct {
	schema *gojsonschema.Schema
}

// NewContractMonitor compiles the embedded schema; failure is a build defect
// and surfaces at startup.
func NewContractMonitor() (*ContractMonitor, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(createPaymentSchema))
	if err != nil {
		return nil, fmt.Errorf("monitor: compiling create-payment schema: %w", err)
	}
	return &ContractMonitor{schema: schema}, nil
}

// Validate checks body against the schema and returns the violation
// descriptions when invalid.
func (cm *ContractMonitor) Validate(body []byte) (bool, []string, error) {
	result, err := cm.schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return false, nil, fmt.Errorf("monitor: validating request: %w", err)
	}
	if result.Valid() {
		return true, nil, nil
	}
	var violations []string
	for _, desc := range result.Errors() {
		violations = append(violations, desc.String())
	}
	return false, violations, nil
}

// FormatViolations joins violation strings for a single error response.
func FormatViolations(violations []string) string {
	if len(violations) == 0 {
		return ""
	}
	return "contract violations: " + strings.Join(violations, "; ")
}

var (
	transactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_transactions_total",
			Help: "Payment transactions by provider and resulting status",
		},
		[]string{"provider", "status"},
	)

	verificationFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callback_verification_failures_total",
			Help: "Rejected provider callbacks by provider and failure class",
		},
		[]string{"provider", "reason"},
	)

	callbackAnomaliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callback_anomalies_total",
			Help: "Verified callbacks conflicting with a terminal transaction state",
		},
		[]string{"provider"},
	)
)

func init() {
	prometheus.MustRegister(transactionsTotal)
	prometheus.MustRegister(verificationFailuresTotal)
	prometheus.MustRegister(callbackAnomaliesTotal)
}

// RecordTransaction counts a transaction reaching the given status.
func RecordTransaction(provider, status string) {
	transactionsTotal.WithLabelValues(provider, status).Inc()
}

// RecordVerificationFailure counts a rejected callback.
func RecordVerificationFailure(provider, reason string) {
	verificationFailuresTotal.WithLabelValues(provider, reason).Inc()
}

// RecordAnomaly counts a conflicting callback against a terminal state.
func RecordAnomaly(provider string) {
	callbackAnomaliesTotal.WithLabelValues(provider).Inc()
}
