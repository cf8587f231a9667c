// Package provider defines the contract implemented by each payment gateway
// adapter and the immutable registry that dispatches on provider name.
// Adapters are pure translators: they turn a generic create request into the
// gateway's signed wire format and a raw callback back into a generic
// verification result. They never touch the transaction store, which keeps
// cryptographic correctness testable apart from persistence.
package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"

	"github.com/yourorg/booking-payments/internal/domain"
)

// CreateRequest carries everything an adapter needs to open a payment with
// its gateway. Amount is always in canonical minor units; adapters convert
// to the gateway's native unit themselves.
type CreateRequest struct {
	OrderID     string
	ProviderRef string
	Amount      int64
	Currency    string
	Description string
	ReturnURL   string
	CancelURL   string
	ClientIP    string
}

// CreateResult is the normalized outcome of a successful gateway create call.
type CreateResult struct {
	RedirectURL string
	RawResponse []byte
	LatencyMs   int64
}

// FailureClass distinguishes why a callback could not be trusted. All three
// are handled identically by the caller (no state change, positive ack) but
// logged distinctly for security monitoring.
type FailureClass string

const (
	FailureMalformed FailureClass = "MALFORMED"
	FailureUnsigned  FailureClass = "UNSIGNED"
	FailureForged    FailureClass = "FORGED"
)

// CallbackPayload is a raw inbound callback: a signed GET query for browser
// redirects, or a signed body for server-to-server webhooks.
type CallbackPayload struct {
	Query  url.Values
	Body   []byte
	Header http.Header
}

// VerifyResult is the normalized outcome of callback verification. Business
// fields (ProviderRef, Outcome, Amount) are meaningful only when Verified.
type VerifyResult struct {
	Verified    bool
	Failure     FailureClass
	ProviderRef string
	Outcome     domain.Outcome
	Amount      int64 // canonical minor units
	Raw         []byte
}

// Adapter is implemented by each payment gateway integration. Adding a
// provider means adding an implementation and registering it; the
// orchestration service never changes.
type Adapter interface {
	// Name returns the provider this adapter serves.
	Name() domain.Provider

	// CreatePayment opens a payment with the gateway and returns the URL the
	// payer is redirected to. Network problems and gateway timeouts wrap
	// domain.ErrProviderUnavailable; a gateway-level rejection returns a
	// plain error carrying the provider's reason.
	CreatePayment(ctx context.Context, req CreateRequest) (CreateResult, error)

	// VerifyCallback authenticates a raw callback before any business field
	// is trusted. An untrusted payload comes back with Verified=false and a
	// FailureClass; the error return is reserved for internal faults.
	VerifyCallback(payload CallbackPayload) (VerifyResult, error)
}

// Registry is the immutable set of adapters, constructed once at startup and
// handed to the orchestration service.
type Registry struct {
	adapters map[domain.Provider]Adapter
}

// NewRegistry builds a registry from the given adapters. Duplicate names are
// a wiring bug and fail construction.
func NewRegistry(adapters ...Adapter) (*Registry, error) {
	m := make(map[domain.Provider]Adapter, len(adapters))
	for _, a := range adapters {
		if a == nil {
			return nil, fmt.Errorf("provider: nil adapter")
		}
		name := a.Name()
		if _, dup := m[name]; dup {
			return nil, fmt.Errorf("provider: duplicate adapter for %s", name)
		}
		m[name] = a
	}
	return &Registry{adapters: m}, nil
}

// Get returns the adapter for name.
func (r *Registry) Get(name domain.Provider) (Adapter, bool) {
	a, ok := r.adapters[name]
	return a, ok
}

// Names lists registered providers in stable order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for n := range r.adapters {
		names = append(names, string(n))
	}
	sort.Strings(names)
	return names
}
