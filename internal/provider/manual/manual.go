// Package manual implements the back-office provider used for bank transfers
// and counter payments. There is no external gateway: creation points the
// payer at an internal confirmation page, and an operator tool later posts a
// confirmation form signed with the internal secret (HMAC-SHA256 over the
// sorted parameter set).
package manual

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/yourorg/booking-payments/internal/domain"
	"github.com/yourorg/booking-payments/internal/provider"
	"github.com/yourorg/booking-payments/internal/sign"
)

const sigParam = "sig"

var hashOptions = sign.Options{OmitEmpty: true}

// Config carries the internal confirmation secret and page URL.
type Config struct {
	Secret         string
	ConfirmPageURL string
}

type Adapter struct {
	cfg Config
}

func New(cfg Config) *Adapter { return &Adapter{cfg: cfg} }

func (a *Adapter) Name() domain.Provider { return domain.ProviderManual }

// CreatePayment returns the internal confirmation page URL; nothing leaves
// the service.
func (a *Adapter) CreatePayment(_ context.Context, req provider.CreateRequest) (provider.CreateResult, error) {
	if req.Amount <= 0 {
		return provider.CreateResult{}, fmt.Errorf("manual: %w: amount must be positive", domain.ErrValidation)
	}
	q := url.Values{}
	q.Set("ref", req.ProviderRef)
	q.Set("amount", strconv.FormatInt(req.Amount, 10))
	q.Set("currency", req.Currency)
	return provider.CreateResult{RedirectURL: a.cfg.ConfirmPageURL + "?" + q.Encode()}, nil
}

// VerifyCallback authenticates an operator confirmation. The form carries
// ref, amount, result (approved|rejected) and sig.
func (a *Adapter) VerifyCallback(payload provider.CallbackPayload) (provider.VerifyResult, error) {
	values := payload.Query
	if len(values) == 0 {
		parsed, err := url.ParseQuery(string(payload.Body))
		if err != nil || len(parsed) == 0 {
			return provider.VerifyResult{Failure: provider.FailureMalformed, Raw: payload.Body}, nil
		}
		values = parsed
	}
	raw := []byte(values.Encode())

	provided := values.Get(sigParam)
	if provided == "" {
		return provider.VerifyResult{Failure: provider.FailureUnsigned, Raw: raw}, nil
	}
	params := map[string]string{}
	for k := range values {
		if k == sigParam {
			continue
		}
		params[k] = values.Get(k)
	}
	if !sign.Verify(params, provided, a.cfg.Secret, sign.HMACSHA256, hashOptions) {
		return provider.VerifyResult{Failure: provider.FailureForged, Raw: raw}, nil
	}

	ref := values.Get("ref")
	amount, err := strconv.ParseInt(values.Get("amount"), 10, 64)
	if ref == "" || err != nil {
		return provider.VerifyResult{Failure: provider.FailureMalformed, Raw: raw}, nil
	}

	var outcome domain.Outcome
	switch values.Get("result") {
	case "approved":
		outcome = domain.OutcomeSucceeded
	case "rejected":
		outcome = domain.OutcomeFailed
	default:
		outcome = domain.OutcomePending
	}
	return provider.VerifyResult{
		Verified:    true,
		ProviderRef: ref,
		Outcome:     outcome,
		Amount:      amount,
		Raw:         raw,
	}, nil
}
