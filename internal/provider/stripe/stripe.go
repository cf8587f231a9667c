// Package stripe implements the Stripe gateway adapter. Creation opens a
// Checkout Session through Stripe's form-encoded API; confirmation arrives as
// a webhook whose Stripe-Signature header carries a timestamp and an
// HMAC-SHA256 of "<timestamp>.<body>" under the endpoint secret.
package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yourorg/booking-payments/internal/domain"
	"github.com/yourorg/booking-payments/internal/provider"
	"github.com/yourorg/booking-payments/internal/sign"
)

const (
	defaultAPIBaseURL = "https://api.stripe.com/v1"
	signatureHeader   = "Stripe-Signature"

	eventCompleted = "checkout.session.completed"
	eventExpired   = "checkout.session.expired"
)

// Config carries the account credentials issued by Stripe.
type Config struct {
	APIKey        string
	WebhookSecret string
	APIBaseURL    string // overridable for tests
	// Tolerance bounds the age of a webhook timestamp; zero disables the
	// check.
	Tolerance time.Duration
}

type Adapter struct {
	cfg        Config
	httpClient *http.Client
	now        func() time.Time
}

func New(cfg Config, client *http.Client) *Adapter {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultAPIBaseURL
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Adapter{cfg: cfg, httpClient: client, now: time.Now}
}

func (a *Adapter) Name() domain.Provider { return domain.ProviderStripe }

// generateIdempotencyKey builds a unique key per create attempt. Stripe caps
// the header at 255 characters.
func generateIdempotencyKey(providerRef string) string {
	key := providerRef + "-" + uuid.NewString()
	if len(key) > 255 {
		return key[:255]
	}
	return key
}

type sessionResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type errorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// CreatePayment opens a Checkout Session. Stripe takes minor units natively,
// so the canonical amount passes through unchanged.
func (a *Adapter) CreatePayment(ctx context.Context, req provider.CreateRequest) (provider.CreateResult, error) {
	start := time.Now()
	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("client_reference_id", req.ProviderRef)
	form.Set("success_url", req.ReturnURL)
	form.Set("cancel_url", req.CancelURL)
	form.Set("line_items[0][quantity]", "1")
	form.Set("line_items[0][price_data][currency]", strings.ToLower(req.Currency))
	form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(req.Amount, 10))
	form.Set("line_items[0][price_data][product_data][name]", req.Description)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.cfg.APIBaseURL+"/checkout/sessions", strings.NewReader(form.Encode()))
	if err != nil {
		return provider.CreateResult{}, fmt.Errorf("stripe: building create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	httpReq.Header.Set("Idempotency-Key", generateIdempotencyKey(req.ProviderRef))
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return provider.CreateResult{}, fmt.Errorf("stripe: %w: %v", domain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return provider.CreateResult{}, fmt.Errorf("stripe: %w: reading response: %v", domain.ErrProviderUnavailable, err)
	}
	latency := time.Since(start).Milliseconds()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
		return provider.CreateResult{}, fmt.Errorf("stripe: %w: gateway returned HTTP %d", domain.ErrProviderUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var decoded errorResponse
		if err := json.Unmarshal(raw, &decoded); err == nil && decoded.Error.Message != "" {
			return provider.CreateResult{}, fmt.Errorf("stripe: create rejected (%s): %s", decoded.Error.Code, decoded.Error.Message)
		}
		return provider.CreateResult{}, fmt.Errorf("stripe: create rejected with HTTP %d", resp.StatusCode)
	}

	var session sessionResponse
	if err := json.Unmarshal(raw, &session); err != nil || session.URL == "" {
		return provider.CreateResult{}, fmt.Errorf("stripe: undecodable session response")
	}
	return provider.CreateResult{RedirectURL: session.URL, RawResponse: raw, LatencyMs: latency}, nil
}

type webhookEvent struct {
	Type string `json:"type"`
	Data struct {
		Object struct {
			ClientReferenceID string `json:"client_reference_id"`
			AmountTotal       int64  `json:"amount_total"`
			Currency          string `json:"currency"`
		} `json:"object"`
	} `json:"data"`
}

// VerifyCallback authenticates a webhook delivery. The header is rejected
// before the body is even parsed: an unverifiable payload must not influence
// anything, including error detail.
func (a *Adapter) VerifyCallback(payload provider.CallbackPayload) (provider.VerifyResult, error) {
	header := ""
	if payload.Header != nil {
		header = payload.Header.Get(signatureHeader)
	}
	if header == "" {
		return provider.VerifyResult{Failure: provider.FailureUnsigned, Raw: payload.Body}, nil
	}
	ts, provided, ok := parseSignatureHeader(header)
	if !ok {
		return provider.VerifyResult{Failure: provider.FailureUnsigned, Raw: payload.Body}, nil
	}

	expected, err := sign.Digest(sign.HMACSHA256, a.cfg.WebhookSecret, ts+"."+string(payload.Body))
	if err != nil {
		return provider.VerifyResult{}, fmt.Errorf("stripe: recomputing webhook signature: %w", err)
	}
	if !sign.Equal(expected, provided) {
		return provider.VerifyResult{Failure: provider.FailureForged, Raw: payload.Body}, nil
	}

	if a.cfg.Tolerance > 0 {
		sent, err := strconv.ParseInt(ts, 10, 64)
		if err != nil || a.now().Sub(time.Unix(sent, 0)) > a.cfg.Tolerance {
			return provider.VerifyResult{Failure: provider.FailureForged, Raw: payload.Body}, nil
		}
	}

	var event webhookEvent
	if err := json.Unmarshal(payload.Body, &event); err != nil {
		return provider.VerifyResult{Failure: provider.FailureMalformed, Raw: payload.Body}, nil
	}
	ref := event.Data.Object.ClientReferenceID
	if ref == "" {
		return provider.VerifyResult{Failure: provider.FailureMalformed, Raw: payload.Body}, nil
	}

	return provider.VerifyResult{
		Verified:    true,
		ProviderRef: ref,
		Outcome:     outcomeOf(event.Type),
		Amount:      event.Data.Object.AmountTotal,
		Raw:         payload.Body,
	}, nil
}

// parseSignatureHeader extracts t and v1 from "t=<ts>,v1=<sig>[,v0=...]".
func parseSignatureHeader(header string) (ts, v1 string, ok bool) {
	for _, part := range strings.Split(header, ",") {
		k, v, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch k {
		case "t":
			ts = v
		case "v1":
			v1 = v
		}
	}
	return ts, v1, ts != "" && v1 != ""
}

func outcomeOf(eventType string) domain.Outcome {
	switch eventType {
	case eventCompleted:
		return domain.OutcomeSucceeded
	case eventExpired:
		return domain.OutcomeFailed
	default:
		return domain.OutcomePending
	}
}
