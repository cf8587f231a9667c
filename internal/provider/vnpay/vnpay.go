// Package vnpay implements the VNPay gateway adapter. VNPay is redirect
// based: creation builds a signed checkout URL (no API call) and the outcome
// arrives as a signed browser return or IPN with the same query format.
// The secure hash is HMAC-SHA512 over the lexicographically sorted,
// query-escaped vnp_* parameters, empty values omitted.
package vnpay

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/yourorg/booking-payments/internal/domain"
	"github.com/yourorg/booking-payments/internal/provider"
	"github.com/yourorg/booking-payments/internal/sign"
)

const (
	version = "2.1.0"
	command = "pay"

	hashParam     = "vnp_SecureHash"
	hashTypeParam = "vnp_SecureHashType"
)

var hashOptions = sign.Options{OmitEmpty: true, Escape: true}

// Response codes documented as definitive failures. "00" is success;
// anything else unlisted is ambiguous and keeps the transaction pending.
var failureCodes = map[string]bool{
	"02": true, "04": true, "09": true, "10": true, "11": true,
	"12": true, "13": true, "24": true, "51": true, "65": true,
	"75": true, "79": true, "99": true,
}

// Config carries the merchant credentials issued by VNPay.
type Config struct {
	TmnCode    string
	HashSecret string
	PayURL     string // checkout endpoint, e.g. the sandbox paymentv2 URL
	Locale     string
}

type Adapter struct {
	cfg Config
	now func() time.Time
}

func New(cfg Config) *Adapter {
	if cfg.Locale == "" {
		cfg.Locale = "vn"
	}
	return &Adapter{cfg: cfg, now: time.Now}
}

func (a *Adapter) Name() domain.Provider { return domain.ProviderVNPay }

// CreatePayment builds the signed redirect URL. VNPay expects the amount
// multiplied by 100 and a yyyyMMddHHmmss create date.
func (a *Adapter) CreatePayment(_ context.Context, req provider.CreateRequest) (provider.CreateResult, error) {
	if req.Amount <= 0 {
		return provider.CreateResult{}, fmt.Errorf("vnpay: %w: amount must be positive", domain.ErrValidation)
	}
	params := map[string]string{
		"vnp_Version":    version,
		"vnp_Command":    command,
		"vnp_TmnCode":    a.cfg.TmnCode,
		"vnp_Amount":     strconv.FormatInt(req.Amount*100, 10),
		"vnp_CurrCode":   req.Currency,
		"vnp_TxnRef":     req.ProviderRef,
		"vnp_OrderInfo":  req.Description,
		"vnp_Locale":     a.cfg.Locale,
		"vnp_ReturnUrl":  req.ReturnURL,
		"vnp_IpAddr":     req.ClientIP,
		"vnp_CreateDate": a.now().Format("20060102150405"),
	}
	digest, err := sign.Sign(params, a.cfg.HashSecret, sign.HMACSHA512, hashOptions)
	if err != nil {
		return provider.CreateResult{}, fmt.Errorf("vnpay: signing checkout url: %w", err)
	}

	q := url.Values{}
	for k, v := range params {
		if v == "" {
			continue
		}
		q.Set(k, v)
	}
	q.Set(hashParam, digest)

	return provider.CreateResult{
		RedirectURL: a.cfg.PayURL + "?" + q.Encode(),
		RawResponse: []byte(q.Encode()),
	}, nil
}

// VerifyCallback authenticates a return/IPN query. The secure hash covers
// every vnp_ parameter except the hash fields themselves.
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

	provided := values.Get(hashParam)
	if provided == "" {
		return provider.VerifyResult{Failure: provider.FailureUnsigned, Raw: raw}, nil
	}

	params := make(map[string]string, len(values))
	for k := range values {
		if k == hashParam || k == hashTypeParam {
			continue
		}
		if !strings.HasPrefix(k, "vnp_") {
			continue
		}
		params[k] = values.Get(k)
	}
	if !sign.Verify(params, provided, a.cfg.HashSecret, sign.HMACSHA512, hashOptions) {
		return provider.VerifyResult{Failure: provider.FailureForged, Raw: raw}, nil
	}

	ref := values.Get("vnp_TxnRef")
	if ref == "" {
		return provider.VerifyResult{Failure: provider.FailureMalformed, Raw: raw}, nil
	}
	gatewayAmount, err := strconv.ParseInt(values.Get("vnp_Amount"), 10, 64)
	if err != nil || gatewayAmount%100 != 0 {
		return provider.VerifyResult{Failure: provider.FailureMalformed, Raw: raw}, nil
	}

	return provider.VerifyResult{
		Verified:    true,
		ProviderRef: ref,
		Outcome:     outcomeOf(values.Get("vnp_ResponseCode")),
		Amount:      gatewayAmount / 100,
		Raw:         raw,
	}, nil
}

func outcomeOf(code string) domain.Outcome {
	switch {
	case code == "00":
		return domain.OutcomeSucceeded
	case failureCodes[code]:
		return domain.OutcomeFailed
	default:
		return domain.OutcomePending
	}
}
