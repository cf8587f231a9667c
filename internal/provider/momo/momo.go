// Package momo implements the MoMo e-wallet adapter. Creation is a JSON API
// call returning a payUrl; confirmation arrives as a JSON IPN POST. Both
// directions sign an access-key-qualified parameter set with HMAC-SHA256:
// the accessKey participates in the canonical string but is never sent in
// the payload, and the key order is fixed by MoMo's integration guide.
package momo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/yourorg/booking-payments/internal/domain"
	"github.com/yourorg/booking-payments/internal/provider"
	"github.com/yourorg/booking-payments/internal/sign"
)

const requestType = "captureWallet"

// Canonical key order for the create request signature.
var createSignKeys = []string{
	"accessKey", "amount", "extraData", "ipnUrl", "orderId",
	"orderInfo", "partnerCode", "redirectUrl", "requestId", "requestType",
}

// Canonical key order for the IPN signature.
var ipnSignKeys = []string{
	"accessKey", "amount", "extraData", "message", "orderId", "orderInfo",
	"orderType", "partnerCode", "payType", "requestId", "responseTime",
	"resultCode", "transId",
}

// Result codes documented as definitive failures; 0 is success, 9000 means
// authorized-not-captured. Everything else is treated as ambiguous.
var failureCodes = map[int]bool{
	1001: true, 1002: true, 1003: true, 1004: true, 1005: true,
	1006: true, 1017: true, 2019: true, 4001: true, 4100: true,
}

// Config carries the partner credentials issued by MoMo.
type Config struct {
	PartnerCode string
	AccessKey   string
	SecretKey   string
	Endpoint    string // create endpoint, e.g. .../v2/gateway/api/create
	IPNURL      string
}

type Adapter struct {
	cfg        Config
	httpClient *http.Client
}

func New(cfg Config, client *http.Client) *Adapter {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Adapter{cfg: cfg, httpClient: client}
}

func (a *Adapter) Name() domain.Provider { return domain.ProviderMoMo }

type createResponse struct {
	ResultCode int    `json:"resultCode"`
	Message    string `json:"message"`
	PayURL     string `json:"payUrl"`
}

// CreatePayment opens a captureWallet payment and returns the payUrl. MoMo
// takes VND directly, which matches the canonical unit, so no conversion.
func (a *Adapter) CreatePayment(ctx context.Context, req provider.CreateRequest) (provider.CreateResult, error) {
	start := time.Now()
	fields := map[string]string{
		"accessKey":   a.cfg.AccessKey,
		"amount":      strconv.FormatInt(req.Amount, 10),
		"extraData":   "",
		"ipnUrl":      a.cfg.IPNURL,
		"orderId":     req.ProviderRef,
		"orderInfo":   req.Description,
		"partnerCode": a.cfg.PartnerCode,
		"redirectUrl": req.ReturnURL,
		"requestId":   req.ProviderRef,
		"requestType": requestType,
	}
	signature, err := sign.Digest(sign.HMACSHA256, a.cfg.SecretKey,
		sign.CanonicalOrdered(createSignKeys, fields, sign.Options{}))
	if err != nil {
		return provider.CreateResult{}, fmt.Errorf("momo: signing create request: %w", err)
	}

	body := map[string]any{
		"partnerCode": a.cfg.PartnerCode,
		"requestId":   req.ProviderRef,
		"amount":      req.Amount,
		"orderId":     req.ProviderRef,
		"orderInfo":   req.Description,
		"redirectUrl": req.ReturnURL,
		"ipnUrl":      a.cfg.IPNURL,
		"requestType": requestType,
		"extraData":   "",
		"lang":        "vi",
		"signature":   signature,
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return provider.CreateResult{}, fmt.Errorf("momo: encoding create request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.Endpoint, bytes.NewReader(encoded))
	if err != nil {
		return provider.CreateResult{}, fmt.Errorf("momo: building create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return provider.CreateResult{}, fmt.Errorf("momo: %w: %v", domain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return provider.CreateResult{}, fmt.Errorf("momo: %w: reading response: %v", domain.ErrProviderUnavailable, err)
	}
	latency := time.Since(start).Milliseconds()

	if resp.StatusCode >= http.StatusInternalServerError {
		return provider.CreateResult{}, fmt.Errorf("momo: %w: gateway returned HTTP %d", domain.ErrProviderUnavailable, resp.StatusCode)
	}

	var decoded createResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return provider.CreateResult{}, fmt.Errorf("momo: undecodable create response: %w", err)
	}
	if decoded.ResultCode != 0 || decoded.PayURL == "" {
		return provider.CreateResult{}, fmt.Errorf("momo: create rejected (code %d): %s", decoded.ResultCode, decoded.Message)
	}
	return provider.CreateResult{RedirectURL: decoded.PayURL, RawResponse: raw, LatencyMs: latency}, nil
}

type ipnPayload struct {
	PartnerCode  string `json:"partnerCode"`
	OrderID      string `json:"orderId"`
	RequestID    string `json:"requestId"`
	Amount       int64  `json:"amount"`
	OrderInfo    string `json:"orderInfo"`
	OrderType    string `json:"orderType"`
	TransID      int64  `json:"transId"`
	ResultCode   int    `json:"resultCode"`
	Message      string `json:"message"`
	PayType      string `json:"payType"`
	ResponseTime int64  `json:"responseTime"`
	ExtraData    string `json:"extraData"`
	Signature    string `json:"signature"`
}

// VerifyCallback authenticates an IPN body before any field is trusted.
func (a *Adapter) VerifyCallback(payload provider.CallbackPayload) (provider.VerifyResult, error) {
	var ipn ipnPayload
	if err := json.Unmarshal(payload.Body, &ipn); err != nil {
		return provider.VerifyResult{Failure: provider.FailureMalformed, Raw: payload.Body}, nil
	}
	if ipn.Signature == "" {
		return provider.VerifyResult{Failure: provider.FailureUnsigned, Raw: payload.Body}, nil
	}

	fields := map[string]string{
		"accessKey":    a.cfg.AccessKey,
		"amount":       strconv.FormatInt(ipn.Amount, 10),
		"extraData":    ipn.ExtraData,
		"message":      ipn.Message,
		"orderId":      ipn.OrderID,
		"orderInfo":    ipn.OrderInfo,
		"orderType":    ipn.OrderType,
		"partnerCode":  ipn.PartnerCode,
		"payType":      ipn.PayType,
		"requestId":    ipn.RequestID,
		"responseTime": strconv.FormatInt(ipn.ResponseTime, 10),
		"resultCode":   strconv.Itoa(ipn.ResultCode),
		"transId":      strconv.FormatInt(ipn.TransID, 10),
	}
	expected, err := sign.Digest(sign.HMACSHA256, a.cfg.SecretKey,
		sign.CanonicalOrdered(ipnSignKeys, fields, sign.Options{}))
	if err != nil {
		return provider.VerifyResult{}, fmt.Errorf("momo: recomputing ipn signature: %w", err)
	}
	if !sign.Equal(expected, ipn.Signature) {
		return provider.VerifyResult{Failure: provider.FailureForged, Raw: payload.Body}, nil
	}
	if ipn.OrderID == "" {
		return provider.VerifyResult{Failure: provider.FailureMalformed, Raw: payload.Body}, nil
	}

	return provider.VerifyResult{
		Verified:    true,
		ProviderRef: ipn.OrderID,
		Outcome:     outcomeOf(ipn.ResultCode),
		Amount:      ipn.Amount,
		Raw:         payload.Body,
	}, nil
}

func outcomeOf(code int) domain.Outcome {
	switch {
	case code == 0:
		return domain.OutcomeSucceeded
	case failureCodes[code]:
		return domain.OutcomeFailed
	default:
		return domain.OutcomePending
	}
}
