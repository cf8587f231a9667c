// Package httpapi is the HTTP surface of the payment subsystem: the
// authenticated customer/admin API plus the unauthenticated (but signed)
// gateway callback endpoints.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourorg/booking-payments/internal/domain"
	"github.com/yourorg/booking-payments/internal/monitor"
	"github.com/yourorg/booking-payments/internal/orchestrator"
	"github.com/yourorg/booking-payments/internal/provider"
)

type Handler struct {
	svc      *orchestrator.Service
	contract *monitor.ContractMonitor
	logger   *zap.Logger
}

func NewHandler(svc *orchestrator.Service, contract *monitor.ContractMonitor, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("orchestrator service cannot be nil")
	}
	if contract == nil {
		panic("contract monitor cannot be nil")
	}
	if logger == nil {
		panic("logger cannot be nil")
	}
	return &Handler{svc: svc, contract: contract, logger: logger}
}

type createPaymentRequest struct {
	OrderID     string `json:"orderId" binding:"required"`
	Provider    string `json:"provider" binding:"required"`
	Amount      int64  `json:"amount" binding:"required"`
	Currency    string `json:"currency" binding:"required"`
	Description string `json:"description"`
	ReturnURL   string `json:"returnUrl"`
	CancelURL   string `json:"cancelUrl"`
}

type transactionResponse struct {
	ID            string     `json:"id"`
	OrderID       string     `json:"orderId"`
	Provider      string     `json:"provider"`
	ProviderRef   string     `json:"providerRef"`
	Amount        int64      `json:"amount"`
	Currency      string     `json:"currency"`
	Status        string     `json:"status"`
	FailureReason string     `json:"failureReason,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	ConfirmedAt   *time.Time `json:"confirmedAt,omitempty"`
}

func toResponse(tx *domain.Transaction) transactionResponse {
	return transactionResponse{
		ID:            tx.ID,
		OrderID:       tx.OrderID,
		Provider:      string(tx.Provider),
		ProviderRef:   tx.ProviderRef,
		Amount:        tx.Amount,
		Currency:      tx.Currency,
		Status:        string(tx.Status),
		FailureReason: tx.FailureReason,
		CreatedAt:     tx.CreatedAt,
		ConfirmedAt:   tx.ConfirmedAt,
	}
}

// writeError maps domain errors onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrOrderNotFound), errors.Is(err, domain.ErrTransactionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrDuplicatePayment), errors.Is(err, domain.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrProviderUnavailable):
		status = http.StatusBadGateway
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (h *Handler) CreatePayment(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	ok, violations, err := h.contract.Validate(body)
	if err != nil {
		// Validation itself only fails on undecodable input.
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
		return
	}
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": monitor.FormatViolations(violations)})
		return
	}

	var req createPaymentRequest
	if err := json.Unmarshal(body, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	out, err := h.svc.CreateTransaction(c.Request.Context(), CallerFrom(c), orchestrator.CreateParams{
		OrderID:     req.OrderID,
		Provider:    domain.Provider(req.Provider),
		Amount:      req.Amount,
		Currency:    req.Currency,
		Description: req.Description,
		ReturnURL:   req.ReturnURL,
		CancelURL:   req.CancelURL,
		ClientIP:    c.ClientIP(),
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"transaction": toResponse(out.Transaction),
		"redirectUrl": out.RedirectURL,
	})
}

func (h *Handler) ListOrderPayments(c *gin.Context) {
	txs, err := h.svc.GetByOrder(c.Request.Context(), CallerFrom(c), c.Param("orderId"))
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]transactionResponse, 0, len(txs))
	for _, tx := range txs {
		out = append(out, toResponse(tx))
	}
	c.JSON(http.StatusOK, gin.H{"transactions": out})
}

// Callback receives gateway notifications: signed query strings on GET
// (browser returns and VNPay IPN) and signed bodies on POST. The response is
// always positive from the gateway's point of view; rejected payloads are
// logged and counted but never acknowledged negatively, so a forger learns
// nothing and a confused gateway stops retrying.
func (h *Handler) Callback(c *gin.Context) {
	name := domain.Provider(c.Param("provider"))
	if !domain.KnownProvider(string(name)) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown provider"})
		return
	}

	payload := provider.CallbackPayload{
		Query:  c.Request.URL.Query(),
		Header: c.Request.Header,
	}
	if c.Request.Method == http.MethodPost {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			h.ack(c, name, orchestrator.CallbackResult{})
			return
		}
		payload.Body = body
	}

	res, err := h.svc.ApplyCallback(c.Request.Context(), name, payload)
	if err != nil {
		// Internal fault or unknown reference. The gateway still gets its
		// positive ack; operators find the detail in the logs.
		h.logger.Error("callback processing failed",
			zap.String("provider", string(name)), zap.Error(err))
	}
	h.ack(c, name, res)
}

// ack renders the acknowledgement each gateway expects.
func (h *Handler) ack(c *gin.Context, name domain.Provider, res orchestrator.CallbackResult) {
	switch name {
	case domain.ProviderVNPay:
		c.JSON(http.StatusOK, gin.H{"RspCode": "00", "Message": "Confirm Success"})
	case domain.ProviderMoMo:
		c.Status(http.StatusNoContent)
	case domain.ProviderStripe:
		c.JSON(http.StatusOK, gin.H{"received": true})
	default:
		body := gin.H{"received": true}
		if res.Verified {
			body["orderId"] = res.OrderID
			body["status"] = string(res.Status)
		}
		c.JSON(http.StatusOK, body)
	}
}

type refundRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) Refund(c *gin.Context) {
	var req refundRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	tx, err := h.svc.Refund(c.Request.Context(), CallerFrom(c), c.Param("id"), req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toResponse(tx))
}

type overrideRequest struct {
	Status string `json:"status" binding:"required"`
	Reason string `json:"reason"`
}

func (h *Handler) OverrideStatus(c *gin.Context) {
	var req overrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	tx, err := h.svc.OverrideStatus(c.Request.Context(), CallerFrom(c), c.Param("id"), domain.Status(req.Status), req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toResponse(tx))
}

func (h *Handler) Delete(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), CallerFrom(c), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// SettlementReport aggregates a window given as RFC 3339 or date-only query
// params; the default window is the last 24 hours.
func (h *Handler) SettlementReport(c *gin.Context) {
	to := time.Now().UTC()
	from := to.Add(-24 * time.Hour)

	var err error
	if v := c.Query("from"); v != "" {
		if from, err = parseTime(v); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from: " + err.Error()})
			return
		}
	}
	if v := c.Query("to"); v != "" {
		if to, err = parseTime(v); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid to: " + err.Error()})
			return
		}
	}

	report, err := h.svc.SettlementReport(c.Request.Context(), CallerFrom(c), from, to)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func parseTime(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", v)
}
