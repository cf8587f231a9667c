// Package orchestrator coordinates the lifecycle of a payment attempt: it
// authorizes the caller against the order, enforces creation policy, opens
// the payment with the gateway adapter behind a circuit breaker, and applies
// verified callbacks to the transaction state machine. All provider-specific
// knowledge stays in the adapters; this package only sees normalized results.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/yourorg/booking-payments/internal/domain"
	"github.com/yourorg/booking-payments/internal/events"
	"github.com/yourorg/booking-payments/internal/monitor"
	"github.com/yourorg/booking-payments/internal/orders"
	"github.com/yourorg/booking-payments/internal/policy"
	"github.com/yourorg/booking-payments/internal/provider"
	"github.com/yourorg/booking-payments/internal/provider/circuitbreaker"
	"github.com/yourorg/booking-payments/internal/replay"
	"github.com/yourorg/booking-payments/internal/reporting"
	"github.com/yourorg/booking-payments/internal/store"
)

const tracerName = "orchestrator"

// CreateParams is a validated request to open a payment for an order.
type CreateParams struct {
	OrderID     string
	Provider    domain.Provider
	Amount      int64
	Currency    string
	Description string
	ReturnURL   string
	CancelURL   string
	ClientIP    string
}

// CreateOutcome pairs the persisted transaction with the URL the payer is
// sent to.
type CreateOutcome struct {
	Transaction *domain.Transaction
	RedirectURL string
}

// CallbackResult tells the transport layer what happened so it can shape the
// provider-specific acknowledgement. Verified=false means the payload was
// rejected before any business field was read.
type CallbackResult struct {
	Verified    bool
	Failure     provider.FailureClass
	OrderID     string
	ProviderRef string
	Status      domain.Status
}

// Service owns every transaction state change. Nothing else writes to the
// store.
type Service struct {
	registry  *provider.Registry
	store     store.Store
	orders    orders.Service
	policy    *policy.Enforcer
	breaker   *circuitbreaker.Breaker
	publisher events.Publisher
	replay    replay.Recorder
	logger    *zap.Logger

	gatewayTimeout time.Duration
	now            func() time.Time
}

// NewService wires the orchestration service. All collaborators are
// mandatory; pass events.Nop or replay.NewMemory() rather than nil.
func NewService(
	registry *provider.Registry,
	st store.Store,
	ord orders.Service,
	enforcer *policy.Enforcer,
	breaker *circuitbreaker.Breaker,
	publisher events.Publisher,
	recorder replay.Recorder,
	logger *zap.Logger,
	gatewayTimeout time.Duration,
) *Service {
	if registry == nil {
		panic("registry cannot be nil")
	}
	if st == nil {
		panic("store cannot be nil")
	}
	if ord == nil {
		panic("orders service cannot be nil")
	}
	if enforcer == nil {
		panic("policy enforcer cannot be nil")
	}
	if breaker == nil {
		panic("circuit breaker cannot be nil")
	}
	if publisher == nil {
		panic("event publisher cannot be nil")
	}
	if recorder == nil {
		panic("replay recorder cannot be nil")
	}
	if logger == nil {
		panic("logger cannot be nil")
	}
	if gatewayTimeout <= 0 {
		gatewayTimeout = 10 * time.Second
	}
	return &Service{
		registry:       registry,
		store:          st,
		orders:         ord,
		policy:         enforcer,
		breaker:        breaker,
		publisher:      publisher,
		replay:         recorder,
		logger:         logger,
		gatewayTimeout: gatewayTimeout,
		now:            time.Now,
	}
}

// CreateTransaction opens a payment attempt for an order. The persisted
// record exists before the gateway is contacted, so a crash between the two
// leaves a CREATED row that the next verified callback can still settle.
func (s *Service) CreateTransaction(ctx context.Context, caller domain.Caller, p CreateParams) (CreateOutcome, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "CreateTransaction")
	defer span.End()

	adapter, ok := s.registry.Get(p.Provider)
	if !ok {
		return CreateOutcome{}, fmt.Errorf("%w: unknown provider %q", domain.ErrValidation, p.Provider)
	}

	order, err := s.orders.Get(ctx, p.OrderID)
	if err != nil {
		return CreateOutcome{}, err
	}
	if order.OwnerID != caller.ID && !caller.Elevated() {
		return CreateOutcome{}, fmt.Errorf("%w: order %s does not belong to caller", domain.ErrForbidden, p.OrderID)
	}
	if p.Amount != order.Amount || p.Currency != order.Currency {
		return CreateOutcome{}, fmt.Errorf("%w: amount %d %s does not match order %d %s",
			domain.ErrValidation, p.Amount, p.Currency, order.Amount, order.Currency)
	}

	decision, err := s.policy.Evaluate(policy.CreateInput{
		Amount:   p.Amount,
		Currency: p.Currency,
		Provider: string(p.Provider),
		Role:     caller.Role,
	})
	if err != nil {
		return CreateOutcome{}, fmt.Errorf("evaluating creation policy: %w", err)
	}
	if !decision.Allowed {
		return CreateOutcome{}, fmt.Errorf("%w: denied by policy %s", domain.ErrValidation, decision.DeniedBy)
	}

	if !s.breaker.Allow(p.Provider) {
		return CreateOutcome{}, fmt.Errorf("%w: circuit open for %s", domain.ErrProviderUnavailable, p.Provider)
	}

	tx := domain.NewTransaction(p.OrderID, p.Provider, newProviderRef(p.Provider), p.Amount, p.Currency)
	if err := s.store.CreateForOrder(ctx, tx); err != nil {
		if errors.Is(err, store.ErrRefTaken) {
			tx = domain.NewTransaction(p.OrderID, p.Provider, newProviderRef(p.Provider), p.Amount, p.Currency)
			err = s.store.CreateForOrder(ctx, tx)
		}
		if err != nil {
			return CreateOutcome{}, err
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()
	result, callErr := adapter.CreatePayment(callCtx, provider.CreateRequest{
		OrderID:     p.OrderID,
		ProviderRef: tx.ProviderRef,
		Amount:      p.Amount,
		Currency:    p.Currency,
		Description: p.Description,
		ReturnURL:   p.ReturnURL,
		CancelURL:   p.CancelURL,
		ClientIP:    p.ClientIP,
	})
	if callErr != nil {
		if errors.Is(callErr, domain.ErrProviderUnavailable) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			s.breaker.RecordFailure(p.Provider)
			if callCtx.Err() != nil {
				callErr = fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, callErr)
			}
		}
		s.failCreated(ctx, tx, callErr.Error())
		return CreateOutcome{}, callErr
	}
	s.breaker.RecordSuccess(p.Provider)

	if err := s.store.Transition(ctx, tx.ID, domain.StatusCreated, domain.StatusPendingConfirmation, store.TransitionUpdate{}); err != nil {
		return CreateOutcome{}, fmt.Errorf("recording pending confirmation: %w", err)
	}
	tx.Status = domain.StatusPendingConfirmation

	monitor.RecordTransaction(string(tx.Provider), string(tx.Status))
	s.publish(ctx, tx)
	s.logger.Info("payment attempt opened",
		zap.String("transaction_id", tx.ID),
		zap.String("order_id", tx.OrderID),
		zap.String("provider", string(tx.Provider)),
		zap.String("provider_ref", tx.ProviderRef),
		zap.Int64("gateway_latency_ms", result.LatencyMs))

	return CreateOutcome{Transaction: tx, RedirectURL: result.RedirectURL}, nil
}

// failCreated moves a freshly created transaction to FAILED after the
// gateway call went wrong. Best effort; the row stays CREATED if the write
// fails and reconciliation picks it up later.
func (s *Service) failCreated(ctx context.Context, tx *domain.Transaction, reason string) {
	upd := store.TransitionUpdate{FailureReason: reason}
	if err := s.store.Transition(ctx, tx.ID, domain.StatusCreated, domain.StatusFailed, upd); err != nil {
		s.logger.Error("failed to mark transaction FAILED after gateway error",
			zap.String("transaction_id", tx.ID), zap.Error(err))
		return
	}
	tx.Status = domain.StatusFailed
	tx.FailureReason = reason
	monitor.RecordTransaction(string(tx.Provider), string(tx.Status))
	s.publish(ctx, tx)
}

// ApplyCallback verifies an inbound gateway callback and applies it to the
// state machine. Verification failures and anomalies never return an error:
// the transport layer must acknowledge the gateway positively regardless, so
// errors are reserved for faults the caller can act on.
func (s *Service) ApplyCallback(ctx context.Context, name domain.Provider, payload provider.CallbackPayload) (CallbackResult, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "ApplyCallback")
	defer span.End()

	adapter, ok := s.registry.Get(name)
	if !ok {
		return CallbackResult{}, fmt.Errorf("%w: unknown provider %q", domain.ErrValidation, name)
	}

	res, err := adapter.VerifyCallback(payload)
	if err != nil {
		return CallbackResult{}, fmt.Errorf("verifying %s callback: %w", name, err)
	}
	if !res.Verified {
		monitor.RecordVerificationFailure(string(name), string(res.Failure))
		s.logger.Warn("callback rejected",
			zap.String("provider", string(name)),
			zap.String("failure_class", string(res.Failure)))
		return CallbackResult{Verified: false, Failure: res.Failure}, nil
	}

	tx, err := s.store.GetByProviderRef(ctx, res.ProviderRef)
	if err != nil {
		if errors.Is(err, domain.ErrTransactionNotFound) {
			s.logger.Error("verified callback for unknown transaction",
				zap.String("provider", string(name)),
				zap.String("provider_ref", res.ProviderRef))
		}
		return CallbackResult{}, err
	}
	if tx.Provider != name {
		// A valid signature from provider A naming provider B's reference
		// means a key leak or a routing bug; treat as forged.
		monitor.RecordVerificationFailure(string(name), string(provider.FailureForged))
		s.logger.Error("callback provider does not match transaction",
			zap.String("provider", string(name)),
			zap.String("transaction_provider", string(tx.Provider)),
			zap.String("provider_ref", res.ProviderRef))
		return CallbackResult{Verified: false, Failure: provider.FailureForged}, nil
	}

	seen, err := s.replay.MarkSeen(ctx, res.ProviderRef, string(res.Outcome))
	if err != nil {
		s.logger.Warn("replay recorder unavailable", zap.Error(err))
	} else if seen {
		s.logger.Debug("duplicate callback delivery",
			zap.String("provider_ref", res.ProviderRef),
			zap.String("outcome", string(res.Outcome)))
	}

	decision := domain.DecideCallback(tx.Status, res.Outcome)
	switch {
	case decision.Anomaly:
		monitor.RecordAnomaly(string(name))
		s.logger.Error("conflicting callback against settled transaction",
			zap.String("transaction_id", tx.ID),
			zap.String("status", string(tx.Status)),
			zap.String("outcome", string(res.Outcome)))
		return CallbackResult{Verified: true, OrderID: tx.OrderID, ProviderRef: tx.ProviderRef, Status: tx.Status}, nil

	case decision.NoOp:
		return CallbackResult{Verified: true, OrderID: tx.OrderID, ProviderRef: tx.ProviderRef, Status: tx.Status}, nil
	}

	if res.Amount != 0 && res.Amount != tx.Amount {
		monitor.RecordAnomaly(string(name))
		s.logger.Error("callback amount does not match transaction",
			zap.String("transaction_id", tx.ID),
			zap.Int64("amount", tx.Amount),
			zap.Int64("callback_amount", res.Amount))
		return CallbackResult{Verified: true, OrderID: tx.OrderID, ProviderRef: tx.ProviderRef, Status: tx.Status}, nil
	}

	upd := store.TransitionUpdate{RawPayload: res.Raw}
	if decision.Next == domain.StatusFailed {
		upd.FailureReason = "gateway reported failure"
	}
	if decision.Next == domain.StatusPaid {
		confirmedAt := s.now().UTC()
		upd.ConfirmedAt = &confirmedAt
	}
	if err := s.store.Transition(ctx, tx.ID, tx.Status, decision.Next, upd); err != nil {
		if errors.Is(err, domain.ErrDuplicatePayment) {
			// A stale success callback for an abandoned attempt after
			// another attempt settled the order. The store refused the
			// second PAID; the order must not be confirmed again.
			monitor.RecordAnomaly(string(name))
			s.logger.Error("callback would settle a second PAID transaction for the order",
				zap.String("transaction_id", tx.ID),
				zap.String("order_id", tx.OrderID),
				zap.String("provider_ref", tx.ProviderRef))
			return CallbackResult{Verified: true, OrderID: tx.OrderID, ProviderRef: tx.ProviderRef, Status: tx.Status}, nil
		}
		if errors.Is(err, domain.ErrConflict) {
			// A concurrent delivery won the compare-and-set; this one is now
			// a duplicate of whatever it wrote.
			fresh, ferr := s.store.GetByID(ctx, tx.ID)
			if ferr != nil {
				return CallbackResult{}, ferr
			}
			return CallbackResult{Verified: true, OrderID: fresh.OrderID, ProviderRef: fresh.ProviderRef, Status: fresh.Status}, nil
		}
		return CallbackResult{}, fmt.Errorf("applying callback transition: %w", err)
	}
	tx.Status = decision.Next

	monitor.RecordTransaction(string(tx.Provider), string(tx.Status))
	s.publish(ctx, tx)
	s.logger.Info("callback applied",
		zap.String("transaction_id", tx.ID),
		zap.String("order_id", tx.OrderID),
		zap.String("provider", string(name)),
		zap.String("status", string(tx.Status)))

	if decision.ConfirmOrder {
		if err := s.orders.MarkPaid(ctx, tx.OrderID, tx.ProviderRef); err != nil {
			// The transaction is already PAID; the order projection catches
			// up through reconciliation.
			s.logger.Error("order confirmation failed",
				zap.String("order_id", tx.OrderID),
				zap.String("provider_ref", tx.ProviderRef),
				zap.Error(err))
		}
	}

	return CallbackResult{Verified: true, OrderID: tx.OrderID, ProviderRef: tx.ProviderRef, Status: tx.Status}, nil
}

// GetByOrder lists all payment attempts for an order, oldest first.
// Customers only see their own orders.
func (s *Service) GetByOrder(ctx context.Context, caller domain.Caller, orderID string) ([]*domain.Transaction, error) {
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.OwnerID != caller.ID && !caller.Elevated() {
		return nil, fmt.Errorf("%w: order %s does not belong to caller", domain.ErrForbidden, orderID)
	}
	return s.store.ListByOrder(ctx, orderID)
}

// Refund moves a PAID transaction to REFUNDED. Administrative operation; the
// money movement itself happens out of band with the gateway.
func (s *Service) Refund(ctx context.Context, caller domain.Caller, id, reason string) (*domain.Transaction, error) {
	if !caller.Elevated() {
		return nil, fmt.Errorf("%w: refund requires admin role", domain.ErrForbidden)
	}
	tx, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if tx.Status != domain.StatusPaid {
		return nil, fmt.Errorf("%w: cannot refund a %s transaction", domain.ErrConflict, tx.Status)
	}
	upd := store.TransitionUpdate{FailureReason: reason}
	if err := s.store.Transition(ctx, id, domain.StatusPaid, domain.StatusRefunded, upd); err != nil {
		return nil, err
	}
	tx.Status = domain.StatusRefunded
	tx.FailureReason = reason

	monitor.RecordTransaction(string(tx.Provider), string(tx.Status))
	s.publish(ctx, tx)
	s.logger.Info("transaction refunded",
		zap.String("transaction_id", tx.ID),
		zap.String("admin", caller.ID),
		zap.String("reason", reason))
	return tx, nil
}

// OverrideStatus force-sets a transaction's status, bypassing the callback
// state machine. Every override is logged with the acting admin; this is the
// escape hatch for support cases, not a normal transition.
func (s *Service) OverrideStatus(ctx context.Context, caller domain.Caller, id string, to domain.Status, reason string) (*domain.Transaction, error) {
	if !caller.Elevated() {
		return nil, fmt.Errorf("%w: status override requires admin role", domain.ErrForbidden)
	}
	if !domain.ValidStatus(string(to)) {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrValidation, to)
	}
	tx, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if tx.Status == to {
		return tx, nil
	}
	upd := store.TransitionUpdate{FailureReason: reason}
	if to == domain.StatusPaid {
		confirmedAt := s.now().UTC()
		upd.ConfirmedAt = &confirmedAt
	}
	if err := s.store.Transition(ctx, id, tx.Status, to, upd); err != nil {
		return nil, err
	}
	prev := tx.Status
	tx.Status = to

	monitor.RecordTransaction(string(tx.Provider), string(tx.Status))
	s.publish(ctx, tx)
	s.logger.Warn("transaction status overridden",
		zap.String("transaction_id", tx.ID),
		zap.String("admin", caller.ID),
		zap.String("from", string(prev)),
		zap.String("to", string(to)),
		zap.String("reason", reason))
	return tx, nil
}

// Delete removes a transaction record entirely. Administrative only; normal
// flows never delete, they transition.
func (s *Service) Delete(ctx context.Context, caller domain.Caller, id string) error {
	if !caller.Elevated() {
		return fmt.Errorf("%w: delete requires admin role", domain.ErrForbidden)
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Warn("transaction deleted",
		zap.String("transaction_id", id),
		zap.String("admin", caller.ID))
	return nil
}

// SettlementReport aggregates every transaction created in [from, to).
func (s *Service) SettlementReport(ctx context.Context, caller domain.Caller, from, to time.Time) (reporting.Report, error) {
	if !caller.Elevated() {
		return reporting.Report{}, fmt.Errorf("%w: settlement report requires admin role", domain.ErrForbidden)
	}
	txs, err := s.store.ListCreatedBetween(ctx, from, to)
	if err != nil {
		return reporting.Report{}, err
	}
	return reporting.Build(txs, from, to), nil
}

func (s *Service) publish(ctx context.Context, tx *domain.Transaction) {
	if err := s.publisher.Publish(ctx, events.FromTransaction(tx)); err != nil {
		s.logger.Warn("event publish failed",
			zap.String("transaction_id", tx.ID), zap.Error(err))
	}
}

func newProviderRef(p domain.Provider) string {
	return string(p) + "_" + uuid.NewString()
}
