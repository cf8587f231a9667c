package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yourorg/booking-payments/internal/domain"
	"github.com/yourorg/booking-payments/internal/events"
	"github.com/yourorg/booking-payments/internal/orders"
	"github.com/yourorg/booking-payments/internal/policy"
	"github.com/yourorg/booking-payments/internal/provider"
	"github.com/yourorg/booking-payments/internal/provider/circuitbreaker"
	"github.com/yourorg/booking-payments/internal/replay"
	"github.com/yourorg/booking-payments/internal/store"
)

type fakeOrders struct {
	mu       sync.Mutex
	orders   map[string]orders.Order
	markPaid []string
	markErr  error
}

func newFakeOrders(os ...orders.Order) *fakeOrders {
	f := &fakeOrders{orders: make(map[string]orders.Order)}
	for _, o := range os {
		f.orders[o.ID] = o
	}
	return f
}

func (f *fakeOrders) Get(_ context.Context, orderID string) (orders.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return orders.Order{}, domain.ErrOrderNotFound
	}
	return o, nil
}

func (f *fakeOrders) MarkPaid(_ context.Context, orderID, providerRef string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markErr != nil {
		return f.markErr
	}
	f.markPaid = append(f.markPaid, orderID+"/"+providerRef)
	return nil
}

type fakeAdapter struct {
	name     domain.Provider
	createFn func(provider.CreateRequest) (provider.CreateResult, error)
	verifyFn func(provider.CallbackPayload) (provider.VerifyResult, error)
}

func (f *fakeAdapter) Name() domain.Provider { return f.name }

func (f *fakeAdapter) CreatePayment(_ context.Context, req provider.CreateRequest) (provider.CreateResult, error) {
	if f.createFn == nil {
		return provider.CreateResult{RedirectURL: "https://gateway.test/pay/" + req.ProviderRef}, nil
	}
	return f.createFn(req)
}

func (f *fakeAdapter) VerifyCallback(p provider.CallbackPayload) (provider.VerifyResult, error) {
	if f.verifyFn == nil {
		return provider.VerifyResult{Verified: false, Failure: provider.FailureMalformed}, nil
	}
	return f.verifyFn(p)
}

type capturePublisher struct {
	mu     sync.Mutex
	events []events.TransactionEvent
}

func (c *capturePublisher) Publish(_ context.Context, e events.TransactionEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

func (c *capturePublisher) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.events))
	for i, e := range c.events {
		out[i] = e.EventType
	}
	return out
}

type fixture struct {
	svc       *Service
	store     *store.Memory
	orders    *fakeOrders
	publisher *capturePublisher
	breaker   *circuitbreaker.Breaker
}

func newFixture(t *testing.T, adapters ...provider.Adapter) *fixture {
	t.Helper()
	registry, err := provider.NewRegistry(adapters...)
	require.NoError(t, err)
	enforcer, err := policy.NewEnforcer(policy.DefaultRules())
	require.NoError(t, err)

	f := &fixture{
		store:     store.NewMemory(),
		orders:    newFakeOrders(orders.Order{ID: "O1", OwnerID: "u1", Amount: 250000, Currency: "VND"}),
		publisher: &capturePublisher{},
		breaker:   circuitbreaker.New(circuitbreaker.Config{FailureThreshold: 2, OpenTimeout: time.Minute}),
	}
	f.svc = NewService(registry, f.store, f.orders, enforcer, f.breaker,
		f.publisher, replay.NewMemory(), zap.NewNop(), time.Second)
	return f
}

func customer() domain.Caller { return domain.Caller{ID: "u1", Role: domain.RoleCustomer} }
func admin() domain.Caller    { return domain.Caller{ID: "ops", Role: domain.RoleAdmin} }

func createParams() CreateParams {
	return CreateParams{
		OrderID:  "O1",
		Provider: domain.ProviderVNPay,
		Amount:   250000,
		Currency: "VND",
	}
}

func TestCreateTransaction_Success(t *testing.T) {
	f := newFixture(t, &fakeAdapter{name: domain.ProviderVNPay})

	out, err := f.svc.CreateTransaction(context.Background(), customer(), createParams())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingConfirmation, out.Transaction.Status)
	assert.Contains(t, out.RedirectURL, out.Transaction.ProviderRef)
	assert.Contains(t, out.Transaction.ProviderRef, "VNPAY_")

	stored, err := f.store.GetByID(context.Background(), out.Transaction.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingConfirmation, stored.Status)
	assert.Equal(t, []string{"payment.pending"}, f.publisher.types())
}

func TestCreateTransaction_UnknownProvider(t *testing.T) {
	f := newFixture(t, &fakeAdapter{name: domain.ProviderVNPay})
	p := createParams()
	p.Provider = "PAYPAL"
	_, err := f.svc.CreateTransaction(context.Background(), customer(), p)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestCreateTransaction_OrderNotFound(t *testing.T) {
	f := newFixture(t, &fakeAdapter{name: domain.ProviderVNPay})
	p := createParams()
	p.OrderID = "missing"
	_, err := f.svc.CreateTransaction(context.Background(), customer(), p)
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestCreateTransaction_ForeignOrderForbidden(t *testing.T) {
	f := newFixture(t, &fakeAdapter{name: domain.ProviderVNPay})
	_, err := f.svc.CreateTransaction(context.Background(), domain.Caller{ID: "intruder", Role: domain.RoleCustomer}, createParams())
	assert.ErrorIs(t, err, domain.ErrForbidden)

	// Admins may pay on behalf of any customer.
	_, err = f.svc.CreateTransaction(context.Background(), admin(), createParams())
	assert.NoError(t, err)
}

func TestCreateTransaction_AmountMismatch(t *testing.T) {
	f := newFixture(t, &fakeAdapter{name: domain.ProviderVNPay})
	p := createParams()
	p.Amount = 1
	_, err := f.svc.CreateTransaction(context.Background(), customer(), p)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestCreateTransaction_PolicyDenied(t *testing.T) {
	f := newFixture(t, &fakeAdapter{name: domain.ProviderManual})
	p := createParams()
	p.Provider = domain.ProviderManual
	_, err := f.svc.CreateTransaction(context.Background(), customer(), p)
	assert.ErrorIs(t, err, domain.ErrValidation)

	// The same request is allowed for an admin.
	_, err = f.svc.CreateTransaction(context.Background(), admin(), p)
	assert.NoError(t, err)
}

func TestCreateTransaction_DuplicatePayment(t *testing.T) {
	f := newFixture(t, &fakeAdapter{name: domain.ProviderVNPay})

	out, err := f.svc.CreateTransaction(context.Background(), customer(), createParams())
	require.NoError(t, err)
	require.NoError(t, f.store.Transition(context.Background(), out.Transaction.ID,
		domain.StatusPendingConfirmation, domain.StatusPaid, store.TransitionUpdate{}))

	_, err = f.svc.CreateTransaction(context.Background(), customer(), createParams())
	assert.ErrorIs(t, err, domain.ErrDuplicatePayment)
}

func TestCreateTransaction_GatewayFailureMarksFailed(t *testing.T) {
	adapter := &fakeAdapter{
		name: domain.ProviderVNPay,
		createFn: func(provider.CreateRequest) (provider.CreateResult, error) {
			return provider.CreateResult{}, errors.New("merchant account suspended")
		},
	}
	f := newFixture(t, adapter)

	_, err := f.svc.CreateTransaction(context.Background(), customer(), createParams())
	require.Error(t, err)

	txs, err := f.store.ListByOrder(context.Background(), "O1")
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, domain.StatusFailed, txs[0].Status)
	assert.Equal(t, "merchant account suspended", txs[0].FailureReason)
	assert.Equal(t, []string{"payment.failed"}, f.publisher.types())
}

func TestCreateTransaction_BreakerOpensAfterOutages(t *testing.T) {
	adapter := &fakeAdapter{
		name: domain.ProviderVNPay,
		createFn: func(provider.CreateRequest) (provider.CreateResult, error) {
			return provider.CreateResult{}, domain.ErrProviderUnavailable
		},
	}
	f := newFixture(t, adapter)

	for i := 0; i < 2; i++ {
		_, err := f.svc.CreateTransaction(context.Background(), admin(), createParams())
		assert.ErrorIs(t, err, domain.ErrProviderUnavailable)
	}

	// Threshold reached; the next attempt is refused without a gateway call.
	adapter.createFn = func(provider.CreateRequest) (provider.CreateResult, error) {
		t.Fatal("gateway called while circuit open")
		return provider.CreateResult{}, nil
	}
	_, err := f.svc.CreateTransaction(context.Background(), admin(), createParams())
	assert.ErrorIs(t, err, domain.ErrProviderUnavailable)
}

func verifiedCallback(ref string, outcome domain.Outcome) func(provider.CallbackPayload) (provider.VerifyResult, error) {
	return func(provider.CallbackPayload) (provider.VerifyResult, error) {
		return provider.VerifyResult{
			Verified:    true,
			ProviderRef: ref,
			Outcome:     outcome,
			Amount:      250000,
			Raw:         []byte(`{"resultCode":0}`),
		}, nil
	}
}

func TestApplyCallback_SuccessConfirmsOrderOnce(t *testing.T) {
	adapter := &fakeAdapter{name: domain.ProviderVNPay}
	f := newFixture(t, adapter)

	out, err := f.svc.CreateTransaction(context.Background(), customer(), createParams())
	require.NoError(t, err)
	adapter.verifyFn = verifiedCallback(out.Transaction.ProviderRef, domain.OutcomeSucceeded)

	res, err := f.svc.ApplyCallback(context.Background(), domain.ProviderVNPay, provider.CallbackPayload{})
	require.NoError(t, err)
	assert.True(t, res.Verified)
	assert.Equal(t, domain.StatusPaid, res.Status)
	assert.Equal(t, []string{"O1/" + out.Transaction.ProviderRef}, f.orders.markPaid)

	stored, err := f.store.GetByID(context.Background(), out.Transaction.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaid, stored.Status)
	require.NotNil(t, stored.ConfirmedAt)
	assert.NotEmpty(t, stored.RawPayload)

	// Redelivery of the same outcome is a no-op and must not confirm again.
	res, err = f.svc.ApplyCallback(context.Background(), domain.ProviderVNPay, provider.CallbackPayload{})
	require.NoError(t, err)
	assert.True(t, res.Verified)
	assert.Equal(t, domain.StatusPaid, res.Status)
	assert.Len(t, f.orders.markPaid, 1)
}

func TestApplyCallback_FailureOutcome(t *testing.T) {
	adapter := &fakeAdapter{name: domain.ProviderVNPay}
	f := newFixture(t, adapter)

	out, err := f.svc.CreateTransaction(context.Background(), customer(), createParams())
	require.NoError(t, err)
	adapter.verifyFn = verifiedCallback(out.Transaction.ProviderRef, domain.OutcomeFailed)

	res, err := f.svc.ApplyCallback(context.Background(), domain.ProviderVNPay, provider.CallbackPayload{})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, res.Status)
	assert.Empty(t, f.orders.markPaid)
}

func TestApplyCallback_PendingOutcomeKeepsState(t *testing.T) {
	adapter := &fakeAdapter{name: domain.ProviderVNPay}
	f := newFixture(t, adapter)

	out, err := f.svc.CreateTransaction(context.Background(), customer(), createParams())
	require.NoError(t, err)
	adapter.verifyFn = verifiedCallback(out.Transaction.ProviderRef, domain.OutcomePending)

	res, err := f.svc.ApplyCallback(context.Background(), domain.ProviderVNPay, provider.CallbackPayload{})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingConfirmation, res.Status)
}

func TestApplyCallback_UnverifiedChangesNothing(t *testing.T) {
	adapter := &fakeAdapter{name: domain.ProviderVNPay}
	f := newFixture(t, adapter)

	out, err := f.svc.CreateTransaction(context.Background(), customer(), createParams())
	require.NoError(t, err)
	adapter.verifyFn = func(provider.CallbackPayload) (provider.VerifyResult, error) {
		return provider.VerifyResult{Verified: false, Failure: provider.FailureForged}, nil
	}

	res, err := f.svc.ApplyCallback(context.Background(), domain.ProviderVNPay, provider.CallbackPayload{})
	require.NoError(t, err)
	assert.False(t, res.Verified)
	assert.Equal(t, provider.FailureForged, res.Failure)

	stored, err := f.store.GetByID(context.Background(), out.Transaction.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingConfirmation, stored.Status)
	assert.Empty(t, f.orders.markPaid)
}

func TestApplyCallback_UnknownReference(t *testing.T) {
	adapter := &fakeAdapter{
		name:     domain.ProviderVNPay,
		verifyFn: verifiedCallback("VNPAY_ghost", domain.OutcomeSucceeded),
	}
	f := newFixture(t, adapter)

	_, err := f.svc.ApplyCallback(context.Background(), domain.ProviderVNPay, provider.CallbackPayload{})
	assert.ErrorIs(t, err, domain.ErrTransactionNotFound)
}

func TestApplyCallback_ConflictingOutcomeIsAnomaly(t *testing.T) {
	adapter := &fakeAdapter{name: domain.ProviderVNPay}
	f := newFixture(t, adapter)

	out, err := f.svc.CreateTransaction(context.Background(), customer(), createParams())
	require.NoError(t, err)

	adapter.verifyFn = verifiedCallback(out.Transaction.ProviderRef, domain.OutcomeSucceeded)
	_, err = f.svc.ApplyCallback(context.Background(), domain.ProviderVNPay, provider.CallbackPayload{})
	require.NoError(t, err)

	// The gateway now contradicts itself; the PAID record must stand.
	adapter.verifyFn = verifiedCallback(out.Transaction.ProviderRef, domain.OutcomeFailed)
	res, err := f.svc.ApplyCallback(context.Background(), domain.ProviderVNPay, provider.CallbackPayload{})
	require.NoError(t, err)
	assert.True(t, res.Verified)
	assert.Equal(t, domain.StatusPaid, res.Status)

	stored, err := f.store.GetByID(context.Background(), out.Transaction.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaid, stored.Status)
}

func TestApplyCallback_StaleSuccessAfterOrderPaid(t *testing.T) {
	adapter := &fakeAdapter{name: domain.ProviderVNPay}
	f := newFixture(t, adapter)

	// The user abandons attempt A, then pays through attempt B.
	outA, err := f.svc.CreateTransaction(context.Background(), customer(), createParams())
	require.NoError(t, err)
	outB, err := f.svc.CreateTransaction(context.Background(), customer(), createParams())
	require.NoError(t, err)

	adapter.verifyFn = verifiedCallback(outB.Transaction.ProviderRef, domain.OutcomeSucceeded)
	_, err = f.svc.ApplyCallback(context.Background(), domain.ProviderVNPay, provider.CallbackPayload{})
	require.NoError(t, err)
	require.Len(t, f.orders.markPaid, 1)

	// A stale success callback for A arrives after the order is paid. It
	// must not produce a second PAID transaction or confirmation.
	adapter.verifyFn = verifiedCallback(outA.Transaction.ProviderRef, domain.OutcomeSucceeded)
	res, err := f.svc.ApplyCallback(context.Background(), domain.ProviderVNPay, provider.CallbackPayload{})
	require.NoError(t, err)
	assert.True(t, res.Verified)
	assert.Equal(t, domain.StatusPendingConfirmation, res.Status)
	assert.Len(t, f.orders.markPaid, 1)

	txs, err := f.store.ListByOrder(context.Background(), "O1")
	require.NoError(t, err)
	paid := 0
	for _, tx := range txs {
		if tx.Status == domain.StatusPaid {
			paid++
		}
	}
	assert.Equal(t, 1, paid)
}

func TestApplyCallback_AmountMismatchIsAnomaly(t *testing.T) {
	adapter := &fakeAdapter{name: domain.ProviderVNPay}
	f := newFixture(t, adapter)

	out, err := f.svc.CreateTransaction(context.Background(), customer(), createParams())
	require.NoError(t, err)

	adapter.verifyFn = func(provider.CallbackPayload) (provider.VerifyResult, error) {
		return provider.VerifyResult{
			Verified:    true,
			ProviderRef: out.Transaction.ProviderRef,
			Outcome:     domain.OutcomeSucceeded,
			Amount:      25000, // validly signed but wrong
		}, nil
	}
	res, err := f.svc.ApplyCallback(context.Background(), domain.ProviderVNPay, provider.CallbackPayload{})
	require.NoError(t, err)
	assert.True(t, res.Verified)
	assert.Equal(t, domain.StatusPendingConfirmation, res.Status)
	assert.Empty(t, f.orders.markPaid)

	stored, err := f.store.GetByID(context.Background(), out.Transaction.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingConfirmation, stored.Status)
}

func TestApplyCallback_ProviderMismatchRejected(t *testing.T) {
	vnpay := &fakeAdapter{name: domain.ProviderVNPay}
	momo := &fakeAdapter{name: domain.ProviderMoMo}
	f := newFixture(t, vnpay, momo)

	out, err := f.svc.CreateTransaction(context.Background(), customer(), createParams())
	require.NoError(t, err)

	// A signed MoMo callback naming a VNPay reference must not settle it.
	momo.verifyFn = verifiedCallback(out.Transaction.ProviderRef, domain.OutcomeSucceeded)
	res, err := f.svc.ApplyCallback(context.Background(), domain.ProviderMoMo, provider.CallbackPayload{})
	require.NoError(t, err)
	assert.False(t, res.Verified)
	assert.Equal(t, provider.FailureForged, res.Failure)

	stored, err := f.store.GetByID(context.Background(), out.Transaction.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingConfirmation, stored.Status)
}

func TestApplyCallback_SettlesCreatedAfterCrash(t *testing.T) {
	adapter := &fakeAdapter{name: domain.ProviderVNPay}
	f := newFixture(t, adapter)

	// Simulate a crash between persisting CREATED and the gateway ack.
	tx := domain.NewTransaction("O1", domain.ProviderVNPay, "VNPAY_crashed", 250000, "VND")
	require.NoError(t, f.store.CreateForOrder(context.Background(), tx))

	adapter.verifyFn = verifiedCallback("VNPAY_crashed", domain.OutcomeSucceeded)
	res, err := f.svc.ApplyCallback(context.Background(), domain.ProviderVNPay, provider.CallbackPayload{})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaid, res.Status)
	assert.Len(t, f.orders.markPaid, 1)
}

func TestGetByOrder(t *testing.T) {
	f := newFixture(t, &fakeAdapter{name: domain.ProviderVNPay})

	_, err := f.svc.CreateTransaction(context.Background(), customer(), createParams())
	require.NoError(t, err)

	txs, err := f.svc.GetByOrder(context.Background(), customer(), "O1")
	require.NoError(t, err)
	assert.Len(t, txs, 1)

	_, err = f.svc.GetByOrder(context.Background(), domain.Caller{ID: "intruder", Role: domain.RoleCustomer}, "O1")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.svc.GetByOrder(context.Background(), customer(), "missing")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestRefund(t *testing.T) {
	adapter := &fakeAdapter{name: domain.ProviderVNPay}
	f := newFixture(t, adapter)

	out, err := f.svc.CreateTransaction(context.Background(), customer(), createParams())
	require.NoError(t, err)

	_, err = f.svc.Refund(context.Background(), customer(), out.Transaction.ID, "changed mind")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	// Not PAID yet.
	_, err = f.svc.Refund(context.Background(), admin(), out.Transaction.ID, "changed mind")
	assert.ErrorIs(t, err, domain.ErrConflict)

	adapter.verifyFn = verifiedCallback(out.Transaction.ProviderRef, domain.OutcomeSucceeded)
	_, err = f.svc.ApplyCallback(context.Background(), domain.ProviderVNPay, provider.CallbackPayload{})
	require.NoError(t, err)

	tx, err := f.svc.Refund(context.Background(), admin(), out.Transaction.ID, "changed mind")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRefunded, tx.Status)
	assert.Contains(t, f.publisher.types(), "payment.refunded")
}

func TestOverrideStatus(t *testing.T) {
	f := newFixture(t, &fakeAdapter{name: domain.ProviderVNPay})

	out, err := f.svc.CreateTransaction(context.Background(), customer(), createParams())
	require.NoError(t, err)

	_, err = f.svc.OverrideStatus(context.Background(), customer(), out.Transaction.ID, domain.StatusPaid, "support case 42")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.svc.OverrideStatus(context.Background(), admin(), out.Transaction.ID, "SETTLED", "support case 42")
	assert.ErrorIs(t, err, domain.ErrValidation)

	tx, err := f.svc.OverrideStatus(context.Background(), admin(), out.Transaction.ID, domain.StatusPaid, "support case 42")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaid, tx.Status)

	stored, err := f.store.GetByID(context.Background(), out.Transaction.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ConfirmedAt)
}

func TestDelete(t *testing.T) {
	f := newFixture(t, &fakeAdapter{name: domain.ProviderVNPay})

	out, err := f.svc.CreateTransaction(context.Background(), customer(), createParams())
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.Delete(context.Background(), customer(), out.Transaction.ID), domain.ErrForbidden)
	require.NoError(t, f.svc.Delete(context.Background(), admin(), out.Transaction.ID))

	_, err = f.store.GetByID(context.Background(), out.Transaction.ID)
	assert.ErrorIs(t, err, domain.ErrTransactionNotFound)
}

func TestSettlementReport(t *testing.T) {
	f := newFixture(t, &fakeAdapter{name: domain.ProviderVNPay})

	_, err := f.svc.CreateTransaction(context.Background(), customer(), createParams())
	require.NoError(t, err)

	_, err = f.svc.SettlementReport(context.Background(), customer(), time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	assert.ErrorIs(t, err, domain.ErrForbidden)

	report, err := f.svc.SettlementReport(context.Background(), admin(), time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, report.TotalAttempts)
	assert.Equal(t, 1, report.Unsettled)
}

func TestNewServicePanicsOnNil(t *testing.T) {
	assert.Panics(t, func() {
		NewService(nil, nil, nil, nil, nil, nil, nil, nil, 0)
	})
}
