package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/yourorg/booking-payments/internal/domain"
)

// Memory is an in-process Store used by tests and local runs. A single lock
// serializes every check-then-act sequence, which trivially satisfies the
// atomicity the interface demands.
type Memory struct {
	mu    sync.Mutex
	byID  map[string]*domain.Transaction
	byRef map[string]string // providerRef -> id
}

func NewMemory() *Memory {
	return &Memory{
		byID:  make(map[string]*domain.Transaction),
		byRef: make(map[string]string),
	}
}

func clone(tx *domain.Transaction) *domain.Transaction {
	c := *tx
	if tx.ConfirmedAt != nil {
		at := *tx.ConfirmedAt
		c.ConfirmedAt = &at
	}
	if tx.RawPayload != nil {
		c.RawPayload = append([]byte(nil), tx.RawPayload...)
	}
	return &c
}

func (m *Memory) CreateForOrder(_ context.Context, tx *domain.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, taken := m.byRef[tx.ProviderRef]; taken {
		return fmt.Errorf("memory store: %w", ErrRefTaken)
	}
	for _, existing := range m.byID {
		if existing.OrderID == tx.OrderID && existing.Status == domain.StatusPaid {
			return fmt.Errorf("memory store: %w", domain.ErrDuplicatePayment)
		}
	}
	m.byID[tx.ID] = clone(tx)
	m.byRef[tx.ProviderRef] = tx.ID
	return nil
}

func (m *Memory) GetByID(_ context.Context, id string) (*domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.byID[id]
	if !ok {
		return nil, fmt.Errorf("memory store: %w", domain.ErrTransactionNotFound)
	}
	return clone(tx), nil
}

func (m *Memory) GetByProviderRef(_ context.Context, ref string) (*domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byRef[ref]
	if !ok {
		return nil, fmt.Errorf("memory store: %w", domain.ErrTransactionNotFound)
	}
	return clone(m.byID[id]), nil
}

func (m *Memory) ListByOrder(_ context.Context, orderID string) ([]*domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Transaction
	for _, tx := range m.byID {
		if tx.OrderID == orderID {
			out = append(out, clone(tx))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) ListCreatedBetween(_ context.Context, from, to time.Time) ([]*domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Transaction
	for _, tx := range m.byID {
		if !tx.CreatedAt.Before(from) && tx.CreatedAt.Before(to) {
			out = append(out, clone(tx))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) Transition(_ context.Context, id string, from, to domain.Status, upd TransitionUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, ok := m.byID[id]
	if !ok {
		return fmt.Errorf("memory store: %w", domain.ErrTransactionNotFound)
	}
	if tx.Status != from {
		return fmt.Errorf("memory store: %s is %s, not %s: %w", id, tx.Status, from, domain.ErrConflict)
	}
	if to == domain.StatusPaid {
		// Same guarantee as the partial unique index in Postgres: at most
		// one PAID transaction per order, no matter which path writes it.
		for _, other := range m.byID {
			if other.ID != tx.ID && other.OrderID == tx.OrderID && other.Status == domain.StatusPaid {
				return fmt.Errorf("memory store: order %s already paid by %s: %w",
					tx.OrderID, other.ID, domain.ErrDuplicatePayment)
			}
		}
	}
	tx.Status = to
	if upd.FailureReason != "" {
		tx.FailureReason = upd.FailureReason
	}
	if upd.RawPayload != nil {
		tx.RawPayload = append([]byte(nil), upd.RawPayload...)
	}
	if upd.ConfirmedAt != nil {
		at := *upd.ConfirmedAt
		tx.ConfirmedAt = &at
	}
	return nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.byID[id]
	if !ok {
		return fmt.Errorf("memory store: %w", domain.ErrTransactionNotFound)
	}
	delete(m.byRef, tx.ProviderRef)
	delete(m.byID, id)
	return nil
}
