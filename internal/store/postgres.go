package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/yourorg/booking-payments/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS transactions (
	id             UUID PRIMARY KEY,
	order_id       TEXT NOT NULL,
	provider       TEXT NOT NULL,
	provider_ref   TEXT NOT NULL,
	amount         BIGINT NOT NULL,
	currency       TEXT NOT NULL,
	status         TEXT NOT NULL,
	failure_reason TEXT NOT NULL DEFAULT '',
	raw_payload    BYTEA,
	created_at     TIMESTAMPTZ NOT NULL,
	confirmed_at   TIMESTAMPTZ
);
CREATE UNIQUE INDEX IF NOT EXISTS transactions_provider_ref_key ON transactions (provider_ref);
CREATE INDEX IF NOT EXISTS transactions_order_id_idx ON transactions (order_id);
CREATE UNIQUE INDEX IF NOT EXISTS transactions_one_paid_per_order ON transactions (order_id) WHERE status = 'PAID';
`

const selectColumns = `id, order_id, provider, provider_ref, amount, currency, status, failure_reason, raw_payload, created_at, confirmed_at`

// Postgres is the durable Store. The one-PAID-per-order invariant is held
// twice: the partial unique index is the backstop, and CreateForOrder takes
// a per-order advisory lock so the duplicate check and the insert are one
// atomic unit.
type Postgres struct {
	db *sql.DB
}

// NewPostgres opens the database and ensures the schema exists.
func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("postgres store: ensuring schema: %w", err)
	}
	return &Postgres{db: db}, nil
}

// NewPostgresFromDB wraps an existing handle; used by tests.
func NewPostgresFromDB(db *sql.DB) *Postgres { return &Postgres{db: db} }

func (p *Postgres) Close() error { return p.db.Close() }

func (p *Postgres) CreateForOrder(ctx context.Context, tx *domain.Transaction) error {
	dbtx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres store: begin: %w", err)
	}
	defer dbtx.Rollback()

	// Serialize concurrent creates for the same order; the lock releases at
	// commit/rollback.
	if _, err := dbtx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, tx.OrderID); err != nil {
		return fmt.Errorf("postgres store: order lock: %w", err)
	}

	var paidExists bool
	err = dbtx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM transactions WHERE order_id = $1 AND status = $2)`,
		tx.OrderID, domain.StatusPaid).Scan(&paidExists)
	if err != nil {
		return fmt.Errorf("postgres store: duplicate check: %w", err)
	}
	if paidExists {
		return fmt.Errorf("postgres store: order %s: %w", tx.OrderID, domain.ErrDuplicatePayment)
	}

	_, err = dbtx.ExecContext(ctx,
		`INSERT INTO transactions (id, order_id, provider, provider_ref, amount, currency, status, failure_reason, raw_payload, created_at, confirmed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		tx.ID, tx.OrderID, tx.Provider, tx.ProviderRef, tx.Amount, tx.Currency,
		tx.Status, tx.FailureReason, tx.RawPayload, tx.CreatedAt, tx.ConfirmedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			if strings.Contains(pqErr.Constraint, "provider_ref") {
				return fmt.Errorf("postgres store: %w", ErrRefTaken)
			}
			return fmt.Errorf("postgres store: %w", domain.ErrDuplicatePayment)
		}
		return fmt.Errorf("postgres store: insert: %w", err)
	}
	if err := dbtx.Commit(); err != nil {
		return fmt.Errorf("postgres store: commit: %w", err)
	}
	return nil
}

func scanTransaction(row interface{ Scan(...any) error }) (*domain.Transaction, error) {
	var tx domain.Transaction
	var confirmed sql.NullTime
	err := row.Scan(&tx.ID, &tx.OrderID, &tx.Provider, &tx.ProviderRef, &tx.Amount,
		&tx.Currency, &tx.Status, &tx.FailureReason, &tx.RawPayload, &tx.CreatedAt, &confirmed)
	if err != nil {
		return nil, err
	}
	if confirmed.Valid {
		tx.ConfirmedAt = &confirmed.Time
	}
	return &tx, nil
}

func (p *Postgres) getWhere(ctx context.Context, clause string, arg any) (*domain.Transaction, error) {
	tx, err := scanTransaction(p.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM transactions WHERE `+clause, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("postgres store: %w", domain.ErrTransactionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres store: query: %w", err)
	}
	return tx, nil
}

func (p *Postgres) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	return p.getWhere(ctx, "id = $1", id)
}

func (p *Postgres) GetByProviderRef(ctx context.Context, ref string) (*domain.Transaction, error) {
	return p.getWhere(ctx, "provider_ref = $1", ref)
}

func (p *Postgres) listWhere(ctx context.Context, clause string, args ...any) ([]*domain.Transaction, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM transactions WHERE `+clause+` ORDER BY created_at`, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: query: %w", err)
	}
	defer rows.Close()

	var out []*domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres store: scan: %w", err)
		}
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres store: rows: %w", err)
	}
	return out, nil
}

func (p *Postgres) ListByOrder(ctx context.Context, orderID string) ([]*domain.Transaction, error) {
	return p.listWhere(ctx, "order_id = $1", orderID)
}

func (p *Postgres) ListCreatedBetween(ctx context.Context, from, to time.Time) ([]*domain.Transaction, error) {
	return p.listWhere(ctx, "created_at >= $1 AND created_at < $2", from, to)
}

func (p *Postgres) Transition(ctx context.Context, id string, from, to domain.Status, upd TransitionUpdate) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE transactions
		 SET status = $1,
		     failure_reason = CASE WHEN $2 <> '' THEN $2 ELSE failure_reason END,
		     raw_payload = COALESCE($3, raw_payload),
		     confirmed_at = COALESCE($4, confirmed_at)
		 WHERE id = $5 AND status = $6`,
		to, upd.FailureReason, upd.RawPayload, upd.ConfirmedAt, id, from)
	if err != nil {
		// The one-PAID-per-order partial index also guards transitions: a
		// second attempt settling an already-paid order violates it here.
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("postgres store: %w", domain.ErrDuplicatePayment)
		}
		return fmt.Errorf("postgres store: transition: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres store: transition result: %w", err)
	}
	if n == 1 {
		return nil
	}

	// No row matched: stale CAS or missing transaction.
	if _, err := p.GetByID(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("postgres store: %s not in %s: %w", id, from, domain.ErrConflict)
}

func (p *Postgres) Delete(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM transactions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres store: delete: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres store: delete result: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("postgres store: %w", domain.ErrTransactionNotFound)
	}
	return nil
}
