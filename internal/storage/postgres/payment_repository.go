package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/finvera/payments/internal/app"
	"github.com/finvera/payments/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PaymentRepository struct {
	pool *pgxpool.Pool
}

func NewPaymentRepository(pool *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{pool: pool}
}

func (r *PaymentRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return withTx(ctx, r.pool, fn)
}

func (r *PaymentRepository) Create(ctx context.Context, p domain.Payment) error {
	const stmt = `
INSERT INTO payments (
	id, type, state, amount, currency, sender_id, receiver_id,
	idempotency_key, confirmation_code, failure_reason, risk_score,
	created_at, updated_at, completed_at, expires_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err := r.exec(ctx, stmt,
		p.ID,
		p.Type,
		p.State,
		p.Amount.Amount,
		p.Amount.Currency,
		p.SenderID,
		nullableString(p.ReceiverID),
		p.IdempotencyKey,
		nullableString(p.ConfirmationCode),
		nullableString(p.FailureReason),
		p.RiskScore,
		p.CreatedAt,
		p.UpdatedAt,
		p.CompletedAt,
		p.ExpiresAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrIdempotencyConflict
		}
		return fmt.Errorf("create payment: %w", err)
	}
	return nil
}

func (r *PaymentRepository) FindByID(ctx context.Context, id string) (domain.Payment, error) {
	const query = `
SELECT id, type, state, amount, currency, sender_id, receiver_id,
	idempotency_key, confirmation_code, failure_reason, risk_score,
	created_at, updated_at, completed_at, expires_at
FROM payments
WHERE id = $1`

	var (
		p                              domain.Payment
		receiverID, confCode, failure *string
	)
	err := r.queryRow(ctx, query, id).Scan(
		&p.ID, &p.Type, &p.State, &p.Amount.Amount, &p.Amount.Currency,
		&p.SenderID, &receiverID, &p.IdempotencyKey, &confCode, &failure,
		&p.RiskScore, &p.CreatedAt, &p.UpdatedAt, &p.CompletedAt, &p.ExpiresAt,
	)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.Payment{}, domain.ErrInvalidID
		}
		if err == pgx.ErrNoRows {
			return domain.Payment{}, domain.ErrPaymentNotFound
		}
		return domain.Payment{}, fmt.Errorf("find payment: %w", err)
	}
	if receiverID != nil {
		p.ReceiverID = *receiverID
	}
	if confCode != nil {
		p.ConfirmationCode = *confCode
	}
	if failure != nil {
		p.FailureReason = *failure
	}

	holds, err := r.holdsForPayment(ctx, p.ID)
	if err != nil {
		return domain.Payment{}, err
	}
	p.Holds = holds
	return p, nil
}

// UpdateState is compare-and-set on the state column. The from-state
// predicate keeps the state gate atomic: of two racing transitions only
// one matches the row, the other sees zero rows and loses with
// ErrConcurrentModification.
func (r *PaymentRepository) UpdateState(ctx context.Context, id string, from, to domain.PaymentState, fields app.StateFields) error {
	const stmt = `
UPDATE payments
SET state = $3,
	failure_reason = COALESCE(NULLIF($4, ''), failure_reason),
	completed_at = COALESCE($5, completed_at),
	updated_at = $6
WHERE id = $1 AND state = $2`

	tag, err := r.exec(ctx, stmt, id, from, to, fields.FailureReason, fields.CompletedAt, fields.UpdatedAt)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		return fmt.Errorf("update payment state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.queryRow(ctx, `SELECT EXISTS (SELECT 1 FROM payments WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("update payment state: %w", err)
		}
		if !exists {
			return domain.ErrPaymentNotFound
		}
		return domain.ErrConcurrentModification
	}
	return nil
}

func (r *PaymentRepository) CreateHold(ctx context.Context, h domain.PaymentHold) error {
	const stmt = `
INSERT INTO payment_holds (id, payment_id, account_id, amount, currency, reason, release_at, released, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, $8)`

	_, err := r.exec(ctx, stmt,
		h.ID, h.PaymentID, h.AccountID, h.Amount.Amount, h.Amount.Currency,
		h.Reason, h.ReleaseAt, h.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create hold: %w", err)
	}
	return nil
}

func (r *PaymentRepository) ReleaseHold(ctx context.Context, holdID string, releasedAt time.Time) error {
	const stmt = `
UPDATE payment_holds
SET released = TRUE, released_at = $2
WHERE id = $1 AND released = FALSE`

	tag, err := r.exec(ctx, stmt, holdID, releasedAt)
	if err != nil {
		return fmt.Errorf("release hold record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrHoldNotFound
	}
	return nil
}

// DueHolds lists unreleased holds whose automatic-release deadline has
// passed.
func (r *PaymentRepository) DueHolds(ctx context.Context, now time.Time, limit int) ([]domain.PaymentHold, error) {
	const query = `
SELECT id, payment_id, account_id, amount, currency, reason, release_at, released, created_at, released_at
FROM payment_holds
WHERE released = FALSE AND release_at IS NOT NULL AND release_at <= $1
ORDER BY release_at
LIMIT $2`

	rows, err := r.query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due holds: %w", err)
	}
	defer rows.Close()
	return scanHolds(rows)
}

// ExpiredPayments lists payments whose expiry deadline passed while
// still awaiting processing or confirmation.
func (r *PaymentRepository) ExpiredPayments(ctx context.Context, now time.Time, limit int) ([]domain.Payment, error) {
	const query = `
SELECT id, state
FROM payments
WHERE state IN ($1, $2) AND expires_at IS NOT NULL AND expires_at <= $3
ORDER BY expires_at
LIMIT $4`

	rows, err := r.query(ctx, query, domain.StatePending, domain.StatePendingConfirmation, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired payments: %w", err)
	}
	defer rows.Close()

	var out []domain.Payment
	for rows.Next() {
		var p domain.Payment
		if err := rows.Scan(&p.ID, &p.State); err != nil {
			return nil, fmt.Errorf("scan expired payment: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired payments: %w", err)
	}

	for i := range out {
		holds, err := r.holdsForPayment(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Holds = holds
	}
	return out, nil
}

func (r *PaymentRepository) holdsForPayment(ctx context.Context, paymentID string) ([]domain.PaymentHold, error) {
	const query = `
SELECT id, payment_id, account_id, amount, currency, reason, release_at, released, created_at, released_at
FROM payment_holds
WHERE payment_id = $1
ORDER BY created_at`

	rows, err := r.query(ctx, query, paymentID)
	if err != nil {
		return nil, fmt.Errorf("list holds: %w", err)
	}
	defer rows.Close()
	return scanHolds(rows)
}

func scanHolds(rows pgx.Rows) ([]domain.PaymentHold, error) {
	var out []domain.PaymentHold
	for rows.Next() {
		var h domain.PaymentHold
		if err := rows.Scan(
			&h.ID, &h.PaymentID, &h.AccountID, &h.Amount.Amount, &h.Amount.Currency,
			&h.Reason, &h.ReleaseAt, &h.Released, &h.CreatedAt, &h.ReleasedAt,
		); err != nil {
			return nil, fmt.Errorf("scan hold: %w", err)
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate holds: %w", err)
	}
	return out, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (r *PaymentRepository) exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if tx := txFromContext(ctx); tx != nil {
		return tx.Exec(ctx, sql, args...)
	}
	return r.pool.Exec(ctx, sql, args...)
}

func (r *PaymentRepository) queryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if tx := txFromContext(ctx); tx != nil {
		return tx.QueryRow(ctx, sql, args...)
	}
	return r.pool.QueryRow(ctx, sql, args...)
}

func (r *PaymentRepository) query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if tx := txFromContext(ctx); tx != nil {
		return tx.Query(ctx, sql, args...)
	}
	return r.pool.Query(ctx, sql, args...)
}
