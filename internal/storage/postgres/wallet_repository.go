package postgres

import (
	"context"
	"fmt"

	"github.com/finvera/payments/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// WalletRepository implements the versioned balance primitives. Every
// mutation is a single compare-and-swap UPDATE predicated on the
// version the caller observed; zero rows affected means the version
// advanced underneath them.
type WalletRepository struct {
	pool *pgxpool.Pool
}

func NewWalletRepository(pool *pgxpool.Pool) *WalletRepository {
	return &WalletRepository{pool: pool}
}

func (r *WalletRepository) GetBalance(ctx context.Context, accountID, currency string) (domain.WalletBalance, error) {
	const query = `
SELECT wallet_id, user_id, currency, available, held, pending, version, updated_at
FROM wallet_balances
WHERE user_id = $1 AND currency = $2`

	var b domain.WalletBalance
	err := r.queryRow(ctx, query, accountID, currency).Scan(
		&b.WalletID, &b.UserID, &b.Currency,
		&b.Available, &b.Held, &b.Pending, &b.Version, &b.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.WalletBalance{}, domain.ErrWalletNotFound
		}
		return domain.WalletBalance{}, fmt.Errorf("get balance: %w", err)
	}
	return b, nil
}

// HoldFunds moves amount from available to held. The available >= amount
// check rides in the same statement as the version check, so two racing
// holds can never both succeed past the balance.
func (r *WalletRepository) HoldFunds(ctx context.Context, accountID string, amount domain.Money, version int64) error {
	const stmt = `
UPDATE wallet_balances
SET available = available - $3,
	held = held + $3,
	version = version + 1,
	updated_at = NOW()
WHERE user_id = $1 AND currency = $2 AND version = $4 AND available >= $3`

	tag, err := r.exec(ctx, stmt, accountID, amount.Currency, amount.Amount, version)
	if err != nil {
		if isCheckViolation(err) {
			return domain.ErrInsufficientFunds
		}
		return fmt.Errorf("hold funds: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.classifyMiss(ctx, accountID, amount, version)
	}
	return nil
}

// ReleaseHold moves amount from held back to available.
func (r *WalletRepository) ReleaseHold(ctx context.Context, accountID string, amount domain.Money, version int64) error {
	const stmt = `
UPDATE wallet_balances
SET held = held - $3,
	available = available + $3,
	version = version + 1,
	updated_at = NOW()
WHERE user_id = $1 AND currency = $2 AND version = $4`

	return r.casExec(ctx, stmt, "release hold", accountID, amount, version)
}

// SettleHold removes amount from held permanently; the funds leave the
// account.
func (r *WalletRepository) SettleHold(ctx context.Context, accountID string, amount domain.Money, version int64) error {
	const stmt = `
UPDATE wallet_balances
SET held = held - $3,
	version = version + 1,
	updated_at = NOW()
WHERE user_id = $1 AND currency = $2 AND version = $4`

	return r.casExec(ctx, stmt, "settle hold", accountID, amount, version)
}

// CreditAvailable increases available directly.
func (r *WalletRepository) CreditAvailable(ctx context.Context, accountID string, amount domain.Money, version int64) error {
	const stmt = `
UPDATE wallet_balances
SET available = available + $3,
	version = version + 1,
	updated_at = NOW()
WHERE user_id = $1 AND currency = $2 AND version = $4`

	return r.casExec(ctx, stmt, "credit available", accountID, amount, version)
}

// CreateBalance provisions a zeroed per-currency balance row.
func (r *WalletRepository) CreateBalance(ctx context.Context, walletID, userID, currency string) error {
	const stmt = `
INSERT INTO wallet_balances (wallet_id, user_id, currency, available, held, pending, version, updated_at)
VALUES ($1, $2, $3, 0, 0, 0, 1, NOW())
ON CONFLICT (user_id, currency) DO NOTHING`

	if _, err := r.exec(ctx, stmt, walletID, userID, currency); err != nil {
		return fmt.Errorf("create balance: %w", err)
	}
	return nil
}

func (r *WalletRepository) casExec(ctx context.Context, stmt, op string, accountID string, amount domain.Money, version int64) error {
	tag, err := r.exec(ctx, stmt, accountID, amount.Currency, amount.Amount, version)
	if err != nil {
		if isCheckViolation(err) {
			return domain.ErrInsufficientFunds
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return r.classifyMiss(ctx, accountID, amount, version)
	}
	return nil
}

// classifyMiss distinguishes a stale version from a missing row or
// genuinely insufficient funds after a zero-row CAS update.
func (r *WalletRepository) classifyMiss(ctx context.Context, accountID string, amount domain.Money, version int64) error {
	current, err := r.GetBalance(ctx, accountID, amount.Currency)
	if err != nil {
		return err
	}
	if current.Version != version {
		return domain.ErrConcurrentModification
	}
	return domain.ErrInsufficientFunds
}

func (r *WalletRepository) exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if tx := txFromContext(ctx); tx != nil {
		return tx.Exec(ctx, sql, args...)
	}
	return r.pool.Exec(ctx, sql, args...)
}

func (r *WalletRepository) queryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if tx := txFromContext(ctx); tx != nil {
		return tx.QueryRow(ctx, sql, args...)
	}
	return r.pool.QueryRow(ctx, sql, args...)
}
