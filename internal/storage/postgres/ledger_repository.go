package postgres

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/finvera/payments/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// LedgerRepository is the append-only journal. Entries are signed at
// append time and re-verified on read; there is no update or delete
// path.
type LedgerRepository struct {
	pool *pgxpool.Pool
}

func NewLedgerRepository(pool *pgxpool.Pool) *LedgerRepository {
	return &LedgerRepository{pool: pool}
}

// Append assigns each entry the next per-account sequence inside one
// transaction, signs it and inserts it. A per-account transaction-level
// advisory lock serializes concurrent appends touching the same
// account, so the MAX(sequence)+1 read never hands out the same number
// twice; the unique (account_id, sequence) index backs that up.
func (r *LedgerRepository) Append(ctx context.Context, entries ...domain.LedgerEntry) ([]domain.LedgerEntry, error) {
	out := make([]domain.LedgerEntry, len(entries))
	err := withTx(ctx, r.pool, func(txCtx context.Context) error {
		tx := txFromContext(txCtx)

		// Accounts are locked in sorted order so two overlapping batches
		// cannot deadlock on each other.
		for _, account := range distinctAccounts(entries) {
			if _, err := tx.Exec(txCtx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, "ledger:"+account); err != nil {
				return fmt.Errorf("lock account journal: %w", err)
			}
		}

		for i, entry := range entries {
			var seq int64
			err := tx.QueryRow(txCtx, `
SELECT COALESCE(MAX(sequence), 0) + 1
FROM ledger_entries
WHERE account_id = $1`, entry.AccountID).Scan(&seq)
			if err != nil {
				return fmt.Errorf("next sequence: %w", err)
			}

			entry.Sequence = seq
			entry.Timestamp = entry.Timestamp.UTC().Truncate(time.Microsecond)
			entry.Signature = domain.SignEntry(entry)

			_, err = tx.Exec(txCtx, `
INSERT INTO ledger_entries (id, type, amount, currency, account_id, payment_id, correlation_id, sequence, ts, signature)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
				entry.ID, entry.Type, entry.Amount.Amount, entry.Amount.Currency,
				entry.AccountID, nullableString(entry.PaymentID), entry.CorrelationID,
				entry.Sequence, entry.Timestamp, entry.Signature,
			)
			if err != nil {
				return fmt.Errorf("append ledger entry: %w", err)
			}
			out[i] = entry
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func distinctAccounts(entries []domain.LedgerEntry) []string {
	seen := make(map[string]struct{}, len(entries))
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if _, ok := seen[e.AccountID]; ok {
			continue
		}
		seen[e.AccountID] = struct{}{}
		out = append(out, e.AccountID)
	}
	sort.Strings(out)
	return out
}

func (r *LedgerRepository) EntriesForAccount(ctx context.Context, accountID string) ([]domain.LedgerEntry, error) {
	const query = `
SELECT id, type, amount, currency, account_id, payment_id, correlation_id, sequence, ts, signature
FROM ledger_entries
WHERE account_id = $1
ORDER BY sequence`

	return r.list(ctx, query, accountID)
}

func (r *LedgerRepository) EntriesForPayment(ctx context.Context, paymentID string) ([]domain.LedgerEntry, error) {
	const query = `
SELECT id, type, amount, currency, account_id, payment_id, correlation_id, sequence, ts, signature
FROM ledger_entries
WHERE payment_id = $1
ORDER BY ts, sequence`

	return r.list(ctx, query, paymentID)
}

func (r *LedgerRepository) list(ctx context.Context, query string, arg any) ([]domain.LedgerEntry, error) {
	var rows pgx.Rows
	var err error
	if tx := txFromContext(ctx); tx != nil {
		rows, err = tx.Query(ctx, query, arg)
	} else {
		rows, err = r.pool.Query(ctx, query, arg)
	}
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	var out []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		var paymentID *string
		if err := rows.Scan(
			&e.ID, &e.Type, &e.Amount.Amount, &e.Amount.Currency,
			&e.AccountID, &paymentID, &e.CorrelationID, &e.Sequence, &e.Timestamp, &e.Signature,
		); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		if paymentID != nil {
			e.PaymentID = *paymentID
		}
		if err := domain.VerifyEntry(e); err != nil {
			return nil, fmt.Errorf("entry %s: %w", e.ID, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger entries: %w", err)
	}
	return out, nil
}
