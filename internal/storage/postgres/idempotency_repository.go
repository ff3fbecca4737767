package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/finvera/payments/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type IdempotencyRepository struct {
	pool *pgxpool.Pool
}

func NewIdempotencyRepository(pool *pgxpool.Pool) *IdempotencyRepository {
	return &IdempotencyRepository{pool: pool}
}

func (r *IdempotencyRepository) Insert(ctx context.Context, rec domain.IdempotencyRecord) error {
	const stmt = `
INSERT INTO idempotency_keys (key, request_fingerprint, status, result_payload, created_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.pool.Exec(ctx, stmt,
		rec.Key, rec.RequestFingerprint, rec.Status, rec.ResultPayload, rec.CreatedAt, rec.ExpiresAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrIdempotencyConflict
		}
		return fmt.Errorf("insert idempotency record: %w", err)
	}
	return nil
}

func (r *IdempotencyRepository) Find(ctx context.Context, key string) (*domain.IdempotencyRecord, error) {
	const query = `
SELECT key, request_fingerprint, status, result_payload, created_at, expires_at
FROM idempotency_keys
WHERE key = $1`

	var rec domain.IdempotencyRecord
	err := r.pool.QueryRow(ctx, query, key).Scan(
		&rec.Key, &rec.RequestFingerprint, &rec.Status, &rec.ResultPayload, &rec.CreatedAt, &rec.ExpiresAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find idempotency record: %w", err)
	}
	return &rec, nil
}

func (r *IdempotencyRepository) Commit(ctx context.Context, key string, payload []byte) error {
	const stmt = `
UPDATE idempotency_keys
SET status = $2, result_payload = $3
WHERE key = $1`

	tag, err := r.pool.Exec(ctx, stmt, key, domain.IdempotencyCommitted, payload)
	if err != nil {
		return fmt.Errorf("commit idempotency record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrIdempotencyConflict
	}
	return nil
}

func (r *IdempotencyRepository) Delete(ctx context.Context, key string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE key = $1`, key); err != nil {
		return fmt.Errorf("delete idempotency record: %w", err)
	}
	return nil
}

func (r *IdempotencyRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("purge idempotency records: %w", err)
	}
	return tag.RowsAffected(), nil
}
