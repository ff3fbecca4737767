package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type txKey struct{}

// withTx runs fn inside a transaction, reusing the transaction already on
// the context when nested.
func withTx(ctx context.Context, pool *pgxpool.Pool, fn func(ctx context.Context) error) error {
	if txFromContext(ctx) != nil {
		return fn(ctx)
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

func txFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txKey{}).(pgx.Tx)
	return tx
}

// Postgres error codes the repositories translate into domain errors.
const (
	pgUniqueViolation = "23505"
	pgCheckViolation  = "23514"
	pgInvalidTextRep  = "22P02"
)

func pgErrCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isUniqueViolation(err error) bool { return pgErrCode(err) == pgUniqueViolation }

// isCheckViolation detects the non-negative sub-balance constraints on
// wallet_balances.
func isCheckViolation(err error) bool { return pgErrCode(err) == pgCheckViolation }

func isInvalidUUID(err error) bool { return pgErrCode(err) == pgInvalidTextRep }
