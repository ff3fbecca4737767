package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/finvera/payments/internal/domain"
	"github.com/finvera/payments/internal/testutil"
)

func TestWalletRepository(t *testing.T) {
	pool := testutil.NewTestPool(t)
	repo := NewWalletRepository(pool)
	testutil.ApplyMigrations(t, context.Background(), pool)

	usd := func(s string) domain.Money { return domain.MustMoney(s, "USD") }

	t.Run("GetBalance returns seeded row", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)
		walletID := testutil.SeedBalance(t, ctx, pool, "alice", "USD", "500.00")

		b, err := repo.GetBalance(ctx, "alice", "USD")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if b.WalletID != walletID || b.UserID != "alice" {
			t.Fatalf("unexpected balance row: %+v", b)
		}
		if !b.Available.Equal(decimal.RequireFromString("500.00")) {
			t.Fatalf("expected available 500.00, got %s", b.Available)
		}
		if b.Version != 1 {
			t.Fatalf("expected initial version 1, got %d", b.Version)
		}

		_, err = repo.GetBalance(ctx, "ghost", "USD")
		if !errors.Is(err, domain.ErrWalletNotFound) {
			t.Fatalf("expected ErrWalletNotFound, got %v", err)
		}
	})

	t.Run("hold settle release cycle bumps version", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)
		testutil.SeedBalance(t, ctx, pool, "alice", "USD", "500.00")

		if err := repo.HoldFunds(ctx, "alice", usd("100.00"), 1); err != nil {
			t.Fatalf("hold: %v", err)
		}
		b, err := repo.GetBalance(ctx, "alice", "USD")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if !b.Available.Equal(decimal.RequireFromString("400.00")) || !b.Held.Equal(decimal.RequireFromString("100.00")) {
			t.Fatalf("expected 400/100 after hold, got %s/%s", b.Available, b.Held)
		}
		if b.Version != 2 {
			t.Fatalf("expected version 2, got %d", b.Version)
		}

		if err := repo.SettleHold(ctx, "alice", usd("100.00"), b.Version); err != nil {
			t.Fatalf("settle: %v", err)
		}
		b, _ = repo.GetBalance(ctx, "alice", "USD")
		if !b.Available.Equal(decimal.RequireFromString("400.00")) || !b.Held.IsZero() {
			t.Fatalf("expected 400/0 after settle, got %s/%s", b.Available, b.Held)
		}

		if err := repo.CreditAvailable(ctx, "alice", usd("25.00"), b.Version); err != nil {
			t.Fatalf("credit: %v", err)
		}
		b, _ = repo.GetBalance(ctx, "alice", "USD")
		if !b.Available.Equal(decimal.RequireFromString("425.00")) {
			t.Fatalf("expected 425.00 after credit, got %s", b.Available)
		}
		if b.Version != 4 {
			t.Fatalf("expected version 4, got %d", b.Version)
		}
	})

	t.Run("stale version is rejected", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)
		testutil.SeedBalance(t, ctx, pool, "alice", "USD", "500.00")

		if err := repo.HoldFunds(ctx, "alice", usd("10.00"), 1); err != nil {
			t.Fatalf("first hold: %v", err)
		}
		err := repo.HoldFunds(ctx, "alice", usd("10.00"), 1)
		if !errors.Is(err, domain.ErrConcurrentModification) {
			t.Fatalf("expected ErrConcurrentModification, got %v", err)
		}
		err = repo.CreditAvailable(ctx, "alice", usd("10.00"), 1)
		if !errors.Is(err, domain.ErrConcurrentModification) {
			t.Fatalf("expected ErrConcurrentModification on credit, got %v", err)
		}
	})

	t.Run("insufficient funds", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)
		testutil.SeedBalance(t, ctx, pool, "alice", "USD", "50.00")

		err := repo.HoldFunds(ctx, "alice", usd("100.00"), 1)
		if !errors.Is(err, domain.ErrInsufficientFunds) {
			t.Fatalf("expected ErrInsufficientFunds, got %v", err)
		}

		b, err := repo.GetBalance(ctx, "alice", "USD")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if !b.Available.Equal(decimal.RequireFromString("50.00")) || b.Version != 1 {
			t.Fatalf("expected balance untouched, got %+v", b)
		}
	})

	t.Run("balances are per currency", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)
		walletID := testutil.SeedBalance(t, ctx, pool, "alice", "USD", "100.00")
		if err := repo.CreateBalance(ctx, walletID, "alice", "EUR"); err != nil {
			t.Fatalf("create EUR balance: %v", err)
		}

		if err := repo.HoldFunds(ctx, "alice", usd("40.00"), 1); err != nil {
			t.Fatalf("hold USD: %v", err)
		}
		eur, err := repo.GetBalance(ctx, "alice", "EUR")
		if err != nil {
			t.Fatalf("get EUR: %v", err)
		}
		if !eur.Available.IsZero() || eur.Version != 1 {
			t.Fatalf("expected EUR balance untouched, got %+v", eur)
		}
	})

	t.Run("CreateBalance is idempotent", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)
		walletID := testutil.SeedBalance(t, ctx, pool, "alice", "USD", "100.00")

		if err := repo.CreateBalance(ctx, walletID, "alice", "USD"); err != nil {
			t.Fatalf("expected conflict to be ignored, got %v", err)
		}
		b, err := repo.GetBalance(ctx, "alice", "USD")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if !b.Available.Equal(decimal.RequireFromString("100.00")) {
			t.Fatalf("expected existing balance preserved, got %s", b.Available)
		}
	})
}
