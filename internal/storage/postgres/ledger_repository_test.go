package postgres

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/finvera/payments/internal/domain"
	"github.com/finvera/payments/internal/testutil"
)

func TestLedgerRepository(t *testing.T) {
	pool := testutil.NewTestPool(t)
	repo := NewLedgerRepository(pool)
	testutil.ApplyMigrations(t, context.Background(), pool)

	entry := func(account string, typ domain.EntryType) domain.LedgerEntry {
		return domain.LedgerEntry{
			ID:            uuid.NewString(),
			Type:          typ,
			Amount:        domain.MustMoney("100.00", "USD"),
			AccountID:     account,
			CorrelationID: uuid.NewString(),
			Timestamp:     time.Now().UTC(),
		}
	}

	t.Run("Append assigns per-account sequences", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)

		first, err := repo.Append(ctx, entry("alice", domain.EntryDebit), entry("bob", domain.EntryCredit))
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		if first[0].Sequence != 1 || first[1].Sequence != 1 {
			t.Fatalf("expected both accounts to start at 1, got %d and %d", first[0].Sequence, first[1].Sequence)
		}

		second, err := repo.Append(ctx, entry("alice", domain.EntryCredit))
		if err != nil {
			t.Fatalf("second append: %v", err)
		}
		if second[0].Sequence != 2 {
			t.Fatalf("expected alice sequence 2, got %d", second[0].Sequence)
		}
	})

	t.Run("concurrent appends to one account never collide", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)

		const appenders = 8
		var wg sync.WaitGroup
		errs := make([]error, appenders)
		for i := 0; i < appenders; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = repo.Append(ctx, entry("treasury", domain.EntryDebit))
			}(i)
		}
		wg.Wait()

		for i, err := range errs {
			if err != nil {
				t.Fatalf("appender %d: %v", i, err)
			}
		}
		got, err := repo.EntriesForAccount(ctx, "treasury")
		if err != nil {
			t.Fatalf("read back: %v", err)
		}
		if len(got) != appenders {
			t.Fatalf("expected %d entries, got %d", appenders, len(got))
		}
		for i, e := range got {
			if e.Sequence != int64(i+1) {
				t.Fatalf("expected dense sequences, got %d at position %d", e.Sequence, i)
			}
		}
	})

	t.Run("entries survive a round trip with valid signatures", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)

		e := entry("alice", domain.EntryDebit)
		e.PaymentID = uuid.NewString()
		appended, err := repo.Append(ctx, e)
		if err != nil {
			t.Fatalf("append: %v", err)
		}

		got, err := repo.EntriesForAccount(ctx, "alice")
		if err != nil {
			t.Fatalf("read back: %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("expected one entry, got %d", len(got))
		}
		if got[0].Signature != appended[0].Signature {
			t.Fatalf("signature changed across round trip")
		}
		if !got[0].Amount.Equal(e.Amount) {
			t.Fatalf("amount changed: %s vs %s", got[0].Amount.Amount, e.Amount.Amount)
		}

		byPayment, err := repo.EntriesForPayment(ctx, e.PaymentID)
		if err != nil || len(byPayment) != 1 {
			t.Fatalf("expected one entry by payment, got %d (%v)", len(byPayment), err)
		}
	})

	t.Run("tampered row is refused on read", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)

		e := entry("alice", domain.EntryDebit)
		if _, err := repo.Append(ctx, e); err != nil {
			t.Fatalf("append: %v", err)
		}
		if _, err := pool.Exec(ctx, `UPDATE ledger_entries SET amount = 999 WHERE id = $1`, e.ID); err != nil {
			t.Fatalf("tamper: %v", err)
		}

		_, err := repo.EntriesForAccount(ctx, "alice")
		if !errors.Is(err, domain.ErrLedgerTampered) {
			t.Fatalf("expected ErrLedgerTampered, got %v", err)
		}
	})

	t.Run("EntriesForAccount orders by sequence", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)

		for i := 0; i < 3; i++ {
			if _, err := repo.Append(ctx, entry("alice", domain.EntryCredit)); err != nil {
				t.Fatalf("append %d: %v", i, err)
			}
		}
		got, err := repo.EntriesForAccount(ctx, "alice")
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		for i, e := range got {
			if e.Sequence != int64(i+1) {
				t.Fatalf("expected sequence %d at position %d, got %d", i+1, i, e.Sequence)
			}
		}
	})
}

func TestIdempotencyRepository(t *testing.T) {
	pool := testutil.NewTestPool(t)
	repo := NewIdempotencyRepository(pool)
	testutil.ApplyMigrations(t, context.Background(), pool)

	record := func(key string, expiresAt time.Time) domain.IdempotencyRecord {
		return domain.IdempotencyRecord{
			Key:                key,
			RequestFingerprint: "fp",
			Status:             domain.IdempotencyInProgress,
			CreatedAt:          time.Now().UTC(),
			ExpiresAt:          expiresAt,
		}
	}

	t.Run("duplicate insert conflicts", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)

		rec := record("k1", time.Now().Add(time.Hour).UTC())
		if err := repo.Insert(ctx, rec); err != nil {
			t.Fatalf("insert: %v", err)
		}
		if err := repo.Insert(ctx, rec); !errors.Is(err, domain.ErrIdempotencyConflict) {
			t.Fatalf("expected ErrIdempotencyConflict, got %v", err)
		}
	})

	t.Run("commit stores the payload", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)

		if err := repo.Insert(ctx, record("k1", time.Now().Add(time.Hour).UTC())); err != nil {
			t.Fatalf("insert: %v", err)
		}
		if err := repo.Commit(ctx, "k1", []byte(`{"id":"p1"}`)); err != nil {
			t.Fatalf("commit: %v", err)
		}

		rec, err := repo.Find(ctx, "k1")
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		if rec == nil || rec.Status != domain.IdempotencyCommitted {
			t.Fatalf("expected committed record, got %+v", rec)
		}
		if string(rec.ResultPayload) != `{"id":"p1"}` {
			t.Fatalf("unexpected payload %q", rec.ResultPayload)
		}
	})

	t.Run("find missing returns nil", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)

		rec, err := repo.Find(ctx, "missing")
		if err != nil || rec != nil {
			t.Fatalf("expected nil record, got %+v (%v)", rec, err)
		}
	})

	t.Run("DeleteExpired purges only stale keys", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)
		now := time.Now().UTC()

		if err := repo.Insert(ctx, record("stale", now.Add(-time.Hour))); err != nil {
			t.Fatalf("insert stale: %v", err)
		}
		if err := repo.Insert(ctx, record("live", now.Add(time.Hour))); err != nil {
			t.Fatalf("insert live: %v", err)
		}

		purged, err := repo.DeleteExpired(ctx, now)
		if err != nil {
			t.Fatalf("purge: %v", err)
		}
		if purged != 1 {
			t.Fatalf("expected 1 purged, got %d", purged)
		}
		if rec, _ := repo.Find(ctx, "live"); rec == nil {
			t.Fatalf("expected live record to survive")
		}
	})
}
