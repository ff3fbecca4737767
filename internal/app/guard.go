package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/finvera/payments/internal/clock"
	"github.com/finvera/payments/internal/domain"
)

// IdempotencyStore persists idempotency records. Insert must fail with
// domain.ErrIdempotencyConflict when the key already exists.
type IdempotencyStore interface {
	Insert(ctx context.Context, rec domain.IdempotencyRecord) error
	Find(ctx context.Context, key string) (*domain.IdempotencyRecord, error)
	Commit(ctx context.Context, key string, payload []byte) error
	Delete(ctx context.Context, key string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

const (
	defaultRetention    = 24 * time.Hour
	defaultPollInterval = 50 * time.Millisecond
	defaultWaitTimeout  = 10 * time.Second
)

// Guard maps a caller-supplied key to the outcome of the first
// successful attempt. Under concurrent calls with the same key exactly
// one caller acquires; the rest wait for the committed result and
// replay it without re-executing side effects.
type Guard struct {
	store        IdempotencyStore
	clock        clock.Clock
	retention    time.Duration
	pollInterval time.Duration
	waitTimeout  time.Duration
}

func NewGuard(store IdempotencyStore, clk clock.Clock, opts ...GuardOption) *Guard {
	g := &Guard{
		store:        store,
		clock:        clk,
		retention:    defaultRetention,
		pollInterval: defaultPollInterval,
		waitTimeout:  defaultWaitTimeout,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type GuardOption func(*Guard)

// WithRetention overrides how long committed records are replayable.
func WithRetention(d time.Duration) GuardOption {
	return func(g *Guard) {
		if d > 0 {
			g.retention = d
		}
	}
}

// WithWaitTimeout bounds how long a duplicate caller waits for the
// winner to commit.
func WithWaitTimeout(poll, timeout time.Duration) GuardOption {
	return func(g *Guard) {
		if poll > 0 {
			g.pollInterval = poll
		}
		if timeout > 0 {
			g.waitTimeout = timeout
		}
	}
}

// Acquisition is the result of Acquire. When Replayed is true the
// guarded operation already ran and Payload holds its stored result;
// otherwise the caller owns the key and must Commit or Release it.
type Acquisition struct {
	Replayed bool
	Payload  []byte
}

// Acquire claims key for a request with the given content fingerprint.
// A reused key with a different fingerprint is a caller bug and fails
// with domain.ErrIdempotencyConflict.
func (g *Guard) Acquire(ctx context.Context, key, fingerprint string) (Acquisition, error) {
	if key == "" {
		return Acquisition{}, domain.ErrIdempotencyKeyRequired
	}

	now := g.clock.Now()
	existing, err := g.store.Find(ctx, key)
	if err != nil {
		return Acquisition{}, fmt.Errorf("find idempotency record: %w", err)
	}
	if existing != nil && existing.ExpiresAt.After(now) {
		return g.resolve(ctx, *existing, fingerprint)
	}
	if existing != nil {
		// Expired record: the window has passed, treat as a new request.
		if err := g.store.Delete(ctx, key); err != nil {
			return Acquisition{}, fmt.Errorf("delete expired idempotency record: %w", err)
		}
	}

	rec := domain.IdempotencyRecord{
		Key:                key,
		RequestFingerprint: fingerprint,
		Status:             domain.IdempotencyInProgress,
		CreatedAt:          now,
		ExpiresAt:          now.Add(g.retention),
	}
	if err := g.store.Insert(ctx, rec); err != nil {
		if errors.Is(err, domain.ErrIdempotencyConflict) {
			// Lost the race; re-read and wait on the winner.
			current, ferr := g.store.Find(ctx, key)
			if ferr != nil {
				return Acquisition{}, fmt.Errorf("re-read idempotency record: %w", ferr)
			}
			if current != nil {
				return g.resolve(ctx, *current, fingerprint)
			}
		}
		return Acquisition{}, fmt.Errorf("insert idempotency record: %w", err)
	}
	return Acquisition{}, nil
}

// Commit stores the guarded operation's result for replay.
func (g *Guard) Commit(ctx context.Context, key string, payload []byte) error {
	if err := g.store.Commit(ctx, key, payload); err != nil {
		return fmt.Errorf("commit idempotency record: %w", err)
	}
	return nil
}

// Release abandons the key after a failed attempt so a retry can
// execute again.
func (g *Guard) Release(ctx context.Context, key string) error {
	if err := g.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("release idempotency record: %w", err)
	}
	return nil
}

func (g *Guard) resolve(ctx context.Context, rec domain.IdempotencyRecord, fingerprint string) (Acquisition, error) {
	if rec.RequestFingerprint != fingerprint {
		return Acquisition{}, domain.ErrIdempotencyConflict
	}
	if rec.Status == domain.IdempotencyCommitted {
		return Acquisition{Replayed: true, Payload: rec.ResultPayload}, nil
	}
	return g.waitForCommit(ctx, rec.Key, fingerprint)
}

// waitForCommit polls until the in-flight winner commits, releases, or
// the wait timeout expires.
func (g *Guard) waitForCommit(ctx context.Context, key, fingerprint string) (Acquisition, error) {
	deadline := time.Now().Add(g.waitTimeout)
	ticker := time.NewTicker(g.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return Acquisition{}, ctx.Err()
		case <-ticker.C:
		}

		rec, err := g.store.Find(ctx, key)
		if err != nil {
			return Acquisition{}, fmt.Errorf("poll idempotency record: %w", err)
		}
		if rec == nil {
			// Winner failed and released; this caller may retry from scratch.
			return g.Acquire(ctx, key, fingerprint)
		}
		if rec.RequestFingerprint != fingerprint {
			return Acquisition{}, domain.ErrIdempotencyConflict
		}
		if rec.Status == domain.IdempotencyCommitted {
			return Acquisition{Replayed: true, Payload: rec.ResultPayload}, nil
		}
		if time.Now().After(deadline) {
			return Acquisition{}, domain.ErrIdempotencyInFlight
		}
	}
}
