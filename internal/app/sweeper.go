package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/finvera/payments/internal/clock"
	"github.com/finvera/payments/internal/domain"
)

// SweeperStore lists work for the expiry sweep.
type SweeperStore interface {
	DueHolds(ctx context.Context, now time.Time, limit int) ([]domain.PaymentHold, error)
	ExpiredPayments(ctx context.Context, now time.Time, limit int) ([]domain.Payment, error)
}

const (
	defaultSweepInterval = 30 * time.Second
	sweepBatchSize       = 100
)

// Sweeper is the periodic collaborator that releases overdue holds,
// expires overdue payments and purges stale idempotency records. It
// runs outside the request path; orchestration never polls for expiry.
type Sweeper struct {
	store    SweeperStore
	payments PaymentRepository
	wallets  WalletStore
	guard    IdempotencyStore
	clock    clock.Clock
	logger   *slog.Logger
	interval time.Duration
}

func NewSweeper(
	store SweeperStore,
	payments PaymentRepository,
	wallets WalletStore,
	guard IdempotencyStore,
	clk clock.Clock,
	logger *slog.Logger,
	interval time.Duration,
) *Sweeper {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	return &Sweeper{
		store:    store,
		payments: payments,
		wallets:  wallets,
		guard:    guard,
		clock:    clk,
		logger:   logger,
		interval: interval,
	}
}

// Run loops until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("expiry sweeper started", "interval", s.interval.String())
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("expiry sweeper stopped")
			return
		case <-ticker.C:
			if err := s.SweepOnce(ctx); err != nil {
				s.logger.Error("sweep failed", "error", err)
			}
		}
	}
}

// SweepOnce performs a single pass.
func (s *Sweeper) SweepOnce(ctx context.Context) error {
	now := s.clock.Now()

	holds, err := s.store.DueHolds(ctx, now, sweepBatchSize)
	if err != nil {
		return err
	}
	for _, hold := range holds {
		if err := s.releaseHold(ctx, hold); err != nil {
			s.logger.Error("release overdue hold", "hold_id", hold.ID, "error", err)
		}
	}

	expired, err := s.store.ExpiredPayments(ctx, now, sweepBatchSize)
	if err != nil {
		return err
	}
	for _, p := range expired {
		if err := s.expirePayment(ctx, p, now); err != nil {
			s.logger.Error("expire payment", "payment_id", p.ID, "error", err)
		}
	}

	purged, err := s.guard.DeleteExpired(ctx, now)
	if err != nil {
		return err
	}
	if len(holds) > 0 || len(expired) > 0 || purged > 0 {
		s.logger.Info("sweep complete",
			"holds_released", len(holds),
			"payments_expired", len(expired),
			"idempotency_purged", purged,
		)
	}
	return nil
}

func (s *Sweeper) releaseHold(ctx context.Context, hold domain.PaymentHold) error {
	for attempt := 1; ; attempt++ {
		balance, err := s.wallets.GetBalance(ctx, hold.AccountID, hold.Amount.Currency)
		if err != nil {
			return err
		}
		err = s.wallets.ReleaseHold(ctx, hold.AccountID, hold.Amount, balance.Version)
		if err == nil {
			break
		}
		if !errors.Is(err, domain.ErrConcurrentModification) || attempt == walletMaxAttempts {
			return err
		}
	}
	if err := s.payments.ReleaseHold(ctx, hold.ID, s.clock.Now()); err != nil {
		return err
	}

	// A payment still PROCESSING with an overdue hold is stuck; fail it
	// so it cannot linger there forever.
	p, err := s.payments.FindByID(ctx, hold.PaymentID)
	if err != nil {
		return err
	}
	if p.State == domain.StateProcessing {
		err := s.payments.UpdateState(ctx, p.ID, domain.StateProcessing, domain.StateFailed, StateFields{
			FailureReason: "hold expired during processing",
			UpdatedAt:     s.clock.Now(),
		})
		if errors.Is(err, domain.ErrConcurrentModification) {
			// The payment moved on while we were releasing; nothing to fail.
			return nil
		}
		return err
	}
	return nil
}

func (s *Sweeper) expirePayment(ctx context.Context, p domain.Payment, now time.Time) error {
	if !domain.CanTransition(p.State, domain.StateExpired) {
		return nil
	}
	if hold := domain.ActiveHold(p); hold != nil {
		if err := s.releaseHold(ctx, *hold); err != nil {
			return err
		}
	}
	err := s.payments.UpdateState(ctx, p.ID, p.State, domain.StateExpired, StateFields{
		FailureReason: "payment expired",
		UpdatedAt:     now,
	})
	if errors.Is(err, domain.ErrConcurrentModification) {
		return nil
	}
	return err
}
