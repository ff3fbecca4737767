package app

import (
	"context"
	"fmt"
	"time"

	"github.com/finvera/payments/internal/domain"
)

// RefundPayment undoes a COMPLETED payment: funds move back from the
// receiver to the sender and a reversal pair is appended.
func (s *PaymentService) RefundPayment(ctx context.Context, id, reason string) (domain.Payment, error) {
	return s.reverse(ctx, id, reason, domain.StateRefunded)
}

// ChargebackPayment is the dispute-driven variant of a refund; the
// fund movement is identical, only the terminal state differs.
func (s *PaymentService) ChargebackPayment(ctx context.Context, id, reason string) (domain.Payment, error) {
	return s.reverse(ctx, id, reason, domain.StateChargeback)
}

func (s *PaymentService) reverse(ctx context.Context, id, reason string, to domain.PaymentState) (domain.Payment, error) {
	p, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return domain.Payment{}, err
	}
	if p.State != domain.StateCompleted {
		return domain.Payment{}, fmt.Errorf("%w: cannot reverse payment in state %s",
			domain.ErrInvalidStateTransition, p.State)
	}

	// The terminal transition claims the reversal before any funds
	// move, so racing reversals resolve to a single winner at the state
	// gate. A wallet failure after the claim restores COMPLETED.
	if err := s.transition(ctx, &p, to, StateFields{FailureReason: reason}); err != nil {
		return domain.Payment{}, err
	}

	// The receiver's funds come back through the same hold/settle
	// primitives the forward path uses, so the no-negative-balance
	// checks still apply.
	if p.Type != domain.TypeWithdrawal {
		if err := s.withWalletRetry(ctx, func() error {
			balance, err := s.wallets.GetBalance(ctx, p.ReceiverID, p.Amount.Currency)
			if err != nil {
				return err
			}
			if balance.Available.LessThan(p.Amount.Amount) {
				return domain.ErrInsufficientFunds
			}
			return s.wallets.HoldFunds(ctx, p.ReceiverID, p.Amount, balance.Version)
		}); err != nil {
			s.unclaimReversal(ctx, &p)
			return domain.Payment{}, err
		}
		if err := s.withWalletRetry(ctx, func() error {
			balance, err := s.wallets.GetBalance(ctx, p.ReceiverID, p.Amount.Currency)
			if err != nil {
				return err
			}
			return s.wallets.SettleHold(ctx, p.ReceiverID, p.Amount, balance.Version)
		}); err != nil {
			s.unclaimReversal(ctx, &p)
			return domain.Payment{}, fmt.Errorf("settle reversal hold: %w", err)
		}
	}
	if p.Type != domain.TypeDeposit {
		if err := s.withWalletRetry(ctx, func() error {
			balance, err := s.wallets.GetBalance(ctx, p.SenderID, p.Amount.Currency)
			if err != nil {
				return err
			}
			return s.wallets.CreditAvailable(ctx, p.SenderID, p.Amount, balance.Version)
		}); err != nil {
			return domain.Payment{}, fmt.Errorf("credit sender on reversal: %w", err)
		}
	}

	if _, err := s.ledger.Append(ctx, reversalPair(p, newUUID(), s.clock.Now())...); err != nil {
		return domain.Payment{}, fmt.Errorf("append reversal entries: %w", err)
	}

	s.dispatch(ctx, p.SenderID, "payment.reversed", map[string]any{
		"payment_id": p.ID,
		"state":      string(p.State),
		"reason":     reason,
	})
	return p, nil
}

// unclaimReversal puts a claimed reversal back to COMPLETED when no
// funds have moved yet. The direct store call skips the transition
// table; this is a compensation, not a forward transition.
func (s *PaymentService) unclaimReversal(ctx context.Context, p *domain.Payment) {
	if err := s.repo.UpdateState(ctx, p.ID, p.State, domain.StateCompleted, StateFields{
		UpdatedAt: s.clock.Now(),
	}); err != nil {
		s.logger.Error("restore completed state after failed reversal",
			"payment_id", p.ID, "error", err)
		return
	}
	p.State = domain.StateCompleted
}

// reversalPair compensates a transfer pair: a negative REVERSAL on the
// account that was credited and a positive one on the account that was
// debited, sharing one correlation id so the four entries net to zero.
func reversalPair(p domain.Payment, correlationID string, at time.Time) []domain.LedgerEntry {
	debitAccount := p.SenderID
	creditAccount := p.ReceiverID
	if p.Type == domain.TypeDeposit {
		debitAccount = TreasuryAccountID
	}
	if p.Type == domain.TypeWithdrawal {
		creditAccount = TreasuryAccountID
	}

	return []domain.LedgerEntry{
		{
			ID:            newUUID(),
			Type:          domain.EntryReversal,
			Amount:        p.Amount.Neg(),
			AccountID:     creditAccount,
			PaymentID:     p.ID,
			CorrelationID: correlationID,
			Timestamp:     at,
		},
		{
			ID:            newUUID(),
			Type:          domain.EntryReversal,
			Amount:        p.Amount,
			AccountID:     debitAccount,
			PaymentID:     p.ID,
			CorrelationID: correlationID,
			Timestamp:     at,
		},
	}
}
