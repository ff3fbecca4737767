package app

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/finvera/payments/internal/clock"
	"github.com/finvera/payments/internal/domain"
	"github.com/finvera/payments/internal/metrics"
)

// TreasuryAccountID is the platform settlement account used as the
// off-wallet side of deposits and withdrawals so every movement stays
// double-entry.
const TreasuryAccountID = "treasury"

// PaymentRepository persists payments and their hold records.
// UpdateState is compare-and-set on the state column: it applies only
// when the row still holds the expected from state, so the state gate
// stays atomic under concurrent calls.
type PaymentRepository interface {
	Create(ctx context.Context, p domain.Payment) error
	FindByID(ctx context.Context, id string) (domain.Payment, error)
	UpdateState(ctx context.Context, id string, from, to domain.PaymentState, fields StateFields) error
	CreateHold(ctx context.Context, h domain.PaymentHold) error
	ReleaseHold(ctx context.Context, holdID string, releasedAt time.Time) error
}

// StateFields carries the optional columns written alongside a state
// change.
type StateFields struct {
	FailureReason string
	CompletedAt   *time.Time
	UpdatedAt     time.Time
}

// WalletStore exposes the versioned balance primitives. Every mutator
// takes the version observed by the caller and fails with
// domain.ErrConcurrentModification when it has advanced.
type WalletStore interface {
	GetBalance(ctx context.Context, accountID, currency string) (domain.WalletBalance, error)
	HoldFunds(ctx context.Context, accountID string, amount domain.Money, version int64) error
	ReleaseHold(ctx context.Context, accountID string, amount domain.Money, version int64) error
	SettleHold(ctx context.Context, accountID string, amount domain.Money, version int64) error
	CreditAvailable(ctx context.Context, accountID string, amount domain.Money, version int64) error
}

// LedgerJournal appends signed double-entry records and reads them back
// in append order.
type LedgerJournal interface {
	Append(ctx context.Context, entries ...domain.LedgerEntry) ([]domain.LedgerEntry, error)
	EntriesForAccount(ctx context.Context, accountID string) ([]domain.LedgerEntry, error)
	EntriesForPayment(ctx context.Context, paymentID string) ([]domain.LedgerEntry, error)
}

// FraudGate is the external risk-screening collaborator.
type FraudGate interface {
	Assess(ctx context.Context, p domain.Payment) (domain.FraudAssessment, error)
}

// Notifier delivers fire-and-forget user notifications. Failures are
// logged by the service and never affect payment state.
type Notifier interface {
	Notify(ctx context.Context, userID, event string, payload map[string]any) error
}

const (
	defaultConfirmationTTL = 15 * time.Minute
	defaultLinkTTL         = 24 * time.Hour
	defaultHoldTTL         = 15 * time.Minute
	walletMaxAttempts      = 3
)

// PaymentService orchestrates the payment lifecycle across the guard,
// wallet store, ledger and fraud gate. It is the only component that
// talks to all of them.
type PaymentService struct {
	repo    PaymentRepository
	wallets WalletStore
	ledger  LedgerJournal
	guard   *Guard
	fraud   FraudGate
	notify  Notifier
	clock   clock.Clock
	metrics *metrics.Counters
	logger  *slog.Logger

	confirmationTTL time.Duration
	linkTTL         time.Duration
	holdTTL         time.Duration
}

func NewPaymentService(
	repo PaymentRepository,
	wallets WalletStore,
	ledger LedgerJournal,
	guard *Guard,
	fraud FraudGate,
	notify Notifier,
	clk clock.Clock,
	counters *metrics.Counters,
	logger *slog.Logger,
	opts ...PaymentServiceOption,
) *PaymentService {
	svc := &PaymentService{
		repo:            repo,
		wallets:         wallets,
		ledger:          ledger,
		guard:           guard,
		fraud:           fraud,
		notify:          notify,
		clock:           clk,
		metrics:         counters,
		logger:          logger,
		confirmationTTL: defaultConfirmationTTL,
		linkTTL:         defaultLinkTTL,
		holdTTL:         defaultHoldTTL,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

type PaymentServiceOption func(*PaymentService)

// WithConfirmationTTL overrides how long a PENDING_CONFIRMATION payment
// stays confirmable.
func WithConfirmationTTL(d time.Duration) PaymentServiceOption {
	return func(s *PaymentService) {
		if d > 0 {
			s.confirmationTTL = d
		}
	}
}

// WithHoldTTL overrides the automatic-release deadline on new holds.
func WithHoldTTL(d time.Duration) PaymentServiceOption {
	return func(s *PaymentService) {
		if d > 0 {
			s.holdTTL = d
		}
	}
}

type CreatePaymentInput struct {
	Type           domain.PaymentType
	Amount         domain.Money
	SenderID       string
	ReceiverID     string
	IdempotencyKey string
}

func (in CreatePaymentInput) fingerprint() string {
	return domain.Fingerprint(
		string(in.Type),
		in.Amount.Amount.String(),
		in.Amount.Currency,
		in.SenderID,
		in.ReceiverID,
	)
}

func (in CreatePaymentInput) validate() error {
	if !domain.ValidPaymentType(in.Type) {
		return fmt.Errorf("%w: unknown payment type %q", ErrValidation, in.Type)
	}
	if err := domain.ValidateCurrency(in.Amount.Currency); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if !in.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	switch in.Type {
	case domain.TypeDeposit:
		if in.ReceiverID == "" {
			return fmt.Errorf("%w: deposit requires receiver", ErrValidation)
		}
	case domain.TypeWithdrawal:
		if in.SenderID == "" {
			return fmt.Errorf("%w: withdrawal requires sender", ErrValidation)
		}
	default:
		if in.SenderID == "" || in.ReceiverID == "" {
			return fmt.Errorf("%w: sender and receiver required", ErrValidation)
		}
	}
	return nil
}

// ErrValidation marks malformed input that caused no side effect.
var ErrValidation = errors.New("validation error")

// CreatePayment runs the create protocol: idempotency guard, input
// validation, fraud gate, persistence. No funds move here.
func (s *PaymentService) CreatePayment(ctx context.Context, in CreatePaymentInput) (domain.Payment, error) {
	acq, err := s.guard.Acquire(ctx, in.IdempotencyKey, in.fingerprint())
	if err != nil {
		return domain.Payment{}, err
	}
	if acq.Replayed {
		s.metrics.IncIdempotencyReplay()
		var p domain.Payment
		if err := json.Unmarshal(acq.Payload, &p); err != nil {
			return domain.Payment{}, fmt.Errorf("decode replayed payment: %w", err)
		}
		// The only FAILED payment a create ever stores is a fraud
		// rejection; replay it as one.
		if p.State == domain.StateFailed {
			return domain.Payment{}, fmt.Errorf("%w: %s", domain.ErrFraudRejected, p.FailureReason)
		}
		return p, nil
	}

	p, err := s.createGuarded(ctx, in)
	if err != nil {
		if errors.Is(err, domain.ErrFraudRejected) && p.ID != "" {
			// The rejection is persisted for audit; commit the guard so
			// an identical retry replays it without a second screening.
			if payload, merr := json.Marshal(p); merr == nil {
				if cerr := s.guard.Commit(ctx, in.IdempotencyKey, payload); cerr != nil {
					s.logger.Error("commit idempotency key for rejected payment",
						"key", in.IdempotencyKey, "error", cerr)
				}
			}
			s.metrics.IncFailed()
			return domain.Payment{}, err
		}
		if rerr := s.guard.Release(ctx, in.IdempotencyKey); rerr != nil {
			s.logger.Error("release idempotency key after failed create",
				"key", in.IdempotencyKey, "error", rerr)
		}
		return domain.Payment{}, err
	}

	payload, err := json.Marshal(p)
	if err != nil {
		return domain.Payment{}, fmt.Errorf("encode payment for replay: %w", err)
	}
	if err := s.guard.Commit(ctx, in.IdempotencyKey, payload); err != nil {
		return domain.Payment{}, err
	}

	s.metrics.IncCreated()
	s.dispatch(ctx, p.SenderID, "payment.created", map[string]any{
		"payment_id": p.ID,
		"state":      string(p.State),
		"amount":     p.Amount.String(),
	})
	return p, nil
}

func (s *PaymentService) createGuarded(ctx context.Context, in CreatePaymentInput) (domain.Payment, error) {
	if err := in.validate(); err != nil {
		return domain.Payment{}, err
	}

	now := s.clock.Now()
	p := domain.Payment{
		ID:             newUUID(),
		Type:           in.Type,
		Amount:         in.Amount,
		SenderID:       in.SenderID,
		ReceiverID:     in.ReceiverID,
		IdempotencyKey: in.IdempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	assessment, err := s.fraud.Assess(ctx, p)
	if err != nil {
		return domain.Payment{}, fmt.Errorf("fraud gate: %w", err)
	}
	score := assessment.Score
	p.RiskScore = &score

	switch assessment.Action {
	case domain.FraudReject:
		s.logger.Warn("payment rejected by fraud gate",
			"sender_id", in.SenderID, "score", assessment.Score, "reason", assessment.Reason)
		p.State = domain.StateFailed
		p.FailureReason = assessment.Reason
		if err := s.repo.Create(ctx, p); err != nil {
			return domain.Payment{}, fmt.Errorf("persist rejected payment: %w", err)
		}
		return p, fmt.Errorf("%w: %s", domain.ErrFraudRejected, assessment.Reason)
	case domain.FraudHold, domain.FraudManualReview:
		p.State = domain.InitialState(true)
		p.ConfirmationCode = newConfirmationCode()
		expires := now.Add(s.confirmationTTL)
		p.ExpiresAt = &expires
	case domain.FraudApprove:
		p.State = domain.InitialState(false)
		if in.Type == domain.TypePaymentLink {
			expires := now.Add(s.linkTTL)
			p.ExpiresAt = &expires
		}
	default:
		return domain.Payment{}, fmt.Errorf("fraud gate returned unknown action %q", assessment.Action)
	}

	if err := s.repo.Create(ctx, p); err != nil {
		return domain.Payment{}, fmt.Errorf("persist payment: %w", err)
	}
	return p, nil
}

// ProcessPayment settles a PENDING payment: hold, ledger pair, settle
// and credit, then COMPLETED. Any failure after the hold releases it.
func (s *PaymentService) ProcessPayment(ctx context.Context, id string) (domain.Payment, error) {
	p, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return domain.Payment{}, err
	}
	if p.State != domain.StatePending {
		return domain.Payment{}, fmt.Errorf("%w: cannot process payment in state %s",
			domain.ErrInvalidStateTransition, p.State)
	}
	return s.settle(ctx, p)
}

// ConfirmPayment matches the confirmation code on a
// PENDING_CONFIRMATION payment and then settles it.
func (s *PaymentService) ConfirmPayment(ctx context.Context, id, code string) (domain.Payment, error) {
	p, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return domain.Payment{}, err
	}
	if p.State != domain.StatePendingConfirmation {
		return domain.Payment{}, fmt.Errorf("%w: cannot confirm payment in state %s",
			domain.ErrInvalidStateTransition, p.State)
	}
	if code == "" || subtle.ConstantTimeCompare([]byte(code), []byte(p.ConfirmationCode)) != 1 {
		return domain.Payment{}, domain.ErrInvalidConfirmationCode
	}
	now := s.clock.Now()
	if p.ExpiresAt != nil && !p.ExpiresAt.After(now) {
		if err := s.transition(ctx, &p, domain.StateExpired, StateFields{FailureReason: "confirmation window elapsed"}); err != nil {
			return domain.Payment{}, err
		}
		return domain.Payment{}, fmt.Errorf("%w: confirmation window elapsed",
			domain.ErrInvalidStateTransition)
	}
	return s.settle(ctx, p)
}

// CancelPayment releases any active hold and moves the payment to
// CANCELLED. Only pre-processing states are cancellable.
func (s *PaymentService) CancelPayment(ctx context.Context, id, reason string) (domain.Payment, error) {
	p, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return domain.Payment{}, err
	}
	if !domain.Cancellable(p.State) {
		return domain.Payment{}, fmt.Errorf("%w: cannot cancel payment in state %s",
			domain.ErrInvalidStateTransition, p.State)
	}

	if hold := domain.ActiveHold(p); hold != nil {
		if err := s.releaseWalletHold(ctx, *hold); err != nil {
			return domain.Payment{}, err
		}
	}

	if err := s.transition(ctx, &p, domain.StateCancelled, StateFields{FailureReason: reason}); err != nil {
		return domain.Payment{}, err
	}
	s.metrics.IncCancelled()
	s.dispatch(ctx, p.SenderID, "payment.cancelled", map[string]any{
		"payment_id": p.ID,
		"reason":     reason,
	})
	return p, nil
}

// GetPayment is a read-through lookup.
func (s *PaymentService) GetPayment(ctx context.Context, id string) (domain.Payment, error) {
	return s.repo.FindByID(ctx, id)
}

// settle runs steps 4-9 of the processing protocol for a payment whose
// state gate already passed.
func (s *PaymentService) settle(ctx context.Context, p domain.Payment) (domain.Payment, error) {
	if err := s.transition(ctx, &p, domain.StateProcessing, StateFields{}); err != nil {
		return domain.Payment{}, err
	}

	hold, err := s.takeHold(ctx, p)
	if err != nil {
		ferr := s.transition(ctx, &p, domain.StateFailed, StateFields{FailureReason: failureReason(err)})
		if ferr != nil {
			s.logger.Error("mark payment failed", "payment_id", p.ID, "error", ferr)
		}
		s.metrics.IncFailed()
		return domain.Payment{}, err
	}

	if err := s.completeSettlement(ctx, &p, &hold); err != nil {
		// Funds must never stay stranded in held.
		if hold.ID != "" && !hold.Released {
			if rerr := s.releaseWalletHold(ctx, hold); rerr != nil {
				s.logger.Error("release hold after failed settlement",
					"payment_id", p.ID, "hold_id", hold.ID, "error", rerr)
			}
		}
		ferr := s.transition(ctx, &p, domain.StateFailed, StateFields{FailureReason: failureReason(err)})
		if ferr != nil {
			s.logger.Error("mark payment failed", "payment_id", p.ID, "error", ferr)
		}
		s.metrics.IncFailed()
		return domain.Payment{}, err
	}

	s.metrics.IncCompleted()
	s.dispatch(ctx, p.SenderID, "payment.completed", map[string]any{
		"payment_id": p.ID,
		"amount":     p.Amount.String(),
	})
	if p.ReceiverID != "" {
		s.dispatch(ctx, p.ReceiverID, "payment.received", map[string]any{
			"payment_id": p.ID,
			"amount":     p.Amount.String(),
		})
	}
	return p, nil
}

// takeHold reserves the payment amount on the sender wallet. Deposits
// bring funds in from outside and take no hold.
func (s *PaymentService) takeHold(ctx context.Context, p domain.Payment) (domain.PaymentHold, error) {
	if p.Type == domain.TypeDeposit {
		return domain.PaymentHold{}, nil
	}

	err := s.withWalletRetry(ctx, func() error {
		balance, err := s.wallets.GetBalance(ctx, p.SenderID, p.Amount.Currency)
		if err != nil {
			return err
		}
		if balance.Available.LessThan(p.Amount.Amount) {
			return domain.ErrInsufficientFunds
		}
		return s.wallets.HoldFunds(ctx, p.SenderID, p.Amount, balance.Version)
	})
	if err != nil {
		return domain.PaymentHold{}, err
	}

	now := s.clock.Now()
	releaseAt := now.Add(s.holdTTL)
	hold := domain.PaymentHold{
		ID:        newUUID(),
		PaymentID: p.ID,
		AccountID: p.SenderID,
		Amount:    p.Amount,
		Reason:    "payment settlement",
		ReleaseAt: &releaseAt,
		CreatedAt: now,
	}
	if err := s.repo.CreateHold(ctx, hold); err != nil {
		// The wallet hold exists but the record does not; undo the hold.
		if rerr := s.withWalletRetry(ctx, func() error {
			balance, berr := s.wallets.GetBalance(ctx, p.SenderID, p.Amount.Currency)
			if berr != nil {
				return berr
			}
			return s.wallets.ReleaseHold(ctx, p.SenderID, p.Amount, balance.Version)
		}); rerr != nil {
			s.logger.Error("release wallet hold after record failure",
				"payment_id", p.ID, "error", rerr)
		}
		return domain.PaymentHold{}, fmt.Errorf("persist hold: %w", err)
	}
	return hold, nil
}

// completeSettlement writes the ledger pair, settles the hold, credits
// the receiver and marks the payment COMPLETED. Once the hold is
// settled the funds have left the sender, so a later failure
// compensates by crediting the sender back instead of releasing.
func (s *PaymentService) completeSettlement(ctx context.Context, p *domain.Payment, hold *domain.PaymentHold) error {
	debit, credit := transferPair(*p, s.clock.Now())
	if _, err := s.ledger.Append(ctx, debit, credit); err != nil {
		return fmt.Errorf("append ledger entries: %w", err)
	}

	if p.Type != domain.TypeDeposit {
		if err := s.withWalletRetry(ctx, func() error {
			balance, err := s.wallets.GetBalance(ctx, p.SenderID, p.Amount.Currency)
			if err != nil {
				return err
			}
			return s.wallets.SettleHold(ctx, p.SenderID, p.Amount, balance.Version)
		}); err != nil {
			return fmt.Errorf("settle hold: %w", err)
		}
		hold.Released = true
		if err := s.repo.ReleaseHold(ctx, hold.ID, s.clock.Now()); err != nil {
			s.logger.Error("close hold record", "hold_id", hold.ID, "error", err)
		}
	}

	if p.Type != domain.TypeWithdrawal {
		creditAccount := p.ReceiverID
		if err := s.withWalletRetry(ctx, func() error {
			balance, err := s.wallets.GetBalance(ctx, creditAccount, p.Amount.Currency)
			if err != nil {
				return err
			}
			return s.wallets.CreditAvailable(ctx, creditAccount, p.Amount, balance.Version)
		}); err != nil {
			s.compensateSettled(ctx, *p, debit.CorrelationID)
			return fmt.Errorf("credit receiver: %w", err)
		}
	}

	completedAt := s.clock.Now()
	return s.transition(ctx, p, domain.StateCompleted, StateFields{CompletedAt: &completedAt})
}

// compensateSettled returns already-settled funds to the sender and
// appends a reversal pair so the journal reflects the undo.
func (s *PaymentService) compensateSettled(ctx context.Context, p domain.Payment, correlationID string) {
	if p.Type != domain.TypeDeposit {
		if err := s.withWalletRetry(ctx, func() error {
			balance, err := s.wallets.GetBalance(ctx, p.SenderID, p.Amount.Currency)
			if err != nil {
				return err
			}
			return s.wallets.CreditAvailable(ctx, p.SenderID, p.Amount, balance.Version)
		}); err != nil {
			s.logger.Error("compensate sender after failed credit",
				"payment_id", p.ID, "error", err)
			return
		}
	}
	if _, err := s.ledger.Append(ctx, reversalPair(p, correlationID, s.clock.Now())...); err != nil {
		s.logger.Error("append compensation reversal", "payment_id", p.ID, "error", err)
	}
}

// transferPair builds the matched debit/credit entries for a payment.
// Deposits debit the treasury side; withdrawals credit it.
func transferPair(p domain.Payment, at time.Time) (domain.LedgerEntry, domain.LedgerEntry) {
	debitAccount := p.SenderID
	creditAccount := p.ReceiverID
	if p.Type == domain.TypeDeposit {
		debitAccount = TreasuryAccountID
	}
	if p.Type == domain.TypeWithdrawal {
		creditAccount = TreasuryAccountID
	}

	correlationID := newUUID()
	debit := domain.LedgerEntry{
		ID:            newUUID(),
		Type:          domain.EntryDebit,
		Amount:        p.Amount,
		AccountID:     debitAccount,
		PaymentID:     p.ID,
		CorrelationID: correlationID,
		Timestamp:     at,
	}
	credit := domain.LedgerEntry{
		ID:            newUUID(),
		Type:          domain.EntryCredit,
		Amount:        p.Amount,
		AccountID:     creditAccount,
		PaymentID:     p.ID,
		CorrelationID: correlationID,
		Timestamp:     at,
	}
	return debit, credit
}

// transition applies a table-checked state change and refreshes the
// in-memory copy. The store only applies the change when the row still
// holds p.State, so a racing caller loses with
// ErrConcurrentModification instead of settling twice.
func (s *PaymentService) transition(ctx context.Context, p *domain.Payment, to domain.PaymentState, fields StateFields) error {
	if !domain.CanTransition(p.State, to) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidStateTransition, p.State, to)
	}
	fields.UpdatedAt = s.clock.Now()
	if err := s.repo.UpdateState(ctx, p.ID, p.State, to, fields); err != nil {
		return fmt.Errorf("update state %s -> %s: %w", p.State, to, err)
	}
	p.State = to
	p.UpdatedAt = fields.UpdatedAt
	if fields.CompletedAt != nil {
		p.CompletedAt = fields.CompletedAt
	}
	if fields.FailureReason != "" {
		p.FailureReason = fields.FailureReason
	}
	return nil
}

// withWalletRetry retries a versioned wallet mutation on concurrent
// modification with fresh reads, bounded by walletMaxAttempts.
func (s *PaymentService) withWalletRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; attempt <= walletMaxAttempts; attempt++ {
		err = fn()
		if err == nil || !errors.Is(err, domain.ErrConcurrentModification) {
			return err
		}
		s.metrics.IncWalletRetry()
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	return fmt.Errorf("wallet update contention after %d attempts: %w", walletMaxAttempts, err)
}

// releaseWalletHold returns held funds to available and closes the hold
// record.
func (s *PaymentService) releaseWalletHold(ctx context.Context, hold domain.PaymentHold) error {
	if err := s.withWalletRetry(ctx, func() error {
		balance, err := s.wallets.GetBalance(ctx, hold.AccountID, hold.Amount.Currency)
		if err != nil {
			return err
		}
		return s.wallets.ReleaseHold(ctx, hold.AccountID, hold.Amount, balance.Version)
	}); err != nil {
		return fmt.Errorf("release wallet hold: %w", err)
	}
	if err := s.repo.ReleaseHold(ctx, hold.ID, s.clock.Now()); err != nil {
		return fmt.Errorf("close hold record: %w", err)
	}
	return nil
}

// dispatch sends a notification without letting failures reach the
// caller.
func (s *PaymentService) dispatch(ctx context.Context, userID, event string, payload map[string]any) {
	if userID == "" {
		return
	}
	if err := s.notify.Notify(ctx, userID, event, payload); err != nil {
		s.logger.Warn("notification failed", "user_id", userID, "event", event, "error", err)
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrInsufficientFunds):
		return "insufficient funds"
	case errors.Is(err, domain.ErrConcurrentModification):
		return "wallet contention"
	default:
		return err.Error()
	}
}
