package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/finvera/payments/internal/domain"
)

type fakePaymentRepo struct {
	mu       sync.Mutex
	payments map[string]domain.Payment
	holds    map[string]domain.PaymentHold

	createErr error
	holdErr   error
}

func newFakePaymentRepo() *fakePaymentRepo {
	return &fakePaymentRepo{
		payments: make(map[string]domain.Payment),
		holds:    make(map[string]domain.PaymentHold),
	}
}

func (r *fakePaymentRepo) Create(_ context.Context, p domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	for _, existing := range r.payments {
		if existing.IdempotencyKey == p.IdempotencyKey {
			return domain.ErrIdempotencyConflict
		}
	}
	r.payments[p.ID] = p
	return nil
}

func (r *fakePaymentRepo) FindByID(_ context.Context, id string) (domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[id]
	if !ok {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	p.Holds = nil
	for _, h := range r.holds {
		if h.PaymentID == id {
			p.Holds = append(p.Holds, h)
		}
	}
	return p, nil
}

func (r *fakePaymentRepo) UpdateState(_ context.Context, id string, from, to domain.PaymentState, fields StateFields) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[id]
	if !ok {
		return domain.ErrPaymentNotFound
	}
	if p.State != from {
		return domain.ErrConcurrentModification
	}
	p.State = to
	p.UpdatedAt = fields.UpdatedAt
	if fields.FailureReason != "" {
		p.FailureReason = fields.FailureReason
	}
	if fields.CompletedAt != nil {
		p.CompletedAt = fields.CompletedAt
	}
	r.payments[id] = p
	return nil
}

func (r *fakePaymentRepo) CreateHold(_ context.Context, h domain.PaymentHold) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.holdErr != nil {
		return r.holdErr
	}
	r.holds[h.ID] = h
	return nil
}

func (r *fakePaymentRepo) ReleaseHold(_ context.Context, holdID string, releasedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.holds[holdID]
	if !ok || h.Released {
		return domain.ErrHoldNotFound
	}
	h.Released = true
	h.ReleasedAt = &releasedAt
	r.holds[holdID] = h
	return nil
}

func (r *fakePaymentRepo) DueHolds(_ context.Context, now time.Time, limit int) ([]domain.PaymentHold, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.PaymentHold
	for _, h := range r.holds {
		if !h.Released && h.ReleaseAt != nil && !h.ReleaseAt.After(now) {
			out = append(out, h)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (r *fakePaymentRepo) ExpiredPayments(_ context.Context, now time.Time, limit int) ([]domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Payment
	for id, p := range r.payments {
		if p.ExpiresAt == nil || p.ExpiresAt.After(now) {
			continue
		}
		if p.State != domain.StatePending && p.State != domain.StatePendingConfirmation {
			continue
		}
		for _, h := range r.holds {
			if h.PaymentID == id && !h.Released {
				p.Holds = append(p.Holds, h)
			}
		}
		out = append(out, p)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *fakePaymentRepo) get(id string) domain.Payment {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.payments[id]
}

func (r *fakePaymentRepo) activeHolds() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, h := range r.holds {
		if !h.Released {
			n++
		}
	}
	return n
}

// fakeWallets mirrors the versioned CAS semantics of the Postgres
// store: a mutator with a stale version fails with
// ErrConcurrentModification and every successful write bumps the
// version.
type fakeWallets struct {
	mu       sync.Mutex
	balances map[string]*domain.WalletBalance
}

func newFakeWallets() *fakeWallets {
	return &fakeWallets{balances: make(map[string]*domain.WalletBalance)}
}

func balanceKey(accountID, currency string) string {
	return accountID + "/" + currency
}

func (w *fakeWallets) seed(accountID, currency, available string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.balances[balanceKey(accountID, currency)] = &domain.WalletBalance{
		UserID:    accountID,
		Currency:  currency,
		Available: decimal.RequireFromString(available),
		Version:   1,
	}
}

func (w *fakeWallets) GetBalance(_ context.Context, accountID, currency string) (domain.WalletBalance, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	b, ok := w.balances[balanceKey(accountID, currency)]
	if !ok {
		return domain.WalletBalance{}, domain.ErrWalletNotFound
	}
	return *b, nil
}

func (w *fakeWallets) mutate(accountID string, amount domain.Money, version int64, fn func(b *domain.WalletBalance) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	b, ok := w.balances[balanceKey(accountID, amount.Currency)]
	if !ok {
		return domain.ErrWalletNotFound
	}
	if b.Version != version {
		return domain.ErrConcurrentModification
	}
	if err := fn(b); err != nil {
		return err
	}
	if b.Available.IsNegative() || b.Held.IsNegative() || b.Pending.IsNegative() {
		return fmt.Errorf("fake wallet went negative: %+v", *b)
	}
	b.Version++
	return nil
}

func (w *fakeWallets) HoldFunds(_ context.Context, accountID string, amount domain.Money, version int64) error {
	return w.mutate(accountID, amount, version, func(b *domain.WalletBalance) error {
		if b.Available.LessThan(amount.Amount) {
			return domain.ErrInsufficientFunds
		}
		b.Available = b.Available.Sub(amount.Amount)
		b.Held = b.Held.Add(amount.Amount)
		return nil
	})
}

func (w *fakeWallets) ReleaseHold(_ context.Context, accountID string, amount domain.Money, version int64) error {
	return w.mutate(accountID, amount, version, func(b *domain.WalletBalance) error {
		b.Held = b.Held.Sub(amount.Amount)
		b.Available = b.Available.Add(amount.Amount)
		return nil
	})
}

func (w *fakeWallets) SettleHold(_ context.Context, accountID string, amount domain.Money, version int64) error {
	return w.mutate(accountID, amount, version, func(b *domain.WalletBalance) error {
		b.Held = b.Held.Sub(amount.Amount)
		return nil
	})
}

func (w *fakeWallets) CreditAvailable(_ context.Context, accountID string, amount domain.Money, version int64) error {
	return w.mutate(accountID, amount, version, func(b *domain.WalletBalance) error {
		b.Available = b.Available.Add(amount.Amount)
		return nil
	})
}

func (w *fakeWallets) balance(accountID, currency string) domain.WalletBalance {
	w.mu.Lock()
	defer w.mu.Unlock()
	b, ok := w.balances[balanceKey(accountID, currency)]
	if !ok {
		return domain.WalletBalance{}
	}
	return *b
}

type fakeLedger struct {
	mu        sync.Mutex
	entries   []domain.LedgerEntry
	sequences map[string]int64

	appendErr     error
	failOnEntry   int
	appendedCalls int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{sequences: make(map[string]int64)}
}

func (l *fakeLedger) Append(_ context.Context, entries ...domain.LedgerEntry) ([]domain.LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.appendedCalls++
	if l.appendErr != nil && (l.failOnEntry == 0 || l.appendedCalls >= l.failOnEntry) {
		return nil, l.appendErr
	}
	out := make([]domain.LedgerEntry, 0, len(entries))
	for _, e := range entries {
		l.sequences[e.AccountID]++
		e.Sequence = l.sequences[e.AccountID]
		e.Signature = domain.SignEntry(e)
		l.entries = append(l.entries, e)
		out = append(out, e)
	}
	return out, nil
}

func (l *fakeLedger) EntriesForAccount(_ context.Context, accountID string) ([]domain.LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.LedgerEntry
	for _, e := range l.entries {
		if e.AccountID == accountID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (l *fakeLedger) EntriesForPayment(_ context.Context, paymentID string) ([]domain.LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.LedgerEntry
	for _, e := range l.entries {
		if e.PaymentID == paymentID {
			out = append(out, e)
		}
	}
	return out, nil
}

// netForPayment sums signed entry amounts across all accounts touched
// by a payment. A balanced journal nets to zero.
func (l *fakeLedger) netForPayment(paymentID string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	net := decimal.Zero
	for _, e := range l.entries {
		if e.PaymentID == paymentID {
			net = net.Add(domain.SignedAmount(e).Amount)
		}
	}
	return net
}

type fakeIdemStore struct {
	mu      sync.Mutex
	records map[string]domain.IdempotencyRecord
}

func newFakeIdemStore() *fakeIdemStore {
	return &fakeIdemStore{records: make(map[string]domain.IdempotencyRecord)}
}

func (s *fakeIdemStore) Insert(_ context.Context, rec domain.IdempotencyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[rec.Key]; exists {
		return domain.ErrIdempotencyConflict
	}
	s.records[rec.Key] = rec
	return nil
}

func (s *fakeIdemStore) Find(_ context.Context, key string) (*domain.IdempotencyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *fakeIdemStore) Commit(_ context.Context, key string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		return domain.ErrIdempotencyConflict
	}
	rec.Status = domain.IdempotencyCommitted
	rec.ResultPayload = payload
	s.records[key] = rec
	return nil
}

func (s *fakeIdemStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}

func (s *fakeIdemStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for key, rec := range s.records {
		if !rec.ExpiresAt.After(now) {
			delete(s.records, key)
			n++
		}
	}
	return n, nil
}

func (s *fakeIdemStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

type stubFraudGate struct {
	mu         sync.Mutex
	assessment domain.FraudAssessment
	err        error
	calls      int
}

func (g *stubFraudGate) Assess(_ context.Context, _ domain.Payment) (domain.FraudAssessment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return g.assessment, g.err
}

func (g *stubFraudGate) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func approveGate() *stubFraudGate {
	return &stubFraudGate{assessment: domain.FraudAssessment{Score: 0.1, RiskLevel: "low", Action: domain.FraudApprove}}
}

type recordedNotification struct {
	userID string
	event  string
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []recordedNotification
}

func (n *recordingNotifier) Notify(_ context.Context, userID, event string, _ map[string]any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, recordedNotification{userID: userID, event: event})
	return nil
}

func (n *recordingNotifier) named(event string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, e := range n.events {
		if e.event == event {
			count++
		}
	}
	return count
}
