package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wallet groups per-currency balances for one user.
type Wallet struct {
	ID        string
	UserID    string
	CreatedAt time.Time
}

// WalletBalance is one currency's balance within a wallet. Version is
// the optimistic-concurrency token: every mutation increments it, and a
// write against a stale version is rejected, never merged.
type WalletBalance struct {
	WalletID  string
	UserID    string
	Currency  string
	Available decimal.Decimal
	Held      decimal.Decimal
	Pending   decimal.Decimal
	Version   int64
	UpdatedAt time.Time
}

// Total is derived; the invariant total = available + held + pending
// holds at all times.
func (b WalletBalance) Total() decimal.Decimal {
	return b.Available.Add(b.Held).Add(b.Pending)
}
