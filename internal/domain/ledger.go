package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

type EntryType string

const (
	EntryDebit      EntryType = "DEBIT"
	EntryCredit     EntryType = "CREDIT"
	EntryHold       EntryType = "HOLD"
	EntryRelease    EntryType = "RELEASE"
	EntryReversal   EntryType = "REVERSAL"
	EntryAdjustment EntryType = "ADJUSTMENT"
)

// LedgerEntry is an immutable record of one account-side fund movement.
// Entries are only ever appended; undoing a movement takes a
// compensating REVERSAL pair.
type LedgerEntry struct {
	ID            string
	Type          EntryType
	Amount        Money
	AccountID     string
	PaymentID     string
	CorrelationID string
	// Sequence is monotonic per account and assigned at append time.
	Sequence  int64
	Timestamp time.Time
	Signature string
}

// SignedAmount returns the amount with the sign the entry contributes to
// its account: debits and reversal-debits reduce, credits increase. A
// matched pair therefore nets to zero across the two accounts.
func SignedAmount(e LedgerEntry) Money {
	switch e.Type {
	case EntryDebit, EntryHold:
		return e.Amount.Neg()
	default:
		return e.Amount
	}
}

// SignEntry computes the deterministic integrity hash over the entry's
// identifying fields. The signature must be recomputable from a stored
// row, so only persisted fields participate, the amount is rendered at
// the currency's fixed scale and the timestamp at the database's
// microsecond precision.
func SignEntry(e LedgerEntry) string {
	payload := strings.Join([]string{
		e.ID,
		string(e.Type),
		e.Amount.Amount.StringFixed(CurrencyExponent(e.Amount.Currency)),
		e.Amount.Currency,
		e.AccountID,
		e.PaymentID,
		e.CorrelationID,
		strconv.FormatInt(e.Sequence, 10),
		e.Timestamp.UTC().Truncate(time.Microsecond).Format(time.RFC3339Nano),
	}, "|")
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// VerifyEntry recomputes the signature and reports tampering.
func VerifyEntry(e LedgerEntry) error {
	if SignEntry(e) != e.Signature {
		return ErrLedgerTampered
	}
	return nil
}
