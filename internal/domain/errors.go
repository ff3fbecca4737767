package domain

import "errors"

var (
	ErrInvalidAmount           = errors.New("invalid amount")
	ErrInvalidCurrency         = errors.New("invalid currency")
	ErrCurrencyMismatch        = errors.New("currency mismatch")
	ErrIdempotencyKeyRequired  = errors.New("idempotency key required")
	ErrIdempotencyConflict     = errors.New("idempotency conflict")
	ErrIdempotencyInFlight     = errors.New("idempotent request in flight")
	ErrFraudRejected           = errors.New("payment rejected by fraud gate")
	ErrInsufficientFunds       = errors.New("insufficient funds")
	ErrInvalidStateTransition  = errors.New("invalid state transition")
	ErrInvalidConfirmationCode = errors.New("invalid confirmation code")
	ErrConcurrentModification  = errors.New("concurrent modification")
	ErrPaymentNotFound         = errors.New("payment not found")
	ErrWalletNotFound          = errors.New("wallet not found")
	ErrHoldNotFound            = errors.New("hold not found")
	ErrLedgerTampered          = errors.New("ledger entry signature mismatch")
	ErrInvalidID               = errors.New("invalid id")
)
