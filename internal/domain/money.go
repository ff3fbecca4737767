package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// currencyExponents maps ISO 4217 codes to their minor-unit exponent.
// Currencies not listed default to two decimal places.
var currencyExponents = map[string]int32{
	"USD": 2,
	"EUR": 2,
	"GBP": 2,
	"BRL": 2,
	"TZS": 2,
	"JPY": 0,
	"KWD": 3,
}

const defaultExponent int32 = 2

// Money is an exact-decimal amount in a single currency. Amounts are
// never represented as binary floats; all arithmetic requires equal
// currencies.
type Money struct {
	Amount   decimal.Decimal
	Currency string
}

// NewMoney builds a Money rounded to the currency's minor unit.
func NewMoney(amount decimal.Decimal, currency string) (Money, error) {
	if err := ValidateCurrency(currency); err != nil {
		return Money{}, err
	}
	return Money{
		Amount:   amount.Round(CurrencyExponent(currency)),
		Currency: currency,
	}, nil
}

// ParseMoney parses a decimal string such as "100.00".
func ParseMoney(amount, currency string) (Money, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
	}
	return NewMoney(d, currency)
}

// MustMoney is a test/setup helper that panics on malformed input.
func MustMoney(amount, currency string) Money {
	m, err := ParseMoney(amount, currency)
	if err != nil {
		panic(err)
	}
	return m
}

// ValidateCurrency accepts three-letter uppercase ISO codes.
func ValidateCurrency(code string) error {
	if len(code) != 3 || code != strings.ToUpper(code) {
		return fmt.Errorf("%w: %q", ErrInvalidCurrency, code)
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return fmt.Errorf("%w: %q", ErrInvalidCurrency, code)
		}
	}
	return nil
}

// CurrencyExponent returns the minor-unit exponent for a currency code.
func CurrencyExponent(code string) int32 {
	if exp, ok := currencyExponents[code]; ok {
		return exp
	}
	return defaultExponent
}

func (m Money) Add(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.Currency, other.Currency)
	}
	return Money{Amount: m.Amount.Add(other.Amount), Currency: m.Currency}, nil
}

func (m Money) Sub(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.Currency, other.Currency)
	}
	return Money{Amount: m.Amount.Sub(other.Amount), Currency: m.Currency}, nil
}

// Cmp returns -1, 0 or +1. Comparing different currencies is an error.
func (m Money) Cmp(other Money) (int, error) {
	if m.Currency != other.Currency {
		return 0, fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.Currency, other.Currency)
	}
	return m.Amount.Cmp(other.Amount), nil
}

func (m Money) IsPositive() bool {
	return m.Amount.IsPositive()
}

func (m Money) IsZero() bool {
	return m.Amount.IsZero()
}

func (m Money) Equal(other Money) bool {
	return m.Currency == other.Currency && m.Amount.Equal(other.Amount)
}

// Neg returns the amount with its sign flipped, same currency.
func (m Money) Neg() Money {
	return Money{Amount: m.Amount.Neg(), Currency: m.Currency}
}

func (m Money) String() string {
	return m.Amount.StringFixed(CurrencyExponent(m.Currency)) + " " + m.Currency
}
