package domain

import "time"

type PaymentType string

const (
	TypePaymentLink   PaymentType = "PAYMENT_LINK"
	TypeDirectPayment PaymentType = "DIRECT_PAYMENT"
	TypeWithdrawal    PaymentType = "WITHDRAWAL"
	TypeDeposit       PaymentType = "DEPOSIT"
	TypeRefund        PaymentType = "REFUND"
	TypeChargeback    PaymentType = "CHARGEBACK"
)

var paymentTypes = map[PaymentType]struct{}{
	TypePaymentLink:   {},
	TypeDirectPayment: {},
	TypeWithdrawal:    {},
	TypeDeposit:       {},
	TypeRefund:        {},
	TypeChargeback:    {},
}

// ValidPaymentType reports whether t is a known payment type.
func ValidPaymentType(t PaymentType) bool {
	_, ok := paymentTypes[t]
	return ok
}

// Payment is the orchestrated aggregate. It is plain data: state changes
// go through the transition table in state.go, never through methods on
// the record.
type Payment struct {
	ID               string
	Type             PaymentType
	State            PaymentState
	Amount           Money
	SenderID         string
	ReceiverID       string
	IdempotencyKey   string
	ConfirmationCode string
	FailureReason    string
	RiskScore        *float64
	CreatedAt        time.Time
	UpdatedAt        time.Time
	CompletedAt      *time.Time
	ExpiresAt        *time.Time
	Holds            []PaymentHold
}

// ActiveHold returns the single unreleased hold, if any.
func ActiveHold(p Payment) *PaymentHold {
	for i := range p.Holds {
		if !p.Holds[i].Released {
			return &p.Holds[i]
		}
	}
	return nil
}

// PaymentHold reserves funds against a wallet until settled or released.
type PaymentHold struct {
	ID         string
	PaymentID  string
	AccountID  string
	Amount     Money
	Reason     string
	ReleaseAt  *time.Time
	Released   bool
	CreatedAt  time.Time
	ReleasedAt *time.Time
}
