package domain

type PaymentState string

const (
	StatePending             PaymentState = "PENDING"
	StatePendingConfirmation PaymentState = "PENDING_CONFIRMATION"
	StateProcessing          PaymentState = "PROCESSING"
	StateCompleted           PaymentState = "COMPLETED"
	StateFailed              PaymentState = "FAILED"
	StateCancelled           PaymentState = "CANCELLED"
	StateRefunded            PaymentState = "REFUNDED"
	StateExpired             PaymentState = "EXPIRED"
	StateChargeback          PaymentState = "CHARGEBACK"
)

// transitions is the complete table of legal state changes. Anything not
// listed is rejected.
var transitions = map[PaymentState][]PaymentState{
	StatePending:             {StateProcessing, StateCancelled, StateExpired},
	StatePendingConfirmation: {StateProcessing, StateCancelled, StateExpired},
	StateProcessing:          {StateCompleted, StateFailed},
	StateCompleted:           {StateRefunded, StateChargeback},
}

// CanTransition reports whether from → to is a legal state change.
func CanTransition(from, to PaymentState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions exist from s.
// COMPLETED still admits refund/chargeback and is not terminal here.
func IsTerminal(s PaymentState) bool {
	return len(transitions[s]) == 0
}

// Cancellable reports whether a payment in state s may still be
// cancelled by the caller.
func Cancellable(s PaymentState) bool {
	return s == StatePending || s == StatePendingConfirmation
}

// InitialState picks the first state for a new payment.
func InitialState(requiresConfirmation bool) PaymentState {
	if requiresConfirmation {
		return StatePendingConfirmation
	}
	return StatePending
}
