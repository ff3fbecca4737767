package domain

// FraudAction is the closed set of decisions the fraud gate can return.
// Orchestration switches on it exhaustively.
type FraudAction string

const (
	FraudApprove      FraudAction = "APPROVE"
	FraudHold         FraudAction = "HOLD"
	FraudReject       FraudAction = "REJECT"
	FraudManualReview FraudAction = "MANUAL_REVIEW"
)

// ValidFraudAction reports whether a is a known gate decision.
func ValidFraudAction(a FraudAction) bool {
	switch a {
	case FraudApprove, FraudHold, FraudReject, FraudManualReview:
		return true
	}
	return false
}

// FraudAssessment is the fraud gate's verdict on a proposed payment.
// Score is in [0, 1]; thresholds live on the gate side.
type FraudAssessment struct {
	Score     float64
	RiskLevel string
	Action    FraudAction
	Reason    string
}
