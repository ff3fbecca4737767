package fraud

import (
	"context"

	"github.com/finvera/payments/internal/domain"
	"github.com/shopspring/decimal"
)

// Thresholds is a local stand-in gate for development and tests. It
// scores on amount only; production deployments point FRAUD_SERVICE_URL
// at the real gate instead.
type Thresholds struct {
	// HighAmount marks the point where payments start requiring
	// confirmation.
	HighAmount decimal.Decimal
	// RejectAmount marks the outright-rejection point.
	RejectAmount decimal.Decimal
}

func DefaultThresholds() *Thresholds {
	return &Thresholds{
		HighAmount:   decimal.NewFromInt(10_000),
		RejectAmount: decimal.NewFromInt(100_000),
	}
}

func (t *Thresholds) Assess(_ context.Context, p domain.Payment) (domain.FraudAssessment, error) {
	switch {
	case p.Amount.Amount.GreaterThanOrEqual(t.RejectAmount):
		return domain.FraudAssessment{
			Score:     0.95,
			RiskLevel: "critical",
			Action:    domain.FraudReject,
			Reason:    "amount exceeds rejection threshold",
		}, nil
	case p.Amount.Amount.GreaterThanOrEqual(t.HighAmount):
		return domain.FraudAssessment{
			Score:     0.75,
			RiskLevel: "high",
			Action:    domain.FraudHold,
			Reason:    "amount requires confirmation",
		}, nil
	default:
		return domain.FraudAssessment{
			Score:     0.1,
			RiskLevel: "low",
			Action:    domain.FraudApprove,
		}, nil
	}
}
