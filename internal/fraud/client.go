// Package fraud consumes the external fraud gate's decision contract.
// Scoring internals and thresholds belong to the gate, not this
// service.
package fraud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/finvera/payments/internal/domain"
)

const defaultTimeout = 5 * time.Second

// Client calls a remote fraud gate over HTTP.
type Client struct {
	url    string
	client *http.Client
}

func NewClient(url string) *Client {
	return &Client{
		url:    url,
		client: &http.Client{Timeout: defaultTimeout},
	}
}

type assessRequest struct {
	PaymentID  string `json:"payment_id"`
	Type       string `json:"type"`
	Amount     string `json:"amount"`
	Currency   string `json:"currency"`
	SenderID   string `json:"sender_id"`
	ReceiverID string `json:"receiver_id,omitempty"`
}

type assessResponse struct {
	Score     float64 `json:"score"`
	RiskLevel string  `json:"risk_level"`
	Action    string  `json:"action"`
	Reason    string  `json:"reason"`
}

// Assess posts the proposed payment and decodes the gate's verdict.
func (c *Client) Assess(ctx context.Context, p domain.Payment) (domain.FraudAssessment, error) {
	body, err := json.Marshal(assessRequest{
		PaymentID:  p.ID,
		Type:       string(p.Type),
		Amount:     p.Amount.Amount.String(),
		Currency:   p.Amount.Currency,
		SenderID:   p.SenderID,
		ReceiverID: p.ReceiverID,
	})
	if err != nil {
		return domain.FraudAssessment{}, fmt.Errorf("encode assessment request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return domain.FraudAssessment{}, fmt.Errorf("build assessment request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return domain.FraudAssessment{}, fmt.Errorf("call fraud gate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.FraudAssessment{}, fmt.Errorf("fraud gate returned status %d", resp.StatusCode)
	}

	var decoded assessResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return domain.FraudAssessment{}, fmt.Errorf("decode assessment: %w", err)
	}

	action := domain.FraudAction(decoded.Action)
	if !domain.ValidFraudAction(action) {
		return domain.FraudAssessment{}, fmt.Errorf("fraud gate returned unknown action %q", decoded.Action)
	}
	return domain.FraudAssessment{
		Score:     decoded.Score,
		RiskLevel: decoded.RiskLevel,
		Action:    action,
		Reason:    decoded.Reason,
	}, nil
}
