package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/finvera/payments/internal/app"
	"github.com/finvera/payments/internal/domain"
)

const idempotencyHeader = "Idempotency-Key"

// PaymentCreator is the minimal interface needed to create a payment.
type PaymentCreator interface {
	CreatePayment(ctx context.Context, in app.CreatePaymentInput) (domain.Payment, error)
}

// PaymentLifecycle covers the operations addressed by payment id.
type PaymentLifecycle interface {
	GetPayment(ctx context.Context, id string) (domain.Payment, error)
	ProcessPayment(ctx context.Context, id string) (domain.Payment, error)
	ConfirmPayment(ctx context.Context, id, code string) (domain.Payment, error)
	CancelPayment(ctx context.Context, id, reason string) (domain.Payment, error)
	RefundPayment(ctx context.Context, id, reason string) (domain.Payment, error)
	ChargebackPayment(ctx context.Context, id, reason string) (domain.Payment, error)
}

// HandleCreatePayment returns the handler for POST /payments.
func HandleCreatePayment(svc PaymentCreator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
			return
		}

		var req createPaymentRequest
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
			return
		}

		key := req.IdempotencyKey
		if key == "" {
			key = r.Header.Get(idempotencyHeader)
		}
		if key == "" {
			writeError(w, http.StatusBadRequest, codeIdempotencyRequired, domain.ErrIdempotencyKeyRequired.Error())
			return
		}

		amount, err := domain.ParseMoney(req.Amount, req.Currency)
		if err != nil {
			writeError(w, http.StatusBadRequest, codeValidationError, err.Error())
			return
		}

		payment, err := svc.CreatePayment(r.Context(), app.CreatePaymentInput{
			Type:           domain.PaymentType(req.Type),
			Amount:         amount,
			SenderID:       req.SenderID,
			ReceiverID:     req.ReceiverID,
			IdempotencyKey: key,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(toPaymentResponse(payment))
	}
}

// HandlePayment routes GET /payments/{id} and
// POST /payments/{id}/{process|confirm|cancel|refund|chargeback}.
func HandlePayment(svc PaymentLifecycle) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, action, ok := parsePaymentPath(r.URL.Path)
		if !ok {
			writeError(w, http.StatusNotFound, codeNotFound, "not found")
			return
		}

		if action == "" {
			if r.Method != http.MethodGet {
				writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
				return
			}
			payment, err := svc.GetPayment(r.Context(), id)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writePayment(w, http.StatusOK, payment)
			return
		}

		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
			return
		}

		var req paymentActionRequest
		if r.Body != nil && r.ContentLength != 0 {
			dec := json.NewDecoder(r.Body)
			dec.DisallowUnknownFields()
			if err := dec.Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
				return
			}
		}

		var (
			payment domain.Payment
			err     error
		)
		switch action {
		case "process":
			payment, err = svc.ProcessPayment(r.Context(), id)
		case "confirm":
			payment, err = svc.ConfirmPayment(r.Context(), id, req.Code)
		case "cancel":
			payment, err = svc.CancelPayment(r.Context(), id, req.Reason)
		case "refund":
			payment, err = svc.RefundPayment(r.Context(), id, req.Reason)
		case "chargeback":
			payment, err = svc.ChargebackPayment(r.Context(), id, req.Reason)
		default:
			writeError(w, http.StatusNotFound, codeNotFound, "not found")
			return
		}
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writePayment(w, http.StatusOK, payment)
	}
}

func parsePaymentPath(path string) (id, action string, ok bool) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 2 || len(parts) > 3 || parts[0] != "payments" || parts[1] == "" {
		return "", "", false
	}
	if len(parts) == 2 {
		return parts[1], "", true
	}
	if parts[2] == "" {
		return "", "", false
	}
	return parts[1], parts[2], true
}

type createPaymentRequest struct {
	Type           string `json:"type"`
	Amount         string `json:"amount"`
	Currency       string `json:"currency"`
	SenderID       string `json:"sender_id"`
	ReceiverID     string `json:"receiver_id"`
	IdempotencyKey string `json:"idempotency_key"`
}

type paymentActionRequest struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

type paymentResponse struct {
	ID            string     `json:"id"`
	Type          string     `json:"type"`
	State         string     `json:"state"`
	Amount        string     `json:"amount"`
	Currency      string     `json:"currency"`
	SenderID      string     `json:"sender_id"`
	ReceiverID    string     `json:"receiver_id,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`
	RiskScore     *float64   `json:"risk_score,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}

func toPaymentResponse(p domain.Payment) paymentResponse {
	return paymentResponse{
		ID:            p.ID,
		Type:          string(p.Type),
		State:         string(p.State),
		Amount:        p.Amount.Amount.StringFixed(domain.CurrencyExponent(p.Amount.Currency)),
		Currency:      p.Amount.Currency,
		SenderID:      p.SenderID,
		ReceiverID:    p.ReceiverID,
		FailureReason: p.FailureReason,
		RiskScore:     p.RiskScore,
		CreatedAt:     p.CreatedAt,
		CompletedAt:   p.CompletedAt,
		ExpiresAt:     p.ExpiresAt,
	}
}

func writePayment(w http.ResponseWriter, status int, p domain.Payment) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(toPaymentResponse(p))
}
