package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/finvera/payments/internal/app"
	"github.com/finvera/payments/internal/domain"
)

const (
	codeMethodNotAllowed        = "method_not_allowed"
	codeNotFound                = "not_found"
	codeInvalidRequestBody      = "invalid_request_body"
	codeValidationError         = "validation_error"
	codeIdempotencyRequired     = "idempotency_key_required"
	codeIdempotencyConflict     = "idempotency_conflict"
	codeIdempotencyInFlight     = "idempotency_in_flight"
	codeFraudRejected           = "fraud_rejected"
	codeInsufficientFunds       = "insufficient_funds"
	codeInvalidStateTransition  = "invalid_state_transition"
	codeInvalidConfirmationCode = "invalid_confirmation_code"
	codePaymentNotFound         = "payment_not_found"
	codeWalletNotFound          = "wallet_not_found"
	codeInvalidID               = "invalid_id"
	codeForbidden               = "forbidden"
	codeInternalError           = "internal_error"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	payload, err := json.Marshal(errorResponse{
		Error: msg,
		Code:  code,
	})
	if err != nil {
		_, _ = w.Write([]byte(`{"error":"internal error","code":"internal_error"}`))
		return
	}
	_, _ = w.Write(payload)
}

// writeServiceError maps orchestration errors onto the wire taxonomy.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrValidation),
		errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidCurrency):
		writeError(w, http.StatusBadRequest, codeValidationError, err.Error())
	case errors.Is(err, domain.ErrIdempotencyKeyRequired):
		writeError(w, http.StatusBadRequest, codeIdempotencyRequired, err.Error())
	case errors.Is(err, domain.ErrIdempotencyConflict):
		writeError(w, http.StatusConflict, codeIdempotencyConflict, err.Error())
	case errors.Is(err, domain.ErrIdempotencyInFlight):
		writeError(w, http.StatusConflict, codeIdempotencyInFlight, err.Error())
	case errors.Is(err, domain.ErrFraudRejected):
		writeError(w, http.StatusUnprocessableEntity, codeFraudRejected, err.Error())
	case errors.Is(err, domain.ErrInsufficientFunds):
		writeError(w, http.StatusConflict, codeInsufficientFunds, err.Error())
	case errors.Is(err, domain.ErrInvalidStateTransition):
		writeError(w, http.StatusConflict, codeInvalidStateTransition, err.Error())
	case errors.Is(err, domain.ErrInvalidConfirmationCode):
		writeError(w, http.StatusUnprocessableEntity, codeInvalidConfirmationCode, err.Error())
	case errors.Is(err, domain.ErrPaymentNotFound):
		writeError(w, http.StatusNotFound, codePaymentNotFound, err.Error())
	case errors.Is(err, domain.ErrWalletNotFound):
		writeError(w, http.StatusNotFound, codeWalletNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidID):
		writeError(w, http.StatusBadRequest, codeInvalidID, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
	}
}
