package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/finvera/payments/internal/domain"
)

// BalanceReader exposes the wallet balance lookup for the account surface.
type BalanceReader interface {
	GetBalance(ctx context.Context, accountID, currency string) (domain.WalletBalance, error)
}

// LedgerReader exposes the per-account journal view.
type LedgerReader interface {
	EntriesForAccount(ctx context.Context, accountID string) ([]domain.LedgerEntry, error)
}

// HandleAccounts routes GET /accounts/{id}/balance and
// GET /accounts/{id}/entries.
func HandleAccounts(balances BalanceReader, ledger LedgerReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
			return
		}

		id, resource, ok := parseAccountPath(r.URL.Path)
		if !ok {
			writeError(w, http.StatusNotFound, codeNotFound, "not found")
			return
		}

		switch resource {
		case "balance":
			currency := strings.ToUpper(r.URL.Query().Get("currency"))
			if err := domain.ValidateCurrency(currency); err != nil {
				writeError(w, http.StatusBadRequest, codeValidationError, err.Error())
				return
			}
			balance, err := balances.GetBalance(r.Context(), id, currency)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, toBalanceResponse(balance))
		case "entries":
			entries, err := ledger.EntriesForAccount(r.Context(), id)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			out := make([]ledgerEntryResponse, 0, len(entries))
			for _, e := range entries {
				out = append(out, toLedgerEntryResponse(e))
			}
			writeJSON(w, http.StatusOK, entriesResponse{Entries: out})
		default:
			writeError(w, http.StatusNotFound, codeNotFound, "not found")
		}
	}
}

func parseAccountPath(path string) (id, resource string, ok bool) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 3 || parts[0] != "accounts" || parts[1] == "" || parts[2] == "" {
		return "", "", false
	}
	return parts[1], parts[2], true
}

type balanceResponse struct {
	UserID    string    `json:"user_id"`
	Currency  string    `json:"currency"`
	Available string    `json:"available"`
	Held      string    `json:"held"`
	Pending   string    `json:"pending"`
	Total     string    `json:"total"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toBalanceResponse(b domain.WalletBalance) balanceResponse {
	exp := domain.CurrencyExponent(b.Currency)
	return balanceResponse{
		UserID:    b.UserID,
		Currency:  b.Currency,
		Available: b.Available.StringFixed(exp),
		Held:      b.Held.StringFixed(exp),
		Pending:   b.Pending.StringFixed(exp),
		Total:     b.Total().StringFixed(exp),
		Version:   b.Version,
		UpdatedAt: b.UpdatedAt,
	}
}

type entriesResponse struct {
	Entries []ledgerEntryResponse `json:"entries"`
}

type ledgerEntryResponse struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	Amount        string    `json:"amount"`
	Currency      string    `json:"currency"`
	AccountID     string    `json:"account_id"`
	PaymentID     string    `json:"payment_id,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Sequence      int64     `json:"sequence"`
	Timestamp     time.Time `json:"timestamp"`
	Signature     string    `json:"signature"`
}

func toLedgerEntryResponse(e domain.LedgerEntry) ledgerEntryResponse {
	return ledgerEntryResponse{
		ID:            e.ID,
		Type:          string(e.Type),
		Amount:        e.Amount.Amount.StringFixed(domain.CurrencyExponent(e.Amount.Currency)),
		Currency:      e.Amount.Currency,
		AccountID:     e.AccountID,
		PaymentID:     e.PaymentID,
		CorrelationID: e.CorrelationID,
		Sequence:      e.Sequence,
		Timestamp:     e.Timestamp,
		Signature:     e.Signature,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
