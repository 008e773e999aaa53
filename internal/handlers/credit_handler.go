package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/genstudio/backend/internal/ledger"
	"github.com/genstudio/backend/internal/middleware"
	"github.com/genstudio/backend/internal/models"
)

// CreditReader is the read side of *ledger.Service.
type CreditReader interface {
	GetOrCreateAccount(ctx context.Context, userID uuid.UUID) (*models.CreditAccount, error)
	GetTransactionHistory(ctx context.Context, userID uuid.UUID, limit, offset int) (*ledger.HistoryPage, error)
}

// CreditHandler serves /api/v1/credits endpoints.
type CreditHandler struct {
	Ledger CreditReader
	Logger *slog.Logger
}

type balanceResponse struct {
	Balance       int64 `json:"balance"`
	FrozenBalance int64 `json:"frozen_balance"`
	Available     int64 `json:"available"`
	TotalEarned   int64 `json:"total_earned"`
	TotalSpent    int64 `json:"total_spent"`
}

// GetBalance handles GET /api/v1/credits.
func (h *CreditHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromCtx(r.Context())
	if userID == uuid.Nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	acc, err := h.Ledger.GetOrCreateAccount(r.Context(), userID)
	if err != nil {
		h.Logger.Error("get credit account", "user_id", userID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, balanceResponse{
		Balance:       acc.Balance,
		FrozenBalance: acc.FrozenBalance,
		Available:     acc.Available(),
		TotalEarned:   acc.TotalEarned,
		TotalSpent:    acc.TotalSpent,
	})
}

// ListTransactions handles GET /api/v1/credits/transactions?limit=&offset=.
func (h *CreditHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromCtx(r.Context())
	if userID == uuid.Nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	limit, offset := pageParams(r)
	page, err := h.Ledger.GetTransactionHistory(r.Context(), userID, limit, offset)
	if err != nil {
		h.Logger.Error("list credit transactions", "user_id", userID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// pageParams reads limit and offset from the query string. Bad values fall back
// to zero and are clamped by the service.
func pageParams(r *http.Request) (limit, offset int) {
	q := r.URL.Query()
	limit, _ = strconv.Atoi(q.Get("limit"))
	offset, _ = strconv.Atoi(q.Get("offset"))
	return limit, offset
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
