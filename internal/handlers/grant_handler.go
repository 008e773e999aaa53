package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/genstudio/backend/internal/execution"
	"github.com/genstudio/backend/internal/middleware"
	"github.com/genstudio/backend/internal/models"
)

// GrantEnqueuer is satisfied by *execution.Enqueuer.
type GrantEnqueuer interface {
	EnqueueGrant(ctx context.Context, args execution.GrantCreditsArgs) error
}

// GrantHandler serves POST /api/v1/internal/credits/grant for trusted
// server-to-server callers (subscription renewals, referrals, admin tools).
type GrantHandler struct {
	Enqueuer GrantEnqueuer
	Logger   *slog.Logger
}

type grantRequest struct {
	UserID      string          `json:"user_id"`
	Amount      int64           `json:"amount"`
	Source      string          `json:"source"`
	Description string          `json:"description"`
	ReferenceID string          `json:"reference_id"`
	Metadata    json.RawMessage `json:"metadata"`
}

// Grant validates the request and queues it. The grant is applied by the
// grant_credits worker; resubmitting the same reference_id credits once.
func (h *GrantHandler) Grant(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		http.Error(w, `{"error":"invalid user_id"}`, http.StatusBadRequest)
		return
	}
	if req.Amount <= 0 {
		http.Error(w, `{"error":"amount must be > 0"}`, http.StatusBadRequest)
		return
	}
	// api_call is reserved for generation charges.
	if !models.IsValidCreditSource(req.Source) || req.Source == models.CreditSourceAPICall {
		http.Error(w, `{"error":"invalid source"}`, http.StatusBadRequest)
		return
	}
	if req.ReferenceID == "" {
		http.Error(w, `{"error":"reference_id is required"}`, http.StatusBadRequest)
		return
	}

	args := execution.GrantCreditsArgs{
		UserID:      userID,
		Amount:      req.Amount,
		Source:      req.Source,
		Description: req.Description,
		ReferenceID: req.ReferenceID,
		Metadata:    req.Metadata,
	}
	if err := h.Enqueuer.EnqueueGrant(r.Context(), args); err != nil {
		h.Logger.Error("enqueue grant", "user_id", userID, "reference_id", req.ReferenceID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	caller := ""
	if k := middleware.APIKeyFromCtx(r.Context()); k != nil {
		caller = k.Label
	}
	h.Logger.Info("credit grant queued", "user_id", userID, "reference_id", req.ReferenceID, "amount", req.Amount, "caller", caller)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "reference_id": req.ReferenceID})
}

// Health handles GET /health.
func Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
