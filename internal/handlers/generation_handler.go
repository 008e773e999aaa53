package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/genstudio/backend/internal/generation"
	"github.com/genstudio/backend/internal/genlock"
	"github.com/genstudio/backend/internal/ledger"
	"github.com/genstudio/backend/internal/middleware"
	"github.com/genstudio/backend/internal/models"
)

// Generator is satisfied by *generation.Service.
type Generator interface {
	Generate(ctx context.Context, req generation.Request) (*models.Generation, error)
	ListGenerations(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.Generation, error)
}

// GenerationHandler serves /api/v1/generations endpoints.
type GenerationHandler struct {
	Generator Generator
	Logger    *slog.Logger
}

type createGenerationRequest struct {
	AssetType string          `json:"asset_type"`
	RequestID string          `json:"request_id"`
	Params    json.RawMessage `json:"params"`
}

// CreateGeneration handles POST /api/v1/generations.
// Auth -> Credit pre-check (via middleware) -> Generate (lock, provider, charge) -> 201.
func (h *GenerationHandler) CreateGeneration(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromCtx(r.Context())
	if userID == uuid.Nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var req createGenerationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}

	gen, err := h.Generator.Generate(r.Context(), generation.Request{
		UserID:    userID,
		AssetType: req.AssetType,
		RequestID: req.RequestID,
		Params:    req.Params,
	})
	if err != nil {
		h.writeGenerateError(w, userID, err)
		return
	}
	writeJSON(w, http.StatusCreated, gen)
}

func (h *GenerationHandler) writeGenerateError(w http.ResponseWriter, userID uuid.UUID, err error) {
	var held *genlock.LockHeldError
	switch {
	case errors.As(err, &held):
		w.Header().Set("Retry-After", retryAfterSeconds(held.RetryAfter))
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": held.Error()})
	case errors.Is(err, genlock.ErrLockContended):
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "generation already in progress"})
	case errors.Is(err, ledger.ErrInsufficientFunds):
		http.Error(w, `{"error":"insufficient credits"}`, http.StatusPaymentRequired)
	case errors.Is(err, genlock.ErrInvalidAssetType):
		http.Error(w, `{"error":"unsupported asset_type"}`, http.StatusBadRequest)
	case errors.Is(err, generation.ErrInvalidParams):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, generation.ErrProviderFailed):
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": generation.ErrProviderFailed.Error()})
	default:
		h.Logger.Error("generate", "user_id", userID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
	}
}

// ListGenerations handles GET /api/v1/generations?limit=&offset=.
func (h *GenerationHandler) ListGenerations(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromCtx(r.Context())
	if userID == uuid.Nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	limit, offset := pageParams(r)
	list, err := h.Generator.ListGenerations(r.Context(), userID, limit, offset)
	if err != nil {
		h.Logger.Error("list generations", "user_id", userID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []*models.Generation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"generations": list})
}

// retryAfterSeconds renders d as a Retry-After value, rounded up, at least 1.
func retryAfterSeconds(d time.Duration) string {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
