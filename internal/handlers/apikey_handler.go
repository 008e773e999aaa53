package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/genstudio/backend/internal/middleware"
	"github.com/genstudio/backend/internal/models"
	"github.com/genstudio/backend/internal/repository"
)

// APIKeyStore is satisfied by *repository.APIKeyRepo.
type APIKeyStore interface {
	Create(ctx context.Context, k *models.APIKey) error
	Deactivate(ctx context.Context, id uuid.UUID) error
}

// APIKeyHandler lets an existing server-to-server caller mint and revoke keys.
type APIKeyHandler struct {
	Keys   APIKeyStore
	Logger *slog.Logger
}

// CreateAPIKey handles POST /api/v1/internal/api-keys.
func (h *APIKeyHandler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Label string `json:"label"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	req.Label = strings.TrimSpace(req.Label)
	if req.Label == "" {
		http.Error(w, `{"error":"label is required"}`, http.StatusBadRequest)
		return
	}

	raw, k, err := middleware.NewAPIKey(req.Label)
	if err != nil {
		h.Logger.Error("generate api key", "error", err)
		http.Error(w, `{"error":"key generation failed"}`, http.StatusInternalServerError)
		return
	}
	if err := h.Keys.Create(r.Context(), k); err != nil {
		h.Logger.Error("create api key", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	h.Logger.Info("api key created", "key_id", k.ID, "label", k.Label)
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":         k.ID,
		"label":      k.Label,
		"key_prefix": k.KeyPrefix,
		"raw_key":    raw,
	})
}

// RevokeAPIKey handles DELETE /api/v1/internal/api-keys/{id}.
func (h *APIKeyHandler) RevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	keyID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, `{"error":"invalid key id"}`, http.StatusBadRequest)
		return
	}
	if caller := middleware.APIKeyFromCtx(r.Context()); caller != nil && caller.ID == keyID {
		http.Error(w, `{"error":"cannot revoke the key used for this request"}`, http.StatusConflict)
		return
	}
	if err := h.Keys.Deactivate(r.Context(), keyID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			http.Error(w, `{"error":"api key not found"}`, http.StatusNotFound)
			return
		}
		h.Logger.Error("revoke api key", "key_id", keyID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	h.Logger.Info("api key revoked", "key_id", keyID)
	w.WriteHeader(http.StatusNoContent)
}
