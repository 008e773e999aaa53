package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/genstudio/backend/internal/models"
)

// maxGenerationBody caps the request body read by CreditCheck.
const maxGenerationBody = 1 << 20

// AccountLookup is satisfied by *ledger.Service.
type AccountLookup interface {
	GetOrCreateAccount(ctx context.Context, userID uuid.UUID) (*models.CreditAccount, error)
}

// CostLookup is satisfied by generation.Pricing.
type CostLookup interface {
	Cost(assetType string) (int64, error)
}

type peekedGeneration struct {
	AssetType string `json:"asset_type"`
}

// CreditCheck rejects generation requests the user obviously cannot afford
// before any lock is taken. The ledger still enforces the balance at charge time.
// Reads the body to extract "asset_type", then replaces r.Body so downstream
// handlers can re-read it.
func CreditCheck(accounts AccountLookup, prices CostLookup, log *slog.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := UserIDFromCtx(r.Context())
			if userID == uuid.Nil {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}

			bodyBytes, err := io.ReadAll(io.LimitReader(r.Body, maxGenerationBody))
			r.Body.Close()
			if err != nil {
				http.Error(w, `{"error":"failed to read body"}`, http.StatusBadRequest)
				return
			}
			// Restore body for the handler.
			r.Body = io.NopCloser(bytes.NewReader(bodyBytes))

			var peek peekedGeneration
			if err := json.Unmarshal(bodyBytes, &peek); err != nil {
				http.Error(w, `{"error":"invalid JSON body"}`, http.StatusBadRequest)
				return
			}
			if !models.IsValidAssetType(peek.AssetType) {
				http.Error(w, fmt.Sprintf(`{"error":"asset_type %q is not supported"}`, peek.AssetType), http.StatusBadRequest)
				return
			}
			cost, err := prices.Cost(peek.AssetType)
			if err != nil {
				http.Error(w, `{"error":"unknown price"}`, http.StatusBadRequest)
				return
			}

			acc, err := accounts.GetOrCreateAccount(r.Context(), userID)
			if err != nil {
				log.Error("credit check failed", "user_id", userID, "error", err)
				http.Error(w, `{"error":"failed to check credits"}`, http.StatusInternalServerError)
				return
			}
			if acc.Available() < cost {
				http.Error(w, fmt.Sprintf(`{"error":"insufficient credits","required":%d,"available":%d}`, cost, acc.Available()), http.StatusPaymentRequired)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
