package middleware

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/genstudio/backend/internal/models"
)

const apiKeyPrefix = "gs_"

type contextKey string

const (
	ctxAPIKeyKey contextKey = "api_key"
	ctxUserIDKey contextKey = "user_id"
)

// APIKeyRepo is the interface used by API key auth middleware.
type APIKeyRepo interface {
	FindByKeyHash(ctx context.Context, keyHash string) (*models.APIKey, error)
}

// APIKeyAuth authenticates server-to-server callers (billing webhooks, cron,
// admin tools) by hashing the Bearer token (SHA-256) and looking it up in api_keys.
func APIKeyAuth(apiKeyRepo APIKeyRepo) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := extractBearer(r)
			if raw == "" {
				http.Error(w, `{"error":"missing or malformed Authorization header"}`, http.StatusUnauthorized)
				return
			}

			key, err := apiKeyRepo.FindByKeyHash(r.Context(), HashAPIKey(raw))
			if err != nil || key == nil || !key.IsActive {
				http.Error(w, `{"error":"invalid api key"}`, http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxAPIKeyKey, key)))
		})
	}
}

// APIKeyFromCtx returns the authenticated API key or nil.
func APIKeyFromCtx(ctx context.Context) *models.APIKey {
	k, _ := ctx.Value(ctxAPIKeyKey).(*models.APIKey)
	return k
}

// UserIDFromCtx returns the authenticated user id, or uuid.Nil.
func UserIDFromCtx(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(ctxUserIDKey).(uuid.UUID)
	return id
}

// WithUserID returns a context carrying the given user id.
func WithUserID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, ctxUserIDKey, id)
}

func extractBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// HashAPIKey returns the hex SHA-256 stored in api_keys.key_hash.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// NewAPIKey mints a random key. The raw value is returned once and only its hash is stored.
func NewAPIKey(label string) (raw string, key *models.APIKey, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", nil, err
	}
	raw = apiKeyPrefix + hex.EncodeToString(b)
	return raw, &models.APIKey{
		ID:        uuid.New(),
		Label:     label,
		KeyHash:   HashAPIKey(raw),
		KeyPrefix: raw[:12],
		IsActive:  true,
	}, nil
}
