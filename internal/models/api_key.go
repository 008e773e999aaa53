package models

import (
	"github.com/google/uuid"
)

// APIKey authenticates server-to-server callers (billing webhooks, cron, admin tools).
type APIKey struct {
	ID        uuid.UUID `json:"id"`
	Label     string    `json:"label"`
	KeyHash   string    `json:"-"`
	KeyPrefix string    `json:"key_prefix"`
	IsActive  bool      `json:"is_active"`
}
