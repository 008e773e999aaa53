package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Asset types a generation (and its lock) is scoped to.
const (
	AssetTypeImage = "image"
	AssetTypeVideo = "video"
)

// IsValidAssetType reports whether t is a supported asset type.
func IsValidAssetType(t string) bool {
	return t == AssetTypeImage || t == AssetTypeVideo
}

// Generation status values.
const (
	GenerationStatusSucceeded = "succeeded"
	GenerationStatusFailed    = "failed"
)

// GenerationLock is the per (user, asset type) mutual-exclusion row.
type GenerationLock struct {
	ID        uuid.UUID       `json:"id"`
	UserID    uuid.UUID       `json:"user_id"`
	AssetType string          `json:"asset_type"`
	RequestID *string         `json:"request_id,omitempty"`
	TaskID    *string         `json:"task_id,omitempty"`
	ExpiresAt time.Time       `json:"expires_at"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Expired reports whether the lock is stale at now.
func (l *GenerationLock) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// Generation is the persisted record of a finished generation job.
type Generation struct {
	ID             uuid.UUID       `json:"id"`
	UserID         uuid.UUID       `json:"user_id"`
	AssetType      string          `json:"asset_type"`
	RequestID      *string         `json:"request_id,omitempty"`
	ProviderTaskID string          `json:"provider_task_id"`
	Params         json.RawMessage `json:"params,omitempty"`
	OutputURLs     []string        `json:"output_urls"`
	Cost           int64           `json:"cost"`
	Status         string          `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
}
