// Package genlock guards each (user, asset type) pair so that at most one
// generation runs for it at a time. The exclusion lives in the generation_locks
// table, so it holds across every API replica. Leases expire; a crashed holder
// is reclaimed by the next Acquire without any background sweeper.
package genlock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/genstudio/backend/internal/metrics"
	"github.com/genstudio/backend/internal/models"
	"github.com/genstudio/backend/internal/repository"
)

// DefaultTTL is the lease granted by Acquire when neither the call nor the manager sets one.
const DefaultTTL = 15 * time.Minute

// maxAcquireAttempts bounds insert attempts: the first try, plus one after reclaiming a stale lease.
const maxAcquireAttempts = 2

var (
	ErrInvalidAssetType = errors.New("invalid asset type")
	ErrLockNotFound     = errors.New("generation lock not found")
	// ErrLockContended is returned when the slot kept changing hands while reclaiming.
	ErrLockContended = errors.New("generation lock contended")
)

// LockHeldError reports a live lock owned by another request.
type LockHeldError struct {
	Holder     *models.GenerationLock
	RetryAfter time.Duration
}

func (e *LockHeldError) Error() string {
	return fmt.Sprintf("%s generation already in progress, retry after %s", e.Holder.AssetType, e.RetryAfter.Round(time.Second))
}

// Store persists generation_locks rows; *repository.GenerationLockRepo implements it.
type Store interface {
	Insert(ctx context.Context, l *models.GenerationLock) (bool, error)
	GetByKey(ctx context.Context, userID uuid.UUID, assetType string) (*models.GenerationLock, error)
	DeleteIfExpired(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	Update(ctx context.Context, id uuid.UUID, taskID *string, metadata []byte, expiresAt *time.Time) (*models.GenerationLock, error)
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type AcquireParams struct {
	UserID    uuid.UUID
	AssetType string
	RequestID string
	Metadata  json.RawMessage
	// TTL overrides the manager's lease length when positive.
	TTL time.Duration
}

type UpdateParams struct {
	TaskID   string
	Metadata json.RawMessage
	// Extend, when positive, moves expires_at to now+Extend.
	Extend time.Duration
}

type Manager struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
	log   *slog.Logger
}

func NewManager(store Store, ttl time.Duration, log *slog.Logger) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = slog.Default()
	}
	return &Manager{store: store, ttl: ttl, now: time.Now, log: log}
}

// Acquire takes the (UserID, AssetType) lock. It returns *LockHeldError when a
// live lease exists. An expired lease is deleted and the insert retried once.
func (m *Manager) Acquire(ctx context.Context, p AcquireParams) (*models.GenerationLock, error) {
	if !models.IsValidAssetType(p.AssetType) {
		return nil, ErrInvalidAssetType
	}
	ttl := p.TTL
	if ttl <= 0 {
		ttl = m.ttl
	}
	var requestID *string
	if p.RequestID != "" {
		requestID = &p.RequestID
	}
	log := m.log.With("user_id", p.UserID, "asset_type", p.AssetType)

	for attempt := 1; attempt <= maxAcquireAttempts; attempt++ {
		now := m.now()
		lock := &models.GenerationLock{
			ID:        uuid.New(),
			UserID:    p.UserID,
			AssetType: p.AssetType,
			RequestID: requestID,
			ExpiresAt: now.Add(ttl),
			Metadata:  p.Metadata,
		}
		ok, err := m.store.Insert(ctx, lock)
		if err != nil {
			return nil, fmt.Errorf("insert lock: %w", err)
		}
		if ok {
			outcome := "acquired"
			if attempt > 1 {
				outcome = "reclaimed"
			}
			metrics.LockAcquisitions.WithLabelValues(p.AssetType, outcome).Inc()
			log.Debug("generation lock acquired", "lock_id", lock.ID, "expires_at", lock.ExpiresAt)
			return lock, nil
		}

		holder, err := m.store.GetByKey(ctx, p.UserID, p.AssetType)
		if errors.Is(err, repository.ErrNotFound) {
			// Released between our insert and read.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read lock holder: %w", err)
		}
		if !holder.Expired(now) {
			metrics.LockAcquisitions.WithLabelValues(p.AssetType, "held").Inc()
			return nil, &LockHeldError{Holder: holder, RetryAfter: holder.ExpiresAt.Sub(now)}
		}
		if _, err := m.store.DeleteIfExpired(ctx, holder.ID, now); err != nil {
			return nil, fmt.Errorf("delete expired lock: %w", err)
		}
		log.Warn("reclaimed expired generation lock", "lock_id", holder.ID, "expired_at", holder.ExpiresAt)
	}

	holder, err := m.store.GetByKey(ctx, p.UserID, p.AssetType)
	if now := m.now(); err == nil && !holder.Expired(now) {
		metrics.LockAcquisitions.WithLabelValues(p.AssetType, "held").Inc()
		return nil, &LockHeldError{Holder: holder, RetryAfter: holder.ExpiresAt.Sub(now)}
	}
	metrics.LockAcquisitions.WithLabelValues(p.AssetType, "contended").Inc()
	log.Warn("generation lock contended", "attempts", maxAcquireAttempts)
	return nil, ErrLockContended
}

// Update attaches a provider task id, replaces metadata, or extends the lease.
func (m *Manager) Update(ctx context.Context, lockID uuid.UUID, p UpdateParams) (*models.GenerationLock, error) {
	var taskID *string
	if p.TaskID != "" {
		taskID = &p.TaskID
	}
	var expiresAt *time.Time
	if p.Extend > 0 {
		t := m.now().Add(p.Extend)
		expiresAt = &t
	}
	lock, err := m.store.Update(ctx, lockID, taskID, p.Metadata, expiresAt)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrLockNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update lock: %w", err)
	}
	return lock, nil
}

// Release deletes the lock. Releasing a lock that is already gone is not an error.
func (m *Manager) Release(ctx context.Context, lockID uuid.UUID) error {
	if err := m.store.Delete(ctx, lockID); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	m.log.Debug("generation lock released", "lock_id", lockID)
	return nil
}

// PurgeExpired removes stale leases. Acquire does not depend on it.
func (m *Manager) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := m.store.DeleteExpired(ctx, m.now())
	if err != nil {
		return 0, fmt.Errorf("purge expired locks: %w", err)
	}
	metrics.LocksPurged.Add(float64(n))
	return n, nil
}
