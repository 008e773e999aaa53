package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/genstudio/backend/internal/models"
)

const lockColumns = `id, user_id, asset_type, request_id, task_id, expires_at, metadata, created_at, updated_at`

type GenerationLockRepo struct {
	pool *pgxpool.Pool
}

func NewGenerationLockRepo(pool *pgxpool.Pool) *GenerationLockRepo {
	return &GenerationLockRepo{pool: pool}
}

// Insert creates the lock row. It returns false when (user_id, asset_type) is already held.
func (r *GenerationLockRepo) Insert(ctx context.Context, l *models.GenerationLock) (bool, error) {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO generation_locks (id, user_id, asset_type, request_id, expires_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, asset_type) DO NOTHING
		RETURNING created_at, updated_at
	`, l.ID, l.UserID, l.AssetType, l.RequestID, l.ExpiresAt, nullJSON(l.Metadata)).Scan(&l.CreatedAt, &l.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *GenerationLockRepo) GetByKey(ctx context.Context, userID uuid.UUID, assetType string) (*models.GenerationLock, error) {
	l, err := scanLock(r.pool.QueryRow(ctx, `
		SELECT `+lockColumns+` FROM generation_locks WHERE user_id = $1 AND asset_type = $2
	`, userID, assetType))
	if err != nil {
		return nil, notFound(err)
	}
	return l, nil
}

// DeleteIfExpired removes the row only if it is still the same lock and still stale at now.
func (r *GenerationLockRepo) DeleteIfExpired(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM generation_locks WHERE id = $1 AND expires_at <= $2`, id, now)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// Update sets task_id, metadata and expires_at where non-nil.
func (r *GenerationLockRepo) Update(ctx context.Context, id uuid.UUID, taskID *string, metadata []byte, expiresAt *time.Time) (*models.GenerationLock, error) {
	l, err := scanLock(r.pool.QueryRow(ctx, `
		UPDATE generation_locks
		SET task_id = COALESCE($2, task_id),
		    metadata = COALESCE($3::jsonb, metadata),
		    expires_at = COALESCE($4, expires_at),
		    updated_at = now()
		WHERE id = $1
		RETURNING `+lockColumns,
		id, taskID, nullJSON(metadata), expiresAt))
	if err != nil {
		return nil, notFound(err)
	}
	return l, nil
}

func (r *GenerationLockRepo) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, "DELETE FROM generation_locks WHERE id = $1", id)
	return err
}

// DeleteExpired removes every lock stale at now and returns how many went.
func (r *GenerationLockRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, "DELETE FROM generation_locks WHERE expires_at <= $1", now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanLock(row pgx.Row) (*models.GenerationLock, error) {
	var l models.GenerationLock
	err := row.Scan(&l.ID, &l.UserID, &l.AssetType, &l.RequestID, &l.TaskID, &l.ExpiresAt, &l.Metadata, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}
