package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/genstudio/backend/internal/models"
)

type APIKeyRepo struct {
	pool *pgxpool.Pool
}

func NewAPIKeyRepo(pool *pgxpool.Pool) *APIKeyRepo {
	return &APIKeyRepo{pool: pool}
}

func (r *APIKeyRepo) Create(ctx context.Context, k *models.APIKey) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO api_keys (id, label, key_hash, key_prefix, is_active)
		VALUES ($1, $2, $3, $4, $5)
	`, k.ID, k.Label, k.KeyHash, k.KeyPrefix, k.IsActive)
	return err
}

// Deactivate revokes a key. Returns ErrNotFound if no key has the id.
func (r *APIKeyRepo) Deactivate(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, "UPDATE api_keys SET is_active = FALSE WHERE id = $1", id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FindByKeyHash returns the active key with the given hash, or ErrNotFound.
func (r *APIKeyRepo) FindByKeyHash(ctx context.Context, keyHash string) (*models.APIKey, error) {
	var k models.APIKey
	err := r.pool.QueryRow(ctx, `
		SELECT id, label, key_hash, key_prefix, is_active
		FROM api_keys WHERE key_hash = $1 AND is_active = TRUE
	`, keyHash).Scan(&k.ID, &k.Label, &k.KeyHash, &k.KeyPrefix, &k.IsActive)
	if err != nil {
		return nil, notFound(err)
	}
	return &k, nil
}
