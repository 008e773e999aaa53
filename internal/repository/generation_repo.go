package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/genstudio/backend/internal/models"
)

type GenerationRepo struct {
	pool *pgxpool.Pool
}

func NewGenerationRepo(pool *pgxpool.Pool) *GenerationRepo {
	return &GenerationRepo{pool: pool}
}

func (r *GenerationRepo) Create(ctx context.Context, g *models.Generation) error {
	if g.OutputURLs == nil {
		g.OutputURLs = []string{}
	}
	return r.pool.QueryRow(ctx, `
		INSERT INTO generations (id, user_id, asset_type, request_id, provider_task_id, params, output_urls, cost, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`, g.ID, g.UserID, g.AssetType, g.RequestID, g.ProviderTaskID, nullJSON(g.Params), g.OutputURLs, g.Cost, g.Status).Scan(&g.CreatedAt)
}

// MarkFailed sets the generation's status to failed and clears its output URLs.
func (r *GenerationRepo) MarkFailed(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE generations SET status = 'failed', output_urls = '{}' WHERE id = $1
	`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByUserID returns the user's generations, newest first.
func (r *GenerationRepo) ListByUserID(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.Generation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, asset_type, request_id, provider_task_id, params, output_urls, cost, status, created_at
		FROM generations WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []*models.Generation{}
	for rows.Next() {
		var g models.Generation
		if err := rows.Scan(&g.ID, &g.UserID, &g.AssetType, &g.RequestID, &g.ProviderTaskID, &g.Params, &g.OutputURLs, &g.Cost, &g.Status, &g.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &g)
	}
	return list, rows.Err()
}
