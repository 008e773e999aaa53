package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/genstudio/backend/internal/models"
)

const creditAccountColumns = `user_id, balance, frozen_balance, total_earned, total_spent, created_at, updated_at`

type CreditAccountRepo struct {
	pool *pgxpool.Pool
}

func NewCreditAccountRepo(pool *pgxpool.Pool) *CreditAccountRepo {
	return &CreditAccountRepo{pool: pool}
}

// GetOrCreate inserts a zero-balance account if none exists and returns the stored row.
// Concurrent callers for the same user all observe the same row.
func (r *CreditAccountRepo) GetOrCreate(ctx context.Context, userID uuid.UUID) (*models.CreditAccount, error) {
	if err := ensureAccount(ctx, r.pool, userID); err != nil {
		return nil, err
	}
	return getAccount(ctx, r.pool, userID, false)
}

// EnsureTx creates the account row inside tx when it does not exist yet.
func (r *CreditAccountRepo) EnsureTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID) error {
	return ensureAccount(ctx, tx, userID)
}

// GetForUpdate locks the account row for update. Call within a transaction.
func (r *CreditAccountRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*models.CreditAccount, error) {
	return getAccount(ctx, tx, userID, true)
}

// ApplyDelta adds delta to balance and bumps the running totals. Call after GetForUpdate in same tx.
func (r *CreditAccountRepo) ApplyDelta(ctx context.Context, tx pgx.Tx, userID uuid.UUID, delta, earned, spent int64) (*models.CreditAccount, error) {
	var a models.CreditAccount
	err := tx.QueryRow(ctx, `
		UPDATE credit_accounts
		SET balance = balance + $2, total_earned = total_earned + $3, total_spent = total_spent + $4, updated_at = now()
		WHERE user_id = $1
		RETURNING `+creditAccountColumns,
		userID, delta, earned, spent,
	).Scan(&a.UserID, &a.Balance, &a.FrozenBalance, &a.TotalEarned, &a.TotalSpent, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

func ensureAccount(ctx context.Context, q querier, userID uuid.UUID) error {
	_, err := q.Exec(ctx, `
		INSERT INTO credit_accounts (user_id) VALUES ($1)
		ON CONFLICT (user_id) DO NOTHING
	`, userID)
	return err
}

func getAccount(ctx context.Context, q querier, userID uuid.UUID, forUpdate bool) (*models.CreditAccount, error) {
	sql := `SELECT ` + creditAccountColumns + ` FROM credit_accounts WHERE user_id = $1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	var a models.CreditAccount
	err := q.QueryRow(ctx, sql, userID).
		Scan(&a.UserID, &a.Balance, &a.FrozenBalance, &a.TotalEarned, &a.TotalSpent, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}
