package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/genstudio/backend/internal/models"
)

const creditTxColumns = `id, seq, user_id, type, amount, balance_after, source, description, reference_id, metadata, created_at`

type CreditTransactionRepo struct {
	pool *pgxpool.Pool
}

func NewCreditTransactionRepo(pool *pgxpool.Pool) *CreditTransactionRepo {
	return &CreditTransactionRepo{pool: pool}
}

// InsertTx appends a ledger entry inside tx. It returns false without error when
// another entry already holds the same reference_id. Call after the account row
// is locked: seq and created_at are taken at insert time, not at BEGIN.
func (r *CreditTransactionRepo) InsertTx(ctx context.Context, tx pgx.Tx, c *models.CreditTransaction) (bool, error) {
	err := tx.QueryRow(ctx, `
		INSERT INTO credit_transactions (id, user_id, type, amount, balance_after, source, description, reference_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, clock_timestamp())
		ON CONFLICT (reference_id) DO NOTHING
		RETURNING seq, created_at
	`, c.ID, c.UserID, c.Type, c.Amount, c.BalanceAfter, c.Source, c.Description, c.ReferenceID, nullJSON(c.Metadata)).Scan(&c.Seq, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *CreditTransactionRepo) GetByReferenceTx(ctx context.Context, tx pgx.Tx, referenceID string) (*models.CreditTransaction, error) {
	return getTransactionByReference(ctx, tx, referenceID)
}

func (r *CreditTransactionRepo) GetByReference(ctx context.Context, referenceID string) (*models.CreditTransaction, error) {
	return getTransactionByReference(ctx, r.pool, referenceID)
}

// ListByUserID returns one page of a user's entries, newest first by seq.
func (r *CreditTransactionRepo) ListByUserID(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.CreditTransaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+creditTxColumns+`
		FROM credit_transactions WHERE user_id = $1
		ORDER BY seq DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []*models.CreditTransaction{}
	for rows.Next() {
		var c models.CreditTransaction
		if err := rows.Scan(&c.ID, &c.Seq, &c.UserID, &c.Type, &c.Amount, &c.BalanceAfter, &c.Source, &c.Description, &c.ReferenceID, &c.Metadata, &c.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &c)
	}
	return list, rows.Err()
}

func (r *CreditTransactionRepo) CountByUserID(ctx context.Context, userID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT count(*) FROM credit_transactions WHERE user_id = $1`, userID).Scan(&n)
	return n, err
}

func getTransactionByReference(ctx context.Context, q querier, referenceID string) (*models.CreditTransaction, error) {
	var c models.CreditTransaction
	err := q.QueryRow(ctx, `
		SELECT `+creditTxColumns+` FROM credit_transactions WHERE reference_id = $1
	`, referenceID).Scan(&c.ID, &c.Seq, &c.UserID, &c.Type, &c.Amount, &c.BalanceAfter, &c.Source, &c.Description, &c.ReferenceID, &c.Metadata, &c.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

// nullJSON maps an empty payload to SQL NULL.
func nullJSON(m []byte) any {
	if len(m) == 0 {
		return nil
	}
	return string(m)
}
