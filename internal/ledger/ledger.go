package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/genstudio/backend/internal/metrics"
	"github.com/genstudio/backend/internal/models"
	"github.com/genstudio/backend/internal/repository"
)

var (
	// ErrInsufficientFunds is returned when a spend exceeds the available balance.
	ErrInsufficientFunds = errors.New("insufficient credits")
	// ErrDuplicateReference marks an operation whose reference id was already recorded.
	// Earn and Spend resolve it to a replayed Result; it never reaches their callers.
	ErrDuplicateReference = errors.New("duplicate reference id")
	ErrInvalidAmount      = errors.New("amount must be positive")
	ErrMissingReference   = errors.New("reference id is required")
	ErrInvalidSource      = errors.New("unknown credit source")
	ErrAccountNotFound    = errors.New("credit account not found")
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// TxBeginner starts a database transaction (e.g. *pgxpool.Pool).
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// AccountStore persists credit_accounts rows.
type AccountStore interface {
	GetOrCreate(ctx context.Context, userID uuid.UUID) (*models.CreditAccount, error)
	EnsureTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID) error
	GetForUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*models.CreditAccount, error)
	ApplyDelta(ctx context.Context, tx pgx.Tx, userID uuid.UUID, delta, earned, spent int64) (*models.CreditAccount, error)
}

// TransactionStore persists the append-only credit_transactions log.
type TransactionStore interface {
	InsertTx(ctx context.Context, tx pgx.Tx, c *models.CreditTransaction) (bool, error)
	GetByReferenceTx(ctx context.Context, tx pgx.Tx, referenceID string) (*models.CreditTransaction, error)
	GetByReference(ctx context.Context, referenceID string) (*models.CreditTransaction, error)
	ListByUserID(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.CreditTransaction, error)
	CountByUserID(ctx context.Context, userID uuid.UUID) (int, error)
}

// EarnParams describes a credit grant.
type EarnParams struct {
	UserID      uuid.UUID
	Amount      int64
	Source      string
	Description string
	ReferenceID string
	Metadata    json.RawMessage
}

// SpendParams describes a credit deduction.
type SpendParams struct {
	UserID      uuid.UUID
	Amount      int64
	Source      string
	Description string
	ReferenceID string
	Metadata    json.RawMessage
}

// Result is the outcome of Earn or Spend. Replayed is true when the reference id
// had already been recorded and nothing was written.
type Result struct {
	Transaction *models.CreditTransaction `json:"transaction"`
	NewBalance  int64                     `json:"new_balance"`
	Replayed    bool                      `json:"replayed"`
}

// HistoryPage is one page of a user's transaction log.
type HistoryPage struct {
	Transactions []*models.CreditTransaction `json:"transactions"`
	Total        int                         `json:"total"`
	Limit        int                         `json:"limit"`
	Offset       int                         `json:"offset"`
}

// Service is the only code path that changes a credit balance.
type Service struct {
	db       TxBeginner
	accounts AccountStore
	txs      TransactionStore
	log      *slog.Logger
}

func NewService(db TxBeginner, accounts AccountStore, txs TransactionStore, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{db: db, accounts: accounts, txs: txs, log: log}
}

// GetOrCreateAccount returns the user's account, creating a zero-balance one on first use.
func (s *Service) GetOrCreateAccount(ctx context.Context, userID uuid.UUID) (*models.CreditAccount, error) {
	acc, err := s.accounts.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get or create account: %w", err)
	}
	return acc, nil
}

// EarnCredits adds Amount to the balance and records an earn entry, at most once per ReferenceID.
func (s *Service) EarnCredits(ctx context.Context, p EarnParams) (*Result, error) {
	return s.apply(ctx, entry{
		userID:      p.UserID,
		kind:        models.CreditTxEarn,
		amount:      p.Amount,
		source:      p.Source,
		description: p.Description,
		referenceID: p.ReferenceID,
		metadata:    p.Metadata,
	})
}

// SpendCredits deducts Amount and records a spend entry, at most once per ReferenceID.
// It fails with ErrInsufficientFunds, writing nothing, when Amount exceeds the available balance.
func (s *Service) SpendCredits(ctx context.Context, p SpendParams) (*Result, error) {
	return s.apply(ctx, entry{
		userID:      p.UserID,
		kind:        models.CreditTxSpend,
		amount:      p.Amount,
		source:      p.Source,
		description: p.Description,
		referenceID: p.ReferenceID,
		metadata:    p.Metadata,
	})
}

// GetTransactionHistory returns the user's entries, newest first.
// limit is clamped to [1,100]; zero means 20.
func (s *Service) GetTransactionHistory(ctx context.Context, userID uuid.UUID, limit, offset int) (*HistoryPage, error) {
	switch {
	case limit == 0:
		limit = defaultHistoryLimit
	case limit < 1:
		limit = 1
	case limit > maxHistoryLimit:
		limit = maxHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}
	list, err := s.txs.ListByUserID(ctx, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	total, err := s.txs.CountByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("count transactions: %w", err)
	}
	return &HistoryPage{Transactions: list, Total: total, Limit: limit, Offset: offset}, nil
}

type entry struct {
	userID      uuid.UUID
	kind        string
	amount      int64
	source      string
	description string
	referenceID string
	metadata    json.RawMessage
}

func (s *Service) apply(ctx context.Context, e entry) (*Result, error) {
	if e.amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if e.referenceID == "" {
		return nil, ErrMissingReference
	}
	if !models.IsValidCreditSource(e.source) {
		return nil, ErrInvalidSource
	}
	log := s.log.With("user_id", e.userID, "type", e.kind, "reference_id", e.referenceID)

	res, err := s.applyTx(ctx, e)
	if errors.Is(err, ErrDuplicateReference) {
		// Lost an insert race on reference_id; the winner's entry is authoritative.
		res, err = s.replay(ctx, e.referenceID)
	}
	switch {
	case err == nil && res.Replayed:
		metrics.LedgerOperations.WithLabelValues(e.kind, "replayed").Inc()
		log.Info("ledger operation replayed", "balance_after", res.NewBalance)
		if res.Transaction.UserID != e.userID {
			log.Warn("reference id belongs to another user", "owner_id", res.Transaction.UserID)
		}
		if res.Transaction.Type != e.kind || res.Transaction.Amount != e.amount {
			log.Warn("reference id reused for a different operation",
				"stored_type", res.Transaction.Type, "stored_amount", res.Transaction.Amount, "amount", e.amount)
		}
	case err == nil:
		metrics.LedgerOperations.WithLabelValues(e.kind, "applied").Inc()
		metrics.LedgerCredits.WithLabelValues(e.kind, e.source).Add(float64(e.amount))
		log.Info("ledger operation applied", "amount", e.amount, "balance_after", res.NewBalance)
	case errors.Is(err, ErrInsufficientFunds):
		metrics.LedgerOperations.WithLabelValues(e.kind, "insufficient").Inc()
		log.Info("spend rejected", "amount", e.amount)
	default:
		metrics.LedgerOperations.WithLabelValues(e.kind, "error").Inc()
		log.Error("ledger operation failed", "error", err)
	}
	return res, err
}

// applyTx runs one ledger operation in a single transaction:
// lock the account row, check the reference, append the entry, move the balance.
func (s *Service) applyTx(ctx context.Context, e entry) (*Result, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.accounts.EnsureTx(ctx, tx, e.userID); err != nil {
		return nil, fmt.Errorf("ensure account: %w", err)
	}
	acc, err := s.accounts.GetForUpdate(ctx, tx, e.userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock account: %w", err)
	}

	prior, err := s.txs.GetByReferenceTx(ctx, tx, e.referenceID)
	if err == nil {
		return &Result{Transaction: prior, NewBalance: prior.BalanceAfter, Replayed: true}, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("lookup reference: %w", err)
	}

	var delta, earned, spent int64
	if e.kind == models.CreditTxSpend {
		if acc.Available() < e.amount {
			return nil, ErrInsufficientFunds
		}
		delta, spent = -e.amount, e.amount
	} else {
		delta, earned = e.amount, e.amount
	}

	rec := &models.CreditTransaction{
		ID:           uuid.New(),
		UserID:       e.userID,
		Type:         e.kind,
		Amount:       e.amount,
		BalanceAfter: acc.Balance + delta,
		Source:       e.source,
		Description:  e.description,
		ReferenceID:  e.referenceID,
		Metadata:     e.metadata,
	}
	inserted, err := s.txs.InsertTx(ctx, tx, rec)
	if err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, ErrDuplicateReference
		}
		return nil, fmt.Errorf("insert transaction: %w", err)
	}
	if !inserted {
		return nil, ErrDuplicateReference
	}

	updated, err := s.accounts.ApplyDelta(ctx, tx, e.userID, delta, earned, spent)
	if err != nil {
		return nil, fmt.Errorf("update balance: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, ErrDuplicateReference
		}
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &Result{Transaction: rec, NewBalance: updated.Balance}, nil
}

func (s *Service) replay(ctx context.Context, referenceID string) (*Result, error) {
	prior, err := s.txs.GetByReference(ctx, referenceID)
	if err != nil {
		return nil, fmt.Errorf("lookup reference after conflict: %w", err)
	}
	return &Result{Transaction: prior, NewBalance: prior.BalanceAfter, Replayed: true}, nil
}
