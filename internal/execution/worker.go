package execution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/genstudio/backend/internal/ledger"
)

// GrantCreditsArgs is an idempotent credit grant. Re-running the job with the
// same ReferenceID never grants twice.
type GrantCreditsArgs struct {
	UserID      uuid.UUID       `json:"user_id"`
	Amount      int64           `json:"amount"`
	Source      string          `json:"source"`
	Description string          `json:"description"`
	ReferenceID string          `json:"reference_id"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
}

func (GrantCreditsArgs) Kind() string { return "grant_credits" }

// CreditEarner is the ledger operation the worker needs.
type CreditEarner interface {
	EarnCredits(ctx context.Context, p ledger.EarnParams) (*ledger.Result, error)
}

type GrantCreditsWorker struct {
	river.WorkerDefaults[GrantCreditsArgs]
	ledger CreditEarner
	log    *slog.Logger
}

func NewGrantCreditsWorker(l CreditEarner, log *slog.Logger) *GrantCreditsWorker {
	if log == nil {
		log = slog.Default()
	}
	return &GrantCreditsWorker{ledger: l, log: log}
}

func (w *GrantCreditsWorker) Work(ctx context.Context, job *river.Job[GrantCreditsArgs]) error {
	args := job.Args

	res, err := w.ledger.EarnCredits(ctx, ledger.EarnParams{
		UserID:      args.UserID,
		Amount:      args.Amount,
		Source:      args.Source,
		Description: args.Description,
		ReferenceID: args.ReferenceID,
		Metadata:    args.Metadata,
	})
	if err != nil {
		if isPermanent(err) {
			// Retrying cannot fix bad input.
			return river.JobCancel(fmt.Errorf("grant %s: %w", args.ReferenceID, err))
		}
		return fmt.Errorf("grant %s (attempt %d): %w", args.ReferenceID, job.Attempt, err)
	}
	w.log.Info("credit grant processed",
		"user_id", args.UserID, "reference_id", args.ReferenceID,
		"replayed", res.Replayed, "balance_after", res.NewBalance)
	return nil
}

func isPermanent(err error) bool {
	return errors.Is(err, ledger.ErrInvalidAmount) ||
		errors.Is(err, ledger.ErrMissingReference) ||
		errors.Is(err, ledger.ErrInvalidSource)
}
