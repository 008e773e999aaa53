package execution

import (
	"context"
	"fmt"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
)

// GrantInserter is satisfied by *river.Client[pgx.Tx].
type GrantInserter interface {
	Insert(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error)
}

// Enqueuer schedules credit grants on the River queue.
type Enqueuer struct {
	client GrantInserter
}

func NewEnqueuer(client GrantInserter) *Enqueuer {
	return &Enqueuer{client: client}
}

// EnqueueGrant inserts a grant job. River's unique-by-args option keeps
// repeated submissions of the same grant from piling up duplicate jobs; the
// ledger's reference id is what guarantees a single credit.
func (e *Enqueuer) EnqueueGrant(ctx context.Context, args GrantCreditsArgs) error {
	if _, err := e.client.Insert(ctx, args, &river.InsertOpts{
		MaxAttempts: 10,
		UniqueOpts:  river.UniqueOpts{ByArgs: true},
	}); err != nil {
		return fmt.Errorf("enqueue grant %s: %w", args.ReferenceID, err)
	}
	return nil
}
