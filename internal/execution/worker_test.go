package execution

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"

	"github.com/genstudio/backend/internal/ledger"
	"github.com/genstudio/backend/internal/models"
)

type mockEarner struct {
	mu    sync.Mutex
	calls []ledger.EarnParams
	seen  map[string]bool
	err   error
}

func (m *mockEarner) EarnCredits(_ context.Context, p ledger.EarnParams) (*ledger.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, p)
	if m.err != nil {
		return nil, m.err
	}
	if m.seen == nil {
		m.seen = map[string]bool{}
	}
	replayed := m.seen[p.ReferenceID]
	m.seen[p.ReferenceID] = true
	return &ledger.Result{NewBalance: p.Amount, Replayed: replayed}, nil
}

func grantJob(args GrantCreditsArgs) *river.Job[GrantCreditsArgs] {
	return &river.Job[GrantCreditsArgs]{JobRow: &rivertype.JobRow{ID: 1, Attempt: 1}, Args: args}
}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestGrantCreditsWorker_RerunIsHarmless(t *testing.T) {
	earner := &mockEarner{}
	w := NewGrantCreditsWorker(earner, testLogger())
	args := GrantCreditsArgs{
		UserID:      uuid.New(),
		Amount:      15,
		Source:      models.CreditSourceBonus,
		ReferenceID: "signup_abc",
	}

	for i := 0; i < 2; i++ {
		if err := w.Work(context.Background(), grantJob(args)); err != nil {
			t.Fatalf("Work run %d: %v", i, err)
		}
	}
	if len(earner.calls) != 2 {
		t.Fatalf("calls: got %d, want 2", len(earner.calls))
	}
	for _, c := range earner.calls {
		if c.ReferenceID != "signup_abc" || c.Amount != 15 {
			t.Errorf("unexpected params: %+v", c)
		}
	}
}

func TestGrantCreditsWorker_TransientErrorRetries(t *testing.T) {
	dbErr := errors.New("connection reset")
	w := NewGrantCreditsWorker(&mockEarner{err: dbErr}, testLogger())

	err := w.Work(context.Background(), grantJob(GrantCreditsArgs{UserID: uuid.New(), Amount: 1, Source: models.CreditSourceAdmin, ReferenceID: "r"}))
	if !errors.Is(err, dbErr) {
		t.Fatalf("expected wrapped transient error, got %v", err)
	}
}

func TestGrantCreditsWorker_InvalidInputCancels(t *testing.T) {
	w := NewGrantCreditsWorker(&mockEarner{err: ledger.ErrInvalidAmount}, testLogger())

	err := w.Work(context.Background(), grantJob(GrantCreditsArgs{UserID: uuid.New(), Amount: 0, Source: models.CreditSourceAdmin, ReferenceID: "r"}))
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, ledger.ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount in chain, got %v", err)
	}
}

type mockInserter struct {
	args []river.JobArgs
	opts []*river.InsertOpts
}

func (m *mockInserter) Insert(_ context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error) {
	m.args = append(m.args, args)
	m.opts = append(m.opts, opts)
	return &rivertype.JobInsertResult{}, nil
}

func TestEnqueueGrant(t *testing.T) {
	ins := &mockInserter{}
	e := NewEnqueuer(ins)
	args := GrantCreditsArgs{UserID: uuid.New(), Amount: 100, Source: models.CreditSourceSubscription, ReferenceID: "creem_sub1_1700000000"}

	if err := e.EnqueueGrant(context.Background(), args); err != nil {
		t.Fatalf("EnqueueGrant: %v", err)
	}
	if len(ins.args) != 1 {
		t.Fatalf("inserts: got %d", len(ins.args))
	}
	got, ok := ins.args[0].(GrantCreditsArgs)
	if !ok || got.ReferenceID != args.ReferenceID {
		t.Errorf("args: got %+v", ins.args[0])
	}
	if got.Kind() != "grant_credits" {
		t.Errorf("kind: got %q", got.Kind())
	}
	if !ins.opts[0].UniqueOpts.ByArgs {
		t.Error("expected unique-by-args insert")
	}
}
