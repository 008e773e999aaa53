package housekeeping

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

type countingPurger struct {
	calls atomic.Int32
	err   error
}

func (p *countingPurger) PurgeExpired(context.Context) (int64, error) {
	p.calls.Add(1)
	return 2, p.err
}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestPurgeExpiredLocks(t *testing.T) {
	p := &countingPurger{}
	s := NewScheduler(p, testLogger())
	s.PurgeExpiredLocks()
	p.err = errors.New("db down")
	s.PurgeExpiredLocks()
	if got := p.calls.Load(); got != 2 {
		t.Errorf("calls: got %d, want 2", got)
	}
}

func TestStartRunsOnSchedule(t *testing.T) {
	defer goleak.VerifyNone(t)

	p := &countingPurger{}
	s := NewScheduler(p, testLogger())
	if err := s.Start("@every 1s"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for p.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	<-s.Stop().Done()
	if p.calls.Load() == 0 {
		t.Error("purge never ran")
	}
}

func TestStartRejectsBadSchedule(t *testing.T) {
	s := NewScheduler(&countingPurger{}, testLogger())
	if err := s.Start("whenever"); err == nil {
		t.Error("expected error for invalid schedule")
	}
}
