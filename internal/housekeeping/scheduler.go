// Package housekeeping runs periodic maintenance that correctness never depends on.
package housekeeping

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const purgeTimeout = 30 * time.Second

// LockPurger is satisfied by *genlock.Manager.
type LockPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Scheduler owns the cron runner.
type Scheduler struct {
	cron   *cron.Cron
	locks  LockPurger
	logger *slog.Logger
}

func NewScheduler(locks LockPurger, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))
	return &Scheduler{cron: c, locks: locks, logger: logger}
}

// Start registers the lock purge on schedule and starts the runner.
func (s *Scheduler) Start(schedule string) error {
	if _, err := s.cron.AddFunc(schedule, s.PurgeExpiredLocks); err != nil {
		return fmt.Errorf("schedule lock purge: %w", err)
	}
	s.logger.Info("scheduled expired lock purge", "schedule", schedule)
	s.cron.Start()
	return nil
}

// Stop stops the runner; the returned context is done when running jobs finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) PurgeExpiredLocks() {
	ctx, cancel := context.WithTimeout(context.Background(), purgeTimeout)
	defer cancel()
	n, err := s.locks.PurgeExpired(ctx)
	if err != nil {
		s.logger.Error("purge expired locks failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("purged expired generation locks", "count", n)
	}
}
