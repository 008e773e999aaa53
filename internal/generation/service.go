// Package generation runs one AI generation end to end: price check, lock,
// provider submit and poll, persist, charge, release.
package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/genstudio/backend/internal/genlock"
	"github.com/genstudio/backend/internal/ledger"
	"github.com/genstudio/backend/internal/metrics"
	"github.com/genstudio/backend/internal/models"
	"github.com/genstudio/backend/internal/repository"
	"github.com/genstudio/backend/internal/services"
)

const (
	releaseTimeout = 5 * time.Second
	// maxStatusErrors is how many consecutive failed status polls are tolerated.
	maxStatusErrors = 3
)

var (
	// ErrProviderFailed means the provider did not produce an asset. No credits were charged.
	ErrProviderFailed = errors.New("generation failed, no credits charged")
	ErrInvalidParams  = errors.New("invalid generation params")
)

// Ledger is the subset of *ledger.Service used here.
type Ledger interface {
	GetOrCreateAccount(ctx context.Context, userID uuid.UUID) (*models.CreditAccount, error)
	SpendCredits(ctx context.Context, p ledger.SpendParams) (*ledger.Result, error)
}

// Locker is the subset of *genlock.Manager used here.
type Locker interface {
	Acquire(ctx context.Context, p genlock.AcquireParams) (*models.GenerationLock, error)
	Update(ctx context.Context, lockID uuid.UUID, p genlock.UpdateParams) (*models.GenerationLock, error)
	Release(ctx context.Context, lockID uuid.UUID) error
}

// Store persists generation records; *repository.GenerationRepo implements it.
type Store interface {
	Create(ctx context.Context, g *models.Generation) error
	// MarkFailed flips a stored generation to failed and drops its output URLs.
	MarkFailed(ctx context.Context, id uuid.UUID) error
	ListByUserID(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.Generation, error)
}

// ParamsValidator is satisfied by *services.Validator.
type ParamsValidator interface {
	ValidateParams(assetType string, params json.RawMessage) error
	ValidateOutput(assetType string, output json.RawMessage) error
}

type Config struct {
	LockTTL        time.Duration
	LeaseExtension time.Duration
	Timeout        time.Duration
	PollInterval   time.Duration
	SpendRetries   int
}

type Request struct {
	UserID    uuid.UUID       `json:"-"`
	AssetType string          `json:"asset_type"`
	RequestID string          `json:"request_id,omitempty"`
	Params    json.RawMessage `json:"params"`
}

type Service struct {
	ledger    Ledger
	locks     Locker
	store     Store
	provider  Provider
	validator ParamsValidator
	pricing   Pricing
	cfg       Config
	log       *slog.Logger
}

func NewService(l Ledger, locks Locker, store Store, provider Provider, validator ParamsValidator, pricing Pricing, cfg Config, log *slog.Logger) *Service {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 3 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	if cfg.LeaseExtension <= 0 {
		cfg.LeaseExtension = 5 * time.Minute
	}
	if cfg.SpendRetries <= 0 {
		cfg.SpendRetries = 3
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		ledger:    l,
		locks:     locks,
		store:     store,
		provider:  provider,
		validator: validator,
		pricing:   pricing,
		cfg:       cfg,
		log:       log,
	}
}

// Generate produces one asset for the user and charges for it only on success.
// Lock contention comes back as *genlock.LockHeldError. The lock is released on every path.
func (s *Service) Generate(ctx context.Context, req Request) (*models.Generation, error) {
	if !models.IsValidAssetType(req.AssetType) {
		return nil, genlock.ErrInvalidAssetType
	}
	if s.validator != nil {
		if err := s.validator.ValidateParams(req.AssetType, req.Params); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
		}
	}
	cost, err := s.pricing.Cost(req.AssetType)
	if err != nil {
		return nil, err
	}
	log := s.log.With("user_id", req.UserID, "asset_type", req.AssetType)

	lockMeta, err := json.Marshal(lockMetadata{Cost: cost, Params: req.Params})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}

	acc, err := s.ledger.GetOrCreateAccount(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("load credit account: %w", err)
	}
	if acc.Available() < cost {
		metrics.Generations.WithLabelValues(req.AssetType, "insufficient").Inc()
		return nil, ledger.ErrInsufficientFunds
	}

	lock, err := s.locks.Acquire(ctx, genlock.AcquireParams{
		UserID:    req.UserID,
		AssetType: req.AssetType,
		RequestID: req.RequestID,
		Metadata:  lockMeta,
		TTL:       s.cfg.LockTTL,
	})
	if err != nil {
		var held *genlock.LockHeldError
		if errors.As(err, &held) {
			metrics.Generations.WithLabelValues(req.AssetType, "locked").Inc()
			log.Info("generation rejected, lock held", "holder_id", held.Holder.ID, "retry_after", held.RetryAfter)
		}
		return nil, err
	}
	log = log.With("lock_id", lock.ID)
	defer func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if err := s.locks.Release(rctx, lock.ID); err != nil {
			log.Error("release generation lock failed", "error", err)
		}
	}()

	taskID, err := s.provider.Submit(ctx, req.AssetType, req.Params)
	if err != nil {
		metrics.Generations.WithLabelValues(req.AssetType, "provider_failed").Inc()
		log.Warn("provider submit failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrProviderFailed, err)
	}
	log = log.With("task_id", taskID)

	// Once submitted the task runs to completion regardless of the caller, so
	// a finished asset is always recorded and billed.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.Timeout)
	defer cancel()
	if _, err := s.locks.Update(wctx, lock.ID, genlock.UpdateParams{TaskID: taskID, Extend: s.cfg.LeaseExtension}); err != nil {
		log.Warn("attach task to lock failed", "error", err)
	}

	start := time.Now()
	status, err := s.await(wctx, lock.ID, taskID, log)
	metrics.GenerationDuration.WithLabelValues(req.AssetType).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.Generations.WithLabelValues(req.AssetType, "provider_failed").Inc()
		log.Warn("generation failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrProviderFailed, err)
	}
	if s.validator != nil {
		out, _ := json.Marshal(struct {
			OutputURLs []string `json:"output_urls"`
		}{status.OutputURLs})
		if err := s.validator.ValidateOutput(req.AssetType, out); err != nil {
			log.Warn("provider output does not match schema", "error", err)
		}
	}

	var requestID *string
	if req.RequestID != "" {
		requestID = &req.RequestID
	}
	gen := &models.Generation{
		ID:             uuid.New(),
		UserID:         req.UserID,
		AssetType:      req.AssetType,
		RequestID:      requestID,
		ProviderTaskID: taskID,
		Params:         req.Params,
		OutputURLs:     status.OutputURLs,
		Cost:           cost,
		Status:         models.GenerationStatusSucceeded,
	}
	if err := s.retry(wctx, func() error {
		err := s.store.Create(wctx, gen)
		if repository.IsUniqueViolation(err) {
			// An earlier attempt committed before its acknowledgement was lost.
			return nil
		}
		return err
	}); err != nil {
		metrics.Generations.WithLabelValues(req.AssetType, "error").Inc()
		log.Error("persist generation failed", "error", err)
		return nil, fmt.Errorf("persist generation: %w", err)
	}
	log = log.With("generation_id", gen.ID)

	var res *ledger.Result
	err = s.retry(wctx, func() error {
		var err error
		res, err = s.ledger.SpendCredits(wctx, ledger.SpendParams{
			UserID:      req.UserID,
			Amount:      cost,
			Source:      models.CreditSourceAPICall,
			Description: req.AssetType + " generation",
			ReferenceID: ChargeReference(gen.ID),
		})
		return err
	})
	if err != nil {
		metrics.Generations.WithLabelValues(req.AssetType, "charge_failed").Inc()
		log.Error("charge generation failed", "error", err)
		// An unbilled asset must not stay listed as delivered.
		if ferr := s.retry(wctx, func() error { return s.store.MarkFailed(wctx, gen.ID) }); ferr != nil {
			log.Error("mark generation failed", "error", ferr)
		}
		return nil, fmt.Errorf("charge generation %s: %w", gen.ID, err)
	}

	metrics.Generations.WithLabelValues(req.AssetType, "succeeded").Inc()
	log.Info("generation completed", "cost", cost, "balance_after", res.NewBalance)
	return gen, nil
}

// lockMetadata is stored on the lock row so a holder can be inspected.
type lockMetadata struct {
	Cost   int64           `json:"cost"`
	Params json.RawMessage `json:"params,omitempty"`
}

// ListGenerations returns the user's generations, newest first.
func (s *Service) ListGenerations(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.Generation, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	list, err := s.store.ListByUserID(ctx, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list generations: %w", err)
	}
	return list, nil
}

// ChargeReference is the ledger reference id used to bill a generation.
func ChargeReference(generationID uuid.UUID) string {
	return "generation_" + generationID.String()
}

// await polls the provider until the task is terminal, extending the lock lease on each poll.
func (s *Service) await(ctx context.Context, lockID uuid.UUID, taskID string, log *slog.Logger) (*TaskStatus, error) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	statusErrors := 0
	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for task %s: %w", taskID, ctx.Err())
		case <-ticker.C:
		}

		if _, err := s.locks.Update(ctx, lockID, genlock.UpdateParams{Extend: s.cfg.LeaseExtension}); err != nil {
			log.Warn("extend generation lock failed", "error", err)
		}

		st, err := s.provider.Status(ctx, taskID)
		if err != nil {
			statusErrors++
			if statusErrors >= maxStatusErrors {
				return nil, err
			}
			log.Warn("provider status failed", "error", err, "attempt", statusErrors)
			continue
		}
		statusErrors = 0

		switch st.State {
		case TaskSucceeded:
			return st, nil
		case TaskFailed:
			return nil, fmt.Errorf("task %s failed: %s", taskID, st.Error)
		}
	}
}

// retry runs fn up to SpendRetries times while it fails with a persistence error.
// Domain errors such as insufficient funds are returned immediately.
func (s *Service) retry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; attempt <= s.cfg.SpendRetries; attempt++ {
		err = fn()
		if err == nil || errors.Is(err, ledger.ErrInsufficientFunds) || errors.Is(err, ledger.ErrInvalidAmount) {
			return err
		}
		if attempt == s.cfg.SpendRetries {
			break
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
		}
	}
	return err
}

var _ ParamsValidator = (*services.Validator)(nil)
