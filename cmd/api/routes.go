package main

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/genstudio/backend/internal/auth"
	"github.com/genstudio/backend/internal/config"
	"github.com/genstudio/backend/internal/execution"
	"github.com/genstudio/backend/internal/generation"
	"github.com/genstudio/backend/internal/genlock"
	"github.com/genstudio/backend/internal/handlers"
	"github.com/genstudio/backend/internal/ledger"
	"github.com/genstudio/backend/internal/middleware"
	"github.com/genstudio/backend/internal/repository"
	"github.com/genstudio/backend/internal/router"
	"github.com/genstudio/backend/internal/services"
)

// buildHandler wires services and handlers into the API router.
// Middleware chain for POST /api/v1/generations: UserAuth -> CreditCheck -> handler.
func buildHandler(
	cfg *config.Config,
	pool *pgxpool.Pool,
	ledgerSvc *ledger.Service,
	locks *genlock.Manager,
	enqueuer *execution.Enqueuer,
	logger *slog.Logger,
) (http.Handler, error) {
	validator, err := services.NewValidator()
	if err != nil {
		return nil, fmt.Errorf("schema validator: %w", err)
	}

	pricing := generation.Pricing{Image: cfg.ImageCreditCost, Video: cfg.VideoCreditCost}
	genSvc := generation.NewService(
		ledgerSvc,
		locks,
		repository.NewGenerationRepo(pool),
		generation.NewHTTPProvider(cfg.ProviderBaseURL, cfg.ProviderAPIKey, cfg.ProviderTimeout),
		validator,
		pricing,
		generation.Config{
			LockTTL:        cfg.LockTTL,
			LeaseExtension: cfg.LockLeaseExtension,
			Timeout:        cfg.GenerationTimeout,
			PollInterval:   cfg.GenerationPollInterval,
			SpendRetries:   cfg.SpendRetries,
		},
		logger,
	)

	apiKeyRepo := repository.NewAPIKeyRepo(pool)
	authSvc := auth.NewService(auth.NewRepository(pool), enqueuer, cfg.JWTSecret, cfg.SignupBonusCredits)

	return router.New(router.Deps{
		Auth:        auth.NewHandler(authSvc, logger),
		Credits:     &handlers.CreditHandler{Ledger: ledgerSvc, Logger: logger},
		Generations: &handlers.GenerationHandler{Generator: genSvc, Logger: logger},
		Grants:      &handlers.GrantHandler{Enqueuer: enqueuer, Logger: logger},
		APIKeys:     &handlers.APIKeyHandler{Keys: apiKeyRepo, Logger: logger},
		UserAuth:    middleware.UserAuth(authSvc),
		APIKeyAuth:  middleware.APIKeyAuth(apiKeyRepo),
		CreditCheck: middleware.CreditCheck(ledgerSvc, pricing, logger),
	}), nil
}
