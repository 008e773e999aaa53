package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"

	"github.com/genstudio/backend/internal/config"
	"github.com/genstudio/backend/internal/db"
	"github.com/genstudio/backend/internal/execution"
	"github.com/genstudio/backend/internal/genlock"
	"github.com/genstudio/backend/internal/housekeeping"
	"github.com/genstudio/backend/internal/ledger"
	"github.com/genstudio/backend/internal/repository"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Unable to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("Cannot reach PostgreSQL. Ensure Postgres is running, e.g. docker-compose up -d", "error", err)
		os.Exit(1)
	}
	slog.Info("Connected to PostgreSQL database successfully!")

	// Application schema
	if err := db.MigrateUp(cfg.DatabaseURL, logger); err != nil {
		slog.Error("Schema migrate up failed", "error", err)
		os.Exit(1)
	}

	// River migrations
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		slog.Error("Failed to create River migrator", "error", err)
		os.Exit(1)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		slog.Error("River migrate up failed", "error", err)
		os.Exit(1)
	}
	slog.Info("River migrations applied")

	// Ledger
	accountRepo := repository.NewCreditAccountRepo(pool)
	txRepo := repository.NewCreditTransactionRepo(pool)
	ledgerSvc := ledger.NewService(pool, accountRepo, txRepo, logger)

	// Generation locks
	locks := genlock.NewManager(repository.NewGenerationLockRepo(pool), cfg.LockTTL, logger)

	// Grant worker
	workers := river.NewWorkers()
	river.AddWorker(workers, execution.NewGrantCreditsWorker(ledgerSvc, logger))

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Logger: logger,
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: cfg.RiverMaxWorkers},
		},
		Workers: workers,
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}

	handler, err := buildHandler(cfg, pool, ledgerSvc, locks, execution.NewEnqueuer(riverClient), logger)
	if err != nil {
		slog.Error("Failed to build HTTP handler", "error", err)
		os.Exit(1)
	}

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins(),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
	}).Handler(handler)

	// Start River client (processes grant jobs). It is stopped explicitly below
	// so running jobs can finish.
	if err := riverClient.Start(context.WithoutCancel(ctx)); err != nil {
		slog.Error("Failed to start River client", "error", err)
		os.Exit(1)
	}

	scheduler := housekeeping.NewScheduler(locks, logger)
	if err := scheduler.Start(cfg.LockPurgeSchedule); err != nil {
		slog.Error("Failed to start scheduler", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           corsHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("Starting HTTP server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Waits for in-flight generations up to shutdownTimeout.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown", "error", err)
	}
	<-scheduler.Stop().Done()
	if err := riverClient.Stop(shutdownCtx); err != nil {
		slog.Error("River shutdown", "error", err)
	}
}
