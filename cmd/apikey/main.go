// Command apikey mints the first server-to-server API key directly in the database.
// Later keys can be created through POST /api/v1/internal/api-keys.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/genstudio/backend/internal/middleware"
	"github.com/genstudio/backend/internal/repository"
)

type env struct {
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
}

func main() {
	label := flag.String("label", "", "human readable name of the caller, e.g. billing-webhook")
	flag.Parse()
	if *label == "" {
		flag.Usage()
		os.Exit(2)
	}

	_ = godotenv.Load()
	var e env
	if err := envconfig.Process("", &e); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, e.DatabaseURL)
	if err != nil {
		slog.Error("Unable to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	raw, key, err := middleware.NewAPIKey(*label)
	if err != nil {
		slog.Error("Key generation failed", "error", err)
		os.Exit(1)
	}
	if err := repository.NewAPIKeyRepo(pool).Create(ctx, key); err != nil {
		slog.Error("Create api key failed", "error", err)
		os.Exit(1)
	}
	fmt.Printf("id:  %s\nkey: %s\n", key.ID, raw)
}
