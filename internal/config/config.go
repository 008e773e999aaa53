// Package config loads service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/robfig/cron/v3"
)

type Config struct {
	// --- HTTP ---
	Port               string `envconfig:"PORT" default:"8080"`
	CORSAllowedOrigins string `envconfig:"CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
	LogLevel           string `envconfig:"LOG_LEVEL" default:"info"`

	// --- Database ---
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`

	// --- Auth ---
	JWTSecret string `envconfig:"JWT_SECRET" required:"true"`

	// --- Generation locks ---
	LockTTL            time.Duration `envconfig:"LOCK_TTL" default:"15m"`
	LockLeaseExtension time.Duration `envconfig:"LOCK_LEASE_EXTENSION" default:"5m"`
	LockPurgeSchedule  string        `envconfig:"LOCK_PURGE_SCHEDULE" default:"@every 10m"`

	// --- Generation ---
	GenerationTimeout      time.Duration `envconfig:"GENERATION_TIMEOUT" default:"10m"`
	GenerationPollInterval time.Duration `envconfig:"GENERATION_POLL_INTERVAL" default:"3s"`
	SpendRetries           int           `envconfig:"SPEND_RETRIES" default:"3"`

	// --- Pricing (credits) ---
	ImageCreditCost    int64 `envconfig:"IMAGE_CREDIT_COST" default:"1"`
	VideoCreditCost    int64 `envconfig:"VIDEO_CREDIT_COST" default:"5"`
	SignupBonusCredits int64 `envconfig:"SIGNUP_BONUS_CREDITS" default:"15"`

	// --- Provider ---
	ProviderBaseURL string        `envconfig:"PROVIDER_BASE_URL" required:"true"`
	ProviderAPIKey  string        `envconfig:"PROVIDER_API_KEY"`
	ProviderTimeout time.Duration `envconfig:"PROVIDER_TIMEOUT" default:"60s"`

	// --- Jobs ---
	RiverMaxWorkers int `envconfig:"RIVER_MAX_WORKERS" default:"10"`
}

// Load reads an optional .env file, then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.LockTTL <= 0 {
		return fmt.Errorf("LOCK_TTL must be > 0")
	}
	if c.LockLeaseExtension <= 0 || c.LockLeaseExtension > c.LockTTL {
		return fmt.Errorf("LOCK_LEASE_EXTENSION must be in (0, LOCK_TTL]")
	}
	if c.GenerationPollInterval <= 0 {
		return fmt.Errorf("GENERATION_POLL_INTERVAL must be > 0")
	}
	if c.GenerationTimeout < c.GenerationPollInterval {
		return fmt.Errorf("GENERATION_TIMEOUT must be >= GENERATION_POLL_INTERVAL")
	}
	if c.SpendRetries < 1 {
		return fmt.Errorf("SPEND_RETRIES must be >= 1")
	}
	if c.ImageCreditCost <= 0 || c.VideoCreditCost <= 0 {
		return fmt.Errorf("IMAGE_CREDIT_COST and VIDEO_CREDIT_COST must be > 0")
	}
	if c.SignupBonusCredits < 0 {
		return fmt.Errorf("SIGNUP_BONUS_CREDITS must be >= 0")
	}
	if c.RiverMaxWorkers <= 0 {
		return fmt.Errorf("RIVER_MAX_WORKERS must be > 0")
	}
	if _, err := cron.ParseStandard(c.LockPurgeSchedule); err != nil {
		return fmt.Errorf("LOCK_PURGE_SCHEDULE: %w", err)
	}
	return nil
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS on commas.
func (c *Config) AllowedOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// SlogLevel maps LOG_LEVEL to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
