package config

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/genstudio")
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("PROVIDER_BASE_URL", "http://provider.local")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 15*time.Minute, cfg.LockTTL)
	assert.Equal(t, 5*time.Minute, cfg.LockLeaseExtension)
	assert.Equal(t, 10*time.Minute, cfg.GenerationTimeout)
	assert.Equal(t, 3*time.Second, cfg.GenerationPollInterval)
	assert.Equal(t, 3, cfg.SpendRetries)
	assert.Equal(t, int64(1), cfg.ImageCreditCost)
	assert.Equal(t, int64(5), cfg.VideoCreditCost)
	assert.Equal(t, int64(15), cfg.SignupBonusCredits)
	assert.Equal(t, "@every 10m", cfg.LockPurgeSchedule)
}

func TestLoad_MissingRequired(t *testing.T) {
	for _, k := range []string{"DATABASE_URL", "JWT_SECRET", "PROVIDER_BASE_URL"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	setRequired(t)

	cases := map[string]func(*Config){
		"zero ttl":              func(c *Config) { c.LockTTL = 0 },
		"extension beyond ttl":  func(c *Config) { c.LockLeaseExtension = 2 * c.LockTTL },
		"timeout below poll":    func(c *Config) { c.GenerationTimeout = time.Second },
		"no spend retries":      func(c *Config) { c.SpendRetries = 0 },
		"free video":            func(c *Config) { c.VideoCreditCost = 0 },
		"bad purge schedule":    func(c *Config) { c.LockPurgeSchedule = "sometimes" },
		"no river workers":      func(c *Config) { c.RiverMaxWorkers = 0 },
		"negative signup bonus": func(c *Config) { c.SignupBonusCredits = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestAllowedOriginsAndLevel(t *testing.T) {
	c := &Config{CORSAllowedOrigins: " https://a.example , ,https://b.example", LogLevel: "debug"}
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, c.AllowedOrigins())
	assert.Equal(t, slog.LevelDebug, c.SlogLevel())

	c.LogLevel = "loud"
	assert.Equal(t, slog.LevelInfo, c.SlogLevel())
}
