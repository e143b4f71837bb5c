package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "8090", cfg.Port)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, BackendRedis, cfg.StoreBackend)
	assert.Equal(t, "localhost:6379", cfg.RedisURL)
	assert.Equal(t, "tickets", cfg.MongoDatabase)
	assert.Equal(t, "X-Operator-Key", cfg.OperatorHeader)
	assert.Equal(t, 72*time.Hour, cfg.QRTTL)
	assert.Equal(t, 5*time.Minute, cfg.FutureSkewTolerance)
	assert.Equal(t, 5, cfg.MaxTicketsPerUser)
	assert.Equal(t, 2, cfg.DefaultEventLimit)
	assert.Equal(t, 2, cfg.LotteryMaxPerUser)
	assert.True(t, cfg.FailOpenOnPolicyError)
	assert.Equal(t, 10*time.Minute, cfg.DrawLeaseTTL)
	assert.Equal(t, 60, cfg.RateLimitVerifyPerMinute)
	assert.True(t, cfg.EnableMetrics)
	assert.Equal(t, devJWTSecret, cfg.JWTSecret, "development falls back to a fixed secret")
	assert.Equal(t, devLedgerSecret, cfg.LedgerSecret)
}

func TestLoadConfig_Environment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PORT", "9000")
	t.Setenv("STORE_BACKEND", "MONGO")
	t.Setenv("QR_TTL", "2h")
	t.Setenv("FAIL_OPEN_ON_POLICY_ERROR", "false")
	t.Setenv("DEFAULT_EVENT_LIMIT", "3")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, BackendMongo, cfg.StoreBackend)
	assert.Equal(t, 2*time.Hour, cfg.QRTTL)
	assert.False(t, cfg.FailOpenOnPolicyError)
	assert.Equal(t, 3, cfg.DefaultEventLimit)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
}

func TestLoadConfig_FileAndDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("OPERATOR_KEY=from-dotenv\n"), 0o600))
	path := filepath.Join(dir, "app.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: \"7000\"\nstore_backend: memory\n"), 0o600))
	t.Setenv("OPERATOR_KEY", "")
	os.Unsetenv("OPERATOR_KEY")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "7000", cfg.Port)
	assert.Equal(t, BackendMemory, cfg.StoreBackend)
	assert.Equal(t, "from-dotenv", cfg.OperatorKey)

	_, err = LoadConfig(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err, "an explicit path must exist")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Environment:       "production",
			LogFormat:         "json",
			StoreBackend:      BackendRedis,
			JWTSecret:         "s",
			LedgerSecret:      "l",
			QRTTL:             time.Hour,
			DrawLeaseTTL:      time.Minute,
			MaxTicketsPerUser: 5,
			DefaultEventLimit: 2,
			LotteryMaxPerUser: 2,
		}
	}
	require.NoError(t, valid().Validate())

	cases := map[string]func(*Config){
		"unknown backend":       func(c *Config) { c.StoreBackend = "sqlite" },
		"missing jwt secret":    func(c *Config) { c.JWTSecret = "" },
		"missing ledger secret": func(c *Config) { c.LedgerSecret = "" },
		"zero qr ttl":           func(c *Config) { c.QRTTL = 0 },
		"zero lease":            func(c *Config) { c.DrawLeaseTTL = 0 },
		"zero limit":            func(c *Config) { c.LotteryMaxPerUser = 0 },
		"bad log format":        func(c *Config) { c.LogFormat = "xml" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := valid()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
