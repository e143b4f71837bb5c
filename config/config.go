package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	BackendRedis  = "redis"
	BackendMongo  = "mongo"
	BackendMemory = "memory"

	devJWTSecret    = "dev-jwt-secret"
	devLedgerSecret = "dev-ledger-secret"
)

type Config struct {
	// Server configuration
	Port        string
	Environment string
	LogLevel    string
	LogFormat   string

	// Storage
	StoreBackend  string
	RedisURL      string
	RedisPassword string
	RedisDB       int
	MongoURI      string
	MongoDatabase string

	// PubNub configuration
	PubNubPublishKey   string
	PubNubSubscribeKey string
	PubNubSecretKey    string

	// Auth
	JWTSecret      string
	OperatorHeader string
	OperatorKey    string

	// Ledger and QR payloads
	LedgerSecret        string
	QRTTL               time.Duration
	FutureSkewTolerance time.Duration

	// Purchase limits
	MaxTicketsPerUser     int
	DefaultEventLimit     int
	LotteryMaxPerUser     int
	FailOpenOnPolicyError bool

	DrawLeaseTTL             time.Duration
	UserCacheTTL             time.Duration
	RateLimitVerifyPerMinute int

	// Monitoring
	EnableMetrics bool
	MetricsPort   string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8090")
	v.SetDefault("ENVIRONMENT", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("STORE_BACKEND", BackendRedis)
	v.SetDefault("REDIS_URL", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("MONGO_URI", "mongodb://localhost:27017")
	v.SetDefault("MONGO_DATABASE", "tickets")

	v.SetDefault("PUBNUB_PUBLISH_KEY", "")
	v.SetDefault("PUBNUB_SUBSCRIBE_KEY", "")
	v.SetDefault("PUBNUB_SECRET_KEY", "")

	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("OPERATOR_HEADER", "X-Operator-Key")
	v.SetDefault("OPERATOR_KEY", "")

	v.SetDefault("LEDGER_SECRET", "")
	v.SetDefault("QR_TTL", "72h")
	v.SetDefault("FUTURE_SKEW_TOLERANCE", "5m")

	v.SetDefault("MAX_TICKETS_PER_USER", 5)
	v.SetDefault("DEFAULT_EVENT_LIMIT", 2)
	v.SetDefault("LOTTERY_MAX_PER_USER", 2)
	v.SetDefault("FAIL_OPEN_ON_POLICY_ERROR", true)

	v.SetDefault("DRAW_LEASE_TTL", "10m")
	v.SetDefault("USER_CACHE_TTL", "5m")
	v.SetDefault("RATE_LIMIT_VERIFY_PER_MINUTE", 60)

	v.SetDefault("ENABLE_METRICS", true)
	v.SetDefault("METRICS_PORT", "9090")
}

// LoadConfig reads .env, the optional YAML file at path (or config.yaml in
// the working directory) and the environment, in increasing precedence.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{
		Port:        v.GetString("PORT"),
		Environment: v.GetString("ENVIRONMENT"),
		LogLevel:    strings.ToLower(v.GetString("LOG_LEVEL")),
		LogFormat:   strings.ToLower(v.GetString("LOG_FORMAT")),

		StoreBackend:  strings.ToLower(v.GetString("STORE_BACKEND")),
		RedisURL:      v.GetString("REDIS_URL"),
		RedisPassword: v.GetString("REDIS_PASSWORD"),
		RedisDB:       v.GetInt("REDIS_DB"),
		MongoURI:      v.GetString("MONGO_URI"),
		MongoDatabase: v.GetString("MONGO_DATABASE"),

		PubNubPublishKey:   v.GetString("PUBNUB_PUBLISH_KEY"),
		PubNubSubscribeKey: v.GetString("PUBNUB_SUBSCRIBE_KEY"),
		PubNubSecretKey:    v.GetString("PUBNUB_SECRET_KEY"),

		JWTSecret:      v.GetString("JWT_SECRET"),
		OperatorHeader: v.GetString("OPERATOR_HEADER"),
		OperatorKey:    v.GetString("OPERATOR_KEY"),

		LedgerSecret:        v.GetString("LEDGER_SECRET"),
		QRTTL:               v.GetDuration("QR_TTL"),
		FutureSkewTolerance: v.GetDuration("FUTURE_SKEW_TOLERANCE"),

		MaxTicketsPerUser:     v.GetInt("MAX_TICKETS_PER_USER"),
		DefaultEventLimit:     v.GetInt("DEFAULT_EVENT_LIMIT"),
		LotteryMaxPerUser:     v.GetInt("LOTTERY_MAX_PER_USER"),
		FailOpenOnPolicyError: v.GetBool("FAIL_OPEN_ON_POLICY_ERROR"),

		DrawLeaseTTL:             v.GetDuration("DRAW_LEASE_TTL"),
		UserCacheTTL:             v.GetDuration("USER_CACHE_TTL"),
		RateLimitVerifyPerMinute: v.GetInt("RATE_LIMIT_VERIFY_PER_MINUTE"),

		EnableMetrics: v.GetBool("ENABLE_METRICS"),
		MetricsPort:   v.GetString("METRICS_PORT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// Validate checks the configuration. Missing secrets fall back to fixed
// development values only in development.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendRedis, BackendMongo, BackendMemory:
	default:
		return fmt.Errorf("config: unknown STORE_BACKEND %q", c.StoreBackend)
	}

	if c.JWTSecret == "" {
		if !c.IsDevelopment() {
			return errors.New("config: JWT_SECRET is required")
		}
		slog.Warn("JWT_SECRET not set, using development secret")
		c.JWTSecret = devJWTSecret
	}
	if c.LedgerSecret == "" {
		if !c.IsDevelopment() {
			return errors.New("config: LEDGER_SECRET is required")
		}
		slog.Warn("LEDGER_SECRET not set, using development secret")
		c.LedgerSecret = devLedgerSecret
	}

	if c.QRTTL <= 0 {
		return errors.New("config: QR_TTL must be positive")
	}
	if c.DrawLeaseTTL <= 0 {
		return errors.New("config: DRAW_LEASE_TTL must be positive")
	}
	if c.MaxTicketsPerUser <= 0 || c.DefaultEventLimit <= 0 || c.LotteryMaxPerUser <= 0 {
		return errors.New("config: ticket limits must be positive")
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("config: unknown LOG_FORMAT %q", c.LogFormat)
	}
	return nil
}

// SlogLevel maps LOG_LEVEL onto a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
