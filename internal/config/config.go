package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
)

const (
	defaultAppName          = "Settlement"
	defaultAppEnv           = "development"
	defaultPort             = "8080"
	defaultLogLevel         = "info"
	defaultShutdownDelay    = 10 * time.Second
	defaultIdempotencyTTL   = 24 * time.Hour
	defaultSettingsCacheTTL = 30 * time.Second
	defaultCommission       = "10"
	defaultHoldDays         = 14
	defaultMinPayout        = "10.00"
	defaultClearanceCron    = "*/15 * * * *"
	defaultOutboxInterval   = 5 * time.Second
	defaultOutboxAttempts   = 10
	defaultPayoutPerMinute  = 5
	defaultTokenTTL         = time.Hour
	idemTTLSecondsEnvVar    = "IDEMPOTENCY_TTL_SECONDS"
	idemTTLDurEnvVar        = "IDEMPOTENCY_TTL"
	shutdownSecondsEnvVar   = "SHUTDOWN_TIMEOUT_SECONDS"
	shutdownDurationEnvVar  = "SHUTDOWN_TIMEOUT"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	DatabaseURL    string
	DatabaseConns  int32
	RedisURL       string
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration
	RunMigrations  bool

	JWTSecret       string
	TokenTTL        time.Duration
	OperatorKeyHash string

	CommissionPercent   decimal.Decimal
	ClearanceHoldDays   int
	MinPayoutAmount     decimal.Decimal
	ClearanceSchedule   string
	OutboxDrainInterval time.Duration
	OutboxMaxAttempts   int
	PayoutsPerMinute    int
	SettingsCacheTTL    time.Duration
	CORSAllowedOrigins  []string
}

// Load reads configuration values from the environment and populates a Config instance.
func Load() (Config, error) {
	cfg := Config{
		AppName:            getEnv("APP_NAME", defaultAppName),
		AppEnv:             getEnv("APP_ENV", defaultAppEnv),
		Port:               getEnv("PORT", defaultPort),
		LogLevel:           strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		RedisURL:           os.Getenv("REDIS_URL"),
		ShutdownPeriod:     defaultShutdownDelay,
		IdempotencyTTL:     defaultIdempotencyTTL,
		JWTSecret:          os.Getenv("JWT_SECRET"),
		OperatorKeyHash:    os.Getenv("OPERATOR_KEY_HASH"),
		ClearanceSchedule:  getEnv("CLEARANCE_SCHEDULE", defaultClearanceCron),
		CORSAllowedOrigins: splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
	}

	var err error
	if cfg.ShutdownPeriod, err = durationEnv(shutdownSecondsEnvVar, shutdownDurationEnvVar, defaultShutdownDelay); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = durationEnv(idemTTLSecondsEnvVar, idemTTLDurEnvVar, defaultIdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.SettingsCacheTTL, err = durationEnv("", "SETTINGS_CACHE_TTL", defaultSettingsCacheTTL); err != nil {
		return Config{}, err
	}
	if cfg.OutboxDrainInterval, err = durationEnv("", "OUTBOX_DRAIN_INTERVAL", defaultOutboxInterval); err != nil {
		return Config{}, err
	}
	if cfg.TokenTTL, err = durationEnv("", "TOKEN_TTL", defaultTokenTTL); err != nil {
		return Config{}, err
	}
	if cfg.RunMigrations, err = boolEnv("RUN_MIGRATIONS", true); err != nil {
		return Config{}, err
	}

	conns, err := intEnv("DATABASE_MAX_CONNS", 0)
	if err != nil {
		return Config{}, err
	}
	cfg.DatabaseConns = int32(conns)

	if cfg.ClearanceHoldDays, err = intEnv("CLEARANCE_HOLD_DAYS", defaultHoldDays); err != nil {
		return Config{}, err
	}
	if cfg.ClearanceHoldDays < 0 {
		return Config{}, fmt.Errorf("CLEARANCE_HOLD_DAYS must not be negative")
	}
	if cfg.PayoutsPerMinute, err = intEnv("PAYOUT_REQUESTS_PER_MINUTE", defaultPayoutPerMinute); err != nil {
		return Config{}, err
	}
	if cfg.OutboxMaxAttempts, err = intEnv("OUTBOX_MAX_ATTEMPTS", defaultOutboxAttempts); err != nil {
		return Config{}, err
	}
	if cfg.OutboxMaxAttempts < 1 {
		return Config{}, fmt.Errorf("OUTBOX_MAX_ATTEMPTS must be at least 1")
	}

	if cfg.CommissionPercent, err = decimalEnv("COMMISSION_RATE_PERCENT", defaultCommission); err != nil {
		return Config{}, err
	}
	if cfg.CommissionPercent.IsNegative() || cfg.CommissionPercent.GreaterThan(decimal.NewFromInt(100)) {
		return Config{}, fmt.Errorf("COMMISSION_RATE_PERCENT must be between 0 and 100")
	}
	if cfg.MinPayoutAmount, err = decimalEnv("MIN_PAYOUT_AMOUNT", defaultMinPayout); err != nil {
		return Config{}, err
	}

	if _, err := cron.ParseStandard(cfg.ClearanceSchedule); err != nil {
		return Config{}, fmt.Errorf("invalid CLEARANCE_SCHEDULE: %w", err)
	}

	if cfg.JWTSecret == "" {
		if !cfg.IsDev() {
			return Config{}, fmt.Errorf("JWT_SECRET must be set")
		}
		cfg.JWTSecret = "dev-only-secret"
	}

	if !cfg.IsDev() {
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL must be set")
		}
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("REDIS_URL must be set")
		}
	}

	return cfg, nil
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// IsDev reports whether the in-memory fallbacks may be used.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// durationEnv reads secondsKey as an integer number of seconds, else durKey as
// a Go duration string.
func durationEnv(secondsKey, durKey string, fallback time.Duration) (time.Duration, error) {
	if secondsKey != "" {
		if v := os.Getenv(secondsKey); v != "" {
			seconds, err := strconv.Atoi(v)
			if err != nil {
				return 0, fmt.Errorf("invalid %s: %w", secondsKey, err)
			}
			return time.Duration(seconds) * time.Second, nil
		}
	}
	if v := os.Getenv(durKey); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", durKey, err)
		}
		return d, nil
	}
	return fallback, nil
}

func intEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func boolEnv(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func decimalEnv(key, fallback string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(getEnv(key, fallback))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
