package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr  string
	MetricsAddr string
	LogLevel    string

	// Database configuration
	DatabaseURL string

	// NATS configuration
	NATSURL string

	// Solana configuration
	SolanaRPCURL  string
	SolanaNetwork string

	// Temporal configuration
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string

	// Ingestion polling configuration
	DefaultPollInterval time.Duration
	MinPollInterval     time.Duration

	// Feed presentation
	FeedPageSize int
	FeedLocation *time.Location

	// Send limits
	DailyLimit    decimal.Decimal
	LimitCurrency string

	// In-house liquidity (bank linking)
	BankLink BankLinkConfig
}

// BankLinkConfig configures the in-house-liquidity client used for bank linking.
// Bank linking is disabled when BaseURL is empty.
type BankLinkConfig struct {
	BaseURL    string
	SigningKey string
	TokenTTL   time.Duration
	Timeout    time.Duration
}

// Enabled reports whether bank linking is configured.
func (b BankLinkConfig) Enabled() bool {
	return b.BaseURL != ""
}

// LoadDefaults fills the bank-link configuration from the environment.
func (b *BankLinkConfig) LoadDefaults() error {
	var errs []error

	b.BaseURL = os.Getenv("IHL_URL")
	b.SigningKey = os.Getenv("IHL_SIGNING_KEY")

	ttl, err := parseDuration("IHL_TOKEN_TTL", "5m")
	if err != nil {
		errs = append(errs, err)
	}
	b.TokenTTL = ttl

	timeout, err := parseDuration("IHL_TIMEOUT", "30s")
	if err != nil {
		errs = append(errs, err)
	}
	b.Timeout = timeout

	if b.BaseURL != "" && b.SigningKey == "" {
		errs = append(errs, fmt.Errorf("IHL_SIGNING_KEY is required when IHL_URL is set"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%v", errs)
	}
	return nil
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.MetricsAddr = getEnvOrDefault("METRICS_ADDR", ":9091")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// Database configuration
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DATABASE_URL is required"))
	}

	// NATS configuration
	cfg.NATSURL = getEnvOrDefault("NATS_URL", "nats://localhost:4222")

	// Solana configuration
	cfg.SolanaRPCURL = os.Getenv("SOLANA_RPC_URL")
	if cfg.SolanaRPCURL == "" {
		errs = append(errs, fmt.Errorf("SOLANA_RPC_URL is required"))
	}
	cfg.SolanaNetwork = getEnvOrDefault("SOLANA_NETWORK", "mainnet")
	if cfg.SolanaNetwork != "mainnet" && cfg.SolanaNetwork != "devnet" {
		errs = append(errs, fmt.Errorf("SOLANA_NETWORK must be \"mainnet\" or \"devnet\", got %q", cfg.SolanaNetwork))
	}

	// Temporal configuration
	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "txfeed")

	// Polling configuration
	defaultInterval, err := parseDuration("DEFAULT_POLL_INTERVAL", "30s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.DefaultPollInterval = defaultInterval
	}

	minInterval, err := parseDuration("MIN_POLL_INTERVAL", "10s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.MinPollInterval = minInterval
	}

	if cfg.MinPollInterval > cfg.DefaultPollInterval {
		errs = append(errs, fmt.Errorf("MIN_POLL_INTERVAL (%v) cannot be greater than DEFAULT_POLL_INTERVAL (%v)",
			cfg.MinPollInterval, cfg.DefaultPollInterval))
	}

	// Feed configuration
	pageSize, err := parseInt("FEED_PAGE_SIZE", 100)
	if err != nil {
		errs = append(errs, err)
	} else if pageSize < 1 || pageSize > 1000 {
		errs = append(errs, fmt.Errorf("FEED_PAGE_SIZE must be between 1 and 1000, got %d", pageSize))
	} else {
		cfg.FeedPageSize = pageSize
	}

	locName := getEnvOrDefault("FEED_TIMEZONE", "UTC")
	loc, err := time.LoadLocation(locName)
	if err != nil {
		errs = append(errs, fmt.Errorf("FEED_TIMEZONE: invalid location %q: %w", locName, err))
	} else {
		cfg.FeedLocation = loc
	}

	// Send limits
	limitStr := getEnvOrDefault("DAILY_LIMIT", "500")
	limit, err := decimal.NewFromString(limitStr)
	if err != nil {
		errs = append(errs, fmt.Errorf("DAILY_LIMIT: invalid amount %q: %w", limitStr, err))
	} else if limit.IsNegative() {
		errs = append(errs, fmt.Errorf("DAILY_LIMIT cannot be negative"))
	} else {
		cfg.DailyLimit = limit
	}
	cfg.LimitCurrency = getEnvOrDefault("LIMIT_CURRENCY", "USDC")

	// Bank linking
	if err := cfg.BankLink.LoadDefaults(); err != nil {
		errs = append(errs, err)
	}

	// Return all validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DatabaseURL is required"))
	}

	if c.SolanaRPCURL == "" {
		errs = append(errs, fmt.Errorf("SolanaRPCURL is required"))
	}

	if c.TemporalHost == "" {
		errs = append(errs, fmt.Errorf("TemporalHost is required"))
	}

	if c.TemporalTaskQueue == "" {
		errs = append(errs, fmt.Errorf("TemporalTaskQueue is required"))
	}

	if c.MinPollInterval > c.DefaultPollInterval {
		errs = append(errs, fmt.Errorf("MinPollInterval cannot be greater than DefaultPollInterval"))
	}

	if c.DefaultPollInterval < time.Second {
		errs = append(errs, fmt.Errorf("DefaultPollInterval must be at least 1 second"))
	}

	if c.FeedPageSize < 1 {
		errs = append(errs, fmt.Errorf("FeedPageSize must be positive"))
	}

	if c.BankLink.Enabled() && c.BankLink.SigningKey == "" {
		errs = append(errs, fmt.Errorf("BankLink.SigningKey is required when bank linking is enabled"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// Location returns the feed time zone, defaulting to UTC.
func (c *Config) Location() *time.Location {
	if c.FeedLocation == nil {
		return time.UTC
	}
	return c.FeedLocation
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}
