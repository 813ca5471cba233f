// Package common provides shared utilities for Tally
package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for Tally
type Config struct {
	Environment  string             `toml:"environment"`
	Server       ServerConfig       `toml:"server"`
	Storage      StorageConfig      `toml:"storage"`
	Clients      ClientsConfig      `toml:"clients"`
	Eod          EodConfig          `toml:"eod"`
	Orchestrator OrchestratorConfig `toml:"orchestrator"`
	Scheduler    SchedulerConfig    `toml:"scheduler"`
	Upload       UploadConfig       `toml:"upload"`
	Logging      LoggingConfig      `toml:"logging"`
}

// ServerConfig holds HTTP server configuration (health and diagnostics only)
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// StorageConfig holds SurrealDB connection configuration.
type StorageConfig struct {
	Address   string `toml:"address"`
	Namespace string `toml:"namespace"`
	Database  string `toml:"database"`
	Username  string `toml:"username"`
	Password  string `toml:"password"`
}

// ClientsConfig holds external client configurations
type ClientsConfig struct {
	Pmgr  PmgrConfig  `toml:"pmgr"`
	Kafka KafkaConfig `toml:"kafka"`
}

// PmgrConfig holds Portfolio Manager client configuration, including the
// resilience pipeline settings (rate limit, bulkhead, breaker, retry).
type PmgrConfig struct {
	BaseURL             string  `toml:"base_url"`
	Timeout             string  `toml:"timeout"`
	RateLimit           int     `toml:"rate_limit"`
	RateBurst           int     `toml:"rate_burst"`
	BulkheadMax         int     `toml:"bulkhead_max"`
	RetryMaxAttempts    int     `toml:"retry_max_attempts"`
	RetryBaseBackoff    string  `toml:"retry_base_backoff"`
	BreakerFailureRate  float64 `toml:"breaker_failure_rate"`
	BreakerMinCalls     int     `toml:"breaker_min_calls"`
	BreakerOpenDuration string  `toml:"breaker_open_duration"`
}

// GetTimeout parses and returns the per-call HTTP timeout
func (c *PmgrConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// GetRetryBaseBackoff parses and returns the initial retry backoff
func (c *PmgrConfig) GetRetryBaseBackoff() time.Duration {
	d, err := time.ParseDuration(c.RetryBaseBackoff)
	if err != nil {
		return 200 * time.Millisecond
	}
	return d
}

// GetBreakerOpenDuration parses and returns the breaker cooldown
func (c *PmgrConfig) GetBreakerOpenDuration() time.Duration {
	d, err := time.ParseDuration(c.BreakerOpenDuration)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// KafkaConfig holds message bus configuration
type KafkaConfig struct {
	Brokers  []string `toml:"brokers"`
	ClientID string   `toml:"client_id"`
}

// EodConfig holds EOD engine configuration
type EodConfig struct {
	StrictValidation      bool    `toml:"strict_validation"`
	ZeroPriceThresholdPct float64 `toml:"zero_price_threshold_pct"`
	LateEodMaxDays        int     `toml:"late_eod_max_days"`
	KeepArchivedBatches   int     `toml:"keep_archived_batches"`
	MaxQuantity           float64 `toml:"max_quantity"`
	MaxPrice              float64 `toml:"max_price"`
	QuantityJumpPct       float64 `toml:"quantity_jump_pct"`
}

// OrchestratorConfig holds parallel EOD run configuration
type OrchestratorConfig struct {
	MaxConcurrency    int    `toml:"max_concurrency"`
	PerAccountTimeout string `toml:"per_account_timeout"`
	RunTimeout        string `toml:"run_timeout"`
	RetryFailed       bool   `toml:"retry_failed"`
	RetryBackoff      string `toml:"retry_backoff"`
}

// GetPerAccountTimeout parses and returns the per-account deadline
func (c *OrchestratorConfig) GetPerAccountTimeout() time.Duration {
	d, err := time.ParseDuration(c.PerAccountTimeout)
	if err != nil {
		return 2 * time.Minute
	}
	return d
}

// GetRunTimeout parses and returns the whole-run deadline
func (c *OrchestratorConfig) GetRunTimeout() time.Duration {
	d, err := time.ParseDuration(c.RunTimeout)
	if err != nil {
		return 30 * time.Minute
	}
	return d
}

// GetRetryBackoff parses and returns the delay before re-submitting failed accounts
func (c *OrchestratorConfig) GetRetryBackoff() time.Duration {
	d, err := time.ParseDuration(c.RetryBackoff)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

// SchedulerConfig holds scheduled job configuration
type SchedulerConfig struct {
	ReconTime      string `toml:"recon_time"` // "HH:MM" local
	PurgeDay       string `toml:"purge_day"`  // weekday name
	PurgeTime      string `toml:"purge_time"`
	LockAtMostFor  string `toml:"lock_at_most_for"`
	PurgeAfterDays int    `toml:"purge_after_days"`
	HolidayCountry string `toml:"holiday_country"`
}

// GetLockAtMostFor parses and returns the distributed lock TTL
func (c *SchedulerConfig) GetLockAtMostFor() time.Duration {
	d, err := time.ParseDuration(c.LockAtMostFor)
	if err != nil {
		return 10 * time.Minute
	}
	return d
}

// UploadConfig holds manual upload guards
type UploadConfig struct {
	MaxPositions int `toml:"max_positions"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// NewDefaultConfig returns a Config with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Storage: StorageConfig{
			Address:   "ws://localhost:8000",
			Namespace: "tally",
			Database:  "positions",
			Username:  "root",
			Password:  "root",
		},
		Clients: ClientsConfig{
			Pmgr: PmgrConfig{
				BaseURL:             "http://localhost:9090",
				Timeout:             "10s",
				RateLimit:           20,
				RateBurst:           40,
				BulkheadMax:         16,
				RetryMaxAttempts:    4,
				RetryBaseBackoff:    "200ms",
				BreakerFailureRate:  0.5,
				BreakerMinCalls:     10,
				BreakerOpenDuration: "30s",
			},
			Kafka: KafkaConfig{
				Brokers:  []string{"localhost:9092"},
				ClientID: "tally",
			},
		},
		Eod: EodConfig{
			StrictValidation:      true,
			ZeroPriceThresholdPct: 10.0,
			LateEodMaxDays:        5,
			KeepArchivedBatches:   3,
			MaxQuantity:           1e9,
			MaxPrice:              1e6,
			QuantityJumpPct:       200,
		},
		Orchestrator: OrchestratorConfig{
			MaxConcurrency:    50,
			PerAccountTimeout: "2m",
			RunTimeout:        "30m",
			RetryFailed:       true,
			RetryBackoff:      "5s",
		},
		Scheduler: SchedulerConfig{
			ReconTime:      "02:00",
			PurgeDay:       "Sunday",
			PurgeTime:      "03:00",
			LockAtMostFor:  "10m",
			PurgeAfterDays: 30,
			HolidayCountry: "US",
		},
		Upload: UploadConfig{
			MaxPositions: 50000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadConfig loads configuration from files with environment overrides
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	// Load and merge each config file in order (later files override earlier)
	for _, path := range paths {
		if path == "" {
			continue
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue // Skip missing files
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("TALLY_ENV"); env != "" {
		config.Environment = env
	}

	if host := os.Getenv("TALLY_HOST"); host != "" {
		config.Server.Host = host
	}

	if port := os.Getenv("TALLY_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if level := os.Getenv("TALLY_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	if addr := os.Getenv("TALLY_STORAGE_ADDRESS"); addr != "" {
		config.Storage.Address = addr
	}
	if ns := os.Getenv("TALLY_STORAGE_NAMESPACE"); ns != "" {
		config.Storage.Namespace = ns
	}
	if db := os.Getenv("TALLY_STORAGE_DATABASE"); db != "" {
		config.Storage.Database = db
	}
	if user := os.Getenv("TALLY_STORAGE_USERNAME"); user != "" {
		config.Storage.Username = user
	}
	if pass := os.Getenv("TALLY_STORAGE_PASSWORD"); pass != "" {
		config.Storage.Password = pass
	}

	if url := os.Getenv("TALLY_PMGR_BASE_URL"); url != "" {
		config.Clients.Pmgr.BaseURL = url
	}

	if brokers := os.Getenv("TALLY_KAFKA_BROKERS"); brokers != "" {
		config.Clients.Kafka.Brokers = strings.Split(brokers, ",")
	}

	if mc := os.Getenv("TALLY_MAX_CONCURRENCY"); mc != "" {
		if n, err := strconv.Atoi(mc); err == nil && n > 0 {
			config.Orchestrator.MaxConcurrency = n
		}
	}
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}
