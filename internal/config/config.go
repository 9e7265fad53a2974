// Package config provides configuration management for the lead enrichment
// service. It loads configuration from environment variables with sensible
// defaults and validates it so the service starts safely.
//
// Environment Variables:
//
// Application Settings:
//   - PORT: Server port (default: 8080)
//   - LOG_LEVEL: Logging level (default: info)
//
// Database Configuration:
//   - DATABASE_TYPE: Database type - "sqlite" or "postgres" (default: sqlite)
//   - DATABASE_PATH: SQLite database file path (default: ./lead_enricher.db)
//   - POSTGRES_HOST: PostgreSQL host (required if using PostgreSQL)
//   - POSTGRES_PORT: PostgreSQL port (default: 5432)
//   - POSTGRES_DB: PostgreSQL database name (required if using PostgreSQL)
//   - POSTGRES_USER: PostgreSQL username (required if using PostgreSQL)
//   - POSTGRES_PASSWORD: PostgreSQL password
//   - POSTGRES_SSL_MODE: PostgreSQL SSL mode (default: disable)
//
// Redis Configuration (optional; enables distributed run locks and quota counters):
//   - REDIS_ADDRESS: Redis server address (empty disables Redis)
//   - REDIS_PASSWORD: Redis password
//   - REDIS_DB: Redis database number 0-15 (default: 0)
//   - REDIS_POOL_SIZE: Redis connection pool size (default: 10)
//
// Provider Configuration:
//   - ATTOM_API_KEY: API key for the property data provider
//   - ATTOM_BASE_URL: Base URL for the property data provider
//   - SKIPTRACE_API_KEY: API key for the skip-trace provider
//   - SKIPTRACE_BASE_URL: Base URL for the skip-trace provider
//   - PROVIDER_TIMEOUT: Timeout per provider call (default: 30s)
//
// Cache Configuration:
//   - CACHE_TTL: TTL for cached enrichment results (default: 30d)
//   - NEGATIVE_CACHE_TTL: TTL for cached not-found results (default: 7d)
//
// Delivery Configuration:
//   - DELIVERY_MAX_ATTEMPTS: Max delivery attempts per webhook (default: 4)
//   - DELIVERY_WORKERS: Size of the delivery worker pool (default: 4)
//   - WEBHOOK_TIMEOUT: Timeout per webhook POST (default: 10s)
//
// Backfill Configuration:
//   - BACKFILL_RETRY_BUDGET: Retryable failures allowed per run (default: 25)
//   - BACKFILL_SUBJECT_RETRIES: Retries per subject within a run (default: 3)
//   - BACKFILL_CRON: Cron spec for a recurring backfill (empty disables it)
//   - BACKFILL_CRON_NAME: Name prefix for scheduled run ids (default: nightly)
//   - BACKFILL_SUBJECTS_FILE: JSON file of subjects for scheduled runs,
//     re-read at every tick (required when BACKFILL_CRON is set)
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"lead-enricher/internal/common/utils"
)

// Config holds all configuration values for the lead enrichment service.
// Load it with Load() and validate with Validate() before use.
type Config struct {
	// Application settings
	Port     string // Server port number
	LogLevel string // Logging level (debug, info, warn, error)

	// Database configuration
	DatabaseType     string // Database type: "sqlite" or "postgres"
	DatabasePath     string // Path to SQLite database file
	PostgresHost     string // PostgreSQL host address
	PostgresPort     string // PostgreSQL port number
	PostgresDB       string // PostgreSQL database name
	PostgresUser     string // PostgreSQL username
	PostgresPassword string // PostgreSQL password
	PostgresSSLMode  string // PostgreSQL SSL mode (disable, require, etc.)

	// Redis configuration for distributed coordination (optional)
	RedisAddress  string // Redis server address (host:port); empty disables Redis
	RedisPassword string // Redis authentication password
	RedisDB       string // Redis database number (0-15)
	RedisPoolSize string // Redis connection pool size

	// Provider configuration
	AttomAPIKey      string // API key for the property data provider
	AttomBaseURL     string // Base URL for the property data provider
	SkipTraceAPIKey  string // API key for the skip-trace provider
	SkipTraceBaseURL string // Base URL for the skip-trace provider
	ProviderTimeout  string // Timeout per provider call

	// Cache configuration
	CacheTTL         string // TTL for cached enrichment results
	NegativeCacheTTL string // TTL for cached not-found results

	// Delivery configuration
	DeliveryMaxAttempts string // Max delivery attempts per webhook
	DeliveryWorkers     string // Size of the delivery worker pool
	WebhookTimeout      string // Timeout per webhook POST

	// Backfill configuration
	BackfillRetryBudget    string // Retryable failures allowed per run
	BackfillSubjectRetries string // Retries per subject within a run
	BackfillCron           string // Cron spec for a recurring backfill; empty disables it
	BackfillCronName       string // Name prefix for scheduled run ids
	BackfillSubjectsFile   string // JSON subjects file for scheduled runs
}

// Load creates a new Config with values from environment variables,
// falling back to defaults for anything unset. Call Validate() on the
// result before using it.
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DatabaseType:     getEnv("DATABASE_TYPE", "sqlite"),
		DatabasePath:     getEnv("DATABASE_PATH", "./lead_enricher.db"),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresDB:       getEnv("POSTGRES_DB", "lead_enricher"),
		PostgresUser:     getEnv("POSTGRES_USER", "postgres"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", ""),
		PostgresSSLMode:  getEnv("POSTGRES_SSL_MODE", "disable"),

		RedisAddress:  getEnv("REDIS_ADDRESS", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnv("REDIS_DB", "0"),
		RedisPoolSize: getEnv("REDIS_POOL_SIZE", "10"),

		AttomAPIKey:      getEnv("ATTOM_API_KEY", ""),
		AttomBaseURL:     getEnv("ATTOM_BASE_URL", "https://api.gateway.attomdata.com"),
		SkipTraceAPIKey:  getEnv("SKIPTRACE_API_KEY", ""),
		SkipTraceBaseURL: getEnv("SKIPTRACE_BASE_URL", ""),
		ProviderTimeout:  getEnv("PROVIDER_TIMEOUT", "30s"),

		CacheTTL:         getEnv("CACHE_TTL", "30d"),
		NegativeCacheTTL: getEnv("NEGATIVE_CACHE_TTL", "7d"),

		DeliveryMaxAttempts: getEnv("DELIVERY_MAX_ATTEMPTS", "4"),
		DeliveryWorkers:     getEnv("DELIVERY_WORKERS", "4"),
		WebhookTimeout:      getEnv("WEBHOOK_TIMEOUT", "10s"),

		BackfillRetryBudget:    getEnv("BACKFILL_RETRY_BUDGET", "25"),
		BackfillSubjectRetries: getEnv("BACKFILL_SUBJECT_RETRIES", "3"),
		BackfillCron:           getEnv("BACKFILL_CRON", ""),
		BackfillCronName:       getEnv("BACKFILL_CRON_NAME", "nightly"),
		BackfillSubjectsFile:   getEnv("BACKFILL_SUBJECTS_FILE", ""),
	}
}

// getEnv retrieves an environment variable value or returns a default if unset.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// Validate performs validation on the configuration: required fields,
// numeric ranges, duration formats and cross-field dependencies.
func (c *Config) Validate() error {
	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a valid port number between 1 and 65535")
	}

	switch c.DatabaseType {
	case "sqlite", "postgres", "postgresql":
		// Valid database types
	default:
		return fmt.Errorf("DATABASE_TYPE must be 'sqlite' or 'postgres'")
	}

	if c.DatabaseType == "postgres" || c.DatabaseType == "postgresql" {
		if c.PostgresHost == "" {
			return fmt.Errorf("POSTGRES_HOST is required when using PostgreSQL")
		}
		if c.PostgresDB == "" {
			return fmt.Errorf("POSTGRES_DB is required when using PostgreSQL")
		}
		if c.PostgresUser == "" {
			return fmt.Errorf("POSTGRES_USER is required when using PostgreSQL")
		}
		if port, err := strconv.Atoi(c.PostgresPort); err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("POSTGRES_PORT must be a valid port number")
		}
	}

	if c.RedisAddress != "" {
		if db, err := strconv.Atoi(c.RedisDB); err != nil || db < 0 || db > 15 {
			return fmt.Errorf("REDIS_DB must be a number between 0 and 15")
		}
		if poolSize, err := strconv.Atoi(c.RedisPoolSize); err != nil || poolSize < 1 {
			return fmt.Errorf("REDIS_POOL_SIZE must be a positive number")
		}
	}

	if _, err := time.ParseDuration(c.ProviderTimeout); err != nil {
		return fmt.Errorf("PROVIDER_TIMEOUT must be a valid duration (e.g., '30s')")
	}
	if _, err := time.ParseDuration(c.WebhookTimeout); err != nil {
		return fmt.Errorf("WEBHOOK_TIMEOUT must be a valid duration (e.g., '10s')")
	}

	if _, err := utils.ParseDuration(c.CacheTTL); err != nil {
		return fmt.Errorf("CACHE_TTL must be a valid duration (e.g., '30d', '720h')")
	}
	if _, err := utils.ParseDuration(c.NegativeCacheTTL); err != nil {
		return fmt.Errorf("NEGATIVE_CACHE_TTL must be a valid duration (e.g., '7d')")
	}

	if attempts, err := strconv.Atoi(c.DeliveryMaxAttempts); err != nil || attempts < 1 {
		return fmt.Errorf("DELIVERY_MAX_ATTEMPTS must be a positive number")
	}
	if workers, err := strconv.Atoi(c.DeliveryWorkers); err != nil || workers < 1 {
		return fmt.Errorf("DELIVERY_WORKERS must be a positive number")
	}

	if budget, err := strconv.Atoi(c.BackfillRetryBudget); err != nil || budget < 1 {
		return fmt.Errorf("BACKFILL_RETRY_BUDGET must be a positive number")
	}
	if retries, err := strconv.Atoi(c.BackfillSubjectRetries); err != nil || retries < 0 {
		return fmt.Errorf("BACKFILL_SUBJECT_RETRIES must be zero or a positive number")
	}
	if c.BackfillCron != "" && c.BackfillSubjectsFile == "" {
		return fmt.Errorf("BACKFILL_SUBJECTS_FILE is required when BACKFILL_CRON is set")
	}

	return nil
}

// GetProviderTimeout returns the parsed provider call timeout.
func (c *Config) GetProviderTimeout() time.Duration {
	d, _ := time.ParseDuration(c.ProviderTimeout)
	return d
}

// GetWebhookTimeout returns the parsed webhook POST timeout.
func (c *Config) GetWebhookTimeout() time.Duration {
	d, _ := time.ParseDuration(c.WebhookTimeout)
	return d
}

// GetCacheTTL returns the parsed result cache TTL.
func (c *Config) GetCacheTTL() time.Duration {
	d, _ := utils.ParseDuration(c.CacheTTL)
	return d
}

// GetNegativeCacheTTL returns the parsed negative result cache TTL.
func (c *Config) GetNegativeCacheTTL() time.Duration {
	d, _ := utils.ParseDuration(c.NegativeCacheTTL)
	return d
}

// GetDeliveryMaxAttempts returns the parsed delivery attempt cap.
func (c *Config) GetDeliveryMaxAttempts() int {
	n, _ := strconv.Atoi(c.DeliveryMaxAttempts)
	return n
}

// GetDeliveryWorkers returns the parsed delivery worker pool size.
func (c *Config) GetDeliveryWorkers() int {
	n, _ := strconv.Atoi(c.DeliveryWorkers)
	return n
}

// GetBackfillRetryBudget returns the parsed run retry budget.
func (c *Config) GetBackfillRetryBudget() int {
	n, _ := strconv.Atoi(c.BackfillRetryBudget)
	return n
}

// GetBackfillSubjectRetries returns the parsed per-subject retry cap.
func (c *Config) GetBackfillSubjectRetries() int {
	n, _ := strconv.Atoi(c.BackfillSubjectRetries)
	return n
}
