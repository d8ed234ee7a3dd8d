// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
	GetDatabaseMaxConns() int
	GetDatabaseMinConns() int
}

// StoreConfig selects the key-value backend that holds engine state.
type StoreConfig interface {
	DatabaseConfig
	RedisConfig
	GetStoreDriver() string
	GetSQLitePath() string
}

// RedisConfig provides Redis connection settings.
type RedisConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
}

// SchedulerConfig provides settings for the asynq worker and periodic tasks.
type SchedulerConfig interface {
	RedisConfig
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
	GetTriggerCheckInterval() time.Duration
	GetQueueDrainInterval() time.Duration
	GetSequenceTickInterval() time.Duration
}

// EngineConfig provides tuning for the sequence manager, automation engine and attribution.
type EngineConfig interface {
	GetTriggerCheckInterval() time.Duration
	GetQueueDrainInterval() time.Duration
	GetAttributionModel() string
	GetSequenceRetryDelay() time.Duration
	GetSequenceMaxStepAttempts() int
	GetSequenceConcurrency() int
}

// EmailConfig provides settings for SMTP email delivery.
type EmailConfig interface {
	GetEmailEnabled() bool
	GetSMTPHost() string
	GetSMTPPort() int
	GetSMTPUsername() string
	GetSMTPPassword() string
	GetEmailFromName() string
	GetEmailFromAddress() string
}

// SMSConfig provides settings for the SMS provider.
type SMSConfig interface {
	GetTelnyxAPIURL() string
	GetTelnyxAPIKey() string
	GetTelnyxFromNumber() string
	GetTelnyxMessagingProfileID() string
	GetDefaultPhoneRegion() string
}

// ChannelConfig provides settings shared by outbound channels.
type ChannelConfig interface {
	GetChannelRatePerSecond() float64
	GetCatalogPath() string
	GetOperatorEmail() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSOrigins() []string
}

// =============================================================================
// Config
// =============================================================================

// Config holds all application configuration.
type Config struct {
	Env      string
	HTTPAddr string

	StoreDriver      string
	DatabaseURL      string
	DatabaseMaxConns int
	DatabaseMinConns int
	SQLitePath       string
	RedisURL         string
	RedisTLSInsecure bool

	AsynqQueueName       string
	AsynqConcurrency     int
	TriggerCheckInterval time.Duration
	QueueDrainInterval   time.Duration
	SequenceTickInterval time.Duration

	AttributionModel        string
	SequenceRetryDelay      time.Duration
	SequenceMaxStepAttempts int
	SequenceConcurrency     int

	EmailEnabled     bool
	SMTPHost         string
	SMTPPort         int
	SMTPUsername     string
	SMTPPassword     string
	EmailFromName    string
	EmailFromAddress string

	TelnyxAPIURL             string
	TelnyxAPIKey             string
	TelnyxFromNumber         string
	TelnyxMessagingProfileID string
	DefaultPhoneRegion       string

	ChannelRatePerSecond float64
	CatalogPath          string
	OperatorEmail        string

	CORSOrigins []string
}

// =============================================================================
// Interface Implementations
// =============================================================================

func (c *Config) GetDatabaseURL() string   { return c.DatabaseURL }
func (c *Config) GetDatabaseMaxConns() int { return c.DatabaseMaxConns }
func (c *Config) GetDatabaseMinConns() int { return c.DatabaseMinConns }

func (c *Config) GetStoreDriver() string { return c.StoreDriver }
func (c *Config) GetSQLitePath() string  { return c.SQLitePath }

func (c *Config) GetRedisURL() string       { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool { return c.RedisTLSInsecure }

func (c *Config) GetAsynqQueueName() string                { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int                 { return c.AsynqConcurrency }
func (c *Config) GetTriggerCheckInterval() time.Duration   { return c.TriggerCheckInterval }
func (c *Config) GetQueueDrainInterval() time.Duration     { return c.QueueDrainInterval }
func (c *Config) GetSequenceTickInterval() time.Duration   { return c.SequenceTickInterval }
func (c *Config) GetAttributionModel() string              { return c.AttributionModel }
func (c *Config) GetSequenceRetryDelay() time.Duration     { return c.SequenceRetryDelay }
func (c *Config) GetSequenceMaxStepAttempts() int          { return c.SequenceMaxStepAttempts }
func (c *Config) GetSequenceConcurrency() int              { return c.SequenceConcurrency }

func (c *Config) GetEmailEnabled() bool       { return c.EmailEnabled }
func (c *Config) GetSMTPHost() string         { return c.SMTPHost }
func (c *Config) GetSMTPPort() int            { return c.SMTPPort }
func (c *Config) GetSMTPUsername() string     { return c.SMTPUsername }
func (c *Config) GetSMTPPassword() string     { return c.SMTPPassword }
func (c *Config) GetEmailFromName() string    { return c.EmailFromName }
func (c *Config) GetEmailFromAddress() string { return c.EmailFromAddress }

func (c *Config) GetTelnyxAPIURL() string             { return c.TelnyxAPIURL }
func (c *Config) GetTelnyxAPIKey() string             { return c.TelnyxAPIKey }
func (c *Config) GetTelnyxFromNumber() string         { return c.TelnyxFromNumber }
func (c *Config) GetTelnyxMessagingProfileID() string { return c.TelnyxMessagingProfileID }
func (c *Config) GetDefaultPhoneRegion() string       { return c.DefaultPhoneRegion }

func (c *Config) GetChannelRatePerSecond() float64 { return c.ChannelRatePerSecond }
func (c *Config) GetCatalogPath() string           { return c.CatalogPath }
func (c *Config) GetOperatorEmail() string         { return c.OperatorEmail }

func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }

// IsSchedulerEnabled reports whether asynq has a Redis backend to talk to.
func (c *Config) IsSchedulerEnabled() bool { return c.RedisURL != "" }

// Load reads configuration from the environment, after applying an optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	smtpHost := getEnv("SMTP_HOST", "")

	cfg := &Config{
		Env:      getEnv("APP_ENV", "development"),
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),

		StoreDriver:      strings.ToLower(getEnv("STORE_DRIVER", "memory")),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		DatabaseMaxConns: mustInt(getEnv("DATABASE_MAX_CONNS", "10")),
		DatabaseMinConns: mustInt(getEnv("DATABASE_MIN_CONNS", "1")),
		SQLitePath:       getEnv("SQLITE_PATH", "data/leadflow.db"),
		RedisURL:         getEnv("REDIS_URL", ""),
		RedisTLSInsecure: strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),

		AsynqQueueName:       getEnv("ASYNQ_QUEUE", "leadflow"),
		AsynqConcurrency:     mustInt(getEnv("ASYNQ_CONCURRENCY", "10")),
		TriggerCheckInterval: mustDuration(getEnv("TRIGGER_CHECK_INTERVAL", "1m")),
		QueueDrainInterval:   mustDuration(getEnv("QUEUE_DRAIN_INTERVAL", "5s")),
		SequenceTickInterval: mustDuration(getEnv("SEQUENCE_TICK_INTERVAL", "1m")),

		AttributionModel:        strings.ToLower(getEnv("ATTRIBUTION_MODEL", "linear")),
		SequenceRetryDelay:      mustDuration(getEnv("SEQUENCE_RETRY_DELAY", "1h")),
		SequenceMaxStepAttempts: mustInt(getEnv("SEQUENCE_MAX_STEP_ATTEMPTS", "3")),
		SequenceConcurrency:     mustInt(getEnv("SEQUENCE_CONCURRENCY", "8")),

		EmailEnabled:     strings.EqualFold(getEnv("EMAIL_ENABLED", "true"), "true") && smtpHost != "",
		SMTPHost:         smtpHost,
		SMTPPort:         mustInt(getEnv("SMTP_PORT", "587")),
		SMTPUsername:     getEnv("SMTP_USERNAME", ""),
		SMTPPassword:     getEnv("SMTP_PASSWORD", ""),
		EmailFromName:    getEnv("EMAIL_FROM_NAME", "Receptionist"),
		EmailFromAddress: getEnv("EMAIL_FROM_ADDRESS", ""),

		TelnyxAPIURL:             getEnv("TELNYX_API_URL", "https://api.telnyx.com/v2"),
		TelnyxAPIKey:             getEnv("TELNYX_API_KEY", ""),
		TelnyxFromNumber:         getEnv("TELNYX_FROM_NUMBER", ""),
		TelnyxMessagingProfileID: getEnv("TELNYX_MESSAGING_PROFILE_ID", ""),
		DefaultPhoneRegion:       strings.ToUpper(getEnv("DEFAULT_PHONE_REGION", "US")),

		ChannelRatePerSecond: mustFloat(getEnv("CHANNEL_RATE_PER_SECOND", "10")),
		CatalogPath:          getEnv("CATALOG_PATH", ""),
		OperatorEmail:        getEnv("OPERATOR_EMAIL", ""),

		CORSOrigins: splitCSV(getEnv("CORS_ORIGINS", "http://localhost:3000")),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case "memory", "sqlite":
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER is postgres")
		}
	case "redis":
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when STORE_DRIVER is redis")
		}
	default:
		return fmt.Errorf("unsupported STORE_DRIVER %q", c.StoreDriver)
	}

	switch c.AttributionModel {
	case "linear", "even", "first_touch", "last_touch":
	default:
		return fmt.Errorf("unsupported ATTRIBUTION_MODEL %q", c.AttributionModel)
	}

	if c.EmailEnabled && c.EmailFromAddress == "" {
		return fmt.Errorf("EMAIL_FROM_ADDRESS is required when SMTP is configured")
	}
	if c.TriggerCheckInterval <= 0 || c.QueueDrainInterval <= 0 || c.SequenceTickInterval <= 0 {
		return fmt.Errorf("polling intervals must be positive durations")
	}
	if c.SequenceMaxStepAttempts < 1 {
		c.SequenceMaxStepAttempts = 1
	}
	if c.SequenceConcurrency < 1 {
		c.SequenceConcurrency = 1
	}
	return nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func mustInt(value string) int {
	result, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0
	}
	return result
}

func mustFloat(value string) float64 {
	result, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0
	}
	return result
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	results := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			results = append(results, trimmed)
		}
	}
	return results
}
