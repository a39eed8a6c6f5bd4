// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	// Storage
	DatabaseURL   string        // PostgreSQL connection string (optional, uses in-memory if not set)
	RedisURL      string        // Reputation cache (optional)
	RedisCacheTTL time.Duration // Lifetime of cached reputation records

	// Verdict events
	KafkaBrokers []string // Empty disables publishing
	KafkaTopic   string

	// External risk authority
	AuthorityURL     string // Empty disables the authority lookup
	AuthorityTimeout time.Duration

	// Risk rules
	HighAmountThreshold float64
	ReportThreshold     int
	SuspectSentinels    []float64 // External scores treated as defaults
	ExtraDenylist       []string  // Appended to the built-in denylist
	Timezone            string    // IANA zone for the late-night rule; empty keeps the request's zone

	// Background work
	ReputationRefreshInterval time.Duration

	// Security
	RateLimitRPM       int
	ReportRateLimitRPM int      // per client, on the report-filing routes
	AdminSecret        string   // Admin API secret
	CORSOrigins        []string // Empty allows any origin

	// Tracing
	OTLPEndpoint     string
	TraceSampleRatio float64
}

const (
	DefaultPort                = "8080"
	DefaultEnv                 = "development"
	DefaultLogLevel            = "info"
	DefaultLogFormat           = "text"
	DefaultKafkaTopic          = "payguard.verdicts"
	DefaultAuthorityTimeout    = 2 * time.Second
	DefaultHighAmountThreshold = 5000
	DefaultReportThreshold     = 2
	DefaultRateLimit           = 100
	DefaultReportRateLimit     = 10
	DefaultRedisCacheTTL       = 5 * time.Minute
	DefaultRefreshInterval     = 5 * time.Minute
	DefaultTraceSampleRatio    = 1.0

	minAdminSecretLength = 16
)

// DefaultSuspectSentinels are the external values known to be placeholders.
var DefaultSuspectSentinels = []float64{42}

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	sentinels, err := getEnvFloats("SUSPECT_SENTINELS", DefaultSuspectSentinels)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:                      getEnv("PORT", DefaultPort),
		Env:                       getEnv("ENV", DefaultEnv),
		LogLevel:                  strings.ToLower(getEnv("LOG_LEVEL", DefaultLogLevel)),
		LogFormat:                 strings.ToLower(getEnv("LOG_FORMAT", DefaultLogFormat)),
		DatabaseURL:               os.Getenv("DATABASE_URL"),
		RedisURL:                  os.Getenv("REDIS_URL"),
		RedisCacheTTL:             getEnvDuration("REDIS_CACHE_TTL", DefaultRedisCacheTTL),
		KafkaBrokers:              getEnvList("KAFKA_BROKERS"),
		KafkaTopic:                getEnv("KAFKA_TOPIC", DefaultKafkaTopic),
		AuthorityURL:              strings.TrimRight(os.Getenv("AUTHORITY_URL"), "/"),
		AuthorityTimeout:          getEnvDuration("AUTHORITY_TIMEOUT", DefaultAuthorityTimeout),
		HighAmountThreshold:       getEnvFloat("HIGH_AMOUNT_THRESHOLD", DefaultHighAmountThreshold),
		ReportThreshold:           int(getEnvInt64("REPORT_THRESHOLD", DefaultReportThreshold)),
		SuspectSentinels:          sentinels,
		ExtraDenylist:             getEnvList("DENYLIST"),
		Timezone:                  os.Getenv("TIMEZONE"),
		ReputationRefreshInterval: getEnvDuration("REPUTATION_REFRESH_INTERVAL", DefaultRefreshInterval),
		RateLimitRPM:              int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimit)),
		ReportRateLimitRPM:        int(getEnvInt64("REPORT_RATE_LIMIT_RPM", DefaultReportRateLimit)),
		AdminSecret:               os.Getenv("ADMIN_SECRET"),
		CORSOrigins:               getEnvList("CORS_ALLOWED_ORIGINS"),
		OTLPEndpoint:              os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TraceSampleRatio:          getEnvFloat("OTEL_TRACES_SAMPLER_ARG", DefaultTraceSampleRatio),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("PORT must be numeric, got %q", c.Port)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.LogFormat)
	}
	if c.HighAmountThreshold <= 0 {
		return fmt.Errorf("HIGH_AMOUNT_THRESHOLD must be positive")
	}
	if c.ReportThreshold < 1 {
		return fmt.Errorf("REPORT_THRESHOLD must be at least 1")
	}
	for _, s := range c.SuspectSentinels {
		if s < 0 || s > 100 {
			return fmt.Errorf("SUSPECT_SENTINELS values must be within 0-100, got %v", s)
		}
	}
	if c.TraceSampleRatio < 0 || c.TraceSampleRatio > 1 {
		return fmt.Errorf("OTEL_TRACES_SAMPLER_ARG must be within 0-1, got %v", c.TraceSampleRatio)
	}
	if c.AuthorityURL != "" && c.AuthorityTimeout <= 0 {
		return fmt.Errorf("AUTHORITY_TIMEOUT must be positive")
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return fmt.Errorf("TIMEZONE %q: %w", c.Timezone, err)
		}
	}
	if c.AdminSecret != "" && len(c.AdminSecret) < minAdminSecretLength {
		return fmt.Errorf("ADMIN_SECRET must be at least %d characters", minAdminSecretLength)
	}
	if c.IsProduction() && c.AdminSecret == "" {
		return fmt.Errorf("ADMIN_SECRET is required in production")
	}
	return nil
}

// Location returns the configured zone, or nil when none is set.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil
	}
	return loc
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated value, dropping blanks.
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnvFloats parses a comma-separated list of numbers. An unset variable
// yields defaultValue; "none" yields an empty list.
func getEnvFloats(key string, defaultValue []float64) ([]float64, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	switch {
	case raw == "":
		return append([]float64(nil), defaultValue...), nil
	case strings.EqualFold(raw, "none"):
		return []float64{}, nil
	}
	var out []float64
	for _, part := range getEnvList(key) {
		f, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid number %q", key, part)
		}
		out = append(out, f)
	}
	return out, nil
}
