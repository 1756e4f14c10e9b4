// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/crimecast/crimecast/internal/risk"
	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "json" or "text"

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)
	AutoMigrate bool

	// Model artifacts: either one bundle or the three separate files.
	ModelBundlePath string
	ModelPath       string
	ScalerPath      string
	EncodersPath    string

	// Risk tiers
	RiskHighThreshold   float64
	RiskMediumThreshold float64

	// Accounts and sessions
	SessionSecret string
	SecureCookies bool
	BcryptCost    int
	AdminEmail    string
	AdminPassword string
	AdminName     string

	// Audit event stream (optional)
	KafkaBrokers []string
	AuditTopic   string

	// Observability
	OTLPEndpoint     string
	TraceSampleRatio float64

	// Security
	RateLimitRPM   int
	AllowedOrigins []string
}

const (
	DefaultPort       = "8080"
	DefaultEnv        = "development"
	DefaultLogLevel   = "info"
	DefaultAuditTopic = "crimecast.audit"
	DefaultAdminName  = "Administrator"
	DefaultRateLimit  = 60
	DefaultBcryptCost = 12

	// MinSessionSecretLength matches the cookie signing key requirement.
	MinSessionSecretLength = 32
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	env := getEnv("ENV", DefaultEnv)
	defaultFormat := "text"
	if env == "production" {
		defaultFormat = "json"
	}

	cfg := &Config{
		Port:                getEnv("PORT", DefaultPort),
		Env:                 env,
		LogLevel:            getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:           getEnv("LOG_FORMAT", defaultFormat),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		AutoMigrate:         getEnvBool("AUTO_MIGRATE", false),
		ModelBundlePath:     os.Getenv("MODEL_BUNDLE_PATH"),
		ModelPath:           os.Getenv("MODEL_PATH"),
		ScalerPath:          os.Getenv("SCALER_PATH"),
		EncodersPath:        os.Getenv("ENCODERS_PATH"),
		RiskHighThreshold:   getEnvFloat("RISK_HIGH_THRESHOLD", risk.DefaultHighThreshold),
		RiskMediumThreshold: getEnvFloat("RISK_MEDIUM_THRESHOLD", risk.DefaultMediumThreshold),
		SessionSecret:       os.Getenv("SESSION_SECRET"),
		SecureCookies:       getEnvBool("SECURE_COOKIES", env == "production"),
		BcryptCost:          int(getEnvInt64("BCRYPT_COST", DefaultBcryptCost)),
		AdminEmail:          os.Getenv("ADMIN_EMAIL"),
		AdminPassword:       os.Getenv("ADMIN_PASSWORD"),
		AdminName:           getEnv("ADMIN_NAME", DefaultAdminName),
		KafkaBrokers:        splitList(os.Getenv("KAFKA_BROKERS")),
		AuditTopic:          getEnv("AUDIT_TOPIC", DefaultAuditTopic),
		OTLPEndpoint:        os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TraceSampleRatio:    getEnvFloat("TRACE_SAMPLE_RATIO", 1),
		RateLimitRPM:        int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimit)),
		AllowedOrigins:      splitList(os.Getenv("ALLOWED_ORIGINS")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is consistent
func (c *Config) Validate() error {
	if p, err := strconv.Atoi(c.Port); err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("PORT must be a number between 1 and 65535")
	}

	switch c.LogFormat {
	case "", "json", "text":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or text")
	}

	if c.ModelBundlePath != "" && c.ModelPath != "" {
		return fmt.Errorf("set MODEL_BUNDLE_PATH or MODEL_PATH, not both")
	}
	if c.ModelPath == "" && (c.ScalerPath != "" || c.EncodersPath != "") {
		return fmt.Errorf("SCALER_PATH and ENCODERS_PATH require MODEL_PATH")
	}

	if err := c.RiskThresholds().Validate(); err != nil {
		return fmt.Errorf("RISK_*_THRESHOLD: %w", err)
	}

	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("BCRYPT_COST must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}

	if c.SessionSecret != "" && len(c.SessionSecret) < MinSessionSecretLength {
		return fmt.Errorf("SESSION_SECRET must be at least %d bytes", MinSessionSecretLength)
	}
	if c.IsProduction() && c.SessionSecret == "" {
		return fmt.Errorf("SESSION_SECRET is required in production")
	}

	if (c.AdminEmail == "") != (c.AdminPassword == "") {
		return fmt.Errorf("ADMIN_EMAIL and ADMIN_PASSWORD must be set together")
	}

	if len(c.KafkaBrokers) > 0 && c.AuditTopic == "" {
		return fmt.Errorf("AUDIT_TOPIC is required when KAFKA_BROKERS is set")
	}

	if c.OTLPEndpoint != "" && (c.TraceSampleRatio <= 0 || c.TraceSampleRatio > 1) {
		return fmt.Errorf("TRACE_SAMPLE_RATIO must be in (0, 1]")
	}

	if c.RateLimitRPM <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPM must be positive")
	}

	return nil
}

// RiskThresholds returns the configured tier bounds.
func (c *Config) RiskThresholds() risk.Thresholds {
	return risk.Thresholds{High: c.RiskHighThreshold, Medium: c.RiskMediumThreshold}
}

// HasModel reports whether a model artifact source is configured.
func (c *Config) HasModel() bool {
	return c.ModelBundlePath != "" || c.ModelPath != ""
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

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
