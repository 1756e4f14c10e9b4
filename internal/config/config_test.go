package config

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old, had := os.LookupEnv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if !had {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func validConfig() Config {
	return Config{
		Port:                "8080",
		Env:                 "development",
		LogFormat:           "text",
		RiskHighThreshold:   0.7,
		RiskMediumThreshold: 0.3,
		BcryptCost:          DefaultBcryptCost,
		AuditTopic:          DefaultAuditTopic,
		RateLimitRPM:        DefaultRateLimit,
	}
}

func TestLoad_Defaults(t *testing.T) {
	setEnv(t, "PORT", "9090")
	setEnv(t, "ENV", "development")
	setEnv(t, "LOG_FORMAT", "")
	setEnv(t, "KAFKA_BROKERS", " kafka-1:9092, ,kafka-2:9092 ")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 0.7, cfg.RiskHighThreshold)
	assert.Equal(t, 0.3, cfg.RiskMediumThreshold)
	assert.Equal(t, DefaultBcryptCost, cfg.BcryptCost)
	assert.False(t, cfg.SecureCookies)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, DefaultAuditTopic, cfg.AuditTopic)
	assert.Equal(t, 1.0, cfg.TraceSampleRatio)
}

func TestLoad_ProductionRequiresSessionSecret(t *testing.T) {
	setEnv(t, "ENV", "production")
	setEnv(t, "SESSION_SECRET", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SESSION_SECRET is required")

	setEnv(t, "SESSION_SECRET", strings.Repeat("x", MinSessionSecretLength))
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.True(t, cfg.SecureCookies)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid config", func(c *Config) {}, ""},
		{"bad port", func(c *Config) { c.Port = "http" }, "PORT"},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, "LOG_FORMAT"},
		{"bundle and model", func(c *Config) { c.ModelBundlePath = "b.json"; c.ModelPath = "m.json" }, "not both"},
		{"scaler without model", func(c *Config) { c.ScalerPath = "s.json" }, "require MODEL_PATH"},
		{"inverted thresholds", func(c *Config) { c.RiskMediumThreshold = 0.8 }, "RISK_"},
		{"bcrypt too low", func(c *Config) { c.BcryptCost = 2 }, "BCRYPT_COST"},
		{"short session secret", func(c *Config) { c.SessionSecret = "short" }, "at least 32"},
		{"admin email only", func(c *Config) { c.AdminEmail = "admin@b.com" }, "ADMIN_EMAIL and ADMIN_PASSWORD"},
		{"kafka without topic", func(c *Config) { c.KafkaBrokers = []string{"k:9092"}; c.AuditTopic = "" }, "AUDIT_TOPIC"},
		{"bad sample ratio", func(c *Config) { c.OTLPEndpoint = "otel:4317"; c.TraceSampleRatio = 1.5 }, "TRACE_SAMPLE_RATIO"},
		{"zero rate limit", func(c *Config) { c.RateLimitRPM = 0 }, "RATE_LIMIT_RPM"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_HasModel(t *testing.T) {
	cfg := validConfig()
	assert.False(t, cfg.HasModel())
	cfg.ModelPath = "model.json"
	assert.True(t, cfg.HasModel())
}

func TestConfig_IsDevelopment(t *testing.T) {
	cfg := &Config{Env: "development"}
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())

	cfg.Env = "production"
	assert.False(t, cfg.IsDevelopment())
	assert.True(t, cfg.IsProduction())
}

func TestGetEnv(t *testing.T) {
	setEnv(t, "TEST_VAR", "custom_value")

	assert.Equal(t, "custom_value", getEnv("TEST_VAR", "default"))
	assert.Equal(t, "default", getEnv("NONEXISTENT_VAR", "default"))
}

func TestGetEnvNumbers(t *testing.T) {
	setEnv(t, "TEST_INT", "42")
	setEnv(t, "TEST_FLOAT", "0.65")
	setEnv(t, "TEST_BOOL", "true")
	setEnv(t, "TEST_INVALID", "not_a_number")

	assert.Equal(t, int64(42), getEnvInt64("TEST_INT", 0))
	assert.Equal(t, int64(99), getEnvInt64("TEST_INVALID", 99)) // Falls back on parse error
	assert.Equal(t, 0.65, getEnvFloat("TEST_FLOAT", 0))
	assert.Equal(t, 0.5, getEnvFloat("TEST_INVALID", 0.5))
	assert.True(t, getEnvBool("TEST_BOOL", false))
	assert.True(t, getEnvBool("TEST_INVALID", true))
}
