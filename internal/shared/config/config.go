package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Image generation timeout bounds
const (
	MinGenerationTimeout     = 60 * time.Second
	MaxGenerationTimeout     = 3600 * time.Second
	DefaultGenerationTimeout = 600 * time.Second
)

// Config holds all configuration for the gateway
type Config struct {
	// Server
	Port string
	Env  string

	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// Secret used to decrypt stored provider API keys
	CredentialSecret string

	// Rate Limiting
	DefaultRateLimit int

	// Dispatch
	GenerationTimeout  time.Duration
	ExtendedHostSuffix string
	ExtendedMinSize    string

	// Materialization
	MaterializeMaxBytes    int64
	MaterializeConcurrency int
	MaterializeTimeout     time.Duration

	// Audit
	AuditEnabled   bool
	AuditQueueSize int

	// Logging / metrics
	LogLevel         string
	LogFormat        string
	MetricsNamespace string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                   getEnv("PORT", "8080"),
		Env:                    getEnv("ENV", "development"),
		DatabaseURL:            getEnv("DATABASE_URL", ""),
		RedisURL:               getEnv("REDIS_URL", "redis://localhost:6379"),
		CredentialSecret:       getEnv("CREDENTIAL_SECRET", ""),
		DefaultRateLimit:       getEnvInt("DEFAULT_RATE_LIMIT", 30),
		GenerationTimeout:      ClampGenerationTimeout(time.Duration(getEnvInt("IMAGE_GEN_TIMEOUT_SECONDS", 600)) * time.Second),
		ExtendedHostSuffix:     getEnv("EXTENDED_HOST_SUFFIX", "volces.com"),
		ExtendedMinSize:        getEnv("EXTENDED_MIN_SIZE", "2048x2048"),
		MaterializeMaxBytes:    int64(getEnvInt("MATERIALIZE_MAX_BYTES", 15*1024*1024)),
		MaterializeConcurrency: getEnvInt("MATERIALIZE_CONCURRENCY", 4),
		MaterializeTimeout:     time.Duration(getEnvInt("MATERIALIZE_TIMEOUT_SECONDS", 30)) * time.Second,
		AuditEnabled:           getEnvBool("AUDIT_ENABLED", true),
		AuditQueueSize:         getEnvInt("AUDIT_QUEUE_SIZE", 256),
		LogLevel:               strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:              strings.ToLower(getEnv("LOG_FORMAT", "json")),
		MetricsNamespace:       getEnv("METRICS_NAMESPACE", "imagegw"),
	}

	// Validate required fields
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.CredentialSecret == "" {
		return nil, fmt.Errorf("CREDENTIAL_SECRET is required to decrypt provider API keys")
	}

	if cfg.MaterializeConcurrency < 1 {
		cfg.MaterializeConcurrency = 1
	}
	if cfg.MaterializeMaxBytes <= 0 {
		cfg.MaterializeMaxBytes = 15 * 1024 * 1024
	}

	return cfg, nil
}

// ClampGenerationTimeout bounds an image generation timeout to [60s, 3600s].
// A non-positive value selects the default.
func ClampGenerationTimeout(d time.Duration) time.Duration {
	switch {
	case d <= 0:
		return DefaultGenerationTimeout
	case d < MinGenerationTimeout:
		return MinGenerationTimeout
	case d > MaxGenerationTimeout:
		return MaxGenerationTimeout
	}
	return d
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
