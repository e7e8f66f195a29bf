// Package config provides configuration loading and management for the application.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Config holds all application configuration
type Config struct {
	// Runtime environment: development or production
	Env string

	// HTTP server bind address
	Port string
	Host string

	// Redis connection parameters
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Gemini API key
	GeminiAPIKey string

	// Cache TTL for data keys; metadata keys get double this
	CacheTTL time.Duration

	// Scheduled refresh cadence in minutes
	RefreshIntervalMinutes int

	// Fixed-window rate limit for the API surface
	RateLimitWindow time.Duration
	RateLimitMax    int

	// CORS allow-list used in production
	AllowedOrigins []string

	// Prometheus metrics listener
	MetricsEnabled bool
	MetricsPort    string

	// OpenTelemetry endpoint for observability
	OtelEndpoint string

	// Webhook notification settings
	WebhookURL       string
	WebhookAPIKey    string
	WebhookOnError   bool
	WebhookOnSuccess bool

	// Upstream market-data API
	DeFiLlamaBaseURL string
	DeFiLlamaTimeout time.Duration
	DeFiLlamaRetries int

	// Gemini API
	GeminiBaseURL string
	GeminiModel   string
	GeminiTimeout time.Duration
	GeminiRetries int

	// Analysis tuning
	MaxPoolsToAnalyze int
	MinTVL            float64
	MaxAPY            float64
	Chains            []string
	TokenFilter       string
}

// Load creates a new Config from environment variables
func Load() Config {
	cfg := Config{
		Env:           GetEnvOrDefault("NODE_ENV", "development"),
		Port:          GetEnvOrDefault("PORT", "3001"),
		Host:          GetEnvOrDefault("HOST", "0.0.0.0"),
		RedisHost:     GetEnvOrDefault("REDIS_HOST", "localhost"),
		RedisPort:     GetEnvOrDefault("REDIS_PORT", "6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       GetEnvAsInt("REDIS_DB", 0),

		GeminiAPIKey: os.Getenv("GEMINI_API_KEY"),

		CacheTTL:               time.Duration(GetEnvAsInt("CACHE_TTL", 300)) * time.Second,
		RefreshIntervalMinutes: GetEnvAsInt("REFRESH_INTERVAL_MINUTES", 2),

		RateLimitWindow: time.Duration(GetEnvAsInt("RATE_LIMIT_WINDOW_MS", 900000)) * time.Millisecond,
		RateLimitMax:    GetEnvAsInt("RATE_LIMIT_MAX_REQUESTS", 100),

		AllowedOrigins: splitAndTrim(os.Getenv("ALLOWED_ORIGINS")),

		MetricsEnabled: GetEnvAsBool("ENABLE_METRICS", false),
		MetricsPort:    GetEnvOrDefault("METRICS_PORT", "9090"),

		OtelEndpoint: GetEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", ""),

		WebhookURL:       os.Getenv("WEBHOOK_URL"),
		WebhookAPIKey:    os.Getenv("WEBHOOK_API_KEY"),
		WebhookOnError:   GetEnvAsBool("WEBHOOK_ON_ERROR", false),
		WebhookOnSuccess: GetEnvAsBool("WEBHOOK_ON_SUCCESS", false),

		DeFiLlamaBaseURL: GetEnvOrDefault("DEFILLAMA_BASE_URL", "https://yields.llama.fi"),
		DeFiLlamaTimeout: GetEnvAsDuration("DEFILLAMA_TIMEOUT", 30*time.Second),
		DeFiLlamaRetries: GetEnvAsInt("DEFILLAMA_RETRIES", 3),

		GeminiBaseURL: GetEnvOrDefault("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta/models"),
		GeminiModel:   GetEnvOrDefault("GEMINI_MODEL", "gemini-2.5-flash"),
		GeminiTimeout: GetEnvAsDuration("GEMINI_TIMEOUT", 60*time.Second),
		GeminiRetries: GetEnvAsInt("GEMINI_RETRIES", 2),

		MaxPoolsToAnalyze: GetEnvAsInt("MAX_POOLS_TO_ANALYZE", 100),
		MinTVL:            GetEnvAsFloat("MIN_TVL", 10000),
		MaxAPY:            GetEnvAsFloat("MAX_APY", 1000),
		Chains:            splitAndTrim(GetEnvOrDefault("CHAINS", "Base")),
		TokenFilter:       strings.ToLower(GetEnvOrDefault("TOKEN_FILTER", "usdc")),
	}

	if cfg.GeminiAPIKey == "" {
		logrus.Warn("GEMINI_API_KEY not set, AI analysis will fail")
	}

	return cfg
}

// Criteria side of the analysis tuning, ready to hand to the pool filter.
func (c Config) AnalysisChains() []string {
	return c.Chains
}

// RedisAddr returns the host:port address for the Redis client.
func (c Config) RedisAddr() string {
	return c.RedisHost + ":" + c.RedisPort
}

// IsProduction reports whether the service runs in production mode.
func (c Config) IsProduction() bool {
	return c.Env == "production"
}

// RefreshCron returns the cron expression for the scheduled refresh.
func (c Config) RefreshCron() string {
	return "*/" + strconv.Itoa(c.RefreshIntervalMinutes) + " * * * *"
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// GetEnv retrieves an environment variable and whether it exists
func GetEnv(key string) (string, bool) {
	value, exists := os.LookupEnv(key)
	return value, exists
}

// GetEnvOrDefault retrieves an environment variable or returns the default value if not set
func GetEnvOrDefault(key, defaultValue string) string {
	if value, exists := GetEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

// GetEnvAsInt retrieves an environment variable as an integer with a default value
func GetEnvAsInt(key string, defaultValue int) int {
	if value, exists := GetEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
		logrus.Warnf("Invalid integer in %s, using default: %d", key, defaultValue)
	}
	return defaultValue
}

// GetEnvAsFloat retrieves an environment variable as a float with a default value
func GetEnvAsFloat(key string, defaultValue float64) float64 {
	if value, exists := GetEnv(key); exists {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
		logrus.Warnf("Invalid float in %s, using default: %v", key, defaultValue)
	}
	return defaultValue
}

// GetEnvAsBool retrieves an environment variable as a boolean with a default value
func GetEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := GetEnv(key); exists {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
		logrus.Warnf("Invalid boolean in %s, using default: %v", key, defaultValue)
	}
	return defaultValue
}

// GetEnvAsDuration retrieves an environment variable as a duration with a default value
func GetEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := GetEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
		logrus.Warnf("Invalid duration in %s, using default: %v", key, defaultValue)
	}
	return defaultValue
}
