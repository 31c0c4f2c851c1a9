package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	Port          string
	Env           string
	LogLevel      string
	DatabaseURL   string
	AuditDBURL    string
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	AuthJWTSecret string

	// Idempotency store backend: "postgres", "redis" or "memory".
	IdempotencyBackend string
	IdempotencyTTL     time.Duration

	// Hold defaults.
	DefaultHoldSeconds int
	MaxHoldSeconds     int

	// Expiry worker.
	ExpirySweepInterval time.Duration

	// Delegation / suggestion service.
	DelegationEnabled    bool
	SuggestionServiceURL string
	SuggestionAPIKey     string
	SuggestionTimeout    time.Duration

	// HTTP hardening.
	CORSAllowedOrigins []string
	RateLimitPerSecond float64
	RateLimitBurst     int
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		AuditDBURL:    getEnv("AUDIT_DATABASE_URL", getEnv("DATABASE_URL", "")),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		AuthJWTSecret: getEnv("AUTH_JWT_SECRET", ""),

		IdempotencyBackend: strings.ToLower(strings.TrimSpace(getEnv("IDEMPOTENCY_BACKEND", "postgres"))),
		IdempotencyTTL:     getEnvAsDuration("IDEMPOTENCY_TTL", 24*time.Hour),

		DefaultHoldSeconds: getEnvAsInt("DEFAULT_HOLD_SECONDS", 300),
		MaxHoldSeconds:     getEnvAsInt("MAX_HOLD_SECONDS", 1800),

		ExpirySweepInterval: getEnvAsDuration("EXPIRY_SWEEP_INTERVAL", time.Minute),

		DelegationEnabled:    getEnvAsBool("DELEGATION_ENABLED", false),
		SuggestionServiceURL: getEnv("SUGGESTION_SERVICE_URL", ""),
		SuggestionAPIKey:     getEnv("SUGGESTION_API_KEY", ""),
		SuggestionTimeout:    getEnvAsDuration("SUGGESTION_TIMEOUT", 4*time.Second),

		CORSAllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
		RateLimitPerSecond: getEnvAsFloat("RATE_LIMIT_PER_SECOND", 20),
		RateLimitBurst:     getEnvAsInt("RATE_LIMIT_BURST", 40),
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsSlice(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
