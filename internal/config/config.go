package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config centralizes runtime settings for the API, workers and the
// notification gateway. Everything comes from the environment; deployment
// owns the values.
type Config struct {
	Port        string
	GatewayPort string

	JWTSecret      string
	AllowedOrigins []string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	EventChannel  string

	MaxAttempts          int
	BackoffBaseMS        int
	RetentionHours       int
	FailedRetentionHours int
	VisibilityTimeoutS   int

	WorkerConcurrency  int
	PollIntervalMS     int
	CleanupIntervalMin int

	RateLimitRPS   float64
	RateLimitBurst int

	WorkerEnabled  bool
	GatewayEnabled bool

	LogLevel  string
	LogFormat string
}

// LoadDotEnv loads .env files if present; missing files are not an error.
func LoadDotEnv(paths ...string) {
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
		}
	}
}

func Load() Config {
	return Config{
		Port:        getEnv("PORT", "8080"),
		GatewayPort: getEnv("GATEWAY_PORT", "8081"),

		JWTSecret:      getEnv("JWT_SECRET", ""),
		AllowedOrigins: splitList(getEnv("ALLOWED_ORIGIN", "http://localhost:3000")),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		EventChannel:  getEnv("EVENT_CHANNEL", ""),

		MaxAttempts:          getEnvInt("MAX_ATTEMPTS", 3),
		BackoffBaseMS:        getEnvInt("BACKOFF_BASE_MS", 2000),
		RetentionHours:       getEnvInt("RETENTION_HOURS", 24),
		FailedRetentionHours: getEnvInt("FAILED_RETENTION_HOURS", 168),
		VisibilityTimeoutS:   getEnvInt("VISIBILITY_TIMEOUT_S", 300),

		WorkerConcurrency:  getEnvInt("WORKER_CONCURRENCY", 5),
		PollIntervalMS:     getEnvInt("POLL_INTERVAL_MS", 250),
		CleanupIntervalMin: getEnvInt("CLEANUP_INTERVAL_MIN", 60),

		RateLimitRPS:   getEnvFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst: getEnvInt("RATE_LIMIT_BURST", 40),

		WorkerEnabled:  getEnvBool("WORKER_ENABLED", true),
		GatewayEnabled: getEnvBool("GATEWAY_ENABLED", true),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "console"),
	}
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
