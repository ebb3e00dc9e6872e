// Package config provides environment configuration for the API server.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration

	// Storage settings
	StoreDriver   string
	DatabaseDSN   string
	SeedPetsFile  string
	DBMaxOpenConn int

	// NATS settings
	NATSEnabled  bool
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string

	// Redis settings
	RedisAddr    string
	RedisChannel string

	// JWT settings
	JWTSecret string

	// Negotiation settings
	FinalizeInitialInterval time.Duration
	FinalizeMaxElapsed      time.Duration
	ReconcileInterval       time.Duration
	LongPollMaxWait         time.Duration

	// LLM settings
	AnthropicAPIKey string
	OpenAIAPIKey    string
	DefaultLLM      string

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 60*time.Second),

		// Storage
		StoreDriver:   getEnv("STORE_DRIVER", "memory"),
		DatabaseDSN:   getEnv("DATABASE_DSN", ""),
		SeedPetsFile:  getEnv("SEED_PETS_FILE", ""),
		DBMaxOpenConn: getIntEnv("DB_MAX_OPEN_CONNS", 20),

		// NATS
		NATSEnabled:  getBoolEnv("NATS_ENABLED", false),
		NATSURL:      getEnv("NATS_URL", "nats://localhost:4222"),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),

		// Redis
		RedisAddr:    getEnv("REDIS_ADDR", ""),
		RedisChannel: getEnv("REDIS_CHANNEL", "adoption-chats"),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", "development-secret-change-in-production"),

		// Negotiation
		FinalizeInitialInterval: getDurationEnv("FINALIZE_INITIAL_INTERVAL", 50*time.Millisecond),
		FinalizeMaxElapsed:      getDurationEnv("FINALIZE_MAX_ELAPSED", 5*time.Second),
		ReconcileInterval:       getDurationEnv("RECONCILE_INTERVAL", time.Minute),
		LongPollMaxWait:         getDurationEnv("LONG_POLL_MAX_WAIT", 25*time.Second),

		// LLM
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		DefaultLLM:      getEnv("DEFAULT_LLM", "anthropic"),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 120),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
