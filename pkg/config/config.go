package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Port string
	Env  string

	// Database configuration
	DatabaseURL string

	// Redis configuration (import scratch storage)
	RedisURL      string
	RedisPassword string

	// JWT configuration (web sessions)
	JWTSecret string

	// Symmetric key for credentials held at rest, hex-encoded 32 bytes
	EncryptionKey string

	// Auth limits
	MaxTokensPerUser int
	OTPCodeTTL       time.Duration

	// Import limits
	ImportMaxFileSize int64
	ImportMaxRows     int
	ImportScratchTTL  time.Duration

	// Outbound HTTP deadline (LLM, Gmail, chat reply APIs)
	OutboundTimeout time.Duration

	// Gmail OAuth application credentials (statement scanning)
	GoogleClientID     string
	GoogleClientSecret string

	// LLM category enhancement; empty key disables it
	LLMAPIKey  string
	LLMBaseURL string
	LLMModel   string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Port:              getEnv("PORT", "8080"),
		Env:               getEnv("ENV", "development"),
		DatabaseURL:       getEnv("DATABASE_URL", ""),
		RedisURL:          getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
		JWTSecret:         getEnv("JWT_SECRET", ""),
		EncryptionKey:     getEnv("ENCRYPTION_KEY", ""),
		MaxTokensPerUser:  getEnvAsInt("MAX_TOKENS_PER_USER", 10),
		OTPCodeTTL:        getEnvAsDuration("OTP_CODE_TTL", 5*time.Minute),
		ImportMaxFileSize: int64(getEnvAsInt("IMPORT_MAX_FILE_SIZE", 10*1024*1024)),
		ImportMaxRows:     getEnvAsInt("IMPORT_MAX_ROWS", 2000),
		ImportScratchTTL:  getEnvAsDuration("IMPORT_SCRATCH_TTL", time.Hour),
		OutboundTimeout:   getEnvAsDuration("OUTBOUND_TIMEOUT", 10*time.Second),

		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),

		LLMAPIKey:  getEnv("LLM_API_KEY", ""),
		LLMBaseURL: getEnv("LLM_BASE_URL", ""),
		LLMModel:   getEnv("LLM_MODEL", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate ensures all required configuration is present
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters long")
	}

	// The encryption key guards stored OAuth tokens; production cannot
	// run without one.
	if c.EncryptionKey == "" && c.IsProduction() {
		return fmt.Errorf("ENCRYPTION_KEY is required in production")
	}

	if c.MaxTokensPerUser < 1 {
		return fmt.Errorf("MAX_TOKENS_PER_USER must be at least 1")
	}

	if c.ImportMaxRows < 1 {
		return fmt.Errorf("IMPORT_MAX_ROWS must be at least 1")
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
