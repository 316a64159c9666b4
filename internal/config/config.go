package config

import (
	"os"

	"github.com/joho/godotenv"
)

// Config holds process-level configuration sourced from the environment.
// Host-specific protection policy (stages, thresholds, restore targets)
// lives in the YAML file loaded separately via LoadFile.
type Config struct {
	// Database Configuration
	Database DatabaseConfig

	// Redis Configuration (task queue for scheduled runs)
	Redis RedisConfig

	// Logging Configuration
	Logging LoggingConfig

	// Path to the policy file (stages, preflight, restore targets)
	PolicyPath string
}

// DatabaseConfig holds the run-history database configuration
type DatabaseConfig struct {
	URL string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Address string // Redis address (host:port)
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	Level  string
	Format string // json, console
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env files (fails silently if files don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// Run-history database - default under /var/lib, allow override for dev
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		dbURL = "/var/lib/preservd/preservd.sqlite"
	}

	// Redis address - only needed by the worker binary
	redisAddr := os.Getenv("REDIS_ADDRESS")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}

	logFormat := os.Getenv("LOG_FORMAT")
	if logFormat == "" {
		logFormat = "json"
	}

	policyPath := os.Getenv("PRESERVD_POLICY")
	if policyPath == "" {
		policyPath = "/etc/preservd/policy.yaml"
	}

	return &Config{
		Database: DatabaseConfig{
			URL: dbURL,
		},
		Redis: RedisConfig{
			Address: redisAddr,
		},
		Logging: LoggingConfig{
			Level:  logLevel,
			Format: logFormat,
		},
		PolicyPath: policyPath,
	}, nil
}
