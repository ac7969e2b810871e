// Package config provides configuration management for the sync system.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the application configuration.
type Config struct {
	Server ServerConfig
	Sync   SyncConfig
	DBPath string
	Debug  bool
}

// ServerConfig represents the HTTP server configuration.
type ServerConfig struct {
	Addr string
}

// SyncConfig represents sync session and matching configuration.
type SyncConfig struct {
	SessionTTL   time.Duration
	PollInterval time.Duration
	PollTimeout  time.Duration
	TanRetryCap  int
	WeightsPath  string // YAML match weights, optional
	BanksPath    string // YAML known-bank registry, optional
	ProductID    string // FinTS product registration number
	Gateway      string // gateway binding, "emulator" is the built-in one
}

// Load loads configuration from environment variables.
// It automatically loads .env file from the current directory if available.
// You can optionally specify a custom .env file path.
func Load(envPath ...string) (*Config, error) {
	if len(envPath) > 0 && envPath[0] != "" {
		if err := godotenv.Load(envPath[0]); err != nil {
			return nil, fmt.Errorf("failed to load .env file: %w", err)
		}
	} else {
		// Try to load .env from current directory (ignore error if not found)
		_ = godotenv.Load()
	}

	sessionTTL, err := parseDurationEnv("SYNC_SESSION_TTL", 5*time.Minute)
	if err != nil {
		return nil, err
	}
	pollInterval, err := parseDurationEnv("SYNC_POLL_INTERVAL", 3*time.Second)
	if err != nil {
		return nil, err
	}
	pollTimeout, err := parseDurationEnv("SYNC_POLL_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, err
	}
	retryCap, err := parseIntEnv("SYNC_TAN_RETRY_CAP", 3)
	if err != nil {
		return nil, err
	}

	config := &Config{
		Server: ServerConfig{
			Addr: getEnvOrDefault("SERVER_ADDR", ":8080"),
		},
		Sync: SyncConfig{
			SessionTTL:   sessionTTL,
			PollInterval: pollInterval,
			PollTimeout:  pollTimeout,
			TanRetryCap:  retryCap,
			WeightsPath:  os.Getenv("MATCH_WEIGHTS_PATH"),
			BanksPath:    os.Getenv("BANK_REGISTRY_PATH"),
			ProductID:    os.Getenv("FINTS_PRODUCT_ID"),
			Gateway:      getEnvOrDefault("FINTS_GATEWAY", "emulator"),
		},
		DBPath: getEnvOrDefault("DB_PATH", "./data/fints-sync.db"),
		Debug:  os.Getenv("DEBUG") == "true",
	}

	return config, nil
}

// getEnvOrDefault returns the value of the environment variable or a default value if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseIntEnv(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid integer value for %s: %s", key, value)
	}
	return parsed, nil
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration value for %s: %s", key, value)
	}
	return parsed, nil
}
