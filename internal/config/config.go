// Package config provides environment-driven configuration for the
// generator server.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// StoreBackend selects the document store implementation.
type StoreBackend string

const (
	StoreMemory   StoreBackend = "memory"
	StorePostgres StoreBackend = "postgres"
	StoreRedis    StoreBackend = "redis"
)

// Config holds all server configuration.
type Config struct {
	// Server
	ListenAddr      string
	ShutdownTimeout time.Duration

	// Logging
	LogLevel  string
	LogFormat string

	// Storage
	StoreBackend StoreBackend
	PostgresDSN  string
	RedisAddr    string
	RedisDB      int

	// Engine defaults, applied when a document's metadata leaves them unset.
	MaxRecursionDepth   int
	MaxInheritanceDepth int
	MaxDiceExplosions   int

	// Metrics
	MetricsEnabled bool
}

// Load reads configuration from the environment. A .env file in the working
// directory is honoured when present.
func Load() (*Config, error) {
	// Missing .env is not an error; explicit env always wins.
	_ = godotenv.Load()

	cfg := &Config{
		ListenAddr:          getEnv("ROLLDEO_LISTEN_ADDR", ":8080"),
		ShutdownTimeout:     getDuration("ROLLDEO_SHUTDOWN_TIMEOUT", 10*time.Second),
		LogLevel:            getEnv("ROLLDEO_LOG_LEVEL", "info"),
		LogFormat:           getEnv("ROLLDEO_LOG_FORMAT", "text"),
		StoreBackend:        StoreBackend(getEnv("ROLLDEO_STORE", string(StoreMemory))),
		PostgresDSN:         getEnv("ROLLDEO_POSTGRES_DSN", ""),
		RedisAddr:           getEnv("ROLLDEO_REDIS_ADDR", "localhost:6379"),
		RedisDB:             getInt("ROLLDEO_REDIS_DB", 0),
		MaxRecursionDepth:   getInt("ROLLDEO_MAX_RECURSION_DEPTH", 20),
		MaxInheritanceDepth: getInt("ROLLDEO_MAX_INHERITANCE_DEPTH", 5),
		MaxDiceExplosions:   getInt("ROLLDEO_MAX_DICE_EXPLOSIONS", 20),
		MetricsEnabled:      getBool("ROLLDEO_METRICS_ENABLED", true),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreBackend {
	case StoreMemory, StoreRedis:
	case StorePostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("ROLLDEO_POSTGRES_DSN is required when ROLLDEO_STORE=postgres")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.StoreBackend)
	}
	if c.MaxRecursionDepth < 1 {
		return fmt.Errorf("ROLLDEO_MAX_RECURSION_DEPTH must be >= 1, got %d", c.MaxRecursionDepth)
	}
	if c.MaxInheritanceDepth < 1 {
		return fmt.Errorf("ROLLDEO_MAX_INHERITANCE_DEPTH must be >= 1, got %d", c.MaxInheritanceDepth)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
