package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the errortrack server.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Tracking TrackingConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

// TrackingConfig controls tracker behavior.
type TrackingConfig struct {
	// Debug enables verbose tracking diagnostics on the tracker itself.
	Debug bool
	// MessagePrefixLen is how many bytes of the normalized exception message
	// participate in the identity key.
	MessagePrefixLen int
	// RateLimitPerMin caps authenticated requests per key per minute.
	RateLimitPerMin int
	// StatsCacheTTL is how long aggregated stats are served from Redis.
	StatsCacheTTL time.Duration
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("ERRORTRACK_PORT", 8080),
			Env:  envString("ERRORTRACK_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Tracking: TrackingConfig{
			Debug:            envBool("ERRORTRACK_DEBUG", false),
			MessagePrefixLen: envInt("ERRORTRACK_MESSAGE_PREFIX_LEN", 200),
			RateLimitPerMin:  envInt("ERRORTRACK_RATE_LIMIT_PER_MIN", 60),
			StatsCacheTTL:    envDuration("ERRORTRACK_STATS_CACHE_TTL", 30*time.Second),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Tracking.MessagePrefixLen <= 0 {
		return fmt.Errorf("ERRORTRACK_MESSAGE_PREFIX_LEN must be positive, got %d", c.Tracking.MessagePrefixLen)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
