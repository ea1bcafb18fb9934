package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	LockBackendPostgres = "postgres"
	LockBackendRedis    = "redis"

	NotifyWebsocket = "websocket"
	NotifyRedis     = "redis"
	NotifyNull      = "null"
)

// Config holds all configuration for the application.
type Config struct {
	Port     string
	Env      string
	LogLevel string

	DatabaseURL string
	RedisURL    string
	RedisPrefix string

	LockBackend   string
	NotifyDriver  string
	LockTTL       time.Duration
	SweepInterval time.Duration

	BlobRoot      string
	PublicBaseURL string
	MaxImageBytes int64

	SessionSecret   string
	SessionLifetime time.Duration
}

// Load reads configuration from environment variables, loading a .env file
// first when one is present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		DatabaseURL:   strings.TrimSpace(os.Getenv("DATABASE_URL")),
		RedisURL:      strings.TrimSpace(os.Getenv("REDIS_URL")),
		RedisPrefix:   getEnv("REDIS_PREFIX", "sharedoc"),
		LockBackend:   getEnv("LOCK_BACKEND", LockBackendPostgres),
		NotifyDriver:  getEnv("NOTIFY_DRIVER", NotifyWebsocket),
		BlobRoot:      getEnv("BLOB_ROOT", "storage/app/public"),
		PublicBaseURL: strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
		SessionSecret: os.Getenv("SESSION_SECRET"),
	}

	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = databaseURLFromParts()
	}

	var err error
	if cfg.LockTTL, err = getDuration("LOCK_TTL", 90*time.Second); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = getDuration("LOCK_SWEEP_INTERVAL", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.SessionLifetime, err = getDuration("SESSION_LIFETIME", 12*time.Hour); err != nil {
		return nil, err
	}
	if cfg.MaxImageBytes, err = getInt64("MAX_IMAGE_BYTES", 5<<20); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.LockBackend {
	case LockBackendPostgres, LockBackendRedis:
	default:
		return fmt.Errorf("LOCK_BACKEND must be %q or %q, got %q", LockBackendPostgres, LockBackendRedis, c.LockBackend)
	}
	switch c.NotifyDriver {
	case NotifyWebsocket, NotifyRedis, NotifyNull:
	default:
		return fmt.Errorf("NOTIFY_DRIVER must be one of websocket, redis, null, got %q", c.NotifyDriver)
	}
	if (c.LockBackend == LockBackendRedis || c.NotifyDriver == NotifyRedis) && c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required when redis is used for locks or notifications")
	}
	if c.LockTTL <= 0 {
		return fmt.Errorf("LOCK_TTL must be positive")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("LOCK_SWEEP_INTERVAL must be positive")
	}
	// The sweep period bounds how long an expired lock can linger.
	if limit := c.LockTTL / 2; c.SweepInterval > limit {
		c.SweepInterval = limit
	}
	if c.MaxImageBytes <= 0 {
		return fmt.Errorf("MAX_IMAGE_BYTES must be positive")
	}
	if c.SessionSecret == "" {
		if c.Env == "production" {
			return fmt.Errorf("SESSION_SECRET is required in production")
		}
		c.SessionSecret = "sharedoc-development-secret"
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// databaseURLFromParts builds a connection string from the individual
// user/password/host/port/dbname variables.
func databaseURLFromParts() string {
	dbUser := strings.TrimSpace(os.Getenv("user"))
	dbPass := strings.TrimSpace(os.Getenv("password"))
	dbHost := strings.TrimSpace(os.Getenv("host"))
	dbPort := strings.TrimSpace(os.Getenv("port"))
	dbName := strings.TrimSpace(os.Getenv("dbname"))
	if dbHost == "" || dbName == "" {
		return ""
	}
	if dbPort == "" {
		dbPort = "5432"
	}
	sslMode := getEnv("DB_SSLMODE", "require")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", dbUser, dbPass, dbHost, dbPort, dbName, sslMode)
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func getInt64(key string, defaultValue int64) (int64, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}
