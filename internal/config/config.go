// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config holds every environment-driven setting of the server and the historian.
type Config struct {
	Port  string
	Store string

	DatabaseURL string

	// RedisAddr empty disables the match action log.
	RedisAddr string
	RedisDB   int

	HistorianQueue     string
	HistorianBatchSize int
	HistorianFlush     time.Duration
	HistorianMaxQueued int

	LogLevel string
	Debug    bool

	AuthPrivateKeyPath string
	AuthPublicKeyPath  string
}

// Load reads the configuration from the environment. Call it after .env has been
// loaded (cmd binaries import github.com/joho/godotenv/autoload).
func Load() (*Config, error) {
	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		Store:              strings.ToLower(getEnv("STORE", StorePostgres)),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		RedisAddr:          os.Getenv("REDIS_ADDR"),
		RedisDB:            getEnvInt("REDIS_DB", 0),
		HistorianQueue:     getEnv("HISTORIAN_QUEUE_NAME", "bingo_actions"),
		HistorianBatchSize: getEnvInt("HISTORIAN_BATCH_SIZE", 20),
		HistorianFlush:     time.Duration(getEnvInt("HISTORIAN_FLUSH_MS", 500)) * time.Millisecond,
		HistorianMaxQueued: getEnvInt("HISTORIAN_MAX_PENDING", 1000),
		Debug:              getEnvBool("DEBUG", false),
		AuthPrivateKeyPath: os.Getenv("AUTH_PRIVATE_KEY_PATH"),
		AuthPublicKeyPath:  os.Getenv("AUTH_PUBLIC_KEY_PATH"),
	}

	cfg.LogLevel = getEnv("LOG_LEVEL", "info")
	if cfg.Debug && os.Getenv("LOG_LEVEL") == "" {
		cfg.LogLevel = "debug"
	}

	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = fmt.Sprintf(
			"postgres://%s:%s@%s:%s/%s",
			os.Getenv("POSTGRES_USER"),
			os.Getenv("POSTGRES_PASSWORD"),
			getEnv("PG_HOST", "localhost"),
			getEnv("PG_PORT", "5432"),
			os.Getenv("PG_DATABASE"),
		)
	}

	switch cfg.Store {
	case StorePostgres, StoreMemory:
	default:
		return nil, fmt.Errorf("unknown STORE %q (want %q or %q)", cfg.Store, StorePostgres, StoreMemory)
	}
	if cfg.HistorianBatchSize <= 0 {
		return nil, fmt.Errorf("HISTORIAN_BATCH_SIZE must be positive, got %d", cfg.HistorianBatchSize)
	}
	if cfg.HistorianFlush <= 0 {
		return nil, fmt.Errorf("HISTORIAN_FLUSH_MS must be positive, got %s", cfg.HistorianFlush)
	}
	if (cfg.AuthPrivateKeyPath == "") != (cfg.AuthPublicKeyPath == "") {
		return nil, fmt.Errorf("AUTH_PRIVATE_KEY_PATH and AUTH_PUBLIC_KEY_PATH must be set together")
	}
	return cfg, nil
}

// Addr is the listen address of the HTTP server.
func (c *Config) Addr() string {
	return ":" + c.Port
}

// getEnv is a helper to read an environment variable or return a default value.
func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// getEnvInt is a helper to parse an environment variable as integer, else a default value.
func getEnvInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

func getEnvBool(key string, def bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return def
	}
	return v
}
