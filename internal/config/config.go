// Package config loads process configuration from the environment.
// Components never read env vars themselves; they receive a Config
// built once at startup.
package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
)

type StoreBackend string

const (
	StoreRedis    StoreBackend = "redis"
	StoreSQLite   StoreBackend = "sqlite"
	StoreInMemory StoreBackend = "inmemory"
)

type Config struct {
	Store StoreConfig
	Model ModelConfig
	App   AppConfig
}

type StoreConfig struct {
	Backend       StoreBackend
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SQLitePath    string
	RetentionTTL  time.Duration
}

type ModelConfig struct {
	Name            string
	MaxOutputTokens int
	RetryAttempts   int
}

type AppConfig struct {
	LogLevel     string
	SystemPrompt string
}

// Load reads configuration from the environment, after loading an
// optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Store: StoreConfig{
			Backend:       StoreBackend(getEnv("STORE_BACKEND", string(StoreInMemory))),
			RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
			RedisPassword: getEnv("REDIS_PASSWORD", ""),
			RedisDB:       getEnvAsInt("REDIS_DB", 0),
			SQLitePath:    getEnv("SQLITE_PATH", "draftloop.db"),
			RetentionTTL:  getEnvAsDuration("CHECKPOINT_TTL", 30*24*time.Hour),
		},
		Model: ModelConfig{
			Name:            getEnv("MODEL_NAME", "gpt-4o-mini"),
			MaxOutputTokens: getEnvAsInt("MODEL_MAX_OUTPUT_TOKENS", 2048),
			RetryAttempts:   getEnvAsInt("MODEL_RETRY_ATTEMPTS", 3),
		},
		App: AppConfig{
			LogLevel:     getEnv("LOG_LEVEL", "info"),
			SystemPrompt: getEnv("SYSTEM_PROMPT", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Store.Backend {
	case StoreRedis:
		if c.Store.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required for the redis backend")
		}
	case StoreSQLite:
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required for the sqlite backend")
		}
	case StoreInMemory:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}

	if c.Store.RetentionTTL <= 0 {
		return fmt.Errorf("CHECKPOINT_TTL must be positive")
	}
	if c.Model.Name == "" {
		return fmt.Errorf("MODEL_NAME is required")
	}
	return nil
}
