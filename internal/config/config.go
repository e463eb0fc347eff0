package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"

	LockDriverRedis = "redis"
	LockDriverLocal = "local"
)

type Config struct {
	App struct {
		Name     string `envconfig:"APP_NAME" default:"Ledger"`
		Port     int    `envconfig:"PORT" default:"8080"`
		LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	}

	DB struct {
		Host            string        `envconfig:"DB_HOST" default:"localhost"`
		Port            int           `envconfig:"DB_PORT" default:"5432"`
		User            string        `envconfig:"DB_USER" default:"postgres"`
		Password        string        `envconfig:"DB_PASSWORD" default:""`
		Name            string        `envconfig:"DB_NAME" default:"ledger"`
		MaxOpenConns    int           `envconfig:"DB_MAX_OPEN_CONNS" default:"25"`
		MaxIdleConns    int           `envconfig:"DB_MAX_IDLE_CONNS" default:"5"`
		ConnMaxLifetime time.Duration `envconfig:"DB_CONN_MAX_LIFETIME" default:"5m"`
		Migrate         bool          `envconfig:"DB_MIGRATE" default:"true"`
	}

	Server struct {
		Timeout         time.Duration `envconfig:"SERVER_TIMEOUT" default:"30s"`
		ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"10s"`
		AllowedOrigins  []string      `envconfig:"SERVER_ALLOWED_ORIGINS" default:"*"`
	}

	Storage struct {
		Driver string `envconfig:"STORAGE_DRIVER" default:"postgres"`
	}

	Redis struct {
		Addr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
		Password string `envconfig:"REDIS_PASSWORD" default:""`
		DB       int    `envconfig:"REDIS_DB" default:"0"`
	}

	// Lock bounds the per-account critical section. Wait should stay well
	// above the slowest expected store round-trip.
	Lock struct {
		Driver     string        `envconfig:"LOCK_DRIVER" default:"redis"`
		TTL        time.Duration `envconfig:"LOCK_TTL" default:"30s"`
		Wait       time.Duration `envconfig:"LOCK_WAIT" default:"15s"`
		RetryDelay time.Duration `envconfig:"LOCK_RETRY_DELAY" default:"100ms"`
	}
}

func (c *Config) ConnectionString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.DB.User, c.DB.Password, c.DB.Host, c.DB.Port, c.DB.Name)
}

func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case StorageDriverPostgres, StorageDriverMemory:
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	switch c.Lock.Driver {
	case LockDriverRedis, LockDriverLocal:
	default:
		return fmt.Errorf("unknown lock driver %q", c.Lock.Driver)
	}

	if c.Lock.TTL <= 0 || c.Lock.Wait <= 0 || c.Lock.RetryDelay <= 0 {
		return errors.New("lock durations must be positive")
	}

	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}
