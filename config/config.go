package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

type Config struct {
	Env      string `env:"ENV"       envDefault:"local" validate:"required,oneof=local staging production"`
	Port     string `env:"PORT"      envDefault:"8080"  validate:"required"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"  validate:"oneof=debug info warn error"`

	MetricsPort string `env:"METRICS_PORT" envDefault:"9090"`

	// Storage and transport backends
	StoreBackend   string `env:"STORE_BACKEND"   envDefault:"postgres" validate:"oneof=postgres memory"`
	DatabaseURL    string `env:"DATABASE_URL"                          validate:"required_if=StoreBackend postgres"`
	DBMaxConns     int32  `env:"DB_MAX_CONNS"    envDefault:"25"       validate:"min=1,max=200"`
	RedisURL       string `env:"REDIS_URL"                             validate:"required_if=LeaseBackend redis,required_if=EventPublisher redis"`
	LeaseBackend   string `env:"LEASE_BACKEND"   envDefault:"postgres" validate:"oneof=memory postgres redis"`
	EventPublisher string `env:"EVENT_PUBLISHER" envDefault:"log"      validate:"oneof=log redis"`

	// Dispatcher
	WorkerCount           int `env:"WORKER_COUNT"             envDefault:"5"   validate:"min=1,max=100"`
	DispatchIntervalSec   int `env:"DISPATCH_INTERVAL_SEC"    envDefault:"1"   validate:"min=1,max=60"`
	DispatchBatchSize     int `env:"DISPATCH_BATCH_SIZE"      envDefault:"100" validate:"min=1,max=1000"`
	LeaseGraceSec         int `env:"LEASE_GRACE_SEC"          envDefault:"30"  validate:"min=1"`
	DefaultTaskTimeoutSec int `env:"DEFAULT_TASK_TIMEOUT_SEC" envDefault:"30"  validate:"min=1,max=3600"`
	RetryBaseDelaySec     int `env:"RETRY_BASE_DELAY_SEC"     envDefault:"60"  validate:"min=1"`
	RetryMaxDelaySec      int `env:"RETRY_MAX_DELAY_SEC"      envDefault:"3600" validate:"gtefield=RetryBaseDelaySec"`
	MisfireGraceSec       int `env:"MISFIRE_GRACE_SEC"        envDefault:"3600" validate:"min=0"`
	ReaperIntervalSec     int `env:"REAPER_INTERVAL_SEC"      envDefault:"30"  validate:"min=1"`

	DefaultTimezone    string `env:"DEFAULT_TIMEZONE"      envDefault:"UTC" validate:"required,timezone"`
	ConflictMinSlotMin int    `env:"CONFLICT_MIN_SLOT_MIN" envDefault:"15"  validate:"min=1,max=1440"`

	JWTSecret string `env:"JWT_SECRET" validate:"required,min=32"`
}

func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (c *Config) DispatchInterval() time.Duration {
	return time.Duration(c.DispatchIntervalSec) * time.Second
}

func (c *Config) ReaperInterval() time.Duration {
	return time.Duration(c.ReaperIntervalSec) * time.Second
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func (c *Config) LeaseGrace() time.Duration         { return seconds(c.LeaseGraceSec) }
func (c *Config) DefaultTaskTimeout() time.Duration { return seconds(c.DefaultTaskTimeoutSec) }
func (c *Config) RetryBaseDelay() time.Duration     { return seconds(c.RetryBaseDelaySec) }
func (c *Config) RetryMaxDelay() time.Duration      { return seconds(c.RetryMaxDelaySec) }
func (c *Config) MisfireGrace() time.Duration       { return seconds(c.MisfireGraceSec) }
func (c *Config) ConflictMinSlot() time.Duration {
	return time.Duration(c.ConflictMinSlotMin) * time.Minute
}
