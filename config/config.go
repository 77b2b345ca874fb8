package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

// Config holds every tick/batch/retry knob spec.md §6 enumerates, plus the
// store DSNs and optional OTel endpoint the engine needs to run.
type Config struct {
	Env  string `env:"ENV" envDefault:"local" validate:"required,oneof=local staging production"`
	Port string `env:"PORT" envDefault:"8080" validate:"required"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info" validate:"required,oneof=debug info warn error"`

	DatabaseURL   string `env:"DATABASE_URL,required" validate:"required"`
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379" validate:"required"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:"," validate:"required"`

	OTelExporterEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	MetricsPort string `env:"METRICS_PORT" envDefault:"9090"`

	// Worker ticks (spec.md §6).
	CronTickSec     int `env:"CRON_TICK_SEC" envDefault:"60" validate:"min=1"`
	PromoteTickSec  int `env:"PROMOTE_TICK_SEC" envDefault:"30" validate:"min=1"`
	DispatchTickSec int `env:"DISPATCH_TICK_SEC" envDefault:"1" validate:"min=1"`
	JanitorTickSec  int `env:"JANITOR_TICK_SEC" envDefault:"60" validate:"min=1"`

	// Placement & batching.
	PromotionHorizonSec int `env:"PROMOTION_HORIZON_SEC" envDefault:"3600" validate:"min=1"`
	DispatchBatch        int `env:"DISPATCH_BATCH" envDefault:"100" validate:"min=1"`
	PromoteBatch         int `env:"PROMOTE_BATCH" envDefault:"1000" validate:"min=1"`
	CronBatch            int `env:"CRON_BATCH" envDefault:"500" validate:"min=1"`
	JanitorBatch         int `env:"JANITOR_BATCH" envDefault:"500" validate:"min=1"`

	// Claim locking & bus.
	ClaimTTLSec         int `env:"CLAIM_TTL_SEC" envDefault:"30" validate:"min=1"`
	BusPublishTimeoutMS int `env:"BUS_PUBLISH_TIMEOUT_MS" envDefault:"20000" validate:"min=1"`

	// Retention.
	RetentionCDays         int `env:"RETENTION_C_DAYS" envDefault:"30" validate:"min=1"`
	RetentionAnalyticsDays int `env:"RETENTION_ANALYTICS_DAYS" envDefault:"90" validate:"min=1"`

	// Max-delay / staleness (§4.5).
	MaxDelayDefaultSeconds int64 `env:"MAX_DELAY_DEFAULT_SECONDS" envDefault:"86400" validate:"min=1"`
	StaleIsFatal           bool  `env:"STALE_IS_FATAL" envDefault:"false"`

	// Retry/backoff (§7).
	RetryBaseMS     int64   `env:"RETRY_BASE_MS" envDefault:"60000" validate:"min=1"`
	RetryMultiplier float64 `env:"RETRY_MULTIPLIER" envDefault:"2" validate:"min=1"`
	RetryMaxMS      int64   `env:"RETRY_MAX_MS" envDefault:"3600000" validate:"min=1"`
	RetryJitter     bool    `env:"RETRY_JITTER" envDefault:"true"`

	RegistryManifestPath string `env:"REGISTRY_MANIFEST_PATH" envDefault:"registry/manifest.yaml"`

	// ScheduleSkewSec is the small tolerance ScheduleEvent allows for a
	// scheduled-at already in the past (clock skew between caller and
	// engine), per §4.1.
	ScheduleSkewSec int `env:"SCHEDULE_SKEW_SEC" envDefault:"5" validate:"min=0"`
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

// SlogLevel converts the LOG_LEVEL string to a slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
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

func (c *Config) CronTick() time.Duration     { return time.Duration(c.CronTickSec) * time.Second }
func (c *Config) PromoteTick() time.Duration  { return time.Duration(c.PromoteTickSec) * time.Second }
func (c *Config) DispatchTick() time.Duration { return time.Duration(c.DispatchTickSec) * time.Second }
func (c *Config) JanitorTick() time.Duration  { return time.Duration(c.JanitorTickSec) * time.Second }

func (c *Config) PromotionHorizon() time.Duration {
	return time.Duration(c.PromotionHorizonSec) * time.Second
}

func (c *Config) ClaimTTL() time.Duration {
	return time.Duration(c.ClaimTTLSec) * time.Second
}

func (c *Config) BusPublishTimeout() time.Duration {
	return time.Duration(c.BusPublishTimeoutMS) * time.Millisecond
}

func (c *Config) RetentionC() time.Duration {
	return time.Duration(c.RetentionCDays) * 24 * time.Hour
}

func (c *Config) RetentionAnalytics() time.Duration {
	return time.Duration(c.RetentionAnalyticsDays) * 24 * time.Hour
}

func (c *Config) ScheduleSkew() time.Duration {
	return time.Duration(c.ScheduleSkewSec) * time.Second
}
