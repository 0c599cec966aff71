package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// BackendConfig is the loaded configuration for the whole backend. It is set
// once by LoadConfig during startup and read-only afterwards.
var BackendConfig *Config

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Slots     SlotsConfig     `mapstructure:"slots"`
	Locking   LockingConfig   `mapstructure:"locking"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Log       LogConfig       `mapstructure:"log"`
	Analytics AnalyticsConfig `mapstructure:"analytics"`
	Features  FeaturesConfig  `mapstructure:"features"`
}

type ServerConfig struct {
	Port                    int           `mapstructure:"port"`
	BaseURL                 string        `mapstructure:"base_url"`
	Pprof                   PprofConfig   `mapstructure:"pprof"`
	EnableInternalEndpoints bool          `mapstructure:"enable_internal_endpoints"`
	ShutdownTimeout         time.Duration `mapstructure:"shutdown_timeout"`
}

type PprofConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	PeriodicEnabled bool   `mapstructure:"periodic_enabled"`
	Dir             string `mapstructure:"dir"`
	IntervalMinutes int    `mapstructure:"interval_minutes"`
	KeepProfiles    int    `mapstructure:"keep_profiles"`
}

type DatabaseConfig struct {
	Type     string         `mapstructure:"type"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Sqlite   SqliteConfig   `mapstructure:"sqlite"`
}

type PostgresConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Name string `mapstructure:"name"`
	User string `mapstructure:"user"`
	Pass string `mapstructure:"pass"`
	Ssl  string `mapstructure:"ssl"`
}

type SqliteConfig struct {
	Path string `mapstructure:"path"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// SlotsConfig drives the per-user upload slot accounting and the maintenance
// sweeper that prunes stale slot counters.
type SlotsConfig struct {
	Store                string        `mapstructure:"store"`
	MaxConcurrentUploads int64         `mapstructure:"max_concurrent_uploads"`
	SlotTTL              time.Duration `mapstructure:"slot_ttl"`
	SweepInterval        time.Duration `mapstructure:"sweep_interval"`
	SweepMaxOps          int           `mapstructure:"sweep_max_ops"`
	SweepMaxRuntime      time.Duration `mapstructure:"sweep_max_runtime"`
	SweepScanPageSize    int64         `mapstructure:"sweep_scan_page_size"`
}

type LockingConfig struct {
	LockTTL        time.Duration `mapstructure:"lock_ttl"`
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
}

type QueueConfig struct {
	Dispatcher       string        `mapstructure:"dispatcher"`
	KeyPrefix        string        `mapstructure:"key_prefix"`
	RemoveOnComplete bool          `mapstructure:"remove_on_complete"`
	RemoveOnFail     bool          `mapstructure:"remove_on_fail"`
	CompletedJobTTL  time.Duration `mapstructure:"completed_job_ttl"`
}

type AuthConfig struct {
	Enabled             bool          `mapstructure:"enabled"`
	JWTSecret           string        `mapstructure:"jwt_secret"`
	InternalSecret      string        `mapstructure:"internal_secret"`
	RevokedCacheRefresh time.Duration `mapstructure:"revoked_cache_refresh"`
}

type LogConfig struct {
	Level  slog.Level `mapstructure:"-"`
	Format string     `mapstructure:"format"`
}

type AnalyticsConfig struct {
	Segment SegmentConfig `mapstructure:"segment"`
	Sentry  SentryConfig  `mapstructure:"sentry"`
}

type SegmentConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	WriteKey string `mapstructure:"write_key"`
}

type SentryConfig struct {
	Enabled          bool    `mapstructure:"enabled"`
	DSN              string  `mapstructure:"dsn"`
	EnableTracing    bool    `mapstructure:"enable_tracing"`
	TracesSampleRate float64 `mapstructure:"traces_sample_rate"`
	Debug            bool    `mapstructure:"debug"`
	Environment      string  `mapstructure:"environment"`
}

type FeaturesConfig struct {
	SweeperEnabled bool `mapstructure:"sweeper_enabled"`
}

// defaults holds a value for every config key so that viper's AutomaticEnv
// can override any of them without the key appearing in the config file.
var defaults = map[string]any{
	"server.port":                      3000,
	"server.base_url":                  "http://localhost:3000",
	"server.pprof.enabled":             false,
	"server.pprof.periodic_enabled":    false,
	"server.pprof.dir":                 "/tmp/profiles",
	"server.pprof.interval_minutes":    60,
	"server.pprof.keep_profiles":       168,
	"server.enable_internal_endpoints": false,
	"server.shutdown_timeout":          "30s",

	"database.type":          "postgres",
	"database.postgres.host": "",
	"database.postgres.port": 5432,
	"database.postgres.name": "",
	"database.postgres.user": "",
	"database.postgres.pass": "",
	"database.postgres.ssl":  "disable",
	"database.sqlite.path":   "kontor.db",

	"redis.addr":     "",
	"redis.username": "",
	"redis.password": "",
	"redis.db":       0,

	"slots.store":                  "redis",
	"slots.max_concurrent_uploads": 5,
	"slots.slot_ttl":               "600s",
	"slots.sweep_interval":         "60s",
	"slots.sweep_max_ops":          0,
	"slots.sweep_max_runtime":      "0s",
	"slots.sweep_scan_page_size":   100,

	"locking.lock_ttl":        "300s",
	"locking.acquire_timeout": "10s",
	"locking.retry_delay":     "250ms",

	"queue.dispatcher":         "redis",
	"queue.key_prefix":         "bulkjobs",
	"queue.remove_on_complete": true,
	"queue.remove_on_fail":     false,
	"queue.completed_job_ttl":  "24h",

	"auth.enabled":               true,
	"auth.jwt_secret":            "",
	"auth.internal_secret":       "",
	"auth.revoked_cache_refresh": "60s",

	"log.level":  "info",
	"log.format": "text",

	"analytics.segment.enabled":           false,
	"analytics.segment.write_key":         "",
	"analytics.sentry.enabled":            false,
	"analytics.sentry.dsn":                "",
	"analytics.sentry.enable_tracing":     true,
	"analytics.sentry.traces_sample_rate": 0.1,
	"analytics.sentry.debug":              false,
	"analytics.sentry.environment":        "",

	"features.sweeper_enabled": true,
}

// LoadConfig reads the YAML config at path (optional), applies KONTOR_*
// environment overrides on top and validates the result. On success the
// loaded config is also stored in BackendConfig.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix("KONTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	level, err := parseLogLevel(v.GetString("log.level"))
	if err != nil {
		return nil, err
	}
	cfg.Log.Level = level

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	BackendConfig = cfg
	return cfg, nil
}

func parseLogLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level %q, must be one of: debug, info, warn, error", name)
	}
}

func (c *Config) validate() error {
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("invalid log format %q, must be text or json", c.Log.Format)
	}

	switch c.Database.Type {
	case "postgres":
		if c.Database.Postgres.Host == "" {
			return fmt.Errorf("database.postgres.host is required when database.type is postgres")
		}
		if c.Database.Postgres.Name == "" {
			return fmt.Errorf("database.postgres.name is required when database.type is postgres")
		}
		if c.Database.Postgres.User == "" {
			return fmt.Errorf("database.postgres.user is required when database.type is postgres")
		}
	case "sqlite":
		if c.Database.Sqlite.Path == "" {
			return fmt.Errorf("database.sqlite.path is required when database.type is sqlite")
		}
	default:
		return fmt.Errorf("database.type must be one of: postgres, sqlite")
	}

	if c.Slots.Store != "redis" && c.Slots.Store != "memory" {
		return fmt.Errorf("slots.store must be one of: redis, memory")
	}
	if c.Queue.Dispatcher != "redis" && c.Queue.Dispatcher != "memory" {
		return fmt.Errorf("queue.dispatcher must be one of: redis, memory")
	}
	if (c.Slots.Store == "redis" || c.Queue.Dispatcher == "redis") && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when slots.store or queue.dispatcher is redis")
	}

	if c.Slots.MaxConcurrentUploads < 1 {
		return fmt.Errorf("slots.max_concurrent_uploads must be at least 1")
	}

	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret must be set when auth is enabled")
	}

	return nil
}
