package config

import (
	"fmt"
	"os"
	"strconv"
)

// GetPort compat function until codebase is migrated to use the new config system
func GetPort() int {
	return BackendConfig.Server.Port
}

// SweeperEnabled reports whether the maintenance sweeper should run.
func SweeperEnabled() bool {
	return BackendConfig.Features.SweeperEnabled
}

// SetEnvFromConfig sets environment variables based on the loaded configuration
// This is a compatibility layer to support code that still reads from os.Getenv
func SetEnvFromConfig(cfg *Config) {
	// Server config
	os.Setenv("KONTOR_PPROF_DEBUG_ENABLED", strconv.FormatBool(cfg.Server.Pprof.Enabled))
	os.Setenv("KONTOR_ENABLE_INTERNAL_ENDPOINTS", strconv.FormatBool(cfg.Server.EnableInternalEndpoints))

	// Sentry config
	if cfg.Analytics.Sentry.Enabled {
		os.Setenv("SENTRY_DSN", cfg.Analytics.Sentry.DSN)
	}

	// Segment config
	if cfg.Analytics.Segment.Enabled {
		os.Setenv("SEGMENT_API_KEY", cfg.Analytics.Segment.WriteKey)
	}

	// Auth config. The middleware selector only checks key presence, so the
	// unselected mode must stay unset.
	os.Setenv("INTERNAL_API_SECRET", cfg.Auth.InternalSecret)
	os.Setenv("JWT_SECRET", cfg.Auth.JWTSecret)
	if cfg.Auth.Enabled {
		os.Setenv("JWT_AUTH", "true")
		os.Unsetenv("NOOP_AUTH")
	} else {
		os.Setenv("NOOP_AUTH", "true")
		os.Unsetenv("JWT_AUTH")
	}

	// Redis config
	os.Setenv("REDIS_ADDR", cfg.Redis.Addr)
	if cfg.Redis.Password != "" {
		os.Setenv("REDIS_PASSWORD", cfg.Redis.Password)
	}

	// Database config
	switch cfg.Database.Type {
	case "postgres":
		os.Setenv("DATABASE_URL", fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
			cfg.Database.Postgres.User,
			cfg.Database.Postgres.Pass,
			cfg.Database.Postgres.Host,
			cfg.Database.Postgres.Port,
			cfg.Database.Postgres.Name,
			cfg.Database.Postgres.Ssl))
	case "sqlite":
		os.Setenv("KONTOR_SQLITE_PATH", cfg.Database.Sqlite.Path)
	}
}
