package config

import (
	"os"
	"testing"
	"time"

	"log/slog"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	tests := []struct {
		name       string
		configPath string
		validate   func(*testing.T, *Config)
		wantErr    string
	}{
		{
			name:       "basic_config",
			configPath: "testdata/basic.yaml",
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 4000, cfg.Server.Port)
				assert.Equal(t, "https://kontor.example.com", cfg.Server.BaseURL)
				assert.Equal(t, "sqlite", cfg.Database.Type)
				assert.Equal(t, "/tmp/kontor.db", cfg.Database.Sqlite.Path)
				assert.Equal(t, "memory", cfg.Slots.Store)
				assert.Equal(t, int64(5), cfg.Slots.MaxConcurrentUploads)
				assert.Equal(t, 600*time.Second, cfg.Slots.SlotTTL)
				assert.Equal(t, 10*time.Second, cfg.Locking.AcquireTimeout)
				assert.Equal(t, 250*time.Millisecond, cfg.Locking.RetryDelay)
				assert.Equal(t, 300*time.Second, cfg.Locking.LockTTL)
				assert.Equal(t, "memory", cfg.Queue.Dispatcher)
				assert.Equal(t, "test-secret", cfg.Auth.JWTSecret)
				assert.Equal(t, "internal-test-secret", cfg.Auth.InternalSecret)
			},
		},
		{
			name:       "redis_config",
			configPath: "testdata/redis.yaml",
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 5000, cfg.Server.Port)
				assert.True(t, cfg.Server.EnableInternalEndpoints)
				assert.Equal(t, "postgres", cfg.Database.Type)
				assert.Equal(t, "db.example.com", cfg.Database.Postgres.Host)
				assert.Equal(t, 5433, cfg.Database.Postgres.Port)
				assert.Equal(t, "kontor", cfg.Database.Postgres.Name)
				assert.Equal(t, "require", cfg.Database.Postgres.Ssl)
				assert.Equal(t, "redis.example.com:6379", cfg.Redis.Addr)
				assert.Equal(t, "redis-secret", cfg.Redis.Password)
				assert.Equal(t, 2, cfg.Redis.DB)
				assert.Equal(t, "redis", cfg.Slots.Store)
				assert.Equal(t, int64(10), cfg.Slots.MaxConcurrentUploads)
				assert.Equal(t, 30*time.Second, cfg.Slots.SweepInterval)
				assert.Equal(t, 500, cfg.Slots.SweepMaxOps)
				assert.Equal(t, 5*time.Second, cfg.Slots.SweepMaxRuntime)
				assert.Equal(t, "redis", cfg.Queue.Dispatcher)
				assert.True(t, cfg.Queue.RemoveOnComplete)
				assert.False(t, cfg.Queue.RemoveOnFail)
				assert.Equal(t, 24*time.Hour, cfg.Queue.CompletedJobTTL)
				assert.True(t, cfg.Analytics.Sentry.Enabled)
				assert.Equal(t, "https://sentry.example.com/42", cfg.Analytics.Sentry.DSN)
				assert.True(t, cfg.Analytics.Segment.Enabled)
				assert.Equal(t, "segment-test-key", cfg.Analytics.Segment.WriteKey)
				assert.Equal(t, "json", cfg.Log.Format)
				assert.Equal(t, slog.LevelDebug, cfg.Log.Level)
			},
		},
		{
			name:       "invalid_log_level",
			configPath: "testdata/invalid_log_level.yaml",
			wantErr:    "invalid log level",
		},
		{
			name:       "invalid_log_format",
			configPath: "testdata/invalid_log_format.yaml",
			wantErr:    "invalid log format",
		},
		{
			name:       "invalid_database_type",
			configPath: "testdata/invalid_database.yaml",
			wantErr:    "database.type must be one of",
		},
		{
			name:       "missing_postgres_config",
			configPath: "testdata/missing_postgres.yaml",
			wantErr:    "database.postgres.host is required when",
		},
		{
			name:       "missing_jwt_auth",
			configPath: "testdata/missing_jwt.yaml",
			wantErr:    "auth.jwt_secret must be set when auth is enabled",
		},
		{
			name:       "missing_redis_addr",
			configPath: "testdata/missing_redis.yaml",
			wantErr:    "redis.addr is required when",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Reset the global config
			BackendConfig = nil

			cfg, err := LoadConfig(tt.configPath)

			if tt.wantErr != "" {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}

			require.NoError(t, err)
			assert.NotNil(t, cfg)
			assert.Equal(t, cfg, BackendConfig)

			if tt.validate != nil {
				tt.validate(t, cfg)
			}
		})
	}
}

func TestEnvironmentVariables(t *testing.T) {
	tests := []struct {
		name       string
		configPath string
		envVars    map[string]string
		validate   func(*testing.T, *Config)
	}{
		{
			name:       "basic_env_vars",
			configPath: "testdata/basic.yaml",
			envVars: map[string]string{
				"KONTOR_SERVER_PORT":            "5000",
				"KONTOR_SERVER_BASE_URL":        "https://kontor-env.example.com",
				"KONTOR_DATABASE_TYPE":          "postgres",
				"KONTOR_DATABASE_POSTGRES_HOST": "postgres-env-host",
				"KONTOR_DATABASE_POSTGRES_PORT": "5433",
				"KONTOR_DATABASE_POSTGRES_NAME": "kontor-env-db",
				"KONTOR_DATABASE_POSTGRES_USER": "postgres-env-user",
				"KONTOR_DATABASE_POSTGRES_PASS": "postgres-env-password",
				"KONTOR_AUTH_JWT_SECRET":        "env-jwt-secret",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 5000, cfg.Server.Port)
				assert.Equal(t, "https://kontor-env.example.com", cfg.Server.BaseURL)
				assert.Equal(t, "postgres", cfg.Database.Type)
				assert.Equal(t, "postgres-env-host", cfg.Database.Postgres.Host)
				assert.Equal(t, 5433, cfg.Database.Postgres.Port)
				assert.Equal(t, "kontor-env-db", cfg.Database.Postgres.Name)
				assert.Equal(t, "postgres-env-user", cfg.Database.Postgres.User)
				assert.Equal(t, "postgres-env-password", cfg.Database.Postgres.Pass)
				assert.Equal(t, "env-jwt-secret", cfg.Auth.JWTSecret)
			},
		},
		{
			name:       "slot_settings",
			configPath: "testdata/basic.yaml",
			envVars: map[string]string{
				"KONTOR_SLOTS_MAX_CONCURRENT_UPLOADS": "20",
				"KONTOR_SLOTS_SLOT_TTL":               "120s",
				"KONTOR_LOCKING_ACQUIRE_TIMEOUT":      "30s",
				"KONTOR_LOCKING_RETRY_DELAY":          "500ms",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, int64(20), cfg.Slots.MaxConcurrentUploads)
				assert.Equal(t, 120*time.Second, cfg.Slots.SlotTTL)
				assert.Equal(t, 30*time.Second, cfg.Locking.AcquireTimeout)
				assert.Equal(t, 500*time.Millisecond, cfg.Locking.RetryDelay)
			},
		},
		{
			name:       "feature_flags",
			configPath: "testdata/basic.yaml",
			envVars: map[string]string{
				"KONTOR_FEATURES_SWEEPER_ENABLED": "false",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.False(t, cfg.Features.SweeperEnabled)
			},
		},
		{
			name:       "log_settings",
			configPath: "testdata/basic.yaml",
			envVars: map[string]string{
				"KONTOR_LOG_LEVEL":  "debug",
				"KONTOR_LOG_FORMAT": "json",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "json", cfg.Log.Format)
				assert.Equal(t, int(cfg.Log.Level), int(slog.LevelDebug))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Reset the global config
			BackendConfig = nil

			// Set environment variables
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			cfg, err := LoadConfig(tt.configPath)
			require.NoError(t, err)
			assert.NotNil(t, cfg)

			if tt.validate != nil {
				tt.validate(t, cfg)
			}

			// Verify global config is set
			assert.Equal(t, cfg, BackendConfig)
		})
	}
}

func TestSetEnvFromConfigSelectsAuthMiddleware(t *testing.T) {
	// the middleware selector checks key presence, so clear both first;
	// t.Setenv registers the restore
	for _, key := range []string{"JWT_AUTH", "NOOP_AUTH"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	cfg, err := LoadConfig("testdata/basic.yaml")
	require.NoError(t, err)
	require.True(t, cfg.Auth.Enabled)

	SetEnvFromConfig(cfg)

	_, jwtSet := os.LookupEnv("JWT_AUTH")
	_, noopSet := os.LookupEnv("NOOP_AUTH")
	assert.True(t, jwtSet, "enabled auth must select the JWT middleware")
	assert.False(t, noopSet)

	t.Setenv("KONTOR_AUTH_ENABLED", "false")
	cfg, err = LoadConfig("testdata/basic.yaml")
	require.NoError(t, err)
	require.False(t, cfg.Auth.Enabled)

	SetEnvFromConfig(cfg)

	_, jwtSet = os.LookupEnv("JWT_AUTH")
	_, noopSet = os.LookupEnv("NOOP_AUTH")
	assert.False(t, jwtSet, "disabled auth must clear the JWT selector")
	assert.True(t, noopSet)
}
