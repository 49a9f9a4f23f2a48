package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lugondev/rwa-example-privy.io-sub002/internal/config"
)

var keys = []string{
	"PORT", "STORE_BACKEND", "DATABASE_URL", "SQLITE_PATH", "LOCK_TIMEOUT",
	"REDIS_URL", "CACHE_TTL", "KAFKA_BROKERS", "KAFKA_TOPIC", "FEE_RATE",
	"DEFAULT_ISSUANCE_CAP", "AUTH_PUBLIC_KEY", "AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_ADMIN_SUBJECTS", "LOG_LEVEL",
}

// clearEnv blanks every key for the duration of the test. Blank values
// are treated as unset.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

func noEnvFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "missing.env")
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := config.Load(noEnvFile(t))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, config.BackendMemory, cfg.StoreBackend)
	assert.Equal(t, 5*time.Second, cfg.LockTimeout)
	assert.Equal(t, 30*time.Second, cfg.CacheTTL)
	assert.Equal(t, "rwa.settlements", cfg.KafkaTopic)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Equal(t, "0.001", cfg.FeeRate.String())
	assert.Equal(t, "1000000", cfg.DefaultIssuanceCap.String())
	assert.Equal(t, "privy.io", cfg.AuthIssuer)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
}

func TestLoad_DatabaseURLSelectsPostgres(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/rwa")

	cfg, err := config.Load(noEnvFile(t))
	require.NoError(t, err)
	assert.Equal(t, config.BackendPostgres, cfg.StoreBackend)
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("STORE_BACKEND", "SQLite")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("FEE_RATE", "0.0025")
	t.Setenv("LOCK_TIMEOUT", "250ms")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("AUTH_ADMIN_SUBJECTS", "ops-1,ops-2")

	cfg, err := config.Load(noEnvFile(t))
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, config.BackendSQLite, cfg.StoreBackend)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "0.0025", cfg.FeeRate.String())
	assert.Equal(t, 250*time.Millisecond, cfg.LockTimeout)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, []string{"ops-1", "ops-2"}, cfg.AuthAdmins)
}

func TestLoad_EnvFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("PORT=7070\nDEFAULT_ISSUANCE_CAP=42\n"), 0o600))
	t.Cleanup(func() {
		_ = os.Unsetenv("PORT")
		_ = os.Unsetenv("DEFAULT_ISSUANCE_CAP")
	})

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "7070", cfg.Port)
	assert.Equal(t, "42", cfg.DefaultIssuanceCap.String())
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]map[string]string{
		"unknown backend":      {"STORE_BACKEND": "mongo"},
		"postgres without url": {"STORE_BACKEND": "gorm-postgres"},
		"bad fee":              {"FEE_RATE": "abc"},
		"negative fee":         {"FEE_RATE": "-0.1"},
		"fee of one":           {"FEE_RATE": "1"},
		"negative cap":         {"DEFAULT_ISSUANCE_CAP": "-5"},
		"bad log level":        {"LOG_LEVEL": "loud"},
		"zero lock timeout":    {"LOCK_TIMEOUT": "0s"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := config.Load(noEnvFile(t))
			assert.Error(t, err)
		})
	}
}
