// Package config loads service settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Store backends.
const (
	BackendMemory       = "memory"
	BackendPostgres     = "postgres"
	BackendGormPostgres = "gorm-postgres"
	BackendSQLite       = "sqlite"
)

// Config holds everything the server needs to start.
type Config struct {
	Port string

	StoreBackend string
	DatabaseURL  string
	SQLitePath   string
	LockTimeout  time.Duration

	RedisURL string
	CacheTTL time.Duration

	KafkaBrokers []string
	KafkaTopic   string

	FeeRate            decimal.Decimal
	DefaultIssuanceCap decimal.Decimal

	// AuthPublicKey is a PEM-encoded ECDSA P-256 key. Empty disables
	// bearer-token checks.
	AuthPublicKey string
	AuthIssuer    string
	AuthAudience  string
	// AuthAdmins are token subjects granted the admin role.
	AuthAdmins []string

	LogLevel slog.Level
}

func defaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("STORE_BACKEND", "")
	v.SetDefault("SQLITE_PATH", "rwa-ledger.db")
	v.SetDefault("LOCK_TIMEOUT", "5s")
	v.SetDefault("CACHE_TTL", "30s")
	v.SetDefault("KAFKA_TOPIC", "rwa.settlements")
	v.SetDefault("FEE_RATE", "0.001")
	v.SetDefault("DEFAULT_ISSUANCE_CAP", "1000000")
	v.SetDefault("AUTH_ISSUER", "privy.io")
	v.SetDefault("LOG_LEVEL", "info")
}

// Load reads configuration from the process environment. envFiles are
// loaded first if present (default ".env"); variables already set in the
// environment win.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config: load %s: %w", f, err)
		}
	}

	v := viper.New()
	v.AutomaticEnv()
	defaults(v)

	cfg := &Config{
		Port:          v.GetString("PORT"),
		StoreBackend:  strings.ToLower(v.GetString("STORE_BACKEND")),
		DatabaseURL:   v.GetString("DATABASE_URL"),
		SQLitePath:    v.GetString("SQLITE_PATH"),
		LockTimeout:   v.GetDuration("LOCK_TIMEOUT"),
		RedisURL:      v.GetString("REDIS_URL"),
		CacheTTL:      v.GetDuration("CACHE_TTL"),
		KafkaBrokers:  splitList(v.GetString("KAFKA_BROKERS")),
		KafkaTopic:    v.GetString("KAFKA_TOPIC"),
		AuthPublicKey: v.GetString("AUTH_PUBLIC_KEY"),
		AuthIssuer:    v.GetString("AUTH_ISSUER"),
		AuthAudience:  v.GetString("AUTH_AUDIENCE"),
		AuthAdmins:    splitList(v.GetString("AUTH_ADMIN_SUBJECTS")),
	}

	if cfg.StoreBackend == "" {
		cfg.StoreBackend = BackendMemory
		if cfg.DatabaseURL != "" {
			cfg.StoreBackend = BackendPostgres
		}
	}

	var err error
	if cfg.FeeRate, err = decimal.NewFromString(v.GetString("FEE_RATE")); err != nil {
		return nil, fmt.Errorf("config: FEE_RATE: %w", err)
	}
	if cfg.DefaultIssuanceCap, err = decimal.NewFromString(v.GetString("DEFAULT_ISSUANCE_CAP")); err != nil {
		return nil, fmt.Errorf("config: DEFAULT_ISSUANCE_CAP: %w", err)
	}
	if err := cfg.LogLevel.UnmarshalText([]byte(v.GetString("LOG_LEVEL"))); err != nil {
		return nil, fmt.Errorf("config: LOG_LEVEL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendMemory, BackendSQLite:
	case BackendPostgres, BackendGormPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("config: STORE_BACKEND=%s requires DATABASE_URL", c.StoreBackend)
		}
	default:
		return fmt.Errorf("config: unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.FeeRate.IsNegative() || c.FeeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("config: FEE_RATE must be in [0, 1), got %s", c.FeeRate)
	}
	if c.DefaultIssuanceCap.IsNegative() {
		return fmt.Errorf("config: DEFAULT_ISSUANCE_CAP must not be negative, got %s", c.DefaultIssuanceCap)
	}
	if c.LockTimeout <= 0 {
		return fmt.Errorf("config: LOCK_TIMEOUT must be positive, got %s", c.LockTimeout)
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		return errors.New("config: KAFKA_TOPIC is required when KAFKA_BROKERS is set")
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
