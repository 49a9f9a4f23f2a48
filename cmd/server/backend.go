package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/lugondev/rwa-example-privy.io-sub002/internal/config"
	"github.com/lugondev/rwa-example-privy.io-sub002/internal/kyc"
	"github.com/lugondev/rwa-example-privy.io-sub002/internal/store"
)

// backend is the ledger store plus the KYC store sharing its connection.
type backend struct {
	store   store.Store
	kyc     kyc.Store
	migrate func(context.Context) error
}

func openBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("database connection failed: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("database ping failed: %w", err)
		}
		st := store.NewPostgresStore(pool)
		st.SetLockTimeout(cfg.LockTimeout)
		ks := kyc.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL", "driver", "pgx")
		return &backend{
			store: st,
			kyc:   ks,
			migrate: func(ctx context.Context) error {
				if err := st.Migrate(ctx); err != nil {
					return err
				}
				return ks.Migrate(ctx)
			},
		}, nil

	case config.BackendGormPostgres, config.BackendSQLite:
		var dialector gorm.Dialector
		if cfg.StoreBackend == config.BackendSQLite {
			dialector = sqlite.Open(cfg.SQLitePath)
		} else {
			dialector = postgres.Open(cfg.DatabaseURL)
		}
		st, err := store.NewGormStore(dialector, logger.Default.LogMode(logger.Warn))
		if err != nil {
			return nil, err
		}
		st.SetLockTimeout(cfg.LockTimeout)
		ks := kyc.NewGormStore(st.DB())
		slog.Info("opened GORM store", "dialect", dialector.Name())
		return &backend{
			store: st,
			kyc:   ks,
			migrate: func(ctx context.Context) error {
				if err := st.Migrate(ctx); err != nil {
					return err
				}
				return ks.Migrate(ctx)
			},
		}, nil

	default:
		slog.Warn("using in-memory store (data will not persist)")
		ms := store.NewMemoryStore()
		ms.SetLockTimeout(cfg.LockTimeout)
		return &backend{
			store:   ms,
			kyc:     kyc.NewMemoryStore(),
			migrate: func(context.Context) error { return nil },
		}, nil
	}
}
