package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/lugondev/rwa-example-privy.io-sub002/internal/auth"
	"github.com/lugondev/rwa-example-privy.io-sub002/internal/config"
	"github.com/lugondev/rwa-example-privy.io-sub002/internal/events"
	"github.com/lugondev/rwa-example-privy.io-sub002/internal/kyc"
	"github.com/lugondev/rwa-example-privy.io-sub002/internal/ledger"
	"github.com/lugondev/rwa-example-privy.io-sub002/internal/metrics"
	"github.com/lugondev/rwa-example-privy.io-sub002/internal/store"
	"github.com/lugondev/rwa-example-privy.io-sub002/internal/trade"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the ledger HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "create or update the schema before serving")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, migrate bool) error {
	// --- Initialize store ---
	b, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	if migrate {
		if err := b.migrate(ctx); err != nil {
			b.store.Close()
			return err
		}
	}

	st := b.store
	// Wrap with Redis read-through cache if configured.
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			st.Close()
			return fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opt)
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Warn("redis unreachable, cache will fall through", "err", err)
		}
		st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
		slog.Info("Redis cache enabled", "ttl", cfg.CacheTTL.String())
	}
	defer st.Close()

	// --- Settlement notifications ---
	var pub events.Publisher = events.Nop{}
	if len(cfg.KafkaBrokers) > 0 {
		pub = events.NewAsync(events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic), 1024,
			func(s events.Settlement, err error) {
				metrics.EventPublishFailures.Inc()
				slog.Error("kafka publish failed", "trade_id", s.Trade.ID, "err", err)
			})
		slog.Info("Kafka publisher enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}
	defer pub.Close()

	// --- Authentication ---
	var verifier *auth.Verifier
	if cfg.AuthPublicKey != "" {
		pemKey := strings.ReplaceAll(cfg.AuthPublicKey, `\n`, "\n")
		if verifier, err = auth.NewVerifier([]byte(pemKey), cfg.AuthIssuer, cfg.AuthAudience); err != nil {
			return err
		}
		verifier.SetAdmins(cfg.AuthAdmins...)
		slog.Info("bearer authentication enabled", "issuer", cfg.AuthIssuer, "admins", len(cfg.AuthAdmins))
	} else {
		slog.Warn("AUTH_PUBLIC_KEY not set, API is unauthenticated")
	}

	// --- WebSocket hub ---
	hub := trade.NewWSHub()
	go hub.Run(ctx)

	// --- Services ---
	l := ledger.New(st, cfg.FeeRate, ledger.NewSupplyLimiter(cfg.DefaultIssuanceCap))
	svc := trade.NewService(l, st, kyc.NewService(b.kyc, st), hub, pub)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","service":"rwa-ledger","store":%q}`, cfg.StoreBackend)
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Mount("/api/v1", svc.Routes(verifier))

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		slog.Info("rwa-ledger listening", "port", cfg.Port, "store", cfg.StoreBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	// Graceful shutdown.
	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down rwa-ledger...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	slog.Info("rwa-ledger stopped")
	return nil
}
