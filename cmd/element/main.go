// Element — embedded-app authentication and token lifecycle service.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	elementapi "github.com/mantlekit/element/internal/api"
	"github.com/mantlekit/element/internal/api/handler"
	"github.com/mantlekit/element/internal/api/middleware"
	"github.com/mantlekit/element/internal/config"
	"github.com/mantlekit/element/internal/db"
	"github.com/mantlekit/element/internal/health"
	"github.com/mantlekit/element/internal/observability"
	"github.com/mantlekit/element/internal/platform"
	"github.com/mantlekit/element/internal/resolver"
	"github.com/mantlekit/element/internal/seed"
	"github.com/mantlekit/element/internal/session"
	"github.com/mantlekit/element/internal/store"
	"github.com/mantlekit/element/internal/token"
	"github.com/mantlekit/element/internal/version"
	"github.com/mantlekit/element/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Observability -------------------------------------------------------
	obs, log, err := observability.New(ctx, &observability.Config{
		ServiceName:    "element",
		ServiceVersion: version.Version,
		LogLevel:       cfg.Log.Level,
		LogFormat:      cfg.Log.Format,
		OTLPEndpoint:   cfg.OTel.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}
	defer obs.Shutdown(context.Background())
	slog.SetDefault(log)
	log.Info("starting element", "version", version.Version, "commit", version.Commit, "db_driver", cfg.DB.Driver)

	// --- Database ------------------------------------------------------------
	// db.New opens the connection, runs migrations (AutoMigrate for SQLite,
	// golang-migrate for Postgres), and returns the GORM handle plus an
	// optional pgxpool (non-nil only for postgres, used by River).
	gormDB, pool, err := db.New(ctx, &cfg.DB)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	if pool != nil {
		defer pool.Close()
	}
	log.Info("database ready", "driver", cfg.DB.Driver)

	st := store.New(gormDB)

	// --- Seed development organization ---------------------------------------
	if err := seed.EnsureOrganization(ctx, gormDB, seed.Options{
		OrgMantleID: cfg.Seed.OrgMantleID,
		OrgName:     cfg.Seed.OrgName,
		UserEmail:   cfg.Seed.UserEmail,
	}, log); err != nil {
		return fmt.Errorf("seed organization: %w", err)
	}

	// --- Platform client and domain services ---------------------------------
	pc := platform.New(cfg.Platform.BaseURL, cfg.Platform.ClientID, cfg.Platform.ClientSecret,
		platform.WithTimeout(cfg.Platform.HTTPTimeout),
		platform.WithRetry(cfg.Platform.RetryMax, cfg.Platform.RetryBackoff),
	)
	tokens := token.New(st, pc, cfg.Platform.ExchangeScope, log)
	rv := resolver.New(st, log)
	sync := session.New(st, tokens, pc, log)

	// --- Worker queue --------------------------------------------------------
	// River migrations only run when Postgres is available.
	if pool != nil {
		if err := worker.MigrateRiver(ctx, pool); err != nil {
			return fmt.Errorf("river migrations: %w", err)
		}
		log.Info("river migrations applied")
	}

	wq, err := worker.New(ctx, pool, cfg.DB.Driver, cfg.Worker.Concurrency, st, log)
	if err != nil {
		return fmt.Errorf("create worker: %w", err)
	}
	if err := wq.Start(ctx); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := wq.Stop(stopCtx); err != nil {
			log.Error("worker stop error", "err", err)
		}
	}()

	// --- HTTP routes ---------------------------------------------------------
	mux := http.NewServeMux()
	elementapi.RegisterRoutes(mux, rv, elementapi.Handlers{
		Health:    health.New(db.NewPinger(gormDB)),
		Session:   handler.NewSessionHandler(rv, sync, cfg.Cookie, log),
		Token:     handler.NewTokenHandler(tokens, log),
		Customers: handler.NewCustomersHandler(rv, tokens, pc, log),
	}, float64(cfg.HTTP.ExchangeRPS), cfg.HTTP.ExchangeBurst)
	// Prometheus metrics endpoint
	mux.Handle("GET /metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      middleware.Metrics(mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Start server --------------------------------------------------------
	log.Info("http server listening", "addr", srv.Addr)
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	log.Info("server stopped cleanly")
	return nil
}
