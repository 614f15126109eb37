// Package main runs the library lending HTTP service.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	app "github.com/openshelf/library-service/internal/app"
	"github.com/openshelf/library-service/internal/app/httpapi"
	"github.com/openshelf/library-service/internal/app/metrics"
	"github.com/openshelf/library-service/internal/app/storage/postgres"
	"github.com/openshelf/library-service/internal/config"
	"github.com/openshelf/library-service/internal/logging"
	"github.com/openshelf/library-service/internal/middleware"
	"github.com/openshelf/library-service/internal/platform/migrations"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log := logging.New("library-service", cfg.Logging.Level, cfg.Logging.Format)

	stores, closeDB, err := buildStores(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("initialise storage")
	}
	if closeDB != nil {
		defer closeDB()
	}

	application, err := app.New(stores, app.Auth{
		JWTSecret: cfg.Auth.JWTSecret,
		TokenTTL:  cfg.Auth.TokenTTL,
	}, log)
	if err != nil {
		log.WithError(err).Fatal("initialise application")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.Start(ctx); err != nil {
		log.WithError(err).Fatal("start application")
	}

	handler := buildHandler(cfg, application, log)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.WithField("addr", addr).Info("server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server error")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("server shutdown")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Error("application stop")
	}
	log.Info("stopped")
}

// buildStores opens the configured backend. An empty DSN selects the
// in-memory store; app.New fills in the defaults for nil stores.
func buildStores(cfg *config.Config, log *logging.Logger) (app.Stores, func(), error) {
	if cfg.Database.DSN == "" {
		log.Warn("DATABASE_DSN not set; using in-memory store")
		return app.Stores{}, nil, nil
	}

	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return app.Stores{}, nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer pingCancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return app.Stores{}, nil, fmt.Errorf("ping database: %w", err)
	}

	migrateCtx, migrateCancel := context.WithTimeout(context.Background(), time.Minute)
	defer migrateCancel()
	if err := migrations.Apply(migrateCtx, db); err != nil {
		db.Close()
		return app.Stores{}, nil, fmt.Errorf("apply migrations: %w", err)
	}

	store := postgres.New(db)
	return app.Stores{
		Books:      store,
		Users:      store,
		Categories: store,
		Loans:      store,
		Tx:         store,
	}, func() { db.Close() }, nil
}

// buildHandler assembles the middleware chain around the REST API:
// tracing, CORS, rate limiting, authentication, then metrics.
func buildHandler(cfg *config.Config, application *app.Application, log *logging.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/", httpapi.NewHandler(application, log))

	auth := middleware.NewAuthMiddleware(cfg.Auth.JWTSecret, log, []string{
		"/health",
		"/metrics",
		"/auth/register",
		"/auth/login",
	})
	cors := middleware.NewCORSMiddleware(cfg.AllowedOrigins)
	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, log)

	// Auth runs before the limiter so authenticated callers are throttled
	// per user rather than per address.
	var handler http.Handler = mux
	handler = metrics.InstrumentHandler(handler)
	handler = limiter.Handler(handler)
	handler = auth.Handler(handler)
	handler = cors.Handler(handler)
	handler = middleware.Tracing(handler)
	return handler
}
