// Command sd-server starts the SignalDesk account service over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/cors"

	"github.com/signaldesk/backend/internal/migrate"
	"github.com/signaldesk/backend/internal/repository"
	"github.com/signaldesk/backend/internal/repository/bunt"
	"github.com/signaldesk/backend/internal/repository/postgres"
	"github.com/signaldesk/backend/internal/server/httpapi"
	"github.com/signaldesk/backend/internal/store"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// main parses configuration, opens the record repository, and starts the
// HTTP server with graceful shutdown.
func main() {
	// Flags
	addr := flag.String("addr", ":8080", "listen address")
	db := flag.String("db", "", "record backend: postgres or bunt (default: postgres when -dsn is set, bunt otherwise)")
	dsn := flag.String("dsn", "", "PostgreSQL DSN (postgres backend)")
	buntPath := flag.String("bunt-path", "signaldesk.db", "database file (bunt backend)")
	jwtKey := flag.String("jwt-key", "", "HS256 signing key (required)")
	accessTTL := flag.Duration("access-ttl", 12*time.Hour, "access token TTL")
	corsOrigin := flag.String("cors-origin", "*", "allowed CORS origin")
	flag.Parse()

	backend := *db
	if backend == "" {
		if *dsn != "" {
			backend = "postgres"
		} else {
			backend = "bunt"
		}
	}

	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", *addr),
		zap.String("db", backend),
	)

	if *jwtKey == "" {
		logger.Fatal("missing jwt signing key (--jwt-key)")
	}

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Record repository
	var repo repository.RecordRepository
	switch backend {
	case "postgres":
		if *dsn == "" {
			logger.Fatal("postgres backend requires -dsn")
		}
		if err := migrate.Up(ctx, *dsn); err != nil {
			logger.Fatal("migrate up", zap.Error(err))
		}
		pool, err := pgxpool.New(ctx, *dsn)
		if err != nil {
			logger.Fatal("pgxpool.New", zap.Error(err))
		}
		defer pool.Close()
		repo = postgres.NewRecordRepo(&postgres.DB{Pool: pool})
	case "bunt":
		b, err := bunt.Open(*buntPath)
		if err != nil {
			logger.Fatal("bunt.Open", zap.Error(err))
		}
		defer b.Close()
		repo = b
	default:
		logger.Fatal("unknown record backend", zap.String("db", backend))
	}

	accounts := store.New(ctx, repo, logger)

	// HTTP server with middleware
	api := httpapi.New(accounts, logger, []byte(*jwtKey), *accessTTL)
	c := cors.New(cors.Options{
		AllowedOrigins: []string{*corsOrigin},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	})
	handler := httpapi.Recover(logger)(httpapi.Logging(logger)(c.Handler(api.Routes())))

	srv := &http.Server{
		Addr:              *addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", *addr))
		errCh <- srv.ListenAndServe()
	}()

	// Wait for stop
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			_ = srv.Close()
		}
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}

	logger.Info("shutdown complete")
}
