// Package main provides the forms engine API server entrypoint.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/spherical-ai/forms-engine/internal/cache"
	"github.com/spherical-ai/forms-engine/internal/config"
	"github.com/spherical-ai/forms-engine/internal/observability"
	"github.com/spherical-ai/forms-engine/internal/storage"
)

func main() {
	// Load .env if present; real environment wins.
	_ = godotenv.Load()

	cfgPath := os.Getenv("CONFIG_PATH")
	if len(os.Args) > 2 && os.Args[1] == "--config" {
		cfgPath = os.Args[2]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: "forms-engine",
	})

	logger.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Str("database", cfg.Database.Driver).
		Str("cache", cfg.Cache.Driver).
		Msg("Starting forms engine API")

	ctx := context.Background()

	db, err := storage.Open(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("Database connection failed")
		os.Exit(1)
	}
	defer db.Close()

	migrationsDir, err := storage.ResolveMigrationsDir(cfg.Database.MigrationsDir)
	if err != nil {
		logger.Error().Err(err).Msg("Migrations directory not found")
		os.Exit(1)
	}

	status, err := storage.NewMigrationManager(db, migrationsDir, cfg.Database.Driver).Migrate(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("Migration failed")
		os.Exit(1)
	}
	logger.Info().
		Str("current", status.Current).
		Int("total", status.Total).
		Msg("Database schema up to date")

	cacheClient, err := cache.New(cfg.Cache)
	if err != nil {
		logger.Error().Err(err).Msg("Cache connection failed")
		os.Exit(1)
	}
	defer cacheClient.Close()

	router := NewRouter(logger, cfg, db, cacheClient)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("HTTP server listening")
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error().Err(err).Msg("Server error")
	case sig := <-shutdown:
		logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Graceful shutdown failed")
		if err := srv.Close(); err != nil {
			logger.Error().Err(err).Msg("Forced shutdown failed")
		}
	}

	logger.Info().Msg("Server stopped")
}
