package commands

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/spherical-ai/forms-engine/internal/cache"
	"github.com/spherical-ai/forms-engine/internal/config"
	"github.com/spherical-ai/forms-engine/internal/extract"
	"github.com/spherical-ai/forms-engine/internal/observability"
	"github.com/spherical-ai/forms-engine/internal/parse"
	"github.com/spherical-ai/forms-engine/internal/pipeline"
	"github.com/spherical-ai/forms-engine/internal/rasterize"
	"github.com/spherical-ai/forms-engine/internal/storage"
)

// loadConfig loads configuration from the --config flag or CONFIG_PATH.
func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// newLogger builds the CLI logger. The CLI keeps structured logging quiet so
// UI output stays readable; --verbose restores debug logs.
func newLogger() *observability.Logger {
	level := "warn"
	if verbose {
		level = "debug"
	}
	return observability.NewLogger(observability.LogConfig{
		Level:       level,
		Format:      "console",
		ServiceName: "forms-engine-cli",
	})
}

// openDatabase opens the configured database connection.
func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := storage.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

// ensureSchema applies pending migrations, matching the API server's startup
// behavior so documents can be processed against a fresh database file.
func ensureSchema(ctx context.Context, db *sql.DB, cfg *config.Config) error {
	dir, err := storage.ResolveMigrationsDir(cfg.Database.MigrationsDir)
	if err != nil {
		return err
	}
	if _, err := storage.NewMigrationManager(db, dir, cfg.Database.Driver).Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// buildPipeline assembles a document pipeline from configuration. The caller
// owns the returned cache client and must close it.
func buildPipeline(cfg *config.Config, logger *observability.Logger, db *sql.DB, onPage func(completed, total int)) (*pipeline.Pipeline, cache.Client, error) {
	cacheClient, err := cache.New(cfg.Cache)
	if err != nil {
		return nil, nil, fmt.Errorf("open cache: %w", err)
	}

	store := storage.NewStore(db, storage.StoreOptions{
		CaseInsensitiveNames: cfg.Database.CaseInsensitiveNames,
	})
	extractor := extract.NewService(extract.NewTesseractEngine(), logger, extract.ServiceOptions{
		Languages:      cfg.OCR.Languages,
		DPI:            cfg.OCR.DPI,
		Timeout:        cfg.OCR.Timeout,
		TimeoutRetries: cfg.OCR.TimeoutRetries,
		Workers:        cfg.OCR.Workers,
		Enhance:        cfg.OCR.Enhance,
		MinPageWidth:   cfg.OCR.MinPageWidth,
		OnPage:         onPage,
	})
	parser := parse.NewParser(parse.ParserConfig{DateLayouts: cfg.Parser.DateLayouts})

	pipe := pipeline.New(logger, extractor, parser, store, cacheClient, pipeline.Options{
		Rasterize: rasterize.Options{
			Quality:  cfg.Rasterize.Quality,
			MaxPages: cfg.Rasterize.MaxPages,
		},
		CacheTTL: cfg.Cache.TTL,
	})

	return pipe, cacheClient, nil
}

// truncate shortens a string for table cells.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
