// Package main provides the API router setup.
package main

import (
	"database/sql"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/spherical-ai/forms-engine/cmd/forms-engine-api/handlers"
	"github.com/spherical-ai/forms-engine/cmd/forms-engine-api/middleware"
	"github.com/spherical-ai/forms-engine/internal/api/rpc"
	"github.com/spherical-ai/forms-engine/internal/cache"
	"github.com/spherical-ai/forms-engine/internal/config"
	"github.com/spherical-ai/forms-engine/internal/extract"
	"github.com/spherical-ai/forms-engine/internal/observability"
	"github.com/spherical-ai/forms-engine/internal/parse"
	"github.com/spherical-ai/forms-engine/internal/pipeline"
	"github.com/spherical-ai/forms-engine/internal/rasterize"
	"github.com/spherical-ai/forms-engine/internal/storage"
)

// NewRouter creates the main API router with all routes configured.
func NewRouter(logger *observability.Logger, cfg *config.Config, db *sql.DB, cacheClient cache.Client) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS([]string{"*"}))
	r.Use(chimiddleware.Timeout(cfg.Server.WriteTimeout))

	// Health check (no dependencies)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy","service":"forms-engine"}`))
	})

	// Readiness pings the database.
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := db.PingContext(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.Write([]byte(`{"status":"ready"}`))
	})

	// Assemble the document pipeline.
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
	})
	parser := parse.NewParser(parse.ParserConfig{DateLayouts: cfg.Parser.DateLayouts})
	pipe := pipeline.New(logger, extractor, parser, store, cacheClient, pipeline.Options{
		Rasterize: rasterize.Options{
			Quality:  cfg.Rasterize.Quality,
			MaxPages: cfg.Rasterize.MaxPages,
		},
		CacheTTL: cfg.Cache.TTL,
	})
	repos := store.Repositories()

	// Initialize handlers
	submissionsHandler := handlers.NewSubmissionsHandler(logger, pipe, repos, cfg.Server.MaxUploadMB)
	patientsHandler := handlers.NewPatientsHandler(logger, repos)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/submissions", func(r chi.Router) {
			r.Post("/", submissionsHandler.Create)
			r.Get("/{submissionId}", submissionsHandler.Get)
		})

		r.Route("/patients", func(r chi.Router) {
			r.Get("/", patientsHandler.List)
			r.Get("/{patientId}", patientsHandler.Get)
			r.Get("/{patientId}/submissions", patientsHandler.ListSubmissions)
		})
	})

	// Connect RPC surface shares the router.
	procedure, handler := rpc.NewSubmissionService(logger, repos).Handler()
	r.Handle(procedure, handler)

	return r
}
