// Package pipeline orchestrates document processing end to end: rasterize
// the source into page images, extract text, parse it into a record, and
// persist the record transactionally.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/spherical-ai/forms-engine/internal/cache"
	"github.com/spherical-ai/forms-engine/internal/extract"
	"github.com/spherical-ai/forms-engine/internal/observability"
	"github.com/spherical-ai/forms-engine/internal/parse"
	"github.com/spherical-ai/forms-engine/internal/rasterize"
	"github.com/spherical-ai/forms-engine/internal/storage"
)

// Status represents the terminal outcome of a pipeline run.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Stage represents the states a document passes through. Result.Stage holds
// the furthest state a run reached; a failed run stopped before reaching
// the next one.
type Stage string

const (
	StageReceived   Stage = "received"
	StageRasterized Stage = "rasterized"
	StageExtracted  Stage = "extracted"
	StageParsed     Stage = "parsed"
	StagePersisted  Stage = "persisted"
)

// StageError wraps a failure with the stage the run could not complete.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Result represents the outcome of processing one document. On failure the
// fields populated by completed stages remain set; in particular a record
// parsed before a persistence failure is returned so the caller can retry
// without re-running OCR.
type Result struct {
	RunID          uuid.UUID     `json:"run_id"`
	SourcePath     string        `json:"source_path"`
	SourceHash     string        `json:"source_hash,omitempty"`
	Status         Status        `json:"status"`
	Stage          Stage         `json:"stage"`
	Error          string        `json:"error,omitempty"`
	PageCount      int           `json:"page_count,omitempty"`
	Confidence     float64       `json:"confidence,omitempty"`
	HasConfidence  bool          `json:"has_confidence,omitempty"`
	CacheHit       bool          `json:"cache_hit,omitempty"`
	Record         *parse.Record `json:"record,omitempty"`
	PatientID      int64         `json:"patient_id,omitempty"`
	SubmissionID   int64         `json:"submission_id,omitempty"`
	PatientCreated bool          `json:"patient_created,omitempty"`
	StartedAt      time.Time     `json:"started_at"`
	Duration       time.Duration `json:"duration"`
}

// Options holds pipeline configuration.
type Options struct {
	Rasterize rasterize.Options
	CacheTTL  time.Duration
}

// Pipeline processes documents. It is safe for concurrent use: every run
// builds its own converter, and the shared extractor, parser and store are
// themselves concurrency safe.
type Pipeline struct {
	logger    *observability.Logger
	extractor *extract.Service
	parser    *parse.Parser
	store     *storage.Store
	cache     cache.Client
	opts      Options
}

// New creates a pipeline. cache may be nil to disable the parsed-record
// cache.
func New(
	logger *observability.Logger,
	extractor *extract.Service,
	parser *parse.Parser,
	store *storage.Store,
	cacheClient cache.Client,
	opts Options,
) *Pipeline {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 30 * time.Minute
	}
	return &Pipeline{
		logger:    logger,
		extractor: extractor,
		parser:    parser,
		store:     store,
		cache:     cacheClient,
		opts:      opts,
	}
}

// Process runs the full pipeline on one document and persists the record.
// The result is returned even when err is non-nil so callers can inspect
// how far the run got.
func (p *Pipeline) Process(ctx context.Context, path, mediaType string) (*Result, error) {
	return p.run(ctx, path, mediaType, true)
}

// ProcessNoPersist runs the pipeline through parsing only, leaving storage
// untouched. Dry runs and previews use it.
func (p *Pipeline) ProcessNoPersist(ctx context.Context, path, mediaType string) (*Result, error) {
	return p.run(ctx, path, mediaType, false)
}

func (p *Pipeline) run(ctx context.Context, path, mediaType string, persist bool) (*Result, error) {
	res := &Result{
		RunID:      uuid.New(),
		SourcePath: path,
		Status:     StatusFailed,
		Stage:      StageReceived,
		StartedAt:  time.Now(),
	}
	logger := p.logger.WithRun(res.RunID.String())

	logger.Info().
		Str("path", path).
		Str("media_type", mediaType).
		Bool("persist", persist).
		Msg("Processing document")

	hash, err := hashFile(path)
	if err != nil {
		return p.fail(logger, res, StageRasterized, err)
	}
	res.SourceHash = hash

	rec := p.cachedRecord(ctx, logger, hash)
	if rec != nil {
		res.CacheHit = true
		res.Record = rec
		res.Stage = StageParsed
	} else {
		if err := p.extractAndParse(ctx, logger, res, path, mediaType); err != nil {
			return res, err
		}
		p.storeInCache(ctx, logger, hash, res.Record)
	}

	if !persist {
		res.Status = StatusSucceeded
		res.Duration = time.Since(res.StartedAt)
		logger.Info().
			Str("stage", string(res.Stage)).
			Dur("duration", res.Duration).
			Msg("Document parsed without persistence")
		return res, nil
	}

	pres, err := p.store.Persist(ctx, res.Record)
	if err != nil {
		return p.fail(logger, res, StagePersisted, err)
	}
	res.Stage = StagePersisted
	res.PatientID = pres.PatientID
	res.SubmissionID = pres.SubmissionID
	res.PatientCreated = pres.PatientCreated

	res.Status = StatusSucceeded
	res.Duration = time.Since(res.StartedAt)

	logger.Info().
		Int64("patient_id", res.PatientID).
		Int64("submission_id", res.SubmissionID).
		Bool("patient_created", res.PatientCreated).
		Bool("cache_hit", res.CacheHit).
		Int("pages", res.PageCount).
		Dur("duration", res.Duration).
		Msg("Document persisted")

	return res, nil
}

// extractAndParse covers the rasterize, extract and parse stages. Page
// images are temporary files owned by the converter and cleaned up on
// every exit path.
func (p *Pipeline) extractAndParse(ctx context.Context, logger *observability.Logger, res *Result, path, mediaType string) error {
	converter := rasterize.NewConverter(p.opts.Rasterize)
	defer converter.Cleanup()

	pages, err := converter.Convert(ctx, path, mediaType)
	if err != nil {
		_, ferr := p.fail(logger, res, StageRasterized, err)
		return ferr
	}
	res.Stage = StageRasterized
	res.PageCount = len(pages)

	logger.Debug().
		Str("stage", string(StageRasterized)).
		Int("pages", len(pages)).
		Msg("Document rasterized")

	doc, err := p.extractor.ExtractDocument(ctx, pages)
	if err != nil {
		_, ferr := p.fail(logger, res, StageExtracted, err)
		return ferr
	}
	res.Stage = StageExtracted
	res.Confidence = doc.Confidence
	res.HasConfidence = doc.HasConfidence

	rec, err := p.parser.Parse(doc.Text)
	if err != nil {
		_, ferr := p.fail(logger, res, StageParsed, err)
		return ferr
	}
	res.Stage = StageParsed
	res.Record = rec

	logger.Debug().
		Str("stage", string(StageParsed)).
		Str("patient", rec.Name).
		Int("fields", rec.Fields.Len()).
		Msg("Document parsed")

	return nil
}

// RetryPersist persists a previously parsed record without re-running the
// rasterization and OCR stages.
func (p *Pipeline) RetryPersist(ctx context.Context, rec *parse.Record) (*Result, error) {
	res := &Result{
		RunID:     uuid.New(),
		Status:    StatusFailed,
		Stage:     StageParsed,
		Record:    rec,
		StartedAt: time.Now(),
	}
	logger := p.logger.WithRun(res.RunID.String())

	pres, err := p.store.Persist(ctx, rec)
	if err != nil {
		return p.fail(logger, res, StagePersisted, err)
	}

	res.Status = StatusSucceeded
	res.Stage = StagePersisted
	res.PatientID = pres.PatientID
	res.SubmissionID = pres.SubmissionID
	res.PatientCreated = pres.PatientCreated
	res.Duration = time.Since(res.StartedAt)

	logger.Info().
		Int64("patient_id", res.PatientID).
		Int64("submission_id", res.SubmissionID).
		Msg("Parsed record persisted on retry")

	return res, nil
}

// cachedRecord returns the cached parsed record for a source hash, or nil.
// Cache failures never fail the run.
func (p *Pipeline) cachedRecord(ctx context.Context, logger *observability.Logger, hash string) *parse.Record {
	if p.cache == nil {
		return nil
	}

	data, err := p.cache.Get(ctx, cache.RecordKey(hash))
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			logger.Warn().Err(err).Msg("Record cache lookup failed")
		}
		return nil
	}

	rec := parse.NewRecord()
	if err := json.Unmarshal(data, rec); err != nil {
		logger.Warn().Err(err).Msg("Discarding undecodable cached record")
		_ = p.cache.Delete(ctx, cache.RecordKey(hash))
		return nil
	}

	logger.Debug().Str("source_hash", hash).Msg("Parsed record served from cache")
	return rec
}

func (p *Pipeline) storeInCache(ctx context.Context, logger *observability.Logger, hash string, rec *parse.Record) {
	if p.cache == nil || rec == nil {
		return
	}

	data, err := json.Marshal(rec)
	if err != nil {
		logger.Warn().Err(err).Msg("Encoding record for cache failed")
		return
	}
	if err := p.cache.Set(ctx, cache.RecordKey(hash), data, p.opts.CacheTTL); err != nil {
		logger.Warn().Err(err).Msg("Record cache store failed")
	}
}

func (p *Pipeline) fail(logger *observability.Logger, res *Result, stage Stage, err error) (*Result, error) {
	stageErr := &StageError{Stage: stage, Err: err}
	res.Status = StatusFailed
	res.Error = stageErr.Error()
	res.Duration = time.Since(res.StartedAt)

	logger.Error().
		Err(err).
		Str("failed_stage", string(stage)).
		Str("reached_stage", string(res.Stage)).
		Dur("duration", res.Duration).
		Msg("Document processing failed")

	return res, stageErr
}

// hashFile computes the hex SHA-256 of a file's content. The hash keys the
// parsed-record cache and identifies the document in logs.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open source file: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash source file: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
