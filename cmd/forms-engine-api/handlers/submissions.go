// Package handlers provides HTTP handlers for the forms engine API.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"

	"github.com/spherical-ai/forms-engine/internal/extract"
	"github.com/spherical-ai/forms-engine/internal/observability"
	"github.com/spherical-ai/forms-engine/internal/parse"
	"github.com/spherical-ai/forms-engine/internal/pipeline"
	"github.com/spherical-ai/forms-engine/internal/rasterize"
	"github.com/spherical-ai/forms-engine/internal/storage"
)

var validate = validator.New()

// SubmissionsHandler handles form document uploads and submission lookups.
type SubmissionsHandler struct {
	logger      *observability.Logger
	pipeline    *pipeline.Pipeline
	repos       *storage.Repositories
	maxUploadMB int
}

// NewSubmissionsHandler creates a new submissions handler.
func NewSubmissionsHandler(logger *observability.Logger, pipe *pipeline.Pipeline, repos *storage.Repositories, maxUploadMB int) *SubmissionsHandler {
	return &SubmissionsHandler{
		logger:      logger,
		pipeline:    pipe,
		repos:       repos,
		maxUploadMB: maxUploadMB,
	}
}

// UploadOptionsDTO carries the non-file fields of a multipart upload.
type UploadOptionsDTO struct {
	MediaType string `json:"mediaType" validate:"omitempty,oneof=application/pdf image/png image/jpeg image/tiff"`
	NoPersist bool   `json:"noPersist"`
}

// Validate validates the upload options.
func (d *UploadOptionsDTO) Validate() error {
	return validate.Struct(d)
}

// SubmissionResultDTO represents the API response for a processed document.
type SubmissionResultDTO struct {
	RunID          string          `json:"runId"`
	Status         string          `json:"status"`
	Stage          string          `json:"stage"`
	PatientID      int64           `json:"patientId,omitempty"`
	SubmissionID   int64           `json:"submissionId,omitempty"`
	PatientCreated bool            `json:"patientCreated,omitempty"`
	Pages          int             `json:"pages"`
	Confidence     *float64        `json:"confidence,omitempty"`
	CacheHit       bool            `json:"cacheHit,omitempty"`
	DurationMs     int64           `json:"durationMs"`
	Record         json.RawMessage `json:"record,omitempty"`
}

// SubmissionDTO represents a stored form submission.
type SubmissionDTO struct {
	ID        int64           `json:"id"`
	PatientID int64           `json:"patientId"`
	Form      json.RawMessage `json:"form"`
	CreatedAt string          `json:"createdAt"`
}

// Create handles POST /api/v1/submissions.
func (h *SubmissionsHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, int64(h.maxUploadMB)<<20)
	if err := r.ParseMultipartForm(16 << 20); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid multipart body", "", err.Error())
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "file field is required", "", err.Error())
		return
	}
	defer file.Close()

	opts := UploadOptionsDTO{
		MediaType: r.FormValue("media_type"),
		NoPersist: r.FormValue("no_persist") == "true",
	}
	if err := opts.Validate(); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid upload options", "", err.Error())
		return
	}

	// Spool the upload to a temp file the pipeline can read. The original
	// extension is kept so media type detection can fall back to it.
	tmp, err := os.CreateTemp("", "upload-*"+filepath.Ext(header.Filename))
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "upload spool failed", "", err.Error())
		return
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := io.Copy(tmp, file); err != nil {
		tmp.Close()
		h.writeError(w, http.StatusBadRequest, "upload read failed", "", err.Error())
		return
	}
	if err := tmp.Close(); err != nil {
		h.writeError(w, http.StatusInternalServerError, "upload spool failed", "", err.Error())
		return
	}

	h.logger.Info().
		Str("filename", header.Filename).
		Int64("bytes", header.Size).
		Str("media_type", opts.MediaType).
		Bool("no_persist", opts.NoPersist).
		Msg("Processing uploaded document")

	var res *pipeline.Result
	if opts.NoPersist {
		res, err = h.pipeline.ProcessNoPersist(ctx, tmpPath, opts.MediaType)
	} else {
		res, err = h.pipeline.Process(ctx, tmpPath, opts.MediaType)
	}
	if err != nil {
		status := statusForPipelineError(err)
		h.writeError(w, status, "document processing failed", failedStage(err), err.Error())
		return
	}

	dto := h.toResultDTO(res)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(dto)
}

// Get handles GET /api/v1/submissions/{submissionId}.
func (h *SubmissionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "submissionId")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid submission id", "", err.Error())
		return
	}

	sub, err := h.repos.Submissions.GetByID(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			h.writeError(w, http.StatusNotFound, "submission not found", "", "")
		case errors.Is(err, storage.ErrStorageUnavailable):
			h.writeError(w, http.StatusServiceUnavailable, "storage unavailable", "", err.Error())
		default:
			h.writeError(w, http.StatusInternalServerError, "submission lookup failed", "", err.Error())
		}
		return
	}

	dto := SubmissionDTO{
		ID:        sub.ID,
		PatientID: sub.PatientID,
		Form:      json.RawMessage(sub.FormJSON),
		CreatedAt: sub.CreatedAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(dto)
}

func (h *SubmissionsHandler) toResultDTO(res *pipeline.Result) SubmissionResultDTO {
	dto := SubmissionResultDTO{
		RunID:          res.RunID.String(),
		Status:         string(res.Status),
		Stage:          string(res.Stage),
		PatientID:      res.PatientID,
		SubmissionID:   res.SubmissionID,
		PatientCreated: res.PatientCreated,
		Pages:          res.PageCount,
		CacheHit:       res.CacheHit,
		DurationMs:     res.Duration.Milliseconds(),
	}
	if res.HasConfidence {
		dto.Confidence = lo.ToPtr(res.Confidence)
	}
	if res.Record != nil {
		if raw, err := json.Marshal(res.Record); err == nil {
			dto.Record = raw
		}
	}
	return dto
}

// statusForPipelineError maps the error taxonomy onto HTTP status codes.
func statusForPipelineError(err error) int {
	switch {
	case errors.Is(err, parse.ErrMissingRequiredField):
		return http.StatusUnprocessableEntity
	case errors.Is(err, rasterize.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, rasterize.ErrCorruptInput):
		return http.StatusBadRequest
	case errors.Is(err, extract.ErrExtractionTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, extract.ErrEngineUnavailable),
		errors.Is(err, storage.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, storage.ErrDuplicateAmbiguity):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// failedStage names the pipeline stage that did not complete, if known.
func failedStage(err error) string {
	var stageErr *pipeline.StageError
	if errors.As(err, &stageErr) {
		return string(stageErr.Stage)
	}
	return ""
}

func (h *SubmissionsHandler) writeError(w http.ResponseWriter, status int, message, stage, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := map[string]string{
		"error": message,
	}
	if stage != "" {
		resp["stage"] = stage
	}
	if detail != "" {
		resp["detail"] = detail
	}
	json.NewEncoder(w).Encode(resp)
}
