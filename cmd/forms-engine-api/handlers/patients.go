package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"

	"github.com/spherical-ai/forms-engine/internal/observability"
	"github.com/spherical-ai/forms-engine/internal/storage"
)

// PatientsHandler handles patient lookups.
type PatientsHandler struct {
	logger *observability.Logger
	repos  *storage.Repositories
}

// NewPatientsHandler creates a new patients handler.
func NewPatientsHandler(logger *observability.Logger, repos *storage.Repositories) *PatientsHandler {
	return &PatientsHandler{
		logger: logger,
		repos:  repos,
	}
}

// PatientDTO represents a patient row.
type PatientDTO struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	DOB  string `json:"dob,omitempty"`
}

// PatientSubmissionsDTO represents a patient with their submissions.
type PatientSubmissionsDTO struct {
	Patient     PatientDTO      `json:"patient"`
	Submissions []SubmissionDTO `json:"submissions"`
}

// List handles GET /api/v1/patients.
func (h *PatientsHandler) List(w http.ResponseWriter, r *http.Request) {
	patients, err := h.repos.Patients.List(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "patient list failed", err.Error())
		return
	}

	dtos := lo.Map(patients, func(p *storage.Patient, _ int) PatientDTO {
		return toPatientDTO(p)
	})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"patients": dtos})
}

// Get handles GET /api/v1/patients/{patientId}.
func (h *PatientsHandler) Get(w http.ResponseWriter, r *http.Request) {
	patient, ok := h.lookupPatient(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toPatientDTO(patient))
}

// ListSubmissions handles GET /api/v1/patients/{patientId}/submissions.
func (h *PatientsHandler) ListSubmissions(w http.ResponseWriter, r *http.Request) {
	patient, ok := h.lookupPatient(w, r)
	if !ok {
		return
	}

	subs, err := h.repos.Submissions.ListByPatient(r.Context(), patient.ID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "submission list failed", err.Error())
		return
	}

	dto := PatientSubmissionsDTO{
		Patient: toPatientDTO(patient),
		Submissions: lo.Map(subs, func(s *storage.FormSubmission, _ int) SubmissionDTO {
			return SubmissionDTO{
				ID:        s.ID,
				PatientID: s.PatientID,
				Form:      json.RawMessage(s.FormJSON),
				CreatedAt: s.CreatedAt.Format(time.RFC3339),
			}
		}),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(dto)
}

// lookupPatient parses the path id and loads the patient, writing the error
// response itself when the lookup fails.
func (h *PatientsHandler) lookupPatient(w http.ResponseWriter, r *http.Request) (*storage.Patient, bool) {
	idStr := chi.URLParam(r, "patientId")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid patient id", err.Error())
		return nil, false
	}

	patient, err := h.repos.Patients.GetByID(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			h.writeError(w, http.StatusNotFound, "patient not found", "")
		case errors.Is(err, storage.ErrStorageUnavailable):
			h.writeError(w, http.StatusServiceUnavailable, "storage unavailable", err.Error())
		default:
			h.writeError(w, http.StatusInternalServerError, "patient lookup failed", err.Error())
		}
		return nil, false
	}

	return patient, true
}

func toPatientDTO(p *storage.Patient) PatientDTO {
	return PatientDTO{
		ID:   p.ID,
		Name: p.Name,
		DOB:  p.DOB,
	}
}

func (h *PatientsHandler) writeError(w http.ResponseWriter, status int, message, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := map[string]string{
		"error": message,
	}
	if detail != "" {
		resp["detail"] = detail
	}
	json.NewEncoder(w).Encode(resp)
}
