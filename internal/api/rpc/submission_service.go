// Package rpc provides the Connect service surface of the forms engine.
package rpc

import (
	"context"
	"errors"
	"net/http"
	"time"

	"connectrpc.com/connect"

	"github.com/spherical-ai/forms-engine/internal/observability"
	"github.com/spherical-ai/forms-engine/internal/storage"
)

// SubmissionServiceGetSubmissionProcedure is the Connect procedure path for
// SubmissionService.GetSubmission.
const SubmissionServiceGetSubmissionProcedure = "/forms.v1.SubmissionService/GetSubmission"

// SubmissionService implements the Connect submission lookup service.
type SubmissionService struct {
	logger *observability.Logger
	repos  *storage.Repositories
}

// NewSubmissionService creates a new submission service.
func NewSubmissionService(logger *observability.Logger, repos *storage.Repositories) *SubmissionService {
	return &SubmissionService{
		logger: logger,
		repos:  repos,
	}
}

// GetSubmissionRequest is the Connect request message.
type GetSubmissionRequest struct {
	SubmissionID int64 `json:"submission_id"`
}

// GetSubmissionResponse is the Connect response message.
type GetSubmissionResponse struct {
	Submission *Submission `json:"submission"`
	Patient    *Patient    `json:"patient,omitempty"`
}

// Submission is a stored form submission in Connect messages.
type Submission struct {
	ID        int64  `json:"id"`
	PatientID int64  `json:"patient_id"`
	FormJSON  string `json:"form_json"`
	CreatedAt string `json:"created_at"`
}

// Patient is a patient row in Connect messages.
type Patient struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	DOB  string `json:"dob,omitempty"`
}

// Handler returns the procedure path and Connect handler for mounting on an
// HTTP router.
func (s *SubmissionService) Handler() (string, http.Handler) {
	return SubmissionServiceGetSubmissionProcedure, connect.NewUnaryHandler(
		SubmissionServiceGetSubmissionProcedure,
		s.GetSubmission,
	)
}

// GetSubmission handles Connect submission lookups.
func (s *SubmissionService) GetSubmission(ctx context.Context, req *connect.Request[GetSubmissionRequest]) (*connect.Response[GetSubmissionResponse], error) {
	msg := req.Msg

	if msg.SubmissionID <= 0 {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("submission_id must be positive"))
	}

	sub, err := s.repos.Submissions.GetByID(ctx, msg.SubmissionID)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			return nil, connect.NewError(connect.CodeNotFound, errors.New("submission not found"))
		case errors.Is(err, storage.ErrStorageUnavailable):
			return nil, connect.NewError(connect.CodeUnavailable, err)
		default:
			s.logger.Error().Err(err).Int64("submission_id", msg.SubmissionID).Msg("Submission lookup failed")
			return nil, connect.NewError(connect.CodeInternal, err)
		}
	}

	resp := &GetSubmissionResponse{
		Submission: &Submission{
			ID:        sub.ID,
			PatientID: sub.PatientID,
			FormJSON:  sub.FormJSON,
			CreatedAt: sub.CreatedAt.Format(time.RFC3339),
		},
	}

	patient, err := s.repos.Patients.GetByID(ctx, sub.PatientID)
	if err != nil {
		// The submission row is still useful without its patient.
		s.logger.Warn().Err(err).Int64("patient_id", sub.PatientID).Msg("Patient lookup failed")
	} else {
		resp.Patient = &Patient{
			ID:   patient.ID,
			Name: patient.Name,
			DOB:  patient.DOB,
		}
	}

	return connect.NewResponse(resp), nil
}
