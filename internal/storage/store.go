package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spherical-ai/forms-engine/internal/parse"
)

// StoreOptions configures persistence behavior.
type StoreOptions struct {
	// CaseInsensitiveNames widens patient matching to ignore name casing.
	// The uniqueness guard on inserts stays byte-exact either way.
	CaseInsensitiveNames bool
}

// Store persists parsed records. Each Persist runs in a single transaction:
// the patient is resolved or created against the (name, dob) natural key,
// then the submission row is inserted. A failure at any point rolls the
// whole transaction back, so a submission row never exists without its
// patient row.
type Store struct {
	db   *sql.DB
	opts StoreOptions
}

// NewStore creates a store on an open database handle.
func NewStore(db *sql.DB, opts StoreOptions) *Store {
	return &Store{db: db, opts: opts}
}

// DB exposes the underlying handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Repositories returns repositories bound to the store's database handle
// for read paths outside the persist transaction.
func (s *Store) Repositories() *Repositories {
	return NewRepositories(s.db, s.opts.CaseInsensitiveNames)
}

// PersistResult reports the row identities a successful persist produced.
type PersistResult struct {
	PatientID      int64     `json:"patient_id"`
	SubmissionID   int64     `json:"submission_id"`
	PatientCreated bool      `json:"patient_created"`
	CreatedAt      time.Time `json:"created_at"`
}

// Persist stores one parsed record. The record's fields are encoded once,
// in their insertion order, so identical records always produce identical
// form_json rows.
func (s *Store) Persist(ctx context.Context, rec *parse.Record) (*PersistResult, error) {
	if rec == nil || rec.Name == "" {
		return nil, fmt.Errorf("record has no patient name")
	}

	formJSON, err := json.Marshal(rec.Fields)
	if err != nil {
		return nil, fmt.Errorf("encode form fields: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classifyError(err)
	}
	defer func() { _ = tx.Rollback() }()

	repos := NewRepositories(tx, s.opts.CaseInsensitiveNames)

	patient, created, err := resolvePatient(ctx, repos.Patients, rec)
	if err != nil {
		return nil, err
	}

	sub := &FormSubmission{PatientID: patient.ID, FormJSON: string(formJSON)}
	if err := repos.Submissions.Insert(ctx, sub); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, classifyError(err)
	}

	return &PersistResult{
		PatientID:      patient.ID,
		SubmissionID:   sub.ID,
		PatientCreated: created,
		CreatedAt:      sub.CreatedAt,
	}, nil
}

// resolvePatient finds or creates the patient a record belongs to. An
// unresolved dob degrades matching to name only; a fresh insert then
// carries an empty dob so a later submission with the same name still
// matches the same patient. More than one match is surfaced as
// ErrDuplicateAmbiguity, never auto-merged.
func resolvePatient(ctx context.Context, patients *PatientRepository, rec *parse.Record) (*Patient, bool, error) {
	var (
		found *Patient
		err   error
	)
	if rec.DOB == "" {
		found, err = patients.FindByName(ctx, rec.Name)
	} else {
		found, err = patients.FindByNaturalKey(ctx, rec.Name, rec.DOB)
	}

	switch {
	case err == nil:
		return found, false, nil
	case errors.Is(err, ErrNotFound):
		patient := &Patient{Name: rec.Name, DOB: rec.DOB}
		created, err := patients.InsertOrGet(ctx, patient)
		if err != nil {
			return nil, false, err
		}
		return patient, created, nil
	default:
		return nil, false, err
	}
}
