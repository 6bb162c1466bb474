package storage

import (
	"context"
	"database/sql"
	"errors"
)

// DB represents a database connection interface. Both *sql.DB and *sql.Tx
// satisfy it, so repositories run inside or outside a transaction.
type DB interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// PatientRepository handles patient identity rows.
type PatientRepository struct {
	db              DB
	caseInsensitive bool
}

// NewPatientRepository creates a new patient repository. caseInsensitive
// widens natural key matching to ignore the casing of the name.
func NewPatientRepository(db DB, caseInsensitive bool) *PatientRepository {
	return &PatientRepository{db: db, caseInsensitive: caseInsensitive}
}

// FindByNaturalKey looks up a patient by (name, dob). It returns
// ErrNotFound when no row matches and ErrDuplicateAmbiguity when more
// than one does.
func (r *PatientRepository) FindByNaturalKey(ctx context.Context, name, dob string) (*Patient, error) {
	query := `
		SELECT id, name, dob FROM patients
		WHERE name = $1 AND dob = $2
		ORDER BY id
		LIMIT 2
	`
	if r.caseInsensitive {
		query = `
			SELECT id, name, dob FROM patients
			WHERE LOWER(name) = LOWER($1) AND dob = $2
			ORDER BY id
			LIMIT 2
		`
	}
	return r.findOne(ctx, query, name, dob)
}

// FindByName looks up a patient by name alone. Submissions whose dob never
// resolved degrade to this lookup. Ambiguity semantics match
// FindByNaturalKey.
func (r *PatientRepository) FindByName(ctx context.Context, name string) (*Patient, error) {
	query := `
		SELECT id, name, dob FROM patients
		WHERE name = $1
		ORDER BY id
		LIMIT 2
	`
	if r.caseInsensitive {
		query = `
			SELECT id, name, dob FROM patients
			WHERE LOWER(name) = LOWER($1)
			ORDER BY id
			LIMIT 2
		`
	}
	return r.findOne(ctx, query, name)
}

func (r *PatientRepository) findOne(ctx context.Context, query string, args ...interface{}) (*Patient, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classifyError(err)
	}
	defer rows.Close()

	var matches []*Patient
	for rows.Next() {
		patient := &Patient{}
		if err := rows.Scan(&patient.ID, &patient.Name, &patient.DOB); err != nil {
			return nil, classifyError(err)
		}
		matches = append(matches, patient)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyError(err)
	}

	switch len(matches) {
	case 0:
		return nil, ErrNotFound
	case 1:
		return matches[0], nil
	default:
		return nil, ErrDuplicateAmbiguity
	}
}

// InsertOrGet inserts a patient row, deferring to the unique natural key
// constraint: when a concurrent transaction already inserted the same key
// the existing row's id is loaded instead of failing. The boolean reports
// whether this call created the row.
func (r *PatientRepository) InsertOrGet(ctx context.Context, patient *Patient) (bool, error) {
	query := `
		INSERT INTO patients (name, dob)
		VALUES ($1, $2)
		ON CONFLICT (name, dob) DO NOTHING
		RETURNING id
	`
	err := r.db.QueryRowContext(ctx, query, patient.Name, patient.DOB).Scan(&patient.ID)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, classifyError(err)
	}

	// Lost the insert race; the winner holds the byte-identical key.
	existing, err := r.getByExactKey(ctx, patient.Name, patient.DOB)
	if err != nil {
		return false, err
	}
	patient.ID = existing.ID
	return false, nil
}

// getByExactKey fetches by byte-exact key regardless of the matching mode.
func (r *PatientRepository) getByExactKey(ctx context.Context, name, dob string) (*Patient, error) {
	query := `
		SELECT id, name, dob FROM patients
		WHERE name = $1 AND dob = $2
		ORDER BY id
		LIMIT 2
	`
	return r.findOne(ctx, query, name, dob)
}

// GetByID retrieves a patient by ID.
func (r *PatientRepository) GetByID(ctx context.Context, id int64) (*Patient, error) {
	query := `
		SELECT id, name, dob FROM patients WHERE id = $1
	`
	patient := &Patient{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(&patient.ID, &patient.Name, &patient.DOB)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return patient, classifyError(err)
}

// List lists all patients ordered by ID.
func (r *PatientRepository) List(ctx context.Context) ([]*Patient, error) {
	query := `
		SELECT id, name, dob FROM patients ORDER BY id
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, classifyError(err)
	}
	defer rows.Close()

	var patients []*Patient
	for rows.Next() {
		patient := &Patient{}
		if err := rows.Scan(&patient.ID, &patient.Name, &patient.DOB); err != nil {
			return nil, classifyError(err)
		}
		patients = append(patients, patient)
	}
	return patients, classifyError(rows.Err())
}

// SubmissionRepository handles persisted form submissions.
type SubmissionRepository struct {
	db DB
}

// NewSubmissionRepository creates a new submission repository.
func NewSubmissionRepository(db DB) *SubmissionRepository {
	return &SubmissionRepository{db: db}
}

// Insert stores a submission and fills its id and created_at.
func (r *SubmissionRepository) Insert(ctx context.Context, sub *FormSubmission) error {
	query := `
		INSERT INTO forms_data (patient_id, form_json)
		VALUES ($1, $2)
		RETURNING id, created_at
	`
	err := r.db.QueryRowContext(ctx, query, sub.PatientID, sub.FormJSON).
		Scan(&sub.ID, &sub.CreatedAt)
	return classifyError(err)
}

// GetByID retrieves a submission by ID.
func (r *SubmissionRepository) GetByID(ctx context.Context, id int64) (*FormSubmission, error) {
	query := `
		SELECT id, patient_id, form_json, created_at
		FROM forms_data WHERE id = $1
	`
	sub := &FormSubmission{}
	err := r.db.QueryRowContext(ctx, query, id).
		Scan(&sub.ID, &sub.PatientID, &sub.FormJSON, &sub.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return sub, classifyError(err)
}

// ListByPatient lists all submissions for a patient in insertion order.
func (r *SubmissionRepository) ListByPatient(ctx context.Context, patientID int64) ([]*FormSubmission, error) {
	query := `
		SELECT id, patient_id, form_json, created_at
		FROM forms_data
		WHERE patient_id = $1
		ORDER BY created_at, id
	`
	rows, err := r.db.QueryContext(ctx, query, patientID)
	if err != nil {
		return nil, classifyError(err)
	}
	defer rows.Close()

	var subs []*FormSubmission
	for rows.Next() {
		sub := &FormSubmission{}
		if err := rows.Scan(&sub.ID, &sub.PatientID, &sub.FormJSON, &sub.CreatedAt); err != nil {
			return nil, classifyError(err)
		}
		subs = append(subs, sub)
	}
	return subs, classifyError(rows.Err())
}

// Repositories bundles all repositories together.
type Repositories struct {
	Patients    *PatientRepository
	Submissions *SubmissionRepository
}

// NewRepositories creates all repositories with the given database connection.
func NewRepositories(db DB, caseInsensitiveNames bool) *Repositories {
	return &Repositories{
		Patients:    NewPatientRepository(db, caseInsensitiveNames),
		Submissions: NewSubmissionRepository(db),
	}
}
