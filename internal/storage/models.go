// Package storage provides database models, repositories and the
// transactional persistence of parsed assessment records.
package storage

import "time"

// Patient represents a unique person keyed by the (name, dob) natural key.
// DOB is an ISO-8601 date string; it is empty when no submission for this
// patient ever carried a resolvable date of birth.
type Patient struct {
	ID   int64  `json:"id" db:"id"`
	Name string `json:"name" db:"name"`
	DOB  string `json:"dob" db:"dob"`
}

// FormSubmission represents one persisted assessment form. FormJSON holds
// the canonical JSON encoding of the parsed fields with their insertion
// order preserved.
type FormSubmission struct {
	ID        int64     `json:"id" db:"id"`
	PatientID int64     `json:"patient_id" db:"patient_id"`
	FormJSON  string    `json:"form_json" db:"form_json"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
