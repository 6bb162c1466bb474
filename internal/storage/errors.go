package storage

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"

	"github.com/lib/pq"
	sqlite3 "github.com/mattn/go-sqlite3"
)

// Common errors
var (
	ErrNotFound            = errors.New("record not found")
	ErrStorageUnavailable  = errors.New("storage unavailable")
	ErrForeignKeyViolation = errors.New("foreign key violation")
	ErrDuplicateAmbiguity  = errors.New("multiple patients match natural key")
)

// classifyError maps driver-specific failures onto the package sentinels so
// callers can branch with errors.Is regardless of the configured driver.
func classifyError(err error) error {
	if err == nil {
		return nil
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch {
		case sqliteErr.Code == sqlite3.ErrConstraint &&
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey:
			return fmt.Errorf("%w: %v", ErrForeignKeyViolation, err)
		case sqliteErr.Code == sqlite3.ErrBusy,
			sqliteErr.Code == sqlite3.ErrLocked,
			sqliteErr.Code == sqlite3.ErrCantOpen:
			return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		return err
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == "23503": // foreign_key_violation
			return fmt.Errorf("%w: %v", ErrForeignKeyViolation, err)
		case pqErr.Code.Class() == "08", // connection exceptions
			pqErr.Code == "53300", // too_many_connections
			pqErr.Code == "57P03": // cannot_connect_now
			return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		return err
	}

	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	return err
}
