package store

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"bountyline/internal/domain"
)

// SQLSTATE codes, see https://www.postgresql.org/docs/current/errcodes-appendix.html.
const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// ConflictError reports that a write hit a uniqueness constraint.
type ConflictError struct {
	Entity     string
	Constraint string
	Err        error
}

func (e *ConflictError) Error() string {
	if e.Constraint != "" {
		return fmt.Sprintf("%s already exists (%s)", e.Entity, e.Constraint)
	}
	return fmt.Sprintf("%s already exists", e.Entity)
}

func (e *ConflictError) Unwrap() []error { return []error{domain.ErrConflict, e.Err} }

// uniqueViolation inspects driver error codes only; message text differs
// between engine versions and is never consulted.
func uniqueViolation(err error) (constraint string, ok bool) {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return "", true
		}
		return "", false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return pgErr.ConstraintName, true
	}
	return "", false
}

func isTransient(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgSerializationFailure || pgErr.Code == pgDeadlockDetected
	}
	return false
}

func conflictOr(err error, entity string) error {
	if constraint, ok := uniqueViolation(err); ok {
		return &ConflictError{Entity: entity, Constraint: constraint, Err: err}
	}
	return classify(err)
}

// classify leaves lifecycle errors as they are and wraps everything else as a
// storage failure. The driver error stays reachable through errors.As so
// RunInTx can still recognise transient codes.
func classify(err error) error {
	if err == nil || domain.Classified(err) {
		return err
	}
	if _, ok := uniqueViolation(err); ok {
		return &ConflictError{Entity: "row", Err: err}
	}
	return fmt.Errorf("%w: %w", domain.ErrStorage, err)
}
