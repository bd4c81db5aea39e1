package domain

import "errors"

// Error kinds returned by lifecycle operations. Every failure wraps exactly one
// of these so callers can branch with errors.Is.
var (
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("forbidden")
	ErrValidation   = errors.New("validation failed")
	ErrInvalidState = errors.New("invalid state")
	ErrConflict     = errors.New("conflict")
	ErrStorage      = errors.New("storage failure")
)

type Kind string

const (
	KindNotFound     Kind = "not_found"
	KindForbidden    Kind = "forbidden"
	KindValidation   Kind = "validation_error"
	KindInvalidState Kind = "invalid_state"
	KindConflict     Kind = "conflict"
	KindStorage      Kind = "storage_failure"
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrNotFound, KindNotFound},
	{ErrForbidden, KindForbidden},
	{ErrValidation, KindValidation},
	{ErrInvalidState, KindInvalidState},
	{ErrConflict, KindConflict},
	{ErrStorage, KindStorage},
}

// KindOf returns the error kind carried by err. Errors that wrap none of the
// sentinels are reported as storage failures.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindStorage
}

// Classified reports whether err already wraps one of the error kinds.
func Classified(err error) bool {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return true
		}
	}
	return false
}
