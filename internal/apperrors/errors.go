// Package apperrors holds the sentinel errors shared across packages.
// Callers match them with errors.Is; producers wrap them with %w.
package apperrors

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrInvalidInput      = errors.New("invalid input")
	ErrUnsupportedFormat = errors.New("unsupported file format")
)
