// Package apperr holds sentinel errors shared across packages.
package apperr

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrAlreadyExists      = errors.New("already exists")
	ErrInvalidPath        = errors.New("invalid document path")
	ErrInvalidProgress    = errors.New("progress must be between 0 and 1")
	ErrEmptyResult        = errors.New("empty result")
	ErrProgressRegression = errors.New("progress would decrease")
	ErrConsentDeclined    = errors.New("migration consent declined")
)
