package model

import "errors"

// Error kinds shared by the store, circulation and api layers. Callers wrap
// them with detail, e.g. fmt.Errorf("%w: book %d", ErrNotFound, id), and test
// with errors.Is.
var (
	ErrNotFound        = errors.New("not found")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrConflict        = errors.New("conflict")
	ErrInvalidArgument = errors.New("invalid argument")
)
