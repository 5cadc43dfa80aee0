package repositories

import (
	"errors"
	"fmt"
)

// StoreErrorKind classifies failures raised by the non-Firestore session and trip stores.
type StoreErrorKind string

const (
	// StoreErrorNotFound indicates the key does not exist.
	StoreErrorNotFound StoreErrorKind = "not_found"
	// StoreErrorConflict indicates a stale write was rejected.
	StoreErrorConflict StoreErrorKind = "conflict"
	// StoreErrorUnavailable indicates the backend could not be reached.
	StoreErrorUnavailable StoreErrorKind = "unavailable"
	// StoreErrorCorrupt indicates a stored payload could not be decoded.
	StoreErrorCorrupt StoreErrorKind = "corrupt"
)

// StoreError implements RepositoryError for the in-memory and Redis backends.
type StoreError struct {
	Op   string
	Kind StoreErrorKind
	Err  error
}

var _ RepositoryError = (*StoreError)(nil)

// NewStoreError wraps err with an operation name and kind.
func NewStoreError(op string, kind StoreErrorKind, err error) *StoreError {
	if err == nil {
		err = errors.New(string(kind))
	}
	return &StoreError{Op: op, Kind: kind, Err: err}
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Err.Error()
}

// Unwrap exposes the underlying error.
func (e *StoreError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *StoreError) IsNotFound() bool    { return e != nil && e.Kind == StoreErrorNotFound }
func (e *StoreError) IsConflict() bool    { return e != nil && e.Kind == StoreErrorConflict }
func (e *StoreError) IsUnavailable() bool { return e != nil && e.Kind == StoreErrorUnavailable }
