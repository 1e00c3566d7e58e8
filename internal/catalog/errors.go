package catalog

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation matches every ValidationError.
	ErrValidation = errors.New("catalog: validation failed")

	// ErrNotFound matches every NotFoundError.
	ErrNotFound = errors.New("catalog: not found")

	// ErrDatastore matches every DatastoreError.
	ErrDatastore = errors.New("catalog: datastore failure")
)

// ValidationError reports caller-supplied data that violates a field constraint.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NotFoundError reports a referenced entity that does not exist.
type NotFoundError struct {
	Entity string
	ID     ID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// DatastoreError wraps a failure of the underlying datastore.
type DatastoreError struct {
	Op  string
	Err error
}

func (e *DatastoreError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *DatastoreError) Unwrap() error {
	return e.Err
}

func (e *DatastoreError) Is(target error) bool {
	return target == ErrDatastore
}

func datastoreErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &DatastoreError{Op: op, Err: err}
}
