package reminder

import (
	"errors"
	"fmt"
)

var (
	ErrValidation  = errors.New("invalid reminder")
	ErrPersistence = errors.New("reminder persistence failed")
	ErrNotFound    = errors.New("reminder not found")
)

// ValidationError names the field that broke an invariant. Err, when set, is
// the underlying cause (a time parse failure, for instance).
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid reminder: " + e.Reason
	}
	return fmt.Sprintf("invalid reminder: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrValidation}
	}
	return []error{ErrValidation, e.Err}
}

// Invalid wraps cause as a validation failure of field.
func Invalid(field string, cause error) error {
	return &ValidationError{Field: field, Reason: cause.Error(), Err: cause}
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// PersistenceError wraps a backend failure with the store operation it broke.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("reminder store %s: %v", e.Op, e.Err)
}

// Is lets errors.Is(err, ErrPersistence) match while Unwrap keeps the cause reachable.
func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

func (e *PersistenceError) Unwrap() error { return e.Err }

func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}
