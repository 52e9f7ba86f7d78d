package core

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthenticated is returned before any query when no user is known.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrNotFound covers rows that do not exist or are owned by another user.
	ErrNotFound = errors.New("not found")
	// ErrInvalidScope is returned when an edit carries a field its scope cannot apply.
	ErrInvalidScope = errors.New("invalid scope")
	// ErrDateConflict is returned when a moved occurrence would land on an occupied date.
	ErrDateConflict = errors.New("date conflict")
	// ErrInvalidRange is returned for windows whose start is after their end.
	ErrInvalidRange = errors.New("invalid date range")
)

// StoreError wraps a failure of the underlying data store.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// WrapStore returns err wrapped in a StoreError unless it already carries one
// of the domain sentinels, which callers need to see unchanged.
func WrapStore(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrDateConflict) {
		return err
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

// IsValidation reports whether err is a caller input problem rather than a
// store or authorization failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ValidationError describes an invalid field of a rule, transaction or edit.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalid(field string, err error) error {
	return &ValidationError{Field: field, Err: err}
}
