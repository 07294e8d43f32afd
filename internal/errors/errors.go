// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrConfigInvalid    = errors.New("invalid configuration")
	ErrConfigNotFound   = errors.New("configuration file not found")
	ErrDataNotFound     = errors.New("data not found")
	ErrUnexpectedStatus = errors.New("unexpected response status")
	ErrWorkbookNotFound = errors.New("workbook link not found")
	ErrSheetNotFound    = errors.New("worksheet not found")
	ErrAllSourcesFailed = errors.New("every source failed")
)

// FetchError represents a failure to retrieve or decode data for an entity.
type FetchError struct {
	Source string
	Entity string
	Err    error
}

func (e *FetchError) Error() string {
	if e.Entity != "" {
		return fmt.Sprintf("fetch error [%s] %s: %v", e.Source, e.Entity, e.Err)
	}
	return fmt.Sprintf("fetch error [%s]: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewFetchError creates a new FetchError.
func NewFetchError(source, entity string, err error) *FetchError {
	return &FetchError{
		Source: source,
		Entity: entity,
		Err:    err,
	}
}

// RowError represents a malformed line in a configuration file.
type RowError struct {
	File   string
	Line   int
	Reason string
}

func (e *RowError) Error() string {
	return fmt.Sprintf("%s line %d: %s", e.File, e.Line, e.Reason)
}

// Unwrap lets callers match row errors against ErrConfigInvalid.
func (e *RowError) Unwrap() error {
	return ErrConfigInvalid
}

// NewRowError creates a new RowError.
func NewRowError(file string, line int, reason string) *RowError {
	return &RowError{
		File:   file,
		Line:   line,
		Reason: reason,
	}
}

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

// Unwrap lets callers match validation errors against ErrConfigInvalid.
func (e *ValidationError) Unwrap() error {
	return ErrConfigInvalid
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
