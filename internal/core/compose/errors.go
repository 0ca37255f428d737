// Package compose turns the output of `docker compose config` into a Spec.
// This is part of the Functional Core - all functions are pure with no I/O.
package compose

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// Input validation errors
	ErrEmptyInput = errors.New("compose config is empty")

	// Document errors
	ErrInvalidDocument = errors.New("invalid compose config document")

	// Compose structure errors
	ErrNoServices = errors.New("compose config must define at least one service")

	// Service errors
	ErrServiceInvalidPort = errors.New("invalid port configuration")
	ErrServiceNotFound    = errors.New("service not found")
	ErrPortNotPublished   = errors.New("port is not published")
)

// ParseError wraps errors with context about where parsing or a lookup failed.
type ParseError struct {
	Field   string // e.g., "services.web.ports[0]"
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// NewParseError creates a new ParseError.
func NewParseError(field, message string, err error) *ParseError {
	return &ParseError{
		Field:   field,
		Message: message,
		Err:     err,
	}
}
