// Package store persists the environment registry.
package store

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// ErrNotFound means no environment matches the ID or name, or a phase was
	// recorded for an environment that was deleted.
	ErrNotFound = errors.New("environment not found")

	// ErrDuplicateID means an environment with the same ID is already
	// registered. It wins over ErrDuplicateName when both collide.
	ErrDuplicateID = errors.New("environment ID already registered")

	// ErrDuplicateName means another record holds the name. `up` replaces
	// inactive records before creating, so this signals a live environment.
	ErrDuplicateName = errors.New("environment name already registered")

	// ErrConnectionFailed is returned when the registry database cannot be
	// opened or pinged.
	ErrConnectionFailed = errors.New("registry connection failed")

	// ErrMigrationFailed is returned when the embedded schema cannot be applied.
	ErrMigrationFailed = errors.New("registry migration failed")

	// ErrInvalidData is returned when the compose file list cannot be encoded
	// or decoded.
	ErrInvalidData = errors.New("invalid registry data")
)

// StoreError records which registry operation failed and for which record.
type StoreError struct {
	Op      string // e.g. "RecordPhase"
	Entity  string // "environment", empty for connection errors
	ID      string // environment ID or name, when known
	Message string
	Err     error
}

func (e *StoreError) Error() string {
	switch {
	case e.ID != "":
		return fmt.Sprintf("%s %s %s: %s", e.Op, e.Entity, e.ID, e.Message)
	case e.Entity != "":
		return fmt.Sprintf("%s %s: %s", e.Op, e.Entity, e.Message)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError creates a new StoreError.
func NewStoreError(op, entity, id, message string, err error) *StoreError {
	return &StoreError{Op: op, Entity: entity, ID: id, Message: message, Err: err}
}
