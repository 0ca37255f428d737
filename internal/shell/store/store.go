package store

import (
	"context"
	"time"

	"github.com/artpar/stagehand/internal/core/domain"
	"github.com/artpar/stagehand/internal/core/lifecycle"
)

// =============================================================================
// Store Interface
// =============================================================================

// Store defines the persistence interface for the environment registry.
type Store interface {
	CreateEnvironment(ctx context.Context, env *domain.Environment) error
	GetEnvironment(ctx context.Context, id string) (*domain.Environment, error)
	GetEnvironmentByName(ctx context.Context, name string) (*domain.Environment, error)
	UpdateEnvironment(ctx context.Context, env *domain.Environment) error
	DeleteEnvironment(ctx context.Context, id string) error
	ListEnvironments(ctx context.Context, opts ListOptions) ([]domain.Environment, error)

	// RecordPhase stores the outcome of a lifecycle phase for an environment
	// and appends it to the environment's phase history.
	RecordPhase(ctx context.Context, id string, phase lifecycle.Phase, phaseErr error) error
	ListPhaseEvents(ctx context.Context, id string) ([]PhaseEvent, error)

	// Lifecycle
	Close() error
}

// PhaseEvent is one recorded phase outcome.
type PhaseEvent struct {
	EnvironmentID string
	Phase         lifecycle.Phase
	Error         string
	RecordedAt    time.Time
}

// =============================================================================
// Options
// =============================================================================

// ListOptions defines pagination and filtering options.
type ListOptions struct {
	Limit      int
	Offset     int
	ActiveOnly bool
}

// DefaultListOptions returns default list options.
func DefaultListOptions() ListOptions {
	return ListOptions{
		Limit:  100,
		Offset: 0,
	}
}

// Normalize ensures list options have valid values.
func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = 100
	}
	if o.Limit > 1000 {
		o.Limit = 1000
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}
