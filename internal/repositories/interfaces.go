package repositories

import (
	"context"

	domain "github.com/tripdesk/planner/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Trips() TripRepository
	Sessions() SessionRepository
	Health() HealthRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// TripRepository reads the agent-authored trips customers plan against.
type TripRepository interface {
	FindByID(ctx context.Context, tripID string) (domain.Trip, error)
	Upsert(ctx context.Context, trip domain.Trip) error
}

// SessionRepository persists planning sessions keyed by trip id. Save rejects a state older than
// the one already stored with a conflict error.
type SessionRepository interface {
	Load(ctx context.Context, tripID string) (domain.PlanningSessionState, error)
	Save(ctx context.Context, state domain.PlanningSessionState) error
	Delete(ctx context.Context, tripID string) error
}

// HealthRepository probes backing dependencies for readiness reporting.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
