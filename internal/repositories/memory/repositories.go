package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	domain "github.com/tripdesk/planner/internal/domain"
	"github.com/tripdesk/planner/internal/repositories"
)

// TripRepository keeps trips in process memory. It backs local development and tests.
type TripRepository struct {
	mu    sync.RWMutex
	trips map[string]domain.Trip
}

var _ repositories.TripRepository = (*TripRepository)(nil)

// NewTripRepository constructs a trip store seeded with the given trips.
func NewTripRepository(seed ...domain.Trip) *TripRepository {
	repo := &TripRepository{trips: make(map[string]domain.Trip, len(seed))}
	for _, trip := range seed {
		repo.trips[strings.TrimSpace(trip.ID)] = trip.Clone()
	}
	return repo
}

// FindByID returns a copy of the stored trip.
func (r *TripRepository) FindByID(_ context.Context, tripID string) (domain.Trip, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	trip, ok := r.trips[strings.TrimSpace(tripID)]
	if !ok {
		return domain.Trip{}, repositories.NewStoreError("trips.find", repositories.StoreErrorNotFound, fmt.Errorf("trip %s not found", tripID))
	}
	return trip.Clone(), nil
}

// Upsert stores a copy of the trip.
func (r *TripRepository) Upsert(_ context.Context, trip domain.Trip) error {
	tripID := strings.TrimSpace(trip.ID)
	if tripID == "" {
		return errors.New("memory trip repository: trip id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trips[tripID] = trip.Clone()
	return nil
}

// SessionRepository keeps planning sessions in process memory.
type SessionRepository struct {
	mu       sync.RWMutex
	sessions map[string]domain.PlanningSessionState
}

var _ repositories.SessionRepository = (*SessionRepository)(nil)

// NewSessionRepository constructs an empty session store.
func NewSessionRepository() *SessionRepository {
	return &SessionRepository{sessions: make(map[string]domain.PlanningSessionState)}
}

// Load returns a copy of the stored session.
func (r *SessionRepository) Load(_ context.Context, tripID string) (domain.PlanningSessionState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.sessions[strings.TrimSpace(tripID)]
	if !ok {
		return domain.PlanningSessionState{}, repositories.NewStoreError("sessions.load", repositories.StoreErrorNotFound, fmt.Errorf("session %s not found", tripID))
	}
	return state.Clone(), nil
}

// Save stores a copy of the session unless a newer one is already stored.
func (r *SessionRepository) Save(_ context.Context, state domain.PlanningSessionState) error {
	tripID := strings.TrimSpace(state.TripID)
	if tripID == "" {
		return errors.New("memory session repository: trip id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if stored, ok := r.sessions[tripID]; ok && repositories.IsStaleWrite(stored, state) {
		return repositories.NewStoreError("sessions.save", repositories.StoreErrorConflict, fmt.Errorf("stored session for %s is newer", tripID))
	}
	r.sessions[tripID] = state.Clone()
	return nil
}

// Delete removes the stored session.
func (r *SessionRepository) Delete(_ context.Context, tripID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, strings.TrimSpace(tripID))
	return nil
}

// Len reports how many sessions are stored.
func (r *SessionRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Registry bundles in-memory repositories behind repositories.Registry.
type Registry struct {
	trips    repositories.TripRepository
	sessions repositories.SessionRepository
	health   repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry assembles a registry. Any nil repository falls back to an empty in-memory store.
func NewRegistry(trips repositories.TripRepository, sessions repositories.SessionRepository, health repositories.HealthRepository) *Registry {
	if trips == nil {
		trips = NewTripRepository()
	}
	if sessions == nil {
		sessions = NewSessionRepository()
	}
	return &Registry{trips: trips, sessions: sessions, health: health}
}

func (r *Registry) Trips() repositories.TripRepository       { return r.trips }
func (r *Registry) Sessions() repositories.SessionRepository { return r.sessions }
func (r *Registry) Health() repositories.HealthRepository    { return r.health }

// Close is a no-op for in-memory stores.
func (r *Registry) Close(context.Context) error { return nil }
