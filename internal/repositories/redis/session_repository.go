package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	domain "github.com/tripdesk/planner/internal/domain"
	"github.com/tripdesk/planner/internal/repositories"
)

const (
	defaultKeyPrefix  = "planner:session:"
	defaultSessionTTL = 14 * 24 * time.Hour
	maxWatchRetries   = 3
)

// SessionRepositoryOption customises the Redis session store.
type SessionRepositoryOption func(*SessionRepository)

// WithKeyPrefix overrides the key namespace.
func WithKeyPrefix(prefix string) SessionRepositoryOption {
	return func(r *SessionRepository) {
		if trimmed := strings.TrimSpace(prefix); trimmed != "" {
			r.prefix = trimmed
		}
	}
}

// WithSessionTTL overrides how long an untouched session survives.
func WithSessionTTL(ttl time.Duration) SessionRepositoryOption {
	return func(r *SessionRepository) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// SessionRepository keeps planning sessions in Redis as JSON blobs under one key per trip.
type SessionRepository struct {
	client goredis.UniversalClient
	prefix string
	ttl    time.Duration
}

var _ repositories.SessionRepository = (*SessionRepository)(nil)

// NewSessionRepository constructs a Redis-backed session repository.
func NewSessionRepository(client goredis.UniversalClient, opts ...SessionRepositoryOption) (*SessionRepository, error) {
	if client == nil {
		return nil, errors.New("redis session repository: client is required")
	}
	repo := &SessionRepository{client: client, prefix: defaultKeyPrefix, ttl: defaultSessionTTL}
	for _, opt := range opts {
		if opt != nil {
			opt(repo)
		}
	}
	return repo, nil
}

// Load fetches the stored session for the trip.
func (r *SessionRepository) Load(ctx context.Context, tripID string) (domain.PlanningSessionState, error) {
	tripID = strings.TrimSpace(tripID)
	if tripID == "" {
		return domain.PlanningSessionState{}, errors.New("redis session repository: trip id is required")
	}
	payload, err := r.client.Get(ctx, r.key(tripID)).Bytes()
	if err != nil {
		return domain.PlanningSessionState{}, wrapError("sessions.load", err)
	}
	state, err := repositories.DecodeSessionState(payload)
	if err != nil {
		return domain.PlanningSessionState{}, repositories.NewStoreError("sessions.load", repositories.StoreErrorCorrupt, err)
	}
	return state, nil
}

// Save writes the session under an optimistic WATCH so a newer stored state is never overwritten.
func (r *SessionRepository) Save(ctx context.Context, state domain.PlanningSessionState) error {
	payload, err := repositories.EncodeSessionState(state)
	if err != nil {
		return err
	}
	key := r.key(state.TripID)

	write := func(tx *goredis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, goredis.Nil):
		case err != nil:
			return err
		default:
			if stored, decodeErr := repositories.DecodeSessionState(current); decodeErr == nil && repositories.IsStaleWrite(stored, state) {
				return repositories.NewStoreError("sessions.save", repositories.StoreErrorConflict,
					fmt.Errorf("stored state for %s is newer", state.TripID))
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, payload, r.ttl)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxWatchRetries; attempt++ {
		err = r.client.Watch(ctx, write, key)
		if !errors.Is(err, goredis.TxFailedErr) {
			break
		}
	}
	if errors.Is(err, goredis.TxFailedErr) {
		return repositories.NewStoreError("sessions.save", repositories.StoreErrorConflict, err)
	}
	var storeErr *repositories.StoreError
	if errors.As(err, &storeErr) {
		return storeErr
	}
	return wrapError("sessions.save", err)
}

// Delete removes the stored session. Deleting a missing session is not an error.
func (r *SessionRepository) Delete(ctx context.Context, tripID string) error {
	tripID = strings.TrimSpace(tripID)
	if tripID == "" {
		return errors.New("redis session repository: trip id is required")
	}
	return wrapError("sessions.delete", r.client.Del(ctx, r.key(tripID)).Err())
}

// Ping reports whether Redis is reachable.
func (r *SessionRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *SessionRepository) key(tripID string) string {
	return r.prefix + tripID
}

func wrapError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, goredis.Nil):
		return repositories.NewStoreError(op, repositories.StoreErrorNotFound, err)
	default:
		return repositories.NewStoreError(op, repositories.StoreErrorUnavailable, err)
	}
}
