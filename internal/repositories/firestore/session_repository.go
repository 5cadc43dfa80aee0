package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/tripdesk/planner/internal/domain"
	pfirestore "github.com/tripdesk/planner/internal/platform/firestore"
	"github.com/tripdesk/planner/internal/repositories"
)

const sessionsCollection = "planningSessions"

// The queryable header fields sit next to the opaque state payload.
type sessionDocument struct {
	TripID           string    `firestore:"tripId"`
	TripStatus       string    `firestore:"tripStatus"`
	CurrentVersionID string    `firestore:"currentVersionId"`
	VersionCount     int       `firestore:"versionCount"`
	ChangeCount      int       `firestore:"changeCount"`
	PriceLocked      bool      `firestore:"priceLocked"`
	StartedAt        time.Time `firestore:"startedAt"`
	UpdatedAt        time.Time `firestore:"updatedAt"`
	State            []byte    `firestore:"state"`
}

// SessionRepository persists planning sessions in Firestore, one document per trip.
type SessionRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[sessionDocument]
}

var _ repositories.SessionRepository = (*SessionRepository)(nil)

// NewSessionRepository constructs a Firestore-backed session repository.
func NewSessionRepository(provider *pfirestore.Provider) (*SessionRepository, error) {
	if provider == nil {
		return nil, errors.New("session repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[sessionDocument](provider, sessionsCollection)
	return &SessionRepository{provider: provider, base: base}, nil
}

// Load fetches the session stored for the trip.
func (r *SessionRepository) Load(ctx context.Context, tripID string) (domain.PlanningSessionState, error) {
	if r == nil || r.base == nil {
		return domain.PlanningSessionState{}, errors.New("session repository not initialised")
	}
	tripID = strings.TrimSpace(tripID)
	if tripID == "" {
		return domain.PlanningSessionState{}, errors.New("session repository: trip id is required")
	}
	doc, err := r.base.Get(ctx, tripID)
	if err != nil {
		return domain.PlanningSessionState{}, err
	}
	state, err := repositories.DecodeSessionState(doc.Data.State)
	if err != nil {
		return domain.PlanningSessionState{}, fmt.Errorf("session repository: %s: %w", tripID, err)
	}
	return state, nil
}

// Save writes the session inside a transaction, refusing to replace a newer stored state.
func (r *SessionRepository) Save(ctx context.Context, state domain.PlanningSessionState) error {
	if r == nil || r.base == nil {
		return errors.New("session repository not initialised")
	}
	payload, err := repositories.EncodeSessionState(state)
	if err != nil {
		return err
	}
	tripID := strings.TrimSpace(state.TripID)
	doc := encodeSessionDocument(state, payload)

	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, tripID)
		if err != nil {
			return err
		}
		snapshot, err := tx.Get(ref)
		switch status.Code(err) {
		case codes.NotFound:
			return tx.Create(ref, doc)
		case codes.OK:
		default:
			return err
		}

		var stored sessionDocument
		if err := snapshot.DataTo(&stored); err != nil {
			return fmt.Errorf("firestore sessions decode %s: %w", tripID, err)
		}
		if !stored.UpdatedAt.IsZero() && doc.UpdatedAt.Before(stored.UpdatedAt) {
			return status.Errorf(codes.FailedPrecondition, "stored session for %s is newer", tripID)
		}
		return tx.Set(ref, doc)
	})
	return pfirestore.WrapError("sessions.save", err)
}

// Delete removes the stored session.
func (r *SessionRepository) Delete(ctx context.Context, tripID string) error {
	if r == nil || r.base == nil {
		return errors.New("session repository not initialised")
	}
	return r.base.Delete(ctx, tripID)
}

func encodeSessionDocument(state domain.PlanningSessionState, payload []byte) sessionDocument {
	changed := 0
	for _, day := range state.Itinerary {
		for _, slot := range day.Activities {
			if slot.IsModified() {
				changed++
			}
		}
	}
	return sessionDocument{
		TripID:           strings.TrimSpace(state.TripID),
		TripStatus:       string(state.Trip.Status),
		CurrentVersionID: state.History.CurrentVersionID,
		VersionCount:     len(state.History.Versions),
		ChangeCount:      changed,
		PriceLocked:      state.PriceLock.Locked,
		StartedAt:        state.StartedAt.UTC(),
		UpdatedAt:        state.UpdatedAt.UTC(),
		State:            payload,
	}
}
