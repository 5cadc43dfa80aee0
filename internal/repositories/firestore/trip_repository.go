package firestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/tripdesk/planner/internal/domain"
	pfirestore "github.com/tripdesk/planner/internal/platform/firestore"
	"github.com/tripdesk/planner/internal/repositories"
)

const tripsCollection = "trips"

type tripDocument struct {
	Title       string     `firestore:"title"`
	Location    string     `firestore:"location"`
	Creator     string     `firestore:"creator"`
	Status      string     `firestore:"status"`
	Days        int        `firestore:"days"`
	Stays       int        `firestore:"stays"`
	Experiences int        `firestore:"experiences"`
	CreatedAt   time.Time  `firestore:"createdAt"`
	ExpiresAt   *time.Time `firestore:"expiresAt,omitempty"`
	Itinerary   []byte     `firestore:"itinerary"`
}

// TripRepository reads agent-authored trips from Firestore.
type TripRepository struct {
	base *pfirestore.BaseRepository[tripDocument]
}

var _ repositories.TripRepository = (*TripRepository)(nil)

// NewTripRepository constructs a Firestore-backed trip repository.
func NewTripRepository(provider *pfirestore.Provider) (*TripRepository, error) {
	if provider == nil {
		return nil, errors.New("trip repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[tripDocument](provider, tripsCollection)
	return &TripRepository{base: base}, nil
}

// FindByID fetches a trip with its itinerary.
func (r *TripRepository) FindByID(ctx context.Context, tripID string) (domain.Trip, error) {
	if r == nil || r.base == nil {
		return domain.Trip{}, errors.New("trip repository not initialised")
	}
	tripID = strings.TrimSpace(tripID)
	if tripID == "" {
		return domain.Trip{}, errors.New("trip repository: trip id is required")
	}
	doc, err := r.base.Get(ctx, tripID)
	if err != nil {
		return domain.Trip{}, err
	}
	return decodeTripDocument(tripID, doc.Data)
}

// Upsert stores a trip, replacing any previous version.
func (r *TripRepository) Upsert(ctx context.Context, trip domain.Trip) error {
	if r == nil || r.base == nil {
		return errors.New("trip repository not initialised")
	}
	tripID := strings.TrimSpace(trip.ID)
	if tripID == "" {
		return errors.New("trip repository: trip id is required")
	}
	doc, err := encodeTripDocument(trip)
	if err != nil {
		return err
	}
	_, err = r.base.Set(ctx, tripID, doc)
	return err
}

func encodeTripDocument(trip domain.Trip) (tripDocument, error) {
	itinerary, err := json.Marshal(trip.Itinerary)
	if err != nil {
		return tripDocument{}, fmt.Errorf("trip repository: encode itinerary: %w", err)
	}
	doc := tripDocument{
		Title:       strings.TrimSpace(trip.Title),
		Location:    strings.TrimSpace(trip.Location),
		Creator:     strings.TrimSpace(trip.Creator),
		Status:      string(trip.Status),
		Days:        trip.Stats.Days,
		Stays:       trip.Stats.Stays,
		Experiences: trip.Stats.Experiences,
		CreatedAt:   trip.CreatedAt.UTC(),
		Itinerary:   itinerary,
	}
	if trip.ExpiresAt != nil {
		expires := trip.ExpiresAt.UTC()
		doc.ExpiresAt = &expires
	}
	return doc, nil
}

func decodeTripDocument(tripID string, doc tripDocument) (domain.Trip, error) {
	var itinerary domain.Itinerary
	if len(doc.Itinerary) > 0 {
		if err := json.Unmarshal(doc.Itinerary, &itinerary); err != nil {
			return domain.Trip{}, fmt.Errorf("trip repository: decode itinerary %s: %w", tripID, err)
		}
	}
	trip := domain.Trip{
		ID:        tripID,
		Title:     doc.Title,
		Location:  doc.Location,
		Creator:   doc.Creator,
		CreatedAt: doc.CreatedAt.UTC(),
		Stats:     domain.TripStats{Days: doc.Days, Stays: doc.Stays, Experiences: doc.Experiences},
		Itinerary: itinerary,
		Status:    domain.TripStatus(doc.Status),
	}
	if doc.ExpiresAt != nil {
		expires := doc.ExpiresAt.UTC()
		trip.ExpiresAt = &expires
	}
	if trip.Status == "" {
		trip.Status = domain.TripStatusDraft
	}
	return trip, nil
}
