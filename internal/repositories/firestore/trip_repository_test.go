package firestore

import (
	"testing"
	"time"

	domain "github.com/tripdesk/planner/internal/domain"
)

func TestTripDocumentRoundTrip(t *testing.T) {
	created := time.Date(2026, time.May, 1, 8, 0, 0, 0, time.FixedZone("WITA", 8*3600))
	expires := created.Add(72 * time.Hour)
	trip := domain.Trip{
		ID:        "trip_bali",
		Title:     " Bali Escape ",
		Location:  "Bali",
		Creator:   "agent_kim",
		CreatedAt: created,
		ExpiresAt: &expires,
		Stats:     domain.TripStats{Days: 2, Stays: 1, Experiences: 3},
		Itinerary: domain.Itinerary{{Date: "2026-06-01", DayNumber: 1}},
	}

	doc, err := encodeTripDocument(trip)
	if err != nil {
		t.Fatalf("encodeTripDocument: %v", err)
	}
	if doc.Title != "Bali Escape" {
		t.Fatalf("expected trimmed title, got %q", doc.Title)
	}
	if doc.CreatedAt.Location() != time.UTC {
		t.Fatalf("expected createdAt in UTC, got %s", doc.CreatedAt.Location())
	}

	decoded, err := decodeTripDocument("trip_bali", doc)
	if err != nil {
		t.Fatalf("decodeTripDocument: %v", err)
	}
	if decoded.Status != domain.TripStatusDraft {
		t.Fatalf("expected empty status to default to draft, got %s", decoded.Status)
	}
	if decoded.Stats.Experiences != 3 || len(decoded.Itinerary) != 1 {
		t.Fatalf("unexpected decoded trip %+v", decoded)
	}
	if decoded.ExpiresAt == nil || !decoded.ExpiresAt.Equal(expires) {
		t.Fatalf("expected expiresAt %s, got %v", expires, decoded.ExpiresAt)
	}
}

func TestEncodeSessionDocumentHeader(t *testing.T) {
	state := domain.PlanningSessionState{
		TripID: "trip_bali",
		Trip:   domain.Trip{Status: domain.TripStatusModified},
		Itinerary: domain.Itinerary{{
			DayNumber: 1,
			Activities: []domain.ActivitySlot{
				{ID: "a", SelectedOptionID: "o2", AgentRecommendedOptionID: "o1"},
				{ID: "b", SelectedOptionID: "o1", AgentRecommendedOptionID: "o1"},
			},
		}},
		History: domain.VersionHistoryState{
			Versions:         []domain.ItineraryVersion{{ID: domain.InitialVersionID}, {ID: "ver_1"}},
			CurrentVersionID: "ver_1",
		},
		PriceLock: domain.PriceLockState{Locked: true},
	}
	doc := encodeSessionDocument(state, []byte("{}"))
	if doc.ChangeCount != 1 || doc.VersionCount != 2 || doc.CurrentVersionID != "ver_1" {
		t.Fatalf("unexpected header %+v", doc)
	}
	if !doc.PriceLocked || doc.TripStatus != "modified" {
		t.Fatalf("unexpected header %+v", doc)
	}
}
