package memory

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/tripdesk/planner/internal/domain"
	"github.com/tripdesk/planner/internal/repositories"
)

func TestLoadTripSeedFile(t *testing.T) {
	trips, err := LoadTripSeedFile("testdata/trips.yaml")
	if err != nil {
		t.Fatalf("LoadTripSeedFile: %v", err)
	}
	if len(trips) != 1 {
		t.Fatalf("expected 1 trip, got %d", len(trips))
	}
	trip := trips[0]
	if trip.ID != "trip_bali" || trip.Status != domain.TripStatusSent {
		t.Fatalf("unexpected trip header %+v", trip)
	}
	if len(trip.Itinerary) != 2 {
		t.Fatalf("expected 2 days, got %d", len(trip.Itinerary))
	}
	hotel := trip.Itinerary[0].Activities[1]
	if hotel.Type != domain.ActivityTypeHotel || hotel.Constraints == nil || *hotel.Constraints.MinNights != 2 {
		t.Fatalf("unexpected hotel slot %+v", hotel)
	}
	suite, ok := hotel.FindOption("opt_suite")
	if !ok || suite.Price != 1200 || suite.Availability != domain.AvailabilityLimited {
		t.Fatalf("unexpected suite option %+v", suite)
	}
	if !trip.Itinerary[1].Activities[1].Locked {
		t.Fatal("expected cooking class to be locked")
	}
	if trip.CreatedAt.IsZero() {
		t.Fatal("expected createdAt to be parsed")
	}
}

func TestDecodeTripSeedRejectsBadEntries(t *testing.T) {
	cases := map[string]string{
		"missing id":   "trips:\n  - title: Nowhere\n",
		"duplicate id": "trips:\n  - id: a\n  - id: a\n",
		"unknown key":  "voyages: []\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := DecodeTripSeed(strings.NewReader(doc)); err == nil {
				t.Fatalf("expected error for %s", name)
			}
		})
	}

	trips, err := DecodeTripSeed(strings.NewReader(""))
	if err != nil || len(trips) != 0 {
		t.Fatalf("expected empty seed to decode cleanly, got %v %v", trips, err)
	}
}

func TestTripRepositoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewTripRepository(domain.Trip{
		ID:        "trip_1",
		Itinerary: domain.Itinerary{{DayNumber: 1, Activities: []domain.ActivitySlot{{ID: "s1", SelectedOptionID: "o1"}}}},
	})

	trip, err := repo.FindByID(ctx, "trip_1")
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	trip.Itinerary[0].Activities[0].SelectedOptionID = "o2"

	again, _ := repo.FindByID(ctx, "trip_1")
	if again.Itinerary[0].Activities[0].SelectedOptionID != "o1" {
		t.Fatal("expected stored trip to be isolated from caller mutation")
	}

	_, err = repo.FindByID(ctx, "trip_missing")
	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestSessionRepositoryRejectsStaleWrites(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository()
	now := time.Date(2026, time.May, 4, 9, 0, 0, 0, time.UTC)

	if err := repo.Save(ctx, domain.PlanningSessionState{TripID: "trip_1", UpdatedAt: now}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	err := repo.Save(ctx, domain.PlanningSessionState{TripID: "trip_1", UpdatedAt: now.Add(-time.Minute)})
	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) || !repoErr.IsConflict() {
		t.Fatalf("expected conflict, got %v", err)
	}
	if err := repo.Save(ctx, domain.PlanningSessionState{TripID: "trip_1", UpdatedAt: now.Add(time.Minute)}); err != nil {
		t.Fatalf("Save newer: %v", err)
	}
	if repo.Len() != 1 {
		t.Fatalf("expected 1 session, got %d", repo.Len())
	}
	if err := repo.Delete(ctx, "trip_1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := repo.Load(ctx, "trip_1"); !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}
