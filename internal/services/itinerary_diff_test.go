package services

import (
	"testing"

	domain "github.com/tripdesk/planner/internal/domain"
)

func twoDayHotelItinerary() Itinerary {
	hotelOptions := []Option{
		{ID: "opt-1", Name: "Standard Room", Price: 300},
		{ID: "opt-2", Name: "Ocean View Suite", Price: 480},
	}
	return Itinerary{
		{DayNumber: 1, Activities: []ActivitySlot{
			{ID: "d1-a", Title: "Snorkelling", Type: domain.ActivityTypeActivity, Options: []Option{{ID: "x", Name: "Reef"}}, SelectedOptionID: "x", AgentRecommendedOptionID: "x"},
		}},
		{DayNumber: 2, Activities: []ActivitySlot{
			{ID: "d2-a", Title: "Breakfast", Type: domain.ActivityTypeDining, Options: []Option{{ID: "b", Name: "Buffet"}}, SelectedOptionID: "b", AgentRecommendedOptionID: "b"},
			{ID: "d2-b", Title: "Hotel", Type: domain.ActivityTypeHotel, Options: hotelOptions, SelectedOptionID: "opt-1", AgentRecommendedOptionID: "opt-1"},
		}},
	}
}

func TestDiffItineraries_ReportsChangedSelection(t *testing.T) {
	before := twoDayHotelItinerary()
	after := selectIn(before, "d2-b", "opt-2")

	changes := DiffItineraries(before, after)
	if len(changes) != 1 {
		t.Fatalf("expected one change, got %v", changes)
	}
	want := `Day 2: Changed Hotel from "Standard Room" to "Ocean View Suite"`
	if changes[0] != want {
		t.Fatalf("expected %q, got %q", want, changes[0])
	}

	if got := DiffItineraries(before, before.Clone()); got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil diff for identical itineraries, got %#v", got)
	}
}

func TestDiffItineraries_IgnoresUnresolvableAndMisaligned(t *testing.T) {
	before := twoDayHotelItinerary()

	dangling := selectIn(before, "d2-b", "missing")
	if got := DiffItineraries(before, dangling); len(got) != 0 {
		t.Fatalf("expected unresolvable selection to be skipped, got %v", got)
	}

	extraDay := append(selectIn(before, "d2-b", "opt-2"), DayItinerary{DayNumber: 3})
	if got := DiffItineraries(before, extraDay); len(got) != 1 {
		t.Fatalf("expected days beyond the shorter itinerary to be ignored, got %v", got)
	}

	shorter := Itinerary{before[0].Clone()}
	if got := DiffItineraries(before, shorter); len(got) != 0 {
		t.Fatalf("expected no changes for dropped day, got %v", got)
	}
}

func TestComputeDeltas(t *testing.T) {
	a := PricingBreakdown{Subtotal: 1000, StatusCredits: 10, SocietePoints: 5}
	b := PricingBreakdown{Subtotal: 1200, StatusCredits: 15, SocietePoints: 8}
	delta := ComputeDeltas(a, b)
	if delta.PriceDelta != 200 || delta.CreditsDelta != 5 || delta.PointsDelta != 3 {
		t.Fatalf("unexpected delta %+v", delta)
	}
	reverse := ComputeDeltas(b, a)
	if reverse.PriceDelta != -200 || reverse.CreditsDelta != -5 || reverse.PointsDelta != -3 {
		t.Fatalf("unexpected reverse delta %+v", reverse)
	}
}

func TestListModifiedItemsAndCountChanges(t *testing.T) {
	itinerary := selectIn(tripItinerary(), "slot_hotel", "suite")
	itinerary = selectIn(itinerary, "slot_morning", "temple")

	report := ListModifiedItems(itinerary)
	if len(report.Items) != 2 {
		t.Fatalf("expected two modified items, got %d", len(report.Items))
	}
	if report.Items[0].Day != 1 || report.Items[1].Day != 2 {
		t.Fatalf("expected day numbers 1 and 2, got %d and %d", report.Items[0].Day, report.Items[1].Day)
	}
	if report.TotalPriceDelta != 200-30 {
		t.Fatalf("expected total price delta 170, got %d", report.TotalPriceDelta)
	}
	if report.TotalCreditsDelta != 5-1 || report.TotalPointsDelta != 3 {
		t.Fatalf("unexpected totals %+v", report)
	}

	if got := CountChanges(itinerary); got != 2 {
		t.Fatalf("expected 2 changes, got %d", got)
	}

	dangling := selectIn(itinerary, "slot_transfer", "helicopter")
	if got := CountChanges(dangling); got != 3 {
		t.Fatalf("expected dangling selection to count as a change, got %d", got)
	}
	if got := len(ListModifiedItems(dangling).Items); got != 2 {
		t.Fatalf("expected dangling selection to be left out of the report, got %d", got)
	}

	lines := CustomerChangeLines(report)
	if len(lines) != 2 || lines[0] != "Day 1: Hotel → Ocean View Suite" {
		t.Fatalf("unexpected change lines %v", lines)
	}
}

func TestFormatPriceImpact(t *testing.T) {
	cases := map[int64]string{
		200:   "+$200",
		1200:  "+$1,200",
		-300:  "-$300",
		-4500: "-$4,500",
		0:     "$0",
	}
	for delta, want := range cases {
		if got := FormatPriceImpact(delta); got != want {
			t.Fatalf("FormatPriceImpact(%d) = %q, want %q", delta, got, want)
		}
	}
}
