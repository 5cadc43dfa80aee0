package storage

import (
	"testing"
	"time"
)

func TestBuildHistoryExportPath(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.FixedZone("WITA", 8*3600))
	path, err := BuildObjectPath(PurposeHistoryExport, PathParams{
		Prefix: "/history/",
		TripID: "trip_bali",
		At:     at,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := "history/trips/trip_bali/20260301T010000.000Z.json"
	if path != expected {
		t.Fatalf("expected %s, got %s", expected, path)
	}
}

func TestBuildHistoryExportPathWithoutPrefix(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	path, err := BuildObjectPath(PurposeHistoryExport, PathParams{TripID: "trip_bali", At: at})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != "trips/trip_bali/20260301T090000.000Z.json" {
		t.Fatalf("unexpected path %s", path)
	}
	if _, err := BuildObjectPath(PurposeHistoryExport, PathParams{TripID: "trip_bali"}); err == nil {
		t.Fatalf("expected error for missing export time")
	}
}

func TestBuildObjectPathRejectsInvalidSegment(t *testing.T) {
	_, err := BuildObjectPath(PurposeHistoryExport, PathParams{TripID: "../bad", At: time.Now()})
	if err == nil {
		t.Fatalf("expected error for invalid segment")
	}
	if _, err := BuildObjectPath(ObjectPurpose("unknown"), PathParams{}); err == nil {
		t.Fatalf("expected error for unknown purpose")
	}
}
