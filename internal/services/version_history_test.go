package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/tripdesk/planner/internal/domain"
)

type recordingRestorer struct {
	restored []Itinerary
}

func (r *recordingRestorer) RestoreItinerary(itinerary Itinerary) {
	r.restored = append(r.restored, itinerary)
}

type historyHarness struct {
	history   *VersionHistory
	restorer  *recordingRestorer
	scheduler *fakeScheduler
	clock     *fakeClock
	autoSaved []ItineraryVersion
}

func newHistoryHarness(t *testing.T, disableAutoSave bool) *historyHarness {
	t.Helper()
	harness := &historyHarness{
		restorer:  &recordingRestorer{},
		scheduler: &fakeScheduler{},
		clock:     newFakeClock(),
	}
	history, err := NewVersionHistory(VersionHistoryDeps{
		Restorer:        harness.restorer,
		Scheduler:       harness.scheduler,
		Clock:           harness.clock.Now,
		IDGenerator:     sequentialIDs(),
		AutoSaveDelay:   10 * time.Second,
		DisableAutoSave: disableAutoSave,
		OnAutoSave:      func(v ItineraryVersion) { harness.autoSaved = append(harness.autoSaved, v) },
	}, scenarioItinerary(), TripSummary{})
	if err != nil {
		t.Fatalf("NewVersionHistory: %v", err)
	}
	harness.history = history
	return harness
}

func upgradedSummary(subtotal int64) TripSummary {
	return TripSummary{PricingBreakdown: PricingBreakdown{Subtotal: subtotal}}
}

func TestVersionHistory_StartsWithInitialVersion(t *testing.T) {
	h := newHistoryHarness(t, false)

	versions := h.history.Versions()
	if len(versions) != 1 {
		t.Fatalf("expected single initial version, got %d", len(versions))
	}
	initial := versions[0]
	if initial.ID != domain.InitialVersionID || initial.Label != "Original Itinerary" || initial.IsAutoSave {
		t.Fatalf("unexpected initial version %+v", initial)
	}
	if current, ok := h.history.CurrentVersion(); !ok || current.ID != domain.InitialVersionID {
		t.Fatalf("expected initial version to be current, got %+v", current)
	}
	if len(h.scheduler.all()) != 0 {
		t.Fatal("expected no deadline before the first mutation")
	}

	if _, err := NewVersionHistory(VersionHistoryDeps{}, scenarioItinerary(), TripSummary{}); err == nil {
		t.Fatal("expected error without restorer")
	}
}

func TestVersionHistory_CreateVersionSkipsUnchanged(t *testing.T) {
	h := newHistoryHarness(t, true)

	if _, created := h.history.CreateVersion("Nothing", "", false); created {
		t.Fatal("expected no version for unchanged itinerary")
	}

	h.history.Track(selectIn(scenarioItinerary(), "s1", "o2"), upgradedSummary(1200))
	version, created := h.history.CreateVersion("  Upgrade  ", " suite ", false)
	if !created {
		t.Fatal("expected version to be created")
	}
	if version.ID != "ver_id001" || version.Label != "Upgrade" || version.Note != "suite" {
		t.Fatalf("unexpected version %+v", version)
	}
	if len(version.ChangesSinceLastVersion) != 1 {
		t.Fatalf("expected one change, got %v", version.ChangesSinceLastVersion)
	}
	if _, created := h.history.CreateVersion("Again", "", false); created {
		t.Fatal("expected duplicate snapshot to be skipped")
	}
	if current, _ := h.history.CurrentVersion(); current.ID != version.ID {
		t.Fatalf("expected new version to be current, got %s", current.ID)
	}
}

func TestVersionHistory_AutoSaveDebounce(t *testing.T) {
	h := newHistoryHarness(t, false)

	h.history.Track(selectIn(scenarioItinerary(), "s1", "o2"), upgradedSummary(1200))
	h.history.Track(selectIn(scenarioItinerary(), "s1", "o2"), upgradedSummary(1200))

	tasks := h.scheduler.all()
	if len(tasks) != 2 {
		t.Fatalf("expected two scheduled deadlines, got %d", len(tasks))
	}
	if !tasks[0].stopped {
		t.Fatal("expected first deadline to be cancelled by the second mutation")
	}
	if tasks[1].delay != 10*time.Second {
		t.Fatalf("expected configured delay, got %s", tasks[1].delay)
	}

	// A stale deadline that slipped past Stop must not save.
	tasks[0].fn()
	if got := len(h.history.Versions()); got != 1 {
		t.Fatalf("expected stale deadline to be ignored, got %d versions", got)
	}

	h.scheduler.firePending()
	versions := h.history.Versions()
	if len(versions) != 2 {
		t.Fatalf("expected auto-saved version, got %d", len(versions))
	}
	if !versions[1].IsAutoSave || versions[1].Label != "" {
		t.Fatalf("unexpected auto-save version %+v", versions[1])
	}
	if len(h.autoSaved) != 1 || h.autoSaved[0].ID != versions[1].ID {
		t.Fatalf("expected auto-save callback, got %v", h.autoSaved)
	}
	if state := h.history.State(); state.LastAutoSaveAt == nil || !state.LastAutoSaveAt.Equal(fixtureStart) {
		t.Fatalf("expected last auto-save timestamp, got %v", state.LastAutoSaveAt)
	}

	h.history.Track(selectIn(scenarioItinerary(), "s1", "o2"), upgradedSummary(1200))
	h.scheduler.firePending()
	if len(h.history.Versions()) != 2 || len(h.autoSaved) != 1 {
		t.Fatal("expected auto-save of unchanged itinerary to be skipped")
	}
}

func TestVersionHistory_DisablingAutoSaveCancelsDeadline(t *testing.T) {
	h := newHistoryHarness(t, false)
	h.history.Track(selectIn(scenarioItinerary(), "s1", "o2"), upgradedSummary(1200))

	h.history.SetAutoSaveEnabled(false)
	if h.history.AutoSaveEnabled() {
		t.Fatal("expected auto-save to be disabled")
	}
	if len(h.scheduler.pending()) != 0 {
		t.Fatal("expected pending deadline to be cancelled")
	}
	h.scheduler.all()[0].fn()
	if len(h.history.Versions()) != 1 {
		t.Fatal("expected cancelled deadline to be a no-op")
	}

	h.history.Track(scenarioItinerary(), TripSummary{})
	if len(h.scheduler.pending()) != 0 {
		t.Fatal("expected no deadline while auto-save is disabled")
	}

	h.history.SetAutoSaveEnabled(true)
	if len(h.scheduler.pending()) != 1 {
		t.Fatal("expected enabling to arm a fresh deadline")
	}

	h.history.Close()
	if len(h.scheduler.pending()) != 0 {
		t.Fatal("expected close to cancel the deadline")
	}
	h.history.Track(selectIn(scenarioItinerary(), "s1", "o2"), upgradedSummary(1200))
	if len(h.scheduler.pending()) != 0 {
		t.Fatal("expected closed history to stop scheduling")
	}
}

func TestVersionHistory_RevertAppendsVersion(t *testing.T) {
	h := newHistoryHarness(t, true)
	h.history.Track(selectIn(scenarioItinerary(), "s1", "o2"), upgradedSummary(1200))
	upgrade, _ := h.history.CreateVersion("Upgrade", "", false)

	h.clock.Advance(time.Minute)
	revert, ok := h.history.RevertToVersion(domain.InitialVersionID)
	if !ok {
		t.Fatal("expected revert to succeed")
	}
	if len(h.restorer.restored) != 1 || h.restorer.restored[0][0].Activities[0].SelectedOptionID != "o1" {
		t.Fatalf("expected restorer to receive the initial itinerary, got %v", h.restorer.restored)
	}
	if revert.Label != "Reverted to: Original Itinerary" {
		t.Fatalf("unexpected label %q", revert.Label)
	}
	if !strings.HasPrefix(revert.Note, "Restored from version at 5/4/2026") {
		t.Fatalf("unexpected note %q", revert.Note)
	}
	if len(revert.ChangesSinceLastVersion) != 1 || !strings.HasPrefix(revert.ChangesSinceLastVersion[0], "Reverted to version from ") {
		t.Fatalf("unexpected changes %v", revert.ChangesSinceLastVersion)
	}

	versions := h.history.Versions()
	if len(versions) != 3 || versions[1].ID != upgrade.ID {
		t.Fatalf("expected history to grow without truncation, got %d versions", len(versions))
	}
	if current, _ := h.history.CurrentVersion(); current.ID != revert.ID {
		t.Fatalf("expected revert version to be current, got %s", current.ID)
	}

	if _, ok := h.history.RevertToVersion("ver_missing"); ok {
		t.Fatal("expected unknown version to be rejected")
	}
	if len(h.restorer.restored) != 1 {
		t.Fatal("expected unknown version to leave the itinerary untouched")
	}
}

func TestVersionHistory_DeleteGuards(t *testing.T) {
	h := newHistoryHarness(t, true)
	h.history.Track(selectIn(scenarioItinerary(), "s1", "o2"), upgradedSummary(1200))
	first, _ := h.history.CreateVersion("First", "", false)
	h.history.Track(scenarioItinerary(), TripSummary{})
	second, _ := h.history.CreateVersion("Second", "", false)

	if h.history.DeleteVersion(domain.InitialVersionID) {
		t.Fatal("expected initial version to be protected")
	}
	if h.history.DeleteVersion(second.ID) {
		t.Fatal("expected current version to be protected")
	}
	if h.history.DeleteVersion("ver_missing") {
		t.Fatal("expected unknown version to report false")
	}
	if !h.history.DeleteVersion(first.ID) {
		t.Fatal("expected intermediate version to be deleted")
	}
	if _, ok := h.history.Version(first.ID); ok {
		t.Fatal("expected deleted version to be gone")
	}
}

func TestVersionHistory_LabelsAndComparison(t *testing.T) {
	h := newHistoryHarness(t, true)
	h.history.Track(selectIn(scenarioItinerary(), "s1", "o2"), TripSummary{
		PricingBreakdown: PricingBreakdown{Subtotal: 1200, StatusCredits: 15, SocietePoints: 8},
	})
	upgrade, _ := h.history.CreateVersion("Upgrade", "", false)

	updated, ok := h.history.UpdateVersionLabel(upgrade.ID, " Suite plan ", "for the anniversary")
	if !ok || updated.Label != "Suite plan" || updated.Note != "for the anniversary" {
		t.Fatalf("unexpected label update %+v", updated)
	}
	if _, ok := h.history.UpdateVersionLabel("ver_missing", "x", ""); ok {
		t.Fatal("expected unknown version to report false")
	}

	initialSummary := TripSummary{PricingBreakdown: PricingBreakdown{Subtotal: 1000, StatusCredits: 10, SocietePoints: 5}}
	h.history.versions[0].Summary = initialSummary

	comparison, ok := h.history.CompareVersions(domain.InitialVersionID, upgrade.ID)
	if !ok {
		t.Fatal("expected comparison")
	}
	if comparison.PriceDelta != 200 || comparison.CreditsDelta != 5 || comparison.PointsDelta != 3 {
		t.Fatalf("unexpected deltas %+v", comparison)
	}
	if len(comparison.Changes) != 1 {
		t.Fatalf("expected one change, got %v", comparison.Changes)
	}

	reversed, _ := h.history.CompareVersions(upgrade.ID, domain.InitialVersionID)
	if reversed.PriceDelta != -200 {
		t.Fatalf("expected argument order to drive the sign, got %d", reversed.PriceDelta)
	}
	if _, ok := h.history.CompareVersions(upgrade.ID, "ver_missing"); ok {
		t.Fatal("expected unknown version to report false")
	}
}

func TestLoadVersionHistory(t *testing.T) {
	h := newHistoryHarness(t, true)
	h.history.Track(selectIn(scenarioItinerary(), "s1", "o2"), upgradedSummary(1200))
	h.history.CreateVersion("Upgrade", "", false)
	state := h.history.State()

	scheduler := &fakeScheduler{}
	resumed, err := LoadVersionHistory(VersionHistoryDeps{
		Restorer:  &recordingRestorer{},
		Scheduler: scheduler,
	}, state, selectIn(scenarioItinerary(), "s1", "o2"), upgradedSummary(1200))
	if err != nil {
		t.Fatalf("LoadVersionHistory: %v", err)
	}
	if got := len(resumed.Versions()); got != 2 {
		t.Fatalf("expected 2 versions, got %d", got)
	}
	if resumed.AutoSaveEnabled() {
		t.Fatal("expected persisted auto-save flag to be honoured")
	}
	if _, created := resumed.CreateVersion("Dup", "", false); created {
		t.Fatal("expected live itinerary to match the latest version")
	}

	state.CurrentVersionID = "ver_gone"
	resumed, err = LoadVersionHistory(VersionHistoryDeps{Restorer: &recordingRestorer{}}, state, scenarioItinerary(), TripSummary{})
	if err != nil {
		t.Fatalf("LoadVersionHistory: %v", err)
	}
	if current, _ := resumed.CurrentVersion(); current.ID != state.Versions[1].ID {
		t.Fatalf("expected fallback to latest version, got %s", current.ID)
	}

	_, err = LoadVersionHistory(VersionHistoryDeps{Restorer: &recordingRestorer{}}, VersionHistoryState{}, nil, TripSummary{})
	if !errors.Is(err, ErrVersionHistoryInvalidState) {
		t.Fatalf("expected invalid state error, got %v", err)
	}
}

func TestVersionHistory_LogsRevert(t *testing.T) {
	var events []string
	history, err := NewVersionHistory(VersionHistoryDeps{
		Restorer:        &recordingRestorer{},
		DisableAutoSave: true,
		Logger:          func(_ context.Context, event string, _ map[string]any) { events = append(events, event) },
	}, scenarioItinerary(), TripSummary{})
	if err != nil {
		t.Fatalf("NewVersionHistory: %v", err)
	}
	history.RevertToVersion(domain.InitialVersionID)
	if len(events) != 1 || events[0] != "version_history.reverted" {
		t.Fatalf("expected revert log, got %v", events)
	}
}
