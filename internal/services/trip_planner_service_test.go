package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	domain "github.com/tripdesk/planner/internal/domain"
	"github.com/tripdesk/planner/internal/repositories"
	"github.com/tripdesk/planner/internal/repositories/memory"
)

type stubExporter struct {
	tripID  string
	payload []byte
	err     error
}

func (e *stubExporter) ExportHistory(_ context.Context, tripID string, payload []byte) (HistoryExport, error) {
	e.tripID = tripID
	e.payload = payload
	if e.err != nil {
		return HistoryExport{}, e.err
	}
	return HistoryExport{Bucket: "planner-history", Object: "history/" + tripID + ".json", Size: int64(len(payload))}, nil
}

type flakySessionRepository struct {
	*memory.SessionRepository
	saveErr error
	saves   int
}

func (r *flakySessionRepository) Save(ctx context.Context, state domain.PlanningSessionState) error {
	r.saves++
	if r.saveErr != nil {
		return r.saveErr
	}
	return r.SessionRepository.Save(ctx, state)
}

type plannerHarness struct {
	service   TripPlannerService
	trips     *memory.TripRepository
	sessions  *flakySessionRepository
	scheduler *fakeScheduler
	clock     *fakeClock
	exporter  *stubExporter
	events    []string
}

func newPlannerHarness(t *testing.T) *plannerHarness {
	t.Helper()
	h := &plannerHarness{
		trips:     memory.NewTripRepository(testTrip()),
		sessions:  &flakySessionRepository{SessionRepository: memory.NewSessionRepository()},
		scheduler: &fakeScheduler{},
		clock:     newFakeClock(),
		exporter:  &stubExporter{},
	}
	h.service = h.newService(t)
	return h
}

func (h *plannerHarness) newService(t *testing.T) TripPlannerService {
	t.Helper()
	svc, err := NewTripPlannerService(TripPlannerServiceDeps{
		Trips:         h.trips,
		Sessions:      h.sessions,
		Exporter:      h.exporter,
		Scheduler:     h.scheduler,
		Clock:         h.clock.Now,
		IDGenerator:   sequentialIDs(),
		AutoSaveDelay: 5 * time.Second,
		Logger:        func(_ context.Context, event string, _ map[string]any) { h.events = append(h.events, event) },
	})
	if err != nil {
		t.Fatalf("NewTripPlannerService: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close(context.Background()) })
	return svc
}

func (h *plannerHarness) hasEvent(name string) bool {
	for _, event := range h.events {
		if event == name {
			return true
		}
	}
	return false
}

func TestNewTripPlannerServiceRequiresRepositories(t *testing.T) {
	if _, err := NewTripPlannerService(TripPlannerServiceDeps{Sessions: memory.NewSessionRepository()}); err == nil {
		t.Fatal("expected error without trip repository")
	}
	if _, err := NewTripPlannerService(TripPlannerServiceDeps{Trips: memory.NewTripRepository()}); err == nil {
		t.Fatal("expected error without session repository")
	}
}

func TestTripPlannerService_GetSessionStartsAndPersists(t *testing.T) {
	h := newPlannerHarness(t)
	ctx := context.Background()

	view, err := h.service.GetSession(ctx, " trip_bali ")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if view.Trip.ID != "trip_bali" || view.CurrentVersionID != domain.InitialVersionID || !view.AutoSaveEnabled {
		t.Fatalf("unexpected view %+v", view)
	}
	if view.Summary.Subtotal != 1295 {
		t.Fatalf("expected subtotal 1295, got %d", view.Summary.Subtotal)
	}
	if h.sessions.Len() != 1 || h.service.ActiveSessions() != 1 {
		t.Fatalf("expected session to be persisted and cached, got stored=%d active=%d", h.sessions.Len(), h.service.ActiveSessions())
	}
	if !h.hasEvent("planner.session_started") {
		t.Fatalf("expected start log, got %v", h.events)
	}

	if _, err := h.service.GetSession(ctx, "trip_bali"); err != nil {
		t.Fatalf("GetSession (cached): %v", err)
	}
	if h.sessions.saves != 1 {
		t.Fatalf("expected cached session not to be saved again, got %d saves", h.sessions.saves)
	}
}

func TestTripPlannerService_UnknownTrip(t *testing.T) {
	h := newPlannerHarness(t)
	if _, err := h.service.GetSession(context.Background(), "trip_missing"); !errors.Is(err, ErrPlannerNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := h.service.GetSession(context.Background(), "  "); !errors.Is(err, ErrPlannerInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if h.service.ActiveSessions() != 0 {
		t.Fatal("expected failed lookups to cache nothing")
	}
}

func TestTripPlannerService_SelectionSurvivesRestart(t *testing.T) {
	h := newPlannerHarness(t)
	ctx := context.Background()

	outcome, err := h.service.SelectOption(ctx, SelectOptionCommand{TripID: "trip_bali", SlotID: "slot_hotel", OptionID: "suite", Acknowledge: true})
	if err != nil {
		t.Fatalf("SelectOption: %v", err)
	}
	if !outcome.Committed {
		t.Fatal("expected commit")
	}
	if _, _, err := h.service.SaveVersion(ctx, SaveVersionCommand{TripID: "trip_bali", Label: "Suite"}); err != nil {
		t.Fatalf("SaveVersion: %v", err)
	}

	restarted := h.newService(t)
	view, err := restarted.GetSession(ctx, "trip_bali")
	if err != nil {
		t.Fatalf("GetSession after restart: %v", err)
	}
	if view.Summary.Subtotal != 1495 || view.Summary.ChangeCount != 1 {
		t.Fatalf("expected persisted selection, got %+v", view.Summary)
	}
	if view.Trip.Status != domain.TripStatusModified || len(view.ChangeLog) != 1 {
		t.Fatalf("expected status and change log to survive, got %s / %d", view.Trip.Status, len(view.ChangeLog))
	}
	versions, err := restarted.ListVersions(ctx, "trip_bali")
	if err != nil {
		t.Fatalf("ListVersions: %v", err)
	}
	if len(versions.Versions) != 2 {
		t.Fatalf("expected saved version to survive, got %d", len(versions.Versions))
	}

	changes, err := restarted.ListChanges(ctx, "trip_bali")
	if err != nil {
		t.Fatalf("ListChanges: %v", err)
	}
	if changes.PriceImpact != "+$200" || len(changes.Lines) != 1 {
		t.Fatalf("unexpected change report %+v", changes)
	}
}

func TestTripPlannerService_RefusedSelectionIsNotPersisted(t *testing.T) {
	h := newPlannerHarness(t)
	ctx := context.Background()
	if _, err := h.service.GetSession(ctx, "trip_bali"); err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	saves := h.sessions.saves

	outcome, err := h.service.SelectOption(ctx, SelectOptionCommand{TripID: "trip_bali", SlotID: "slot_hotel", OptionID: "suite"})
	if !errors.Is(err, ErrConfirmationRequired) {
		t.Fatalf("expected confirmation required, got %v", err)
	}
	if len(outcome.Validation.Warnings) != 3 {
		t.Fatalf("expected validation to be returned with the refusal, got %+v", outcome.Validation)
	}
	if h.sessions.saves != saves {
		t.Fatal("expected refused selection not to be saved")
	}
}

func TestTripPlannerService_AutoSavePersists(t *testing.T) {
	h := newPlannerHarness(t)
	ctx := context.Background()
	if _, err := h.service.SelectOption(ctx, SelectOptionCommand{TripID: "trip_bali", SlotID: "slot_hotel", OptionID: "suite", Acknowledge: true}); err != nil {
		t.Fatalf("SelectOption: %v", err)
	}

	h.clock.Advance(5 * time.Second)
	h.scheduler.firePending()

	state, err := h.sessions.Load(ctx, "trip_bali")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(state.History.Versions) != 2 || !state.History.Versions[1].IsAutoSave {
		t.Fatalf("expected auto-saved version in the store, got %+v", state.History.Versions)
	}
	if !h.hasEvent("planner.auto_saved") {
		t.Fatalf("expected auto-save log, got %v", h.events)
	}
}

func TestTripPlannerService_VersionErrors(t *testing.T) {
	h := newPlannerHarness(t)
	ctx := context.Background()

	if err := h.service.DeleteVersion(ctx, "trip_bali", domain.InitialVersionID); !errors.Is(err, ErrVersionNotDeletable) {
		t.Fatalf("expected initial version to be protected, got %v", err)
	}
	if err := h.service.DeleteVersion(ctx, "trip_bali", "ver_missing"); !errors.Is(err, ErrVersionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := h.service.RevertToVersion(ctx, "trip_bali", "ver_missing"); !errors.Is(err, ErrVersionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := h.service.UpdateVersionLabel(ctx, UpdateVersionLabelCommand{TripID: "trip_bali", VersionID: "ver_missing", Label: "x"}); !errors.Is(err, ErrVersionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := h.service.CompareVersions(ctx, "trip_bali", domain.InitialVersionID, "ver_missing"); !errors.Is(err, ErrVersionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	if _, created, err := h.service.SaveVersion(ctx, SaveVersionCommand{TripID: "trip_bali", Label: "Nothing"}); err != nil || created {
		t.Fatalf("expected unchanged itinerary to skip the version, got created=%v err=%v", created, err)
	}

	state, err := h.service.SetAutoSave(ctx, "trip_bali", false)
	if err != nil || state.AutoSaveEnabled {
		t.Fatalf("expected auto-save disabled, got %+v %v", state, err)
	}
}

func TestTripPlannerService_ExportHistory(t *testing.T) {
	h := newPlannerHarness(t)
	ctx := context.Background()

	export, err := h.service.ExportHistory(ctx, "trip_bali")
	if err != nil {
		t.Fatalf("ExportHistory: %v", err)
	}
	if export.Object != "history/trip_bali.json" || h.exporter.tripID != "trip_bali" {
		t.Fatalf("unexpected export %+v", export)
	}
	var document struct {
		TripID  string              `json:"tripId"`
		History VersionHistoryState `json:"history"`
	}
	if err := json.Unmarshal(h.exporter.payload, &document); err != nil {
		t.Fatalf("decode export: %v", err)
	}
	if document.TripID != "trip_bali" || len(document.History.Versions) != 1 {
		t.Fatalf("unexpected export document %+v", document)
	}

	h.exporter.err = errors.New("bucket missing")
	if _, err := h.service.ExportHistory(ctx, "trip_bali"); !errors.Is(err, ErrHistoryExportUnavailable) {
		t.Fatalf("expected export unavailable, got %v", err)
	}

	bare, err := NewTripPlannerService(TripPlannerServiceDeps{Trips: h.trips, Sessions: memory.NewSessionRepository()})
	if err != nil {
		t.Fatalf("NewTripPlannerService: %v", err)
	}
	if _, err := bare.ExportHistory(ctx, "trip_bali"); !errors.Is(err, ErrHistoryExportUnavailable) {
		t.Fatalf("expected export unavailable without exporter, got %v", err)
	}
}

func TestTripPlannerService_AgentRequestLifecycle(t *testing.T) {
	h := newPlannerHarness(t)
	ctx := context.Background()

	request, err := h.service.SubmitAgentRequest(ctx, AgentRequestDraft{
		TripID:  "trip_bali",
		Type:    domain.AgentRequestSpecialRequest,
		Subject: "Anniversary",
		Message: "Flowers in the room, please.",
	})
	if err != nil {
		t.Fatalf("SubmitAgentRequest: %v", err)
	}

	updated, err := h.service.ApplyAgentResponse(ctx, AgentResponseUpdate{
		TripID:    "trip_bali",
		RequestID: request.ID,
		Status:    domain.AgentRequestRequiresInfo,
		Message:   "Which colour?",
	})
	if err != nil {
		t.Fatalf("ApplyAgentResponse: %v", err)
	}
	if updated.Status != domain.AgentRequestRequiresInfo {
		t.Fatalf("expected requires_info, got %s", updated.Status)
	}

	stored, err := h.sessions.Load(ctx, "trip_bali")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(stored.AgentRequests) != 1 || stored.AgentRequests[0].AgentResponse == nil {
		t.Fatalf("expected answered request in the store, got %+v", stored.AgentRequests)
	}
	if stored.Trip.Status != domain.TripStatusSent {
		t.Fatalf("expected sent status, got %s", stored.Trip.Status)
	}

	requests, err := h.service.ListAgentRequests(ctx, "trip_bali")
	if err != nil || len(requests) != 1 {
		t.Fatalf("expected one request, got %d %v", len(requests), err)
	}
}

func TestTripPlannerService_PersistFailuresAreLoggedAndFlushed(t *testing.T) {
	h := newPlannerHarness(t)
	ctx := context.Background()
	h.sessions.saveErr = repositories.NewStoreError("sessions.save", repositories.StoreErrorUnavailable, errors.New("redis down"))

	if _, err := h.service.SelectOption(ctx, SelectOptionCommand{TripID: "trip_bali", SlotID: "slot_hotel", OptionID: "suite", Acknowledge: true}); err != nil {
		t.Fatalf("expected persistence failure not to fail the selection, got %v", err)
	}
	if !h.hasEvent("planner.persist_failed") {
		t.Fatalf("expected persist failure log, got %v", h.events)
	}

	if err := h.service.FlushSessions(ctx); !errors.Is(err, ErrPlannerRepositoryUnavailable) {
		t.Fatalf("expected flush to surface the failure, got %v", err)
	}

	h.sessions.saveErr = nil
	if err := h.service.FlushSessions(ctx); err != nil {
		t.Fatalf("FlushSessions: %v", err)
	}
	state, err := h.sessions.Load(ctx, "trip_bali")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if state.Itinerary[0].Activities[1].SelectedOptionID != "suite" {
		t.Fatal("expected flush to store the latest selection")
	}

	h.sessions.saveErr = repositories.NewStoreError("sessions.save", repositories.StoreErrorConflict, errors.New("newer"))
	if err := h.service.FlushSessions(ctx); err != nil {
		t.Fatalf("expected stale-write conflicts to be ignored, got %v", err)
	}
}

func TestTripPlannerService_CloseReleasesSessions(t *testing.T) {
	h := newPlannerHarness(t)
	ctx := context.Background()
	if _, err := h.service.SelectOption(ctx, SelectOptionCommand{TripID: "trip_bali", SlotID: "slot_hotel", OptionID: "suite", Acknowledge: true}); err != nil {
		t.Fatalf("SelectOption: %v", err)
	}
	if len(h.scheduler.pending()) != 1 {
		t.Fatal("expected pending auto-save")
	}

	if err := h.service.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if h.service.ActiveSessions() != 0 {
		t.Fatalf("expected no active sessions, got %d", h.service.ActiveSessions())
	}
	if len(h.scheduler.pending()) != 0 {
		t.Fatal("expected close to cancel auto-save deadlines")
	}
}
