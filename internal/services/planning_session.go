package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/tripdesk/planner/internal/domain"
)

var (
	// ErrPlannerInvalidInput indicates the caller supplied malformed arguments.
	ErrPlannerInvalidInput = errors.New("planner: invalid input")
	// ErrPlannerNotFound indicates the trip does not exist.
	ErrPlannerNotFound = errors.New("planner: not found")
	// ErrSlotNotFound indicates the itinerary has no activity slot with the given id.
	ErrSlotNotFound = errors.New("planner: slot not found")
	// ErrSelectionBlocked indicates validation produced an error-severity warning.
	ErrSelectionBlocked = errors.New("planner: selection blocked by validation")
	// ErrConfirmationRequired indicates the selection carries warnings the customer has not acknowledged.
	ErrConfirmationRequired = errors.New("planner: selection requires confirmation")
	// ErrAgentApprovalRequired indicates the selection must be routed through the agent.
	ErrAgentApprovalRequired = errors.New("planner: agent approval required")
	// ErrPlannerRepositoryUnavailable signals that persistence dependencies are unavailable.
	ErrPlannerRepositoryUnavailable = errors.New("planner: repository unavailable")
)

const (
	changeLogIDPrefix = "chg_"
	defaultQuoteTTL   = 24 * time.Hour
)

// SelectOptionCommand asks to change a slot's selection.
type SelectOptionCommand struct {
	TripID      string
	SlotID      string
	OptionID    string
	Acknowledge bool
}

// SelectionOutcome reports what happened to a selection attempt. Validation is populated whenever
// the candidate option could be validated, including when the selection was refused.
type SelectionOutcome struct {
	Validation       ValidationResult
	RequiresApproval bool
	Committed        bool
	Summary          TripSummary
	Change           *ChangeLogEntry
}

// PlanningSessionDeps wires the collaborators of a PlanningSession.
type PlanningSessionDeps struct {
	Pricing         *ItineraryPricingEngine
	Transport       AgentTransport
	Scheduler       Scheduler
	Clock           func() time.Time
	IDGenerator     func() string
	AutoSaveDelay   time.Duration
	DisableAutoSave bool
	QuoteTTL        time.Duration
	OnAutoSave      func(tripID string, version ItineraryVersion)
	Logger          func(context.Context, string, map[string]any)
}

// PlanningSession is one customer's editing session over a trip. A single mutex serialises every
// write to the live itinerary and the version list.
type PlanningSession struct {
	pricing *ItineraryPricingEngine
	history *VersionHistory
	desk    *AgentRequestDesk
	clock   func() time.Time
	newID   func() string
	logger  func(context.Context, string, map[string]any)

	mu        sync.Mutex
	trip      Trip
	itinerary Itinerary
	original  PricingBreakdown
	priceLock PriceLockState
	changeLog []ChangeLogEntry
	startedAt time.Time
	updatedAt time.Time
}

// StartPlanningSession opens a fresh session over an agent-authored trip.
func StartPlanningSession(ctx context.Context, deps PlanningSessionDeps, trip Trip) (*PlanningSession, error) {
	if strings.TrimSpace(trip.ID) == "" {
		return nil, fmt.Errorf("%w: trip id is required", ErrPlannerInvalidInput)
	}
	if err := checkItineraryShape(trip.Itinerary); err != nil {
		return nil, err
	}
	s, err := newPlanningSession(deps)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	ttl := deps.QuoteTTL
	if ttl <= 0 {
		ttl = defaultQuoteTTL
	}
	s.trip = trip.Clone()
	if s.trip.Status == "" {
		s.trip.Status = domain.TripStatusDraft
	}
	s.itinerary = trip.Itinerary.Clone()
	s.original = s.pricing.ComputeOriginalBreakdown(ctx, s.itinerary)
	s.priceLock = PriceLockState{QuoteExpiresAt: now.Add(ttl)}
	s.changeLog = []ChangeLogEntry{}
	s.startedAt = now
	s.updatedAt = now
	s.desk = NewAgentRequestDesk(s.deskDeps(deps), nil)

	history, err := NewVersionHistory(s.historyDeps(deps), s.itinerary, s.summaryLocked(ctx))
	if err != nil {
		return nil, err
	}
	s.history = history
	s.refreshStatusLocked()
	return s, nil
}

// ResumePlanningSession rebuilds a session from persisted state.
func ResumePlanningSession(ctx context.Context, deps PlanningSessionDeps, state PlanningSessionState) (*PlanningSession, error) {
	if strings.TrimSpace(state.TripID) == "" {
		return nil, fmt.Errorf("%w: trip id is required", ErrPlannerInvalidInput)
	}
	s, err := newPlanningSession(deps)
	if err != nil {
		return nil, err
	}
	loaded := state.Clone()
	s.trip = loaded.Trip
	s.trip.ID = loaded.TripID
	s.itinerary = loaded.Itinerary
	s.original = s.pricing.ComputeOriginalBreakdown(ctx, s.itinerary)
	s.priceLock = loaded.PriceLock
	s.changeLog = loaded.ChangeLog
	if s.changeLog == nil {
		s.changeLog = []ChangeLogEntry{}
	}
	s.startedAt = loaded.StartedAt
	s.updatedAt = loaded.UpdatedAt
	s.desk = NewAgentRequestDesk(s.deskDeps(deps), loaded.AgentRequests)

	history, err := LoadVersionHistory(s.historyDeps(deps), loaded.History, s.itinerary, s.summaryLocked(ctx))
	if err != nil {
		return nil, err
	}
	s.history = history
	return s, nil
}

func newPlanningSession(deps PlanningSessionDeps) (*PlanningSession, error) {
	if deps.Pricing == nil {
		return nil, errors.New("planning session: pricing engine is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &PlanningSession{
		pricing: deps.Pricing,
		clock:   func() time.Time { return clock().UTC() },
		newID:   idGen,
		logger:  logger,
	}, nil
}

func (s *PlanningSession) historyDeps(deps PlanningSessionDeps) VersionHistoryDeps {
	tripID := s.trip.ID
	onAutoSave := func(version ItineraryVersion) {
		s.mu.Lock()
		s.touchLocked()
		s.mu.Unlock()
		if deps.OnAutoSave != nil {
			deps.OnAutoSave(tripID, version)
		}
	}
	return VersionHistoryDeps{
		// Invoked by RevertToVersion while the session lock is held.
		Restorer:        RestorerFunc(s.restoreLocked),
		Scheduler:       deps.Scheduler,
		Clock:           s.clock,
		IDGenerator:     s.newID,
		AutoSaveDelay:   deps.AutoSaveDelay,
		DisableAutoSave: deps.DisableAutoSave,
		OnAutoSave:      onAutoSave,
		Logger:          deps.Logger,
	}
}

func (s *PlanningSession) deskDeps(deps PlanningSessionDeps) AgentRequestDeskDeps {
	return AgentRequestDeskDeps{
		Transport:   deps.Transport,
		Clock:       s.clock,
		IDGenerator: s.newID,
		Logger:      deps.Logger,
	}
}

// TripID identifies the session.
func (s *PlanningSession) TripID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trip.ID
}

// Trip returns the trip header with the live itinerary.
func (s *PlanningSession) Trip() Trip {
	s.mu.Lock()
	defer s.mu.Unlock()
	trip := s.trip.Clone()
	trip.Itinerary = s.itinerary.Clone()
	return trip
}

// Itinerary returns a copy of the live itinerary.
func (s *PlanningSession) Itinerary() Itinerary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.itinerary.Clone()
}

// Summary recomputes the trip summary from the live itinerary.
func (s *PlanningSession) Summary(ctx context.Context) TripSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summaryLocked(ctx)
}

// SelectOption validates and commits a new selection for a slot. Refusals return the outcome
// together with ErrAgentApprovalRequired, ErrSelectionBlocked or ErrConfirmationRequired.
func (s *PlanningSession) SelectOption(ctx context.Context, cmd SelectOptionCommand) (SelectionOutcome, error) {
	slotID := strings.TrimSpace(cmd.SlotID)
	optionID := strings.TrimSpace(cmd.OptionID)
	if slotID == "" || optionID == "" {
		return SelectionOutcome{}, fmt.Errorf("%w: slot id and option id are required", ErrPlannerInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dayIdx, slotIdx, ok := s.itinerary.FindSlot(slotID)
	if !ok {
		return SelectionOutcome{}, fmt.Errorf("%w: %s", ErrSlotNotFound, slotID)
	}
	slot := s.itinerary[dayIdx].Activities[slotIdx]

	outcome := SelectionOutcome{
		Validation:       ValidationResult{IsValid: true, Warnings: []ValidationWarning{}},
		RequiresApproval: RequiresAgentApproval(slot, optionID),
	}
	option, curated := slot.FindOption(optionID)
	if !curated || slot.Locked {
		outcome.Summary = s.summaryLocked(ctx)
		return outcome, fmt.Errorf("%w: slot %s", ErrAgentApprovalRequired, slotID)
	}
	if slot.SelectedOptionID == optionID {
		outcome.Summary = s.summaryLocked(ctx)
		return outcome, nil
	}

	outcome.Validation = ValidateOptionSelection(slot, option, s.itinerary)
	if !outcome.Validation.IsValid {
		outcome.Summary = s.summaryLocked(ctx)
		return outcome, fmt.Errorf("%w: %s", ErrSelectionBlocked, option.Name)
	}
	if outcome.Validation.NeedsConfirmation() && !cmd.Acknowledge {
		outcome.Summary = s.summaryLocked(ctx)
		return outcome, fmt.Errorf("%w: %d warning(s)", ErrConfirmationRequired, len(outcome.Validation.Warnings))
	}

	entry, _ := s.applySelectionLocked(dayIdx, slotIdx, optionID)
	outcome.Committed = true
	outcome.Change = entry
	outcome.Summary = s.commitLocked(ctx)

	s.logger(ctx, "planner.option_selected", map[string]any{
		"tripId":   s.trip.ID,
		"slotId":   slotID,
		"optionId": optionID,
		"warnings": len(outcome.Validation.Warnings),
	})
	return outcome, nil
}

// RevertItem puts a slot back on the agent's recommended option.
func (s *PlanningSession) RevertItem(ctx context.Context, slotID string) (TripSummary, error) {
	slotID = strings.TrimSpace(slotID)
	s.mu.Lock()
	defer s.mu.Unlock()

	dayIdx, slotIdx, ok := s.itinerary.FindSlot(slotID)
	if !ok {
		return TripSummary{}, fmt.Errorf("%w: %s", ErrSlotNotFound, slotID)
	}
	slot := s.itinerary[dayIdx].Activities[slotIdx]
	if _, changed := s.applySelectionLocked(dayIdx, slotIdx, slot.AgentRecommendedOptionID); !changed {
		return s.summaryLocked(ctx), nil
	}
	return s.commitLocked(ctx), nil
}

// ResetAll puts every slot back on the agent's recommended option.
func (s *PlanningSession) ResetAll(ctx context.Context) TripSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	for di := range s.itinerary {
		for si := range s.itinerary[di].Activities {
			target := s.itinerary[di].Activities[si].AgentRecommendedOptionID
			if _, ok := s.applySelectionLocked(di, si, target); ok {
				changed = true
			}
		}
	}
	if !changed {
		return s.summaryLocked(ctx)
	}
	return s.commitLocked(ctx)
}

// LockPrice locks the current quote. Locking an already locked quote keeps the original lock.
func (s *PlanningSession) LockPrice(ctx context.Context, lockedBy string) TripSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.priceLock.Locked {
		now := s.clock()
		s.priceLock.Locked = true
		s.priceLock.LockedAt = &now
		s.priceLock.LockedBy = strings.TrimSpace(lockedBy)
		s.touchLocked()
		s.logger(ctx, "planner.price_locked", map[string]any{"tripId": s.trip.ID})
	}
	return s.summaryLocked(ctx)
}

// ModifiedItems lists the slots that differ from the agent's plan.
func (s *PlanningSession) ModifiedItems() ModifiedItemsReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ListModifiedItems(s.itinerary)
}

// ChangeLog returns the committed edits in order.
func (s *PlanningSession) ChangeLog() []ChangeLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.changeLog)
}

// ValidateItinerary validates every current selection.
func (s *PlanningSession) ValidateItinerary() ValidationResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ValidateItinerary(s.itinerary)
}

// SaveVersion creates a manual checkpoint. It reports false when nothing changed since the last
// version.
func (s *PlanningSession) SaveVersion(label, note string) (ItineraryVersion, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	version, created := s.history.CreateVersion(label, note, false)
	if created {
		s.touchLocked()
	}
	return version, created
}

// RevertToVersion restores a version's itinerary and records the revert in the history.
func (s *PlanningSession) RevertToVersion(versionID string) (ItineraryVersion, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.RevertToVersion(versionID)
}

// DeleteVersion removes a version from the history.
func (s *PlanningSession) DeleteVersion(versionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.history.DeleteVersion(versionID) {
		return false
	}
	s.touchLocked()
	return true
}

// UpdateVersionLabel renames a version.
func (s *PlanningSession) UpdateVersionLabel(versionID, label, note string) (ItineraryVersion, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	version, ok := s.history.UpdateVersionLabel(versionID, label, note)
	if ok {
		s.touchLocked()
	}
	return version, ok
}

// CompareVersions diffs two versions in caller order.
func (s *PlanningSession) CompareVersions(olderID, newerID string) (VersionComparison, bool) {
	return s.history.CompareVersions(olderID, newerID)
}

// SetAutoSave toggles auto-save for the session.
func (s *PlanningSession) SetAutoSave(enabled bool) VersionHistoryState {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history.SetAutoSaveEnabled(enabled)
	s.touchLocked()
	return s.history.State()
}

// History returns the version history state.
func (s *PlanningSession) History() VersionHistoryState {
	return s.history.State()
}

// SubmitAgentRequest sends a request to the agent, attaching the current change lines and price
// impact when the draft does not carry its own.
func (s *PlanningSession) SubmitAgentRequest(ctx context.Context, draft AgentRequestDraft) (AgentRequest, error) {
	s.mu.Lock()
	draft.TripID = s.trip.ID
	if draft.CustomerChanges == nil {
		draft.CustomerChanges = CustomerChangeLines(ListModifiedItems(s.itinerary))
	}
	if draft.PriceDelta == nil {
		current := s.pricing.ComputeBreakdown(ctx, s.itinerary)
		delta := current.Subtotal - s.original.Subtotal
		draft.PriceDelta = &delta
	}
	s.mu.Unlock()

	// Published without the session lock held.
	request, err := s.desk.Submit(ctx, draft)
	if err != nil && !errors.Is(err, ErrAgentTransportUnavailable) {
		return AgentRequest{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// A reply may have been applied while the request was in flight.
	if current, ok := s.desk.Request(request.ID); !ok || current.Status == domain.AgentRequestPending {
		s.trip.Status = domain.TripStatusSent
	}
	s.touchLocked()
	return request, err
}

// ApplyAgentResponse records the agent's reply to one of this session's requests.
func (s *PlanningSession) ApplyAgentResponse(ctx context.Context, update AgentResponseUpdate) (AgentRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	request, err := s.desk.ApplyResponse(ctx, update)
	if err != nil {
		return AgentRequest{}, err
	}
	switch request.Status {
	case domain.AgentRequestApproved:
		s.trip.Status = domain.TripStatusApproved
	case domain.AgentRequestRejected, domain.AgentRequestRequiresInfo:
		s.trip.Status = domain.TripStatusSent
	}
	s.touchLocked()
	return request, nil
}

// AgentRequests lists the session's requests in submission order.
func (s *PlanningSession) AgentRequests() []AgentRequest {
	return s.desk.Requests()
}

// HasAgentRequest reports whether the session owns the request.
func (s *PlanningSession) HasAgentRequest(requestID string) bool {
	_, ok := s.desk.Request(requestID)
	return ok
}

// Snapshot captures the session for persistence.
func (s *PlanningSession) Snapshot() PlanningSessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := PlanningSessionState{
		TripID:        s.trip.ID,
		Trip:          s.trip,
		Itinerary:     s.itinerary,
		PriceLock:     s.priceLock,
		History:       s.history.State(),
		ChangeLog:     s.changeLog,
		AgentRequests: s.desk.Requests(),
		StartedAt:     s.startedAt,
		UpdatedAt:     s.updatedAt,
	}
	return state.Clone()
}

// Close stops the auto-save deadline.
func (s *PlanningSession) Close() {
	s.history.Close()
}

func (s *PlanningSession) applySelectionLocked(dayIdx, slotIdx int, optionID string) (*ChangeLogEntry, bool) {
	slot := &s.itinerary[dayIdx].Activities[slotIdx]
	if slot.SelectedOptionID == optionID {
		return nil, false
	}
	previous, _ := slot.SelectedOption()
	next, _ := slot.FindOption(optionID)
	entry := ChangeLogEntry{
		ID:                 changeLogIDPrefix + strings.ToLower(strings.TrimSpace(s.newID())),
		Timestamp:          s.clock(),
		ActivitySlotID:     slot.ID,
		FieldChanged:       domain.ChangeFieldSelectedOption,
		PreviousValue:      slot.SelectedOptionID,
		NewValue:           optionID,
		PriceDelta:         next.Price - previous.Price,
		StatusCreditsDelta: next.StatusCredits - previous.StatusCredits,
		SocietePointsDelta: next.SocietePoints - previous.SocietePoints,
	}
	slot.SelectedOptionID = optionID
	s.changeLog = append(s.changeLog, entry)
	return &entry, true
}

func (s *PlanningSession) commitLocked(ctx context.Context) TripSummary {
	now := s.clock()
	s.touchLocked()
	s.priceLock.LastModified = &now
	s.refreshStatusLocked()
	summary := s.summaryLocked(ctx)
	s.history.Track(s.itinerary, summary)
	return summary
}

func (s *PlanningSession) restoreLocked(itinerary Itinerary) {
	s.itinerary = itinerary.Clone()
	now := s.clock()
	s.touchLocked()
	s.priceLock.LastModified = &now
	s.refreshStatusLocked()
	s.history.Track(s.itinerary, s.summaryLocked(context.Background()))
}

// touchLocked advances updatedAt strictly, so a snapshot taken before this mutation always
// orders before the one taken after it.
func (s *PlanningSession) touchLocked() {
	now := s.clock()
	if !now.After(s.updatedAt) {
		now = s.updatedAt.Add(time.Microsecond)
	}
	s.updatedAt = now
}

func (s *PlanningSession) summaryLocked(ctx context.Context) TripSummary {
	return s.pricing.Summarize(ctx, s.itinerary, s.original, s.priceLock)
}

func (s *PlanningSession) refreshStatusLocked() {
	switch s.trip.Status {
	case domain.TripStatusDraft, domain.TripStatusModified:
		if CountChanges(s.itinerary) > 0 {
			s.trip.Status = domain.TripStatusModified
		} else {
			s.trip.Status = domain.TripStatusDraft
		}
	}
}

// Day numbers must run 1..n in order.
func checkItineraryShape(itinerary Itinerary) error {
	for i, day := range itinerary {
		if day.DayNumber != i+1 {
			return fmt.Errorf("%w: day %d has day number %d", ErrPlannerInvalidInput, i+1, day.DayNumber)
		}
	}
	return nil
}
