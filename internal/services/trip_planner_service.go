package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/tripdesk/planner/internal/repositories"
)

var (
	// ErrVersionNotFound indicates the version id is unknown to the session.
	ErrVersionNotFound = errors.New("planner: version not found")
	// ErrVersionNotDeletable indicates the initial or current version was targeted for deletion.
	ErrVersionNotDeletable = errors.New("planner: version cannot be deleted")
	// ErrHistoryExportUnavailable indicates no history exporter is configured.
	ErrHistoryExportUnavailable = errors.New("planner: history export unavailable")
)

const (
	instrumentationName     = "github.com/tripdesk/planner/internal/services"
	defaultSessionIdleTTL   = 30 * time.Minute
	defaultFlushConcurrency = 8
	evictionPersistTimeout  = 10 * time.Second
)

// TripPlannerServiceDeps wires the collaborators of the trip planner service.
type TripPlannerServiceDeps struct {
	Trips            repositories.TripRepository
	Sessions         repositories.SessionRepository
	Pricing          *ItineraryPricingEngine
	Transport        AgentTransport
	Exporter         HistoryExporter
	Scheduler        Scheduler
	Clock            func() time.Time
	IDGenerator      func() string
	AutoSaveDelay    time.Duration
	DisableAutoSave  bool
	QuoteTTL         time.Duration
	SessionIdleTTL   time.Duration
	FlushConcurrency int
	Tracer           trace.Tracer
	Meter            metric.Meter
	Logger           func(context.Context, string, map[string]any)
}

type plannerMetrics struct {
	selections    metric.Int64Counter
	versions      metric.Int64Counter
	agentRequests metric.Int64Counter
	persistErrors metric.Int64Counter
}

type tripPlannerService struct {
	trips       repositories.TripRepository
	sessions    repositories.SessionRepository
	exporter    HistoryExporter
	sessionDeps PlanningSessionDeps
	concurrency int
	tracer      trace.Tracer
	metrics     plannerMetrics
	clock       func() time.Time
	logger      func(context.Context, string, map[string]any)

	openMu sync.Mutex
	active *cache.Cache
}

var _ TripPlannerService = (*tripPlannerService)(nil)

// NewTripPlannerService constructs the planner service. Open sessions stay in memory until they
// have been idle for SessionIdleTTL, after which they are persisted and released.
func NewTripPlannerService(deps TripPlannerServiceDeps) (TripPlannerService, error) {
	if deps.Trips == nil {
		return nil, errors.New("trip planner service: trip repository is required")
	}
	if deps.Sessions == nil {
		return nil, errors.New("trip planner service: session repository is required")
	}
	pricing := deps.Pricing
	if pricing == nil {
		pricing = NewItineraryPricingEngine(PricingEngineDeps{Logger: deps.Logger})
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer(instrumentationName)
	}
	meter := deps.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(instrumentationName)
	}
	metrics, err := newPlannerMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("trip planner service: metrics: %w", err)
	}
	idleTTL := deps.SessionIdleTTL
	if idleTTL <= 0 {
		idleTTL = defaultSessionIdleTTL
	}
	concurrency := deps.FlushConcurrency
	if concurrency <= 0 {
		concurrency = defaultFlushConcurrency
	}

	svc := &tripPlannerService{
		trips:       deps.Trips,
		sessions:    deps.Sessions,
		exporter:    deps.Exporter,
		concurrency: concurrency,
		tracer:      tracer,
		metrics:     metrics,
		clock:       func() time.Time { return clock().UTC() },
		logger:      logger,
		active:      cache.New(idleTTL, idleTTL/2),
	}
	svc.sessionDeps = PlanningSessionDeps{
		Pricing:         pricing,
		Transport:       deps.Transport,
		Scheduler:       deps.Scheduler,
		Clock:           clock,
		IDGenerator:     deps.IDGenerator,
		AutoSaveDelay:   deps.AutoSaveDelay,
		DisableAutoSave: deps.DisableAutoSave,
		QuoteTTL:        deps.QuoteTTL,
		OnAutoSave:      svc.onAutoSave,
		Logger:          deps.Logger,
	}
	svc.active.OnEvicted(svc.onEvicted)
	return svc, nil
}

func newPlannerMetrics(meter metric.Meter) (plannerMetrics, error) {
	selections, err := meter.Int64Counter("planner.selections",
		metric.WithDescription("Selection attempts by outcome"))
	if err != nil {
		return plannerMetrics{}, err
	}
	versions, err := meter.Int64Counter("planner.versions.created",
		metric.WithDescription("Versions created by kind"))
	if err != nil {
		return plannerMetrics{}, err
	}
	agentRequests, err := meter.Int64Counter("planner.agent_requests",
		metric.WithDescription("Agent requests submitted and answered"))
	if err != nil {
		return plannerMetrics{}, err
	}
	persistErrors, err := meter.Int64Counter("planner.persist.errors",
		metric.WithDescription("Session saves that failed"))
	if err != nil {
		return plannerMetrics{}, err
	}
	return plannerMetrics{
		selections:    selections,
		versions:      versions,
		agentRequests: agentRequests,
		persistErrors: persistErrors,
	}, nil
}

func (s *tripPlannerService) GetSession(ctx context.Context, tripID string) (SessionView, error) {
	ctx, span := s.startSpan(ctx, "GetSession", tripID)
	defer span.End()

	session, err := s.session(ctx, tripID)
	if err != nil {
		return SessionView{}, s.fail(span, err)
	}
	history := session.History()
	return SessionView{
		Trip:             session.Trip(),
		Summary:          session.Summary(ctx),
		CurrentVersionID: history.CurrentVersionID,
		AutoSaveEnabled:  history.AutoSaveEnabled,
		ChangeLog:        session.ChangeLog(),
	}, nil
}

func (s *tripPlannerService) SelectOption(ctx context.Context, cmd SelectOptionCommand) (SelectionOutcome, error) {
	ctx, span := s.startSpan(ctx, "SelectOption", cmd.TripID)
	defer span.End()
	span.SetAttributes(attribute.String("planner.slot_id", cmd.SlotID), attribute.String("planner.option_id", cmd.OptionID))

	session, err := s.session(ctx, cmd.TripID)
	if err != nil {
		return SelectionOutcome{}, s.fail(span, err)
	}
	outcome, err := session.SelectOption(ctx, cmd)
	s.metrics.selections.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", selectionOutcomeLabel(outcome, err))))
	if err != nil {
		return outcome, s.fail(span, err)
	}
	if outcome.Committed {
		s.persist(ctx, session)
	}
	return outcome, nil
}

func (s *tripPlannerService) RevertItem(ctx context.Context, tripID, slotID string) (TripSummary, error) {
	ctx, span := s.startSpan(ctx, "RevertItem", tripID)
	defer span.End()

	session, err := s.session(ctx, tripID)
	if err != nil {
		return TripSummary{}, s.fail(span, err)
	}
	summary, err := session.RevertItem(ctx, slotID)
	if err != nil {
		return TripSummary{}, s.fail(span, err)
	}
	s.persist(ctx, session)
	return summary, nil
}

func (s *tripPlannerService) ResetAll(ctx context.Context, tripID string) (TripSummary, error) {
	ctx, span := s.startSpan(ctx, "ResetAll", tripID)
	defer span.End()

	session, err := s.session(ctx, tripID)
	if err != nil {
		return TripSummary{}, s.fail(span, err)
	}
	summary := session.ResetAll(ctx)
	s.persist(ctx, session)
	return summary, nil
}

func (s *tripPlannerService) LockPrice(ctx context.Context, cmd LockPriceCommand) (TripSummary, error) {
	ctx, span := s.startSpan(ctx, "LockPrice", cmd.TripID)
	defer span.End()

	session, err := s.session(ctx, cmd.TripID)
	if err != nil {
		return TripSummary{}, s.fail(span, err)
	}
	summary := session.LockPrice(ctx, cmd.LockedBy)
	s.persist(ctx, session)
	return summary, nil
}

func (s *tripPlannerService) ListChanges(ctx context.Context, tripID string) (ChangeReport, error) {
	ctx, span := s.startSpan(ctx, "ListChanges", tripID)
	defer span.End()

	session, err := s.session(ctx, tripID)
	if err != nil {
		return ChangeReport{}, s.fail(span, err)
	}
	report := session.ModifiedItems()
	return ChangeReport{
		ModifiedItemsReport: report,
		Lines:               CustomerChangeLines(report),
		PriceImpact:         FormatPriceImpact(report.TotalPriceDelta),
	}, nil
}

func (s *tripPlannerService) ValidateItinerary(ctx context.Context, tripID string) (ValidationResult, error) {
	ctx, span := s.startSpan(ctx, "ValidateItinerary", tripID)
	defer span.End()

	session, err := s.session(ctx, tripID)
	if err != nil {
		return ValidationResult{}, s.fail(span, err)
	}
	return session.ValidateItinerary(), nil
}

func (s *tripPlannerService) ListVersions(ctx context.Context, tripID string) (VersionHistoryState, error) {
	ctx, span := s.startSpan(ctx, "ListVersions", tripID)
	defer span.End()

	session, err := s.session(ctx, tripID)
	if err != nil {
		return VersionHistoryState{}, s.fail(span, err)
	}
	return session.History(), nil
}

func (s *tripPlannerService) SaveVersion(ctx context.Context, cmd SaveVersionCommand) (ItineraryVersion, bool, error) {
	ctx, span := s.startSpan(ctx, "SaveVersion", cmd.TripID)
	defer span.End()

	session, err := s.session(ctx, cmd.TripID)
	if err != nil {
		return ItineraryVersion{}, false, s.fail(span, err)
	}
	version, created := session.SaveVersion(cmd.Label, cmd.Note)
	if created {
		s.metrics.versions.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", "manual")))
		s.persist(ctx, session)
	}
	return version, created, nil
}

func (s *tripPlannerService) RevertToVersion(ctx context.Context, tripID, versionID string) (ItineraryVersion, error) {
	ctx, span := s.startSpan(ctx, "RevertToVersion", tripID)
	defer span.End()

	session, err := s.session(ctx, tripID)
	if err != nil {
		return ItineraryVersion{}, s.fail(span, err)
	}
	version, ok := session.RevertToVersion(strings.TrimSpace(versionID))
	if !ok {
		return ItineraryVersion{}, s.fail(span, fmt.Errorf("%w: %s", ErrVersionNotFound, versionID))
	}
	s.metrics.versions.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", "revert")))
	s.persist(ctx, session)
	return version, nil
}

func (s *tripPlannerService) DeleteVersion(ctx context.Context, tripID, versionID string) error {
	ctx, span := s.startSpan(ctx, "DeleteVersion", tripID)
	defer span.End()

	session, err := s.session(ctx, tripID)
	if err != nil {
		return s.fail(span, err)
	}
	versionID = strings.TrimSpace(versionID)
	if !session.DeleteVersion(versionID) {
		history := session.History()
		for _, version := range history.Versions {
			if version.ID == versionID {
				return s.fail(span, fmt.Errorf("%w: %s", ErrVersionNotDeletable, versionID))
			}
		}
		return s.fail(span, fmt.Errorf("%w: %s", ErrVersionNotFound, versionID))
	}
	s.persist(ctx, session)
	return nil
}

func (s *tripPlannerService) UpdateVersionLabel(ctx context.Context, cmd UpdateVersionLabelCommand) (ItineraryVersion, error) {
	ctx, span := s.startSpan(ctx, "UpdateVersionLabel", cmd.TripID)
	defer span.End()

	session, err := s.session(ctx, cmd.TripID)
	if err != nil {
		return ItineraryVersion{}, s.fail(span, err)
	}
	version, ok := session.UpdateVersionLabel(strings.TrimSpace(cmd.VersionID), cmd.Label, cmd.Note)
	if !ok {
		return ItineraryVersion{}, s.fail(span, fmt.Errorf("%w: %s", ErrVersionNotFound, cmd.VersionID))
	}
	s.persist(ctx, session)
	return version, nil
}

func (s *tripPlannerService) CompareVersions(ctx context.Context, tripID, olderID, newerID string) (VersionComparison, error) {
	ctx, span := s.startSpan(ctx, "CompareVersions", tripID)
	defer span.End()

	session, err := s.session(ctx, tripID)
	if err != nil {
		return VersionComparison{}, s.fail(span, err)
	}
	comparison, ok := session.CompareVersions(strings.TrimSpace(olderID), strings.TrimSpace(newerID))
	if !ok {
		return VersionComparison{}, s.fail(span, fmt.Errorf("%w: %s or %s", ErrVersionNotFound, olderID, newerID))
	}
	return comparison, nil
}

func (s *tripPlannerService) SetAutoSave(ctx context.Context, tripID string, enabled bool) (VersionHistoryState, error) {
	ctx, span := s.startSpan(ctx, "SetAutoSave", tripID)
	defer span.End()

	session, err := s.session(ctx, tripID)
	if err != nil {
		return VersionHistoryState{}, s.fail(span, err)
	}
	state := session.SetAutoSave(enabled)
	s.persist(ctx, session)
	return state, nil
}

func (s *tripPlannerService) ExportHistory(ctx context.Context, tripID string) (HistoryExport, error) {
	ctx, span := s.startSpan(ctx, "ExportHistory", tripID)
	defer span.End()

	if s.exporter == nil {
		return HistoryExport{}, s.fail(span, ErrHistoryExportUnavailable)
	}
	session, err := s.session(ctx, tripID)
	if err != nil {
		return HistoryExport{}, s.fail(span, err)
	}
	payload, err := json.Marshal(historyExportDocument{
		TripID:     session.TripID(),
		ExportedAt: s.clock(),
		History:    session.History(),
		ChangeLog:  session.ChangeLog(),
	})
	if err != nil {
		return HistoryExport{}, s.fail(span, fmt.Errorf("trip planner service: encode history: %w", err))
	}
	export, err := s.exporter.ExportHistory(ctx, session.TripID(), payload)
	if err != nil {
		return HistoryExport{}, s.fail(span, fmt.Errorf("%w: %v", ErrHistoryExportUnavailable, err))
	}
	return export, nil
}

type historyExportDocument struct {
	TripID     string              `json:"tripId"`
	ExportedAt time.Time           `json:"exportedAt"`
	History    VersionHistoryState `json:"history"`
	ChangeLog  []ChangeLogEntry    `json:"changeLog"`
}

func (s *tripPlannerService) ListAgentRequests(ctx context.Context, tripID string) ([]AgentRequest, error) {
	ctx, span := s.startSpan(ctx, "ListAgentRequests", tripID)
	defer span.End()

	session, err := s.session(ctx, tripID)
	if err != nil {
		return nil, s.fail(span, err)
	}
	return session.AgentRequests(), nil
}

// SubmitAgentRequest records the request even when delivery fails; the returned error then wraps
// ErrAgentTransportUnavailable alongside a populated request.
func (s *tripPlannerService) SubmitAgentRequest(ctx context.Context, draft AgentRequestDraft) (AgentRequest, error) {
	ctx, span := s.startSpan(ctx, "SubmitAgentRequest", draft.TripID)
	defer span.End()

	session, err := s.session(ctx, draft.TripID)
	if err != nil {
		return AgentRequest{}, s.fail(span, err)
	}
	request, err := session.SubmitAgentRequest(ctx, draft)
	if request.ID != "" {
		s.metrics.agentRequests.Add(ctx, 1, metric.WithAttributes(attribute.String("event", "submitted")))
		s.persist(ctx, session)
	}
	if err != nil {
		return request, s.fail(span, err)
	}
	return request, nil
}

func (s *tripPlannerService) ApplyAgentResponse(ctx context.Context, update AgentResponseUpdate) (AgentRequest, error) {
	ctx, span := s.startSpan(ctx, "ApplyAgentResponse", update.TripID)
	defer span.End()

	session, err := s.session(ctx, update.TripID)
	if err != nil {
		return AgentRequest{}, s.fail(span, err)
	}
	request, err := session.ApplyAgentResponse(ctx, update)
	if err != nil {
		return AgentRequest{}, s.fail(span, err)
	}
	s.metrics.agentRequests.Add(ctx, 1, metric.WithAttributes(attribute.String("event", string(request.Status))))
	s.persist(ctx, session)
	return request, nil
}

// FlushSessions saves every open session.
func (s *tripPlannerService) FlushSessions(ctx context.Context) error {
	items := s.active.Items()
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.concurrency)

	var (
		mu   sync.Mutex
		errs []error
	)
	for tripID, item := range items {
		session, ok := item.Object.(*PlanningSession)
		if !ok {
			continue
		}
		group.Go(func() error {
			if err := s.save(groupCtx, session); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", tripID, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = group.Wait()
	return errors.Join(errs...)
}

// ActiveSessions reports how many sessions are held in memory.
func (s *tripPlannerService) ActiveSessions() int {
	return s.active.ItemCount()
}

// Close flushes and releases every open session.
func (s *tripPlannerService) Close(ctx context.Context) error {
	err := s.FlushSessions(ctx)
	for _, item := range s.active.Items() {
		if session, ok := item.Object.(*PlanningSession); ok {
			session.Close()
		}
	}
	s.active.Flush()
	return err
}

func (s *tripPlannerService) session(ctx context.Context, tripID string) (*PlanningSession, error) {
	tripID = strings.TrimSpace(tripID)
	if tripID == "" {
		return nil, fmt.Errorf("%w: trip id is required", ErrPlannerInvalidInput)
	}
	if session, ok := s.cached(tripID); ok {
		return session, nil
	}

	s.openMu.Lock()
	defer s.openMu.Unlock()
	if session, ok := s.cached(tripID); ok {
		return session, nil
	}

	var session *PlanningSession
	state, err := s.sessions.Load(ctx, tripID)
	switch {
	case err == nil:
		session, err = ResumePlanningSession(ctx, s.sessionDeps, state)
		if err != nil {
			return nil, err
		}
	case isRepositoryNotFound(err):
		trip, findErr := s.trips.FindByID(ctx, tripID)
		if findErr != nil {
			return nil, s.mapRepositoryError(findErr)
		}
		session, err = StartPlanningSession(ctx, s.sessionDeps, trip)
		if err != nil {
			return nil, err
		}
		s.logger(ctx, "planner.session_started", map[string]any{"tripId": tripID})
		s.persist(ctx, session)
	default:
		return nil, s.mapRepositoryError(err)
	}

	s.active.Set(tripID, session, cache.DefaultExpiration)
	return session, nil
}

// Re-setting the entry on every hit keeps the idle deadline sliding.
func (s *tripPlannerService) cached(tripID string) (*PlanningSession, bool) {
	value, ok := s.active.Get(tripID)
	if !ok {
		return nil, false
	}
	session, ok := value.(*PlanningSession)
	if !ok {
		return nil, false
	}
	s.active.Set(tripID, session, cache.DefaultExpiration)
	return session, true
}

// Persistence failures are logged rather than returned; the periodic flush retries them.
func (s *tripPlannerService) persist(ctx context.Context, session *PlanningSession) {
	if err := s.save(ctx, session); err != nil {
		s.logger(ctx, "planner.persist_failed", map[string]any{
			"tripId": session.TripID(),
			"error":  err.Error(),
		})
	}
}

func (s *tripPlannerService) save(ctx context.Context, session *PlanningSession) error {
	err := s.sessions.Save(ctx, session.Snapshot())
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsConflict() {
		// A newer snapshot of the same session already landed.
		return nil
	}
	s.metrics.persistErrors.Add(ctx, 1)
	return s.mapRepositoryError(err)
}

func (s *tripPlannerService) onAutoSave(tripID string, version ItineraryVersion) {
	ctx, cancel := context.WithTimeout(context.Background(), evictionPersistTimeout)
	defer cancel()
	s.metrics.versions.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", "auto")))
	if session, ok := s.peek(tripID); ok {
		s.persist(ctx, session)
	}
	s.logger(ctx, "planner.auto_saved", map[string]any{"tripId": tripID, "versionId": version.ID})
}

func (s *tripPlannerService) onEvicted(tripID string, value any) {
	session, ok := value.(*PlanningSession)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), evictionPersistTimeout)
	defer cancel()
	session.Close()
	s.persist(ctx, session)
	s.logger(ctx, "planner.session_released", map[string]any{"tripId": tripID})
}

func (s *tripPlannerService) peek(tripID string) (*PlanningSession, bool) {
	value, ok := s.active.Get(tripID)
	if !ok {
		return nil, false
	}
	session, ok := value.(*PlanningSession)
	return session, ok
}

func (s *tripPlannerService) startSpan(ctx context.Context, operation, tripID string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "planner."+operation, trace.WithAttributes(attribute.String("planner.trip_id", strings.TrimSpace(tripID))))
}

func (s *tripPlannerService) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func (s *tripPlannerService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrPlannerNotFound, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrPlannerRepositoryUnavailable, err)
		}
	}
	return err
}

func isRepositoryNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func selectionOutcomeLabel(outcome SelectionOutcome, err error) string {
	switch {
	case err == nil && outcome.Committed:
		return "committed"
	case err == nil:
		return "unchanged"
	case errors.Is(err, ErrAgentApprovalRequired):
		return "approval_required"
	case errors.Is(err, ErrSelectionBlocked):
		return "blocked"
	case errors.Is(err, ErrConfirmationRequired):
		return "confirmation_required"
	default:
		return "error"
	}
}
