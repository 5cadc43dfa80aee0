package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tripdesk/planner/internal/platform/httpx"
	"github.com/tripdesk/planner/internal/platform/idempotency"
	"github.com/tripdesk/planner/internal/platform/requestctx"
	"github.com/tripdesk/planner/internal/services"
)

// TripHandlers exposes the customer planning endpoints under /trips/{tripID}.
type TripHandlers struct {
	planner      services.TripPlannerService
	tripLimiter  rateLimiter
	agentLimiter rateLimiter
	idempotent   func(http.Handler) http.Handler
}

// TripHandlersOption customises TripHandlers.
type TripHandlersOption func(*TripHandlers)

// WithAgentRequestRateLimit throttles agent request submissions per trip.
func WithAgentRequestRateLimit(perMinute, burst int, clock func() time.Time) TripHandlersOption {
	return func(h *TripHandlers) {
		h.agentLimiter = newKeyedRateLimiter(perMinute, burst, clock)
	}
}

// WithTripRateLimit throttles every request addressed to one trip.
func WithTripRateLimit(perMinute int, clock func() time.Time) TripHandlersOption {
	return func(h *TripHandlers) {
		h.tripLimiter = newKeyedRateLimiter(perMinute, perMinute, clock)
	}
}

// WithIdempotency replays responses for retried agent requests and version saves.
func WithIdempotency(store idempotency.Store, opts ...idempotency.MiddlewareOption) TripHandlersOption {
	return func(h *TripHandlers) {
		if store != nil {
			h.idempotent = idempotency.Middleware(store, opts...)
		}
	}
}

// NewTripHandlers constructs the trip handlers backed by the planner service.
func NewTripHandlers(planner services.TripPlannerService, opts ...TripHandlersOption) *TripHandlers {
	h := &TripHandlers{
		planner:    planner,
		idempotent: func(next http.Handler) http.Handler { return next },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes wires the /trips endpoints onto the provided router.
func (h *TripHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Route("/{tripID}", func(trip chi.Router) {
		trip.Use(tripContext, h.throttleTrip)
		trip.Get("/", h.getTrip)

		trip.Post("/selections", h.selectOption)
		trip.Post("/selections:reset", h.resetSelections)
		trip.Post("/selections/{slotID}:revert", h.revertSelection)
		trip.Post("/price-lock", h.lockPrice)
		trip.Get("/changes", h.listChanges)
		trip.Get("/validation", h.validateItinerary)

		trip.Get("/versions", h.listVersions)
		trip.With(h.idempotent).Post("/versions", h.saveVersion)
		trip.Get("/versions:compare", h.compareVersions)
		trip.Post("/versions:export", h.exportHistory)
		trip.Patch("/versions/{versionID}", h.updateVersion)
		trip.Delete("/versions/{versionID}", h.deleteVersion)
		trip.Post("/versions/{versionID}:revert", h.revertVersion)
		trip.Put("/autosave", h.setAutoSave)

		trip.Get("/agent-requests", h.listAgentRequests)
		trip.With(h.idempotent).Post("/agent-requests", h.submitAgentRequest)
		trip.Post("/agent-requests/{requestID}/response", h.applyAgentResponse)
	})
}

func tripContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestctx.WithTripID(r.Context(), strings.TrimSpace(chi.URLParam(r, "tripID")))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *TripHandlers) throttleTrip(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.tripLimiter != nil && !h.tripLimiter.Allow(requestctx.TripID(r.Context())) {
			httpx.WriteError(r.Context(), w, httpx.NewError("rate_limited", "too many requests for this trip", http.StatusTooManyRequests).WithRetryAfter(time.Minute))
			return
		}
		next.ServeHTTP(w, r)
	})
}

type tripPayload struct {
	Trip             services.Trip             `json:"trip"`
	Summary          services.TripSummary      `json:"summary"`
	CurrentVersionID string                    `json:"currentVersionId"`
	AutoSaveEnabled  bool                      `json:"autoSaveEnabled"`
	ChangeLog        []services.ChangeLogEntry `json:"changeLog"`
}

type selectOptionRequest struct {
	SlotID      string `json:"slotId"`
	OptionID    string `json:"optionId"`
	Acknowledge bool   `json:"acknowledge"`
}

type selectionPayload struct {
	Committed  bool                      `json:"committed"`
	Summary    services.TripSummary      `json:"summary"`
	Validation services.ValidationResult `json:"validation"`
	Change     *services.ChangeLogEntry  `json:"change,omitempty"`
}

type lockPriceRequest struct {
	LockedBy string `json:"lockedBy"`
}

type changesPayload struct {
	services.ChangeReport
	ChangeLog []services.ChangeLogEntry `json:"changeLog"`
}

type versionRequest struct {
	Label string `json:"label"`
	Note  string `json:"note"`
}

type savedVersionPayload struct {
	Version services.ItineraryVersion `json:"version"`
	Created bool                      `json:"created"`
}

type autoSaveRequest struct {
	Enabled *bool `json:"enabled"`
}

type agentRequestPayload struct {
	Type            string   `json:"type"`
	Subject         string   `json:"subject"`
	Message         string   `json:"message"`
	CustomerChanges []string `json:"customerChanges"`
	PriceDelta      *int64   `json:"priceDelta"`
}

type submittedAgentRequestPayload struct {
	Request   services.AgentRequest `json:"request"`
	Delivered bool                  `json:"delivered"`
}

type agentResponsePayload struct {
	Status           string `json:"status"`
	Message          string `json:"message"`
	UpdatedItinerary bool   `json:"updatedItinerary"`
}

func (h *TripHandlers) getTrip(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(ctx, w) {
		return
	}
	view, err := h.planner.GetSession(ctx, chi.URLParam(r, "tripID"))
	if err != nil {
		writePlannerError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, tripPayload{
		Trip:             view.Trip,
		Summary:          view.Summary,
		CurrentVersionID: view.CurrentVersionID,
		AutoSaveEnabled:  view.AutoSaveEnabled,
		ChangeLog:        view.ChangeLog,
	})
}

func (h *TripHandlers) selectOption(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(ctx, w) {
		return
	}
	var req selectOptionRequest
	if err := decodeJSONBody(r, &req, false); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	outcome, err := h.planner.SelectOption(ctx, services.SelectOptionCommand{
		TripID:      chi.URLParam(r, "tripID"),
		SlotID:      req.SlotID,
		OptionID:    req.OptionID,
		Acknowledge: req.Acknowledge,
	})
	if err != nil {
		writeSelectionError(ctx, w, outcome, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, selectionPayload{
		Committed:  outcome.Committed,
		Summary:    outcome.Summary,
		Validation: outcome.Validation,
		Change:     outcome.Change,
	})
}

func (h *TripHandlers) resetSelections(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(ctx, w) {
		return
	}
	summary, err := h.planner.ResetAll(ctx, chi.URLParam(r, "tripID"))
	if err != nil {
		writePlannerError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"summary": summary})
}

func (h *TripHandlers) revertSelection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(ctx, w) {
		return
	}
	summary, err := h.planner.RevertItem(ctx, chi.URLParam(r, "tripID"), chi.URLParam(r, "slotID"))
	if err != nil {
		writePlannerError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"summary": summary})
}

func (h *TripHandlers) lockPrice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(ctx, w) {
		return
	}
	var req lockPriceRequest
	if err := decodeJSONBody(r, &req, true); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	summary, err := h.planner.LockPrice(ctx, services.LockPriceCommand{
		TripID:   chi.URLParam(r, "tripID"),
		LockedBy: strings.TrimSpace(req.LockedBy),
	})
	if err != nil {
		writePlannerError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"summary": summary})
}

func (h *TripHandlers) listChanges(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(ctx, w) {
		return
	}
	tripID := chi.URLParam(r, "tripID")
	report, err := h.planner.ListChanges(ctx, tripID)
	if err != nil {
		writePlannerError(ctx, w, err)
		return
	}
	view, err := h.planner.GetSession(ctx, tripID)
	if err != nil {
		writePlannerError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, changesPayload{ChangeReport: report, ChangeLog: view.ChangeLog})
}

func (h *TripHandlers) validateItinerary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(ctx, w) {
		return
	}
	result, err := h.planner.ValidateItinerary(ctx, chi.URLParam(r, "tripID"))
	if err != nil {
		writePlannerError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, result)
}

func (h *TripHandlers) listVersions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(ctx, w) {
		return
	}
	state, err := h.planner.ListVersions(ctx, chi.URLParam(r, "tripID"))
	if err != nil {
		writePlannerError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, state)
}

func (h *TripHandlers) saveVersion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(ctx, w) {
		return
	}
	var req versionRequest
	if err := decodeJSONBody(r, &req, true); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	version, created, err := h.planner.SaveVersion(ctx, services.SaveVersionCommand{
		TripID: chi.URLParam(r, "tripID"),
		Label:  req.Label,
		Note:   req.Note,
	})
	if err != nil {
		writePlannerError(ctx, w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSONResponse(w, status, savedVersionPayload{Version: version, Created: created})
}

func (h *TripHandlers) compareVersions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(ctx, w) {
		return
	}
	from := strings.TrimSpace(r.URL.Query().Get("from"))
	to := strings.TrimSpace(r.URL.Query().Get("to"))
	if from == "" || to == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "from and to query parameters are required", http.StatusBadRequest))
		return
	}
	comparison, err := h.planner.CompareVersions(ctx, chi.URLParam(r, "tripID"), from, to)
	if err != nil {
		writePlannerError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, comparison)
}

func (h *TripHandlers) exportHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(ctx, w) {
		return
	}
	export, err := h.planner.ExportHistory(ctx, chi.URLParam(r, "tripID"))
	if err != nil {
		writePlannerError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, export)
}

func (h *TripHandlers) updateVersion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(ctx, w) {
		return
	}
	var req versionRequest
	if err := decodeJSONBody(r, &req, false); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	version, err := h.planner.UpdateVersionLabel(ctx, services.UpdateVersionLabelCommand{
		TripID:    chi.URLParam(r, "tripID"),
		VersionID: chi.URLParam(r, "versionID"),
		Label:     req.Label,
		Note:      req.Note,
	})
	if err != nil {
		writePlannerError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, version)
}

func (h *TripHandlers) deleteVersion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(ctx, w) {
		return
	}
	if err := h.planner.DeleteVersion(ctx, chi.URLParam(r, "tripID"), chi.URLParam(r, "versionID")); err != nil {
		writePlannerError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *TripHandlers) revertVersion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(ctx, w) {
		return
	}
	version, err := h.planner.RevertToVersion(ctx, chi.URLParam(r, "tripID"), chi.URLParam(r, "versionID"))
	if err != nil {
		writePlannerError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, version)
}

func (h *TripHandlers) setAutoSave(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(ctx, w) {
		return
	}
	var req autoSaveRequest
	if err := decodeJSONBody(r, &req, false); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	if req.Enabled == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "enabled is required", http.StatusBadRequest))
		return
	}
	state, err := h.planner.SetAutoSave(ctx, chi.URLParam(r, "tripID"), *req.Enabled)
	if err != nil {
		writePlannerError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, state)
}

func (h *TripHandlers) listAgentRequests(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(ctx, w) {
		return
	}
	requests, err := h.planner.ListAgentRequests(ctx, chi.URLParam(r, "tripID"))
	if err != nil {
		writePlannerError(ctx, w, err)
		return
	}
	if requests == nil {
		requests = []services.AgentRequest{}
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"requests": requests})
}

func (h *TripHandlers) submitAgentRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(ctx, w) {
		return
	}
	tripID := strings.TrimSpace(chi.URLParam(r, "tripID"))
	if h.agentLimiter != nil && !h.agentLimiter.Allow(tripID) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many agent requests; try again later", http.StatusTooManyRequests).WithRetryAfter(time.Minute))
		return
	}

	var req agentRequestPayload
	if err := decodeJSONBody(r, &req, false); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	request, err := h.planner.SubmitAgentRequest(ctx, services.AgentRequestDraft{
		TripID:          tripID,
		Type:            services.AgentRequestType(strings.TrimSpace(req.Type)),
		Subject:         req.Subject,
		Message:         req.Message,
		CustomerChanges: req.CustomerChanges,
		PriceDelta:      req.PriceDelta,
	})
	switch {
	case err == nil:
		writeJSONResponse(w, http.StatusCreated, submittedAgentRequestPayload{Request: request, Delivered: true})
	case errors.Is(err, services.ErrAgentTransportUnavailable) && request.ID != "":
		writeJSONResponse(w, http.StatusAccepted, submittedAgentRequestPayload{Request: request, Delivered: false})
	default:
		writePlannerError(ctx, w, err)
	}
}

func (h *TripHandlers) applyAgentResponse(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(ctx, w) {
		return
	}
	var req agentResponsePayload
	if err := decodeJSONBody(r, &req, false); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	request, err := h.planner.ApplyAgentResponse(ctx, services.AgentResponseUpdate{
		TripID:           chi.URLParam(r, "tripID"),
		RequestID:        chi.URLParam(r, "requestID"),
		Status:           services.AgentRequestStatus(strings.TrimSpace(req.Status)),
		Message:          req.Message,
		UpdatedItinerary: req.UpdatedItinerary,
	})
	if err != nil {
		writePlannerError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, request)
}

func (h *TripHandlers) ready(ctx context.Context, w http.ResponseWriter) bool {
	if h.planner == nil {
		httpx.WriteError(ctx, w, httpx.NewError("planner_unavailable", "trip planner is unavailable", http.StatusServiceUnavailable))
		return false
	}
	return true
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, errBodyTooLarge) {
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		return
	}
	httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
}

func writeSelectionError(ctx context.Context, w http.ResponseWriter, outcome services.SelectionOutcome, err error) {
	details := map[string]any{
		"validation":       outcome.Validation,
		"requiresApproval": outcome.RequiresApproval,
	}
	switch {
	case errors.Is(err, services.ErrAgentApprovalRequired):
		httpx.WriteError(ctx, w, httpx.NewError("agent_approval_required", "this change needs your agent's approval", http.StatusForbidden).WithDetails(details))
	case errors.Is(err, services.ErrSelectionBlocked):
		httpx.WriteError(ctx, w, httpx.NewError("selection_blocked", "this option cannot be selected", http.StatusConflict).WithDetails(details))
	case errors.Is(err, services.ErrConfirmationRequired):
		httpx.WriteError(ctx, w, httpx.NewError("confirmation_required", "review the warnings and resubmit with acknowledge set", http.StatusConflict).WithDetails(details))
	default:
		writePlannerError(ctx, w, err)
	}
}

func writePlannerError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrPlannerInvalidInput), errors.Is(err, services.ErrAgentRequestInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrPlannerNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("trip_not_found", "trip not found", http.StatusNotFound))
	case errors.Is(err, services.ErrSlotNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("slot_not_found", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrVersionNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("version_not_found", "version not found", http.StatusNotFound))
	case errors.Is(err, services.ErrAgentRequestNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("agent_request_not_found", "agent request not found", http.StatusNotFound))
	case errors.Is(err, services.ErrVersionNotDeletable):
		httpx.WriteError(ctx, w, httpx.NewError("version_not_deletable", "the initial and current versions cannot be deleted", http.StatusConflict))
	case errors.Is(err, services.ErrAgentApprovalRequired):
		httpx.WriteError(ctx, w, httpx.NewError("agent_approval_required", "this change needs your agent's approval", http.StatusForbidden))
	case errors.Is(err, services.ErrHistoryExportUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("history_export_unavailable", "history export is unavailable", http.StatusServiceUnavailable))
	case errors.Is(err, services.ErrPlannerRepositoryUnavailable), errors.Is(err, services.ErrAgentTransportUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("planner_unavailable", "trip planner is unavailable", http.StatusServiceUnavailable))
	case errors.Is(err, context.DeadlineExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("timeout", "request timed out", http.StatusGatewayTimeout))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("planner_error", "failed to process trip request", http.StatusInternalServerError))
	}
}
