package services

import (
	"context"
	"time"

	domain "github.com/tripdesk/planner/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Itinerary            = domain.Itinerary
	DayItinerary         = domain.DayItinerary
	ActivitySlot         = domain.ActivitySlot
	ActivityType         = domain.ActivityType
	Option               = domain.Option
	PricingBreakdown     = domain.PricingBreakdown
	LineItem             = domain.LineItem
	LineItemCategory     = domain.LineItemCategory
	CategoryBreakdown    = domain.CategoryBreakdown
	DayBreakdown         = domain.DayBreakdown
	PricingDelta         = domain.PricingDelta
	TripSummary          = domain.TripSummary
	ItineraryVersion     = domain.ItineraryVersion
	VersionHistoryState  = domain.VersionHistoryState
	VersionComparison    = domain.VersionComparison
	ChangeLogEntry       = domain.ChangeLogEntry
	ValidationWarning    = domain.ValidationWarning
	ValidationResult     = domain.ValidationResult
	AgentRequest         = domain.AgentRequest
	AgentResponse        = domain.AgentResponse
	AgentRequestType     = domain.AgentRequestType
	AgentRequestStatus   = domain.AgentRequestStatus
	Trip                 = domain.Trip
	PlanningSessionState = domain.PlanningSessionState
	PriceLockState       = domain.PriceLockState
	SystemHealthReport   = domain.SystemHealthReport
)

// TripPlannerService hosts customer planning sessions: selection edits, pricing, version history
// and agent requests, each keyed by trip id.
type TripPlannerService interface {
	GetSession(ctx context.Context, tripID string) (SessionView, error)
	SelectOption(ctx context.Context, cmd SelectOptionCommand) (SelectionOutcome, error)
	RevertItem(ctx context.Context, tripID, slotID string) (TripSummary, error)
	ResetAll(ctx context.Context, tripID string) (TripSummary, error)
	LockPrice(ctx context.Context, cmd LockPriceCommand) (TripSummary, error)
	ListChanges(ctx context.Context, tripID string) (ChangeReport, error)
	ValidateItinerary(ctx context.Context, tripID string) (ValidationResult, error)

	ListVersions(ctx context.Context, tripID string) (VersionHistoryState, error)
	SaveVersion(ctx context.Context, cmd SaveVersionCommand) (ItineraryVersion, bool, error)
	RevertToVersion(ctx context.Context, tripID, versionID string) (ItineraryVersion, error)
	DeleteVersion(ctx context.Context, tripID, versionID string) error
	UpdateVersionLabel(ctx context.Context, cmd UpdateVersionLabelCommand) (ItineraryVersion, error)
	CompareVersions(ctx context.Context, tripID, olderID, newerID string) (VersionComparison, error)
	SetAutoSave(ctx context.Context, tripID string, enabled bool) (VersionHistoryState, error)
	ExportHistory(ctx context.Context, tripID string) (HistoryExport, error)

	ListAgentRequests(ctx context.Context, tripID string) ([]AgentRequest, error)
	SubmitAgentRequest(ctx context.Context, draft AgentRequestDraft) (AgentRequest, error)
	ApplyAgentResponse(ctx context.Context, update AgentResponseUpdate) (AgentRequest, error)

	FlushSessions(ctx context.Context) error
	ActiveSessions() int
	Close(ctx context.Context) error
}

// SystemService reports service health.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// HistoryExporter archives a session's version history outside the session store.
type HistoryExporter interface {
	ExportHistory(ctx context.Context, tripID string, payload []byte) (HistoryExport, error)
}

// Command and DTO definitions ------------------------------------------------

// SessionView is the read model returned when a customer opens a trip.
type SessionView struct {
	Trip             Trip             `json:"trip"`
	Summary          TripSummary      `json:"summary"`
	CurrentVersionID string           `json:"currentVersionId"`
	AutoSaveEnabled  bool             `json:"autoSaveEnabled"`
	ChangeLog        []ChangeLogEntry `json:"changeLog"`
}

// ChangeReport lists how the customer's itinerary departs from the agent's plan.
type ChangeReport struct {
	ModifiedItemsReport
	Lines       []string `json:"lines"`
	PriceImpact string   `json:"priceImpact"`
}

type LockPriceCommand struct {
	TripID   string
	LockedBy string
}

type SaveVersionCommand struct {
	TripID string
	Label  string
	Note   string
}

type UpdateVersionLabelCommand struct {
	TripID    string
	VersionID string
	Label     string
	Note      string
}

// HistoryExport locates an archived history document.
type HistoryExport struct {
	Bucket       string     `json:"bucket"`
	Object       string     `json:"object"`
	Size         int64      `json:"size"`
	ExportedAt   time.Time  `json:"exportedAt"`
	DownloadURL  string     `json:"downloadUrl,omitempty"`
	URLExpiresAt *time.Time `json:"urlExpiresAt,omitempty"`
}
