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

const (
	versionIDPrefix         = "ver_"
	defaultAutoSaveDelay    = 30 * time.Second
	initialVersionLabel     = "Original Itinerary"
	initialVersionNote      = "Agent's recommended itinerary"
	revertLabelFallback     = "Version"
	versionTimestampDisplay = "1/2/2006, 3:04:05 PM"
)

// ErrVersionHistoryInvalidState indicates a persisted history cannot be resumed.
var ErrVersionHistoryInvalidState = errors.New("version history: invalid state")

// ScheduledTask is a pending deferred callback.
type ScheduledTask interface {
	Stop() bool
}

// Scheduler runs single-shot deferred callbacks.
type Scheduler interface {
	AfterFunc(delay time.Duration, fn func()) ScheduledTask
}

// SchedulerFunc adapts a function to Scheduler.
type SchedulerFunc func(time.Duration, func()) ScheduledTask

// AfterFunc schedules fn using the wrapped function.
func (f SchedulerFunc) AfterFunc(delay time.Duration, fn func()) ScheduledTask {
	return f(delay, fn)
}

type timerScheduler struct{}

func (timerScheduler) AfterFunc(delay time.Duration, fn func()) ScheduledTask {
	return time.AfterFunc(delay, fn)
}

// ItineraryRestorer replaces the live itinerary when a version is reverted. Implementations must
// recompute pricing for the restored itinerary.
type ItineraryRestorer interface {
	RestoreItinerary(itinerary Itinerary)
}

// RestorerFunc adapts a function to ItineraryRestorer.
type RestorerFunc func(Itinerary)

// RestoreItinerary calls the wrapped function.
func (f RestorerFunc) RestoreItinerary(itinerary Itinerary) {
	f(itinerary)
}

// VersionHistoryDeps wires the collaborators of a VersionHistory. OnAutoSave is invoked outside
// the history lock after a deadline produced a version.
type VersionHistoryDeps struct {
	Restorer        ItineraryRestorer
	Scheduler       Scheduler
	Clock           func() time.Time
	IDGenerator     func() string
	AutoSaveDelay   time.Duration
	DisableAutoSave bool
	OnAutoSave      func(ItineraryVersion)
	Logger          func(context.Context, string, map[string]any)
}

// VersionHistory owns the append-only list of itinerary snapshots for one planning session. It is
// safe for concurrent use; the auto-save deadline fires on its own goroutine.
type VersionHistory struct {
	restorer   ItineraryRestorer
	scheduler  Scheduler
	clock      func() time.Time
	newID      func() string
	delay      time.Duration
	onAutoSave func(ItineraryVersion)
	logger     func(context.Context, string, map[string]any)

	mu             sync.Mutex
	versions       []ItineraryVersion
	currentID      string
	autoSave       bool
	lastAutoSaveAt *time.Time
	liveItinerary  Itinerary
	liveSummary    TripSummary
	pending        ScheduledTask
	generation     uint64
	closed         bool
}

// NewVersionHistory starts a history whose only version is the initial snapshot of the supplied
// itinerary and summary.
func NewVersionHistory(deps VersionHistoryDeps, itinerary Itinerary, summary TripSummary) (*VersionHistory, error) {
	h, err := newVersionHistory(deps)
	if err != nil {
		return nil, err
	}
	h.liveItinerary = itinerary.Clone()
	h.liveSummary = summary.Clone()
	h.autoSave = !deps.DisableAutoSave
	h.versions = []ItineraryVersion{{
		ID:                      domain.InitialVersionID,
		Timestamp:               h.clock(),
		Itinerary:               itinerary.Clone(),
		Summary:                 summary.Clone(),
		Label:                   initialVersionLabel,
		Note:                    initialVersionNote,
		IsAutoSave:              false,
		ChangesSinceLastVersion: []string{},
	}}
	h.currentID = domain.InitialVersionID
	return h, nil
}

// LoadVersionHistory resumes a persisted history. The live itinerary and summary are the state the
// host restored alongside it.
func LoadVersionHistory(deps VersionHistoryDeps, state VersionHistoryState, itinerary Itinerary, summary TripSummary) (*VersionHistory, error) {
	if len(state.Versions) == 0 {
		return nil, fmt.Errorf("%w: no versions", ErrVersionHistoryInvalidState)
	}
	h, err := newVersionHistory(deps)
	if err != nil {
		return nil, err
	}
	loaded := state.Clone()
	h.versions = loaded.Versions
	h.currentID = loaded.CurrentVersionID
	if _, ok := h.indexOf(h.currentID); !ok {
		h.currentID = h.versions[len(h.versions)-1].ID
	}
	h.autoSave = loaded.AutoSaveEnabled
	h.lastAutoSaveAt = loaded.LastAutoSaveAt
	h.liveItinerary = itinerary.Clone()
	h.liveSummary = summary.Clone()
	return h, nil
}

func newVersionHistory(deps VersionHistoryDeps) (*VersionHistory, error) {
	if deps.Restorer == nil {
		return nil, errors.New("version history: restorer is required")
	}
	scheduler := deps.Scheduler
	if scheduler == nil {
		scheduler = timerScheduler{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	delay := deps.AutoSaveDelay
	if delay <= 0 {
		delay = defaultAutoSaveDelay
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &VersionHistory{
		restorer:   deps.Restorer,
		scheduler:  scheduler,
		clock:      func() time.Time { return clock().UTC() },
		newID:      idGen,
		delay:      delay,
		onAutoSave: deps.OnAutoSave,
		logger:     logger,
	}, nil
}

// Track records the live itinerary after a mutation. With auto-save enabled the pending deadline
// is cancelled and a fresh one started.
func (h *VersionHistory) Track(itinerary Itinerary, summary TripSummary) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.liveItinerary = itinerary.Clone()
	h.liveSummary = summary.Clone()
	if h.autoSave && !h.closed {
		h.rescheduleLocked()
	}
}

// CreateVersion snapshots the live itinerary. Nothing is created when the itinerary has not
// changed since the most recent version.
func (h *VersionHistory) CreateVersion(label, note string, isAutoSave bool) (ItineraryVersion, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.createVersionLocked(label, note, isAutoSave)
}

func (h *VersionHistory) createVersionLocked(label, note string, isAutoSave bool) (ItineraryVersion, bool) {
	changes := []string{}
	if len(h.versions) > 0 {
		last := h.versions[len(h.versions)-1]
		changes = DiffItineraries(last.Itinerary, h.liveItinerary)
		if len(changes) == 0 {
			return ItineraryVersion{}, false
		}
	}

	now := h.clock()
	version := ItineraryVersion{
		ID:                      h.nextVersionID(),
		Timestamp:               now,
		Itinerary:               h.liveItinerary.Clone(),
		Summary:                 h.liveSummary.Clone(),
		Label:                   strings.TrimSpace(label),
		Note:                    strings.TrimSpace(note),
		IsAutoSave:              isAutoSave,
		ChangesSinceLastVersion: changes,
	}
	h.versions = append(h.versions, version)
	h.currentID = version.ID
	if isAutoSave {
		h.lastAutoSaveAt = &now
	}
	return version.Clone(), true
}

// SetAutoSaveEnabled toggles auto-save. Any pending deadline is cancelled; enabling starts a fresh
// deadline from the live itinerary.
func (h *VersionHistory) SetAutoSaveEnabled(enabled bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cancelPendingLocked()
	h.autoSave = enabled
	if enabled && !h.closed {
		h.rescheduleLocked()
	}
}

// AutoSaveEnabled reports whether auto-save is on.
func (h *VersionHistory) AutoSaveEnabled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.autoSave
}

// RevertToVersion restores the itinerary of the given version and records the revert as a new
// version, which becomes current. History is never truncated.
func (h *VersionHistory) RevertToVersion(versionID string) (ItineraryVersion, bool) {
	h.mu.Lock()
	idx, ok := h.indexOf(versionID)
	if !ok {
		h.mu.Unlock()
		return ItineraryVersion{}, false
	}
	target := h.versions[idx].Clone()
	h.mu.Unlock()

	h.restorer.RestoreItinerary(target.Itinerary.Clone())

	h.mu.Lock()
	defer h.mu.Unlock()
	h.currentID = target.ID

	label := target.Label
	if label == "" {
		label = revertLabelFallback
	}
	restoredAt := target.Timestamp.Format(versionTimestampDisplay)
	revert := ItineraryVersion{
		ID:                      h.nextVersionID(),
		Timestamp:               h.clock(),
		Itinerary:               target.Itinerary.Clone(),
		Summary:                 target.Summary.Clone(),
		Label:                   "Reverted to: " + label,
		Note:                    "Restored from version at " + restoredAt,
		IsAutoSave:              false,
		ChangesSinceLastVersion: []string{"Reverted to version from " + restoredAt},
	}
	h.versions = append(h.versions, revert)
	h.currentID = revert.ID
	h.liveItinerary = target.Itinerary.Clone()
	h.liveSummary = target.Summary.Clone()

	h.logger(context.Background(), "version_history.reverted", map[string]any{
		"targetVersionId": target.ID,
		"versionId":       revert.ID,
	})
	return revert.Clone(), true
}

// DeleteVersion removes a version. The initial version and the current version cannot be deleted.
func (h *VersionHistory) DeleteVersion(versionID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if versionID == domain.InitialVersionID || versionID == h.currentID {
		return false
	}
	idx, ok := h.indexOf(versionID)
	if !ok {
		return false
	}
	h.versions = slices.Delete(h.versions, idx, idx+1)
	return true
}

// UpdateVersionLabel replaces the label and note of a version without touching its snapshot.
func (h *VersionHistory) UpdateVersionLabel(versionID, label, note string) (ItineraryVersion, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	idx, ok := h.indexOf(versionID)
	if !ok {
		return ItineraryVersion{}, false
	}
	h.versions[idx].Label = strings.TrimSpace(label)
	h.versions[idx].Note = strings.TrimSpace(note)
	return h.versions[idx].Clone(), true
}

// CompareVersions diffs two versions in the order given. older and newer name the caller's
// arguments; timestamps are not consulted.
func (h *VersionHistory) CompareVersions(olderID, newerID string) (VersionComparison, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	olderIdx, okOlder := h.indexOf(olderID)
	newerIdx, okNewer := h.indexOf(newerID)
	if !okOlder || !okNewer {
		return VersionComparison{}, false
	}
	older := h.versions[olderIdx].Clone()
	newer := h.versions[newerIdx].Clone()
	delta := ComputeDeltas(older.Summary.PricingBreakdown, newer.Summary.PricingBreakdown)
	return VersionComparison{
		Changes:      DiffItineraries(older.Itinerary, newer.Itinerary),
		PriceDelta:   delta.PriceDelta,
		CreditsDelta: delta.CreditsDelta,
		PointsDelta:  delta.PointsDelta,
		OlderVersion: older,
		NewerVersion: newer,
	}, true
}

// Version returns a copy of the version with the given id.
func (h *VersionHistory) Version(versionID string) (ItineraryVersion, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	idx, ok := h.indexOf(versionID)
	if !ok {
		return ItineraryVersion{}, false
	}
	return h.versions[idx].Clone(), true
}

// CurrentVersion returns a copy of the active version.
func (h *VersionHistory) CurrentVersion() (ItineraryVersion, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	idx, ok := h.indexOf(h.currentID)
	if !ok {
		return ItineraryVersion{}, false
	}
	return h.versions[idx].Clone(), true
}

// Versions returns copies of all versions in creation order.
func (h *VersionHistory) Versions() []ItineraryVersion {
	return h.State().Versions
}

// State returns a deep copy of the history suitable for persistence.
func (h *VersionHistory) State() VersionHistoryState {
	h.mu.Lock()
	defer h.mu.Unlock()
	state := VersionHistoryState{
		Versions:         h.versions,
		CurrentVersionID: h.currentID,
		AutoSaveEnabled:  h.autoSave,
		LastAutoSaveAt:   h.lastAutoSaveAt,
	}
	return state.Clone()
}

// Close cancels any pending auto-save. A closed history never schedules again.
func (h *VersionHistory) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cancelPendingLocked()
	h.closed = true
}

func (h *VersionHistory) rescheduleLocked() {
	h.cancelPendingLocked()
	generation := h.generation
	h.pending = h.scheduler.AfterFunc(h.delay, func() {
		h.autoSaveFired(generation)
	})
}

func (h *VersionHistory) cancelPendingLocked() {
	if h.pending != nil {
		h.pending.Stop()
		h.pending = nil
	}
	h.generation++
}

func (h *VersionHistory) autoSaveFired(generation uint64) {
	h.mu.Lock()
	if generation != h.generation || !h.autoSave || h.closed {
		h.mu.Unlock()
		return
	}
	h.pending = nil
	version, created := h.createVersionLocked("", "", true)
	h.mu.Unlock()

	if !created {
		return
	}
	h.logger(context.Background(), "version_history.auto_saved", map[string]any{
		"versionId": version.ID,
		"changes":   len(version.ChangesSinceLastVersion),
	})
	if h.onAutoSave != nil {
		h.onAutoSave(version)
	}
}

func (h *VersionHistory) indexOf(versionID string) (int, bool) {
	idx := slices.IndexFunc(h.versions, func(v ItineraryVersion) bool { return v.ID == versionID })
	return idx, idx >= 0
}

func (h *VersionHistory) nextVersionID() string {
	return versionIDPrefix + strings.ToLower(strings.TrimSpace(h.newID()))
}
