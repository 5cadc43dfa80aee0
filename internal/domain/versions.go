package domain

import (
	"slices"
	"time"
)

// InitialVersionID identifies the synthetic version created when a planning session starts.
const InitialVersionID = "initial"

// ItineraryVersion is an immutable snapshot of the itinerary and its summary. Only Label and Note
// may change after creation.
type ItineraryVersion struct {
	ID                      string      `json:"id"`
	Timestamp               time.Time   `json:"timestamp"`
	Itinerary               Itinerary   `json:"itinerary"`
	Summary                 TripSummary `json:"summary"`
	Label                   string      `json:"label,omitempty"`
	Note                    string      `json:"note,omitempty"`
	IsAutoSave              bool        `json:"isAutoSave"`
	ChangesSinceLastVersion []string    `json:"changesSinceLastVersion"`
}

// Clone returns a deep copy of the version.
func (v ItineraryVersion) Clone() ItineraryVersion {
	out := v
	out.Itinerary = v.Itinerary.Clone()
	out.Summary = v.Summary.Clone()
	out.ChangesSinceLastVersion = slices.Clone(v.ChangesSinceLastVersion)
	return out
}

// VersionHistoryState is the persisted form of a session's version history.
type VersionHistoryState struct {
	Versions         []ItineraryVersion `json:"versions"`
	CurrentVersionID string             `json:"currentVersionId"`
	AutoSaveEnabled  bool               `json:"autoSaveEnabled"`
	LastAutoSaveAt   *time.Time         `json:"lastAutoSaveAt,omitempty"`
}

// Clone returns a deep copy where no two versions share memory.
func (s VersionHistoryState) Clone() VersionHistoryState {
	out := s
	if s.Versions != nil {
		out.Versions = make([]ItineraryVersion, len(s.Versions))
		for i, version := range s.Versions {
			out.Versions[i] = version.Clone()
		}
	}
	out.LastAutoSaveAt = clonePtr(s.LastAutoSaveAt)
	return out
}

// VersionComparison is the result of comparing two versions in caller order.
type VersionComparison struct {
	Changes      []string         `json:"changes"`
	PriceDelta   int64            `json:"priceDelta"`
	CreditsDelta int64            `json:"creditsDelta"`
	PointsDelta  int64            `json:"pointsDelta"`
	OlderVersion ItineraryVersion `json:"olderVersion"`
	NewerVersion ItineraryVersion `json:"newerVersion"`
}

// ChangeField names what a change log entry modified.
type ChangeField string

const (
	ChangeFieldSelectedOption ChangeField = "selectedOption"
	ChangeFieldDates          ChangeField = "dates"
	ChangeFieldParticipants   ChangeField = "participants"
	ChangeFieldNotes          ChangeField = "notes"
)

// ChangeLogEntry records one committed customer edit.
type ChangeLogEntry struct {
	ID                 string      `json:"id"`
	Timestamp          time.Time   `json:"timestamp"`
	ActivitySlotID     string      `json:"activitySlotId"`
	FieldChanged       ChangeField `json:"fieldChanged"`
	PreviousValue      string      `json:"previousValue"`
	NewValue           string      `json:"newValue"`
	PriceDelta         int64       `json:"priceDelta"`
	StatusCreditsDelta int64       `json:"statusCreditsDelta"`
	SocietePointsDelta int64       `json:"societePointsDelta"`
}
