package domain

import (
	"slices"
	"time"
)

// TripStatus tracks where a trip is in the agent/customer workflow.
type TripStatus string

const (
	TripStatusDraft    TripStatus = "draft"
	TripStatusSent     TripStatus = "sent"
	TripStatusModified TripStatus = "modified"
	TripStatusApproved TripStatus = "approved"
	TripStatusBooked   TripStatus = "booked"
)

// TripStats is the headline count shown for a trip.
type TripStats struct {
	Days        int `json:"days"`
	Stays       int `json:"stays"`
	Experiences int `json:"experiences"`
}

// Trip is an agent-authored itinerary offered to a customer.
type Trip struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Location  string     `json:"location"`
	Creator   string     `json:"creator"`
	CreatedAt time.Time  `json:"createdAt"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	Stats     TripStats  `json:"stats"`
	Itinerary Itinerary  `json:"itinerary"`
	Status    TripStatus `json:"status"`
}

// Clone returns a deep copy of the trip.
func (t Trip) Clone() Trip {
	out := t
	out.ExpiresAt = clonePtr(t.ExpiresAt)
	out.Itinerary = t.Itinerary.Clone()
	return out
}

// PlanningSessionState is everything needed to resume a customer's planning session.
type PlanningSessionState struct {
	TripID        string              `json:"tripId"`
	Trip          Trip                `json:"trip"`
	Itinerary     Itinerary           `json:"itinerary"`
	PriceLock     PriceLockState      `json:"priceLock"`
	History       VersionHistoryState `json:"history"`
	ChangeLog     []ChangeLogEntry    `json:"changeLog"`
	AgentRequests []AgentRequest      `json:"agentRequests"`
	StartedAt     time.Time           `json:"startedAt"`
	UpdatedAt     time.Time           `json:"updatedAt"`
}

// PriceLockState is the persisted price-lock metadata of a session.
type PriceLockState struct {
	QuoteExpiresAt time.Time  `json:"quoteExpiresAt"`
	Locked         bool       `json:"locked"`
	LockedAt       *time.Time `json:"lockedAt,omitempty"`
	LockedBy       string     `json:"lockedBy,omitempty"`
	LastModified   *time.Time `json:"lastModified,omitempty"`
}

// Clone returns a deep copy of the session state.
func (s PlanningSessionState) Clone() PlanningSessionState {
	out := s
	out.Trip = s.Trip.Clone()
	out.Itinerary = s.Itinerary.Clone()
	out.PriceLock.LockedAt = clonePtr(s.PriceLock.LockedAt)
	out.PriceLock.LastModified = clonePtr(s.PriceLock.LastModified)
	out.History = s.History.Clone()
	out.ChangeLog = slices.Clone(s.ChangeLog)
	if s.AgentRequests != nil {
		out.AgentRequests = make([]AgentRequest, len(s.AgentRequests))
		for i, request := range s.AgentRequests {
			out.AgentRequests[i] = request.Clone()
		}
	}
	return out
}
