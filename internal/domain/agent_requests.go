package domain

import (
	"slices"
	"time"
)

// AgentRequestType classifies a customer request to the agent.
type AgentRequestType string

const (
	AgentRequestCustomOption   AgentRequestType = "custom_option"
	AgentRequestDateChange     AgentRequestType = "date_change"
	AgentRequestDestinationAdd AgentRequestType = "destination_add"
	AgentRequestGroupChange    AgentRequestType = "group_change"
	AgentRequestSpecialRequest AgentRequestType = "special_request"
	AgentRequestGeneral        AgentRequestType = "general"
)

// IsValid reports whether the type is known.
func (t AgentRequestType) IsValid() bool {
	switch t {
	case AgentRequestCustomOption, AgentRequestDateChange, AgentRequestDestinationAdd,
		AgentRequestGroupChange, AgentRequestSpecialRequest, AgentRequestGeneral:
		return true
	}
	return false
}

// AgentRequestStatus tracks the agent's handling of a request.
type AgentRequestStatus string

const (
	AgentRequestPending      AgentRequestStatus = "pending"
	AgentRequestApproved     AgentRequestStatus = "approved"
	AgentRequestRejected     AgentRequestStatus = "rejected"
	AgentRequestRequiresInfo AgentRequestStatus = "requires_info"
)

// IsValid reports whether the status is known.
func (s AgentRequestStatus) IsValid() bool {
	switch s {
	case AgentRequestPending, AgentRequestApproved, AgentRequestRejected, AgentRequestRequiresInfo:
		return true
	}
	return false
}

// AgentResponse is the agent's reply to a request.
type AgentResponse struct {
	Message          string    `json:"message"`
	RespondedAt      time.Time `json:"respondedAt"`
	UpdatedItinerary bool      `json:"updatedItinerary"`
}

// AgentRequest is a customer-initiated message to the travel agent.
type AgentRequest struct {
	ID              string             `json:"id"`
	TripID          string             `json:"tripId,omitempty"`
	Type            AgentRequestType   `json:"type"`
	Subject         string             `json:"subject"`
	Message         string             `json:"message"`
	CreatedAt       time.Time          `json:"createdAt"`
	Status          AgentRequestStatus `json:"status"`
	CustomerChanges []string           `json:"customerChanges,omitempty"`
	PriceDelta      *int64             `json:"priceDelta,omitempty"`
	AgentResponse   *AgentResponse     `json:"agentResponse,omitempty"`
}

// Clone returns a deep copy of the request.
func (r AgentRequest) Clone() AgentRequest {
	out := r
	out.CustomerChanges = slices.Clone(r.CustomerChanges)
	out.PriceDelta = clonePtr(r.PriceDelta)
	out.AgentResponse = clonePtr(r.AgentResponse)
	return out
}
