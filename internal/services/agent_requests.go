package services

import (
	"context"
	"errors"
	"fmt"
	"html"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	domain "github.com/tripdesk/planner/internal/domain"
)

var (
	// ErrAgentRequestInvalidInput indicates the request draft or response is malformed.
	ErrAgentRequestInvalidInput = errors.New("agent request: invalid input")
	// ErrAgentRequestNotFound indicates no request exists with the given id.
	ErrAgentRequestNotFound = errors.New("agent request: not found")
	// ErrAgentTransportUnavailable indicates the request was recorded but could not be delivered.
	ErrAgentTransportUnavailable = errors.New("agent request: transport unavailable")
)

const (
	agentRequestIDPrefix   = "req_"
	maxAgentSubjectLength  = 200
	maxAgentMessageLength  = 4000
	maxAgentResponseLength = 4000
)

// AgentTransport hands submitted requests to whatever reaches the human agent. Responses arrive
// later through ApplyResponse.
type AgentTransport interface {
	DeliverAgentRequest(ctx context.Context, request AgentRequest) error
}

// AgentTransportFunc adapts a function to AgentTransport.
type AgentTransportFunc func(context.Context, AgentRequest) error

// DeliverAgentRequest calls the wrapped function.
func (f AgentTransportFunc) DeliverAgentRequest(ctx context.Context, request AgentRequest) error {
	return f(ctx, request)
}

// AgentRequestDraft is what the customer composes before submitting.
type AgentRequestDraft struct {
	TripID          string
	Type            AgentRequestType
	Subject         string
	Message         string
	CustomerChanges []string
	PriceDelta      *int64
}

// AgentResponseUpdate is an asynchronous reply from the agent keyed by request id.
type AgentResponseUpdate struct {
	TripID           string
	RequestID        string
	Status           AgentRequestStatus
	Message          string
	UpdatedItinerary bool
}

// AgentRequestDeskDeps wires the collaborators of an AgentRequestDesk.
type AgentRequestDeskDeps struct {
	Transport   AgentTransport
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(context.Context, string, map[string]any)
}

// AgentRequestDesk records customer requests to the agent and applies the agent's replies.
type AgentRequestDesk struct {
	transport AgentTransport
	policy    *bluemonday.Policy
	clock     func() time.Time
	newID     func() string
	logger    func(context.Context, string, map[string]any)

	mu       sync.Mutex
	requests []AgentRequest
}

// NewAgentRequestDesk constructs a desk seeded with previously recorded requests.
func NewAgentRequestDesk(deps AgentRequestDeskDeps, existing []AgentRequest) *AgentRequestDesk {
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
	requests := make([]AgentRequest, 0, len(existing))
	for _, request := range existing {
		requests = append(requests, request.Clone())
	}
	return &AgentRequestDesk{
		transport: deps.Transport,
		policy:    bluemonday.StrictPolicy(),
		clock:     func() time.Time { return clock().UTC() },
		newID:     idGen,
		logger:    logger,
		requests:  requests,
	}
}

// Submit records a pending request and hands it to the transport. When delivery fails the request
// stays recorded as pending and the returned error wraps ErrAgentTransportUnavailable.
func (d *AgentRequestDesk) Submit(ctx context.Context, draft AgentRequestDraft) (AgentRequest, error) {
	requestType := AgentRequestType(strings.TrimSpace(string(draft.Type)))
	if requestType == "" {
		requestType = domain.AgentRequestGeneral
	}
	if !requestType.IsValid() {
		return AgentRequest{}, fmt.Errorf("%w: unsupported type %q", ErrAgentRequestInvalidInput, draft.Type)
	}
	subject := d.sanitize(draft.Subject)
	if subject == "" {
		return AgentRequest{}, fmt.Errorf("%w: subject is required", ErrAgentRequestInvalidInput)
	}
	if len([]rune(subject)) > maxAgentSubjectLength {
		return AgentRequest{}, fmt.Errorf("%w: subject exceeds %d characters", ErrAgentRequestInvalidInput, maxAgentSubjectLength)
	}
	message := d.sanitize(draft.Message)
	if message == "" {
		return AgentRequest{}, fmt.Errorf("%w: message is required", ErrAgentRequestInvalidInput)
	}
	if len([]rune(message)) > maxAgentMessageLength {
		return AgentRequest{}, fmt.Errorf("%w: message exceeds %d characters", ErrAgentRequestInvalidInput, maxAgentMessageLength)
	}

	request := AgentRequest{
		ID:              agentRequestIDPrefix + strings.ToLower(strings.TrimSpace(d.newID())),
		TripID:          strings.TrimSpace(draft.TripID),
		Type:            requestType,
		Subject:         subject,
		Message:         message,
		CreatedAt:       d.clock(),
		Status:          domain.AgentRequestPending,
		CustomerChanges: slices.Clone(draft.CustomerChanges),
	}
	if draft.PriceDelta != nil {
		delta := *draft.PriceDelta
		request.PriceDelta = &delta
	}

	d.mu.Lock()
	d.requests = append(d.requests, request)
	d.mu.Unlock()

	d.logger(ctx, "agent_request.submitted", map[string]any{
		"requestId": request.ID,
		"type":      string(request.Type),
		"changes":   len(request.CustomerChanges),
	})

	if d.transport == nil {
		return request.Clone(), nil
	}
	if err := d.transport.DeliverAgentRequest(ctx, request.Clone()); err != nil {
		d.logger(ctx, "agent_request.delivery_failed", map[string]any{
			"requestId": request.ID,
			"error":     err.Error(),
		})
		return request.Clone(), fmt.Errorf("%w: %v", ErrAgentTransportUnavailable, err)
	}
	return request.Clone(), nil
}

// ApplyResponse records the agent's reply to a request.
func (d *AgentRequestDesk) ApplyResponse(ctx context.Context, update AgentResponseUpdate) (AgentRequest, error) {
	requestID := strings.TrimSpace(update.RequestID)
	if requestID == "" {
		return AgentRequest{}, fmt.Errorf("%w: request id is required", ErrAgentRequestInvalidInput)
	}
	status := AgentRequestStatus(strings.TrimSpace(string(update.Status)))
	if !status.IsValid() || status == domain.AgentRequestPending {
		return AgentRequest{}, fmt.Errorf("%w: unsupported status %q", ErrAgentRequestInvalidInput, update.Status)
	}
	message := d.sanitize(update.Message)
	if len([]rune(message)) > maxAgentResponseLength {
		return AgentRequest{}, fmt.Errorf("%w: response exceeds %d characters", ErrAgentRequestInvalidInput, maxAgentResponseLength)
	}

	d.mu.Lock()
	idx := slices.IndexFunc(d.requests, func(r AgentRequest) bool { return r.ID == requestID })
	if idx < 0 {
		d.mu.Unlock()
		return AgentRequest{}, fmt.Errorf("%w: %s", ErrAgentRequestNotFound, requestID)
	}
	d.requests[idx].Status = status
	d.requests[idx].AgentResponse = &AgentResponse{
		Message:          message,
		RespondedAt:      d.clock(),
		UpdatedItinerary: update.UpdatedItinerary,
	}
	updated := d.requests[idx].Clone()
	d.mu.Unlock()

	d.logger(ctx, "agent_request.responded", map[string]any{
		"requestId": requestID,
		"status":    string(status),
	})
	return updated, nil
}

// Request returns a copy of the request with the given id.
func (d *AgentRequestDesk) Request(requestID string) (AgentRequest, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, request := range d.requests {
		if request.ID == requestID {
			return request.Clone(), true
		}
	}
	return AgentRequest{}, false
}

// Requests returns copies of all requests in submission order.
func (d *AgentRequestDesk) Requests() []AgentRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]AgentRequest, 0, len(d.requests))
	for _, request := range d.requests {
		out = append(out, request.Clone())
	}
	return out
}

func (d *AgentRequestDesk) sanitize(value string) string {
	cleaned := d.policy.Sanitize(strings.TrimSpace(value))
	return strings.TrimSpace(html.UnescapeString(cleaned))
}
