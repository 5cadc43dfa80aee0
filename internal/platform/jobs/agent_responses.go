package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/tripdesk/planner/internal/services"
)

// AgentResponseMessage is the payload agents publish when replying to a request.
type AgentResponseMessage struct {
	TripID           string `json:"tripId"`
	RequestID        string `json:"requestId"`
	Status           string `json:"status"`
	Message          string `json:"message"`
	UpdatedItinerary bool   `json:"updatedItinerary"`
}

// AgentResponseApplier records an agent reply on the owning session.
type AgentResponseApplier interface {
	ApplyAgentResponse(ctx context.Context, update services.AgentResponseUpdate) (services.AgentRequest, error)
}

// AgentResponseSubscriber pulls agent replies from a Pub/Sub subscription and applies them.
type AgentResponseSubscriber struct {
	subscription *pubsub.Subscription
	applier      AgentResponseApplier
	logger       func(context.Context, string, map[string]any)
}

// NewAgentResponseSubscriber wires a subscription to the planner.
func NewAgentResponseSubscriber(subscription *pubsub.Subscription, applier AgentResponseApplier, logger func(context.Context, string, map[string]any)) (*AgentResponseSubscriber, error) {
	if subscription == nil {
		return nil, errors.New("agent response subscriber: subscription is required")
	}
	if applier == nil {
		return nil, errors.New("agent response subscriber: applier is required")
	}
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &AgentResponseSubscriber{
		subscription: subscription,
		applier:      applier,
		logger:       logger,
	}, nil
}

// Run receives messages until ctx is cancelled. Malformed messages and replies for unknown trips
// or requests are acked and logged; transient failures are nacked for redelivery.
func (s *AgentResponseSubscriber) Run(ctx context.Context) error {
	err := s.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if s.handle(ctx, msg) {
			msg.Ack()
			return
		}
		msg.Nack()
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (s *AgentResponseSubscriber) handle(ctx context.Context, msg *pubsub.Message) bool {
	update, err := decodeAgentResponse(msg)
	if err != nil {
		s.logger(ctx, "agent_response.decode_failed", map[string]any{"messageId": msg.ID, "error": err.Error()})
		return true
	}

	request, err := s.applier.ApplyAgentResponse(ctx, update)
	switch {
	case err == nil:
		s.logger(ctx, "agent_response.applied", map[string]any{
			"tripId":    update.TripID,
			"requestId": request.ID,
			"status":    string(request.Status),
		})
		return true
	case errors.Is(err, services.ErrPlannerNotFound),
		errors.Is(err, services.ErrAgentRequestNotFound),
		errors.Is(err, services.ErrAgentRequestInvalidInput),
		errors.Is(err, services.ErrPlannerInvalidInput):
		s.logger(ctx, "agent_response.rejected", map[string]any{
			"tripId":    update.TripID,
			"requestId": update.RequestID,
			"error":     err.Error(),
		})
		return true
	default:
		s.logger(ctx, "agent_response.apply_failed", map[string]any{
			"tripId":    update.TripID,
			"requestId": update.RequestID,
			"error":     err.Error(),
		})
		return false
	}
}

func decodeAgentResponse(msg *pubsub.Message) (services.AgentResponseUpdate, error) {
	var payload AgentResponseMessage
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		return services.AgentResponseUpdate{}, err
	}
	if payload.TripID == "" {
		payload.TripID = msg.Attributes["tripId"]
	}
	if payload.RequestID == "" {
		payload.RequestID = msg.Attributes["requestId"]
	}
	if strings.TrimSpace(payload.TripID) == "" || strings.TrimSpace(payload.RequestID) == "" {
		return services.AgentResponseUpdate{}, errors.New("tripId and requestId are required")
	}
	return services.AgentResponseUpdate{
		TripID:           strings.TrimSpace(payload.TripID),
		RequestID:        strings.TrimSpace(payload.RequestID),
		Status:           services.AgentRequestStatus(strings.TrimSpace(payload.Status)),
		Message:          payload.Message,
		UpdatedItinerary: payload.UpdatedItinerary,
	}, nil
}
