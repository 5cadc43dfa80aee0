package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/tripdesk/planner/internal/services"
)

// AgentRequestMessage is the payload published for every customer request to the agent.
type AgentRequestMessage struct {
	TripID      string                `json:"tripId"`
	Request     services.AgentRequest `json:"request"`
	PublishedAt time.Time             `json:"publishedAt"`
}

// PubSubAgentTransport delivers agent requests to a Pub/Sub topic.
type PubSubAgentTransport struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
	clock   func() time.Time
}

var _ services.AgentTransport = (*PubSubAgentTransport)(nil)

// NewPubSubAgentTransport constructs a Pub/Sub backed agent transport. When the topic has message
// ordering enabled, requests for the same trip are ordered by trip id.
func NewPubSubAgentTransport(topic *pubsub.Topic) (*PubSubAgentTransport, error) {
	if topic == nil {
		return nil, errors.New("pubsub agent transport: topic is required")
	}
	return &PubSubAgentTransport{
		topic:   topic,
		marshal: json.Marshal,
		clock:   time.Now,
	}, nil
}

// DeliverAgentRequest publishes the request and waits for the server acknowledgement.
func (p *PubSubAgentTransport) DeliverAgentRequest(ctx context.Context, request services.AgentRequest) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub agent transport: not initialised")
	}

	data, err := p.marshal(AgentRequestMessage{
		TripID:      request.TripID,
		Request:     request,
		PublishedAt: p.clock().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal agent request: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "tripId", request.TripID)
	setAttr(attrs, "requestId", request.ID)
	setAttr(attrs, "type", string(request.Type))

	msg := &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	}
	if p.topic.EnableMessageOrdering {
		msg.OrderingKey = strings.TrimSpace(request.TripID)
	}

	result := p.topic.Publish(ctx, msg)
	if _, err := result.Get(ctx); err != nil {
		if msg.OrderingKey != "" {
			p.topic.ResumePublish(msg.OrderingKey)
		}
		return fmt.Errorf("publish agent request: %w", err)
	}
	return nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
