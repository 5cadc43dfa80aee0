package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	domain "github.com/tripdesk/planner/internal/domain"
	"github.com/tripdesk/planner/internal/services"
)

func newTestPubSub(t *testing.T) (*pstest.Server, *pubsub.Client) {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	client, err := pubsub.NewClient(context.Background(), "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return srv, client
}

func TestPubSubAgentTransport_DeliverAgentRequest(t *testing.T) {
	ctx := context.Background()
	srv, client := newTestPubSub(t)

	topic, err := client.CreateTopic(ctx, "planner-agent-requests")
	require.NoError(t, err)
	defer topic.Stop()

	transport, err := NewPubSubAgentTransport(topic)
	require.NoError(t, err)
	fixed := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	transport.clock = func() time.Time { return fixed }

	delta := int64(200)
	request := services.AgentRequest{
		ID:         "req_001",
		TripID:     "trip_bali",
		Type:       domain.AgentRequestSpecialRequest,
		Subject:    "Suite upgrade",
		Message:    "Can we get the suite?",
		Status:     domain.AgentRequestPending,
		PriceDelta: &delta,
		CreatedAt:  fixed,
	}
	require.NoError(t, transport.DeliverAgentRequest(ctx, request))

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "trip_bali", msgs[0].Attributes["tripId"])
	require.Equal(t, "req_001", msgs[0].Attributes["requestId"])
	require.Equal(t, "special_request", msgs[0].Attributes["type"])

	var payload AgentRequestMessage
	require.NoError(t, json.Unmarshal(msgs[0].Data, &payload))
	require.Equal(t, "trip_bali", payload.TripID)
	require.Equal(t, "Suite upgrade", payload.Request.Subject)
	require.NotNil(t, payload.Request.PriceDelta)
	require.Equal(t, int64(200), *payload.Request.PriceDelta)
	require.True(t, payload.PublishedAt.Equal(fixed))
}

func TestNewPubSubAgentTransport_RequiresTopic(t *testing.T) {
	_, err := NewPubSubAgentTransport(nil)
	require.Error(t, err)

	var transport *PubSubAgentTransport
	require.Error(t, transport.DeliverAgentRequest(context.Background(), services.AgentRequest{ID: "req"}))
}
