package repositories

import (
	"encoding/json"
	"fmt"
	"strings"

	domain "github.com/tripdesk/planner/internal/domain"
)

// SessionSchemaVersion tags persisted session payloads so older layouts can be migrated on read.
const SessionSchemaVersion = 1

type sessionEnvelope struct {
	Schema int                         `json:"schema"`
	State  domain.PlanningSessionState `json:"state"`
}

// EncodeSessionState serialises a session state for the byte-oriented stores.
func EncodeSessionState(state domain.PlanningSessionState) ([]byte, error) {
	if strings.TrimSpace(state.TripID) == "" {
		return nil, fmt.Errorf("session codec: trip id is required")
	}
	return json.Marshal(sessionEnvelope{Schema: SessionSchemaVersion, State: state})
}

// DecodeSessionState restores a session state written by EncodeSessionState.
func DecodeSessionState(payload []byte) (domain.PlanningSessionState, error) {
	var envelope sessionEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return domain.PlanningSessionState{}, fmt.Errorf("session codec: decode: %w", err)
	}
	if envelope.Schema != SessionSchemaVersion {
		return domain.PlanningSessionState{}, fmt.Errorf("session codec: unsupported schema %d", envelope.Schema)
	}
	return envelope.State, nil
}

// IsStaleWrite reports whether incoming would overwrite a newer stored state.
func IsStaleWrite(stored, incoming domain.PlanningSessionState) bool {
	return !stored.UpdatedAt.IsZero() && incoming.UpdatedAt.Before(stored.UpdatedAt)
}
