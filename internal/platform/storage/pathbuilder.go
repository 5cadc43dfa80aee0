package storage

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// ObjectPurpose captures the kind of document being archived.
type ObjectPurpose string

const (
	PurposeHistoryExport ObjectPurpose = "history-export"
)

// PathParams provide the identifiers used to compose object keys.
type PathParams struct {
	Prefix string
	TripID string
	At     time.Time
}

// PathBuilder composes the object path for a given purpose.
type PathBuilder func(PathParams) (string, error)

var (
	pathBuilders = map[ObjectPurpose]PathBuilder{
		PurposeHistoryExport: buildHistoryExportPath,
	}
	pathBuildersMu sync.RWMutex
)

// RegisterPathBuilder overrides or registers a builder for a specific purpose.
func RegisterPathBuilder(purpose ObjectPurpose, builder PathBuilder) {
	pathBuildersMu.Lock()
	defer pathBuildersMu.Unlock()
	if builder == nil {
		delete(pathBuilders, purpose)
		return
	}
	pathBuilders[purpose] = builder
}

// BuildObjectPath resolves the object path for the given purpose.
func BuildObjectPath(purpose ObjectPurpose, params PathParams) (string, error) {
	pathBuildersMu.RLock()
	builder, ok := pathBuilders[purpose]
	pathBuildersMu.RUnlock()
	if !ok {
		return "", fmt.Errorf("storage: unsupported object purpose \"%s\"", purpose)
	}
	return builder(params)
}

// history/trips/trip_bali/20260301T090000.000Z.json
func buildHistoryExportPath(params PathParams) (string, error) {
	tripID, err := validateSegment("tripID", params.TripID)
	if err != nil {
		return "", err
	}
	if params.At.IsZero() {
		return "", fmt.Errorf("storage: export time is required")
	}
	return joinPrefix(params.Prefix, fmt.Sprintf("trips/%s/%s.json", tripID, stamp(params.At))), nil
}

func stamp(at time.Time) string {
	return at.UTC().Format("20060102T150405.000Z")
}

func joinPrefix(prefix, rest string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return rest
	}
	return prefix + "/" + rest
}

func validateSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: %s is required", name)
	}
	if strings.ContainsAny(value, "/\\") {
		return "", fmt.Errorf("storage: %s contains invalid path characters", name)
	}
	if strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: %s contains invalid traversal sequence", name)
	}
	return value, nil
}
