package memory

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	domain "github.com/tripdesk/planner/internal/domain"
)

type tripSeedFile struct {
	Trips []map[string]any `yaml:"trips"`
}

// LoadTripSeedFile reads agent-authored trips from a YAML seed file.
func LoadTripSeedFile(path string) ([]domain.Trip, error) {
	file, err := os.Open(strings.TrimSpace(path))
	if err != nil {
		return nil, fmt.Errorf("trip seed: open %s: %w", path, err)
	}
	defer file.Close()
	return DecodeTripSeed(file)
}

// DecodeTripSeed parses a YAML document of the form `trips: [...]`. Field names follow the JSON
// wire names of the domain model.
func DecodeTripSeed(r io.Reader) ([]domain.Trip, error) {
	var seed tripSeedFile
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&seed); err != nil && err != io.EOF {
		return nil, fmt.Errorf("trip seed: decode: %w", err)
	}

	trips := make([]domain.Trip, 0, len(seed.Trips))
	seen := make(map[string]struct{}, len(seed.Trips))
	for i, raw := range seed.Trips {
		// YAML and JSON share the same names, so the JSON codec does the typed mapping.
		payload, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("trip seed: entry %d: %w", i, err)
		}
		var trip domain.Trip
		if err := json.Unmarshal(payload, &trip); err != nil {
			return nil, fmt.Errorf("trip seed: entry %d: %w", i, err)
		}
		trip.ID = strings.TrimSpace(trip.ID)
		if trip.ID == "" {
			return nil, fmt.Errorf("trip seed: entry %d: id is required", i)
		}
		if _, dup := seen[trip.ID]; dup {
			return nil, fmt.Errorf("trip seed: duplicate trip id %s", trip.ID)
		}
		seen[trip.ID] = struct{}{}
		if trip.Status == "" {
			trip.Status = domain.TripStatusDraft
		}
		trips = append(trips, trip)
	}
	return trips, nil
}
