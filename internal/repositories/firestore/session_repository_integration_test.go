//go:build integration

package firestore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"testing"
	"time"

	domain "github.com/tripdesk/planner/internal/domain"
	pconfig "github.com/tripdesk/planner/internal/platform/config"
	pfirestore "github.com/tripdesk/planner/internal/platform/firestore"
	"github.com/tripdesk/planner/internal/repositories"
)

const firestoreEmulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"

func TestSessionAndTripRepositoriesIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}
	ensureDockerDaemon(t)

	port := freePort(t)
	endpoint := fmt.Sprintf("127.0.0.1:%d", port)
	containerID := startFirestoreEmulator(t, port)
	t.Cleanup(func() { stopContainer(containerID) })
	waitForEndpoint(t, endpoint, 30*time.Second)

	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{ProjectID: "planner-test", EmulatorHost: endpoint})
	t.Cleanup(func() { _ = provider.Close(context.Background()) })

	trips, err := NewTripRepository(provider)
	if err != nil {
		t.Fatalf("new trip repository: %v", err)
	}
	sessions, err := NewSessionRepository(provider)
	if err != nil {
		t.Fatalf("new session repository: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	created := time.Date(2026, time.May, 1, 8, 0, 0, 0, time.UTC)
	trip := domain.Trip{
		ID:        "trip_bali",
		Title:     "Bali Escape",
		Location:  "Bali",
		Creator:   "agent_kim",
		CreatedAt: created,
		Status:    domain.TripStatusDraft,
		Itinerary: domain.Itinerary{{
			Date:      "2026-06-01",
			DayNumber: 1,
			Activities: []domain.ActivitySlot{{
				ID:                       "slot_hotel",
				Title:                    "Hotel",
				Type:                     domain.ActivityTypeHotel,
				Options:                  []domain.Option{{ID: "o1", Name: "Standard Room", Price: 1000}},
				SelectedOptionID:         "o1",
				AgentRecommendedOptionID: "o1",
			}},
		}},
	}
	if err := trips.Upsert(ctx, trip); err != nil {
		t.Fatalf("upsert trip: %v", err)
	}
	loadedTrip, err := trips.FindByID(ctx, "trip_bali")
	if err != nil {
		t.Fatalf("find trip: %v", err)
	}
	if loadedTrip.Title != "Bali Escape" || len(loadedTrip.Itinerary) != 1 {
		t.Fatalf("unexpected trip %+v", loadedTrip)
	}

	var repoErr repositories.RepositoryError
	if _, err := sessions.Load(ctx, "trip_bali"); !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
		t.Fatalf("expected not found before save, got %v", err)
	}

	state := domain.PlanningSessionState{
		TripID:    "trip_bali",
		Trip:      trip,
		Itinerary: trip.Itinerary,
		StartedAt: created,
		UpdatedAt: created.Add(time.Minute),
	}
	if err := sessions.Save(ctx, state); err != nil {
		t.Fatalf("save session: %v", err)
	}
	newer := state
	newer.UpdatedAt = created.Add(2 * time.Minute)
	if err := sessions.Save(ctx, newer); err != nil {
		t.Fatalf("save newer session: %v", err)
	}
	if err := sessions.Save(ctx, state); !errors.As(err, &repoErr) || !repoErr.IsConflict() {
		t.Fatalf("expected conflict for stale session, got %v", err)
	}

	loaded, err := sessions.Load(ctx, "trip_bali")
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	if !loaded.UpdatedAt.Equal(newer.UpdatedAt) {
		t.Fatalf("expected updatedAt %s got %s", newer.UpdatedAt, loaded.UpdatedAt)
	}

	if err := sessions.Delete(ctx, "trip_bali"); err != nil {
		t.Fatalf("delete session: %v", err)
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	addr, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unable to allocate port: %v", err)
	}
	defer addr.Close()
	return addr.Addr().(*net.TCPAddr).Port
}

func startFirestoreEmulator(t *testing.T, port int) string {
	t.Helper()
	args := []string{
		"run", "-d", "--rm",
		"-p", fmt.Sprintf("%d:8080", port),
		firestoreEmulatorImage,
		"gcloud", "beta", "emulators", "firestore", "start",
		"--host-port=0.0.0.0:8080",
		"--quiet",
	}
	out, err := exec.Command("docker", args...).CombinedOutput()
	if err != nil {
		t.Fatalf("failed to start firestore emulator: %v - %s", err, string(out))
	}
	id := strings.TrimSpace(string(out))
	if id == "" {
		t.Fatalf("docker returned empty container id")
	}
	if len(id) > 12 {
		id = id[:12]
	}
	return id
}

func ensureDockerDaemon(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := exec.CommandContext(ctx, "docker", "info").Run(); err != nil {
		t.Skip("docker daemon unavailable: " + err.Error())
	}
}

func stopContainer(id string) {
	if id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = exec.CommandContext(ctx, "docker", "stop", id).Run()
}

func waitForEndpoint(t *testing.T, endpoint string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", endpoint, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatalf("firestore emulator at %s did not become ready within %s", endpoint, timeout)
}
