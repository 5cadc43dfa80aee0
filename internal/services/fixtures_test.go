package services

import (
	"fmt"
	"sync"
	"time"

	domain "github.com/tripdesk/planner/internal/domain"
)

var fixtureStart = time.Date(2026, time.May, 4, 9, 0, 0, 0, time.UTC)

type fakeTask struct {
	delay   time.Duration
	fn      func()
	stopped bool
}

func (t *fakeTask) Stop() bool {
	wasPending := !t.stopped
	t.stopped = true
	return wasPending
}

// fakeScheduler records deadlines instead of arming timers; tests fire them by hand.
type fakeScheduler struct {
	mu    sync.Mutex
	tasks []*fakeTask
}

func (s *fakeScheduler) AfterFunc(delay time.Duration, fn func()) ScheduledTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	task := &fakeTask{delay: delay, fn: fn}
	s.tasks = append(s.tasks, task)
	return task
}

func (s *fakeScheduler) pending() []*fakeTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*fakeTask
	for _, task := range s.tasks {
		if !task.stopped {
			out = append(out, task)
		}
	}
	return out
}

func (s *fakeScheduler) all() []*fakeTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*fakeTask(nil), s.tasks...)
}

// firePending runs every armed deadline, as a timer would.
func (s *fakeScheduler) firePending() {
	for _, task := range s.pending() {
		task.stopped = true
		task.fn()
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: fixtureStart} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func sequentialIDs() func() string {
	var (
		mu sync.Mutex
		n  int
	)
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("ID%03d", n)
	}
}

func intPtr(v int) *int { return &v }

// scenarioItinerary is a single day with one hotel slot priced at 1000/10/5 and an upgrade at
// 1200/15/8.
func scenarioItinerary() Itinerary {
	return Itinerary{{
		Date:      "2026-06-01",
		DayNumber: 1,
		Activities: []ActivitySlot{{
			ID:                       "s1",
			Title:                    "Hotel",
			Type:                     domain.ActivityTypeHotel,
			SelectedOptionID:         "o1",
			AgentRecommendedOptionID: "o1",
			Options: []Option{
				{ID: "o1", Name: "Standard Room", Price: 1000, StatusCredits: 10, SocietePoints: 5, Availability: domain.AvailabilityAvailable},
				{ID: "o2", Name: "Ocean View Suite", Price: 1200, StatusCredits: 15, SocietePoints: 8, Availability: domain.AvailabilityAvailable},
			},
		}},
	}}
}

// tripItinerary is a two-day trip with a transfer, a hotel, two timed activities and a locked slot.
func tripItinerary() Itinerary {
	return Itinerary{
		{
			Date:      "2026-06-01",
			DayNumber: 1,
			Activities: []ActivitySlot{
				{
					ID:                       "slot_transfer",
					Title:                    "Airport Transfer",
					Type:                     domain.ActivityTypeTransfer,
					Time:                     "10:00 AM",
					SelectedOptionID:         "car",
					AgentRecommendedOptionID: "car",
					Options:                  []Option{{ID: "car", Name: "Private Car", Price: 80, StatusCredits: 1, SocietePoints: 1, Availability: domain.AvailabilityAvailable}},
				},
				{
					ID:                       "slot_hotel",
					Title:                    "Hotel",
					Type:                     domain.ActivityTypeHotel,
					Time:                     "3:00 PM",
					SelectedOptionID:         "standard",
					AgentRecommendedOptionID: "standard",
					Constraints:              &domain.Constraints{MinNights: intPtr(2)},
					Options: []Option{
						{ID: "standard", Name: "Standard Room", Price: 1000, StatusCredits: 10, SocietePoints: 5, Availability: domain.AvailabilityAvailable},
						{ID: "suite", Name: "Ocean View Suite", Price: 1200, StatusCredits: 15, SocietePoints: 8, Availability: domain.AvailabilityLimited},
						{ID: "villa", Name: "Pool Villa", Price: 2000, StatusCredits: 30, SocietePoints: 20, Availability: domain.AvailabilityUnavailable},
					},
				},
			},
		},
		{
			Date:      "2026-06-02",
			DayNumber: 2,
			Activities: []ActivitySlot{
				{
					ID:                       "slot_morning",
					Title:                    "Morning Experience",
					Type:                     domain.ActivityTypeActivity,
					Time:                     "8:00 AM",
					SelectedOptionID:         "terraces",
					AgentRecommendedOptionID: "terraces",
					Options: []Option{
						{ID: "terraces", Name: "Rice Terraces Walk", Price: 120, StatusCredits: 2, SocietePoints: 1, Availability: domain.AvailabilityAvailable},
						{ID: "temple", Name: "Temple Tour", Price: 90, StatusCredits: 1, SocietePoints: 1, Availability: domain.AvailabilityAvailable},
					},
				},
				{
					ID:                       "slot_cooking",
					Title:                    "Cooking Class",
					Type:                     domain.ActivityTypeActivity,
					Time:                     "11:00 AM",
					SelectedOptionID:         "cooking",
					AgentRecommendedOptionID: "cooking",
					Locked:                   true,
					Options: []Option{
						{ID: "cooking", Name: "Balinese Cooking Class", Price: 95, StatusCredits: 1, SocietePoints: 1, Availability: domain.AvailabilityAvailable},
						{ID: "pastry", Name: "Pastry Workshop", Price: 70, StatusCredits: 1, SocietePoints: 1, Availability: domain.AvailabilityAvailable},
					},
				},
			},
		},
	}
}

func testTrip() Trip {
	return Trip{
		ID:        "trip_bali",
		Title:     "Bali Escape",
		Location:  "Bali",
		Creator:   "agent_kim",
		CreatedAt: fixtureStart.Add(-72 * time.Hour),
		Status:    domain.TripStatusDraft,
		Itinerary: tripItinerary(),
	}
}

func selectIn(itinerary Itinerary, slotID, optionID string) Itinerary {
	out := itinerary.Clone()
	if d, s, ok := out.FindSlot(slotID); ok {
		out[d].Activities[s].SelectedOptionID = optionID
	}
	return out
}
