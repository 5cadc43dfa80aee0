package domain

import "slices"

// AvailabilityStatus reports whether an option can currently be booked.
type AvailabilityStatus string

const (
	AvailabilityAvailable   AvailabilityStatus = "available"
	AvailabilityLimited     AvailabilityStatus = "limited"
	AvailabilityUnavailable AvailabilityStatus = "unavailable"
)

// IsValid reports whether the status is one of the known availability values.
func (s AvailabilityStatus) IsValid() bool {
	switch s {
	case AvailabilityAvailable, AvailabilityLimited, AvailabilityUnavailable:
		return true
	}
	return false
}

// ActivityType classifies an itinerary line.
type ActivityType string

const (
	ActivityTypeHotel      ActivityType = "hotel"
	ActivityTypeActivity   ActivityType = "activity"
	ActivityTypeTransfer   ActivityType = "transfer"
	ActivityTypeFlight     ActivityType = "flight"
	ActivityTypeExperience ActivityType = "experience"
	ActivityTypeDining     ActivityType = "dining"
)

// Location pins a slot on the map. Coordinates are stored as [lat, lng].
type Location struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Coordinates [2]float64 `json:"coordinates"`
}

// Supplier describes the operator behind an option.
type Supplier struct {
	Name        string   `json:"name"`
	Rating      *float64 `json:"rating,omitempty"`
	ReviewCount *int     `json:"reviewCount,omitempty"`
}

// Option is one bookable choice for an activity slot. Options are treated as immutable within a
// planning session.
type Option struct {
	ID                 string             `json:"id"`
	Name               string             `json:"name"`
	Description        string             `json:"description"`
	Price              int64              `json:"price"`
	StatusCredits      int64              `json:"statusCredits"`
	SocietePoints      int64              `json:"societePoints"`
	Photos             []string           `json:"photos"`
	Inclusions         []string           `json:"inclusions"`
	Exclusions         []string           `json:"exclusions"`
	CancellationPolicy string             `json:"cancellationPolicy,omitempty"`
	Availability       AvailabilityStatus `json:"availability"`
	Supplier           *Supplier          `json:"supplier,omitempty"`
	RoomType           string             `json:"roomType,omitempty"`
	MealPlan           string             `json:"mealPlan,omitempty"`
	Highlights         []string           `json:"highlights,omitempty"`
}

// Constraints lists the booking rules attached to a slot.
type Constraints struct {
	MinNights       *int     `json:"minNights,omitempty"`
	MaxNights       *int     `json:"maxNights,omitempty"`
	ValidDates      []string `json:"validDates,omitempty"`
	MaxParticipants *int     `json:"maxParticipants,omitempty"`
	MinParticipants *int     `json:"minParticipants,omitempty"`
}

// Attribution records who added a slot to the itinerary.
type Attribution struct {
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// ActivitySlot is one itinerary line with its curated options.
type ActivitySlot struct {
	ID                       string       `json:"id"`
	Title                    string       `json:"title"`
	Type                     ActivityType `json:"type"`
	Time                     string       `json:"time,omitempty"`
	Duration                 string       `json:"duration,omitempty"`
	Options                  []Option     `json:"options"`
	SelectedOptionID         string       `json:"selectedOptionId"`
	AgentRecommendedOptionID string       `json:"agentRecommendedOptionId"`
	Locked                   bool         `json:"locked"`
	Location                 *Location    `json:"location,omitempty"`
	Constraints              *Constraints `json:"constraints,omitempty"`
	Notes                    string       `json:"notes,omitempty"`
	AddedBy                  *Attribution `json:"addedBy,omitempty"`
}

// FindOption returns the curated option with the given id.
func (s ActivitySlot) FindOption(optionID string) (Option, bool) {
	for _, option := range s.Options {
		if option.ID == optionID {
			return option, true
		}
	}
	return Option{}, false
}

// SelectedOption resolves the current selection. A dangling selection reports false.
func (s ActivitySlot) SelectedOption() (Option, bool) {
	return s.FindOption(s.SelectedOptionID)
}

// RecommendedOption resolves the agent's original pick.
func (s ActivitySlot) RecommendedOption() (Option, bool) {
	return s.FindOption(s.AgentRecommendedOptionID)
}

// IsModified reports whether the customer moved away from the agent's pick.
func (s ActivitySlot) IsModified() bool {
	return s.SelectedOptionID != s.AgentRecommendedOptionID
}

// DayItinerary is one calendar day of the trip.
type DayItinerary struct {
	Date       string         `json:"date"`
	DayNumber  int            `json:"dayNumber"`
	Activities []ActivitySlot `json:"activities"`
}

// Itinerary is the ordered sequence of days that make up a trip.
type Itinerary []DayItinerary

// FindSlot locates a slot by id and returns its day and slot indexes.
func (it Itinerary) FindSlot(slotID string) (dayIndex, slotIndex int, ok bool) {
	for di, day := range it {
		for si, slot := range day.Activities {
			if slot.ID == slotID {
				return di, si, true
			}
		}
	}
	return -1, -1, false
}

// DayContainingSlot returns the day holding the slot with the given id.
func (it Itinerary) DayContainingSlot(slotID string) (DayItinerary, bool) {
	dayIndex, _, ok := it.FindSlot(slotID)
	if !ok {
		return DayItinerary{}, false
	}
	return it[dayIndex], true
}

// Clone returns a structural deep copy of the option.
func (o Option) Clone() Option {
	out := o
	out.Photos = slices.Clone(o.Photos)
	out.Inclusions = slices.Clone(o.Inclusions)
	out.Exclusions = slices.Clone(o.Exclusions)
	out.Highlights = slices.Clone(o.Highlights)
	if o.Supplier != nil {
		supplier := *o.Supplier
		supplier.Rating = clonePtr(o.Supplier.Rating)
		supplier.ReviewCount = clonePtr(o.Supplier.ReviewCount)
		out.Supplier = &supplier
	}
	return out
}

// Clone returns a structural deep copy of the slot, including its options.
func (s ActivitySlot) Clone() ActivitySlot {
	out := s
	if s.Options != nil {
		out.Options = make([]Option, len(s.Options))
		for i, option := range s.Options {
			out.Options[i] = option.Clone()
		}
	}
	if s.Location != nil {
		location := *s.Location
		out.Location = &location
	}
	if s.Constraints != nil {
		constraints := Constraints{
			MinNights:       clonePtr(s.Constraints.MinNights),
			MaxNights:       clonePtr(s.Constraints.MaxNights),
			ValidDates:      slices.Clone(s.Constraints.ValidDates),
			MaxParticipants: clonePtr(s.Constraints.MaxParticipants),
			MinParticipants: clonePtr(s.Constraints.MinParticipants),
		}
		out.Constraints = &constraints
	}
	if s.AddedBy != nil {
		addedBy := *s.AddedBy
		out.AddedBy = &addedBy
	}
	return out
}

// Clone returns a structural deep copy of the day.
func (d DayItinerary) Clone() DayItinerary {
	out := d
	if d.Activities != nil {
		out.Activities = make([]ActivitySlot, len(d.Activities))
		for i, slot := range d.Activities {
			out.Activities[i] = slot.Clone()
		}
	}
	return out
}

// Clone returns a structural deep copy of the itinerary. Mutating the copy never affects the
// source.
func (it Itinerary) Clone() Itinerary {
	if it == nil {
		return nil
	}
	out := make(Itinerary, len(it))
	for i, day := range it {
		out[i] = day.Clone()
	}
	return out
}

// WithAgentSelections returns a copy of the itinerary where every slot is set back to the
// agent-recommended option.
func (it Itinerary) WithAgentSelections() Itinerary {
	out := it.Clone()
	for di := range out {
		for si := range out[di].Activities {
			slot := &out[di].Activities[si]
			slot.SelectedOptionID = slot.AgentRecommendedOptionID
		}
	}
	return out
}

func clonePtr[T any](value *T) *T {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}
