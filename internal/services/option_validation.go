package services

import (
	"fmt"
	"strings"

	domain "github.com/tripdesk/planner/internal/domain"
)

const (
	suggestionUnavailable = "Please choose another option or contact your agent for alternatives."
	suggestionLimited     = "Consider confirming your selection quickly to avoid missing out."
	suggestionMinStay     = "Your current itinerary meets this requirement."
	suggestionValidDates  = "Your agent has confirmed this option works with your travel dates."
	suggestionTiming      = "Review your schedule or contact your agent to adjust timing."
	suggestionTransfer    = "The new location will be confirmed with your transfer provider."
	messageTransfer       = "Your agent has arranged transfers that may be affected by this change."
)

// ValidateOptionSelection runs every selection check against the candidate option and collects
// the findings in a fixed order. No check short-circuits another.
func ValidateOptionSelection(slot ActivitySlot, option Option, itinerary Itinerary) ValidationResult {
	warnings := []ValidationWarning{}
	warnings = append(warnings, checkAvailability(slot, option)...)
	warnings = append(warnings, checkMinimumStay(slot)...)
	warnings = append(warnings, checkValidDates(slot, option)...)
	warnings = append(warnings, checkTimingConflicts(slot, itinerary)...)
	warnings = append(warnings, checkTransferCompatibility(slot, itinerary)...)
	return newValidationResult(warnings)
}

// ValidateItinerary validates the current selection of every slot. Slots with a dangling
// selection are not validated.
func ValidateItinerary(itinerary Itinerary) ValidationResult {
	warnings := []ValidationWarning{}
	for _, day := range itinerary {
		for _, slot := range day.Activities {
			selected, ok := slot.SelectedOption()
			if !ok {
				continue
			}
			warnings = append(warnings, ValidateOptionSelection(slot, selected, itinerary).Warnings...)
		}
	}
	return newValidationResult(warnings)
}

// RequiresAgentApproval reports whether choosing optionID must go through the agent instead of
// committing directly.
func RequiresAgentApproval(slot ActivitySlot, optionID string) bool {
	option, curated := slot.FindOption(optionID)
	if !curated {
		return true
	}
	if slot.Locked {
		return true
	}
	return option.Availability == domain.AvailabilityUnavailable
}

func newValidationResult(warnings []ValidationWarning) ValidationResult {
	result := ValidationResult{Warnings: warnings}
	result.IsValid = !result.HasErrors()
	return result
}

func checkAvailability(slot ActivitySlot, option Option) []ValidationWarning {
	switch option.Availability {
	case domain.AvailabilityUnavailable:
		return []ValidationWarning{{
			Type:           domain.WarningAvailability,
			Severity:       domain.SeverityError,
			Message:        fmt.Sprintf("%s is currently unavailable for your dates.", option.Name),
			AffectedSlotID: slot.ID,
			Suggestion:     suggestionUnavailable,
		}}
	case domain.AvailabilityLimited:
		return []ValidationWarning{{
			Type:           domain.WarningAvailability,
			Severity:       domain.SeverityWarning,
			Message:        fmt.Sprintf("%s has limited availability. Book soon to secure your spot.", option.Name),
			AffectedSlotID: slot.ID,
			Suggestion:     suggestionLimited,
		}}
	}
	return nil
}

// The stay length is stated, not verified against the itinerary.
func checkMinimumStay(slot ActivitySlot) []ValidationWarning {
	if slot.Type != domain.ActivityTypeHotel || slot.Constraints == nil || slot.Constraints.MinNights == nil {
		return nil
	}
	nights := *slot.Constraints.MinNights
	if nights == 0 {
		return nil
	}
	unit := "nights"
	if nights == 1 {
		unit = "night"
	}
	return []ValidationWarning{{
		Type:           domain.WarningMinimumStay,
		Severity:       domain.SeverityInfo,
		Message:        fmt.Sprintf("This accommodation requires a minimum stay of %d %s.", nights, unit),
		AffectedSlotID: slot.ID,
		Suggestion:     suggestionMinStay,
	}}
}

func checkValidDates(slot ActivitySlot, option Option) []ValidationWarning {
	if slot.Constraints == nil || len(slot.Constraints.ValidDates) == 0 {
		return nil
	}
	return []ValidationWarning{{
		Type:           domain.WarningDateConstraint,
		Severity:       domain.SeverityInfo,
		Message:        fmt.Sprintf("%s is only available on specific dates.", option.Name),
		AffectedSlotID: slot.ID,
		Suggestion:     suggestionValidDates,
	}}
}

// Half-day heuristic: two times overlap when both mention AM or both mention PM.
func checkTimingConflicts(slot ActivitySlot, itinerary Itinerary) []ValidationWarning {
	day, ok := itinerary.DayContainingSlot(slot.ID)
	if !ok || slot.Time == "" {
		return nil
	}

	var warnings []ValidationWarning
	for _, other := range day.Activities {
		if other.ID == slot.ID || other.Time == "" || other.Type != domain.ActivityTypeActivity {
			continue
		}
		sameMorning := strings.Contains(slot.Time, "AM") && strings.Contains(other.Time, "AM")
		sameAfternoon := strings.Contains(slot.Time, "PM") && strings.Contains(other.Time, "PM")
		if !sameMorning && !sameAfternoon {
			continue
		}
		warnings = append(warnings, ValidationWarning{
			Type:           domain.WarningTimingConflict,
			Severity:       domain.SeverityWarning,
			Message:        fmt.Sprintf("This activity may overlap with %s.", other.Title),
			AffectedSlotID: slot.ID,
			Suggestion:     suggestionTiming,
		})
	}
	return warnings
}

func checkTransferCompatibility(slot ActivitySlot, itinerary Itinerary) []ValidationWarning {
	if slot.Type != domain.ActivityTypeHotel {
		return nil
	}
	day, ok := itinerary.DayContainingSlot(slot.ID)
	if !ok {
		return nil
	}
	for _, other := range day.Activities {
		if other.Type == domain.ActivityTypeTransfer {
			return []ValidationWarning{{
				Type:           domain.WarningTransferConflict,
				Severity:       domain.SeverityInfo,
				Message:        messageTransfer,
				AffectedSlotID: slot.ID,
				Suggestion:     suggestionTransfer,
			}}
		}
	}
	return nil
}
