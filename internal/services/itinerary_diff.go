package services

import (
	"fmt"

	"github.com/samber/lo"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// ModifiedItem pairs a customer-modified slot with the agent's pick it replaced.
type ModifiedItem struct {
	Day            int          `json:"day"`
	Slot           ActivitySlot `json:"activitySlot"`
	OriginalOption Option       `json:"originalOption"`
	SelectedOption Option       `json:"selectedOption"`
	PriceDelta     int64        `json:"priceDelta"`
	CreditsDelta   int64        `json:"creditsDelta"`
	PointsDelta    int64        `json:"pointsDelta"`
}

// ModifiedItemsReport lists every modified slot with aggregated deltas.
type ModifiedItemsReport struct {
	Items             []ModifiedItem `json:"items"`
	TotalPriceDelta   int64          `json:"totalPriceDelta"`
	TotalCreditsDelta int64          `json:"totalCreditsDelta"`
	TotalPointsDelta  int64          `json:"totalPointsDelta"`
}

var priceImpactPrinter = message.NewPrinter(language.AmericanEnglish)

// DiffItineraries describes how the selections in after differ from before. Days and slots are
// aligned by position, and a change is reported only when both selections resolve to options.
func DiffItineraries(before, after Itinerary) []string {
	changes := []string{}
	for dayIndex, newDay := range after {
		if dayIndex >= len(before) {
			break
		}
		oldDay := before[dayIndex]
		for slotIndex, newSlot := range newDay.Activities {
			if slotIndex >= len(oldDay.Activities) {
				break
			}
			oldSlot := oldDay.Activities[slotIndex]
			if newSlot.SelectedOptionID == oldSlot.SelectedOptionID {
				continue
			}
			newOption, okNew := newSlot.SelectedOption()
			oldOption, okOld := oldSlot.SelectedOption()
			if !okNew || !okOld {
				continue
			}
			changes = append(changes, fmt.Sprintf("Day %d: Changed %s from \"%s\" to \"%s\"",
				newDay.DayNumber, newSlot.Title, oldOption.Name, newOption.Name))
		}
	}
	return changes
}

// ComputeDeltas subtracts a from b for each of the three tallies.
func ComputeDeltas(a, b PricingBreakdown) PricingDelta {
	return PricingDelta{
		PriceDelta:   b.Subtotal - a.Subtotal,
		CreditsDelta: b.StatusCredits - a.StatusCredits,
		PointsDelta:  b.SocietePoints - a.SocietePoints,
	}
}

// ListModifiedItems collects every slot whose selection differs from the agent's pick. Slots where
// either option fails to resolve are left out.
func ListModifiedItems(itinerary Itinerary) ModifiedItemsReport {
	report := ModifiedItemsReport{Items: []ModifiedItem{}}
	for dayIndex, day := range itinerary {
		for _, slot := range day.Activities {
			if !slot.IsModified() {
				continue
			}
			original, okOriginal := slot.RecommendedOption()
			selected, okSelected := slot.SelectedOption()
			if !okOriginal || !okSelected {
				continue
			}
			report.Items = append(report.Items, ModifiedItem{
				Day:            dayIndex + 1,
				Slot:           slot.Clone(),
				OriginalOption: original.Clone(),
				SelectedOption: selected.Clone(),
				PriceDelta:     selected.Price - original.Price,
				CreditsDelta:   selected.StatusCredits - original.StatusCredits,
				PointsDelta:    selected.SocietePoints - original.SocietePoints,
			})
		}
	}

	report.TotalPriceDelta = lo.SumBy(report.Items, func(item ModifiedItem) int64 { return item.PriceDelta })
	report.TotalCreditsDelta = lo.SumBy(report.Items, func(item ModifiedItem) int64 { return item.CreditsDelta })
	report.TotalPointsDelta = lo.SumBy(report.Items, func(item ModifiedItem) int64 { return item.PointsDelta })
	return report
}

// CountChanges counts the slots whose selection differs from the agent's pick, resolved or not.
func CountChanges(itinerary Itinerary) int {
	count := 0
	for _, day := range itinerary {
		count += lo.CountBy(day.Activities, func(slot ActivitySlot) bool { return slot.IsModified() })
	}
	return count
}

// CustomerChangeLines renders the modified items as the one-line summaries attached to agent
// requests.
func CustomerChangeLines(report ModifiedItemsReport) []string {
	return lo.Map(report.Items, func(item ModifiedItem, _ int) string {
		return fmt.Sprintf("Day %d: %s → %s", item.Day, item.Slot.Title, item.SelectedOption.Name)
	})
}

// FormatPriceImpact renders a price delta with an explicit sign, e.g. "+$1,200" or "-$300".
func FormatPriceImpact(delta int64) string {
	switch {
	case delta > 0:
		return priceImpactPrinter.Sprintf("+$%d", delta)
	case delta < 0:
		return priceImpactPrinter.Sprintf("-$%d", -delta)
	default:
		return "$0"
	}
}
