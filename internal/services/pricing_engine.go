package services

import (
	"context"
	"math"
	"sort"
	"strings"

	domain "github.com/tripdesk/planner/internal/domain"
)

const (
	defaultTaxRate  = 0.10
	defaultTripFees = int64(50)
	defaultCurrency = "USD"
)

const (
	categoryDisplayAccommodations = "Accommodations"
	categoryDisplayActivities     = "Activities & Experiences"
	categoryDisplayTransfers      = "Transfers"
	categoryDisplayDining         = "Dining"
	categoryDisplayInsurance      = "Travel Insurance"
	categoryDisplayOther          = "Other"
)

// ItineraryPricingEngine derives pricing breakdowns from itineraries. It holds configuration only;
// every computation is a pure function of its arguments.
type ItineraryPricingEngine struct {
	taxRate  float64
	fees     int64
	currency string
	logger   func(context.Context, string, map[string]any)
}

// PricingEngineDeps configures the pricing engine. Unset fields fall back to the standard quote
// terms: 10% tax, a flat 50 fee, USD.
type PricingEngineDeps struct {
	TaxRate  *float64
	Fees     *int64
	Currency string
	Logger   func(context.Context, string, map[string]any)
}

// NewItineraryPricingEngine constructs the pricing engine.
func NewItineraryPricingEngine(deps PricingEngineDeps) *ItineraryPricingEngine {
	taxRate := defaultTaxRate
	if deps.TaxRate != nil && *deps.TaxRate >= 0 {
		taxRate = *deps.TaxRate
	}
	fees := defaultTripFees
	if deps.Fees != nil && *deps.Fees >= 0 {
		fees = *deps.Fees
	}
	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = defaultCurrency
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &ItineraryPricingEngine{
		taxRate:  taxRate,
		fees:     fees,
		currency: currency,
		logger:   logger,
	}
}

// Currency returns the single currency every breakdown is expressed in.
func (e *ItineraryPricingEngine) Currency() string {
	return e.currency
}

// ComputeBreakdown prices the current selections of the itinerary. Slots whose selection does not
// resolve to a curated option contribute nothing.
func (e *ItineraryPricingEngine) ComputeBreakdown(ctx context.Context, itinerary Itinerary) PricingBreakdown {
	breakdown := PricingBreakdown{
		Currency:   e.currency,
		LineItems:  []LineItem{},
		ByCategory: []CategoryBreakdown{},
		ByDay:      []DayBreakdown{},
	}

	categoryIndex := make(map[string]int)
	skipped := 0

	for _, day := range itinerary {
		dayRollup := DayBreakdown{
			DayNumber: day.DayNumber,
			Date:      day.Date,
			Items:     []LineItem{},
		}

		for _, slot := range day.Activities {
			option, ok := slot.SelectedOption()
			if !ok {
				skipped++
				continue
			}
			item := LineItem{
				ID:            slot.ID,
				Name:          option.Name,
				Category:      lineItemCategory(slot.Type),
				DayNumber:     day.DayNumber,
				Price:         option.Price,
				StatusCredits: option.StatusCredits,
				SocietePoints: option.SocietePoints,
			}

			breakdown.Subtotal += item.Price
			breakdown.StatusCredits += item.StatusCredits
			breakdown.SocietePoints += item.SocietePoints
			breakdown.LineItems = append(breakdown.LineItems, item)

			display := categoryDisplayName(item.Category)
			idx, exists := categoryIndex[display]
			if !exists {
				idx = len(breakdown.ByCategory)
				categoryIndex[display] = idx
				breakdown.ByCategory = append(breakdown.ByCategory, CategoryBreakdown{Category: display, Items: []LineItem{}})
			}
			category := &breakdown.ByCategory[idx]
			category.Items = append(category.Items, item)
			category.Subtotal += item.Price
			category.StatusCredits += item.StatusCredits
			category.SocietePoints += item.SocietePoints

			dayRollup.Items = append(dayRollup.Items, item)
			dayRollup.Subtotal += item.Price
			dayRollup.StatusCredits += item.StatusCredits
			dayRollup.SocietePoints += item.SocietePoints
		}

		breakdown.ByDay = append(breakdown.ByDay, dayRollup)
	}

	sort.SliceStable(breakdown.ByCategory, func(i, j int) bool {
		return breakdown.ByCategory[i].Subtotal > breakdown.ByCategory[j].Subtotal
	})

	breakdown.Taxes = int64(math.Round(float64(breakdown.Subtotal) * e.taxRate))
	breakdown.Fees = e.fees
	breakdown.Total = breakdown.Subtotal + breakdown.Taxes + breakdown.Fees

	if skipped > 0 {
		e.logger(ctx, "pricing.dangling_selection", map[string]any{
			"skippedSlots": skipped,
		})
	}

	return breakdown
}

// ComputeOriginalBreakdown prices the agent-recommended selections, which is the agent's quote.
func (e *ItineraryPricingEngine) ComputeOriginalBreakdown(ctx context.Context, itinerary Itinerary) PricingBreakdown {
	return e.ComputeBreakdown(ctx, itinerary.WithAgentSelections())
}

// Summarize folds the live breakdown, the agent's quote and the price-lock metadata into a
// TripSummary.
func (e *ItineraryPricingEngine) Summarize(ctx context.Context, itinerary Itinerary, original PricingBreakdown, lock PriceLockState) TripSummary {
	summary := TripSummary{
		PricingBreakdown: e.ComputeBreakdown(ctx, itinerary),
		OriginalPricing:  original.Clone(),
		ChangeCount:      CountChanges(itinerary),
		IsPriceLocked:    lock.Locked,
		PriceLockedBy:    lock.LockedBy,
	}
	if !lock.QuoteExpiresAt.IsZero() {
		expires := lock.QuoteExpiresAt
		summary.QuoteExpiresAt = &expires
	}
	if lock.LockedAt != nil {
		lockedAt := *lock.LockedAt
		summary.PriceLockedAt = &lockedAt
	}
	if lock.LastModified != nil {
		modified := *lock.LastModified
		summary.LastModified = &modified
	}
	return summary
}

func lineItemCategory(activityType ActivityType) LineItemCategory {
	switch activityType {
	case domain.ActivityTypeHotel:
		return domain.CategoryAccommodation
	case domain.ActivityTypeActivity:
		return domain.CategoryActivity
	case domain.ActivityTypeTransfer:
		return domain.CategoryTransfer
	case domain.ActivityTypeExperience:
		return domain.CategoryExperience
	case domain.ActivityTypeDining:
		return domain.CategoryDining
	default:
		return domain.CategoryOther
	}
}

func categoryDisplayName(category LineItemCategory) string {
	switch category {
	case domain.CategoryAccommodation:
		return categoryDisplayAccommodations
	case domain.CategoryActivity, domain.CategoryExperience:
		return categoryDisplayActivities
	case domain.CategoryTransfer:
		return categoryDisplayTransfers
	case domain.CategoryDining:
		return categoryDisplayDining
	case domain.CategoryInsurance:
		return categoryDisplayInsurance
	default:
		return categoryDisplayOther
	}
}
