package domain

import "time"

// LineItemCategory groups line items for the category rollup.
type LineItemCategory string

const (
	CategoryAccommodation LineItemCategory = "accommodation"
	CategoryActivity      LineItemCategory = "activity"
	CategoryTransfer      LineItemCategory = "transfer"
	CategoryExperience    LineItemCategory = "experience"
	CategoryDining        LineItemCategory = "dining"
	CategoryInsurance     LineItemCategory = "insurance"
	CategoryOther         LineItemCategory = "other"
)

// LineItem is the priced contribution of one resolved activity slot.
type LineItem struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	Category      LineItemCategory `json:"category"`
	DayNumber     int              `json:"dayNumber,omitempty"`
	Price         int64            `json:"price"`
	StatusCredits int64            `json:"statusCredits"`
	SocietePoints int64            `json:"societePoints"`
}

// CategoryBreakdown rolls line items up by display category.
type CategoryBreakdown struct {
	Category      string     `json:"category"`
	Items         []LineItem `json:"items"`
	Subtotal      int64      `json:"subtotal"`
	StatusCredits int64      `json:"statusCredits"`
	SocietePoints int64      `json:"societePoints"`
}

// DayBreakdown rolls line items up by itinerary day.
type DayBreakdown struct {
	DayNumber     int        `json:"dayNumber"`
	Date          string     `json:"date"`
	Items         []LineItem `json:"items"`
	Subtotal      int64      `json:"subtotal"`
	StatusCredits int64      `json:"statusCredits"`
	SocietePoints int64      `json:"societePoints"`
}

// PricingBreakdown captures the derived pricing of an itinerary. It is never edited by hand.
type PricingBreakdown struct {
	Subtotal      int64               `json:"subtotal"`
	StatusCredits int64               `json:"statusCredits"`
	SocietePoints int64               `json:"societePoints"`
	Taxes         int64               `json:"taxes"`
	Fees          int64               `json:"fees"`
	Total         int64               `json:"total"`
	Currency      string              `json:"currency"`
	ByCategory    []CategoryBreakdown `json:"byCategory"`
	ByDay         []DayBreakdown      `json:"byDay"`
	LineItems     []LineItem          `json:"lineItems"`
}

// PricingDelta is the pairwise difference between two breakdowns.
type PricingDelta struct {
	PriceDelta   int64 `json:"priceDelta"`
	CreditsDelta int64 `json:"creditsDelta"`
	PointsDelta  int64 `json:"pointsDelta"`
}

// TripSummary extends the live breakdown with the agent's quote, the change count and the
// price-lock state.
type TripSummary struct {
	PricingBreakdown
	OriginalPricing PricingBreakdown `json:"originalPricing"`
	ChangeCount     int              `json:"changeCount"`
	LastModified    *time.Time       `json:"lastModified,omitempty"`
	QuoteExpiresAt  *time.Time       `json:"quoteExpiresAt,omitempty"`
	IsPriceLocked   bool             `json:"isPriceLocked"`
	PriceLockedAt   *time.Time       `json:"priceLockedAt,omitempty"`
	PriceLockedBy   string           `json:"priceLockedBy,omitempty"`
}

// Clone returns a deep copy of the breakdown.
func (b PricingBreakdown) Clone() PricingBreakdown {
	out := b
	out.LineItems = cloneLineItems(b.LineItems)
	if b.ByCategory != nil {
		out.ByCategory = make([]CategoryBreakdown, len(b.ByCategory))
		for i, category := range b.ByCategory {
			category.Items = cloneLineItems(category.Items)
			out.ByCategory[i] = category
		}
	}
	if b.ByDay != nil {
		out.ByDay = make([]DayBreakdown, len(b.ByDay))
		for i, day := range b.ByDay {
			day.Items = cloneLineItems(day.Items)
			out.ByDay[i] = day
		}
	}
	return out
}

// Clone returns a deep copy of the summary.
func (s TripSummary) Clone() TripSummary {
	out := s
	out.PricingBreakdown = s.PricingBreakdown.Clone()
	out.OriginalPricing = s.OriginalPricing.Clone()
	out.LastModified = clonePtr(s.LastModified)
	out.QuoteExpiresAt = clonePtr(s.QuoteExpiresAt)
	out.PriceLockedAt = clonePtr(s.PriceLockedAt)
	return out
}

func cloneLineItems(items []LineItem) []LineItem {
	if items == nil {
		return nil
	}
	out := make([]LineItem, len(items))
	copy(out, items)
	return out
}
