package domain

// ValidationWarningType identifies which check produced a warning.
type ValidationWarningType string

const (
	WarningMinimumStay      ValidationWarningType = "minimum_stay"
	WarningTransferConflict ValidationWarningType = "transfer_conflict"
	WarningAvailability     ValidationWarningType = "availability"
	WarningDateConstraint   ValidationWarningType = "date_constraint"
	WarningTimingConflict   ValidationWarningType = "timing_conflict"
)

// Severity ranks a validation warning. Only SeverityError blocks a selection.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// ValidationWarning is a transient finding produced while validating a selection.
type ValidationWarning struct {
	Type           ValidationWarningType `json:"type"`
	Severity       Severity              `json:"severity"`
	Message        string                `json:"message"`
	AffectedSlotID string                `json:"affectedSlotId,omitempty"`
	Suggestion     string                `json:"suggestion,omitempty"`
}

// ValidationResult aggregates the warnings of one validation pass.
type ValidationResult struct {
	IsValid  bool                `json:"isValid"`
	Warnings []ValidationWarning `json:"warnings"`
}

// HasErrors reports whether any warning carries error severity.
func (r ValidationResult) HasErrors() bool {
	for _, warning := range r.Warnings {
		if warning.Severity == SeverityError {
			return true
		}
	}
	return false
}

// NeedsConfirmation reports whether the result is valid but still carries warnings the customer
// must acknowledge.
func (r ValidationResult) NeedsConfirmation() bool {
	return r.IsValid && len(r.Warnings) > 0
}
