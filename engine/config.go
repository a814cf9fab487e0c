package engine

import "time"

// =============================================================================
// OPTIONS - Engine-wide configuration surface
// =============================================================================

// Options carries the configurable policy knobs shared by the tracker,
// deduper, and scheduler.
type Options struct {
	// DedupWindow is the trailing span during which repeat alerts of the
	// same (budget, kind) are suppressed.
	DedupWindow time.Duration

	// MilestoneThresholds are the fixed usage percents that trigger
	// milestone alerts, independent of each budget's own threshold.
	// Must be sorted ascending.
	MilestoneThresholds []int

	// DefaultAlertThresholdPct is applied to budgets created without an
	// explicit threshold.
	DefaultAlertThresholdPct int

	// PeriodEndingDays is how many days before a period's end the
	// period-ending alert fires.
	PeriodEndingDays int
}

// DefaultOptions returns the product defaults.
func DefaultOptions() Options {
	return Options{
		DedupWindow:              24 * time.Hour,
		MilestoneThresholds:      []int{50, 75},
		DefaultAlertThresholdPct: 80,
		PeriodEndingDays:         3,
	}
}
