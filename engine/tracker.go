/*
tracker.go - Budget consumption tracking and status classification

PURPOSE:
  Applies expense posting deltas to budget snapshots, derives the display
  status, and reports which alert thresholds the delta crossed. This is
  the replacement for the old trigger-based "spent" column updates: the
  expense-write collaborator calls ApplyDelta explicitly and owns the
  transaction boundary.

STATUS vs ALERT KINDS:
  These are deliberately separate concerns. BudgetStatus is a total order
  for display. Alert kinds are independently-triggerable conditions:
  crossing the budget's own threshold and crossing a fixed milestone in
  the same delta reports both. Among the fixed milestones themselves only
  the highest one crossed is reported, so a delta jumping from 30% to 80%
  alerts milestone-75, not milestone-50 and milestone-75.

CONCURRENCY:
  ApplyDelta performs no locking. Callers must serialize per budget ID
  (the stores' compare-and-swap version check enforces this).

SEE ALSO:
  - dedup.go: Gates the alert kinds reported here
  - stores.go: Persistence of the returned snapshot and transition
*/
package engine

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// =============================================================================
// BUDGET TRACKER
// =============================================================================

// BudgetTracker derives consumption state from posting deltas. It is pure
// state arithmetic over injected snapshots; Clock only stamps the returned
// status transition.
type BudgetTracker struct {
	Options Options
	Clock   Clock
}

// NewBudgetTracker returns a tracker with the given options and the system
// clock.
func NewBudgetTracker(opts Options) *BudgetTracker {
	return &BudgetTracker{Options: opts, Clock: SystemClock{}}
}

// ApplyResult is everything a caller needs to persist and act on one delta.
type ApplyResult struct {
	Updated BudgetPeriod
	Status  BudgetStatus

	// Crossed holds the alert kinds whose thresholds this delta crossed
	// upward. Empty when alerts are disabled for the budget.
	Crossed []AlertKind

	// Transition is non-nil when the display status changed. Callers
	// append it to the budget's status history.
	Transition *StatusTransition
}

// ApplyDelta applies one posting delta to a budget snapshot.
//
// The delta may be negative (expense edited down or deleted); the new spent
// value is clamped at zero, since a net-negative correction cannot drive
// spend below nothing. The returned snapshot is the only side effect -
// callers persist it under per-budget mutual exclusion.
func (t *BudgetTracker) ApplyDelta(b BudgetPeriod, delta decimal.Decimal) (ApplyResult, error) {
	if err := b.Validate(); err != nil {
		return ApplyResult{}, err
	}

	prevStatus := StatusFor(b.Spent, b.Amount, b.AlertThresholdPct)
	prevPct := b.UsagePct()

	updated := b
	updated.Spent = b.Spent.Add(delta)
	if updated.Spent.IsNegative() {
		updated.Spent = decimal.Zero
	}

	newPct := updated.UsagePct()
	status := StatusFor(updated.Spent, updated.Amount, updated.AlertThresholdPct)

	result := ApplyResult{
		Updated: updated,
		Status:  status,
	}
	if b.AlertsEnabled {
		result.Crossed = t.crossedKinds(prevPct, newPct, b.AlertThresholdPct)
	}
	if status != prevStatus {
		result.Transition = &StatusTransition{
			BudgetID: b.ID,
			From:     prevStatus,
			To:       status,
			UsagePct: newPct,
			At:       t.Clock.Now(),
		}
	}
	return result, nil
}

// crossedKinds reports upward threshold crossings between two usage
// percentages. Exceeded and the budget's own threshold are independent
// triggers; milestones report only the highest crossed.
func (t *BudgetTracker) crossedKinds(prevPct, newPct decimal.Decimal, thresholdPct int) []AlertKind {
	var kinds []AlertKind

	if crossed(prevPct, newPct, 100) {
		kinds = append(kinds, KindExceeded)
	}
	if crossed(prevPct, newPct, thresholdPct) {
		kinds = append(kinds, KindApproachingLimit)
	}
	for i := len(t.Options.MilestoneThresholds) - 1; i >= 0; i-- {
		m := t.Options.MilestoneThresholds[i]
		if crossed(prevPct, newPct, m) {
			kinds = append(kinds, MilestoneKind(m))
			break
		}
	}
	return kinds
}

// crossed reports prev < threshold <= new.
func crossed(prevPct, newPct decimal.Decimal, threshold int) bool {
	th := decimal.NewFromInt(int64(threshold))
	return prevPct.LessThan(th) && newPct.GreaterThanOrEqual(th)
}

// NewAlertEvent builds the event for a crossed kind, ready for the deduper
// and sink.
func (t *BudgetTracker) NewAlertEvent(b BudgetPeriod, kind AlertKind) AlertEvent {
	return AlertEvent{
		ID:            uuid.NewString(),
		BudgetID:      b.ID,
		Kind:          kind,
		Severity:      SeverityFor(kind),
		CurrentAmount: b.Spent,
		BudgetAmount:  b.Amount,
		TriggeredAt:   t.Clock.Now(),
	}
}

// =============================================================================
// STATUS CLASSIFICATION - Pure function, over-budget checked first
// =============================================================================

// StatusFor classifies consumption into a display status. Boundary policy,
// in precedence order:
//
//	usagePct >= 100            -> Exceeded
//	usagePct >= thresholdPct   -> Warning (approaching the limit)
//	usagePct >= 75             -> Warning (milestone)
//	usagePct >= 50             -> Good
//	otherwise                  -> Excellent
func StatusFor(spent, amount decimal.Decimal, thresholdPct int) BudgetStatus {
	if !amount.IsPositive() {
		return StatusExceeded
	}
	pct := spent.Div(amount).Mul(hundred)

	switch {
	case pct.GreaterThanOrEqual(hundred):
		return StatusExceeded
	case pct.GreaterThanOrEqual(decimal.NewFromInt(int64(thresholdPct))):
		return StatusWarning
	case pct.GreaterThanOrEqual(decimal.NewFromInt(75)):
		return StatusWarning
	case pct.GreaterThanOrEqual(decimal.NewFromInt(50)):
		return StatusGood
	default:
		return StatusExcellent
	}
}

// =============================================================================
// PROJECTION HELPERS - UI-facing, never used for status
// =============================================================================

// RemainingDays returns the whole days from now until the period's end
// date. Zero once the period has ended.
func RemainingDays(b BudgetPeriod, now Date) int {
	days := DaysBetween(now, b.EndDate)
	if days < 0 {
		return 0
	}
	return days
}

// DailyRemaining returns how much can be spent per remaining day to stay
// within the cap. Zero once the period has ended.
func DailyRemaining(b BudgetPeriod, now Date) decimal.Decimal {
	days := RemainingDays(b, now)
	if days <= 0 {
		return decimal.Zero
	}
	return b.Remaining().Div(decimal.NewFromInt(int64(days)))
}

// Projection is the UI-facing forecast for one budget.
type Projection struct {
	RemainingDays  int
	DailyRemaining decimal.Decimal
	DailyRate      decimal.Decimal // average spend per elapsed day
	ProjectedSpend decimal.Decimal // end-of-period spend at the current rate
}

// Project forecasts end-of-period spend at the average daily rate so far.
func Project(b BudgetPeriod, now Date) Projection {
	p := Projection{
		RemainingDays:  RemainingDays(b, now),
		DailyRemaining: DailyRemaining(b, now),
	}

	elapsed := DaysBetween(b.StartDate, now) + 1
	if elapsed < 1 {
		elapsed = 1
	}
	totalDays := DaysBetween(b.StartDate, b.EndDate) + 1

	p.DailyRate = b.Spent.Div(decimal.NewFromInt(int64(elapsed)))
	p.ProjectedSpend = p.DailyRate.Mul(decimal.NewFromInt(int64(totalDays)))
	return p
}
