/*
dedup.go - Trailing-window alert rate gating

PURPOSE:
  Prevents alert storms when many small deltas repeatedly cross the same
  threshold within a short span. For a given (budget, kind) pair at most
  one alert is emitted per dedup window.

DESIGN:
  The old implementation was a "similar alert in the last 24 hours"
  existence query baked into one SQL function. Here it is a pure decision
  over an injected history lookup, decoupled from any concrete store.

  Threshold de-crossing and re-crossing within the window does NOT reset
  eligibility - only elapsed time does. This is a product decision, not a
  bug: an expense edited down and back up inside the window stays quiet.

ATOMICITY:
  ShouldEmit and recording the new trigger time must be atomic as a pair
  per (budget, kind). The engine does not own alert storage; stores
  provide a conditional Record ("insert unless one exists within window"),
  and the scheduler commits it only after sink delivery succeeds.

SEE ALSO:
  - stores.go: AlertHistory interface
  - scheduler: delivery ordering and the duplicate-on-crash trade-off
*/
package engine

import (
	"context"
	"time"
)

// =============================================================================
// ALERT DEDUPER
// =============================================================================

// AlertDeduper gates the alert rate for (budget, kind) pairs using a
// trailing time window.
type AlertDeduper struct {
	// Window is the trailing suppression span. Zero means the default.
	Window time.Duration

	History AlertHistory
}

// NewAlertDeduper wires a deduper to its history lookup.
func NewAlertDeduper(window time.Duration, history AlertHistory) *AlertDeduper {
	if window <= 0 {
		window = DefaultOptions().DedupWindow
	}
	return &AlertDeduper{Window: window, History: history}
}

// ShouldEmit reports whether an alert of this kind for this budget may be
// emitted at now. The decision is pure given the last-triggered timestamp;
// on "yes" the caller must record the new trigger atomically with delivery.
func (d *AlertDeduper) ShouldEmit(ctx context.Context, budgetID BudgetID, kind AlertKind, now time.Time) (bool, error) {
	last, ok, err := d.History.LastTriggered(ctx, budgetID, kind)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	return now.Sub(last) >= d.Window, nil
}
