/*
recurrence.go - Occurrence date math for recurring expense templates

PURPOSE:
  Computes the next occurrence date for daily/weekly/monthly/yearly
  patterns with optional weekday, day-of-month, and month-of-year anchors,
  and decides when a series terminates. All arithmetic is date-only and
  DST-agnostic.

CALENDAR EDGE POLICY:
  - Day-of-month anchors clamp to the last valid day of the target month:
    dayOfMonth=31 in April yields the 30th, never May overflow.
  - Feb 29 sources clamp to Feb 28 in non-leap target years.
  - Anchor fields irrelevant to the frequency are ignored, not rejected;
    only interval < 1 or an unknown frequency is a hard error.

MATERIALIZATION ORDERING:
  Materialize-then-advance, never advance-then-materialize. NextDate and
  CreatedCount move only after the expense-creation collaborator confirms
  success, so a failed downstream write never skips an occurrence: the
  same template state reproduces the identical draft on retry.

CONCURRENCY:
  All operations are pure and safe to run in parallel across distinct
  templates. Within one template, materialize-then-advance must be
  serialized by the caller.

SEE ALSO:
  - types.go: RecurringPattern, RecurringTemplate, ExpenseDraft
  - scheduler: drives the materialize/advance cycle per tick
*/
package engine

import (
	"fmt"
)

// =============================================================================
// RECURRENCE ENGINE
// =============================================================================

// RecurrenceEngine computes occurrence dates and series termination. It is
// stateless; the zero value is ready to use.
type RecurrenceEngine struct{}

// NextOccurrence returns the first occurrence strictly after from.
func (RecurrenceEngine) NextOccurrence(p RecurringPattern, from Date) (Date, error) {
	if err := p.Validate(); err != nil {
		return Date{}, err
	}

	switch p.Frequency {
	case Daily:
		return from.AddDays(p.Interval), nil

	case Weekly:
		return nextWeekly(p, from), nil

	case Monthly:
		return nextMonthly(p, from), nil

	case Yearly:
		return nextYearly(p, from), nil

	default:
		// Validate covers this; kept for exhaustiveness.
		return Date{}, &InvalidPatternError{Pattern: p, Reason: "unknown frequency"}
	}
}

// nextWeekly advances to the next date on/after from+1 whose weekday
// matches the anchor (defaulting to from's own weekday), then adds the
// remaining whole weeks of the interval.
func nextWeekly(p RecurringPattern, from Date) Date {
	target := from.Weekday()
	if p.DayOfWeek != nil {
		target = *p.DayOfWeek
	}

	next := from.AddDays(1)
	for next.Weekday() != target {
		next = next.AddDays(1)
	}
	return next.AddDays((p.Interval - 1) * 7)
}

// nextMonthly advances interval months and anchors the day of month
// (defaulting to from's day), clamped to the target month's length.
func nextMonthly(p RecurringPattern, from Date) Date {
	day := from.Day()
	if p.DayOfMonth != nil {
		day = *p.DayOfMonth
	}
	return from.AddMonthsClamped(p.Interval).WithDay(day)
}

// nextYearly advances interval years, applying month/day anchors when set
// and otherwise preserving from's month and day with the end-of-month
// clamp (Feb 29 -> Feb 28 in non-leap years).
func nextYearly(p RecurringPattern, from Date) Date {
	year := from.Year() + p.Interval
	month := from.Month()
	if p.MonthOfYear != nil {
		month = *p.MonthOfYear
	}
	day := from.Day()
	if p.DayOfMonth != nil {
		day = *p.DayOfMonth
	}
	return NewDate(year, month, clampDay(day, year, month))
}

// =============================================================================
// TERMINATION
// =============================================================================

// IsTerminated reports whether a template's series has ended: max
// occurrences reached, end date passed, or deactivated. A terminated
// template must produce no further occurrences even though NextOccurrence
// remains mathematically computable.
func (RecurrenceEngine) IsTerminated(t RecurringTemplate, now Date) bool {
	if !t.Active {
		return true
	}
	if t.MaxOccurrences != nil && t.CreatedCount >= *t.MaxOccurrences {
		return true
	}
	if t.EndDate != nil && t.EndDate.Before(now) {
		return true
	}
	return false
}

// =============================================================================
// MATERIALIZATION
// =============================================================================

// Materialize copies the template expense into a draft stamped with the
// template's next due date. The draft's idempotency key is stable per
// (template, date), so retrying a failed creation reproduces the identical
// draft.
func (RecurrenceEngine) Materialize(t RecurringTemplate) (ExpenseDraft, error) {
	if t.NextDate.IsZero() {
		return ExpenseDraft{}, &InvalidPatternError{Pattern: t.Pattern, Reason: "template has no next date"}
	}
	return ExpenseDraft{
		TemplateID:     t.ID,
		Amount:         t.Expense.Amount,
		Description:    t.Expense.Description,
		Category:       t.Expense.Category,
		Merchant:       t.Expense.Merchant,
		Date:           t.NextDate,
		IdempotencyKey: fmt.Sprintf("%s:%s", t.ID, t.NextDate),
	}, nil
}

// Advance moves a template past a confirmed materialization: records the
// created occurrence, computes the next date, and deactivates the series
// once terminated. Callers invoke this only after the expense-creation
// collaborator reported success.
func (e RecurrenceEngine) Advance(t RecurringTemplate, now Date) (RecurringTemplate, error) {
	created := t.NextDate

	t.LastCreated = &created
	t.CreatedCount++

	next, err := e.NextOccurrence(t.Pattern, created)
	if err != nil {
		return t, err
	}
	t.NextDate = next

	if e.IsTerminated(t, now) {
		t.Active = false
	}
	return t, nil
}
