/*
Package engine implements the budget tracking and alerting core.

PURPOSE:
  This package contains the pure domain logic for expense budgeting:
  consumption tracking, status classification, alert gating, and
  recurring-occurrence date math. It holds no mutable state of its own -
  budget snapshots, alert history, and recurring templates live in injected
  stores, so every operation here is a pure function over its inputs.

KEY CONCEPTS IN THIS FILE (types.go):
  - BudgetPeriod: A bounded date range with a spending cap
  - BudgetStatus: Derived display classification (Excellent..Exceeded)
  - AlertEvent: A threshold-crossing notification handed to the sink
  - RecurringTemplate/RecurringPattern: Reusable expense definitions

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal to avoid floating-point money errors
  2. Purity: ApplyDelta and friends return snapshots; callers persist
  3. Separation: display status and alert kinds are independent concerns
  4. Auditability: every status transition is recorded append-only

SEE ALSO:
  - tracker.go: BudgetTracker (delta application, status, crossings)
  - dedup.go: AlertDeduper (trailing-window alert gating)
  - recurrence.go: RecurrenceEngine (occurrence date math)
  - stores.go: persistence interfaces implemented by store packages
*/
package engine

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type BudgetID string
type TemplateID string

// =============================================================================
// BUDGET PERIOD - Bounded date range with a spending cap
// =============================================================================

// BudgetPeriod is a snapshot of one budget's consumption state. Spent is
// adjusted only by posting deltas; the engine never re-derives it by
// summation (that is the storage layer's job).
type BudgetPeriod struct {
	ID       BudgetID
	Category string

	Amount decimal.Decimal // cap, must be > 0
	Spent  decimal.Decimal // >= 0, monotonically adjusted by deltas

	StartDate Date
	EndDate   Date // must be > StartDate

	AlertThresholdPct int // 0..100
	AlertsEnabled     bool

	// Budgets are deactivated when superseded, never deleted.
	Active bool

	// Version supports compare-and-swap updates in the stores.
	Version int64
}

// Remaining returns Amount - Spent. May be negative.
func (b BudgetPeriod) Remaining() decimal.Decimal {
	return b.Amount.Sub(b.Spent)
}

// UsagePct returns Spent / Amount * 100. Callers must have validated
// Amount > 0.
func (b BudgetPeriod) UsagePct() decimal.Decimal {
	return b.Spent.Div(b.Amount).Mul(decimal.NewFromInt(100))
}

// Validate checks the structural invariants of a budget snapshot.
func (b BudgetPeriod) Validate() error {
	if !b.Amount.IsPositive() {
		return &InvalidBudgetStateError{BudgetID: b.ID, Reason: "amount must be positive"}
	}
	if !b.EndDate.After(b.StartDate) {
		return &InvalidBudgetStateError{BudgetID: b.ID, Reason: "end date must be after start date"}
	}
	if b.AlertThresholdPct < 0 || b.AlertThresholdPct > 100 {
		return &InvalidBudgetStateError{BudgetID: b.ID, Reason: "alert threshold must be within 0..100"}
	}
	return nil
}

// Contains reports whether a date falls inside the budget period.
func (b BudgetPeriod) Contains(d Date) bool {
	return d.AfterOrEqual(b.StartDate) && d.BeforeOrEqual(b.EndDate)
}

// =============================================================================
// BUDGET STATUS - Derived display classification
// =============================================================================

// BudgetStatus is a pure function of (spent, amount, alertThresholdPct).
// It is never stored independently of the snapshot that produced it.
// Ordered by severity, so statuses compare with <.
type BudgetStatus int

const (
	StatusExcellent BudgetStatus = iota // < 50% used
	StatusGood                          // 50-75%
	StatusWarning                       // 75%..100% or past the alert threshold
	StatusExceeded                      // >= 100%
)

func (s BudgetStatus) String() string {
	switch s {
	case StatusExcellent:
		return "excellent"
	case StatusGood:
		return "good"
	case StatusWarning:
		return "warning"
	case StatusExceeded:
		return "exceeded"
	default:
		return "unknown"
	}
}

// StatusTransition is one entry in a budget's append-only status history.
type StatusTransition struct {
	BudgetID BudgetID
	From     BudgetStatus
	To       BudgetStatus
	UsagePct decimal.Decimal
	At       time.Time
}

// =============================================================================
// ALERTS
// =============================================================================

// AlertKind is a discrete notification trigger. Kinds are independently
// triggerable: one delta may cross the configured threshold and a milestone
// at once, and both are reported.
type AlertKind string

const (
	KindApproachingLimit AlertKind = "approaching_limit" // crossed AlertThresholdPct
	KindExceeded         AlertKind = "exceeded"          // crossed 100%
	KindMilestone50      AlertKind = "milestone_50"
	KindMilestone75      AlertKind = "milestone_75"
	KindPeriodEnding     AlertKind = "period_ending"
)

// MilestoneKind returns the alert kind for a configured milestone percent.
// Unconfigured percents still produce a stable kind so custom milestone
// lists dedup per-percent.
func MilestoneKind(pct int) AlertKind {
	switch pct {
	case 50:
		return KindMilestone50
	case 75:
		return KindMilestone75
	default:
		return AlertKind("milestone_" + strconv.Itoa(pct))
	}
}

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// SeverityFor maps an alert kind to its delivery severity.
func SeverityFor(kind AlertKind) Severity {
	switch kind {
	case KindExceeded:
		return SeverityCritical
	case KindApproachingLimit:
		return SeverityHigh
	case KindMilestone75, KindPeriodEnding:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// AlertEvent is created by the tracker, gated by the deduper, and terminal
// once delivered to the sink. Read/dismissed bookkeeping is the sink's
// concern.
type AlertEvent struct {
	ID            string
	BudgetID      BudgetID
	Kind          AlertKind
	Severity      Severity
	CurrentAmount decimal.Decimal
	BudgetAmount  decimal.Decimal
	TriggeredAt   time.Time
}

// =============================================================================
// RECURRING TEMPLATES
// =============================================================================

type Frequency string

const (
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
	Yearly  Frequency = "yearly"
)

// RecurringPattern describes when occurrences fall. Anchor fields are only
// meaningful for their frequency (DayOfWeek for Weekly, DayOfMonth for
// Monthly, MonthOfYear for Yearly); irrelevant fields are ignored, not
// rejected, to tolerate upstream looseness.
type RecurringPattern struct {
	Frequency   Frequency
	Interval    int // >= 1
	DayOfWeek   *time.Weekday
	DayOfMonth  *int // 1..31
	MonthOfYear *time.Month
}

// Validate rejects truly malformed patterns. Ignorable field mismatches are
// not errors.
func (p RecurringPattern) Validate() error {
	if p.Interval < 1 {
		return &InvalidPatternError{Pattern: p, Reason: "interval must be >= 1"}
	}
	switch p.Frequency {
	case Daily, Weekly, Monthly, Yearly:
	default:
		return &InvalidPatternError{Pattern: p, Reason: "unknown frequency"}
	}
	if p.DayOfWeek != nil && (*p.DayOfWeek < time.Sunday || *p.DayOfWeek > time.Saturday) {
		return &InvalidPatternError{Pattern: p, Reason: "day of week must be within 0..6"}
	}
	if p.DayOfMonth != nil && (*p.DayOfMonth < 1 || *p.DayOfMonth > 31) {
		return &InvalidPatternError{Pattern: p, Reason: "day of month must be within 1..31"}
	}
	if p.MonthOfYear != nil && (*p.MonthOfYear < time.January || *p.MonthOfYear > time.December) {
		return &InvalidPatternError{Pattern: p, Reason: "month of year must be within 1..12"}
	}
	return nil
}

// ExpenseTemplate holds the fields copied onto each materialized expense.
type ExpenseTemplate struct {
	Amount      decimal.Decimal
	Description string
	Category    string
	Merchant    string
}

// RecurringTemplate is a reusable expense definition plus its calendar
// pattern. NextDate and CreatedCount are mutated only by the recurrence
// engine after a confirmed materialization.
type RecurringTemplate struct {
	ID      TemplateID
	Expense ExpenseTemplate
	Pattern RecurringPattern

	NextDate       Date
	LastCreated    *Date
	CreatedCount   int
	MaxOccurrences *int
	EndDate        *Date
	Active         bool

	Version int64
}

// ExpenseDraft is one materialized occurrence, handed to the external
// expense-creation collaborator. The idempotency key is stable per
// (template, date) so a retried materialization produces the same draft.
type ExpenseDraft struct {
	TemplateID     TemplateID
	Amount         decimal.Decimal
	Description    string
	Category       string
	Merchant       string
	Date           Date
	IdempotencyKey string
}

// ExpensePosting is one delta from the expense-write collaborator: created
// (+amount), updated (new-old), or deleted (-amount).
type ExpensePosting struct {
	Category string
	Delta    decimal.Decimal
	Date     Date
}
