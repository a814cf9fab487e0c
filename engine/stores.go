/*
stores.go - Persistence and collaborator interfaces

PURPOSE:
  Defines the boundary between the pure engine and the outside world. All
  mutable state (budget snapshots, alert history, template cursors) lives
  behind these interfaces, injected per call site. Different
  implementations can use SQLite, PostgreSQL, or in-memory storage.

CONCURRENCY CONTRACT:
  Budget and template updates are compare-and-swap on a Version column:
  concurrent writers to the same row serialize or fail with
  ErrConcurrentModification and retry. Alert recording is a conditional
  insert so two concurrent threshold-crossings cannot both commit inside
  one window.

AUDIT:
  Status transitions are append-only. No Update, no Delete; the history
  of how a budget moved between statuses is never rewritten.

IMPLEMENTATIONS:
  - engine/store: in-memory, for tests and development
  - store/sqlite: production SQLite

SEE ALSO:
  - tracker.go, dedup.go, recurrence.go: the engine logic these serve
*/
package engine

import (
	"context"
	"time"
)

// =============================================================================
// BUDGET STORE
// =============================================================================

// BudgetStore supplies and persists budget snapshots keyed by budget ID.
type BudgetStore interface {
	// GetBudget returns the current snapshot or ErrBudgetNotFound.
	GetBudget(ctx context.Context, id BudgetID) (BudgetPeriod, error)

	// ListActiveBudgets returns every active budget.
	ListActiveBudgets(ctx context.Context) ([]BudgetPeriod, error)

	// BudgetsForPosting returns the active budgets whose category and date
	// window match a posting.
	BudgetsForPosting(ctx context.Context, category string, on Date) ([]BudgetPeriod, error)

	// SaveBudget inserts a new budget at version 1.
	SaveBudget(ctx context.Context, b BudgetPeriod) error

	// UpdateBudget persists a snapshot if its Version still matches the
	// stored row, then increments the version. Returns
	// ErrConcurrentModification on a conflict.
	UpdateBudget(ctx context.Context, b BudgetPeriod) error
}

// StatusAuditLog records status transitions append-only.
type StatusAuditLog interface {
	// AppendTransition records one status change. Append-only by contract.
	AppendTransition(ctx context.Context, tr StatusTransition) error

	// Transitions returns a budget's history, oldest first.
	Transitions(ctx context.Context, id BudgetID) ([]StatusTransition, error)
}

// =============================================================================
// ALERT HISTORY AND SINK
// =============================================================================

// AlertHistory is the dedup lookup keyed by (budget, kind).
type AlertHistory interface {
	// LastTriggered returns when an alert of this kind last fired for this
	// budget, with ok=false if it never has.
	LastTriggered(ctx context.Context, id BudgetID, kind AlertKind) (time.Time, bool, error)

	// Record commits an alert's trigger time unless one of the same
	// (budget, kind) already exists within the window, in which case it
	// returns ErrDuplicateAlert. Check and insert are atomic.
	Record(ctx context.Context, event AlertEvent, window time.Duration) error

	// Recent returns the newest alerts across all budgets, newest first.
	Recent(ctx context.Context, limit int) ([]AlertEvent, error)
}

// AlertSink receives deduplicated alerts. User-facing delivery (push,
// email) and read/dismissed bookkeeping are its concern, not the engine's.
type AlertSink interface {
	Deliver(ctx context.Context, event AlertEvent) error
}

// =============================================================================
// RECURRING TEMPLATE STORE
// =============================================================================

// TemplateStore supplies templates due for materialization and persists
// advanced cursors.
type TemplateStore interface {
	// GetTemplate returns a template or ErrTemplateNotFound.
	GetTemplate(ctx context.Context, id TemplateID) (RecurringTemplate, error)

	// DueTemplates returns active templates with NextDate <= asOf.
	DueTemplates(ctx context.Context, asOf Date) ([]RecurringTemplate, error)

	// SaveTemplate inserts a new template at version 1.
	SaveTemplate(ctx context.Context, t RecurringTemplate) error

	// UpdateTemplate persists an advanced template if its Version still
	// matches. Returns ErrConcurrentModification on a conflict.
	UpdateTemplate(ctx context.Context, t RecurringTemplate) error
}

// ExpenseCreator is the external expense-creation collaborator. A nil
// error confirms the draft was recorded; only then may the template
// advance.
type ExpenseCreator interface {
	CreateExpense(ctx context.Context, draft ExpenseDraft) error
}
