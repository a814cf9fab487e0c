/*
errors.go - Centralized error types for the budget engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Every error is typed; callers branch on kind to decide retry vs
  user-surfaced failure. Generic errors are never used for control flow.

ERROR CATEGORIES:
  1. State errors     - Invalid budget snapshots (data-entry errors, fatal)
  2. Pattern errors   - Malformed recurring patterns (fatal)
  3. Collaborator     - Downstream write failures (retryable)
  4. Store errors     - Concurrency conflicts, missing rows

USAGE:
  if engine.IsRetryable(err) {
      // leave state unmoved, retry on the next tick
  }

SEE ALSO:
  - tracker.go: Returns InvalidBudgetStateError
  - recurrence.go: Returns InvalidPatternError, MaterializationError
  - stores.go: Store implementations return the sentinel errors
*/
package engine

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidBudgetState is returned when a budget snapshot violates its
	// structural invariants (amount <= 0, end before start). The budget is
	// not updated; this is a data-entry error, not a transient fault.
	ErrInvalidBudgetState = errors.New("invalid budget state")

	// ErrInvalidPattern is returned for truly malformed recurring patterns
	// (interval < 1, unknown frequency). Ignorable field mismatches are
	// silently normalized, not errors.
	ErrInvalidPattern = errors.New("invalid recurring pattern")

	// ErrMaterializationFailed is returned when the expense-creation
	// collaborator rejects a draft. NextDate and CreatedCount do not move,
	// so the same template state retries idempotently.
	ErrMaterializationFailed = errors.New("materialization failed")

	// ErrAlertSinkUnavailable is returned when alert delivery fails after
	// the deduper said "emit". The dedup record is only committed once
	// delivery succeeds, so a future retry is permitted; the trade-off is
	// occasional duplicate alerts when a crash lands between delivery and
	// the dedup commit.
	ErrAlertSinkUnavailable = errors.New("alert sink unavailable")

	// ErrConcurrentModification is returned when a compare-and-swap store
	// update detects a version conflict.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrDuplicateAlert is returned by conditional alert-history inserts
	// when an alert of the same (budget, kind) exists within the window.
	ErrDuplicateAlert = errors.New("duplicate alert within dedup window")

	// ErrBudgetNotFound is returned when a referenced budget doesn't exist.
	ErrBudgetNotFound = errors.New("budget not found")

	// ErrTemplateNotFound is returned when a referenced template doesn't exist.
	ErrTemplateNotFound = errors.New("recurring template not found")

	// ErrTemplateTerminated is returned when an operation is attempted on a
	// template whose series has ended.
	ErrTemplateTerminated = errors.New("recurring template terminated")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvalidBudgetStateError identifies which invariant a snapshot violated.
type InvalidBudgetStateError struct {
	BudgetID BudgetID
	Reason   string
}

func (e *InvalidBudgetStateError) Error() string {
	return fmt.Sprintf("invalid budget state for %q: %s", e.BudgetID, e.Reason)
}

func (e *InvalidBudgetStateError) Unwrap() error { return ErrInvalidBudgetState }

// InvalidPatternError identifies why a pattern cannot resolve to a date.
type InvalidPatternError struct {
	Pattern RecurringPattern
	Reason  string
}

func (e *InvalidPatternError) Error() string {
	return fmt.Sprintf("invalid %s pattern: %s", e.Pattern.Frequency, e.Reason)
}

func (e *InvalidPatternError) Unwrap() error { return ErrInvalidPattern }

// MaterializationError wraps the collaborator failure for one occurrence.
type MaterializationError struct {
	TemplateID TemplateID
	Date       Date
	Cause      error
}

func (e *MaterializationError) Error() string {
	return fmt.Sprintf("materialization of %q for %s failed: %v", e.TemplateID, e.Date, e.Cause)
}

func (e *MaterializationError) Unwrap() error { return ErrMaterializationFailed }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry with state
// left unmoved.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrMaterializationFailed) ||
		errors.Is(err, ErrAlertSinkUnavailable)
}

// IsClientError returns true if the error is due to invalid input and must
// be surfaced to the user rather than retried.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidBudgetState) ||
		errors.Is(err, ErrInvalidPattern)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrBudgetNotFound) ||
		errors.Is(err, ErrTemplateNotFound)
}
