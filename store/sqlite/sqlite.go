/*
Package sqlite is the production store for the budget engine.

PURPOSE:
  Implements every engine persistence interface over one SQLite database:
  budget snapshots, append-only status transitions, alert history with
  the conditional dedup insert, and recurring template cursors.

CONCURRENCY:
  - Budget and template writes are compare-and-swap on a version column.
    A lost race surfaces as engine.ErrConcurrentModification.
  - Alert recording is a single conditional INSERT ... WHERE NOT EXISTS,
    so two concurrent threshold-crossings cannot both commit within one
    dedup window.

AMOUNTS:
  Money columns are stored as decimal strings, never floats.

SEE ALSO:
  - engine/stores.go: the interfaces implemented here
  - engine/store: the in-memory counterpart used in tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/budget-engine/engine"
)

// Store implements engine.BudgetStore, engine.StatusAuditLog,
// engine.AlertHistory, and engine.TemplateStore.
type Store struct {
	db *sql.DB
}

var (
	_ engine.BudgetStore    = (*Store)(nil)
	_ engine.StatusAuditLog = (*Store)(nil)
	_ engine.AlertHistory   = (*Store)(nil)
	_ engine.TemplateStore  = (*Store)(nil)
)

// New opens (or creates) the database and applies the schema.
// Use ":memory:" for an in-memory database.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite serializes writers; one connection avoids lock churn.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS budgets (
	id                  TEXT PRIMARY KEY,
	category            TEXT NOT NULL,
	amount              TEXT NOT NULL,
	spent               TEXT NOT NULL,
	start_date          TEXT NOT NULL,
	end_date            TEXT NOT NULL,
	alert_threshold_pct INTEGER NOT NULL,
	alerts_enabled      INTEGER NOT NULL,
	active              INTEGER NOT NULL,
	version             INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_budgets_category ON budgets(category, active);

CREATE TABLE IF NOT EXISTS status_transitions (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	budget_id   TEXT NOT NULL,
	from_status INTEGER NOT NULL,
	to_status   INTEGER NOT NULL,
	usage_pct   TEXT NOT NULL,
	at          TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transitions_budget ON status_transitions(budget_id, seq);

CREATE TABLE IF NOT EXISTS alerts (
	id             TEXT PRIMARY KEY,
	budget_id      TEXT NOT NULL,
	kind           TEXT NOT NULL,
	severity       TEXT NOT NULL,
	current_amount TEXT NOT NULL,
	budget_amount  TEXT NOT NULL,
	triggered_at   TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_alerts_dedup ON alerts(budget_id, kind, triggered_at);

CREATE TABLE IF NOT EXISTS templates (
	id              TEXT PRIMARY KEY,
	amount          TEXT NOT NULL,
	description     TEXT NOT NULL,
	category        TEXT NOT NULL,
	merchant        TEXT NOT NULL,
	frequency       TEXT NOT NULL,
	recur_interval  INTEGER NOT NULL,
	day_of_week     INTEGER,
	day_of_month    INTEGER,
	month_of_year   INTEGER,
	next_date       TEXT NOT NULL,
	last_created    TEXT,
	created_count   INTEGER NOT NULL,
	max_occurrences INTEGER,
	end_date        TEXT,
	active          INTEGER NOT NULL,
	version         INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_templates_due ON templates(active, next_date);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// =============================================================================
// BUDGET STORE
// =============================================================================

const budgetColumns = `id, category, amount, spent, start_date, end_date,
	alert_threshold_pct, alerts_enabled, active, version`

func (s *Store) GetBudget(ctx context.Context, id engine.BudgetID) (engine.BudgetPeriod, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+budgetColumns+` FROM budgets WHERE id = ?`, string(id))
	b, err := scanBudget(row)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.BudgetPeriod{}, engine.ErrBudgetNotFound
	}
	return b, err
}

func (s *Store) ListActiveBudgets(ctx context.Context) ([]engine.BudgetPeriod, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+budgetColumns+` FROM budgets WHERE active = 1 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectBudgets(rows)
}

func (s *Store) BudgetsForPosting(ctx context.Context, category string, on engine.Date) ([]engine.BudgetPeriod, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+budgetColumns+` FROM budgets
		 WHERE active = 1 AND category = ? AND start_date <= ? AND end_date >= ?
		 ORDER BY id`,
		category, on.String(), on.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectBudgets(rows)
}

func (s *Store) SaveBudget(ctx context.Context, b engine.BudgetPeriod) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO budgets (`+budgetColumns+`) VALUES (?,?,?,?,?,?,?,?,?,1)`,
		string(b.ID), b.Category, b.Amount.String(), b.Spent.String(),
		b.StartDate.String(), b.EndDate.String(),
		b.AlertThresholdPct, boolInt(b.AlertsEnabled), boolInt(b.Active))
	return err
}

// UpdateBudget is compare-and-swap: the row moves only if the caller's
// version is still current.
func (s *Store) UpdateBudget(ctx context.Context, b engine.BudgetPeriod) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE budgets SET category = ?, amount = ?, spent = ?, start_date = ?,
		 end_date = ?, alert_threshold_pct = ?, alerts_enabled = ?, active = ?,
		 version = version + 1
		 WHERE id = ? AND version = ?`,
		b.Category, b.Amount.String(), b.Spent.String(),
		b.StartDate.String(), b.EndDate.String(),
		b.AlertThresholdPct, boolInt(b.AlertsEnabled), boolInt(b.Active),
		string(b.ID), b.Version)
	if err != nil {
		return err
	}
	return casOutcome(ctx, res, s.db, `SELECT 1 FROM budgets WHERE id = ?`, string(b.ID), engine.ErrBudgetNotFound)
}

func scanBudget(row interface{ Scan(...any) error }) (engine.BudgetPeriod, error) {
	var (
		b                      engine.BudgetPeriod
		id, amount, spent      string
		startDate, endDate     string
		alertsEnabled, active  int
	)
	err := row.Scan(&id, &b.Category, &amount, &spent, &startDate, &endDate,
		&b.AlertThresholdPct, &alertsEnabled, &active, &b.Version)
	if err != nil {
		return engine.BudgetPeriod{}, err
	}

	b.ID = engine.BudgetID(id)
	if b.Amount, err = decimal.NewFromString(amount); err != nil {
		return engine.BudgetPeriod{}, fmt.Errorf("budget %s amount: %w", id, err)
	}
	if b.Spent, err = decimal.NewFromString(spent); err != nil {
		return engine.BudgetPeriod{}, fmt.Errorf("budget %s spent: %w", id, err)
	}
	if b.StartDate, err = engine.ParseDate(startDate); err != nil {
		return engine.BudgetPeriod{}, err
	}
	if b.EndDate, err = engine.ParseDate(endDate); err != nil {
		return engine.BudgetPeriod{}, err
	}
	b.AlertsEnabled = alertsEnabled != 0
	b.Active = active != 0
	return b, nil
}

func collectBudgets(rows *sql.Rows) ([]engine.BudgetPeriod, error) {
	var result []engine.BudgetPeriod
	for rows.Next() {
		b, err := scanBudget(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, b)
	}
	return result, rows.Err()
}

// =============================================================================
// STATUS AUDIT LOG - Append-only
// =============================================================================

func (s *Store) AppendTransition(ctx context.Context, tr engine.StatusTransition) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO status_transitions (budget_id, from_status, to_status, usage_pct, at)
		 VALUES (?,?,?,?,?)`,
		string(tr.BudgetID), int(tr.From), int(tr.To), tr.UsagePct.String(), tr.At.UTC())
	return err
}

func (s *Store) Transitions(ctx context.Context, id engine.BudgetID) ([]engine.StatusTransition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT budget_id, from_status, to_status, usage_pct, at
		 FROM status_transitions WHERE budget_id = ? ORDER BY seq`, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []engine.StatusTransition
	for rows.Next() {
		var (
			tr       engine.StatusTransition
			budgetID string
			from, to int
			pct      string
		)
		if err := rows.Scan(&budgetID, &from, &to, &pct, &tr.At); err != nil {
			return nil, err
		}
		tr.BudgetID = engine.BudgetID(budgetID)
		tr.From = engine.BudgetStatus(from)
		tr.To = engine.BudgetStatus(to)
		if tr.UsagePct, err = decimal.NewFromString(pct); err != nil {
			return nil, err
		}
		result = append(result, tr)
	}
	return result, rows.Err()
}

// =============================================================================
// ALERT HISTORY - Conditional insert keyed by (budget, kind)
// =============================================================================

func (s *Store) LastTriggered(ctx context.Context, id engine.BudgetID, kind engine.AlertKind) (time.Time, bool, error) {
	var at time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT triggered_at FROM alerts WHERE budget_id = ? AND kind = ?
		 ORDER BY triggered_at DESC LIMIT 1`,
		string(id), string(kind)).Scan(&at)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return at, true, nil
}

// Record inserts the alert unless one of the same (budget, kind) exists
// within the window. One statement, so the check-then-set pair is atomic.
func (s *Store) Record(ctx context.Context, event engine.AlertEvent, window time.Duration) error {
	cutoff := event.TriggeredAt.Add(-window).UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (id, budget_id, kind, severity, current_amount, budget_amount, triggered_at)
		 SELECT ?,?,?,?,?,?,?
		 WHERE NOT EXISTS (
			SELECT 1 FROM alerts WHERE budget_id = ? AND kind = ? AND triggered_at > ?
		 )`,
		event.ID, string(event.BudgetID), string(event.Kind), string(event.Severity),
		event.CurrentAmount.String(), event.BudgetAmount.String(), event.TriggeredAt.UTC(),
		string(event.BudgetID), string(event.Kind), cutoff)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return engine.ErrDuplicateAlert
	}
	return nil
}

func (s *Store) Recent(ctx context.Context, limit int) ([]engine.AlertEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, budget_id, kind, severity, current_amount, budget_amount, triggered_at
		 FROM alerts ORDER BY triggered_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []engine.AlertEvent
	for rows.Next() {
		var (
			e                      engine.AlertEvent
			budgetID, kind, sev    string
			current, budgetAmount  string
		)
		if err := rows.Scan(&e.ID, &budgetID, &kind, &sev, &current, &budgetAmount, &e.TriggeredAt); err != nil {
			return nil, err
		}
		e.BudgetID = engine.BudgetID(budgetID)
		e.Kind = engine.AlertKind(kind)
		e.Severity = engine.Severity(sev)
		if e.CurrentAmount, err = decimal.NewFromString(current); err != nil {
			return nil, err
		}
		if e.BudgetAmount, err = decimal.NewFromString(budgetAmount); err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// =============================================================================
// TEMPLATE STORE
// =============================================================================

const templateColumns = `id, amount, description, category, merchant, frequency,
	recur_interval, day_of_week, day_of_month, month_of_year, next_date,
	last_created, created_count, max_occurrences, end_date, active, version`

func (s *Store) GetTemplate(ctx context.Context, id engine.TemplateID) (engine.RecurringTemplate, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+templateColumns+` FROM templates WHERE id = ?`, string(id))
	t, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.RecurringTemplate{}, engine.ErrTemplateNotFound
	}
	return t, err
}

func (s *Store) DueTemplates(ctx context.Context, asOf engine.Date) ([]engine.RecurringTemplate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+templateColumns+` FROM templates
		 WHERE active = 1 AND next_date <= ? ORDER BY id`, asOf.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []engine.RecurringTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func (s *Store) SaveTemplate(ctx context.Context, t engine.RecurringTemplate) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO templates (`+templateColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,1)`,
		string(t.ID), t.Expense.Amount.String(), t.Expense.Description,
		t.Expense.Category, t.Expense.Merchant,
		string(t.Pattern.Frequency), t.Pattern.Interval,
		weekdayPtr(t.Pattern.DayOfWeek), intPtr(t.Pattern.DayOfMonth), monthPtr(t.Pattern.MonthOfYear),
		t.NextDate.String(), datePtr(t.LastCreated),
		t.CreatedCount, intPtr(t.MaxOccurrences), datePtr(t.EndDate),
		boolInt(t.Active))
	return err
}

func (s *Store) UpdateTemplate(ctx context.Context, t engine.RecurringTemplate) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE templates SET amount = ?, description = ?, category = ?, merchant = ?,
		 frequency = ?, recur_interval = ?, day_of_week = ?, day_of_month = ?,
		 month_of_year = ?, next_date = ?, last_created = ?, created_count = ?,
		 max_occurrences = ?, end_date = ?, active = ?, version = version + 1
		 WHERE id = ? AND version = ?`,
		t.Expense.Amount.String(), t.Expense.Description, t.Expense.Category, t.Expense.Merchant,
		string(t.Pattern.Frequency), t.Pattern.Interval,
		weekdayPtr(t.Pattern.DayOfWeek), intPtr(t.Pattern.DayOfMonth), monthPtr(t.Pattern.MonthOfYear),
		t.NextDate.String(), datePtr(t.LastCreated), t.CreatedCount,
		intPtr(t.MaxOccurrences), datePtr(t.EndDate), boolInt(t.Active),
		string(t.ID), t.Version)
	if err != nil {
		return err
	}
	return casOutcome(ctx, res, s.db, `SELECT 1 FROM templates WHERE id = ?`, string(t.ID), engine.ErrTemplateNotFound)
}

func scanTemplate(row interface{ Scan(...any) error }) (engine.RecurringTemplate, error) {
	var (
		t                        engine.RecurringTemplate
		id, amount, freq         string
		dow, dom, moy, maxOcc    sql.NullInt64
		nextDate                 string
		lastCreated, endDate     sql.NullString
		active                   int
	)
	err := row.Scan(&id, &amount, &t.Expense.Description, &t.Expense.Category,
		&t.Expense.Merchant, &freq, &t.Pattern.Interval, &dow, &dom, &moy,
		&nextDate, &lastCreated, &t.CreatedCount, &maxOcc, &endDate, &active, &t.Version)
	if err != nil {
		return engine.RecurringTemplate{}, err
	}

	t.ID = engine.TemplateID(id)
	if t.Expense.Amount, err = decimal.NewFromString(amount); err != nil {
		return engine.RecurringTemplate{}, fmt.Errorf("template %s amount: %w", id, err)
	}
	t.Pattern.Frequency = engine.Frequency(freq)
	if dow.Valid {
		wd := time.Weekday(dow.Int64)
		t.Pattern.DayOfWeek = &wd
	}
	if dom.Valid {
		d := int(dom.Int64)
		t.Pattern.DayOfMonth = &d
	}
	if moy.Valid {
		m := time.Month(moy.Int64)
		t.Pattern.MonthOfYear = &m
	}
	if t.NextDate, err = engine.ParseDate(nextDate); err != nil {
		return engine.RecurringTemplate{}, err
	}
	if lastCreated.Valid {
		d, err := engine.ParseDate(lastCreated.String)
		if err != nil {
			return engine.RecurringTemplate{}, err
		}
		t.LastCreated = &d
	}
	if maxOcc.Valid {
		n := int(maxOcc.Int64)
		t.MaxOccurrences = &n
	}
	if endDate.Valid {
		d, err := engine.ParseDate(endDate.String)
		if err != nil {
			return engine.RecurringTemplate{}, err
		}
		t.EndDate = &d
	}
	t.Active = active != 0
	return t, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// casOutcome distinguishes a version conflict from a missing row after a
// compare-and-swap UPDATE matched nothing.
func casOutcome(ctx context.Context, res sql.Result, db *sql.DB, existsQuery, id string, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var one int
	err = db.QueryRowContext(ctx, existsQuery, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound
	}
	if err != nil {
		return err
	}
	return engine.ErrConcurrentModification
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func intPtr(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func weekdayPtr(p *time.Weekday) any {
	if p == nil {
		return nil
	}
	return int(*p)
}

func monthPtr(p *time.Month) any {
	if p == nil {
		return nil
	}
	return int(*p)
}

func datePtr(p *engine.Date) any {
	if p == nil {
		return nil
	}
	return p.String()
}
