/*
Package scheduler composes the budget engine with its external stores and
sinks.

PURPOSE:
  Two entry points drive the engine:

  - RecordPosting: the on-write path. The expense-write collaborator calls
    it once per posting; affected budgets get the delta applied, status
    transitions are recorded, and crossed thresholds flow through the
    deduper to the alert sink.
  - The tick loop: a background goroutine that materializes due recurring
    templates and fires period-ending alerts.

DESIGN:
  - Runs one goroutine with a configurable tick interval
  - Per-template and per-budget serialization via keyed mutexes
  - Compare-and-swap retries through retry-go on version conflicts
  - A failed materialization or store outage leaves state unmoved; the
    next tick retries the same work idempotently

SHUTDOWN:
  Stop() finishes the in-flight tick and starts no new ones.

SEE ALSO:
  - engine: the pure logic this package drives
  - store/sqlite, engine/store: the injected store implementations
*/
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/warp/budget-engine/engine"
)

const casAttempts = 5

// Scheduler drives the engine on a fixed tick and on expense writes.
type Scheduler struct {
	Budgets   engine.BudgetStore
	Audit     engine.StatusAuditLog
	Templates engine.TemplateStore
	History   engine.AlertHistory
	Sink      engine.AlertSink
	Expenses  engine.ExpenseCreator

	Tracker    *engine.BudgetTracker
	Deduper    *engine.AlertDeduper
	Recurrence engine.RecurrenceEngine

	Options      engine.Options
	Clock        engine.Clock
	TickInterval time.Duration
	Log          zerolog.Logger

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	locks keyedLocks
}

// Config wires a scheduler. Zero-value fields fall back to defaults.
type Config struct {
	Budgets   engine.BudgetStore
	Audit     engine.StatusAuditLog
	Templates engine.TemplateStore
	History   engine.AlertHistory
	Sink      engine.AlertSink
	Expenses  engine.ExpenseCreator

	Options      engine.Options
	Clock        engine.Clock
	TickInterval time.Duration
	Log          zerolog.Logger
}

// New creates a scheduler from its collaborators.
func New(cfg Config) *Scheduler {
	if cfg.Clock == nil {
		cfg.Clock = engine.SystemClock{}
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Hour
	}
	if cfg.Options.DedupWindow == 0 {
		cfg.Options = engine.DefaultOptions()
	}

	tracker := engine.NewBudgetTracker(cfg.Options)
	tracker.Clock = cfg.Clock

	return &Scheduler{
		Budgets:      cfg.Budgets,
		Audit:        cfg.Audit,
		Templates:    cfg.Templates,
		History:      cfg.History,
		Sink:         cfg.Sink,
		Expenses:     cfg.Expenses,
		Tracker:      tracker,
		Deduper:      engine.NewAlertDeduper(cfg.Options.DedupWindow, cfg.History),
		Options:      cfg.Options,
		Clock:        cfg.Clock,
		TickInterval: cfg.TickInterval,
		Log:          cfg.Log,
		stop:         make(chan struct{}),
	}
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Start begins the tick loop. The first tick runs immediately.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		return
	}
	s.ticker = time.NewTicker(s.TickInterval)
	s.wg.Add(1)
	go s.run()

	s.Log.Info().Dur("interval", s.TickInterval).Msg("scheduler started")
}

// Stop finishes the in-flight tick and stops the loop.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.wg.Wait()
	s.ticker = nil

	s.Log.Info().Msg("scheduler stopped")
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	s.tick(context.Background())

	for {
		select {
		case <-s.ticker.C:
			s.tick(context.Background())
		case <-s.stop:
			return
		}
	}
}

// RunNow triggers an immediate tick (admin/testing).
func (s *Scheduler) RunNow(ctx context.Context) {
	s.tick(ctx)
}

// =============================================================================
// TICK - Materialize due templates, fire period-ending alerts
// =============================================================================

func (s *Scheduler) tick(ctx context.Context) {
	now := s.Clock.Now()
	today := engine.DateOf(now)

	s.materializeDue(ctx, today)
	s.checkPeriodEnding(ctx, today, now)
}

func (s *Scheduler) materializeDue(ctx context.Context, today engine.Date) {
	due, err := s.Templates.DueTemplates(ctx, today)
	if err != nil {
		// Store unavailable: retry the whole tick later, nothing advanced.
		s.Log.Error().Err(err).Msg("listing due templates failed")
		return
	}

	for _, tmpl := range due {
		if err := s.ProcessTemplate(ctx, tmpl.ID, today); err != nil {
			s.Log.Warn().Err(err).Str("template", string(tmpl.ID)).Msg("materialization deferred")
		}
	}
}

// ProcessTemplate materializes every due occurrence of one template,
// advancing the cursor only after each confirmed creation. Serialized per
// template ID.
func (s *Scheduler) ProcessTemplate(ctx context.Context, id engine.TemplateID, today engine.Date) error {
	unlock := s.locks.lock(string(id))
	defer unlock()

	for {
		tmpl, err := s.Templates.GetTemplate(ctx, id)
		if err != nil {
			return err
		}
		if s.Recurrence.IsTerminated(tmpl, today) {
			if tmpl.Active {
				tmpl.Active = false
				if err := s.Templates.UpdateTemplate(ctx, tmpl); err != nil {
					return err
				}
			}
			return nil
		}
		if tmpl.NextDate.After(today) {
			return nil
		}

		draft, err := s.Recurrence.Materialize(tmpl)
		if err != nil {
			return err
		}

		// Materialize-then-advance: the cursor moves only on confirmed
		// success, so a failed write retries the identical draft next tick.
		if err := s.Expenses.CreateExpense(ctx, draft); err != nil {
			return &engine.MaterializationError{TemplateID: tmpl.ID, Date: draft.Date, Cause: err}
		}

		advanced, err := s.Recurrence.Advance(tmpl, today)
		if err != nil {
			return err
		}
		if err := s.Templates.UpdateTemplate(ctx, advanced); err != nil {
			return err
		}

		s.Log.Info().
			Str("template", string(id)).
			Str("date", draft.Date.String()).
			Int("count", advanced.CreatedCount).
			Msg("occurrence materialized")
	}
}

func (s *Scheduler) checkPeriodEnding(ctx context.Context, today engine.Date, now time.Time) {
	budgets, err := s.Budgets.ListActiveBudgets(ctx)
	if err != nil {
		s.Log.Error().Err(err).Msg("listing budgets failed")
		return
	}

	for _, b := range budgets {
		if !b.AlertsEnabled {
			continue
		}
		days := engine.RemainingDays(b, today)
		if days > s.Options.PeriodEndingDays || today.After(b.EndDate) {
			continue
		}
		if err := s.emitAlert(ctx, b, engine.KindPeriodEnding, now); err != nil {
			s.Log.Warn().Err(err).Str("budget", string(b.ID)).Msg("period-ending alert deferred")
		}
	}
}

// =============================================================================
// ON-WRITE PATH - Expense posting deltas
// =============================================================================

// RecordPosting applies one expense posting to every budget matching its
// category and date, serialized per budget with optimistic retries. It
// returns the apply result per affected budget.
func (s *Scheduler) RecordPosting(ctx context.Context, posting engine.ExpensePosting) ([]engine.ApplyResult, error) {
	budgets, err := s.Budgets.BudgetsForPosting(ctx, posting.Category, posting.Date)
	if err != nil {
		return nil, err
	}

	var results []engine.ApplyResult
	for _, b := range budgets {
		result, err := s.applyToBudget(ctx, b.ID, posting.Delta)
		if err != nil {
			return results, err
		}
		results = append(results, result)
	}
	return results, nil
}

// applyToBudget runs the get/apply/update cycle under a per-budget lock,
// retrying compare-and-swap conflicts.
func (s *Scheduler) applyToBudget(ctx context.Context, id engine.BudgetID, delta decimal.Decimal) (engine.ApplyResult, error) {
	unlock := s.locks.lock(string(id))
	defer unlock()

	var result engine.ApplyResult
	err := retry.Do(
		func() error {
			b, err := s.Budgets.GetBudget(ctx, id)
			if err != nil {
				return err
			}
			result, err = s.Tracker.ApplyDelta(b, delta)
			if err != nil {
				return err
			}
			return s.Budgets.UpdateBudget(ctx, result.Updated)
		},
		retry.Attempts(casAttempts),
		retry.RetryIf(func(err error) bool { return errors.Is(err, engine.ErrConcurrentModification) }),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return engine.ApplyResult{}, err
	}

	if result.Transition != nil {
		if err := s.Audit.AppendTransition(ctx, *result.Transition); err != nil {
			// Audit is best effort on this path; the snapshot is committed.
			s.Log.Warn().Err(err).Str("budget", string(id)).Msg("status transition not recorded")
		}
	}

	for _, kind := range result.Crossed {
		if err := s.emitAlert(ctx, result.Updated, kind, s.Clock.Now()); err != nil {
			s.Log.Warn().Err(err).
				Str("budget", string(id)).
				Str("kind", string(kind)).
				Msg("alert deferred")
		}
	}
	return result, nil
}

// =============================================================================
// ALERTING - Dedup, deliver, then commit the dedup record
// =============================================================================

// emitAlert runs the shouldEmit/deliver/record sequence. The dedup record
// commits only after the sink accepts the event, so a sink outage permits
// a later retry. The cost is an occasional duplicate alert when a crash
// lands between delivery and the record - the documented lesser failure
// mode versus silently dropping alerts.
func (s *Scheduler) emitAlert(ctx context.Context, b engine.BudgetPeriod, kind engine.AlertKind, now time.Time) error {
	emit, err := s.Deduper.ShouldEmit(ctx, b.ID, kind, now)
	if err != nil {
		return err
	}
	if !emit {
		return nil
	}

	event := s.Tracker.NewAlertEvent(b, kind)

	if err := s.Sink.Deliver(ctx, event); err != nil {
		return errors.Join(engine.ErrAlertSinkUnavailable, err)
	}

	err = s.History.Record(ctx, event, s.Deduper.Window)
	if errors.Is(err, engine.ErrDuplicateAlert) {
		// A concurrent crossing won the conditional insert; ours was the
		// duplicate. Nothing to do.
		return nil
	}
	return err
}

// =============================================================================
// KEYED LOCKS - Per-ID serialization
// =============================================================================

type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedLocks) lock(id string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	l, ok := k.locks[id]
	if !ok {
		l = &sync.Mutex{}
		k.locks[id] = l
	}
	k.mu.Unlock()

	l.Lock()
	return l.Unlock
}
