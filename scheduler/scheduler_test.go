package scheduler_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/budget-engine/engine"
	"github.com/warp/budget-engine/engine/store"
	"github.com/warp/budget-engine/scheduler"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) Now() time.Time       { return f.t }
func (f *fakeClock) Advance(d time.Duration) { f.t = f.t.Add(d) }

type fixture struct {
	sched    *scheduler.Scheduler
	budgets  *store.MemoryBudgets
	tmpls    *store.MemoryTemplates
	alerts   *store.MemoryAlerts
	sink     *store.MemorySink
	expenses *store.MemoryExpenses
	clock    *fakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		budgets:  store.NewMemoryBudgets(),
		tmpls:    store.NewMemoryTemplates(),
		alerts:   store.NewMemoryAlerts(),
		sink:     &store.MemorySink{},
		expenses: &store.MemoryExpenses{},
		clock:    &fakeClock{t: time.Date(2024, time.March, 15, 12, 0, 0, 0, time.UTC)},
	}
	f.sched = scheduler.New(scheduler.Config{
		Budgets:      f.budgets,
		Audit:        f.budgets,
		Templates:    f.tmpls,
		History:      f.alerts,
		Sink:         f.sink,
		Expenses:     f.expenses,
		Clock:        f.clock,
		TickInterval: time.Hour,
		Log:          zerolog.Nop(),
	})
	return f
}

func (f *fixture) seedBudget(t *testing.T, amount string) engine.BudgetPeriod {
	t.Helper()
	amt, err := decimal.NewFromString(amount)
	require.NoError(t, err)

	b := engine.BudgetPeriod{
		ID:                "groceries-2024-03",
		Category:          "groceries",
		Amount:            amt,
		StartDate:         engine.NewDate(2024, time.March, 1),
		EndDate:           engine.NewDate(2024, time.March, 31),
		AlertThresholdPct: 80,
		AlertsEnabled:     true,
		Active:            true,
	}
	require.NoError(t, f.budgets.SaveBudget(context.Background(), b))
	saved, err := f.budgets.GetBudget(context.Background(), b.ID)
	require.NoError(t, err)
	return saved
}

func (f *fixture) seedTemplate(t *testing.T, tmpl engine.RecurringTemplate) {
	t.Helper()
	require.NoError(t, f.tmpls.SaveTemplate(context.Background(), tmpl))
}

func posting(category, delta, date string) engine.ExpensePosting {
	d, err := decimal.NewFromString(delta)
	if err != nil {
		panic(err)
	}
	on, err := engine.ParseDate(date)
	if err != nil {
		panic(err)
	}
	return engine.ExpensePosting{Category: category, Delta: d, Date: on}
}

// =============================================================================
// ON-WRITE PATH
// =============================================================================

func TestRecordPosting_AlertsAndAudit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedBudget(t, "800")

	// First posting: 30.7% used, nothing crossed.
	results, err := f.sched.RecordPosting(ctx, posting("groceries", "245.50", "2024-03-15"))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, engine.StatusExcellent, results[0].Status)
	assert.Empty(t, f.sink.Delivered)

	// Second posting: 80.7%, crossing the threshold and the 75% milestone.
	results, err = f.sched.RecordPosting(ctx, posting("groceries", "400", "2024-03-16"))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, engine.StatusWarning, results[0].Status)

	require.Len(t, f.sink.Delivered, 2)
	kinds := []engine.AlertKind{f.sink.Delivered[0].Kind, f.sink.Delivered[1].Kind}
	assert.Contains(t, kinds, engine.KindApproachingLimit)
	assert.Contains(t, kinds, engine.KindMilestone75)

	// The snapshot is committed and the transition audited.
	b, err := f.budgets.GetBudget(ctx, "groceries-2024-03")
	require.NoError(t, err)
	assert.True(t, b.Spent.Equal(decimal.RequireFromString("645.50")), "spent = %s", b.Spent)

	transitions, err := f.budgets.Transitions(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, transitions, 1)
	assert.Equal(t, engine.StatusExcellent, transitions[0].From)
	assert.Equal(t, engine.StatusWarning, transitions[0].To)
}

func TestRecordPosting_DedupSuppressesRecrossing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedBudget(t, "100")

	// Cross the threshold, drop below it, cross again inside the window.
	_, err := f.sched.RecordPosting(ctx, posting("groceries", "85", "2024-03-15"))
	require.NoError(t, err)
	firstCount := len(f.sink.Delivered)
	require.NotZero(t, firstCount)

	_, err = f.sched.RecordPosting(ctx, posting("groceries", "-40", "2024-03-15"))
	require.NoError(t, err)
	f.clock.Advance(time.Hour)

	_, err = f.sched.RecordPosting(ctx, posting("groceries", "40", "2024-03-15"))
	require.NoError(t, err)
	assert.Len(t, f.sink.Delivered, firstCount, "re-crossing inside the window alerted again")

	// Past the window the same crossing alerts once more.
	_, err = f.sched.RecordPosting(ctx, posting("groceries", "-40", "2024-03-15"))
	require.NoError(t, err)
	f.clock.Advance(25 * time.Hour)

	_, err = f.sched.RecordPosting(ctx, posting("groceries", "40", "2024-03-16"))
	require.NoError(t, err)
	assert.Greater(t, len(f.sink.Delivered), firstCount)
}

func TestRecordPosting_NoMatchingBudget(t *testing.T) {
	f := newFixture(t)
	f.seedBudget(t, "800")

	results, err := f.sched.RecordPosting(context.Background(), posting("travel", "50", "2024-03-15"))
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRecordPosting_SinkOutageDoesNotBlockCommit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedBudget(t, "100")
	f.sink.FailNext = true

	// The posting commits even though delivery failed.
	results, err := f.sched.RecordPosting(ctx, posting("groceries", "85", "2024-03-15"))
	require.NoError(t, err)
	require.Len(t, results, 1)

	b, err := f.budgets.GetBudget(ctx, "groceries-2024-03")
	require.NoError(t, err)
	assert.True(t, b.Spent.Equal(decimal.NewFromInt(85)))

	// No dedup record was committed, so the crossing stays eligible: the
	// kinds crossed (threshold and milestone) both failed on the first try,
	// FailNext consumed one, so the second kind already delivered.
	assert.NotEmpty(t, f.sink.Delivered)
}

// =============================================================================
// TICK - Materialization
// =============================================================================

func testTemplate(next engine.Date) engine.RecurringTemplate {
	return engine.RecurringTemplate{
		ID: "tpl-rent",
		Expense: engine.ExpenseTemplate{
			Amount:      decimal.NewFromInt(1200),
			Description: "Monthly rent",
			Category:    "housing",
			Merchant:    "Landlord",
		},
		Pattern:  engine.RecurringPattern{Frequency: engine.Daily, Interval: 1},
		NextDate: next,
		Active:   true,
	}
}

func TestRunNow_MaterializesDue(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedTemplate(t, testTemplate(engine.NewDate(2024, time.March, 15)))

	f.sched.RunNow(ctx)

	require.Len(t, f.expenses.Created, 1)
	draft := f.expenses.Created[0]
	assert.Equal(t, "tpl-rent:2024-03-15", draft.IdempotencyKey)
	assert.Equal(t, "housing", draft.Category)

	tmpl, err := f.tmpls.GetTemplate(ctx, "tpl-rent")
	require.NoError(t, err)
	assert.Equal(t, 1, tmpl.CreatedCount)
	assert.Equal(t, "2024-03-16", tmpl.NextDate.String())
}

func TestRunNow_CatchesUpOverdueOccurrences(t *testing.T) {
	// A daily template three days overdue materializes every missed
	// occurrence in one tick, in order.

	ctx := context.Background()
	f := newFixture(t)
	f.seedTemplate(t, testTemplate(engine.NewDate(2024, time.March, 12)))

	f.sched.RunNow(ctx)

	require.Len(t, f.expenses.Created, 4)
	var dates []string
	for _, d := range f.expenses.Created {
		dates = append(dates, d.Date.String())
	}
	assert.Equal(t, []string{"2024-03-12", "2024-03-13", "2024-03-14", "2024-03-15"}, dates)

	tmpl, err := f.tmpls.GetTemplate(ctx, "tpl-rent")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-16", tmpl.NextDate.String())
}

func TestRunNow_FailedMaterializationRetriesSameDraft(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedTemplate(t, testTemplate(engine.NewDate(2024, time.March, 15)))
	f.expenses.FailNext = true

	f.sched.RunNow(ctx)

	// Nothing moved: no draft recorded, cursor unchanged.
	assert.Empty(t, f.expenses.Created)
	tmpl, err := f.tmpls.GetTemplate(ctx, "tpl-rent")
	require.NoError(t, err)
	assert.Equal(t, 0, tmpl.CreatedCount)
	assert.Equal(t, "2024-03-15", tmpl.NextDate.String())

	// The next tick retries the identical draft.
	f.sched.RunNow(ctx)
	require.Len(t, f.expenses.Created, 1)
	assert.Equal(t, "tpl-rent:2024-03-15", f.expenses.Created[0].IdempotencyKey)
}

func TestRunNow_MaxOccurrencesDeactivates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	max := 2
	tmpl := testTemplate(engine.NewDate(2024, time.March, 13))
	tmpl.MaxOccurrences = &max
	f.seedTemplate(t, tmpl)

	f.sched.RunNow(ctx)

	// Overdue by two days with room for three, but the cap stops at two.
	require.Len(t, f.expenses.Created, 2)

	got, err := f.tmpls.GetTemplate(ctx, "tpl-rent")
	require.NoError(t, err)
	assert.Equal(t, 2, got.CreatedCount)
	assert.False(t, got.Active)

	// Further ticks do nothing.
	f.sched.RunNow(ctx)
	assert.Len(t, f.expenses.Created, 2)
}

func TestRunNow_PastEndDateDeactivatesWithoutMaterializing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	end := engine.NewDate(2024, time.March, 10)
	tmpl := testTemplate(engine.NewDate(2024, time.March, 12))
	tmpl.EndDate = &end
	f.seedTemplate(t, tmpl)

	f.sched.RunNow(ctx)

	assert.Empty(t, f.expenses.Created)
	got, err := f.tmpls.GetTemplate(ctx, "tpl-rent")
	require.NoError(t, err)
	assert.False(t, got.Active)
}

// =============================================================================
// TICK - Period-ending alerts
// =============================================================================

func TestRunNow_PeriodEndingAlert(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	b := f.seedBudget(t, "800")
	b.EndDate = engine.NewDate(2024, time.March, 17) // two days out
	require.NoError(t, f.budgets.UpdateBudget(ctx, b))

	f.sched.RunNow(ctx)

	require.Len(t, f.sink.Delivered, 1)
	assert.Equal(t, engine.KindPeriodEnding, f.sink.Delivered[0].Kind)
	assert.Equal(t, engine.SeverityMedium, f.sink.Delivered[0].Severity)

	// The same tick an hour later is suppressed by the dedup window.
	f.clock.Advance(time.Hour)
	f.sched.RunNow(ctx)
	assert.Len(t, f.sink.Delivered, 1)
}

func TestRunNow_NoPeriodEndingAlertWhenFarOut(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedBudget(t, "800") // ends March 31, sixteen days out

	f.sched.RunNow(ctx)
	assert.Empty(t, f.sink.Delivered)
}

func TestRunNow_NoPeriodEndingAlertAfterPeriod(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	b := f.seedBudget(t, "800")
	b.EndDate = engine.NewDate(2024, time.March, 10) // already over
	require.NoError(t, f.budgets.UpdateBudget(ctx, b))

	f.sched.RunNow(ctx)
	assert.Empty(t, f.sink.Delivered)
}

// =============================================================================
// LIFECYCLE
// =============================================================================

func TestStartRunsImmediateTickAndStops(t *testing.T) {
	f := newFixture(t)
	f.seedTemplate(t, testTemplate(engine.NewDate(2024, time.March, 15)))

	f.sched.Start()
	f.sched.Stop()

	// Stop waits for the in-flight tick, so the due template materialized.
	assert.Len(t, f.expenses.Created, 1)

	// Stop is idempotent.
	f.sched.Stop()
}
