package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/budget-engine/engine"
	"github.com/warp/budget-engine/engine/store"
)

func seedBudget(t *testing.T, budgets *store.MemoryBudgets) engine.BudgetPeriod {
	t.Helper()
	b := engine.BudgetPeriod{
		ID:                "groceries-2024-03",
		Category:          "groceries",
		Amount:            decimal.NewFromInt(800),
		StartDate:         engine.NewDate(2024, time.March, 1),
		EndDate:           engine.NewDate(2024, time.March, 31),
		AlertThresholdPct: 80,
		AlertsEnabled:     true,
		Active:            true,
	}
	if err := budgets.SaveBudget(context.Background(), b); err != nil {
		t.Fatalf("save: %v", err)
	}
	saved, err := budgets.GetBudget(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	return saved
}

func TestUpdateBudget_VersionConflict(t *testing.T) {
	// GIVEN: Two readers holding the same snapshot
	// WHEN: Both write back
	// THEN: The first wins, the second gets a concurrent-modification error

	ctx := context.Background()
	budgets := store.NewMemoryBudgets()
	saved := seedBudget(t, budgets)

	first := saved
	first.Spent = decimal.NewFromInt(100)
	if err := budgets.UpdateBudget(ctx, first); err != nil {
		t.Fatalf("first update: %v", err)
	}

	second := saved
	second.Spent = decimal.NewFromInt(200)
	err := budgets.UpdateBudget(ctx, second)
	if !errors.Is(err, engine.ErrConcurrentModification) {
		t.Fatalf("second update: got %v, want ErrConcurrentModification", err)
	}

	// Re-read, retry with the fresh version.
	fresh, err := budgets.GetBudget(ctx, saved.ID)
	if err != nil {
		t.Fatalf("re-read: %v", err)
	}
	if !fresh.Spent.Equal(decimal.NewFromInt(100)) {
		t.Errorf("spent = %v after conflict, want the first writer's 100", fresh.Spent)
	}
	fresh.Spent = fresh.Spent.Add(decimal.NewFromInt(200))
	if err := budgets.UpdateBudget(ctx, fresh); err != nil {
		t.Fatalf("retry: %v", err)
	}
}

func TestUpdateBudget_NotFound(t *testing.T) {
	budgets := store.NewMemoryBudgets()
	err := budgets.UpdateBudget(context.Background(), engine.BudgetPeriod{ID: "missing"})
	if !errors.Is(err, engine.ErrBudgetNotFound) {
		t.Fatalf("got %v, want ErrBudgetNotFound", err)
	}
}

func TestBudgetsForPosting_Filters(t *testing.T) {
	// GIVEN: Budgets across categories, periods, and active flags
	// WHEN: Looking up candidates for a posting
	// THEN: Only active same-category budgets whose period contains the date

	ctx := context.Background()
	budgets := store.NewMemoryBudgets()

	base := engine.BudgetPeriod{
		Category:          "groceries",
		Amount:            decimal.NewFromInt(800),
		StartDate:         engine.NewDate(2024, time.March, 1),
		EndDate:           engine.NewDate(2024, time.March, 31),
		AlertThresholdPct: 80,
		Active:            true,
	}

	match := base
	match.ID = "groceries-march"
	otherCategory := base
	otherCategory.ID = "dining-march"
	otherCategory.Category = "dining"
	otherPeriod := base
	otherPeriod.ID = "groceries-april"
	otherPeriod.StartDate = engine.NewDate(2024, time.April, 1)
	otherPeriod.EndDate = engine.NewDate(2024, time.April, 30)
	inactive := base
	inactive.ID = "groceries-archived"
	inactive.Active = false

	for _, b := range []engine.BudgetPeriod{match, otherCategory, otherPeriod, inactive} {
		if err := budgets.SaveBudget(ctx, b); err != nil {
			t.Fatalf("save %s: %v", b.ID, err)
		}
	}

	got, err := budgets.BudgetsForPosting(ctx, "groceries", engine.NewDate(2024, time.March, 15))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].ID != "groceries-march" {
		t.Errorf("got %d budgets %v, want only groceries-march", len(got), got)
	}
}

func TestRecord_ConditionalInsert(t *testing.T) {
	// GIVEN: A trigger recorded for a (budget, kind) pair
	// WHEN: Recording again inside the window, and after it
	// THEN: Inside duplicates, after succeeds

	ctx := context.Background()
	alerts := store.NewMemoryAlerts()
	t0 := time.Date(2024, time.March, 15, 12, 0, 0, 0, time.UTC)

	event := engine.AlertEvent{ID: "evt-1", BudgetID: "b1", Kind: engine.KindExceeded, TriggeredAt: t0}
	if err := alerts.Record(ctx, event, 24*time.Hour); err != nil {
		t.Fatalf("first record: %v", err)
	}

	dup := event
	dup.ID = "evt-2"
	dup.TriggeredAt = t0.Add(time.Hour)
	if err := alerts.Record(ctx, dup, 24*time.Hour); !errors.Is(err, engine.ErrDuplicateAlert) {
		t.Fatalf("in-window record: got %v, want ErrDuplicateAlert", err)
	}

	later := event
	later.ID = "evt-3"
	later.TriggeredAt = t0.Add(25 * time.Hour)
	if err := alerts.Record(ctx, later, 24*time.Hour); err != nil {
		t.Fatalf("after-window record: %v", err)
	}

	recent, err := alerts.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("got %d events, want 2", len(recent))
	}
	if recent[0].ID != "evt-3" {
		t.Errorf("recent not newest-first: %v", recent)
	}
}

func TestDueTemplates(t *testing.T) {
	// GIVEN: Templates due yesterday, today, tomorrow, and an inactive one
	// WHEN: Asking for templates due as of today
	// THEN: Yesterday and today return; tomorrow and inactive do not

	ctx := context.Background()
	templates := store.NewMemoryTemplates()
	today := engine.NewDate(2024, time.March, 15)

	mk := func(id engine.TemplateID, next engine.Date, active bool) engine.RecurringTemplate {
		return engine.RecurringTemplate{
			ID:       id,
			Pattern:  engine.RecurringPattern{Frequency: engine.Daily, Interval: 1},
			NextDate: next,
			Active:   active,
		}
	}
	for _, tpl := range []engine.RecurringTemplate{
		mk("overdue", today.AddDays(-1), true),
		mk("due-today", today, true),
		mk("future", today.AddDays(1), true),
		mk("paused", today, false),
	} {
		if err := templates.SaveTemplate(ctx, tpl); err != nil {
			t.Fatalf("save %s: %v", tpl.ID, err)
		}
	}

	due, err := templates.DueTemplates(ctx, today)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("got %d due templates, want 2", len(due))
	}
	if due[0].ID != "due-today" || due[1].ID != "overdue" {
		t.Errorf("unexpected due set: %v, %v", due[0].ID, due[1].ID)
	}
}

func TestUpdateTemplate_VersionConflict(t *testing.T) {
	ctx := context.Background()
	templates := store.NewMemoryTemplates()

	tpl := engine.RecurringTemplate{
		ID:       "tpl-1",
		Pattern:  engine.RecurringPattern{Frequency: engine.Monthly, Interval: 1},
		NextDate: engine.NewDate(2024, time.March, 15),
		Active:   true,
	}
	if err := templates.SaveTemplate(ctx, tpl); err != nil {
		t.Fatalf("save: %v", err)
	}
	saved, err := templates.GetTemplate(ctx, tpl.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	first := saved
	first.CreatedCount = 1
	if err := templates.UpdateTemplate(ctx, first); err != nil {
		t.Fatalf("first update: %v", err)
	}

	second := saved
	second.CreatedCount = 2
	if err := templates.UpdateTemplate(ctx, second); !errors.Is(err, engine.ErrConcurrentModification) {
		t.Fatalf("second update: got %v, want ErrConcurrentModification", err)
	}
}
