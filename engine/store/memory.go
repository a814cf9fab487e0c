// Package store provides in-memory implementations of the engine's
// persistence interfaces, for tests and development.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/budget-engine/engine"
)

// =============================================================================
// MEMORY BUDGET STORE
// =============================================================================

type MemoryBudgets struct {
	mu          sync.RWMutex
	budgets     map[engine.BudgetID]engine.BudgetPeriod
	transitions map[engine.BudgetID][]engine.StatusTransition
}

func NewMemoryBudgets() *MemoryBudgets {
	return &MemoryBudgets{
		budgets:     make(map[engine.BudgetID]engine.BudgetPeriod),
		transitions: make(map[engine.BudgetID][]engine.StatusTransition),
	}
}

func (m *MemoryBudgets) GetBudget(_ context.Context, id engine.BudgetID) (engine.BudgetPeriod, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.budgets[id]
	if !ok {
		return engine.BudgetPeriod{}, engine.ErrBudgetNotFound
	}
	return b, nil
}

func (m *MemoryBudgets) ListActiveBudgets(_ context.Context) ([]engine.BudgetPeriod, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []engine.BudgetPeriod
	for _, b := range m.budgets {
		if b.Active {
			result = append(result, b)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *MemoryBudgets) BudgetsForPosting(_ context.Context, category string, on engine.Date) ([]engine.BudgetPeriod, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []engine.BudgetPeriod
	for _, b := range m.budgets {
		if b.Active && b.Category == category && b.Contains(on) {
			result = append(result, b)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *MemoryBudgets) SaveBudget(_ context.Context, b engine.BudgetPeriod) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b.Version = 1
	m.budgets[b.ID] = b
	return nil
}

// UpdateBudget is compare-and-swap on Version: the write succeeds only if
// the caller's snapshot is still current.
func (m *MemoryBudgets) UpdateBudget(_ context.Context, b engine.BudgetPeriod) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.budgets[b.ID]
	if !ok {
		return engine.ErrBudgetNotFound
	}
	if current.Version != b.Version {
		return engine.ErrConcurrentModification
	}
	b.Version++
	m.budgets[b.ID] = b
	return nil
}

// AppendTransition records one status change. Append-only.
func (m *MemoryBudgets) AppendTransition(_ context.Context, tr engine.StatusTransition) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.transitions[tr.BudgetID] = append(m.transitions[tr.BudgetID], tr)
	return nil
}

func (m *MemoryBudgets) Transitions(_ context.Context, id engine.BudgetID) ([]engine.StatusTransition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]engine.StatusTransition, len(m.transitions[id]))
	copy(result, m.transitions[id])
	return result, nil
}

// =============================================================================
// MEMORY ALERT HISTORY
// =============================================================================

type alertKey struct {
	BudgetID engine.BudgetID
	Kind     engine.AlertKind
}

type MemoryAlerts struct {
	mu     sync.Mutex
	last   map[alertKey]time.Time
	events []engine.AlertEvent
}

func NewMemoryAlerts() *MemoryAlerts {
	return &MemoryAlerts{last: make(map[alertKey]time.Time)}
}

func (m *MemoryAlerts) LastTriggered(_ context.Context, id engine.BudgetID, kind engine.AlertKind) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.last[alertKey{BudgetID: id, Kind: kind}]
	return t, ok, nil
}

// Record commits the trigger time unless one exists within the window.
// Check and insert happen under one lock, matching the conditional-insert
// contract.
func (m *MemoryAlerts) Record(_ context.Context, event engine.AlertEvent, window time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := alertKey{BudgetID: event.BudgetID, Kind: event.Kind}
	if last, ok := m.last[k]; ok && event.TriggeredAt.Sub(last) < window {
		return engine.ErrDuplicateAlert
	}
	m.last[k] = event.TriggeredAt
	m.events = append(m.events, event)
	return nil
}

func (m *MemoryAlerts) Recent(_ context.Context, limit int) ([]engine.AlertEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]engine.AlertEvent, len(m.events))
	copy(result, m.events)
	sort.Slice(result, func(i, j int) bool { return result[i].TriggeredAt.After(result[j].TriggeredAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// =============================================================================
// MEMORY TEMPLATE STORE
// =============================================================================

type MemoryTemplates struct {
	mu        sync.RWMutex
	templates map[engine.TemplateID]engine.RecurringTemplate
}

func NewMemoryTemplates() *MemoryTemplates {
	return &MemoryTemplates{templates: make(map[engine.TemplateID]engine.RecurringTemplate)}
}

func (m *MemoryTemplates) GetTemplate(_ context.Context, id engine.TemplateID) (engine.RecurringTemplate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.templates[id]
	if !ok {
		return engine.RecurringTemplate{}, engine.ErrTemplateNotFound
	}
	return t, nil
}

func (m *MemoryTemplates) DueTemplates(_ context.Context, asOf engine.Date) ([]engine.RecurringTemplate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []engine.RecurringTemplate
	for _, t := range m.templates {
		if t.Active && t.NextDate.BeforeOrEqual(asOf) {
			result = append(result, t)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *MemoryTemplates) SaveTemplate(_ context.Context, t engine.RecurringTemplate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t.Version = 1
	m.templates[t.ID] = t
	return nil
}

func (m *MemoryTemplates) UpdateTemplate(_ context.Context, t engine.RecurringTemplate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.templates[t.ID]
	if !ok {
		return engine.ErrTemplateNotFound
	}
	if current.Version != t.Version {
		return engine.ErrConcurrentModification
	}
	t.Version++
	m.templates[t.ID] = t
	return nil
}

// =============================================================================
// COLLECTING COLLABORATORS - Test doubles for sink and expense creation
// =============================================================================

// MemorySink collects delivered alerts. FailNext makes the next delivery
// fail, for exercising the sink-unavailable path.
type MemorySink struct {
	mu        sync.Mutex
	Delivered []engine.AlertEvent
	FailNext  bool
}

func (s *MemorySink) Deliver(_ context.Context, event engine.AlertEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailNext {
		s.FailNext = false
		return engine.ErrAlertSinkUnavailable
	}
	s.Delivered = append(s.Delivered, event)
	return nil
}

// MemoryExpenses collects created drafts, deduplicating on the idempotency
// key the way a real collaborator would.
type MemoryExpenses struct {
	mu       sync.Mutex
	Created  []engine.ExpenseDraft
	seen     map[string]bool
	FailNext bool
}

func (c *MemoryExpenses) CreateExpense(_ context.Context, draft engine.ExpenseDraft) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.FailNext {
		c.FailNext = false
		return engine.ErrMaterializationFailed
	}
	if c.seen == nil {
		c.seen = make(map[string]bool)
	}
	if c.seen[draft.IdempotencyKey] {
		return nil
	}
	c.seen[draft.IdempotencyKey] = true
	c.Created = append(c.Created, draft)
	return nil
}
