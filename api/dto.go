/*
dto.go - Request/response shapes for the HTTP surface

PURPOSE:
  Converts between wire JSON and engine types. Amounts travel as decimal
  strings, dates as 2006-01-02. Engine types never leak json tags.
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/budget-engine/engine"
)

// =============================================================================
// REQUESTS
// =============================================================================

// PostingRequest is one expense-write event: created (+amount), updated
// (new-old), or deleted (-amount).
type PostingRequest struct {
	Category string          `json:"category"`
	Delta    decimal.Decimal `json:"delta"`
	Date     string          `json:"date"`
}

type CreateBudgetRequest struct {
	ID                string          `json:"id"`
	Category          string          `json:"category"`
	Amount            decimal.Decimal `json:"amount"`
	StartDate         string          `json:"startDate"`
	EndDate           string          `json:"endDate"`
	AlertThresholdPct *int            `json:"alertThresholdPct,omitempty"`
	AlertsEnabled     *bool           `json:"alertsEnabled,omitempty"`
}

type CreateTemplateRequest struct {
	ID          string          `json:"id"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	Category    string          `json:"category,omitempty"`
	Merchant    string          `json:"merchant,omitempty"`

	Frequency   string `json:"frequency"`
	Interval    int    `json:"interval"`
	DayOfWeek   *int   `json:"dayOfWeek,omitempty"`
	DayOfMonth  *int   `json:"dayOfMonth,omitempty"`
	MonthOfYear *int   `json:"monthOfYear,omitempty"`

	StartDate      string `json:"startDate"`
	MaxOccurrences *int   `json:"maxOccurrences,omitempty"`
	EndDate        string `json:"endDate,omitempty"`
}

type InsightsRequest struct {
	Expenses []ExpenseDTO `json:"expenses"`
}

type ExpenseDTO struct {
	Amount   decimal.Decimal `json:"amount"`
	Category string          `json:"category,omitempty"`
	Merchant string          `json:"merchant,omitempty"`
	Date     string          `json:"date,omitempty"`
}

// =============================================================================
// RESPONSES
// =============================================================================

type BudgetResponse struct {
	ID                string          `json:"id"`
	Category          string          `json:"category"`
	Amount            decimal.Decimal `json:"amount"`
	Spent             decimal.Decimal `json:"spent"`
	Remaining         decimal.Decimal `json:"remaining"`
	UsagePct          decimal.Decimal `json:"usagePct"`
	Status            string          `json:"status"`
	StartDate         string          `json:"startDate"`
	EndDate           string          `json:"endDate"`
	AlertThresholdPct int             `json:"alertThresholdPct"`
	AlertsEnabled     bool            `json:"alertsEnabled"`
	Active            bool            `json:"active"`
}

type ApplyResultResponse struct {
	BudgetID string   `json:"budgetId"`
	Status   string   `json:"status"`
	UsagePct string   `json:"usagePct"`
	Crossed  []string `json:"crossedThresholds"`
}

type ProjectionResponse struct {
	BudgetID       string          `json:"budgetId"`
	RemainingDays  int             `json:"remainingDays"`
	DailyRemaining decimal.Decimal `json:"dailyRemaining"`
	DailyRate      decimal.Decimal `json:"dailyRate"`
	ProjectedSpend decimal.Decimal `json:"projectedSpend"`
}

type TransitionResponse struct {
	From     string    `json:"from"`
	To       string    `json:"to"`
	UsagePct string    `json:"usagePct"`
	At       time.Time `json:"at"`
}

type AlertResponse struct {
	ID            string          `json:"id"`
	BudgetID      string          `json:"budgetId"`
	Kind          string          `json:"kind"`
	Severity      string          `json:"severity"`
	CurrentAmount decimal.Decimal `json:"currentAmount"`
	BudgetAmount  decimal.Decimal `json:"budgetAmount"`
	TriggeredAt   time.Time       `json:"triggeredAt"`
}

type TemplateResponse struct {
	ID           string `json:"id"`
	NextDate     string `json:"nextDate"`
	LastCreated  string `json:"lastCreated,omitempty"`
	CreatedCount int    `json:"createdCount"`
	Active       bool   `json:"active"`
}

type InsightResponse struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Impact      string    `json:"impact"`
	Actionable  bool      `json:"actionable"`
	CreatedAt   time.Time `json:"createdAt"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func budgetResponse(b engine.BudgetPeriod) BudgetResponse {
	return BudgetResponse{
		ID:                string(b.ID),
		Category:          b.Category,
		Amount:            b.Amount,
		Spent:             b.Spent,
		Remaining:         b.Remaining(),
		UsagePct:          b.UsagePct().Round(2),
		Status:            engine.StatusFor(b.Spent, b.Amount, b.AlertThresholdPct).String(),
		StartDate:         b.StartDate.String(),
		EndDate:           b.EndDate.String(),
		AlertThresholdPct: b.AlertThresholdPct,
		AlertsEnabled:     b.AlertsEnabled,
		Active:            b.Active,
	}
}

func applyResultResponse(r engine.ApplyResult) ApplyResultResponse {
	crossed := make([]string, 0, len(r.Crossed))
	for _, k := range r.Crossed {
		crossed = append(crossed, string(k))
	}
	return ApplyResultResponse{
		BudgetID: string(r.Updated.ID),
		Status:   r.Status.String(),
		UsagePct: r.Updated.UsagePct().Round(2).String(),
		Crossed:  crossed,
	}
}

func alertResponse(e engine.AlertEvent) AlertResponse {
	return AlertResponse{
		ID:            e.ID,
		BudgetID:      string(e.BudgetID),
		Kind:          string(e.Kind),
		Severity:      string(e.Severity),
		CurrentAmount: e.CurrentAmount,
		BudgetAmount:  e.BudgetAmount,
		TriggeredAt:   e.TriggeredAt,
	}
}

func templateResponse(t engine.RecurringTemplate) TemplateResponse {
	resp := TemplateResponse{
		ID:           string(t.ID),
		NextDate:     t.NextDate.String(),
		CreatedCount: t.CreatedCount,
		Active:       t.Active,
	}
	if t.LastCreated != nil {
		resp.LastCreated = t.LastCreated.String()
	}
	return resp
}
