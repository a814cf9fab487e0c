/*
handlers.go - HTTP handlers for the engine's external interfaces

PURPOSE:
  This is not a CRUD layer. Each endpoint is an adapter for one of the
  engine's collaborator interfaces: the posting endpoint is the "record
  expense posting" event stream in, the budget/template POST endpoints
  seed the injected stores, the rest are read-only views of engine state.

SEE ALSO:
  - server.go: routing and middleware
  - scheduler: the composition these handlers delegate to
*/
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/warp/budget-engine/engine"
	"github.com/warp/budget-engine/insights"
	"github.com/warp/budget-engine/scheduler"
)

// Handler holds the engine collaborators the HTTP surface exposes.
type Handler struct {
	Budgets   engine.BudgetStore
	Audit     engine.StatusAuditLog
	Templates engine.TemplateStore
	History   engine.AlertHistory

	Scheduler *scheduler.Scheduler
	Options   engine.Options
	Clock     engine.Clock
	Log       zerolog.Logger
}

// NewHandler wires a handler with the system clock.
func NewHandler(sched *scheduler.Scheduler) *Handler {
	return &Handler{
		Budgets:   sched.Budgets,
		Audit:     sched.Audit,
		Templates: sched.Templates,
		History:   sched.History,
		Scheduler: sched,
		Options:   sched.Options,
		Clock:     sched.Clock,
		Log:       sched.Log,
	}
}

// =============================================================================
// POSTINGS - The expense-write event stream
// =============================================================================

func (h *Handler) RecordPosting(w http.ResponseWriter, r *http.Request) {
	var req PostingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	date, err := engine.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	results, err := h.Scheduler.RecordPosting(r.Context(), engine.ExpensePosting{
		Category: req.Category,
		Delta:    req.Delta,
		Date:     date,
	})
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	resp := make([]ApplyResultResponse, 0, len(results))
	for _, res := range results {
		resp = append(resp, applyResultResponse(res))
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// BUDGETS
// =============================================================================

func (h *Handler) CreateBudget(w http.ResponseWriter, r *http.Request) {
	var req CreateBudgetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	start, err := engine.ParseDate(req.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	end, err := engine.ParseDate(req.EndDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	b := engine.BudgetPeriod{
		ID:                engine.BudgetID(req.ID),
		Category:          req.Category,
		Amount:            req.Amount,
		StartDate:         start,
		EndDate:           end,
		AlertThresholdPct: h.Options.DefaultAlertThresholdPct,
		AlertsEnabled:     true,
		Active:            true,
	}
	if req.AlertThresholdPct != nil {
		b.AlertThresholdPct = *req.AlertThresholdPct
	}
	if req.AlertsEnabled != nil {
		b.AlertsEnabled = *req.AlertsEnabled
	}

	if err := b.Validate(); err != nil {
		h.writeEngineError(w, err)
		return
	}
	if err := h.Budgets.SaveBudget(r.Context(), b); err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, budgetResponse(b))
}

func (h *Handler) ListBudgets(w http.ResponseWriter, r *http.Request) {
	budgets, err := h.Budgets.ListActiveBudgets(r.Context())
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	resp := make([]BudgetResponse, 0, len(budgets))
	for _, b := range budgets {
		resp = append(resp, budgetResponse(b))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) GetBudget(w http.ResponseWriter, r *http.Request) {
	b, err := h.Budgets.GetBudget(r.Context(), engine.BudgetID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, budgetResponse(b))
}

func (h *Handler) GetProjection(w http.ResponseWriter, r *http.Request) {
	b, err := h.Budgets.GetBudget(r.Context(), engine.BudgetID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	p := engine.Project(b, engine.DateOf(h.Clock.Now()))
	writeJSON(w, http.StatusOK, ProjectionResponse{
		BudgetID:       string(b.ID),
		RemainingDays:  p.RemainingDays,
		DailyRemaining: p.DailyRemaining.Round(2),
		DailyRate:      p.DailyRate.Round(2),
		ProjectedSpend: p.ProjectedSpend.Round(2),
	})
}

func (h *Handler) GetStatusHistory(w http.ResponseWriter, r *http.Request) {
	transitions, err := h.Audit.Transitions(r.Context(), engine.BudgetID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	resp := make([]TransitionResponse, 0, len(transitions))
	for _, tr := range transitions {
		resp = append(resp, TransitionResponse{
			From:     tr.From.String(),
			To:       tr.To.String(),
			UsagePct: tr.UsagePct.Round(2).String(),
			At:       tr.At,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// TEMPLATES
// =============================================================================

func (h *Handler) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req CreateTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	start, err := engine.ParseDate(req.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	pattern := engine.RecurringPattern{
		Frequency: engine.Frequency(req.Frequency),
		Interval:  req.Interval,
	}
	if req.DayOfWeek != nil {
		wd := time.Weekday(*req.DayOfWeek)
		pattern.DayOfWeek = &wd
	}
	if req.DayOfMonth != nil {
		pattern.DayOfMonth = req.DayOfMonth
	}
	if req.MonthOfYear != nil {
		m := time.Month(*req.MonthOfYear)
		pattern.MonthOfYear = &m
	}
	if err := pattern.Validate(); err != nil {
		h.writeEngineError(w, err)
		return
	}

	t := engine.RecurringTemplate{
		ID: engine.TemplateID(req.ID),
		Expense: engine.ExpenseTemplate{
			Amount:      req.Amount,
			Description: req.Description,
			Category:    req.Category,
			Merchant:    req.Merchant,
		},
		Pattern:        pattern,
		NextDate:       start,
		MaxOccurrences: req.MaxOccurrences,
		Active:         true,
	}
	if req.EndDate != "" {
		end, err := engine.ParseDate(req.EndDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		t.EndDate = &end
	}

	if err := h.Templates.SaveTemplate(r.Context(), t); err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, templateResponse(t))
}

func (h *Handler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	t, err := h.Templates.GetTemplate(r.Context(), engine.TemplateID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, templateResponse(t))
}

// =============================================================================
// ALERTS AND INSIGHTS
// =============================================================================

func (h *Handler) RecentAlerts(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	alerts, err := h.History.Recent(r.Context(), limit)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	resp := make([]AlertResponse, 0, len(alerts))
	for _, a := range alerts {
		resp = append(resp, alertResponse(a))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) GetInsights(w http.ResponseWriter, r *http.Request) {
	var req InsightsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	expenses := make([]insights.Expense, 0, len(req.Expenses))
	for _, e := range req.Expenses {
		exp := insights.Expense{Amount: e.Amount, Category: e.Category, Merchant: e.Merchant}
		if e.Date != "" {
			if d, err := engine.ParseDate(e.Date); err == nil {
				exp.Date = d
			}
		}
		expenses = append(expenses, exp)
	}

	generated := insights.Generate(expenses, h.Clock.Now())
	resp := make([]InsightResponse, 0, len(generated))
	for _, in := range generated {
		resp = append(resp, InsightResponse{
			ID:          in.ID,
			Type:        string(in.Kind),
			Title:       in.Title,
			Description: in.Description,
			Impact:      string(in.Impact),
			Actionable:  in.Actionable,
			CreatedAt:   in.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) GetRecommendations(w http.ResponseWriter, r *http.Request) {
	budgets, err := h.Budgets.ListActiveBudgets(r.Context())
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{
		"recommendations": insights.Recommendations(budgets),
	})
}

// =============================================================================
// ADMIN
// =============================================================================

func (h *Handler) TriggerTick(w http.ResponseWriter, r *http.Request) {
	h.Scheduler.RunNow(r.Context())
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// writeEngineError maps the engine's error taxonomy onto HTTP statuses.
func (h *Handler) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case engine.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error())
	case engine.IsClientError(err):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case engine.IsRetryable(err):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		h.Log.Error().Err(err).Msg("internal error")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
