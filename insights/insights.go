/*
Package insights derives heuristic spending insights and recommendations
from recent expenses and budget snapshots.

PURPOSE:
  The product's categorization sidecar falls back to rule-based insights
  when no model is available. Those rules are pure arithmetic, so they
  live here as engine-adjacent logic: no model, no network, just decimal
  math over postings and budgets.

RULES:
  - High spending warning when recent total spend passes 1000
  - Top-category tip naming the largest spending category
  - Many-small-purchases tip when >30% of postings are under 10
  - Per-budget over-budget recommendations
  - A starter tip when there is no data at all

SEE ALSO:
  - engine: BudgetPeriod snapshots consumed here
*/
package insights

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/budget-engine/engine"
)

// =============================================================================
// TYPES
// =============================================================================

type Kind string

const (
	KindTip            Kind = "tip"
	KindWarning        Kind = "warning"
	KindAchievement    Kind = "achievement"
	KindRecommendation Kind = "recommendation"
)

type Impact string

const (
	ImpactLow    Impact = "low"
	ImpactMedium Impact = "medium"
	ImpactHigh   Impact = "high"
)

// Insight is one user-facing observation about spending behavior.
type Insight struct {
	ID          string
	Kind        Kind
	Title       string
	Description string
	Impact      Impact
	Actionable  bool
	CreatedAt   time.Time
}

// Expense is one recent posting as seen by the insight rules.
type Expense struct {
	Amount   decimal.Decimal
	Category string
	Merchant string
	Date     engine.Date
}

// Thresholds for the heuristic rules.
var (
	highSpendingTotal = decimal.NewFromInt(1000)
	smallPurchase     = decimal.NewFromInt(10)
	smallPurchaseShare = decimal.NewFromFloat(0.3)
)

// =============================================================================
// INSIGHTS
// =============================================================================

// Generate produces up to five insights from recent expenses.
func Generate(expenses []Expense, now time.Time) []Insight {
	if len(expenses) == 0 {
		return []Insight{{
			ID:          uuid.NewString(),
			Kind:        KindTip,
			Title:       "Start Tracking Expenses",
			Description: "Begin by adding your daily expenses to get personalized insights.",
			Impact:      ImpactLow,
			Actionable:  true,
			CreatedAt:   now,
		}}
	}

	var insights []Insight

	total := decimal.Zero
	byCategory := make(map[string]decimal.Decimal)
	small := 0
	for _, e := range expenses {
		total = total.Add(e.Amount)
		cat := e.Category
		if cat == "" {
			cat = "Other"
		}
		byCategory[cat] = byCategory[cat].Add(e.Amount)
		if e.Amount.LessThan(smallPurchase) {
			small++
		}
	}

	if total.GreaterThan(highSpendingTotal) {
		insights = append(insights, Insight{
			ID:          uuid.NewString(),
			Kind:        KindWarning,
			Title:       "High Spending Detected",
			Description: fmt.Sprintf("You've spent $%s recently. Consider reviewing your largest expenses.", total.StringFixed(2)),
			Impact:      ImpactHigh,
			Actionable:  true,
			CreatedAt:   now,
		})
	}

	if topCat, topAmount, ok := topCategory(byCategory); ok {
		insights = append(insights, Insight{
			ID:          uuid.NewString(),
			Kind:        KindTip,
			Title:       fmt.Sprintf("%s is Your Top Expense", topCat),
			Description: fmt.Sprintf("You've spent $%s on %s. Look for optimization opportunities in this category.", topAmount.StringFixed(2), topCat),
			Impact:      ImpactMedium,
			Actionable:  true,
			CreatedAt:   now,
		})
	}

	share := decimal.NewFromInt(int64(small)).Div(decimal.NewFromInt(int64(len(expenses))))
	if share.GreaterThan(smallPurchaseShare) {
		insights = append(insights, Insight{
			ID:          uuid.NewString(),
			Kind:        KindTip,
			Title:       "Many Small Purchases",
			Description: "You have many small transactions. These can add up quickly - consider tracking daily coffee or snack expenses.",
			Impact:      ImpactMedium,
			Actionable:  true,
			CreatedAt:   now,
		})
	}

	if len(insights) > 5 {
		insights = insights[:5]
	}
	return insights
}

// topCategory returns the largest spending category. Ties break
// alphabetically so output is deterministic.
func topCategory(byCategory map[string]decimal.Decimal) (string, decimal.Decimal, bool) {
	if len(byCategory) == 0 {
		return "", decimal.Zero, false
	}

	names := make([]string, 0, len(byCategory))
	for name := range byCategory {
		names = append(names, name)
	}
	sort.Strings(names)

	top := names[0]
	for _, name := range names[1:] {
		if byCategory[name].GreaterThan(byCategory[top]) {
			top = name
		}
	}
	return top, byCategory[top], true
}

// =============================================================================
// RECOMMENDATIONS
// =============================================================================

// Recommendations produces up to five actionable suggestions from budget
// snapshots, over-budget categories first.
func Recommendations(budgets []engine.BudgetPeriod) []string {
	var recs []string

	if len(budgets) == 0 {
		recs = append(recs, "Start by setting budgets for your top 3 spending categories")
	}

	for _, b := range budgets {
		if b.Spent.GreaterThan(b.Amount) {
			over := b.Spent.Sub(b.Amount)
			recs = append(recs, fmt.Sprintf(
				"You're $%s over budget for %s. Consider reducing spending in this category.",
				over.StringFixed(2), b.Category))
		}
	}

	recs = append(recs,
		"Review and cancel unused subscriptions to reduce monthly expenses",
		"Use the 24-hour rule for non-essential purchases over $50",
		"Set up automatic savings transfers to build an emergency fund",
		"Track daily coffee and small purchases - they add up quickly",
		"Consider meal planning to reduce food expenses",
	)

	if len(recs) > 5 {
		recs = recs[:5]
	}
	return recs
}
