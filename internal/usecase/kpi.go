package usecase

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"merch-copilot/internal/domain/model"
)

// Placeholder is shown when neither the per-turn metric nor the baseline
// summary carries a value.
const Placeholder = "—"

// KPI is one decision-panel indicator, already formatted for display.
type KPI struct {
	Title string
	Value string
}

// resolveKPIs implements the panel fallback chain: per-turn key metric, then
// the baseline summary metric, then the placeholder.
func resolveKPIs(view model.AgentView, summary map[string]any) []KPI {
	return []KPI{
		{Title: "WAPE (validation)", Value: scalarKPI(view, summary, "forecast_valid_wape", "forecast_valid_wape")},
		{Title: "RMSE (validation)", Value: scalarKPI(view, summary, "forecast_valid_rmse", "forecast_valid_rmse")},
		{Title: "Stockouts (before → after)", Value: deltaKPI(view, summary,
			"stockout_units_before", "stockout_units_after", "stockout_units")},
		{Title: "Cost proxy (before → after)", Value: deltaKPI(view, summary,
			"total_cost_before", "total_cost_after", "total_cost")},
	}
}

func scalarKPI(view model.AgentView, summary map[string]any, metric, summaryKey string) string {
	if v, ok := view.Metric(metric); ok {
		return trimFloat(v)
	}
	if v, ok := summaryFloat(summary, summaryKey); ok {
		return trimFloat(v)
	}
	return Placeholder
}

// deltaKPI renders "before → after" with both sides rounded, falling back to
// summary.inventory_before/inventory_after nested objects.
func deltaKPI(view model.AgentView, summary map[string]any, beforeMetric, afterMetric, summaryField string) string {
	before, okB := view.Metric(beforeMetric)
	if !okB {
		before, okB = summaryFloat(nested(summary, "inventory_before"), summaryField)
	}
	after, okA := view.Metric(afterMetric)
	if !okA {
		after, okA = summaryFloat(nested(summary, "inventory_after"), summaryField)
	}
	if !okB || !okA {
		return Placeholder
	}
	return fmt.Sprintf("%d → %d", int64(math.Round(before)), int64(math.Round(after)))
}

func nested(m map[string]any, key string) map[string]any {
	if m == nil {
		return nil
	}
	inner, _ := m[key].(map[string]any)
	return inner
}

func summaryFloat(m map[string]any, key string) (float64, bool) {
	if m == nil {
		return 0, false
	}
	switch v := m[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func trimFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', 4, 64)
}
