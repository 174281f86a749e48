package model

import (
	"encoding/json"
	"sort"
)

// AgentView is the normalized, UI-ready projection of one raw agent response.
// It is recomputed wholesale on every successful turn; a failed turn or a new
// chat clears it.
type AgentView struct {
	Explanation      string
	KeyMetrics       map[string]any
	Decisions        []string
	InventoryActions []map[string]any
	PricingActions   []map[string]any
	ToolCalls        []any
	Downloads        map[string]string
}

// TextPolicy picks the assistant-visible explanation text out of a loose
// answer object. The candidate order and the fallback differ between the two
// original surfaces and are kept distinct on purpose.
type TextPolicy struct {
	// Order lists answer fields tried first-non-empty.
	Order []string
	// Fallback is the literal used when no candidate matches. When empty the
	// whole response is pretty-printed instead.
	Fallback string
}

// PanelText is the decision-panel surface policy.
func PanelText() TextPolicy {
	return TextPolicy{
		Order:    []string{"explanation", "memo"},
		Fallback: "Done. See the decision panels on the right.",
	}
}

// ShellText is the plain chat surface policy: more candidates, and a raw JSON
// dump as the last resort.
func ShellText() TextPolicy {
	return TextPolicy{Order: []string{"memo", "explanation", "response"}}
}

// NormalizeAnswer maps an untyped agent response onto AgentView. The backend's
// shape is not contractually fixed, so every access is present-or-default:
// a missing or differently-typed field yields a zero value, never an error.
//
// When the response is enveloped as {"answer": {...}} the envelope is
// unwrapped; otherwise the response itself is the answer.
func NormalizeAnswer(raw map[string]any, policy TextPolicy) AgentView {
	answer := raw
	if inner, ok := raw["answer"].(map[string]any); ok {
		answer = inner
	}

	v := AgentView{
		KeyMetrics:       asMap(answer["key_metrics"]),
		Decisions:        asStrings(answer["decisions"]),
		InventoryActions: asRows(answer["inventory_actions"]),
		PricingActions:   asRows(answer["pricing_actions"]),
		ToolCalls:        asSlice(answer["tool_calls"]),
		Downloads:        asStringMap(answer["downloads"]),
	}

	for _, field := range policy.Order {
		if s, ok := answer[field].(string); ok && s != "" {
			v.Explanation = s
			return v
		}
	}
	if policy.Fallback != "" {
		v.Explanation = policy.Fallback
		return v
	}
	v.Explanation = prettyJSON(raw)
	return v
}

// Metric returns a numeric key metric when present and number-shaped.
func (v AgentView) Metric(name string) (float64, bool) {
	return asFloat(v.KeyMetrics[name])
}

// DownloadLabels returns the download labels in stable order.
func (v AgentView) DownloadLabels() []string {
	labels := make([]string, 0, len(v.Downloads))
	for k := range v.Downloads {
		labels = append(labels, k)
	}
	sort.Strings(labels)
	return labels
}

// ToolTrace renders the tool-call trace verbatim as indented JSON.
func (v AgentView) ToolTrace() string {
	calls := v.ToolCalls
	if calls == nil {
		calls = []any{}
	}
	b, err := json.MarshalIndent(calls, "", "  ")
	if err != nil {
		return "[]"
	}
	return string(b)
}

func prettyJSON(raw map[string]any) string {
	b, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(b)
}

func asMap(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

func asStringMap(v any) map[string]string {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, val := range m {
		if s, ok := val.(string); ok {
			out[k] = s
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func asSlice(v any) []any {
	if s, ok := v.([]any); ok {
		return s
	}
	return nil
}

func asRows(v any) []map[string]any {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	rows := make([]map[string]any, 0, len(items))
	for _, it := range items {
		if row, ok := it.(map[string]any); ok {
			rows = append(rows, row)
		}
	}
	return rows
}

func asStrings(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// asFloat accepts the numeric shapes encoding/json produces plus ints from
// hand-built maps.
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
