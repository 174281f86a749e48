package model

// WhatIfParameters are the user-adjustable assumptions sent alongside a chat
// request. They are passed through as-is; the agent backend owns validation.
type WhatIfParameters struct {
	ServiceLevel           float64 `json:"service_level" yaml:"service_level"`
	LeadTimeDays           float64 `json:"lead_time_days" yaml:"lead_time_days"`
	HoldingCostPerUnit     float64 `json:"holding_cost_per_unit" yaml:"holding_cost_per_unit"`
	StockoutPenaltyPerUnit float64 `json:"stockout_penalty_per_unit" yaml:"stockout_penalty_per_unit"`
}

func DefaultWhatIf() WhatIfParameters {
	return WhatIfParameters{
		ServiceLevel:           0.95,
		LeadTimeDays:           7,
		HoldingCostPerUnit:     0.1,
		StockoutPenaltyPerUnit: 1.0,
	}
}

// Preferences hint the agent toward an optimization objective.
type Preferences struct {
	Objective string `json:"objective,omitempty" yaml:"objective"` // "cost" | "service"
}

// ChatRequest is the wire payload for POST /agent/chat. Empty store/item
// filters are normalized to absent values before marshaling.
type ChatRequest struct {
	Message        string            `json:"message"`
	StoreID        *string           `json:"store_id,omitempty"`
	ItemID         *string           `json:"item_id,omitempty"`
	ConversationID string            `json:"conversation_id,omitempty"`
	History        []HistoryEntry    `json:"history,omitempty"`
	WhatIf         *WhatIfParameters `json:"whatif,omitempty"`
	Prefs          *Preferences      `json:"prefs,omitempty"`
}

// OptionalID maps "" to nil so the backend sees an absent filter rather than
// an empty string.
func OptionalID(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
