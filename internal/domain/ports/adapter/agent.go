package adapter

import (
	"context"

	"merch-copilot/internal/domain/model"
)

// AgentGateway is the port for the copilot backend. Responses stay untyped:
// the demo backend does not commit to a schema, so callers normalize fields
// present-or-default instead of decoding into rigid structs.
type AgentGateway interface {
	// Chat posts one turn and returns the raw response object, either bare
	// or enveloped as {"answer": {...}}.
	Chat(ctx context.Context, req model.ChatRequest) (map[string]any, error)

	// Summary fetches the baseline KPI object used as a metric fallback.
	Summary(ctx context.Context) (map[string]any, error)

	// FutureForecast and Recs expose the read-only report endpoints.
	FutureForecast(ctx context.Context, storeID, itemID string) (any, error)
	Recs(ctx context.Context, kind, storeID string) (any, error)

	// DownloadURL resolves a server-relative path against the API base.
	DownloadURL(path string) string
}
