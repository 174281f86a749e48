package agentapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"merch-copilot/internal/domain/model"
	"merch-copilot/internal/domain/ports/adapter"
	"merch-copilot/internal/infra/logging"
	"merch-copilot/internal/infra/metrics"
)

// Compile-time assurance this client satisfies the port
var _ adapter.AgentGateway = (*Client)(nil)

// Client talks to the copilot agent backend. Responses are decoded into
// generic maps; the normalizer owns all field interpretation.
type Client struct {
	base   string // e.g. http://127.0.0.1:8001
	client *http.Client
	log    *zerolog.Logger
}

func NewClient(baseURL string, timeout time.Duration, logger *zerolog.Logger) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("agent api base url empty")
	}
	return &Client{
		base:   strings.TrimRight(baseURL, "/"),
		client: &http.Client{Timeout: timeout},
		log:    logger,
	}, nil
}

func (c *Client) Chat(ctx context.Context, req model.ChatRequest) (map[string]any, error) {
	var out map[string]any
	if err := c.call(ctx, http.MethodPost, "/agent/chat", req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Summary(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	if err := c.call(ctx, http.MethodGet, "/summary", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) FutureForecast(ctx context.Context, storeID, itemID string) (any, error) {
	q := url.Values{}
	if storeID != "" {
		q.Set("store_id", storeID)
	}
	if itemID != "" {
		q.Set("item_id", itemID)
	}
	var out any
	if err := c.call(ctx, http.MethodGet, "/forecast/future?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Recs(ctx context.Context, kind, storeID string) (any, error) {
	q := url.Values{}
	if storeID != "" {
		q.Set("store_id", storeID)
	}
	var out any
	if err := c.call(ctx, http.MethodGet, "/recs/"+url.PathEscape(kind)+"?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DownloadURL resolves a server-relative path like "/downloads/a.csv" against
// the API base.
func (c *Client) DownloadURL(path string) string {
	if path == "" {
		return c.base
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.base + path
}

func (c *Client) call(ctx context.Context, method, path string, body any, out any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	endpoint := metricEndpoint(path)
	start := time.Now()
	resp, err := c.client.Do(req)
	latency := int(time.Since(start).Milliseconds())
	if err != nil {
		metrics.ObserveAgentCall(endpoint, latency, false)
		return err
	}
	defer resp.Body.Close()

	if c.log != nil {
		logging.With(ctx, c.log).Debug().
			Str("method", method).
			Str("path", path).
			Int("status", resp.StatusCode).
			Int("latency_ms", latency).
			Msg("agent_api_call")
	}

	if resp.StatusCode >= 300 {
		metrics.ObserveAgentCall(endpoint, latency, false)
		return errors.New(errorText(resp))
	}
	metrics.ObserveAgentCall(endpoint, latency, true)
	return json.NewDecoder(resp.Body).Decode(out)
}

// errorText surfaces the backend's body as the error message, the way the
// original client did, capped to keep transcripts readable.
func errorText(resp *http.Response) string {
	const maxLen = 512
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxLen+1))
	msg := strings.TrimSpace(string(b))
	if len(msg) > maxLen {
		msg = msg[:maxLen] + "..."
	}
	if msg == "" {
		msg = fmt.Sprintf("agent http %d", resp.StatusCode)
	}
	return msg
}

func metricEndpoint(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return path
}
