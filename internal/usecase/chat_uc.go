// File: internal/usecase/chat_uc.go
package usecase

import (
	"context"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog"

	"merch-copilot/internal/domain"
	"merch-copilot/internal/domain/model"
	"merch-copilot/internal/domain/ports/adapter"
	"merch-copilot/internal/domain/ports/repository"
	"merch-copilot/internal/infra/logging"
	"merch-copilot/internal/infra/metrics"
)

// HistoryWindow is the default bound on the trailing history sent to the
// backend; chat.history_window overrides it.
const HistoryWindow = 16

// Compile-time check
var _ ChatUseCase = (*chatUC)(nil)

type ChatUseCase interface {
	// Submit runs one turn: append the user message, call the backend, append
	// the assistant reply (or a visible error reply). It returns
	// domain.ErrEmptyMessage for blank input and domain.ErrBusy while a
	// submission is in flight; both are no-ops on the transcript.
	Submit(ctx context.Context, text string) error

	// NewChat resets the store to a fresh conversation and clears the view.
	NewChat(ctx context.Context) (*model.Conversation, error)

	// RefreshSummary fetches the baseline KPI object. Failure leaves the
	// baseline empty; panels fall back to placeholders.
	RefreshSummary(ctx context.Context)

	Conversation() *model.Conversation
	View() (model.AgentView, bool)
	Busy() bool
	KPIs() []KPI

	SetStoreID(id string)
	SetItemID(id string)
	SetWhatIf(w model.WhatIfParameters)
	WhatIf() model.WhatIfParameters
}

// submitState makes the no-concurrent-submission invariant explicit.
type submitState int

const (
	stateIdle submitState = iota
	stateAwaitingResponse
)

type chatUC struct {
	store   repository.ConversationStore
	agent   adapter.AgentGateway
	archive repository.ConversationArchive // optional
	policy  model.TextPolicy
	surface string
	window  int
	log     *zerolog.Logger

	mu      sync.Mutex
	state   submitState
	conv    *model.Conversation
	view    model.AgentView
	hasView bool
	summary map[string]any

	storeID   string
	itemID    string
	whatIf    model.WhatIfParameters
	objective string

	encOnce sync.Once
	enc     *tiktoken.Tiktoken
}

type ChatOptions struct {
	Surface       string // metrics label, e.g. "repl" | "telegram"
	StoreID       string
	ItemID        string
	Objective     string
	WhatIf        model.WhatIfParameters
	HistoryWindow int // <= 0 means the default
}

func NewChatUseCase(store repository.ConversationStore, agent adapter.AgentGateway, archive repository.ConversationArchive, policy model.TextPolicy, opts ChatOptions, logger *zerolog.Logger) (*chatUC, error) {
	conv, err := store.Load(context.Background())
	if err != nil {
		return nil, err
	}
	if opts.Surface == "" {
		opts.Surface = "repl"
	}
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = HistoryWindow
	}
	return &chatUC{
		store:     store,
		agent:     agent,
		archive:   archive,
		policy:    policy,
		surface:   opts.Surface,
		window:    opts.HistoryWindow,
		log:       logger,
		conv:      conv,
		storeID:   opts.StoreID,
		itemID:    opts.ItemID,
		whatIf:    opts.WhatIf,
		objective: opts.Objective,
	}, nil
}

func (c *chatUC) Submit(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.ErrEmptyMessage
	}

	c.mu.Lock()
	if c.state != stateIdle {
		c.mu.Unlock()
		return domain.ErrBusy
	}
	c.state = stateAwaitingResponse

	// History covers prior turns only, so snapshot it before this turn's user
	// message joins the transcript.
	history := c.conv.History(c.window)
	c.conv.Append(model.NewChatMessage(model.RoleUser, text))
	c.saveLocked(ctx)

	// Capture the payload by value: filter edits made while the request is in
	// flight only affect the next submission.
	req := model.ChatRequest{
		Message:        text,
		StoreID:        model.OptionalID(c.storeID),
		ItemID:         model.OptionalID(c.itemID),
		ConversationID: c.conv.ID,
		History:        history,
	}
	whatIf := c.whatIf
	req.WhatIf = &whatIf
	if c.objective != "" {
		req.Prefs = &model.Preferences{Objective: c.objective}
	}
	ctx = logging.WithConversationID(ctx, c.conv.ID)
	if c.storeID != "" {
		ctx = logging.WithStoreID(ctx, c.storeID)
	}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.state = stateIdle
		c.mu.Unlock()
	}()

	c.observeHistoryTokens(ctx, req.History)

	log := logging.With(ctx, c.log)
	defer logging.TraceDuration(log, "ChatUC.Submit")()

	raw, err := c.agent.Chat(ctx, req)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		// The turn always completes visibly: a failed call becomes an
		// assistant-role error reply, never a dropped turn.
		c.conv.Append(model.NewChatMessage(model.RoleAssistant, "Error: "+err.Error()))
		c.view = model.AgentView{}
		c.hasView = false
		c.saveLocked(ctx)
		metrics.IncChatTurn(c.surface, "error")
		log.Warn().Err(err).Msg("agent call failed")
		return nil
	}

	view := model.NormalizeAnswer(raw, c.policy)
	c.conv.Append(model.NewChatMessage(model.RoleAssistant, c.assistantText(view)))
	c.view = view
	c.hasView = true
	c.saveLocked(ctx)
	c.archiveLocked(ctx)
	metrics.IncChatTurn(c.surface, "ok")
	return nil
}

// assistantText is the normalized explanation plus download links, when any.
func (c *chatUC) assistantText(view model.AgentView) string {
	text := view.Explanation
	if len(view.Downloads) == 0 {
		return text
	}
	var b strings.Builder
	b.WriteString(text)
	b.WriteString("\n\nDOWNLOAD LINKS")
	for _, label := range view.DownloadLabels() {
		b.WriteString("\n- ")
		b.WriteString(label)
		b.WriteString(": ")
		b.WriteString(c.agent.DownloadURL(view.Downloads[label]))
	}
	return b.String()
}

func (c *chatUC) NewChat(ctx context.Context) (*model.Conversation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	conv, err := c.store.Reset(ctx)
	if err != nil {
		return nil, err
	}
	c.conv = conv
	c.view = model.AgentView{}
	c.hasView = false
	return conv, nil
}

func (c *chatUC) RefreshSummary(ctx context.Context) {
	sum, err := c.agent.Summary(ctx)
	if err != nil {
		logging.With(ctx, c.log).Debug().Err(err).Msg("summary fetch failed, using placeholders")
		return
	}
	c.mu.Lock()
	c.summary = sum
	c.mu.Unlock()
}

func (c *chatUC) Conversation() *model.Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	snapshot := *c.conv
	snapshot.Messages = append([]model.ChatMessage(nil), c.conv.Messages...)
	return &snapshot
}

func (c *chatUC) View() (model.AgentView, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view, c.hasView
}

func (c *chatUC) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateAwaitingResponse
}

func (c *chatUC) KPIs() []KPI {
	c.mu.Lock()
	defer c.mu.Unlock()
	return resolveKPIs(c.view, c.summary)
}

func (c *chatUC) SetStoreID(id string) {
	c.mu.Lock()
	c.storeID = id
	c.mu.Unlock()
}

func (c *chatUC) SetItemID(id string) {
	c.mu.Lock()
	c.itemID = id
	c.mu.Unlock()
}

func (c *chatUC) SetWhatIf(w model.WhatIfParameters) {
	c.mu.Lock()
	c.whatIf = w
	c.mu.Unlock()
}

func (c *chatUC) WhatIf() model.WhatIfParameters {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.whatIf
}

// saveLocked persists synchronously after every transcript mutation.
// Persistence failures degrade to a log line; the turn itself proceeds.
func (c *chatUC) saveLocked(ctx context.Context) {
	if err := c.store.Save(ctx, c.conv); err != nil {
		logging.With(ctx, c.log).Warn().Err(err).Msg("conversation save failed")
	}
}

func (c *chatUC) archiveLocked(ctx context.Context) {
	if c.archive == nil {
		return
	}
	if err := c.archive.Save(ctx, c.conv); err != nil {
		logging.With(ctx, c.log).Warn().Err(err).Msg("transcript archive failed")
	}
}

// observeHistoryTokens is telemetry only; the window stays count-bounded.
func (c *chatUC) observeHistoryTokens(ctx context.Context, history []model.HistoryEntry) {
	c.encOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			logging.With(ctx, c.log).Debug().Err(err).Msg("tokenizer unavailable")
			return
		}
		c.enc = enc
	})
	if c.enc == nil {
		return
	}
	n := 0
	for _, h := range history {
		n += len(c.enc.Encode(h.Content, nil, nil))
	}
	metrics.SetHistoryTokens(n)
	logging.With(ctx, c.log).Debug().Int("history_tokens", n).Int("history_len", len(history)).Msg("prompt size")
}
