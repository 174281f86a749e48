package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one transcript entry. Messages are immutable once created;
// the transcript is append-only and ordered oldest first.
type ChatMessage struct {
	ID        string `json:"id"`
	Role      string `json:"role"` // "user" | "assistant"
	Text      string `json:"text"`
	Timestamp int64  `json:"ts"` // epoch millis
}

func NewChatMessage(role, text string) ChatMessage {
	return ChatMessage{
		ID:        ulid.Make().String(),
		Role:      role,
		Text:      text,
		Timestamp: time.Now().UnixMilli(),
	}
}

// Conversation is the persisted (id, ordered message list) pair for one chat
// session. The id lives until an explicit reset replaces it.
type Conversation struct {
	ID       string        `json:"conversation_id"`
	Messages []ChatMessage `json:"messages"`
}

// GreetingPolicy decides what a fresh or reset conversation starts with.
// The two policies come from the two original UI surfaces and stay distinct
// on purpose.
type GreetingPolicy struct {
	// Greeting is prepended as an assistant message when non-empty.
	Greeting string
	// ResetGreeting is used by Reset instead of Greeting when non-empty.
	ResetGreeting string
}

// PanelGreeting seeds new conversations with the copilot intro and resets
// with a shorter prompt for store/objective.
func PanelGreeting() GreetingPolicy {
	return GreetingPolicy{
		Greeting:      "Hi! I'm your Merch & Inventory Copilot (M5 demo). Ask about a store like CA_1 and I'll propose actions using the generated reports.",
		ResetGreeting: "New chat started. Tell me the store (e.g., CA_1) and your objective (min cost vs max service level).",
	}
}

// ShellGreeting starts conversations empty.
func ShellGreeting() GreetingPolicy { return GreetingPolicy{} }

// NewConversation allocates a fresh id and seeds messages per policy.
func NewConversation(p GreetingPolicy) *Conversation {
	c := &Conversation{ID: uuid.NewString(), Messages: make([]ChatMessage, 0, 8)}
	if p.Greeting != "" {
		c.Messages = append(c.Messages, NewChatMessage(RoleAssistant, p.Greeting))
	}
	return c
}

// ResetConversation allocates a fresh id distinct from the previous one and
// seeds the reset greeting per policy.
func ResetConversation(p GreetingPolicy) *Conversation {
	greeting := p.ResetGreeting
	if greeting == "" {
		greeting = p.Greeting
	}
	c := &Conversation{ID: uuid.NewString(), Messages: make([]ChatMessage, 0, 8)}
	if greeting != "" {
		c.Messages = append(c.Messages, NewChatMessage(RoleAssistant, greeting))
	}
	return c
}

func (c *Conversation) Append(m ChatMessage) {
	c.Messages = append(c.Messages, m)
}

// History maps the most recent n user/assistant messages to the minimal
// {role, content} wire shape, preserving original order.
type HistoryEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (c *Conversation) History(n int) []HistoryEntry {
	filtered := make([]HistoryEntry, 0, len(c.Messages))
	for _, m := range c.Messages {
		if m.Role != RoleUser && m.Role != RoleAssistant {
			continue
		}
		filtered = append(filtered, HistoryEntry{Role: m.Role, Content: m.Text})
	}
	if n > 0 && len(filtered) > n {
		filtered = filtered[len(filtered)-n:]
	}
	return filtered
}

// Valid reports whether a loaded conversation is usable as-is.
func (c *Conversation) Valid() bool {
	return c != nil && c.ID != ""
}
