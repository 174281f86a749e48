package repository

import (
	"context"
	"time"

	"merch-copilot/internal/domain/model"
)

// ConversationStore owns the single persisted conversation slot.
//
// Load must never fail hard: an absent, unreadable, or schema-incompatible
// slot yields a freshly allocated default conversation. Save overwrites the
// slot wholesale and is called synchronously after every mutation.
type ConversationStore interface {
	Load(ctx context.Context) (*model.Conversation, error)
	Save(ctx context.Context, c *model.Conversation) error

	// Reset allocates a new id, reseeds messages per the store's greeting
	// policy, and saves immediately.
	Reset(ctx context.Context) (*model.Conversation, error)
}

// ArchivedConversation is a transcript summary row.
type ArchivedConversation struct {
	ID        string    `json:"conversation_id"`
	Messages  int       `json:"messages"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ConversationArchive keeps completed turns in durable shared storage,
// independent of the per-session slot. Optional; a nil archive is skipped.
type ConversationArchive interface {
	Save(ctx context.Context, c *model.Conversation) error
	Find(ctx context.Context, id string) (*model.Conversation, error)
	Recent(ctx context.Context, limit int) ([]ArchivedConversation, error)
}
