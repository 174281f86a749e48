package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"merch-copilot/internal/domain/model"
	"merch-copilot/internal/domain/ports/repository"
)

// SchemaVersion mirrors the file slot tag; a mismatched payload is treated as
// absent.
const SchemaVersion = 1

const slotKey = "copilot:conversation"

var _ repository.ConversationStore = (*ConversationStore)(nil)

// ConversationStore keeps the conversation slot in redis with a TTL, for
// setups where the transcript should survive the local filesystem.
type ConversationStore struct {
	client RedisClient
	ttl    time.Duration
	policy model.GreetingPolicy
	log    *zerolog.Logger
}

func NewConversationStore(client RedisClient, ttl time.Duration, policy model.GreetingPolicy, logger *zerolog.Logger) *ConversationStore {
	return &ConversationStore{client: client, ttl: ttl, policy: policy, log: logger}
}

type slotPayload struct {
	SchemaVersion  int                 `json:"schema_version"`
	ConversationID string              `json:"conversation_id"`
	Messages       []model.ChatMessage `json:"messages"`
}

func (s *ConversationStore) Load(ctx context.Context) (*model.Conversation, error) {
	data, err := s.client.Get(ctx, slotKey)
	if err != nil {
		return s.fallback(ctx, err), nil
	}
	var slot slotPayload
	if err := json.Unmarshal([]byte(data), &slot); err != nil {
		return s.fallback(ctx, err), nil
	}
	if slot.SchemaVersion != SchemaVersion || slot.ConversationID == "" {
		return s.fallback(ctx, nil), nil
	}
	c := &model.Conversation{ID: slot.ConversationID, Messages: slot.Messages}
	if len(c.Messages) == 0 {
		c.Messages = model.NewConversation(s.policy).Messages
	}
	// sliding expiry
	_ = s.client.Expire(ctx, slotKey, s.ttl)
	return c, nil
}

func (s *ConversationStore) Save(ctx context.Context, c *model.Conversation) error {
	b, err := json.Marshal(slotPayload{SchemaVersion: SchemaVersion, ConversationID: c.ID, Messages: c.Messages})
	if err != nil {
		return err
	}
	return s.client.Set(ctx, slotKey, b, s.ttl)
}

func (s *ConversationStore) Reset(ctx context.Context) (*model.Conversation, error) {
	c := model.ResetConversation(s.policy)
	if err := s.Save(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *ConversationStore) fallback(ctx context.Context, cause error) *model.Conversation {
	if s.log != nil && cause != nil {
		s.log.Debug().Err(cause).Msg("redis conversation slot unusable, starting fresh")
	}
	c := model.NewConversation(s.policy)
	_ = s.Save(ctx, c)
	return c
}
