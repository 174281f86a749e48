package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"merch-copilot/internal/domain/model"
	"merch-copilot/internal/domain/ports/repository"
)

// SchemaVersion tags every persisted slot. A slot written by an incompatible
// future format is treated as absent, not as an error.
const SchemaVersion = 1

var _ repository.ConversationStore = (*FileStore)(nil)

type slotPayload struct {
	SchemaVersion  int                 `json:"schema_version"`
	ConversationID string              `json:"conversation_id"`
	Messages       []model.ChatMessage `json:"messages"`
}

// FileStore keeps the whole conversation in one combined JSON slot.
type FileStore struct {
	path   string
	policy model.GreetingPolicy
	log    *zerolog.Logger
}

func NewFileStore(path string, policy model.GreetingPolicy, logger *zerolog.Logger) *FileStore {
	return &FileStore{path: path, policy: policy, log: logger}
}

func (s *FileStore) Load(ctx context.Context) (*model.Conversation, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return s.fallback(ctx, err), nil
	}
	var slot slotPayload
	if err := json.Unmarshal(b, &slot); err != nil {
		return s.fallback(ctx, err), nil
	}
	if slot.SchemaVersion != SchemaVersion || slot.ConversationID == "" {
		return s.fallback(ctx, fmt.Errorf("slot schema %d, want %d", slot.SchemaVersion, SchemaVersion)), nil
	}
	c := &model.Conversation{ID: slot.ConversationID, Messages: slot.Messages}
	if len(c.Messages) == 0 {
		c.Messages = model.NewConversation(s.policy).Messages
	}
	return c, nil
}

func (s *FileStore) Save(ctx context.Context, c *model.Conversation) error {
	slot := slotPayload{SchemaVersion: SchemaVersion, ConversationID: c.ID, Messages: c.Messages}
	b, err := json.Marshal(slot)
	if err != nil {
		return fmt.Errorf("marshal slot: %w", err)
	}
	return writeSlot(s.path, b)
}

func (s *FileStore) Reset(ctx context.Context) (*model.Conversation, error) {
	c := model.ResetConversation(s.policy)
	if err := s.Save(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *FileStore) fallback(ctx context.Context, cause error) *model.Conversation {
	if s.log != nil {
		s.log.Debug().Err(cause).Str("path", s.path).Msg("conversation slot unusable, starting fresh")
	}
	c := model.NewConversation(s.policy)
	// Best effort: make the next Load stable.
	_ = s.Save(ctx, c)
	return c
}

var _ repository.ConversationStore = (*SplitStore)(nil)

// SplitStore is the second original slot layout: the conversation id and the
// message list live in separate slots. Kept as configuration, not unified.
type SplitStore struct {
	idPath   string
	msgsPath string
	policy   model.GreetingPolicy
	log      *zerolog.Logger
}

type splitMessages struct {
	SchemaVersion int                 `json:"schema_version"`
	Messages      []model.ChatMessage `json:"messages"`
}

func NewSplitStore(idPath, msgsPath string, policy model.GreetingPolicy, logger *zerolog.Logger) *SplitStore {
	return &SplitStore{idPath: idPath, msgsPath: msgsPath, policy: policy, log: logger}
}

func (s *SplitStore) Load(ctx context.Context) (*model.Conversation, error) {
	idRaw, err := os.ReadFile(s.idPath)
	id := strings.TrimSpace(string(idRaw))
	if err != nil || id == "" {
		return s.fallback(ctx, err), nil
	}
	c := &model.Conversation{ID: id, Messages: model.NewConversation(s.policy).Messages}
	b, err := os.ReadFile(s.msgsPath)
	if err != nil {
		// id slot alone is fine; messages start per policy
		return c, nil
	}
	var slot splitMessages
	if err := json.Unmarshal(b, &slot); err != nil || slot.SchemaVersion != SchemaVersion {
		if s.log != nil {
			s.log.Debug().Err(err).Str("path", s.msgsPath).Msg("messages slot unusable, keeping id only")
		}
		return c, nil
	}
	if len(slot.Messages) > 0 {
		c.Messages = slot.Messages
	}
	return c, nil
}

func (s *SplitStore) Save(ctx context.Context, c *model.Conversation) error {
	if err := writeSlot(s.idPath, []byte(c.ID)); err != nil {
		return err
	}
	b, err := json.Marshal(splitMessages{SchemaVersion: SchemaVersion, Messages: c.Messages})
	if err != nil {
		return fmt.Errorf("marshal messages: %w", err)
	}
	return writeSlot(s.msgsPath, b)
}

func (s *SplitStore) Reset(ctx context.Context) (*model.Conversation, error) {
	c := model.ResetConversation(s.policy)
	if err := s.Save(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *SplitStore) fallback(ctx context.Context, cause error) *model.Conversation {
	if s.log != nil {
		s.log.Debug().Err(cause).Str("path", s.idPath).Msg("conversation id slot unusable, starting fresh")
	}
	c := model.NewConversation(s.policy)
	_ = s.Save(ctx, c)
	return c
}

func writeSlot(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("slot dir: %w", err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write slot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace slot: %w", err)
	}
	return nil
}
