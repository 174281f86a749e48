// File: internal/usecase/mocks_test.go
package usecase

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"merch-copilot/internal/domain"
	"merch-copilot/internal/domain/model"
	"merch-copilot/internal/domain/ports/repository"
)

// memStore is an in-memory ConversationStore used by unit tests.
type memStore struct {
	mu      sync.Mutex
	policy  model.GreetingPolicy
	conv    *model.Conversation
	saves   int
	saveErr error // simulate persistence failures
}

func newMemStore(policy model.GreetingPolicy) *memStore {
	return &memStore{policy: policy}
}

func (m *memStore) Load(ctx context.Context) (*model.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conv == nil {
		m.conv = model.NewConversation(m.policy)
	}
	return m.conv, nil
}

func (m *memStore) Save(ctx context.Context, c *model.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.conv = c
	return nil
}

func (m *memStore) Reset(ctx context.Context) (*model.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conv = model.ResetConversation(m.policy)
	return m.conv, nil
}

// fakeAgent is a scriptable AgentGateway. Responses and errors are consumed
// per call; block, when set, holds Chat until released.
type fakeAgent struct {
	mu       sync.Mutex
	requests []model.ChatRequest
	response map[string]any
	err      error
	block    chan struct{}

	summary    map[string]any
	summaryErr error
}

func (f *fakeAgent) Chat(ctx context.Context, req model.ChatRequest) (map[string]any, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	block := f.block
	resp, err := f.response, f.err
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (f *fakeAgent) Summary(ctx context.Context) (map[string]any, error) {
	if f.summaryErr != nil {
		return nil, f.summaryErr
	}
	return f.summary, nil
}

func (f *fakeAgent) FutureForecast(ctx context.Context, storeID, itemID string) (any, error) {
	return nil, nil
}

func (f *fakeAgent) Recs(ctx context.Context, kind, storeID string) (any, error) {
	return nil, nil
}

func (f *fakeAgent) DownloadURL(path string) string {
	return "http://api.test" + path
}

func (f *fakeAgent) lastRequest() model.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

// memArchive records archived conversations.
type memArchive struct {
	mu    sync.Mutex
	saved map[string]*model.Conversation
}

func newMemArchive() *memArchive {
	return &memArchive{saved: make(map[string]*model.Conversation)}
}

func (m *memArchive) Save(ctx context.Context, c *model.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	cp.Messages = append([]model.ChatMessage(nil), c.Messages...)
	m.saved[c.ID] = &cp
	return nil
}

func (m *memArchive) Find(ctx context.Context, id string) (*model.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.saved[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return c, nil
}

func (m *memArchive) Recent(ctx context.Context, limit int) ([]repository.ArchivedConversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]repository.ArchivedConversation, 0, len(m.saved))
	for id, c := range m.saved {
		out = append(out, repository.ArchivedConversation{ID: id, Messages: len(c.Messages), UpdatedAt: time.Now()})
	}
	return out, nil
}

// newTestLogger creates a silent zerolog.Logger for use in tests.
func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

// waitFor polls cond until true or the deadline passes.
func waitFor(cond func() bool, d time.Duration) bool {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return false
}
