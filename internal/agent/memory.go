package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xiaot623/gogo/acp/internal/domain"
)

// Memory is the conversation history owned by an agent.
type Memory interface {
	Add(ctx context.Context, msgs ...domain.Message) error
	Messages(ctx context.Context) ([]domain.Message, error)
	Reset(ctx context.Context) error
}

// UnconstrainedMemory keeps every message in process memory.
type UnconstrainedMemory struct {
	mu       sync.RWMutex
	messages []domain.Message
}

// NewUnconstrainedMemory creates an empty in-memory history.
func NewUnconstrainedMemory() *UnconstrainedMemory {
	return &UnconstrainedMemory{}
}

func (m *UnconstrainedMemory) Add(_ context.Context, msgs ...domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msgs...)
	return nil
}

func (m *UnconstrainedMemory) Messages(_ context.Context) ([]domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.Message(nil), m.messages...), nil
}

func (m *UnconstrainedMemory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = nil
	return nil
}

// MessageStore is the persistence needed by StoreMemory.
type MessageStore interface {
	GetOrCreateSession(ctx context.Context, sessionID string) (*domain.Session, error)
	CreateMessage(ctx context.Context, msg *domain.StoredMessage) error
	GetMessages(ctx context.Context, sessionID string, limit int) ([]domain.StoredMessage, error)
	DeleteMessages(ctx context.Context, sessionID string) error
}

// StoreMemory persists history in a session of a MessageStore.
type StoreMemory struct {
	store     MessageStore
	sessionID string
	limit     int
}

// NewStoreMemory creates a memory bound to sessionID. limit <= 0 reads the whole history.
func NewStoreMemory(store MessageStore, sessionID string, limit int) *StoreMemory {
	return &StoreMemory{store: store, sessionID: sessionID, limit: limit}
}

func (m *StoreMemory) Add(ctx context.Context, msgs ...domain.Message) error {
	if _, err := m.store.GetOrCreateSession(ctx, m.sessionID); err != nil {
		return fmt.Errorf("failed to get/create session: %w", err)
	}
	for _, msg := range msgs {
		stored := &domain.StoredMessage{
			MessageID: "msg_" + uuid.New().String()[:8],
			SessionID: m.sessionID,
			Message:   msg,
			CreatedAt: time.Now(),
		}
		if err := m.store.CreateMessage(ctx, stored); err != nil {
			return fmt.Errorf("failed to save message: %w", err)
		}
	}
	return nil
}

func (m *StoreMemory) Messages(ctx context.Context) ([]domain.Message, error) {
	stored, err := m.store.GetMessages(ctx, m.sessionID, m.limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	out := make([]domain.Message, len(stored))
	for i, s := range stored {
		out[i] = s.Message
	}
	return out, nil
}

func (m *StoreMemory) Reset(ctx context.Context) error {
	return m.store.DeleteMessages(ctx, m.sessionID)
}
