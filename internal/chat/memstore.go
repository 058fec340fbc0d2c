package chat

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AnshRaj112/studycrew-backend/internal/models"
)

// MemoryStore is a process-local MessageStore. It backs tests and servers
// started without MongoDB.
type MemoryStore struct {
	mu       sync.RWMutex
	messages map[string]*models.Message
	byTempID map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages: make(map[string]*models.Message),
		byTempID: make(map[string]string),
	}
}

func tempIDKey(senderID, clientTempID string) string {
	return senderID + "\x00" + clientTempID
}

func (ms *MemoryStore) Insert(ctx context.Context, msg *models.Message) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	key := tempIDKey(msg.Sender.ID, msg.ClientTempID)
	if msg.ClientTempID != "" {
		if _, ok := ms.byTempID[key]; ok {
			return ErrDuplicateMessage
		}
	}

	msg.ID = uuid.NewString()
	stored := *msg
	ms.messages[msg.ID] = &stored
	if msg.ClientTempID != "" {
		ms.byTempID[key] = msg.ID
	}
	return nil
}

func (ms *MemoryStore) Get(ctx context.Context, id string) (*models.Message, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	m, ok := ms.messages[id]
	if !ok {
		return nil, ErrMessageNotFound
	}
	out := *m
	return &out, nil
}

func (ms *MemoryStore) FindByClientTempID(ctx context.Context, senderID, clientTempID string) (*models.Message, error) {
	ms.mu.RLock()
	id, ok := ms.byTempID[tempIDKey(senderID, clientTempID)]
	ms.mu.RUnlock()
	if !ok {
		return nil, ErrMessageNotFound
	}
	return ms.Get(ctx, id)
}

func (ms *MemoryStore) UpdateText(ctx context.Context, id, text string, at time.Time) (*models.Message, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	m, ok := ms.messages[id]
	if !ok || m.Deleted {
		return nil, ErrMessageNotFound
	}
	m.Content = models.WithText(m.Content, text)
	m.Edited = true
	m.UpdatedAt = at
	out := *m
	return &out, nil
}

func (ms *MemoryStore) Tombstone(ctx context.Context, id string, at time.Time) (*models.Message, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	m, ok := ms.messages[id]
	if !ok {
		return nil, ErrMessageNotFound
	}
	if !m.Deleted {
		m.Tombstone(at)
	}
	out := *m
	return &out, nil
}

func (ms *MemoryStore) List(ctx context.Context, groupID string, before Cursor, limit int) ([]models.Message, bool, error) {
	ms.mu.RLock()
	var page []models.Message
	for _, m := range ms.messages {
		if m.GroupID != groupID || m.Deleted {
			continue
		}
		if !before.IsZero() && !olderThan(m, before) {
			continue
		}
		page = append(page, *m)
	}
	ms.mu.RUnlock()

	sort.Slice(page, func(i, j int) bool {
		if page[i].CreatedAt.Equal(page[j].CreatedAt) {
			return page[i].ID < page[j].ID
		}
		return page[i].CreatedAt.Before(page[j].CreatedAt)
	})

	hasMore := false
	if limit > 0 && len(page) > limit {
		page = page[len(page)-limit:]
		hasMore = true
	}
	return page, hasMore, nil
}

func olderThan(m *models.Message, c Cursor) bool {
	if m.CreatedAt.Before(c.Before) {
		return true
	}
	return c.MessageID != "" && m.CreatedAt.Equal(c.Before) && m.ID < c.MessageID
}
