package services

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnshRaj112/studycrew-backend/internal/chat"
	"github.com/AnshRaj112/studycrew-backend/internal/models"
)

// countingStore counts List calls that reach the underlying store.
type countingStore struct {
	*chat.MemoryStore
	lists  atomic.Int32
	onList func()
}

func (s *countingStore) List(ctx context.Context, groupID string, before chat.Cursor, limit int) ([]models.Message, bool, error) {
	s.lists.Add(1)
	if s.onList != nil {
		s.onList()
	}
	return s.MemoryStore.List(ctx, groupID, before, limit)
}

var cacheEpoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func seedMessages(t *testing.T, store chat.MessageStore, groupID string, n int) []*models.Message {
	t.Helper()

	var out []*models.Message
	for i := 0; i < n; i++ {
		at := cacheEpoch.Add(time.Duration(i) * time.Second)
		msg := &models.Message{
			GroupID:   groupID,
			Sender:    models.Sender{ID: "alice", Username: "alice"},
			Kind:      models.KindText,
			Content:   models.TextContent{Text: fmt.Sprintf("m%d", i)},
			CreatedAt: at,
			UpdatedAt: at,
		}
		require.NoError(t, store.Insert(context.Background(), msg))
		out = append(out, msg)
	}
	return out
}

func TestCachedMessageStoreServesRecentPage(t *testing.T) {
	mr, rdb := newTestRedis(t)
	backing := &countingStore{MemoryStore: chat.NewMemoryStore()}
	store := NewCachedMessageStore(backing, rdb, time.Minute)
	ctx := context.Background()

	seeded := seedMessages(t, backing, "g1", 5)

	first, hasMore, err := store.List(ctx, "g1", chat.Cursor{}, 3)
	require.NoError(t, err)
	assert.True(t, hasMore)
	require.Len(t, first, 3)
	assert.Equal(t, seeded[2].ID, first[0].ID)
	assert.EqualValues(t, 1, backing.lists.Load())
	assert.True(t, mr.Exists(chatMoreKey("g1")))

	second, hasMore, err := store.List(ctx, "g1", chat.Cursor{}, 10)
	require.NoError(t, err)
	assert.False(t, hasMore)
	require.Len(t, second, 5)
	assert.EqualValues(t, 1, backing.lists.Load())

	text, ok := second[4].Text()
	require.True(t, ok)
	assert.Equal(t, "m4", text)
	assert.True(t, second[4].CreatedAt.Equal(seeded[4].CreatedAt))
}

func TestCachedMessageStoreInvalidatesOnWrite(t *testing.T) {
	_, rdb := newTestRedis(t)
	backing := &countingStore{MemoryStore: chat.NewMemoryStore()}
	store := NewCachedMessageStore(backing, rdb, time.Minute)
	ctx := context.Background()

	seeded := seedMessages(t, store, "g1", 2)

	_, _, err := store.List(ctx, "g1", chat.Cursor{}, 10)
	require.NoError(t, err)

	_, err = store.UpdateText(ctx, seeded[0].ID, "edited", cacheEpoch.Add(time.Hour))
	require.NoError(t, err)
	msgs, _, err := store.List(ctx, "g1", chat.Cursor{}, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 2, backing.lists.Load())
	text, _ := msgs[0].Text()
	assert.Equal(t, "edited", text)
	assert.True(t, msgs[0].Edited)

	_, err = store.Tombstone(ctx, seeded[1].ID, cacheEpoch.Add(time.Hour))
	require.NoError(t, err)
	msgs, _, err = store.List(ctx, "g1", chat.Cursor{}, 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
	assert.EqualValues(t, 3, backing.lists.Load())
}

func TestCachedMessageStoreBypassesCursorQueries(t *testing.T) {
	_, rdb := newTestRedis(t)
	backing := &countingStore{MemoryStore: chat.NewMemoryStore()}
	store := NewCachedMessageStore(backing, rdb, time.Minute)
	seeded := seedMessages(t, backing, "g1", 3)

	for i := 0; i < 2; i++ {
		msgs, _, err := store.List(context.Background(), "g1", chat.Cursor{Before: seeded[2].CreatedAt}, 10)
		require.NoError(t, err)
		assert.Len(t, msgs, 2)
	}
	assert.EqualValues(t, 2, backing.lists.Load())
}

func TestCachedMessageStoreDiscardsRacingWarm(t *testing.T) {
	mr, rdb := newTestRedis(t)
	backing := &countingStore{MemoryStore: chat.NewMemoryStore()}
	store := NewCachedMessageStore(backing, rdb, time.Minute)
	seedMessages(t, backing, "g1", 1)

	// A write lands while the page is being loaded.
	backing.onList = func() {
		backing.onList = nil
		store.invalidate(context.Background(), "g1")
	}

	msgs, _, err := store.List(context.Background(), "g1", chat.Cursor{}, 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
	assert.False(t, mr.Exists(chatMoreKey("g1")))
}

func TestCachedMessageStoreEmptyGroup(t *testing.T) {
	_, rdb := newTestRedis(t)
	backing := &countingStore{MemoryStore: chat.NewMemoryStore()}
	store := NewCachedMessageStore(backing, rdb, time.Minute)

	for i := 0; i < 2; i++ {
		msgs, hasMore, err := store.List(context.Background(), "g1", chat.Cursor{}, 10)
		require.NoError(t, err)
		assert.Empty(t, msgs)
		assert.False(t, hasMore)
	}
	assert.EqualValues(t, 1, backing.lists.Load())
}
