package services

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AnshRaj112/studycrew-backend/internal/chat"
	"github.com/AnshRaj112/studycrew-backend/internal/models"
	"github.com/AnshRaj112/studycrew-backend/pkg/protocol"
)

const (
	chatRecentKeyPrefix = "chat:group:"
	chatRecentKeySuffix = ":recent"
	chatRecentMaxLen    = 50
	// DefaultChatCacheTTL bounds how long a warmed page survives without writes.
	DefaultChatCacheTTL = 10 * time.Minute
	chatVersionTTL      = 24 * time.Hour
)

func chatRecentKey(groupID string) string {
	return chatRecentKeyPrefix + groupID + chatRecentKeySuffix
}

func chatMoreKey(groupID string) string {
	return chatRecentKeyPrefix + groupID + ":more"
}

func chatVersionKey(groupID string) string {
	return chatRecentKeyPrefix + groupID + ":version"
}

// CachedMessageStore keeps the newest page of every group's history in Redis.
// Writes drop the page and bump a per-group version; a warm that raced with a
// write is discarded by WATCH on that version.
type CachedMessageStore struct {
	chat.MessageStore
	rdb *redis.Client
	ttl time.Duration
}

func NewCachedMessageStore(store chat.MessageStore, rdb *redis.Client, ttl time.Duration) *CachedMessageStore {
	if ttl <= 0 {
		ttl = DefaultChatCacheTTL
	}
	return &CachedMessageStore{MessageStore: store, rdb: rdb, ttl: ttl}
}

func (c *CachedMessageStore) Insert(ctx context.Context, msg *models.Message) error {
	if err := c.MessageStore.Insert(ctx, msg); err != nil {
		return err
	}
	c.invalidate(ctx, msg.GroupID)
	return nil
}

func (c *CachedMessageStore) UpdateText(ctx context.Context, id, text string, at time.Time) (*models.Message, error) {
	msg, err := c.MessageStore.UpdateText(ctx, id, text, at)
	if err != nil {
		return nil, err
	}
	c.invalidate(ctx, msg.GroupID)
	return msg, nil
}

func (c *CachedMessageStore) Tombstone(ctx context.Context, id string, at time.Time) (*models.Message, error) {
	msg, err := c.MessageStore.Tombstone(ctx, id, at)
	if err != nil {
		return nil, err
	}
	c.invalidate(ctx, msg.GroupID)
	return msg, nil
}

// List serves first pages of up to chatRecentMaxLen messages from Redis and
// everything else from the underlying store.
func (c *CachedMessageStore) List(ctx context.Context, groupID string, before chat.Cursor, limit int) ([]models.Message, bool, error) {
	if !before.IsZero() || limit > chatRecentMaxLen {
		return c.MessageStore.List(ctx, groupID, before, limit)
	}

	if cached, more, ok := c.recent(ctx, groupID); ok {
		return tail(cached, more, limit)
	}

	msgs, more, err := c.warm(ctx, groupID)
	if err != nil {
		return nil, false, err
	}
	return tail(msgs, more, limit)
}

func tail(msgs []models.Message, more bool, limit int) ([]models.Message, bool, error) {
	if len(msgs) > limit {
		return msgs[len(msgs)-limit:], true, nil
	}
	return msgs, more, nil
}

// recent returns the cached page, oldest first.
func (c *CachedMessageStore) recent(ctx context.Context, groupID string) ([]models.Message, bool, bool) {
	pipe := c.rdb.Pipeline()
	moreCmd := pipe.Get(ctx, chatMoreKey(groupID))
	listCmd := pipe.LRange(ctx, chatRecentKey(groupID), 0, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Printf("chat_cache: read failed for group %s: %v", groupID, err)
		}
		return nil, false, false
	}

	more, err := moreCmd.Bool()
	if err != nil {
		return nil, false, false
	}

	raw := listCmd.Val()
	msgs := make([]models.Message, 0, len(raw))
	for _, item := range raw {
		var w protocol.Message
		if err := json.Unmarshal([]byte(item), &w); err != nil {
			log.Printf("chat_cache: corrupt entry for group %s: %v", groupID, err)
			return nil, false, false
		}
		m, err := models.MessageFromWire(w)
		if err != nil {
			log.Printf("chat_cache: corrupt entry for group %s: %v", groupID, err)
			return nil, false, false
		}
		msgs = append(msgs, *m)
	}
	return msgs, more, true
}

// warm loads the newest page from the store and caches it unless a write to
// the group happened in between.
func (c *CachedMessageStore) warm(ctx context.Context, groupID string) ([]models.Message, bool, error) {
	var (
		msgs    []models.Message
		more    bool
		loadErr error
	)

	versionKey := chatVersionKey(groupID)
	err := c.rdb.Watch(ctx, func(tx *redis.Tx) error {
		msgs, more, loadErr = c.MessageStore.List(ctx, groupID, chat.Cursor{}, chatRecentMaxLen)
		if loadErr != nil {
			return nil
		}

		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			key := chatRecentKey(groupID)
			pipe.Del(ctx, key)
			for i := range msgs {
				data, err := json.Marshal(msgs[i].ToWire())
				if err != nil {
					return err
				}
				pipe.RPush(ctx, key, data)
			}
			pipe.Expire(ctx, key, c.ttl)
			pipe.Set(ctx, chatMoreKey(groupID), more, c.ttl)
			return nil
		})
		return err
	}, versionKey)

	if loadErr != nil {
		return nil, false, loadErr
	}
	if err != nil && !errors.Is(err, redis.TxFailedErr) {
		log.Printf("chat_cache: warm failed for group %s: %v", groupID, err)
	}
	return msgs, more, nil
}

func (c *CachedMessageStore) invalidate(ctx context.Context, groupID string) {
	versionKey := chatVersionKey(groupID)

	pipe := c.rdb.TxPipeline()
	pipe.Incr(ctx, versionKey)
	pipe.Expire(ctx, versionKey, chatVersionTTL)
	pipe.Del(ctx, chatRecentKey(groupID), chatMoreKey(groupID))
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("chat_cache: invalidate failed for group %s: %v", groupID, err)
	}
}
