package chat

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/AnshRaj112/studycrew-backend/internal/metrics"
	"github.com/AnshRaj112/studycrew-backend/internal/models"
	"github.com/AnshRaj112/studycrew-backend/pkg/protocol"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 100
)

// SendMessage validates, persists and broadcasts a new message. The returned
// message is the canonical stored copy and is what the caller acknowledges.
// A retried clientTempId resolves to the earlier message without a second
// broadcast.
func (s *Service) SendMessage(ctx context.Context, actor Actor, req protocol.SendMessageRequest) (*models.Message, error) {
	groupID := strings.TrimSpace(req.GroupID)
	if groupID == "" {
		return nil, ValidationError("groupId is required")
	}
	content, err := buildContent(req)
	if err != nil {
		return nil, err
	}

	if err := s.requireMember(ctx, actor.UserID, groupID); err != nil {
		return nil, err
	}

	tempID := strings.TrimSpace(req.ClientTempID)
	if tempID != "" {
		existing, err := s.findByClientTempID(ctx, actor.UserID, tempID)
		if err == nil {
			metrics.DuplicateSends.Inc()
			return existing, nil
		}
		if !errors.Is(err, ErrMessageNotFound) {
			return nil, internalError("failed to send message", err)
		}
	}

	replyTo := strings.TrimSpace(req.ReplyTo)
	if replyTo != "" {
		target, err := s.getMessage(ctx, replyTo)
		if err != nil {
			return nil, err
		}
		if target.GroupID != groupID {
			return nil, ValidationError("replyTo must reference a message in the same group")
		}
	}

	if !s.limiter.Allow(actor.UserID) {
		return nil, RateLimitError()
	}

	msg := &models.Message{
		GroupID:      groupID,
		Sender:       models.Sender{ID: actor.UserID, Username: actor.Username},
		Kind:         content.Kind(),
		Content:      content,
		ReplyTo:      replyTo,
		ClientTempID: tempID,
	}
	saved, err := s.persist(ctx, msg)
	if err != nil {
		s.limiter.Refund(actor.UserID)
		log.Printf("chat: send to group %s failed: %v", groupID, err)
		return nil, internalError("failed to send message", err)
	}
	if saved != msg {
		// Resolved to a concurrent retry's message; nothing new was stored.
		s.limiter.Refund(actor.UserID)
	}

	s.typing.Stop(actor.UserID, groupID)
	return saved, nil
}

// buildContent validates the payload of a send and sanitizes its text.
func buildContent(req protocol.SendMessageRequest) (models.Content, error) {
	kind, ok := models.ParseMessageKind(req.Type)
	if !ok {
		return nil, ValidationError("unknown message type")
	}
	if kind == models.KindSystem {
		return nil, ValidationError("system messages cannot be sent by users")
	}

	text := SanitizeText(req.Text)
	if len(text) > MaxTextLength {
		return nil, ValidationError("message text is too long")
	}

	var file *models.FileMeta
	if url := strings.TrimSpace(req.FileURL); url != "" {
		file = &models.FileMeta{
			URL:         url,
			DownloadURL: strings.TrimSpace(req.FileDownloadURL),
			Name:        strings.TrimSpace(req.FileName),
			Size:        req.FileSize,
			Mime:        strings.TrimSpace(req.FileMime),
		}
		if kind == models.KindText {
			kind = kindForMime(file.Mime)
		}
	}
	if text == "" && file == nil {
		return nil, ValidationError("message text or file is required")
	}

	content, err := models.NewContent(kind, text, file)
	if err != nil {
		return nil, ValidationError(err.Error())
	}
	return content, nil
}

func kindForMime(mime string) models.MessageKind {
	switch {
	case strings.HasPrefix(mime, "image/"):
		return models.KindImage
	case mime == "application/pdf":
		return models.KindPDF
	}
	return models.KindFile
}

// persist assigns createdAt, stores msg and broadcasts it while holding the
// room lock. Timestamps are millisecond precision and strictly increasing
// per room.
func (s *Service) persist(ctx context.Context, msg *models.Message) (*models.Message, error) {
	lock := s.roomLock(msg.GroupID)
	lock.mu.Lock()
	defer lock.mu.Unlock()

	now := s.now().UTC().Truncate(time.Millisecond)
	if !now.After(lock.last) {
		now = lock.last.Add(time.Millisecond)
	}
	msg.CreatedAt = now
	msg.UpdatedAt = now

	sctx, cancel := s.storeContext(ctx)
	defer cancel()

	start := time.Now()
	err := s.store.Insert(sctx, msg)
	observeStore("insert", start)
	if errors.Is(err, ErrDuplicateMessage) {
		// Lost a race with a concurrent retry of the same send.
		metrics.DuplicateSends.Inc()
		return s.store.FindByClientTempID(sctx, msg.Sender.ID, msg.ClientTempID)
	}
	if err != nil {
		return nil, err
	}
	lock.last = now

	metrics.MessagesSent.WithLabelValues(string(msg.Kind)).Inc()
	s.rooms.Broadcast(msg.GroupID, protocol.EventMessage, msg.ToWire())
	return msg, nil
}

// EditMessage replaces the text of the actor's own message and broadcasts
// the change.
func (s *Service) EditMessage(ctx context.Context, actor Actor, req protocol.EditMessageRequest) (*models.Message, error) {
	messageID := strings.TrimSpace(req.MessageID)
	groupID := strings.TrimSpace(req.GroupID)
	if messageID == "" || groupID == "" {
		return nil, ValidationError("messageId and groupId are required")
	}
	text := SanitizeText(req.Text)
	if len(text) > MaxTextLength {
		return nil, ValidationError("message text is too long")
	}

	msg, err := s.messageInGroup(ctx, messageID, groupID)
	if err != nil {
		return nil, err
	}
	if msg.Sender.ID != actor.UserID {
		return nil, AuthorizationError("only the sender can edit this message")
	}
	if msg.Deleted {
		return nil, ValidationError("deleted messages cannot be edited")
	}
	switch {
	case msg.Kind == models.KindSystem:
		return nil, ValidationError("system messages cannot be edited")
	case !msg.Kind.IsAttachment() && text == "":
		return nil, ValidationError("text is required")
	}

	lock := s.roomLock(groupID)
	lock.mu.Lock()
	defer lock.mu.Unlock()

	sctx, cancel := s.storeContext(ctx)
	defer cancel()

	start := time.Now()
	updated, err := s.store.UpdateText(sctx, messageID, text, s.now().UTC())
	observeStore("update", start)
	if errors.Is(err, ErrMessageNotFound) {
		return nil, NotFoundError("message not found")
	}
	if err != nil {
		log.Printf("chat: edit of message %s failed: %v", messageID, err)
		return nil, internalError("failed to edit message", err)
	}

	payload := protocol.MessageUpdated{
		ID:        updated.ID,
		Edited:    updated.Edited,
		UpdatedAt: updated.UpdatedAt,
	}
	if t, ok := updated.Text(); ok {
		payload.Text = &t
	}
	metrics.MessageMutations.WithLabelValues("edit").Inc()
	s.rooms.Broadcast(groupID, protocol.EventMessageUpdated, payload)
	return updated, nil
}

// DeleteMessage tombstones a message. The sender and the group admins may
// delete; deleting a tombstone again succeeds without a broadcast.
func (s *Service) DeleteMessage(ctx context.Context, actor Actor, req protocol.DeleteMessageRequest) (*models.Message, error) {
	messageID := strings.TrimSpace(req.MessageID)
	groupID := strings.TrimSpace(req.GroupID)
	if messageID == "" || groupID == "" {
		return nil, ValidationError("messageId and groupId are required")
	}

	msg, err := s.messageInGroup(ctx, messageID, groupID)
	if err != nil {
		return nil, err
	}
	if msg.Sender.ID != actor.UserID {
		admin, err := s.isGroupAdmin(ctx, actor.UserID, groupID)
		if err != nil {
			return nil, err
		}
		if !admin {
			return nil, AuthorizationError("only the sender or a group admin can delete this message")
		}
	}
	if msg.Deleted {
		return msg, nil
	}

	lock := s.roomLock(groupID)
	lock.mu.Lock()
	defer lock.mu.Unlock()

	sctx, cancel := s.storeContext(ctx)
	defer cancel()

	start := time.Now()
	deleted, err := s.store.Tombstone(sctx, messageID, s.now().UTC())
	observeStore("delete", start)
	if errors.Is(err, ErrMessageNotFound) {
		return nil, NotFoundError("message not found")
	}
	if err != nil {
		log.Printf("chat: delete of message %s failed: %v", messageID, err)
		return nil, internalError("failed to delete message", err)
	}

	metrics.MessageMutations.WithLabelValues("delete").Inc()
	s.rooms.Broadcast(groupID, protocol.EventMessageDeleted, protocol.MessageDeleted{
		MessageID: deleted.ID,
		GroupID:   groupID,
	})
	return deleted, nil
}

// FetchMessages returns a page of history older than before (a message id
// or an RFC3339 timestamp), oldest first, and whether older messages remain.
func (s *Service) FetchMessages(ctx context.Context, actor Actor, groupID string, limit int, before string) ([]models.Message, bool, error) {
	groupID = strings.TrimSpace(groupID)
	if groupID == "" {
		return nil, false, ValidationError("groupId is required")
	}
	if err := s.requireMember(ctx, actor.UserID, groupID); err != nil {
		return nil, false, err
	}

	switch {
	case limit <= 0:
		limit = DefaultPageSize
	case limit > MaxPageSize:
		limit = MaxPageSize
	}

	cursor, err := s.parseCursor(ctx, groupID, strings.TrimSpace(before))
	if err != nil {
		return nil, false, err
	}

	sctx, cancel := s.storeContext(ctx)
	defer cancel()

	start := time.Now()
	msgs, hasMore, err := s.store.List(sctx, groupID, cursor, limit)
	observeStore("list", start)
	if err != nil {
		log.Printf("chat: history for group %s failed: %v", groupID, err)
		return nil, false, internalError("failed to fetch messages", err)
	}
	return msgs, hasMore, nil
}

func (s *Service) parseCursor(ctx context.Context, groupID, before string) (Cursor, error) {
	if before == "" {
		return Cursor{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, before); err == nil {
		return Cursor{Before: t.UTC()}, nil
	}
	msg, err := s.messageInGroup(ctx, before, groupID)
	if err != nil {
		var ce *Error
		if errors.As(err, &ce) && ce.Kind == KindNotFound {
			return Cursor{}, ValidationError("before must be a message id or RFC3339 timestamp")
		}
		return Cursor{}, err
	}
	return Cursor{Before: msg.CreatedAt, MessageID: msg.ID}, nil
}

// Message returns a single message visible to a member of its group.
func (s *Service) Message(ctx context.Context, actor Actor, groupID, messageID string) (*models.Message, error) {
	if err := s.requireMember(ctx, actor.UserID, groupID); err != nil {
		return nil, err
	}
	return s.messageInGroup(ctx, messageID, groupID)
}

func (s *Service) messageInGroup(ctx context.Context, messageID, groupID string) (*models.Message, error) {
	msg, err := s.getMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.GroupID != groupID {
		return nil, NotFoundError("message not found")
	}
	return msg, nil
}

func (s *Service) getMessage(ctx context.Context, id string) (*models.Message, error) {
	sctx, cancel := s.storeContext(ctx)
	defer cancel()

	start := time.Now()
	msg, err := s.store.Get(sctx, id)
	observeStore("get", start)
	if errors.Is(err, ErrMessageNotFound) {
		return nil, NotFoundError("message not found")
	}
	if err != nil {
		return nil, internalError("failed to load message", err)
	}
	return msg, nil
}

func (s *Service) findByClientTempID(ctx context.Context, senderID, tempID string) (*models.Message, error) {
	sctx, cancel := s.storeContext(ctx)
	defer cancel()

	start := time.Now()
	defer observeStore("find_temp_id", start)
	return s.store.FindByClientTempID(sctx, senderID, tempID)
}
