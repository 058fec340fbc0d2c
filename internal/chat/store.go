package chat

import (
	"context"
	"errors"
	"time"

	"github.com/AnshRaj112/studycrew-backend/internal/models"
)

var (
	ErrMessageNotFound  = errors.New("message not found")
	ErrDuplicateMessage = errors.New("duplicate client temp id")
	ErrGroupNotFound    = errors.New("group not found")
	ErrUserNotFound     = errors.New("user not found")
)

// Cursor bounds a history page. A zero cursor means "most recent".
// When MessageID is set, messages with the same CreatedAt are ordered by id.
type Cursor struct {
	Before    time.Time
	MessageID string
}

func (c Cursor) IsZero() bool {
	return c.Before.IsZero()
}

// MessageStore persists chat messages.
type MessageStore interface {
	// Insert assigns an ID to msg and stores it. It returns
	// ErrDuplicateMessage when (sender, client temp id) already exists.
	Insert(ctx context.Context, msg *models.Message) error
	// Get returns ErrMessageNotFound for unknown ids.
	Get(ctx context.Context, id string) (*models.Message, error)
	// FindByClientTempID returns ErrMessageNotFound when no message matches.
	FindByClientTempID(ctx context.Context, senderID, clientTempID string) (*models.Message, error)
	// UpdateText replaces the text of a non-deleted message and sets edited.
	// It returns ErrMessageNotFound when the message is missing or deleted.
	UpdateText(ctx context.Context, id, text string, at time.Time) (*models.Message, error)
	// Tombstone marks a message deleted and clears its content.
	Tombstone(ctx context.Context, id string, at time.Time) (*models.Message, error)
	// List returns up to limit non-deleted messages of the group older than
	// the cursor, oldest first, and whether older messages remain.
	List(ctx context.Context, groupID string, before Cursor, limit int) ([]models.Message, bool, error)
}

// GroupDirectory is the external group membership collaborator.
type GroupDirectory interface {
	IsMember(ctx context.Context, userID, groupID string) (bool, error)
	// GroupAdmins returns ErrGroupNotFound for unknown groups.
	GroupAdmins(ctx context.Context, groupID string) ([]string, error)
	GroupMembers(ctx context.Context, groupID string) ([]Member, error)
	// Username returns ErrUserNotFound for unknown or inactive users.
	Username(ctx context.Context, userID string) (string, error)
}

// Member is a group member as reported by the directory.
type Member struct {
	UserID   string
	Username string
}
