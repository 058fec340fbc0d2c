package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/AnshRaj112/studycrew-backend/internal/chat"
)

// GroupDirectory answers membership questions from PostgreSQL. Group and
// user ids are UUIDs; anything else is treated as unknown.
type GroupDirectory struct {
	db *sql.DB
}

func NewGroupDirectory(db *sql.DB) *GroupDirectory {
	return &GroupDirectory{db: db}
}

// IsMember reports whether the user created the group or has a membership
// in group_members.
func (d *GroupDirectory) IsMember(ctx context.Context, userID, groupID string) (bool, error) {
	u, err := uuid.Parse(userID)
	if err != nil {
		return false, nil
	}
	g, err := uuid.Parse(groupID)
	if err != nil {
		return false, nil
	}

	var exists bool
	err = d.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM groups g
			WHERE g.id = $1 AND (g.created_by = $2 OR EXISTS (
				SELECT 1 FROM group_members gm WHERE gm.group_id = g.id AND gm.user_id = $2
			))
		)
	`, g, u).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return exists, nil
}

// GroupAdmins returns the creator followed by members with the admin role.
func (d *GroupDirectory) GroupAdmins(ctx context.Context, groupID string) ([]string, error) {
	g, err := uuid.Parse(groupID)
	if err != nil {
		return nil, chat.ErrGroupNotFound
	}

	var creator uuid.UUID
	err = d.db.QueryRowContext(ctx, `SELECT created_by FROM groups WHERE id = $1`, g).Scan(&creator)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, chat.ErrGroupNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load group: %w", err)
	}

	rows, err := d.db.QueryContext(ctx, `
		SELECT user_id FROM group_members
		WHERE group_id = $1 AND role = 'admin' AND user_id <> $2
		ORDER BY joined_at
	`, g, creator)
	if err != nil {
		return nil, fmt.Errorf("load group admins: %w", err)
	}
	defer rows.Close()

	admins := []string{creator.String()}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		admins = append(admins, id.String())
	}
	return admins, rows.Err()
}

// GroupMembers lists the creator and every member with their usernames.
func (d *GroupDirectory) GroupMembers(ctx context.Context, groupID string) ([]chat.Member, error) {
	g, err := uuid.Parse(groupID)
	if err != nil {
		return nil, chat.ErrGroupNotFound
	}

	rows, err := d.db.QueryContext(ctx, `
		SELECT u.id, u.username
		FROM groups g
		JOIN users u ON u.id = g.created_by
		WHERE g.id = $1
		UNION
		SELECT u.id, u.username
		FROM group_members gm
		JOIN users u ON u.id = gm.user_id
		WHERE gm.group_id = $1 AND u.is_active
		ORDER BY 2
	`, g)
	if err != nil {
		return nil, fmt.Errorf("load group members: %w", err)
	}
	defer rows.Close()

	var members []chat.Member
	for rows.Next() {
		var (
			id       uuid.UUID
			username string
		)
		if err := rows.Scan(&id, &username); err != nil {
			return nil, err
		}
		members = append(members, chat.Member{UserID: id.String(), Username: username})
	}
	return members, rows.Err()
}

// Username resolves the display name of an active user.
func (d *GroupDirectory) Username(ctx context.Context, userID string) (string, error) {
	u, err := uuid.Parse(userID)
	if err != nil {
		return "", chat.ErrUserNotFound
	}

	var username string
	err = d.db.QueryRowContext(ctx, `SELECT username FROM users WHERE id = $1 AND is_active`, u).Scan(&username)
	if errors.Is(err, sql.ErrNoRows) {
		return "", chat.ErrUserNotFound
	}
	if err != nil {
		return "", fmt.Errorf("load user: %w", err)
	}
	return username, nil
}
