package chat

import (
	"context"
	"errors"
)

// requireMember is the membership gate for joins, sends and history reads.
func (s *Service) requireMember(ctx context.Context, userID, groupID string) error {
	ok, err := s.groups.IsMember(ctx, userID, groupID)
	if err != nil {
		if errors.Is(err, ErrGroupNotFound) {
			return NotFoundError("group not found")
		}
		return internalError("failed to verify group membership", err)
	}
	if !ok {
		return AuthorizationError(msgNotMember)
	}
	return nil
}

// isGroupAdmin reports whether userID administers the group.
func (s *Service) isGroupAdmin(ctx context.Context, userID, groupID string) (bool, error) {
	admins, err := s.groups.GroupAdmins(ctx, groupID)
	if err != nil {
		if errors.Is(err, ErrGroupNotFound) {
			return false, NotFoundError("group not found")
		}
		return false, internalError("failed to load group admins", err)
	}
	for _, id := range admins {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}
