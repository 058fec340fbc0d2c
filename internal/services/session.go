package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/AnshRaj112/studycrew-backend/internal/auth"
)

const (
	// SessionDuration is 7 days
	SessionDuration = 7 * 24 * time.Hour
	// SessionKeyPrefix is the Redis key prefix for sessions
	SessionKeyPrefix = "session:"
	// UserSessionKeyPrefix is the Redis key prefix for user->session mapping
	UserSessionKeyPrefix = "user_session:"
)

// SessionStore holds opaque session tokens in Redis. It authenticates socket
// connections made with a session token instead of a JWT.
type SessionStore struct {
	rdb *redis.Client
}

func NewSessionStore(rdb *redis.Client) *SessionStore {
	return &SessionStore{rdb: rdb}
}

// CreateSession creates a new session for a user, replacing any previous one.
func (s *SessionStore) CreateSession(ctx context.Context, userID uuid.UUID) (string, error) {
	if err := s.InvalidateUserSessions(ctx, userID); err != nil {
		return "", err
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	sessionToken := base64.URLEncoding.EncodeToString(tokenBytes)

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, SessionKeyPrefix+sessionToken, userID.String(), SessionDuration)
	pipe.Set(ctx, UserSessionKeyPrefix+userID.String(), sessionToken, SessionDuration)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", err
	}
	return sessionToken, nil
}

// ValidateSession checks if a session token is valid and returns the user ID.
func (s *SessionStore) ValidateSession(ctx context.Context, sessionToken string) (uuid.UUID, bool, error) {
	if sessionToken == "" {
		return uuid.Nil, false, nil
	}

	userIDStr, err := s.rdb.Get(ctx, SessionKeyPrefix+sessionToken).Result()
	if errors.Is(err, redis.Nil) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, err
	}

	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		return uuid.Nil, false, err
	}
	return userID, true, nil
}

// InvalidateSession removes a session from Redis.
func (s *SessionStore) InvalidateSession(ctx context.Context, sessionToken string) error {
	if sessionToken == "" {
		return nil
	}

	sessionKey := SessionKeyPrefix + sessionToken
	userIDStr, err := s.rdb.Get(ctx, sessionKey).Result()
	if err == nil && userIDStr != "" {
		s.rdb.Del(ctx, UserSessionKeyPrefix+userIDStr)
	}
	return s.rdb.Del(ctx, sessionKey).Err()
}

// InvalidateUserSessions removes the current session of a user.
func (s *SessionStore) InvalidateUserSessions(ctx context.Context, userID uuid.UUID) error {
	userSessionKey := UserSessionKeyPrefix + userID.String()

	sessionToken, err := s.rdb.Get(ctx, userSessionKey).Result()
	if err == nil && sessionToken != "" {
		s.rdb.Del(ctx, SessionKeyPrefix+sessionToken)
	}
	return s.rdb.Del(ctx, userSessionKey).Err()
}

// Authenticate implements auth.Authenticator.
func (s *SessionStore) Authenticate(ctx context.Context, token string) (auth.Identity, error) {
	userID, ok, err := s.ValidateSession(ctx, auth.StripScheme(token))
	if err != nil {
		return auth.Identity{}, fmt.Errorf("validate session: %w", err)
	}
	if !ok {
		return auth.Identity{}, auth.ErrInvalidToken
	}
	return auth.Identity{UserID: userID.String()}, nil
}
