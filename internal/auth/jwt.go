package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTAuthenticator verifies HS256 tokens issued by the account service. The
// user id is read from the "id", "userId" or "sub" claim, in that order.
type JWTAuthenticator struct {
	secret []byte
	now    func() time.Time
}

func NewJWTAuthenticator(secret string) *JWTAuthenticator {
	return &JWTAuthenticator{secret: []byte(secret), now: time.Now}
}

type userClaims struct {
	ID       string `json:"id,omitempty"`
	UserID   string `json:"userId,omitempty"`
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

func (c userClaims) userID() string {
	switch {
	case c.ID != "":
		return c.ID
	case c.UserID != "":
		return c.UserID
	}
	return c.Subject
}

func (a *JWTAuthenticator) Authenticate(ctx context.Context, token string) (Identity, error) {
	if len(a.secret) == 0 {
		return Identity{}, ErrInvalidToken
	}

	var claims userClaims
	_, err := jwt.ParseWithClaims(StripScheme(token), &claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	userID := claims.userID()
	if userID == "" {
		return Identity{}, fmt.Errorf("%w: no user id claim", ErrInvalidToken)
	}
	return Identity{UserID: userID, Username: claims.Username}, nil
}

// IssueToken signs a token for userID. Used by tests and tooling; production
// tokens come from the account service.
func (a *JWTAuthenticator) IssueToken(userID, username string, ttl time.Duration) (string, error) {
	now := a.now()
	claims := userClaims{
		ID:       userID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}
