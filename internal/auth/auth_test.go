package auth

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripScheme(t *testing.T) {
	assert.Equal(t, "abc", StripScheme("Bearer abc"))
	assert.Equal(t, "abc", StripScheme("bearer   abc "))
	assert.Equal(t, "abc", StripScheme("abc"))
	assert.Equal(t, "", StripScheme("  "))
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws/chat?token=fromquery", nil)
	assert.Equal(t, "fromquery", TokenFromRequest(r))

	r.Header.Set("Authorization", "Bearer fromheader")
	assert.Equal(t, "fromheader", TokenFromRequest(r))
}

func TestJWTAuthenticator(t *testing.T) {
	a := NewJWTAuthenticator("secret")

	token, err := a.IssueToken("u1", "alice", time.Hour)
	require.NoError(t, err)

	id, err := a.Authenticate(context.Background(), "Bearer "+token)
	require.NoError(t, err)
	assert.Equal(t, Identity{UserID: "u1", Username: "alice"}, id)
}

func TestJWTAuthenticatorRejects(t *testing.T) {
	a := NewJWTAuthenticator("secret")
	other := NewJWTAuthenticator("other-secret")

	expired := NewJWTAuthenticator("secret")
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expiredToken, err := expired.IssueToken("u1", "alice", time.Hour)
	require.NoError(t, err)

	forged, err := other.IssueToken("u1", "alice", time.Hour)
	require.NoError(t, err)

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"id": "u1"}).SignedString([]byte("secret"))
	require.NoError(t, err)

	noUser, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	for name, token := range map[string]string{
		"expired":  expiredToken,
		"forged":   forged,
		"no exp":   noExp,
		"no user":  noUser,
		"garbage":  "not-a-jwt",
		"no token": "",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := a.Authenticate(context.Background(), token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestJWTAuthenticatorClaimFallbacks(t *testing.T) {
	a := NewJWTAuthenticator("secret")
	exp := time.Now().Add(time.Hour).Unix()

	for claim, want := range map[string]string{"userId": "u2", "sub": "u3"} {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{claim: want, "exp": exp}).SignedString([]byte("secret"))
		require.NoError(t, err)

		id, err := a.Authenticate(context.Background(), token)
		require.NoError(t, err)
		assert.Equal(t, want, id.UserID)
	}
}

type staticAuth struct {
	token string
	id    Identity
	err   error
}

func (s staticAuth) Authenticate(ctx context.Context, token string) (Identity, error) {
	if s.err != nil {
		return Identity{}, s.err
	}
	if token != s.token {
		return Identity{}, ErrInvalidToken
	}
	return s.id, nil
}

func TestChain(t *testing.T) {
	chain := Chain{
		staticAuth{token: "a", id: Identity{UserID: "ua"}},
		staticAuth{token: "b", id: Identity{UserID: "ub"}},
	}

	id, err := chain.Authenticate(context.Background(), "Bearer b")
	require.NoError(t, err)
	assert.Equal(t, "ub", id.UserID)

	_, err = chain.Authenticate(context.Background(), "c")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = chain.Authenticate(context.Background(), "")
	assert.ErrorIs(t, err, ErrMissingToken)

	backendDown := errors.New("redis: connection refused")
	_, err = Chain{staticAuth{err: backendDown}}.Authenticate(context.Background(), "x")
	assert.ErrorIs(t, err, backendDown)
}

func TestIdentityContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	ctx := WithIdentity(context.Background(), Identity{UserID: "u1"})
	id, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "u1", id.UserID)
}
