package session

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cleanpoints/pkg/domain"
	dErrors "cleanpoints/pkg/domain-errors"
	"cleanpoints/pkg/platform/sentinel"
)

func signed(t *testing.T, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "7",
		"exp": exp.Unix(),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return tok
}

func TestInMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	_, err := s.Token(ctx)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
	_, err = s.Profile(ctx)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)

	require.NoError(t, s.SetToken(ctx, "abc"))
	require.NoError(t, s.SetProfile(ctx, Profile{ID: 7, Nombre: "Ana", CleanPoints: 120}))

	tok, err := s.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)

	id, err := Users{Store: s}.CurrentUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.UserID(7), id)

	require.NoError(t, s.ClearToken(ctx))
	_, err = s.Token(ctx)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
	_, err = s.Profile(ctx)
	assert.NoError(t, err, "clearing the token keeps the profile")

	require.NoError(t, s.Clear(ctx))
	_, err = CurrentUser(ctx, s)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthenticated))
}

func TestCurrentUserRejectsZeroID(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	require.NoError(t, s.SetProfile(ctx, Profile{Nombre: "anon"}))

	_, err := CurrentUser(ctx, s)
	assert.ErrorIs(t, err, ErrNoUser)
}

func TestTokenExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("jwt with exp", func(t *testing.T) {
		tok := signed(t, now.Add(time.Hour))
		exp, ok := TokenExpiry(tok)
		require.True(t, ok)
		assert.Equal(t, now.Add(time.Hour).Unix(), exp.Unix())
		assert.False(t, Expired(tok, now))
		assert.True(t, Expired(tok, now.Add(2*time.Hour)))
	})

	t.Run("opaque token never expires locally", func(t *testing.T) {
		_, ok := TokenExpiry("not-a-jwt")
		assert.False(t, ok)
		assert.False(t, Expired("not-a-jwt", now))
	})
}
