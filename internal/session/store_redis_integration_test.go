//go:build integration

package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/suite"

	"cleanpoints/internal/session"
	"cleanpoints/pkg/platform/sentinel"
	"cleanpoints/pkg/testutil/containers"
)

// =============================================================================
// Redis Session Store Integration Suite
// =============================================================================
// Justification for integration tests: key expiry and the MULTI/EXEC clear
// only behave like production against a real Redis.

type RedisStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *session.RedisStore
}

func TestRedisStoreSuite(t *testing.T) {
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	s.redis = containers.NewRedisContainer(s.T())
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
	s.store = session.NewRedisStore(s.redis.Client, session.WithKeyPrefix("test:"))
}

func (s *RedisStoreSuite) TestRoundTrip() {
	ctx := context.Background()

	s.Require().NoError(s.store.SetToken(ctx, "opaque-token"))
	s.Require().NoError(s.store.SetProfile(ctx, session.Profile{ID: 3, Nombre: "Luz", CleanPoints: 40}))

	tok, err := s.store.Token(ctx)
	s.Require().NoError(err)
	s.Equal("opaque-token", tok)

	p, err := s.store.Profile(ctx)
	s.Require().NoError(err)
	s.Equal("Luz", p.Nombre)
	s.Equal(40, p.CleanPoints)

	s.Equal(int64(2), s.redis.Keys(ctx, "test:*"))

	s.Require().NoError(s.store.Clear(ctx))
	_, err = s.store.Token(ctx)
	s.ErrorIs(err, sentinel.ErrNotFound)
	_, err = s.store.Profile(ctx)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *RedisStoreSuite) TestJWTGetsKeyTTL() {
	ctx := context.Background()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("k"))
	s.Require().NoError(err)

	s.Require().NoError(s.store.SetToken(ctx, tok))
	ttl := s.redis.Client.TTL(ctx, "test:token").Val()
	s.Greater(ttl, 50*time.Minute)
	s.LessOrEqual(ttl, time.Hour)
}

func (s *RedisStoreSuite) TestExpiredJWTIsNotStored() {
	ctx := context.Background()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(-time.Minute).Unix(),
	}).SignedString([]byte("k"))
	s.Require().NoError(err)

	s.Require().NoError(s.store.SetToken(ctx, tok))
	_, err = s.store.Token(ctx)
	s.ErrorIs(err, sentinel.ErrNotFound)
}
