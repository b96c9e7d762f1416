package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"cleanpoints/pkg/platform/sentinel"
)

const (
	tokenKey   = "token"
	profileKey = "profile"
)

// RedisStore keeps the session in Redis so a restarted kiosk process picks up
// the signed-in user. Tokens with an exp claim get a matching key TTL.
type RedisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

type RedisOption func(*RedisStore)

func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

func WithRedisClock(now func() time.Time) RedisOption {
	return func(s *RedisStore) {
		s.now = now
	}
}

func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client: client,
		prefix: "cleanpoints:session:",
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *RedisStore) key(name string) string {
	return s.prefix + name
}

func (s *RedisStore) Token(ctx context.Context) (string, error) {
	tok, err := s.client.Get(ctx, s.key(tokenKey)).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("token: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("reading token: %w", err)
	}
	return tok, nil
}

func (s *RedisStore) SetToken(ctx context.Context, token string) error {
	var ttl time.Duration
	if exp, ok := TokenExpiry(token); ok {
		ttl = exp.Sub(s.now())
		if ttl <= 0 {
			return s.ClearToken(ctx)
		}
	}
	if err := s.client.Set(ctx, s.key(tokenKey), token, ttl).Err(); err != nil {
		return fmt.Errorf("writing token: %w", err)
	}
	return nil
}

func (s *RedisStore) ClearToken(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key(tokenKey)).Err(); err != nil {
		return fmt.Errorf("deleting token: %w", err)
	}
	return nil
}

func (s *RedisStore) Profile(ctx context.Context) (Profile, error) {
	raw, err := s.client.Get(ctx, s.key(profileKey)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Profile{}, fmt.Errorf("profile: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return Profile{}, fmt.Errorf("reading profile: %w", err)
	}
	var p Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		return Profile{}, fmt.Errorf("decoding profile: %w", err)
	}
	return p, nil
}

func (s *RedisStore) SetProfile(ctx context.Context, p Profile) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encoding profile: %w", err)
	}
	if err := s.client.Set(ctx, s.key(profileKey), raw, 0).Err(); err != nil {
		return fmt.Errorf("writing profile: %w", err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.key(tokenKey))
	pipe.Del(ctx, s.key(profileKey))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("clearing session: %w", err)
	}
	return nil
}
