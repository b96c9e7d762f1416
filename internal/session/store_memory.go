package session

import (
	"context"
	"fmt"
	"sync"

	"cleanpoints/pkg/platform/sentinel"
)

// InMemoryStore keeps the session in process. Used when Redis is not
// configured and in tests.
type InMemoryStore struct {
	mu      sync.RWMutex
	token   string
	profile *Profile
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Token(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == "" {
		return "", fmt.Errorf("token: %w", sentinel.ErrNotFound)
	}
	return s.token, nil
}

func (s *InMemoryStore) SetToken(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	return nil
}

func (s *InMemoryStore) ClearToken(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	return nil
}

func (s *InMemoryStore) Profile(_ context.Context) (Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.profile == nil {
		return Profile{}, fmt.Errorf("profile: %w", sentinel.ErrNotFound)
	}
	return *s.profile, nil
}

func (s *InMemoryStore) SetProfile(_ context.Context, p Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profile = &p
	return nil
}

func (s *InMemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.profile = nil
	return nil
}
