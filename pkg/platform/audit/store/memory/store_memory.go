package memory

import (
	"context"
	"sync"

	"cleanpoints/pkg/domain"
	audit "cleanpoints/pkg/platform/audit"
)

// InMemoryStore keeps events in arrival order. It backs the kiosk when no
// Kafka brokers are configured and serves as the Kafka store's fallback.
type InMemoryStore struct {
	mu     sync.RWMutex
	events []audit.Event
	limit  int
}

// NewInMemoryStore keeps at most limit events, dropping the oldest. Zero
// means unbounded.
func NewInMemoryStore(limit int) *InMemoryStore {
	return &InMemoryStore{limit: limit}
}

func (s *InMemoryStore) Append(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	if s.limit > 0 && len(s.events) > s.limit {
		s.events = append([]audit.Event(nil), s.events[len(s.events)-s.limit:]...)
	}
	return nil
}

func (s *InMemoryStore) ListByUser(_ context.Context, userID domain.UserID) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []audit.Event
	for _, e := range s.events {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *InMemoryStore) ListBySession(_ context.Context, sessionID string) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []audit.Event
	for _, e := range s.events {
		if e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	return out, nil
}

// ListRecent returns up to limit of the newest events, oldest first.
func (s *InMemoryStore) ListRecent(_ context.Context, limit int) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	start := 0
	if limit > 0 && len(s.events) > limit {
		start = len(s.events) - limit
	}
	return append([]audit.Event(nil), s.events[start:]...), nil
}

func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}
