package transcript

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// maxTurnsPerUser bounds in-process history.
const maxTurnsPerUser = 500

type InMemoryStore struct {
	mu    sync.RWMutex
	turns map[string][]Turn
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{turns: make(map[string][]Turn)}
}

func (s *InMemoryStore) SaveTurn(_ context.Context, turn Turn) error {
	normalize(&turn)
	s.mu.Lock()
	defer s.mu.Unlock()
	arr := append(s.turns[turn.UserID], turn)
	if len(arr) > maxTurnsPerUser {
		arr = append([]Turn(nil), arr[len(arr)-maxTurnsPerUser:]...)
	}
	s.turns[turn.UserID] = arr
	return nil
}

func (s *InMemoryStore) Recent(_ context.Context, userID string, limit int) ([]Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.turns[userID]
	if len(arr) == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > len(arr) {
		limit = len(arr)
	}
	out := make([]Turn, limit)
	copy(out, arr[len(arr)-limit:])
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }

func normalize(turn *Turn) {
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
}
