package transcript

import (
	"context"
	"sync"
)

// MemoryStore keeps transcripts in process memory. It is the default
// store; conversations disappear with the process.
type MemoryStore struct {
	mu    sync.RWMutex
	turns map[string][]Turn
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{turns: make(map[string][]Turn)}
}

// Append adds a turn to the conversation's log.
func (s *MemoryStore) Append(_ context.Context, conversationID string, turn Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns[conversationID] = append(s.turns[conversationID], turn)
	return nil
}

// Turns returns a copy of the conversation's log in append order.
// Callers cannot mutate stored turns through the returned slice.
func (s *MemoryStore) Turns(_ context.Context, conversationID string) ([]Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored := s.turns[conversationID]
	out := make([]Turn, len(stored))
	copy(out, stored)
	return out, nil
}
