package checkpoint

import (
	"context"
	"sync"
)

// MemoryStore keeps the checkpoint for the lifetime of the process. It is
// the default when no checkpoint URI is configured.
type MemoryStore struct {
	state State
	saves int
	mu    sync.RWMutex
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load returns the last saved state.
func (s *MemoryStore) Load(ctx context.Context) (State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state, nil
}

// Save replaces the stored state.
func (s *MemoryStore) Save(ctx context.Context, state State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	s.saves++
	return nil
}

// Saves returns how many times Save was called.
func (s *MemoryStore) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}
