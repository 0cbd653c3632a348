package store

import (
	"context"
	"sort"
	"sync"

	"leveraged/internal/core"
)

// MemoryStore implements core.IStateStore in memory
type MemoryStore struct {
	states map[string]core.StateSnapshot
	mu     sync.RWMutex
}

var _ core.IStateStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states: make(map[string]core.StateSnapshot),
	}
}

func (s *MemoryStore) SaveState(ctx context.Context, snapshot *core.StateSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *snapshot
	cp.Data = append([]byte(nil), snapshot.Data...)
	s.states[snapshot.ID] = cp
	return nil
}

func (s *MemoryStore) LoadState(ctx context.Context, id string) (*core.StateSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[id]
	if !ok {
		return nil, nil
	}
	st.Data = append([]byte(nil), st.Data...)
	return &st, nil
}

func (s *MemoryStore) ListStates(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.states))
	for id := range s.states {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
