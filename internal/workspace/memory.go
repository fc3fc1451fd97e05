package workspace

import (
	"context"
	"sync"
)

// MemStore is an in-process Store for tests and single-node runs.
// It does not expire entries.
type MemStore struct {
	mu   sync.RWMutex
	data map[string]map[string]any
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{data: make(map[string]map[string]any)}
}

func (s *MemStore) Save(_ context.Context, taskID string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[taskID] = merge(s.data[taskID], fields)
	return nil
}

func (s *MemStore) Load(_ context.Context, taskID string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fields, ok := s.data[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	return merge(nil, fields), nil
}

func (s *MemStore) Delete(_ context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, taskID)
	return nil
}
