package checkpoint

import (
	"context"
	"sync"
	"time"
)

// MemStore is an in-memory Store. Checkpoints are lost when the
// process terminates, so it suits tests and throwaway runs only.
type MemStore struct {
	mu  sync.RWMutex
	cps map[string]Checkpoint
}

// NewMemStore creates an empty in-memory checkpoint store.
func NewMemStore() *MemStore {
	return &MemStore{cps: make(map[string]Checkpoint)}
}

// Save overwrites the checkpoint for cp.TaskID.
func (s *MemStore) Save(_ context.Context, cp Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp.UpdatedAt = time.Now().UTC()
	s.cps[cp.TaskID] = cp
	return nil
}

// Load returns the checkpoint for taskID, or ErrNotFound.
func (s *MemStore) Load(_ context.Context, taskID string) (Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.cps[taskID]
	if !ok {
		return Checkpoint{}, ErrNotFound
	}
	return cp, nil
}

// Delete removes the checkpoint for taskID.
func (s *MemStore) Delete(_ context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cps, taskID)
	return nil
}
