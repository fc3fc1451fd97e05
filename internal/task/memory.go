package task

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is an in-process Store for tests and single-node runs. The
// single mutex serializes writers the way row locks do in PostgreSQL.
type MemStore struct {
	mu    sync.RWMutex
	tasks map[uuid.UUID]*Task
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{tasks: make(map[uuid.UUID]*Task)}
}

func (s *MemStore) Create(_ context.Context, prompt string) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	t := Task{
		ID:          uuid.New(),
		Prompt:      prompt,
		Status:      StatusPending,
		ActivityLog: []LogEntry{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.tasks[t.ID] = &t
	return t, nil
}

func (s *MemStore) Get(_ context.Context, id uuid.UUID) (Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return Task{}, ErrNotFound
	}
	out := *t
	out.ActivityLog = append([]LogEntry(nil), t.ActivityLog...)
	return out, nil
}

func (s *MemStore) SetStatus(_ context.Context, id uuid.UUID, status Status) error {
	return s.update(id, status, func(t *Task) { t.Status = status })
}

func (s *MemStore) SetResult(_ context.Context, id uuid.UUID, result string, status Status) error {
	return s.update(id, status, func(t *Task) {
		t.Status = status
		t.Result = result
	})
}

func (s *MemStore) SetError(_ context.Context, id uuid.UUID, msg string) error {
	return s.update(id, StatusFailed, func(t *Task) {
		t.Status = StatusFailed
		t.Error = msg
	})
}

func (s *MemStore) AppendLog(_ context.Context, id uuid.UUID, agent, action string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return ErrNotFound
	}
	t.ActivityLog = append(t.ActivityLog, LogEntry{
		Agent:     agent,
		Action:    action,
		Timestamp: time.Now().UTC(),
	})
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemStore) update(id uuid.UUID, next Status, apply func(*Task)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return ErrNotFound
	}
	if t.Status != next && !t.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, next)
	}
	apply(t)
	t.UpdatedAt = time.Now().UTC()
	return nil
}
