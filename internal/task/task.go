// Package task defines the durable task record and its status machine.
// Task records are the system of record for what a task is and where it
// stands; workflow checkpoints and the workspace carry the transient
// execution state.
package task

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no task exists for an id.
var ErrNotFound = errors.New("task: not found")

// ErrInvalidTransition is returned when a status change would violate
// the lifecycle machine.
var ErrInvalidTransition = errors.New("task: invalid status transition")

// Status is a task lifecycle state. Values are stored uppercase.
type Status string

const (
	StatusPending          Status = "PENDING"
	StatusRunning          Status = "RUNNING"
	StatusResearching      Status = "RESEARCHING"
	StatusWriting          Status = "WRITING"
	StatusAwaitingApproval Status = "AWAITING_APPROVAL"
	StatusResumed          Status = "RESUMED"
	StatusCompleted        Status = "COMPLETED"
	StatusFailed           Status = "FAILED"
)

// transitions is the lifecycle machine. Failed is reachable from every
// non-terminal status and is handled in CanTransitionTo rather than
// listed per row.
var transitions = map[Status][]Status{
	StatusPending:          {StatusRunning},
	StatusRunning:          {StatusResearching},
	StatusResearching:      {StatusWriting},
	StatusWriting:          {StatusAwaitingApproval},
	StatusAwaitingApproval: {StatusResumed},
	StatusResumed:          {StatusCompleted},
}

// IsTerminal reports whether no transition leaves this status.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo reports whether the lifecycle machine permits moving
// from s to next.
func (s Status) CanTransitionTo(next Status) bool {
	if s.IsTerminal() {
		return false
	}
	if next == StatusFailed {
		return true
	}
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// LogEntry is one line of a task's activity log.
type LogEntry struct {
	Agent     string    `json:"agent_name"`
	Action    string    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
}

// Task is a durable task record.
type Task struct {
	ID          uuid.UUID  `json:"task_id"`
	Prompt      string     `json:"prompt"`
	Status      Status     `json:"status"`
	Result      string     `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	ActivityLog []LogEntry `json:"activity_log"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Store persists task records. Implementations serialize concurrent
// writers per row; status changes that violate the lifecycle machine
// fail with ErrInvalidTransition.
type Store interface {
	Create(ctx context.Context, prompt string) (Task, error)
	Get(ctx context.Context, id uuid.UUID) (Task, error)
	SetStatus(ctx context.Context, id uuid.UUID, status Status) error
	SetResult(ctx context.Context, id uuid.UUID, result string, status Status) error
	SetError(ctx context.Context, id uuid.UUID, msg string) error
	AppendLog(ctx context.Context, id uuid.UUID, agent, action string) error
}
