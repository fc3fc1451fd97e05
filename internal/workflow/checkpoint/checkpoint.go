// Package checkpoint persists workflow snapshots across the approval
// suspension point and across process restarts.
//
// A checkpoint records the serialized workflow state together with the
// stage to execute next. At most one live checkpoint exists per task;
// Save overwrites atomically. Backends: in-memory (tests,
// single-process runs), redis (shared deployments, key
// "checkpoint:{id}") and sqlite (embedded single-process deployments).
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when no checkpoint exists for a task.
var ErrNotFound = errors.New("checkpoint not found")

// Suspension describes why a workflow paused and what a human reviewer
// needs in order to answer. It is surfaced to the API layer and stored
// with the checkpoint.
type Suspension struct {
	Question string `json:"question"`
	TaskID   string `json:"task_id"`
	Draft    string `json:"draft"`
}

// Checkpoint is the durable snapshot of a workflow at a stage
// boundary. State is kept serialized so this package stays independent
// of the engine's state type.
type Checkpoint struct {
	TaskID string `json:"task_id"`

	// Stage is the resume cursor: the stage to execute next.
	Stage string `json:"stage"`

	// State is the JSON-encoded workflow state.
	State json.RawMessage `json:"state"`

	// Suspension is set only while the workflow is paused at the
	// approval stage.
	Suspension *Suspension `json:"suspension,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists checkpoints keyed by task id.
type Store interface {
	// Save overwrites the checkpoint for cp.TaskID atomically.
	Save(ctx context.Context, cp Checkpoint) error

	// Load returns the live checkpoint for a task, or ErrNotFound.
	Load(ctx context.Context, taskID string) (Checkpoint, error)

	// Delete removes the checkpoint for a task. Deleting a missing
	// checkpoint is not an error.
	Delete(ctx context.Context, taskID string) error
}

// Key returns the storage key for a task's checkpoint.
func Key(taskID string) string {
	return "checkpoint:" + taskID
}
