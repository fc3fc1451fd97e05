// Package workspace provides the shared scratchpad agents use to pass
// intermediate artifacts between stages. The canonical backend is Redis
// with a 24 hour expiry; an in-memory variant backs tests and single
// process runs.
package workspace

import (
	"context"
	"errors"
	"time"
)

// TTL is how long a scratchpad survives after its last write.
const TTL = 24 * time.Hour

// ErrNotFound is returned when a task has no workspace.
var ErrNotFound = errors.New("workspace: not found")

// Store is a per-task scratchpad. Save shallow-merges fields into the
// existing workspace and refreshes the expiry.
type Store interface {
	Save(ctx context.Context, taskID string, fields map[string]any) error
	Load(ctx context.Context, taskID string) (map[string]any, error)
	Delete(ctx context.Context, taskID string) error
}

// Key returns the backing key for a task's workspace.
func Key(taskID string) string {
	return "task:" + taskID + ":workspace"
}

// merge overlays delta onto base, overwriting colliding keys.
func merge(base, delta map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(delta))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range delta {
		out[k] = v
	}
	return out
}
