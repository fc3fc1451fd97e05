// Package dispatch moves engine invocations off the request path. A
// broker queues commands; a pool of workers consumes them, serializing
// commands per task and retrying transient failures with backoff.
package dispatch

import (
	"github.com/AkhileshMalthi/taskflow/internal/workflow"
)

// Kind discriminates the two command variants.
type Kind string

const (
	KindRun    Kind = "run"
	KindResume Kind = "resume"
)

// Command asks a worker to start or resume a task's workflow.
type Command struct {
	Kind     Kind               `json:"kind"`
	TaskID   string             `json:"task_id"`
	Prompt   string             `json:"prompt,omitempty"`
	Approval *workflow.Approval `json:"approval,omitempty"`
}

// Run builds a start command.
func Run(taskID, prompt string) Command {
	return Command{Kind: KindRun, TaskID: taskID, Prompt: prompt}
}

// Resume builds a resume command carrying the human's decision.
func Resume(taskID string, approval workflow.Approval) Command {
	return Command{Kind: KindResume, TaskID: taskID, Approval: &approval}
}
