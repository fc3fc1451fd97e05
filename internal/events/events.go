// Package events is the engine's observability side channel. The
// engine reports stage boundaries, suspensions and failures as Events;
// pluggable Emitters forward them to structured logs, OpenTelemetry
// spans and Prometheus metrics.
//
// Emitters must be safe for concurrent use and must never block or
// panic: the execution plane calls Emit inline between stages.
package events

// Type classifies an event.
type Type string

// Event types emitted by the workflow engine.
const (
	TypeRunStarted     Type = "run_started"
	TypeStageStarted   Type = "stage_started"
	TypeStageCompleted Type = "stage_completed"
	TypeStageFailed    Type = "stage_failed"
	TypeSuspended      Type = "suspended"
	TypeResumed        Type = "resumed"
	TypeRunCompleted   Type = "run_completed"
)

// Event is a single observation from workflow execution.
type Event struct {
	Type   Type   `json:"type"`
	TaskID string `json:"task_id"`

	// Stage names the stage this event concerns; empty for
	// run-level events.
	Stage string `json:"stage,omitempty"`

	// Err carries the failure for TypeStageFailed events.
	Err error `json:"-"`

	// Duration in milliseconds, set on stage_completed and
	// stage_failed events.
	DurationMS int64 `json:"duration_ms,omitempty"`
}

// Emitter receives events from workflow execution.
type Emitter interface {
	Emit(Event)
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(Event)

// Emit implements Emitter.
func (f EmitterFunc) Emit(e Event) { f(e) }

// multi fans one event out to several emitters in order.
type multi []Emitter

// Fanout combines emitters into one; nils are skipped.
func Fanout(emitters ...Emitter) Emitter {
	out := make(multi, 0, len(emitters))
	for _, e := range emitters {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}

// Emit implements Emitter.
func (m multi) Emit(e Event) {
	for _, emitter := range m {
		emitter.Emit(e)
	}
}
