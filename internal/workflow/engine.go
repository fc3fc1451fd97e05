package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/AkhileshMalthi/taskflow/internal/events"
	"github.com/AkhileshMalthi/taskflow/internal/workflow/checkpoint"
)

// The question surfaced with every suspension descriptor.
const approvalQuestion = "Do you approve this draft?"

// Engine errors.
var (
	// ErrStageNotRegistered means Run was called before every
	// non-approval stage had a handler.
	ErrStageNotRegistered = errors.New("stage not registered")

	// ErrNoCheckpoint means Resume found no checkpoint for the task.
	ErrNoCheckpoint = errors.New("no checkpoint for task")
)

// Status is the disposition of a finished engine invocation.
type Status string

// Run and Resume outcomes.
const (
	StatusSuspended Status = "suspended"
	StatusCompleted Status = "completed"
	StatusRejected  Status = "rejected"
)

// Outcome is what an engine invocation produced. A suspended outcome
// carries the descriptor the approver needs; terminal outcomes carry
// the final state.
type Outcome struct {
	Status Status

	// Suspension is set only when Status is StatusSuspended.
	Suspension *checkpoint.Suspension

	// State is the workflow state at return.
	State State
}

// Suspended reports whether the workflow paused for approval.
func (o Outcome) Suspended() bool { return o.Status == StatusSuspended }

// Engine executes the fixed stage graph with checkpointing.
//
// Before entering any stage the engine commits a checkpoint recording
// the stage about to run and the state it will receive, so a process
// kill mid-stage resumes from that boundary. The approval stage never
// executes a handler: the engine checkpoints a suspension descriptor
// and returns; Resume later loads the checkpoint, injects the approval
// payload and routes to finalize or rejected. Checkpoints are deleted
// when a terminal stage completes — a task in AwaitingApproval is the
// only one holding a live checkpoint once its run returns.
type Engine struct {
	handlers    map[Stage]StageFunc
	checkpoints checkpoint.Store
	emitter     events.Emitter
}

// NewEngine creates an engine persisting to cps and reporting to
// emitter (nil emitter discards events). Stage handlers are registered
// with Register before the first Run.
func NewEngine(cps checkpoint.Store, emitter events.Emitter) *Engine {
	if emitter == nil {
		emitter = events.Fanout()
	}
	return &Engine{
		handlers:    make(map[Stage]StageFunc),
		checkpoints: cps,
		emitter:     emitter,
	}
}

// Register binds a handler to a stage. The approval stage takes no
// handler; every other stage must have one before Run.
func (e *Engine) Register(stage Stage, fn StageFunc) error {
	if !stage.Valid() {
		return fmt.Errorf("unknown stage %q", stage)
	}
	if stage == StageApproval {
		return fmt.Errorf("approval stage is built in and takes no handler")
	}
	if fn == nil {
		return fmt.Errorf("nil handler for stage %q", stage)
	}
	e.handlers[stage] = fn
	return nil
}

// Run begins a new execution for taskID and drives it until it
// suspends at approval, completes, or a stage fails. A stage failure
// is returned as an error with the checkpoint left at the failed
// stage's entry; the caller may retry by re-running the command.
func (e *Engine) Run(ctx context.Context, taskID, prompt string) (Outcome, error) {
	if err := e.validate(); err != nil {
		return Outcome{}, err
	}
	e.emitter.Emit(events.Event{Type: events.TypeRunStarted, TaskID: taskID})
	state := State{TaskID: taskID, Prompt: prompt}
	return e.loop(ctx, taskID, StageResearch, state)
}

// Resume continues an execution from its checkpoint. Parked at
// approval, the payload routes the workflow to finalize (approved) or
// rejected. Parked anywhere else, the checkpoint records a stage entry
// that never completed (a crash or transient failure between commit
// and the stage finishing), so execution picks up from that stage with
// the payload ignored; the recorded state already carries any earlier
// decision.
func (e *Engine) Resume(ctx context.Context, taskID string, payload Approval) (Outcome, error) {
	if err := e.validate(); err != nil {
		return Outcome{}, err
	}

	cp, err := e.checkpoints.Load(ctx, taskID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return Outcome{}, fmt.Errorf("%w: %s", ErrNoCheckpoint, taskID)
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("load checkpoint: %w", err)
	}
	stage := Stage(cp.Stage)
	if !stage.Valid() {
		return Outcome{}, fmt.Errorf("checkpoint for %s records unknown stage %q", taskID, cp.Stage)
	}

	var state State
	if err := json.Unmarshal(cp.State, &state); err != nil {
		return Outcome{}, fmt.Errorf("decode checkpointed state: %w", err)
	}

	e.emitter.Emit(events.Event{Type: events.TypeResumed, TaskID: taskID})
	if stage == StageApproval {
		state = Merge(state, State{Approval: &payload})
		return e.loop(ctx, taskID, routeApproval(payload), state)
	}
	return e.loop(ctx, taskID, stage, state)
}

// loop drives stages from `stage` until suspension or a terminal
// stage. It owns the checkpoint-before-stage discipline.
func (e *Engine) loop(ctx context.Context, taskID string, stage Stage, state State) (Outcome, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Outcome{}, err
		}

		if stage == StageApproval {
			susp := &checkpoint.Suspension{
				Question: approvalQuestion,
				TaskID:   taskID,
				Draft:    state.Draft,
			}
			if err := e.commit(ctx, taskID, stage, state, susp); err != nil {
				return Outcome{}, err
			}
			e.emitter.Emit(events.Event{Type: events.TypeSuspended, TaskID: taskID, Stage: string(stage)})
			return Outcome{Status: StatusSuspended, Suspension: susp, State: state}, nil
		}

		if err := e.commit(ctx, taskID, stage, state, nil); err != nil {
			return Outcome{}, err
		}

		e.emitter.Emit(events.Event{Type: events.TypeStageStarted, TaskID: taskID, Stage: string(stage)})
		started := time.Now()

		delta, err := e.handlers[stage](ctx, state)
		elapsed := time.Since(started).Milliseconds()
		if err != nil {
			e.emitter.Emit(events.Event{
				Type: events.TypeStageFailed, TaskID: taskID,
				Stage: string(stage), Err: err, DurationMS: elapsed,
			})
			return Outcome{}, fmt.Errorf("stage %s: %w", stage, err)
		}

		state = Merge(state, delta)
		e.emitter.Emit(events.Event{
			Type: events.TypeStageCompleted, TaskID: taskID,
			Stage: string(stage), DurationMS: elapsed,
		})

		if terminal(stage) {
			if err := e.checkpoints.Delete(ctx, taskID); err != nil {
				return Outcome{}, fmt.Errorf("release checkpoint: %w", err)
			}
			e.emitter.Emit(events.Event{Type: events.TypeRunCompleted, TaskID: taskID, Stage: string(stage)})
			status := StatusCompleted
			if stage == StageRejected {
				status = StatusRejected
			}
			return Outcome{Status: status, State: state}, nil
		}

		stage = transitions[stage]
	}
}

// commit snapshots the state about to enter `stage`, overwriting any
// previous checkpoint for the task.
func (e *Engine) commit(ctx context.Context, taskID string, stage Stage, state State, susp *checkpoint.Suspension) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	cp := checkpoint.Checkpoint{
		TaskID:     taskID,
		Stage:      string(stage),
		State:      raw,
		Suspension: susp,
	}
	if err := e.checkpoints.Save(ctx, cp); err != nil {
		return fmt.Errorf("commit checkpoint at %s: %w", stage, err)
	}
	return nil
}

// validate ensures every non-approval stage has a handler.
func (e *Engine) validate() error {
	for _, stage := range []Stage{StageResearch, StageWriting, StageFinalize, StageRejected} {
		if _, ok := e.handlers[stage]; !ok {
			return fmt.Errorf("%w: %s", ErrStageNotRegistered, stage)
		}
	}
	return nil
}
