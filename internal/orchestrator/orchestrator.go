// Package orchestrator ties the engine, task records, workspace, and
// broadcast hub together. It owns the lifecycle side effects around a
// workflow run: status transitions, activity log entries, observer
// events, and cleanup on terminal states.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/AkhileshMalthi/taskflow/internal/agents"
	"github.com/AkhileshMalthi/taskflow/internal/broadcast"
	"github.com/AkhileshMalthi/taskflow/internal/dispatch"
	"github.com/AkhileshMalthi/taskflow/internal/events"
	"github.com/AkhileshMalthi/taskflow/internal/task"
	"github.com/AkhileshMalthi/taskflow/internal/workflow"
	"github.com/AkhileshMalthi/taskflow/internal/workflow/checkpoint"
	"github.com/AkhileshMalthi/taskflow/internal/workspace"
)

// ErrNotAwaitingApproval is returned when an approval arrives for a
// task that is not suspended at the decision point.
var ErrNotAwaitingApproval = errors.New("task is not awaiting approval")

const (
	agentOrchestrator = "Orchestrator"
	agentResearch     = "ResearchAgent"
	agentWriting      = "WritingAgent"
)

// Orchestrator drives tasks through the workflow and keeps the durable
// record in step with what the engine is doing.
type Orchestrator struct {
	tasks  task.Store
	ws     workspace.Store
	cps    checkpoint.Store
	engine *workflow.Engine
	broker dispatch.Broker
	hub    *broadcast.Hub
	log    *slog.Logger
}

// Deps carries the collaborators an Orchestrator needs.
type Deps struct {
	Tasks       task.Store
	Workspace   workspace.Store
	Checkpoints checkpoint.Store
	Broker      dispatch.Broker
	Hub         *broadcast.Hub
	Researcher  *agents.Researcher
	Writer      *agents.Writer
	Emitter     events.Emitter
	Logger      *slog.Logger
}

// New wires an orchestrator and registers the workflow stages.
func New(d Deps) (*Orchestrator, error) {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	o := &Orchestrator{
		tasks:  d.Tasks,
		ws:     d.Workspace,
		cps:    d.Checkpoints,
		broker: d.Broker,
		hub:    d.Hub,
		log:    d.Logger,
	}
	o.engine = workflow.NewEngine(d.Checkpoints, d.Emitter)

	stages := map[workflow.Stage]workflow.StageFunc{
		workflow.StageResearch: func(ctx context.Context, s workflow.State) (workflow.State, error) {
			o.stageStarted(ctx, s.TaskID, task.StatusResearching, agentResearch, "Researching topics")
			return d.Researcher.Run(ctx, s)
		},
		workflow.StageWriting: func(ctx context.Context, s workflow.State) (workflow.State, error) {
			o.stageStarted(ctx, s.TaskID, task.StatusWriting, agentWriting, "Drafting content")
			return d.Writer.Run(ctx, s)
		},
		workflow.StageFinalize: func(ctx context.Context, s workflow.State) (workflow.State, error) {
			if err := o.ws.Delete(ctx, s.TaskID); err != nil {
				o.log.Warn("release workspace", "task_id", s.TaskID, "error", err)
			}
			return workflow.State{Result: s.Draft}, nil
		},
		workflow.StageRejected: func(ctx context.Context, s workflow.State) (workflow.State, error) {
			if err := o.ws.Delete(ctx, s.TaskID); err != nil {
				o.log.Warn("release workspace", "task_id", s.TaskID, "error", err)
			}
			return workflow.State{}, nil
		},
	}
	for stage, fn := range stages {
		if err := o.engine.Register(stage, fn); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// Submit creates a task record and queues its workflow run.
func (o *Orchestrator) Submit(ctx context.Context, prompt string) (task.Task, error) {
	t, err := o.tasks.Create(ctx, prompt)
	if err != nil {
		return task.Task{}, err
	}
	if err := o.broker.Enqueue(ctx, dispatch.Run(t.ID.String(), prompt)); err != nil {
		return task.Task{}, fmt.Errorf("enqueue run: %w", err)
	}
	return t, nil
}

// Get returns the task record.
func (o *Orchestrator) Get(ctx context.Context, id uuid.UUID) (task.Task, error) {
	return o.tasks.Get(ctx, id)
}

// Approve applies a human decision to a task suspended at the approval
// point. An approval resumes the workflow through the queue; a
// rejection is terminal immediately and never re-enters the engine.
func (o *Orchestrator) Approve(ctx context.Context, id uuid.UUID, approved bool, feedback string) (task.Task, error) {
	t, err := o.tasks.Get(ctx, id)
	if err != nil {
		return task.Task{}, err
	}
	if t.Status != task.StatusAwaitingApproval {
		return task.Task{}, fmt.Errorf("%w (current status: %s)", ErrNotAwaitingApproval, t.Status)
	}

	if approved {
		if err := o.tasks.SetStatus(ctx, id, task.StatusResumed); err != nil {
			return task.Task{}, err
		}
		o.broadcastStatus(ctx, id.String(), task.StatusResumed, "")
		if err := o.broker.Enqueue(ctx, dispatch.Resume(id.String(), workflow.Approval{
			Approved: true,
			Feedback: feedback,
		})); err != nil {
			return task.Task{}, fmt.Errorf("enqueue resume: %w", err)
		}
		return o.tasks.Get(ctx, id)
	}

	// Rejection ends the task without re-entering the engine. The
	// feedback becomes the recorded error.
	if feedback == "" {
		feedback = "Approval rejected"
	}
	if err := o.tasks.SetError(ctx, id, feedback); err != nil {
		return task.Task{}, err
	}
	o.appendLog(ctx, id, agentOrchestrator, "Human approval received: Rejected")
	o.release(ctx, id.String())
	o.broadcastStatus(ctx, id.String(), task.StatusFailed, "")
	return o.tasks.Get(ctx, id)
}

// Execute implements dispatch.Executor. It runs or resumes the engine
// and folds the outcome back into the task record.
func (o *Orchestrator) Execute(ctx context.Context, cmd dispatch.Command) error {
	id, err := uuid.Parse(cmd.TaskID)
	if err != nil {
		return fmt.Errorf("parse task id: %w", err)
	}

	var out workflow.Outcome
	switch cmd.Kind {
	case dispatch.KindRun:
		o.setStatus(ctx, id, task.StatusRunning)
		o.appendLog(ctx, id, agentOrchestrator, "Starting workflow execution")
		o.broadcastStatus(ctx, id.String(), task.StatusRunning, "")
		out, err = o.engine.Run(ctx, cmd.TaskID, cmd.Prompt)
	case dispatch.KindResume:
		if cmd.Approval == nil {
			return errors.New("resume command without approval payload")
		}
		o.setStatus(ctx, id, task.StatusResumed)
		decision := "Rejected"
		if cmd.Approval.Approved {
			decision = "Approved"
		}
		o.appendLog(ctx, id, agentOrchestrator, "Human approval received: "+decision)
		out, err = o.engine.Resume(ctx, cmd.TaskID, *cmd.Approval)
	default:
		return fmt.Errorf("unknown command kind %q", cmd.Kind)
	}
	if err != nil {
		return err
	}

	switch out.Status {
	case workflow.StatusSuspended:
		o.setStatus(ctx, id, task.StatusAwaitingApproval)
		o.appendLog(ctx, id, agentOrchestrator, "Awaiting human approval")
		o.broadcastStatus(ctx, id.String(), task.StatusAwaitingApproval, "")
	case workflow.StatusCompleted:
		if err := o.tasks.SetResult(ctx, id, out.State.Result, task.StatusCompleted); err != nil {
			return fmt.Errorf("record result: %w", err)
		}
		o.appendLog(ctx, id, agentOrchestrator, "Workflow completed")
		o.broadcastStatus(ctx, id.String(), task.StatusCompleted, out.State.Result)
	case workflow.StatusRejected:
		msg := "Approval rejected"
		if out.State.Approval != nil && out.State.Approval.Feedback != "" {
			msg = out.State.Approval.Feedback
		}
		if err := o.tasks.SetError(ctx, id, msg); err != nil {
			return fmt.Errorf("record rejection: %w", err)
		}
		o.broadcastStatus(ctx, id.String(), task.StatusFailed, "")
	}
	return nil
}

// Fail implements dispatch.Executor for commands that exhausted their
// retries. The task record gets the final error and transient state is
// released.
func (o *Orchestrator) Fail(ctx context.Context, taskID string, cause error) {
	id, err := uuid.Parse(taskID)
	if err != nil {
		o.log.Error("fail with unparseable task id", "task_id", taskID, "error", err)
		return
	}
	if err := o.tasks.SetError(ctx, id, cause.Error()); err != nil {
		o.log.Error("record failure", "task_id", taskID, "error", err)
	}
	o.release(ctx, taskID)
	o.broadcastStatus(ctx, taskID, task.StatusFailed, "")
}

// stageStarted records a stage transition on the task record. Illegal
// transitions happen on retried runs whose record has already advanced;
// they are logged and skipped rather than failing the stage.
func (o *Orchestrator) stageStarted(ctx context.Context, taskID string, status task.Status, agent, action string) {
	id, err := uuid.Parse(taskID)
	if err != nil {
		o.log.Error("stage with unparseable task id", "task_id", taskID, "error", err)
		return
	}
	o.setStatus(ctx, id, status)
	o.appendLog(ctx, id, agent, action)
	o.hub.Broadcast(broadcast.Event{
		TaskID: taskID,
		Status: string(status),
		Agent:  agent,
		Action: action,
	})
}

func (o *Orchestrator) setStatus(ctx context.Context, id uuid.UUID, status task.Status) {
	err := o.tasks.SetStatus(ctx, id, status)
	if errors.Is(err, task.ErrInvalidTransition) {
		o.log.Debug("skipping status transition", "task_id", id, "to", status, "error", err)
		return
	}
	if err != nil {
		o.log.Error("set status", "task_id", id, "to", status, "error", err)
	}
}

func (o *Orchestrator) appendLog(ctx context.Context, id uuid.UUID, agent, action string) {
	if err := o.tasks.AppendLog(ctx, id, agent, action); err != nil {
		o.log.Error("append activity log", "task_id", id, "error", err)
	}
}

func (o *Orchestrator) broadcastStatus(_ context.Context, taskID string, status task.Status, result string) {
	o.hub.Broadcast(broadcast.Event{
		TaskID: taskID,
		Status: string(status),
		Result: result,
	})
}

// release drops a task's transient state once it reaches a terminal
// status.
func (o *Orchestrator) release(ctx context.Context, taskID string) {
	if err := o.ws.Delete(ctx, taskID); err != nil {
		o.log.Warn("release workspace", "task_id", taskID, "error", err)
	}
	if err := o.cps.Delete(ctx, taskID); err != nil && !errors.Is(err, checkpoint.ErrNotFound) {
		o.log.Warn("release checkpoint", "task_id", taskID, "error", err)
	}
}
