package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AkhileshMalthi/taskflow/internal/agents"
	"github.com/AkhileshMalthi/taskflow/internal/broadcast"
	"github.com/AkhileshMalthi/taskflow/internal/dispatch"
	"github.com/AkhileshMalthi/taskflow/internal/llm"
	"github.com/AkhileshMalthi/taskflow/internal/task"
	"github.com/AkhileshMalthi/taskflow/internal/workflow"
	"github.com/AkhileshMalthi/taskflow/internal/workflow/checkpoint"
	"github.com/AkhileshMalthi/taskflow/internal/workspace"
)

type fixture struct {
	orch   *Orchestrator
	tasks  *task.MemStore
	ws     *workspace.MemStore
	cps    *checkpoint.MemStore
	broker *dispatch.MemoryBroker
	hub    *broadcast.Hub
	model  *llm.MockModel
}

func fastRetry() workflow.RetryPolicy {
	return workflow.RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
	}
}

func newFixture(t *testing.T, responses ...string) *fixture {
	t.Helper()

	f := &fixture{
		tasks:  task.NewMemStore(),
		ws:     workspace.NewMemStore(),
		cps:    checkpoint.NewMemStore(),
		broker: dispatch.NewMemoryBroker(8),
		hub:    broadcast.NewHub(),
		model:  llm.NewMockModel(responses...),
	}

	researcher := agents.NewResearcher(
		agents.NewAnalyzer(f.model), agents.NewSimulatedSearch(), f.ws, fastRetry(), nil)
	writer := agents.NewWriter(f.model, f.ws)

	orch, err := New(Deps{
		Tasks:       f.tasks,
		Workspace:   f.ws,
		Checkpoints: f.cps,
		Broker:      f.broker,
		Hub:         f.hub,
		Researcher:  researcher,
		Writer:      writer,
	})
	require.NoError(t, err)
	f.orch = orch
	return f
}

// drain pulls queued commands and executes them synchronously.
func (f *fixture) drain(t *testing.T) {
	t.Helper()
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		cmd, err := f.broker.Dequeue(ctx)
		cancel()
		if err != nil {
			return
		}
		require.NoError(t, f.orch.Execute(context.Background(), cmd))
	}
}

func logActions(tk task.Task) []string {
	actions := make([]string, len(tk.ActivityLog))
	for i, e := range tk.ActivityLog {
		actions[i] = e.Action
	}
	return actions
}

func TestSubmitRunsToAwaitingApproval(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t,
		`{"topics":["Redis","PostgreSQL"],"task_kind":"comparison","context":""}`,
		"Redis is a cache; PostgreSQL is a database.")

	created, err := f.orch.Submit(ctx, "Compare Redis and PostgreSQL")
	require.NoError(t, err)
	assert.Equal(t, task.StatusPending, created.Status)

	f.drain(t)

	got, err := f.orch.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusAwaitingApproval, got.Status)
	assert.Empty(t, got.Result)

	actions := logActions(got)
	assert.Equal(t, []string{
		"Starting workflow execution",
		"Researching topics",
		"Drafting content",
		"Awaiting human approval",
	}, actions)

	// The checkpoint is parked at the decision point with the draft.
	cp, err := f.cps.Load(ctx, created.ID.String())
	require.NoError(t, err)
	require.NotNil(t, cp.Suspension)
	assert.Equal(t, "Do you approve this draft?", cp.Suspension.Question)
	assert.Contains(t, cp.Suspension.Draft, "Redis")

	// Research landed in the workspace.
	fields, err := f.ws.Load(ctx, created.ID.String())
	require.NoError(t, err)
	assert.Equal(t, "comparison", fields["task_kind"])
}

func TestApproveCompletesTask(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t,
		`{"topics":["Docker"],"task_kind":"tutorial","context":""}`,
		"Step 1: install Docker.")

	created, err := f.orch.Submit(ctx, "How to use Docker, step by step")
	require.NoError(t, err)
	f.drain(t)

	updated, err := f.orch.Approve(ctx, created.ID, true, "looks good")
	require.NoError(t, err)
	assert.Equal(t, task.StatusResumed, updated.Status)

	f.drain(t)

	got, err := f.orch.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, got.Status)
	assert.Equal(t, "Step 1: install Docker.", got.Result)
	assert.Empty(t, got.Error)

	actions := logActions(got)
	assert.Contains(t, actions, "Human approval received: Approved")
	assert.Equal(t, "Workflow completed", actions[len(actions)-1])

	// Transient state is gone.
	_, err = f.cps.Load(ctx, created.ID.String())
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)
	_, err = f.ws.Load(ctx, created.ID.String())
	assert.ErrorIs(t, err, workspace.ErrNotFound)
}

func TestRejectFailsTaskWithoutReenqueue(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t,
		`{"topics":["Redis"],"task_kind":"analysis","context":""}`,
		"An analysis of Redis.")

	created, err := f.orch.Submit(ctx, "Analyze Redis")
	require.NoError(t, err)
	f.drain(t)

	updated, err := f.orch.Approve(ctx, created.ID, false, "nope")
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, updated.Status)
	assert.Equal(t, "nope", updated.Error)
	assert.Contains(t, logActions(updated), "Human approval received: Rejected")

	// Nothing was queued; rejection is handled inline.
	dctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = f.broker.Dequeue(dctx)
	assert.Error(t, err)

	_, err = f.cps.Load(ctx, created.ID.String())
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)
	_, err = f.ws.Load(ctx, created.ID.String())
	assert.ErrorIs(t, err, workspace.ErrNotFound)
}

func TestApproveRequiresAwaitingApproval(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t,
		`{"topics":["Redis"],"task_kind":"summary","context":""}`,
		"Redis summary.")

	created, err := f.orch.Submit(ctx, "Tell me about Redis")
	require.NoError(t, err)

	// Still pending: nothing has executed yet.
	_, err = f.orch.Approve(ctx, created.ID, true, "")
	assert.ErrorIs(t, err, ErrNotAwaitingApproval)

	f.drain(t)
	_, err = f.orch.Approve(ctx, created.ID, true, "")
	require.NoError(t, err)
	f.drain(t)

	// A second decision on a finished task is refused.
	_, err = f.orch.Approve(ctx, created.ID, true, "")
	assert.ErrorIs(t, err, ErrNotAwaitingApproval)
}

func TestFlakyResearchToolIsRetriedTransparently(t *testing.T) {
	ctx := context.Background()
	topic := "general " + agents.FlakyMarker
	f := newFixture(t,
		`{"topics":["`+topic+`"],"task_kind":"summary","context":""}`,
		"Summary despite the flaky tool.")

	created, err := f.orch.Submit(ctx, "anything")
	require.NoError(t, err)
	f.drain(t)

	got, err := f.orch.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusAwaitingApproval, got.Status)

	fields, err := f.ws.Load(ctx, created.ID.String())
	require.NoError(t, err)
	results := fields["research_results"].(map[string]string)
	assert.Contains(t, results[topic], "attempt 2")
}

func TestFailRecordsErrorAndReleasesState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t,
		`{"topics":["Redis"],"task_kind":"summary","context":""}`,
		"Redis summary.")

	created, err := f.orch.Submit(ctx, "Tell me about Redis")
	require.NoError(t, err)
	f.drain(t)

	f.orch.Fail(ctx, created.ID.String(), assert.AnError)

	got, err := f.orch.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, got.Status)
	assert.Equal(t, assert.AnError.Error(), got.Error)

	_, err = f.ws.Load(ctx, created.ID.String())
	assert.ErrorIs(t, err, workspace.ErrNotFound)
	_, err = f.cps.Load(ctx, created.ID.String())
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)
}

func TestObserversSeeLifecycleEvents(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t,
		`{"topics":["Redis"],"task_kind":"summary","context":""}`,
		"Redis summary.")

	created, err := f.orch.Submit(ctx, "Tell me about Redis")
	require.NoError(t, err)

	ch, cancel := f.hub.Subscribe(created.ID.String())
	defer cancel()

	f.drain(t)

	var statuses []string
	for len(ch) > 0 {
		statuses = append(statuses, (<-ch).Status)
	}
	assert.Equal(t, []string{
		string(task.StatusRunning),
		string(task.StatusResearching),
		string(task.StatusWriting),
		string(task.StatusAwaitingApproval),
	}, statuses)
}

func TestExecuteThroughDispatcherEndToEnd(t *testing.T) {
	ctx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	f := newFixture(t,
		`{"topics":["Redis","PostgreSQL"],"task_kind":"comparison","context":""}`,
		"Redis vs PostgreSQL, compared.")

	d := dispatch.NewDispatcher(f.broker, f.orch, 2, dispatch.WithRetryPolicy(fastRetry()))
	d.Start(ctx)

	created, err := f.orch.Submit(ctx, "Compare Redis and PostgreSQL")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := f.orch.Get(context.Background(), created.ID)
		return err == nil && got.Status == task.StatusAwaitingApproval
	}, 2*time.Second, 10*time.Millisecond)

	_, err = f.orch.Approve(ctx, created.ID, true, "")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := f.orch.Get(context.Background(), created.ID)
		return err == nil && got.Status == task.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	cancelRun()
	d.Wait()

	got, err := f.orch.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Redis vs PostgreSQL, compared.", got.Result)
}
