package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/AkhileshMalthi/taskflow/internal/events"
	"github.com/AkhileshMalthi/taskflow/internal/workflow"
)

// Executor performs the work a command asks for. Execute runs the
// workflow and reports transient failure as an error; Fail records a
// command that exhausted its retries.
type Executor interface {
	Execute(ctx context.Context, cmd Command) error
	Fail(ctx context.Context, taskID string, err error)
}

// Dispatcher consumes commands with a pool of workers. Commands for the
// same task are serialized; a worker holding a task's slot makes later
// commands for that task wait rather than fail.
type Dispatcher struct {
	broker  Broker
	exec    Executor
	workers int
	retry   workflow.RetryPolicy
	metrics *events.Metrics
	log     *slog.Logger

	locks keyedLocks
	wg    sync.WaitGroup
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithRetryPolicy overrides the default engine retry policy.
func WithRetryPolicy(p workflow.RetryPolicy) Option {
	return func(d *Dispatcher) { d.retry = p }
}

// WithMetrics records retries and command outcomes.
func WithMetrics(m *events.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithLogger overrides the default logger.
func WithLogger(log *slog.Logger) Option {
	return func(d *Dispatcher) { d.log = log }
}

// NewDispatcher builds a dispatcher with the given worker count.
func NewDispatcher(broker Broker, exec Executor, workers int, opts ...Option) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	d := &Dispatcher{
		broker:  broker,
		exec:    exec,
		workers: workers,
		retry:   workflow.DefaultRetryPolicy(),
		log:     slog.Default(),
	}
	d.locks.held = make(map[string]*taskSlot)
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start launches the worker pool. Workers exit when ctx ends; Wait
// blocks until they have all drained.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go func(worker int) {
			defer d.wg.Done()
			d.run(ctx, worker)
		}(i)
	}
}

// Wait blocks until every worker has exited.
func (d *Dispatcher) Wait() { d.wg.Wait() }

func (d *Dispatcher) run(ctx context.Context, worker int) {
	for {
		cmd, err := d.broker.Dequeue(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				d.log.Error("dequeue failed", "worker", worker, "error", err)
			}
			return
		}
		d.handle(ctx, cmd)
	}
}

// handle executes one command under the task's slot, retrying engine
// errors with exponential backoff. A suspended workflow returns nil
// from Execute and is never a retry trigger.
func (d *Dispatcher) handle(ctx context.Context, cmd Command) {
	unlock := d.locks.acquire(cmd.TaskID)
	defer unlock()

	attempts := 0
	_, err := workflow.Retry(ctx, d.retry, func(ctx context.Context) (struct{}, error) {
		if attempts > 0 {
			d.recordRetry()
			d.log.Warn("retrying command",
				"task_id", cmd.TaskID, "kind", cmd.Kind, "attempt", attempts+1)
		}
		attempts++
		return struct{}{}, d.exec.Execute(ctx, cmd)
	})
	if err != nil {
		// A cancelled context means shutdown, not a broken task. Leave
		// the record and checkpoint alone so the command can be driven
		// again on restart.
		if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			d.log.Warn("command interrupted by shutdown",
				"task_id", cmd.TaskID, "kind", cmd.Kind, "error", err)
			return
		}
		d.recordOutcome("failed")
		d.log.Error("command exhausted retries",
			"task_id", cmd.TaskID, "kind", cmd.Kind, "attempts", attempts, "error", err)
		d.exec.Fail(ctx, cmd.TaskID, err)
		return
	}
	d.recordOutcome("ok")
}

func (d *Dispatcher) recordRetry() {
	if d.metrics != nil {
		d.metrics.CommandRetries.Inc()
	}
}

func (d *Dispatcher) recordOutcome(outcome string) {
	if d.metrics != nil {
		d.metrics.CommandOutcomes.WithLabelValues(outcome).Inc()
	}
}

// taskSlot is a per-task mutex with a reference count so the entry can
// be dropped once the last waiter releases it.
type taskSlot struct {
	mu   sync.Mutex
	refs int
}

type keyedLocks struct {
	mu   sync.Mutex
	held map[string]*taskSlot
}

func (k *keyedLocks) acquire(taskID string) func() {
	k.mu.Lock()
	slot, ok := k.held[taskID]
	if !ok {
		slot = &taskSlot{}
		k.held[taskID] = slot
	}
	slot.refs++
	k.mu.Unlock()

	slot.mu.Lock()
	return func() {
		slot.mu.Unlock()
		k.mu.Lock()
		slot.refs--
		if slot.refs == 0 {
			delete(k.held, taskID)
		}
		k.mu.Unlock()
	}
}
