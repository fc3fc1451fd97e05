package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AkhileshMalthi/taskflow/internal/events"
)

// QueueKey is the Redis list commands travel through.
const QueueKey = "taskflow:commands"

// Broker is a FIFO command queue. Dequeue blocks until a command
// arrives or the context ends.
type Broker interface {
	Enqueue(ctx context.Context, cmd Command) error
	Dequeue(ctx context.Context) (Command, error)
}

// MemoryBroker is an in-process Broker for tests and single-node runs.
type MemoryBroker struct {
	ch chan Command
}

// NewMemoryBroker returns a broker with the given queue capacity.
func NewMemoryBroker(capacity int) *MemoryBroker {
	return &MemoryBroker{ch: make(chan Command, capacity)}
}

func (b *MemoryBroker) Enqueue(ctx context.Context, cmd Command) error {
	select {
	case b.ch <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *MemoryBroker) Dequeue(ctx context.Context) (Command, error) {
	select {
	case cmd := <-b.ch:
		return cmd, nil
	case <-ctx.Done():
		return Command{}, ctx.Err()
	}
}

// RedisBroker queues commands on a Redis list so workers in other
// processes can pick them up.
type RedisBroker struct {
	client *redis.Client
}

// NewRedisBroker wraps an existing client.
func NewRedisBroker(client *redis.Client) *RedisBroker {
	return &RedisBroker{client: client}
}

func (b *RedisBroker) Enqueue(ctx context.Context, cmd Command) error {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("dispatch: encode command: %w", err)
	}
	if err := b.client.LPush(ctx, QueueKey, payload).Err(); err != nil {
		return fmt.Errorf("dispatch: enqueue: %w", err)
	}
	return nil
}

// Dequeue pops with a short blocking timeout in a loop so context
// cancellation is observed promptly.
func (b *RedisBroker) Dequeue(ctx context.Context) (Command, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Command{}, err
		}
		res, err := b.client.BRPop(ctx, time.Second, QueueKey).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return Command{}, fmt.Errorf("dispatch: dequeue: %w", err)
		}
		// BRPop returns [key, value].
		var cmd Command
		if err := json.Unmarshal([]byte(res[1]), &cmd); err != nil {
			return Command{}, fmt.Errorf("dispatch: decode command: %w", err)
		}
		return cmd, nil
	}
}

// InstrumentedBroker tracks queue depth around an inner broker.
type InstrumentedBroker struct {
	inner   Broker
	metrics *events.Metrics
}

// NewInstrumentedBroker wraps a broker with queue depth accounting.
func NewInstrumentedBroker(inner Broker, metrics *events.Metrics) *InstrumentedBroker {
	return &InstrumentedBroker{inner: inner, metrics: metrics}
}

func (b *InstrumentedBroker) Enqueue(ctx context.Context, cmd Command) error {
	if err := b.inner.Enqueue(ctx, cmd); err != nil {
		return err
	}
	b.metrics.QueueDepth.Inc()
	return nil
}

func (b *InstrumentedBroker) Dequeue(ctx context.Context) (Command, error) {
	cmd, err := b.inner.Dequeue(ctx)
	if err != nil {
		return Command{}, err
	}
	b.metrics.QueueDepth.Dec()
	return cmd, nil
}
