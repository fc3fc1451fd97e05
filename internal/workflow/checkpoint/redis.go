package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore persists checkpoints in redis under "checkpoint:{id}".
// Checkpoints carry no TTL: they live exactly as long as the
// suspension (or crash window) they cover and are deleted explicitly
// when the workflow reaches a terminal stage.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Save overwrites the checkpoint for cp.TaskID with a single SET.
func (s *RedisStore) Save(ctx context.Context, cp Checkpoint) error {
	cp.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	if err := s.client.Set(ctx, Key(cp.TaskID), data, 0).Err(); err != nil {
		return fmt.Errorf("save checkpoint %s: %w", cp.TaskID, err)
	}
	return nil
}

// Load returns the checkpoint for taskID, or ErrNotFound.
func (s *RedisStore) Load(ctx context.Context, taskID string) (Checkpoint, error) {
	data, err := s.client.Get(ctx, Key(taskID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Checkpoint{}, ErrNotFound
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("load checkpoint %s: %w", taskID, err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, fmt.Errorf("decode checkpoint %s: %w", taskID, err)
	}
	return cp, nil
}

// Delete removes the checkpoint for taskID.
func (s *RedisStore) Delete(ctx context.Context, taskID string) error {
	if err := s.client.Del(ctx, Key(taskID)).Err(); err != nil {
		return fmt.Errorf("delete checkpoint %s: %w", taskID, err)
	}
	return nil
}
