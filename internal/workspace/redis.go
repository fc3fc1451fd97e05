package workspace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps workspaces as JSON blobs in Redis.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Save(ctx context.Context, taskID string, fields map[string]any) error {
	existing, err := s.Load(ctx, taskID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if existing == nil {
		existing = map[string]any{}
	}

	payload, err := json.Marshal(merge(existing, fields))
	if err != nil {
		return fmt.Errorf("workspace: encode %s: %w", taskID, err)
	}
	if err := s.client.Set(ctx, Key(taskID), payload, TTL).Err(); err != nil {
		return fmt.Errorf("workspace: save %s: %w", taskID, err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, taskID string) (map[string]any, error) {
	raw, err := s.client.Get(ctx, Key(taskID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("workspace: load %s: %w", taskID, err)
	}

	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("workspace: decode %s: %w", taskID, err)
	}
	return fields, nil
}

func (s *RedisStore) Delete(ctx context.Context, taskID string) error {
	if err := s.client.Del(ctx, Key(taskID)).Err(); err != nil {
		return fmt.Errorf("workspace: delete %s: %w", taskID, err)
	}
	return nil
}
