package checkpoint

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeUnderTest builds each backend against ephemeral storage.
func storesUnderTest(t *testing.T) map[string]Store {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	sqlite, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })

	return map[string]Store{
		"memory": NewMemStore(),
		"redis":  NewRedisStore(client),
		"sqlite": sqlite,
	}
}

func TestStoreSaveLoadDelete(t *testing.T) {
	ctx := context.Background()
	state := json.RawMessage(`{"task_id":"t1","prompt":"hello"}`)

	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Load(ctx, "t1")
			assert.ErrorIs(t, err, ErrNotFound)

			cp := Checkpoint{
				TaskID: "t1",
				Stage:  "approval",
				State:  state,
				Suspension: &Suspension{
					Question: "Do you approve this draft?",
					TaskID:   "t1",
					Draft:    "a draft",
				},
			}
			require.NoError(t, store.Save(ctx, cp))

			got, err := store.Load(ctx, "t1")
			require.NoError(t, err)
			assert.Equal(t, "approval", got.Stage)
			assert.JSONEq(t, string(state), string(got.State))
			require.NotNil(t, got.Suspension)
			assert.Equal(t, "a draft", got.Suspension.Draft)
			assert.False(t, got.UpdatedAt.IsZero())

			require.NoError(t, store.Delete(ctx, "t1"))
			_, err = store.Load(ctx, "t1")
			assert.ErrorIs(t, err, ErrNotFound)

			// Deleting a missing checkpoint is not an error.
			assert.NoError(t, store.Delete(ctx, "t1"))
		})
	}
}

func TestStoreSaveOverwrites(t *testing.T) {
	ctx := context.Background()

	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			first := Checkpoint{TaskID: "t2", Stage: "research", State: json.RawMessage(`{}`)}
			require.NoError(t, store.Save(ctx, first))

			second := Checkpoint{TaskID: "t2", Stage: "writing", State: json.RawMessage(`{"draft":"x"}`)}
			require.NoError(t, store.Save(ctx, second))

			got, err := store.Load(ctx, "t2")
			require.NoError(t, err)
			assert.Equal(t, "writing", got.Stage)
			assert.Nil(t, got.Suspension)
		})
	}
}

func TestKey(t *testing.T) {
	assert.Equal(t, "checkpoint:abc", Key("abc"))
}
