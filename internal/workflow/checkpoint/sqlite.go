package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists checkpoints in a single-file database. It is
// the embedded alternative to RedisStore for single-process
// deployments where the scratchpad and checkpoint stores are
// collapsed onto local disk.
//
// WAL mode is enabled so readers do not block the writer, and a busy
// timeout covers the rare case of a concurrent open.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at path and
// runs migrations. Use ":memory:" for an ephemeral store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	const schema = `
		CREATE TABLE IF NOT EXISTS checkpoints (
			task_id    TEXT PRIMARY KEY,
			stage      TEXT NOT NULL,
			state      TEXT NOT NULL,
			suspension TEXT,
			updated_at TIMESTAMP NOT NULL
		)`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create checkpoints table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Save overwrites the checkpoint for cp.TaskID in a single upsert.
func (s *SQLiteStore) Save(ctx context.Context, cp Checkpoint) error {
	var suspension sql.NullString
	if cp.Suspension != nil {
		data, err := json.Marshal(cp.Suspension)
		if err != nil {
			return fmt.Errorf("marshal suspension: %w", err)
		}
		suspension = sql.NullString{String: string(data), Valid: true}
	}

	const q = `
		INSERT INTO checkpoints (task_id, stage, state, suspension, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			stage      = excluded.stage,
			state      = excluded.state,
			suspension = excluded.suspension,
			updated_at = excluded.updated_at`
	_, err := s.db.ExecContext(ctx, q,
		cp.TaskID, cp.Stage, string(cp.State), suspension, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save checkpoint %s: %w", cp.TaskID, err)
	}
	return nil
}

// Load returns the checkpoint for taskID, or ErrNotFound.
func (s *SQLiteStore) Load(ctx context.Context, taskID string) (Checkpoint, error) {
	const q = `
		SELECT stage, state, suspension, updated_at
		FROM checkpoints WHERE task_id = ?`

	var (
		cp         Checkpoint
		state      string
		suspension sql.NullString
	)
	cp.TaskID = taskID
	err := s.db.QueryRowContext(ctx, q, taskID).
		Scan(&cp.Stage, &state, &suspension, &cp.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Checkpoint{}, ErrNotFound
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("load checkpoint %s: %w", taskID, err)
	}

	cp.State = json.RawMessage(state)
	if suspension.Valid {
		cp.Suspension = &Suspension{}
		if err := json.Unmarshal([]byte(suspension.String), cp.Suspension); err != nil {
			return Checkpoint{}, fmt.Errorf("decode suspension %s: %w", taskID, err)
		}
	}
	return cp, nil
}

// Delete removes the checkpoint for taskID.
func (s *SQLiteStore) Delete(ctx context.Context, taskID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE task_id = ?`, taskID); err != nil {
		return fmt.Errorf("delete checkpoint %s: %w", taskID, err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
