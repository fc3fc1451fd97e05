package task

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id           UUID PRIMARY KEY,
	prompt       TEXT NOT NULL,
	status       TEXT NOT NULL,
	result       TEXT NOT NULL DEFAULT '',
	error        TEXT NOT NULL DEFAULT '',
	activity_log JSONB NOT NULL DEFAULT '[]'::jsonb,
	created_at   TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL
)`

// PostgresStore persists task records in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection pool and ensures the schema.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("task: open postgres: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("task: init schema: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB wraps an existing pool without touching the
// schema. Used by tests.
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error { return s.db.Close() }

func (s *PostgresStore) Create(ctx context.Context, prompt string) (Task, error) {
	now := time.Now().UTC()
	t := Task{
		ID:          uuid.New(),
		Prompt:      prompt,
		Status:      StatusPending,
		ActivityLog: []LogEntry{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, prompt, status, result, error, activity_log, created_at, updated_at)
		VALUES ($1, $2, $3, '', '', '[]'::jsonb, $4, $4)`,
		t.ID, t.Prompt, t.Status, now)
	if err != nil {
		return Task{}, fmt.Errorf("task: create: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, prompt, status, result, error, activity_log, created_at, updated_at
		FROM tasks WHERE id = $1`, id)
	return scanTask(row)
}

// SetStatus moves the task through the lifecycle machine. The current
// row is locked so concurrent writers observe a consistent transition.
func (s *PostgresStore) SetStatus(ctx context.Context, id uuid.UUID, status Status) error {
	return s.withLockedRow(ctx, id, status, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE tasks SET status = $2, updated_at = $3 WHERE id = $1`,
			id, status, time.Now().UTC())
		return err
	})
}

func (s *PostgresStore) SetResult(ctx context.Context, id uuid.UUID, result string, status Status) error {
	return s.withLockedRow(ctx, id, status, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE tasks SET status = $2, result = $3, updated_at = $4 WHERE id = $1`,
			id, status, result, time.Now().UTC())
		return err
	})
}

func (s *PostgresStore) SetError(ctx context.Context, id uuid.UUID, msg string) error {
	return s.withLockedRow(ctx, id, StatusFailed, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE tasks SET status = $2, error = $3, updated_at = $4 WHERE id = $1`,
			id, StatusFailed, msg, time.Now().UTC())
		return err
	})
}

func (s *PostgresStore) AppendLog(ctx context.Context, id uuid.UUID, agent, action string) error {
	entry, err := json.Marshal(LogEntry{Agent: agent, Action: action, Timestamp: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("task: encode log entry: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET activity_log = activity_log || $2::jsonb, updated_at = $3
		WHERE id = $1`,
		id, entry, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("task: append log: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// withLockedRow runs update inside a transaction after locking the row
// and checking that next is a legal transition from its current status.
func (s *PostgresStore) withLockedRow(ctx context.Context, id uuid.UUID, next Status, update func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("task: begin: %w", err)
	}
	defer tx.Rollback()

	var current Status
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM tasks WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("task: lock row: %w", err)
	}

	if current != next && !current.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, next)
	}

	if err := update(tx); err != nil {
		return fmt.Errorf("task: update: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("task: commit: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (Task, error) {
	var (
		t   Task
		log []byte
	)
	err := row.Scan(&t.ID, &t.Prompt, &t.Status, &t.Result, &t.Error, &log, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, ErrNotFound
	}
	if err != nil {
		return Task{}, fmt.Errorf("task: scan: %w", err)
	}
	if err := json.Unmarshal(log, &t.ActivityLog); err != nil {
		return Task{}, fmt.Errorf("task: decode activity log: %w", err)
	}
	return t, nil
}
