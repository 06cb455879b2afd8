package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the tasks, timers, and list_items tables. Execute
// it via [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS tasks (
    id           TEXT         PRIMARY KEY,
    title        TEXT         NOT NULL,
    due          TIMESTAMPTZ,
    priority     TEXT         NOT NULL DEFAULT 'medium',
    done         BOOLEAN      NOT NULL DEFAULT FALSE,
    created_at   TIMESTAMPTZ  NOT NULL DEFAULT now(),
    completed_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_tasks_title ON tasks (lower(title));
CREATE INDEX IF NOT EXISTS idx_tasks_done ON tasks (done);

CREATE TABLE IF NOT EXISTS timers (
    id          TEXT         PRIMARY KEY,
    label       TEXT         NOT NULL DEFAULT '',
    duration_ns BIGINT       NOT NULL,
    expires_at  TIMESTAMPTZ  NOT NULL,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS list_items (
    id         TEXT         PRIMARY KEY,
    list_name  TEXT         NOT NULL,
    item       TEXT         NOT NULL,
    created_at TIMESTAMPTZ  NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_list_items_list ON list_items (lower(list_name));
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by a PostgreSQL database.
type PostgresStore struct {
	db  DB
	now func() time.Time
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new [PostgresStore] over the given connection or
// pool. The caller is responsible for calling [PostgresStore.Migrate] to
// ensure the schema exists before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

// Migrate executes the [Schema] DDL. Idempotent and safe to call on every
// application start.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// newID generates a time-ordered unique identifier.
func (s *PostgresStore) newID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, s.now().UnixNano())
}

// CreateTask implements [Store].
func (s *PostgresStore) CreateTask(ctx context.Context, task *Task) error {
	task.ID = s.newID("task")
	priority := task.Priority
	if priority == "" {
		priority = "medium"
	}

	const query = `
		INSERT INTO tasks (id, title, due, priority)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`

	err := s.db.QueryRow(ctx, query, task.ID, task.Title, task.Due, priority).
		Scan(&task.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: create task: %w", err)
	}
	task.Priority = priority
	return nil
}

// CompleteTask implements [Store]. The lookup tries an exact id first, then a
// case-insensitive title match.
func (s *PostgresStore) CompleteTask(ctx context.Context, titleOrID string) (*Task, error) {
	const query = `
		UPDATE tasks SET
			done = TRUE,
			completed_at = COALESCE(completed_at, now())
		WHERE id = $1 OR lower(title) = lower($1)
		RETURNING id, title, due, priority, done, created_at, completed_at`

	var task Task
	err := s.db.QueryRow(ctx, query, titleOrID).Scan(
		&task.ID, &task.Title, &task.Due, &task.Priority,
		&task.Done, &task.CreatedAt, &task.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("store: complete task %q: %w", titleOrID, ErrNotFound)
		}
		return nil, fmt.Errorf("store: complete task %q: %w", titleOrID, err)
	}
	return &task, nil
}

// DeleteTask implements [Store].
func (s *PostgresStore) DeleteTask(ctx context.Context, titleOrID string) (*Task, error) {
	const query = `
		DELETE FROM tasks
		WHERE id = $1 OR lower(title) = lower($1)
		RETURNING id, title, due, priority, done, created_at, completed_at`

	var task Task
	err := s.db.QueryRow(ctx, query, titleOrID).Scan(
		&task.ID, &task.Title, &task.Due, &task.Priority,
		&task.Done, &task.CreatedAt, &task.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("store: delete task %q: %w", titleOrID, ErrNotFound)
		}
		return nil, fmt.Errorf("store: delete task %q: %w", titleOrID, err)
	}
	return &task, nil
}

// CreateTimer implements [Store].
func (s *PostgresStore) CreateTimer(ctx context.Context, timer *Timer) error {
	timer.ID = s.newID("timer")
	timer.ExpiresAt = s.now().Add(timer.Duration)

	const query = `
		INSERT INTO timers (id, label, duration_ns, expires_at)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`

	err := s.db.QueryRow(ctx, query,
		timer.ID, timer.Label, timer.Duration.Nanoseconds(), timer.ExpiresAt,
	).Scan(&timer.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: create timer: %w", err)
	}
	return nil
}

// AddListItem implements [Store].
func (s *PostgresStore) AddListItem(ctx context.Context, item *ListItem) error {
	item.ID = s.newID("item")

	const query = `
		INSERT INTO list_items (id, list_name, item)
		VALUES ($1, $2, $3)
		RETURNING created_at`

	err := s.db.QueryRow(ctx, query, item.ID, item.ListName, item.Item).
		Scan(&item.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: add list item: %w", err)
	}
	return nil
}

// Tasks implements [Store].
func (s *PostgresStore) Tasks(ctx context.Context) ([]Task, error) {
	const query = `
		SELECT id, title, due, priority, done, created_at, completed_at
		FROM tasks
		ORDER BY created_at`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("store: list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		var task Task
		if err := rows.Scan(
			&task.ID, &task.Title, &task.Due, &task.Priority,
			&task.Done, &task.CreatedAt, &task.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("store: list tasks scan: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list tasks: %w", err)
	}
	return tasks, nil
}
