// Package store defines the persistence layer for tasks, timers, and list
// items, with an in-memory implementation for tests and single-process runs
// and a PostgreSQL implementation for deployments.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a task lookup by id or title matches nothing.
var ErrNotFound = errors.New("store: not found")

// Task is a persisted reminder or todo.
type Task struct {
	ID          string
	Title       string
	Due         *time.Time
	Priority    string
	Done        bool
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// Timer is a persisted countdown with an optional label.
type Timer struct {
	ID        string
	Label     string
	Duration  time.Duration
	ExpiresAt time.Time
	CreatedAt time.Time
}

// ListItem is one entry on a named list.
type ListItem struct {
	ID        string
	ListName  string
	Item      string
	CreatedAt time.Time
}

// Store persists the artifacts commands produce. Title-based operations match
// case-insensitively; an id always takes precedence over a title.
type Store interface {
	// CreateTask inserts a new task and fills in its ID and CreatedAt.
	CreateTask(ctx context.Context, task *Task) error

	// CompleteTask marks the task matching titleOrID as done and returns it.
	// Completing an already-done task is idempotent.
	CompleteTask(ctx context.Context, titleOrID string) (*Task, error)

	// DeleteTask removes the task matching titleOrID and returns it.
	DeleteTask(ctx context.Context, titleOrID string) (*Task, error)

	// CreateTimer inserts a new timer and fills in its ID, ExpiresAt, and
	// CreatedAt.
	CreateTimer(ctx context.Context, timer *Timer) error

	// AddListItem appends an item to the named list, creating the list
	// implicitly on first use.
	AddListItem(ctx context.Context, item *ListItem) error

	// Tasks returns all tasks ordered by creation time.
	Tasks(ctx context.Context) ([]Task, error)
}
