package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory [Store]. Safe for concurrent use. State is lost
// on process exit; use [PostgresStore] for durable deployments.
type MemoryStore struct {
	mu     sync.Mutex
	tasks  []*Task
	timers []*Timer
	items  []*ListItem
	seq    int

	now func() time.Time
}

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

// nextID must be called with mu held.
func (s *MemoryStore) nextID(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s-%d", prefix, s.seq)
}

// CreateTask implements [Store].
func (s *MemoryStore) CreateTask(_ context.Context, task *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task.ID = s.nextID("task")
	task.CreatedAt = s.now()
	stored := *task
	s.tasks = append(s.tasks, &stored)
	return nil
}

// findTask must be called with mu held. ID match wins over title match.
func (s *MemoryStore) findTask(titleOrID string) *Task {
	for _, t := range s.tasks {
		if t.ID == titleOrID {
			return t
		}
	}
	lower := strings.ToLower(titleOrID)
	for _, t := range s.tasks {
		if strings.ToLower(t.Title) == lower {
			return t
		}
	}
	return nil
}

// CompleteTask implements [Store].
func (s *MemoryStore) CompleteTask(_ context.Context, titleOrID string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.findTask(titleOrID)
	if t == nil {
		return nil, fmt.Errorf("store: complete task %q: %w", titleOrID, ErrNotFound)
	}
	if !t.Done {
		t.Done = true
		completed := s.now()
		t.CompletedAt = &completed
	}
	out := *t
	return &out, nil
}

// DeleteTask implements [Store].
func (s *MemoryStore) DeleteTask(_ context.Context, titleOrID string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.findTask(titleOrID)
	if t == nil {
		return nil, fmt.Errorf("store: delete task %q: %w", titleOrID, ErrNotFound)
	}
	for i, cand := range s.tasks {
		if cand == t {
			s.tasks = append(s.tasks[:i], s.tasks[i+1:]...)
			break
		}
	}
	out := *t
	return &out, nil
}

// CreateTimer implements [Store].
func (s *MemoryStore) CreateTimer(_ context.Context, timer *Timer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	timer.ID = s.nextID("timer")
	timer.CreatedAt = s.now()
	timer.ExpiresAt = timer.CreatedAt.Add(timer.Duration)
	stored := *timer
	s.timers = append(s.timers, &stored)
	return nil
}

// AddListItem implements [Store].
func (s *MemoryStore) AddListItem(_ context.Context, item *ListItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item.ID = s.nextID("item")
	item.CreatedAt = s.now()
	stored := *item
	s.items = append(s.items, &stored)
	return nil
}

// Tasks implements [Store].
func (s *MemoryStore) Tasks(_ context.Context) ([]Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, *t)
	}
	return out, nil
}

// Timers returns all timers ordered by creation time.
func (s *MemoryStore) Timers(_ context.Context) ([]Timer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Timer, 0, len(s.timers))
	for _, t := range s.timers {
		out = append(out, *t)
	}
	return out, nil
}

// ListItems returns all items on the named list ordered by creation time.
func (s *MemoryStore) ListItems(_ context.Context, listName string) ([]ListItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lower := strings.ToLower(listName)
	var out []ListItem
	for _, it := range s.items {
		if strings.ToLower(it.ListName) == lower {
			out = append(out, *it)
		}
	}
	return out, nil
}
