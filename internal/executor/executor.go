// Package executor runs parsed commands against the store and produces a
// user-facing confirmation or failure message for each one.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/parleyhq/parley/internal/command"
	"github.com/parleyhq/parley/internal/store"
)

// ErrUnrecognized is returned for commands the parser could not map to any
// known pattern. It is a no-op failure: nothing is persisted, and the message
// on the [Result] is meant to be spoken back to the user.
var ErrUnrecognized = errors.New("executor: command not recognized")

// Result is the outcome of executing one command.
type Result struct {
	// OK is true when the command changed state as requested.
	OK bool

	// Message is the user-facing confirmation or failure text.
	Message string

	// Err carries the failure cause when OK is false.
	Err error
}

// Executor executes a parsed command.
type Executor interface {
	Execute(ctx context.Context, cmd command.Command) Result
}

// StoreExecutor executes commands against a [store.Store].
type StoreExecutor struct {
	store store.Store
}

// Compile-time interface check.
var _ Executor = (*StoreExecutor)(nil)

// New creates a StoreExecutor over st.
func New(st store.Store) *StoreExecutor {
	return &StoreExecutor{store: st}
}

// Execute implements [Executor]. Failures never panic and never return a
// partial success: the Result's message describes what happened either way.
func (e *StoreExecutor) Execute(ctx context.Context, cmd command.Command) Result {
	switch cmd.Kind {
	case command.KindCreateTask:
		return e.createTask(ctx, cmd)
	case command.KindCompleteTask:
		return e.completeTask(ctx, cmd)
	case command.KindDeleteTask:
		return e.deleteTask(ctx, cmd)
	case command.KindSetTimer:
		return e.setTimer(ctx, cmd)
	case command.KindAddListItem:
		return e.addListItem(ctx, cmd)
	case command.KindUnknown:
		return Result{
			Message: "Sorry, I didn't recognize that command.",
			Err:     ErrUnrecognized,
		}
	default:
		return Result{
			Message: "Sorry, I didn't recognize that command.",
			Err:     fmt.Errorf("%w: kind %q", ErrUnrecognized, cmd.Kind),
		}
	}
}

func (e *StoreExecutor) createTask(ctx context.Context, cmd command.Command) Result {
	task := store.Task{
		Title:    cmd.Title,
		Due:      cmd.Due,
		Priority: string(cmd.Priority),
	}
	if err := e.store.CreateTask(ctx, &task); err != nil {
		return Result{
			Message: fmt.Sprintf("I couldn't create the task %q.", cmd.Title),
			Err:     err,
		}
	}
	msg := fmt.Sprintf("Created task %q.", task.Title)
	if task.Due != nil {
		msg = fmt.Sprintf("Created task %q, due %s.", task.Title, task.Due.Format("Monday at 3:04 PM"))
	}
	return Result{OK: true, Message: msg}
}

func (e *StoreExecutor) completeTask(ctx context.Context, cmd command.Command) Result {
	task, err := e.store.CompleteTask(ctx, cmd.TitleOrID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Result{
				Message: fmt.Sprintf("I couldn't find a task called %q.", cmd.TitleOrID),
				Err:     err,
			}
		}
		return Result{
			Message: fmt.Sprintf("I couldn't complete the task %q.", cmd.TitleOrID),
			Err:     err,
		}
	}
	return Result{OK: true, Message: fmt.Sprintf("Marked %q as done.", task.Title)}
}

func (e *StoreExecutor) deleteTask(ctx context.Context, cmd command.Command) Result {
	task, err := e.store.DeleteTask(ctx, cmd.TitleOrID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Result{
				Message: fmt.Sprintf("I couldn't find a task called %q.", cmd.TitleOrID),
				Err:     err,
			}
		}
		return Result{
			Message: fmt.Sprintf("I couldn't delete the task %q.", cmd.TitleOrID),
			Err:     err,
		}
	}
	return Result{OK: true, Message: fmt.Sprintf("Deleted task %q.", task.Title)}
}

func (e *StoreExecutor) setTimer(ctx context.Context, cmd command.Command) Result {
	timer := store.Timer{Label: cmd.Label, Duration: cmd.Duration}
	if err := e.store.CreateTimer(ctx, &timer); err != nil {
		return Result{Message: "I couldn't set that timer.", Err: err}
	}
	msg := fmt.Sprintf("Timer set for %s.", formatDuration(timer.Duration))
	if timer.Label != "" {
		msg = fmt.Sprintf("Timer %q set for %s.", timer.Label, formatDuration(timer.Duration))
	}
	return Result{OK: true, Message: msg}
}

func (e *StoreExecutor) addListItem(ctx context.Context, cmd command.Command) Result {
	item := store.ListItem{ListName: cmd.ListName, Item: cmd.Item}
	if err := e.store.AddListItem(ctx, &item); err != nil {
		return Result{
			Message: fmt.Sprintf("I couldn't add %q to your %s list.", cmd.Item, cmd.ListName),
			Err:     err,
		}
	}
	return Result{OK: true, Message: fmt.Sprintf("Added %q to your %s list.", item.Item, item.ListName)}
}

// formatDuration renders a duration the way it would be spoken, e.g.
// "10 minutes" or "1 hour and 30 minutes".
func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60

	var parts []string
	if h > 0 {
		parts = append(parts, plural(h, "hour"))
	}
	if m > 0 {
		parts = append(parts, plural(m, "minute"))
	}
	if s > 0 && h == 0 {
		parts = append(parts, plural(s, "second"))
	}
	if len(parts) == 0 {
		return "0 seconds"
	}
	out := parts[0]
	for _, p := range parts[1:] {
		out += " and " + p
	}
	return out
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
