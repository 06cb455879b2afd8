// Package mock provides a controllable [executor.Executor] for unit tests.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/parleyhq/parley/internal/command"
	"github.com/parleyhq/parley/internal/executor"
)

// Compile-time interface assertion.
var _ executor.Executor = (*Executor)(nil)

// Executor is a mock command executor. Safe for concurrent use.
type Executor struct {
	mu sync.Mutex

	// ExecuteResult is returned by every Execute call.
	ExecuteResult executor.Result

	// Delay makes Execute wait before answering; a cancelled context wins.
	Delay time.Duration

	// Commands records every command passed to Execute.
	Commands []command.Command
}

// Execute implements [executor.Executor].
func (e *Executor) Execute(ctx context.Context, cmd command.Command) executor.Result {
	e.mu.Lock()
	e.Commands = append(e.Commands, cmd)
	result := e.ExecuteResult
	delay := e.Delay
	e.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return executor.Result{Message: "cancelled", Err: ctx.Err()}
		}
	}
	return result
}

// Calls returns the number of Execute invocations so far.
func (e *Executor) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.Commands)
}

// LastCommand returns the most recent command, or a zero command when none.
func (e *Executor) LastCommand() command.Command {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.Commands) == 0 {
		return command.Command{}
	}
	return e.Commands[len(e.Commands)-1]
}
