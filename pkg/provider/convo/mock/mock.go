// Package mock provides a controllable in-memory implementation of
// [convo.Channel] for use in unit tests.
//
// Tests drive connection outcomes either immediately (via ConnectErrs) or by
// holding connects pending with HoldConnects and releasing them one at a time
// with ReleaseConnect. All invocation counts and sent texts are recorded.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/parleyhq/parley/pkg/provider/convo"
)

// Compile-time interface assertion.
var _ convo.Channel = (*Channel)(nil)

// Channel is a mock [convo.Channel]. The zero value connects instantly and
// successfully. It is safe for concurrent use.
type Channel struct {
	mu      sync.Mutex
	state   convo.State
	waiters []chan struct{}

	// ConnectErrs is popped front-first on each Connect call; a nil entry
	// means that attempt succeeds. When exhausted (or nil), connects succeed.
	ConnectErrs []error

	// SendErr is returned by Send when non-nil (after recording the call).
	SendErr error

	// connect gating
	hold    bool
	pending []chan error

	// recordings
	ConnectCalls int
	SendTexts    []string
	CloseCalls   int

	recvCh chan convo.Message
}

// New returns a mock channel in the Unconnected state.
func New() *Channel {
	return &Channel{
		state:  convo.StateUnconnected,
		recvCh: make(chan convo.Message, 16),
	}
}

// HoldConnects makes subsequent Connect calls block until released with
// [Channel.ReleaseConnect].
func (c *Channel) HoldConnects() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hold = true
}

// ReleaseConnect completes the oldest pending Connect with the given error
// (nil for success). Returns false when no connect is pending.
func (c *Channel) ReleaseConnect(err error) bool {
	c.mu.Lock()
	if len(c.pending) == 0 {
		c.mu.Unlock()
		return false
	}
	ch := c.pending[0]
	c.pending = c.pending[1:]
	c.mu.Unlock()
	ch <- err
	return true
}

// PendingConnects returns how many Connect calls are currently held.
func (c *Channel) PendingConnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// EmitReply pushes an agent message onto the Receive stream.
func (c *Channel) EmitReply(text string) {
	c.recvCh <- convo.Message{Role: "assistant", Text: text, Timestamp: time.Now()}
}

// SetState forces the channel into the given state. Useful for arranging
// Failed/Closed preconditions.
func (c *Channel) SetState(s convo.State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setStateLocked(s)
}

// ConnectCount returns how many times Connect has been called.
func (c *Channel) ConnectCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ConnectCalls
}

// CloseCount returns how many times Close has been called.
func (c *Channel) CloseCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CloseCalls
}

// SentTexts returns a copy of every text passed to Send so far.
func (c *Channel) SentTexts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.SendTexts))
	copy(out, c.SendTexts)
	return out
}

// Connect implements [convo.Channel].
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	c.ConnectCalls++
	if c.state == convo.StateReady || c.state == convo.StateSending {
		c.mu.Unlock()
		return nil
	}
	c.setStateLocked(convo.StateConnecting)

	var outcome error
	var wait chan error
	if c.hold {
		wait = make(chan error, 1)
		c.pending = append(c.pending, wait)
	} else if len(c.ConnectErrs) > 0 {
		outcome = c.ConnectErrs[0]
		c.ConnectErrs = c.ConnectErrs[1:]
	}
	c.mu.Unlock()

	if wait != nil {
		select {
		case outcome = <-wait:
		case <-ctx.Done():
			c.mu.Lock()
			c.setStateLocked(convo.StateUnconnected)
			c.mu.Unlock()
			return fmt.Errorf("%w: %w", convo.ErrConnect, ctx.Err())
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if outcome != nil {
		c.setStateLocked(convo.StateFailed)
		return fmt.Errorf("%w: %w", convo.ErrConnect, outcome)
	}
	c.setStateLocked(convo.StateReady)
	return nil
}

// State implements [convo.Channel].
func (c *Channel) State() convo.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// WaitReady implements [convo.Channel].
func (c *Channel) WaitReady(ctx context.Context) error {
	c.mu.Lock()
	if c.state == convo.StateReady || c.state == convo.StateSending {
		c.mu.Unlock()
		return nil
	}
	w := make(chan struct{})
	c.waiters = append(c.waiters, w)
	c.mu.Unlock()

	select {
	case <-w:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", convo.ErrNotConnected, ctx.Err())
	}
}

// Send implements [convo.Channel].
func (c *Channel) Send(_ context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != convo.StateReady {
		return fmt.Errorf("%w: channel is %s", convo.ErrNotConnected, c.state)
	}
	c.SendTexts = append(c.SendTexts, text)
	if c.SendErr != nil {
		return fmt.Errorf("%w: %w", convo.ErrSend, c.SendErr)
	}
	return nil
}

// Receive implements [convo.Channel].
func (c *Channel) Receive() <-chan convo.Message {
	return c.recvCh
}

// Close implements [convo.Channel]. Idempotent.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CloseCalls++
	c.setStateLocked(convo.StateClosed)
	return nil
}

// setStateLocked updates state and releases WaitReady waiters on Ready.
// Must be called with c.mu held.
func (c *Channel) setStateLocked(s convo.State) {
	c.state = s
	if s == convo.StateReady {
		for _, w := range c.waiters {
			close(w)
		}
		c.waiters = nil
	}
}
