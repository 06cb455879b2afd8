// Package convo defines the conversational channel abstraction: a connectable,
// cancellable, stateful streaming session to a remote conversational agent.
//
// The orchestrator owns the channel's lifecycle: it alone decides when to
// connect, cancel, reuse, or close. Other components may observe the channel's
// state but never mutate it.
package convo

import (
	"context"
	"errors"
	"time"
)

// State describes where a channel is in its connection lifecycle.
type State string

const (
	StateUnconnected State = "unconnected"
	StateConnecting  State = "connecting"
	StateReady       State = "ready"
	StateSending     State = "sending"
	StateClosed      State = "closed"
	StateFailed      State = "failed"
)

// Live reports whether the channel is connected or connecting, i.e. a new
// connection attempt would be redundant.
func (s State) Live() bool {
	switch s {
	case StateConnecting, StateReady, StateSending:
		return true
	}
	return false
}

// Sentinel errors returned by channel implementations.
var (
	// ErrConnect indicates the channel could not be brought to Ready.
	ErrConnect = errors.New("convo: channel connect failure")

	// ErrSend indicates a message could not be delivered over the channel.
	ErrSend = errors.New("convo: channel send failure")

	// ErrNotConnected indicates a send was attempted while the channel was
	// not Ready and did not become Ready within the caller's grace period.
	ErrNotConnected = errors.New("convo: channel not connected")
)

// Message is a single turn received from the conversational agent.
type Message struct {
	// Role is the speaker role as reported by the agent ("assistant" unless
	// the protocol says otherwise).
	Role string

	// Text is the agent's utterance.
	Text string

	// Timestamp is when the message was received locally.
	Timestamp time.Time
}

// Channel is a persistent streaming session to a conversational agent.
//
// Implementations must make Connect cancellable via its context, and must not
// tear down an already-Ready session when that context is later cancelled;
// cancellation is advisory for in-flight connects, never destructive for
// completed ones. Close is idempotent.
type Channel interface {
	// Connect brings the channel to Ready. It blocks until the session is
	// established, the context is cancelled, or the attempt fails. Calling
	// Connect on a channel that is already Ready (or Connecting in another
	// goroutine) must not open a second concurrent connection.
	Connect(ctx context.Context) error

	// State returns the channel's current lifecycle state.
	State() State

	// WaitReady blocks until the channel reaches Ready or ctx is done.
	// It returns ErrNotConnected (wrapped) when ctx expires first.
	WaitReady(ctx context.Context) error

	// Send delivers a user utterance to the agent. The channel must be Ready.
	Send(ctx context.Context, text string) error

	// Receive returns the stream of agent messages. The returned channel is
	// stable for the lifetime of the Channel value and survives reconnects.
	Receive() <-chan Message

	// Close terminates the session and releases resources. Idempotent.
	// A closed channel may be reconnected with a subsequent Connect call.
	Close() error
}
