// Package realtime implements [convo.Channel] over a bidirectional WebSocket
// connection to a realtime conversational agent endpoint.
//
// The wire protocol is JSON events: the client sends session.update to
// configure the session and conversation.message to deliver user turns; the
// server replies with response.text events carrying agent utterances. The
// receive loop runs on a session-scoped context detached from the context
// passed to Connect, so a connect attempt that has already completed survives
// cancellation of its warmup context.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/parleyhq/parley/pkg/provider/convo"
)

// Compile-time check that *Channel satisfies [convo.Channel].
var _ convo.Channel = (*Channel)(nil)

const (
	// defaultRecvBuffer is the buffer depth of the agent message stream.
	defaultRecvBuffer = 16
)

// Option is a functional option for configuring a Channel.
type Option func(*Channel)

// WithModel sets the agent model requested in the session configuration.
func WithModel(model string) Option {
	return func(c *Channel) { c.model = model }
}

// WithInstructions sets the system instructions sent on session setup.
func WithInstructions(instructions string) Option {
	return func(c *Channel) { c.instructions = instructions }
}

// WithHTTPHeader adds extra headers to the WebSocket handshake request.
// Primarily used in tests.
func WithHTTPHeader(h http.Header) Option {
	return func(c *Channel) { c.header = h }
}

// Channel is a [convo.Channel] backed by a WebSocket session.
// All methods are safe for concurrent use.
type Channel struct {
	url          string
	apiKey       string
	model        string
	instructions string
	header       http.Header

	recvCh chan convo.Message

	mu      sync.Mutex
	state   convo.State
	conn    *websocket.Conn
	cancel  context.CancelFunc // session context, nil unless live
	waiters []chan struct{}    // signalled on transition to Ready
}

// New creates an unconnected Channel targeting the given WebSocket URL.
// The channel does not dial until [Channel.Connect] is called.
func New(url, apiKey string, opts ...Option) *Channel {
	c := &Channel{
		url:    url,
		apiKey: apiKey,
		state:  convo.StateUnconnected,
		recvCh: make(chan convo.Message, defaultRecvBuffer),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SetInstructions replaces the system instructions used by sessions
// established after the call. A live session keeps the instructions it was
// configured with.
func (c *Channel) SetInstructions(instructions string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.instructions = instructions
}

// ── Wire protocol ─────────────────────────────────────────────────────────────

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Model        string `json:"model,omitempty"`
	Instructions string `json:"instructions,omitempty"`
	Modality     string `json:"modality"`
}

type conversationMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type serverEvent struct {
	Type string `json:"type"`

	// response.text
	Text string `json:"text,omitempty"`
	Role string `json:"role,omitempty"`

	// error event
	Message string `json:"message,omitempty"`
}

// ── convo.Channel ─────────────────────────────────────────────────────────────

// Connect dials the endpoint and configures the session. It is a no-op when
// the channel is already Ready or Sending. A concurrent Connect while another
// attempt is in flight waits for that attempt instead of dialing again.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case convo.StateReady, convo.StateSending:
		c.mu.Unlock()
		return nil
	case convo.StateConnecting:
		// Another goroutine is dialing; join its outcome.
		c.mu.Unlock()
		return c.WaitReady(ctx)
	}
	c.state = convo.StateConnecting
	model, instructions := c.model, c.instructions
	c.mu.Unlock()

	header := http.Header{}
	if c.apiKey != "" {
		header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for k, vs := range c.header {
		for _, v := range vs {
			header.Add(k, v)
		}
	}

	conn, _, err := websocket.Dial(ctx, c.url, &websocket.DialOptions{
		HTTPHeader: header,
	})
	if err != nil {
		c.mu.Lock()
		if ctx.Err() != nil {
			// Cancelled warmup, not a broken endpoint.
			c.state = convo.StateUnconnected
		} else {
			c.state = convo.StateFailed
		}
		c.mu.Unlock()
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", convo.ErrConnect, ctx.Err())
		}
		return fmt.Errorf("%w: dial %s: %w", convo.ErrConnect, c.url, err)
	}

	// Session context detached from the connect context: once established,
	// the session outlives the warmup attempt that started it.
	sessCtx, sessCancel := context.WithCancel(context.Background())

	if err := writeJSON(sessCtx, conn, sessionUpdateMessage{
		Type: "session.update",
		Session: sessionParams{
			Model:        model,
			Instructions: instructions,
			Modality:     "text",
		},
	}); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "session update failed")
		c.mu.Lock()
		c.state = convo.StateFailed
		c.mu.Unlock()
		return fmt.Errorf("%w: session update: %w", convo.ErrConnect, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.cancel = sessCancel
	c.setReadyLocked()
	c.mu.Unlock()

	go c.receiveLoop(sessCtx, conn)

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

// Send implements [convo.Channel]. The channel transitions to Sending for the
// duration of the write and back to Ready afterwards.
func (c *Channel) Send(ctx context.Context, text string) error {
	c.mu.Lock()
	if c.state != convo.StateReady {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: channel is %s", convo.ErrNotConnected, state)
	}
	conn := c.conn
	c.state = convo.StateSending
	c.mu.Unlock()

	err := writeJSON(ctx, conn, conversationMessage{
		Type: "conversation.message",
		Text: text,
	})

	c.mu.Lock()
	// Only restore Ready if nothing else (close, read failure) moved us on.
	if c.state == convo.StateSending {
		if err != nil {
			c.state = convo.StateFailed
		} else {
			c.setReadyLocked()
		}
	}
	c.mu.Unlock()

	if err != nil {
		return fmt.Errorf("%w: %w", convo.ErrSend, err)
	}
	return nil
}

// Receive implements [convo.Channel]. The same channel value is returned for
// the lifetime of this Channel and is fed by whichever session is live.
func (c *Channel) Receive() <-chan convo.Message {
	return c.recvCh
}

// Close implements [convo.Channel]. Idempotent; a closed channel may be
// reconnected with a later Connect call.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.state == convo.StateClosed {
		c.mu.Unlock()
		return nil
	}
	conn := c.conn
	cancel := c.cancel
	c.conn = nil
	c.cancel = nil
	c.state = convo.StateClosed
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "session closed")
	}
	return nil
}

// ── Internals ─────────────────────────────────────────────────────────────────

// setReadyLocked transitions to Ready and releases all WaitReady waiters.
// Must be called with c.mu held.
func (c *Channel) setReadyLocked() {
	c.state = convo.StateReady
	for _, w := range c.waiters {
		close(w)
	}
	c.waiters = nil
}

// receiveLoop reads server events until the session context is cancelled or
// the connection breaks. A broken connection marks the channel Failed unless
// it was deliberately closed.
func (c *Channel) receiveLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			c.mu.Lock()
			// Only this session's failure is relevant; a reconnect may have
			// already replaced conn.
			if c.conn == conn && c.state != convo.StateClosed {
				c.state = convo.StateFailed
				c.conn = nil
				c.cancel = nil
			}
			c.mu.Unlock()
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}

		if evt.Type != "response.text" || evt.Text == "" {
			continue
		}

		role := evt.Role
		if role == "" {
			role = "assistant"
		}
		msg := convo.Message{Role: role, Text: evt.Text, Timestamp: time.Now()}
		select {
		case c.recvCh <- msg:
		case <-ctx.Done():
			return
		}
	}
}

// writeJSON marshals v and writes it as a text WebSocket message.
func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("realtime: marshal: %w", err)
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
