// Package session implements the voice session orchestrator: it drives one
// utterance cycle at a time from speech capture through intent classification
// into either command execution or a live conversation, while a conversation
// channel is speculatively warmed in the background.
package session

import "errors"

// State is the orchestrator's current phase.
type State string

const (
	// StateIdle means no utterance cycle is in progress.
	StateIdle State = "idle"

	// StateListening means speech is being captured and the conversation
	// channel is warming in the background.
	StateListening State = "listening"

	// StateClassifying means the frozen transcript is being classified.
	StateClassifying State = "classifying"

	// StateExecuting means a parsed command is running against the store.
	StateExecuting State = "executing"

	// StateConversing means the transcript was handed off and the session is
	// in a live conversation.
	StateConversing State = "conversing"
)

// Orchestrator API errors.
var (
	// ErrBusy is returned by StartListening when a cycle is already running.
	ErrBusy = errors.New("session: a cycle is already in progress")

	// ErrNotConversing is returned by SendMessage and ExitConversation when
	// the session is not in a live conversation.
	ErrNotConversing = errors.New("session: not in a conversation")

	// ErrClosed is returned by API calls after the orchestrator has shut down.
	ErrClosed = errors.New("session: orchestrator closed")
)

// NotificationKind discriminates the notifications an orchestrator emits.
type NotificationKind string

const (
	// NoteCommandResult carries the user-facing outcome of a command.
	NoteCommandResult NotificationKind = "command_result"

	// NoteAgentReply carries a conversational reply from the agent.
	NoteAgentReply NotificationKind = "agent_reply"

	// NoteHandoff signals that the session entered a live conversation.
	NoteHandoff NotificationKind = "handoff"

	// NoteError carries a user-facing failure the cycle could not recover
	// from.
	NoteError NotificationKind = "error"
)

// Notification is one user-facing event emitted on
// [Orchestrator.Notifications]. Text is always suitable for display or
// speech synthesis; Err carries the technical cause when Kind is NoteError
// or a failed NoteCommandResult.
type Notification struct {
	Kind NotificationKind
	Text string
	Err  error
}
