// Package classify defines the remote intent classifier contract: given an
// utterance transcript, decide whether it is a discrete command or a turn in
// an open-ended conversation.
//
// Implementations may be backed by any remote service; the contract only
// requires a boolean-ish verdict within the caller's deadline. The local fast
// path and the timeout/fallback policy live in internal/intent; providers
// here only answer the question.
package classify

import "context"

// Verdict is a remote classifier's decision for one transcript.
type Verdict string

const (
	// VerdictCommand means the utterance should be executed as a discrete
	// local command.
	VerdictCommand Verdict = "command"

	// VerdictConversation means the utterance should be handed to the
	// conversational agent.
	VerdictConversation Verdict = "conversation"
)

// IsValid reports whether v is a recognised verdict.
func (v Verdict) IsValid() bool {
	return v == VerdictCommand || v == VerdictConversation
}

// Provider answers command-vs-conversation for a transcript. Implementations
// must respect ctx cancellation and deadlines; the orchestrator applies a
// hard timeout around every call.
type Provider interface {
	Classify(ctx context.Context, text string) (Verdict, error)
}
