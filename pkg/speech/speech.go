// Package speech defines the narrow interface through which the orchestrator
// consumes a live speech-to-text source.
//
// Capture and transcription are external concerns; a Source only has to emit
// incremental transcript snapshots and a single end-of-speech marker per
// listening cycle.
package speech

import "context"

// EventKind discriminates the events a [Source] emits.
type EventKind string

const (
	// KindTranscript carries the current full transcript snapshot. Snapshots
	// grow monotonically within a listening cycle.
	KindTranscript EventKind = "transcript"

	// KindEndOfSpeech marks the end of the utterance. Emitted exactly once
	// per listening cycle; no further transcript events follow it.
	KindEndOfSpeech EventKind = "end_of_speech"
)

// Event is a single speech source emission.
type Event struct {
	Kind EventKind

	// Text is the full transcript so far. Empty for KindEndOfSpeech.
	Text string
}

// Source is a live speech input. Events must be delivered in emission order
// on the channel returned by Events, which is valid before Start is called
// and stable for the lifetime of the Source.
type Source interface {
	// Start begins a listening cycle.
	Start(ctx context.Context) error

	// Events returns the source's event stream.
	Events() <-chan Event

	// Stop ends the current listening cycle. Idempotent.
	Stop() error
}
