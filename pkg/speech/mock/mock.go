// Package mock provides a scripted in-memory [speech.Source] for unit tests.
package mock

import (
	"context"
	"sync"

	"github.com/parleyhq/parley/pkg/speech"
)

// Compile-time interface assertion.
var _ speech.Source = (*Source)(nil)

// Source is a mock [speech.Source]. Tests push events with [Source.EmitTranscript]
// and [Source.EmitEndOfSpeech]. Safe for concurrent use.
type Source struct {
	mu sync.Mutex

	// StartErr is returned by Start when non-nil.
	StartErr error

	// StartCalls and StopCalls count invocations.
	StartCalls int
	StopCalls  int

	events chan speech.Event
}

// New returns a mock source with a buffered event stream.
func New() *Source {
	return &Source{events: make(chan speech.Event, 32)}
}

// EmitTranscript pushes a transcript snapshot event.
func (s *Source) EmitTranscript(text string) {
	s.events <- speech.Event{Kind: speech.KindTranscript, Text: text}
}

// EmitEndOfSpeech pushes the end-of-speech marker.
func (s *Source) EmitEndOfSpeech() {
	s.events <- speech.Event{Kind: speech.KindEndOfSpeech}
}

// Start implements [speech.Source].
func (s *Source) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StartCalls++
	return s.StartErr
}

// Events implements [speech.Source].
func (s *Source) Events() <-chan speech.Event {
	return s.events
}

// Stop implements [speech.Source]. Idempotent.
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StopCalls++
	return nil
}
