// Package push provides a [speech.Source] fed programmatically, typically
// from an HTTP ingest endpoint in front of an external speech-to-text
// engine. The pusher is responsible for snapshot semantics: each Push must
// carry the full transcript so far, not a delta.
package push

import (
	"context"
	"errors"
	"sync"

	"github.com/parleyhq/parley/pkg/speech"
)

// ErrNotStarted is returned when events are pushed before Start.
var ErrNotStarted = errors.New("push: source not started")

// Compile-time interface assertion.
var _ speech.Source = (*Source)(nil)

// Source is a push-driven [speech.Source]. Safe for concurrent use.
type Source struct {
	mu      sync.Mutex
	started bool
	events  chan speech.Event
}

// New creates a Source with the given event buffer size. A size of 0 uses a
// reasonable default.
func New(buffer int) *Source {
	if buffer <= 0 {
		buffer = 32
	}
	return &Source{events: make(chan speech.Event, buffer)}
}

// Start implements [speech.Source].
func (s *Source) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
	return nil
}

// Events implements [speech.Source].
func (s *Source) Events() <-chan speech.Event {
	return s.events
}

// Stop implements [speech.Source]. Idempotent; the source can be restarted.
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = false
	return nil
}

// Push emits a transcript snapshot. The consumer may lag; a full buffer
// drops the oldest pending event so the freshest snapshot always gets
// through.
func (s *Source) Push(text string) error {
	return s.emit(speech.Event{Kind: speech.KindTranscript, Text: text})
}

// End emits the end-of-speech marker.
func (s *Source) End() error {
	return s.emit(speech.Event{Kind: speech.KindEndOfSpeech})
}

func (s *Source) emit(ev speech.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return ErrNotStarted
	}
	for {
		select {
		case s.events <- ev:
			return nil
		default:
			select {
			case <-s.events:
			default:
			}
		}
	}
}
