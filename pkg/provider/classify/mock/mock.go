// Package mock provides a controllable in-memory [classify.Provider] for unit
// tests. Return values are configured via exported fields; every call's text
// is recorded.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/parleyhq/parley/pkg/provider/classify"
)

// Compile-time interface assertion.
var _ classify.Provider = (*Provider)(nil)

// Provider is a mock remote classifier. Safe for concurrent use.
type Provider struct {
	mu sync.Mutex

	// ClassifyResult is returned when ClassifyErr is nil.
	ClassifyResult classify.Verdict

	// ClassifyErr is returned by Classify when non-nil.
	ClassifyErr error

	// Delay makes Classify wait before answering. If the context expires
	// first, the context error is returned, which is how tests exercise the
	// hard-timeout path.
	Delay time.Duration

	// Texts records every transcript passed to Classify.
	Texts []string
}

// Classify implements [classify.Provider].
func (p *Provider) Classify(ctx context.Context, text string) (classify.Verdict, error) {
	p.mu.Lock()
	p.Texts = append(p.Texts, text)
	delay := p.Delay
	result := p.ClassifyResult
	err := p.ClassifyErr
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	if err != nil {
		return "", err
	}
	return result, nil
}

// Calls returns the number of Classify invocations so far.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Texts)
}
