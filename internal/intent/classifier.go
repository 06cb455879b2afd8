package intent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/parleyhq/parley/pkg/provider/classify"
)

// DefaultTimeout is the hard deadline applied to every remote classification
// call, measured from call start.
const DefaultTimeout = 1000 * time.Millisecond

// Sentinel errors for the remote classification stage.
var (
	// ErrTimeout indicates the remote classifier did not answer within the
	// hard deadline.
	ErrTimeout = errors.New("intent: remote classification timeout")

	// ErrTransport indicates the remote call failed (network error, bad
	// response, missing provider).
	ErrTransport = errors.New("intent: remote classification transport error")
)

// Source identifies which stage produced a decision.
type Source string

const (
	// SourceHeuristic means the local keyword heuristic decided.
	SourceHeuristic Source = "heuristic"

	// SourceRemote means the remote classifier answered within its deadline.
	SourceRemote Source = "remote"

	// SourceFallback means the remote stage failed and the configured
	// fallback verdict was applied.
	SourceFallback Source = "fallback"
)

// Decision is the pipeline's answer for one transcript.
type Decision struct {
	Verdict classify.Verdict
	Source  Source

	// Err is the underlying remote failure when Source is SourceFallback.
	// It is recovered here, never surfaced to the user.
	Err error
}

// ClassifierConfig configures a [Classifier].
type ClassifierConfig struct {
	// Heuristic is the local fast path. Required.
	Heuristic *Heuristic

	// Remote is consulted when the heuristic has no opinion. May be nil, in
	// which case the fallback verdict applies directly (the behaviour of a
	// deployment with no classifier credential).
	Remote classify.Provider

	// Timeout is the hard deadline for remote calls. Defaults to
	// [DefaultTimeout] if zero.
	Timeout time.Duration

	// Fallback is the verdict applied on any remote failure: timeout,
	// transport error, or absent provider. Defaults to
	// [classify.VerdictConversation]: an unresolved ambiguous utterance is
	// safer in front of a live agent than executed blindly as a command.
	// One policy for every failure cause; causes are never split.
	Fallback classify.Verdict
}

// Classifier runs the two-stage classification pipeline. Safe for concurrent
// use.
type Classifier struct {
	heuristic *Heuristic
	remote    classify.Provider
	timeout   time.Duration
	fallback  classify.Verdict
}

// NewClassifier builds a Classifier from cfg, applying defaults.
func NewClassifier(cfg ClassifierConfig) *Classifier {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	fallback := cfg.Fallback
	if !fallback.IsValid() {
		fallback = classify.VerdictConversation
	}
	heuristic := cfg.Heuristic
	if heuristic == nil {
		heuristic = NewHeuristic()
	}
	return &Classifier{
		heuristic: heuristic,
		remote:    cfg.Remote,
		timeout:   timeout,
		fallback:  fallback,
	}
}

// Classify decides command-vs-conversation for a frozen, non-empty
// transcript.
//
// The local heuristic is checked first and short-circuits with no network
// call. Otherwise the remote classifier is invoked under the hard timeout;
// any failure resolves to the configured fallback verdict. The returned
// Decision always carries a valid verdict; remote errors are recorded on it
// but never propagated.
func (c *Classifier) Classify(ctx context.Context, text string) Decision {
	if c.heuristic.Match(text) {
		return Decision{Verdict: classify.VerdictCommand, Source: SourceHeuristic}
	}

	if c.remote == nil {
		return Decision{
			Verdict: c.fallback,
			Source:  SourceFallback,
			Err:     fmt.Errorf("%w: no remote classifier configured", ErrTransport),
		}
	}

	rctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	verdict, err := c.remote.Classify(rctx, text)
	if err != nil {
		classified := classifyFailure(rctx, err)
		slog.Debug("intent: remote classification failed, applying fallback",
			"fallback", c.fallback,
			"err", classified,
		)
		return Decision{Verdict: c.fallback, Source: SourceFallback, Err: classified}
	}
	if !verdict.IsValid() {
		return Decision{
			Verdict: c.fallback,
			Source:  SourceFallback,
			Err:     fmt.Errorf("%w: invalid verdict %q", ErrTransport, verdict),
		}
	}

	return Decision{Verdict: verdict, Source: SourceRemote}
}

// classifyFailure wraps a remote error with the matching sentinel.
func classifyFailure(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrTransport, err)
}
