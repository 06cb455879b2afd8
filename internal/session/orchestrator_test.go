package session_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/parleyhq/parley/internal/command"
	"github.com/parleyhq/parley/internal/executor"
	execmock "github.com/parleyhq/parley/internal/executor/mock"
	"github.com/parleyhq/parley/internal/intent"
	"github.com/parleyhq/parley/internal/session"
	"github.com/parleyhq/parley/pkg/provider/classify"
	classifymock "github.com/parleyhq/parley/pkg/provider/classify/mock"
	"github.com/parleyhq/parley/pkg/provider/convo"
	convomock "github.com/parleyhq/parley/pkg/provider/convo/mock"
	speechmock "github.com/parleyhq/parley/pkg/speech/mock"
)

const waitTimeout = 2 * time.Second

// fixture bundles an orchestrator with all of its mock collaborators.
type fixture struct {
	src    *speechmock.Source
	ch     *convomock.Channel
	remote *classifymock.Provider
	exec   *execmock.Executor
	orch   *session.Orchestrator
}

// newFixture builds a fixture whose remote classifier answers "conversation"
// and whose executor succeeds, then starts the orchestrator.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	fx := &fixture{
		src:    speechmock.New(),
		ch:     convomock.New(),
		remote: &classifymock.Provider{ClassifyResult: classify.VerdictConversation},
		exec:   &execmock.Executor{ExecuteResult: executor.Result{OK: true, Message: "done"}},
	}
	fx.orch = session.New(session.Config{
		Source:     fx.src,
		Classifier: intent.NewClassifier(intent.ClassifierConfig{Remote: fx.remote}),
		Channel:    fx.ch,
		Executor:   fx.exec,
		SendGrace:  500 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := fx.orch.Run(ctx); err != nil {
			t.Errorf("Run returned %v", err)
		}
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return fx
}

func waitState(t *testing.T, o *session.Orchestrator, want session.State) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if o.State() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("state = %q, want %q", o.State(), want)
}

func nextNote(t *testing.T, o *session.Orchestrator) session.Notification {
	t.Helper()
	select {
	case n := <-o.Notifications():
		return n
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for a notification")
		return session.Notification{}
	}
}

func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}

func TestOrchestrator_CommandCycle(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)

	if err := fx.orch.StartListening(); err != nil {
		t.Fatalf("StartListening: %v", err)
	}
	waitState(t, fx.orch, session.StateListening)
	waitFor(t, "speculative warmup", func() bool { return fx.ch.ConnectCount() == 1 })

	fx.src.EmitTranscript("remind me to buy milk")
	fx.src.EmitEndOfSpeech()

	n := nextNote(t, fx.orch)
	if n.Kind != session.NoteCommandResult {
		t.Fatalf("note kind = %q, want command_result", n.Kind)
	}
	if n.Text != "done" {
		t.Errorf("note text = %q", n.Text)
	}
	waitState(t, fx.orch, session.StateIdle)

	if fx.exec.Calls() != 1 {
		t.Errorf("executor called %d times, want 1", fx.exec.Calls())
	}
	if got := fx.exec.LastCommand().Kind; got != command.KindCreateTask {
		t.Errorf("executed kind = %q, want create_task", got)
	}
	// The keyword hit decided locally; the remote classifier stays untouched.
	if fx.remote.Calls() != 0 {
		t.Errorf("remote classifier called %d times, want 0", fx.remote.Calls())
	}
	// The speculative warmup reached ready, so the connection stays open
	// for a likely next turn instead of being torn down.
	if got := fx.ch.CloseCount(); got != 0 {
		t.Errorf("CloseCount = %d, want the warmed channel kept open", got)
	}
	if got := fx.ch.State(); got != convo.StateReady {
		t.Errorf("channel state = %q after the command, want ready", got)
	}
	if fx.ch.ConnectCount() != 1 {
		t.Errorf("ConnectCount = %d, want the single warmup connect", fx.ch.ConnectCount())
	}
}

func TestOrchestrator_CommandCycleKeepsChannelWarmForNextTurn(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)

	if err := fx.orch.StartListening(); err != nil {
		t.Fatalf("StartListening: %v", err)
	}
	waitFor(t, "speculative warmup", func() bool { return fx.ch.ConnectCount() == 1 })
	fx.src.EmitTranscript("set a timer for ten minutes")
	fx.src.EmitEndOfSpeech()
	if n := nextNote(t, fx.orch); n.Kind != session.NoteCommandResult {
		t.Fatalf("note kind = %q, want command_result", n.Kind)
	}
	waitState(t, fx.orch, session.StateIdle)

	// The next cycle goes conversational and rides the warm connection.
	if err := fx.orch.StartListening(); err != nil {
		t.Fatalf("second StartListening: %v", err)
	}
	fx.src.EmitTranscript("what should I do while it runs")
	fx.src.EmitEndOfSpeech()
	if n := nextNote(t, fx.orch); n.Kind != session.NoteHandoff {
		t.Fatalf("note kind = %q, want handoff", n.Kind)
	}
	waitState(t, fx.orch, session.StateConversing)

	if got := fx.ch.CloseCount(); got != 0 {
		t.Errorf("CloseCount = %d, channel was torn down between turns", got)
	}
	sent := fx.ch.SentTexts()
	if len(sent) != 1 || sent[0] != "what should I do while it runs" {
		t.Errorf("SentTexts = %q, want the second turn's transcript", sent)
	}
}

func TestOrchestrator_ConversationHandoff(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)

	if err := fx.orch.StartListening(); err != nil {
		t.Fatalf("StartListening: %v", err)
	}
	fx.src.EmitTranscript("what should I cook tonight for the party")
	fx.src.EmitEndOfSpeech()

	n := nextNote(t, fx.orch)
	if n.Kind != session.NoteHandoff {
		t.Fatalf("note kind = %q, want handoff", n.Kind)
	}
	waitState(t, fx.orch, session.StateConversing)

	// The warmed connection was reused: exactly one connect for the whole
	// cycle, and the frozen transcript went out on it.
	if fx.ch.ConnectCount() != 1 {
		t.Errorf("ConnectCount = %d, want 1", fx.ch.ConnectCount())
	}
	sent := fx.ch.SentTexts()
	if len(sent) != 1 || sent[0] != "what should I cook tonight for the party" {
		t.Errorf("SentTexts = %q, want the frozen transcript", sent)
	}
	if fx.exec.Calls() != 0 {
		t.Errorf("executor called %d times during a conversation cycle", fx.exec.Calls())
	}
}

func TestOrchestrator_EmptyTranscriptReturnsToIdle(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)

	if err := fx.orch.StartListening(); err != nil {
		t.Fatalf("StartListening: %v", err)
	}
	waitState(t, fx.orch, session.StateListening)

	fx.src.EmitTranscript("   ")
	fx.src.EmitEndOfSpeech()

	waitState(t, fx.orch, session.StateIdle)

	// The warmed connection is kept rather than recycled on silence.
	time.Sleep(50 * time.Millisecond)
	if got := fx.ch.CloseCount(); got != 0 {
		t.Errorf("CloseCount = %d, want the idle channel kept open", got)
	}
	if fx.remote.Calls() != 0 {
		t.Errorf("classifier ran %d times on an empty transcript", fx.remote.Calls())
	}
	if fx.exec.Calls() != 0 {
		t.Errorf("executor ran %d times on an empty transcript", fx.exec.Calls())
	}
	select {
	case n := <-fx.orch.Notifications():
		t.Errorf("unexpected notification %+v", n)
	default:
	}
}

func TestOrchestrator_ResetDiscardsInFlightClassification(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	fx.remote.ClassifyResult = classify.VerdictCommand
	fx.remote.Delay = 300 * time.Millisecond

	if err := fx.orch.StartListening(); err != nil {
		t.Fatalf("StartListening: %v", err)
	}
	fx.src.EmitTranscript("what do you think about this")
	fx.src.EmitEndOfSpeech()
	waitState(t, fx.orch, session.StateClassifying)

	fx.orch.Reset()
	waitState(t, fx.orch, session.StateIdle)

	// Let the in-flight classification land; its result must be dropped.
	time.Sleep(400 * time.Millisecond)
	if fx.exec.Calls() != 0 {
		t.Errorf("stale classification reached the executor (%d calls)", fx.exec.Calls())
	}
	if got := fx.orch.State(); got != session.StateIdle {
		t.Errorf("state = %q after stale result, want idle", got)
	}
}

func TestOrchestrator_ClassifierFailureFallsBackToConversation(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	fx.remote.ClassifyErr = errors.New("upstream down")

	if err := fx.orch.StartListening(); err != nil {
		t.Fatalf("StartListening: %v", err)
	}
	fx.src.EmitTranscript("could you look into that thing")
	fx.src.EmitEndOfSpeech()

	n := nextNote(t, fx.orch)
	if n.Kind != session.NoteHandoff {
		t.Fatalf("note kind = %q, want handoff", n.Kind)
	}
	waitState(t, fx.orch, session.StateConversing)
	if fx.exec.Calls() != 0 {
		t.Errorf("fallback cycle must not execute commands, got %d calls", fx.exec.Calls())
	}
}

func TestOrchestrator_FailedCommandFallsBackOnce(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	fx.exec.ExecuteResult = executor.Result{
		Message: `I couldn't find a task called "ghost".`,
		Err:     errors.New("not found"),
	}

	if err := fx.orch.StartListening(); err != nil {
		t.Fatalf("StartListening: %v", err)
	}
	fx.src.EmitTranscript("complete the task ghost")
	fx.src.EmitEndOfSpeech()

	first := nextNote(t, fx.orch)
	if first.Kind != session.NoteCommandResult || first.Err == nil {
		t.Fatalf("first note = %+v, want a failed command result", first)
	}
	second := nextNote(t, fx.orch)
	if second.Kind != session.NoteHandoff {
		t.Fatalf("second note = %+v, want the conversation handoff", second)
	}
	waitState(t, fx.orch, session.StateConversing)

	if fx.exec.Calls() != 1 {
		t.Errorf("executor called %d times, want exactly 1", fx.exec.Calls())
	}
	sent := fx.ch.SentTexts()
	if len(sent) != 1 || sent[0] != "complete the task ghost" {
		t.Errorf("SentTexts = %q, want the original transcript", sent)
	}
}

func TestOrchestrator_FailedWarmupGetsOneRetry(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	fx.ch.ConnectErrs = []error{errors.New("dial refused")}

	if err := fx.orch.StartListening(); err != nil {
		t.Fatalf("StartListening: %v", err)
	}
	fx.src.EmitTranscript("tell me a story about dragons")
	fx.src.EmitEndOfSpeech()

	n := nextNote(t, fx.orch)
	if n.Kind != session.NoteHandoff {
		t.Fatalf("note kind = %q, want handoff after the retry", n.Kind)
	}
	waitState(t, fx.orch, session.StateConversing)

	// Failed warmup plus exactly one fresh attempt.
	if got := fx.ch.ConnectCount(); got != 2 {
		t.Errorf("ConnectCount = %d, want 2", got)
	}
}

func TestOrchestrator_WarmupAndRetryBothFail(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	fx.ch.ConnectErrs = []error{errors.New("dial refused"), errors.New("still refused")}

	if err := fx.orch.StartListening(); err != nil {
		t.Fatalf("StartListening: %v", err)
	}
	fx.src.EmitTranscript("tell me a story about dragons")
	fx.src.EmitEndOfSpeech()

	n := nextNote(t, fx.orch)
	if n.Kind != session.NoteError {
		t.Fatalf("note kind = %q, want error", n.Kind)
	}
	if n.Err == nil {
		t.Error("error note should carry the cause")
	}
	waitState(t, fx.orch, session.StateIdle)

	if got := fx.ch.ConnectCount(); got != 2 {
		t.Errorf("ConnectCount = %d, want warmup plus one retry", got)
	}
}

func TestOrchestrator_FollowUpMessages(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)

	if err := fx.orch.StartListening(); err != nil {
		t.Fatalf("StartListening: %v", err)
	}
	fx.src.EmitTranscript("let's chat about the weekend")
	fx.src.EmitEndOfSpeech()
	if n := nextNote(t, fx.orch); n.Kind != session.NoteHandoff {
		t.Fatalf("note kind = %q, want handoff", n.Kind)
	}
	waitState(t, fx.orch, session.StateConversing)

	if err := fx.orch.SendMessage("and what about Sunday"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	waitFor(t, "follow-up send", func() bool { return len(fx.ch.SentTexts()) == 2 })

	// Agent replies surface as notifications.
	fx.ch.EmitReply("Sunday looks sunny.")
	reply := nextNote(t, fx.orch)
	if reply.Kind != session.NoteAgentReply || reply.Text != "Sunday looks sunny." {
		t.Errorf("reply note = %+v", reply)
	}
}

func TestOrchestrator_FollowUpWaitsForChannelReadiness(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)

	if err := fx.orch.StartListening(); err != nil {
		t.Fatalf("StartListening: %v", err)
	}
	fx.src.EmitTranscript("let's keep talking")
	fx.src.EmitEndOfSpeech()
	if n := nextNote(t, fx.orch); n.Kind != session.NoteHandoff {
		t.Fatalf("note kind = %q, want handoff", n.Kind)
	}
	waitState(t, fx.orch, session.StateConversing)

	// The channel dips back to connecting mid-conversation. A follow-up
	// issued now must wait out the reconnect instead of failing on the spot.
	fx.ch.SetState(convo.StateConnecting)
	if err := fx.orch.SendMessage("are you still there"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	fx.ch.SetState(convo.StateReady)

	waitFor(t, "delayed follow-up send", func() bool { return len(fx.ch.SentTexts()) == 2 })
	sent := fx.ch.SentTexts()
	if sent[1] != "are you still there" {
		t.Errorf("SentTexts = %q", sent)
	}
	select {
	case n := <-fx.orch.Notifications():
		t.Errorf("unexpected notification %+v", n)
	default:
	}
}

func TestOrchestrator_ResetReopensChannel(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)

	fx.orch.Reset()
	waitState(t, fx.orch, session.StateIdle)

	// The old connection is torn down and a fresh one dialed in the
	// background while the session sits idle.
	waitFor(t, "channel teardown", func() bool { return fx.ch.CloseCount() == 1 })
	waitFor(t, "background reconnect", func() bool { return fx.ch.State() == convo.StateReady })
	if got := fx.ch.ConnectCount(); got != 1 {
		t.Errorf("ConnectCount = %d, want the single background reconnect", got)
	}

	// The next cycle joins the reopened connection instead of dialing again.
	if err := fx.orch.StartListening(); err != nil {
		t.Fatalf("StartListening: %v", err)
	}
	fx.src.EmitTranscript("tell me about your day")
	fx.src.EmitEndOfSpeech()
	if n := nextNote(t, fx.orch); n.Kind != session.NoteHandoff {
		t.Fatalf("note kind = %q, want handoff", n.Kind)
	}
	waitState(t, fx.orch, session.StateConversing)
	if got := fx.ch.ConnectCount(); got != 1 {
		t.Errorf("ConnectCount = %d after handoff, want the reopened connection reused", got)
	}
}

func TestOrchestrator_ExitConversation(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)

	if err := fx.orch.StartListening(); err != nil {
		t.Fatalf("StartListening: %v", err)
	}
	fx.src.EmitTranscript("let's talk")
	fx.src.EmitEndOfSpeech()
	if n := nextNote(t, fx.orch); n.Kind != session.NoteHandoff {
		t.Fatalf("note kind = %q, want handoff", n.Kind)
	}
	waitState(t, fx.orch, session.StateConversing)

	if err := fx.orch.ExitConversation(); err != nil {
		t.Fatalf("ExitConversation: %v", err)
	}
	waitState(t, fx.orch, session.StateIdle)
	waitFor(t, "channel close", func() bool { return fx.ch.CloseCount() >= 1 })

	// A fresh cycle works after exiting.
	if err := fx.orch.StartListening(); err != nil {
		t.Errorf("StartListening after exit: %v", err)
	}
}

func TestOrchestrator_APIGuards(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)

	if err := fx.orch.SendMessage("hello"); !errors.Is(err, session.ErrNotConversing) {
		t.Errorf("SendMessage while idle = %v, want ErrNotConversing", err)
	}
	if err := fx.orch.ExitConversation(); !errors.Is(err, session.ErrNotConversing) {
		t.Errorf("ExitConversation while idle = %v, want ErrNotConversing", err)
	}

	if err := fx.orch.StartListening(); err != nil {
		t.Fatalf("StartListening: %v", err)
	}
	if err := fx.orch.StartListening(); !errors.Is(err, session.ErrBusy) {
		t.Errorf("second StartListening = %v, want ErrBusy", err)
	}
}
