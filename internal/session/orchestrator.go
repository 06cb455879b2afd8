package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/parleyhq/parley/internal/command"
	"github.com/parleyhq/parley/internal/executor"
	"github.com/parleyhq/parley/internal/intent"
	"github.com/parleyhq/parley/internal/observe"
	"github.com/parleyhq/parley/pkg/provider/classify"
	"github.com/parleyhq/parley/pkg/provider/convo"
	"github.com/parleyhq/parley/pkg/speech"
)

// DefaultSendGrace is how long a handoff waits for the conversation channel
// to become ready before the handoff fails.
const DefaultSendGrace = 500 * time.Millisecond

// Config assembles an [Orchestrator]'s collaborators.
type Config struct {
	// Source supplies transcripts and end-of-speech markers. Required.
	Source speech.Source

	// Classifier decides command-vs-conversation per utterance. Required.
	Classifier *intent.Classifier

	// Channel is the conversation channel warmed speculatively during
	// listening. Required.
	Channel convo.Channel

	// Executor runs parsed commands. Required.
	Executor executor.Executor

	// Metrics receives instrumentation. Defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// SendGrace bounds how long a handoff waits for channel readiness.
	// Defaults to [DefaultSendGrace] if zero.
	SendGrace time.Duration

	// Now is the clock used for relative due dates. Defaults to [time.Now].
	Now func() time.Time
}

// Orchestrator runs the utterance state machine on a single event loop
// goroutine. All external inputs (speech events, API calls, and completions
// of asynchronous work) arrive as events; the loop alone mutates state, so
// no result can race another.
//
// Asynchronous results are stamped with the generation of the cycle that
// spawned them. Reset and cycle completion bump the generation, so results
// from a superseded cycle are recognised and dropped on arrival.
//
// All exported methods are safe for concurrent use once Run is started.
type Orchestrator struct {
	source     speech.Source
	classifier *intent.Classifier
	channel    convo.Channel
	exec       executor.Executor
	metrics    *observe.Metrics
	sendGrace  time.Duration
	now        func() time.Time

	events  chan any
	notes   chan Notification
	runDone chan struct{}

	// stateView mirrors the loop's state for the State accessor.
	stateView chan State

	// Loop-owned fields. Only the Run goroutine touches these.
	state      State
	gen        uint64
	transcript string
	warmup     *warmupTask
	fallenBack bool
	recycling  bool
	reopen     bool
	runCtx     context.Context
}

// warmupTask tracks one speculative connection attempt. The connect runs
// under its own cancellable context; cancellation is advisory and never tears
// down a connect that already completed.
type warmupTask struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an Orchestrator from cfg, applying defaults. Run must be
// called before any other method.
func New(cfg Config) *Orchestrator {
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	grace := cfg.SendGrace
	if grace <= 0 {
		grace = DefaultSendGrace
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	o := &Orchestrator{
		source:     cfg.Source,
		classifier: cfg.Classifier,
		channel:    cfg.Channel,
		exec:       cfg.Executor,
		metrics:    metrics,
		sendGrace:  grace,
		now:        now,
		events:     make(chan any, 64),
		notes:      make(chan Notification, 32),
		runDone:    make(chan struct{}),
		stateView:  make(chan State, 1),
		state:      StateIdle,
	}
	o.stateView <- StateIdle
	return o
}

// ── events ────────────────────────────────────────────────────────────────────

type evSpeech struct{ ev speech.Event }

type evClassified struct {
	gen      uint64
	decision intent.Decision
	text     string
}

type evExecuted struct {
	gen    uint64
	kind   command.Kind
	result executor.Result
	text   string
}

type evDelivered struct {
	gen    uint64
	reason string
	err    error
}

type evChannelRecycled struct{}

type startReq struct{ reply chan error }
type resetReq struct{ reply chan struct{} }
type exitReq struct{ reply chan error }
type sendReq struct {
	text  string
	reply chan error
}

// ── public API ────────────────────────────────────────────────────────────────

// StartListening begins a new utterance cycle: speech capture plus a
// speculative channel warmup. Fails with [ErrBusy] unless the session is
// idle.
func (o *Orchestrator) StartListening() error {
	req := startReq{reply: make(chan error, 1)}
	if err := o.post(req); err != nil {
		return err
	}
	return o.await(req.reply)
}

// Reset aborts the current cycle regardless of state: pending classification
// and execution results are discarded on arrival, the warmup is cancelled,
// and the channel is torn down and reopened in the background. The session
// returns to idle.
func (o *Orchestrator) Reset() {
	req := resetReq{reply: make(chan struct{}, 1)}
	if err := o.post(req); err != nil {
		return
	}
	select {
	case <-req.reply:
	case <-o.runDone:
	}
}

// ExitConversation leaves a live conversation and returns to idle. Fails
// with [ErrNotConversing] outside one.
func (o *Orchestrator) ExitConversation() error {
	req := exitReq{reply: make(chan error, 1)}
	if err := o.post(req); err != nil {
		return err
	}
	return o.await(req.reply)
}

// SendMessage delivers a follow-up turn while conversing. Fails with
// [ErrNotConversing] outside a conversation; transport errors surface as
// NoteError notifications, not here.
func (o *Orchestrator) SendMessage(text string) error {
	req := sendReq{text: text, reply: make(chan error, 1)}
	if err := o.post(req); err != nil {
		return err
	}
	return o.await(req.reply)
}

// State returns the orchestrator's current state.
func (o *Orchestrator) State() State {
	s := <-o.stateView
	o.stateView <- s
	return s
}

// Notifications returns the stream of user-facing events. The channel is
// never closed; slow consumers lose notifications rather than stalling the
// session.
func (o *Orchestrator) Notifications() <-chan Notification {
	return o.notes
}

func (o *Orchestrator) post(ev any) error {
	select {
	case o.events <- ev:
		return nil
	case <-o.runDone:
		return ErrClosed
	}
}

func (o *Orchestrator) await(reply chan error) error {
	select {
	case err := <-reply:
		return err
	case <-o.runDone:
		return ErrClosed
	}
}

// ── run loop ──────────────────────────────────────────────────────────────────

// Run drives the orchestrator until ctx is cancelled. It starts the speech
// source and the agent reply pump, then processes events on this goroutine.
func (o *Orchestrator) Run(ctx context.Context) error {
	defer close(o.runDone)

	o.runCtx = ctx
	if err := o.source.Start(ctx); err != nil {
		return err
	}
	defer o.source.Stop()

	o.metrics.ActiveSessions.Add(ctx, 1)
	defer o.metrics.ActiveSessions.Add(ctx, -1)

	go o.speechPump(ctx)
	go o.replyPump(ctx)

	for {
		select {
		case <-ctx.Done():
			o.shutdown()
			return nil
		case ev := <-o.events:
			o.handle(ev)
		}
	}
}

// speechPump forwards speech source events into the loop.
func (o *Orchestrator) speechPump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-o.source.Events():
			o.post(evSpeech{ev: ev})
		}
	}
}

// replyPump forwards agent messages as notifications.
func (o *Orchestrator) replyPump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-o.channel.Receive():
			o.notify(Notification{Kind: NoteAgentReply, Text: msg.Text})
		}
	}
}

func (o *Orchestrator) shutdown() {
	if o.warmup != nil {
		o.warmup.cancel()
		o.warmup = nil
	}
	if err := o.channel.Close(); err != nil {
		slog.Warn("session: channel close on shutdown", "err", err)
	}
}

func (o *Orchestrator) handle(ev any) {
	switch e := ev.(type) {
	case startReq:
		e.reply <- o.handleStart()
	case resetReq:
		o.handleReset()
		e.reply <- struct{}{}
	case exitReq:
		e.reply <- o.handleExit()
	case sendReq:
		e.reply <- o.handleSend(e.text)
	case evSpeech:
		o.handleSpeech(e.ev)
	case evClassified:
		o.handleClassified(e)
	case evExecuted:
		o.handleExecuted(e)
	case evDelivered:
		o.handleDelivered(e)
	case evChannelRecycled:
		o.recycling = false
		reopen := o.reopen
		o.reopen = false
		if o.warmup != nil {
			return
		}
		// Listening always wants its warmup back; a reset additionally asked
		// for the channel to be reopened in the background.
		if o.state == StateListening || (reopen && o.state == StateIdle) {
			o.startWarmup()
		}
	}
}

func (o *Orchestrator) setState(s State) {
	o.state = s
	<-o.stateView
	o.stateView <- s
}

func (o *Orchestrator) notify(n Notification) {
	select {
	case o.notes <- n:
	default:
		slog.Warn("session: notification dropped", "kind", n.Kind)
	}
}

// ── state transitions ─────────────────────────────────────────────────────────

func (o *Orchestrator) handleStart() error {
	if o.state != StateIdle {
		return ErrBusy
	}
	o.gen++
	o.transcript = ""
	o.fallenBack = false
	o.setState(StateListening)
	// A recycle in flight means the channel is still closing; the warmup is
	// deferred until evChannelRecycled arrives. A warmup left over from a
	// reset reopen is joined as-is.
	if !o.recycling && o.warmup == nil {
		o.startWarmup()
	}
	return nil
}

func (o *Orchestrator) handleReset() {
	o.gen++
	o.transcript = ""
	o.fallenBack = false
	o.cancelWarmup()
	// The channel is torn down and reopened in the background so the next
	// cycle starts from a fresh connection.
	o.reopen = true
	o.recycle()
	o.setState(StateIdle)
}

func (o *Orchestrator) handleExit() error {
	if o.state != StateConversing {
		return ErrNotConversing
	}
	o.gen++
	o.recycle()
	o.setState(StateIdle)
	return nil
}

func (o *Orchestrator) handleSend(text string) error {
	if o.state != StateConversing {
		return ErrNotConversing
	}
	ctx := o.runCtx
	ch := o.channel
	metrics := o.metrics
	grace := o.sendGrace
	go func() {
		sctx, cancel := context.WithTimeout(ctx, grace)
		defer cancel()
		// The channel may still be mid-connect; give it the same grace a
		// handoff gets before declaring the send undeliverable.
		if err := ch.WaitReady(sctx); err != nil {
			slog.Warn("session: follow-up send failed", "err", err)
			o.post(evDelivered{err: err, reason: "follow_up"})
			return
		}
		start := time.Now()
		err := ch.Send(sctx, text)
		metrics.SendDuration.Record(ctx, time.Since(start).Seconds())
		if err != nil {
			slog.Warn("session: follow-up send failed", "err", err)
			o.post(evDelivered{err: err, reason: "follow_up"})
		}
	}()
	return nil
}

func (o *Orchestrator) handleSpeech(ev speech.Event) {
	if o.state != StateListening {
		return
	}
	switch ev.Kind {
	case speech.KindTranscript:
		o.transcript = ev.Text
	case speech.KindEndOfSpeech:
		text := strings.TrimSpace(o.transcript)
		if text == "" {
			// Nothing was said. Abandon an unfinished dial, but a connection
			// that already reached ready stays open for the next cycle.
			o.gen++
			o.cancelWarmup()
			o.setState(StateIdle)
			return
		}
		o.setState(StateClassifying)
		o.spawnClassify(o.gen, text)
	}
}

func (o *Orchestrator) handleClassified(e evClassified) {
	if e.gen != o.gen || o.state != StateClassifying {
		o.metrics.RecordDiscarded(o.runCtx, "classification")
		return
	}
	switch {
	case e.decision.Verdict == classify.VerdictCommand:
		o.setState(StateExecuting)
		cmd := command.Parse(e.text, o.now())
		o.spawnExecute(o.gen, cmd, e.text)
	default:
		reason := "classified"
		if e.decision.Source == intent.SourceFallback {
			reason = "fallback"
		}
		o.spawnDeliver(o.gen, e.text, reason)
	}
}

func (o *Orchestrator) handleExecuted(e evExecuted) {
	if e.gen != o.gen || o.state != StateExecuting {
		o.metrics.RecordDiscarded(o.runCtx, "execution")
		return
	}
	status := "ok"
	if !e.result.OK {
		status = "error"
	}
	o.metrics.RecordCommand(o.runCtx, string(e.kind), status)

	if e.result.OK {
		o.notify(Notification{Kind: NoteCommandResult, Text: e.result.Message})
		// A warmed channel that reached ready is kept open for the next
		// turn; only an unfinished dial is abandoned.
		o.gen++
		o.cancelWarmup()
		o.setState(StateIdle)
		return
	}

	o.notify(Notification{Kind: NoteCommandResult, Text: e.result.Message, Err: e.result.Err})

	// A failed command falls back to conversation exactly once per cycle;
	// a second failure ends the cycle instead of looping.
	if o.fallenBack {
		o.gen++
		o.cancelWarmup()
		o.setState(StateIdle)
		return
	}
	o.fallenBack = true
	o.spawnDeliver(o.gen, e.text, "command_failed")
}

func (o *Orchestrator) handleDelivered(e evDelivered) {
	if e.reason == "follow_up" {
		// Follow-up sends never change state; surface the failure only.
		o.notify(Notification{
			Kind: NoteError,
			Text: "I couldn't reach the conversation service.",
			Err:  e.err,
		})
		return
	}
	if e.gen != o.gen {
		o.metrics.RecordDiscarded(o.runCtx, "delivery")
		return
	}
	if e.err != nil {
		o.notify(Notification{
			Kind: NoteError,
			Text: "I couldn't reach the conversation service.",
			Err:  e.err,
		})
		o.gen++
		o.cancelWarmup()
		o.recycle()
		o.setState(StateIdle)
		return
	}
	o.metrics.RecordHandoff(o.runCtx, e.reason)
	o.warmup = nil
	o.setState(StateConversing)
	o.notify(Notification{Kind: NoteHandoff, Text: "Connected, go ahead."})
}

// ── async work ────────────────────────────────────────────────────────────────

// startWarmup opens the conversation channel in the background so a
// conversational verdict can be handed off with no connect on the critical
// path.
func (o *Orchestrator) startWarmup() {
	wctx, cancel := context.WithCancel(context.Background())
	task := &warmupTask{cancel: cancel, done: make(chan struct{})}
	o.warmup = task

	ch := o.channel
	metrics := o.metrics
	rctx := o.runCtx
	go func() {
		defer cancel()
		start := time.Now()
		// The outcome is read off the channel state when a delivery joins
		// the task; an advisory cancel is not a failure worth logging.
		if err := ch.Connect(wctx); err != nil && wctx.Err() == nil {
			slog.Debug("session: warmup connect failed", "err", err)
		}
		metrics.WarmupDuration.Record(rctx, time.Since(start).Seconds())
		close(task.done)
	}()
}

// cancelWarmup abandons the current warmup. The cancel is advisory: a
// connect still in flight stops, a completed one stays open until the channel
// is recycled.
func (o *Orchestrator) cancelWarmup() {
	if o.warmup != nil {
		o.warmup.cancel()
		o.warmup = nil
	}
}

// recycle closes the channel in the background and defers new warmups until
// the close has finished.
func (o *Orchestrator) recycle() {
	o.recycling = true
	ch := o.channel
	go func() {
		if err := ch.Close(); err != nil {
			slog.Warn("session: channel recycle", "err", err)
		}
		o.post(evChannelRecycled{})
	}()
}

func (o *Orchestrator) spawnClassify(gen uint64, text string) {
	classifier := o.classifier
	metrics := o.metrics
	ctx := o.runCtx
	go func() {
		start := time.Now()
		d := classifier.Classify(ctx, text)
		metrics.ClassificationDuration.Record(ctx, time.Since(start).Seconds())
		metrics.RecordClassification(ctx, string(d.Source), string(d.Verdict))
		if d.Source == intent.SourceFallback {
			metrics.RecordFallback(ctx, fallbackCause(d.Err))
		}
		o.post(evClassified{gen: gen, decision: d, text: text})
	}()
}

func (o *Orchestrator) spawnExecute(gen uint64, cmd command.Command, text string) {
	exec := o.exec
	metrics := o.metrics
	ctx := o.runCtx
	go func() {
		start := time.Now()
		res := exec.Execute(ctx, cmd)
		metrics.ExecutionDuration.Record(ctx, time.Since(start).Seconds())
		o.post(evExecuted{gen: gen, kind: cmd.Kind, result: res, text: text})
	}()
}

// spawnDeliver hands the transcript to the conversation channel: it joins the
// warmup, makes at most one fresh connect if the warmup failed or was
// cancelled, then waits for readiness and sends, all within the grace
// window.
func (o *Orchestrator) spawnDeliver(gen uint64, text, reason string) {
	task := o.warmup
	ch := o.channel
	metrics := o.metrics
	ctx := o.runCtx
	grace := o.sendGrace
	go func() {
		if task != nil {
			select {
			case <-task.done:
			case <-ctx.Done():
				o.post(evDelivered{gen: gen, reason: reason, err: ctx.Err()})
				return
			}
		}

		gctx, cancel := context.WithTimeout(ctx, grace)
		defer cancel()

		if !ch.State().Live() {
			// The warmup failed, was cancelled before completing, or never
			// ran. One fresh attempt within the grace window.
			if err := ch.Connect(gctx); err != nil {
				o.post(evDelivered{gen: gen, reason: reason, err: err})
				return
			}
		}
		if err := ch.WaitReady(gctx); err != nil {
			o.post(evDelivered{gen: gen, reason: reason, err: err})
			return
		}

		start := time.Now()
		err := ch.Send(gctx, text)
		metrics.SendDuration.Record(ctx, time.Since(start).Seconds())
		o.post(evDelivered{gen: gen, reason: reason, err: err})
	}()
}

// fallbackCause maps a classification failure to a metric attribute value.
func fallbackCause(err error) string {
	switch {
	case err == nil:
		return "unknown"
	case errors.Is(err, intent.ErrTimeout):
		return "timeout"
	default:
		return "transport"
	}
}
