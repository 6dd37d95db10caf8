// Package orchestrator implements the ConversationOrchestrator (§4.8): the
// single-event-loop component that owns the session state machine, swaps
// between premium and efficient backends per the AdaptiveRouter's decision,
// forwards captured audio, dispatches tool calls through the
// FunctionExecutor, and republishes everything as a typed event stream.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aria-voice/aria-core/pkg/audio"
	"github.com/aria-voice/aria-core/pkg/backend"
	"github.com/aria-voice/aria-core/pkg/clock"
	"github.com/aria-voice/aria-core/pkg/executor"
	"github.com/aria-voice/aria-core/pkg/ledger"
	"github.com/aria-voice/aria-core/pkg/router"
	"github.com/aria-voice/aria-core/pkg/session"
)

// Sink is the audio-sink external interface (§6): accepts outbound PCM and
// signals flush at the end of a synthesized response.
type Sink interface {
	Write(pcm []byte) error
	Flush() error
}

// Scheduler is the seam the idle conversational nudge times through,
// letting tests fire it deterministically instead of waiting on a real
// timer.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) CancelFunc
}

// CancelFunc stops a scheduled callback; calling it after it has already
// fired is a no-op.
type CancelFunc func()

// RealScheduler wraps time.AfterFunc.
type RealScheduler struct{}

func (RealScheduler) AfterFunc(d time.Duration, f func()) CancelFunc {
	t := time.AfterFunc(d, f)
	return func() { t.Stop() }
}

// BackendFactory builds a fresh backend for the given mode. Efficient
// backends are lightweight (cheap to rebuild per §4.8); premium backends
// require a new session handshake, which Connect performs.
type BackendFactory func(mode backend.Mode) (backend.Backend, error)

// Config holds the §6 configuration-table knobs this package reads, plus
// the supplemented barge-in tunable from §9.
type Config struct {
	WakeKeyword            string
	WakeSensitivity        float64
	MinWordsToInterrupt    int
	IdleNudgeInterval      time.Duration
	MaxIdleNudgesPerIdle   int
	NudgePrompts           []string
	BargeInWindow          time.Duration
	EchoSuppressionEnabled bool
}

// DefaultConfig mirrors §6's defaults plus this module's barge-in tunables.
func DefaultConfig() Config {
	return Config{
		WakeKeyword:          "jarvis",
		WakeSensitivity:      0.5,
		MinWordsToInterrupt:  2,
		IdleNudgeInterval:    10 * time.Second,
		MaxIdleNudgesPerIdle: 2,
		NudgePrompts: []string{
			"Still there? Let me know if you need anything else.",
			"I'm here whenever you're ready.",
		},
		BargeInWindow:          600 * time.Millisecond,
		EchoSuppressionEnabled: true,
	}
}

// bargeInTranscriber is the narrow seam used only to confirm a candidate
// interruption is real speech, not echo (§9 supplemented "Barge-in /
// interruption with minimum-word threshold"). Any STT provider satisfies
// it; wiring is optional.
type bargeInTranscriber interface {
	Transcribe(ctx context.Context, pcm []byte, lang session.Language) (string, error)
}

// Option configures a ConversationOrchestrator at construction time.
type Option func(*ConversationOrchestrator)

func WithLogger(l session.Logger) Option   { return func(o *ConversationOrchestrator) { o.logger = l } }
func WithSink(s Sink) Option               { return func(o *ConversationOrchestrator) { o.sink = s } }
func WithClock(c clock.Clock) Option       { return func(o *ConversationOrchestrator) { o.clock = c } }
func WithScheduler(s Scheduler) Option     { return func(o *ConversationOrchestrator) { o.scheduler = s } }
func WithWakewordDetector(w WakewordDetector) Option {
	return func(o *ConversationOrchestrator) { o.wake = w }
}
func WithBargeInTranscriber(t bargeInTranscriber, lang session.Language) Option {
	return func(o *ConversationOrchestrator) { o.bargeInSTT = t; o.bargeInLang = lang }
}
func WithSharedSession(s *session.Session) Option {
	return func(o *ConversationOrchestrator) { o.sharedSession = s }
}

// ConversationOrchestrator is the §4.8 component. It is not safe for
// concurrent use by multiple goroutines beyond the single-event-loop model
// of §5: callers serialize HandleAudioFrame/CommitUtterance/Start/Stop.
type ConversationOrchestrator struct {
	mu sync.Mutex

	sm       *session.StateMachine
	router   *router.AdaptiveRouter
	executor *executor.Executor
	costs    *ledger.Ledger
	clock    clock.Clock
	logger   session.Logger
	cfg      Config

	factory BackendFactory
	active  backend.Backend
	unsubs  []backend.Unsubscribe

	sink          Sink
	echo          *EchoSuppressor
	wake          WakewordDetector
	scheduler     Scheduler
	sharedSession *session.Session

	bargeInSTT  bargeInTranscriber
	bargeInLang session.Language
	bargeInBuf  []byte

	emit *Emitter

	started      bool
	nudgeCount   int
	idleCancel   CancelFunc
	tracker      *latencyTracker
	currentMode  backend.Mode
	ledgerMark   int
	current      audio.Utterance
	utteranceSeq int
}

// New builds a ConversationOrchestrator over the given factory, router,
// executor and cost ledger.
func New(factory BackendFactory, r *router.AdaptiveRouter, exec *executor.Executor, costs *ledger.Ledger, cfg Config, opts ...Option) *ConversationOrchestrator {
	o := &ConversationOrchestrator{
		sm:       session.NewStateMachine(),
		router:   r,
		executor: exec,
		costs:    costs,
		clock:    clock.System{},
		logger:   session.NoOpLogger{},
		cfg:      cfg,
		factory:  factory,
		echo:     NewEchoSuppressor(),
		wake:     NoOpWakewordDetector{},
		emit:     NewEmitter(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.scheduler == nil {
		o.scheduler = RealScheduler{}
	}
	o.logger = session.OrDefault(o.logger)
	o.echo.SetEnabled(cfg.EchoSuppressionEnabled)
	return o
}

// On subscribes to one orchestrator event.
func (o *ConversationOrchestrator) On(name EventName, handler func(Event)) Unsubscribe {
	return o.emit.On(name, handler)
}

// Status returns the current state-machine value.
func (o *ConversationOrchestrator) Status() session.Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sm.Current()
}

// Start performs the initial routing decision, connects the chosen
// backend, and arms the idle nudge. Calling Start twice without an
// intervening Stop returns ErrAlreadyStarted.
func (o *ConversationOrchestrator) Start(ctx context.Context, hint router.InteractionHint) error {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return ErrAlreadyStarted
	}
	o.mu.Unlock()

	if err := o.routeAndConnect(ctx, hint); err != nil {
		return err
	}

	o.mu.Lock()
	o.started = true
	o.armIdleNudgeLocked()
	o.mu.Unlock()
	return nil
}

// Stop is idempotent: a second call while already stopped is a no-op (§5,
// §8 round-trip property). It cancels the idle timer, disconnects the
// backend intentionally (suppressing reconnection), drains the sink,
// clears the shared message buffer if one was wired, and forces idle.
func (o *ConversationOrchestrator) Stop() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.started {
		return nil
	}

	o.cancelIdleNudgeLocked()
	o.unsubscribeLocked()
	if o.active != nil {
		_ = o.active.Disconnect(true)
		o.active = nil
	}
	if o.sink != nil {
		_ = o.sink.Flush()
	}
	if o.sharedSession != nil {
		o.sharedSession.Clear()
	}
	o.bargeInBuf = nil
	o.current = audio.Utterance{}
	o.sm.Force(session.StatusIdle)
	o.started = false
	o.emitStatusLocked()
	return nil
}

// routeAndConnect tears down the active backend (if any) and builds the one
// the router currently picks, only reconnecting when the mode actually
// changes (§4.8: "if the chosen mode differs from the active backend, tear
// down and instantiate the other"). It must never be called while o.mu is
// held: Connect/Disconnect run unlocked so a backend that synchronously
// fires an event it owns can safely call back into handleBackendEvent
// without re-entering this goroutine's own mutex.
func (o *ConversationOrchestrator) routeAndConnect(ctx context.Context, hint router.InteractionHint) error {
	o.mu.Lock()
	decision := o.router.Route(hint)
	if o.active != nil && decision.Mode == o.currentMode {
		o.mu.Unlock()
		return nil
	}
	old := o.active
	if old != nil {
		o.unsubscribeLocked()
	}
	o.mu.Unlock()

	if old != nil {
		_ = old.Disconnect(true)
	}

	b, err := o.factory(decision.Mode)
	if err != nil {
		return fmt.Errorf("orchestrator: build backend for mode %s: %w", decision.Mode, err)
	}

	o.mu.Lock()
	o.subscribeLocked(b)
	o.mu.Unlock()

	if err := b.Connect(ctx); err != nil {
		return fmt.Errorf("orchestrator: connect backend: %w", err)
	}

	o.mu.Lock()
	o.active = b
	o.currentMode = decision.Mode
	o.mu.Unlock()
	o.logger.Info("routed", "mode", decision.Mode, "reason", decision.Reason)
	return nil
}

func (o *ConversationOrchestrator) subscribeLocked(b backend.Backend) {
	names := []backend.EventName{
		backend.EventAudioChunk, backend.EventAudioDone,
		backend.EventResponseDone, backend.EventToolCall,
		backend.EventTranscription, backend.EventResponse,
		backend.EventStage, backend.EventError,
		backend.EventReconnectionFailed,
	}
	for _, n := range names {
		name := n
		unsub := b.On(name, func(evt backend.Event) { o.handleBackendEvent(evt) })
		o.unsubs = append(o.unsubs, unsub)
	}
}

func (o *ConversationOrchestrator) unsubscribeLocked() {
	for _, u := range o.unsubs {
		u()
	}
	o.unsubs = nil
}

// HandleAudioFrame is the audio source's push entry point. While
// status=speaking or status=error every frame is discarded before it ever
// reaches a backend (§8 invariant 3); a non-echo frame observed during
// speaking is buffered as a barge-in candidate instead.
func (o *ConversationOrchestrator) HandleAudioFrame(ctx context.Context, frame audio.Frame) error {
	o.mu.Lock()
	if !o.started {
		o.mu.Unlock()
		return ErrNotStarted
	}

	if o.wake.Detect(frame.PCM) {
		o.emit.Emit(Event{Name: EventWakeword, Payload: WakewordPayload{Detected: true}})
	}

	switch o.sm.Current() {
	case session.StatusError:
		o.mu.Unlock()
		return nil
	case session.StatusSpeaking:
		o.considerBargeInLocked(ctx, frame)
		o.mu.Unlock()
		return nil
	}

	wasIdle := o.sm.Current() == session.StatusIdle
	o.mu.Unlock()

	if wasIdle {
		if err := o.routeAndConnect(ctx, router.InteractionNone); err != nil {
			return err
		}
		o.mu.Lock()
		_ = o.sm.Transition(session.StatusListening)
		o.cancelIdleNudgeLocked()
		o.nudgeCount = 0
		o.emitStatusLocked()
		o.mu.Unlock()
	}

	o.mu.Lock()
	active := o.active
	if o.current.State == "" {
		o.utteranceSeq++
		o.current = audio.Utterance{ID: fmt.Sprintf("u%d", o.utteranceSeq), State: audio.UtteranceCapturing, Start: o.clock.Now()}
	}
	o.current.Append(frame)
	o.mu.Unlock()
	if active == nil {
		return ErrNoActiveBackend
	}
	return active.AppendAudio(ctx, frame)
}

// considerBargeInLocked accumulates non-echo audio observed while the bot
// is speaking and, once enough has built up, transcribes the snippet to
// confirm it clears the minimum-word threshold before treating it as a
// genuine interruption (§9 supplemented barge-in gating).
func (o *ConversationOrchestrator) considerBargeInLocked(ctx context.Context, frame audio.Frame) {
	if o.echo.IsEcho(frame.PCM) {
		o.bargeInBuf = nil
		return
	}
	o.bargeInBuf = append(o.bargeInBuf, frame.PCM...)

	approxDuration := frame.Duration() * time.Duration(len(o.bargeInBuf)) / time.Duration(max(len(frame.PCM), 1))
	if approxDuration < o.cfg.BargeInWindow {
		return
	}

	words := 0
	if o.bargeInSTT != nil {
		text, err := o.bargeInSTT.Transcribe(ctx, o.bargeInBuf, o.bargeInLang)
		if err == nil {
			words = countWords(text)
		}
	} else {
		words = o.cfg.MinWordsToInterrupt
	}
	o.bargeInBuf = nil

	if words >= o.cfg.MinWordsToInterrupt {
		o.interruptLocked()
	}
}

func countWords(s string) int {
	n := 0
	inWord := false
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' {
			inWord = false
			continue
		}
		if !inWord {
			n++
			inWord = true
		}
	}
	return n
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func (o *ConversationOrchestrator) interruptLocked() {
	o.emit.Emit(Event{Name: EventInterrupted})
	if o.sink != nil {
		_ = o.sink.Flush()
	}
	o.echo.ClearEchoBuffer()
	o.sm.Force(session.StatusIdle)
	_ = o.sm.Transition(session.StatusListening)
	o.emitStatusLocked()
}

// CommitUtterance marks the utterance boundary (speech_stop): listening
// moves to thinking and the active backend runs its reasoning chain.
func (o *ConversationOrchestrator) CommitUtterance(ctx context.Context) error {
	o.mu.Lock()
	if !o.started || o.active == nil {
		o.mu.Unlock()
		return ErrNoActiveBackend
	}
	if err := o.sm.Transition(session.StatusThinking); err != nil {
		o.mu.Unlock()
		return err
	}
	o.tracker = newLatencyTracker(o.clock.Now())
	o.ledgerMark = len(o.costs.Snapshot())
	o.current.State = audio.UtteranceCommitted
	o.emitStatusLocked()
	active := o.active
	o.mu.Unlock()

	return active.CommitAudio(ctx)
}

func (o *ConversationOrchestrator) handleBackendEvent(evt backend.Event) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch evt.Name {
	case backend.EventStage:
		o.onStageLocked(evt.Payload.(backend.StagePayload).Stage)
	case backend.EventTranscription:
		o.emit.Emit(Event{Name: EventTranscript, Payload: TranscriptPayload{Role: session.RoleUser, Text: evt.Payload.(backend.TextPayload).Text}})
	case backend.EventResponse:
		o.emit.Emit(Event{Name: EventTranscript, Payload: TranscriptPayload{Role: session.RoleAssistant, Text: evt.Payload.(backend.TextPayload).Text}})
	case backend.EventAudioChunk:
		o.onAudioChunkLocked(evt.Payload.(backend.AudioChunkPayload).PCM)
	case backend.EventResponseDone:
		o.onResponseDoneLocked()
	case backend.EventToolCall:
		o.onToolCallLocked(evt.Payload.(backend.ToolCallPayload).Call)
	case backend.EventError:
		p := evt.Payload.(backend.ErrorPayload)
		o.logger.Warn("backend error", "message", p.Message, "fatal", p.Fatal)
		o.emit.Emit(Event{Name: EventError, Payload: ErrorPayload{Message: p.Message, Fatal: p.Fatal}})
		if p.Fatal {
			o.sm.Force(session.StatusError)
			o.emitStatusLocked()
		}
	case backend.EventReconnectionFailed:
		o.logger.Error("reconnection attempts exhausted")
		o.emit.Emit(Event{Name: EventError, Payload: ErrorPayload{Message: "reconnection attempts exhausted", Fatal: true}})
		o.sm.Force(session.StatusError)
		o.emitStatusLocked()
	}
}

func (o *ConversationOrchestrator) onStageLocked(stage string) {
	now := o.clock.Now()
	if o.tracker == nil {
		o.tracker = newLatencyTracker(now)
	} else {
		o.tracker.leaveStage(now, prevStage(stage))
	}
	o.tracker.enterStage(now)

	// The efficient backend only announces stage starts, so the stage
	// beginning now tells us which one the utterance just finished (§3
	// Capturing->Committed->Transcribed->Responded->Synthesized->Played).
	switch stage {
	case "reasoning":
		o.current.State = audio.UtteranceTranscribed
	case "synthesizing":
		o.current.State = audio.UtteranceResponded
	}
}

// prevStage infers which stage just finished from the one that's starting,
// since the backend only announces stage *starts* (§8 S6 event sequence).
func prevStage(next string) string {
	switch next {
	case "reasoning":
		return "transcribing"
	case "synthesizing":
		return "reasoning"
	default:
		return ""
	}
}

func (o *ConversationOrchestrator) onAudioChunkLocked(pcm []byte) {
	if o.sm.Current() != session.StatusSpeaking {
		_ = o.sm.Transition(session.StatusSpeaking)
		o.emit.Emit(Event{Name: EventAudioPlaying})
		o.emitStatusLocked()
	}
	// Premium sessions skip the transcribe/reason stage announcements
	// entirely and go straight from Committed to Streaming once audio
	// starts flowing (§3 Capturing->Committed->Streaming->Done).
	if o.currentMode == backend.ModePremium && o.current.State == audio.UtteranceCommitted {
		o.current.State = audio.UtteranceStreaming
	}
	o.echo.RecordPlayedAudio(pcm)
	if o.sink != nil {
		_ = o.sink.Write(pcm)
	}
}

func (o *ConversationOrchestrator) onResponseDoneLocked() {
	now := o.clock.Now()
	if o.tracker != nil {
		o.tracker.leaveStage(now, "synthesizing")
	}

	if o.currentMode == backend.ModePremium {
		o.current.State = audio.UtteranceDone
	} else if o.current.State != "" {
		o.current.State = audio.UtteranceSynthesized
	}

	if o.sink != nil {
		_ = o.sink.Flush()
	}
	if o.current.State == audio.UtteranceSynthesized {
		// The sink flush above is the last point this backend hands off
		// playback; there's no separate playback-finished signal to wait on.
		o.current.State = audio.UtterancePlayed
	}
	o.current.End = now
	o.emit.Emit(Event{Name: EventAudioStopped})

	cost := o.costSinceMarkLocked()
	var breakdown LatencyBreakdown
	if o.tracker != nil {
		breakdown = o.tracker.finish(now)
	}
	o.emit.Emit(Event{Name: EventMetrics, Payload: MetricsPayload{Breakdown: breakdown, Cost: cost}})
	o.emit.Emit(Event{Name: EventInteractionComplete, Payload: InteractionCompletePayload{Mode: string(o.currentMode), Cost: cost}})
	o.tracker = nil
	o.current = audio.Utterance{}

	if o.sm.Current() == session.StatusSpeaking {
		_ = o.sm.Transition(session.StatusIdle)
	} else {
		o.sm.Force(session.StatusIdle)
	}
	o.emitStatusLocked()
	o.armIdleNudgeLocked()
}

func (o *ConversationOrchestrator) costSinceMarkLocked() float64 {
	entries := o.costs.Snapshot()
	if o.ledgerMark > len(entries) {
		return 0
	}
	var total float64
	for _, e := range entries[o.ledgerMark:] {
		total += e.Amount
	}
	return total
}

func (o *ConversationOrchestrator) onToolCallLocked(call session.ToolCall) {
	_ = o.sm.Transition(session.StatusExecuting)
	o.emitStatusLocked()

	active := o.active
	o.mu.Unlock()

	result, err := o.executor.Execute(context.Background(), call.Name, call.Arguments)

	toolResult := session.ToolResult{CallID: call.CallID, Result: result}
	if err != nil {
		toolResult.Error = err.Error()
	}
	// SendToolResult may synchronously run the efficient backend's
	// reasoning stage to completion once every pending call is resolved,
	// firing events back into handleBackendEvent; it must run unlocked.
	if active != nil {
		_ = active.SendToolResult(context.Background(), toolResult)
	}

	o.mu.Lock()
	_ = o.sm.Transition(session.StatusThinking)
	o.emitStatusLocked()
}

func (o *ConversationOrchestrator) emitStatusLocked() {
	o.emit.Emit(Event{Name: EventStatus, Payload: StatusPayload{Status: o.sm.Current()}})
}

func (o *ConversationOrchestrator) armIdleNudgeLocked() {
	o.cancelIdleNudgeLocked()
	if o.cfg.IdleNudgeInterval <= 0 || len(o.cfg.NudgePrompts) == 0 {
		return
	}
	o.idleCancel = o.scheduler.AfterFunc(o.cfg.IdleNudgeInterval, o.fireIdleNudge)
}

func (o *ConversationOrchestrator) cancelIdleNudgeLocked() {
	if o.idleCancel != nil {
		o.idleCancel()
		o.idleCancel = nil
	}
}

func (o *ConversationOrchestrator) fireIdleNudge() {
	o.mu.Lock()
	if !o.started || o.sm.Current() != session.StatusIdle || o.active == nil {
		o.mu.Unlock()
		return
	}
	if o.nudgeCount >= o.cfg.MaxIdleNudgesPerIdle {
		o.mu.Unlock()
		return
	}
	prompt := o.cfg.NudgePrompts[o.nudgeCount%len(o.cfg.NudgePrompts)]
	o.nudgeCount++
	active := o.active
	o.mu.Unlock()

	// SendText may synchronously run the efficient backend's full
	// synthesize chain, which fires events back into handleBackendEvent;
	// it must run with o.mu released.
	_ = active.SendText(context.Background(), prompt)

	o.mu.Lock()
	o.armIdleNudgeLocked()
	o.mu.Unlock()
}
