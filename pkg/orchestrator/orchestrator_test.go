package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aria-voice/aria-core/pkg/audio"
	"github.com/aria-voice/aria-core/pkg/backend"
	"github.com/aria-voice/aria-core/pkg/catalog"
	"github.com/aria-voice/aria-core/pkg/clock"
	"github.com/aria-voice/aria-core/pkg/executor"
	"github.com/aria-voice/aria-core/pkg/ledger"
	"github.com/aria-voice/aria-core/pkg/router"
	"github.com/aria-voice/aria-core/pkg/session"
)

// fakeBackend stands in for both real backends. Its CommitAudio/SendText/
// SendToolResult can be scripted to fire events synchronously on the
// caller's goroutine, mirroring the efficient backend's actual behavior —
// any orchestrator call site that doesn't survive this is a deadlock.
type fakeBackend struct {
	mu       sync.Mutex
	mode     backend.Mode
	handlers map[backend.EventName][]func(backend.Event)

	connectErr      error
	connectCount    int
	disconnectCount int
	appended        []audio.Frame
	committedCount  int
	toolResults     []session.ToolResult
	sentTexts       []string

	onCommit     func(b *fakeBackend)
	onToolResult func(b *fakeBackend, result session.ToolResult)
	onSendText   func(b *fakeBackend, text string)
}

func newFakeBackend(mode backend.Mode) *fakeBackend {
	return &fakeBackend{mode: mode, handlers: make(map[backend.EventName][]func(backend.Event))}
}

func (b *fakeBackend) Mode() backend.Mode { return b.mode }

func (b *fakeBackend) Connect(ctx context.Context) error {
	b.connectCount++
	return b.connectErr
}

func (b *fakeBackend) AppendAudio(ctx context.Context, frame audio.Frame) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.appended = append(b.appended, frame)
	return nil
}

func (b *fakeBackend) CommitAudio(ctx context.Context) error {
	b.committedCount++
	if b.onCommit != nil {
		b.onCommit(b)
	}
	return nil
}

func (b *fakeBackend) SendText(ctx context.Context, text string) error {
	b.mu.Lock()
	b.sentTexts = append(b.sentTexts, text)
	b.mu.Unlock()
	if b.onSendText != nil {
		b.onSendText(b, text)
	}
	return nil
}

func (b *fakeBackend) SendToolResult(ctx context.Context, result session.ToolResult) error {
	b.mu.Lock()
	b.toolResults = append(b.toolResults, result)
	b.mu.Unlock()
	if b.onToolResult != nil {
		b.onToolResult(b, result)
	}
	return nil
}

func (b *fakeBackend) Disconnect(intentional bool) error {
	b.disconnectCount++
	return nil
}

func (b *fakeBackend) On(name backend.EventName, handler func(backend.Event)) backend.Unsubscribe {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = append(b.handlers[name], handler)
	return func() {}
}

// emit fires every handler registered for evt.Name synchronously, exactly
// as backend.Emitter does.
func (b *fakeBackend) emit(evt backend.Event) {
	b.mu.Lock()
	hs := append([]func(backend.Event){}, b.handlers[evt.Name]...)
	b.mu.Unlock()
	for _, h := range hs {
		h(evt)
	}
}

// fakeScheduler lets a test fire the idle nudge deterministically instead
// of waiting on a real timer.
type fakeScheduler struct {
	mu       sync.Mutex
	lastFunc func()
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) CancelFunc {
	s.mu.Lock()
	s.lastFunc = f
	s.mu.Unlock()
	return func() {}
}

func (s *fakeScheduler) fire() {
	s.mu.Lock()
	f := s.lastFunc
	s.mu.Unlock()
	if f != nil {
		f()
	}
}

func testFrame(pcm []byte) audio.Frame {
	return audio.Frame{PCM: pcm, SampleRate: 16000, Channels: 1, CapturedAt: time.Now()}
}

func newTestOrchestrator(t *testing.T, factory BackendFactory, opts ...Option) (*ConversationOrchestrator, *router.AdaptiveRouter, *ledger.Ledger) {
	t.Helper()
	now := time.Date(2026, 1, 1, 3, 0, 0, 0, time.UTC) // off-peak: router picks efficient (time_of_day)
	c := clock.NewFrozen(now)
	costs := ledger.New(c, 1.00, 30.00)
	r := router.New(costs, c, router.DefaultConfig)
	exec := executor.New(catalog.Default, executor.NewPolicy(nil, nil), executor.WithClock(c))

	cfg := DefaultConfig()
	cfg.IdleNudgeInterval = time.Second
	cfg.MaxIdleNudgesPerIdle = 2

	allOpts := append([]Option{WithClock(c)}, opts...)
	o := New(factory, r, exec, costs, cfg, allOpts...)
	return o, r, costs
}

func TestStartConnectsChosenBackend(t *testing.T) {
	fb := newFakeBackend(backend.ModePremium)
	o, _, _ := newTestOrchestrator(t, func(mode backend.Mode) (backend.Backend, error) { return fb, nil })

	if err := o.Start(context.Background(), router.InteractionNone); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if fb.connectCount != 1 {
		t.Fatalf("expected exactly one Connect call, got %d", fb.connectCount)
	}
	if o.Status() != session.StatusIdle {
		t.Fatalf("expected idle after Start, got %s", o.Status())
	}
}

func TestStartTwiceReturnsAlreadyStarted(t *testing.T) {
	fb := newFakeBackend(backend.ModePremium)
	o, _, _ := newTestOrchestrator(t, func(mode backend.Mode) (backend.Backend, error) { return fb, nil })

	if err := o.Start(context.Background(), router.InteractionNone); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := o.Start(context.Background(), router.InteractionNone); err != ErrAlreadyStarted {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
}

func TestHandleAudioFrameTransitionsIdleToListening(t *testing.T) {
	fb := newFakeBackend(backend.ModePremium)
	o, _, _ := newTestOrchestrator(t, func(mode backend.Mode) (backend.Backend, error) { return fb, nil })
	if err := o.Start(context.Background(), router.InteractionNone); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := o.HandleAudioFrame(context.Background(), testFrame([]byte{1, 2, 3, 4})); err != nil {
		t.Fatalf("HandleAudioFrame: %v", err)
	}
	if o.Status() != session.StatusListening {
		t.Fatalf("expected listening, got %s", o.Status())
	}
	if len(fb.appended) != 1 {
		t.Fatalf("expected the frame to reach the backend, got %d appended", len(fb.appended))
	}
}

// TestZeroFramesReachBackendWhileSpeaking verifies the hard invariant that
// no frame ever reaches a backend while status=speaking.
func TestZeroFramesReachBackendWhileSpeaking(t *testing.T) {
	fb := newFakeBackend(backend.ModePremium)
	o, _, _ := newTestOrchestrator(t, func(mode backend.Mode) (backend.Backend, error) { return fb, nil })
	if err := o.Start(context.Background(), router.InteractionNone); err != nil {
		t.Fatalf("Start: %v", err)
	}
	_ = o.HandleAudioFrame(context.Background(), testFrame([]byte{1, 2, 3, 4}))
	_ = o.CommitUtterance(context.Background())
	fb.appended = nil

	// Backend starts talking: this moves the state machine to speaking.
	fb.emit(backend.Event{Name: backend.EventAudioChunk, Payload: backend.AudioChunkPayload{PCM: []byte{9, 9, 9, 9}}})
	if o.Status() != session.StatusSpeaking {
		t.Fatalf("expected speaking, got %s", o.Status())
	}

	for i := 0; i < 5; i++ {
		_ = o.HandleAudioFrame(context.Background(), testFrame([]byte{byte(i), 0, 0, 0}))
	}
	if len(fb.appended) != 0 {
		t.Fatalf("expected zero frames forwarded while speaking, got %d", len(fb.appended))
	}
}

// TestCommitUtteranceDoesNotDeadlock scripts the backend's CommitAudio to
// fire the full synchronous event chain the efficient backend actually
// produces (stage/transcription/response/audio/response_done) inline on
// the calling goroutine, matching efficient.Backend.CommitAudio. If
// CommitUtterance or any handler re-acquires the orchestrator's mutex
// while it is already held, this test hangs rather than failing cleanly.
func TestCommitUtteranceDoesNotDeadlock(t *testing.T) {
	fb := newFakeBackend(backend.ModeEfficient)
	fb.onCommit = func(b *fakeBackend) {
		b.emit(backend.Event{Name: backend.EventStage, Payload: backend.StagePayload{Stage: "transcribing"}})
		b.emit(backend.Event{Name: backend.EventTranscription, Payload: backend.TextPayload{Text: "hello"}})
		b.emit(backend.Event{Name: backend.EventStage, Payload: backend.StagePayload{Stage: "reasoning"}})
		b.emit(backend.Event{Name: backend.EventResponse, Payload: backend.TextPayload{Text: "hi there"}})
		b.emit(backend.Event{Name: backend.EventStage, Payload: backend.StagePayload{Stage: "synthesizing"}})
		b.emit(backend.Event{Name: backend.EventAudioChunk, Payload: backend.AudioChunkPayload{PCM: []byte{1, 2}}})
		b.emit(backend.Event{Name: backend.EventResponseDone})
	}
	o, _, costs := newTestOrchestrator(t, func(mode backend.Mode) (backend.Backend, error) { return fb, nil })
	if err := o.Start(context.Background(), router.InteractionNone); err != nil {
		t.Fatalf("Start: %v", err)
	}
	_ = o.HandleAudioFrame(context.Background(), testFrame([]byte{1, 2, 3, 4}))

	done := make(chan error, 1)
	go func() { done <- o.CommitUtterance(context.Background()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("CommitUtterance: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("CommitUtterance deadlocked")
	}

	if o.Status() != session.StatusIdle {
		t.Fatalf("expected idle once the response finished, got %s", o.Status())
	}
	if len(costs.Snapshot()) != 0 {
		t.Fatalf("expected no cost entries from a backend that never calls costs.Record")
	}
}

// TestIdleNudgeFiresDeadlockFree scripts SendText to synchronously replay
// the efficient backend's synthesize chain, the same hazard CommitAudio
// exercises above but through the idle-nudge path.
func TestIdleNudgeFiresDeadlockFree(t *testing.T) {
	fb := newFakeBackend(backend.ModeEfficient)
	fb.onSendText = func(b *fakeBackend, text string) {
		b.emit(backend.Event{Name: backend.EventStage, Payload: backend.StagePayload{Stage: "synthesizing"}})
		b.emit(backend.Event{Name: backend.EventAudioChunk, Payload: backend.AudioChunkPayload{PCM: []byte{1}}})
		b.emit(backend.Event{Name: backend.EventResponseDone})
	}
	sched := &fakeScheduler{}
	o, _, _ := newTestOrchestrator(t, func(mode backend.Mode) (backend.Backend, error) { return fb, nil }, WithScheduler(sched))
	if err := o.Start(context.Background(), router.InteractionNone); err != nil {
		t.Fatalf("Start: %v", err)
	}

	done := make(chan struct{})
	go func() { sched.fire(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("idle nudge deadlocked")
	}

	if len(fb.sentTexts) != 1 {
		t.Fatalf("expected one nudge prompt sent, got %d", len(fb.sentTexts))
	}
}

// TestIdleNudgeCapsAtMaxPerIdlePeriod verifies the ≤2-follow-ups-per-idle
// invariant and that a fresh utterance resets the counter.
func TestIdleNudgeCapsAtMaxPerIdlePeriod(t *testing.T) {
	fb := newFakeBackend(backend.ModeEfficient)
	sched := &fakeScheduler{}
	o, _, _ := newTestOrchestrator(t, func(mode backend.Mode) (backend.Backend, error) { return fb, nil }, WithScheduler(sched))
	if err := o.Start(context.Background(), router.InteractionNone); err != nil {
		t.Fatalf("Start: %v", err)
	}

	sched.fire()
	sched.fire()
	sched.fire()
	if len(fb.sentTexts) != 2 {
		t.Fatalf("expected at most 2 idle nudges, got %d", len(fb.sentTexts))
	}

	// A fresh utterance should reset the nudge budget.
	_ = o.HandleAudioFrame(context.Background(), testFrame([]byte{1, 2, 3, 4}))
	fb.onCommit = func(b *fakeBackend) { b.emit(backend.Event{Name: backend.EventResponseDone}) }
	_ = o.CommitUtterance(context.Background())

	sched.fire()
	if len(fb.sentTexts) != 3 {
		t.Fatalf("expected the nudge counter to reset after a new utterance, got %d total", len(fb.sentTexts))
	}
}

// TestToolCallDispatchRoundTrip exercises the exactly-one-tool-result
// invariant against a real Executor and catalog.
func TestToolCallDispatchRoundTrip(t *testing.T) {
	fb := newFakeBackend(backend.ModeEfficient)
	o, _, _ := newTestOrchestrator(t, func(mode backend.Mode) (backend.Backend, error) { return fb, nil })
	if err := o.Start(context.Background(), router.InteractionNone); err != nil {
		t.Fatalf("Start: %v", err)
	}
	_ = o.HandleAudioFrame(context.Background(), testFrame([]byte{1, 2, 3, 4}))
	_ = o.CommitUtterance(context.Background())

	fb.emit(backend.Event{Name: backend.EventToolCall, Payload: backend.ToolCallPayload{Call: session.ToolCall{
		CallID: "call-1", Name: "query_time", Arguments: map[string]any{},
	}}})

	if len(fb.toolResults) != 1 {
		t.Fatalf("expected exactly one tool result, got %d", len(fb.toolResults))
	}
	if fb.toolResults[0].CallID != "call-1" {
		t.Fatalf("tool result call id mismatch: %q", fb.toolResults[0].CallID)
	}
	if fb.toolResults[0].Error != "" {
		t.Fatalf("expected query_time to succeed, got error %q", fb.toolResults[0].Error)
	}
	if o.Status() != session.StatusThinking {
		t.Fatalf("expected thinking after the tool result round-trip, got %s", o.Status())
	}
}

func TestStopIsIdempotent(t *testing.T) {
	fb := newFakeBackend(backend.ModePremium)
	o, _, _ := newTestOrchestrator(t, func(mode backend.Mode) (backend.Backend, error) { return fb, nil })
	if err := o.Start(context.Background(), router.InteractionNone); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := o.Stop(); err != nil {
		t.Fatalf("first Stop: %v", err)
	}
	if err := o.Stop(); err != nil {
		t.Fatalf("second Stop should be a no-op, got: %v", err)
	}
	if fb.disconnectCount != 1 {
		t.Fatalf("expected exactly one Disconnect across both Stop calls, got %d", fb.disconnectCount)
	}
	if o.Status() != session.StatusIdle {
		t.Fatalf("expected idle after Stop, got %s", o.Status())
	}
}

// TestForcedModeSwapsBackendAtUtteranceBoundary routes to efficient by
// default (off-peak), forces premium, and checks that the next utterance
// boundary tears down the old backend and connects the new one.
func TestForcedModeSwapsBackendAtUtteranceBoundary(t *testing.T) {
	built := map[backend.Mode]*fakeBackend{
		backend.ModePremium:   newFakeBackend(backend.ModePremium),
		backend.ModeEfficient: newFakeBackend(backend.ModeEfficient),
	}
	o, r, _ := newTestOrchestrator(t, func(mode backend.Mode) (backend.Backend, error) { return built[mode], nil })
	if err := o.Start(context.Background(), router.InteractionNone); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if built[backend.ModeEfficient].connectCount != 1 {
		t.Fatalf("expected efficient at construction (off-peak default), got connects=%d", built[backend.ModeEfficient].connectCount)
	}

	premium := backend.ModePremium
	r.SetForcedMode(&premium)

	if err := o.HandleAudioFrame(context.Background(), testFrame([]byte{1, 2, 3, 4})); err != nil {
		t.Fatalf("HandleAudioFrame: %v", err)
	}
	if built[backend.ModeEfficient].disconnectCount != 1 {
		t.Fatalf("expected the efficient backend to be disconnected on swap")
	}
	if built[backend.ModePremium].connectCount != 1 {
		t.Fatalf("expected the premium backend to be connected on swap")
	}
}

// TestBargeInRequiresMinimumWords confirms a short snippet doesn't
// interrupt but a longer one does, per the supplemented barge-in gate.
func TestBargeInRequiresMinimumWords(t *testing.T) {
	fb := newFakeBackend(backend.ModeEfficient)
	stt := &fakeTranscriber{text: "hi"}
	o, _, _ := newTestOrchestrator(t, func(mode backend.Mode) (backend.Backend, error) { return fb, nil },
		WithBargeInTranscriber(stt, session.LanguageEn))
	if err := o.Start(context.Background(), router.InteractionNone); err != nil {
		t.Fatalf("Start: %v", err)
	}
	_ = o.HandleAudioFrame(context.Background(), testFrame([]byte{1, 2, 3, 4}))
	_ = o.CommitUtterance(context.Background())
	fb.emit(backend.Event{Name: backend.EventAudioChunk, Payload: backend.AudioChunkPayload{PCM: []byte{9, 9}}})
	if o.Status() != session.StatusSpeaking {
		t.Fatalf("expected speaking, got %s", o.Status())
	}

	big := make([]byte, 32000) // ~1s at 16kHz mono, well past the 600ms window
	for i := range big {
		big[i] = 5
	}
	_ = o.HandleAudioFrame(context.Background(), testFrame(big))
	if o.Status() != session.StatusSpeaking {
		t.Fatalf("expected a 1-word snippet to NOT interrupt, got %s", o.Status())
	}

	stt.text = "actually please stop now"
	_ = o.HandleAudioFrame(context.Background(), testFrame(big))
	if o.Status() != session.StatusListening {
		t.Fatalf("expected a multi-word snippet to interrupt into listening, got %s", o.Status())
	}
}

type fakeTranscriber struct {
	text string
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, pcm []byte, lang session.Language) (string, error) {
	return f.text, nil
}
