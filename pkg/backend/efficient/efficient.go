// Package efficient implements the three-stage REST backend (§4.6):
// transcribe -> reason -> synthesize, run once per committed utterance
// against whichever STT/LLM/TTS providers the caller wires in. Unlike the
// premium backend it keeps no live transport between utterances; the only
// state it owns is the rolling message window (§5 "Message history: owned
// by EfficientBackend; not shared").
package efficient

import (
	"context"
	"fmt"
	"sync"

	"github.com/aria-voice/aria-core/pkg/audio"
	"github.com/aria-voice/aria-core/pkg/backend"
	"github.com/aria-voice/aria-core/pkg/catalog"
	"github.com/aria-voice/aria-core/pkg/ledger"
	"github.com/aria-voice/aria-core/pkg/providers/llm"
	"github.com/aria-voice/aria-core/pkg/providers/stt"
	"github.com/aria-voice/aria-core/pkg/providers/tts"
	"github.com/aria-voice/aria-core/pkg/resilience"
	"github.com/aria-voice/aria-core/pkg/session"
)

// Backend is the REST chain half of the §9 dual-backend abstraction.
type Backend struct {
	stt   stt.Provider
	llm   llm.Provider
	tts   tts.Provider
	sess  *session.Session
	costs *ledger.Ledger
	tools []catalog.Function
	kit   resilience.ResilienceKit
	emit  *backend.Emitter

	mu        sync.Mutex
	utterance audio.Utterance
	pending   map[string]bool // tool call IDs awaiting a result
}

// Option configures a Backend at construction.
type Option func(*Backend)

// WithResilience overrides the default stage-retry kit (tests pin a
// zero-jitter policy; production uses resilience.Default()).
func WithResilience(kit resilience.ResilienceKit) Option {
	return func(b *Backend) { b.kit = kit }
}

// New builds an efficient backend over the given providers, session and
// cost ledger. tools is advertised to the reasoning stage on every call.
func New(sttProvider stt.Provider, llmProvider llm.Provider, ttsProvider tts.Provider, sess *session.Session, costs *ledger.Ledger, tools []catalog.Function, opts ...Option) *Backend {
	b := &Backend{
		stt:   sttProvider,
		llm:   llmProvider,
		tts:   ttsProvider,
		sess:  sess,
		costs: costs,
		tools: tools,
		kit:   resilience.Default(),
		emit:  backend.NewEmitter(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Backend) Mode() backend.Mode { return backend.ModeEfficient }

// Connect is a no-op: the efficient backend has no persistent transport to
// establish (§4.6 "lightweight", §4.8 "efficient backends are lightweight").
func (b *Backend) Connect(ctx context.Context) error {
	b.emit.Emit(backend.Event{Name: backend.EventSessionReady})
	return nil
}

// AppendAudio buffers one frame of the in-progress utterance.
func (b *Backend) AppendAudio(ctx context.Context, frame audio.Frame) error {
	b.mu.Lock()
	b.utterance.Append(frame)
	b.mu.Unlock()
	return nil
}

// CommitAudio runs the transcribe -> reason -> synthesize chain over the
// buffered utterance PCM and resets the buffer (§4.6, §8 S6).
func (b *Backend) CommitAudio(ctx context.Context) error {
	b.mu.Lock()
	pcm := b.utterance.PCM()
	minutes := b.utterance.TotalDuration().Minutes()
	b.utterance = audio.Utterance{}
	b.mu.Unlock()

	if len(pcm) == 0 {
		return nil
	}

	text, err := b.transcribe(ctx, pcm, minutes)
	if err != nil {
		b.emitError(err, false)
		return err
	}

	b.sess.AddMessage(session.RoleUser, text)
	return b.reason(ctx)
}

// SendText injects text without an audio round-trip: the idle nudge speaks
// a fixed prompt directly rather than asking the model to compose one, so
// it goes straight to the synthesize stage and is recorded as an assistant
// turn (§4.8 "idle conversational nudge").
func (b *Backend) SendText(ctx context.Context, text string) error {
	b.sess.AddMessage(session.RoleAssistant, text)
	return b.synthesize(ctx, text)
}

// SendToolResult feeds a dispatched tool call's outcome back into history.
// Once every tool call from the in-flight response has a result, the
// reasoning stage runs again so the model can produce its final reply
// (§4.8 "dispatch to FunctionExecutor, return the result... restore
// status=thinking").
func (b *Backend) SendToolResult(ctx context.Context, result session.ToolResult) error {
	content := result.Result
	if result.Error != "" {
		content = map[string]string{"error": result.Error}
	}
	b.sess.AddToolMessage(session.RoleTool, fmt.Sprint(content), nil, &result)

	b.mu.Lock()
	delete(b.pending, result.CallID)
	remaining := len(b.pending)
	b.mu.Unlock()

	if remaining > 0 {
		return nil
	}
	return b.reason(ctx)
}

// Disconnect is a no-op beyond dropping any half-built utterance; there is
// no persistent transport to tear down.
func (b *Backend) Disconnect(intentional bool) error {
	b.mu.Lock()
	b.utterance = audio.Utterance{}
	b.mu.Unlock()
	b.emit.Emit(backend.Event{Name: backend.EventDisconnected})
	return nil
}

func (b *Backend) On(name backend.EventName, handler func(backend.Event)) backend.Unsubscribe {
	return b.emit.On(name, handler)
}

func (b *Backend) transcribe(ctx context.Context, pcm []byte, minutes float64) (string, error) {
	b.emit.Emit(backend.Event{Name: backend.EventStage, Payload: backend.StagePayload{Stage: "transcribing"}})

	text, err := resilience.Do(ctx, b.kit.StageRetry, b.kit.Classify, b.notifyRetry("transcribe"), func() (string, error) {
		return b.stt.Transcribe(ctx, pcm, b.sess.GetLanguage())
	})
	if err != nil {
		return "", fmt.Errorf("efficient: transcribe stage: %w", err)
	}

	b.costs.Record(ledger.ModeEfficient, ledger.StageTranscribe, ledger.Units{Minutes: minutes})
	b.emit.Emit(backend.Event{Name: backend.EventTranscription, Payload: backend.TextPayload{Text: text}})
	return text, nil
}

func (b *Backend) reason(ctx context.Context) error {
	b.emit.Emit(backend.Event{Name: backend.EventStage, Payload: backend.StagePayload{Stage: "reasoning"}})

	resp, err := resilience.Do(ctx, b.kit.StageRetry, b.kit.Classify, b.notifyRetry("reason"), func() (llm.Response, error) {
		return b.llm.Complete(ctx, b.sess.ActiveContext(), b.tools)
	})
	if err != nil {
		return fmt.Errorf("efficient: reason stage: %w", err)
	}

	b.costs.Record(ledger.ModeEfficient, ledger.StageReason, ledger.Units{
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
	})

	if len(resp.ToolCalls) > 0 {
		b.mu.Lock()
		b.pending = make(map[string]bool, len(resp.ToolCalls))
		for _, tc := range resp.ToolCalls {
			b.pending[tc.CallID] = true
		}
		b.mu.Unlock()

		b.sess.AddToolMessage(session.RoleAssistant, resp.Text, &resp.ToolCalls[0], nil)
		// Tool calls within a response are dispatched sequentially in
		// order (§5); the orchestrator resolves each via SendToolResult
		// before the next is emitted.
		for _, tc := range resp.ToolCalls {
			b.emit.Emit(backend.Event{Name: backend.EventToolCall, Payload: backend.ToolCallPayload{Call: tc}})
		}
		return nil
	}

	b.sess.AddMessage(session.RoleAssistant, resp.Text)
	b.emit.Emit(backend.Event{Name: backend.EventResponse, Payload: backend.TextPayload{Text: resp.Text}})
	return b.synthesize(ctx, resp.Text)
}

func (b *Backend) synthesize(ctx context.Context, text string) error {
	b.emit.Emit(backend.Event{Name: backend.EventStage, Payload: backend.StagePayload{Stage: "synthesizing"}})

	voice := b.sess.GetVoice()
	lang := b.sess.GetLanguage()

	var audioBytes []byte
	_, err := resilience.Do(ctx, b.kit.StageRetry, b.kit.Classify, b.notifyRetry("synthesize"), func() (struct{}, error) {
		return struct{}{}, b.tts.StreamSynthesize(ctx, text, voice, lang, func(chunk []byte) error {
			audioBytes = append(audioBytes, chunk...)
			b.emit.Emit(backend.Event{Name: backend.EventAudioChunk, Payload: backend.AudioChunkPayload{PCM: chunk}})
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("efficient: synthesize stage: %w", err)
	}

	b.costs.Record(ledger.ModeEfficient, ledger.StageSynthesize, ledger.Units{Characters: len(text)})
	b.emit.Emit(backend.Event{Name: backend.EventAudioDone, Payload: backend.AudioChunkPayload{PCM: audioBytes}})
	b.emit.Emit(backend.Event{Name: backend.EventResponseDone})
	return nil
}

func (b *Backend) notifyRetry(stage string) resilience.NotifyFunc {
	return func(evt resilience.Event) {
		b.emit.Emit(backend.Event{Name: backend.EventRetry, Payload: backend.RetryPayload{
			Attempt: evt.Attempt,
			Delay:   evt.Delay.String(),
			Err:     evt.Err,
		}})
	}
}

func (b *Backend) emitError(err error, fatal bool) {
	b.emit.Emit(backend.Event{Name: backend.EventError, Payload: backend.ErrorPayload{Message: err.Error(), Fatal: fatal}})
}
