// Package backend defines the capability set both conversational engines
// implement (§9 "Dual-backend abstraction"): a tagged variant with a common
// capability set {append_audio, commit_audio, send_text, send_tool_result,
// disconnect} and a common event stream. The orchestrator is polymorphic
// over this interface, never over a premium/efficient class hierarchy.
package backend

import (
	"context"

	"github.com/aria-voice/aria-core/pkg/audio"
	"github.com/aria-voice/aria-core/pkg/session"
)

// Mode names which of the two engines a Backend implements. It doubles as
// the ledger.Mode string and the router's decision output, so the three
// packages never drift apart on spelling.
type Mode string

const (
	ModePremium   Mode = "premium"
	ModeEfficient Mode = "efficient"
)

// EventName identifies one of the events a Backend publishes. The
// orchestrator subscribes by name rather than by Go type so new event
// kinds don't require interface changes (§9 "Event fan-out").
type EventName string

const (
	EventSessionReady       EventName = "session_ready"
	EventSpeechStarted      EventName = "speech_started"
	EventSpeechStopped      EventName = "speech_stopped"
	EventAudioChunk         EventName = "audio_chunk"
	EventAudioDone          EventName = "audio_done"
	EventTextDelta          EventName = "text_delta"
	EventTextDone           EventName = "text_done"
	EventToolCall           EventName = "tool_call"
	EventResponseDone       EventName = "response_done"
	EventStage              EventName = "stage"
	EventTranscription      EventName = "transcription"
	EventResponse           EventName = "response"
	EventRetry              EventName = "retry"
	EventReconnecting       EventName = "reconnecting"
	EventReconnected        EventName = "reconnected"
	EventReconnectionFailed EventName = "reconnection_failed"
	EventDisconnected       EventName = "disconnected"
	EventError              EventName = "error"
)

// Event is one published occurrence. Payload's concrete type depends on
// Name; see the Event* payload structs below.
type Event struct {
	Name    EventName
	Payload any
}

// AudioChunkPayload carries synthesized audio out of a backend (§6: PCM at
// 24kHz for premium, provider-native encoding for efficient).
type AudioChunkPayload struct {
	PCM []byte
}

// TextPayload carries an incremental or final assistant transcript.
type TextPayload struct {
	Text string
}

// ToolCallPayload carries one model-issued tool call (§4.8 "On tool_call").
type ToolCallPayload struct {
	Call session.ToolCall
}

// StagePayload names the efficient backend's current pipeline stage (§8 S6).
type StagePayload struct {
	Stage string
}

// RetryPayload reports one resilience.Event surfaced as a backend event.
type RetryPayload struct {
	Attempt int
	Delay   string
	Err     error
}

// ErrorPayload carries a fatal or protocol-level error message (§7).
type ErrorPayload struct {
	Message string
	Fatal   bool
}

// Backend is the common capability set both engines implement (§9).
// Connect performs the synchronous pre-connect handshake; all later
// failures are delivered as Events per §7's "orchestrator never raises"
// propagation rule.
type Backend interface {
	Mode() Mode

	// Connect performs the session handshake (premium: realtime session
	// config; efficient: no-op, it is stateless between utterances).
	Connect(ctx context.Context) error

	// AppendAudio forwards one captured frame belonging to the
	// in-progress utterance.
	AppendAudio(ctx context.Context, frame audio.Frame) error

	// CommitAudio marks the utterance boundary: premium flushes the input
	// buffer and asks the server to respond; efficient runs the
	// transcribe/reason/synthesize chain over the accumulated PCM.
	CommitAudio(ctx context.Context) error

	// SendText injects a text turn without audio (e.g. the idle nudge).
	SendText(ctx context.Context, text string) error

	// SendToolResult returns a dispatched tool call's outcome to the
	// model so it can continue the response (§4.8).
	SendToolResult(ctx context.Context, result session.ToolResult) error

	// Disconnect tears the backend down. intentional suppresses
	// reconnection (§5 "disconnects the backend with intentional=true").
	Disconnect(intentional bool) error

	// On subscribes to one named event and returns an unsubscribe handle
	// (§9 "Cancellation is expressed as returning an unsubscribe handle").
	On(name EventName, handler func(Event)) Unsubscribe
}

// Unsubscribe cancels a single On subscription. Calling it more than once
// is a no-op.
type Unsubscribe func()
