package orchestrator

import (
	"sync"

	"github.com/aria-voice/aria-core/pkg/session"
)

// EventName identifies one of the events ConversationOrchestrator publishes
// (§4.8 "Publish status, transcript, metrics, audio_playing, audio_stopped,
// interaction_complete, wakeword, and error events"). This mirrors
// pkg/backend's publish/subscribe registry (§9 "Event fan-out" applied per
// component, not shared across components).
type EventName string

const (
	EventStatus              EventName = "status"
	EventTranscript          EventName = "transcript"
	EventMetrics             EventName = "metrics"
	EventAudioPlaying        EventName = "audio_playing"
	EventAudioStopped        EventName = "audio_stopped"
	EventInteractionComplete EventName = "interaction_complete"
	EventWakeword            EventName = "wakeword"
	EventInterrupted         EventName = "interrupted"
	EventError               EventName = "error"
)

// Event is one published occurrence.
type Event struct {
	Name    EventName
	Payload any
}

// StatusPayload reports a state-machine transition.
type StatusPayload struct {
	Status session.Status
}

// TranscriptPayload carries either the user's transcription or the
// assistant's response text.
type TranscriptPayload struct {
	Role session.Role
	Text string
}

// MetricsPayload reports the per-interaction latency breakdown and the cost
// recorded for it (§9 supplemented "per-turn latency instrumentation").
type MetricsPayload struct {
	Breakdown LatencyBreakdown
	Cost      float64
}

// InteractionCompletePayload marks the end of one full turn.
type InteractionCompletePayload struct {
	Mode string
	Cost float64
}

// WakewordPayload reports an external wake signal (§9 Open Question: the
// core never performs its own detection).
type WakewordPayload struct {
	Detected bool
}

// ErrorPayload carries a fatal or recoverable error message.
type ErrorPayload struct {
	Message string
	Fatal   bool
}

// Unsubscribe cancels a single On subscription.
type Unsubscribe func()

type subscription struct {
	id      uint64
	handler func(Event)
}

// Emitter is the orchestrator's own typed pub/sub registry, independent of
// backend.Emitter per §9's "explicit publish/subscribe registry per
// component" — event names and payloads differ, so the registries don't
// share a type.
type Emitter struct {
	mu       sync.Mutex
	handlers map[EventName][]*subscription
	seq      uint64
}

func NewEmitter() *Emitter {
	return &Emitter{handlers: make(map[EventName][]*subscription)}
}

func (e *Emitter) On(name EventName, handler func(Event)) Unsubscribe {
	e.mu.Lock()
	e.seq++
	id := e.seq
	sub := &subscription{id: id, handler: handler}
	e.handlers[name] = append(e.handlers[name], sub)
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		subs := e.handlers[name]
		for i, s := range subs {
			if s.id == id {
				e.handlers[name] = append(subs[:i], subs[i+1:]...)
				return
			}
		}
	}
}

func (e *Emitter) Emit(evt Event) {
	e.mu.Lock()
	subs := make([]*subscription, len(e.handlers[evt.Name]))
	copy(subs, e.handlers[evt.Name])
	e.mu.Unlock()

	for _, s := range subs {
		s.handler(evt)
	}
}
