// Package tts adapts third-party text-to-speech APIs to the efficient
// backend's synthesize stage (§4.6).
package tts

import (
	"context"

	"github.com/aria-voice/aria-core/pkg/session"
)

// Provider is the text-to-speech half of the efficient backend's final
// stage. StreamSynthesize delivers chunks as they arrive; Synthesize
// buffers the full response for callers that don't care.
type Provider interface {
	Synthesize(ctx context.Context, text string, voice session.Voice, lang session.Language) ([]byte, error)
	StreamSynthesize(ctx context.Context, text string, voice session.Voice, lang session.Language, onChunk func([]byte) error) error
	Name() string
}
