// Package stt adapts third-party speech-to-text APIs to the efficient
// backend's transcribe stage (§4.6).
package stt

import (
	"context"

	"github.com/aria-voice/aria-core/pkg/session"
)

// Provider is the speech-to-text half of the efficient backend's first
// stage: raw PCM in, transcript out.
type Provider interface {
	Transcribe(ctx context.Context, audioPCM []byte, lang session.Language) (string, error)
	Name() string
}
