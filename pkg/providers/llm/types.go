// Package llm adapts third-party chat-completion APIs to the reasoning
// stage of the efficient backend (§4.6): submit the rolling message window
// plus the function-call schema, get back text, tool calls, or both.
package llm

import (
	"context"

	"github.com/aria-voice/aria-core/pkg/catalog"
	"github.com/aria-voice/aria-core/pkg/session"
)

// Response is a completed reasoning turn: a textual reply, zero or more
// tool calls, or both (§4.6 "receive either a textual assistant message,
// one or more tool calls, or both").
type Response struct {
	Text         string
	ToolCalls    []session.ToolCall
	InputTokens  int
	OutputTokens int
}

// Provider is the LLM half of the reasoning stage.
type Provider interface {
	Complete(ctx context.Context, messages []session.Message, tools []catalog.Function) (Response, error)
	Name() string
}
