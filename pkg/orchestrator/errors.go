package orchestrator

import "errors"

// Sentinel errors surfaced by ConversationOrchestrator's synchronous entry
// points. Async failures never return an error — they are delivered as
// EventError per §7's propagation rule.
var (
	ErrAlreadyStarted = errors.New("orchestrator: already started")
	ErrNotStarted     = errors.New("orchestrator: not started")
	ErrNoActiveBackend = errors.New("orchestrator: no active backend")
)
