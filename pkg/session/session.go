package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxMessages is N in "the last N (default 10) plus an optional
// system message form the active context" (§3).
const DefaultMaxMessages = 10

// Session owns the per-conversation message history, voice/language
// selection and utterance bookkeeping. It is the single place message
// history lives for the efficient backend; the premium backend keeps
// history server-side and does not write to it (§5).
type Session struct {
	mu sync.RWMutex

	ID       string
	Voice    Voice
	Language Language

	maxMessages int
	system      *Message
	history     []Message
}

// New creates a session with the default history window and a random ID.
func New() *Session {
	return &Session{
		ID:          uuid.NewString(),
		maxMessages: DefaultMaxMessages,
	}
}

// NewWithID creates a session with a caller-supplied ID (e.g. a user ID).
func NewWithID(id string) *Session {
	return &Session{
		ID:          id,
		maxMessages: DefaultMaxMessages,
	}
}

// SetMaxMessages overrides the history window (N in §3).
func (s *Session) SetMaxMessages(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > 0 {
		s.maxMessages = n
	}
}

// SetSystemPrompt sets (or replaces) the single system message that always
// accompanies the trimmed history.
func (s *Session) SetSystemPrompt(content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := &Message{ID: uuid.NewString(), Role: RoleSystem, Content: content, Timestamp: time.Now()}
	s.system = msg
}

// AddMessage appends a new, immutable message and trims the oldest
// non-system entries so that len(history) never exceeds maxMessages
// (invariant: history length after each append <= N+1 including system).
func (s *Session) AddMessage(role Role, content string) Message {
	return s.addMessage(Message{ID: uuid.NewString(), Role: role, Content: content, Timestamp: time.Now()})
}

// AddToolMessage appends a tool-call or tool-result message.
func (s *Session) AddToolMessage(role Role, content string, call *ToolCall, result *ToolResult) Message {
	return s.addMessage(Message{
		ID: uuid.NewString(), Role: role, Content: content, Timestamp: time.Now(),
		ToolCall: call, ToolResult: result,
	})
}

func (s *Session) addMessage(msg Message) Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.Role == RoleSystem {
		m := msg
		s.system = &m
		return msg
	}

	s.history = append(s.history, msg)
	if len(s.history) > s.maxMessages {
		s.history = s.history[len(s.history)-s.maxMessages:]
	}
	return msg
}

// ActiveContext returns a copy of the system message (if any) followed by
// the trimmed rolling history, ready to submit to an LLM.
func (s *Session) ActiveContext() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Message, 0, len(s.history)+1)
	if s.system != nil {
		out = append(out, *s.system)
	}
	out = append(out, s.history...)
	return out
}

// History returns a copy of the non-system rolling window.
func (s *Session) History() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.history))
	copy(out, s.history)
	return out
}

// Clear drops all history but keeps the system prompt and voice/language
// settings, matching a "reset topic, keep instructions" operation.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
}

// LastUserMessage returns the most recent user-role message's content, or
// "" if none exists yet.
func (s *Session) LastUserMessage() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.history) - 1; i >= 0; i-- {
		if s.history[i].Role == RoleUser {
			return s.history[i].Content
		}
	}
	return ""
}

// LastAssistantMessage returns the most recent assistant-role message's
// content, or "" if none exists yet.
func (s *Session) LastAssistantMessage() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.history) - 1; i >= 0; i-- {
		if s.history[i].Role == RoleAssistant {
			return s.history[i].Content
		}
	}
	return ""
}

func (s *Session) GetVoice() Voice {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Voice
}

func (s *Session) SetVoice(v Voice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Voice = v
}

func (s *Session) GetLanguage() Language {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Language
}

func (s *Session) SetLanguage(l Language) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Language = l
}
