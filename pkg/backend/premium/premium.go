// Package premium implements the streaming speech-to-speech backend
// (§4.5): one long-lived WebSocket session that exchanges JSON events in
// the realtime-API shape (session.update / input_audio_buffer.append /
// conversation.item.create / response.create), with audio going over the
// wire as base64 PCM16. It is the "tagged variant" half of the §9
// dual-backend abstraction that keeps history server-side.
package premium

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/aria-voice/aria-core/pkg/audio"
	"github.com/aria-voice/aria-core/pkg/backend"
	"github.com/aria-voice/aria-core/pkg/catalog"
	"github.com/aria-voice/aria-core/pkg/resilience"
	"github.com/aria-voice/aria-core/pkg/session"
)

const (
	defaultBaseURL       = "wss://api.openai.com/v1/realtime"
	defaultModel         = "gpt-4o-realtime-preview"
	connectTimeout       = 30 * time.Second
	vadThreshold         = 0.5
	vadPrefixPaddingMs   = 300
	vadSilenceDurationMs = 500
	// PlaybackSampleRate is the fixed PCM rate the premium backend emits
	// audio at (§6 "24 kHz for premium").
	PlaybackSampleRate = 24000
)

// Config configures the session.update handshake sent on connect (§4.5).
type Config struct {
	Instructions string
	Voice        session.Voice
	Language     session.Language
	Temperature  float64
}

// Option configures a Backend at construction.
type Option func(*Backend)

// WithBaseURL overrides the realtime endpoint; tests point it at a local
// httptest WebSocket server.
func WithBaseURL(url string) Option {
	return func(b *Backend) { b.baseURL = url }
}

// WithModel overrides the realtime model name.
func WithModel(model string) Option {
	return func(b *Backend) { b.model = model }
}

// WithResilience overrides the default reconnection kit.
func WithResilience(kit resilience.ResilienceKit) Option {
	return func(b *Backend) { b.kit = kit }
}

// Backend is the streaming speech-to-speech half of the §9 dual-backend
// abstraction.
type Backend struct {
	apiKey  string
	baseURL string
	model   string
	cfg     Config
	tools   []catalog.Function
	kit     resilience.ResilienceKit
	emit    *backend.Emitter

	mu               sync.Mutex
	conn             *websocket.Conn
	ctx              context.Context
	cancel           context.CancelFunc
	intentionalClose bool
	textBuf          string
}

// New builds a premium backend. apiKey authenticates the realtime session;
// cfg carries the instructions/voice/language/temperature sent in the
// initial session.update; tools is advertised to the model.
func New(apiKey string, cfg Config, tools []catalog.Function, opts ...Option) *Backend {
	b := &Backend{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		model:   defaultModel,
		cfg:     cfg,
		tools:   tools,
		kit:     resilience.Default(),
		emit:    backend.NewEmitter(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Backend) Mode() backend.Mode { return backend.ModePremium }

func (b *Backend) On(name backend.EventName, handler func(backend.Event)) backend.Unsubscribe {
	return b.emit.On(name, handler)
}

// Connect dials the realtime endpoint, sends the session.update handshake
// and starts the receive loop (§4.5, §5 "connection handshake 30s").
func (b *Backend) Connect(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	conn, err := b.dial(dialCtx)
	if err != nil {
		return fmt.Errorf("premium: connect: %w", err)
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	b.mu.Lock()
	b.conn = conn
	b.ctx = runCtx
	b.cancel = runCancel
	b.intentionalClose = false
	b.mu.Unlock()

	if err := b.sendSessionUpdate(conn, runCtx); err != nil {
		runCancel()
		conn.Close(websocket.StatusInternalError, "session update failed")
		return fmt.Errorf("premium: session update: %w", err)
	}

	go b.receiveLoop(runCtx, conn)
	b.emit.Emit(backend.Event{Name: backend.EventSessionReady})
	return nil
}

func (b *Backend) dial(ctx context.Context) (*websocket.Conn, error) {
	url := fmt.Sprintf("%s?model=%s", b.baseURL, b.model)
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + b.apiKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	return conn, err
}

// AppendAudio forwards one captured PCM16 frame as input_audio_buffer.append.
func (b *Backend) AppendAudio(ctx context.Context, frame audio.Frame) error {
	conn, wsCtx, err := b.activeConn()
	if err != nil {
		return err
	}
	return b.writeJSON(conn, wsCtx, map[string]string{
		"type":  "input_audio_buffer.append",
		"audio": base64.StdEncoding.EncodeToString(frame.PCM),
	})
}

// CommitAudio closes the input buffer at the utterance boundary and asks
// the model to respond (§4.5 "commit_audio").
func (b *Backend) CommitAudio(ctx context.Context) error {
	conn, wsCtx, err := b.activeConn()
	if err != nil {
		return err
	}
	if err := b.writeJSON(conn, wsCtx, map[string]string{"type": "input_audio_buffer.commit"}); err != nil {
		return err
	}
	return b.writeJSON(conn, wsCtx, map[string]string{"type": "response.create"})
}

// SendText injects a text turn and requests a response (§4.5 "send_text",
// used by the idle conversational nudge to speak a canned prompt).
func (b *Backend) SendText(ctx context.Context, text string) error {
	conn, wsCtx, err := b.activeConn()
	if err != nil {
		return err
	}
	item := map[string]any{
		"type": "conversation.item.create",
		"item": map[string]any{
			"type": "message",
			"role": "user",
			"content": []map[string]string{
				{"type": "input_text", "text": text},
			},
		},
	}
	if err := b.writeJSON(conn, wsCtx, item); err != nil {
		return err
	}
	return b.writeJSON(conn, wsCtx, map[string]string{"type": "response.create"})
}

// SendToolResult returns a dispatched tool call's outcome and resumes the
// response (§4.5 "send_tool_result").
func (b *Backend) SendToolResult(ctx context.Context, result session.ToolResult) error {
	conn, wsCtx, err := b.activeConn()
	if err != nil {
		return err
	}
	output := result.Result
	if result.Error != "" {
		output = map[string]string{"error": result.Error}
	}
	encoded, _ := json.Marshal(output)

	item := map[string]any{
		"type": "conversation.item.create",
		"item": map[string]any{
			"type":    "function_call_output",
			"call_id": result.CallID,
			"output":  string(encoded),
		},
	}
	if err := b.writeJSON(conn, wsCtx, item); err != nil {
		return err
	}
	return b.writeJSON(conn, wsCtx, map[string]string{"type": "response.create"})
}

// Disconnect closes the live connection. intentional=true suppresses the
// reconnect loop (§5 "disconnects the backend with intentional=true").
func (b *Backend) Disconnect(intentional bool) error {
	b.mu.Lock()
	conn := b.conn
	cancel := b.cancel
	b.intentionalClose = intentional
	b.conn = nil
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn == nil {
		return nil
	}
	return conn.Close(websocket.StatusNormalClosure, "disconnect")
}

func (b *Backend) activeConn() (*websocket.Conn, context.Context, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return nil, nil, fmt.Errorf("premium: not connected")
	}
	return b.conn, b.ctx, nil
}

func (b *Backend) writeJSON(conn *websocket.Conn, ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

type turnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms"`
	SilenceDurationMs int     `json:"silence_duration_ms"`
}

type sessionParams struct {
	Modalities        []string       `json:"modalities,omitempty"`
	Instructions      string         `json:"instructions,omitempty"`
	Voice             string         `json:"voice,omitempty"`
	InputAudioFormat  string         `json:"input_audio_format"`
	OutputAudioFormat string         `json:"output_audio_format"`
	TurnDetection     *turnDetection `json:"turn_detection,omitempty"`
	Tools             []oaiTool      `json:"tools,omitempty"`
	Temperature       float64        `json:"temperature,omitempty"`
}

type oaiTool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

func toolSchema(tools []catalog.Function) []oaiTool {
	if len(tools) == 0 {
		return nil
	}
	cat := make(catalog.Catalog, len(tools))
	for _, t := range tools {
		cat[t.Name] = t
	}
	out := make([]oaiTool, 0, len(tools))
	for _, def := range cat.ToolDefs() {
		out = append(out, oaiTool{Type: "function", Name: def.Name, Description: def.Description, Parameters: def.Parameters})
	}
	return out
}

func (b *Backend) sendSessionUpdate(conn *websocket.Conn, ctx context.Context) error {
	params := sessionParams{
		Modalities:        []string{"audio", "text"},
		Instructions:      b.cfg.Instructions,
		Voice:             string(b.cfg.Voice),
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
		TurnDetection: &turnDetection{
			Type:              "server_vad",
			Threshold:         vadThreshold,
			PrefixPaddingMs:   vadPrefixPaddingMs,
			SilenceDurationMs: vadSilenceDurationMs,
		},
		Tools:       toolSchema(b.tools),
		Temperature: b.cfg.Temperature,
	}
	return b.writeJSON(conn, ctx, map[string]any{"type": "session.update", "session": params})
}

// serverEvent decodes the subset of realtime server events this backend
// reacts to; unknown fields are ignored.
type serverEvent struct {
	Type       string             `json:"type"`
	Delta      string             `json:"delta,omitempty"`
	Transcript string             `json:"transcript,omitempty"`
	Name       string             `json:"name,omitempty"`
	Arguments  string             `json:"arguments,omitempty"`
	CallID     string             `json:"call_id,omitempty"`
	Error      *serverErrorDetail `json:"error,omitempty"`
}

type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (b *Backend) receiveLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.handleDisconnect()
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}
		b.handleServerEvent(&evt)
	}
}

func (b *Backend) handleServerEvent(evt *serverEvent) {
	switch evt.Type {
	case "input_audio_buffer.speech_started":
		b.emit.Emit(backend.Event{Name: backend.EventSpeechStarted})
	case "input_audio_buffer.speech_stopped":
		b.emit.Emit(backend.Event{Name: backend.EventSpeechStopped})

	case "response.audio.delta":
		if evt.Delta == "" {
			return
		}
		pcm, err := base64.StdEncoding.DecodeString(evt.Delta)
		if err != nil {
			return
		}
		b.emit.Emit(backend.Event{Name: backend.EventAudioChunk, Payload: backend.AudioChunkPayload{PCM: pcm}})
	case "response.audio.done":
		b.emit.Emit(backend.Event{Name: backend.EventAudioDone})

	case "response.audio_transcript.delta":
		if evt.Delta == "" {
			return
		}
		b.mu.Lock()
		b.textBuf += evt.Delta
		b.mu.Unlock()
		b.emit.Emit(backend.Event{Name: backend.EventTextDelta, Payload: backend.TextPayload{Text: evt.Delta}})
	case "response.audio_transcript.done":
		b.mu.Lock()
		text := b.textBuf
		b.textBuf = ""
		b.mu.Unlock()
		b.emit.Emit(backend.Event{Name: backend.EventTextDone, Payload: backend.TextPayload{Text: text}})

	case "response.function_call_arguments.done":
		var args map[string]interface{}
		json.Unmarshal([]byte(evt.Arguments), &args)
		b.emit.Emit(backend.Event{Name: backend.EventToolCall, Payload: backend.ToolCallPayload{
			Call: session.ToolCall{CallID: evt.CallID, Name: evt.Name, Arguments: args},
		}})

	case "response.done":
		b.emit.Emit(backend.Event{Name: backend.EventResponseDone})

	case "error":
		msg := "unknown realtime error"
		if evt.Error != nil && evt.Error.Message != "" {
			msg = evt.Error.Message
		}
		b.emit.Emit(backend.Event{Name: backend.EventError, Payload: backend.ErrorPayload{Message: msg}})
	}
}

// handleDisconnect runs when the receive loop exits on an unexpected
// transport error. It attempts reconnection unless the disconnect was
// requested via Disconnect(true) (§5, §8 S5).
func (b *Backend) handleDisconnect() {
	b.mu.Lock()
	intentional := b.intentionalClose
	b.conn = nil
	b.mu.Unlock()

	b.emit.Emit(backend.Event{Name: backend.EventDisconnected})
	if intentional {
		return
	}
	b.reconnect()
}

func (b *Backend) reconnect() {
	ctx := context.Background()
	lastAttempt := 0
	conn, err := resilience.Do(ctx, b.kit.Reconnect, func(error) bool { return true }, func(evt resilience.Event) {
		lastAttempt = evt.Attempt
		b.emit.Emit(backend.Event{Name: backend.EventReconnecting, Payload: backend.RetryPayload{
			Attempt: evt.Attempt, Delay: evt.Delay.String(), Err: evt.Err,
		}})
	}, func() (*websocket.Conn, error) {
		dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		return b.dial(dialCtx)
	})

	if err != nil {
		b.emit.Emit(backend.Event{Name: backend.EventReconnectionFailed, Payload: backend.ErrorPayload{Message: err.Error(), Fatal: true}})
		return
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	b.mu.Lock()
	b.conn = conn
	b.ctx = runCtx
	b.cancel = runCancel
	b.mu.Unlock()

	if err := b.sendSessionUpdate(conn, runCtx); err != nil {
		runCancel()
		conn.Close(websocket.StatusInternalError, "session update failed")
		b.emit.Emit(backend.Event{Name: backend.EventReconnectionFailed, Payload: backend.ErrorPayload{Message: err.Error(), Fatal: true}})
		return
	}

	if lastAttempt == 0 {
		lastAttempt = 1
	}
	go b.receiveLoop(runCtx, conn)
	b.emit.Emit(backend.Event{Name: backend.EventReconnected, Payload: backend.RetryPayload{Attempt: lastAttempt}})
	b.emit.Emit(backend.Event{Name: backend.EventSessionReady})
}
