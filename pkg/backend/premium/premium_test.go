package premium

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/aria-voice/aria-core/pkg/audio"
	"github.com/aria-voice/aria-core/pkg/backend"
	"github.com/aria-voice/aria-core/pkg/resilience"
	"github.com/aria-voice/aria-core/pkg/session"
)

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestConnectSendsSessionUpdate(t *testing.T) {
	var gotType string
	var gotSession map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")

		_, data, err := conn.Read(r.Context())
		if err != nil {
			return
		}
		var msg map[string]any
		json.Unmarshal(data, &msg)
		gotType, _ = msg["type"].(string)
		gotSession, _ = msg["session"].(map[string]any)

		conn.Read(r.Context())
	}))
	defer server.Close()

	b := New("test-key", Config{Instructions: "be terse", Voice: "alloy"}, nil, WithBaseURL(wsURL(server)))
	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	if gotType != "session.update" {
		t.Fatalf("expected session.update, got %q", gotType)
	}
	if gotSession["voice"] != "alloy" {
		t.Errorf("expected voice alloy, got %v", gotSession["voice"])
	}
	turnDetection, _ := gotSession["turn_detection"].(map[string]any)
	if turnDetection["threshold"] != vadThreshold {
		t.Errorf("expected vad threshold %v, got %v", vadThreshold, turnDetection["threshold"])
	}

	b.Disconnect(true)
}

func TestAppendAndCommitAudioSendsExpectedFrames(t *testing.T) {
	var mu sync.Mutex
	var messages []map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")

		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				return
			}
			var msg map[string]any
			json.Unmarshal(data, &msg)
			mu.Lock()
			messages = append(messages, msg)
			mu.Unlock()
		}
	}))
	defer server.Close()

	b := New("test-key", Config{}, nil, WithBaseURL(wsURL(server)))
	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer b.Disconnect(true)

	frame := audio.NewFrame([]byte{1, 2, 3, 4}, 24000, 1, time.Now())
	if err := b.AppendAudio(context.Background(), frame); err != nil {
		t.Fatalf("append audio: %v", err)
	}
	if err := b.CommitAudio(context.Background()); err != nil {
		t.Fatalf("commit audio: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(messages) != 4 {
		t.Fatalf("expected 4 messages (session.update, append, commit, response.create), got %d: %v", len(messages), messages)
	}
	if messages[1]["type"] != "input_audio_buffer.append" {
		t.Errorf("expected append second, got %v", messages[1]["type"])
	}
	encoded, _ := messages[1]["audio"].(string)
	decoded, _ := base64.StdEncoding.DecodeString(encoded)
	if string(decoded) != "\x01\x02\x03\x04" {
		t.Errorf("expected decoded audio to round-trip, got %v", decoded)
	}
	if messages[2]["type"] != "input_audio_buffer.commit" {
		t.Errorf("expected commit third, got %v", messages[2]["type"])
	}
	if messages[3]["type"] != "response.create" {
		t.Errorf("expected response.create fourth, got %v", messages[3]["type"])
	}
}

func TestServerEventsEmitBackendEvents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		conn.Read(r.Context()) // session.update

		conn.Write(r.Context(), websocket.MessageText, []byte(`{"type":"input_audio_buffer.speech_started"}`))
		conn.Write(r.Context(), websocket.MessageText, []byte(`{"type":"response.audio.delta","delta":"AQIDBA=="}`))
		conn.Write(r.Context(), websocket.MessageText, []byte(`{"type":"response.done"}`))
		conn.Read(r.Context())
	}))
	defer server.Close()

	b := New("test-key", Config{}, nil, WithBaseURL(wsURL(server)))

	var speechStarted, responseDone atomic.Bool
	var gotAudio []byte
	var mu sync.Mutex
	b.On(backend.EventSpeechStarted, func(e backend.Event) { speechStarted.Store(true) })
	b.On(backend.EventAudioChunk, func(e backend.Event) {
		mu.Lock()
		gotAudio = e.Payload.(backend.AudioChunkPayload).PCM
		mu.Unlock()
	})
	b.On(backend.EventResponseDone, func(e backend.Event) { responseDone.Store(true) })

	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer b.Disconnect(true)

	time.Sleep(100 * time.Millisecond)

	if !speechStarted.Load() {
		t.Error("expected speech_started event")
	}
	if !responseDone.Load() {
		t.Error("expected response_done event")
	}
	mu.Lock()
	defer mu.Unlock()
	if string(gotAudio) != "\x01\x02\x03\x04" {
		t.Errorf("expected decoded audio chunk, got %v", gotAudio)
	}
}

func TestUnexpectedDisconnectReconnects(t *testing.T) {
	var accepts int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		n := atomic.AddInt32(&accepts, 1)
		conn.Read(r.Context()) // session.update

		if n == 1 {
			conn.Close(websocket.StatusAbnormalClosure, "simulated drop")
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		conn.Read(r.Context())
	}))
	defer server.Close()

	kit := resilience.Default()
	kit.Reconnect.InitialInterval = time.Millisecond
	kit.Reconnect.MaxInterval = 5 * time.Millisecond

	b := New("test-key", Config{}, nil, WithBaseURL(wsURL(server)), WithResilience(kit))

	var reconnected atomic.Bool
	b.On(backend.EventReconnected, func(e backend.Event) { reconnected.Store(true) })

	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer b.Disconnect(true)

	deadline := time.Now().Add(2 * time.Second)
	for !reconnected.Load() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if !reconnected.Load() {
		t.Error("expected a reconnected event after an unexpected disconnect")
	}
}

func TestSendToolResultEncodesOutputAndRequestsResponse(t *testing.T) {
	var mu sync.Mutex
	var messages []map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				return
			}
			var msg map[string]any
			json.Unmarshal(data, &msg)
			mu.Lock()
			messages = append(messages, msg)
			mu.Unlock()
		}
	}))
	defer server.Close()

	b := New("test-key", Config{}, nil, WithBaseURL(wsURL(server)))
	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer b.Disconnect(true)

	err := b.SendToolResult(context.Background(), session.ToolResult{CallID: "call-1", Result: "42%"})
	if err != nil {
		t.Fatalf("send tool result: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(messages) != 3 {
		t.Fatalf("expected 3 messages (session.update, item.create, response.create), got %d", len(messages))
	}
	item, _ := messages[1]["item"].(map[string]any)
	if item["call_id"] != "call-1" {
		t.Errorf("expected call_id call-1, got %v", item["call_id"])
	}
	if messages[2]["type"] != "response.create" {
		t.Errorf("expected response.create after tool result, got %v", messages[2]["type"])
	}
}
