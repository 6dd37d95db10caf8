package efficient

import (
	"context"
	"testing"
	"time"

	"github.com/aria-voice/aria-core/pkg/audio"
	"github.com/aria-voice/aria-core/pkg/backend"
	"github.com/aria-voice/aria-core/pkg/catalog"
	"github.com/aria-voice/aria-core/pkg/clock"
	"github.com/aria-voice/aria-core/pkg/ledger"
	"github.com/aria-voice/aria-core/pkg/providers/llm"
	"github.com/aria-voice/aria-core/pkg/resilience"
	"github.com/aria-voice/aria-core/pkg/session"
)

type fakeSTT struct{ text string }

func (f *fakeSTT) Transcribe(ctx context.Context, pcm []byte, lang session.Language) (string, error) {
	return f.text, nil
}
func (f *fakeSTT) Name() string { return "fake-stt" }

type fakeLLM struct {
	resp llm.Response
}

func (f *fakeLLM) Complete(ctx context.Context, messages []session.Message, tools []catalog.Function) (llm.Response, error) {
	return f.resp, nil
}
func (f *fakeLLM) Name() string { return "fake-llm" }

type fakeTTS struct{ chunks [][]byte }

func (f *fakeTTS) Synthesize(ctx context.Context, text string, voice session.Voice, lang session.Language) ([]byte, error) {
	var out []byte
	for _, c := range f.chunks {
		out = append(out, c...)
	}
	return out, nil
}
func (f *fakeTTS) StreamSynthesize(ctx context.Context, text string, voice session.Voice, lang session.Language, onChunk func([]byte) error) error {
	for _, c := range f.chunks {
		if err := onChunk(c); err != nil {
			return err
		}
	}
	return nil
}
func (f *fakeTTS) Name() string { return "fake-tts" }

func noJitterKit() resilience.ResilienceKit {
	kit := resilience.Default()
	kit.StageRetry.Jitter = 0
	return kit
}

func TestCommitAudioRunsFullChainAndRecordsThreeCostEntries(t *testing.T) {
	stt := &fakeSTT{text: "turn on the lights"}
	lm := &fakeLLM{resp: llm.Response{Text: "done", InputTokens: 10, OutputTokens: 5}}
	tt := &fakeTTS{chunks: [][]byte{{1, 2, 3}, {4, 5}}}
	sess := session.New()
	costs := ledger.New(clock.NewFrozen(time.Now()), 1.00, 30.00)

	b := New(stt, lm, tt, sess, costs, catalog.Default.Functions(), WithResilience(noJitterKit()))

	var stages []string
	b.On(backend.EventStage, func(e backend.Event) {
		stages = append(stages, e.Payload.(backend.StagePayload).Stage)
	})
	var gotAudio []byte
	b.On(backend.EventAudioDone, func(e backend.Event) {
		gotAudio = e.Payload.(backend.AudioChunkPayload).PCM
	})
	var gotResponseDone bool
	b.On(backend.EventResponseDone, func(e backend.Event) { gotResponseDone = true })

	frame := audio.NewFrame(make([]byte, 32000), 16000, 1, time.Now())
	if err := b.AppendAudio(context.Background(), frame); err != nil {
		t.Fatalf("append audio: %v", err)
	}
	if err := b.CommitAudio(context.Background()); err != nil {
		t.Fatalf("commit audio: %v", err)
	}

	if want := []string{"transcribing", "reasoning", "synthesizing"}; !equalStrings(stages, want) {
		t.Errorf("expected stage sequence %v, got %v", want, stages)
	}
	if len(gotAudio) != 5 {
		t.Errorf("expected 5 bytes of audio, got %d", len(gotAudio))
	}
	if !gotResponseDone {
		t.Error("expected response_done event")
	}

	entries := costs.Snapshot()
	if len(entries) != 3 {
		t.Fatalf("expected 3 ledger entries, got %d", len(entries))
	}
	stagesSeen := map[ledger.Stage]bool{}
	for _, e := range entries {
		stagesSeen[e.Stage] = true
		if e.Amount <= 0 {
			t.Errorf("expected non-zero cost for stage %s", e.Stage)
		}
	}
	for _, want := range []ledger.Stage{ledger.StageTranscribe, ledger.StageReason, ledger.StageSynthesize} {
		if !stagesSeen[want] {
			t.Errorf("missing ledger entry for stage %s", want)
		}
	}

	if got := sess.LastAssistantMessage(); got != "done" {
		t.Errorf("expected assistant message %q, got %q", "done", got)
	}
}

func TestToolCallHoldsResponseUntilResultReturned(t *testing.T) {
	stt := &fakeSTT{text: "what's my cpu usage"}
	callID := "call-1"
	firstResp := llm.Response{ToolCalls: []session.ToolCall{{CallID: callID, Name: "query_system_state", Arguments: map[string]interface{}{}}}}
	secondResp := llm.Response{Text: "cpu is fine"}

	calls := 0
	lm := &stubLLM{responses: []llm.Response{firstResp, secondResp}, calls: &calls}
	tt := &fakeTTS{chunks: [][]byte{{9}}}
	sess := session.New()
	costs := ledger.New(clock.NewFrozen(time.Now()), 1.00, 30.00)

	b := New(stt, lm, tt, sess, costs, catalog.Default.Functions(), WithResilience(noJitterKit()))

	var toolCalls []session.ToolCall
	b.On(backend.EventToolCall, func(e backend.Event) {
		toolCalls = append(toolCalls, e.Payload.(backend.ToolCallPayload).Call)
	})
	var responded bool
	b.On(backend.EventResponse, func(e backend.Event) { responded = true })

	frame := audio.NewFrame(make([]byte, 32000), 16000, 1, time.Now())
	b.AppendAudio(context.Background(), frame)
	if err := b.CommitAudio(context.Background()); err != nil {
		t.Fatalf("commit audio: %v", err)
	}

	if len(toolCalls) != 1 {
		t.Fatalf("expected exactly one tool_call event, got %d", len(toolCalls))
	}
	if responded {
		t.Error("expected no response event before tool result is returned")
	}

	if err := b.SendToolResult(context.Background(), session.ToolResult{CallID: callID, Result: "42%"}); err != nil {
		t.Fatalf("send tool result: %v", err)
	}

	if !responded {
		t.Error("expected response event after tool result resolves the pending call")
	}
}

type stubLLM struct {
	responses []llm.Response
	calls     *int
}

func (s *stubLLM) Complete(ctx context.Context, messages []session.Message, tools []catalog.Function) (llm.Response, error) {
	i := *s.calls
	*s.calls++
	if i >= len(s.responses) {
		return llm.Response{}, nil
	}
	return s.responses[i], nil
}
func (s *stubLLM) Name() string { return "stub-llm" }

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
