package orchestrator

import "time"

// LatencyBreakdown times one interaction's pipeline stages (§9 supplemented
// "Per-turn latency instrumentation"), grounded on the teacher's
// sttStartTime/llmEndTime timestamp fields but expressed as durations so it
// needs no injected clock to assemble — only to stamp its own start/end via
// ConversationOrchestrator's clock.
type LatencyBreakdown struct {
	Transcribe time.Duration
	Reason     time.Duration
	Synthesize time.Duration
	Total      time.Duration
}

// latencyTracker accumulates stage start times for one in-flight
// interaction and emits a LatencyBreakdown when it completes.
type latencyTracker struct {
	start      time.Time
	stageStart time.Time
	breakdown  LatencyBreakdown
}

func newLatencyTracker(now time.Time) *latencyTracker {
	return &latencyTracker{start: now, stageStart: now}
}

func (t *latencyTracker) enterStage(now time.Time) {
	t.stageStart = now
}

func (t *latencyTracker) leaveStage(now time.Time, stage string) {
	d := now.Sub(t.stageStart)
	switch stage {
	case "transcribing":
		t.breakdown.Transcribe = d
	case "reasoning":
		t.breakdown.Reason = d
	case "synthesizing":
		t.breakdown.Synthesize = d
	}
}

func (t *latencyTracker) finish(now time.Time) LatencyBreakdown {
	t.breakdown.Total = now.Sub(t.start)
	return t.breakdown
}
