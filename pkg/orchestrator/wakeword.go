package orchestrator

// WakewordDetector is the seam for an external wake source (§6 "recognized
// by name used by external wake source", §9 Open Question: "Wake-word
// detection is stubbed in the source; this spec treats the wake signal as
// purely external"). ConversationOrchestrator only republishes whatever
// this reports as an EventWakeword; it never analyzes audio for a keyword
// itself.
type WakewordDetector interface {
	// Detect inspects one captured frame's PCM and reports whether the
	// configured keyword was heard.
	Detect(pcm []byte) bool
}

// NoOpWakewordDetector always reports no detection, matching the teacher's
// stubbed wake-word path. It is the default when no external detector is
// wired.
type NoOpWakewordDetector struct{}

func (NoOpWakewordDetector) Detect(pcm []byte) bool { return false }
