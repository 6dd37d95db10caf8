package ledger

// Stage identifies which part of a backend's pipeline a CostEntry belongs
// to (§3).
type Stage string

const (
	StageRealtime   Stage = "realtime"   // premium streaming speech-to-speech
	StageTranscribe Stage = "transcribe" // efficient: speech-to-text
	StageReason     Stage = "reason"     // efficient: LLM turn
	StageSynthesize Stage = "synthesize" // efficient: text-to-speech
)

// pricing is the fixed price table the ledger prices every CostEntry
// against (§4.1). Amounts are USD. Not user-configurable at runtime —
// changing prices means shipping a new build, same as the teacher's
// hardcoded provider model defaults.
type pricing struct {
	StreamingAudioInputPerSecond  float64
	StreamingAudioOutputPerSecond float64
	StreamingTextInputPerToken    float64
	StreamingTextOutputPerToken   float64
	TranscribePerMinute           float64
	ReasonInputPerMillionTokens   float64
	ReasonOutputPerMillionTokens  float64
	SynthesizePer1000Chars        float64
}

// DefaultPricing mirrors typical realtime/voice provider rate cards as of
// this module's authoring: cheap per-unit streaming audio, metered
// transcription per minute, metered reasoning per million tokens, metered
// synthesis per 1000 characters.
var DefaultPricing = pricing{
	StreamingAudioInputPerSecond:  0.0001,
	StreamingAudioOutputPerSecond: 0.0002,
	StreamingTextInputPerToken:    0.000005,
	StreamingTextOutputPerToken:   0.00002,
	TranscribePerMinute:           0.006,
	ReasonInputPerMillionTokens:   3.00,
	ReasonOutputPerMillionTokens:  15.00,
	SynthesizePer1000Chars:        0.015,
}
