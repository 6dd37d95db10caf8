package audio

import "time"

// Frame is an immutable slice of little-endian 16-bit PCM captured at a
// fixed sample rate. It is created by the audio source, consumed by the
// active backend, and never retained beyond the current utterance (§3).
type Frame struct {
	PCM        []byte
	SampleRate int
	Channels   int
	CapturedAt time.Time
}

// Duration derives the frame's length from its byte count, sample rate and
// channel count (16-bit samples, so 2 bytes per channel sample).
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	samplesPerChannel := len(f.PCM) / 2 / f.Channels
	return time.Duration(samplesPerChannel) * time.Second / time.Duration(f.SampleRate)
}

// NewFrame builds a Frame from raw PCM, stamping the capture time.
func NewFrame(pcm []byte, sampleRate, channels int, capturedAt time.Time) Frame {
	buf := make([]byte, len(pcm))
	copy(buf, pcm)
	return Frame{PCM: buf, SampleRate: sampleRate, Channels: channels, CapturedAt: capturedAt}
}

// UtteranceState enumerates the lifecycle of one user utterance. Premium
// sessions move Capturing->Committed->Streaming->Done; efficient sessions
// move Capturing->Committed->Transcribed->Responded->Synthesized->Played (§3).
type UtteranceState string

const (
	UtteranceCapturing   UtteranceState = "capturing"
	UtteranceCommitted   UtteranceState = "committed"
	UtteranceStreaming   UtteranceState = "streaming"
	UtteranceTranscribed UtteranceState = "transcribed"
	UtteranceResponded   UtteranceState = "responded"
	UtteranceSynthesized UtteranceState = "synthesized"
	UtteranceDone        UtteranceState = "done"
	UtterancePlayed      UtteranceState = "played"
)

// Utterance is an ordered, append-only sequence of Frames bounded by
// speech-start/stop markers.
type Utterance struct {
	ID     string
	Frames []Frame
	State  UtteranceState
	Start  time.Time
	End    time.Time
}

// Append adds a frame to the utterance in capture order.
func (u *Utterance) Append(f Frame) {
	u.Frames = append(u.Frames, f)
}

// PCM concatenates every frame's PCM bytes in capture order.
func (u *Utterance) PCM() []byte {
	total := 0
	for _, f := range u.Frames {
		total += len(f.PCM)
	}
	out := make([]byte, 0, total)
	for _, f := range u.Frames {
		out = append(out, f.PCM...)
	}
	return out
}

// TotalDuration sums the duration of every frame.
func (u *Utterance) TotalDuration() time.Duration {
	var total time.Duration
	for _, f := range u.Frames {
		total += f.Duration()
	}
	return total
}
