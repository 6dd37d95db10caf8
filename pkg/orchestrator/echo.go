package orchestrator

import (
	"bytes"
	"math"
	"sync"
	"time"
)

// EchoSuppressor distinguishes the bot's own speaker output from genuine
// barge-in speech on the microphone, by correlating incoming frames against
// recently played audio. It backs the echo-suppression contract during the
// short VAD-confirm window around a speaking->listening transition (§3,
// §9 supplemented "Echo suppression"). The hard invariant itself — zero
// frames reach the backend while status=speaking — is enforced by
// ConversationOrchestrator regardless of what this reports; EchoSuppressor
// only decides whether a non-forwarded frame is worth treating as a
// legitimate interruption signal.
type EchoSuppressor struct {
	mu             sync.Mutex
	playedAudioBuf *bytes.Buffer
	maxBufSize     int
	echoThreshold  float64
	echoSilenceMS  int
	lastPlayedAt   time.Time
	enabled        bool
}

// NewEchoSuppressor creates a suppressor whose buffer is sized for 24kHz
// mono PCM, the premium backend's playback rate (premium.PlaybackSampleRate).
// The orchestrator records audio chunks from either backend into it as-is.
func NewEchoSuppressor() *EchoSuppressor {
	return &EchoSuppressor{
		playedAudioBuf: new(bytes.Buffer),
		maxBufSize:     96000, // ~2s at 24kHz, 16-bit mono
		echoThreshold:  0.55,
		echoSilenceMS:  1200,
		enabled:        true,
	}
}

// RecordPlayedAudio records a chunk just sent to the audio sink.
func (es *EchoSuppressor) RecordPlayedAudio(chunk []byte) {
	if !es.enabled || len(chunk) == 0 {
		return
	}
	es.mu.Lock()
	defer es.mu.Unlock()

	es.playedAudioBuf.Write(chunk)
	es.lastPlayedAt = time.Now()

	if es.playedAudioBuf.Len() > es.maxBufSize {
		data := es.playedAudioBuf.Bytes()
		trim := data[len(data)-es.maxBufSize:]
		es.playedAudioBuf.Reset()
		es.playedAudioBuf.Write(trim)
	}
}

// IsEcho reports whether inputChunk correlates highly enough with recently
// played audio to be speaker bleed rather than a genuine utterance.
func (es *EchoSuppressor) IsEcho(inputChunk []byte) bool {
	if !es.enabled || len(inputChunk) == 0 {
		return false
	}
	es.mu.Lock()
	defer es.mu.Unlock()

	if time.Since(es.lastPlayedAt) > time.Duration(es.echoSilenceMS)*time.Millisecond {
		return false
	}
	playedData := es.playedAudioBuf.Bytes()
	if len(playedData) == 0 {
		return false
	}

	if es.calculateCorrelation(inputChunk, playedData) > es.echoThreshold {
		return true
	}
	envCorr := maxEnvelopeCorrelation(bytesToSamples(inputChunk), bytesToSamples(playedData), 8)
	return envCorr > es.echoThreshold+0.05
}

func (es *EchoSuppressor) calculateCorrelation(input, reference []byte) float64 {
	inputSamples := bytesToSamples(input)
	refSamples := bytesToSamples(reference)
	if len(inputSamples) == 0 || len(refSamples) == 0 {
		return 0
	}

	compareLen := len(inputSamples)
	if compareLen > len(refSamples) {
		compareLen = len(refSamples)
	}
	refCompare := refSamples[len(refSamples)-compareLen:]

	inputEnergy := calculateEnergy(inputSamples)
	refEnergy := calculateEnergy(refCompare)
	if inputEnergy == 0 || refEnergy == 0 {
		return 0
	}

	correlation := 0.0
	for i := 0; i < len(inputSamples) && i < len(refCompare); i++ {
		correlation += inputSamples[i] * refCompare[i]
	}

	normFactor := math.Sqrt(inputEnergy * refEnergy)
	if normFactor == 0 {
		return 0
	}
	normalized := correlation / normFactor
	if normalized < 0 {
		return 0
	}
	if normalized > 1 {
		return 1
	}
	return normalized
}

func bytesToSamples(data []byte) []float64 {
	samples := make([]float64, 0, len(data)/2)
	for i := 0; i < len(data)-1; i += 2 {
		sample := int16(data[i]) | (int16(data[i+1]) << 8)
		samples = append(samples, float64(sample)/32768.0)
	}
	return samples
}

func calculateEnergy(samples []float64) float64 {
	energy := 0.0
	for _, s := range samples {
		energy += s * s
	}
	return energy
}

// maxEnvelopeCorrelation compares the absolute-value energy envelope
// (downsampled by decimation) of two signals, catching phase-shifted
// high-frequency content a raw sample correlation misses.
func maxEnvelopeCorrelation(inSamples, refSamples []float64, decimation int) float64 {
	if len(inSamples) == 0 || len(refSamples) == 0 {
		return 0
	}
	envelope := func(samples []float64) []float64 {
		env := make([]float64, len(samples)/decimation)
		for i := range env {
			sum := 0.0
			for j := 0; j < decimation; j++ {
				sum += math.Abs(samples[i*decimation+j])
			}
			env[i] = sum
		}
		return env
	}
	inEnv := envelope(inSamples)
	refEnv := envelope(refSamples)

	compareLen := len(inEnv)
	if compareLen > len(refEnv) {
		compareLen = len(refEnv)
	}
	if compareLen == 0 {
		return 0
	}

	inMean := 0.0
	for i := 0; i < compareLen; i++ {
		inMean += inEnv[i]
	}
	inMean /= float64(compareLen)

	inVar := 0.0
	for i := 0; i < compareLen; i++ {
		inEnv[i] -= inMean
		inVar += inEnv[i] * inEnv[i]
	}
	if inVar <= 0 {
		return 0
	}

	maxCorr := 0.0
	stride := compareLen / 4
	if stride < 2 {
		stride = 2
	}
	searchRange := len(refEnv) - compareLen + 1
	for pos := 0; pos < searchRange; pos += stride {
		refMean := 0.0
		for i := 0; i < compareLen; i++ {
			refMean += refEnv[pos+i]
		}
		refMean /= float64(compareLen)

		dot, refVar := 0.0, 0.0
		for i := 0; i < compareLen; i++ {
			r := refEnv[pos+i] - refMean
			dot += inEnv[i] * r
			refVar += r * r
		}
		if refVar > 0 {
			if corr := dot / math.Sqrt(inVar*refVar); corr > maxCorr {
				maxCorr = corr
			}
		}
	}
	return maxCorr
}

// ClearEchoBuffer drops the played-audio history, called when a response is
// cancelled or the sink is flushed.
func (es *EchoSuppressor) ClearEchoBuffer() {
	es.mu.Lock()
	defer es.mu.Unlock()
	es.playedAudioBuf.Reset()
}

// SetEnabled toggles echo suppression at runtime.
func (es *EchoSuppressor) SetEnabled(enabled bool) {
	es.mu.Lock()
	defer es.mu.Unlock()
	es.enabled = enabled
}
