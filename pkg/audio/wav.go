// Package audio holds the wire-level PCM/WAV helpers and the frame/utterance
// types shared by every backend. It has no dependency on the rest of the
// module so it can be imported from providers, backends and the orchestrator
// alike without cycles.
package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrNotWav is returned by ParseWavHeader when the buffer doesn't start with
// a RIFF/WAVE container.
var ErrNotWav = errors.New("audio: not a RIFF/WAVE buffer")

// ErrTruncatedWav is returned when a WAV buffer is shorter than its own
// declared header/data length.
var ErrTruncatedWav = errors.New("audio: truncated WAV buffer")

// WavHeader describes the fmt and data chunks of a PCM WAV file.
type WavHeader struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	DataLen       int
}

// NewWavBuffer wraps raw little-endian PCM in a minimal RIFF/WAVE container
// (fmt chunk with PCM code 1, computed byte-rate and block-align, data
// chunk). channels and bitsPerSample default to mono 16-bit when zero, which
// matches the capture format used throughout this module (§3 AudioFrame).
func NewWavBuffer(pcm []byte, sampleRate int, channels int, bitsPerSample int) []byte {
	if channels <= 0 {
		channels = 1
	}
	if bitsPerSample <= 0 {
		bitsPerSample = 16
	}

	blockAlign := channels * bitsPerSample / 8
	byteRate := sampleRate * blockAlign

	buf := new(bytes.Buffer)
	buf.Grow(44 + len(pcm))

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))                  // fmt chunk size
	binary.Write(buf, binary.LittleEndian, uint16(1))                   // PCM
	binary.Write(buf, binary.LittleEndian, uint16(channels))            // channels
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))          // sample rate
	binary.Write(buf, binary.LittleEndian, uint32(byteRate))            // byte rate
	binary.Write(buf, binary.LittleEndian, uint16(blockAlign))          // block align
	binary.Write(buf, binary.LittleEndian, uint16(bitsPerSample))       // bits per sample

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}

// ParseWavHeader recovers the fmt/data chunk fields written by NewWavBuffer.
// It walks chunks rather than assuming a fixed 44-byte header so it tolerates
// extra chunks inserted by other writers.
func ParseWavHeader(data []byte) (WavHeader, error) {
	var h WavHeader
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return h, ErrNotWav
	}

	pos := 12
	haveFmt := false
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8

		switch id {
		case "fmt ":
			if body+16 > len(data) {
				return h, ErrTruncatedWav
			}
			h.Channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			h.SampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			h.BitsPerSample = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
			haveFmt = true
		case "data":
			h.DataLen = size
			if body+size > len(data) {
				return h, ErrTruncatedWav
			}
			if haveFmt {
				return h, nil
			}
		}

		// chunks are word-aligned
		pos = body + size
		if size%2 == 1 {
			pos++
		}
	}

	if !haveFmt {
		return h, fmt.Errorf("audio: %w: missing fmt chunk", ErrNotWav)
	}
	return h, nil
}
