// Package audio wraps a pluggable Opus-shaped frame codec with the fixed
// 20 ms capture cadence and audioLevel computation described in spec §4.6.
// It does not implement Opus itself — that belongs to a CGo or WASM binding
// supplied by the caller — it only owns cadence, framing, and level
// metering around whatever FrameCodec is plugged in.
package audio

import (
	"fmt"
	"log/slog"
)

// FrameMs is the fixed outbound audio frame duration.
const FrameMs = 20

// SampleRate is the PCM sample rate frames are captured and played at.
const SampleRate = 48000

// samplesPerFrame is the number of int16 PCM samples in one 20 ms frame.
const samplesPerFrame = SampleRate * FrameMs / 1000

// FrameCodec is the minimal interface a real Opus binding must satisfy.
type FrameCodec interface {
	EncodeFrame(pcm []int16) ([]byte, error)
	DecodeFrame(payload []byte) ([]int16, error)
}

// Encoder turns fixed-size PCM frames into encoded chunks and computes the
// per-frame audioLevel (0 = loudest, 127 = silent, per spec §3).
type Encoder struct {
	logger *slog.Logger
	codec  FrameCodec
}

// NewEncoder wraps codec with frame-cadence bookkeeping.
func NewEncoder(codec FrameCodec, logger *slog.Logger) *Encoder {
	return &Encoder{logger: logger.With("component", "audio-encoder"), codec: codec}
}

// Encode encodes one 20 ms PCM frame and returns the chunk along with its
// audioLevel.
func (e *Encoder) Encode(pcm []int16) (chunk []byte, audioLevel uint8, err error) {
	if len(pcm) != samplesPerFrame {
		return nil, 0, fmt.Errorf("audio: frame has %d samples, want %d", len(pcm), samplesPerFrame)
	}
	chunk, err = e.codec.EncodeFrame(pcm)
	if err != nil {
		return nil, 0, fmt.Errorf("audio: encode frame: %w", err)
	}
	return chunk, levelFromPCM(pcm), nil
}

// levelFromPCM maps a frame's peak amplitude to spec's inverted 0..127
// scale: 0 is loudest (full scale), 127 is silent.
func levelFromPCM(pcm []int16) uint8 {
	var peak int32
	for _, s := range pcm {
		v := int32(s)
		if v < 0 {
			v = -v
		}
		if v > peak {
			peak = v
		}
	}
	const fullScale = 32767
	level := 127 - (peak*127)/fullScale
	if level < 0 {
		level = 0
	}
	if level > 127 {
		level = 127
	}
	return uint8(level)
}

// Decoder decodes received chunks back to PCM for playback.
type Decoder struct {
	logger *slog.Logger
	codec  FrameCodec
}

// NewDecoder wraps codec for the receive path.
func NewDecoder(codec FrameCodec, logger *slog.Logger) *Decoder {
	return &Decoder{logger: logger.With("component", "audio-decoder"), codec: codec}
}

// Decode decodes one encoded chunk to PCM.
func (d *Decoder) Decode(chunk []byte) ([]int16, error) {
	pcm, err := d.codec.DecodeFrame(chunk)
	if err != nil {
		return nil, fmt.Errorf("audio: decode frame: %w", err)
	}
	return pcm, nil
}
