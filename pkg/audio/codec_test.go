package audio

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// loopbackCodec is a FrameCodec fake that returns its input unchanged,
// enough to exercise framing and level metering without a real Opus
// binding.
type loopbackCodec struct{}

func (loopbackCodec) EncodeFrame(pcm []int16) ([]byte, error) {
	out := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		out[2*i] = byte(s)
		out[2*i+1] = byte(s >> 8)
	}
	return out, nil
}

func (loopbackCodec) DecodeFrame(payload []byte) ([]int16, error) {
	out := make([]int16, len(payload)/2)
	for i := range out {
		out[i] = int16(payload[2*i]) | int16(payload[2*i+1])<<8
	}
	return out, nil
}

func TestEncodeRejectsWrongFrameSize(t *testing.T) {
	enc := NewEncoder(loopbackCodec{}, testLogger())
	_, _, err := enc.Encode(make([]int16, 10))
	require.Error(t, err)
}

func TestEncodeSilentFrameReportsMaxLevel(t *testing.T) {
	enc := NewEncoder(loopbackCodec{}, testLogger())
	_, level, err := enc.Encode(make([]int16, samplesPerFrame))
	require.NoError(t, err)
	require.Equal(t, uint8(127), level)
}

func TestEncodeFullScaleFrameReportsMinLevel(t *testing.T) {
	enc := NewEncoder(loopbackCodec{}, testLogger())
	pcm := make([]int16, samplesPerFrame)
	pcm[0] = 32767
	_, level, err := enc.Encode(pcm)
	require.NoError(t, err)
	require.Equal(t, uint8(0), level)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	enc := NewEncoder(loopbackCodec{}, testLogger())
	dec := NewDecoder(loopbackCodec{}, testLogger())

	pcm := make([]int16, samplesPerFrame)
	for i := range pcm {
		pcm[i] = int16(i % 1000)
	}

	chunk, _, err := enc.Encode(pcm)
	require.NoError(t, err)

	decoded, err := dec.Decode(chunk)
	require.NoError(t, err)
	require.Equal(t, pcm, decoded)
}
