package jitter

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seqData(seq uint16) []byte { return []byte{byte(seq), byte(seq >> 8)} }

// warmBuffer forces the buffer's adaptive depth down to the minimum so
// Pull() stops reporting "still warming" after a handful of frames,
// without depending on wall-clock sleeps in the test.
func warmBuffer(b *Buffer) {
	b.mu.Lock()
	b.currentDepth = minDepthMs
	b.mu.Unlock()
}

func TestPushPullInOrder(t *testing.T) {
	b := New(testLogger())
	for i := uint16(0); i < 5; i++ {
		b.Push(i, uint32(i)*960, seqData(i))
	}
	warmBuffer(b)

	for i := uint16(0); i < 5; i++ {
		got := b.Pull()
		require.Equal(t, seqData(i), got)
	}
	require.EqualValues(t, 0, b.Stats().TotalLost)
}

func TestPushOutOfOrderReordersWithinWindow(t *testing.T) {
	b := New(testLogger())
	order := []uint16{0, 2, 1, 3}
	for _, seq := range order {
		b.Push(seq, uint32(seq)*960, seqData(seq))
	}
	warmBuffer(b)

	for i := uint16(0); i < 4; i++ {
		require.Equal(t, seqData(i), b.Pull())
	}
}

func TestPushLossHoleCountsLost(t *testing.T) {
	b := New(testLogger())
	for _, seq := range []uint16{0, 1, 3, 4} {
		b.Push(seq, uint32(seq)*960, seqData(seq))
	}
	warmBuffer(b)

	require.Equal(t, seqData(0), b.Pull())
	require.Equal(t, seqData(1), b.Pull())
	require.Nil(t, b.Pull()) // sequence 2 never arrived
	require.Equal(t, seqData(3), b.Pull())
	require.Equal(t, seqData(4), b.Pull())

	require.EqualValues(t, 1, b.Stats().TotalLost)
}

func TestPushLateFrameDroppedAfterFirstPull(t *testing.T) {
	b := New(testLogger())
	b.Push(0, 0, seqData(0))
	warmBuffer(b)
	require.Equal(t, seqData(0), b.Pull())

	before := b.Stats().TotalReceived
	b.Push(0, 0, seqData(0)) // already passed
	require.Equal(t, before+1, b.Stats().TotalReceived)
	require.Nil(t, b.Pull())
}

func TestPushDuplicateIsIdempotent(t *testing.T) {
	a := New(testLogger())
	a.Push(0, 0, seqData(0))
	warmBuffer(a)
	firstPull := a.Pull()

	b := New(testLogger())
	b.Push(0, 0, seqData(0))
	b.Push(0, 0, seqData(0))
	warmBuffer(b)
	secondPull := b.Pull()

	require.Equal(t, firstPull, secondPull)
	require.EqualValues(t, 1, b.Stats().TotalDuplicate)
}

func TestPullWarmsUpBeforeEmitting(t *testing.T) {
	b := New(testLogger())
	b.Push(0, 0, seqData(0))
	// currentDepth starts at defaultTargetMs (60ms); with a single very
	// recent frame, Pull should report "still warming" (nil) rather than
	// emit prematurely.
	require.Nil(t, b.Pull())
	_ = time.Millisecond // depth math only; no sleep needed for this assertion
}
