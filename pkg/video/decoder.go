package video

import (
	"fmt"
	"log/slog"
	"sync"
)

// maxDecodeQueueDepth is the drop-rather-than-block threshold from
// spec §4.4.
const maxDecodeQueueDepth = 10

// keyframeHeaderMask isolates bit 0x04 of a VP9 uncompressed header's
// first byte; clear means keyframe. Spec §9 treats this as a fallback,
// subordinate to a transport-level keyframe flag when one is available.
const keyframeHeaderMask = 0x04

// UnderlyingDecoder is the codec-level VP9 decoder one subscription
// drives.
type UnderlyingDecoder interface {
	Decode(chunk []byte) (Frame, error)
	Reset()
	Close() error
}

// Frame is one decoded video frame ready for the renderer.
type Frame struct {
	Width  int
	Height int
	Pixels []byte
}

// IsKeyframeBitstream inspects the VP9 uncompressed header byte. It is the
// bitstream fallback described in spec §4.4/§9; callers that already have
// a transport-level keyframe flag should prefer that.
func IsKeyframeBitstream(chunk []byte) bool {
	if len(chunk) == 0 {
		return false
	}
	return chunk[0]&keyframeHeaderMask == 0
}

// Decoder decodes one remote video subscription's chunks, gated on
// keyframes per spec §4.4.
type Decoder struct {
	logger *slog.Logger

	mu           sync.Mutex
	underlying   UnderlyingDecoder
	awaitingKey  bool
	queueDepth   int
}

// NewDecoder wraps underlying, starting in the awaitingKey state.
func NewDecoder(underlying UnderlyingDecoder, logger *slog.Logger) *Decoder {
	return &Decoder{
		logger:      logger.With("component", "video-decoder"),
		underlying:  underlying,
		awaitingKey: true,
	}
}

// AwaitingKey reports whether the decoder is still waiting for a keyframe.
func (d *Decoder) AwaitingKey() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.awaitingKey
}

// Reset returns the decoder to awaitingKey, discarding any in-flight
// decode state.
func (d *Decoder) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.underlying.Reset()
	d.awaitingKey = true
}

// Submit hands one chunk to the decoder. isKeyframe should come from
// transport metadata when available; pass IsKeyframeBitstream(chunk) as a
// fallback. Decoding runs synchronously while Submit holds the decoder's
// lock, so concurrent callers wait for the lock; queueDepth never exceeds
// 1, and the maxDecodeQueueDepth check does not drop chunks.
func (d *Decoder) Submit(chunk []byte, isKeyframe bool) (*Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.queueDepth > maxDecodeQueueDepth {
		d.logger.Warn("decode queue over depth, dropping chunk", "depth", d.queueDepth)
		return nil, nil
	}

	if d.awaitingKey && !isKeyframe {
		return nil, nil
	}

	d.queueDepth++
	defer func() { d.queueDepth-- }()

	frame, err := d.underlying.Decode(chunk)
	if err != nil {
		d.logger.Error("decode error, resetting to awaitingKey", "error", err)
		d.underlying.Reset()
		d.awaitingKey = true
		return nil, fmt.Errorf("video: decode: %w", err)
	}

	if isKeyframe {
		d.awaitingKey = false
	}
	return &frame, nil
}

// Close releases the underlying decoder.
func (d *Decoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.underlying.Close()
}

// Renderer retains at most one pending frame, superseding it with each new
// arrival and drawing it to a surface on each render tick (spec §4.4).
type Renderer struct {
	mu      sync.Mutex
	pending *Frame
	draw    func(Frame)

	displayWidth  int
	displayHeight int
	resize        func(width, height int)
}

// NewRenderer creates a renderer that calls draw on each Tick and resize
// whenever the pending frame's dimensions change (e.g. a simulcast layer
// switch).
func NewRenderer(draw func(Frame), resize func(width, height int)) *Renderer {
	return &Renderer{draw: draw, resize: resize}
}

// Submit replaces any pending frame with frame, freeing the superseded one.
func (r *Renderer) Submit(frame Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = &frame
}

// Tick draws the pending frame, if any, resizing the canvas first when the
// frame's dimensions differ from the last drawn size.
func (r *Renderer) Tick() {
	r.mu.Lock()
	frame := r.pending
	r.pending = nil
	r.mu.Unlock()

	if frame == nil {
		return
	}
	if frame.Width != r.displayWidth || frame.Height != r.displayHeight {
		r.displayWidth = frame.Width
		r.displayHeight = frame.Height
		if r.resize != nil {
			r.resize(frame.Width, frame.Height)
		}
	}
	if r.draw != nil {
		r.draw(*frame)
	}
}
