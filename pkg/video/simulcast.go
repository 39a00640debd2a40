// Package video implements the per-layer simulcast encoder and the
// per-sender decoder + renderer described in spec §4.3/§4.4. Its
// back-pressure shedding and per-layer independent failure handling
// mirror the teacher's pkg/bridge.Bridge, which runs one RTCP/RTP
// pipeline per track and keeps other tracks alive when one fails.
package video

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// maxQueuedFrames is the per-layer encoder queue-depth shedding threshold
// from spec §4.3 step 2.
const maxQueuedFrames = 5

// keyframeInterval forces a keyframe at least this often per layer.
const keyframeInterval = 5 * time.Second

// UnderlyingEncoder is the codec-level encoder each layer drives. A real
// VP9 binding (CGo or WASM) satisfies this; tests use a fake.
type UnderlyingEncoder interface {
	// QueueDepth reports frames currently queued inside the encoder.
	QueueDepth() int
	// Encode submits a downscaled frame, returning the encoded chunk.
	Encode(frame SourceFrame, forceKeyframe bool) ([]byte, error)
	Close() error
}

// DownscaleSurface resizes a source frame to a layer's target resolution.
// Implementations may skip the copy when the source is already the target
// size, per spec §4.3 step 4.
type DownscaleSurface interface {
	Downscale(frame SourceFrame, width, height int) (SourceFrame, error)
	Close() error
}

// EncoderFactory builds the underlying encoder and downscale surface for
// one simulcast layer.
type EncoderFactory interface {
	NewLayerEncoder(layer Layer) (UnderlyingEncoder, DownscaleSurface, error)
}

type layerState struct {
	layer        Layer
	encoder      UnderlyingEncoder
	surface      DownscaleSurface
	divisor      int
	frameCounter int
	lastKeyframe time.Time
	requested    bool
	dead         bool
	firstFrame   bool
}

// Sink receives encoded chunks from any active layer.
type Sink func(chunk EncodedChunk)

// SimulcastEncoder drives one independent encoder per active layer,
// per spec §4.3.
type SimulcastEncoder struct {
	logger *slog.Logger

	mu     sync.Mutex
	layers []*layerState
	sink   Sink
}

// NewSimulcastEncoder enumerates the active layers for (sourceWidth,
// sourceHeight) and constructs an underlying encoder + downscale surface
// for each, per spec §3/§4.3.
func NewSimulcastEncoder(sourceWidth, sourceHeight, sourceFrameRate int, factory EncoderFactory, sink Sink, logger *slog.Logger) (*SimulcastEncoder, error) {
	logger = logger.With("component", "video-encoder")
	active := ActiveLayers(sourceWidth, sourceHeight)

	se := &SimulcastEncoder{logger: logger, sink: sink}
	for _, layer := range active {
		enc, surf, err := factory.NewLayerEncoder(layer)
		if err != nil {
			se.Close()
			return nil, fmt.Errorf("video: build layer encoder %dx%d: %w", layer.Width, layer.Height, err)
		}
		se.layers = append(se.layers, &layerState{
			layer:      layer,
			encoder:    enc,
			surface:    surf,
			divisor:    FrameDivisor(sourceFrameRate, layer.FrameRate),
			firstFrame: true,
		})
	}
	return se, nil
}

// ActiveLayerCount reports how many layers are currently live (not dead).
func (se *SimulcastEncoder) ActiveLayerCount() int {
	se.mu.Lock()
	defer se.mu.Unlock()
	n := 0
	for _, l := range se.layers {
		if !l.dead {
			n++
		}
	}
	return n
}

// RequestKeyframe sets the per-layer requested flag, or all layers when
// layerIndex is nil.
func (se *SimulcastEncoder) RequestKeyframe(layerIndex *int) {
	se.mu.Lock()
	defer se.mu.Unlock()
	for i, l := range se.layers {
		if layerIndex == nil || i == *layerIndex {
			l.requested = true
		}
	}
}

// Encode submits frame to every live layer, applying frame-rate
// decimation, back-pressure shedding, and keyframe scheduling per layer
// independently (spec §4.3).
func (se *SimulcastEncoder) Encode(frame SourceFrame) {
	se.mu.Lock()
	defer se.mu.Unlock()

	now := time.Now()
	for i, l := range se.layers {
		if l.dead {
			continue
		}

		l.frameCounter++
		if l.frameCounter%l.divisor != 0 {
			continue
		}

		if l.encoder.QueueDepth() > maxQueuedFrames {
			continue
		}

		forceKey := l.requested || l.firstFrame || now.Sub(l.lastKeyframe) >= keyframeInterval

		downscaled := frame
		if frame.Width != l.layer.Width || frame.Height != l.layer.Height {
			var err error
			downscaled, err = l.surface.Downscale(frame, l.layer.Width, l.layer.Height)
			if err != nil {
				se.logger.Error("downscale failed, marking layer dead", "layer", i, "error", err)
				l.dead = true
				continue
			}
		}

		chunk, err := l.encoder.Encode(downscaled, forceKey)
		if err != nil {
			se.logger.Error("encode failed, marking layer dead", "layer", i, "error", err)
			l.dead = true
			continue
		}

		if forceKey {
			l.lastKeyframe = now
			l.requested = false
			l.firstFrame = false
		}

		if se.sink != nil {
			se.sink(EncodedChunk{Data: chunk, LayerIndex: i, IsKeyframe: forceKey})
		}
	}
}

// Close tears down every layer's encoder and downscale surface.
func (se *SimulcastEncoder) Close() error {
	se.mu.Lock()
	defer se.mu.Unlock()
	var firstErr error
	for _, l := range se.layers {
		if l.encoder != nil {
			if err := l.encoder.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if l.surface != nil {
			if err := l.surface.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
