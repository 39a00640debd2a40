package video

import "time"

// SourceFrame is one captured frame (camera or screen) handed to the
// simulcast encoder. The underlying pixel buffer is left abstract: real
// capture backends fill Pixels with whatever layout their downscale
// surface expects.
type SourceFrame struct {
	Width     int
	Height    int
	Pixels    []byte
	CapturedAt time.Time
}

// EncodedChunk is the output of one layer's underlying encoder, handed to
// a registered sink for encryption and transmission.
type EncodedChunk struct {
	Data       []byte
	LayerIndex int
	IsKeyframe bool
}
