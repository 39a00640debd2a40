package video

// Layer is a static simulcast layer configuration, per spec §3.
type Layer struct {
	Width     int
	Height    int
	FrameRate int
	BitrateBps int
}

// CanonicalLayers are the three fixed simulcast layers spec §3 defines,
// ordered lowest to highest resolution.
var CanonicalLayers = []Layer{
	{Width: 320, Height: 180, FrameRate: 15, BitrateBps: 150_000},
	{Width: 640, Height: 360, FrameRate: 30, BitrateBps: 500_000},
	{Width: 1280, Height: 720, FrameRate: 30, BitrateBps: 1_500_000},
}

// ActiveLayers returns the canonical layers whose resolution does not
// exceed the source resolution, always returning at least the smallest
// layer.
func ActiveLayers(sourceWidth, sourceHeight int) []Layer {
	var active []Layer
	for _, l := range CanonicalLayers {
		if l.Width <= sourceWidth && l.Height <= sourceHeight {
			active = append(active, l)
		}
	}
	if len(active) == 0 {
		active = []Layer{CanonicalLayers[0]}
	}
	return active
}

// FrameDivisor computes how often (in source frames) a layer should be
// submitted to keep its output at its own target frame rate.
func FrameDivisor(sourceFrameRate, layerFrameRate int) int {
	if layerFrameRate <= 0 {
		return 1
	}
	d := (sourceFrameRate + layerFrameRate/2) / layerFrameRate
	if d < 1 {
		d = 1
	}
	return d
}
