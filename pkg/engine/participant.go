package engine

import (
	"github.com/paracord/media-engine/pkg/audio"
	"github.com/paracord/media-engine/pkg/jitter"
	"github.com/paracord/media-engine/pkg/video"
)

// Participant is a remote peer's audio state, per spec §3. The engine
// keeps one Participant per ssrc; there is no separate ssrc->userID
// index, the lookup reads the Participant's UserID field.
type Participant struct {
	SSRC        uint32
	UserID      string
	Decoder     *audio.Decoder
	JitterBuffer *jitter.Buffer
	AudioLevel  uint8
	Speaking    bool
}

// VideoSubscription is the UI's handle to one remote video stream, keyed
// by userID (not ssrc) so that a participant re-join can rebind to a new
// ssrc without tearing down the renderer, per spec §3.
type VideoSubscription struct {
	UserID   string
	SSRC     uint32
	Decoder  *video.Decoder
	Renderer *video.Renderer
}

// speakingThreshold is the audioLevel cutoff below which a participant is
// considered to be speaking (lower values are louder), per spec §4.6.
const speakingThreshold = 80

// EventKind tags the variants of EngineEvent.
type EventKind int

const (
	EventParticipantJoined EventKind = iota
	EventParticipantLeft
	EventSpeakingChanged
	EventFatalError
)

// EngineEvent is the tagged union delivered over Engine.Events, replacing
// the source's ad hoc onX(cb) listener registration (spec §9) with a
// single bounded channel. Slow consumers do not stall producers: the
// channel is bounded and a full channel drops the oldest queued event.
type EngineEvent struct {
	Kind   EventKind
	SSRC   uint32
	UserID string
	Speaking bool
	Err    error
}
