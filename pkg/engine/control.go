package engine

import (
	"encoding/json"
	"fmt"
)

// Control message type discriminators, per spec §6.
const (
	ctrlJoin             = "join"
	ctrlLeave            = "leave"
	ctrlVideoStart       = "video_start"
	ctrlVideoStop        = "video_stop"
	ctrlScreenShareStart = "screen_share_start"
	ctrlScreenShareStop  = "screen_share_stop"
	ctrlRequestKeyframe  = "request_keyframe"
	ctrlParticipantJoin  = "participant_join"
	ctrlParticipantLeave = "participant_leave"
	ctrlSenderKeyUpdate  = "sender_key_update"
)

// JoinPayload is sent by the client on entering a session.
type JoinPayload struct {
	Type      string   `json:"type"`
	SSRC      uint32   `json:"ssrc"`
	SenderKey [32]byte `json:"senderKey"`
	Epoch     uint32   `json:"epoch"`
}

// NewJoinPayload builds a tagged join message.
func NewJoinPayload(ssrc uint32, key [32]byte, epoch uint32) JoinPayload {
	return JoinPayload{Type: ctrlJoin, SSRC: ssrc, SenderKey: key, Epoch: epoch}
}

// LeavePayload is sent by the client on leaving a session.
type LeavePayload struct {
	Type string `json:"type"`
	SSRC uint32 `json:"ssrc"`
}

// NewLeavePayload builds a tagged leave message.
func NewLeavePayload(ssrc uint32) LeavePayload {
	return LeavePayload{Type: ctrlLeave, SSRC: ssrc}
}

// VideoStartPayload brackets the start of a camera track's data flow.
type VideoStartPayload struct {
	Type   string `json:"type"`
	SSRC   uint32 `json:"ssrc"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Layers int    `json:"layers"`
}

// NewVideoStartPayload builds a tagged video_start message.
func NewVideoStartPayload(ssrc uint32, width, height, layers int) VideoStartPayload {
	return VideoStartPayload{Type: ctrlVideoStart, SSRC: ssrc, Width: width, Height: height, Layers: layers}
}

// VideoStopPayload brackets the end of a camera track's data flow.
type VideoStopPayload struct {
	Type string `json:"type"`
	SSRC uint32 `json:"ssrc"`
}

// NewVideoStopPayload builds a tagged video_stop message.
func NewVideoStopPayload(ssrc uint32) VideoStopPayload {
	return VideoStopPayload{Type: ctrlVideoStop, SSRC: ssrc}
}

// ScreenShareStartPayload brackets the start of a screen-share track.
type ScreenShareStartPayload struct {
	Type   string `json:"type"`
	SSRC   uint32 `json:"ssrc"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// NewScreenShareStartPayload builds a tagged screen_share_start message.
func NewScreenShareStartPayload(ssrc uint32, width, height int) ScreenShareStartPayload {
	return ScreenShareStartPayload{Type: ctrlScreenShareStart, SSRC: ssrc, Width: width, Height: height}
}

// ScreenShareStopPayload brackets the end of a screen-share track.
type ScreenShareStopPayload struct {
	Type string `json:"type"`
	SSRC uint32 `json:"ssrc"`
}

// NewScreenShareStopPayload builds a tagged screen_share_stop message.
func NewScreenShareStopPayload(ssrc uint32) ScreenShareStopPayload {
	return ScreenShareStopPayload{Type: ctrlScreenShareStop, SSRC: ssrc}
}

// RequestKeyframePayload asks a target sender to force a keyframe.
type RequestKeyframePayload struct {
	Type       string `json:"type"`
	TargetSSRC uint32 `json:"targetSsrc"`
}

// NewRequestKeyframePayload builds a tagged request_keyframe message.
func NewRequestKeyframePayload(targetSSRC uint32) RequestKeyframePayload {
	return RequestKeyframePayload{Type: ctrlRequestKeyframe, TargetSSRC: targetSSRC}
}

// ParticipantJoinPayload is sent by the server when a peer joins.
type ParticipantJoinPayload struct {
	Type      string    `json:"type"`
	SSRC      uint32    `json:"ssrc"`
	UserID    string    `json:"userId"`
	SenderKey *[32]byte `json:"senderKey,omitempty"`
	Epoch     *uint32   `json:"epoch,omitempty"`
}

// ParticipantLeavePayload is sent by the server when a peer leaves.
type ParticipantLeavePayload struct {
	Type string `json:"type"`
	SSRC uint32 `json:"ssrc"`
}

// SenderKeyUpdatePayload advertises a peer's rotated epoch/key.
type SenderKeyUpdatePayload struct {
	Type      string   `json:"type"`
	SSRC      uint32   `json:"ssrc"`
	SenderKey [32]byte `json:"senderKey"`
	Epoch     uint32   `json:"epoch"`
}

// typeOnly is used to peek a message's discriminator before deciding which
// concrete payload to unmarshal into — the total match described in
// spec §9 ("dynamic opcode/event dispatch" replaced by a discriminated
// union with an explicit unknown arm).
type typeOnly struct {
	Type string `json:"type"`
}

// DispatchControlMessage unmarshals raw once to learn its type, then again
// into the matching concrete payload, invoking the corresponding handler.
// Unknown types are logged and dropped by the caller-supplied unknown arm.
func DispatchControlMessage(raw []byte, h ControlHandlers) error {
	var t typeOnly
	if err := json.Unmarshal(raw, &t); err != nil {
		return fmt.Errorf("engine: decode control envelope: %w", err)
	}

	switch t.Type {
	case ctrlParticipantJoin:
		var p ParticipantJoinPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("engine: decode participant_join: %w", err)
		}
		if h.ParticipantJoin != nil {
			h.ParticipantJoin(p)
		}
	case ctrlParticipantLeave:
		var p ParticipantLeavePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("engine: decode participant_leave: %w", err)
		}
		if h.ParticipantLeave != nil {
			h.ParticipantLeave(p)
		}
	case ctrlSenderKeyUpdate:
		var p SenderKeyUpdatePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("engine: decode sender_key_update: %w", err)
		}
		if h.SenderKeyUpdate != nil {
			h.SenderKeyUpdate(p)
		}
	case ctrlRequestKeyframe:
		var p RequestKeyframePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("engine: decode request_keyframe: %w", err)
		}
		if h.RequestKeyframe != nil {
			h.RequestKeyframe(p)
		}
	default:
		if h.Unknown != nil {
			h.Unknown(t.Type, raw)
		}
	}
	return nil
}

// ControlHandlers is the total match the engine registers over incoming
// control messages.
type ControlHandlers struct {
	ParticipantJoin func(ParticipantJoinPayload)
	ParticipantLeave func(ParticipantLeavePayload)
	SenderKeyUpdate func(SenderKeyUpdatePayload)
	RequestKeyframe func(RequestKeyframePayload)
	Unknown         func(msgType string, raw []byte)
}
