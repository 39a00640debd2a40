// Package gateway implements the per-server control-plane session state
// machine described in spec §4.7: HELLO/IDENTIFY/RESUME negotiation,
// heartbeats, reconnect backoff, and dispatch routing — one independent
// session per server, all driven from a single client.
package gateway

import "encoding/json"

// Opcode is the gateway frame discriminator from spec §6.
type Opcode int

const (
	OpDispatch          Opcode = 0
	OpHeartbeat         Opcode = 1
	OpIdentify          Opcode = 2
	OpPresenceUpdate    Opcode = 3
	OpVoiceStateUpdate  Opcode = 4
	OpResume            Opcode = 6
	OpReconnect         Opcode = 7
	OpInvalidSession    Opcode = 9
	OpHello             Opcode = 10
	OpHeartbeatAck      Opcode = 11
)

// Frame is the envelope every gateway message is wrapped in. D is left as
// raw JSON: session.go unmarshals the HELLO and READY payloads, and every
// DISPATCH payload reaches the Router's handlers still raw.
type Frame struct {
	Op Opcode          `json:"op"`
	D  json.RawMessage `json:"d,omitempty"`
	S  *int64          `json:"s,omitempty"`
	T  string          `json:"t,omitempty"`
}

// DispatchEvent names every DISPATCH event the router in dispatch.go
// handles, per spec §6.
type DispatchEvent string

const (
	EventReady                  DispatchEvent = "READY"
	EventMessageCreate          DispatchEvent = "MESSAGE_CREATE"
	EventMessageUpdate          DispatchEvent = "MESSAGE_UPDATE"
	EventMessageDelete          DispatchEvent = "MESSAGE_DELETE"
	EventMessageDeleteBulk      DispatchEvent = "MESSAGE_DELETE_BULK"
	EventGuildCreate            DispatchEvent = "GUILD_CREATE"
	EventGuildUpdate            DispatchEvent = "GUILD_UPDATE"
	EventGuildDelete            DispatchEvent = "GUILD_DELETE"
	EventChannelCreate          DispatchEvent = "CHANNEL_CREATE"
	EventChannelUpdate          DispatchEvent = "CHANNEL_UPDATE"
	EventChannelDelete          DispatchEvent = "CHANNEL_DELETE"
	EventGuildMemberAdd         DispatchEvent = "GUILD_MEMBER_ADD"
	EventGuildMemberRemove      DispatchEvent = "GUILD_MEMBER_REMOVE"
	EventGuildMemberUpdate      DispatchEvent = "GUILD_MEMBER_UPDATE"
	EventPresenceUpdate         DispatchEvent = "PRESENCE_UPDATE"
	EventVoiceStateUpdate       DispatchEvent = "VOICE_STATE_UPDATE"
	EventMessageReactionAdd     DispatchEvent = "MESSAGE_REACTION_ADD"
	EventMessageReactionRemove  DispatchEvent = "MESSAGE_REACTION_REMOVE"
	EventChannelPinsUpdate      DispatchEvent = "CHANNEL_PINS_UPDATE"
	EventTypingStart            DispatchEvent = "TYPING_START"
	EventUserUpdate             DispatchEvent = "USER_UPDATE"
	EventRelationshipAdd        DispatchEvent = "RELATIONSHIP_ADD"
	EventRelationshipRemove     DispatchEvent = "RELATIONSHIP_REMOVE"
	EventServerRestart          DispatchEvent = "SERVER_RESTART"
)

// AllDispatchEvents lists every DISPATCH event name above, so a caller
// wiring a Router can register one handler across the full spec §6 list
// without repeating it, leaving Router's unknown-event arm to catch
// anything the server sends outside of it.
var AllDispatchEvents = []DispatchEvent{
	EventReady,
	EventMessageCreate,
	EventMessageUpdate,
	EventMessageDelete,
	EventMessageDeleteBulk,
	EventGuildCreate,
	EventGuildUpdate,
	EventGuildDelete,
	EventChannelCreate,
	EventChannelUpdate,
	EventChannelDelete,
	EventGuildMemberAdd,
	EventGuildMemberRemove,
	EventGuildMemberUpdate,
	EventPresenceUpdate,
	EventVoiceStateUpdate,
	EventMessageReactionAdd,
	EventMessageReactionRemove,
	EventChannelPinsUpdate,
	EventTypingStart,
	EventUserUpdate,
	EventRelationshipAdd,
	EventRelationshipRemove,
	EventServerRestart,
}
