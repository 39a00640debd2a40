package gateway

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRouterLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRouterRoutesRegisteredEvent(t *testing.T) {
	r := NewRouter(testRouterLogger())

	var got json.RawMessage
	r.On(EventReady, func(data json.RawMessage) { got = data })

	r.Route(EventReady, json.RawMessage(`{"session_id":"abc"}`))
	require.Equal(t, json.RawMessage(`{"session_id":"abc"}`), got)
}

func TestRouterDropsUnregisteredEvent(t *testing.T) {
	r := NewRouter(testRouterLogger())

	called := false
	r.On(EventReady, func(data json.RawMessage) { called = true })

	r.Route(EventMessageCreate, json.RawMessage(`{}`))
	assert.False(t, called)
}

func TestRouterHandleAdaptsToDispatchHandler(t *testing.T) {
	r := NewRouter(testRouterLogger())

	var seen DispatchEvent
	r.On(EventVoiceStateUpdate, func(data json.RawMessage) { seen = EventVoiceStateUpdate })

	var handler DispatchHandler = r.Handle
	handler(EventVoiceStateUpdate, json.RawMessage(`{}`))
	assert.Equal(t, EventVoiceStateUpdate, seen)
}

func TestAllDispatchEventsCoversEveryConstant(t *testing.T) {
	want := []DispatchEvent{
		EventReady, EventMessageCreate, EventMessageUpdate, EventMessageDelete,
		EventMessageDeleteBulk, EventGuildCreate, EventGuildUpdate, EventGuildDelete,
		EventChannelCreate, EventChannelUpdate, EventChannelDelete,
		EventGuildMemberAdd, EventGuildMemberRemove, EventGuildMemberUpdate,
		EventPresenceUpdate, EventVoiceStateUpdate, EventMessageReactionAdd,
		EventMessageReactionRemove, EventChannelPinsUpdate, EventTypingStart,
		EventUserUpdate, EventRelationshipAdd, EventRelationshipRemove,
		EventServerRestart,
	}
	require.Len(t, AllDispatchEvents, len(want))
	for _, ev := range want {
		assert.Contains(t, AllDispatchEvents, ev)
	}
}
