package transport

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSendDatagramBeforeConnectFails(t *testing.T) {
	tr := NewQUICTransport(testLogger())
	err := tr.SendDatagram([]byte("hello"))
	require.Error(t, err)
}

func TestSendControlBeforeConnectFails(t *testing.T) {
	tr := NewQUICTransport(testLogger())
	err := tr.SendControl(map[string]string{"type": "ping"})
	require.Error(t, err)
}

func TestCloseBeforeConnectClosesChannelOnce(t *testing.T) {
	tr := NewQUICTransport(testLogger())

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())

	select {
	case <-tr.Closed():
	default:
		t.Fatal("expected Closed() channel to be closed")
	}
}

func TestDatagramsAndControlMessagesChannelsExposed(t *testing.T) {
	tr := NewQUICTransport(testLogger())
	assert.NotNil(t, tr.Datagrams())
	assert.NotNil(t, tr.ControlMessages())
}

func TestNoteHeartbeatAckResetsLastAck(t *testing.T) {
	tr := NewQUICTransport(testLogger())
	before := tr.lastAckAt
	tr.NoteHeartbeatAck()
	assert.True(t, tr.lastAckAt.After(before) || tr.lastAckAt.Equal(before))
}
