package engine

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/paracord/media-engine/pkg/video"
	"github.com/paracord/media-engine/pkg/wire"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeTransport is an in-memory Transporter: sent control messages and
// datagrams are captured, and the test can push inbound traffic directly
// onto the channels the engine reads from.
type fakeTransport struct {
	datagrams chan []byte
	control   chan json.RawMessage
	closed    chan struct{}

	sentControl   []any
	sentDatagrams [][]byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		datagrams: make(chan []byte, 64),
		control:   make(chan json.RawMessage, 64),
		closed:    make(chan struct{}),
	}
}

func (f *fakeTransport) SendDatagram(payload []byte) error {
	cp := make([]byte, len(payload))
	copy(cp, payload)
	f.sentDatagrams = append(f.sentDatagrams, cp)
	return nil
}

func (f *fakeTransport) SendControl(msg any) error {
	f.sentControl = append(f.sentControl, msg)
	return nil
}

func (f *fakeTransport) Datagrams() <-chan []byte              { return f.datagrams }
func (f *fakeTransport) ControlMessages() <-chan json.RawMessage { return f.control }
func (f *fakeTransport) Closed() <-chan struct{}               { return f.closed }
func (f *fakeTransport) Close() error                          { return nil }

func (f *fakeTransport) pushControl(t *testing.T, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	f.control <- data
}

// identityCodec is a FrameCodec fake that encodes PCM as-is, reinterpreted
// as bytes, so round trips are trivially verifiable.
type identityCodec struct{}

func (identityCodec) EncodeFrame(pcm []int16) ([]byte, error) {
	out := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		out[2*i] = byte(s)
		out[2*i+1] = byte(s >> 8)
	}
	return out, nil
}

func (identityCodec) DecodeFrame(payload []byte) ([]int16, error) {
	out := make([]int16, len(payload)/2)
	for i := range out {
		out[i] = int16(payload[2*i]) | int16(payload[2*i+1])<<8
	}
	return out, nil
}

func testCodecs() Codecs {
	return Codecs{
		AudioCodec: identityCodec{},
	}
}

func TestConnectSendsJoinAndTransitionsState(t *testing.T) {
	tr := newFakeTransport()
	e := New(tr, testCodecs(), nil, testLogger())

	require.Equal(t, StateDisconnected, e.State())
	require.NoError(t, e.Connect(t.Context()))
	defer e.Disconnect()

	require.Equal(t, StateJoined, e.State())
	require.Len(t, tr.sentControl, 1)
	join, ok := tr.sentControl[0].(JoinPayload)
	require.True(t, ok)
	require.Equal(t, e.LocalSSRC(), join.SSRC)
}

func TestSendAudioFrameMutedIsNoop(t *testing.T) {
	tr := newFakeTransport()
	e := New(tr, testCodecs(), nil, testLogger())
	require.NoError(t, e.Connect(t.Context()))
	defer e.Disconnect()

	e.SetMuted(true)
	pcm := make([]int16, 960)
	require.NoError(t, e.SendAudioFrame(pcm, 0))
	require.Empty(t, tr.sentDatagrams)
}

func TestSendAudioFrameEncryptsAndSends(t *testing.T) {
	tr := newFakeTransport()
	e := New(tr, testCodecs(), nil, testLogger())
	require.NoError(t, e.Connect(t.Context()))
	defer e.Disconnect()

	pcm := make([]int16, 960)
	for i := range pcm {
		pcm[i] = int16(i)
	}
	require.NoError(t, e.SendAudioFrame(pcm, 1234))
	require.Len(t, tr.sentDatagrams, 1)
	require.Greater(t, len(tr.sentDatagrams[0]), 20) // header + ciphertext
}

func TestEchoSuppressionDropsOwnSSRC(t *testing.T) {
	tr := newFakeTransport()
	e := New(tr, testCodecs(), nil, testLogger())
	require.NoError(t, e.Connect(t.Context()))
	defer e.Disconnect()

	pcm := make([]int16, 960)
	require.NoError(t, e.SendAudioFrame(pcm, 0))
	require.Len(t, tr.sentDatagrams, 1)

	// Feed our own outbound packet straight back in; it must be dropped
	// silently rather than attempted for decrypt (which would fail, since
	// Decrypt only holds peer keys, never the local one).
	tr.datagrams <- tr.sentDatagrams[0]
	time.Sleep(20 * time.Millisecond)
}

func TestParticipantJoinAndLeaveLifecycle(t *testing.T) {
	tr := newFakeTransport()
	var played []string
	playback := func(userID string, pcm []int16) {
		played = append(played, userID)
	}
	e := New(tr, testCodecs(), playback, testLogger())
	require.NoError(t, e.Connect(t.Context()))
	defer e.Disconnect()

	var key [32]byte
	key[0] = 0xAB
	tr.pushControl(t, ParticipantJoinPayload{
		Type: "participant_join", SSRC: 99, UserID: "bob",
		SenderKey: &key, Epoch: uintPtr(1),
	})
	time.Sleep(20 * time.Millisecond)

	e.mu.RLock()
	_, joined := e.participants[99]
	e.mu.RUnlock()
	require.True(t, joined)

	select {
	case ev := <-e.Events():
		require.Equal(t, EventParticipantJoined, ev.Kind)
		require.Equal(t, "bob", ev.UserID)
	case <-time.After(time.Second):
		t.Fatal("expected participant joined event")
	}

	tr.pushControl(t, ParticipantLeavePayload{Type: "participant_leave", SSRC: 99})
	time.Sleep(20 * time.Millisecond)

	e.mu.RLock()
	_, stillThere := e.participants[99]
	e.mu.RUnlock()
	require.False(t, stillThere)
}

func TestUnknownControlMessageIsDropped(t *testing.T) {
	tr := newFakeTransport()
	e := New(tr, testCodecs(), nil, testLogger())
	require.NoError(t, e.Connect(t.Context()))
	defer e.Disconnect()

	tr.pushControl(t, map[string]string{"type": "something_unheard_of"})
	time.Sleep(20 * time.Millisecond)

	e.mu.RLock()
	n := len(e.participants)
	e.mu.RUnlock()
	require.Zero(t, n)
}

func TestRequestKeyframeIgnoredForOtherSSRC(t *testing.T) {
	tr := newFakeTransport()
	e := New(tr, testCodecs(), nil, testLogger())
	require.NoError(t, e.Connect(t.Context()))
	defer e.Disconnect()

	tr.pushControl(t, RequestKeyframePayload{Type: "request_keyframe", TargetSSRC: e.LocalSSRC() + 1})
	time.Sleep(20 * time.Millisecond)
	// No camera/screen encoder running; handler must simply no-op, not panic.
}

func TestVideoSubscriptionDecodesAwaitingKeyframe(t *testing.T) {
	tr := newFakeTransport()
	e := New(tr, testCodecs(), nil, testLogger())
	require.NoError(t, e.Connect(t.Context()))
	defer e.Disconnect()

	e.codecs.VideoDecoderFn = func() video.UnderlyingDecoder { return &fakeUnderlyingDecoder{} }

	var drawn []video.Frame
	sub := e.SubscribeVideo("carol", func(f video.Frame) { drawn = append(drawn, f) }, func(w, h int) {})
	require.NotNil(t, sub)

	tr.pushControl(t, ParticipantJoinPayload{Type: "participant_join", SSRC: 55, UserID: "carol"})
	time.Sleep(10 * time.Millisecond)

	// The packets below are sealed with the engine's own local key, so the
	// receive path must hold that key as ssrc 55's peer key.
	_, localKey, err := e.keys.ExportLocal()
	require.NoError(t, err)
	require.NoError(t, e.keys.ImportPeer(55, 1, localKey))

	// Delta frame first (bit 0x04 of payload[0] set => not a keyframe per
	// video.IsKeyframeBitstream's mask): should be gated out (awaitingKey).
	deltaHeader := wire.MediaHeader{
		Version: wire.ProtocolVersion, TrackType: wire.TrackVideo,
		Sequence: 0, SSRC: 55, AudioLevel: wire.SilentAudioLevel, KeyEpoch: 1,
	}
	ct, err := e.keys.Encrypt(deltaHeader.Bytes(), []byte{0xFF}, deltaHeader.Sequence, 55)
	require.NoError(t, err)
	e.handleInboundPacket(wire.EncodePacket(deltaHeader, ct))

	// Keyframe next (bit 0x04 of payload[0] clear => keyframe): should decode and reach
	// the renderer.
	keyHeader := wire.MediaHeader{
		Version: wire.ProtocolVersion, TrackType: wire.TrackVideo,
		Sequence: 1, SSRC: 55, AudioLevel: wire.SilentAudioLevel, KeyEpoch: 1,
	}
	ct2, err := e.keys.Encrypt(keyHeader.Bytes(), []byte{0x00}, keyHeader.Sequence, 55)
	require.NoError(t, err)
	e.handleInboundPacket(wire.EncodePacket(keyHeader, ct2))

	sub.Renderer.Tick()
	require.Len(t, drawn, 1)
}

func TestSpeakingChangedEmitsOnTransition(t *testing.T) {
	tr := newFakeTransport()
	e := New(tr, testCodecs(), nil, testLogger())
	require.NoError(t, e.Connect(t.Context()))
	defer e.Disconnect()

	tr.pushControl(t, ParticipantJoinPayload{Type: "participant_join", SSRC: 55, UserID: "carol"})
	time.Sleep(10 * time.Millisecond)

	var key32 [32]byte
	require.NoError(t, e.keys.ImportPeer(55, 1, key32[:]))

	drainEvent := func() EngineEvent {
		t.Helper()
		select {
		case ev := <-e.Events():
			return ev
		case <-time.After(time.Second):
			t.Fatal("expected event")
			return EngineEvent{}
		}
	}
	require.Equal(t, EventParticipantJoined, drainEvent().Kind)

	loudHeader := wire.MediaHeader{
		Version: wire.ProtocolVersion, TrackType: wire.TrackAudio,
		Sequence: 0, SSRC: 55, AudioLevel: speakingThreshold - 1, KeyEpoch: 1,
	}
	ct, err := e.keys.Encrypt(loudHeader.Bytes(), []byte{0x00, 0x00}, loudHeader.Sequence, 55)
	require.NoError(t, err)
	e.handleInboundPacket(wire.EncodePacket(loudHeader, ct))

	ev := drainEvent()
	require.Equal(t, EventSpeakingChanged, ev.Kind)
	require.Equal(t, "carol", ev.UserID)
	require.True(t, ev.Speaking)

	quietHeader := wire.MediaHeader{
		Version: wire.ProtocolVersion, TrackType: wire.TrackAudio,
		Sequence: 1, SSRC: 55, AudioLevel: speakingThreshold, KeyEpoch: 1,
	}
	ct2, err := e.keys.Encrypt(quietHeader.Bytes(), []byte{0x00, 0x00}, quietHeader.Sequence, 55)
	require.NoError(t, err)
	e.handleInboundPacket(wire.EncodePacket(quietHeader, ct2))

	ev2 := drainEvent()
	require.Equal(t, EventSpeakingChanged, ev2.Kind)
	require.False(t, ev2.Speaking)
}

func TestFatalErrorEmittedWhenDatagramChannelCloses(t *testing.T) {
	tr := newFakeTransport()
	e := New(tr, testCodecs(), nil, testLogger())
	require.NoError(t, e.Connect(t.Context()))
	defer e.Disconnect()

	close(tr.datagrams)

	select {
	case ev := <-e.Events():
		require.Equal(t, EventFatalError, ev.Kind)
		require.Error(t, ev.Err)
	case <-time.After(time.Second):
		t.Fatal("expected fatal error event")
	}
}

func uintPtr(v uint32) *uint32 { return &v }

// fakeUnderlyingDecoder decodes by returning the chunk bytes as a 1x1 frame,
// enough to exercise the Decoder's awaitingKey gate without a real codec.
type fakeUnderlyingDecoder struct{}

func (fakeUnderlyingDecoder) Decode(chunk []byte) (video.Frame, error) {
	return video.Frame{Width: 1, Height: 1, Pixels: chunk}, nil
}
func (fakeUnderlyingDecoder) Reset()      {}
func (fakeUnderlyingDecoder) Close() error { return nil }
