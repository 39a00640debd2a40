// Package engine implements the media engine orchestrator of spec §4.6:
// capture -> encode -> encrypt -> send outbound, and receive -> decrypt ->
// decode -> render inbound, plus the participant/subscription tables and
// control-message handling that drive them. Its lifecycle shape — a
// context-scoped struct with explicit Connect/Disconnect, atomic
// counters, and a bounded event channel instead of ad hoc callbacks —
// follows the teacher's pkg/relay.CameraRelay.
package engine

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/paracord/media-engine/pkg/audio"
	"github.com/paracord/media-engine/pkg/cryptostore"
	"github.com/paracord/media-engine/pkg/jitter"
	"github.com/paracord/media-engine/pkg/transport"
	"github.com/paracord/media-engine/pkg/video"
	"github.com/paracord/media-engine/pkg/wire"
)

// eventChannelDepth bounds Engine.Events; once full, the oldest queued
// event is dropped rather than blocking producers (spec §9).
const eventChannelDepth = 64

// playbackTickInterval is the audio pull cadence from spec §5.
const playbackTickInterval = 20 * time.Millisecond

// PlaybackSink receives decoded PCM for one remote participant.
type PlaybackSink func(userID string, pcm []int16)

// Codecs bundles the pluggable codec implementations the engine drives.
// Real bindings (Opus, VP9) are supplied by the caller; tests use fakes.
type Codecs struct {
	AudioCodec     audio.FrameCodec
	VideoFactory   video.EncoderFactory
	VideoDecoderFn func() video.UnderlyingDecoder
}

// Engine is the client-side media engine for one session. It exclusively
// owns encoders, decoders, jitter buffers, and participant tables; the UI
// owns capture devices and render surfaces, the engine only writes to
// them (spec §3 Ownership).
type Engine struct {
	logger    *slog.Logger
	transport transport.Transporter
	keys      *cryptostore.Store
	codecs    Codecs
	playback  PlaybackSink

	mu            sync.RWMutex
	state         State
	localSSRC     uint32
	muted         bool
	deafened      bool
	participants  map[uint32]*Participant
	subscriptions map[string]*VideoSubscription

	audioEncoder     *audio.Encoder
	cameraEncoder    *video.SimulcastEncoder
	screenEncoder    *video.SimulcastEncoder

	audioSeq  atomic.Uint32 // low 16 bits used; wraps per spec §3
	layerSeqs sync.Map      // map[int]*atomic.Uint32, camera layer index -> sequence

	events chan EngineEvent

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an engine bound to transport t, not yet connected.
func New(t transport.Transporter, codecs Codecs, playback PlaybackSink, logger *slog.Logger) *Engine {
	return &Engine{
		logger:        logger.With("component", "engine"),
		transport:     t,
		keys:          cryptostore.NewStore(logger),
		codecs:        codecs,
		playback:      playback,
		participants:  make(map[uint32]*Participant),
		subscriptions: make(map[string]*VideoSubscription),
		events:        make(chan EngineEvent, eventChannelDepth),
	}
}

// Events exposes the bounded tagged-union event stream.
func (e *Engine) Events() <-chan EngineEvent { return e.events }

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

func (e *Engine) emit(ev EngineEvent) {
	select {
	case e.events <- ev:
	default:
		select {
		case <-e.events:
		default:
		}
		select {
		case e.events <- ev:
		default:
		}
		e.logger.Warn("event channel full, dropped oldest event")
	}
}

// Connect transitions Disconnected -> Connecting -> Joined: it generates a
// local SSRC and sender key, then sends the join control message, per
// spec §4.6.
func (e *Engine) Connect(ctx context.Context) error {
	e.setState(StateConnecting)
	e.ctx, e.cancel = context.WithCancel(ctx)

	ssrc, err := randomSSRC()
	if err != nil {
		e.setState(StateDisconnected)
		return fmt.Errorf("engine: generate local ssrc: %w", err)
	}
	if err := e.keys.GenerateLocal(); err != nil {
		e.setState(StateDisconnected)
		return fmt.Errorf("engine: generate local key: %w", err)
	}
	epoch, keyBytes, err := e.keys.ExportLocal()
	if err != nil {
		e.setState(StateDisconnected)
		return fmt.Errorf("engine: export local key: %w", err)
	}

	e.mu.Lock()
	e.localSSRC = ssrc
	e.mu.Unlock()

	var key32 [32]byte
	copy(key32[:], keyBytes)
	if err := e.transport.SendControl(NewJoinPayload(ssrc, key32, epoch)); err != nil {
		e.setState(StateDisconnected)
		return fmt.Errorf("engine: send join: %w", err)
	}

	e.audioEncoder = audio.NewEncoder(e.codecs.AudioCodec, e.logger)
	e.setState(StateJoined)

	e.wg.Add(2)
	go e.playbackLoop()
	go e.receiveLoop()

	return nil
}

// Disconnect is always safe from any state: it cancels everything,
// releases encoders/decoders, and clears participant tables (spec §5).
func (e *Engine) Disconnect() {
	e.setState(StateDisconnecting)
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()

	e.mu.Lock()
	if e.cameraEncoder != nil {
		_ = e.cameraEncoder.Close()
		e.cameraEncoder = nil
	}
	if e.screenEncoder != nil {
		_ = e.screenEncoder.Close()
		e.screenEncoder = nil
	}
	for ssrc, p := range e.participants {
		_ = p
		delete(e.participants, ssrc)
	}
	for userID, sub := range e.subscriptions {
		if sub.Decoder != nil {
			_ = sub.Decoder.Close()
		}
		delete(e.subscriptions, userID)
	}
	e.mu.Unlock()

	_ = e.transport.SendControl(NewLeavePayload(e.localSSRC))
	_ = e.transport.Close()
	e.setState(StateDisconnected)
}

func randomSSRC() (uint32, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

// LocalSSRC returns this session's ssrc, valid once Connect succeeds.
func (e *Engine) LocalSSRC() uint32 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.localSSRC
}

// SetMuted controls whether outbound audio packets are emitted. The
// capture worklet keeps running either way, per spec §4.6.
func (e *Engine) SetMuted(muted bool) {
	e.mu.Lock()
	e.muted = muted
	e.mu.Unlock()
}

// SetDeafened controls whether inbound audio is routed to playback.
func (e *Engine) SetDeafened(deafened bool) {
	e.mu.Lock()
	e.deafened = deafened
	e.mu.Unlock()
}

// SendAudioFrame encodes and transmits one 20 ms PCM frame, per spec
// §4.6's outbound audio pipeline. It is a no-op while muted.
func (e *Engine) SendAudioFrame(pcm []int16, captureTimestampMs uint32) error {
	e.mu.RLock()
	muted := e.muted
	ssrc := e.localSSRC
	e.mu.RUnlock()
	if muted {
		return nil
	}

	chunk, level, err := e.audioEncoder.Encode(pcm)
	if err != nil {
		return fmt.Errorf("engine: encode audio frame: %w", err)
	}

	sequence := uint16(e.audioSeq.Add(1) - 1)
	if e.keys.ShouldRotate(sequence) {
		e.rotateLocalKey()
	}

	epoch, _, err := e.keys.ExportLocal()
	if err != nil {
		return fmt.Errorf("engine: export local key: %w", err)
	}

	header := wire.MediaHeader{
		Version:    wire.ProtocolVersion,
		TrackType:  wire.TrackAudio,
		Sequence:   sequence,
		Timestamp:  captureTimestampMs,
		SSRC:       ssrc,
		AudioLevel: level,
		KeyEpoch:   epoch,
	}
	return e.sealAndSend(header, chunk)
}

// SendVideoFrame hands a captured camera frame to the camera simulcast
// encoder; encoded chunks flow to sealAndSend via the registered sink.
func (e *Engine) SendVideoFrame(frame video.SourceFrame) error {
	e.mu.RLock()
	enc := e.cameraEncoder
	e.mu.RUnlock()
	if enc == nil {
		return fmt.Errorf("engine: camera encoder not started")
	}
	enc.Encode(frame)
	return nil
}

// SendScreenFrame hands a captured screen frame to the screen-share
// simulcast encoder, an independent track with its own sequence counters.
func (e *Engine) SendScreenFrame(frame video.SourceFrame) error {
	e.mu.RLock()
	enc := e.screenEncoder
	e.mu.RUnlock()
	if enc == nil {
		return fmt.Errorf("engine: screen encoder not started")
	}
	enc.Encode(frame)
	return nil
}

// StartCamera constructs the camera simulcast encoder for the given
// source resolution/frame rate and sends video_start, per spec §4.6.
func (e *Engine) StartCamera(sourceWidth, sourceHeight, sourceFrameRate int) error {
	e.mu.RLock()
	ssrc := e.localSSRC
	e.mu.RUnlock()

	enc, err := video.NewSimulcastEncoder(sourceWidth, sourceHeight, sourceFrameRate, e.codecs.VideoFactory,
		e.videoSink(&e.layerSeqs), e.logger)
	if err != nil {
		return fmt.Errorf("engine: start camera: %w", err)
	}

	e.mu.Lock()
	e.cameraEncoder = enc
	e.mu.Unlock()

	return e.transport.SendControl(NewVideoStartPayload(ssrc, sourceWidth, sourceHeight, enc.ActiveLayerCount()))
}

// StopCamera tears down the camera encoder and sends video_stop.
func (e *Engine) StopCamera() error {
	e.mu.Lock()
	enc := e.cameraEncoder
	e.cameraEncoder = nil
	ssrc := e.localSSRC
	e.mu.Unlock()

	if enc != nil {
		_ = enc.Close()
	}
	return e.transport.SendControl(NewVideoStopPayload(ssrc))
}

// StartScreenShare constructs the screen-share encoder and sends
// screen_share_start.
func (e *Engine) StartScreenShare(sourceWidth, sourceHeight, sourceFrameRate int) error {
	e.mu.RLock()
	ssrc := e.localSSRC
	e.mu.RUnlock()

	screenSeqs := &sync.Map{}
	enc, err := video.NewSimulcastEncoder(sourceWidth, sourceHeight, sourceFrameRate, e.codecs.VideoFactory,
		e.videoSink(screenSeqs), e.logger)
	if err != nil {
		return fmt.Errorf("engine: start screen share: %w", err)
	}

	e.mu.Lock()
	e.screenEncoder = enc
	e.mu.Unlock()

	return e.transport.SendControl(NewScreenShareStartPayload(ssrc, sourceWidth, sourceHeight))
}

// StopScreenShare tears down the screen-share encoder and sends
// screen_share_stop.
func (e *Engine) StopScreenShare() error {
	e.mu.Lock()
	enc := e.screenEncoder
	e.screenEncoder = nil
	ssrc := e.localSSRC
	e.mu.Unlock()

	if enc != nil {
		_ = enc.Close()
	}
	return e.transport.SendControl(NewScreenShareStopPayload(ssrc))
}

// videoSink builds the per-layer-sequence-counter sink a SimulcastEncoder
// calls with each encoded chunk, sealing and transmitting it.
func (e *Engine) videoSink(seqs *sync.Map) video.Sink {
	return func(chunk video.EncodedChunk) {
		counterAny, _ := seqs.LoadOrStore(chunk.LayerIndex, new(atomic.Uint32))
		counter := counterAny.(*atomic.Uint32)
		sequence := uint16(counter.Add(1) - 1)

		epoch, _, err := e.keys.ExportLocal()
		if err != nil {
			e.logger.Error("export local key for video chunk", "error", err)
			return
		}
		e.mu.RLock()
		ssrc := e.localSSRC
		e.mu.RUnlock()

		header := wire.MediaHeader{
			Version:        wire.ProtocolVersion,
			TrackType:      wire.TrackVideo,
			SimulcastLayer: uint8(chunk.LayerIndex),
			Sequence:       sequence,
			Timestamp:      uint32(time.Now().UnixMilli()),
			SSRC:           ssrc,
			AudioLevel:     wire.SilentAudioLevel,
			KeyEpoch:       epoch,
		}
		if err := e.sealAndSend(header, chunk.Data); err != nil {
			e.logger.Error("send video chunk", "layer", chunk.LayerIndex, "error", err)
		}
	}
}

func (e *Engine) rotateLocalKey() {
	if err := e.keys.GenerateLocal(); err != nil {
		e.logger.Error("rotate local key", "error", err)
		return
	}
	epoch, keyBytes, err := e.keys.ExportLocal()
	if err != nil {
		e.logger.Error("export rotated local key", "error", err)
		return
	}
	var key32 [32]byte
	copy(key32[:], keyBytes)

	e.mu.RLock()
	ssrc := e.localSSRC
	e.mu.RUnlock()

	if err := e.transport.SendControl(SenderKeyUpdatePayload{
		Type: ctrlSenderKeyUpdate, SSRC: ssrc, SenderKey: key32, Epoch: epoch,
	}); err != nil {
		e.logger.Error("advertise rotated key", "error", err)
	}
}

func (e *Engine) sealAndSend(header wire.MediaHeader, plaintext []byte) error {
	aad := header.Bytes()
	ciphertext, err := e.keys.Encrypt(aad, plaintext, header.Sequence, header.SSRC)
	if err != nil {
		return fmt.Errorf("engine: encrypt: %w", err)
	}
	packet := wire.EncodePacket(header, ciphertext)
	if err := e.transport.SendDatagram(packet); err != nil {
		return fmt.Errorf("engine: send datagram: %w", err)
	}
	return nil
}

func (e *Engine) receiveLoop() {
	defer e.wg.Done()
	datagrams := e.transport.Datagrams()
	control := e.transport.ControlMessages()
	handlers := e.controlHandlers()

	for {
		select {
		case <-e.ctx.Done():
			return
		case raw, ok := <-datagrams:
			if !ok {
				e.emit(EngineEvent{Kind: EventFatalError, Err: fmt.Errorf("engine: transport datagram channel closed")})
				return
			}
			e.handleInboundPacket(raw)
		case raw, ok := <-control:
			if !ok {
				e.emit(EngineEvent{Kind: EventFatalError, Err: fmt.Errorf("engine: transport control channel closed")})
				return
			}
			if err := DispatchControlMessage(raw, handlers); err != nil {
				e.logger.Debug("dropping malformed control message", "error", err)
			}
		}
	}
}

// handleInboundPacket implements the receive pipeline of spec §4.6: parse,
// echo-suppress, route by track, decrypt, then buffer or decode.
func (e *Engine) handleInboundPacket(raw []byte) {
	header, payload, err := wire.ParsePacket(raw)
	if err != nil {
		e.logger.Debug("dropping malformed packet", "error", err)
		return
	}

	e.mu.RLock()
	localSSRC := e.localSSRC
	e.mu.RUnlock()
	if header.SSRC == localSSRC {
		return // echo suppression, before any decrypt attempt.
	}

	switch header.TrackType {
	case wire.TrackAudio:
		e.handleInboundAudio(header, payload)
	case wire.TrackVideo:
		e.handleInboundVideo(header, payload)
	}
}

func (e *Engine) handleInboundAudio(header wire.MediaHeader, payload []byte) {
	e.mu.RLock()
	participant, ok := e.participants[header.SSRC]
	e.mu.RUnlock()
	if !ok {
		return // unknown ssrc: tolerate early datagrams silently, per spec §5.
	}

	wasSpeaking := participant.Speaking
	participant.AudioLevel = header.AudioLevel
	participant.Speaking = header.AudioLevel < speakingThreshold
	if participant.Speaking != wasSpeaking {
		e.emit(EngineEvent{Kind: EventSpeakingChanged, SSRC: header.SSRC, UserID: participant.UserID, Speaking: participant.Speaking})
	}

	aad := header.Bytes()
	plaintext, err := e.keys.Decrypt(aad, payload, header.KeyEpoch, header.Sequence, header.SSRC)
	if err != nil {
		e.logger.Debug("dropping undecryptable audio packet", "ssrc", header.SSRC, "error", err)
		return
	}
	participant.JitterBuffer.Push(header.Sequence, header.Timestamp, plaintext)
}

func (e *Engine) handleInboundVideo(header wire.MediaHeader, payload []byte) {
	e.mu.RLock()
	userID, ok := e.participants[header.SSRC]
	var sub *VideoSubscription
	var uid string
	if ok {
		uid = userID.UserID
		sub = e.subscriptions[uid]
	}
	e.mu.RUnlock()
	if sub == nil {
		return
	}

	e.mu.Lock()
	sub.SSRC = header.SSRC
	e.mu.Unlock()

	aad := header.Bytes()
	plaintext, err := e.keys.Decrypt(aad, payload, header.KeyEpoch, header.Sequence, header.SSRC)
	if err != nil {
		e.logger.Debug("dropping undecryptable video packet", "ssrc", header.SSRC, "error", err)
		return
	}

	isKey := video.IsKeyframeBitstream(plaintext)
	frame, err := sub.Decoder.Submit(plaintext, isKey)
	if err != nil {
		e.logger.Debug("video decode error, requesting keyframe", "ssrc", header.SSRC, "error", err)
		_ = e.RequestKeyframe(header.SSRC)
		return
	}
	if frame != nil && sub.Renderer != nil {
		sub.Renderer.Submit(*frame)
	}
}

// RequestKeyframe asks targetSSRC's sender to force a keyframe on both its
// video and screen encoders, per spec §4.6.
func (e *Engine) RequestKeyframe(targetSSRC uint32) error {
	return e.transport.SendControl(NewRequestKeyframePayload(targetSSRC))
}

// SubscribeVideo creates or re-binds a VideoSubscription for userID,
// constructing a fresh decoder the first time.
func (e *Engine) SubscribeVideo(userID string, draw func(video.Frame), resize func(w, h int)) *VideoSubscription {
	e.mu.Lock()
	defer e.mu.Unlock()

	if sub, ok := e.subscriptions[userID]; ok {
		return sub
	}
	decoder := video.NewDecoder(e.codecs.VideoDecoderFn(), e.logger)
	sub := &VideoSubscription{
		UserID:   userID,
		Decoder:  decoder,
		Renderer: video.NewRenderer(draw, resize),
	}
	e.subscriptions[userID] = sub
	return sub
}

// UnsubscribeVideo releases the UI's hold on userID's video stream.
func (e *Engine) UnsubscribeVideo(userID string) {
	e.mu.Lock()
	sub, ok := e.subscriptions[userID]
	if ok {
		delete(e.subscriptions, userID)
	}
	e.mu.Unlock()
	if ok && sub.Decoder != nil {
		_ = sub.Decoder.Close()
	}
}

func (e *Engine) controlHandlers() ControlHandlers {
	return ControlHandlers{
		ParticipantJoin:  e.onParticipantJoin,
		ParticipantLeave: e.onParticipantLeave,
		SenderKeyUpdate:  e.onSenderKeyUpdate,
		RequestKeyframe:  e.onRequestKeyframe,
		Unknown: func(msgType string, raw []byte) {
			e.logger.Debug("dropping unknown control message", "type", msgType)
		},
	}
}

func (e *Engine) onParticipantJoin(p ParticipantJoinPayload) {
	if p.SenderKey != nil && p.Epoch != nil {
		if err := e.keys.ImportPeer(p.SSRC, *p.Epoch, p.SenderKey[:]); err != nil {
			e.logger.Error("import peer key on join", "ssrc", p.SSRC, "error", err)
		}
	}

	e.mu.Lock()
	e.participants[p.SSRC] = &Participant{
		SSRC:         p.SSRC,
		UserID:       p.UserID,
		Decoder:      audio.NewDecoder(e.codecs.AudioCodec, e.logger),
		JitterBuffer: jitter.New(e.logger),
		AudioLevel:   wire.SilentAudioLevel,
	}
	sub, hasSub := e.subscriptions[p.UserID]
	e.mu.Unlock()

	if hasSub {
		sub.Decoder.Reset()
		e.mu.Lock()
		sub.SSRC = p.SSRC
		e.mu.Unlock()
	}

	e.emit(EngineEvent{Kind: EventParticipantJoined, SSRC: p.SSRC, UserID: p.UserID})
}

func (e *Engine) onParticipantLeave(p ParticipantLeavePayload) {
	e.mu.Lock()
	participant, ok := e.participants[p.SSRC]
	if ok {
		delete(e.participants, p.SSRC)
	}
	e.mu.Unlock()

	if !ok {
		return
	}
	e.emit(EngineEvent{Kind: EventParticipantLeft, SSRC: p.SSRC, UserID: participant.UserID})
}

func (e *Engine) onSenderKeyUpdate(p SenderKeyUpdatePayload) {
	if err := e.keys.ImportPeer(p.SSRC, p.Epoch, p.SenderKey[:]); err != nil {
		e.logger.Error("import updated peer key", "ssrc", p.SSRC, "error", err)
	}
}

func (e *Engine) onRequestKeyframe(p RequestKeyframePayload) {
	e.mu.RLock()
	localSSRC := e.localSSRC
	cam := e.cameraEncoder
	screen := e.screenEncoder
	e.mu.RUnlock()
	if p.TargetSSRC != localSSRC {
		return
	}
	if cam != nil {
		cam.RequestKeyframe(nil)
	}
	if screen != nil {
		screen.RequestKeyframe(nil)
	}
}

// playbackLoop pulls every participant's jitter buffer on the fixed
// cadence, decodes, and routes PCM to playback unless deafened, per
// spec §4.6/§5.
func (e *Engine) playbackLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(playbackTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.mu.RLock()
			deafened := e.deafened
			participants := make([]*Participant, 0, len(e.participants))
			for _, p := range e.participants {
				participants = append(participants, p)
			}
			e.mu.RUnlock()

			for _, p := range participants {
				chunk := p.JitterBuffer.Pull()
				if chunk == nil {
					continue
				}
				if deafened || e.playback == nil {
					continue
				}
				pcm, err := p.Decoder.Decode(chunk)
				if err != nil {
					e.logger.Debug("audio decode error", "ssrc", p.SSRC, "error", err)
					continue
				}
				e.playback(p.UserID, pcm)
			}
		}
	}
}
