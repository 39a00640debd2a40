// Package transport abstracts the datagram + reliable-stream channel the
// media engine sends and receives over (spec §5/§6: "abstract over
// QUIC/native"). The default implementation runs over WebTransport, the
// same shape used by other bken-style voice clients in the wild: one
// datagram channel for media packets, one reliable stream for JSON
// control messages.
package transport

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/webtransport-go"
)

// DefaultConnectTimeout is the caller-configurable default from spec §5.
const DefaultConnectTimeout = 10 * time.Second

// IdleWatchdogTimeout closes a transport after this long without any
// inbound datagram, control message, or heartbeat ack, per spec §5.
const IdleWatchdogTimeout = 30 * time.Second

// Transporter is what the media engine and gateway depend on; a fake
// implementation backs unit tests that don't want a real network.
type Transporter interface {
	SendDatagram(payload []byte) error
	SendControl(msg any) error
	Datagrams() <-chan []byte
	ControlMessages() <-chan json.RawMessage
	Closed() <-chan struct{}
	Close() error
}

// QUICTransport is the default Transporter, backed by a WebTransport
// session: an unreliable datagram channel for MediaHeader-framed packets
// and one bidirectional stream carrying newline-delimited JSON control
// messages.
type QUICTransport struct {
	logger *slog.Logger

	mu      sync.Mutex
	session *webtransport.Session
	ctrl    *webtransport.Stream
	cancel  context.CancelFunc

	datagrams chan []byte
	control   chan json.RawMessage
	closed    chan struct{}
	closeOnce sync.Once

	lastAckAt time.Time
	ackMu     sync.Mutex
}

// NewQUICTransport creates an unconnected transport; call Connect to dial.
func NewQUICTransport(logger *slog.Logger) *QUICTransport {
	return &QUICTransport{
		logger:    logger.With("component", "transport"),
		datagrams: make(chan []byte, 256),
		control:   make(chan json.RawMessage, 64),
		closed:    make(chan struct{}),
	}
}

// Connect dials addr with DefaultConnectTimeout, opens the control stream,
// and starts the datagram and control read loops plus the idle watchdog.
func (t *QUICTransport) Connect(ctx context.Context, addr string) error {
	dialCtx, dialCancel := context.WithTimeout(ctx, DefaultConnectTimeout)
	defer dialCancel()

	sessionCtx, cancel := context.WithCancel(ctx)

	d := webtransport.Dialer{
		TLSClientConfig: &tls.Config{},
		QUICConfig: &quic.Config{
			EnableDatagrams: true,
		},
	}

	_, sess, err := d.Dial(dialCtx, addr, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("transport: dial %s: %w", addr, err)
	}

	stream, err := sess.OpenStream()
	if err != nil {
		cancel()
		sess.CloseWithError(0, "failed to open control stream")
		return fmt.Errorf("transport: open control stream: %w", err)
	}

	t.mu.Lock()
	t.session = sess
	t.ctrl = stream
	t.cancel = cancel
	t.mu.Unlock()

	t.touchAck()

	go t.readDatagrams(sessionCtx, sess)
	go t.readControl(sessionCtx, stream)
	go t.idleWatchdog(sessionCtx)

	return nil
}

// SendDatagram sends one media packet unreliably. Fire-and-forget at the
// API level per spec §9; the transport may internally queue and retry.
func (t *QUICTransport) SendDatagram(payload []byte) error {
	t.mu.Lock()
	sess := t.session
	t.mu.Unlock()
	if sess == nil {
		return fmt.Errorf("transport: not connected")
	}
	if err := sess.SendDatagram(payload); err != nil {
		return fmt.Errorf("transport: send datagram: %w", err)
	}
	return nil
}

// SendControl marshals msg as JSON and writes it newline-delimited on the
// reliable control stream.
func (t *QUICTransport) SendControl(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("transport: marshal control message: %w", err)
	}
	data = append(data, '\n')

	t.mu.Lock()
	stream := t.ctrl
	t.mu.Unlock()
	if stream == nil {
		return fmt.Errorf("transport: control stream not open")
	}
	if _, err := stream.Write(data); err != nil {
		return fmt.Errorf("transport: write control message: %w", err)
	}
	return nil
}

// Datagrams returns the channel of inbound media packets.
func (t *QUICTransport) Datagrams() <-chan []byte { return t.datagrams }

// ControlMessages returns the channel of inbound, still-JSON-encoded
// control messages; the caller discriminates by "type" and unmarshals.
func (t *QUICTransport) ControlMessages() <-chan json.RawMessage { return t.control }

// Closed is closed once the transport has torn down.
func (t *QUICTransport) Closed() <-chan struct{} { return t.closed }

// Close tears down the session and stops all read loops.
func (t *QUICTransport) Close() error {
	t.mu.Lock()
	cancel := t.cancel
	sess := t.session
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	t.closeOnce.Do(func() { close(t.closed) })

	if sess != nil {
		return sess.CloseWithError(0, "client disconnect")
	}
	return nil
}

func (t *QUICTransport) touchAck() {
	t.ackMu.Lock()
	t.lastAckAt = time.Now()
	t.ackMu.Unlock()
}

// NoteHeartbeatAck lets a caller that runs its own heartbeat protocol over
// the control stream reset the idle watchdog explicitly. The watchdog is
// also reset on every inbound datagram or control message (readDatagrams,
// readControl), so this is only needed if traffic can go quiet on the wire
// while the connection is still alive.
func (t *QUICTransport) NoteHeartbeatAck() { t.touchAck() }

func (t *QUICTransport) idleWatchdog(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.ackMu.Lock()
			idle := time.Since(t.lastAckAt)
			t.ackMu.Unlock()
			if idle > IdleWatchdogTimeout {
				t.logger.Warn("idle watchdog closing transport", "idle", idle)
				_ = t.Close()
				return
			}
		}
	}
}

func (t *QUICTransport) readDatagrams(ctx context.Context, sess *webtransport.Session) {
	for {
		data, err := sess.ReceiveDatagram(ctx)
		if err != nil {
			select {
			case <-ctx.Done():
			default:
				t.logger.Info("datagram read loop stopped", "error", err)
			}
			t.closeOnce.Do(func() { close(t.closed) })
			return
		}
		t.touchAck()
		select {
		case t.datagrams <- data:
		default:
			t.logger.Warn("datagram channel full, dropping inbound packet")
		}
	}
}

func (t *QUICTransport) readControl(ctx context.Context, stream *webtransport.Stream) {
	decoder := json.NewDecoder(stream)
	for {
		var raw json.RawMessage
		if err := decoder.Decode(&raw); err != nil {
			select {
			case <-ctx.Done():
			default:
				t.logger.Info("control read loop stopped", "error", err)
			}
			return
		}
		t.touchAck()
		select {
		case t.control <- raw:
		default:
			t.logger.Warn("control channel full, dropping message")
		}
	}
}
