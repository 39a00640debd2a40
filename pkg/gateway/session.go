package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// maxReconnectAttempts is the attempt cap from spec §4.7/§8.
const maxReconnectAttempts = 10

// reconnectBaseDelay and reconnectMaxDelay define the exponential backoff
// schedule min(1000*2^k, 30000)ms.
const (
	reconnectBaseDelay = 1 * time.Second
	reconnectMaxDelay  = 30 * time.Second
)

// outboundFrameRate caps outbound gateway frames (HEARTBEAT/IDENTIFY/
// RESUME) per session, smoothing the burst a rapid reconnect storm would
// otherwise send, the same pacing role rate.Limiter plays in the teacher's
// command queue.
const outboundFrameRate = 5 // frames per second, burst 2

// HelloPayload is the data carried by an OpHello frame.
type HelloPayload struct {
	HeartbeatIntervalMs int `json:"heartbeat_interval"`
}

// IdentifyPayload authenticates a fresh session.
type IdentifyPayload struct {
	Token string `json:"token"`
}

// ResumePayload replays a prior session from a sequence cursor.
type ResumePayload struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Seq       int64  `json:"seq"`
}

// ReadyPayload is the first DISPATCH a new session receives.
type ReadyPayload struct {
	SessionID string `json:"session_id"`
}

// DispatchHandler processes one routed DISPATCH event. See dispatch.go.
type DispatchHandler func(event DispatchEvent, data json.RawMessage)

// Dialer opens the underlying websocket connection; production code uses
// websocket.DefaultDialer, tests substitute a fake.
type Dialer interface {
	Dial(url string, header map[string][]string) (*websocket.Conn, error)
}

type defaultDialer struct{}

func (defaultDialer) Dial(url string, header map[string][]string) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	return conn, err
}

// Session is one server's gateway connection, per spec §3 GatewaySession.
type Session struct {
	logger  *slog.Logger
	dialer  Dialer
	handle  DispatchHandler
	limiter *rate.Limiter

	url   string
	token string

	mu                  sync.Mutex
	conn                *websocket.Conn
	heartbeatIntervalMs int
	lastSequence        int64
	sessionID           string
	reconnectAttempts   int
	allowReconnect      bool
	connected           bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSession creates a session for one server. Call Connect to start it.
func NewSession(url, token string, handle DispatchHandler, logger *slog.Logger) *Session {
	return &Session{
		logger:         logger.With("component", "gateway", "server", url),
		dialer:         defaultDialer{},
		handle:         handle,
		limiter:        rate.NewLimiter(rate.Limit(outboundFrameRate), 2),
		url:            url,
		token:          token,
		allowReconnect: true,
	}
}

// Connected reports whether the session currently has a live connection,
// per spec §7's propagation policy.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Connect dials and runs the session until Disconnect is called or the
// context is cancelled, reconnecting per the backoff schedule on drop.
func (s *Session) Connect(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.run()
}

// Disconnect stops the session permanently: no further reconnects.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.allowReconnect = false
	conn := s.conn
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	s.wg.Wait()
}

func (s *Session) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		err := s.connectOnce()
		s.setConnected(false)

		s.mu.Lock()
		allow := s.allowReconnect
		s.mu.Unlock()
		if !allow {
			return
		}
		if err != nil {
			s.logger.Warn("gateway connection ended", "error", err)
		}

		s.mu.Lock()
		s.reconnectAttempts++
		attempt := s.reconnectAttempts
		s.mu.Unlock()
		if attempt > maxReconnectAttempts {
			s.logger.Error("reconnect attempts exhausted", "attempts", attempt)
			return
		}

		delay := ReconnectDelay(attempt)
		s.logger.Info("scheduling reconnect", "attempt", attempt, "delay", delay)
		select {
		case <-s.ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// ReconnectDelay implements the k-th reconnect delay formula from spec §8:
// min(1000 * 2^(k-1), 30000) ms, for 1-indexed attempt k.
func ReconnectDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := reconnectBaseDelay * time.Duration(1<<uint(attempt-1))
	if delay > reconnectMaxDelay {
		delay = reconnectMaxDelay
	}
	return delay
}

func (s *Session) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}

func (s *Session) connectOnce() error {
	conn, err := s.dialer.Dial(s.url, nil)
	if err != nil {
		return fmt.Errorf("gateway: dial: %w", err)
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	defer conn.Close()

	readErr := make(chan error, 1)
	go s.readLoop(conn, readErr)

	select {
	case <-s.ctx.Done():
		return nil
	case err := <-readErr:
		return err
	}
}

func (s *Session) readLoop(conn *websocket.Conn, done chan<- error) {
	var heartbeatCancel context.CancelFunc
	defer func() {
		if heartbeatCancel != nil {
			heartbeatCancel()
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			done <- err
			return
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.logger.Debug("dropping malformed gateway frame", "error", err)
			continue
		}

		switch frame.Op {
		case OpHello:
			var hello HelloPayload
			if err := json.Unmarshal(frame.D, &hello); err != nil {
				s.logger.Debug("dropping malformed HELLO", "error", err)
				continue
			}
			s.mu.Lock()
			s.heartbeatIntervalMs = hello.HeartbeatIntervalMs
			sessionID := s.sessionID
			s.mu.Unlock()

			var heartbeatCtx context.Context
			heartbeatCtx, heartbeatCancel = context.WithCancel(s.ctx)
			s.wg.Add(1)
			go s.heartbeatLoop(heartbeatCtx, conn, hello.HeartbeatIntervalMs)

			if sessionID != "" {
				s.sendResume(conn, sessionID)
			} else {
				s.sendIdentify(conn)
			}

		case OpHeartbeatAck:
			// no-op, per spec §4.7.

		case OpDispatch:
			if frame.S != nil {
				s.mu.Lock()
				s.lastSequence = *frame.S
				s.mu.Unlock()
			}
			if frame.T == string(EventReady) {
				var ready ReadyPayload
				if err := json.Unmarshal(frame.D, &ready); err == nil {
					s.mu.Lock()
					s.sessionID = ready.SessionID
					s.mu.Unlock()
				}
				s.setConnected(true)
			}
			if s.handle != nil {
				s.handle(DispatchEvent(frame.T), frame.D)
			}

		case OpReconnect:
			done <- fmt.Errorf("gateway: server requested reconnect")
			return

		case OpInvalidSession:
			s.mu.Lock()
			s.sessionID = ""
			s.mu.Unlock()
			delay := time.Duration(1000+rand.Intn(4000)) * time.Millisecond
			select {
			case <-time.After(delay):
				s.sendIdentify(conn)
			case <-s.ctx.Done():
				return
			}

		default:
			s.logger.Debug("ignoring unhandled opcode", "op", frame.Op)
		}
	}
}

func (s *Session) sendIdentify(conn *websocket.Conn) {
	s.writeFrame(conn, Frame{Op: OpIdentify}, IdentifyPayload{Token: s.token})
}

func (s *Session) sendResume(conn *websocket.Conn, sessionID string) {
	s.mu.Lock()
	seq := s.lastSequence
	s.mu.Unlock()
	s.writeFrame(conn, Frame{Op: OpResume}, ResumePayload{Token: s.token, SessionID: sessionID, Seq: seq})
}

func (s *Session) writeFrame(conn *websocket.Conn, frame Frame, payload any) {
	if err := s.limiter.Wait(s.ctx); err != nil {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("marshal gateway payload", "error", err)
		return
	}
	frame.D = data
	raw, err := json.Marshal(frame)
	if err != nil {
		s.logger.Error("marshal gateway frame", "error", err)
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		s.logger.Warn("write gateway frame failed", "op", frame.Op, "error", err)
	}
}

func (s *Session) heartbeatLoop(ctx context.Context, conn *websocket.Conn, intervalMs int) {
	defer s.wg.Done()
	if intervalMs <= 0 {
		intervalMs = 30000
	}
	ticker := time.NewTicker(time.Duration(intervalMs) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			seq := s.lastSequence
			s.mu.Unlock()
			s.writeFrame(conn, Frame{Op: OpHeartbeat}, seq)
		}
	}
}
