// Package app wires the per-server gateway control planes, the REST auth
// handshake, and the single active voice Engine into one client-lifetime
// aggregate, replacing the source's collection of global singletons
// (spec §9) with an explicit, owned object graph.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/paracord/media-engine/pkg/config"
	"github.com/paracord/media-engine/pkg/engine"
	"github.com/paracord/media-engine/pkg/gateway"
	"github.com/paracord/media-engine/pkg/restauth"
	"github.com/paracord/media-engine/pkg/transport"
)

// VoiceServerResolver maps a server's REST base URL to the WebTransport
// address its media engine should dial, a detail the gateway control
// plane carries in its own DISPATCH payloads in a real deployment.
type VoiceServerResolver func(serverID string) (webtransportAddr string, err error)

// App is the top-level client object: it owns one persisted connection
// profile set, one gateway session per server, and at most one active
// voice Engine (a user is in at most one voice channel across every
// connected server at a time, per spec §3).
type App struct {
	logger *slog.Logger

	cfg         *config.Config
	multiplexer *gateway.Multiplexer
	resolveAddr VoiceServerResolver

	mu          sync.Mutex
	authClients map[string]*restauth.Client // serverID -> REST auth client
	activeVoice *activeVoiceSession
}

type activeVoiceSession struct {
	serverID string
	engine   *engine.Engine
	capture  *engine.CaptureSession
}

// New creates an App bound to cfg, with one gateway session per configured
// server profile already dialing.
func New(ctx context.Context, cfg *config.Config, resolveAddr VoiceServerResolver, dispatch func(serverID string, event gateway.DispatchEvent, data []byte), logger *slog.Logger) *App {
	a := &App{
		logger:      logger.With("component", "app"),
		cfg:         cfg,
		multiplexer: gateway.NewMultiplexer(logger),
		resolveAddr: resolveAddr,
		authClients: make(map[string]*restauth.Client),
	}

	for _, server := range cfg.Servers {
		serverID := server.ServerURL
		router := gateway.NewRouter(logger)
		for _, event := range gateway.AllDispatchEvents {
			event := event
			router.On(event, func(data json.RawMessage) {
				if dispatch != nil {
					dispatch(serverID, event, data)
				}
			})
		}
		a.multiplexer.AddServer(ctx, serverID, server.ServerURL, server.Token, router.Handle)
	}
	return a
}

// JoinVoice tears down any existing voice session (a user can only be in
// one voice channel at a time, across every connected server) and connects
// a fresh Engine to serverID's resolved media address, per spec §4.6.
func (a *App) JoinVoice(ctx context.Context, serverID string, codecs engine.Codecs, playback engine.PlaybackSink) (*engine.Engine, error) {
	addr, err := a.resolveAddr(serverID)
	if err != nil {
		return nil, fmt.Errorf("app: resolve voice address for %s: %w", serverID, err)
	}

	a.LeaveVoice()

	t := transport.NewQUICTransport(a.logger)
	if err := t.Connect(ctx, addr); err != nil {
		return nil, fmt.Errorf("app: connect transport to %s: %w", addr, err)
	}

	e := engine.New(t, codecs, playback, a.logger)
	if err := e.Connect(ctx); err != nil {
		_ = t.Close()
		return nil, fmt.Errorf("app: connect engine: %w", err)
	}

	a.mu.Lock()
	previous := a.activeVoice
	a.activeVoice = &activeVoiceSession{
		serverID: serverID,
		engine:   e,
		capture:  &engine.CaptureSession{ID: uuid.NewString()},
	}
	a.mu.Unlock()

	if previous != nil {
		previous.engine.Disconnect()
		previous.capture.Close()
	}

	a.logger.Info("joined voice", "server", serverID, "session", a.activeVoice.capture.ID)
	return e, nil
}

// LeaveVoice disconnects the active voice session, if any.
func (a *App) LeaveVoice() {
	a.mu.Lock()
	session := a.activeVoice
	a.activeVoice = nil
	a.mu.Unlock()

	if session == nil {
		return
	}
	session.engine.Disconnect()
	session.capture.Close()
}

// ActiveVoiceServer reports which server, if any, currently holds the
// active voice Engine.
func (a *App) ActiveVoiceServer() (serverID string, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.activeVoice == nil {
		return "", false
	}
	return a.activeVoice.serverID, true
}

// AuthClient returns (creating if needed) the REST auth client for
// serverID, used to obtain or refresh a bearer token before a gateway
// IDENTIFY, per spec §4.7.
func (a *App) AuthClient(serverID string, newClient func() *restauth.Client) *restauth.Client {
	a.mu.Lock()
	defer a.mu.Unlock()
	if c, ok := a.authClients[serverID]; ok {
		return c
	}
	c := newClient()
	a.authClients[serverID] = c
	return c
}

// Multiplexer exposes the gateway control-plane aggregate, e.g. so callers
// can check per-server Connected() state for UI presence indicators.
func (a *App) Multiplexer() *gateway.Multiplexer { return a.multiplexer }

// Shutdown tears down every gateway session and the active voice engine.
func (a *App) Shutdown() {
	a.LeaveVoice()
	a.multiplexer.DisconnectAll()
}
