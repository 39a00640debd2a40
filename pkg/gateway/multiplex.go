package gateway

import (
	"context"
	"log/slog"
	"sync"
)

// Multiplexer owns one Session per server, replacing the source's global
// connection-manager singleton with an explicit, App-owned aggregate
// (spec §9).
type Multiplexer struct {
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMultiplexer creates an empty multiplexer.
func NewMultiplexer(logger *slog.Logger) *Multiplexer {
	return &Multiplexer{
		logger:   logger.With("component", "gateway-multiplex"),
		sessions: make(map[string]*Session),
	}
}

// AddServer creates and connects a session for serverID, keyed by an
// opaque server identifier distinct from the connection URL.
func (m *Multiplexer) AddServer(ctx context.Context, serverID, url, token string, handle DispatchHandler) {
	session := NewSession(url, token, handle, m.logger)

	m.mu.Lock()
	m.sessions[serverID] = session
	m.mu.Unlock()

	session.Connect(ctx)
}

// RemoveServer disconnects and forgets the session for serverID.
func (m *Multiplexer) RemoveServer(serverID string) {
	m.mu.Lock()
	session := m.sessions[serverID]
	delete(m.sessions, serverID)
	m.mu.Unlock()

	if session != nil {
		session.Disconnect()
	}
}

// Connected reports whether serverID's session is currently connected.
func (m *Multiplexer) Connected(serverID string) bool {
	m.mu.RLock()
	session := m.sessions[serverID]
	m.mu.RUnlock()
	return session != nil && session.Connected()
}

// DisconnectAll tears down every session, e.g. on App shutdown.
func (m *Multiplexer) DisconnectAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		sessions = append(sessions, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.Disconnect()
	}
}
