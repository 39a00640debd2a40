package app

import (
	"context"
	"crypto/ed25519"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paracord/media-engine/pkg/config"
	"github.com/paracord/media-engine/pkg/engine"
	"github.com/paracord/media-engine/pkg/restauth"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestApp() *App {
	cfg := &config.Config{}
	return New(context.Background(), cfg, nil, nil, testLogger())
}

func TestActiveVoiceServerEmptyByDefault(t *testing.T) {
	a := newTestApp()
	_, ok := a.ActiveVoiceServer()
	assert.False(t, ok)
}

func TestAuthClientCachesPerServer(t *testing.T) {
	a := newTestApp()

	calls := 0
	newClient := func() *restauth.Client {
		calls++
		_, priv, err := ed25519.GenerateKey(nil)
		require.NoError(t, err)
		return restauth.NewClient("https://a.example.com", priv, testLogger())
	}

	first := a.AuthClient("server-a", newClient)
	second := a.AuthClient("server-a", newClient)

	assert.Same(t, first, second)
	assert.Equal(t, 1, calls)
}

func TestAuthClientDistinctPerServer(t *testing.T) {
	a := newTestApp()

	makeClient := func(url string) func() *restauth.Client {
		return func() *restauth.Client {
			_, priv, err := ed25519.GenerateKey(nil)
			require.NoError(t, err)
			return restauth.NewClient(url, priv, testLogger())
		}
	}

	clientA := a.AuthClient("server-a", makeClient("https://a.example.com"))
	clientB := a.AuthClient("server-b", makeClient("https://b.example.com"))

	assert.NotSame(t, clientA, clientB)
}

func TestShutdownWithNoSessionsIsSafe(t *testing.T) {
	a := newTestApp()
	a.Shutdown()
}

func TestJoinVoiceFailsForUnresolvableServer(t *testing.T) {
	cfg := &config.Config{}
	resolveAddr := func(serverID string) (string, error) {
		return "", errors.New("no voice server configured")
	}
	a := New(context.Background(), cfg, resolveAddr, nil, testLogger())

	_, err := a.JoinVoice(context.Background(), "server-a", engine.Codecs{}, nil)
	require.Error(t, err)
}

func TestMultiplexerExposed(t *testing.T) {
	a := newTestApp()
	assert.NotNil(t, a.Multiplexer())
	assert.False(t, a.Multiplexer().Connected("server-a"))
}
