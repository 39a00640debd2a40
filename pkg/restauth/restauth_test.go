package restauth

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestChallengeVerifyRoundTrip(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/challenge", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ChallengeResponse{
			Nonce:        "abc123",
			Timestamp:    1000,
			ServerOrigin: "server.example",
		})
	})
	mux.HandleFunc("/auth/verify", func(w http.ResponseWriter, r *http.Request) {
		var req verifyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "abc123", req.Nonce)
		json.NewEncoder(w).Encode(VerifyResponse{Token: "bearer-token"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewClient(srv.URL, priv, testLogger())
	challenge, err := client.Challenge(context.Background())
	require.NoError(t, err)

	verified, err := client.Verify(context.Background(), challenge, "alice", "")
	require.NoError(t, err)
	require.Equal(t, "bearer-token", verified.Token)
}

func TestVerifyRejected(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/verify", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"bad signature"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewClient(srv.URL, priv, testLogger())
	_, err = client.Verify(context.Background(), ChallengeResponse{Nonce: "x"}, "alice", "")
	require.ErrorIs(t, err, ErrAuthRejected)
}
