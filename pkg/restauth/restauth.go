// Package restauth implements the challenge-response REST handshake that
// precedes every gateway connection (spec §4.7/§6): fetch a nonce, sign it
// with an Ed25519 identity key, and exchange the signature for a bearer
// token. Its request/response shape mirrors the teacher's
// pkg/cloudflare.Client and pkg/nest.Client (context-scoped http.Client,
// fmt.Errorf("...: %w", err) wrapping, slog on success).
package restauth

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Client performs the /auth/challenge + /auth/verify handshake against one
// server's REST auth surface.
type Client struct {
	baseURL    string
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a REST auth client for baseURL, signing challenges
// with privateKey.
func NewClient(baseURL string, privateKey ed25519.PrivateKey, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		privateKey: privateKey,
		publicKey:  privateKey.Public().(ed25519.PublicKey),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger.With("component", "restauth"),
	}
}

// ChallengeResponse is the body of POST /auth/challenge.
type ChallengeResponse struct {
	Nonce        string `json:"nonce"`
	Timestamp    int64  `json:"timestamp"`
	ServerOrigin string `json:"server_origin"`
}

// verifyRequest is the body of POST /auth/verify.
type verifyRequest struct {
	PublicKey   string `json:"public_key"`
	Nonce       string `json:"nonce"`
	Timestamp   int64  `json:"timestamp"`
	Signature   string `json:"signature"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name,omitempty"`
}

// VerifyResponse is the body of POST /auth/verify on success.
type VerifyResponse struct {
	Token string `json:"token"`
	User  json.RawMessage `json:"user"`
}

// ErrAuthRejected is returned when the server answers /auth/verify with a
// 401 or 403, per spec §7: the caller must clear any held token and
// disconnect that server.
var ErrAuthRejected = fmt.Errorf("restauth: rejected")

// Challenge fetches a fresh nonce/timestamp/origin to sign.
func (c *Client) Challenge(ctx context.Context) (ChallengeResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/challenge", nil)
	if err != nil {
		return ChallengeResponse{}, fmt.Errorf("restauth: build challenge request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ChallengeResponse{}, fmt.Errorf("restauth: challenge request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ChallengeResponse{}, fmt.Errorf("restauth: read challenge response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return ChallengeResponse{}, fmt.Errorf("restauth: challenge failed: %s (status %d)", body, resp.StatusCode)
	}

	var challenge ChallengeResponse
	if err := json.Unmarshal(body, &challenge); err != nil {
		return ChallengeResponse{}, fmt.Errorf("restauth: decode challenge response: %w", err)
	}
	return challenge, nil
}

// Verify signs the challenge with the client's Ed25519 key and exchanges
// the signature for a bearer token.
func (c *Client) Verify(ctx context.Context, challenge ChallengeResponse, username, displayName string) (VerifyResponse, error) {
	signed := signPayload(challenge)
	signature := ed25519.Sign(c.privateKey, signed)

	body, err := json.Marshal(verifyRequest{
		PublicKey:   hex.EncodeToString(c.publicKey),
		Nonce:       challenge.Nonce,
		Timestamp:   challenge.Timestamp,
		Signature:   hex.EncodeToString(signature),
		Username:    username,
		DisplayName: displayName,
	})
	if err != nil {
		return VerifyResponse{}, fmt.Errorf("restauth: marshal verify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/verify", bytes.NewReader(body))
	if err != nil {
		return VerifyResponse{}, fmt.Errorf("restauth: build verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return VerifyResponse{}, fmt.Errorf("restauth: verify request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return VerifyResponse{}, fmt.Errorf("restauth: read verify response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return VerifyResponse{}, fmt.Errorf("restauth: %s (status %d): %w", respBody, resp.StatusCode, ErrAuthRejected)
	}
	if resp.StatusCode != http.StatusOK {
		return VerifyResponse{}, fmt.Errorf("restauth: verify failed: %s (status %d)", respBody, resp.StatusCode)
	}

	var verified VerifyResponse
	if err := json.Unmarshal(respBody, &verified); err != nil {
		return VerifyResponse{}, fmt.Errorf("restauth: decode verify response: %w", err)
	}

	c.logger.Info("authenticated", "username", username)
	return verified, nil
}

// signPayload concatenates (nonce || timestamp || server_origin), the
// exact byte sequence spec §4.7 requires be signed.
func signPayload(c ChallengeResponse) []byte {
	var buf bytes.Buffer
	buf.WriteString(c.Nonce)
	fmt.Fprintf(&buf, "%d", c.Timestamp)
	buf.WriteString(c.ServerOrigin)
	return buf.Bytes()
}
