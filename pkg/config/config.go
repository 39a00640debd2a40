// Package config reads the client's persisted per-server connection
// profiles: the set of {serverURL, userID, token} tuples the gateway
// multiplexer reconnects with on startup, plus local device preferences.
package config

import (
	"bufio"
	"fmt"
	"net/url"
	"os"
	"strings"
)

// ServerProfile is one persisted server connection: the REST auth token
// obtained from restauth.Client.Verify, cached so a restart doesn't force
// a fresh Ed25519 challenge round trip.
type ServerProfile struct {
	ServerURL string
	UserID    string
	Token     string
}

// Config holds every persisted server profile plus local preferences for
// one client installation.
type Config struct {
	Servers []ServerProfile

	// DeviceID is a stable per-install identifier, independent of any one
	// server's userID. The gateway IDENTIFY payload does not carry it.
	DeviceID string

	DefaultMuted    bool
	DefaultDeafened bool
}

// Load reads a profile store from a key=value file, one line per field,
// servers separated by blank lines. This mirrors the source's .env reader
// shape, generalized from a single OAuth credential set to a list of
// server profiles.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open profile file: %w", err)
	}
	defer file.Close()

	cfg := &Config{}
	var current ServerProfile
	haveCurrent := false

	flush := func() {
		if haveCurrent && current.ServerURL != "" {
			cfg.Servers = append(cfg.Servers, current)
		}
		current = ServerProfile{}
		haveCurrent = false
	}

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if line == "" {
			flush()
			continue
		}
		if strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		decoded, err := url.QueryUnescape(value)
		if err != nil {
			decoded = value
		}

		switch key {
		case "device_id":
			cfg.DeviceID = decoded
		case "default_muted":
			cfg.DefaultMuted = decoded == "true"
		case "default_deafened":
			cfg.DefaultDeafened = decoded == "true"
		case "server_url":
			haveCurrent = true
			current.ServerURL = decoded
		case "user_id":
			haveCurrent = true
			current.UserID = decoded
		case "token":
			haveCurrent = true
			current.Token = decoded
		}
	}
	flush()

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: scan profile file: %w", err)
	}
	return cfg, nil
}

// Validate checks that every persisted server profile carries a URL; a
// missing token or userID is not an error, since the client re-runs the
// Ed25519 challenge/verify flow in that case (spec §4.7).
func (c *Config) Validate() error {
	for i, s := range c.Servers {
		if s.ServerURL == "" {
			return fmt.Errorf("config: server profile %d missing server_url", i)
		}
	}
	return nil
}
