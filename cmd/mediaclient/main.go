package main

import (
	"context"
	"crypto/ed25519"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/paracord/media-engine/pkg/app"
	"github.com/paracord/media-engine/pkg/config"
	"github.com/paracord/media-engine/pkg/engine"
	"github.com/paracord/media-engine/pkg/gateway"
	"github.com/paracord/media-engine/pkg/logger"
	"github.com/paracord/media-engine/pkg/restauth"
)

func main() {
	fs := flag.NewFlagSet("mediaclient", flag.ExitOnError)
	logFlags := logger.RegisterFlags(fs)
	profilePath := fs.String("profile", "profiles.conf", "Path to the server connection profile file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Client-side real-time media engine\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
		logger.PrintUsageExamples()
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		os.Exit(1)
	}

	logConfig, err := logFlags.ToConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error configuring logger: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()

	logger.SetDefault(log)
	log.Info("starting media engine client", "log_config", logFlags.String())

	cfg, err := config.Load(*profilePath)
	if err != nil {
		log.Error("failed to load connection profiles", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		log.Error("invalid connection profile", "error", err)
		os.Exit(1)
	}
	log.Info("connection profiles loaded", "servers", len(cfg.Servers))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	resolveVoiceAddr := func(serverID string) (string, error) {
		// A production client learns the WebTransport address from a
		// gateway DISPATCH payload (e.g. VOICE_SERVER_UPDATE); this
		// deployment resolves it directly from the server's REST origin.
		return serverID + "/voice", nil
	}

	onDispatch := func(serverID string, event gateway.DispatchEvent, data []byte) {
		log.DebugGateway("dispatch event", "server", serverID, "event", string(event))
	}

	application := app.New(ctx, cfg, resolveVoiceAddr, onDispatch, log.Logger)
	defer application.Shutdown()

	for _, server := range cfg.Servers {
		serverID := server.ServerURL
		_ = application.AuthClient(serverID, func() *restauth.Client {
			_, priv, err := ed25519.GenerateKey(nil)
			if err != nil {
				log.Error("failed to generate identity key", "server", serverID, "error", err)
				return restauth.NewClient(serverID, nil, log.Logger)
			}
			return restauth.NewClient(serverID, priv, log.Logger)
		})
	}

	log.Info("ready - press Ctrl+C to stop")

	if len(cfg.Servers) > 0 {
		target := cfg.Servers[0].ServerURL
		codecs := engine.Codecs{
			// A real deployment plugs in Opus (audio) and VP9 (video)
			// bindings here; none are wired by default.
		}
		if _, err := application.JoinVoice(ctx, target, codecs, nil); err != nil {
			log.Error("failed to join voice", "server", target, "error", err)
		}
	}

	<-ctx.Done()
	log.Info("graceful shutdown complete")
}
