package logger_test

import (
	"fmt"
	"os"

	"github.com/paracord/media-engine/pkg/logger"
)

// Example showing basic logger usage
func ExampleLogger_basic() {
	// Create logger with default config
	cfg := logger.NewConfig()
	cfg.Level = logger.LevelInfo
	cfg.Format = logger.FormatText

	log, err := logger.New(cfg)
	if err != nil {
		panic(err)
	}
	defer log.Close()

	// Basic logging
	log.Info("session connected", "server", "voice-1.example")
	log.Warn("key rotation overdue", "ssrc", 12345)
	log.Error("transport dial failed", "error", "timeout")
}

// Example showing debug category usage
func ExampleLogger_categories() {
	cfg := logger.NewConfig()
	cfg.Level = logger.LevelDebug
	cfg.EnableCategory(logger.DebugWire)
	cfg.EnableCategory(logger.DebugJitter)

	log, err := logger.New(cfg)
	if err != nil {
		panic(err)
	}
	defer log.Close()

	// Wire debugging (only logged if DebugWire enabled)
	log.DebugWirePacket(0, 12345, 999, 160)

	// Jitter debugging (only logged if DebugJitter enabled)
	log.DebugJitterStats(60, 8.5, 2, 0)

	// Generic category logging
	log.DebugWire("packet parsed", "sequence", 12345)
	log.DebugJitter("depth adjusted", "depth_ms", 60.0)
}

// Example showing command-line flags integration
func ExampleFlags() {
	// In main.go:
	// import (
	//     "flag"
	//     "github.com/paracord/media-engine/pkg/logger"
	// )
	//
	// fs := flag.NewFlagSet("mediaclient", flag.ExitOnError)
	// logFlags := logger.RegisterFlags(fs)
	// fs.Parse(os.Args[1:])
	//
	// logConfig, _ := logFlags.ToConfig()
	// log, _ := logger.New(logConfig)
	// defer log.Close()

	fmt.Println("See cmd/mediaclient/main.go for complete example")
}

// Example showing JSON format output
func ExampleLogger_json() {
	cfg := logger.NewConfig()
	cfg.Level = logger.LevelInfo
	cfg.Format = logger.FormatJSON
	cfg.OutputFile = "app.json"

	log, err := logger.New(cfg)
	if err != nil {
		panic(err)
	}
	defer log.Close()
	defer os.Remove("app.json") // Cleanup

	log.Info("participant joined",
		"user_id", "12345",
		"ssrc", 999,
		"server", "voice-1.example")

	// Output will be in JSON format:
	// {"time":"...","level":"INFO","msg":"participant joined","user_id":"12345","ssrc":999,"server":"voice-1.example"}
}

// Example showing conditional debug logging
func ExampleLogger_conditional() {
	cfg := logger.NewConfig()
	cfg.EnableCategory(logger.DebugCrypto)

	log, err := logger.New(cfg)
	if err != nil {
		panic(err)
	}
	defer log.Close()

	// Category methods automatically check if enabled; no manual check
	// needed, and no key material is ever passed as an argument.
	log.DebugCrypto("rotated local sender key", "epoch", 2)
	log.DebugWire("packet parsed", "sequence", 12345)
}
