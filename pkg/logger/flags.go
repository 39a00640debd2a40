package logger

import (
	"flag"
	"fmt"
	"strings"
)

// Flags holds all logging-related command-line flags
type Flags struct {
	LogLevel     string
	LogFormat    string
	LogFile      string
	DebugWire    bool
	DebugCrypto  bool
	DebugJitter  bool
	DebugVideo   bool
	DebugGateway bool
	DebugAll     bool
}

// RegisterFlags registers logging flags with the given FlagSet
func RegisterFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{}

	fs.StringVar(&f.LogLevel, "log-level", "info",
		"Log level: debug, info, warn, error")
	fs.StringVar(&f.LogLevel, "l", "info",
		"Log level (shorthand)")

	fs.StringVar(&f.LogFormat, "log-format", "text",
		"Log output format: text, json")

	fs.StringVar(&f.LogFile, "log-file", "",
		"Log output file path (default: stdout)")
	fs.StringVar(&f.LogFile, "o", "",
		"Log output file path (shorthand)")

	// Debug category flags
	fs.BoolVar(&f.DebugWire, "debug-wire", false,
		"Enable media packet framing debugging (header fields, payload length)")
	fs.BoolVar(&f.DebugCrypto, "debug-crypto", false,
		"Enable sender-key/epoch debugging (never logs key material)")
	fs.BoolVar(&f.DebugJitter, "debug-jitter", false,
		"Enable jitter buffer debugging (depth, loss, duplicates)")
	fs.BoolVar(&f.DebugVideo, "debug-video", false,
		"Enable simulcast encoder/decoder debugging")
	fs.BoolVar(&f.DebugGateway, "debug-gateway", false,
		"Enable gateway opcode/dispatch debugging")
	fs.BoolVar(&f.DebugAll, "debug-all", false,
		"Enable all debug categories")

	return f
}

// ToConfig converts Flags to a logger Config
func (f *Flags) ToConfig() (*Config, error) {
	cfg := NewConfig()

	// Parse log level
	level, err := ParseLevel(f.LogLevel)
	if err != nil {
		return nil, err
	}
	cfg.Level = level

	// Parse format
	format, err := ParseFormat(f.LogFormat)
	if err != nil {
		return nil, err
	}
	cfg.Format = format

	// Set output file
	cfg.OutputFile = f.LogFile

	// Enable debug categories
	if f.DebugAll {
		cfg.EnableCategory(DebugAll)
		// Force debug level when any debug category is enabled
		cfg.Level = LevelDebug
	} else {
		if f.DebugWire {
			cfg.EnableCategory(DebugWire)
			cfg.Level = LevelDebug
		}
		if f.DebugCrypto {
			cfg.EnableCategory(DebugCrypto)
			cfg.Level = LevelDebug
		}
		if f.DebugJitter {
			cfg.EnableCategory(DebugJitter)
			cfg.Level = LevelDebug
		}
		if f.DebugVideo {
			cfg.EnableCategory(DebugVideo)
			cfg.Level = LevelDebug
		}
		if f.DebugGateway {
			cfg.EnableCategory(DebugGateway)
			cfg.Level = LevelDebug
		}
	}

	return cfg, nil
}

// PrintUsageExamples prints usage examples for logging flags
func PrintUsageExamples() {
	examples := `
Logging Examples:

  Basic usage (INFO level, text format to stdout):
    ./mediaclient

  Enable DEBUG level:
    ./mediaclient --log-level debug
    ./mediaclient -l debug

  Log to file:
    ./mediaclient --log-file client.log
    ./mediaclient -o client.log

  JSON format for structured logging:
    ./mediaclient --log-format json -o client.json

  Debug media packet framing only:
    ./mediaclient --debug-wire

  Debug the jitter buffer only:
    ./mediaclient --debug-jitter

  Debug multiple categories:
    ./mediaclient --debug-wire --debug-jitter --debug-gateway

  Debug everything:
    ./mediaclient --debug-all -o debug.log

  Production logging (WARN level, JSON to file):
    ./mediaclient -l warn --log-format json -o production.log
`
	fmt.Println(examples)
}

// String returns a string representation of enabled flags
func (f *Flags) String() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("level=%s", f.LogLevel))
	parts = append(parts, fmt.Sprintf("format=%s", f.LogFormat))

	if f.LogFile != "" {
		parts = append(parts, fmt.Sprintf("output=%s", f.LogFile))
	} else {
		parts = append(parts, "output=stdout")
	}

	var debugCategories []string
	if f.DebugAll {
		debugCategories = append(debugCategories, "all")
	} else {
		if f.DebugWire {
			debugCategories = append(debugCategories, "wire")
		}
		if f.DebugCrypto {
			debugCategories = append(debugCategories, "crypto")
		}
		if f.DebugJitter {
			debugCategories = append(debugCategories, "jitter")
		}
		if f.DebugVideo {
			debugCategories = append(debugCategories, "video")
		}
		if f.DebugGateway {
			debugCategories = append(debugCategories, "gateway")
		}
	}

	if len(debugCategories) > 0 {
		parts = append(parts, fmt.Sprintf("debug=[%s]", strings.Join(debugCategories, ",")))
	}

	return strings.Join(parts, " ")
}
