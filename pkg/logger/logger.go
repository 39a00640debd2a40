package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

// LogLevel represents the logging verbosity level
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// DebugCategory represents specific debug categories for targeted debugging
// of one media-engine subsystem at a time, without dropping to debug level
// globally.
type DebugCategory string

const (
	DebugWire    DebugCategory = "wire"
	DebugCrypto  DebugCategory = "crypto"
	DebugJitter  DebugCategory = "jitter"
	DebugVideo   DebugCategory = "video"
	DebugGateway DebugCategory = "gateway"
	DebugAll     DebugCategory = "all"
)

// Config holds logger configuration
type Config struct {
	Level             LogLevel
	Format            OutputFormat
	OutputFile        string
	EnabledCategories map[DebugCategory]bool
	mu                sync.RWMutex
}

// OutputFormat determines the log output format
type OutputFormat string

const (
	FormatJSON OutputFormat = "json"
	FormatText OutputFormat = "text"
)

// Global logger instance
var (
	defaultLogger *Logger
	once          sync.Once
)

// Logger wraps slog.Logger with category-based debugging
type Logger struct {
	*slog.Logger
	config *Config
	file   *os.File
}

// NewConfig creates a new logger configuration with defaults
func NewConfig() *Config {
	return &Config{
		Level:             LevelInfo,
		Format:            FormatText,
		OutputFile:        "",
		EnabledCategories: make(map[DebugCategory]bool),
	}
}

// ParseLevel converts a string to LogLevel
func ParseLevel(level string) (LogLevel, error) {
	switch level {
	case "debug", "DEBUG":
		return LevelDebug, nil
	case "info", "INFO":
		return LevelInfo, nil
	case "warn", "WARN", "warning", "WARNING":
		return LevelWarn, nil
	case "error", "ERROR":
		return LevelError, nil
	default:
		return "", fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", level)
	}
}

// ParseFormat converts a string to OutputFormat
func ParseFormat(format string) (OutputFormat, error) {
	switch format {
	case "json", "JSON":
		return FormatJSON, nil
	case "text", "TEXT":
		return FormatText, nil
	default:
		return "", fmt.Errorf("invalid log format: %s (must be json or text)", format)
	}
}

// ToSlogLevel converts LogLevel to slog.Level
func (l LogLevel) ToSlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New creates a new Logger instance with the given configuration
func New(cfg *Config) (*Logger, error) {
	var writer io.Writer = os.Stdout
	var file *os.File

	// Setup output file if specified
	if cfg.OutputFile != "" {
		f, err := os.OpenFile(cfg.OutputFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", cfg.OutputFile, err)
		}
		writer = f
		file = f
	}

	// Create handler based on format
	var handler slog.Handler
	handlerOpts := &slog.HandlerOptions{
		Level: cfg.Level.ToSlogLevel(),
	}

	switch cfg.Format {
	case FormatJSON:
		handler = slog.NewJSONHandler(writer, handlerOpts)
	case FormatText:
		handler = slog.NewTextHandler(writer, handlerOpts)
	default:
		handler = slog.NewTextHandler(writer, handlerOpts)
	}

	logger := &Logger{
		Logger: slog.New(handler),
		config: cfg,
		file:   file,
	}

	return logger, nil
}

// EnableCategory enables a specific debug category
func (c *Config) EnableCategory(category DebugCategory) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if category == DebugAll {
		// Enable all categories
		c.EnabledCategories[DebugWire] = true
		c.EnabledCategories[DebugCrypto] = true
		c.EnabledCategories[DebugJitter] = true
		c.EnabledCategories[DebugVideo] = true
		c.EnabledCategories[DebugGateway] = true
	} else {
		c.EnabledCategories[category] = true
	}
}

// IsCategoryEnabled checks if a debug category is enabled
func (c *Config) IsCategoryEnabled(category DebugCategory) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.EnabledCategories[category]
}

// IsDebugEnabled checks if any debug category is enabled
func (c *Config) IsDebugEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.EnabledCategories) > 0
}

// Close closes the log file if one was opened
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// Category-specific logging methods

// DebugWire logs media packet framing details if wire debugging is enabled.
func (l *Logger) DebugWire(msg string, args ...any) {
	if l.config.IsCategoryEnabled(DebugWire) {
		args = append([]any{"category", "wire"}, args...)
		l.Debug(msg, args...)
	}
}

// DebugCrypto logs sender-key and AEAD details if crypto debugging is
// enabled. Never pass key material to this: category gating does not
// redact arguments.
func (l *Logger) DebugCrypto(msg string, args ...any) {
	if l.config.IsCategoryEnabled(DebugCrypto) {
		args = append([]any{"category", "crypto"}, args...)
		l.Debug(msg, args...)
	}
}

// DebugJitter logs jitter buffer depth/loss details if jitter debugging is
// enabled.
func (l *Logger) DebugJitter(msg string, args ...any) {
	if l.config.IsCategoryEnabled(DebugJitter) {
		args = append([]any{"category", "jitter"}, args...)
		l.Debug(msg, args...)
	}
}

// DebugVideo logs simulcast/decoder details if video debugging is enabled.
func (l *Logger) DebugVideo(msg string, args ...any) {
	if l.config.IsCategoryEnabled(DebugVideo) {
		args = append([]any{"category", "video"}, args...)
		l.Debug(msg, args...)
	}
}

// DebugGateway logs gateway opcode/dispatch details if gateway debugging is
// enabled.
func (l *Logger) DebugGateway(msg string, args ...any) {
	if l.config.IsCategoryEnabled(DebugGateway) {
		args = append([]any{"category", "gateway"}, args...)
		l.Debug(msg, args...)
	}
}

// DebugJitterStats logs a jitter buffer snapshot in one structured call.
func (l *Logger) DebugJitterStats(depthMs, jitterMs float64, lost, duplicate uint64) {
	if l.config.IsCategoryEnabled(DebugJitter) {
		l.Debug("jitter buffer snapshot",
			"category", "jitter",
			"depth_ms", depthMs,
			"jitter_ms", jitterMs,
			"lost", lost,
			"duplicate", duplicate)
	}
}

// DebugWirePacket logs media header fields without the ciphertext payload.
func (l *Logger) DebugWirePacket(trackType uint8, sequence uint16, ssrc uint32, payloadLen int) {
	if l.config.IsCategoryEnabled(DebugWire) {
		l.Debug("media packet",
			"category", "wire",
			"track_type", trackType,
			"sequence", sequence,
			"ssrc", ssrc,
			"payload_len", payloadLen)
	}
}

// WithContext returns a copy of the logger; ctx is not read and no context
// values are added.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	return &Logger{
		Logger: l.Logger,
		config: l.config,
		file:   l.file,
	}
}

// With returns a new Logger with the given attributes
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(args...),
		config: l.config,
		file:   l.file,
	}
}

// SetDefault sets the global default logger
func SetDefault(logger *Logger) {
	defaultLogger = logger
	slog.SetDefault(logger.Logger)
}

// Default returns the default logger, creating one if necessary
func Default() *Logger {
	once.Do(func() {
		if defaultLogger != nil {
			return
		}
		cfg := NewConfig()
		logger, err := New(cfg)
		if err != nil {
			// Fallback to basic logger
			logger = &Logger{
				Logger: slog.Default(),
				config: cfg,
			}
		}
		defaultLogger = logger
	})
	return defaultLogger
}

// Package-level convenience functions

// Debug logs at Debug level using the default logger
func Debug(msg string, args ...any) {
	Default().Debug(msg, args...)
}

// Info logs at Info level using the default logger
func Info(msg string, args ...any) {
	Default().Info(msg, args...)
}

// Warn logs at Warn level using the default logger
func Warn(msg string, args ...any) {
	Default().Warn(msg, args...)
}

// Error logs at Error level using the default logger
func Error(msg string, args ...any) {
	Default().Error(msg, args...)
}
