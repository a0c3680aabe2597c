// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package idoit

import (
	"context"
	"fmt"
	"log"
	"strings"
	"unicode/utf8"
)

// MaxLogValueLength limits the length of a single logged value. Longer values
// are truncated.
const MaxLogValueLength = 1024

// Logger is the pluggable logging interface used by the client.
//
// Implementations receive a message and alternating key/value pairs. The
// library ships four implementations:
//   - NoOpLogger: discards everything (default)
//   - DefaultLogger: standard library log package with a level threshold
//   - ZerologLogger: adapter for github.com/rs/zerolog
//   - ZapLogger: adapter for go.uber.org/zap
//
// Example custom logger integration:
//
//	type SlogAdapter struct {
//	    logger *slog.Logger
//	}
//
//	func (s *SlogAdapter) Debug(ctx context.Context, msg string, keysAndValues ...any) {
//	    s.logger.DebugContext(ctx, msg, keysAndValues...)
//	}
//	// ... implement other methods
//
//	client, _ := idoit.NewClient("https://cmdb.example.com/src/jsonrpc.php",
//	    idoit.APIKey("secret"),
//	    idoit.WithLogger(&SlogAdapter{logger: slog.Default()}))
type Logger interface {
	Debug(ctx context.Context, msg string, keysAndValues ...any)
	Info(ctx context.Context, msg string, keysAndValues ...any)
	Warn(ctx context.Context, msg string, keysAndValues ...any)
	Error(ctx context.Context, msg string, keysAndValues ...any)
}

// LogLevel represents the severity threshold for logging
type LogLevel int

const (
	// LogLevelDebug enables all log levels (most verbose)
	LogLevelDebug LogLevel = iota

	// LogLevelInfo enables Info, Warn, and Error logs
	LogLevelInfo

	// LogLevelWarn enables Warn and Error logs
	LogLevelWarn

	// LogLevelError enables only Error logs
	LogLevelError

	// LogLevelNone disables all logging
	LogLevelNone
)

// String returns the string representation of a LogLevel
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	case LogLevelNone:
		return "NONE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", l)
	}
}

// ParseLogLevel converts a case-insensitive level name ("debug", "info",
// "warn", "error", "none") into a LogLevel.
func ParseLogLevel(s string) (LogLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LogLevelDebug, nil
	case "INFO", "":
		return LogLevelInfo, nil
	case "WARN", "WARNING":
		return LogLevelWarn, nil
	case "ERROR":
		return LogLevelError, nil
	case "NONE", "OFF":
		return LogLevelNone, nil
	default:
		return LogLevelNone, fmt.Errorf("invalid log level: %q (valid values: debug, info, warn, error, none)", s)
	}
}

// DefaultLogger writes leveled key/value lines through the standard log
// package.
//
// Example:
//
//	client, _ := idoit.NewClient(url,
//	    idoit.APIKey(key),
//	    idoit.WithLogger(idoit.NewDefaultLogger(idoit.LogLevelDebug)))
type DefaultLogger struct {
	level LogLevel
	out   *log.Logger
}

// NewDefaultLogger creates a DefaultLogger writing to the standard logger.
func NewDefaultLogger(level LogLevel) *DefaultLogger {
	return &DefaultLogger{level: level}
}

// Level returns the configured threshold.
func (l *DefaultLogger) Level() LogLevel {
	return l.level
}

// Debug logs a debug message
func (l *DefaultLogger) Debug(_ context.Context, msg string, keysAndValues ...any) {
	l.log(LogLevelDebug, msg, keysAndValues...)
}

// Info logs an info message
func (l *DefaultLogger) Info(_ context.Context, msg string, keysAndValues ...any) {
	l.log(LogLevelInfo, msg, keysAndValues...)
}

// Warn logs a warning message
func (l *DefaultLogger) Warn(_ context.Context, msg string, keysAndValues ...any) {
	l.log(LogLevelWarn, msg, keysAndValues...)
}

// Error logs an error message
func (l *DefaultLogger) Error(_ context.Context, msg string, keysAndValues ...any) {
	l.log(LogLevelError, msg, keysAndValues...)
}

func (l *DefaultLogger) log(level LogLevel, msg string, keysAndValues ...any) {
	if level < l.level {
		return
	}

	var builder strings.Builder
	builder.Grow(len(msg) + 10 + len(keysAndValues)*25)

	builder.WriteString("[")
	builder.WriteString(level.String())
	builder.WriteString("] ")
	builder.WriteString(msg)

	for i := 0; i < len(keysAndValues); i += 2 {
		builder.WriteString(" ")
		builder.WriteString(sanitizeLogValue(keysAndValues[i]))
		if i+1 < len(keysAndValues) {
			builder.WriteString("=")
			builder.WriteString(sanitizeLogValue(keysAndValues[i+1]))
		} else {
			builder.WriteString("=<MISSING>")
		}
	}

	if l.out != nil {
		l.out.Println(builder.String())
		return
	}
	log.Println(builder.String())
}

// sanitizeLogValue renders a value for a single log line. Control characters
// are neutralized so values cannot forge additional log lines or terminal
// escape sequences, and overly long values are truncated.
func sanitizeLogValue(val any) string {
	str := fmt.Sprintf("%v", val)
	if len(str) > MaxLogValueLength {
		str = str[:MaxLogValueLength] + "...[TRUNCATED]"
	}

	var builder strings.Builder
	builder.Grow(len(str))

	for i := 0; i < len(str); {
		r, size := utf8.DecodeRuneInString(str[i:])
		i += size

		switch {
		case r == utf8.RuneError && size <= 1:
			builder.WriteByte('.')
		case r == 0x200B, r == 0x200C, r == 0x200D, r == 0xFEFF:
			// zero-width characters are dropped
		case r == 0x202E, r == '\n', r == '\r', r == '\t', r == '\f':
			builder.WriteByte(' ')
		case r < 32, r == 127:
			builder.WriteByte('.')
		default:
			builder.WriteRune(r)
		}
	}

	return builder.String()
}

// NoOpLogger discards all log output. It is the client default.
type NoOpLogger struct{}

// Debug does nothing
func (n *NoOpLogger) Debug(_ context.Context, _ string, _ ...any) {}

// Info does nothing
func (n *NoOpLogger) Info(_ context.Context, _ string, _ ...any) {}

// Warn does nothing
func (n *NoOpLogger) Warn(_ context.Context, _ string, _ ...any) {}

// Error does nothing
func (n *NoOpLogger) Error(_ context.Context, _ string, _ ...any) {}
