// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package idoit

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"go.uber.org/zap"
)

// ZerologLogger adapts a zerolog.Logger to the Logger interface.
//
// Example:
//
//	zl := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
//	client, _ := idoit.NewClient(url, idoit.WithLogger(idoit.NewZerologLogger(zl)))
type ZerologLogger struct {
	logger zerolog.Logger
}

// NewZerologLogger wraps the given zerolog logger.
func NewZerologLogger(logger zerolog.Logger) *ZerologLogger {
	return &ZerologLogger{logger: logger}
}

// Debug logs at debug level
func (z *ZerologLogger) Debug(_ context.Context, msg string, keysAndValues ...any) {
	z.emit(z.logger.Debug(), msg, keysAndValues)
}

// Info logs at info level
func (z *ZerologLogger) Info(_ context.Context, msg string, keysAndValues ...any) {
	z.emit(z.logger.Info(), msg, keysAndValues)
}

// Warn logs at warn level
func (z *ZerologLogger) Warn(_ context.Context, msg string, keysAndValues ...any) {
	z.emit(z.logger.Warn(), msg, keysAndValues)
}

// Error logs at error level
func (z *ZerologLogger) Error(_ context.Context, msg string, keysAndValues ...any) {
	z.emit(z.logger.Error(), msg, keysAndValues)
}

func (z *ZerologLogger) emit(ev *zerolog.Event, msg string, keysAndValues []any) {
	// nil when the level is disabled
	if ev == nil {
		return
	}
	for i := 0; i < len(keysAndValues); i += 2 {
		key := fmt.Sprint(keysAndValues[i])
		if i+1 >= len(keysAndValues) {
			ev = ev.Str(key, "<MISSING>")
			break
		}
		switch v := keysAndValues[i+1].(type) {
		case error:
			ev = ev.AnErr(key, v)
		default:
			ev = ev.Interface(key, v)
		}
	}
	ev.Msg(msg)
}

// ZapLogger adapts a zap.SugaredLogger to the Logger interface.
//
// Example:
//
//	zl, _ := zap.NewProduction()
//	client, _ := idoit.NewClient(url, idoit.WithLogger(idoit.NewZapLogger(zl.Sugar())))
type ZapLogger struct {
	logger *zap.SugaredLogger
}

// NewZapLogger wraps the given sugared logger. A nil logger falls back to the
// global zap.S().
func NewZapLogger(logger *zap.SugaredLogger) *ZapLogger {
	if logger == nil {
		logger = zap.S()
	}
	return &ZapLogger{logger: logger}
}

// Debug logs at debug level
func (z *ZapLogger) Debug(_ context.Context, msg string, keysAndValues ...any) {
	z.logger.Debugw(msg, keysAndValues...)
}

// Info logs at info level
func (z *ZapLogger) Info(_ context.Context, msg string, keysAndValues ...any) {
	z.logger.Infow(msg, keysAndValues...)
}

// Warn logs at warn level
func (z *ZapLogger) Warn(_ context.Context, msg string, keysAndValues ...any) {
	z.logger.Warnw(msg, keysAndValues...)
}

// Error logs at error level
func (z *ZapLogger) Error(_ context.Context, msg string, keysAndValues ...any) {
	z.logger.Errorw(msg, keysAndValues...)
}
