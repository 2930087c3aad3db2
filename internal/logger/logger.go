// Copyright 2024 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logger implements touchfs's leveled logger on top of log/slog,
// with TRACE added below DEBUG and a severity field on every line.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

// LevelTrace sits one rung below slog.LevelDebug so "-vvv"-style tracing
// can be requested without colliding with the standard four levels.
const LevelTrace = slog.Level(-8)

const (
	LevelDebug   = slog.LevelDebug
	LevelInfo    = slog.LevelInfo
	LevelWarning = slog.LevelWarn
	LevelError   = slog.LevelError
)

func levelName(l slog.Level) string {
	switch {
	case l < slog.LevelDebug:
		return "TRACE"
	case l < slog.LevelInfo:
		return "DEBUG"
	case l < slog.LevelWarn:
		return "INFO"
	case l < slog.LevelError:
		return "WARNING"
	default:
		return "ERROR"
	}
}

type loggerFactory struct{}

func (loggerFactory) createJSONOrTextHandler(w io.Writer, level *slog.LevelVar, format, testTag string) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			switch a.Key {
			case slog.LevelKey:
				lvl, _ := a.Value.Any().(slog.Level)
				a.Key = "severity"
				a.Value = slog.StringValue(levelName(lvl))
			case slog.TimeKey:
				a.Key = "timestamp"
			case slog.MessageKey:
				a.Key = "message"
				a.Value = slog.StringValue(testTag + a.Value.String())
			}
			return a
		},
	}
	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

var (
	mu                   sync.RWMutex
	defaultLoggerFactory = loggerFactory{}
	defaultLevel         = new(slog.LevelVar)
	defaultLogger        = slog.New(defaultLoggerFactory.createJSONOrTextHandler(os.Stderr, defaultLevel, "text", ""))
)

// Init (re)configures the process-wide default logger. format is "text" or
// "json"; testTag, when non-empty, is prefixed onto every message so test
// runs can be told apart in a shared log (see TOUCHFS_TEST_TAG).
func Init(severity, format, testTag string) {
	mu.Lock()
	defer mu.Unlock()

	defaultLevel.Set(parseLevel(severity))
	defaultLogger = slog.New(defaultLoggerFactory.createJSONOrTextHandler(os.Stderr, defaultLevel, format, testTag))
}

func parseLevel(s string) slog.Level {
	switch s {
	case "trace":
		return LevelTrace
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warning":
		return LevelWarning
	case "error":
		return LevelError
	case "off":
		return slog.Level(1 << 20)
	default:
		return LevelInfo
	}
}

func get() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return defaultLogger
}

func Tracef(format string, args ...any) {
	get().Log(context.Background(), LevelTrace, sprintf(format, args...))
}
func Debugf(format string, args ...any) { get().Debug(sprintf(format, args...)) }
func Infof(format string, args ...any)  { get().Info(sprintf(format, args...)) }
func Warnf(format string, args ...any)  { get().Warn(sprintf(format, args...)) }
func Errorf(format string, args ...any) { get().Error(sprintf(format, args...)) }
func Fatalf(format string, args ...any) {
	get().Error(sprintf(format, args...))
	os.Exit(1)
}

func sprintf(format string, args ...any) string {
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}
