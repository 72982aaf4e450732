// Copyright 2025 Kadir Pekel
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

// Package logger configures the process-wide slog logger.
//
// Init installs a handler with two output formats: "simple" (level and
// message) and "verbose" (timestamp, level, message). Terminal outputs get
// ANSI colors. The installed handler becomes the slog default, so library
// code logging through slog shares the same configuration.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"
)

var defaultLogger *slog.Logger

// ParseLevel converts a level name to a slog.Level.
// Valid levels: debug, info, warn, error.
func ParseLevel(levelStr string) (slog.Level, error) {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level: %q", levelStr)
	}
}

func levelColor(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "\033[31m" // red
	case level >= slog.LevelWarn:
		return "\033[33m" // yellow
	case level >= slog.LevelInfo:
		return "\033[36m" // cyan
	default:
		return "\033[90m" // gray
	}
}

func levelName(level slog.Level) string {
	name := level.String()
	if name == "WARNING" {
		name = "WARN"
	}
	return strings.ToUpper(name)
}

// textHandler renders records as single lines: an optional timestamp, the
// level, the message, then key=value attributes. Colors apply to the level
// only.
type textHandler struct {
	writer    io.Writer
	level     slog.Level
	useColor  bool
	timestamp bool
	attrs     []slog.Attr
}

func (h *textHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *textHandler) Handle(_ context.Context, record slog.Record) error {
	var buf strings.Builder

	if h.timestamp && !record.Time.IsZero() {
		buf.WriteString(record.Time.Format("2006/01/02 15:04:05 "))
	}

	if h.useColor {
		buf.WriteString(levelColor(record.Level))
		buf.WriteString(levelName(record.Level))
		buf.WriteString("\033[0m")
	} else {
		buf.WriteString(levelName(record.Level))
	}
	buf.WriteString(" ")
	buf.WriteString(record.Message)

	writeAttr := func(a slog.Attr) bool {
		buf.WriteString(" ")
		buf.WriteString(a.Key)
		buf.WriteString("=")
		buf.WriteString(a.Value.String())
		return true
	}
	for _, a := range h.attrs {
		writeAttr(a)
	}
	record.Attrs(writeAttr)

	buf.WriteString("\n")

	_, err := h.writer.Write([]byte(buf.String()))
	return err
}

func (h *textHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &clone
}

func (h *textHandler) WithGroup(_ string) slog.Handler {
	// Groups are flattened. The single-line format has no nesting to offer.
	return h
}

// Init installs the process-wide logger writing to output.
// format selects "simple" (the default) or "verbose"; any other value falls
// back to the standard slog text handler. Colors are enabled automatically
// when output is a terminal.
func Init(level slog.Level, output *os.File, format string) {
	useColor := term.IsTerminal(int(output.Fd()))

	var handler slog.Handler
	switch format {
	case "simple", "":
		handler = &textHandler{writer: output, level: level, useColor: useColor}
	case "verbose":
		handler = &textHandler{writer: output, level: level, useColor: useColor, timestamp: true}
	default:
		handler = slog.NewTextHandler(output, &slog.HandlerOptions{Level: level})
	}

	defaultLogger = slog.New(handler)
	slog.SetDefault(defaultLogger)
}

// OpenLogFile opens or creates an append-mode log file.
// The returned cleanup closes the file.
func OpenLogFile(path string) (*os.File, func(), error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, err
	}
	return file, func() { _ = file.Close() }, nil
}

// GetLogger returns the configured logger, initializing a default one
// (info level, simple format, stderr) on first use.
func GetLogger() *slog.Logger {
	if defaultLogger == nil {
		Init(slog.LevelInfo, os.Stderr, "simple")
	}
	return defaultLogger
}
