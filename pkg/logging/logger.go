// Copyright (C) 2026 Tessellate AI (oss@tessellate.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging builds the slog loggers used by patchgate services.
//
// Output goes to stderr and, when a log directory is configured, to a
// per-service daily file. Both destinations share one level gate so a
// single config knob controls verbosity everywhere.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Level names accepted by configuration.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

func (l Level) slogLevel() slog.Level {
	switch strings.ToLower(string(l)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config controls where and how a service logs.
type Config struct {
	// Level is the minimum severity emitted.
	Level Level

	// Service tags every record and names the log file.
	Service string

	// LogDir, when non-empty, enables file output. Supports a leading ~.
	// Example: ~/.patchgate/logs
	LogDir string

	// JSON switches both destinations to JSON records.
	JSON bool

	// Quiet suppresses stderr output. File output is unaffected.
	Quiet bool
}

// Default returns the configuration used when a service gives none.
func Default(service string) Config {
	if service == "" {
		service = "patchgate"
	}
	return Config{Level: LevelInfo, Service: service}
}

// New builds a logger from cfg.
//
// Description:
//
//	Creates a slog.Logger fanned out to stderr and an optional daily log
//	file under cfg.LogDir. The returned closer flushes and closes the
//	file; it is a no-op when file logging is disabled.
//
// Outputs:
//
//	*slog.Logger - ready to use, tagged with the service name
//	func() error - closer for the file destination
//	error        - non-nil only when the log directory cannot be prepared
//
// Thread Safety: the returned logger is safe for concurrent use.
func New(cfg Config) (*slog.Logger, func() error, error) {
	level := cfg.Level.slogLevel()
	var handlers []slog.Handler

	if !cfg.Quiet {
		handlers = append(handlers, newHandler(os.Stderr, cfg.JSON, level))
	}

	var closer func() error = func() error { return nil }
	if cfg.LogDir != "" {
		f, err := openLogFile(cfg.LogDir, cfg.Service)
		if err != nil {
			return nil, nil, err
		}
		handlers = append(handlers, newHandler(f, cfg.JSON, level))
		closer = f.Close
	}

	if len(handlers) == 0 {
		handlers = append(handlers, newHandler(io.Discard, cfg.JSON, level))
	}

	var h slog.Handler
	if len(handlers) == 1 {
		h = handlers[0]
	} else {
		h = &multiHandler{handlers: handlers}
	}
	return slog.New(h).With("service", cfg.Service), closer, nil
}

func newHandler(w io.Writer, jsonOut bool, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if jsonOut {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

func openLogFile(dir, service string) (*os.File, error) {
	dir = expandPath(dir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir %s: %w", dir, err)
	}
	name := fmt.Sprintf("%s_%s.log", service, time.Now().Format("2006-01-02"))
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

func expandPath(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return p
		}
		if p == "~" {
			return home
		}
		return filepath.Join(home, p[2:])
	}
	return p
}

// multiHandler fans one record out to every destination. A destination
// error does not stop delivery to the others.
type multiHandler struct {
	handlers []slog.Handler
}

func (m *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	var first error
	for _, h := range m.handlers {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		out[i] = h.WithAttrs(attrs)
	}
	return &multiHandler{handlers: out}
}

func (m *multiHandler) WithGroup(name string) slog.Handler {
	out := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		out[i] = h.WithGroup(name)
	}
	return &multiHandler{handlers: out}
}
