// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logger provides the shared structured logger for rigchat.
//
// Components receive a *log.Logger from New so tests can pass Discard()
// instead of writing to stderr.
package logger

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
)

var (
	mu   sync.RWMutex
	root = newRoot(os.Stderr, log.InfoLevel)
)

func newRoot(w io.Writer, level log.Level) *log.Logger {
	l := log.NewWithOptions(w, log.Options{
		ReportTimestamp: false,
		Level:           level,
	})
	return l
}

// Configure sets the level and destination of the root logger.
// The level comes from the argument, then RIGCHAT_LOG_LEVEL, then "info".
// An empty file keeps stderr.
func Configure(level, file string) error {
	if level == "" {
		level = os.Getenv("RIGCHAT_LOG_LEVEL")
	}

	var out io.Writer = os.Stderr
	if file != "" {
		f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return err
		}
		out = f
	}

	mu.Lock()
	root = newRoot(out, ParseLevel(level))
	mu.Unlock()
	return nil
}

// ParseLevel converts a level name to a log.Level, defaulting to info.
func ParseLevel(level string) log.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return log.DebugLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	case "fatal":
		return log.FatalLevel
	default:
		return log.InfoLevel
	}
}

// New returns a child of the root logger tagged with prefix.
func New(prefix string) *log.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return root.WithPrefix(prefix)
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *log.Logger {
	return log.New(io.Discard)
}

// OrDiscard returns l, or a discarding logger when l is nil.
func OrDiscard(l *log.Logger) *log.Logger {
	if l == nil {
		return Discard()
	}
	return l
}
