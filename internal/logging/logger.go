// Copyright (c) 2026 Minarca Team
// Minarca - backup agent identity and configuration
// This source code is licensed under the MIT license found in the LICENSE file.

// Package logging holds the agent's package-level logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	clog "github.com/charmbracelet/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// L is the package-level logger. Callers should use the helper functions
// below rather than reaching for L directly.
var L = clog.NewWithOptions(os.Stderr, clog.Options{Prefix: "minarca"})

// Options configures Setup.
type Options struct {
	// Level is one of debug, info, warn, error. Empty means info.
	Level string
	// File, when set, receives the log through a rotating writer instead of
	// stderr. "console" is treated as unset.
	File string
}

// Setup applies the level and output destination to L.
func Setup(opts Options) error {
	level := clog.InfoLevel
	if opts.Level != "" {
		lvl, err := clog.ParseLevel(opts.Level)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		level = lvl
	}
	L.SetLevel(level)

	if opts.File != "" && opts.File != "console" {
		L.SetOutput(rotatingWriter(opts.File))
		L.SetReportTimestamp(true)
	}
	return nil
}

func rotatingWriter(path string) io.Writer {
	return &lumberjack.Logger{
		Filename:   filepath.ToSlash(path),
		MaxSize:    5, // MB
		MaxBackups: 10,
		MaxAge:     30, // days
		Compress:   true,
	}
}

// Debugf logs a debug-level formatted message.
func Debugf(format string, v ...any) {
	L.Debug(fmt.Sprintf(format, v...))
}

// Infof logs an info-level formatted message.
func Infof(format string, v ...any) {
	L.Info(fmt.Sprintf(format, v...))
}

// Warnf logs a warning-level formatted message.
func Warnf(format string, v ...any) {
	L.Warn(fmt.Sprintf(format, v...))
}

// Errorf logs an error-level formatted message.
func Errorf(format string, v ...any) {
	L.Error(fmt.Sprintf(format, v...))
}
