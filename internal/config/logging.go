// The logging subsystem uses Go's stdlib log/slog package exclusively.
// All log output is directed to os.Stderr to keep stdout clean for piped
// output.
package config

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// SetupLogging configures the global slog default logger with the given
// level and format ("json" or anything else for text). All log
// output goes to os.Stderr. Safe to call multiple times.
func SetupLogging(level slog.Level, format string) {
	SetupLoggingWithWriter(level, format, os.Stderr)
}

// SetupLoggingWithWriter is the testable variant of SetupLogging that
// writes to the given writer.
func SetupLoggingWithWriter(level slog.Level, format string, w io.Writer) {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// ResolveLogLevel determines the slog.Level from flags, the settings
// level name, and the GRANARY_DEBUG escape hatch. Priority, highest
// first:
//
//  1. GRANARY_DEBUG=1 environment variable
//  2. verbose flag (--verbose)
//  3. quiet flag (--quiet)
//  4. settings level name
//
// If both verbose and quiet are set, verbose wins.
func ResolveLogLevel(verbose, quiet bool, settingsLevel string) slog.Level {
	if os.Getenv(EnvDebug) == "1" {
		return slog.LevelDebug
	}
	if verbose {
		return slog.LevelDebug
	}
	if quiet {
		return slog.LevelError
	}
	switch strings.ToLower(settingsLevel) {
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

// NewLogger returns a child logger derived from the global default with a
// "component" attribute, so output can be filtered by subsystem.
func NewLogger(component string) *slog.Logger {
	return slog.Default().With("component", component)
}
