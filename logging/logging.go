// Package logging provides logging utilities for moor.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/spf13/pflag"
)

// ParseLogLevel converts a string log level to slog.Level
func ParseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "silent", "none":
		// High enough that nothing is ever emitted
		return slog.Level(1000)
	default:
		return slog.LevelInfo
	}
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warning", "error", "silent"}
}

// ValidLogFormats returns the list of supported handler formats
func ValidLogFormats() []string {
	return []string{"text", "json"}
}

// InitLogging installs a text handler on stderr as the default logger
func InitLogging(logLevel string) {
	InitLoggingTo(os.Stderr, logLevel, "text")
}

// InitLoggingTo installs the default logger writing to w in the given format.
// Workers running under a process supervisor usually want "json".
func InitLoggingTo(w io.Writer, logLevel, format string) {
	opts := &slog.HandlerOptions{Level: ParseLogLevel(logLevel)}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	slog.SetDefault(slog.New(handler))
}

// ForLayer returns the default logger tagged with a layer attribute
func ForLayer(layer string) *slog.Logger {
	return slog.Default().With("layer", layer)
}

// CLI flag for setting the log level

// LogLevel is a flag for setting the log level
var LogLevel = &logLevelFlag{value: "silent", set: false}

var _ pflag.Value = (*logLevelFlag)(nil)

type logLevelFlag struct {
	value string
	set   bool
}

func (l *logLevelFlag) Set(value string) error {
	if !slices.Contains(ValidLogLevels(), value) {
		return fmt.Errorf("invalid value '%s'. Allowed values: %s",
			value, strings.Join(ValidLogLevels(), ", "))
	}
	l.value = value
	l.set = true
	return nil
}

func (l *logLevelFlag) String() string {
	return l.value
}

func (l *logLevelFlag) Type() string {
	return fmt.Sprintf("one of [%s]", strings.Join(ValidLogLevels(), "|"))
}

// IsSet returns true if the flag was explicitly set via command line
func (l *logLevelFlag) IsSet() bool {
	return l.set
}
