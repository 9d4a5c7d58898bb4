// Package logging configures the process-wide zerolog logger used by every
// aegis component. Components derive scoped loggers via
// log.With().Str("component", ...).
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var logWriter io.Writer

func init() {
	zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	logWriter = zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}
}

// ConfigureGlobal applies the given level to the global logger and rebuilds
// it against the current writer. Caller information is attached at debug
// level and below.
func ConfigureGlobal(level zerolog.Level) {
	zerolog.SetGlobalLevel(level)

	logContext := zerolog.New(getLogWriter()).With().Timestamp()
	if level <= zerolog.DebugLevel {
		logContext = logContext.Caller()
	}

	log.Logger = logContext.Logger().Level(level)
	zerolog.DefaultContextLogger = &log.Logger
}

// ParseLevel converts a level string into a zerolog.Level, defaulting to
// error on empty or unknown input.
func ParseLevel(levelString string) zerolog.Level {
	if levelString == "" {
		return zerolog.ErrorLevel
	}

	level, err := zerolog.ParseLevel(strings.ToLower(levelString))
	if err != nil {
		log.Error().Err(err).Str("logLevel", levelString).Msg("Invalid log level provided. Defaulting to error level.")
		return zerolog.ErrorLevel
	}
	return level
}

func getLogWriter() io.Writer {
	return logWriter
}

// SetLogWriter swaps the writer used by ConfigureGlobal. Tests use this to
// capture output.
func SetLogWriter(w io.Writer) {
	logWriter = w
}
