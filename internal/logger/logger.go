package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger is the application logger instance
var Logger zerolog.Logger

// Init initializes the logger with the given level and output format.
// Format "json" writes structured lines to stderr (suitable for journald
// capture); anything else gets a human console writer.
func Init(level, format string) {
	zerolog.SetGlobalLevel(parseLogLevel(level))

	Logger = zerolog.New(writerFor(format, os.Stderr)).With().
		Timestamp().
		Logger()

	// Set the global logger
	log.Logger = Logger
}

// InitQuiet routes all log output to io.Discard. Used by the --quiet CLI
// mode where the exit code is the only contract.
func InitQuiet() {
	Logger = zerolog.New(io.Discard)
	log.Logger = Logger
}

func writerFor(format string, out *os.File) io.Writer {
	if strings.ToLower(format) == "json" {
		return out
	}
	return zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
	}
}

// parseLogLevel parses string log level to zerolog level
func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// GetLogger returns the configured logger instance
func GetLogger() zerolog.Logger {
	return Logger
}
