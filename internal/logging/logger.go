// Package logging configures the process-wide zerolog logger and emits the
// structured startup event.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Environment variables read by Init.
const (
	LevelEnvVar  = "PHOTOBOOTH_LOG_LEVEL"
	FormatEnvVar = "PHOTOBOOTH_LOG_FORMAT"
)

// Init initializes the global logger with configuration from environment variables.
// PHOTOBOOTH_LOG_LEVEL controls the log level: debug, info, warn, error (default: info)
// PHOTOBOOTH_LOG_FORMAT selects console (default) or json output.
func Init() {
	Configure(os.Stderr, os.Getenv(LevelEnvVar), os.Getenv(FormatEnvVar))
}

// Configure sets the global level and output. Unknown levels fall back to
// info; any format other than json gets the human-readable console writer.
func Configure(out io.Writer, level, format string) {
	zerolog.SetGlobalLevel(ParseLevel(level))

	if strings.EqualFold(format, "json") {
		log.Logger = zerolog.New(out).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: out})
}

// ParseLevel maps a level name to a zerolog level.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
