// Package logger configures the process-wide zerolog logger. Components
// derive their own scoped loggers via log.With().Str("component", ...).
package logger

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Init builds the root logger. level is one of trace/debug/info/warn/error;
// console enables human-readable output instead of JSON.
func Init(service, level string, console bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	var log zerolog.Logger
	if console {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
	} else {
		log = zerolog.New(os.Stdout)
	}
	return log.Level(lvl).With().
		Timestamp().
		Str("service", service).
		Logger()
}
